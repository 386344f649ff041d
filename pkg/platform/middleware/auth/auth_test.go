package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrportal/pkg/domain"
	"hrportal/pkg/requestcontext"
)

type stubValidator map[string]*Claims

func (s stubValidator) ValidateToken(token string) (*Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func TestRequireAuthAndRole(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := stubValidator{
		"hr":       {Subject: "hr-1", Role: "hr"},
		"admin":    {Subject: "admin-1", Role: "admin"},
		"viewer":   {Subject: "viewer-1", Role: "viewer"},
		"employee": {Subject: "E100", Role: "employee"},
		"root":     {Subject: "x", Role: "superuser"},
	}

	var seen requestcontext.Caller
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := RequireAuth(validator, logger)(RequireRole(logger, domain.RoleAdmin, domain.RoleHR)(final))

	tests := []struct {
		name   string
		header string
		status int
		desc   string
	}{
		{"missing header", "", http.StatusUnauthorized, "Missing or invalid Authorization header"},
		{"invalid token", "Bearer nope", http.StatusUnauthorized, "Invalid or expired token"},
		{"unknown role", "Bearer root", http.StatusForbidden, "invalid role"},
		{"viewer insufficient", "Bearer viewer", http.StatusForbidden, "insufficient role"},
		{"employee insufficient", "Bearer employee", http.StatusForbidden, "insufficient role"},
		{"hr allowed", "Bearer hr", http.StatusOK, ""},
		{"admin allowed", "Bearer admin", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/census-verification/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.desc != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.desc, body["error_description"])
			}
		})
	}

	t.Run("principal propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer hr")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, requestcontext.Caller{Subject: "hr-1", Role: "hr"}, seen)
	})
}
