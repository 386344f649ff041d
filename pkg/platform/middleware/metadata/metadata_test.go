package metadata

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"hrportal/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain takes first", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:80", "10.0.0.1"},
		{"real ip header", map[string]string{"X-Real-IP": " 10.0.0.9 "}, "1.2.3.4:80", "10.0.0.9"},
		{"remote addr ipv4", nil, "1.2.3.4:5678", "1.2.3.4"},
		{"remote addr ipv6", nil, "[::1]:5678", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}

func TestClientMetadataMiddleware(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("User-Agent", "curl/8")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", gotIP)
	assert.Equal(t, "curl/8", gotUA)
}

func TestBaseURL(t *testing.T) {
	t.Run("plain http", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://portal.local/x", nil)
		assert.Equal(t, "http://portal.local", BaseURL(req))
	})
	t.Run("tls", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://portal.local/x", nil)
		req.TLS = &tls.ConnectionState{}
		assert.Equal(t, "https://portal.local", BaseURL(req))
	})
	t.Run("forwarded proto and host", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://10.0.0.5/x", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", "hr.example.com")
		assert.Equal(t, "https://hr.example.com", BaseURL(req))
	})
}
