// Package handler serves employee login, operator session minting and logout.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hrportal/internal/auth/session"
	"hrportal/pkg/domain"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/httputil"
	"hrportal/pkg/platform/middleware/admin"
	"hrportal/pkg/platform/middleware/auth"
	"hrportal/pkg/requestcontext"
)

type Service interface {
	EmployeeLogin(ctx context.Context, staffID, dob string) (*session.Token, error)
	OperatorSession(ctx context.Context, subject string, role domain.Role) (*session.Token, error)
	Logout(ctx context.Context, tokenString string) error
}

type Handler struct {
	svc         Service
	validator   auth.TokenValidator
	adminToken  string
	logger      *slog.Logger
	loginGuards []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithLoginMiddleware wraps the employee login route.
func WithLoginMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.loginGuards = append(h.loginGuards, mw...)
	}
}

func New(svc Service, validator auth.TokenValidator, adminToken string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{svc: svc, validator: validator, adminToken: adminToken, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.With(h.loginGuards...).Post("/auth/employee/login", h.HandleEmployeeLogin)
	r.With(auth.RequireAuth(h.validator, h.logger)).Post("/auth/logout", h.HandleLogout)
	r.With(admin.RequireAdminToken(h.adminToken, h.logger)).Post("/admin/sessions", h.HandleOperatorSession)
}

type loginRequest struct {
	StaffID string `json:"staff_id"`
	DOB     string `json:"dob"`
}

type sessionRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toTokenResponse(t *session.Token) tokenResponse {
	return tokenResponse{AccessToken: t.Value, TokenType: "Bearer", ExpiresAt: t.ExpiresAt}
}

func (h *Handler) HandleEmployeeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode login", err)
		return
	}
	if strings.TrimSpace(req.StaffID) == "" || strings.TrimSpace(req.DOB) == "" {
		h.fail(w, r, "employee login", dErrors.New(dErrors.CodeInvalidInput, "staff_id and dob are required"))
		return
	}
	tok, err := h.svc.EmployeeLogin(r.Context(), req.StaffID, req.DOB)
	if err != nil {
		h.fail(w, r, "employee login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTokenResponse(tok))
}

func (h *Handler) HandleOperatorSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode session request", err)
		return
	}
	tok, err := h.svc.OperatorSession(r.Context(), req.Subject, domain.Role(strings.ToLower(strings.TrimSpace(req.Role))))
	if err != nil {
		h.fail(w, r, "mint operator session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTokenResponse(tok))
}

// HandleLogout revokes the bearer token that authenticated the request.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	code := dErrors.CodeInternal
	if de, ok := dErrors.From(err); ok {
		code = de.Code
	}
	if httputil.StatusFor(code) == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed", "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, op+" rejected", "request_id", requestcontext.RequestID(ctx), "code", string(code))
	}
	httputil.WriteError(w, err)
}
