// Package handler exposes the census verification workflow over HTTP.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"hrportal/internal/verification/models"
	"hrportal/internal/verification/service"
	"hrportal/pkg/domain"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/httputil"
	"hrportal/pkg/platform/middleware/auth"
	"hrportal/pkg/platform/middleware/metadata"
	"hrportal/pkg/requestcontext"
)

// Service is the verification workflow used by the handler.
type Service interface {
	GenerateTokens(ctx context.Context, req models.IssueRequest, baseURL string) (*models.IssueResult, error)
	Validate(ctx context.Context, token string) (*models.ValidationResult, error)
	FetchData(ctx context.Context, token string) (*models.VerificationData, error)
	Submit(ctx context.Context, token string, sub models.Submission) (*models.SubmitResult, error)
	SendEmails(ctx context.Context, limit int, baseURL string) (*models.DispatchResult, error)
	SendReminders(ctx context.Context, limit int, baseURL string) (*models.DispatchResult, error)
	Stats(ctx context.Context) (*models.Stats, error)
	ListTokens(ctx context.Context, f models.ListFilter) (*service.TokenPage, error)
}

// Handler serves /census-verification.
type Handler struct {
	svc          Service
	validator    auth.TokenValidator
	logger       *slog.Logger
	baseURL      string
	publicGuards []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithPublicBaseURL fixes the origin used in verification links. When unset
// the origin is derived from the incoming request.
func WithPublicBaseURL(url string) Option {
	return func(h *Handler) {
		h.baseURL = strings.TrimRight(url, "/")
	}
}

// WithPublicMiddleware wraps the unauthenticated token endpoints, typically
// with a rate limiter.
func WithPublicMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.publicGuards = append(h.publicGuards, mw...)
	}
}

func New(svc Service, validator auth.TokenValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{svc: svc, validator: validator, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public token routes and the HR routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/census-verification", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.publicGuards...)
			r.Get("/validate/{token}", h.HandleValidate)
			r.Get("/data/{token}", h.HandleData)
			r.Post("/submit/{token}", h.HandleSubmit)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.validator, h.logger))
			r.Use(auth.RequireRole(h.logger, domain.RoleAdmin, domain.RoleHR))
			r.Post("/generate-tokens", h.HandleGenerateTokens)
			r.Get("/tokens", h.HandleListTokens)
			r.Get("/stats", h.HandleStats)
			r.Post("/send-emails", h.HandleSendEmails)
			r.Post("/send-reminders", h.HandleSendReminders)
		})
	})
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, "validate token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleData(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.FetchData(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, "fetch verification data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, data)
}

// submitRequest lists every field an employee may correct. Unknown keys are
// rejected by the decoder.
type submitRequest struct {
	FullName         *string `json:"full_name"`
	FirstName        *string `json:"first_name"`
	SecondName       *string `json:"second_name"`
	FamilyName       *string `json:"family_name"`
	DOB              *string `json:"dob"`
	Gender           *string `json:"gender"`
	Nationality      *string `json:"nationality"`
	MaritalStatus    *string `json:"marital_status"`
	EmiratesIDNumber *string `json:"emirates_id_number"`
	UIDNumber        *string `json:"uid_number"`
	GDRFAFileNumber  *string `json:"gdrfa_file_number"`
	PassportNumber   *string `json:"passport_number"`
	MobileNo         *string `json:"mobile_no"`
	PersonalEmail    *string `json:"personal_email"`
	Confirmed        bool    `json:"confirmed"`
}

func (req submitRequest) toSubmission() models.Submission {
	updates := map[string]*string{}
	set := func(name string, v *string) {
		if v != nil {
			updates[name] = v
		}
	}
	set("full_name", req.FullName)
	set("first_name", req.FirstName)
	set("second_name", req.SecondName)
	set("family_name", req.FamilyName)
	set("dob", req.DOB)
	set("gender", req.Gender)
	set("nationality", req.Nationality)
	set("marital_status", req.MaritalStatus)
	set("emirates_id_number", req.EmiratesIDNumber)
	set("uid_number", req.UIDNumber)
	set("gdrfa_file_number", req.GDRFAFileNumber)
	set("passport_number", req.PassportNumber)
	set("mobile_no", req.MobileNo)
	set("personal_email", req.PersonalEmail)
	return models.Submission{Updates: updates, Confirmed: req.Confirmed}
}

type submitResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	AmendedFields []string `json:"amended_fields"`
	DHADOHValid   bool     `json:"dha_doh_valid"`
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode submission", err)
		return
	}
	res, err := h.svc.Submit(r.Context(), chi.URLParam(r, "token"), req.toSubmission())
	if err != nil {
		h.fail(w, r, "submit verification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, submitResponse{
		Success:       true,
		Message:       "Your insurance details have been updated successfully. Thank you for verifying your information.",
		AmendedFields: res.AmendedFields,
		DHADOHValid:   res.DHADOHValid,
	})
}

type generateRequest struct {
	Entity            string `json:"entity"`
	InsuranceType     string `json:"insurance_type"`
	MissingFieldsOnly *bool  `json:"missing_fields_only"`
	ExpiresInDays     int    `json:"expires_in_days"`
}

type generateResponse struct {
	Success               bool   `json:"success"`
	TokensCreated         int    `json:"tokens_created"`
	Message               string `json:"message"`
	VerificationURLFormat string `json:"verification_url_format"`
}

func (h *Handler) HandleGenerateTokens(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, "decode generate request", err)
			return
		}
	}
	missingOnly := true
	if req.MissingFieldsOnly != nil {
		missingOnly = *req.MissingFieldsOnly
	}
	res, err := h.svc.GenerateTokens(r.Context(), models.IssueRequest{
		Entity:            req.Entity,
		InsuranceType:     req.InsuranceType,
		MissingFieldsOnly: missingOnly,
		ExpiresInDays:     req.ExpiresInDays,
		CreatedBy:         requestcontext.Principal(r.Context()).Subject,
	}, h.base(r))
	if err != nil {
		h.fail(w, r, "generate tokens", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, generateResponse{
		Success:               true,
		TokensCreated:         res.TokensCreated,
		Message:               fmt.Sprintf("Generated %d verification tokens", res.TokensCreated),
		VerificationURLFormat: res.URLFormat,
	})
}

func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ListFilter{Entity: q.Get("entity")}
	var err error
	if v := q.Get("verified"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			h.fail(w, r, "parse list filter", dErrors.New(dErrors.CodeInvalidInput, "verified must be true or false"))
			return
		}
		f.Verified = &b
	}
	if f.Page, err = intParam(q.Get("page"), "page"); err != nil {
		h.fail(w, r, "parse list filter", err)
		return
	}
	if f.PageSize, err = intParam(q.Get("page_size"), "page_size"); err != nil {
		h.fail(w, r, "parse list filter", err)
		return
	}

	page, err := h.svc.ListTokens(r.Context(), f)
	if err != nil {
		h.fail(w, r, "list tokens", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTokenListResponse(page))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "verification stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

type dispatchResponse struct {
	Success       bool   `json:"success"`
	EmailsSent    *int   `json:"emails_sent,omitempty"`
	RemindersSent *int   `json:"reminders_sent,omitempty"`
	Failed        int    `json:"failed"`
	Message       string `json:"message"`
}

func (h *Handler) HandleSendEmails(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, "parse limit", err)
		return
	}
	res, err := h.svc.SendEmails(r.Context(), limit, h.base(r))
	if err != nil {
		h.fail(w, r, "send verification emails", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dispatchResponse{
		Success:    true,
		EmailsSent: &res.Sent,
		Failed:     res.Failed,
		Message:    fmt.Sprintf("Sent %d verification emails", res.Sent),
	})
}

func (h *Handler) HandleSendReminders(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, "parse limit", err)
		return
	}
	res, err := h.svc.SendReminders(r.Context(), limit, h.base(r))
	if err != nil {
		h.fail(w, r, "send reminders", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dispatchResponse{
		Success:       true,
		RemindersSent: &res.Sent,
		Failed:        res.Failed,
		Message:       fmt.Sprintf("Sent %d reminder emails", res.Sent),
	})
}

func (h *Handler) base(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	return metadata.BaseURL(r)
}

// fail writes err and logs it. Expected client errors log at warn; anything
// else at error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	code := dErrors.CodeInternal
	if de, ok := dErrors.From(err); ok {
		code = de.Code
	}
	switch httputil.StatusFor(code) {
	case http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	default:
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", requestcontext.RequestID(ctx),
			"code", string(code),
		)
	}
	httputil.WriteError(w, err)
}

// intParam parses an optional positive integer query value; empty means 0
// so the service default applies.
func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be a positive integer")
	}
	return n, nil
}
