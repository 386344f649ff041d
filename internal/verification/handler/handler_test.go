package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"hrportal/internal/verification/handler/mocks"
	"hrportal/internal/verification/models"
	"hrportal/internal/verification/service"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/middleware/auth"
	"hrportal/pkg/testutil"
)

type stubValidator map[string]auth.Claims

func (v stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	c, ok := v[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &c, nil
}

type HandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	validator := stubValidator{
		"hr-token":     {Subject: "hr-1", Role: "hr"},
		"viewer-token": {Subject: "viewer-1", Role: "viewer"},
		"rogue-token":  {Subject: "x", Role: "superuser"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.svc, validator, logger).Register(s.router)
}

func (s *HandlerSuite) do(req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		testutil.WithBearer(req, bearer)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decode(rr *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func (s *HandlerSuite) TestValidateIsPublic() {
	s.svc.EXPECT().Validate(gomock.Any(), "abc").
		Return(&models.ValidationResult{Valid: true, Message: "Already verified", AlreadyVerified: true}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census-verification/validate/abc"), "")
	s.Equal(http.StatusOK, rr.Code)
	s.Equal(map[string]any{"valid": true, "message": "Already verified", "already_verified": true}, s.decode(rr))
}

func (s *HandlerSuite) TestDataErrors() {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{dErrors.New(dErrors.CodeNotFound, "Invalid verification link"), http.StatusNotFound, "not_found"},
		{dErrors.New(dErrors.CodeTokenExpired, "This verification link has expired"), http.StatusBadRequest, "token_expired"},
		{dErrors.New(dErrors.CodeRecordNotFound, "Census record not found"), http.StatusNotFound, "record_not_found"},
		{dErrors.Wrap(errors.New("db down"), dErrors.CodeInternal, "failed"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		s.svc.EXPECT().FetchData(gomock.Any(), "tok").Return(nil, tt.err)
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census-verification/data/tok"), "")
		s.Equal(tt.status, rr.Code)
		s.Equal(tt.code, s.decode(rr)["error"])
	}
}

func (s *HandlerSuite) TestSubmit() {
	s.Run("maps the body to a submission", func() {
		s.svc.EXPECT().Submit(gomock.Any(), "tok", gomock.Any()).DoAndReturn(
			func(_ any, _ string, sub models.Submission) (*models.SubmitResult, error) {
				s.True(sub.Confirmed)
				s.Require().Contains(sub.Updates, "emirates_id_number")
				s.Equal("784-1990-1234567-1", *sub.Updates["emirates_id_number"])
				s.NotContains(sub.Updates, "dob")
				return &models.SubmitResult{AmendedFields: []string{"emirates_id_number"}, DHADOHValid: true}, nil
			})

		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/census-verification/submit/tok",
			`{"confirmed": true, "emirates_id_number": "784-1990-1234567-1", "dob": null}`), "")
		s.Equal(http.StatusOK, rr.Code)
		body := s.decode(rr)
		s.Equal(true, body["success"])
		s.Equal([]any{"emirates_id_number"}, body["amended_fields"])
	})

	s.Run("unknown fields are rejected before the service", func() {
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/census-verification/submit/tok",
			`{"confirmed": true, "salary": "1"}`), "")
		testutil.AssertDomainError(s.T(), rr, dErrors.CodeBadRequest)
	})

	s.Run("already verified is a 400", func() {
		s.svc.EXPECT().Submit(gomock.Any(), "tok", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeAlreadyVerified, "Already verified"))
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/census-verification/submit/tok", `{"confirmed": true}`), "")
		testutil.AssertDomainError(s.T(), rr, dErrors.CodeAlreadyVerified)
	})

	s.Run("confirmation required is a 400", func() {
		s.svc.EXPECT().Submit(gomock.Any(), "tok", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConfirmationRequired, "Please confirm the information is correct"))
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/census-verification/submit/tok", `{}`), "")
		s.Equal(http.StatusBadRequest, rr.Code)
		s.Equal("Please confirm the information is correct", s.decode(rr)["error_description"])
	})
}

func (s *HandlerSuite) TestProtectedRoutesRequireHR() {
	tests := []struct {
		name   string
		bearer string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"invalid token", "garbage", http.StatusUnauthorized},
		{"unknown role", "rogue-token", http.StatusForbidden},
		{"viewer", "viewer-token", http.StatusForbidden},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			for _, path := range []string{"/census-verification/stats", "/census-verification/tokens"} {
				rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, path), tt.bearer)
				s.Equal(tt.status, rr.Code, path)
			}
			rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/census-verification/generate-tokens"), tt.bearer)
			s.Equal(tt.status, rr.Code)
		})
	}
}

func (s *HandlerSuite) TestGenerateTokens() {
	s.Run("empty body uses defaults and the caller identity", func() {
		s.svc.EXPECT().GenerateTokens(gomock.Any(), models.IssueRequest{MissingFieldsOnly: true, CreatedBy: "hr-1"}, "http://example.com").
			Return(&models.IssueResult{TokensCreated: 3, URLFormat: "http://example.com/verify-census/{token}"}, nil)

		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/census-verification/generate-tokens"), "hr-token")
		s.Equal(http.StatusOK, rr.Code)
		body := s.decode(rr)
		s.Equal(float64(3), body["tokens_created"])
		s.Equal("http://example.com/verify-census/{token}", body["verification_url_format"])
	})

	s.Run("explicit filters pass through", func() {
		s.svc.EXPECT().GenerateTokens(gomock.Any(), models.IssueRequest{
			Entity: "ACME", MissingFieldsOnly: false, ExpiresInDays: 7, CreatedBy: "hr-1",
		}, gomock.Any()).Return(&models.IssueResult{}, nil)

		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/census-verification/generate-tokens",
			map[string]any{"entity": "ACME", "missing_fields_only": false, "expires_in_days": 7}), "hr-token")
		s.Equal(http.StatusOK, rr.Code)
	})
}

func (s *HandlerSuite) TestListTokens() {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Run("parses filters and renders legacy flags", func() {
		s.svc.EXPECT().ListTokens(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, f models.ListFilter) (*service.TokenPage, error) {
				s.Require().NotNil(f.Verified)
				s.False(*f.Verified)
				s.Equal(2, f.Page)
				s.Equal(10, f.PageSize)
				return &service.TokenPage{
					Items: []models.ListItem{{
						Token: &models.Token{ID: 1, Value: "tok", CensusRecordID: 9, State: models.StateSent,
							ExpiresAt: now.Add(-time.Hour), EmailSentAt: &now},
						StaffID: "S100",
					}},
					Total: 11, Page: 2, PageSize: 10, Now: now,
				}, nil
			})

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census-verification/tokens?verified=false&page=2&page_size=10"), "hr-token")
		s.Equal(http.StatusOK, rr.Code)
		body := s.decode(rr)
		s.Equal(float64(11), body["total"])
		tok := body["tokens"].([]any)[0].(map[string]any)
		s.Equal("expired", tok["state"])
		s.Equal(true, tok["is_expired"])
		s.Equal(true, tok["email_sent"])
		s.Equal("S100", tok["staff_id"])
		s.Nil(tok["entity"])
	})

	s.Run("rejects malformed paging", func() {
		for _, q := range []string{"page=0", "page_size=abc", "verified=maybe"} {
			rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census-verification/tokens?"+q), "hr-token")
			s.Equal(http.StatusBadRequest, rr.Code, q)
		}
	})
}

func (s *HandlerSuite) TestSendEndpoints() {
	s.svc.EXPECT().SendEmails(gomock.Any(), 20, "http://example.com").Return(&models.DispatchResult{Sent: 2, Failed: 1}, nil)
	rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/census-verification/send-emails?limit=20"), "hr-token")
	s.Equal(http.StatusOK, rr.Code)
	body := s.decode(rr)
	s.Equal(float64(2), body["emails_sent"])
	s.Equal(float64(1), body["failed"])

	s.svc.EXPECT().SendReminders(gomock.Any(), 0, "http://example.com").Return(&models.DispatchResult{Sent: 4}, nil)
	rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/census-verification/send-reminders"), "hr-token")
	s.Equal(http.StatusOK, rr.Code)
	s.Equal(float64(4), s.decode(rr)["reminders_sent"])
}

func (s *HandlerSuite) TestStats() {
	s.svc.EXPECT().Stats(gomock.Any()).Return(&models.Stats{TotalTokens: 5, EmailsSent: 4, Verified: 2, Pending: 2, Expired: 1}, nil)
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census-verification/stats"), "hr-token")
	s.Equal(http.StatusOK, rr.Code)
	s.Equal(map[string]any{
		"total_tokens": float64(5), "emails_sent": float64(4), "verified": float64(2),
		"pending": float64(2), "expired": float64(1),
	}, s.decode(rr))
}

func TestPublicBaseURLOverridesRequestHost(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().SendEmails(gomock.Any(), 0, "https://hr.example.com").Return(&models.DispatchResult{}, nil)

	r := chi.NewRouter()
	New(svc, stubValidator{"t": {Subject: "a", Role: "admin"}}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPublicBaseURL("https://hr.example.com/")).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/census-verification/send-emails", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr := testutil.DoRequest(r, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
