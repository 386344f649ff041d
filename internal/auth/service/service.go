// Package service authenticates employees and mints operator sessions.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"hrportal/internal/auth/session"
	censusmodels "hrportal/internal/census/models"
	"hrportal/pkg/domain"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/platform/sentinel"
	"hrportal/pkg/requestcontext"
)

// compared against when no usable DOB exists so failures cost the same
const decoyDOB = "00000000"

var errInvalidCredentials = dErrors.New(dErrors.CodeInvalidCredentials, "invalid staff id or date of birth")

type EmployeeRecords interface {
	FindEmployeeRecord(ctx context.Context, staffID string) (*censusmodels.Record, error)
}

type Sessions interface {
	Issue(subject string, role domain.Role) (*session.Token, error)
	Parse(tokenString string) (*session.Claims, error)
}

type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

type AuditStore interface {
	Append(ctx context.Context, event audit.Event) error
}

type Service struct {
	records  EmployeeRecords
	sessions Sessions
	revoked  RevocationList
	auditor  AuditStore
	logger   *slog.Logger
}

func New(records EmployeeRecords, sessions Sessions, revoked RevocationList, auditor AuditStore, logger *slog.Logger) *Service {
	return &Service{records: records, sessions: sessions, revoked: revoked, auditor: auditor, logger: logger}
}

// EmployeeLogin checks a staff id and date of birth (DDMMYYYY) against the
// employee's census record. Every failure returns the same error.
func (s *Service) EmployeeLogin(ctx context.Context, staffID, dob string) (*session.Token, error) {
	staffID = strings.TrimSpace(staffID)
	given, ok := censusmodels.NormalizeDOB(dob)
	if !ok {
		given = ""
	}

	expected := decoyDOB
	rec, err := s.records.FindEmployeeRecord(ctx, staffID)
	switch {
	case err == nil:
		if stored, ok := censusmodels.NormalizeDOB(rec.DOB); ok {
			expected = stored
		}
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		s.logger.ErrorContext(ctx, "employee login lookup failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to authenticate")
	}

	match := subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
	if rec == nil || given == "" || expected == decoyDOB || !match {
		s.audit(ctx, audit.EventEmployeeLoginFailed, "staff:"+staffID, staffID, nil)
		return nil, errInvalidCredentials
	}

	tok, err := s.sessions.Issue(rec.StaffID, domain.RoleEmployee)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, audit.EventEmployeeLogin, "staff:"+rec.StaffID, rec.StaffID, map[string]any{"jti": tok.JTI})
	return tok, nil
}

// OperatorSession mints a session for an HR operator. Callers must already
// hold the shared admin token.
func (s *Service) OperatorSession(ctx context.Context, subject string, role domain.Role) (*session.Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if !role.Operator() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "role must be one of admin, hr, viewer")
	}
	tok, err := s.sessions.Issue(subject, role)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, audit.EventOperatorSession, "operator:"+subject, actorOrAdmin(ctx), map[string]any{"role": string(role), "jti": tok.JTI})
	return tok, nil
}

// Logout revokes the presented token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.sessions.Parse(tokenString)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	ttl := claims.ExpiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		s.logger.ErrorContext(ctx, "session revocation failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign out")
	}
	return nil
}

// actorOrAdmin names the minting caller. Session minting is guarded by the
// shared admin token, which carries no identity of its own.
func actorOrAdmin(ctx context.Context) string {
	if sub := requestcontext.Principal(ctx).Subject; sub != "" {
		return sub
	}
	return "admin_token"
}

func (s *Service) audit(ctx context.Context, action audit.AuditEvent, subject, actor string, details map[string]any) {
	err := s.auditor.Append(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject,
		Action:    string(action),
		ActorID:   actor,
		RequestID: requestcontext.RequestID(ctx),
		Details:   details,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to audit session event", "action", string(action), "error", err)
	}
}
