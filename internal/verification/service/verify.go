package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel/attribute"

	censusmodels "hrportal/internal/census/models"
	"hrportal/internal/verification/models"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/platform/sentinel"
	"hrportal/pkg/requestcontext"
)

const (
	msgInvalidLink   = "Invalid verification link"
	msgExpiredLink   = "This verification link has expired"
	msgAlreadyDone   = "Already verified"
	msgTokenValid    = "Token is valid"
	msgRecordMissing = "Census record not found"
	msgConfirm       = "Please confirm the information is correct"
)

// Validate reports whether a link can be used. Unknown and expired tokens
// are answered, not errored; only infrastructure failures return an error.
func (s *Service) Validate(ctx context.Context, value string) (*models.ValidationResult, error) {
	ctx, span := s.startSpan(ctx, "Validate")
	var err error
	defer func() { endSpan(span, err) }()

	if !plausibleToken(value) {
		s.metrics.IncValidation("invalid")
		return &models.ValidationResult{Message: msgInvalidLink}, nil
	}
	tok, err := s.tokens.FindByValue(ctx, value)
	if errors.Is(err, sentinel.ErrNotFound) {
		err = nil
		s.metrics.IncValidation("invalid")
		return &models.ValidationResult{Message: msgInvalidLink}, nil
	}
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate token")
		return nil, err
	}

	span.SetAttributes(attribute.Int64("verification.token_id", int64(tok.ID)))
	switch tok.EffectiveState(requestcontext.Now(ctx)) {
	case models.StateVerified:
		s.metrics.IncValidation("already_verified")
		return &models.ValidationResult{Valid: true, Message: msgAlreadyDone, AlreadyVerified: true}, nil
	case models.StateExpired:
		s.metrics.IncValidation("expired")
		return &models.ValidationResult{Message: msgExpiredLink}, nil
	default:
		s.metrics.IncValidation("valid")
		return &models.ValidationResult{Valid: true, Message: msgTokenValid}, nil
	}
}

// FetchData returns the census record behind a usable link.
func (s *Service) FetchData(ctx context.Context, value string) (*models.VerificationData, error) {
	ctx, span := s.startSpan(ctx, "FetchData")
	var err error
	defer func() { endSpan(span, err) }()

	tok, err := s.loadToken(ctx, value, s.tokens.FindByValue, true)
	if err != nil {
		return nil, err
	}
	rec, err := s.census.FindByID(ctx, tok.CensusRecordID)
	if err != nil {
		err = s.recordError(ctx, err, tok)
		return nil, err
	}
	return toVerificationData(tok, rec), nil
}

// Submit applies an employee's corrections and marks the token verified. The
// record update, token transition and audit event commit together.
func (s *Service) Submit(ctx context.Context, value string, sub models.Submission) (*models.SubmitResult, error) {
	ctx, span := s.startSpan(ctx, "Submit")
	var err error
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer s.metrics.ObserveSubmit(start)

	if !sub.Confirmed {
		s.metrics.IncSubmission("confirmation_required", 0)
		err = dErrors.New(dErrors.CodeConfirmationRequired, msgConfirm)
		return nil, err
	}
	updates, err := normalizeUpdates(sub.Updates)
	if err != nil {
		s.metrics.IncSubmission("invalid_input", 0)
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var result *models.SubmitResult
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		tok, err := s.loadToken(txCtx, value, s.tokens.FindByValueForUpdate, false)
		if err != nil {
			return err
		}
		rec, err := s.census.FindByIDForUpdate(txCtx, tok.CensusRecordID)
		if err != nil {
			return s.recordError(txCtx, err, tok)
		}

		amended := rec.ApplyUpdates(updates)
		rec.UpdatedBy = fmt.Sprintf("self_verification:token:%d:record:%d", tok.ID, rec.ID)
		if err := s.census.Update(txCtx, rec); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return s.recordError(txCtx, err, tok)
			}
			return err
		}
		if err := s.tokens.MarkVerified(txCtx, tok.ID, now); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeAlreadyVerified, msgAlreadyDone)
			}
			return err
		}
		if err := s.auditor.Append(txCtx, audit.Event{
			Action:    string(audit.EventCensusVerified),
			Timestamp: now,
			Subject:   "census_record:" + rec.ID.String(),
			ActorID:   "self_verification:token:" + tok.ID.String(),
			RequestID: requestcontext.RequestID(ctx),
			Details:   submissionDetails(ctx, tok, amended, rec.DHADOHValid),
		}); err != nil {
			return err
		}

		result = &models.SubmitResult{
			TokenID:       tok.ID,
			RecordID:      rec.ID,
			AmendedFields: nonNilFields(amended),
			DHADOHValid:   rec.DHADOHValid,
			VerifiedAt:    now,
		}
		return nil
	})
	if err != nil {
		if de, ok := dErrors.From(err); ok && de.Code != dErrors.CodeInternal {
			s.metrics.IncSubmission(string(de.Code), 0)
			return nil, err
		}
		s.metrics.IncSubmission("error", 0)
		s.logger.ErrorContext(ctx, "census submission failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to submit verification")
		return nil, err
	}

	s.metrics.IncSubmission("verified", len(result.AmendedFields))
	s.logger.InfoContext(ctx, "census record verified",
		"token_id", result.TokenID,
		"record_id", result.RecordID,
		"amended_count", len(result.AmendedFields),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

type tokenFinder func(ctx context.Context, value string) (*models.Token, error)

// loadToken resolves a token and rejects unknown and expired ones. Verified
// tokens pass only when allowVerified is set.
func (s *Service) loadToken(ctx context.Context, value string, find tokenFinder, allowVerified bool) (*models.Token, error) {
	if !plausibleToken(value) {
		return nil, dErrors.New(dErrors.CodeNotFound, msgInvalidLink)
	}
	tok, err := find(ctx, value)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, msgInvalidLink)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token")
	}
	switch tok.EffectiveState(requestcontext.Now(ctx)) {
	case models.StateVerified:
		if !allowVerified {
			return nil, dErrors.New(dErrors.CodeAlreadyVerified, msgAlreadyDone)
		}
	case models.StateExpired:
		return nil, dErrors.New(dErrors.CodeTokenExpired, msgExpiredLink)
	}
	return tok, nil
}

func (s *Service) recordError(ctx context.Context, err error, tok *models.Token) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "verification token references missing census record",
			"token_id", tok.ID,
			"record_id", tok.CensusRecordID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.New(dErrors.CodeRecordNotFound, msgRecordMissing)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load census record")
}

// normalizeUpdates keeps non-nil values for self-service fields and rejects
// any other key.
func normalizeUpdates(in map[string]*string) (map[string]*string, error) {
	out := make(map[string]*string, len(in))
	for name, v := range in {
		f, ok := censusmodels.LookupField(name)
		if !ok || !f.SelfService {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown field: "+name)
		}
		if v == nil {
			continue
		}
		trimmed := strings.TrimSpace(*v)
		out[name] = &trimmed
	}
	return out, nil
}

func submissionDetails(ctx context.Context, tok *models.Token, amended []string, valid bool) map[string]any {
	details := map[string]any{
		"token_id":       tok.ID.String(),
		"amended_fields": nonNilFields(amended),
		"dha_doh_valid":  valid,
	}
	if raw := requestcontext.UserAgent(ctx); raw != "" {
		ua := useragent.New(raw)
		browser, _ := ua.Browser()
		details["client_browser"] = browser
		details["client_os"] = ua.OS()
		details["client_mobile"] = ua.Mobile()
	}
	return details
}

func nonNilFields(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}

func toVerificationData(tok *models.Token, rec *censusmodels.Record) *models.VerificationData {
	return &models.VerificationData{
		Token:               tok.Value,
		EmployeeName:        employeeName(rec),
		StaffID:             rec.StaffID,
		Entity:              rec.Entity,
		InsuranceType:       rec.InsuranceType,
		FullName:            rec.FullName,
		FirstName:           rec.FirstName,
		SecondName:          rec.SecondName,
		FamilyName:          rec.FamilyName,
		DOB:                 rec.DOB,
		Gender:              rec.Gender,
		Nationality:         rec.Nationality,
		MaritalStatus:       rec.MaritalStatus,
		EmiratesIDNumber:    rec.EmiratesIDNumber,
		UIDNumber:           rec.UIDNumber,
		GDRFAFileNumber:     rec.GDRFAFileNumber,
		PassportNumber:      rec.PassportNumber,
		MobileNo:            rec.MobileNo,
		PersonalEmail:       rec.PersonalEmail,
		DHADOHMissingFields: nonNilFields(rec.DHADOHMissingFields),
		MissingFields:       nonNilFields(rec.MissingFields),
		AlreadyVerified:     tok.IsVerified(),
	}
}
