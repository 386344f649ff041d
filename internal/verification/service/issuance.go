package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	censusmodels "hrportal/internal/census/models"
	"hrportal/internal/verification/models"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/requestcontext"
)

// GenerateTokens mints one token for every eligible employee record that has
// no active token. Re-running with the same filters creates nothing new while
// earlier tokens are still live.
func (s *Service) GenerateTokens(ctx context.Context, req models.IssueRequest, baseURL string) (*models.IssueResult, error) {
	ctx, span := s.startSpan(ctx, "GenerateTokens")
	var err error
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer s.metrics.ObserveIssuance(start)

	days := req.ExpiresInDays
	if days == 0 {
		days = s.validityDays
	}
	if days < MinValidityDays || days > MaxValidityDays {
		err = dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("expires_in_days must be between %d and %d", MinValidityDays, MaxValidityDays))
		return nil, err
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		err = dErrors.New(dErrors.CodeUnauthorized, "issuer identity required")
		return nil, err
	}

	now := requestcontext.Now(ctx)
	expiresAt := now.Add(time.Duration(days) * 24 * time.Hour)
	filter := censusmodels.Filter{
		Entity:        strings.TrimSpace(req.Entity),
		InsuranceType: strings.TrimSpace(req.InsuranceType),
		Relation:      censusmodels.RelationEmployee,
		MissingOnly:   req.MissingFieldsOnly,
	}

	created := 0
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		created = 0
		if _, err := s.tokens.ExpireLapsed(txCtx, now); err != nil {
			return err
		}
		candidates, err := s.census.IssuanceCandidates(txCtx, filter)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			value, err := s.newToken()
			if err != nil {
				return err
			}
			tok := &models.Token{
				Value:          value,
				CensusRecordID: c.RecordID,
				EmployeeID:     c.EmployeeID,
				Email:          c.Email,
				CreatedBy:      req.CreatedBy,
				State:          models.StateIssued,
				CreatedAt:      now,
				ExpiresAt:      expiresAt,
			}
			ok, err := s.tokens.CreateIfNoActive(txCtx, tok)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		if created == 0 {
			return nil
		}
		return s.auditor.Append(txCtx, audit.Event{
			Action:    string(audit.EventTokensIssued),
			Timestamp: now,
			Subject:   "census_verification",
			ActorID:   req.CreatedBy,
			RequestID: requestcontext.RequestID(ctx),
			Details: map[string]any{
				"tokens_created":      created,
				"entity":              filter.Entity,
				"insurance_type":      filter.InsuranceType,
				"missing_fields_only": filter.MissingOnly,
				"expires_in_days":     days,
			},
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "token issuance failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate tokens")
		return nil, err
	}

	span.SetAttributes(attribute.Int("verification.tokens_created", created))
	s.metrics.AddTokensIssued(created)
	s.logger.InfoContext(ctx, "verification tokens issued",
		"tokens_created", created,
		"created_by", req.CreatedBy,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &models.IssueResult{
		TokensCreated: created,
		URLFormat:     VerificationURL(strings.TrimRight(baseURL, "/"), "{token}"),
	}, nil
}
