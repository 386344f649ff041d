package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"hrportal/internal/notify"
	"hrportal/internal/verification/models"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/email"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/requestcontext"
)

// MaxSendLimit bounds one send-emails or send-reminders batch.
const MaxSendLimit = 500

// SendEmails claims unsent live tokens and delivers their first email.
// Overlapping runs claim disjoint tokens. A failed delivery releases its claim
// so the next run retries it.
func (s *Service) SendEmails(ctx context.Context, limit int, baseURL string) (*models.DispatchResult, error) {
	ctx, span := s.startSpan(ctx, "SendEmails")
	var err error
	defer func() { endSpan(span, err) }()

	limit, err = normalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	tokens, err := s.tokens.ClaimUnsent(ctx, now, sendClaimLease, limit)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim unsent tokens")
		return nil, err
	}

	res := s.dispatch(ctx, tokens, func(ctx context.Context, tok *models.Token) error {
		if err := s.notifier.Notify(ctx, s.message(ctx, notify.KindVerification, tok, baseURL)); err != nil {
			if relErr := s.tokens.ReleaseClaim(ctx, tok.ID); relErr != nil {
				s.logger.WarnContext(ctx, "failed to release send claim",
					"token_id", tok.ID,
					"error", relErr,
				)
			}
			return err
		}
		return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			sentAt := requestcontext.Now(ctx)
			marked, err := s.tokens.MarkSent(txCtx, tok.ID, sentAt)
			if err != nil || !marked {
				return err
			}
			return s.auditor.Append(txCtx, audit.Event{
				Action:    string(audit.EventVerificationEmailed),
				Timestamp: sentAt,
				Subject:   "census_record:" + tok.CensusRecordID.String(),
				ActorID:   actorOrSystem(ctx),
				RequestID: requestcontext.RequestID(ctx),
				Details:   map[string]any{"token_id": tok.ID.String()},
			})
		})
	}, notify.KindVerification)

	span.SetAttributes(attribute.Int("verification.sent", res.Sent), attribute.Int("verification.failed", res.Failed))
	s.logger.InfoContext(ctx, "verification emails dispatched",
		"sent", res.Sent,
		"failed", res.Failed,
		"request_id", requestcontext.RequestID(ctx),
	)
	return res, nil
}

// SendReminders claims stale unverified tokens and reminds their holders.
// The claim increments reminder_count before delivery, so a failed delivery
// still uses up one reminder.
func (s *Service) SendReminders(ctx context.Context, limit int, baseURL string) (*models.DispatchResult, error) {
	ctx, span := s.startSpan(ctx, "SendReminders")
	var err error
	defer func() { endSpan(span, err) }()

	limit, err = normalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	if s.maxReminders == 0 {
		return &models.DispatchResult{}, nil
	}
	now := requestcontext.Now(ctx)
	tokens, err := s.tokens.ClaimReminders(ctx, now, s.maxReminders, limit)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim reminders")
		return nil, err
	}

	res := s.dispatch(ctx, tokens, func(ctx context.Context, tok *models.Token) error {
		if err := s.notifier.Notify(ctx, s.message(ctx, notify.KindReminder, tok, baseURL)); err != nil {
			return err
		}
		return s.auditor.Append(ctx, audit.Event{
			Action:    string(audit.EventReminderSent),
			Timestamp: requestcontext.Now(ctx),
			Subject:   "census_record:" + tok.CensusRecordID.String(),
			ActorID:   actorOrSystem(ctx),
			RequestID: requestcontext.RequestID(ctx),
			Details: map[string]any{
				"token_id":        tok.ID.String(),
				"reminder_number": tok.ReminderCount,
			},
		})
	}, notify.KindReminder)

	span.SetAttributes(attribute.Int("verification.sent", res.Sent), attribute.Int("verification.failed", res.Failed))
	s.logger.InfoContext(ctx, "verification reminders dispatched",
		"sent", res.Sent,
		"failed", res.Failed,
		"request_id", requestcontext.RequestID(ctx),
	)
	return res, nil
}

// dispatch runs deliver for every token with bounded concurrency. Failures
// are counted and logged by token id; they never abort the batch.
func (s *Service) dispatch(ctx context.Context, tokens []*models.Token, deliver func(context.Context, *models.Token) error, kind notify.Kind) *models.DispatchResult {
	var (
		mu  sync.Mutex
		res models.DispatchResult
		g   errgroup.Group
	)
	g.SetLimit(deliveryConcurrency)
	for _, tok := range tokens {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = deliver(ctx, tok)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				s.metrics.IncDeliveryFailure(string(kind))
				s.logger.WarnContext(ctx, "verification delivery failed",
					"kind", string(kind),
					"token_id", tok.ID,
					"record_id", tok.CensusRecordID,
					"error", err,
				)
				return nil
			}
			res.Sent++
			if kind == notify.KindReminder {
				s.metrics.IncReminderSent()
			} else {
				s.metrics.IncEmailSent()
			}
			return nil
		})
	}
	_ = g.Wait()
	return &res
}

func (s *Service) message(ctx context.Context, kind notify.Kind, tok *models.Token, baseURL string) notify.Message {
	name := "Employee"
	if rec, err := s.census.FindByID(ctx, tok.CensusRecordID); err == nil {
		name = employeeName(rec)
	}
	if name == "Employee" {
		if guessed := email.GreetingName(tok.Email); guessed != "" {
			name = guessed
		}
	}
	return notify.Message{
		Kind:            kind,
		To:              tok.Email,
		EmployeeName:    name,
		VerificationURL: VerificationURL(strings.TrimRight(baseURL, "/"), tok.Value),
		ExpiresAt:       tok.ExpiresAt,
		ReminderNumber:  tok.ReminderCount,
		TokenID:         tok.ID,
		RecordID:        tok.CensusRecordID,
	}
}

// Stats summarises the campaign at the request clock.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	ctx, span := s.startSpan(ctx, "Stats")
	var err error
	defer func() { endSpan(span, err) }()

	st, err := s.tokens.Stats(ctx, requestcontext.Now(ctx))
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute statistics")
		return nil, err
	}
	return &st, nil
}

// TokenPage is one page of the HR token listing.
type TokenPage struct {
	Items    []models.ListItem
	Total    int
	Page     int
	PageSize int
	Now      time.Time
}

// ListTokens pages through tokens, newest first.
func (s *Service) ListTokens(ctx context.Context, f models.ListFilter) (*TokenPage, error) {
	ctx, span := s.startSpan(ctx, "ListTokens")
	var err error
	defer func() { endSpan(span, err) }()

	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Page < 1 {
		err = dErrors.New(dErrors.CodeInvalidInput, "page must be at least 1")
		return nil, err
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		err = dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("page_size must be between 1 and %d", MaxPageSize))
		return nil, err
	}
	items, total, err := s.tokens.List(ctx, f)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tokens")
		return nil, err
	}
	return &TokenPage{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize, Now: requestcontext.Now(ctx)}, nil
}

func normalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultSendLimit, nil
	}
	if limit < 0 || limit > MaxSendLimit {
		return 0, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("limit must be between 1 and %d", MaxSendLimit))
	}
	return limit, nil
}

func actorOrSystem(ctx context.Context) string {
	if subject := requestcontext.Principal(ctx).Subject; subject != "" {
		return subject
	}
	return "system"
}
