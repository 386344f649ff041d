// Package service implements the census self-service verification workflow:
// token issuance, employee validation and submission, and the email campaign.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	censusmodels "hrportal/internal/census/models"
	"hrportal/internal/verification/metrics"
	"hrportal/internal/verification/models"
	id "hrportal/pkg/domain"
)

const (
	// tokenBytes of entropy per token (512 bits).
	tokenBytes = 64

	DefaultValidityDays = 14
	MinValidityDays     = 1
	MaxValidityDays     = 90
	DefaultMaxReminders = 3

	DefaultPageSize  = 50
	MaxPageSize      = 100
	DefaultSendLimit = 50

	// deliveryConcurrency bounds parallel notifier calls per batch.
	deliveryConcurrency = 4

	// sendClaimLease is how long an unfinished initial send holds its token.
	sendClaimLease = 10 * time.Minute

	verifyPath = "/verify-census/"
)

type TokenStore interface {
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
	CreateIfNoActive(ctx context.Context, t *models.Token) (bool, error)
	FindByValue(ctx context.Context, value string) (*models.Token, error)
	FindByValueForUpdate(ctx context.Context, value string) (*models.Token, error)
	MarkVerified(ctx context.Context, tokenID id.TokenID, at time.Time) error
	ClaimUnsent(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Token, error)
	ReleaseClaim(ctx context.Context, tokenID id.TokenID) error
	MarkSent(ctx context.Context, tokenID id.TokenID, at time.Time) (bool, error)
	ClaimReminders(ctx context.Context, now time.Time, maxReminders, limit int) ([]*models.Token, error)
	Stats(ctx context.Context, now time.Time) (models.Stats, error)
	List(ctx context.Context, f models.ListFilter) ([]models.ListItem, int, error)
}

type CensusStore interface {
	FindByID(ctx context.Context, recordID id.CensusRecordID) (*censusmodels.Record, error)
	FindByIDForUpdate(ctx context.Context, recordID id.CensusRecordID) (*censusmodels.Record, error)
	Update(ctx context.Context, rec *censusmodels.Record) error
	IssuanceCandidates(ctx context.Context, f censusmodels.Filter) ([]censusmodels.IssuanceCandidate, error)
}

// TxRunner scopes a unit of work to one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service orchestrates census verification.
type Service struct {
	tokens       TokenStore
	census       CensusStore
	tx           TxRunner
	auditor      AuditStore
	notifier     Notifier
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	validityDays int
	maxReminders int
	newToken     func() (string, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithValidityDays sets the default token lifetime.
func WithValidityDays(days int) Option {
	return func(s *Service) {
		if days >= MinValidityDays && days <= MaxValidityDays {
			s.validityDays = days
		}
	}
}

// WithMaxReminders caps reminders per token.
func WithMaxReminders(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxReminders = n
		}
	}
}

// WithTokenGenerator replaces the random token source.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.newToken = gen
		}
	}
}

// New constructs a Service.
func New(tokens TokenStore, census CensusStore, tx TxRunner, auditor AuditStore, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		tokens:       tokens,
		census:       census,
		tx:           tx,
		auditor:      auditor,
		notifier:     notifier,
		logger:       slog.Default(),
		tracer:       otel.Tracer("hrportal/verification"),
		validityDays: DefaultValidityDays,
		maxReminders: DefaultMaxReminders,
		newToken:     GenerateToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateToken returns 64 random bytes as unpadded URL-safe base64.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerificationURL renders the employee link for token under base.
func VerificationURL(base, token string) string {
	return base + verifyPath + token
}

// maxTokenLen rejects absurd path values before touching the store.
const maxTokenLen = 256

func plausibleToken(v string) bool {
	return v != "" && len(v) <= maxTokenLen
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "verification."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func employeeName(rec *censusmodels.Record) string {
	if rec.FullName != "" {
		return rec.FullName
	}
	name := rec.FirstName
	if rec.FamilyName != "" {
		if name != "" {
			name += " "
		}
		name += rec.FamilyName
	}
	if name == "" {
		return "Employee"
	}
	return name
}
