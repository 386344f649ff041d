// Package service implements HR maintenance of the insurance census.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"hrportal/internal/census/models"
	"hrportal/internal/census/sheet"
	id "hrportal/pkg/domain"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/platform/sentinel"
	"hrportal/pkg/requestcontext"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type Store interface {
	FindByID(ctx context.Context, recordID id.CensusRecordID) (*models.Record, error)
	FindByIDForUpdate(ctx context.Context, recordID id.CensusRecordID) (*models.Record, error)
	FindEmployeeRecord(ctx context.Context, staffID string) (*models.Record, error)
	Update(ctx context.Context, rec *models.Record) error
	Insert(ctx context.Context, rec *models.Record) error
	Delete(ctx context.Context, recordID id.CensusRecordID) error
	List(ctx context.Context, f models.Filter) ([]*models.Record, int, error)
	Summary(ctx context.Context) (models.Summary, error)
}

type AuditStore interface {
	Append(ctx context.Context, event audit.Event) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store   Store
	tx      TxRunner
	auditor AuditStore
	logger  *slog.Logger
	batchID func() string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBatchIDGenerator overrides how import batches are labelled.
func WithBatchIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.batchID = gen
	}
}

func New(store Store, tx TxRunner, auditor AuditStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tx:      tx,
		auditor: auditor,
		logger:  slog.Default(),
		batchID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Page is one page of census records.
type Page struct {
	Items    []*models.Record
	Total    int
	Page     int
	PageSize int
}

// ImportResult summarises a spreadsheet import.
type ImportResult struct {
	BatchID  string
	Imported int
	Rejected []sheet.RowError
}

func (s *Service) List(ctx context.Context, f models.Filter) (*Page, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Page < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "page must be at least 1")
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("page_size must be between 1 and %d", MaxPageSize))
	}
	if f.Relation != "" && !f.Relation.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid relation")
	}

	items, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list census records")
	}
	return &Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// Get returns the employee-relation record for a staff id.
func (s *Service) Get(ctx context.Context, staffID string) (*models.Record, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "staff_id is required")
	}
	rec, err := s.store.FindEmployeeRecord(ctx, staffID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "census record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load census record")
	}
	return rec, nil
}

// Me returns the signed-in employee's own record.
func (s *Service) Me(ctx context.Context) (*models.Record, error) {
	caller := requestcontext.Principal(ctx)
	if id.Role(caller.Role) != id.RoleEmployee || caller.Subject == "" {
		return nil, dErrors.New(dErrors.CodeForbidden, "employee session required")
	}
	return s.Get(ctx, caller.Subject)
}

// Update applies an HR correction. Every table field may be edited; derived
// columns are recomputed and the record is stamped "hr:<subject>".
func (s *Service) Update(ctx context.Context, recordID id.CensusRecordID, updates map[string]*string) (*models.Record, error) {
	actor := requestcontext.Principal(ctx).Subject
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	clean, err := normalizeUpdates(updates)
	if err != nil {
		return nil, err
	}

	var out *models.Record
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := s.store.FindByIDForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		changed := rec.Edit(clean)
		if !rec.Relation.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid relation")
		}
		if models.IsMissing(rec.StaffID) {
			return dErrors.New(dErrors.CodeInvalidInput, "staff_id must not be empty")
		}
		out = rec
		if len(changed) == 0 {
			return nil
		}
		rec.UpdatedBy = "hr:" + actor
		if err := s.store.Update(ctx, rec); err != nil {
			return err
		}
		return s.auditor.Append(ctx, audit.Event{
			Timestamp: requestcontext.Now(ctx),
			Subject:   "census_record:" + rec.ID.String(),
			Action:    string(audit.EventCensusRecordUpdated),
			ActorID:   rec.UpdatedBy,
			RequestID: requestcontext.RequestID(ctx),
			Details:   map[string]any{"changed_fields": changed},
		})
	})
	if err != nil {
		return nil, s.translate(ctx, err, "failed to update census record")
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, recordID id.CensusRecordID) error {
	actor := requestcontext.Principal(ctx).Subject
	if actor == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, recordID); err != nil {
			return err
		}
		return s.auditor.Append(ctx, audit.Event{
			Timestamp: requestcontext.Now(ctx),
			Subject:   "census_record:" + recordID.String(),
			Action:    string(audit.EventCensusRecordDeleted),
			ActorID:   "hr:" + actor,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return s.translate(ctx, err, "failed to delete census record")
	}
	return nil
}

func (s *Service) Summary(ctx context.Context) (*models.Summary, error) {
	sum, err := s.store.Summary(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to summarise census")
	}
	return &sum, nil
}

// Import loads a spreadsheet. Valid rows are inserted in one transaction and
// share a batch id; invalid rows are reported and skipped.
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	actor := requestcontext.Principal(ctx).Subject
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	records, rejected, err := sheet.Read(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid spreadsheet: "+err.Error())
	}

	res := &ImportResult{BatchID: s.batchID(), Rejected: rejected}
	if res.Rejected == nil {
		res.Rejected = []sheet.RowError{}
	}
	if len(records) == 0 {
		return res, nil
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, rec := range records {
			rec.ImportBatchID = res.BatchID
			rec.UpdatedBy = "hr:" + actor
			if err := s.store.Insert(ctx, rec); err != nil {
				return err
			}
		}
		return s.auditor.Append(ctx, audit.Event{
			Timestamp: requestcontext.Now(ctx),
			Subject:   "census_import:" + res.BatchID,
			Action:    string(audit.EventCensusImported),
			ActorID:   "hr:" + actor,
			RequestID: requestcontext.RequestID(ctx),
			Details:   map[string]any{"imported": len(records), "rejected": len(rejected)},
		})
	})
	if err != nil {
		return nil, s.translate(ctx, err, "failed to import census")
	}
	res.Imported = len(records)
	s.logger.InfoContext(ctx, "census imported", "batch_id", res.BatchID, "imported", res.Imported, "rejected", len(rejected))
	return res, nil
}

// Export writes every record matching f as an xlsx workbook.
func (s *Service) Export(ctx context.Context, f models.Filter, w io.Writer) error {
	f.Page, f.PageSize = 0, 0
	records, _, err := s.store.List(ctx, f)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list census records")
	}
	if err := sheet.Write(w, records); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to render census export")
	}
	return nil
}

func (s *Service) translate(ctx context.Context, err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "census record not found")
	}
	if de, ok := dErrors.From(err); ok && de.Code != dErrors.CodeInternal {
		return err
	}
	s.logger.ErrorContext(ctx, msg, "error", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func normalizeUpdates(in map[string]*string) (map[string]*string, error) {
	if len(in) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no fields to update")
	}
	out := make(map[string]*string, len(in))
	for name, v := range in {
		if _, ok := models.LookupField(name); !ok {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown field: "+name)
		}
		if v == nil {
			continue
		}
		t := strings.TrimSpace(*v)
		out[name] = &t
	}
	return out, nil
}
