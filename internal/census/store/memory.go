// Package store persists census records and employees.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hrportal/internal/census/models"
	id "hrportal/pkg/domain"
	"hrportal/pkg/platform/sentinel"
)

// InMemory is a map-backed census store for tests and database-less runs.
type InMemory struct {
	mu        sync.RWMutex
	records   map[id.CensusRecordID]*models.Record
	employees map[id.EmployeeID]*models.Employee
	nextID    int64
	nextEmpID int64
	clock     func() time.Time
	onDelete  []func(recordID id.CensusRecordID)
}

func NewInMemory() *InMemory {
	return &InMemory{
		records:   make(map[id.CensusRecordID]*models.Record),
		employees: make(map[id.EmployeeID]*models.Employee),
		clock:     time.Now,
	}
}

func (s *InMemory) FindByID(_ context.Context, recordID id.CensusRecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemory) FindByIDForUpdate(ctx context.Context, recordID id.CensusRecordID) (*models.Record, error) {
	return s.FindByID(ctx, recordID)
}

func (s *InMemory) FindEmployeeRecord(_ context.Context, staffID string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Record
	for _, rec := range s.records {
		if rec.StaffID == staffID && rec.Relation == models.RelationEmployee {
			if found == nil || rec.ID < found.ID {
				found = rec
			}
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return found.Clone(), nil
}

func (s *InMemory) Update(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return sentinel.ErrNotFound
	}
	rec.UpdatedAt = s.clock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemory) Insert(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = id.CensusRecordID(s.nextID)
	rec.UpdatedAt = s.clock()
	if rec.EmployeeID.IsZero() && rec.StaffID != "" {
		for _, e := range s.employees {
			if e.StaffID == rec.StaffID {
				rec.EmployeeID = e.ID
				break
			}
		}
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// OnDelete registers fn to run after a record is deleted. Dependent stores
// use it to drop rows the Postgres schema removes with ON DELETE CASCADE.
func (s *InMemory) OnDelete(fn func(recordID id.CensusRecordID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, fn)
}

// Delete removes a record and then runs the OnDelete hooks outside the lock.
func (s *InMemory) Delete(_ context.Context, recordID id.CensusRecordID) error {
	s.mu.Lock()
	if _, ok := s.records[recordID]; !ok {
		s.mu.Unlock()
		return sentinel.ErrNotFound
	}
	delete(s.records, recordID)
	hooks := append([]func(id.CensusRecordID){}, s.onDelete...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(recordID)
	}
	return nil
}

func matches(rec *models.Record, f models.Filter) bool {
	if f.Entity != "" && rec.Entity != f.Entity {
		return false
	}
	if f.InsuranceType != "" && rec.InsuranceType != f.InsuranceType {
		return false
	}
	if f.Relation != "" && rec.Relation != f.Relation {
		return false
	}
	if f.MissingOnly && rec.DHADOHValid {
		return false
	}
	return true
}

func (s *InMemory) sorted(f models.Filter) []*models.Record {
	var out []*models.Record
	for _, rec := range s.records {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemory) List(_ context.Context, f models.Filter) ([]*models.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sorted(f)
	total := len(all)
	if f.PageSize > 0 {
		start := (max(f.Page, 1) - 1) * f.PageSize
		if start >= len(all) {
			all = nil
		} else {
			all = all[start:min(start+f.PageSize, len(all))]
		}
	}
	out := make([]*models.Record, 0, len(all))
	for _, rec := range all {
		out = append(out, rec.Clone())
	}
	return out, total, nil
}

func (s *InMemory) IssuanceCandidates(_ context.Context, f models.Filter) ([]models.IssuanceCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f.Relation = models.RelationEmployee
	var out []models.IssuanceCandidate
	for _, rec := range s.sorted(f) {
		email := ""
		if e, ok := s.employees[rec.EmployeeID]; ok && e.Email != "" {
			email = e.Email
		} else if rec.PersonalEmail != "" {
			email = rec.PersonalEmail
		}
		out = append(out, models.IssuanceCandidate{RecordID: rec.ID, EmployeeID: rec.EmployeeID, Email: email})
	}
	return out, nil
}

func (s *InMemory) Summary(_ context.Context) (models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := models.Summary{ByEntity: map[string]int{}, ByInsuranceType: map[string]int{}}
	totalPct := 0
	for _, rec := range s.records {
		sum.Total++
		if !rec.EmployeeID.IsZero() {
			sum.LinkedToEmployee++
		}
		if rec.DHADOHValid {
			sum.DHADOHValid++
		}
		sum.ByEntity[rec.Entity]++
		sum.ByInsuranceType[rec.InsuranceType]++
		totalPct += rec.CompletenessPct
	}
	if sum.Total > 0 {
		sum.AverageCompleteness = float64(totalPct) / float64(sum.Total)
	}
	return sum, nil
}

func (s *InMemory) UpsertEmployee(_ context.Context, e *models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.employees {
		if existing.StaffID == e.StaffID {
			existing.FullName = e.FullName
			existing.Email = e.Email
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	s.nextEmpID++
	e.ID = id.EmployeeID(s.nextEmpID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	cp := *e
	s.employees[e.ID] = &cp
	return nil
}

func (s *InMemory) FindEmployee(_ context.Context, employeeID id.EmployeeID) (*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[employeeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}
