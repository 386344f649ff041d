package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hrportal/internal/verification/models"
	id "hrportal/pkg/domain"
	"hrportal/pkg/platform/sentinel"
)

// RecordInfo supplies census context for token listings.
type RecordInfo func(recordID id.CensusRecordID) (name, staffID, entity string, ok bool)

// InMemory is a map-backed token store. It applies the same predicates as
// the PostgreSQL store under a single mutex.
type InMemory struct {
	mu     sync.Mutex
	tokens map[id.TokenID]*models.Token
	nextID int64
	info   RecordInfo
	claims map[id.TokenID]time.Time
}

func NewInMemory(info RecordInfo) *InMemory {
	return &InMemory{
		tokens: make(map[id.TokenID]*models.Token),
		info:   info,
		claims: make(map[id.TokenID]time.Time),
	}
}

// DeleteByRecord drops every token issued for recordID.
func (s *InMemory) DeleteByRecord(recordID id.CensusRecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tokenID, t := range s.tokens {
		if t.CensusRecordID == recordID {
			delete(s.tokens, tokenID)
			delete(s.claims, tokenID)
		}
	}
}

func (s *InMemory) ExpireLapsed(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tokens {
		if t.State != models.StateVerified && t.State != models.StateExpired && !now.Before(t.ExpiresAt) {
			t.State = models.StateExpired
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CreateIfNoActive(_ context.Context, t *models.Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens {
		if existing.CensusRecordID == t.CensusRecordID &&
			existing.State != models.StateVerified && existing.State != models.StateExpired {
			return false, nil
		}
	}
	for _, existing := range s.tokens {
		if existing.Value == t.Value {
			return false, sentinel.ErrConflict
		}
	}
	s.nextID++
	t.ID = id.TokenID(s.nextID)
	s.tokens[t.ID] = t.Clone()
	return true, nil
}

func (s *InMemory) FindByValue(_ context.Context, value string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Value == value {
			return t.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByValueForUpdate(ctx context.Context, value string) (*models.Token, error) {
	return s.FindByValue(ctx, value)
}

func (s *InMemory) MarkVerified(_ context.Context, tokenID id.TokenID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.State == models.StateVerified || t.State == models.StateExpired {
		return sentinel.ErrAlreadyUsed
	}
	t.State = models.StateVerified
	v := at
	t.VerifiedAt = &v
	return nil
}

func (s *InMemory) sortedByID() []*models.Token {
	out := make([]*models.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func live(t *models.Token, now time.Time) bool {
	return t.State != models.StateVerified && t.State != models.StateExpired && now.Before(t.ExpiresAt)
}

func (s *InMemory) ClaimUnsent(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staleBefore := now.Add(-lease)
	var out []*models.Token
	for _, t := range s.sortedByID() {
		if len(out) == limit {
			break
		}
		if t.EmailSentAt != nil || !live(t, now) || t.Email == "" {
			continue
		}
		if at, ok := s.claims[t.ID]; ok && at.After(staleBefore) {
			continue
		}
		s.claims[t.ID] = now
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *InMemory) ReleaseClaim(_ context.Context, tokenID id.TokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[tokenID]; ok && t.EmailSentAt == nil {
		delete(s.claims, tokenID)
	}
	return nil
}

func (s *InMemory) MarkSent(_ context.Context, tokenID id.TokenID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok || t.EmailSentAt != nil {
		return false, nil
	}
	v := at
	t.EmailSentAt = &v
	if t.State == models.StateIssued {
		t.State = models.StateSent
	}
	return true, nil
}

func (s *InMemory) ClaimReminders(_ context.Context, now time.Time, maxReminders, limit int) ([]*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var eligible []*models.Token
	for _, t := range s.tokens {
		if t.EmailSentAt != nil && live(t, now) && t.ReminderCount < maxReminders && t.Email != "" {
			eligible = append(eligible, t)
		}
	}
	key := func(t *models.Token) time.Time {
		if t.LastReminderAt != nil {
			return *t.LastReminderAt
		}
		return *t.EmailSentAt
	}
	sort.Slice(eligible, func(i, j int) bool {
		ki, kj := key(eligible[i]), key(eligible[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return eligible[i].ID < eligible[j].ID
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*models.Token, 0, len(eligible))
	for _, t := range eligible {
		t.ReminderCount++
		v := now
		t.LastReminderAt = &v
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *InMemory) Stats(_ context.Context, now time.Time) (models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.Stats
	for _, t := range s.tokens {
		st.TotalTokens++
		if t.EmailSentAt != nil {
			st.EmailsSent++
		}
		switch t.EffectiveState(now) {
		case models.StateVerified:
			st.Verified++
		case models.StateExpired:
			st.Expired++
		}
	}
	st.Pending = st.TotalTokens - st.Verified - st.Expired
	return st, nil
}

func (s *InMemory) List(_ context.Context, f models.ListFilter) ([]models.ListItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.ListItem
	for _, t := range s.sortedByID() {
		if f.Verified != nil && t.IsVerified() != *f.Verified {
			continue
		}
		item := models.ListItem{Token: t.Clone()}
		if s.info != nil {
			item.EmployeeName, item.StaffID, item.Entity, _ = s.info(t.CensusRecordID)
		}
		if f.Entity != "" && item.Entity != f.Entity {
			continue
		}
		matched = append(matched, item)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].Token, matched[j].Token
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	total := len(matched)
	if f.PageSize <= 0 {
		return matched, total, nil
	}
	start := (max(f.Page, 1) - 1) * f.PageSize
	if start >= total {
		return nil, total, nil
	}
	return matched[start:min(start+f.PageSize, total)], total, nil
}
