package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hrportal/internal/ratelimit/models"
)

// maxIdleBuckets bounds the key map before idle limiters are swept.
const maxIdleBuckets = 10000

// InMemoryBucketStore is a per-process token bucket store. It serves as the
// fallback when Redis is absent or failing, so limits are per replica.
type InMemoryBucketStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

type MemoryOption func(*InMemoryBucketStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryBucketStore) {
		s.now = now
	}
}

func NewInMemoryBucketStore(opts ...MemoryOption) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow spends one token from key's bucket. The bucket holds limit tokens and
// refills evenly over window.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	lim := s.limiters[key]
	if lim == nil {
		if len(s.limiters) >= maxIdleBuckets {
			s.sweep(now)
		}
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		s.limiters[key] = lim
	}

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &models.Result{Limit: limit, ResetAt: now.Add(window), RetryAfter: retryAfter(window)}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &models.Result{Limit: limit, ResetAt: now.Add(delay), RetryAfter: retryAfter(delay)}, nil
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: int(math.Max(0, math.Floor(lim.TokensAt(now)))),
		ResetAt:   now.Add(window),
	}, nil
}

// Reset clears the bucket for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, key)
	return nil
}

// sweep drops buckets that have refilled completely. Must be called while
// holding s.mu.
func (s *InMemoryBucketStore) sweep(now time.Time) {
	for key, lim := range s.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(s.limiters, key)
		}
	}
}

func retryAfter(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
