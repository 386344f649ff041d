package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hrportal/internal/ratelimit/models"
)

// fixedWindow increments the window counter and arms its expiry on the first
// hit. It returns the count and the remaining TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisBucketStore is a fixed-window counter shared by every replica.
type RedisBucketStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisBucketStore(client redis.Scripter) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	res, err := fixedWindow.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	resetAt := s.now().Add(ttl)
	if count > limit {
		return &models.Result{Limit: limit, ResetAt: resetAt, RetryAfter: retryAfter(ttl)}, nil
	}
	return &models.Result{Allowed: true, Limit: limit, Remaining: limit - count, ResetAt: resetAt}, nil
}
