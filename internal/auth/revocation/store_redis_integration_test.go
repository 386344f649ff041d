//go:build integration

package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hrportal/pkg/testutil/containers"
)

type RedisListSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	list  *RedisList
}

func TestRedisListSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisListSuite))
}

func (s *RedisListSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.list = NewRedisList(s.redis.Client)
}

func (s *RedisListSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisListSuite) TestRevokedUntilTTL() {
	ctx := context.Background()
	s.Require().NoError(s.list.Revoke(ctx, "jti-1", 1500*time.Millisecond))

	revoked, err := s.list.IsRevoked(ctx, "jti-1")
	s.Require().NoError(err)
	s.True(revoked)

	s.Eventually(func() bool {
		revoked, err := s.list.IsRevoked(ctx, "jti-1")
		return err == nil && !revoked
	}, 5*time.Second, 200*time.Millisecond)
}

func (s *RedisListSuite) TestPostgresListSharesSemantics() {
	pg := containers.GetManager().GetPostgres(s.T())
	ctx := context.Background()
	s.Require().NoError(pg.TruncateTables(ctx, "session_revocations"))
	l := NewPostgresList(pg.DB)

	s.Require().NoError(l.Revoke(ctx, "jti-2", time.Minute))
	s.Require().NoError(l.Revoke(ctx, "jti-2", time.Hour))
	revoked, err := l.IsRevoked(ctx, "jti-2")
	s.Require().NoError(err)
	s.True(revoked)

	revoked, err = l.IsRevoked(ctx, "jti-unknown")
	s.Require().NoError(err)
	s.False(revoked)
}
