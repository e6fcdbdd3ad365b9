//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"examboard/internal/ratelimit"
	"examboard/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestFixedWindowSharedAcrossStores() {
	ctx := context.Background()
	other := ratelimit.NewRedisStore(s.redis.Client)
	key := ratelimit.Key("verify", "203.0.113.9")

	res, err := s.store.Allow(ctx, key, 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Remaining)

	res, err = other.Allow(ctx, key, 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(0, res.Remaining)

	res, err = s.store.Allow(ctx, key, 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)
	s.LessOrEqual(res.RetryAfter, 60)

	ttl, err := s.redis.Client.PTTL(ctx, key).Result()
	s.Require().NoError(err)
	s.Positive(ttl, "window key expires")
}
