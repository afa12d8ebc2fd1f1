package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"todo-assistant/internal/testutil"
)

func TestLocalLimiter_BurstThenRefill(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	l := NewLocalLimiter(2, 2)
	l.now = c.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "u1")
	require.False(t, ok)

	ok, _ = l.Allow(ctx, "u2")
	require.True(t, ok, "buckets are per user")

	c.Advance(35 * time.Second)
	ok, _ = l.Allow(ctx, "u1")
	require.True(t, ok, "a token refills within 35s at 2/min")
}

func TestLocalLimiter_PrunesIdleBuckets(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	l := NewLocalLimiter(60, 5)
	l.now = c.Now
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	_, _ = l.Allow(ctx, "b")
	require.Len(t, l.buckets, 2)

	c.Advance(limiterIdleTTL + time.Second)
	_, _ = l.Allow(ctx, "c")
	require.Len(t, l.buckets, 1)
}

func TestNewRedisLimiter_Validation(t *testing.T) {
	_, err := NewRedisLimiter(nil, "p", 10, 1)
	require.Error(t, err)
	_, err = NewRedisLimiter(redis.NewClient(&redis.Options{}), "p", 0, 1)
	require.Error(t, err)
}

const limiterTestPrefix = "todo:test:limiter:"

type RedisLimiterTestSuite struct {
	suite.Suite
	client *redis.Client
	ctx    context.Context
}

func TestRedisLimiterSuite(t *testing.T) {
	s := new(RedisLimiterTestSuite)
	s.client = testutil.RedisClient(t)
	s.ctx = context.Background()
	suite.Run(t, s)
}

func (s *RedisLimiterTestSuite) SetupTest() {
	testutil.FlushPrefix(s.ctx, s.T(), s.client, limiterTestPrefix)
}

func (s *RedisLimiterTestSuite) TestBucketIsSharedAcrossInstances() {
	now := time.Now()
	a, err := NewRedisLimiter(s.client, limiterTestPrefix, 3, 3)
	s.Require().NoError(err)
	b, err := NewRedisLimiter(s.client, limiterTestPrefix, 3, 3)
	s.Require().NoError(err)
	a.now = func() time.Time { return now }
	b.now = a.now

	for i := 0; i < 3; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		ok, err := l.Allow(s.ctx, "u1")
		s.Require().NoError(err)
		s.True(ok)
	}
	ok, err := b.Allow(s.ctx, "u1")
	s.Require().NoError(err)
	s.False(ok)

	ok, err = a.Allow(s.ctx, "u2")
	s.Require().NoError(err)
	s.True(ok)

	now = now.Add(25 * time.Second)
	ok, err = a.Allow(s.ctx, "u1")
	s.Require().NoError(err)
	s.True(ok, "a token refills within 25s at 3/min")
}

func (s *RedisLimiterTestSuite) TestBucketKeyExpires() {
	l, err := NewRedisLimiter(s.client, limiterTestPrefix, 60, 2)
	s.Require().NoError(err)
	_, err = l.Allow(s.ctx, "u1")
	s.Require().NoError(err)

	ttl, err := s.client.TTL(s.ctx, limiterTestPrefix+"ratelimit:user:u1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, 3*time.Second)
}
