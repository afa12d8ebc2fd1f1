package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter admits or rejects one request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const limiterIdleTTL = 3 * time.Minute

// LocalLimiter keeps one token bucket per user in process memory. It is only
// accurate for a single instance; deployments with several instances use
// RedisLimiter.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ RateLimiter = (*LocalLimiter)(nil)

// NewLocalLimiter allows perMinute requests per user with the given burst.
func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	// Idle buckets are refilled anyway, so dropping them loses nothing.
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, k)
		}
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// redisTokenBucket refills and consumes one bucket atomically.
// KEYS[1] bucket key; ARGV rate/s, capacity, now (seconds), ttl (seconds).
var redisTokenBucket = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "last_refill")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if not tokens or not last then
  tokens = capacity
  last = now
end

local elapsed = now - last
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
  last = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "last_refill", last)
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[4]))
return allowed
`)

// RedisLimiter shares per-user token buckets across instances.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	rate   float64
	burst  int
	now    func() time.Time
}

var _ RateLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows perMinute requests per user with the given burst.
func NewRedisLimiter(client redis.Scripter, prefix string, perMinute, burst int) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("usecase: redis client must not be nil")
	}
	if perMinute <= 0 {
		return nil, errors.New("usecase: rate must be positive")
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":") + ":",
		rate:   float64(perMinute) / 60,
		burst:  burst,
		now:    time.Now,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(l.now().UnixMicro()) / 1e6
	ttl := int(float64(l.burst)/l.rate) + 1
	n, err := redisTokenBucket.Run(ctx, l.client, []string{l.prefix + "ratelimit:user:" + key}, l.rate, l.burst, now, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("usecase: rate limit %q: %w", key, err)
	}
	return n == 1, nil
}
