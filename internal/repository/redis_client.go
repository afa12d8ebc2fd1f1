package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each key is a hash:
//
//	<prefix><key> => {v: <version>, d: <value>}
//
// Redis expires keys itself, so TTL needs no read-side filtering. Conditional
// writes and deletes run as Lua scripts so the version check and the write
// are atomic.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

var (
	// KEYS[1] = key
	// ARGV[1] = mode ("first" or "last"), ARGV[2] = expected version,
	// ARGV[3] = new version, ARGV[4] = value, ARGV[5] = ttl in ms (0 = none)
	// Returns 1 if written, 0 on version conflict.
	redisPutScript = redis.NewScript(`
local key = KEYS[1]
local mode = ARGV[1]
local expected = ARGV[2]
local ttlms = tonumber(ARGV[5])

if mode == 'first' then
	local cur = redis.call('HGET', key, 'v')
	if expected == '' then
		if cur then
			return 0
		end
	elseif cur ~= expected then
		return 0
	end
end

redis.call('DEL', key)
redis.call('HSET', key, 'v', ARGV[3], 'd', ARGV[4])
if ttlms > 0 then
	redis.call('PEXPIRE', key, ttlms)
end
return 1
`)

	// KEYS[1] = key, ARGV[1] = expected version.
	// Returns 1 if deleted, 0 on version conflict.
	redisDeleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)
)

// NewRedisStore creates a RedisStore. prefix is optional (e.g. "todo:").
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (Item, bool, error) {
	if err := validateKey(key); err != nil {
		return Item{}, false, err
	}
	vals, err := r.client.HMGet(ctx, r.key(key), "v", "d").Result()
	if err != nil {
		return Item{}, false, fmt.Errorf("repository: Get %q: %w", key, err)
	}
	return decodeHash(vals)
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	mode := "last"
	if opts.Concurrency == FirstWrite {
		mode = "first"
	}
	version := uuid.NewString()
	res, err := redisPutScript.Run(ctx, r.client, []string{r.key(key)},
		mode, opts.ExpectedVersion, version, value, ttlMillis(opts.TTL)).Int()
	if err != nil {
		return "", fmt.Errorf("repository: Put %q: %w", key, err)
	}
	if res != 1 {
		return "", ErrConflict
	}
	return version, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string, opts DeleteOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if opts.ExpectedVersion == "" {
		if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
			return fmt.Errorf("repository: Delete %q: %w", key, err)
		}
		return nil
	}
	res, err := redisDeleteScript.Run(ctx, r.client, []string{r.key(key)}, opts.ExpectedVersion).Int()
	if err != nil {
		return fmt.Errorf("repository: Delete %q: %w", key, err)
	}
	if res != 1 {
		return ErrConflict
	}
	return nil
}

// BulkGet pipelines one HMGET per key.
func (r *RedisStore) BulkGet(ctx context.Context, keys []string) (map[string]Item, error) {
	keys = dedupe(keys)
	out := make(map[string]Item, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, r.key(k), "v", "d")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("repository: BulkGet: %w", err)
	}

	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		item, ok, err := decodeHash(vals)
		if err != nil || !ok {
			continue
		}
		out[keys[i]] = item
	}
	return out, nil
}

func decodeHash(vals []interface{}) (Item, bool, error) {
	if len(vals) != 2 || vals[0] == nil {
		return Item{}, false, nil
	}
	ver, ok := vals[0].(string)
	if !ok {
		return Item{}, false, errors.New("repository: version field is not a string")
	}
	data, _ := vals[1].(string)
	return Item{Value: []byte(data), Version: ver}, true, nil
}

// ttlMillis converts ttl for PEXPIRE, rounding up so a positive TTL never
// becomes "no expiry".
func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64((ttl + time.Millisecond - 1) / time.Millisecond)
}
