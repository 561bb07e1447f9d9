package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetIfNewer stores "<version>:<value>" unless the key already holds an equal or higher
	// version. Reports whether the write happened.
	SetIfNewer(ctx context.Context, key string, value string, version int64, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// setIfNewer compares the numeric prefix of the stored value with ARGV[2] atomically.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local v = tonumber(string.match(cur, '^(%-?%d+):'))
	if v and v >= tonumber(ARGV[2]) then
		return 0
	end
end
local payload = ARGV[2] .. ':' .. ARGV[1]
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], payload, 'PX', ttl)
else
	redis.call('SET', KEYS[1], payload)
end
return 1
`)

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) SetIfNewer(ctx context.Context, key string, value string, version int64, ttl time.Duration) (bool, error) {
	n, err := setIfNewer.Run(ctx, r.c, []string{key}, value, version, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.c.Del(ctx, keys...).Err()
}
