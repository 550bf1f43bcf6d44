package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// probeScript performs the sliding-window probe atomically: evict timestamps
// older than the window, count survivors, and record the new timestamp only
// when capacity remains. Denied probes leave the window untouched so a denial
// does not extend the lockout.
//
// KEYS[1] = window key
// ARGV[1] = now (unix milliseconds)
// ARGV[2] = window (milliseconds)
// ARGV[3] = max requests
// ARGV[4] = unique member for the new entry
var probeScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. cutoff)
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return count
`)

// RedisStore implements Store on a Redis sorted set per key.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore builds a Store backed by the given Redis client.
func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	return &RedisStore{rdb: rdb}, nil
}

// Probe runs the sliding-window script. The sorted-set member embeds a UUID so
// concurrent probes sharing a millisecond never collide.
func (s *RedisStore) Probe(ctx context.Context, key string, now time.Time, window time.Duration, max int) (int, error) {
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
	count, err := probeScript.Run(ctx, s.rdb,
		[]string{key},
		now.UnixMilli(), window.Milliseconds(), max, member,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: probe %q: %w", key, err)
	}
	return count, nil
}
