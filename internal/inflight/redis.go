package inflight

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long a crashed holder can block a key
const DefaultRedisTTL = 10 * time.Minute

// RedisSet is a Set shared by every instance connected to the same Redis.
// Keys expire after ttl so a holder that dies without releasing does not
// block retries forever.
type RedisSet struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSet creates a RedisSet. Keys are stored as prefix+key.
func NewRedisSet(rdb *redis.Client, prefix string, ttl time.Duration) *RedisSet {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSet{rdb: rdb, prefix: prefix, ttl: ttl}
}

// ConnectRedis parses a redis:// URL and verifies the connection
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}
	return rdb, nil
}

// Acquire implements Set using SET NX with expiry
func (s *RedisSet) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to acquire %s", key)
	}
	return ok, nil
}

// Release implements Set
func (s *RedisSet) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Wrapf(err, "failed to release %s", key)
	}
	return nil
}
