package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValueStore is a shared cache for scalar signal values whose TTLs are long
// enough (up to 24h for slow macro sources) that surviving a process restart
// matters.
type ValueStore interface {
	GetFloat(ctx context.Context, key string) (float64, bool, error)
	SetFloat(ctx context.Context, key string, value float64, ttl time.Duration) error
}

// RedisStore backs ValueStore with redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on an existing client. Keys are namespaced
// under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tradegate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string { return s.prefix + ":" + key }

// GetFloat fetches a cached scalar. A missing key is (0, false, nil); only
// transport problems surface as errors.
func (s *RedisStore) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// Corrupt entry: treat as a miss rather than poisoning the caller.
		return 0, false, nil
	}
	return v, true, nil
}

// SetFloat stores a scalar with the given TTL.
func (s *RedisStore) SetFloat(ctx context.Context, key string, value float64, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), strconv.FormatFloat(value, 'f', -1, 64), ttl).Err()
}
