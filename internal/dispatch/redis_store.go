package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"propstack/internal/constants"
)

// RedisClient is the subset of redis.Client the store needs.
type RedisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisStore shares processed event ids across consumer replicas of one
// group. Entries expire by TTL instead of LRU eviction.
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisStore(client RedisClient, ttlSeconds int) *RedisStore {
	if ttlSeconds <= 0 {
		ttlSeconds = constants.DefaultDedupTTLSeconds
	}
	return &RedisStore{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, constants.CacheKeyPrefixEventSeen+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, eventID string) error {
	key := constants.CacheKeyPrefixEventSeen + eventID
	if err := s.client.Set(ctx, key, time.Now().Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	iter := s.client.Scan(ctx, 0, constants.CacheKeyPrefixEventSeen+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}
