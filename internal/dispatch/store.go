package dispatch

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"propstack/internal/config"
	"propstack/pkg/metrics"
)

// IdempotencyStore tracks processed event ids so redelivered events collapse
// into at-most-once handler execution. Seen and Mark are separate so the id
// is only recorded after the handler chain completed.
type IdempotencyStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
	Size(ctx context.Context) (int, error)
}

// MemoryStore is a bounded process-local store. Eviction is LRU, so the
// guarantee is soft: once more distinct ids than the capacity have been seen
// since the last restart, the oldest become eligible for redelivery without
// detection. It does not coordinate across consumer replicas.
type MemoryStore struct {
	cache *lru.Cache[string, struct{}]
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Seen(_ context.Context, eventID string) (bool, error) {
	_, ok := s.cache.Get(eventID)
	return ok, nil
}

func (s *MemoryStore) Mark(_ context.Context, eventID string) error {
	s.cache.Add(eventID, struct{}{})
	metrics.SetDedupStoreSize(s.cache.Len())
	return nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	return s.cache.Len(), nil
}

// NewStore builds the configured idempotency store. redisClient may be nil
// when the memory store is selected.
func NewStore(cfg config.DispatchConfig, cbCfg config.CircuitBreakerConfig, redisClient RedisClient) (IdempotencyStore, error) {
	switch cfg.Store {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis idempotency store selected but no redis client configured")
		}
		return NewCircuitBreakerStore(NewRedisStore(redisClient, cfg.TTLSeconds), cbCfg), nil
	case "memory", "":
		return NewMemoryStore(cfg.Capacity)
	default:
		return nil, fmt.Errorf("unknown idempotency store type: %s", cfg.Store)
	}
}
