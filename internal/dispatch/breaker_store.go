package dispatch

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"propstack/internal/config"
	"propstack/pkg/circuitbreaker"
)

// CircuitBreakerStore shields the consumer loop from a failing shared store.
// When the breaker opens, errors surface to the dispatcher, which applies its
// allow/deny fallback.
type CircuitBreakerStore struct {
	store IdempotencyStore
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store IdempotencyStore, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("idempotency-store")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Seen(ctx context.Context, eventID string) (bool, error) {
	if s.cb == nil {
		return s.store.Seen(ctx, eventID)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Seen(ctx, eventID)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		if s.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for idempotency store: %w", err)
		}
		return false, err
	}

	seen, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("store returned invalid result type")
	}
	return seen, nil
}

func (s *CircuitBreakerStore) Mark(ctx context.Context, eventID string) error {
	if s.cb == nil {
		return s.store.Mark(ctx, eventID)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Mark(ctx, eventID)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil && s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for idempotency store: %w", err)
	}
	return err
}

func (s *CircuitBreakerStore) Size(ctx context.Context) (int, error) {
	if s.cb == nil {
		return s.store.Size(ctx)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Size(ctx)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		return 0, err
	}

	size, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("store returned invalid result type")
	}
	return size, nil
}
