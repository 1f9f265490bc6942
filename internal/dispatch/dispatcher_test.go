package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/logger"
	"propstack/pkg/models"
)

func newTestDispatcher(t *testing.T, cfg config.DispatchConfig) (*Dispatcher, *MemoryStore) {
	t.Helper()

	store, err := NewMemoryStore(100)
	require.NoError(t, err)

	if cfg.OnStoreError == "" {
		cfg.OnStoreError = constants.FallbackAllow
	}
	return NewDispatcher("test-service", store, cfg, logger.NopLogger()), store
}

func testEnvelope(eventID, eventType string) models.EventEnvelope {
	return *models.NewEventEnvelopeBuilder().
		WithEventID(eventID).
		WithEventType(eventType).
		WithProducer("test-service").
		Build()
}

func TestDispatch_HandlerRunsOncePerEventID(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		return nil
	})
	d.Start()

	env := testEnvelope("evt-1", models.EventPropertySubmitted)

	require.NoError(t, d.Dispatch(context.Background(), env))
	require.NoError(t, d.Dispatch(context.Background(), env))
	require.NoError(t, d.Dispatch(context.Background(), env))

	assert.Equal(t, 1, calls)
}

func TestDispatch_DistinctEventIDsEachProcessed(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		return nil
	})
	d.Start()

	require.NoError(t, d.Dispatch(context.Background(), testEnvelope("evt-1", models.EventPropertySubmitted)))
	require.NoError(t, d.Dispatch(context.Background(), testEnvelope("evt-2", models.EventPropertySubmitted)))

	assert.Equal(t, 2, calls)
}

func TestDispatch_EmptyEventIDSkipped(t *testing.T) {
	d, store := newTestDispatcher(t, config.DispatchConfig{})

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		return nil
	})
	d.Start()

	env := testEnvelope("", models.EventPropertySubmitted)
	require.NoError(t, d.Dispatch(context.Background(), env))

	assert.Equal(t, 0, calls)

	size, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestDispatch_UnhandledTypeAcknowledged(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})
	d.Start()

	env := testEnvelope("evt-1", models.EventPropertyPublished)
	assert.NoError(t, d.Dispatch(context.Background(), env))
}

func TestDispatch_HandlerErrorNotMarkedProcessed(t *testing.T) {
	d, store := newTestDispatcher(t, config.DispatchConfig{})

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		if calls == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	d.Start()

	env := testEnvelope("evt-1", models.EventPropertySubmitted)

	require.Error(t, d.Dispatch(context.Background(), env))

	seen, err := store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Redelivery re-runs the chain from the top, then marks.
	require.NoError(t, d.Dispatch(context.Background(), env))
	assert.Equal(t, 2, calls)

	seen, err = store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDispatch_FailingHandlerStopsChain(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})

	var order []string
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		order = append(order, "second")
		return nil
	})
	d.Start()

	require.Error(t, d.Dispatch(context.Background(), testEnvelope("evt-1", models.EventPropertySubmitted)))
	assert.Equal(t, []string{"first"}, order)
}

func TestDispatch_WildcardRunsAfterTyped(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})

	var order []string
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		order = append(order, "typed")
		return nil
	})
	d.OnAll(func(ctx context.Context, env models.EventEnvelope) error {
		order = append(order, "wildcard")
		return nil
	})
	d.Start()

	require.NoError(t, d.Dispatch(context.Background(), testEnvelope("evt-1", models.EventPropertySubmitted)))
	assert.Equal(t, []string{"typed", "wildcard"}, order)

	// The wildcard also fires for types with no typed handler.
	order = nil
	require.NoError(t, d.Dispatch(context.Background(), testEnvelope("evt-2", models.EventPropertyExpired)))
	assert.Equal(t, []string{"wildcard"}, order)
}

func TestOn_PanicsAfterStart(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})
	d.Start()

	assert.Panics(t, func() {
		d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
			return nil
		})
	})
	assert.Panics(t, func() {
		d.OnAll(func(ctx context.Context, env models.EventEnvelope) error {
			return nil
		})
	})
}

func TestOn_PanicsOnUnknownEventType(t *testing.T) {
	d, _ := newTestDispatcher(t, config.DispatchConfig{})

	assert.Panics(t, func() {
		d.On("property.made.up", func(ctx context.Context, env models.EventEnvelope) error {
			return nil
		})
	})
}

type failingStore struct {
	seenErr error
	markErr error
	marked  map[string]bool
}

func newFailingStore() *failingStore {
	return &failingStore{marked: make(map[string]bool)}
}

func (s *failingStore) Seen(_ context.Context, eventID string) (bool, error) {
	if s.seenErr != nil {
		return false, s.seenErr
	}
	return s.marked[eventID], nil
}

func (s *failingStore) Mark(_ context.Context, eventID string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marked[eventID] = true
	return nil
}

func (s *failingStore) Size(_ context.Context) (int, error) {
	return len(s.marked), nil
}

func TestDispatch_StoreErrorFallbackAllow(t *testing.T) {
	store := newFailingStore()
	store.seenErr = errors.New("store unavailable")

	d := NewDispatcher("test-service", store, config.DispatchConfig{
		OnStoreError: constants.FallbackAllow,
	}, logger.NopLogger())

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		return nil
	})
	d.Start()

	require.NoError(t, d.Dispatch(context.Background(), testEnvelope("evt-1", models.EventPropertySubmitted)))
	assert.Equal(t, 1, calls)
}

func TestDispatch_StoreErrorFallbackDeny(t *testing.T) {
	store := newFailingStore()
	store.seenErr = errors.New("store unavailable")

	d := NewDispatcher("test-service", store, config.DispatchConfig{
		OnStoreError: constants.FallbackDeny,
	}, logger.NopLogger())

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		return nil
	})
	d.Start()

	require.Error(t, d.Dispatch(context.Background(), testEnvelope("evt-1", models.EventPropertySubmitted)))
	assert.Equal(t, 0, calls)
}

func TestDispatch_MarkFailureDoesNotFailDelivery(t *testing.T) {
	store := newFailingStore()
	store.markErr = errors.New("store unavailable")

	d := NewDispatcher("test-service", store, config.DispatchConfig{
		OnStoreError: constants.FallbackAllow,
	}, logger.NopLogger())

	calls := 0
	d.On(models.EventPropertySubmitted, func(ctx context.Context, env models.EventEnvelope) error {
		calls++
		return nil
	})
	d.Start()

	// Handlers already ran; a mark failure must not trigger a redelivery.
	require.NoError(t, d.Dispatch(context.Background(), testEnvelope("evt-1", models.EventPropertySubmitted)))
	assert.Equal(t, 1, calls)
}

func TestMemoryStore_EvictsOldestBeyondCapacity(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Mark(ctx, "evt-1"))
	require.NoError(t, store.Mark(ctx, "evt-2"))
	require.NoError(t, store.Mark(ctx, "evt-3"))

	seen, err := store.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, "evt-3")
	require.NoError(t, err)
	assert.True(t, seen)

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}
