package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"traffic-observer/src/logger"
	"traffic-observer/src/metrics"
	"traffic-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(store *MemoryStore, ttl time.Duration) *ResultCache {
	return NewResultCache(store, ttl, metrics.NewRegistry(), logger.NewLogger("error", "test"))
}

func resultWithTotal(total int64) models.MAggregationResult {
	r := models.EmptyAggregationResult()
	r.Metrics.TotalIn = total
	return r
}

// -----------------------------------------------------------------------------

func TestGetOrCompute_CachesByFingerprint(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), time.Minute)
	ctx := context.Background()

	var computations int32
	compute := func(context.Context) (models.MAggregationResult, error) {
		atomic.AddInt32(&computations, 1)
		return resultWithTotal(42), nil
	}

	first, err := cache.GetOrCompute(ctx, "day|2025-01-01|2025-01-01|all|false", compute)
	require.NoError(t, err)
	second, err := cache.GetOrCompute(ctx, "day|2025-01-01|2025-01-01|all|false", compute)
	require.NoError(t, err)

	assert.Equal(t, int64(42), first.Metrics.TotalIn)
	assert.Equal(t, first.Metrics.TotalIn, second.Metrics.TotalIn)
	assert.Equal(t, int32(1), atomic.LoadInt32(&computations))
}

func TestGetOrCompute_DistinctFingerprintsComputeSeparately(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), time.Minute)
	ctx := context.Background()

	var computations int32
	compute := func(context.Context) (models.MAggregationResult, error) {
		return resultWithTotal(int64(atomic.AddInt32(&computations, 1))), nil
	}

	_, err := cache.GetOrCompute(ctx, "fp-a", compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(ctx, "fp-b", compute)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&computations))
}

func TestGetOrCompute_ConcurrentIdenticalRequestsComputeOnce(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), time.Minute)
	ctx := context.Background()

	var computations int32
	gate := make(chan struct{})
	compute := func(context.Context) (models.MAggregationResult, error) {
		atomic.AddInt32(&computations, 1)
		<-gate
		return resultWithTotal(7), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]models.MAggregationResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrCompute(ctx, "same-fp", compute)
		}(i)
	}

	// Give every caller time to join the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computations))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(7), results[i].Metrics.TotalIn)
	}
}

func TestGetOrCompute_LeaderCancellationDoesNotFailWaiters(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), time.Minute)

	var computations int32
	compute := func(ctx context.Context) (models.MAggregationResult, error) {
		atomic.AddInt32(&computations, 1)
		select {
		case <-time.After(200 * time.Millisecond):
			return resultWithTotal(5), nil
		case <-ctx.Done():
			return models.MAggregationResult{}, ctx.Err()
		}
	}

	// The leader starts the flight on a cancellable context.
	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCompute(leaderCtx, "shared-fp", compute)
		leaderErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// A healthy caller joins the same flight.
	waiterDone := make(chan struct{})
	var (
		waiterResult models.MAggregationResult
		waiterErr    error
	)
	go func() {
		waiterResult, waiterErr = cache.GetOrCompute(context.Background(), "shared-fp", compute)
		close(waiterDone)
	}()
	time.Sleep(50 * time.Millisecond)

	// The leader disconnects mid-computation.
	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	// The waiter still gets the shared result, computed exactly once.
	<-waiterDone
	require.NoError(t, waiterErr)
	assert.Equal(t, int64(5), waiterResult.Metrics.TotalIn)
	assert.Equal(t, int32(1), atomic.LoadInt32(&computations))
}

func TestGetOrCompute_FailedComputationCachesNothing(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), time.Minute)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) (models.MAggregationResult, error) {
		calls++
		return models.MAggregationResult{}, errors.New("view unavailable")
	}

	_, err := cache.GetOrCompute(ctx, "fp", failing)
	require.Error(t, err)
	_, err = cache.GetOrCompute(ctx, "fp", failing)
	require.Error(t, err)

	assert.Equal(t, 2, calls)
}

func TestGetOrCompute_ExpiredEntryRecomputes(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), 10*time.Millisecond)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (models.MAggregationResult, error) {
		calls++
		return resultWithTotal(1), nil
	}

	_, err := cache.GetOrCompute(ctx, "fp", compute)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = cache.GetOrCompute(ctx, "fp", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestInvalidate_MakesCachedResultsUnreachable(t *testing.T) {
	cache := newTestCache(NewMemoryStore(16), time.Minute)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (models.MAggregationResult, error) {
		calls++
		return resultWithTotal(int64(calls)), nil
	}

	first, err := cache.GetOrCompute(ctx, "fp", compute)
	require.NoError(t, err)

	cache.Invalidate(ctx)

	second, err := cache.GetOrCompute(ctx, "fp", compute)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Metrics.TotalIn)
	assert.Equal(t, int64(2), second.Metrics.TotalIn)
}

// -----------------------------------------------------------------------------

// brokenStore fails every operation, standing in for an unreachable Redis.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}
func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenStore) Flush(context.Context) error { return errors.New("connection refused") }
func (brokenStore) Close() error                { return nil }

func TestGetOrCompute_BackendFailureDegradesToComputation(t *testing.T) {
	cache := NewResultCache(brokenStore{}, time.Minute, metrics.NewRegistry(), logger.NewLogger("error", "test"))
	ctx := context.Background()

	result, err := cache.GetOrCompute(ctx, "fp", func(context.Context) (models.MAggregationResult, error) {
		return resultWithTotal(9), nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(9), result.Metrics.TotalIn)
}

func TestInvalidate_SurvivesBackendFlushFailure(t *testing.T) {
	cache := NewResultCache(brokenStore{}, time.Minute, metrics.NewRegistry(), logger.NewLogger("error", "test"))

	assert.NotPanics(t, func() { cache.Invalidate(context.Background()) })
}

// -----------------------------------------------------------------------------
// MemoryStore
// -----------------------------------------------------------------------------

func TestMemoryStore_EvictsWhenFull(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, store.Set(ctx, "b", "2", 2*time.Minute))
	require.NoError(t, store.Set(ctx, "c", "3", 3*time.Minute))

	// "a" had the earliest expiry and was evicted to make room.
	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}
