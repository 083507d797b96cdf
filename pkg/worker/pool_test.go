package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/litesync/metric"
)

type testWork struct {
	id   int
	fail bool
}

func TestNewPool_Defaults(t *testing.T) {
	processor := func(context.Context, testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, processor)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 256, pool.queueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, func(context.Context, testWork) error { return nil })

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_ProcessesAllWork(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	pool := NewPool(3, 50, func(_ context.Context, w testWork) error {
		mu.Lock()
		seen[w.id] = true
		mu.Unlock()
		if w.fail {
			return errors.New("failed")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i%5 == 0}))
	}
	require.NoError(t, pool.Stop(2*time.Second))

	mu.Lock()
	assert.Len(t, seen, 20)
	mu.Unlock()

	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Processed)
	assert.Equal(t, int64(4), stats.Failed)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(context.Context, testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	require.NoError(t, pool.Submit(testWork{id: 1}))
	// Wait for the worker to pick up the first item so the queue slot frees.
	require.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))

	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_PanicRecovered(t *testing.T) {
	var handled atomic.Int32
	var after atomic.Int32
	pool := NewPool(1, 10, func(_ context.Context, w testWork) error {
		if w.id == 1 {
			panic("resolver exploded")
		}
		after.Add(1)
		return nil
	}, WithPanicHandler(func(w testWork, err error) {
		var pe *PanicError
		if errors.As(err, &pe) && w.id == 1 {
			handled.Add(1)
		}
	}))
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int64(1), pool.Stats().Panicked)
	assert.Equal(t, int64(1), pool.Stats().Failed)
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(2, 10, func(context.Context, testWork) error { return nil })
	require.NoError(t, pool.Start(ctx))
	cancel()
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(context.Context, testWork) error { return nil },
		WithMetricsRegistry[testWork](registry, "test_pool"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.True(t, registry.Registered("worker_pool", "test_pool_submitted_total"))
}
