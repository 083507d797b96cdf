package serial

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestQueue_PreservesOrder(t *testing.T) {
	q := NewQueue("order", nil, nil)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 500; i++ {
		i := i
		q.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Wait()

	require.Len(t, got, 500)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueue_NeverConcurrent(t *testing.T) {
	q := NewQueue("exclusive", nil, nil)

	var active, maxActive atomic.Int32
	var g errgroup.Group
	for p := 0; p < 8; p++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				q.Enqueue(func() {
					n := active.Add(1)
					for {
						m := maxActive.Load()
						if n <= m || maxActive.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(10 * time.Microsecond)
					active.Add(-1)
				})
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	q.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestQueue_PanicDoesNotStopQueue(t *testing.T) {
	q := NewQueue("panics", nil, nil)

	var ran atomic.Bool
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran.Store(true) })
	q.Wait()

	assert.True(t, ran.Load())
}

func TestQueue_CustomExecutor(t *testing.T) {
	var submissions atomic.Int32
	exec := ExecutorFunc(func(task func()) {
		submissions.Add(1)
		go task()
	})
	q := NewQueue("custom", exec, nil)

	block := make(chan struct{})
	q.Enqueue(func() { <-block })
	q.Enqueue(func() {})
	q.Enqueue(func() {})
	close(block)
	q.Wait()

	// A single drain handles the burst.
	assert.Equal(t, int32(1), submissions.Load())
	assert.Equal(t, 0, q.Len())
}
