package replicator_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/metric"
	"github.com/c360/litesync/pkg/serial"
	"github.com/c360/litesync/pkg/worker"
	"github.com/c360/litesync/replicator"
)

var inline = serial.ExecutorFunc(func(task func()) { task() })

// recorder collects notifications from both listener kinds in one ordered
// log.
type recorder struct {
	mu     sync.Mutex
	events []string
	docs   []replicator.ReplicatedDocument
	status []replicator.Status
}

func (r *recorder) onChange(s replicator.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "status:"+s.ActivityLevel().String())
	r.status = append(r.status, s)
}

func (r *recorder) onDocs(u replicator.DocumentReplication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range u.Documents {
		r.events = append(r.events, fmt.Sprintf("%s:%s", u.Direction, d.ID))
		r.docs = append(r.docs, d)
	}
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) documents() []replicator.ReplicatedDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]replicator.ReplicatedDocument(nil), r.docs...)
}

// gatedResolver blocks each document until released.
type gatedResolver struct {
	mu    sync.Mutex
	gates map[string]chan error
}

func newGatedResolver() *gatedResolver {
	return &gatedResolver{gates: make(map[string]chan error)}
}

func (g *gatedResolver) gate(docID string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[docID]
	if !ok {
		ch = make(chan error, 1)
		g.gates[docID] = ch
	}
	return ch
}

func (g *gatedResolver) release(docID string, err error) { g.gate(docID) <- err }

func (g *gatedResolver) ResolveConflict(ctx context.Context, docID string, _ replicator.DocumentFlags) error {
	select {
	case err := <-g.gate(docID):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newCoordinator(t *testing.T, opts ...replicator.CoordinatorOption) *replicator.Coordinator {
	t.Helper()
	c, err := replicator.NewCoordinator(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func conflict(id string) replicator.DocumentEnded {
	return replicator.DocumentEnded{DocID: id, ErrDomain: 1, ErrCode: 409, Conflicted: true}
}

func raw(level int) replicator.RawStatus {
	return replicator.RawStatus{Level: level}
}

func TestCoordinator_StatusDeliveredWithoutPending(t *testing.T) {
	rec := &recorder{}
	c := newCoordinator(t)
	c.AddChangeListener(nil, rec.onChange)

	c.HandleStatus(replicator.RawStatus{Level: replicator.RawBusy, Completed: 3, Total: 10})
	c.Flush()

	require.Equal(t, []string{"status:BUSY"}, rec.log())
	st := c.Status()
	assert.Equal(t, replicator.Busy, st.ActivityLevel())
	assert.Equal(t, replicator.Progress{Completed: 3, Total: 10}, st.Progress())
	assert.NoError(t, st.Err())
}

func TestCoordinator_UnknownLevelMapsToBusy(t *testing.T) {
	rec := &recorder{}
	c := newCoordinator(t)
	c.AddChangeListener(nil, rec.onChange)

	c.HandleStatus(raw(42))
	c.Flush()

	assert.Equal(t, []string{"status:BUSY"}, rec.log())
}

func TestCoordinator_StatusErrorKeptAsLastError(t *testing.T) {
	c := newCoordinator(t)

	c.HandleStatus(replicator.RawStatus{Level: replicator.RawOffline, ErrDomain: 6, ErrCode: 1008, ErrMessage: "policy"})
	c.HandleStatus(raw(replicator.RawIdle))
	c.Flush()

	assert.NoError(t, c.Status().Err())
	var rerr *replicator.Error
	require.ErrorAs(t, c.LastError(), &rerr)
	assert.Equal(t, 6, rerr.Domain)
	assert.Equal(t, 1008, rerr.Code)
}

func TestCoordinator_ConflictsWithholdStatuses(t *testing.T) {
	const n = 5
	resolver := newGatedResolver()
	rec := &recorder{}
	c := newCoordinator(t, replicator.WithResolver(resolver))
	c.AddChangeListener(nil, rec.onChange)
	c.AddDocumentListener(nil, rec.onDocs)

	docs := make([]replicator.DocumentEnded, n)
	for i := range docs {
		docs[i] = conflict(fmt.Sprintf("doc-%d", i))
	}
	c.HandleDocumentsEnded(replicator.Pulled, docs)

	levels := []int{replicator.RawBusy, replicator.RawIdle, replicator.RawStopped}
	for _, l := range levels {
		c.HandleStatus(raw(l))
	}
	c.Flush()

	assert.Equal(t, n, c.PendingResolutions())
	assert.Equal(t, len(levels), c.WithheldStatuses())
	assert.Empty(t, rec.log(), "nothing is delivered while resolutions are pending")
	assert.Equal(t, replicator.Stopped, c.Status().ActivityLevel(), "status is not updated while withheld")

	for i := range docs {
		resolver.release(docs[i].DocID, nil)
	}
	require.Eventually(t, func() bool { return c.PendingResolutions() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()

	got := rec.log()
	require.Len(t, got, n+len(levels))
	for _, e := range got[:n] {
		assert.Contains(t, e, "pull:doc-")
	}
	assert.Equal(t, []string{"status:BUSY", "status:IDLE", "status:STOPPED"}, got[n:])
	assert.Zero(t, c.WithheldStatuses())
}

func TestCoordinator_ResolvedOutcomesPrecedeWithheldStatus(t *testing.T) {
	resolver := newGatedResolver()
	rec := &recorder{}
	c := newCoordinator(t, replicator.WithResolver(resolver), replicator.WithDefaultExecutor(inline))
	c.AddChangeListener(nil, rec.onChange)
	c.AddDocumentListener(nil, rec.onDocs)

	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{conflict("docA"), conflict("docB")})
	c.HandleStatus(raw(replicator.RawBusy))

	resolver.release("docA", nil)
	require.Eventually(t, func() bool { return c.PendingResolutions() == 1 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()
	assert.Empty(t, rec.log())

	resolver.release("docB", errors.New("merge failed"))
	require.Eventually(t, func() bool { return c.PendingResolutions() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()

	assert.Equal(t, []string{"pull:docA", "pull:docB", "status:BUSY"}, rec.log())
	docs := rec.documents()
	require.Len(t, docs, 2)
	assert.NoError(t, docs[0].Err)
	assert.ErrorIs(t, docs[1].Err, pkgerrors.ErrResolutionFailed)
	assert.ErrorContains(t, docs[1].Err, "merge failed")
}

func TestCoordinator_UnconflictedDocumentsDeliveredImmediately(t *testing.T) {
	resolver := newGatedResolver()
	rec := &recorder{}
	c := newCoordinator(t, replicator.WithResolver(resolver), replicator.WithDefaultExecutor(inline))
	c.AddDocumentListener(nil, rec.onDocs)

	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{
		conflict("held"),
		{DocID: "clean"},
		{DocID: "failed", ErrDomain: 1, ErrCode: 404, Transient: true},
	})
	// A pushed conflict is reported, not resolved.
	c.HandleDocumentsEnded(replicator.Pushed, []replicator.DocumentEnded{conflict("pushed")})
	c.Flush()

	assert.Equal(t, []string{"pull:clean", "pull:failed", "push:pushed"}, rec.log())
	docs := rec.documents()
	assert.NoError(t, docs[0].Err)
	var rerr *replicator.Error
	require.ErrorAs(t, docs[1].Err, &rerr)
	assert.Equal(t, 404, rerr.Code)
	assert.True(t, docs[1].Transient)
	assert.Equal(t, 1, c.PendingResolutions())

	resolver.release("held", nil)
	require.Eventually(t, func() bool { return c.PendingResolutions() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()
	assert.Equal(t, "pull:held", rec.log()[3])
}

func TestCoordinator_ResolverPanicCountsAsFailure(t *testing.T) {
	rec := &recorder{}
	c := newCoordinator(t,
		replicator.WithResolver(replicator.ResolverFunc(func(context.Context, string, replicator.DocumentFlags) error {
			panic("resolver exploded")
		})),
		replicator.WithDefaultExecutor(inline),
	)
	c.AddChangeListener(nil, rec.onChange)
	c.AddDocumentListener(nil, rec.onDocs)

	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{conflict("boom")})
	c.HandleStatus(raw(replicator.RawIdle))

	require.Eventually(t, func() bool { return c.PendingResolutions() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()

	assert.Equal(t, []string{"pull:boom", "status:IDLE"}, rec.log())
	var panicErr *worker.PanicError
	assert.ErrorAs(t, rec.documents()[0].Err, &panicErr)
}

func TestCoordinator_ScheduleFailureCompletesImmediately(t *testing.T) {
	resolver := newGatedResolver()
	rec := &recorder{}
	c := newCoordinator(t,
		replicator.WithResolver(resolver),
		replicator.WithResolverPool(1, 1),
		replicator.WithDefaultExecutor(inline),
	)
	c.AddDocumentListener(nil, rec.onDocs)

	// "a" blocks the only worker, so "c" never fits in the queue.
	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{conflict("a"), conflict("b"), conflict("c")})
	c.Flush()
	require.Eventually(t, func() bool { return c.PendingResolutions() <= 2 }, 5*time.Second, 5*time.Millisecond)

	resolver.release("a", nil)
	resolver.release("b", nil)
	require.Eventually(t, func() bool { return c.PendingResolutions() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()

	docs := rec.documents()
	require.Len(t, docs, 3)
	for _, d := range docs {
		if d.ID == "c" {
			assert.ErrorIs(t, d.Err, worker.ErrQueueFull)
			assert.ErrorIs(t, d.Err, pkgerrors.ErrResolutionFailed)
		}
	}
}

func TestCoordinator_StoppedHookRunsBeforeListenersSeeStopped(t *testing.T) {
	var mu sync.Mutex
	var order []string
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	c := newCoordinator(t,
		replicator.WithDefaultExecutor(inline),
		replicator.WithStoppedHook(func() { note("removed") }),
	)
	c.AddChangeListener(nil, func(s replicator.Status) { note("first:" + s.ActivityLevel().String()) })
	c.AddChangeListener(nil, func(s replicator.Status) { note("second:" + s.ActivityLevel().String()) })

	c.HandleStatus(raw(replicator.RawBusy))
	c.HandleStatus(raw(replicator.RawStopped))

	mu.Lock()
	assert.Contains(t, order, "removed", "the hook has run when HandleStatus returns")
	mu.Unlock()

	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	removed := slices.Index(order, "removed")
	assert.Less(t, removed, slices.Index(order, "first:STOPPED"))
	assert.Less(t, removed, slices.Index(order, "second:STOPPED"))
	assert.Equal(t, []string{"first:BUSY", "second:BUSY", "first:STOPPED", "second:STOPPED"},
		slices.DeleteFunc(slices.Clone(order), func(s string) bool { return s == "removed" }))
}

func TestCoordinator_PerListenerOrder(t *testing.T) {
	const n = 300
	c := newCoordinator(t)

	var mu sync.Mutex
	seen := map[int][]uint64{}
	for i := 0; i < 3; i++ {
		c.AddChangeListener(nil, func(s replicator.Status) {
			mu.Lock()
			seen[i] = append(seen[i], s.Progress().Completed)
			mu.Unlock()
		})
	}

	for i := 1; i <= n; i++ {
		c.HandleStatus(replicator.RawStatus{Level: replicator.RawBusy, Completed: uint64(i), Total: n})
	}
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		require.Len(t, seen[i], n)
		for j, v := range seen[i] {
			assert.Equal(t, uint64(j+1), v)
		}
	}
}

func TestCoordinator_ProgressLevelFollowsDocumentListeners(t *testing.T) {
	var levels []replicator.ProgressLevel
	c := newCoordinator(t, replicator.WithProgressLevelSetter(func(l replicator.ProgressLevel) {
		levels = append(levels, l)
	}))
	assert.Equal(t, replicator.ProgressOverall, c.ProgressLevel())

	status := c.AddChangeListener(nil, func(replicator.Status) {})
	first := c.AddDocumentListener(nil, func(replicator.DocumentReplication) {})
	second := c.AddDocumentListener(nil, func(replicator.DocumentReplication) {})
	assert.Equal(t, replicator.ProgressPerDocument, c.ProgressLevel())
	assert.Equal(t, 3, c.ListenerCount())

	assert.True(t, c.RemoveListener(first))
	assert.True(t, c.RemoveListener(second))
	assert.False(t, c.RemoveListener(second))
	assert.True(t, c.RemoveListener(status))

	assert.Equal(t, []replicator.ProgressLevel{replicator.ProgressPerDocument, replicator.ProgressOverall}, levels)
	assert.Zero(t, c.ListenerCount())
}

func TestCoordinator_CloseDiscardsPending(t *testing.T) {
	resolver := newGatedResolver()
	rec := &recorder{}
	c, err := replicator.NewCoordinator(replicator.WithResolver(resolver), replicator.WithDefaultExecutor(inline))
	require.NoError(t, err)
	c.AddChangeListener(nil, rec.onChange)
	c.AddDocumentListener(nil, rec.onDocs)

	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{conflict("first"), conflict("second")})
	c.HandleStatus(raw(replicator.RawStopped))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	c.Flush()

	assert.Zero(t, c.PendingResolutions())
	assert.Equal(t, []string{"pull:first", "pull:second", "status:STOPPED"}, rec.log())
	for _, d := range rec.documents() {
		assert.ErrorIs(t, d.Err, pkgerrors.ErrCoordinatorClosed)
	}

	// Events after close change nothing.
	c.HandleStatus(raw(replicator.RawBusy))
	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{{DocID: "late"}})
	c.Flush()
	assert.Len(t, rec.log(), 3)
}

func TestCoordinator_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, err := replicator.NewMetrics(registry)
	require.NoError(t, err)
	_, err = replicator.NewMetrics(registry)
	require.Error(t, err)

	resolver := newGatedResolver()
	c := newCoordinator(t,
		replicator.WithResolver(resolver),
		replicator.WithMetrics(m),
		replicator.WithPoolMetrics(registry),
	)
	c.AddChangeListener(nil, func(replicator.Status) {})

	c.HandleDocumentsEnded(replicator.Pulled, []replicator.DocumentEnded{conflict("ok"), conflict("bad")})
	c.HandleStatus(raw(replicator.RawIdle))
	resolver.release("ok", nil)
	resolver.release("bad", errors.New("nope"))
	require.Eventually(t, func() bool { return c.PendingResolutions() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Flush()

	prom := registry.PrometheusRegistry()
	n, err := testutil.GatherAndCount(prom, "litesync_replicator_resolutions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "resolved and failed series")

	n, err = testutil.GatherAndCount(prom, "litesync_conflict_pool_submitted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
