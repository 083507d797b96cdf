package replicator

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/metric"
	"github.com/c360/litesync/pkg/serial"
	"github.com/c360/litesync/pkg/worker"
)

// Resolver resolves one pulled conflict. Calls run on the coordinator's
// worker pool and may block.
type Resolver interface {
	ResolveConflict(ctx context.Context, docID string, flags DocumentFlags) error
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, docID string, flags DocumentFlags) error

// ResolveConflict calls f.
func (f ResolverFunc) ResolveConflict(ctx context.Context, docID string, flags DocumentFlags) error {
	return f(ctx, docID, flags)
}

// ChangeListener receives status snapshots.
type ChangeListener func(Status)

// DocumentListener receives document outcomes.
type DocumentListener func(DocumentReplication)

// ListenerToken identifies a registered listener.
type ListenerToken struct {
	id uuid.UUID
}

func (t ListenerToken) String() string { return t.id.String() }

type listener struct {
	id       uuid.UUID
	queue    *serial.Queue
	onChange ChangeListener
	onDocs   DocumentListener
}

// resolution is one pending conflict. seq orders discards on Close.
type resolution struct {
	token uuid.UUID
	seq   uint64
	docID string
	flags DocumentFlags
}

// Coordinator turns the engine's status and document events into ordered
// listener notifications. While any conflict resolution is pending, status
// events and resolved outcomes are held back; when the last one finishes,
// the resolved outcomes go out in completion order, followed by the held
// statuses in the order they arrived.
type Coordinator struct {
	logger          *slog.Logger
	metrics         *Metrics
	resolver        Resolver
	defaultExecutor serial.Executor
	progress        func(ProgressLevel)
	onStopped       func()

	workers         int
	queueSize       int
	poolRegistry    *metric.MetricsRegistry
	pool            *worker.Pool[resolution]
	cancelPool      context.CancelFunc
	poolStopTimeout time.Duration

	// dispatch fans notifications out to listener queues in the order the
	// coordinator produced them.
	dispatch *serial.Queue

	mu              sync.Mutex
	status          Status
	lastErr         error
	pending         map[uuid.UUID]resolution
	seq             uint64
	resolved        []ReplicatedDocument
	withheld        []RawStatus
	changeListeners []*listener
	docListeners    []*listener
	closed          bool
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records coordinator activity in m.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithResolver sets the conflict resolver.
func WithResolver(r Resolver) CoordinatorOption {
	return func(c *Coordinator) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithResolverPool sizes the conflict resolution pool. Non-positive values
// keep the pool defaults.
func WithResolverPool(workers, queueSize int) CoordinatorOption {
	return func(c *Coordinator) {
		c.workers = workers
		c.queueSize = queueSize
	}
}

// WithPoolMetrics registers the resolution pool's metrics with registry.
func WithPoolMetrics(registry *metric.MetricsRegistry) CoordinatorOption {
	return func(c *Coordinator) { c.poolRegistry = registry }
}

// WithDefaultExecutor sets the executor for listeners registered without
// one.
func WithDefaultExecutor(executor serial.Executor) CoordinatorOption {
	return func(c *Coordinator) {
		if executor != nil {
			c.defaultExecutor = executor
		}
	}
}

// WithProgressLevelSetter is called, under the coordinator lock, whenever
// the number of document listeners changes between zero and non-zero. It
// must not call back into the coordinator.
func WithProgressLevelSetter(fn func(ProgressLevel)) CoordinatorOption {
	return func(c *Coordinator) { c.progress = fn }
}

// WithStoppedHook runs when a STOPPED status is applied, before its
// notifications are scheduled. It is called with the coordinator lock held
// and must not call back into the coordinator.
func WithStoppedHook(fn func()) CoordinatorOption {
	return func(c *Coordinator) { c.onStopped = fn }
}

// NewCoordinator creates a coordinator and starts its resolution pool.
func NewCoordinator(opts ...CoordinatorOption) (*Coordinator, error) {
	c := &Coordinator{
		logger:          slog.Default(),
		resolver:        ResolverFunc(acceptEngineChoice),
		defaultExecutor: serial.GoExecutor,
		poolStopTimeout: 5 * time.Second,
		status:          NewStatus(Stopped, Progress{}, nil),
		pending:         make(map[uuid.UUID]resolution),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "replicator")
	c.dispatch = serial.NewQueue("coordinator", nil, c.logger)

	poolOpts := []worker.Option[resolution]{
		worker.WithLogger[resolution](c.logger),
		worker.WithPanicHandler(func(r resolution, err error) { c.complete(r, err) }),
	}
	if c.poolRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[resolution](c.poolRegistry, metric.Namespace+"_conflict_pool"))
	}
	c.pool = worker.NewPool(c.workers, c.queueSize, c.resolve, poolOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.pool.Start(ctx); err != nil {
		cancel()
		return nil, pkgerrors.WrapFatal(err, "Coordinator", "NewCoordinator", "start resolution pool")
	}
	c.cancelPool = cancel
	return c, nil
}

func acceptEngineChoice(context.Context, string, DocumentFlags) error { return nil }

// Status returns the last delivered status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the most recent error any status carried.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// PendingResolutions returns the number of conflicts being resolved.
func (c *Coordinator) PendingResolutions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// WithheldStatuses returns the number of status events held back.
func (c *Coordinator) WithheldStatuses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.withheld)
}

// ProgressLevel returns the level the engine should report at.
func (c *Coordinator) ProgressLevel() ProgressLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLevelLocked()
}

func (c *Coordinator) progressLevelLocked() ProgressLevel {
	if len(c.docListeners) == 0 {
		return ProgressOverall
	}
	return ProgressPerDocument
}

// AddChangeListener registers fn for status changes. Notifications to fn
// run on executor, one at a time, in order; a nil executor uses the
// coordinator default.
func (c *Coordinator) AddChangeListener(executor serial.Executor, fn ChangeListener) ListenerToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.newListener(executor)
	l.onChange = fn
	c.changeListeners = append(c.changeListeners, l)
	return ListenerToken{id: l.id}
}

// AddDocumentListener registers fn for document outcomes.
func (c *Coordinator) AddDocumentListener(executor serial.Executor, fn DocumentListener) ListenerToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.newListener(executor)
	l.onDocs = fn
	c.docListeners = append(c.docListeners, l)
	if len(c.docListeners) == 1 {
		c.setProgressLocked()
	}
	return ListenerToken{id: l.id}
}

// RemoveListener unregisters a listener. Notifications already scheduled
// for it are still delivered.
func (c *Coordinator) RemoveListener(token ListenerToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	match := func(l *listener) bool { return l.id == token.id }
	if i := slices.IndexFunc(c.changeListeners, match); i >= 0 {
		c.changeListeners = slices.Delete(c.changeListeners, i, i+1)
		return true
	}
	if i := slices.IndexFunc(c.docListeners, match); i >= 0 {
		c.docListeners = slices.Delete(c.docListeners, i, i+1)
		if len(c.docListeners) == 0 {
			c.setProgressLocked()
		}
		return true
	}
	return false
}

// ListenerCount returns the number of registered listeners.
func (c *Coordinator) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changeListeners) + len(c.docListeners)
}

func (c *Coordinator) newListener(executor serial.Executor) *listener {
	if executor == nil {
		executor = c.defaultExecutor
	}
	id := uuid.New()
	return &listener{id: id, queue: serial.NewQueue("listener-"+id.String(), executor, c.logger)}
}

func (c *Coordinator) setProgressLocked() {
	if c.progress != nil {
		c.progress(c.progressLevelLocked())
	}
}

// HandleStatus accepts a raw status event from the engine.
func (c *Coordinator) HandleStatus(raw RawStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Debug("status after close ignored", "level", raw.Level)
		return
	}
	if len(c.pending) > 0 {
		c.withheld = append(c.withheld, raw)
		c.metrics.setWithheld(len(c.withheld))
		c.logger.Debug("status withheld", "level", raw.Level,
			"pending", len(c.pending), "withheld", len(c.withheld))
		return
	}
	c.applyLocked(raw)
}

func (c *Coordinator) applyLocked(raw RawStatus) {
	level, ok := LevelFromRaw(raw.Level)
	if !ok {
		c.logger.Warn("unrecognized activity level", "code", raw.Level)
	}

	prev := c.status
	c.status = NewStatus(level, Progress{Completed: raw.Completed, Total: raw.Total},
		newError(raw.ErrDomain, raw.ErrCode, raw.ErrMessage))
	if c.status.err != nil {
		c.lastErr = c.status.err
	}
	c.logger.Info("status changed", "from", prev.level, "to", level,
		"completed", raw.Completed, "total", raw.Total, "error", c.status.err)

	// The hook runs before any listener can see STOPPED, so a listener
	// that restarts the replicator is not undone by it.
	if level == Stopped && c.onStopped != nil {
		c.onStopped()
	}

	status := c.status
	listeners := slices.Clone(c.changeListeners)
	c.dispatch.Enqueue(func() {
		for _, l := range listeners {
			l.queue.Enqueue(func() { l.onChange(status) })
		}
		c.metrics.notified("status", len(listeners))
	})
}

// HandleDocumentsEnded accepts document outcomes from the engine. Pulled
// documents that ended in conflict are resolved on the worker pool; all
// others are delivered right away.
func (c *Coordinator) HandleDocumentsEnded(dir Direction, docs []DocumentEnded) {
	var jobs []resolution

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("document outcomes after close ignored", "count", len(docs))
		return
	}
	delivered := make([]ReplicatedDocument, 0, len(docs))
	for _, d := range docs {
		if d.ErrCode != 0 && dir == Pulled && d.Conflicted {
			c.seq++
			r := resolution{token: uuid.New(), seq: c.seq, docID: d.DocID, flags: d.Flags}
			c.pending[r.token] = r
			jobs = append(jobs, r)
			c.logger.Info("pulled conflicting version", "doc", d.DocID)
			continue
		}
		delivered = append(delivered, ReplicatedDocument{
			ID:        d.DocID,
			Flags:     d.Flags,
			Err:       newError(d.ErrDomain, d.ErrCode, d.ErrMessage),
			Transient: d.Transient,
		})
	}
	c.metrics.setPending(len(c.pending))
	if len(delivered) > 0 {
		c.scheduleDocsLocked(dir, delivered)
	}
	c.mu.Unlock()

	for _, r := range jobs {
		if err := c.pool.Submit(r); err != nil {
			c.complete(r, pkgerrors.WrapTransient(err, "Coordinator", "HandleDocumentsEnded", "schedule conflict resolution"))
		}
	}
}

func (c *Coordinator) scheduleDocsLocked(dir Direction, docs []ReplicatedDocument) {
	update := DocumentReplication{Direction: dir, Documents: docs}
	listeners := slices.Clone(c.docListeners)
	c.dispatch.Enqueue(func() {
		for _, l := range listeners {
			l.queue.Enqueue(func() { l.onDocs(update) })
		}
		c.metrics.notified("document", len(listeners))
	})
}

func (c *Coordinator) resolve(ctx context.Context, r resolution) error {
	err := c.resolver.ResolveConflict(ctx, r.docID, r.flags)
	c.complete(r, err)
	return err
}

func (c *Coordinator) complete(r resolution, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[r.token]; !ok {
		c.logger.Warn("late conflict resolution dropped", "doc", r.docID, "error", err)
		return
	}
	delete(c.pending, r.token)
	c.metrics.setPending(len(c.pending))

	result := "resolved"
	if err != nil {
		err = fmt.Errorf("%w: document %q: %w", pkgerrors.ErrResolutionFailed, r.docID, err)
		result = "failed"
	}
	c.metrics.resolved(result)
	c.logger.Info("conflict resolved", "doc", r.docID, "error", err, "pending", len(c.pending))

	c.resolved = append(c.resolved, ReplicatedDocument{ID: r.docID, Flags: r.flags, Err: err})
	if len(c.pending) == 0 {
		c.drainLocked()
	}
}

func (c *Coordinator) drainLocked() {
	docs, statuses := c.resolved, c.withheld
	c.resolved, c.withheld = nil, nil
	c.metrics.setWithheld(0)

	for _, d := range docs {
		c.scheduleDocsLocked(Pulled, []ReplicatedDocument{d})
	}
	for _, raw := range statuses {
		c.applyLocked(raw)
	}
}

// Flush blocks until every notification scheduled so far has been
// delivered to its listener.
func (c *Coordinator) Flush() {
	c.dispatch.Wait()

	c.mu.Lock()
	all := append(slices.Clone(c.changeListeners), c.docListeners...)
	c.mu.Unlock()
	for _, l := range all {
		l.queue.Wait()
	}
}

// Close discards pending resolutions, reporting each document with
// ErrCoordinatorClosed, and delivers any held statuses. Running resolvers
// see their context cancelled; whatever they return afterwards is dropped.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	discarded := make([]resolution, 0, len(c.pending))
	for _, r := range c.pending {
		discarded = append(discarded, r)
	}
	slices.SortFunc(discarded, func(a, b resolution) int { return cmp.Compare(a.seq, b.seq) })
	for _, r := range discarded {
		delete(c.pending, r.token)
		c.metrics.resolved("discarded")
		c.resolved = append(c.resolved, ReplicatedDocument{
			ID:    r.docID,
			Flags: r.flags,
			Err:   fmt.Errorf("%w: document %q", pkgerrors.ErrCoordinatorClosed, r.docID),
		})
	}
	c.metrics.setPending(0)
	if len(discarded) > 0 {
		c.logger.Warn("pending conflict resolutions discarded", "count", len(discarded))
	}
	c.drainLocked()
	c.mu.Unlock()

	c.cancelPool()
	err := c.pool.Stop(c.poolStopTimeout)
	if err != nil {
		return pkgerrors.Wrap(err, "Coordinator", "Close", "stop resolution pool")
	}
	return nil
}
