package replicator

import (
	"crypto/x509"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/serial"
	"github.com/c360/litesync/socket"
)

// Engine is the engine-side replicator a Replicator drives.
type Engine interface {
	Start(resetCheckpoint bool) error
	Stop()
	// Status returns the engine's current status, or false if it has none.
	Status() (RawStatus, bool)
	SetProgressLevel(level ProgressLevel) error
	PendingDocumentIDs() ([]string, error)
	IsDocumentPending(docID string) (bool, error)
}

// Owner tracks which replicators are running, typically per database.
// RemoveActiveReplicator is called while the replicator's coordinator is
// locked; it must not call back into the replicator.
type Owner interface {
	AddActiveReplicator(r *Replicator)
	RemoveActiveReplicator(r *Replicator)
}

// Replicator runs an engine replicator and reports its progress to
// listeners through a Coordinator.
type Replicator struct {
	id         uuid.UUID
	typ        Type
	continuous bool
	engine     Engine
	owner      Owner
	logger     *slog.Logger
	onOffline  func(prev ActivityLevel, online bool)

	coordinator *Coordinator
	serverCerts atomic.Pointer[[]*x509.Certificate]
}

// Option configures a Replicator.
type Option func(*replicatorOptions)

type replicatorOptions struct {
	typ        Type
	continuous bool
	logger     *slog.Logger
	onOffline  func(prev ActivityLevel, online bool)
	coordOpts  []CoordinatorOption
}

// WithType sets the replication type. The default is PushAndPull.
func WithType(t Type) Option {
	return func(o *replicatorOptions) { o.typ = t }
}

// WithContinuous marks the replicator continuous.
func WithContinuous(continuous bool) Option {
	return func(o *replicatorOptions) { o.continuous = continuous }
}

// WithReplicatorLogger sets the logger for the replicator and its
// coordinator.
func WithReplicatorLogger(logger *slog.Logger) Option {
	return func(o *replicatorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOfflineHandler is called on every status of a continuous replicator
// with the previous activity level and whether the new status is online.
func WithOfflineHandler(fn func(prev ActivityLevel, online bool)) Option {
	return func(o *replicatorOptions) { o.onOffline = fn }
}

// WithCoordinatorOptions passes options through to the coordinator.
func WithCoordinatorOptions(opts ...CoordinatorOption) Option {
	return func(o *replicatorOptions) { o.coordOpts = append(o.coordOpts, opts...) }
}

// New creates a replicator over engine. owner may be nil.
func New(engine Engine, owner Owner, opts ...Option) (*Replicator, error) {
	if engine == nil {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrMissingConfig, "Replicator", "New", "engine replicator required")
	}
	o := replicatorOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Replicator{
		id:         uuid.New(),
		typ:        o.typ,
		continuous: o.continuous,
		engine:     engine,
		owner:      owner,
		onOffline:  o.onOffline,
	}
	r.logger = o.logger.With("replicator", r.id.String(), "type", r.typ.String())

	coordOpts := append([]CoordinatorOption{
		WithLogger(r.logger),
		WithProgressLevelSetter(r.setProgressLevel),
		WithStoppedHook(r.stopped),
	}, o.coordOpts...)
	c, err := NewCoordinator(coordOpts...)
	if err != nil {
		return nil, err
	}
	r.coordinator = c
	return r, nil
}

// ID returns the replicator id.
func (r *Replicator) ID() uuid.UUID { return r.id }

// Type returns the replication type.
func (r *Replicator) Type() Type { return r.typ }

// Coordinator returns the replicator's status coordinator.
func (r *Replicator) Coordinator() *Coordinator { return r.coordinator }

// Start adds the replicator to its owner's active set and starts the
// engine. It does not wait for replication to begin; progress is reported
// to change listeners.
func (r *Replicator) Start(resetCheckpoint bool) error {
	r.logger.Info("replicator starting", "reset_checkpoint", resetCheckpoint)
	if r.owner != nil {
		r.owner.AddActiveReplicator(r)
	}
	r.setProgressLevel(r.coordinator.ProgressLevel())

	startErr := r.engine.Start(resetCheckpoint)
	raw, ok := r.engine.Status()
	if startErr != nil || !ok {
		raw = RawStatus{
			Level:     RawStopped,
			ErrDomain: socket.ErrorDomainLiteCore,
			ErrCode:   socket.EngineUnexpectedError,
		}
		if startErr != nil {
			raw.ErrMessage = startErr.Error()
		}
	}
	r.StatusChanged(raw)

	if startErr != nil {
		return pkgerrors.WrapTransient(startErr, "Replicator", "Start", "start engine replicator")
	}
	return nil
}

// Stop asks the engine to stop. Listeners see STOPPED when it has.
func (r *Replicator) Stop() {
	r.logger.Info("replicator stopping")
	r.engine.Stop()
}

// Close stops the coordinator. The replicator must not be started again.
func (r *Replicator) Close() error {
	return r.coordinator.Close()
}

// StatusChanged is called by the engine with each raw status.
func (r *Replicator) StatusChanged(raw RawStatus) {
	if r.continuous && r.onOffline != nil {
		r.onOffline(r.coordinator.Status().ActivityLevel(), raw.Level != RawOffline)
	}
	r.coordinator.HandleStatus(raw)
}

// DocumentsEnded is called by the engine when documents finish
// replicating.
func (r *Replicator) DocumentsEnded(dir Direction, docs []DocumentEnded) {
	r.coordinator.HandleDocumentsEnded(dir, docs)
}

// Status returns the current status.
func (r *Replicator) Status() Status { return r.coordinator.Status() }

// AddChangeListener registers a status listener. See
// Coordinator.AddChangeListener.
func (r *Replicator) AddChangeListener(executor serial.Executor, fn ChangeListener) ListenerToken {
	return r.coordinator.AddChangeListener(executor, fn)
}

// AddDocumentListener registers a document listener.
func (r *Replicator) AddDocumentListener(executor serial.Executor, fn DocumentListener) ListenerToken {
	return r.coordinator.AddDocumentListener(executor, fn)
}

// RemoveListener unregisters a listener.
func (r *Replicator) RemoveListener(token ListenerToken) bool {
	return r.coordinator.RemoveListener(token)
}

// SetServerCertificates records the certificates the server presented. It
// matches the transport's certificate callback.
func (r *Replicator) SetServerCertificates(certs []*x509.Certificate) {
	cp := slices.Clone(certs)
	r.serverCerts.Store(&cp)
}

// ServerCertificates returns the certificates seen during the last TLS
// handshake, or nil.
func (r *Replicator) ServerCertificates() []*x509.Certificate {
	p := r.serverCerts.Load()
	if p == nil || len(*p) == 0 {
		return nil
	}
	return slices.Clone(*p)
}

// PendingDocumentIDs returns a best effort list of documents not yet
// pushed.
func (r *Replicator) PendingDocumentIDs() ([]string, error) {
	if r.typ == Pull {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrUnsupported, "Replicator", "PendingDocumentIDs", "list pending documents of a pull-only replicator")
	}
	ids, err := r.engine.PendingDocumentIDs()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "Replicator", "PendingDocumentIDs", "fetch pending document ids")
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	return ids, nil
}

// IsDocumentPending reports whether docID is still waiting to be pushed.
func (r *Replicator) IsDocumentPending(docID string) (bool, error) {
	if docID == "" {
		return false, pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Replicator", "IsDocumentPending", "document id required")
	}
	if r.typ == Pull {
		return false, pkgerrors.WrapInvalid(pkgerrors.ErrUnsupported, "Replicator", "IsDocumentPending", "check pending document of a pull-only replicator")
	}
	pending, err := r.engine.IsDocumentPending(docID)
	if err != nil {
		return false, pkgerrors.Wrap(err, "Replicator", "IsDocumentPending", "check pending document")
	}
	return pending, nil
}

func (r *Replicator) setProgressLevel(level ProgressLevel) {
	if err := r.engine.SetProgressLevel(level); err != nil {
		r.logger.Warn("failed setting progress level", "level", level, "error", err)
	}
}

func (r *Replicator) stopped() {
	if r.owner != nil {
		r.owner.RemoveActiveReplicator(r)
	}
}

// ActiveSet is an Owner that keeps the running replicators in memory.
type ActiveSet struct {
	mu          sync.Mutex
	replicators map[uuid.UUID]*Replicator
}

// NewActiveSet creates an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{replicators: make(map[uuid.UUID]*Replicator)}
}

// AddActiveReplicator implements Owner.
func (s *ActiveSet) AddActiveReplicator(r *Replicator) {
	s.mu.Lock()
	s.replicators[r.id] = r
	s.mu.Unlock()
}

// RemoveActiveReplicator implements Owner.
func (s *ActiveSet) RemoveActiveReplicator(r *Replicator) {
	s.mu.Lock()
	delete(s.replicators, r.id)
	s.mu.Unlock()
}

// Len returns the number of active replicators.
func (s *ActiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replicators)
}

// Contains reports whether r is active.
func (s *ActiveSet) Contains(r *Replicator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.replicators[r.id]
	return ok
}
