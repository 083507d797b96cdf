package socket

import (
	"log/slog"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/serial"
)

// Registry maps engine socket handles to bridges. A handle is bound when the
// engine first opens it and unbound once its bridge has closed and told the
// engine so. Calls for handles that are not bound are dropped with a
// warning.
type Registry struct {
	factory  TransportFactory
	logger   *slog.Logger
	metrics  *Metrics
	executor serial.Executor

	next atomic.Uint64

	mu      sync.RWMutex
	bridges map[uint64]*Bridge
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry and its bridges.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics records activity of every bridge in m.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryExecutor sets the executor bridges deliver engine
// notifications on.
func WithRegistryExecutor(executor serial.Executor) RegistryOption {
	return func(r *Registry) { r.executor = executor }
}

// NewRegistry creates a registry whose bridges use factory for transports.
func NewRegistry(factory TransportFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory: factory,
		logger:  slog.Default(),
		bridges: make(map[uint64]*Bridge),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextHandle returns a handle no other caller of NextHandle has seen.
func (r *Registry) NextHandle() uint64 {
	return r.next.Add(1)
}

// Open binds handle to a new bridge, if it is not bound yet, and opens it.
func (r *Registry) Open(handle uint64, engine Engine, scheme, host string, port int, path string, opts Options) {
	r.mu.Lock()
	b, ok := r.bridges[handle]
	if !ok {
		bopts := []BridgeOption{WithLogger(r.logger), WithMetrics(r.metrics), withRetireHook(r.unbind)}
		if r.executor != nil {
			bopts = append(bopts, WithExecutor(r.executor))
		}
		b = NewBridge(handle, engine, r.factory, bopts...)
		r.bridges[handle] = b
	}
	r.mu.Unlock()

	b.Open(scheme, host, port, path, opts)
}

// Write forwards to the bridge bound to handle.
func (r *Registry) Write(handle uint64, data []byte) {
	if b := r.lookup(handle, "write"); b != nil {
		b.Write(data)
	}
}

// AcknowledgeReceive forwards to the bridge bound to handle.
func (r *Registry) AcknowledgeReceive(handle uint64, n uint64) {
	if b := r.lookup(handle, "acknowledgeReceive"); b != nil {
		b.AcknowledgeReceive(n)
	}
}

// RequestClose forwards to the bridge bound to handle.
func (r *Registry) RequestClose(handle uint64, status CloseStatus) {
	if b := r.lookup(handle, "requestClose"); b != nil {
		b.RequestClose(status)
	}
}

// Close tears down the bridge bound to handle.
func (r *Registry) Close(handle uint64) {
	if b := r.lookup(handle, "close"); b != nil {
		b.Close()
	}
}

// Lookup returns the bridge bound to handle.
func (r *Registry) Lookup(handle uint64) (*Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[handle]
	return b, ok
}

// Len returns the number of bound handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// Bridges returns a snapshot of the bound bridges.
func (r *Registry) Bridges() []*Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	return out
}

func (r *Registry) lookup(handle uint64, op string) *Bridge {
	b, ok := r.Lookup(handle)
	if !ok {
		r.logger.Warn("call dropped", "handle", handle, "op", op, "error", pkgerrors.ErrUnknownHandle)
		return nil
	}
	return b
}

func (r *Registry) unbind(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bridges[b.handle] == b {
		delete(r.bridges, b.handle)
	}
}
