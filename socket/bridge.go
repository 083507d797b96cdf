package socket

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/serial"
)

const closedByClient = "Closed by client"

// Bridge connects one engine socket to one transport.
type Bridge struct {
	handle    uint64
	engine    Engine
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics
	created   time.Time
	onRetired func(*Bridge)

	toEngine *serial.Queue

	mu sync.Mutex
	sm stateMachine
	// closeEcho is set when the engine was asked to close; its next
	// RequestClose answers that request instead of starting one.
	closeEcho   bool
	dropLimiter *rate.Limiter
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records bridge activity in m.
func WithMetrics(m *Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithExecutor runs engine notifications on executor instead of fresh
// goroutines. Notifications stay serial either way.
func WithExecutor(executor serial.Executor) BridgeOption {
	return func(b *Bridge) { b.toEngine = serial.NewQueue("socket", executor, b.logger) }
}

// withRetireHook is called once, after the engine has been told the bridge
// closed.
func withRetireHook(fn func(*Bridge)) BridgeOption {
	return func(b *Bridge) { b.onRetired = fn }
}

// NewBridge creates a bridge for handle and asks factory for its transport.
func NewBridge(handle uint64, engine Engine, factory TransportFactory, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		handle:      handle,
		engine:      engine,
		logger:      slog.Default(),
		created:     time.Now(),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "socket", "handle", handle)
	if b.toEngine == nil {
		b.toEngine = serial.NewQueue("socket", nil, b.logger)
	}
	b.sm = stateMachine{state: StateUnopened, logger: b.logger, onChanged: b.metrics.transition}
	b.transport = factory.NewTransport(b)
	return b
}

// Handle returns the engine handle the bridge serves.
func (b *Bridge) Handle() uint64 { return b.handle }

// Created returns when the bridge was constructed.
func (b *Bridge) Created() time.Time { return b.created }

// State returns the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sm.current()
}

// Flush blocks until every engine notification accepted so far has been
// delivered.
func (b *Bridge) Flush() { b.toEngine.Wait() }

// Open asks the transport to connect. Only the first call on an unopened
// bridge has any effect.
func (b *Bridge) Open(scheme, host string, port int, path string, opts Options) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sm.setState(StateOpening) {
		return
	}

	hostport := host
	if port > 0 {
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	}
	u := &url.URL{Scheme: scheme, Host: hostport, Path: path}
	b.logger.Debug("opening remote", "url", u.String())
	b.transport.OpenRemote(Request{URL: u, Options: opts})
}

// Write sends data to the remote. Writes on a socket that is not open are
// dropped. An accepted write is acknowledged to the engine exactly once.
func (b *Bridge) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sm.assertState(StateOpen) {
		b.writeDropped(len(data), pkgerrors.ErrNoConnection)
		return
	}
	if !b.transport.SendToRemote(data) {
		b.writeDropped(len(data), pkgerrors.ErrQueueFull)
		return
	}

	n := len(data)
	b.metrics.sent(n)
	b.notify(func(e Engine) { e.CompletedWrite(n) })
}

// AcknowledgeReceive is a flow-control hint from the engine.
func (b *Bridge) AcknowledgeReceive(n uint64) {
	b.logger.Debug("engine acknowledged receive", "bytes", n)
}

// RequestClose is the engine asking to close. An open socket starts the
// close handshake; a socket that never opened closes immediately.
func (b *Bridge) RequestClose(status CloseStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.sm.current() {
	case StateOpen:
		b.sm.setState(StateClosing)
		b.closeRemote(status.Code, status.Message)
	case StateClosing:
		if !b.closeEcho {
			b.logger.Debug("close already in progress", "code", status.Code)
			return
		}
		b.closeEcho = false
		b.closeRemote(status.Code, status.Message)
	case StateUnopened, StateOpening:
		b.transport.Cancel()
		b.terminate(StatusFromCloseCode(status.Code, status.Message))
	default:
		b.logger.Debug("close requested on closed socket", "code", status.Code)
	}
}

// Close is a client-initiated teardown. An open socket asks the engine to
// close and completes the handshake normally; otherwise the bridge closes
// at once.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.sm.current() {
	case StateOpen:
		b.sm.setState(StateClosing)
		b.closeEcho = true
		b.notify(func(e Engine) { e.CloseRequested(CloseGoingAway, closedByClient) })
	case StateClosed:
	default:
		b.transport.Cancel()
		b.terminate(CloseStatus{Domain: DomainRemoteProtocol, Code: CloseGoingAway, Message: closedByClient})
	}
}

// OnRemoteOpened implements RemoteListener.
func (b *Bridge) OnRemoteOpened(meta ResponseMetadata) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sm.setState(StateOpen) {
		return
	}
	b.notify(func(e Engine) { e.Opened(meta) })
}

// OnRemoteMessage implements RemoteListener.
func (b *Bridge) OnRemoteMessage(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sm.assertState(StateOpen) {
		return
	}
	b.metrics.received(len(data))
	b.notify(func(e Engine) { e.Received(data) })
}

// OnRemoteClosing implements RemoteListener.
func (b *Bridge) OnRemoteClosing(code int, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sm.setState(StateClosing) {
		return
	}
	b.closeEcho = true
	b.notify(func(e Engine) { e.CloseRequested(code, reason) })
}

// OnRemoteClosed implements RemoteListener.
func (b *Bridge) OnRemoteClosed(code int, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.terminate(StatusFromCloseCode(code, reason))
}

// OnRemoteFailed implements RemoteListener. A failure that carries an HTTP
// response closes with the response status.
func (b *Bridge) OnRemoteFailed(err error, resp *ResponseMetadata) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var status CloseStatus
	switch {
	case resp != nil:
		status = StatusFromCloseCode(resp.StatusCode, http.StatusText(resp.StatusCode))
	case err == nil:
		status = CloseStatus{Domain: DomainRemoteProtocol}
	default:
		status = b.classify(err)
	}

	if b.terminate(status) {
		b.logger.Info("connection failed", "error", err, "status", status.String())
	}
}

func (b *Bridge) classify(err error) CloseStatus {
	if c, ok := b.transport.(ErrorClassifier); ok {
		return c.ClassifyError(err)
	}
	return CloseStatus{Domain: DomainRemoteProtocol, Code: ClosePolicyError, Message: err.Error()}
}

// terminate walks the bridge to CLOSED and reports status to the engine.
// It reports false if the bridge was already closed. Caller holds b.mu.
func (b *Bridge) terminate(status CloseStatus) bool {
	if b.sm.current() != StateClosing && !b.sm.setState(StateClosing) {
		return false
	}
	if !b.sm.setState(StateClosed) {
		return false
	}

	b.metrics.closedWith(status)
	b.notify(func(e Engine) { e.Closed(status) })
	if b.onRetired != nil {
		b.toEngine.Enqueue(func() { b.onRetired(b) })
	}
	return true
}

func (b *Bridge) closeRemote(code int, reason string) {
	if !b.transport.CloseRemote(RemoteCloseCode(code), reason) {
		b.logger.Info("transport could not start a graceful close", "code", code)
	}
}

func (b *Bridge) notify(fn func(Engine)) {
	engine := b.engine
	b.toEngine.Enqueue(func() { fn(engine) })
}

func (b *Bridge) writeDropped(n int, reason error) {
	b.metrics.dropped()
	if b.dropLimiter.Allow() {
		b.logger.Warn("write dropped", "bytes", n, "error", reason, "state", b.sm.current())
	}
}
