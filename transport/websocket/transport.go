package websocket

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/litesync/cookiestore"
	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/security"
	"github.com/c360/litesync/pkg/tlsutil"
	"github.com/c360/litesync/socket"
)

// maxCloseReason is the longest reason that fits a close frame.
const maxCloseReason = 123

type closeFrame struct {
	code   int
	reason string
}

// Transport is one websocket connection. It never calls its listener while
// holding its own lock, and none of its socket.Transport methods block on
// the network.
type Transport struct {
	cfg      Config
	listener socket.RemoteListener
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out       chan []byte
	closeReq  chan closeFrame
	closeSent chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	finished  atomic.Bool

	mu            sync.Mutex
	conn          *websocket.Conn
	opened        bool
	closeStarted  bool
	canceled      bool
	closeReceived bool
	closeTimedOut bool
	writeErr      error
}

func newTransport(cfg Config, listener socket.RemoteListener) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:       cfg,
		listener:  listener,
		logger:    cfg.Logger.With("component", "websocket"),
		ctx:       ctx,
		cancel:    cancel,
		out:       make(chan []byte, cfg.WriteQueueSize),
		closeReq:  make(chan closeFrame, 1),
		closeSent: make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// DialURL returns the URL actually dialed for an engine URL.
func DialURL(u *url.URL) *url.URL {
	cp := *u
	switch strings.ToLower(u.Scheme) {
	case "blip", "http":
		cp.Scheme = "ws"
	case "blips", "https":
		cp.Scheme = "wss"
	}
	return &cp
}

// OpenRemote implements socket.Transport. The handshake runs in the
// background; its outcome is reported to the listener.
func (t *Transport) OpenRemote(req socket.Request) {
	t.mu.Lock()
	if t.opened || t.canceled {
		t.mu.Unlock()
		return
	}
	t.opened = true
	t.mu.Unlock()

	go t.connect(req)
}

// SendToRemote implements socket.Transport. It reports false when the
// connection is not open or the write queue is full.
func (t *Transport) SendToRemote(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closeStarted || t.canceled {
		return false
	}
	select {
	case t.out <- append([]byte(nil), data...):
		return true
	default:
		t.cfg.Metrics.writeQueueFull()
		t.logger.Warn("write queue full", "capacity", cap(t.out))
		return false
	}
}

// CloseRemote implements socket.Transport. The close frame is sent after
// every write already accepted.
func (t *Transport) CloseRemote(code int, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closeStarted || t.canceled {
		return false
	}
	t.closeStarted = true
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	t.closeReq <- closeFrame{code: code, reason: reason}
	return true
}

// Cancel implements socket.Transport. The listener hears nothing more.
func (t *Transport) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()

	t.finished.Store(true)
	t.shutdown()
}

// ClassifyError implements socket.ErrorClassifier.
func (t *Transport) ClassifyError(err error) socket.CloseStatus {
	return ClassifyError(err, t.cfg.ErrorHook)
}

func (t *Transport) connect(req socket.Request) {
	target := DialURL(req.URL)
	logger := t.logger.With("url", target.Redacted())

	dialer, err := t.dialer(req)
	if err != nil {
		t.fail(err, nil)
		return
	}
	header := req.Options.Headers()

	var (
		conn *websocket.Conn
		resp *http.Response
	)
	for retries := 0; ; retries++ {
		conn, resp, err = dialer.DialContext(t.ctx, target.String(), header)
		if err == nil {
			break
		}
		if t.isCanceled() {
			return
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.cfg.Metrics.handshake("failed")
			t.fail(err, metadata(resp))
			return
		}

		t.cfg.Metrics.handshake("challenged")
		user, password, ok := req.Options.BasicCredentials()
		if !ok || !basicChallenge(resp.Header) {
			t.fail(err, metadata(resp))
			return
		}
		if retries >= t.cfg.MaxAuthRetries {
			logger.Warn("giving up on authentication", "retries", retries)
			t.fail(fmt.Errorf("%w after %d retries", pkgerrors.ErrAuthAbandoned, retries), metadata(resp))
			return
		}
		t.cfg.Metrics.authRetry()
		logger.Debug("answering auth challenge", "retry", retries+1)
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
	}
	t.cfg.Metrics.handshake("succeeded")

	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	heartbeat := req.Options.Heartbeat()
	idle := 2 * heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	conn.SetCloseHandler(t.handleClose)

	go t.writeLoop(conn)
	go t.pingLoop(conn, heartbeat)

	logger.Debug("connected", "status", resp.StatusCode, "subprotocol", conn.Subprotocol())
	t.listener.OnRemoteOpened(socket.ResponseMetadata{StatusCode: resp.StatusCode, Header: resp.Header})
	t.readLoop(conn, idle)
}

func (t *Transport) dialer(req socket.Request) (*websocket.Dialer, error) {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		Jar: &handshakeJar{
			configured: cookiestore.ParseCookieHeader(req.Options.String(socket.OptionCookies)),
			store:      t.cfg.Cookies,
		},
		Subprotocols: subprotocols(req.Options.String(socket.OptionWebSocketProtocols)),
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.cfg.TLS != nil {
		tlsConfig = t.cfg.TLS.Clone()
	}
	if key, ok := req.Options.ClientCertKey(); ok {
		cert, found := tlsutil.ClientCertificate(key)
		if !found {
			return nil, pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "websocket", "dialer",
				fmt.Sprintf("find client certificate %d", key))
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	policy := security.TrustPolicy{
		PinnedCert:     req.Options.Bytes(socket.OptionPinnedServerCert),
		OnlySelfSigned: req.Options.Bool(socket.OptionOnlySelfSignedServer),
	}
	tlsutil.ApplyTrustPolicy(tlsConfig, policy, t.cfg.OnServerCertificates)
	d.TLSClientConfig = tlsConfig

	return d, nil
}

func (t *Transport) readLoop(conn *websocket.Conn, idle time.Duration) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.readFailed(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		t.listener.OnRemoteMessage(data)
	}
}

func (t *Transport) readFailed(conn *websocket.Conn, err error) {
	t.mu.Lock()
	canceled, timedOut, writeErr, closeReceived := t.canceled, t.closeTimedOut, t.writeErr, t.closeReceived
	t.mu.Unlock()

	var ce *websocket.CloseError
	isClose := errors.As(err, &ce)

	switch {
	case canceled:
		t.shutdown()
	case closeReceived && isClose:
		t.awaitCloseReply(conn, ce.Code)
		t.closed(ce.Code, ce.Text)
	case timedOut:
		t.closed(socket.CloseAbnormal, "close handshake timed out")
	case writeErr != nil:
		t.fail(writeErr, nil)
	case isClose:
		// No close frame arrived; the connection just ended.
		t.fail(fmt.Errorf("connection dropped: %w", io.ErrUnexpectedEOF), nil)
	default:
		t.fail(err, nil)
	}
}

// handleClose runs when the server's close frame arrives. A close we did
// not start goes to the engine, which answers it through CloseRemote.
func (t *Transport) handleClose(code int, text string) error {
	t.mu.Lock()
	initiated := t.closeStarted
	t.closeReceived = true
	t.mu.Unlock()

	if !initiated {
		t.listener.OnRemoteClosing(code, text)
	}
	return nil
}

// awaitCloseReply waits for our close frame to go out, sending one itself
// if the engine does not answer within the close timeout.
func (t *Transport) awaitCloseReply(conn *websocket.Conn, code int) {
	select {
	case <-t.closeSent:
		return
	case <-t.stop:
		return
	case <-time.After(t.cfg.CloseTimeout):
	}

	t.mu.Lock()
	started := t.closeStarted
	t.closeStarted = true
	t.mu.Unlock()
	if started {
		return
	}

	t.logger.Debug("close not answered in time, replying", "code", code)
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (t *Transport) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.stop:
			return
		case data := <-t.out:
			if !t.write(conn, data) {
				return
			}
		case frame := <-t.closeReq:
			for drained := false; !drained; {
				select {
				case data := <-t.out:
					if !t.write(conn, data) {
						return
					}
				default:
					drained = true
				}
			}
			msg := websocket.FormatCloseMessage(frame.code, frame.reason)
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.CloseTimeout)); err != nil {
				t.logger.Debug("close frame not sent", "error", err)
			}
			close(t.closeSent)
			time.AfterFunc(t.cfg.CloseTimeout, func() { t.closeHandshakeExpired(conn) })
			return
		}
	}
}

func (t *Transport) write(conn *websocket.Conn, data []byte) bool {
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.mu.Lock()
		t.writeErr = err
		t.mu.Unlock()
		conn.Close()
		return false
	}
	return true
}

// closeHandshakeExpired drops a connection whose server never answered our
// close frame.
func (t *Transport) closeHandshakeExpired(conn *websocket.Conn) {
	if t.finished.Load() {
		return
	}
	t.mu.Lock()
	t.closeTimedOut = true
	t.mu.Unlock()
	conn.Close()
}

func (t *Transport) pingLoop(conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				t.logger.Debug("ping failed", "error", err)
				return
			}
			t.cfg.Metrics.ping()
		}
	}
}

func (t *Transport) closed(code int, reason string) {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}
	t.shutdown()
	t.listener.OnRemoteClosed(code, reason)
}

func (t *Transport) fail(err error, resp *socket.ResponseMetadata) {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}
	t.shutdown()
	t.listener.OnRemoteFailed(err, resp)
}

func (t *Transport) shutdown() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.cancel()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (t *Transport) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

func metadata(resp *http.Response) *socket.ResponseMetadata {
	if resp == nil {
		return nil
	}
	return &socket.ResponseMetadata{StatusCode: resp.StatusCode, Header: resp.Header}
}

// basicChallenge reports whether the response offers Basic authentication.
func basicChallenge(h http.Header) bool {
	for _, challenge := range h.Values("WWW-Authenticate") {
		scheme, _, _ := strings.Cut(strings.TrimSpace(challenge), " ")
		if strings.EqualFold(scheme, "Basic") {
			return true
		}
	}
	return false
}

func subprotocols(option string) []string {
	var out []string
	for _, p := range strings.Split(option, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
