package testutil

import (
	"sync"

	"github.com/c360/litesync/socket"
)

// CloseCall records a CloseRemote call.
type CloseCall struct {
	Code   int
	Reason string
}

// ScriptedTransport is a socket.Transport that records outbound calls and
// lets the test drive the listener by hand.
type ScriptedTransport struct {
	Listener socket.RemoteListener

	mu       sync.Mutex
	opens    []socket.Request
	sent     [][]byte
	closes   []CloseCall
	cancels  int
	refuse   bool
	classify func(error) socket.CloseStatus
}

// Refuse makes SendToRemote and CloseRemote report failure.
func (s *ScriptedTransport) Refuse(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

// SetClassifier sets the function used by ClassifyError.
func (s *ScriptedTransport) SetClassifier(fn func(error) socket.CloseStatus) {
	s.mu.Lock()
	s.classify = fn
	s.mu.Unlock()
}

// OpenRemote implements socket.Transport.
func (s *ScriptedTransport) OpenRemote(req socket.Request) {
	s.mu.Lock()
	s.opens = append(s.opens, req)
	s.mu.Unlock()
}

// SendToRemote implements socket.Transport.
func (s *ScriptedTransport) SendToRemote(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return true
}

// CloseRemote implements socket.Transport.
func (s *ScriptedTransport) CloseRemote(code int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, CloseCall{Code: code, Reason: reason})
	return !s.refuse
}

// Cancel implements socket.Transport.
func (s *ScriptedTransport) Cancel() {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
}

// ClassifyError implements socket.ErrorClassifier.
func (s *ScriptedTransport) ClassifyError(err error) socket.CloseStatus {
	s.mu.Lock()
	fn := s.classify
	s.mu.Unlock()
	if fn != nil {
		return fn(err)
	}
	return socket.CloseStatus{Domain: socket.DomainRemoteProtocol, Code: socket.ClosePolicyError, Message: err.Error()}
}

// Opens returns the recorded open requests.
func (s *ScriptedTransport) Opens() []socket.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]socket.Request(nil), s.opens...)
}

// Sent returns the payloads accepted by SendToRemote.
func (s *ScriptedTransport) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// Closes returns the recorded CloseRemote calls.
func (s *ScriptedTransport) Closes() []CloseCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CloseCall(nil), s.closes...)
}

// Cancels returns how many times Cancel was called.
func (s *ScriptedTransport) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// ScriptedFactory hands out ScriptedTransports and remembers them.
type ScriptedFactory struct {
	mu         sync.Mutex
	transports []*ScriptedTransport
}

// NewTransport implements socket.TransportFactory.
func (f *ScriptedFactory) NewTransport(listener socket.RemoteListener) socket.Transport {
	t := &ScriptedTransport{Listener: listener}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t
}

// Last returns the most recently created transport, or nil.
func (f *ScriptedFactory) Last() *ScriptedTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// Len returns how many transports were created.
func (f *ScriptedFactory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}
