package testutil

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSServerConfig controls how a WSServer answers.
type WSServerConfig struct {
	// Username and Password, when set, are required as Basic credentials.
	Username string
	Password string
	// ChallengeScheme is the WWW-Authenticate scheme; defaults to Basic.
	ChallengeScheme string
	// AlwaysChallenge rejects every handshake with 401.
	AlwaysChallenge bool
	// SetCookie is sent on every handshake response.
	SetCookie *http.Cookie
	// Subprotocols the server accepts.
	Subprotocols []string
	// Echo sends every binary message back.
	Echo bool
	// TLS serves wss with the httptest certificate.
	TLS bool
}

// WSServer is a websocket server for transport tests.
type WSServer struct {
	*httptest.Server
	cfg      WSServerConfig
	upgrader websocket.Upgrader

	mu         sync.Mutex
	handshakes int
	challenges int
	authSent   int
	headers    []http.Header
	received   [][]byte
	closeCodes []int
	pings      int
	conns      []*websocket.Conn
}

// NewWSServer starts a server; it is closed when the test ends.
func NewWSServer(t testing.TB, cfg WSServerConfig) *WSServer {
	t.Helper()

	s := &WSServer{cfg: cfg}
	s.upgrader = websocket.Upgrader{
		Subprotocols: cfg.Subprotocols,
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	if cfg.TLS {
		s.Server = httptest.NewTLSServer(http.HandlerFunc(s.handle))
	} else {
		s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	}
	t.Cleanup(s.Close)
	return s
}

// WSURL returns the server URL with a ws or wss scheme.
func (s *WSServer) WSURL() string {
	if strings.HasPrefix(s.URL, "https") {
		return "wss" + strings.TrimPrefix(s.URL, "https")
	}
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.handshakes++
	s.headers = append(s.headers, r.Header.Clone())
	if r.Header.Get("Authorization") != "" {
		s.authSent++
	}
	s.mu.Unlock()

	respHeader := http.Header{}
	if s.cfg.SetCookie != nil {
		respHeader.Add("Set-Cookie", s.cfg.SetCookie.String())
	}

	if s.cfg.AlwaysChallenge || (s.cfg.Username != "" && !s.authorized(r)) {
		s.mu.Lock()
		s.challenges++
		s.mu.Unlock()

		scheme := s.cfg.ChallengeScheme
		if scheme == "" {
			scheme = "Basic"
		}
		for k, vs := range respHeader {
			w.Header()[k] = vs
		}
		w.Header().Set("WWW-Authenticate", scheme+` realm="litesync"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		return
	}
	conn.SetPingHandler(func(data string) error {
		s.mu.Lock()
		s.pings++
		s.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go s.serve(conn)
}

func (s *WSServer) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.mu.Lock()
				s.closeCodes = append(s.closeCodes, ce.Code)
				s.mu.Unlock()
			}
			return
		}
		s.mu.Lock()
		s.received = append(s.received, data)
		s.mu.Unlock()
		if s.cfg.Echo && mt == websocket.BinaryMessage {
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}

func (s *WSServer) authorized(r *http.Request) bool {
	const prefix = "Basic "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h, prefix))
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	return ok && user == s.cfg.Username && pass == s.cfg.Password
}

// SendToClients writes a binary message to every connected client.
func (s *WSServer) SendToClients(data []byte) {
	for _, c := range s.connections() {
		_ = c.WriteMessage(websocket.BinaryMessage, data)
	}
}

// CloseClients starts a close handshake with every connected client.
func (s *WSServer) CloseClients(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	for _, c := range s.connections() {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// DropClients closes every client connection without a handshake.
func (s *WSServer) DropClients() {
	for _, c := range s.connections() {
		_ = c.UnderlyingConn().Close()
	}
}

func (s *WSServer) connections() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*websocket.Conn(nil), s.conns...)
}

// Handshakes returns how many upgrade requests arrived.
func (s *WSServer) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Challenges returns how many 401 responses were sent.
func (s *WSServer) Challenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenges
}

// AuthorizationsSent returns how many requests carried credentials.
func (s *WSServer) AuthorizationsSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authSent
}

// Headers returns the request headers of every handshake.
func (s *WSServer) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// Received returns the messages clients sent.
func (s *WSServer) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

// CloseCodes returns the close codes clients sent.
func (s *WSServer) CloseCodes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.closeCodes...)
}

// Pings returns how many pings clients sent.
func (s *WSServer) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}
