package main

import (
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/c360/litesync/replicator"
	"github.com/c360/litesync/socket"
)

// session stands in for the replication engine during a probe. It is the
// engine side of one socket at a time and the engine replicator behind a
// replicator.Replicator.
type session struct {
	logger   *slog.Logger
	registry *socket.Registry
	target   *url.URL
	opts     socket.Options
	repl     *replicator.Replicator

	mu        sync.Mutex
	handle    uint64
	opened    chan socket.ResponseMetadata
	closed    chan socket.CloseStatus
	status    replicator.RawStatus
	hasStatus bool
}

func newSession(logger *slog.Logger, registry *socket.Registry, target *url.URL, opts socket.Options) *session {
	return &session{
		logger:   logger.With("component", "probe"),
		registry: registry,
		target:   target,
		opts:     opts,
	}
}

func (s *session) report(raw replicator.RawStatus) {
	s.mu.Lock()
	s.status = raw
	s.hasStatus = true
	s.mu.Unlock()
	if s.repl != nil {
		s.repl.StatusChanged(raw)
	}
}

// Start implements replicator.Engine. The socket is opened by dial once
// the replicator has published CONNECTING.
func (s *session) Start(bool) error {
	s.mu.Lock()
	s.handle = s.registry.NextHandle()
	s.opened = make(chan socket.ResponseMetadata, 1)
	s.closed = make(chan socket.CloseStatus, 1)
	s.status = replicator.RawStatus{Level: replicator.RawConnecting}
	s.hasStatus = true
	s.mu.Unlock()
	return nil
}

func (s *session) dial() {
	port := 0
	if p := s.target.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	s.registry.Open(s.currentHandle(), s, s.target.Scheme, s.target.Hostname(), port, s.target.Path, s.opts)
}

func (s *session) channels() (chan socket.ResponseMetadata, chan socket.CloseStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

func (s *session) currentHandle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Stop implements replicator.Engine.
func (s *session) Stop() {
	s.registry.RequestClose(s.currentHandle(), socket.CloseStatus{
		Domain:  socket.DomainRemoteProtocol,
		Code:    socket.CloseNormal,
		Message: "probe finished",
	})
}

// Status implements replicator.Engine.
func (s *session) Status() (replicator.RawStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.hasStatus
}

func (s *session) SetProgressLevel(replicator.ProgressLevel) error { return nil }

func (s *session) PendingDocumentIDs() ([]string, error) { return nil, nil }

func (s *session) IsDocumentPending(string) (bool, error) { return false, nil }

// Opened implements socket.Engine.
func (s *session) Opened(meta socket.ResponseMetadata) {
	s.logger.Info("remote opened", "status", meta.StatusCode)
	s.report(replicator.RawStatus{Level: replicator.RawIdle})
	opened, _ := s.channels()
	opened <- meta
}

// Received implements socket.Engine.
func (s *session) Received(data []byte) {
	s.logger.Debug("message received", "bytes", len(data))
}

// CompletedWrite implements socket.Engine.
func (s *session) CompletedWrite(n int) {
	s.logger.Debug("write completed", "bytes", n)
}

// CloseRequested implements socket.Engine by agreeing to close.
func (s *session) CloseRequested(code int, reason string) {
	s.logger.Info("remote asked to close", "code", code, "reason", reason)
	s.registry.RequestClose(s.currentHandle(), socket.CloseStatus{
		Domain:  socket.DomainRemoteProtocol,
		Code:    code,
		Message: reason,
	})
}

// Closed implements socket.Engine.
func (s *session) Closed(status socket.CloseStatus) {
	raw := replicator.RawStatus{Level: replicator.RawStopped}
	if !status.IsSuccess() {
		raw.ErrDomain = status.Domain.EngineDomain()
		raw.ErrCode = status.Code
		raw.ErrMessage = status.Message
	}
	s.report(raw)
	_, closed := s.channels()
	closed <- status
}
