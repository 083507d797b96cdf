package websocket

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/c360/litesync/socket"
)

// ClassifyError maps a connection error to the status the engine is told.
// hook, if not nil, is consulted first.
func ClassifyError(err error, hook func(error) (socket.CloseStatus, bool)) socket.CloseStatus {
	if hook != nil {
		if status, ok := hook(err); ok {
			return status
		}
	}

	msg := err.Error()
	network := func(code int) socket.CloseStatus {
		return socket.CloseStatus{Domain: socket.DomainNetwork, Code: code, Message: msg}
	}

	switch {
	case errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return network(socket.NetworkHostUnreachable)

	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return network(socket.NetworkNotConnected)
	}

	if code, ok := certificateCode(err); ok {
		return network(code)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return network(socket.NetworkUnknownHost)
	}

	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return network(socket.NetworkTLSHandshakeFailed)
	}

	if strings.Contains(msg, "tls:") {
		return socket.CloseStatus{Domain: socket.DomainRemoteProtocol, Code: socket.CloseTLSFailure, Message: msg}
	}
	return socket.CloseStatus{Domain: socket.DomainRemoteProtocol, Code: socket.ClosePolicyError, Message: msg}
}

// certificateCode recognizes server certificate rejections. An expired
// certificate is reported as revoked.
func certificateCode(err error) (int, bool) {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		if invalid.Reason == x509.Expired {
			return socket.NetworkTLSCertRevoked, true
		}
		return socket.NetworkTLSCertUntrusted, true
	}

	var verification *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	if errors.As(err, &verification) || errors.As(err, &unknownAuthority) || errors.As(err, &hostname) {
		return socket.NetworkTLSCertUntrusted, true
	}
	return 0, false
}
