package websocket

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"

	"github.com/c360/litesync/cookiestore"
	"github.com/c360/litesync/socket"
)

// Defaults used when Config fields are zero.
const (
	DefaultHandshakeTimeout = 45 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultWriteQueueSize   = 64
	DefaultMaxAuthRetries   = 3
)

// Config configures the transports a Factory creates.
type Config struct {
	// TLS is the base client configuration. It is cloned per connection.
	TLS *tls.Config

	// Cookies receives cookies servers set and supplies them on later
	// handshakes. Nil keeps cookies for the connection only.
	Cookies cookiestore.Store

	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	WriteQueueSize   int
	MaxAuthRetries   int

	// OnServerCertificates receives the certificates of every server that
	// passes verification.
	OnServerCertificates func([]*x509.Certificate)

	// ErrorHook may claim a connection error before the default
	// classification runs.
	ErrorHook func(err error) (socket.CloseStatus, bool)

	Logger  *slog.Logger
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = DefaultWriteQueueSize
	}
	if c.MaxAuthRetries <= 0 {
		c.MaxAuthRetries = DefaultMaxAuthRetries
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
