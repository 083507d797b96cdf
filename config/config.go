package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/security"
	"github.com/c360/litesync/pkg/tlsutil"
	"github.com/c360/litesync/replicator"
	"github.com/c360/litesync/socket"
)

// Authenticator types.
const (
	AuthNone       = ""
	AuthBasic      = "basic"
	AuthSession    = "session"
	AuthClientCert = "clientCert"
)

// Cookie store modes.
const (
	CookieStoreMemory = "memory"
	CookieStoreNATS   = "nats"
)

// DefaultSessionCookie is the cookie name used for session authentication.
const DefaultSessionCookie = "SyncGatewaySession"

// Config is the configuration of one replicator and its transport.
type Config struct {
	Target     string `json:"target" yaml:"target" mapstructure:"target"`
	Type       string `json:"type" yaml:"type" mapstructure:"type"`
	Continuous bool   `json:"continuous" yaml:"continuous" mapstructure:"continuous"`

	Authenticator AuthConfig        `json:"authenticator" yaml:"authenticator" mapstructure:"authenticator"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
	Cookies       string            `json:"cookies,omitempty" yaml:"cookies,omitempty" mapstructure:"cookies"`
	Protocols     []string          `json:"protocols,omitempty" yaml:"protocols,omitempty" mapstructure:"protocols"`
	Heartbeat     time.Duration     `json:"heartbeat" yaml:"heartbeat" mapstructure:"heartbeat"`

	PinnedServerCertFile           string                   `json:"pinned_server_cert_file,omitempty" yaml:"pinned_server_cert_file,omitempty" mapstructure:"pinned_server_cert_file"`
	AcceptOnlySelfSignedServerCert bool                     `json:"accept_only_self_signed_server_cert" yaml:"accept_only_self_signed_server_cert" mapstructure:"accept_only_self_signed_server_cert"`
	TLS                            security.ClientTLSConfig `json:"tls" yaml:"tls" mapstructure:"tls"`

	Workers     WorkersConfig     `json:"workers" yaml:"workers" mapstructure:"workers"`
	CookieStore CookieStoreConfig `json:"cookie_store" yaml:"cookie_store" mapstructure:"cookie_store"`
	LeakCheck   LeakCheckConfig   `json:"leak_check" yaml:"leak_check" mapstructure:"leak_check"`

	CloseTimeout     time.Duration `json:"close_timeout" yaml:"close_timeout" mapstructure:"close_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteQueueSize   int           `json:"write_queue_size" yaml:"write_queue_size" mapstructure:"write_queue_size"`
}

// AuthConfig selects how the replicator authenticates to the remote.
type AuthConfig struct {
	Type       string `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	SessionID  string `json:"session_id,omitempty" yaml:"session_id,omitempty" mapstructure:"session_id"`
	CookieName string `json:"cookie_name,omitempty" yaml:"cookie_name,omitempty" mapstructure:"cookie_name"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty" mapstructure:"key_file"`
}

// WorkersConfig sizes the conflict resolution pool.
type WorkersConfig struct {
	ConflictResolvers int `json:"conflict_resolvers" yaml:"conflict_resolvers" mapstructure:"conflict_resolvers"`
	QueueSize         int `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
}

// CookieStoreConfig selects where cookies persist between connections.
type CookieStoreConfig struct {
	Mode    string        `json:"mode" yaml:"mode" mapstructure:"mode"`
	NATSURL string        `json:"nats_url,omitempty" yaml:"nats_url,omitempty" mapstructure:"nats_url"`
	Bucket  string        `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	TTL     time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" mapstructure:"ttl"`
	// CacheTTL keeps bucket reads in memory; zero reads the bucket on
	// every handshake.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty" mapstructure:"cache_ttl"`
}

// LeakCheckConfig configures the debug bridge leak detector.
type LeakCheckConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxAge   time.Duration `json:"max_age" yaml:"max_age" mapstructure:"max_age"`
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Type:      replicator.PushAndPull.String(),
		Heartbeat: socket.DefaultHeartbeat,
		Workers: WorkersConfig{
			ConflictResolvers: 4,
			QueueSize:         256,
		},
		CookieStore: CookieStoreConfig{
			Mode:     CookieStoreMemory,
			Bucket:   "litesync-cookies",
			TTL:      30 * 24 * time.Hour,
			CacheTTL: 30 * time.Second,
		},
		LeakCheck: LeakCheckConfig{
			MaxAge:   10 * time.Minute,
			Interval: time.Minute,
		},
		CloseTimeout:     5 * time.Second,
		HandshakeTimeout: 45 * time.Second,
		WriteQueueSize:   64,
	}
}

// ReplicatorType returns the parsed replication type.
func (c *Config) ReplicatorType() replicator.Type {
	t, _ := replicator.ParseType(c.Type)
	return t
}

// TargetURL returns the parsed target.
func (c *Config) TargetURL() (*url.URL, error) {
	u, err := url.Parse(c.Target)
	if err != nil {
		return nil, pkgerrors.WrapInvalid(err, "Config", "TargetURL", "parse target")
	}
	return u, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", pkgerrors.ErrInvalidConfig, field, fmt.Sprintf(format, args...)))
	}
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("%w: %s", pkgerrors.ErrMissingConfig, field))
	}

	if c.Target == "" {
		missing("target")
	} else if u, err := url.Parse(c.Target); err != nil {
		invalid("target", "%v", err)
	} else {
		switch u.Scheme {
		case "ws", "wss", "blip", "blips":
		default:
			invalid("target", "unsupported scheme %q", u.Scheme)
		}
		if u.Hostname() == "" {
			invalid("target", "host required")
		}
	}

	if _, err := replicator.ParseType(c.Type); err != nil {
		invalid("type", "%v", err)
	}

	a := c.Authenticator
	switch a.Type {
	case AuthNone:
	case AuthBasic:
		if a.Username == "" {
			missing("authenticator.username")
		}
	case AuthSession:
		if a.SessionID == "" {
			missing("authenticator.session_id")
		}
	case AuthClientCert:
		if a.CertFile == "" {
			missing("authenticator.cert_file")
		}
		if a.KeyFile == "" {
			missing("authenticator.key_file")
		}
	default:
		invalid("authenticator.type", "unknown type %q", a.Type)
	}

	if c.Heartbeat < 0 {
		invalid("heartbeat", "must not be negative")
	} else if c.Heartbeat > 0 && c.Heartbeat < time.Second {
		invalid("heartbeat", "must be at least 1s")
	}

	if c.PinnedServerCertFile != "" {
		if _, err := os.Stat(c.PinnedServerCertFile); err != nil {
			invalid("pinned_server_cert_file", "%v", err)
		}
	}
	for i, caFile := range c.TLS.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			invalid(fmt.Sprintf("tls.ca_files[%d]", i), "%v", err)
		}
	}
	switch c.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		invalid("tls.min_version", "must be 1.2 or 1.3")
	}

	if c.Workers.ConflictResolvers < 0 {
		invalid("workers.conflict_resolvers", "must not be negative")
	}
	if c.Workers.QueueSize < 0 {
		invalid("workers.queue_size", "must not be negative")
	}

	switch c.CookieStore.Mode {
	case CookieStoreMemory:
	case CookieStoreNATS:
		if c.CookieStore.NATSURL == "" {
			missing("cookie_store.nats_url")
		}
		if c.CookieStore.Bucket == "" {
			missing("cookie_store.bucket")
		}
		if c.CookieStore.CacheTTL < 0 {
			invalid("cookie_store.cache_ttl", "must not be negative")
		}
	default:
		invalid("cookie_store.mode", "unknown mode %q", c.CookieStore.Mode)
	}

	if c.LeakCheck.Enabled && (c.LeakCheck.MaxAge <= 0 || c.LeakCheck.Interval <= 0) {
		invalid("leak_check", "max_age and interval must be positive")
	}
	if c.CloseTimeout < 0 || c.HandshakeTimeout < 0 || c.WriteQueueSize < 0 {
		invalid("transport", "timeouts and queue size must not be negative")
	}

	if len(errs) > 0 {
		return pkgerrors.WrapInvalid(errors.Join(errs...), "Config", "Validate", "validate configuration")
	}
	return nil
}

// Options builds the engine socket options. release frees the client
// certificate registered for certificate authentication and must be called
// once the replicator no longer needs the options.
func (c *Config) Options() (opts socket.Options, release func(), err error) {
	opts = socket.Options{}
	release = func() {}

	if len(c.Headers) > 0 {
		headers := make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		opts[socket.OptionHeaders] = headers
	}
	if c.Heartbeat > 0 {
		opts[socket.OptionHeartbeat] = int64(c.Heartbeat / time.Second)
	}
	if len(c.Protocols) > 0 {
		opts[socket.OptionWebSocketProtocols] = strings.Join(c.Protocols, ",")
	}

	cookies := c.Cookies
	a := c.Authenticator
	switch a.Type {
	case AuthBasic:
		opts[socket.OptionAuthentication] = map[string]any{
			socket.OptionAuthType:     socket.AuthTypeBasic,
			socket.OptionAuthUsername: a.Username,
			socket.OptionAuthPassword: a.Password,
		}
	case AuthSession:
		name := a.CookieName
		if name == "" {
			name = DefaultSessionCookie
		}
		session := name + "=" + a.SessionID
		if cookies == "" {
			cookies = session
		} else {
			cookies += "; " + session
		}
	case AuthClientCert:
		cert, err := tls.LoadX509KeyPair(a.CertFile, a.KeyFile)
		if err != nil {
			return nil, nil, pkgerrors.WrapInvalid(err, "Config", "Options", "load client certificate")
		}
		token := tlsutil.RegisterClientCertificate(cert)
		release = func() { tlsutil.ReleaseClientCertificate(token) }
		opts[socket.OptionAuthentication] = map[string]any{
			socket.OptionAuthType:          socket.AuthTypeClientCert,
			socket.OptionAuthClientCertKey: token,
		}
	}
	if cookies != "" {
		opts[socket.OptionCookies] = cookies
	}

	if c.PinnedServerCertFile != "" {
		der, err := tlsutil.LoadCertificateFile(c.PinnedServerCertFile)
		if err != nil {
			release()
			return nil, nil, err
		}
		opts[socket.OptionPinnedServerCert] = der
	}
	if c.AcceptOnlySelfSignedServerCert {
		opts[socket.OptionOnlySelfSignedServer] = true
	}
	return opts, release, nil
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Authenticator.Password != "" {
		cp.Authenticator.Password = "REDACTED"
	}
	if cp.Authenticator.SessionID != "" {
		cp.Authenticator.SessionID = "REDACTED"
	}
	if u, err := url.Parse(cp.Target); err == nil && u.User != nil {
		cp.Target = u.Redacted()
	}
	return &cp
}
