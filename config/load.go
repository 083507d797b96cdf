package config

import (
	"io"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pkgerrors "github.com/c360/litesync/errors"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "LITESYNC"

// Load reads path (JSON or YAML, by extension) over Default and applies
// environment overrides. An empty path loads defaults and environment
// only. The result is not validated.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.WrapInvalid(err, "config", "Load", "read "+path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, pkgerrors.WrapInvalid(err, "config", "Load", "decode configuration")
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("target", d.Target)
	v.SetDefault("type", d.Type)
	v.SetDefault("continuous", d.Continuous)
	v.SetDefault("authenticator.type", d.Authenticator.Type)
	v.SetDefault("authenticator.username", "")
	v.SetDefault("authenticator.password", "")
	v.SetDefault("authenticator.session_id", "")
	v.SetDefault("authenticator.cookie_name", "")
	v.SetDefault("authenticator.cert_file", "")
	v.SetDefault("authenticator.key_file", "")
	v.SetDefault("cookies", d.Cookies)
	v.SetDefault("heartbeat", d.Heartbeat)
	v.SetDefault("pinned_server_cert_file", d.PinnedServerCertFile)
	v.SetDefault("accept_only_self_signed_server_cert", d.AcceptOnlySelfSignedServerCert)
	v.SetDefault("tls.min_version", d.TLS.MinVersion)
	v.SetDefault("tls.insecure_skip_verify", d.TLS.InsecureSkipVerify)
	v.SetDefault("workers.conflict_resolvers", d.Workers.ConflictResolvers)
	v.SetDefault("workers.queue_size", d.Workers.QueueSize)
	v.SetDefault("cookie_store.mode", d.CookieStore.Mode)
	v.SetDefault("cookie_store.nats_url", d.CookieStore.NATSURL)
	v.SetDefault("cookie_store.bucket", d.CookieStore.Bucket)
	v.SetDefault("cookie_store.ttl", d.CookieStore.TTL)
	v.SetDefault("cookie_store.cache_ttl", d.CookieStore.CacheTTL)
	v.SetDefault("leak_check.enabled", d.LeakCheck.Enabled)
	v.SetDefault("leak_check.max_age", d.LeakCheck.MaxAge)
	v.SetDefault("leak_check.interval", d.LeakCheck.Interval)
	v.SetDefault("close_timeout", d.CloseTimeout)
	v.SetDefault("handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("write_queue_size", d.WriteQueueSize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DumpYAML writes cfg as YAML with secrets redacted.
func DumpYAML(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return pkgerrors.Wrap(err, "config", "DumpYAML", "encode configuration")
	}
	return enc.Close()
}
