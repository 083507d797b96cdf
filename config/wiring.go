package config

import (
	"context"
	"crypto/x509"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/litesync/cookiestore"
	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/metric"
	"github.com/c360/litesync/natsclient"
	"github.com/c360/litesync/pkg/tlsutil"
	"github.com/c360/litesync/replicator"
	"github.com/c360/litesync/socket"
	"github.com/c360/litesync/transport/websocket"
)

// TransportConfig builds the websocket transport settings. store and
// onCerts may be nil.
func (c *Config) TransportConfig(logger *slog.Logger, metrics *websocket.Metrics, store cookiestore.Store,
	onCerts func([]*x509.Certificate),
) (websocket.Config, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(c.TLS)
	if err != nil {
		return websocket.Config{}, err
	}
	return websocket.Config{
		TLS:                  tlsConfig,
		Cookies:              store,
		HandshakeTimeout:     c.HandshakeTimeout,
		CloseTimeout:         c.CloseTimeout,
		WriteQueueSize:       c.WriteQueueSize,
		OnServerCertificates: onCerts,
		Logger:               logger,
		Metrics:              metrics,
	}, nil
}

// CoordinatorOptions returns the coordinator settings derived from the
// configuration.
func (c *Config) CoordinatorOptions() []replicator.CoordinatorOption {
	return []replicator.CoordinatorOption{
		replicator.WithResolverPool(c.Workers.ConflictResolvers, c.Workers.QueueSize),
	}
}

// ReplicatorOptions returns the replicator settings derived from the
// configuration.
func (c *Config) ReplicatorOptions() []replicator.Option {
	return []replicator.Option{
		replicator.WithType(c.ReplicatorType()),
		replicator.WithContinuous(c.Continuous),
		replicator.WithCoordinatorOptions(c.CoordinatorOptions()...),
	}
}

// LeakDetector returns a detector for registry, or nil when leak checking
// is disabled.
func (c *Config) LeakDetector(registry *socket.Registry, logger *slog.Logger) *socket.LeakDetector {
	if !c.LeakCheck.Enabled {
		return nil
	}
	return socket.NewLeakDetector(registry, c.LeakCheck.MaxAge, c.LeakCheck.Interval, logger)
}

// OpenCookieStore opens the configured cookie store. closeFn releases its
// connection, if any. registry may be nil.
func (c *Config) OpenCookieStore(ctx context.Context, logger *slog.Logger, registry *metric.MetricsRegistry) (store cookiestore.Store, closeFn func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func(context.Context) error { return nil }

	switch c.CookieStore.Mode {
	case CookieStoreMemory, "":
		return cookiestore.NewMemoryStore(), noop, nil
	case CookieStoreNATS:
	default:
		return nil, nil, pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "OpenCookieStore",
			"select cookie store "+c.CookieStore.Mode)
	}

	client, err := natsclient.NewClient(c.CookieStore.NATSURL,
		natsclient.WithLogger(logger),
		natsclient.WithClientName("litesync"))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      c.CookieStore.Bucket,
		Description: "litesync replication cookies",
		History:     1,
		TTL:         c.CookieStore.TTL,
	})
	if err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	kvStore := cookiestore.NewKVStore(client.NewKVStore(bucket), 0, logger)
	if c.CookieStore.CacheTTL > 0 {
		if err := kvStore.CacheReads(c.CookieStore.CacheTTL, registry); err != nil {
			_ = client.Close(ctx)
			return nil, nil, err
		}
	}
	return kvStore, client.Close, nil
}
