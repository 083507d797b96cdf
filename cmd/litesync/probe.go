package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/litesync/config"
	"github.com/c360/litesync/metric"
	"github.com/c360/litesync/pkg/retry"
	"github.com/c360/litesync/pkg/serial"
	"github.com/c360/litesync/replicator"
	"github.com/c360/litesync/socket"
	"github.com/c360/litesync/transport/websocket"
)

type probeOptions struct {
	Target      string
	Hold        time.Duration
	Attempts    int
	MetricsAddr string
}

func newProbeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Open a replication connection, report its status and close it",
		Long: `probe connects to the configured target the way a replicator does:
through the socket bridge and the websocket transport, with the configured
authentication, cookies and TLS trust. Status changes are printed as they
happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig(func(c *config.Config) {
				if opts.Target != "" {
					c.Target = opts.Target
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProbe(ctx, cmd.OutOrStdout(), rootOpts.logger(cmd), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "", "override the configured target URL")
	cmd.Flags().DurationVar(&opts.Hold, "hold", 0, "keep the connection open this long before closing")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 3, "connection attempts for network failures")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while probing")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, logger *slog.Logger, cfg *config.Config, opts *probeOptions) error {
	target, err := cfg.TargetURL()
	if err != nil {
		return err
	}

	registry := metric.NewMetricsRegistry()
	socketMetrics, err := socket.NewMetrics(registry)
	if err != nil {
		return err
	}
	wsMetrics, err := websocket.NewMetrics(registry)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		server := metric.NewServer(opts.MetricsAddr, "/metrics", registry)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(stopCtx)
		}()
		logger.Info("serving metrics", "address", server.Address())
	}

	store, closeStore, err := cfg.OpenCookieStore(ctx, logger, registry)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore(context.Background()) }()

	socketOpts, release, err := cfg.Options()
	if err != nil {
		return err
	}
	defer release()

	var repl *replicator.Replicator
	onCerts := func(certs []*x509.Certificate) {
		if repl != nil {
			repl.SetServerCertificates(certs)
		}
	}
	tc, err := cfg.TransportConfig(logger, wsMetrics, store, onCerts)
	if err != nil {
		return err
	}

	sockets := socket.NewRegistry(websocket.NewFactory(tc),
		socket.WithRegistryLogger(logger),
		socket.WithRegistryMetrics(socketMetrics))
	sess := newSession(logger, sockets, target, socketOpts)

	repl, err = replicator.New(sess, replicator.NewActiveSet(),
		append(cfg.ReplicatorOptions(), replicator.WithReplicatorLogger(logger))...)
	if err != nil {
		return err
	}
	defer func() { _ = repl.Close() }()
	sess.repl = repl

	repl.AddChangeListener(serial.GoExecutor, func(st replicator.Status) {
		if st.Err() != nil {
			_, _ = fmt.Fprintf(out, "status: %s error: %v\n", st, st.Err())
			return
		}
		_, _ = fmt.Fprintf(out, "status: %s\n", st)
	})

	g, gctx := errgroup.WithContext(ctx)
	probeCtx, cancelProbe := context.WithCancel(gctx)
	if detector := cfg.LeakDetector(sockets, logger); detector != nil {
		g.Go(func() error {
			detector.Run(probeCtx)
			return nil
		})
	}

	g.Go(func() error {
		defer cancelProbe()
		policy := retry.DefaultConfig()
		policy.MaxAttempts = opts.Attempts
		policy.InitialDelay = time.Second
		policy.MaxDelay = 30 * time.Second
		policy.OnRetry = func(attempt int, err error) {
			logger.Warn("probe attempt failed", "attempt", attempt, "error", err)
		}
		return retry.Do(probeCtx, policy, func() error {
			return probeOnce(probeCtx, out, repl, sess, opts.Hold)
		})
	})

	err = g.Wait()
	repl.Coordinator().Flush()
	return err
}

// probeOnce runs one connection attempt. Network failures are retried,
// any other failure ends the probe.
func probeOnce(ctx context.Context, out io.Writer, repl *replicator.Replicator, sess *session, hold time.Duration) error {
	if err := repl.Start(false); err != nil {
		return retry.NonRetryable(err)
	}
	opened, closed := sess.channels()
	sess.dial()

	var status socket.CloseStatus
	select {
	case <-opened:
		timer := time.NewTimer(hold)
		defer timer.Stop()
		select {
		case status = <-closed:
		case <-timer.C:
			repl.Stop()
			status = <-closed
		case <-ctx.Done():
			repl.Stop()
			status = <-closed
		}
	case status = <-closed:
	case <-ctx.Done():
		repl.Stop()
		status = <-closed
	}

	_, _ = fmt.Fprintf(out, "closed: %s\n", status)
	if status.IsSuccess() {
		return nil
	}
	err := fmt.Errorf("connection closed with %s", status)
	if status.Domain != socket.DomainNetwork {
		return retry.NonRetryable(err)
	}
	return err
}
