// Package main runs the certificate manager daemon: the root CA, the
// periodic certificate sweep, the management API and the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/certmgr/certmgr"
	"github.com/c360/certmgr/config"
	apihttp "github.com/c360/certmgr/gateway/http"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/natsclient"
	"github.com/c360/certmgr/pkg/tlsutil"
	"github.com/c360/certmgr/storage"
	"github.com/c360/certmgr/storage/kvstore"
	"github.com/c360/certmgr/storage/memory"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "certmgr"
)

const natsStatusInterval = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := newLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting certificate manager",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewRegistry()
	coreMetrics := metricsRegistry.Core()
	monitor := health.NewMonitor()

	var natsClient *natsclient.Client
	if cfg.Store.Backend == config.StoreBackendKV {
		natsClient, err = connectToNATS(ctx, cfg, coreMetrics, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			if err := natsClient.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
	}

	backend, err := openStore(ctx, cfg.Store, natsClient)
	if err != nil {
		return err
	}

	mgrOpts := []certmgr.Option{
		certmgr.WithConfig(cfg.CertMgr),
		certmgr.WithLogger(logger),
		certmgr.WithHealth(monitor),
		certmgr.WithMetrics(coreMetrics),
	}
	if natsClient != nil {
		notifier := certmgr.NewNotifier(natsClient, cfg.NATS.ReconfigSubject,
			certmgr.WithNotifierMetrics(coreMetrics))
		mgrOpts = append(mgrOpts, certmgr.WithNotifier(notifier))
		logger.Info("Reconfiguration notices enabled", "subject", notifier.Subject())
	}

	mgr, err := certmgr.New(backend, mgrOpts...)
	if err != nil {
		return fmt.Errorf("create certificate manager: %w", err)
	}
	if err := mgr.Init(ctx, cfg.CertMgr.MgrAddr); err != nil {
		return fmt.Errorf("initialize certificate manager: %w", err)
	}
	logger.Info("Root CA ready", "state", mgr.State().String())

	return serve(ctx, cfg, cliCfg.ShutdownTimeout, mgr, monitor, metricsRegistry, natsClient, logger)
}

// serve runs every long-lived task until ctx is cancelled or one of them fails.
func serve(
	ctx context.Context,
	cfg *config.Config,
	shutdownTimeout time.Duration,
	mgr *certmgr.Manager,
	monitor *health.Monitor,
	metricsRegistry *metric.Registry,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweeper := certmgr.NewSweeper(mgr, cfg.CertMgr.CheckInterval.Std(), logger,
			certmgr.WithStatusMonitor(monitor))
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return mgr.Watch(gctx)
	})
	if natsClient != nil {
		g.Go(func() error {
			watchNATS(gctx, natsClient, metricsRegistry.Core(), monitor)
			return nil
		})
	}

	var stoppers []func(context.Context) error

	if cfg.HTTP.Enabled {
		tlsConfig, err := apihttp.BuildTLSConfig(cfg.Security.TLS.Server, mgr, []string{cfg.CertMgr.MgrAddr})
		if err != nil {
			return fmt.Errorf("build API TLS config: %w", err)
		}
		api, err := apihttp.NewServer(cfg.HTTP.Addr, mgr,
			apihttp.WithLogger(logger),
			apihttp.WithHealthMonitor(monitor),
			apihttp.WithTLSConfig(tlsConfig),
			apihttp.WithMetrics(metricsRegistry),
		)
		if err != nil {
			return fmt.Errorf("create API server: %w", err)
		}
		g.Go(api.Start)
		stoppers = append(stoppers, api.Stop)
	}

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, metricsRegistry, nil)
		g.Go(metricsServer.Start)
		stoppers = append(stoppers, metricsServer.Stop)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, stopFn := range stoppers {
			if err := stopFn(shutdownCtx); err != nil {
				logger.Error("Shutdown error", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Certificate manager stopped")
	return nil
}

// connectToNATS creates the client and waits for the first connection.
func connectToNATS(ctx context.Context, appCfg *config.Config, m *metric.Metrics, logger *slog.Logger) (*natsclient.Client, error) {
	cfg := appCfg.NATS
	url := "nats://localhost:4222"
	if len(cfg.URLs) > 0 {
		url = strings.Join(cfg.URLs, ",")
	}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(appCfg.Security.TLS.Client)
	if err != nil {
		return nil, fmt.Errorf("build NATS TLS config: %w", err)
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithDisconnectCallback(func(error) { m.RecordNATSStatus(false) }),
		natsclient.WithReconnectCallback(func() {
			m.RecordNATSReconnect()
			m.RecordNATSStatus(true)
		}),
	}
	if cfg.ReconnectWait.Std() > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait.Std()))
	}
	if cfg.ClientName != "" {
		opts = append(opts, natsclient.WithClientName(cfg.ClientName))
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}

	client, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	m.RecordNATSStatus(true)
	return client, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, client *natsclient.Client) (storage.Store, error) {
	if cfg.Backend == config.StoreBackendMemory {
		slog.Warn("Using the in-memory store; certificates are lost on restart")
		return memory.New(), nil
	}

	store, err := kvstore.Open(ctx, client, cfg.Bucket,
		kvstore.WithHistory(cfg.History),
		kvstore.WithReplicas(cfg.Replicas))
	if err != nil {
		return nil, fmt.Errorf("open store bucket %s: %w", cfg.Bucket, err)
	}
	return store, nil
}

// watchNATS mirrors the client's connection state into metrics and health
// until ctx is done.
func watchNATS(ctx context.Context, client *natsclient.Client, m *metric.Metrics, monitor *health.Monitor) {
	ticker := time.NewTicker(natsStatusInterval)
	defer ticker.Stop()

	for {
		status := client.Status()
		m.RecordNATSStatus(status == natsclient.StatusConnected)
		m.RecordCircuitBreakerState(status == natsclient.StatusCircuitOpen)
		switch status {
		case natsclient.StatusConnected:
			monitor.UpdateHealthy("nats", "connected")
		case natsclient.StatusReconnecting, natsclient.StatusConnecting:
			monitor.UpdateDegraded("nats", status.String())
		default:
			monitor.UpdateUnhealthy("nats", status.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
