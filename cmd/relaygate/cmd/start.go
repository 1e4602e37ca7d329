package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/adapter/inbound/admin"
	httptransport "github.com/relaygate/relaygate/internal/adapter/inbound/http"
	"github.com/relaygate/relaygate/internal/adapter/inbound/proxy"
	"github.com/relaygate/relaygate/internal/adapter/outbound/sqlite"
	"github.com/relaygate/relaygate/internal/clock"
	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/domain/auth"
	"github.com/relaygate/relaygate/internal/domain/ratelimit"
	"github.com/relaygate/relaygate/internal/service"
	"github.com/relaygate/relaygate/internal/telemetry"
)

var traceFlag bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	startCmd.Flags().BoolVar(&traceFlag, "trace", false, "export spans to stdout")
	rootCmd.AddCommand(startCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	creds := config.LoadCredentials()

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	secret, err := auth.NewSharedSecret(creds.AdminUsername, creds.AdminPassword)
	if err != nil {
		return fmt.Errorf("admin credential: %w (set ADMIN_USERNAME and ADMIN_PASSWORD)", err)
	}
	tokens, err := auth.NewTokenIssuer([]byte(creds.TokenSigningKey))
	if err != nil {
		return fmt.Errorf("token issuer: %w (set TOKEN_SIGNING_KEY)", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, traceFlag || cfg.Telemetry.Traces)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Validate the initial route table; a denied target is fatal here,
	// where a reload would merely be rejected.
	validator := config.NewSSRFValidator(cfg)
	snapshot, err := config.BuildSnapshot(ctx, cfg, validator, time.Now())
	if err != nil {
		return fmt.Errorf("initial config: %w", err)
	}

	db, err := sqlite.Open(cfg.Audit.Path)
	if err != nil {
		return err
	}
	auditStore := sqlite.NewAuditStore(db, logger, sqlite.WithQueueSize(cfg.Audit.QueueSize))
	keyStore, err := sqlite.NewKeyStore(db)
	if err != nil {
		return err
	}

	reloadSvc := service.NewReloadService(cfg, snapshot, validator, logger)

	dataLimiter := ratelimit.NewLimiter(time.Minute)
	adminLimiter := ratelimit.NewAdminLimiter(
		cfg.AdminRateLimit.AttemptsPerWindow,
		time.Duration(cfg.AdminRateLimit.WindowSeconds)*time.Second,
		time.Duration(cfg.AdminRateLimit.BlockSeconds)*time.Second,
	)

	forwarder := proxy.NewForwarder(proxy.ForwarderConfig{
		ConnectTimeout:       time.Duration(cfg.Forwarder.ConnectTimeoutSeconds) * time.Second,
		MaxConcurrentPerHost: cfg.Forwarder.MaxConcurrentPerHost,
		PinResolvedAddrs:     cfg.Forwarder.PinResolvedAddrs,
	}, logger)
	defer forwarder.CloseIdleConnections()

	registry := prometheus.NewRegistry()
	metrics := httptransport.NewMetrics(registry,
		func() float64 { return float64(auditStore.Dropped()) },
		func() float64 { return float64(dataLimiter.Size()) },
	)

	proxyHandler := proxy.NewHandler(reloadSvc, dataLimiter, forwarder, clock.System{})
	proxyHandler.SetRateLimitedCounter(metrics.RateLimitedHits)
	dataPlane := httptransport.MetricsMiddleware(metrics, "data")(proxyHandler)

	adminHandler := admin.NewHandler(admin.Config{
		Reload:        reloadSvc,
		DataLimiter:   dataLimiter,
		AdminLimiter:  adminLimiter,
		Secret:        secret,
		Tokens:        tokens,
		Keys:          keyStore,
		AuditQuery:    auditStore,
		AuditDropped:  auditStore.Dropped,
		Recorder:      httptransport.NewAdminRecorder(auditStore),
		ReloadCounter: metrics.ConfigReloads,
		Clock:         clock.System{},
		Logger:        logger,
	})
	controlPlane := httptransport.MetricsMiddleware(metrics, "control")(adminHandler.Routes())

	health := httptransport.NewHealthChecker(auditStore.Dropped, dataLimiter.Size, Version)

	opts := []httptransport.Option{
		httptransport.WithAddr(cfg.Server.ListenAddr),
		httptransport.WithHTTPPort(cfg.Server.HTTPPort),
		httptransport.WithGracePeriod(cfg.ShutdownGrace()),
		httptransport.WithLogger(logger),
		httptransport.WithHealthHandler(health.Handler()),
		httptransport.WithMetricsRegistry(registry),
		httptransport.WithMiddleware(
			httptransport.RecoverMiddleware(logger),
			httptransport.ClientIPMiddleware,
			httptransport.RequestIDMiddleware(logger),
			httptransport.RecorderMiddleware(auditStore),
			httptransport.CORSMiddleware(reloadSvc),
		),
	}
	if cfg.Server.HTTPSPort > 0 {
		opts = append(opts, httptransport.WithTLS(cfg.Server.HTTPSPort, cfg.Server.TLSCert, cfg.Server.TLSKey))
	}

	transport := httptransport.NewTransport(dataPlane, controlPlane, opts...)

	logger.Info("relaygate starting",
		"version", Version,
		"routes", snapshot.Len(),
		"http_port", cfg.Server.HTTPPort,
		"https_port", cfg.Server.HTTPSPort,
		"audit_path", cfg.Audit.Path,
	)

	serveErr := transport.ListenAndServe(ctx)

	// Drain the audit queue before exit; appends that returned before
	// the shutdown signal must reach disk.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auditStore.Flush(drainCtx); err != nil {
		logger.Warn("audit drain incomplete", "error", err)
	}
	if err := auditStore.Close(); err != nil {
		logger.Warn("audit store close failed", "error", err)
	}

	return serveErr
}
