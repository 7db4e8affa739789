// Package main is the entry point for the claim analysis server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	claimai "github.com/Marius555/insuranceSaas-sub000"
	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	"github.com/Marius555/insuranceSaas-sub000/internal/config"
	"github.com/Marius555/insuranceSaas-sub000/internal/genai"
	"github.com/Marius555/insuranceSaas-sub000/internal/metrics"
	"github.com/Marius555/insuranceSaas-sub000/internal/observability"
	"github.com/Marius555/insuranceSaas-sub000/internal/quota"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(bootLogger)

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer cfgManager.Close()

	cfg := cfgManager.Get()

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger.Slog())
	logger.Info("starting claim analysis server", "version", claimai.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	ledger, err := buildLedger(cfg, logger.Slog())
	if err != nil {
		return err
	}

	auditStore, err := buildAuditStore(ctx, cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer auditStore.Close()

	orch, err := buildOrchestrator(cfg, ledger, audit.NewLogger(auditStore, logger.Slog()), logger.Slog(), tracerProvider)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	client := genai.NewClient(genai.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	})

	handler := newHandler(orch, client, auditStore, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.health)
	mux.HandleFunc("POST /v1/analyze", handler.analyze)
	mux.HandleFunc("GET /v1/audit/recent", handler.auditRecent)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var httpHandler http.Handler = mux
	if cfg.RateLimit.Enabled {
		limiter := newClientRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize, logger.Slog())
		httpHandler = limiter.middleware(httpHandler)
	}
	httpHandler = metrics.Middleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func buildLogger(cfg config.LoggingConfig) *observability.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.Format != "text",
	}, observability.NewRedactor())
}

func buildLedger(cfg *config.Config, logger *slog.Logger) (quota.Ledger, error) {
	limits := modelLimits(cfg)

	switch cfg.Quota.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Quota.Redis.Addr,
			Password: cfg.Quota.Redis.Password,
			DB:       cfg.Quota.Redis.DB,
		})
		logger.Info("using redis quota ledger", "addr", cfg.Quota.Redis.Addr)
		return quota.NewRedisLedger(client, limits, quota.WithLogger(logger)), nil
	default:
		return quota.NewMemoryLedger(limits), nil
	}
}

func buildAuditStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	var store audit.Store
	switch cfg.Audit.Backend {
	case "postgres":
		pg, err := audit.NewPostgresStore(cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		store = pg
	default:
		store = audit.NewMemoryStore(audit.DefaultMemoryCapacity)
	}

	if cfg.Audit.S3Archive.Enabled {
		archiver, err := audit.NewS3Archiver(ctx, audit.S3ArchiverConfig{
			Bucket:        cfg.Audit.S3Archive.Bucket,
			PathPrefix:    cfg.Audit.S3Archive.KeyPrefix,
			Region:        cfg.Audit.S3Archive.Region,
			FlushInterval: cfg.Audit.S3Archive.FlushInterval,
			BatchSize:     cfg.Audit.S3Archive.BatchSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init s3 audit archiver: %w", err)
		}
		store = audit.Tee(store, archiver)
	}
	return store, nil
}

func modelLimits(cfg *config.Config) map[string]quota.Limits {
	limits := make(map[string]quota.Limits)
	for _, m := range append(append([]config.ModelConfig{}, cfg.Models.Tier1...), cfg.Models.Tier2...) {
		limits[m.Name] = quota.Limits{
			RequestsPerMinute: m.RequestsPerMinute,
			TokensPerMinute:   m.TokensPerMinute,
		}
	}
	return limits
}

func buildOrchestrator(cfg *config.Config, ledger quota.Ledger, auditor *audit.Logger, logger *slog.Logger, tp *observability.TracerProvider) (*claimai.Orchestrator, error) {
	opts := []claimai.Option{
		claimai.WithLedger(ledger),
		claimai.WithAuditLogger(auditor),
		claimai.WithLogger(logger),
		claimai.WithTracer(tp.Tracer()),
		claimai.WithThresholds(thresholdsFromConfig(cfg)),
	}

	for i, m := range cfg.Models.Tier1 {
		lim := claimai.Limits{RequestsPerMinute: m.RequestsPerMinute, TokensPerMinute: m.TokensPerMinute}
		if i == 0 {
			opts = append(opts, claimai.WithFastModel(m.Name, lim))
		} else {
			opts = append(opts, claimai.WithStandardModel(m.Name, lim))
		}
	}
	for _, m := range cfg.Models.Tier2 {
		opts = append(opts, claimai.WithStandardModel(m.Name, claimai.Limits{
			RequestsPerMinute: m.RequestsPerMinute,
			TokensPerMinute:   m.TokensPerMinute,
		}))
	}

	if cfg.Models.Forced != "" {
		opts = append(opts, claimai.WithForcedModel(cfg.Models.Forced))
	}
	if cfg.Cache.Enabled {
		opts = append(opts, claimai.WithResultCache(cfg.Cache.TTL))
	}

	return claimai.New(opts...)
}
