// Package main is the entry point for the grantflow case server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/casefold/grantflow/internal/casework"
	"github.com/casefold/grantflow/internal/config"
	"github.com/casefold/grantflow/internal/definition"
	"github.com/casefold/grantflow/internal/notify"
	"github.com/casefold/grantflow/internal/observability"
	"github.com/casefold/grantflow/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "grantflow", version)
	if err != nil {
		logger.Fatal("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load workflow definitions, validate, build registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		metrics.RecordDefinitionLoad("error")
		logger.Fatal("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(defs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		metrics.RecordDefinitionLoad("error")
		logger.Fatal("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(defs)
	metrics.RecordDefinitionLoad("success")
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Case store.
	caseStore, caseStoreCloser, err := buildCaseStore(ctx, cfg.Cases.Store, logger)
	if err != nil {
		logger.Fatal("case store initialization failed", zap.Error(err))
		return 1
	}

	// Notification publisher.
	publisher, publisherCloser, err := buildPublisher(cfg.Notifications, logger)
	if err != nil {
		logger.Fatal("notification publisher initialization failed", zap.Error(err))
		return 1
	}

	engine := casework.NewEngine(registry, caseStore, publisher, logger,
		casework.WithMetrics(metrics))

	// Readiness checks using data known at startup.
	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.AllWorkflows()) > 0 },
	}
	if hc, ok := caseStore.(observability.HealthChecker); ok {
		readinessChecks.CaseStore = hc
	}
	if hc, ok := publisher.(observability.HealthChecker); ok {
		readinessChecks.Notifier = hc
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Engine:       engine,
		Registry:     registry,
		Metrics:      metrics,
		Readiness:    readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.TracingMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if caseStoreCloser != nil {
		caseStoreCloser()
	}
	if publisherCloser != nil {
		publisherCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCaseStore creates the case store based on config.
func buildCaseStore(ctx context.Context, cfg config.CaseStoreConfig, logger *zap.Logger) (casework.CaseStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory case store")
		return casework.NewMemoryCaseStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			if cfg.DSNEnv != "" {
				return nil, nil, fmt.Errorf("case store: %s environment variable not set", cfg.DSNEnv)
			}
			logger.Warn("case store DSN not configured, using in-memory store")
			return casework.NewMemoryCaseStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("case store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("case store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("case store: ping: %w", err)
		}

		return casework.NewPgCaseStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported case store driver: %q", cfg.Driver)
	}
}

// buildPublisher creates the notification publisher based on config.
func buildPublisher(cfg config.NotificationsConfig, logger *zap.Logger) (notify.Publisher, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory notification publisher")
		return notify.NewMemoryPublisher(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("notifications: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		closer := func() { client.Close() }
		return notify.NewRedisPublisher(client, cfg.Channel), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notification driver: %q", cfg.Driver)
	}
}
