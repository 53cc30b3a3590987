// Package main is the entry point for the tripdesk approval server.
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
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/internal/approval"
	"github.com/haneul-labs/tripdesk/internal/capability"
	"github.com/haneul-labs/tripdesk/internal/config"
	"github.com/haneul-labs/tripdesk/internal/finance"
	"github.com/haneul-labs/tripdesk/internal/idempotency"
	"github.com/haneul-labs/tripdesk/internal/notify"
	"github.com/haneul-labs/tripdesk/internal/observability"
	"github.com/haneul-labs/tripdesk/internal/transport"
	"github.com/haneul-labs/tripdesk/model"
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
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "tripdesk", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Initialize the approval store.
	store, storeCloser, err := buildApprovalStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("approval store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Initialize the finance lookup client.
	financeClient := finance.NewClient(cfg.Finance).WithMetrics(metrics)

	// Step 6: Initialize the notification sink.
	notifier, notifierCloser, err := buildNotifier(cfg.Notifications, logger)
	if err != nil {
		logger.Error("notification sink initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Initialize the idempotency store.
	idemStore, idemCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Initialize the capability resolver.
	capResolver, err := buildCapabilityResolver(cfg.Capability, logger)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}
	capResolver.WithMetrics(metrics)

	// Step 9: Build the approval engine.
	engine := approval.NewEngine(store, financeClient, notifier, capResolver)

	// Step 10: Build readiness checks from the wired dependencies.
	readiness := observability.ReadinessChecks{}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.ApprovalStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}
	if hc, ok := notifier.(observability.HealthChecker); ok {
		readiness.NotifyBroker = hc
	}

	// Step 11: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Engine:             engine,
		Metrics:            metrics,
		CapabilityResolver: capResolver,
		Idempotency:        idemStore,
		Readiness:          readiness,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 12: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.String("notifications", cfg.Notifications.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
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

	// Close stores and connections.
	if idemCloser != nil {
		idemCloser()
	}
	if notifierCloser != nil {
		notifierCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildApprovalStore creates the approval store based on config.
func buildApprovalStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (approval.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory approval store")
		return approval.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("approval store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("approval store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			poolCfg.MinConns = int32(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("approval store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("approval store: ping: %w", err)
		}

		logger.Info("using postgres approval store")
		return approval.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the notification sink based on config.
func buildNotifier(cfg config.NotificationsConfig, logger *zap.Logger) (model.NotificationSink, func(), error) {
	switch cfg.Driver {
	case "log", "":
		return notify.NewLogSink(logger), nil, nil
	case "memory":
		return notify.NewMemorySink(), nil, nil
	case "nats":
		url := os.Getenv(cfg.URLEnv)
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url,
			nats.Name("tripdesk"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		logger.Info("using nats notification sink", zap.String("subject_prefix", cfg.SubjectPrefix))
		return notify.NewNatsSink(conn, cfg.SubjectPrefix, logger), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notifications driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		logger.Info("idempotency disabled")
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		return idempotency.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.Store.DB,
		})
		logger.Info("using redis idempotency store")
		return idempotency.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Store.Driver)
	}
}

// buildCapabilityResolver creates the appropriate resolver based on config.
func buildCapabilityResolver(cfg config.CapabilityConfig, logger *zap.Logger) (*capability.Resolver, error) {
	var evaluator model.PolicyEvaluator
	switch cfg.Evaluator {
	case "static", "":
		ev, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		evaluator = ev
	case "builtin":
		evaluator = capability.NewBuiltinPolicyEvaluator()
	default:
		return nil, fmt.Errorf("unsupported capability evaluator: %q", cfg.Evaluator)
	}

	logger.Info("capability evaluator initialized", zap.String("evaluator", cfg.Evaluator))
	return capability.NewResolver(evaluator, cfg.Cache.TTL), nil
}
