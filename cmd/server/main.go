/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the balance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, YAML, environment)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Connect the hot cache (in-memory, Redis, or none)
  5. Connect the event publisher (Kafka, or none)
  6. Wire ledger services, HTTP handler, router and scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: $CONFIG_FILE)
  -addr    HTTP listen address, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown_timeout, 30s default)
  4. Close publisher, cache and store

EXAMPLES:
  # Single node, file database
  ./server -db="./data/ledger.db"

  # Shared PostgreSQL and Redis
  STORE_DRIVER=postgres DATABASE_URL=postgres://... \
  CACHE_DRIVER=redis REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: all settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/balance-engine/api"
	"github.com/warp/balance-engine/cache"
	"github.com/warp/balance-engine/config"
	"github.com/warp/balance-engine/events"
	"github.com/warp/balance-engine/ledger"
	"github.com/warp/balance-engine/logging"
	"github.com/warp/balance-engine/store/postgres"
	"github.com/warp/balance-engine/store/sqlite"
)

// durableStore is a ledger.Store that can also be health checked.
type durableStore interface {
	ledger.Store
	Ping(ctx context.Context) error
}

// hotCache is a ledger.HotCache that can also be health checked.
type hotCache interface {
	ledger.HotCache
	Ping(ctx context.Context) error
}

func main() {
	// Flags
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLitePath = *dbPath
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode logs err and flushes the logger. os.Exit skips deferred calls,
// so the flush has to happen here.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("server failed", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	clock := ledger.SystemClock{}

	// Initialize store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	// Initialize cache
	hot, closeCache, err := openCache(ctx, cfg, clock, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer closeCache()

	// Initialize events
	var publisher ledger.EventPublisher = events.Noop{}
	if len(cfg.Events.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka: %w", err)
		}
		defer kp.Close()
		publisher = kp
		logger.Info("publishing transaction events", zap.Strings("brokers", cfg.Events.Brokers))
	}

	// Ledger services
	policy := ledger.NewSnapshotPolicy(store, cfg.Ledger.SnapshotThreshold, clock, logger.Named("snapshots"))
	resolverOpts := ledger.ResolverOptions{
		Ledger:       store,
		Snapshots:    store,
		Accounts:     store,
		Policy:       policy,
		Clock:        clock,
		CacheTimeout: cfg.Cache.Timeout,
		Logger:       logger.Named("resolver"),
	}
	posterOpts := ledger.PosterOptions{
		Accounts:     store,
		Ledger:       store,
		Snapshots:    store,
		Events:       publisher,
		Clock:        clock,
		CacheTimeout: cfg.Cache.Timeout,
		Logger:       logger.Named("poster"),
	}
	deps := api.Deps{Store: store, Clock: clock, Logger: logger.Named("api")}
	if hot != nil {
		resolverOpts.Cache = hot
		posterOpts.Cache = hot
		deps.Cache = hot
	}

	resolver := ledger.NewResolver(resolverOpts)
	accounts := ledger.NewAccounts(store, cfg.Ledger.DefaultCurrency, clock, logger.Named("accounts"))
	deps.Accounts = accounts
	deps.Resolver = resolver
	deps.Poster = ledger.NewPoster(posterOpts)
	deps.History = ledger.NewHistory(store, store)

	handler := api.NewHandler(deps)
	router := api.NewRouter(handler, cfg.HTTP.AllowedOrigins)

	scheduler := api.NewSnapshotScheduler(accounts, resolver, clock, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("cache", cfg.Cache.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (durableStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.New(ctx, postgres.Options{
			DSN:      cfg.Store.Postgres.URL,
			MaxConns: cfg.Store.Postgres.MaxConns,
			MinConns: cfg.Store.Postgres.MinConns,
		}, logger.Named("postgres"))
	default:
		return sqlite.New(cfg.Store.SQLitePath)
	}
}

// openCache returns a nil cache for the "none" driver.
func openCache(ctx context.Context, cfg *config.Config, clock ledger.Clock, logger *zap.Logger) (hotCache, func(), error) {
	switch cfg.Cache.Driver {
	case "none":
		return nil, func() {}, nil
	case "redis":
		rc, err := cache.NewRedis(cache.RedisOptions{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Cluster:  cfg.Cache.Cluster,
		})
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx); err != nil {
			// Cache outages degrade to the snapshot and full tiers.
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		return rc, func() { rc.Close() }, nil
	default:
		return cache.NewMemory(clock), func() {}, nil
	}
}
