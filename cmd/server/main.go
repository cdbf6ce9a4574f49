/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pharmacy stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Initialize SQLite store and the error-log hook
  4. Pick the medication locker (Redis when REDIS_ADDRESS is set)
  5. Create service, handler and router
  6. Start the reconciliation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, flush the error log
  4. Close Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/stock.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Share locks between instances
  REDIS_ADDRESS=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/locker"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DatabasePath = *dbPath

	logger, err := config.NewLogger(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	errorLog := config.NewErrorLogHook(store, 0)
	logger.AddHook(errorLog)
	defer errorLog.Close()

	lock, closeLock := newLocker(cfg, logger)
	defer closeLock()

	svc := pharmacy.New(pharmacy.Options{
		Store:             store,
		Locker:            lock,
		Logger:            logger.WithField("module", "pharmacy"),
		StoreTimeout:      cfg.StoreTimeout,
		CloseToExpireDays: cfg.CloseToExpireDays,
	})

	handler := api.NewHandler(svc, logger.WithField("module", "api"))
	handler.Health = store.Ping

	router := api.NewRouter(handler, cfg.AllowedOrigins)

	scheduler := api.NewReconciliationScheduler(svc, cfg.ReconcileInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     server.Addr,
			"database": cfg.DatabasePath,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}

	logger.Info("server stopped")
}

// newLocker returns the Redis locker when REDIS_ADDRESS is set, else the
// in-process one.
func newLocker(cfg config.Config, logger *logrus.Logger) (locker.Locker, func()) {
	if cfg.RedisAddress == "" {
		logger.Info("using in-process medication locks")
		return locker.NewLocal(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lock, rdb, err := locker.NewRedis(ctx, cfg.RedisAddress, cfg.LockTTL, logger.WithField("module", "locker"))
	if err != nil {
		logger.WithError(err).WithField("redis", cfg.RedisAddress).Fatal("failed to connect to redis")
	}
	logger.WithField("redis", cfg.RedisAddress).Info("using redis medication locks")
	return lock, func() { rdb.Close() }
}
