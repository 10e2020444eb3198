/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the timesheet billing server.
  Handles configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, env, .env, optional YAML)
  2. Build the zap logger
  3. Open the store, migrate, seed the settings row
  4. Create the billing service with metrics
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port        HTTP server port (default: 8080)
  --db-driver   sqlite | postgres (default: sqlite)
  --db          Database DSN (default: timesheet.db)
                Use ":memory:" for an in-memory SQLite database
  --config      Optional YAML config file
  --log-level   debug | info | warn | error
  --log-format  json | console

ENVIRONMENT:
  Every config key can be set as TIMESHEET_<SECTION>_<KEY>,
  e.g. TIMESHEET_DATABASE_DSN. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlstore/store.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/warp/timesheet/api"
	"github.com/warp/timesheet/billing"
	"github.com/warp/timesheet/config"
	"github.com/warp/timesheet/logging"
	"github.com/warp/timesheet/metrics"
	"github.com/warp/timesheet/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SeedSettings(ctx, cfg.Billing); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := billing.NewService(store,
		billing.WithLogger(log.Named("billing")),
		billing.WithRecorder(metrics.NewInvoicing(reg)),
	)

	router := api.NewRouter(api.NewHandler(svc, log.Named("api")), api.RouterOptions{
		Logger:         log.Named("http"),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        reg,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db_driver", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
