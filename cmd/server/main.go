/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the coaching engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, configure logging
  2. Initialize SQLite store
  3. Wire the booking engine, workflows, and tournament lifecycle
  4. Configure HTTP router, start the background sweep
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: coaching.db)
              Use ":memory:" for in-memory database
  -school     School id hosting the monthly tournament (default: school-main)
  -secret     HMAC secret for session tokens (default: dev only)
  -sweep      Sweep interval (default: 1m)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep, close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/coaching.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  LOG_LEVEL: debug, info, warn, error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - api/sweep.go: Background sweep
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/paddlepoint/coaching-engine/api"
	"github.com/paddlepoint/coaching-engine/auth"
	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/logging"
	"github.com/paddlepoint/coaching-engine/notify"
	"github.com/paddlepoint/coaching-engine/store/sqlite"
	"github.com/paddlepoint/coaching-engine/tournament"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "coaching.db", "SQLite database path")
	schoolID := flag.String("school", "school-main", "school hosting the monthly tournament")
	secret := flag.String("secret", "dev-secret-change-me", "HMAC secret for session tokens")
	sweepInterval := flag.Duration("sweep", time.Minute, "background sweep interval")
	flag.Parse()

	logging.Setup()
	log := slog.Default()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	clock := core.SystemClock{}
	accounts := store.Ledger()
	notifier := &notify.Log{Logger: log}

	engine := &booking.Engine{
		Appointments:  store.Appointments(),
		Relationships: store,
		Coaches:       store,
		Allocator: &booking.Allocator{
			Inventory:    store,
			Appointments: store.Appointments(),
		},
		Ledger:   accounts,
		Notifier: notifier,
		Clock:    clock,
		Tariff:   booking.DefaultTariff(),
		Log:      log,
	}

	cancel := &booking.CancelWorkflow{
		Appointments: store.Appointments(),
		Records:      store.CancelRecords(),
		Ledger:       accounts,
		Clock:        clock,
	}

	changes := &booking.CoachChangeWorkflow{
		Appointments: store.Appointments(),
		Requests:     store.CoachChanges(),
		Coaches:      store,
		Clock:        clock,
	}

	lifecycle := &tournament.Lifecycle{
		Store:       store,
		Tables:      store,
		Ledger:      accounts,
		Clock:       clock,
		Partitioner: &tournament.Partitioner{},
		Log:         log,
		SchoolID:    *schoolID,
	}

	sweeper := api.NewSweeper(engine, lifecycle, log)
	sweeper.Interval = *sweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	handler := &api.Handler{
		Engine:    engine,
		Cancel:    cancel,
		Changes:   changes,
		Lifecycle: lifecycle,
		Ledger:    accounts,
		Sweeper:   sweeper,
	}

	router := api.NewRouter(handler, auth.NewResolver(*secret))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
