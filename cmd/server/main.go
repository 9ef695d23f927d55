/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the milk ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and configure logging
  2. Open the SQLite store
  3. Create the ledger engine and load all records into memory
  4. Optionally load a demo scenario and start the backup scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port             HTTP server port (default: 8080)
  -db               SQLite database path (default: milk.db)
                    Use ":memory:" for in-memory database
  -log-level        debug, info, warn or error (default: info)
  -log-json         Emit JSON log lines
  -demo             Replace the ledger with a demo scenario on startup
  -backup-dir       Directory for automatic daily backups (off when empty)
  -backup-interval  How often the backup scheduler runs (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the backup scheduler
  4. Drain queued store writes and close the engine
  5. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/milk.db"

  # Run in memory with demo data
  ./server -db=":memory:" -demo=full-month

  # Back up every 6 hours
  ./server -backup-dir=./backups -backup-interval=6h

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - ledger/engine.go: Ledger engine
  - store/sqlite/sqlite.go: Database implementation
*/
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

	log "github.com/sirupsen/logrus"
	"github.com/warp/milk-ledger/api"
	"github.com/warp/milk-ledger/ledger"
	"github.com/warp/milk-ledger/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "milk.db", "SQLite database path")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "Emit JSON log lines")
	demo := flag.String("demo", "", "Load a demo scenario on startup (replaces all data)")
	backupDir := flag.String("backup-dir", "", "Directory for automatic backups")
	backupInterval := flag.Duration("backup-interval", time.Hour, "Automatic backup interval")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", *logLevel, err)
	}
	log.SetLevel(level)
	if *logJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	logger := log.WithField("app", "milk-ledger")

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	if customers, deliveries, err := store.Counts(context.Background()); err == nil {
		logger.WithFields(log.Fields{
			"db":         *dbPath,
			"customers":  customers,
			"deliveries": deliveries,
		}).Info("Database opened")
	}

	// Initialize engine
	engine := ledger.NewEngine(store, ledger.WithLogger(logger.WithField("component", "ledger")))
	defer engine.Close()

	if err := engine.Load(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to load ledger")
	}

	handler := api.NewHandler(engine, logger.WithField("component", "api"))

	if *demo != "" {
		if err := handler.ApplyScenario(context.Background(), *demo); err != nil {
			logger.WithError(err).Fatal("Failed to load demo scenario")
		}
	}

	var scheduler *api.BackupScheduler
	if *backupDir != "" {
		scheduler = api.NewBackupScheduler(engine, *backupDir, logger.WithField("component", "backup-scheduler"))
		scheduler.Interval = *backupInterval
		scheduler.Start()
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithField("addr", server.Addr).Infof("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	if err := engine.Flush(ctx); err != nil {
		logger.WithError(err).Warn("Pending store writes were not drained")
	}

	logger.Info("Server stopped")
}
