/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the approval and reconciliation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Load YAML config with environment overrides
  3. Initialize stores (local SQLite, or remote clients when configured)
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: approval-engine.yml)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run against the local SQLite store
  ./server -db="./data/approval.db"

  # Run against remote store services
  APPROVAL_REQUEST_BASE_URL=http://requests:8081 \
  APPROVAL_BILLING_BASE_URL=http://billing:8082 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Config file format and env overrides
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meridian/approval-engine/api"
	"github.com/meridian/approval-engine/billing"
	"github.com/meridian/approval-engine/config"
	"github.com/meridian/approval-engine/store/remote"
	"github.com/meridian/approval-engine/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	// Flags
	configPath := flag.String("config", "approval-engine.yml", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize stores. Remote when configured, local SQLite otherwise.
	var (
		requests billing.RequestWriteStore
		bills    billing.BillingStore
		closeFn  func() error
	)
	if cfg.UseRemoteStores() {
		log.Printf("Using remote stores: requests=%s billing=%s",
			cfg.Upstream.RequestBaseURL, cfg.Upstream.BillingBaseURL)
		requests = remoteRequests{remote.NewRequestClient(cfg.Upstream.RequestBaseURL, cfg.Upstream.Timeout.Std())}
		bills = remote.NewBillingClient(cfg.Upstream.BillingBaseURL, cfg.Upstream.Timeout.Std())
	} else {
		store, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		requests = store
		bills = store
		closeFn = store.Close
	}
	if closeFn != nil {
		defer closeFn()
	}

	// Initialize handler and router
	handler := api.NewHandler(requests, bills)
	if cfg.Reconciler.ConceptMaxLen > 0 {
		handler.Reconciler.ConceptMaxLen = cfg.Reconciler.ConceptMaxLen
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://%s", cfg.ListenAddr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// remoteRequests adapts the read-only remote request client onto the write
// interface the API expects. The intake service owns its own mutations, so
// approval actions are unsupported when running against remote stores.
type remoteRequests struct {
	*remote.RequestClient
}

func (remoteRequests) CreateRequest(context.Context, billing.Request) (*billing.Request, error) {
	return nil, billing.ErrInvalidInput
}

func (remoteRequests) SetAccountantStage(context.Context, billing.RequestID, billing.AccountantStage, string) error {
	return billing.ErrInvalidInput
}

func (remoteRequests) SetDirectorStage(context.Context, billing.RequestID, billing.DirectorStage, string) error {
	return billing.ErrInvalidInput
}
