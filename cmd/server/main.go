/*
main.go - Ledger host entry point

PURPOSE:
  Starts the food ledger host: one write authority over a durable store,
  exposed over HTTP, announcing every append in-process and optionally to
  Kafka. Handles configuration, dependency injection and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (YAML file, FOODLEDGER_* environment), apply flags
  2. Open the store (SQLite file, or in-memory for ":memory:")
  3. Build publishers (event hub, Kafka when brokers are configured)
  4. Create the authority and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for a volatile in-memory ledger
  -tokens  Comma separated writer tokens (overrides config)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections and end open event streams
  2. Wait for active requests to complete (30s timeout)
  3. Close the Kafka writer and the database
  4. Exit

EXAMPLES:
  # Run with file database and one writer token
  ./server -db="./data/ledger.db" -tokens="ops-token"

  # Run with in-memory ledger
  ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/food-ledger/api"
	"github.com/warp/food-ledger/config"
	"github.com/warp/food-ledger/events"
	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/ledger/store"
	"github.com/warp/food-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path, or :memory: (overrides config)")
	tokens := flag.String("tokens", "", "comma separated writer tokens (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.Database = *dbPath
	}
	if *tokens != "" {
		cfg.Server.Tokens = config.SplitAndTrim(*tokens, ",")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize store
	var backing ledger.Store
	if cfg.Server.Database == config.MemoryDatabase {
		backing = store.NewMemory()
		logger.Warn("using in-memory ledger; records are lost on exit")
	} else {
		db, err := sqlite.New(cfg.Server.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		backing = db
	}

	// Publishers
	hub := events.NewHub(logger)
	publishers := []ledger.Publisher{hub}
	if len(cfg.Server.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Server.Kafka.Brokers,
			Topic:   cfg.Server.Kafka.Topic,
		}, logger)
		if err != nil {
			return err
		}
		defer kp.Close()
		publishers = append(publishers, kp)
	}

	var auth ledger.Authorizer = ledger.NewTokenSet(cfg.Server.Tokens...)
	if len(cfg.Server.Tokens) == 0 {
		logger.Warn("no writer tokens configured; every append will be rejected")
	}

	authority := ledger.NewAuthority(backing, auth, logger, publishers...)
	handler := api.NewHandler(authority, hub, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins...)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/events responses stay open.
		IdleTimeout: 60 * time.Second,
	}
	// Shutdown does not cancel request contexts; closing the hub ends open
	// event streams so their connections can drain.
	server.RegisterOnShutdown(hub.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", server.Addr), slog.String("database", cfg.Server.Database))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
