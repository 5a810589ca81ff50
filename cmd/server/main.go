/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the contribution ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Open the store (memory, SQLite or MongoDB)
  3. Connect the AMQP event publisher, if configured
  4. Build the ledger engine and API handler
  5. Run the HTTP server and the monthly scheduler under one errgroup

COMMAND-LINE FLAGS:
  -port     HTTP server port (overrides PORT)
  -backend  memory | sqlite | mongo (overrides DATA_BACKEND)
  -db       SQLite database path (overrides SQLITE_DB_PATH)
            Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the publisher and the store

EXAMPLES:
  ./server -backend=sqlite -db="./data/ledger.db"
  DATA_BACKEND=mongo MONGO_URI="mongodb://localhost:27017/?replicaSet=rs0" ./server

SEE ALSO:
  - config/config.go: Environment variables
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/welfare/contribution-ledger/api"
	"github.com/welfare/contribution-ledger/config"
	"github.com/welfare/contribution-ledger/events"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/welfare/contribution-ledger/ledger/store"
	"github.com/welfare/contribution-ledger/logging"
	"github.com/welfare/contribution-ledger/store/mongostore"
	"github.com/welfare/contribution-ledger/store/sqlite"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DataBackend, "backend", cfg.DataBackend, "storage backend: memory, sqlite or mongo")
	flag.StringVar(&cfg.SQLiteDBPath, "db", cfg.SQLiteDBPath, "SQLite database path")
	flag.Parse()

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier ledger.Notifier = ledger.NopNotifier{}
	if cfg.AMQPURL != "" {
		pub, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, log)
		if err != nil {
			return fmt.Errorf("connect to message broker: %w", err)
		}
		defer pub.Close()
		notifier = pub
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing ledger events")
	}

	policy, err := cfg.PolicySchedule()
	if err != nil {
		return err
	}
	engine := ledger.NewEngine(st, ledger.Config{
		Policy:         policy,
		Location:       cfg.Location(),
		MaxBatchWrites: cfg.MaxBatchWrites,
		Notifier:       notifier,
		Logger:         log,
	})

	handler := api.NewHandler(engine, log)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.CORSOrigins})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewContributionScheduler(engine, log)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("backend", cfg.DataBackend).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore returns the configured store and a func that closes it.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ledger.Store, func(), error) {
	switch cfg.DataBackend {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return store.NewMemory(), func() {}, nil

	case "sqlite":
		if dir := dirOf(cfg.SQLiteDBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("close sqlite")
			}
		}, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		s, err := mongostore.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				log.Error().Err(err).Msg("close mongodb")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
}

func dirOf(path string) string {
	if path == ":memory:" {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}
