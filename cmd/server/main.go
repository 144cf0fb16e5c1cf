// Package main runs the lobbyist ledger service:
// - JSON HTTP API for lobbyist and escrow operations
// - /health and /metrics endpoints
// - in-memory or Postgres + ClickHouse storage, optional Redis record locks
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futarchy-lobbyist/internal/config"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/ledger"
	"futarchy-lobbyist/internal/lock"
	redislock "futarchy-lobbyist/internal/lock/redis"
	"futarchy-lobbyist/internal/observability"
	"futarchy-lobbyist/internal/storage"
	chstore "futarchy-lobbyist/internal/storage/clickhouse"
	"futarchy-lobbyist/internal/storage/memory"
	"futarchy-lobbyist/internal/storage/migrations"
	pgstore "futarchy-lobbyist/internal/storage/postgres"
)

// allStores holds the storage implementations the ledger runs on.
type allStores struct {
	accounts storage.AccountStore
	venues   storage.VenueStore
	events   storage.EventStore
	locks    lock.Manager
}

func main() {
	configPath := flag.String("config", os.Getenv("LOBBYIST_CONFIG"), "Path to TOML config file (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	migrate := flag.Bool("migrate", true, "Apply embedded migrations on startup")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, *migrate)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	svc, err := ledger.New(ledger.Options{
		Program:        cfg.ProgramID(),
		Variant:        cfg.Variant(),
		Accounts:       stores.accounts,
		Venues:         stores.venues,
		Events:         stores.events,
		Locks:          stores.locks,
		Swapper:        ledger.NewPriceSwapper(uint8(cfg.Program.PriceDecimals)),
		VaultAuthority: cfg.VaultAuthority(),
		PriceDecimals:  uint8(cfg.Program.PriceDecimals),
		MaxAttestAge:   cfg.Program.MaxAttestAge,
		Logger:         log.New(os.Stdout, "[ledger] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		logger.Fatalf("Failed to create ledger: %v", err)
	}
	logger.Printf("Serving program %s (%s variant)", svc.Program(), svc.Variant())

	api := &API{
		ledger:        svc,
		accounts:      stores.accounts,
		venues:        stores.venues,
		events:        stores.events,
		priceDecimals: int32(cfg.Program.PriceDecimals),
		devMint:       cfg.Storage.UseMemory,
		logger:        logger,
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		logger.Printf("HTTP server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer shutdownCancel()

	go func() {
		// Second signal forces exit
		sig := <-sigCh
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	}()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Graceful shutdown failed: %v", err)
	}
	logger.Println("Shutdown complete")
}

// newMux wires the API together with health and metrics endpoints.
func newMux(api *API) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	api.Routes(mux)
	return mux
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg *config.Config, migrate bool) (*allStores, func(), error) {
	codec, err := layout.NewCodec(cfg.Variant())
	if err != nil {
		return nil, nil, err
	}

	locks, closeLocks, err := createLocks(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Storage.UseMemory {
		stores := &allStores{
			accounts: memory.NewAccountStore(),
			venues:   memory.NewVenueStore(),
			events:   memory.NewEventStore(),
			locks:    locks,
		}
		return stores, closeLocks, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		closeLocks()
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			closeLocks()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	// ClickHouse
	var chConn *chstore.Conn
	if migrate {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	}
	if err != nil {
		pool.Close()
		closeLocks()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (records and custody)
		accounts: pgstore.NewAccountStore(pool, codec),
		venues:   pgstore.NewVenueStore(pool),

		// ClickHouse journal
		events: chstore.NewEventStore(chConn),
		locks:  locks,
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
		closeLocks()
	}

	return stores, cleanup, nil
}

// createLocks returns Redis record locks when configured, in-process locks otherwise.
func createLocks(ctx context.Context, cfg *config.Config) (lock.Manager, func(), error) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	m, err := redislock.New(ctx, redislock.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
		TTL:        cfg.Redis.LockTTL.Duration,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return m, func() { m.Close() }, nil
}
