package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/api"
	"github.com/atmx/auction-pool/internal/config"
	"github.com/atmx/auction-pool/internal/events"
	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/host/gateway"
	"github.com/atmx/auction-pool/internal/host/sim"
	"github.com/atmx/auction-pool/internal/keeper"
	"github.com/atmx/auction-pool/internal/metrics"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(cfg.Log.Handler(os.Stdout)))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Host ---
	var h host.Host
	var chain *sim.Chain
	if cfg.Gateway.URL != "" {
		h = gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.RequestsPerSecond)
		slog.Info("using chain gateway", "url", cfg.Gateway.URL)
	} else {
		slog.Warn("GATEWAY_URL not set, running against the in-process simulator")
		chain = sim.New(sim.Options{
			Agent: cfg.Agent.Address,
			Start: time.Now(),
			AuctionParams: model.AuctionParams{
				MinNextBidIncrementRate: decimal.RequireFromString("0.01"),
				AuctionPeriodSecs:       7 * 24 * 3600,
			},
		})
		h = chain
	}

	// --- WebSocket hub ---
	hub := events.NewHub()
	go hub.Run(ctx.Done())

	// --- Agent ---
	pool, err := agent.New(agent.Options{
		Address:      cfg.Agent.Address,
		Host:         h,
		Store:        st,
		BidValuation: cfg.Agent.BidValuation,
		Observers:    []agent.Observer{metrics.Observer{}, hub},
	})
	if err != nil {
		slog.Error("agent init failed", "err", err)
		os.Exit(1)
	}
	if err := bootstrap(ctx, pool, cfg.Pool); err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}
	if g, err := pool.State(ctx); err == nil {
		metrics.SetLedger(g)
	}

	if cfg.Keeper.Enabled {
		go keeper.New(pool, h, cfg.Keeper.Sender, cfg.KeeperInterval()).Run(ctx)
	}

	var auth api.Authenticator
	if cfg.Server.JWTSecret != "" {
		auth = api.NewJWTAuth(cfg.Server.JWTSecret)
	} else {
		slog.Warn("JWT_SECRET not set, commands act as the sender named in the request body")
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auction-pool"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Committed invocations, pushed as they happen.
		r.Get("/ws", hub.HandleWS)
		api.NewHandler(pool, auth).Mount(r)
	})

	// The simulator speaks the gateway protocol so it can be driven externally.
	if chain != nil {
		r.Mount("/gateway", gateway.NewServer(chain).Routes())
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auction-pool listening", "port", cfg.Server.Port, "agent", cfg.Agent.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down auction-pool...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("auction-pool stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var cleanup []func()

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pgPool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pgPool.Close)
		pg := store.NewPostgresStore(pgPool)
		if err := pg.Migrate(ctx); err != nil {
			pgPool.Close()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")

		var st store.Store = pg
		// Wrap with Redis read-through cache if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				pgPool.Close()
				return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL())
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL().String())
		}
		return st, cleanup, nil

	case config.DriverSQLite:
		lite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		slog.Info("opened SQLite store", "path", cfg.Storage.SQLitePath)
		return lite, cleanup, nil

	default:
		slog.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}
}

// bootstrap seeds the ledger from the pool section on first boot. An existing
// ledger keeps its stored config.
func bootstrap(ctx context.Context, pool *agent.Agent, seed model.Config) error {
	_, err := pool.Config(ctx)
	if err == nil {
		slog.Info("ledger already initialized")
		return nil
	}
	if !errors.Is(err, agent.ErrNotInitialized) {
		return err
	}
	_, err = pool.Bootstrap(ctx, seed)
	return err
}
