package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/staking-ledger/internal/asset"
	"github.com/atmx/staking-ledger/internal/audit"
	"github.com/atmx/staking-ledger/internal/config"
	"github.com/atmx/staking-ledger/internal/ledger"
	"github.com/atmx/staking-ledger/internal/metrics"
	"github.com/atmx/staking-ledger/internal/recorder"
	"github.com/atmx/staking-ledger/internal/staking"
	"github.com/atmx/staking-ledger/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Configuration ---
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "path", cfgPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Database.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Database.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Database.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Database.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Event archive ---
	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			slog.Error("sqlite recorder failed", "err", err)
			os.Exit(1)
		}
		rec = sqliteRec
	}
	cleanup = append(cleanup, func() { rec.Close() })

	// --- Asset bank ---
	registry, err := asset.NewRegistry(cfg.AssetList()...)
	if err != nil {
		slog.Error("invalid asset registry", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := staking.NewWSHub()
	go wsHub.Run()
	defer wsHub.Stop()

	// --- Staking service ---
	svc := staking.NewService(st, registry, cfg.LedgerAddress(), staking.Options{
		Policy:   cfg.TransferPolicy(),
		Recorder: rec,
		Hub:      wsHub,
		Faucet:   cfg.Faucet.Enabled,
	})

	if err := bootstrap(ctx, cfg, svc, st); err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	// --- Solvency audit ---
	if !cfg.Audit.Disabled {
		sched, err := audit.NewScheduler(ctx, svc.Auditor(), cfg.Audit.Cron)
		if err != nil {
			slog.Error("audit schedule", "err", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"staking-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stream of staked/unstaked events. Long-lived, so it sits
		// outside the request timeout.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("staking-ledger listening",
			"port", cfg.Server.Port,
			"ledger", cfg.LedgerAddress().Hex(),
			"policy", string(cfg.TransferPolicy()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down staking-ledger...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("staking-ledger stopped")
}

// bootstrap applies genesis allocations and the optional auto-initialize
// while the ledger has no configuration. Without auto_initialize a restart
// before the first initialize credits genesis again.
func bootstrap(ctx context.Context, cfg *config.Config, svc *staking.Service, st store.Store) error {
	_, err := st.GetConfiguration(ctx)
	if err == nil {
		slog.Info("ledger already initialized, skipping genesis")
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	for _, g := range cfg.Genesis() {
		if err := svc.Credit(ctx, g.Asset, g.Holder, g.Amount); err != nil {
			return fmt.Errorf("genesis %s -> %s: %w", g.Asset.Hex(), g.Holder.Hex(), err)
		}
		slog.Info("genesis allocation", "asset", g.Asset.Hex(), "holder", g.Holder.Hex(), "amount", g.Amount.Dec())
	}

	if !cfg.Ledger.AutoInitialize {
		return nil
	}
	_, err = svc.Initialize(ctx,
		common.HexToAddress(cfg.Ledger.StakingAsset), common.HexToAddress(cfg.Ledger.RewardAsset),
		uint256.NewInt(cfg.Ledger.RewardRate))
	if errors.Is(err, ledger.ErrAlreadyInitialized) {
		return nil
	}
	return err
}
