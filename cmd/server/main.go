// Package main is the entry point for the pitchside prediction hub. It
// wires together the repositories, the Clearnode settlement client, all
// services, the WebSocket hub, the auto-play scheduler, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/pitchside/hub/internal/api"
	"github.com/pitchside/hub/internal/clearnode"
	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/scheduler"
	"github.com/pitchside/hub/internal/seed"
	"github.com/pitchside/hub/internal/service"
	"github.com/pitchside/hub/internal/ws"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting pitchside hub", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	marketRepo := repository.NewMarketRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	lpRepo := repository.NewLPRepository(db)
	gameRepo := repository.NewGameRepository(db)

	// ── 5. Seed defaults (idempotent upserts) ─────────────────────────────────
	seeder := seed.NewSeeder(gameRepo)
	if err = seeder.EnsureDefaults(context.Background()); err != nil {
		logger.Error("seeding failed", "err", err)
		os.Exit(1)
	}

	// ── 6. Clearnode settlement client + faucet ───────────────────────────────
	broker, err := clearnode.New(cfg.Clearnode)
	if err != nil {
		logger.Error("clearnode client init failed", "err", err)
		os.Exit(1)
	}
	faucet := clearnode.NewFaucet(cfg.Clearnode.FaucetURL)
	logger.Info("market maker", "address", broker.Address(), "asset", broker.Asset())

	// ── 7. Runtime config + WebSocket hub ─────────────────────────────────────
	runtime := config.NewRuntime(cfg)
	hub := ws.NewHub(cfg.Server.AllowedOrigins)

	// ── 8. Services (LP first: markets derive liquidity from pool value) ──────
	locks := service.NewMarketLocks()

	lpSvc := service.NewLPService(lpRepo, marketRepo, positionRepo, broker, hub)
	marketSvc := service.NewMarketService(marketRepo, gameRepo, runtime, cfg.Market.DefaultB, lpSvc, hub)
	gameSvc := service.NewGameService(gameRepo, hub)
	betSvc := service.NewBetService(db, marketRepo, positionRepo, gameRepo, runtime, broker, hub, locks)
	orderSvc := service.NewOrderBookService(orderRepo, marketRepo, gameRepo, runtime, broker, hub, locks)
	resolutionSvc := service.NewResolutionService(marketRepo, positionRepo, orderRepo, gameRepo, runtime, broker, hub, lpSvc)
	authSvc := service.NewAuthService(cfg.Auth)
	mmSvc := service.NewMMService(broker, faucet)

	// New connections get a full state snapshot on attach.
	stateProvider := service.NewStateSyncProvider(marketSvc, gameSvc, betSvc, orderSvc, hub)
	hub.SetStateProvider(stateProvider)

	// ── 9. Scheduler (auto-play) + admin service ──────────────────────────────
	sched := scheduler.NewScheduler(gameSvc, marketSvc, resolutionSvc, gameRepo, cfg, logger)
	adminSvc := service.NewAdminService(gameRepo, marketRepo, runtime, hub, sched, seeder)

	// ── 10. Root context + signal handling ────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 11. Start WS hub and auto-play ────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")
	sched.Start()

	// ── 12. HTTP router + server ──────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:       authSvc,
		GameSvc:       gameSvc,
		MarketSvc:     marketSvc,
		BetSvc:        betSvc,
		OrderSvc:      orderSvc,
		LPSvc:         lpSvc,
		ResolutionSvc: resolutionSvc,
		AdminSvc:      adminSvc,
		MMSvc:         mmSvc,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 13. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	if err = broker.Close(); err != nil {
		logger.Error("clearnode close error", "err", err)
	}
	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
