package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/topprop/settlement-engine/internal/clock"
	"github.com/topprop/settlement-engine/internal/config"
	"github.com/topprop/settlement-engine/internal/contest"
	"github.com/topprop/settlement-engine/internal/logger"
	"github.com/topprop/settlement-engine/internal/notify"
	"github.com/topprop/settlement-engine/internal/ops"
	"github.com/topprop/settlement-engine/internal/provider"
	"github.com/topprop/settlement-engine/internal/scheduler"
	"github.com/topprop/settlement-engine/internal/settlement"
	"github.com/topprop/settlement-engine/internal/spread"
	"github.com/topprop/settlement-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	envOnly := flag.Bool("env-only", false, "ignore the config file and read SE_* variables only")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *configPath, *envOnly, log); err != nil {
		log.Error("settlement-engine exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, configPath string, envOnly bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.DB.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("parse db dsn: %w", err)
		}
		if cfg.DB.MaxConns > 0 {
			poolCfg.MaxConns = cfg.DB.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if cfg.DB.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		st = pg
		log.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			log.Info("Redis cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
		}
	} else {
		log.Warn("db.dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.Pricing.SeedFile != "" {
		if err := seedSpreads(ctx, st, cfg.Pricing.SeedFile); err != nil {
			return err
		}
		log.Info("spread table seeded", zap.String("file", cfg.Pricing.SeedFile))
	}

	// --- Clock ---
	var clk clock.Clock = clock.System{}
	if cfg.App.ClockOffset != 0 {
		clk = clock.Offset{By: cfg.App.ClockOffset}
		log.Warn("clock offset active", zap.Duration("offset", cfg.App.ClockOffset))
	}

	// --- Providers ---
	var roster provider.RosterProvider
	var balances provider.BalanceProvider
	if cfg.Provider.BaseURL != "" {
		hc := provider.NewHTTPClient(cfg.Provider.BaseURL,
			provider.WithRateLimit(cfg.Provider.RPS, cfg.Provider.Burst),
			provider.WithHTTPClient(&http.Client{Timeout: cfg.Provider.Timeout}),
		)
		roster, balances = hc, hc
	} else {
		log.Warn("provider.base_url not set, using an empty static provider")
		sp := provider.NewStatic()
		roster, balances = sp, sp
	}

	// --- Notifications ---
	hub := notify.NewHub(log.Named("ws"))
	go hub.Run(ctx)
	sinks := notify.NewMulti(log).Add("websocket", hub)
	if cfg.Notify.WebhookURL != "" {
		sinks.Add("webhook", notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.RPS, nil))
	}

	// --- Core ---
	calc := spread.NewCalculator(st, spread.Options{
		MaxDifferential: decimal.NewFromFloat(cfg.Pricing.MaxDifferential),
		SpreadShare:     decimal.NewFromFloat(cfg.Pricing.SpreadShare),
		WinBonusShare:   decimal.NewFromFloat(cfg.Pricing.WinBonusShare),
	}, log.Named("pricing"))
	factory := contest.NewFactory(st, roster, balances, calc, clk, log.Named("contest"))
	engine := settlement.NewEngine(st, roster, sinks, clk, log.Named("settlement"),
		settlement.Options{Workers: cfg.Settlement.Workers})

	// --- Scheduler ---
	sched := config.NewScheduleConfig(cfg.Settlement)
	if !envOnly {
		if err := config.Watch(configPath, sched, log); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}
	if cfg.Settlement.Enabled {
		s := scheduler.New(engine, sched, log.Named("scheduler"))
		if err := s.Start(ctx, cfg.Settlement.SeasonCloseCron); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer s.Stop()
	} else {
		log.Warn("scheduled settlement disabled; jobs run only through /admin")
	}

	// --- Server ---
	h := ops.NewHandler(engine, factory, st, hub.HandleWS, cfg.Server.AdminToken, log.Named("http"))
	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("settlement-engine listening",
			zap.String("addr", cfg.Server.HTTPAddr),
			zap.String("mode", cfg.App.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}

func seedSpreads(ctx context.Context, st store.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open spread seed: %w", err)
	}
	defer f.Close()

	rows, err := spread.LoadCSV(f)
	if err != nil {
		return fmt.Errorf("parse spread seed %s: %w", path, err)
	}
	return st.UpsertSpreadRows(ctx, rows)
}
