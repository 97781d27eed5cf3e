package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/config"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/raffleworks/raffle-go/internal/metrics"
	"github.com/raffleworks/raffle-go/internal/postgres"
	"github.com/raffleworks/raffle-go/internal/redis"
	postgresrepo "github.com/raffleworks/raffle-go/internal/repository/postgres"
	redisrepo "github.com/raffleworks/raffle-go/internal/repository/redis"
	"github.com/raffleworks/raffle-go/internal/service"
	"github.com/raffleworks/raffle-go/internal/service/allocation"
	"github.com/raffleworks/raffle-go/internal/service/query"
	"github.com/raffleworks/raffle-go/internal/service/reaper"
	"github.com/raffleworks/raffle-go/internal/service/reservation"
	httpgin "github.com/raffleworks/raffle-go/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	reaper     *reaper.Reaper
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	clk := clock.NewSystem()

	arena := ledger.NewArena(ledger.Config{
		LockWait:          cfg.Engine.LockWait,
		MaxHoldsPerHolder: cfg.Engine.MaxHoldsPerHolder,
	}, clk)

	// Optional durability layer
	var store *postgresrepo.Store
	if cfg.Postgres.Enabled {
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Postgres.User,
			cfg.Postgres.Password,
			cfg.Postgres.Host,
			cfg.Postgres.Port,
			cfg.Postgres.Name,
			cfg.Postgres.SSLMode,
		)

		pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}

		store = postgresrepo.NewStore(pgxPool)

		if err := restoreLedgers(context.Background(), arena, store, clk, cfg, logger); err != nil {
			return nil, fmt.Errorf("failed to restore ledgers: %w", err)
		}
	}

	// Optional redis-backed cache, rate limiting, idempotency and pub/sub
	var (
		cache     *redisrepo.Cache
		pubsub    *redisrepo.CompetitionsPubSub
		limiter   *redisrepo.SlidingWindowLimiter
		idemStore *redisrepo.IdempotencyStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.New(context.Background(), redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}

		cache = redisrepo.New(rdb)
		pubsub = redisrepo.NewCompetitionsPubSub(rdb)
		limiter = redisrepo.NewSlidingWindowLimiter(rdb, "rl", cfg.Engine.RateLimit, cfg.Engine.RateWindow)
		idemStore = redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)
	}

	services := service.NewServices(arena, store, cache, pubsub, limiter, clk, logger, service.Config{
		Reservation: reservation.Config{
			MinHoldTTL:     cfg.Engine.MinHoldTTL,
			MaxHoldTTL:     cfg.Engine.MaxHoldTTL,
			DefaultHoldTTL: cfg.Engine.DefaultHoldTTL,
		},
		Allocation: allocation.Config{MaxRetries: cfg.Engine.LuckyDipRetries},
		Query:      query.Config{},
		Reaper:     reaper.Config{Interval: cfg.Engine.ReaperInterval},
	})

	// Sweep holds that lapsed while the process was down before taking
	// traffic.
	if n, err := services.Reaper.SweepOnce(context.Background()); err != nil {
		return nil, fmt.Errorf("startup expiry sweep failed: %w", err)
	} else if n > 0 {
		logger.Info("released stale holds on startup", "count", n)
	}

	router := httpgin.NewRouter(services, idemStore, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		reaper: services.Reaper,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Background expiry reaper
	g.Go(func() error {
		if err := a.reaper.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("reaper stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func restoreLedgers(
	ctx context.Context,
	arena *ledger.Arena,
	store *postgresrepo.Store,
	clk clock.Clock,
	cfg *config.Config,
	logger *slog.Logger,
) error {
	spaces, err := store.Catalog().ListOpen(ctx)
	if err != nil {
		return err
	}

	ledgerCfg := ledger.Config{
		LockWait:          cfg.Engine.LockWait,
		MaxHoldsPerHolder: cfg.Engine.MaxHoldsPerHolder,
	}

	for _, space := range spaces {
		slots, holds, err := store.Inventory().LoadState(ctx, space.CompetitionID)
		if err != nil {
			return err
		}

		led, err := ledger.Restore(space, ledgerCfg, clk, slots, holds)
		if err != nil {
			return err
		}

		if err := arena.Adopt(led); err != nil {
			return err
		}

		metrics.CompetitionsOpen.Inc()

		logger.Info("restored competition ledger",
			"competition_id", space.CompetitionID,
			"total_tickets", space.TotalTickets,
			"active_holds", len(holds),
		)
	}

	return nil
}
