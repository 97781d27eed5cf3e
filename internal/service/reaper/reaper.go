// Package reaper runs the background expiry sweep: holds past their TTL are
// released back to free on a fixed interval.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/raffleworks/raffle-go/internal/metrics"
	postgresrepo "github.com/raffleworks/raffle-go/internal/repository/postgres"
	redisrepo "github.com/raffleworks/raffle-go/internal/repository/redis"
)

type Config struct {
	Interval time.Duration
}

type Reaper struct {
	arena  *ledger.Arena
	store  *postgresrepo.Store
	cache  *redisrepo.Cache
	pubsub *redisrepo.CompetitionsPubSub
	clk    clock.Clock
	logger *slog.Logger
	cfg    Config
}

func New(
	arena *ledger.Arena,
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.CompetitionsPubSub,
	clk clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	return &Reaper{
		arena:  arena,
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		clk:    clk,
		logger: logger,
		cfg:    cfg,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.SweepOnce(ctx); err != nil {
				r.logger.Error("expiry sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("expired holds released", "count", n)
			}
		}
	}
}

// SweepOnce releases every lapsed hold across all open competitions. Also
// invoked at startup, before the first request is served, so holds that
// expired while the process was down never block fresh reservations. A hold
// converted to a purchase between enumeration and release is simply gone by
// release time, which the ledger treats as a no-op.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	const op = "reaper.SweepOnce"

	released := 0

	for _, id := range r.arena.CompetitionIDs() {
		led, err := r.arena.Get(id)
		if err != nil {
			// Archived between listing and lookup.
			continue
		}

		expired, err := led.ExpireDue(ctx)
		if err != nil {
			return released, fmt.Errorf("%s: competition %d: %w", op, id, err)
		}

		if len(expired) == 0 {
			continue
		}

		released += len(expired)
		metrics.HoldsReleased.WithLabelValues(metrics.ReasonExpired).Add(float64(len(expired)))

		if r.store != nil {
			if _, err := r.store.Inventory().SweepExpired(ctx, r.clk.Now()); err != nil {
				return released, fmt.Errorf("%s: competition %d: %w", op, id, err)
			}
		}

		if r.cache != nil {
			_ = r.cache.InvalidateCompetition(ctx, id)
		}
		if r.pubsub != nil {
			_ = r.pubsub.PublishCompetitionChanged(ctx, id)
		}
	}

	return released, nil
}
