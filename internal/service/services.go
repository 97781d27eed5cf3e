package service

import (
	"log/slog"

	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/ledger"
	postgres "github.com/raffleworks/raffle-go/internal/repository/postgres"
	redis "github.com/raffleworks/raffle-go/internal/repository/redis"
	"github.com/raffleworks/raffle-go/internal/service/admin"
	"github.com/raffleworks/raffle-go/internal/service/allocation"
	"github.com/raffleworks/raffle-go/internal/service/query"
	"github.com/raffleworks/raffle-go/internal/service/reaper"
	"github.com/raffleworks/raffle-go/internal/service/reservation"
)

type Services struct {
	Reservation *reservation.Service
	Query       *query.Service
	Admin       *admin.Service
	Reaper      *reaper.Reaper
}

type Config struct {
	Reservation reservation.Config
	Allocation  allocation.Config
	Query       query.Config
	Reaper      reaper.Config
}

func NewServices(
	arena *ledger.Arena,
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.CompetitionsPubSub,
	limiter *redis.SlidingWindowLimiter,
	clk clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Services {
	alloc := allocation.New(cfg.Allocation)

	return &Services{
		Reservation: reservation.New(arena, alloc, store, cache, pubsub, limiter, cfg.Reservation),
		Query:       query.New(arena, cache, cfg.Query),
		Admin:       admin.New(arena, store, cache, pubsub),
		Reaper:      reaper.New(arena, store, cache, pubsub, clk, logger, cfg.Reaper),
	}
}
