// Package query derives read-optimized views from ledger snapshots. It never
// mutates inventory, and it never mixes client-supplied selections into the
// counts: held numbers come only from the ledger's own hold records.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	redisrepo "github.com/raffleworks/raffle-go/internal/repository/redis"
)

type Config struct {
	AvailabilityTTL    time.Duration
	NumbersTTL         time.Duration
	DefaultNumbersPage int
	MaxNumbersPage     int
}

type Service struct {
	arena *ledger.Arena
	cache *redisrepo.Cache
	cfg   Config
}

func New(arena *ledger.Arena, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 5 * time.Second
	}

	if cfg.NumbersTTL <= 0 {
		cfg.NumbersTTL = 5 * time.Second
	}

	if cfg.DefaultNumbersPage <= 0 {
		cfg.DefaultNumbersPage = 100
	}

	if cfg.MaxNumbersPage <= 0 {
		cfg.MaxNumbersPage = 1000
	}

	return &Service{
		arena: arena,
		cache: cache,
		cfg:   cfg,
	}
}

// Availability projects a competition's counts and held/purchased number
// lists. Cached briefly; stale-by-seconds is fine for display, and
// reservation decisions never read this view.
//
// Returns:
//   - error: ledger.ErrCompetitionNotFound if the competition is not open.
func (s *Service) Availability(ctx context.Context, competitionID int64) (*domain.Availability, error) {
	const op = "service.query.Availability"

	if s.cache == nil {
		av, err := s.project(ctx, competitionID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return av, nil
	}

	key := redisrepo.KeyCompetitionAvailability(competitionID)

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.Availability, error) {
			out, err := s.project(ctx, competitionID)
			if err != nil {
				return domain.Availability{}, err
			}

			return *out, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &av, nil
}

// NumberStatuses lists the per-number states of a competition, paginated by
// ticket number.
func (s *Service) NumberStatuses(
	ctx context.Context,
	competitionID int64,
	onlyFree bool,
	limit, offset int,
) ([]domain.NumberStatus, error) {
	const op = "service.query.NumberStatuses"

	if limit <= 0 {
		limit = s.cfg.DefaultNumbersPage
	}

	if limit > s.cfg.MaxNumbersPage {
		limit = s.cfg.MaxNumbersPage
	}

	if offset < 0 {
		offset = 0
	}

	led, err := s.arena.Get(competitionID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	snap, err := led.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	all := statusesFromSnapshot(snap, onlyFree)

	if offset >= len(all) {
		return nil, nil
	}

	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	return all[offset:end], nil
}

// PurchasedNumbers returns the numbers a holder permanently owns in the
// competition.
func (s *Service) PurchasedNumbers(ctx context.Context, competitionID, holderID int64) ([]int, error) {
	const op = "service.query.PurchasedNumbers"

	led, err := s.arena.Get(competitionID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	numbers, err := led.PurchasedNumbersOf(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return numbers, nil
}

func (s *Service) project(ctx context.Context, competitionID int64) (*domain.Availability, error) {
	led, err := s.arena.Get(competitionID)
	if err != nil {
		return nil, err
	}

	snap, err := led.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.Availability{
		CompetitionID:    snap.Space.CompetitionID,
		TotalTickets:     snap.Space.TotalTickets,
		FreeCount:        snap.FreeCount,
		HeldCount:        snap.HeldCount,
		PurchasedCount:   snap.PurchasedCount,
		HeldNumbers:      snap.HeldNumbers,
		PurchasedNumbers: snap.PurchasedNumbers,
	}, nil
}

func statusesFromSnapshot(snap ledger.Snapshot, onlyFree bool) []domain.NumberStatus {
	if onlyFree {
		out := make([]domain.NumberStatus, 0, len(snap.FreeNumbers))
		for _, n := range snap.FreeNumbers {
			out = append(out, domain.NumberStatus{Number: n, State: domain.SlotFree})
		}
		return out
	}

	out := make([]domain.NumberStatus, 0, snap.Space.TotalTickets)
	merge := func(numbers []int, state domain.SlotState) {
		for _, n := range numbers {
			out = append(out, domain.NumberStatus{Number: n, State: state})
		}
	}
	merge(snap.FreeNumbers, domain.SlotFree)
	merge(snap.HeldNumbers, domain.SlotHeld)
	merge(snap.PurchasedNumbers, domain.SlotPurchased)

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })

	return out
}
