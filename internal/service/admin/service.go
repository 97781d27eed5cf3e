// Package admin handles the competition-catalog collaborator's lifecycle
// events: opening a competition's number pool for sale and archiving it.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/raffleworks/raffle-go/internal/metrics"
	"github.com/raffleworks/raffle-go/internal/repository"
	postgresrepo "github.com/raffleworks/raffle-go/internal/repository/postgres"
	redisrepo "github.com/raffleworks/raffle-go/internal/repository/redis"
	"github.com/raffleworks/raffle-go/internal/uow"
)

type Service struct {
	arena  *ledger.Arena
	store  *postgresrepo.Store
	cache  *redisrepo.Cache
	pubsub *redisrepo.CompetitionsPubSub
	uow    *uow.UoW
}

func New(
	arena *ledger.Arena,
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.CompetitionsPubSub,
) *Service {
	s := &Service{
		arena:  arena,
		store:  store,
		cache:  cache,
		pubsub: pubsub,
	}

	if store != nil {
		s.uow = uow.NewUoW(store)
	}

	return s
}

// OpenForSale seeds an all-free ledger for the competition and, when
// durability is configured, persists the competition row plus one slot row
// per ticket number.
//
// Returns:
//   - error: admin.ErrCompetitionConflict if the competition is already open.
//   - error: admin.ErrInvalidNumberSpace on a nonsensical range.
func (s *Service) OpenForSale(ctx context.Context, space domain.NumberSpace) error {
	const op = "service.admin.OpenForSale"

	if space.TotalTickets <= 0 || space.NumbersPerOrder <= 0 || space.NumbersPerOrder > space.TotalTickets {
		return fmt.Errorf("%s:%w", op, ErrInvalidNumberSpace)
	}

	if _, err := s.arena.Open(space); err != nil {
		if errors.Is(err, ledger.ErrCompetitionConflict) {
			return fmt.Errorf("%s:%w", op, ErrCompetitionConflict)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if s.uow != nil {
		err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
			if err := s.store.Catalog().With(tx).CreateCompetition(ctx, space); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return fmt.Errorf("%s:%w", op, ErrCompetitionConflict)
				}
				return err
			}

			return s.store.Catalog().With(tx).InitTicketSlots(ctx, space)
		})
		if err != nil {
			_ = s.arena.Archive(ctx, space.CompetitionID)
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	metrics.CompetitionsOpen.Inc()

	return nil
}

// Archive freezes the competition's ledger, drops it from the arena and
// releases its remaining holds. Purchased numbers stay on record.
//
// Returns:
//   - error: ledger.ErrCompetitionNotFound if the competition is not open.
func (s *Service) Archive(ctx context.Context, competitionID int64) error {
	const op = "service.admin.Archive"

	if err := s.arena.Archive(ctx, competitionID); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if s.uow != nil {
		err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
			return s.store.Catalog().With(tx).ArchiveCompetition(ctx, competitionID)
		})
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	if s.cache != nil {
		_ = s.cache.InvalidateCompetition(ctx, competitionID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishCompetitionChanged(ctx, competitionID)
	}

	metrics.CompetitionsOpen.Dec()

	return nil
}
