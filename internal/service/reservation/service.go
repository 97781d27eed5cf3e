// Package reservation is the policy layer over the inventory ledger: hold
// lifecycle (create, renew, cancel, convert), ownership checks, selection
// validation and the lucky-dip delegation.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/raffleworks/raffle-go/internal/metrics"
	postgresrepo "github.com/raffleworks/raffle-go/internal/repository/postgres"
	redisrepo "github.com/raffleworks/raffle-go/internal/repository/redis"
	"github.com/raffleworks/raffle-go/internal/service/allocation"
	"github.com/raffleworks/raffle-go/internal/uow"
)

type Config struct {
	MinHoldTTL     time.Duration
	MaxHoldTTL     time.Duration
	DefaultHoldTTL time.Duration
}

// Service enforces reservation policy. The postgres store, cache, pubsub and
// limiter are all optional; with a nil store the engine runs memory-only.
type Service struct {
	arena   *ledger.Arena
	alloc   *allocation.Engine
	store   *postgresrepo.Store
	cache   *redisrepo.Cache
	pubsub  *redisrepo.CompetitionsPubSub
	limiter *redisrepo.SlidingWindowLimiter
	uow     *uow.UoW
	cfg     Config
}

func New(
	arena *ledger.Arena,
	alloc *allocation.Engine,
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.CompetitionsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
) *Service {
	if cfg.MinHoldTTL <= 0 {
		cfg.MinHoldTTL = 15 * time.Second
	}

	if cfg.MaxHoldTTL <= 0 || cfg.MaxHoldTTL < cfg.MinHoldTTL {
		cfg.MaxHoldTTL = 5 * time.Minute
	}

	if cfg.DefaultHoldTTL <= 0 {
		cfg.DefaultHoldTTL = 2 * time.Minute
	}

	s := &Service{
		arena:   arena,
		alloc:   alloc,
		store:   store,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		cfg:     cfg,
	}

	if store != nil {
		s.uow = uow.NewUoW(store)
	}

	return s
}

// RequestHold reserves numbers for a holder. With an empty selection the
// allocation engine picks a lucky dip; otherwise the explicit numbers are
// validated against the competition's numbers-per-order rule and reserved
// atomically.
//
// Returns:
//   - domain.Hold: the created (or, for an identical re-request, existing) hold.
//   - error: ledger.ErrNumbersUnavailable (as *ledger.NumbersUnavailableError)
//     if any requested number is taken.
//   - error: allocation.ErrInsufficientAvailability if a lucky dip exhausted
//     its retries.
//   - error: ledger.ErrTooManyActiveHolds if the holder hit the hold cap.
//   - error: reservation.ErrRateLimited if the client is over the rate limit.
func (s *Service) RequestHold(
	ctx context.Context,
	competitionID, holderID int64,
	numbers []int,
	ttl time.Duration,
	rlKey string,
) (domain.Hold, error) {
	const op = "service.reservation.RequestHold"

	ttl = s.clampTTL(ttl)

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return domain.Hold{}, fmt.Errorf("%s:%w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	led, err := s.arena.Get(competitionID)
	if err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	var hold domain.Hold

	if len(numbers) == 0 {
		hold, err = s.alloc.LuckyDip(ctx, led, holderID, ttl)
	} else {
		if want := led.Space().NumbersPerOrder; len(numbers) != want {
			return domain.Hold{}, fmt.Errorf("%s:%w", op, &SelectionSizeError{Want: want, Got: len(numbers)})
		}
		hold, err = led.TryReserve(ctx, holderID, numbers, ttl)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrNumbersUnavailable) {
			metrics.ReservationConflicts.Inc()
		}
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.persistHold(ctx, hold); err != nil {
		// Durability failed: give the numbers back rather than serve a hold
		// that would vanish on restart.
		_, _, _ = led.ReleaseHold(ctx, hold.ID)
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	metrics.HoldsCreated.Inc()

	return hold, nil
}

// RenewHold extends the caller's own hold.
//
// Returns:
//   - error: ledger.ErrHoldNotFound if the hold expired or never existed.
//   - error: ledger.ErrNotOwner if the hold belongs to someone else.
func (s *Service) RenewHold(
	ctx context.Context,
	competitionID, holderID int64,
	holdID uuid.UUID,
	ttl time.Duration,
) (domain.Hold, error) {
	const op = "service.reservation.RenewHold"

	ttl = s.clampTTL(ttl)

	led, err := s.arena.Get(competitionID)
	if err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.checkOwner(ctx, led, holdID, holderID); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	hold, err := led.RenewHold(ctx, holdID, ttl)
	if err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	if s.store != nil {
		if err := s.store.Inventory().RenewHold(ctx, holdID, hold.ExpiresAt); err != nil {
			return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
		}
	}

	return hold, nil
}

// Cancel releases the caller's own hold. Releasing a hold that already
// lapsed reports ledger.ErrHoldNotFound.
func (s *Service) Cancel(
	ctx context.Context,
	competitionID, holderID int64,
	holdID uuid.UUID,
) error {
	const op = "service.reservation.Cancel"

	led, err := s.arena.Get(competitionID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.checkOwner(ctx, led, holdID, holderID); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	_, released, err := led.ReleaseHold(ctx, holdID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if released {
		if err := s.dropHoldRow(ctx, competitionID, holdID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		metrics.HoldsReleased.WithLabelValues(metrics.ReasonCancel).Inc()
	}

	return nil
}

// FinalizePurchase converts the hold to a permanent purchase. Invoked by the
// payment collaborator only after capture succeeds.
//
// Returns:
//   - error: ledger.ErrHoldNotFound if the reservation lapsed; the caller
//     must not grant tickets.
//   - error: ledger.ErrNotOwner on a holder mismatch.
func (s *Service) FinalizePurchase(
	ctx context.Context,
	competitionID, holderID int64,
	holdID uuid.UUID,
) (domain.Hold, error) {
	const op = "service.reservation.FinalizePurchase"

	led, err := s.arena.Get(competitionID)
	if err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.checkOwner(ctx, led, holdID, holderID); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	hold, err := led.ConvertToPurchase(ctx, holdID)
	if err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	if s.uow != nil {
		err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
			if err := s.store.Inventory().With(tx).MarkPurchased(ctx, hold, time.Now().UTC()); err != nil {
				return err
			}

			after(func(ctx context.Context) {
				s.notifyChanged(ctx, competitionID)
			})

			return nil
		})
		if err != nil {
			// The in-memory purchase is terminal; surface the durability
			// failure to the payment flow for reconciliation.
			return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
		}
	} else {
		s.notifyChanged(ctx, competitionID)
	}

	metrics.Purchases.Inc()
	metrics.HoldsReleased.WithLabelValues(metrics.ReasonConverted).Inc()

	return hold, nil
}

func (s *Service) checkOwner(ctx context.Context, led *ledger.Ledger, holdID uuid.UUID, holderID int64) error {
	h, err := led.GetHold(ctx, holdID)
	if err != nil {
		return err
	}

	if h.HolderID != holderID {
		return ledger.ErrNotOwner
	}

	return nil
}

func (s *Service) persistHold(ctx context.Context, hold domain.Hold) error {
	if s.uow == nil {
		s.notifyChanged(ctx, hold.CompetitionID)
		return nil
	}

	return s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		if err := s.store.Inventory().With(tx).SaveHold(ctx, hold); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.notifyChanged(ctx, hold.CompetitionID)
		})

		return nil
	})
}

func (s *Service) dropHoldRow(ctx context.Context, competitionID int64, holdID uuid.UUID) error {
	if s.uow == nil {
		s.notifyChanged(ctx, competitionID)
		return nil
	}

	return s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		if err := s.store.Inventory().With(tx).DeleteHold(ctx, holdID); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.notifyChanged(ctx, competitionID)
		})

		return nil
	})
}

func (s *Service) notifyChanged(ctx context.Context, competitionID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateCompetition(ctx, competitionID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishCompetitionChanged(ctx, competitionID)
	}
}

func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultHoldTTL
	}

	if ttl < s.cfg.MinHoldTTL {
		return s.cfg.MinHoldTTL
	}

	if ttl > s.cfg.MaxHoldTTL {
		return s.cfg.MaxHoldTTL
	}

	return ttl
}
