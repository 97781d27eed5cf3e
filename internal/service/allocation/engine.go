// Package allocation implements the "lucky dip" strategy: draw random free
// numbers from a ledger snapshot, then reserve them atomically. The snapshot
// may be stale by reservation time, so a conflicting draw is retried against
// a fresh snapshot a bounded number of times.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/raffleworks/raffle-go/internal/metrics"
)

type Config struct {
	// MaxRetries bounds how many fresh draws are attempted after a
	// conflicting reservation before giving up.
	MaxRetries int
}

type Engine struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Engine{cfg: cfg}
}

// NewWithRand returns an engine drawing from the given source; tests use it
// for deterministic draws.
func NewWithRand(cfg Config, rng *rand.Rand) *Engine {
	e := New(cfg)
	e.rng = rng
	return e
}

// LuckyDip reserves NumbersPerOrder distinct free numbers on the holder's
// behalf. Success always means a confirmed TryReserve; every retry draws
// from a fresh snapshot.
func (e *Engine) LuckyDip(
	ctx context.Context,
	led *ledger.Ledger,
	holderID int64,
	ttl time.Duration,
) (domain.Hold, error) {
	const op = "allocation.LuckyDip"

	k := led.Space().NumbersPerOrder

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		snap, err := led.Snapshot(ctx)
		if err != nil {
			return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
		}

		if len(snap.FreeNumbers) < k {
			return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrInsufficientAvailability)
		}

		hold, err := led.TryReserve(ctx, holderID, e.draw(snap.FreeNumbers, k), ttl)
		if err == nil {
			return hold, nil
		}

		if errors.Is(err, ledger.ErrNumbersUnavailable) {
			metrics.LuckyDipRetries.Inc()
			continue
		}

		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrInsufficientAvailability)
}

// Attempts reports how many reservation attempts a dip may make.
func (e *Engine) Attempts() int {
	return e.cfg.MaxRetries + 1
}

// draw picks k distinct numbers uniformly without replacement via a partial
// Fisher-Yates shuffle of a copy of the free list.
func (e *Engine) draw(free []int, k int) []int {
	pool := append([]int(nil), free...)

	for i := 0; i < k; i++ {
		j := i + e.intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:k]
}

func (e *Engine) intN(n int) int {
	if n <= 0 {
		return 0
	}
	if e.rng != nil {
		return e.rng.IntN(n)
	}
	return rand.IntN(n)
}
