package allocation

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedger(total, perOrder int) *ledger.Ledger {
	return ledger.New(domain.NumberSpace{
		CompetitionID:   1,
		TotalTickets:    total,
		NumbersPerOrder: perOrder,
	}, ledger.Config{MaxHoldsPerHolder: 100}, clock.NewFake(testStart))
}

func TestLuckyDip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ttl := time.Minute

	t.Run("draws distinct in-range numbers", func(t *testing.T) {
		t.Parallel()

		led := newLedger(20, 3)
		eng := New(Config{})

		hold, err := eng.LuckyDip(ctx, led, 100, ttl)
		require.NoError(t, err)
		require.Len(t, hold.Numbers, 3)

		seen := make(map[int]struct{}, len(hold.Numbers))
		for _, n := range hold.Numbers {
			assert.GreaterOrEqual(t, n, 1)
			assert.LessOrEqual(t, n, 20)
			_, dup := seen[n]
			assert.False(t, dup, "number %d drawn twice", n)
			seen[n] = struct{}{}
		}

		snap, err := led.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, snap.HeldCount)
	})

	t.Run("drains the whole pool", func(t *testing.T) {
		t.Parallel()

		led := newLedger(10, 2)
		eng := New(Config{})

		for holder := int64(1); holder <= 5; holder++ {
			_, err := eng.LuckyDip(ctx, led, holder, ttl)
			require.NoError(t, err)
		}

		snap, err := led.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.FreeCount)
		assert.Equal(t, 10, snap.HeldCount)
	})

	t.Run("fails when fewer free numbers than the order size", func(t *testing.T) {
		t.Parallel()

		led := newLedger(4, 3)
		eng := New(Config{})

		_, err := led.TryReserve(ctx, 1, []int{2, 4}, ttl)
		require.NoError(t, err)

		_, err = eng.LuckyDip(ctx, led, 2, ttl)
		assert.ErrorIs(t, err, ErrInsufficientAvailability)
	})

	t.Run("deterministic with a seeded source", func(t *testing.T) {
		t.Parallel()

		eng := NewWithRand(Config{}, rand.New(rand.NewPCG(1, 2)))

		ledA := newLedger(50, 4)
		holdA, err := eng.LuckyDip(ctx, ledA, 100, ttl)
		require.NoError(t, err)

		eng2 := NewWithRand(Config{}, rand.New(rand.NewPCG(1, 2)))
		ledB := newLedger(50, 4)
		holdB, err := eng2.LuckyDip(ctx, ledB, 100, ttl)
		require.NoError(t, err)

		assert.Equal(t, holdA.Numbers, holdB.Numbers)
	})
}

func TestAttempts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, New(Config{}).Attempts())
	assert.Equal(t, 6, New(Config{MaxRetries: 5}).Attempts())
}
