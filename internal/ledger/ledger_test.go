package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(total, perOrder int, clk clock.Clock) *Ledger {
	return New(domain.NumberSpace{
		CompetitionID:   1,
		TotalTickets:    total,
		NumbersPerOrder: perOrder,
	}, Config{}, clk)
}

func TestTryReserve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ttl := time.Minute

	t.Run("reserves free numbers under a new hold", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, ttl)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, hold.ID)
		assert.Equal(t, int64(100), hold.HolderID)
		assert.Equal(t, []int{3, 7}, hold.Numbers)
		assert.Equal(t, testStart.Add(ttl), hold.ExpiresAt)

		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, snap.FreeCount)
		assert.Equal(t, 2, snap.HeldCount)
		assert.Equal(t, []int{3, 7}, snap.HeldNumbers)
	})

	t.Run("reports exactly the conflicting numbers and mutates nothing", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		_, err := l.TryReserve(ctx, 100, []int{3, 7}, ttl)
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, 200, []int{7, 9}, ttl)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNumbersUnavailable)

		var unavailable *NumbersUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, []int{7}, unavailable.Conflicting)

		// 9 must still be free: no partial transition
		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, snap.FreeCount)
		assert.Contains(t, snap.FreeNumbers, 9)
	})

	t.Run("rejects numbers outside the space", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		_, err := l.TryReserve(ctx, 100, []int{0, 5}, ttl)
		require.ErrorIs(t, err, ErrInvalidNumbers)

		_, err = l.TryReserve(ctx, 100, []int{5, 11}, ttl)
		require.ErrorIs(t, err, ErrInvalidNumbers)

		_, err = l.TryReserve(ctx, 100, nil, ttl)
		require.ErrorIs(t, err, ErrInvalidNumbers)
	})

	t.Run("rejects duplicate numbers in one request", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		_, err := l.TryReserve(ctx, 100, []int{4, 4}, ttl)
		require.ErrorIs(t, err, ErrInvalidNumbers)

		var invalid *InvalidNumbersError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []int{4}, invalid.Numbers)
	})

	t.Run("enforces the per-holder hold cap", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		_, err := l.TryReserve(ctx, 100, []int{1, 2}, ttl)
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, 100, []int{5, 6}, ttl)
		require.ErrorIs(t, err, ErrTooManyActiveHolds)
	})

	t.Run("re-requesting the identical set returns the existing hold", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		first, err := l.TryReserve(ctx, 100, []int{1, 2}, ttl)
		require.NoError(t, err)

		second, err := l.TryReserve(ctx, 100, []int{2, 1}, ttl)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.HeldCount)
	})
}

func TestReleaseHold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("returns numbers to free", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		released, ok, err := l.ReleaseHold(ctx, hold.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, hold.ID, released.ID)

		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, snap.FreeCount)
		assert.Empty(t, snap.HeldNumbers)
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		_, ok, err := l.ReleaseHold(ctx, hold.ID)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = l.ReleaseHold(ctx, hold.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = l.ReleaseHold(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRenewHold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("extends expiry without touching numbers", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		clk.Advance(30 * time.Second)

		renewed, err := l.RenewHold(ctx, hold.ID, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, clk.Now().Add(time.Minute), renewed.ExpiresAt)
		assert.Equal(t, hold.Numbers, renewed.Numbers)
	})

	t.Run("cannot renew a lapsed hold", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		clk.Advance(2 * time.Minute)

		_, err = l.RenewHold(ctx, hold.ID, time.Minute)
		require.ErrorIs(t, err, ErrHoldNotFound)
	})
}

func TestConvertToPurchase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("purchased numbers are terminal", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		converted, err := l.ConvertToPurchase(ctx, hold.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 7}, converted.Numbers)

		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.PurchasedCount)
		assert.Equal(t, 0, snap.HeldCount)
		assert.Equal(t, []int{3, 7}, snap.PurchasedNumbers)

		// conversion removed the hold; a release attempt is a no-op
		_, ok, err := l.ReleaseHold(ctx, hold.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		// even long after the original TTL the numbers stay owned
		clk.Advance(time.Hour)
		_, err = l.ExpireDue(ctx)
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, 200, []int{3, 8}, time.Minute)
		require.ErrorIs(t, err, ErrNumbersUnavailable)

		owned, err := l.PurchasedNumbersOf(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 7}, owned)
	})

	t.Run("lapsed hold reports not found and grants nothing", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		hold, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		clk.Advance(time.Minute + time.Second)

		_, err = l.ConvertToPurchase(ctx, hold.ID)
		require.ErrorIs(t, err, ErrHoldNotFound)

		// no phantom win: the slots went back to free, not purchased
		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, snap.FreeCount)
		assert.Equal(t, 0, snap.PurchasedCount)
	})
}

func TestExpireDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("hold lifecycle across expiry", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		l := newTestLedger(10, 2, clk)

		_, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, 200, []int{7, 9}, time.Minute)
		require.ErrorIs(t, err, ErrNumbersUnavailable)

		clk.Advance(time.Minute)

		expired, err := l.ExpireDue(ctx)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, []int{3, 7}, expired[0].Numbers)

		hold, err := l.TryReserve(ctx, 200, []int{7, 9}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []int{7, 9}, hold.Numbers)
	})

	t.Run("nothing due", func(t *testing.T) {
		t.Parallel()

		l := newTestLedger(10, 2, clock.NewFake(testStart))

		_, err := l.TryReserve(ctx, 100, []int{3, 7}, time.Minute)
		require.NoError(t, err)

		expired, err := l.ExpireDue(ctx)
		require.NoError(t, err)
		assert.Empty(t, expired)
	})
}

func TestPartitionInvariant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFake(testStart)
	l := New(domain.NumberSpace{CompetitionID: 1, TotalTickets: 20, NumbersPerOrder: 2},
		Config{MaxHoldsPerHolder: 5}, clk)

	holderA, holderB := int64(1), int64(2)

	h1, err := l.TryReserve(ctx, holderA, []int{1, 2}, time.Minute)
	require.NoError(t, err)
	h2, err := l.TryReserve(ctx, holderB, []int{3, 4}, time.Minute)
	require.NoError(t, err)

	_, err = l.ConvertToPurchase(ctx, h1.ID)
	require.NoError(t, err)
	_, _, err = l.ReleaseHold(ctx, h2.ID)
	require.NoError(t, err)

	_, err = l.TryReserve(ctx, holderA, []int{3, 5}, time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = l.ExpireDue(ctx)
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)

	seen := make(map[int]domain.SlotState)
	for _, n := range snap.FreeNumbers {
		seen[n] = domain.SlotFree
	}
	for _, n := range snap.HeldNumbers {
		_, dup := seen[n]
		require.False(t, dup, "number %d in two states", n)
		seen[n] = domain.SlotHeld
	}
	for _, n := range snap.PurchasedNumbers {
		_, dup := seen[n]
		require.False(t, dup, "number %d in two states", n)
		seen[n] = domain.SlotPurchased
	}

	require.Len(t, seen, 20)
	for n := 1; n <= 20; n++ {
		require.Contains(t, seen, n)
	}

	assert.Equal(t, 18, snap.FreeCount)
	assert.Equal(t, 0, snap.HeldCount)
	assert.Equal(t, 2, snap.PurchasedCount)
}

func TestConcurrentExclusivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New(domain.NumberSpace{CompetitionID: 1, TotalTickets: 1, NumbersPerOrder: 1},
		Config{LockWait: time.Second}, clock.NewSystem())

	const workers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for i := 0; i < workers; i++ {
		holderID := int64(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := l.TryReserve(ctx, holderID, []int{1}, time.Minute)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNumbersUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	space := domain.NumberSpace{CompetitionID: 7, TotalTickets: 10, NumbersPerOrder: 2}
	clk := clock.NewFake(testStart)

	t.Run("rebuilds slots and holds", func(t *testing.T) {
		t.Parallel()

		holdID := uuid.New()
		slots := []domain.TicketSlot{
			{Number: 2, State: domain.SlotHeld, HolderID: 100, HoldID: holdID, HeldAt: testStart},
			{Number: 5, State: domain.SlotHeld, HolderID: 100, HoldID: holdID, HeldAt: testStart},
			{Number: 9, State: domain.SlotPurchased, HolderID: 200, PurchasedAt: testStart},
		}
		holds := []domain.Hold{{
			ID:            holdID,
			CompetitionID: 7,
			HolderID:      100,
			Numbers:       []int{2, 5},
			CreatedAt:     testStart,
			ExpiresAt:     testStart.Add(time.Minute),
		}}

		l, err := Restore(space, Config{}, clk, slots, holds)
		require.NoError(t, err)

		snap, err := l.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, snap.FreeCount)
		assert.Equal(t, []int{2, 5}, snap.HeldNumbers)
		assert.Equal(t, []int{9}, snap.PurchasedNumbers)

		// the restored hold behaves like a live one
		_, err = l.ConvertToPurchase(ctx, holdID)
		require.NoError(t, err)
	})

	t.Run("rejects a held slot without its hold", func(t *testing.T) {
		t.Parallel()

		slots := []domain.TicketSlot{
			{Number: 2, State: domain.SlotHeld, HolderID: 100, HoldID: uuid.New()},
		}

		_, err := Restore(space, Config{}, clk, slots, nil)
		require.Error(t, err)
	})
}
