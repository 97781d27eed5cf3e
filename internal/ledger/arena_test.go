package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("open and get", func(t *testing.T) {
		t.Parallel()

		a := NewArena(Config{}, clock.NewFake(testStart))

		l, err := a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)

		got, err := a.Get(1)
		require.NoError(t, err)
		assert.Same(t, l, got)

		_, err = a.Get(2)
		assert.ErrorIs(t, err, ErrCompetitionNotFound)
	})

	t.Run("rejects duplicate competition", func(t *testing.T) {
		t.Parallel()

		a := NewArena(Config{}, clock.NewFake(testStart))

		_, err := a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)

		_, err = a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 50, NumbersPerOrder: 5})
		assert.ErrorIs(t, err, ErrCompetitionConflict)
	})

	t.Run("rejects invalid number space", func(t *testing.T) {
		t.Parallel()

		a := NewArena(Config{}, clock.NewFake(testStart))

		_, err := a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 0, NumbersPerOrder: 1})
		assert.Error(t, err)

		_, err = a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 10, NumbersPerOrder: 11})
		assert.Error(t, err)
	})

	t.Run("competitions are independent", func(t *testing.T) {
		t.Parallel()

		a := NewArena(Config{}, clock.NewFake(testStart))

		l1, err := a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)
		l2, err := a.Open(domain.NumberSpace{CompetitionID: 2, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)

		_, err = l1.TryReserve(ctx, 100, []int{5}, time.Minute)
		require.NoError(t, err)

		// same number, other competition: still free
		_, err = l2.TryReserve(ctx, 100, []int{5}, time.Minute)
		require.NoError(t, err)
	})

	t.Run("archive freezes and removes the ledger", func(t *testing.T) {
		t.Parallel()

		a := NewArena(Config{}, clock.NewFake(testStart))

		l, err := a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)

		require.NoError(t, a.Archive(ctx, 1))

		_, err = a.Get(1)
		assert.ErrorIs(t, err, ErrCompetitionNotFound)

		_, err = l.TryReserve(ctx, 100, []int{5}, time.Minute)
		assert.ErrorIs(t, err, ErrCompetitionClosed)

		assert.ErrorIs(t, a.Archive(ctx, 1), ErrCompetitionNotFound)
	})

	t.Run("adopt registers a restored ledger", func(t *testing.T) {
		t.Parallel()

		clk := clock.NewFake(testStart)
		a := NewArena(Config{}, clk)

		space := domain.NumberSpace{CompetitionID: 3, TotalTickets: 10, NumbersPerOrder: 2}
		l, err := Restore(space, Config{}, clk, nil, nil)
		require.NoError(t, err)

		require.NoError(t, a.Adopt(l))
		assert.ErrorIs(t, a.Adopt(l), ErrCompetitionConflict)

		got, err := a.Get(3)
		require.NoError(t, err)
		assert.Same(t, l, got)
	})

	t.Run("lists open competitions", func(t *testing.T) {
		t.Parallel()

		a := NewArena(Config{}, clock.NewFake(testStart))

		_, err := a.Open(domain.NumberSpace{CompetitionID: 1, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)
		_, err = a.Open(domain.NumberSpace{CompetitionID: 2, TotalTickets: 10, NumbersPerOrder: 2})
		require.NoError(t, err)

		assert.ElementsMatch(t, []int64{1, 2}, a.CompetitionIDs())
	})
}
