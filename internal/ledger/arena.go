package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/domain"
)

// Arena is the registry of per-competition ledgers. Each competition gets
// its own independently lockable ledger so operations on different
// competitions never block each other.
type Arena struct {
	cfg Config
	clk clock.Clock

	mu      sync.RWMutex
	ledgers map[int64]*Ledger
}

func NewArena(cfg Config, clk clock.Clock) *Arena {
	return &Arena{
		cfg:     cfg,
		clk:     clk,
		ledgers: make(map[int64]*Ledger),
	}
}

// Open seeds an all-free ledger for a newly published competition.
func (a *Arena) Open(space domain.NumberSpace) (*Ledger, error) {
	const op = "ledger.Arena.Open"

	if space.TotalTickets <= 0 {
		return nil, fmt.Errorf("%s: total tickets must be positive", op)
	}
	if space.NumbersPerOrder <= 0 || space.NumbersPerOrder > space.TotalTickets {
		return nil, fmt.Errorf("%s: numbers per order must be in [1,%d]", op, space.TotalTickets)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.ledgers[space.CompetitionID]; ok {
		return nil, fmt.Errorf("%s:%w", op, ErrCompetitionConflict)
	}

	l := New(space, a.cfg, a.clk)
	a.ledgers[space.CompetitionID] = l

	return l, nil
}

// Adopt registers a ledger restored from persistence.
func (a *Arena) Adopt(l *Ledger) error {
	const op = "ledger.Arena.Adopt"

	a.mu.Lock()
	defer a.mu.Unlock()

	id := l.Space().CompetitionID
	if _, ok := a.ledgers[id]; ok {
		return fmt.Errorf("%s:%w", op, ErrCompetitionConflict)
	}
	a.ledgers[id] = l

	return nil
}

func (a *Arena) Get(competitionID int64) (*Ledger, error) {
	const op = "ledger.Arena.Get"

	a.mu.RLock()
	defer a.mu.RUnlock()

	l, ok := a.ledgers[competitionID]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, ErrCompetitionNotFound)
	}

	return l, nil
}

// Archive freezes the competition's ledger and removes it from the arena.
func (a *Arena) Archive(ctx context.Context, competitionID int64) error {
	const op = "ledger.Arena.Archive"

	a.mu.Lock()
	l, ok := a.ledgers[competitionID]
	if ok {
		delete(a.ledgers, competitionID)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s:%w", op, ErrCompetitionNotFound)
	}

	if err := l.freeze(ctx); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// CompetitionIDs lists the open competitions; used by the expiry reaper.
func (a *Arena) CompetitionIDs() []int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]int64, 0, len(a.ledgers))
	for id := range a.ledgers {
		ids = append(ids, id)
	}

	return ids
}
