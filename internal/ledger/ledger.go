// Package ledger implements the authoritative per-competition ticket-number
// inventory: which numbers are free, held or purchased, and by whom. All
// mutations run under a per-competition bounded-wait lock; reads copy the
// current state and never observe a torn transition.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/domain"
)

type Config struct {
	// LockWait bounds how long a mutating call waits for the competition
	// lock before failing with ErrBusy.
	LockWait time.Duration
	// MaxHoldsPerHolder caps concurrent active holds per holder within one
	// competition.
	MaxHoldsPerHolder int
}

func (c Config) withDefaults() Config {
	if c.LockWait <= 0 {
		c.LockWait = 200 * time.Millisecond
	}
	if c.MaxHoldsPerHolder <= 0 {
		c.MaxHoldsPerHolder = 1
	}
	return c
}

// Snapshot is a point-in-time copy of a competition's inventory. Stale by
// the time the caller looks at it; good enough for display and for the
// optimistic half of a lucky-dip draw, never for a reservation decision.
type Snapshot struct {
	Space            domain.NumberSpace
	FreeCount        int
	HeldCount        int
	PurchasedCount   int
	FreeNumbers      []int
	HeldNumbers      []int
	PurchasedNumbers []int
	TakenAt          time.Time
}

// Ledger owns every TicketSlot of one competition. The sets of free, held
// and purchased numbers always partition [1, TotalTickets]; a detected
// violation panics rather than serving inconsistent inventory.
type Ledger struct {
	space domain.NumberSpace
	cfg   Config
	clk   clock.Clock

	mu *timedMutex

	// slots is indexed by ticket number; index 0 is unused.
	slots    []domain.TicketSlot
	holds    map[uuid.UUID]*domain.Hold
	byHolder map[int64]map[uuid.UUID]struct{}

	freeCount      int
	heldCount      int
	purchasedCount int

	frozen bool
}

// New seeds an all-free ledger for the given number space.
func New(space domain.NumberSpace, cfg Config, clk clock.Clock) *Ledger {
	l := &Ledger{
		space:    space,
		cfg:      cfg.withDefaults(),
		clk:      clk,
		mu:       newTimedMutex(),
		slots:    make([]domain.TicketSlot, space.TotalTickets+1),
		holds:    make(map[uuid.UUID]*domain.Hold),
		byHolder: make(map[int64]map[uuid.UUID]struct{}),
	}

	for n := 1; n <= space.TotalTickets; n++ {
		l.slots[n] = domain.TicketSlot{Number: n, State: domain.SlotFree}
	}
	l.freeCount = space.TotalTickets

	return l
}

// Restore rebuilds a ledger from persisted slots and holds after a restart.
// The caller is expected to sweep expired holds before serving requests.
func Restore(
	space domain.NumberSpace,
	cfg Config,
	clk clock.Clock,
	slots []domain.TicketSlot,
	holds []domain.Hold,
) (*Ledger, error) {
	l := New(space, cfg, clk)

	for _, h := range holds {
		cp := h
		cp.Numbers = append([]int(nil), h.Numbers...)
		l.holds[h.ID] = &cp
		l.indexHolder(&cp)
	}

	for _, s := range slots {
		if s.Number < 1 || s.Number > space.TotalTickets {
			return nil, fmt.Errorf("ledger.Restore: slot %d outside [1,%d]", s.Number, space.TotalTickets)
		}
		if s.State == domain.SlotFree {
			continue
		}
		if s.State == domain.SlotHeld {
			if _, ok := l.holds[s.HoldID]; !ok {
				return nil, fmt.Errorf("ledger.Restore: slot %d held by unknown hold %s", s.Number, s.HoldID)
			}
		}

		l.slots[s.Number] = s
		l.freeCount--
		switch s.State {
		case domain.SlotHeld:
			l.heldCount++
		case domain.SlotPurchased:
			l.purchasedCount++
		}
	}

	l.verifyLocked()

	return l, nil
}

func (l *Ledger) Space() domain.NumberSpace {
	return l.space
}

// Snapshot returns a point-in-time copy of the ledger. It blocks writers
// only for the duration of the copy.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	const op = "ledger.Snapshot"

	if err := l.mu.lock(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	snap := Snapshot{
		Space:            l.space,
		FreeCount:        l.freeCount,
		HeldCount:        l.heldCount,
		PurchasedCount:   l.purchasedCount,
		FreeNumbers:      make([]int, 0, l.freeCount),
		HeldNumbers:      make([]int, 0, l.heldCount),
		PurchasedNumbers: make([]int, 0, l.purchasedCount),
		TakenAt:          l.clk.Now(),
	}

	for n := 1; n <= l.space.TotalTickets; n++ {
		switch l.slots[n].State {
		case domain.SlotFree:
			snap.FreeNumbers = append(snap.FreeNumbers, n)
		case domain.SlotHeld:
			snap.HeldNumbers = append(snap.HeldNumbers, n)
		case domain.SlotPurchased:
			snap.PurchasedNumbers = append(snap.PurchasedNumbers, n)
		}
	}

	return snap, nil
}

// TryReserve atomically transitions every requested number from Free to Held
// under a new hold. Either all numbers transition or none do; on conflict it
// reports exactly which numbers were unavailable. Re-requesting the exact
// number set of an existing active hold returns that hold unchanged.
func (l *Ledger) TryReserve(
	ctx context.Context,
	holderID int64,
	numbers []int,
	ttl time.Duration,
) (domain.Hold, error) {
	const op = "ledger.TryReserve"

	if err := l.validateNumbers(numbers); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}

	if err := l.mu.lockTimeout(ctx, l.cfg.LockWait); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	if l.frozen {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrCompetitionClosed)
	}

	now := l.clk.Now()
	l.expireDueLocked(now)

	for id := range l.byHolder[holderID] {
		if h := l.holds[id]; h != nil && h.Covers(numbers) {
			return copyHold(h), nil
		}
	}

	if len(l.byHolder[holderID]) >= l.cfg.MaxHoldsPerHolder {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrTooManyActiveHolds)
	}

	var conflicting []int
	for _, n := range numbers {
		if l.slots[n].State != domain.SlotFree {
			conflicting = append(conflicting, n)
		}
	}
	if len(conflicting) > 0 {
		sort.Ints(conflicting)
		return domain.Hold{}, fmt.Errorf("%s:%w", op, &NumbersUnavailableError{Conflicting: conflicting})
	}

	hold := &domain.Hold{
		ID:            uuid.New(),
		CompetitionID: l.space.CompetitionID,
		HolderID:      holderID,
		Numbers:       append([]int(nil), numbers...),
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	sort.Ints(hold.Numbers)

	for _, n := range hold.Numbers {
		l.slots[n].State = domain.SlotHeld
		l.slots[n].HolderID = holderID
		l.slots[n].HoldID = hold.ID
		l.slots[n].HeldAt = now
	}
	l.freeCount -= len(hold.Numbers)
	l.heldCount += len(hold.Numbers)

	l.holds[hold.ID] = hold
	l.indexHolder(hold)

	l.verifyLocked()

	return copyHold(hold), nil
}

// ReleaseHold transitions every number of the hold back to Free and removes
// the hold. Idempotent: releasing a hold that no longer exists is a no-op.
// The second return reports whether anything was actually released.
func (l *Ledger) ReleaseHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, bool, error) {
	const op = "ledger.ReleaseHold"

	if err := l.mu.lockTimeout(ctx, l.cfg.LockWait); err != nil {
		return domain.Hold{}, false, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	h, ok := l.holds[holdID]
	if !ok {
		return domain.Hold{}, false, nil
	}

	released := copyHold(h)
	l.releaseLocked(h)
	l.verifyLocked()

	return released, true, nil
}

// RenewHold extends the hold's expiry to now+ttl. Slot states are untouched;
// a hold that already lapsed cannot be renewed.
func (l *Ledger) RenewHold(ctx context.Context, holdID uuid.UUID, ttl time.Duration) (domain.Hold, error) {
	const op = "ledger.RenewHold"

	if err := l.mu.lockTimeout(ctx, l.cfg.LockWait); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	now := l.clk.Now()
	l.expireDueLocked(now)

	h, ok := l.holds[holdID]
	if !ok {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrHoldNotFound)
	}

	h.ExpiresAt = now.Add(ttl)

	return copyHold(h), nil
}

// ConvertToPurchase transitions every number of the hold from Held to
// Purchased and removes the hold. A hold that expired or was released
// reports ErrHoldNotFound: the reservation lapsed and payment must not be
// honored as a ticket grant.
func (l *Ledger) ConvertToPurchase(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	const op = "ledger.ConvertToPurchase"

	if err := l.mu.lockTimeout(ctx, l.cfg.LockWait); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	now := l.clk.Now()
	l.expireDueLocked(now)

	h, ok := l.holds[holdID]
	if !ok {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrHoldNotFound)
	}

	for _, n := range h.Numbers {
		l.slots[n].State = domain.SlotPurchased
		l.slots[n].PurchasedAt = now
	}
	l.heldCount -= len(h.Numbers)
	l.purchasedCount += len(h.Numbers)

	converted := copyHold(h)
	l.dropHoldLocked(h)
	l.verifyLocked()

	return converted, nil
}

// GetHold returns a copy of an active hold.
func (l *Ledger) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	const op = "ledger.GetHold"

	if err := l.mu.lock(ctx); err != nil {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	h, ok := l.holds[holdID]
	if !ok {
		return domain.Hold{}, fmt.Errorf("%s:%w", op, ErrHoldNotFound)
	}

	return copyHold(h), nil
}

// PurchasedNumbersOf returns the numbers the holder permanently owns.
func (l *Ledger) PurchasedNumbersOf(ctx context.Context, holderID int64) ([]int, error) {
	const op = "ledger.PurchasedNumbersOf"

	if err := l.mu.lock(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	var out []int
	for n := 1; n <= l.space.TotalTickets; n++ {
		if l.slots[n].State == domain.SlotPurchased && l.slots[n].HolderID == holderID {
			out = append(out, n)
		}
	}

	return out, nil
}

// ExpireDue releases every hold whose expiry has passed and returns the
// released holds. Used by the background reaper and the startup sweep.
func (l *Ledger) ExpireDue(ctx context.Context) ([]domain.Hold, error) {
	const op = "ledger.ExpireDue"

	if err := l.mu.lock(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	defer l.mu.unlock()

	expired := l.expireDueLocked(l.clk.Now())
	l.verifyLocked()

	return expired, nil
}

// freeze rejects all further reservations; called on competition archive.
func (l *Ledger) freeze(ctx context.Context) error {
	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()

	l.frozen = true

	return nil
}

func (l *Ledger) validateNumbers(numbers []int) error {
	if len(numbers) == 0 {
		return &InvalidNumbersError{Reason: "empty selection"}
	}

	seen := make(map[int]struct{}, len(numbers))
	var outOfRange, dupes []int
	for _, n := range numbers {
		if n < 1 || n > l.space.TotalTickets {
			outOfRange = append(outOfRange, n)
			continue
		}
		if _, ok := seen[n]; ok {
			dupes = append(dupes, n)
			continue
		}
		seen[n] = struct{}{}
	}

	if len(outOfRange) > 0 {
		return &InvalidNumbersError{Numbers: outOfRange, Reason: "out of range"}
	}
	if len(dupes) > 0 {
		return &InvalidNumbersError{Numbers: dupes, Reason: "duplicate"}
	}

	return nil
}

func (l *Ledger) expireDueLocked(now time.Time) []domain.Hold {
	var expired []domain.Hold
	for _, h := range l.holds {
		if !h.ExpiresAt.After(now) {
			expired = append(expired, copyHold(h))
			l.releaseLocked(h)
		}
	}
	return expired
}

func (l *Ledger) releaseLocked(h *domain.Hold) {
	for _, n := range h.Numbers {
		l.slots[n] = domain.TicketSlot{Number: n, State: domain.SlotFree}
	}
	l.heldCount -= len(h.Numbers)
	l.freeCount += len(h.Numbers)

	l.dropHoldLocked(h)
}

func (l *Ledger) dropHoldLocked(h *domain.Hold) {
	delete(l.holds, h.ID)
	if set := l.byHolder[h.HolderID]; set != nil {
		delete(set, h.ID)
		if len(set) == 0 {
			delete(l.byHolder, h.HolderID)
		}
	}
}

func (l *Ledger) indexHolder(h *domain.Hold) {
	set := l.byHolder[h.HolderID]
	if set == nil {
		set = make(map[uuid.UUID]struct{})
		l.byHolder[h.HolderID] = set
	}
	set[h.ID] = struct{}{}
}

// verifyLocked checks the partition invariant after a mutation. A torn
// partition is worse than downtime, so a violation panics the ledger.
func (l *Ledger) verifyLocked() {
	if l.freeCount+l.heldCount+l.purchasedCount != l.space.TotalTickets {
		panic(fmt.Sprintf(
			"ledger: partition invariant violated for competition %d: free=%d held=%d purchased=%d total=%d",
			l.space.CompetitionID, l.freeCount, l.heldCount, l.purchasedCount, l.space.TotalTickets,
		))
	}

	heldByHolds := 0
	for _, h := range l.holds {
		heldByHolds += len(h.Numbers)
	}
	if heldByHolds != l.heldCount {
		panic(fmt.Sprintf(
			"ledger: hold union mismatch for competition %d: holds cover %d numbers, %d slots held",
			l.space.CompetitionID, heldByHolds, l.heldCount,
		))
	}
}

func copyHold(h *domain.Hold) domain.Hold {
	cp := *h
	cp.Numbers = append([]int(nil), h.Numbers...)
	return cp
}
