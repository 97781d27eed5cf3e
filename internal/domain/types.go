package domain

import (
	"time"

	"github.com/google/uuid"
)

type SlotState string

const (
	SlotFree      SlotState = "free"
	SlotHeld      SlotState = "held"
	SlotPurchased SlotState = "purchased"
)

// NumberSpace describes the ticket range of a competition. Immutable once
// the competition is open for sale.
type NumberSpace struct {
	CompetitionID   int64
	TotalTickets    int
	NumbersPerOrder int
}

// TicketSlot is one unit of inventory: a single ticket number and its
// current ownership state.
type TicketSlot struct {
	Number      int
	State       SlotState
	HolderID    int64
	HoldID      uuid.UUID
	HeldAt      time.Time
	PurchasedAt time.Time
}

// Hold is a time-bounded exclusive reservation of a fixed set of ticket
// numbers by one holder. Numbers never change after creation; renewal only
// moves ExpiresAt.
type Hold struct {
	ID            uuid.UUID
	CompetitionID int64
	HolderID      int64
	Numbers       []int
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Covers reports whether the hold reserves exactly the given numbers,
// regardless of order.
func (h Hold) Covers(numbers []int) bool {
	if len(numbers) != len(h.Numbers) {
		return false
	}

	set := make(map[int]struct{}, len(h.Numbers))
	for _, n := range h.Numbers {
		set[n] = struct{}{}
	}

	for _, n := range numbers {
		if _, ok := set[n]; !ok {
			return false
		}
	}

	return true
}

// Availability is the read-optimized projection of a competition's ledger.
// Held and purchased numbers come only from the ledger's own records.
type Availability struct {
	CompetitionID    int64 `json:"competition_id"`
	TotalTickets     int   `json:"total_tickets"`
	FreeCount        int   `json:"free_count"`
	HeldCount        int   `json:"held_count"`
	PurchasedCount   int   `json:"purchased_count"`
	HeldNumbers      []int `json:"held_numbers"`
	PurchasedNumbers []int `json:"purchased_numbers"`
}

type NumberStatus struct {
	Number int       `json:"number"`
	State  SlotState `json:"state"`
}
