package httpgin

import "time"

// CreateHoldRequest reserves numbers for a holder. Leaving Numbers empty
// asks for a lucky dip. Any numbers the client thinks it already has are a
// request to reserve, never ground truth for availability.
type CreateHoldRequest struct {
	HolderID int64 `json:"holder_id" binding:"required"`
	Numbers  []int `json:"numbers"`
	TTLSec   int   `json:"ttl_sec"`
}

type RenewHoldRequest struct {
	HolderID int64 `json:"holder_id" binding:"required"`
	TTLSec   int   `json:"ttl_sec"`
}

type FinalizePurchaseRequest struct {
	HoldID   string `json:"hold_id" binding:"required,uuid"`
	HolderID int64  `json:"holder_id" binding:"required"`
}

type OpenCompetitionRequest struct {
	CompetitionID   int64 `json:"competition_id" binding:"required"`
	TotalTickets    int   `json:"total_tickets" binding:"required,gt=0"`
	NumbersPerOrder int   `json:"numbers_per_order" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	Conflicting []int  `json:"conflicting,omitempty"`
}

type HoldResponse struct {
	HoldID    string `json:"hold_id"`
	Numbers   []int  `json:"numbers"`
	ExpiresAt string `json:"expires_at"`
}

type PurchaseResponse struct {
	CompetitionID int64 `json:"competition_id"`
	Numbers       []int `json:"numbers"`
}

type PurchasedNumbersResponse struct {
	HolderID int64 `json:"holder_id"`
	Numbers  []int `json:"numbers"`
}

func formatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
