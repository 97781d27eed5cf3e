package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNumbersUnavailable  = errors.New("some numbers are unavailable")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrNotOwner            = errors.New("hold belongs to another holder")
	ErrTooManyActiveHolds  = errors.New("too many active holds")
	ErrBusy                = errors.New("ledger busy")
	ErrCompetitionNotFound = errors.New("competition not found")
	ErrCompetitionConflict = errors.New("competition already open")
	ErrCompetitionClosed   = errors.New("competition closed")
	ErrInvalidNumbers      = errors.New("invalid numbers")
)

// NumbersUnavailableError reports exactly which requested numbers were not
// free, so the caller can react without re-querying the ledger.
type NumbersUnavailableError struct {
	Conflicting []int
}

func (e *NumbersUnavailableError) Error() string {
	return fmt.Sprintf("numbers unavailable: %v", e.Conflicting)
}

func (e *NumbersUnavailableError) Unwrap() error {
	return ErrNumbersUnavailable
}

// InvalidNumbersError reports requested numbers outside the competition's
// range or duplicated within the request.
type InvalidNumbersError struct {
	Numbers []int
	Reason  string
}

func (e *InvalidNumbersError) Error() string {
	return fmt.Sprintf("invalid numbers (%s): %v", e.Reason, e.Numbers)
}

func (e *InvalidNumbersError) Unwrap() error {
	return ErrInvalidNumbers
}
