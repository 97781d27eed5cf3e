package reservation

import (
	"errors"
	"fmt"
)

var ErrRateLimited = errors.New("rate limited")

// SelectionSizeError reports an explicit pick whose size does not match the
// competition's numbers-per-order rule.
type SelectionSizeError struct {
	Want int
	Got  int
}

func (e *SelectionSizeError) Error() string {
	return fmt.Sprintf("selection must contain exactly %d numbers, got %d", e.Want, e.Got)
}
