package allocation

import "errors"

var ErrInsufficientAvailability = errors.New("insufficient availability")
