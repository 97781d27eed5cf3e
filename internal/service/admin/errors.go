package admin

import (
	"errors"
)

var (
	ErrCompetitionConflict = errors.New("competition already open")
	ErrInvalidNumberSpace  = errors.New("invalid number space")
)
