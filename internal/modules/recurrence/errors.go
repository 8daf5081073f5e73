package recurrence

import "errors"

var (
	ErrInvalidPattern = errors.New("invalid recurrence pattern")
)
