package schedule

import "errors"

var (
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrScheduleTerminal   = errors.New("schedule is terminal")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	// ErrScheduleChanged means another pass or a caller touched the schedule
	// between load and commit; the pass is abandoned without writes.
	ErrScheduleChanged = errors.New("schedule changed concurrently")
)
