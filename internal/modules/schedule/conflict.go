package schedule

import (
	"context"
	"fmt"
	"time"
)

// Strategy selects what happens to a candidate occurrence that overlaps an
// existing booking of the same requester.
type Strategy string

const (
	// StrategySkip drops the candidate; the date is never materialized.
	StrategySkip Strategy = "skip"
	// StrategyReschedule shifts the candidate past the latest conflicting
	// interval, preserving its duration.
	StrategyReschedule Strategy = "reschedule"
	// StrategyError surfaces ErrSchedulingConflict to the caller.
	StrategyError Strategy = "error"
)

// DefaultConflictBuffer pads both sides of every interval when checking for
// overlap, so back-to-back visits keep breathing room.
const DefaultConflictBuffer = 30 * time.Minute

// Resolution is the outcome for one candidate interval.
type Resolution struct {
	Start   time.Time
	End     time.Time
	Skipped bool
}

// ConflictResolver decides accept / shift / drop for candidate intervals.
// It only reads existing bookings; it never writes.
type ConflictResolver struct {
	bookings BookingRepository
	buffer   time.Duration
}

func NewConflictResolver(bookings BookingRepository, buffer time.Duration) *ConflictResolver {
	if buffer <= 0 {
		buffer = DefaultConflictBuffer
	}
	return &ConflictResolver{bookings: bookings, buffer: buffer}
}

func (r *ConflictResolver) Resolve(ctx context.Context, start, end time.Time, requesterID int64, strategy Strategy) (Resolution, error) {
	conflicts, err := r.bookings.ListOverlapping(ctx, requesterID, start.Add(-r.buffer), end.Add(r.buffer))
	if err != nil {
		return Resolution{}, err
	}
	if len(conflicts) == 0 {
		return Resolution{Start: start, End: end}, nil
	}

	switch strategy {
	case StrategySkip:
		return Resolution{Skipped: true}, nil
	case StrategyReschedule:
		latest := conflicts[0].EndTime
		for _, c := range conflicts[1:] {
			if c.EndTime.After(latest) {
				latest = c.EndTime
			}
		}
		shifted := latest.Add(r.buffer)
		return Resolution{Start: shifted, End: shifted.Add(end.Sub(start))}, nil
	case StrategyError:
		return Resolution{}, fmt.Errorf("%w: %d existing booking(s) overlap %s", ErrSchedulingConflict, len(conflicts), start.Format(time.RFC3339))
	default:
		return Resolution{}, fmt.Errorf("unknown conflict strategy %q", strategy)
	}
}
