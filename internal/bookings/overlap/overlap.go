// Package overlap decides whether a candidate interval collides with the
// active bookings of a resource. Intervals are half-open: [Start, End).
package overlap

import (
	"context"
	"time"

	"slotkeeper/pkg/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

func Of(b *model.Booking) Interval {
	return Interval{Start: b.StartAt, End: b.EndAt}
}

// Overlaps is true iff a.Start < b.End && b.Start < a.End. Touching intervals
// do not overlap.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (a Interval) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Source yields candidate bookings for a resource. Implementations may return
// a superset; every candidate is re-checked here.
type Source interface {
	ActiveInRange(ctx context.Context, resourceID string, start, end time.Time) ([]*model.Booking, error)
}

// FindConflict returns the first active booking of resourceID overlapping
// candidate, or nil.
func FindConflict(ctx context.Context, src Source, resourceID string, candidate Interval) (*model.Booking, error) {
	bookings, err := src.ActiveInRange(ctx, resourceID, candidate.Start, candidate.End)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		if b.ResourceID != resourceID || !b.IsActive() {
			continue
		}
		if Of(b).Overlaps(candidate) {
			return b, nil
		}
	}
	return nil, nil
}

func HasOverlap(ctx context.Context, src Source, resourceID string, candidate Interval) (bool, error) {
	conflict, err := FindConflict(ctx, src, resourceID, candidate)
	return conflict != nil, err
}
