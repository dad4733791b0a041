package team

import (
	"context"
	"fmt"
	"time"

	"github.com/example/booking-scheduler/internal/persistence"
)

// CursorStore persists round-robin rotation positions between computations.
type CursorStore interface {
	GetCursor(ctx context.Context, eventTypeID string) (persistence.RoundRobinCursor, error)
	SaveCursor(ctx context.Context, cursor persistence.RoundRobinCursor) error
}

// Scheduler computes team availability with the rotation cursor loaded from
// and written back to storage, so fairness survives process restarts.
type Scheduler struct {
	cursors CursorStore
	now     func() time.Time
}

// NewScheduler wires the cursor store. A nil now falls back to time.Now.
func NewScheduler(cursors CursorStore, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{cursors: cursors, now: now}
}

// ComputeSlots runs a team availability computation for the event type. For
// round-robin mode the stored cursor seeds the rotation and the advanced
// cursor is saved only when it moved, so a computation that assigns nothing
// leaves rotation order untouched.
func (s *Scheduler) ComputeSlots(ctx context.Context, eventTypeID string, in ComputeInput) (Result, error) {
	if in.Mode == ModeRoundRobin {
		stored, err := s.cursors.GetCursor(ctx, eventTypeID)
		if err != nil {
			return Result{}, fmt.Errorf("team: load cursor for %s: %w", eventTypeID, err)
		}
		in.RoundRobinCursor = stored.Cursor
	}

	result, err := ComputeTeamAvailabilitySlots(in)
	if err != nil {
		return Result{}, err
	}

	if in.Mode == ModeRoundRobin && result.FinalCursor != in.RoundRobinCursor {
		if err := s.cursors.SaveCursor(ctx, persistence.RoundRobinCursor{
			EventTypeID: eventTypeID,
			Cursor:      result.FinalCursor,
			UpdatedAt:   s.now(),
		}); err != nil {
			return Result{}, fmt.Errorf("team: save cursor for %s: %w", eventTypeID, err)
		}
	}
	return result, nil
}
