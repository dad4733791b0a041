package team

import (
	"context"
	"testing"
	"time"

	"github.com/example/booking-scheduler/internal/persistence"
)

type cursorStoreStub struct {
	cursors map[string]persistence.RoundRobinCursor
	saves   int
}

func newCursorStoreStub() *cursorStoreStub {
	return &cursorStoreStub{cursors: make(map[string]persistence.RoundRobinCursor)}
}

func (s *cursorStoreStub) GetCursor(ctx context.Context, eventTypeID string) (persistence.RoundRobinCursor, error) {
	if cursor, ok := s.cursors[eventTypeID]; ok {
		return cursor, nil
	}
	return persistence.RoundRobinCursor{EventTypeID: eventTypeID}, nil
}

func (s *cursorStoreStub) SaveCursor(ctx context.Context, cursor persistence.RoundRobinCursor) error {
	s.cursors[cursor.EventTypeID] = cursor
	s.saves++
	return nil
}

func TestScheduler_RoundRobinCursorSurvivesAcrossComputations(t *testing.T) {
	t.Parallel()

	store := newCursorStoreStub()
	scheduler := NewScheduler(store, func() time.Time {
		return time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	})

	input := ComputeInput{
		Mode:            ModeRoundRobin,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 60,
		Members: []MemberInput{
			memberAllWeek("alice", 9*60, 10*60),
			memberAllWeek("bob", 9*60, 10*60),
		},
	}

	first, err := scheduler.ComputeSlots(context.Background(), "event-type-1", input)
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}
	if len(first.Slots) != 1 || first.Slots[0].AssignmentUserIDs[0] != "alice" {
		t.Fatalf("expected alice assigned first, got %+v", first.Slots)
	}

	second, err := scheduler.ComputeSlots(context.Background(), "event-type-1", input)
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}
	if second.Slots[0].AssignmentUserIDs[0] != "bob" {
		t.Fatalf("expected rotation to bob, got %+v", second.Slots)
	}

	if store.cursors["event-type-1"].Cursor != 0 {
		t.Fatalf("expected cursor wrapped to 0, got %d", store.cursors["event-type-1"].Cursor)
	}
}

func TestScheduler_CollectiveModeLeavesCursorAlone(t *testing.T) {
	t.Parallel()

	store := newCursorStoreStub()
	scheduler := NewScheduler(store, nil)

	_, err := scheduler.ComputeSlots(context.Background(), "event-type-1", ComputeInput{
		Mode:            ModeCollective,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 60,
		Members:         []MemberInput{memberAllWeek("alice", 9*60, 10*60)},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no cursor writes, got %d", store.saves)
	}
}

func TestScheduler_NoAssignmentsLeavesCursorAlone(t *testing.T) {
	t.Parallel()

	store := newCursorStoreStub()
	scheduler := NewScheduler(store, nil)

	_, err := scheduler.ComputeSlots(context.Background(), "event-type-1", ComputeInput{
		Mode:            ModeRoundRobin,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            0,
		DurationMinutes: 60,
		Members:         []MemberInput{memberAllWeek("alice", 9*60, 10*60)},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no cursor writes, got %d", store.saves)
	}
}
