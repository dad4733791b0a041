package team

import (
	"testing"
	"time"

	"github.com/example/booking-scheduler/internal/availability"
	"github.com/example/booking-scheduler/internal/interval"
)

func setOf(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestChooseRoundRobinAssignee_SkipsUnavailableMembers(t *testing.T) {
	t.Parallel()

	assignment, ok := ChooseRoundRobinAssignee([]string{"a", "b", "c"}, setOf("b", "c"), 0)
	if !ok {
		t.Fatal("expected an assignment")
	}
	if assignment.AssigneeUserID != "b" {
		t.Fatalf("expected b, got %s", assignment.AssigneeUserID)
	}
	if assignment.NextCursor != 2 {
		t.Fatalf("expected next cursor 2, got %d", assignment.NextCursor)
	}
}

func TestChooseRoundRobinAssignee_WrapsAroundTheList(t *testing.T) {
	t.Parallel()

	assignment, ok := ChooseRoundRobinAssignee([]string{"a", "b", "c"}, setOf("a"), 2)
	if !ok {
		t.Fatal("expected an assignment")
	}
	if assignment.AssigneeUserID != "a" {
		t.Fatalf("expected wrap-around to a, got %s", assignment.AssigneeUserID)
	}
	if assignment.NextCursor != 1 {
		t.Fatalf("expected next cursor 1, got %d", assignment.NextCursor)
	}
}

func TestChooseRoundRobinAssignee_NoAvailableMember(t *testing.T) {
	t.Parallel()

	for _, cursor := range []int{0, 1, 5} {
		if _, ok := ChooseRoundRobinAssignee([]string{"a", "b"}, nil, cursor); ok {
			t.Fatalf("expected no assignment at cursor %d", cursor)
		}
	}
	if _, ok := ChooseRoundRobinAssignee(nil, setOf("a"), 0); ok {
		t.Fatal("expected no assignment for an empty member list")
	}
}

func memberAllWeek(userID string, startMinute, endMinute int) MemberInput {
	rules := make([]availability.Rule, 0, 7)
	for day := time.Sunday; day <= time.Saturday; day++ {
		rules = append(rules, availability.Rule{
			Weekday: day,
			Window:  availability.Window{StartMinute: startMinute, EndMinute: endMinute},
		})
	}
	return MemberInput{UserID: userID, Timezone: "UTC", Rules: rules}
}

func TestComputeTeamAvailabilitySlots_RoundRobinRotation(t *testing.T) {
	t.Parallel()

	result, err := ComputeTeamAvailabilitySlots(ComputeInput{
		Mode:            ModeRoundRobin,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 60,
		Members: []MemberInput{
			memberAllWeek("a", 9*60, 13*60),
			memberAllWeek("b", 9*60, 13*60),
		},
	})
	if err != nil {
		t.Fatalf("ComputeTeamAvailabilitySlots returned error: %v", err)
	}

	if len(result.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(result.Slots))
	}
	want := []string{"a", "b", "a", "b"}
	for i, slot := range result.Slots {
		if len(slot.AssignmentUserIDs) != 1 || slot.AssignmentUserIDs[0] != want[i] {
			t.Fatalf("slot %d: expected assignee %s, got %v", i, want[i], slot.AssignmentUserIDs)
		}
	}
	if result.FinalCursor != 0 {
		t.Fatalf("expected cursor to wrap back to 0, got %d", result.FinalCursor)
	}
}

func TestComputeTeamAvailabilitySlots_RoundRobinSkipsBusyMember(t *testing.T) {
	t.Parallel()

	busyNine := interval.New(
		time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC),
	)
	memberA := memberAllWeek("a", 9*60, 11*60)
	memberA.BusyWindows = []interval.BusyWindow{busyNine}
	memberB := memberAllWeek("b", 9*60, 11*60)

	result, err := ComputeTeamAvailabilitySlots(ComputeInput{
		Mode:            ModeRoundRobin,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 60,
		Members:         []MemberInput{memberA, memberB},
	})
	if err != nil {
		t.Fatalf("ComputeTeamAvailabilitySlots returned error: %v", err)
	}

	// 09:00 only b is free; the cursor then points past b, so 10:00 goes to a.
	if len(result.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(result.Slots))
	}
	if result.Slots[0].AssignmentUserIDs[0] != "b" {
		t.Fatalf("expected 09:00 assigned to b, got %v", result.Slots[0].AssignmentUserIDs)
	}
	if result.Slots[1].AssignmentUserIDs[0] != "a" {
		t.Fatalf("expected 10:00 assigned to a, got %v", result.Slots[1].AssignmentUserIDs)
	}
}

func TestComputeTeamAvailabilitySlots_RoundRobinIgnoresFullyBusyTimestamp(t *testing.T) {
	t.Parallel()

	// Both members are busy at 09:00, so that timestamp never enters the
	// union and the cursor stays put for the next one.
	busyNine := interval.New(
		time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC),
	)
	memberA := memberAllWeek("a", 9*60, 11*60)
	memberA.BusyWindows = []interval.BusyWindow{busyNine}
	memberB := memberAllWeek("b", 9*60, 11*60)
	memberB.BusyWindows = []interval.BusyWindow{busyNine}

	result, err := ComputeTeamAvailabilitySlots(ComputeInput{
		Mode:            ModeRoundRobin,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 60,
		Members:         []MemberInput{memberA, memberB},
	})
	if err != nil {
		t.Fatalf("ComputeTeamAvailabilitySlots returned error: %v", err)
	}

	if len(result.Slots) != 1 {
		t.Fatalf("expected only the 10:00 slot, got %d slots", len(result.Slots))
	}
	if result.Slots[0].AssignmentUserIDs[0] != "a" {
		t.Fatalf("expected 10:00 assigned to a (cursor unmoved), got %v", result.Slots[0].AssignmentUserIDs)
	}
	if result.FinalCursor != 1 {
		t.Fatalf("expected final cursor 1, got %d", result.FinalCursor)
	}
}

func TestComputeTeamAvailabilitySlots_RoundRobinSeedsCursor(t *testing.T) {
	t.Parallel()

	result, err := ComputeTeamAvailabilitySlots(ComputeInput{
		Mode:             ModeRoundRobin,
		RangeStart:       time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:             1,
		DurationMinutes:  60,
		RoundRobinCursor: 1,
		Members: []MemberInput{
			memberAllWeek("a", 9*60, 11*60),
			memberAllWeek("b", 9*60, 11*60),
		},
	})
	if err != nil {
		t.Fatalf("ComputeTeamAvailabilitySlots returned error: %v", err)
	}

	if result.Slots[0].AssignmentUserIDs[0] != "b" {
		t.Fatalf("expected seeded cursor to start at b, got %v", result.Slots[0].AssignmentUserIDs)
	}
}

func TestComputeTeamAvailabilitySlots_CollectiveIntersection(t *testing.T) {
	t.Parallel()

	result, err := ComputeTeamAvailabilitySlots(ComputeInput{
		Mode:            ModeCollective,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 30,
		Members: []MemberInput{
			memberAllWeek("a", 9*60, 10*60),
			memberAllWeek("b", 9*60+30, 10*60),
		},
	})
	if err != nil {
		t.Fatalf("ComputeTeamAvailabilitySlots returned error: %v", err)
	}

	if len(result.Slots) != 1 {
		t.Fatalf("expected exactly the 09:30 slot, got %d slots", len(result.Slots))
	}
	want := time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)
	slot := result.Slots[0]
	if !slot.Start.Equal(want) {
		t.Fatalf("expected slot at %v, got %v", want, slot.Start)
	}
	if len(slot.AssignmentUserIDs) != 2 {
		t.Fatalf("expected both members assigned, got %v", slot.AssignmentUserIDs)
	}
}

func TestComputeTeamAvailabilitySlots_MemberErrorAbortsRequest(t *testing.T) {
	t.Parallel()

	bad := memberAllWeek("b", 9*60, 10*60)
	bad.Timezone = "Nowhere/Invalid"

	_, err := ComputeTeamAvailabilitySlots(ComputeInput{
		Mode:            ModeCollective,
		RangeStart:      time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 30,
		Members:         []MemberInput{memberAllWeek("a", 9*60, 10*60), bad},
	})
	if !availability.IsInvalidParameter(err) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
}

func TestComputeTeamAvailabilitySlots_RejectsUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := ComputeTeamAvailabilitySlots(ComputeInput{Mode: "pairwise"})
	if !availability.IsInvalidParameter(err) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
}
