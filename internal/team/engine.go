package team

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/booking-scheduler/internal/availability"
	"github.com/example/booking-scheduler/internal/interval"
)

// Mode selects how member availability is combined into team slots.
type Mode string

const (
	// ModeRoundRobin assigns each slot to exactly one member, rotating a
	// persisted cursor across the ordered member list.
	ModeRoundRobin Mode = "round_robin"
	// ModeCollective keeps only slots every member can attend.
	ModeCollective Mode = "collective"
)

// MemberInput is one team member's independent availability description.
// Each member is evaluated with their own timezone, rules, overrides and
// busy windows before any team-level combination happens.
type MemberInput struct {
	UserID      string
	Timezone    string
	Rules       []availability.Rule
	Overrides   []availability.Override
	BusyWindows []interval.BusyWindow
}

// Assignment is the outcome of one round-robin pick.
type Assignment struct {
	AssigneeUserID string
	NextCursor     int
}

// ChooseRoundRobinAssignee scans orderedMemberIDs circularly starting at
// cursor mod len and returns the first member present in the available set,
// together with the cursor for the next pick. ok is false when no ordered
// member is available; the cursor is then left for the caller to reuse.
//
// Because the scan always resumes one past the previous pick, repeated calls
// with a persisted cursor cycle through every available member before any
// member repeats, regardless of who happens to be unavailable per slot.
func ChooseRoundRobinAssignee(orderedMemberIDs []string, availableMemberIDs map[string]struct{}, cursor int) (Assignment, bool) {
	n := len(orderedMemberIDs)
	if n == 0 || len(availableMemberIDs) == 0 {
		return Assignment{}, false
	}
	if cursor < 0 {
		cursor = 0
	}

	start := cursor % n
	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		id := orderedMemberIDs[idx]
		if _, ok := availableMemberIDs[id]; ok {
			return Assignment{
				AssigneeUserID: id,
				NextCursor:     (idx + 1) % n,
			}, true
		}
	}
	return Assignment{}, false
}

// ComputeInput drives a full team availability computation.
type ComputeInput struct {
	Mode             Mode
	RangeStart       time.Time
	Days             int
	DurationMinutes  int
	RoundRobinCursor int
	Members          []MemberInput
}

// Result carries the combined team slots. FinalCursor is meaningful only
// for round-robin mode and must be persisted by the caller for the next
// computation to stay fair.
type Result struct {
	Slots       []availability.Slot
	FinalCursor int
}

// ComputeTeamAvailabilitySlots evaluates every member independently through
// the availability engine and combines the per-member slot sets according to
// the requested mode. Any member's computation error aborts the whole
// request; no partial result is returned.
func ComputeTeamAvailabilitySlots(in ComputeInput) (Result, error) {
	switch in.Mode {
	case ModeRoundRobin, ModeCollective:
	default:
		return Result{}, &availability.InvalidParameterError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", in.Mode)}
	}

	memberSlots := make(map[string]map[int64]availability.Slot, len(in.Members))
	memberOrder := make([]string, 0, len(in.Members))

	for _, member := range in.Members {
		slots, err := availability.ComputeSlots(availability.ComputeSlotsInput{
			RangeStart:      in.RangeStart,
			Days:            in.Days,
			DurationMinutes: in.DurationMinutes,
			Timezone:        member.Timezone,
			Rules:           member.Rules,
			Overrides:       member.Overrides,
			BusyWindows:     member.BusyWindows,
		})
		if err != nil {
			return Result{}, fmt.Errorf("team: member %s: %w", member.UserID, err)
		}

		byStart := make(map[int64]availability.Slot, len(slots))
		for _, slot := range slots {
			byStart[slot.Start.UnixNano()] = slot
		}
		memberSlots[member.UserID] = byStart
		memberOrder = append(memberOrder, member.UserID)
	}

	switch in.Mode {
	case ModeCollective:
		return collectiveSlots(memberOrder, memberSlots), nil
	default:
		return roundRobinSlots(memberOrder, memberSlots, in.RoundRobinCursor), nil
	}
}

// collectiveSlots keeps only the start timestamps present in every member's
// slot set; all members attend each surviving slot.
func collectiveSlots(memberOrder []string, memberSlots map[string]map[int64]availability.Slot) Result {
	if len(memberOrder) == 0 {
		return Result{}
	}

	first := memberSlots[memberOrder[0]]
	starts := make([]int64, 0, len(first))

	for start := range first {
		shared := true
		for _, id := range memberOrder[1:] {
			if _, ok := memberSlots[id][start]; !ok {
				shared = false
				break
			}
		}
		if shared {
			starts = append(starts, start)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	slots := make([]availability.Slot, 0, len(starts))
	for _, start := range starts {
		slot := first[start]
		slot.AssignmentUserIDs = append([]string(nil), memberOrder...)
		slots = append(slots, slot)
	}
	return Result{Slots: slots}
}

// roundRobinSlots walks the chronological union of all members' slot starts,
// picking one assignee per timestamp. The cursor advances only when a pick
// succeeds; a timestamp nobody can serve is dropped without moving it.
// Strict timestamp order is what keeps assignment fair across the range.
func roundRobinSlots(memberOrder []string, memberSlots map[string]map[int64]availability.Slot, cursor int) Result {
	startSet := make(map[int64]availability.Slot)
	for _, byStart := range memberSlots {
		for start, slot := range byStart {
			if _, ok := startSet[start]; !ok {
				startSet[start] = slot
			}
		}
	}
	starts := make([]int64, 0, len(startSet))
	for start := range startSet {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	slots := make([]availability.Slot, 0, len(starts))
	for _, start := range starts {
		available := make(map[string]struct{})
		for _, id := range memberOrder {
			if _, ok := memberSlots[id][start]; ok {
				available[id] = struct{}{}
			}
		}

		assignment, ok := ChooseRoundRobinAssignee(memberOrder, available, cursor)
		if !ok {
			continue
		}
		cursor = assignment.NextCursor

		slot := startSet[start]
		slot.AssignmentUserIDs = []string{assignment.AssigneeUserID}
		slots = append(slots, slot)
	}

	return Result{Slots: slots, FinalCursor: cursor}
}
