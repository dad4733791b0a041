package availability

import (
	"testing"
	"time"

	"github.com/example/booking-scheduler/internal/interval"
)

func mondayUTC(t *testing.T) time.Time {
	t.Helper()
	// 2025-06-02 is a Monday.
	return time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
}

func businessHours(weekday time.Weekday) Rule {
	return Rule{
		Weekday: weekday,
		Window:  Window{StartMinute: 9 * 60, EndMinute: 17 * 60},
	}
}

func TestComputeSlots_SlicesOpenWindows(t *testing.T) {
	t.Parallel()

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 60,
		Timezone:        "UTC",
		Rules:           []Rule{businessHours(time.Monday)},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	if len(slots) != 8 {
		t.Fatalf("expected 8 hourly slots between 09:00 and 17:00, got %d", len(slots))
	}
	first := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	if !slots[0].Start.Equal(first) {
		t.Fatalf("expected first slot at %v, got %v", first, slots[0].Start)
	}
	last := time.Date(2025, time.June, 2, 16, 0, 0, 0, time.UTC)
	if !slots[len(slots)-1].Start.Equal(last) {
		t.Fatalf("expected last slot at %v, got %v", last, slots[len(slots)-1].Start)
	}
}

func TestComputeSlots_DiscardsPartialTrailingSlot(t *testing.T) {
	t.Parallel()

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 45,
		Timezone:        "UTC",
		Rules: []Rule{{
			Weekday: time.Monday,
			Window:  Window{StartMinute: 9 * 60, EndMinute: 11 * 60},
		}},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	// 120 minutes of opening fits two 45-minute slots; the 30-minute
	// remainder must not be emitted.
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	wantEnd := time.Date(2025, time.June, 2, 10, 30, 0, 0, time.UTC)
	if !slots[1].End.Equal(wantEnd) {
		t.Fatalf("expected final slot to end at %v, got %v", wantEnd, slots[1].End)
	}
}

func TestComputeSlots_BuffersShrinkWindows(t *testing.T) {
	t.Parallel()

	rule := Rule{
		Weekday: time.Monday,
		Window: Window{
			StartMinute:         9 * 60,
			EndMinute:           12 * 60,
			BufferBeforeMinutes: 30,
			BufferAfterMinutes:  30,
		},
	}

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 30,
		Timezone:        "UTC",
		Rules:           []Rule{rule},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	ruleStart := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	ruleEnd := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	for _, slot := range slots {
		if slot.Start.Before(ruleStart.Add(30 * time.Minute)) {
			t.Fatalf("slot %v begins inside the leading buffer", slot.Start)
		}
		if slot.End.After(ruleEnd.Add(-30 * time.Minute)) {
			t.Fatalf("slot %v ends inside the trailing buffer", slot.End)
		}
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots in the shrunk window, got %d", len(slots))
	}
}

func TestComputeSlots_ExcludesBusyWindows(t *testing.T) {
	t.Parallel()

	busy := interval.New(
		time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 2, 11, 0, 0, 0, time.UTC),
	)

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 60,
		Timezone:        "UTC",
		Rules:           []Rule{businessHours(time.Monday)},
		BusyWindows:     []interval.BusyWindow{busy},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	for _, slot := range slots {
		if slot.Range().Overlaps(busy) {
			t.Fatalf("slot %v overlaps busy window %v", slot, busy)
		}
	}
	if len(slots) != 7 {
		t.Fatalf("expected 7 slots after excluding the busy hour, got %d", len(slots))
	}
}

func TestComputeSlots_EmittedSlotsNeverOverlap(t *testing.T) {
	t.Parallel()

	// Two independent Monday rules with colliding spans.
	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 60,
		Timezone:        "UTC",
		Rules: []Rule{
			{Weekday: time.Monday, Window: Window{StartMinute: 9 * 60, EndMinute: 12 * 60}},
			{Weekday: time.Monday, Window: Window{StartMinute: 10 * 60, EndMinute: 13 * 60}},
		},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Before(slots[i-1].End) {
			t.Fatalf("slots %v and %v overlap", slots[i-1], slots[i])
		}
	}
}

func TestComputeSlots_OverrideReplacesRules(t *testing.T) {
	t.Parallel()

	input := ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 60,
		Timezone:        "UTC",
		Rules:           []Rule{businessHours(time.Monday)},
		Overrides: []Override{{
			Date:    "2025-06-02",
			Windows: []Window{{StartMinute: 14 * 60, EndMinute: 16 * 60}},
		}},
	}

	slots, err := ComputeSlots(input)
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	if len(slots) != 2 {
		t.Fatalf("expected the override's 2 slots, got %d", len(slots))
	}
	want := time.Date(2025, time.June, 2, 14, 0, 0, 0, time.UTC)
	if !slots[0].Start.Equal(want) {
		t.Fatalf("expected override slot at %v, got %v", want, slots[0].Start)
	}
}

func TestComputeSlots_EmptyOverrideBlocksDate(t *testing.T) {
	t.Parallel()

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            1,
		DurationMinutes: 60,
		Timezone:        "UTC",
		Rules:           []Rule{businessHours(time.Monday)},
		Overrides:       []Override{{Date: "2025-06-02"}},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	// An override that exists with no windows blocks the whole date; this
	// is different from having no override entry at all.
	if len(slots) != 0 {
		t.Fatalf("expected fully blocked date, got %d slots", len(slots))
	}
}

func TestComputeSlots_AppliesSubjectTimezone(t *testing.T) {
	t.Parallel()

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      time.Date(2025, time.March, 9, 5, 0, 0, 0, time.UTC),
		Days:            1,
		DurationMinutes: 60,
		Timezone:        "America/New_York",
		Rules:           []Rule{businessHours(time.Sunday)},
	})
	if err != nil {
		t.Fatalf("ComputeSlots returned error: %v", err)
	}

	// 2025-03-09 is the US spring-forward date; 09:00 local is EDT, so the
	// first slot must land at 13:00 UTC rather than the EST-derived 14:00.
	want := time.Date(2025, time.March, 9, 13, 0, 0, 0, time.UTC)
	if len(slots) == 0 {
		t.Fatal("expected slots on the DST transition day")
	}
	if !slots[0].Start.Equal(want) {
		t.Fatalf("expected first slot at %v, got %v", want, slots[0].Start)
	}
}

func TestComputeSlots_ZeroDaysYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	slots, err := ComputeSlots(ComputeSlotsInput{
		RangeStart:      mondayUTC(t),
		Days:            0,
		DurationMinutes: 30,
		Timezone:        "UTC",
		Rules:           []Rule{businessHours(time.Monday)},
	})
	if err != nil {
		t.Fatalf("expected zero-length range to succeed, got %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestComputeSlots_RejectsInvalidParameters(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input ComputeSlotsInput
	}{
		{
			name: "negative days",
			input: ComputeSlotsInput{
				RangeStart: mondayUTC(t), Days: -1, DurationMinutes: 30, Timezone: "UTC",
			},
		},
		{
			name: "non-positive duration",
			input: ComputeSlotsInput{
				RangeStart: mondayUTC(t), Days: 1, DurationMinutes: 0, Timezone: "UTC",
			},
		},
		{
			name: "unknown timezone",
			input: ComputeSlotsInput{
				RangeStart: mondayUTC(t), Days: 1, DurationMinutes: 30, Timezone: "Mars/Olympus",
			},
		},
		{
			name: "rule end before start",
			input: ComputeSlotsInput{
				RangeStart: mondayUTC(t), Days: 1, DurationMinutes: 30, Timezone: "UTC",
				Rules: []Rule{{Weekday: time.Monday, Window: Window{StartMinute: 600, EndMinute: 540}}},
			},
		},
		{
			name: "malformed override date",
			input: ComputeSlotsInput{
				RangeStart: mondayUTC(t), Days: 1, DurationMinutes: 30, Timezone: "UTC",
				Overrides: []Override{{Date: "June 2nd"}},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ComputeSlots(tc.input)
			if !IsInvalidParameter(err) {
				t.Fatalf("expected InvalidParameterError, got %v", err)
			}
		})
	}
}
