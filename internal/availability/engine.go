package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/booking-scheduler/internal/interval"
)

const (
	minutesPerDay = 24 * 60
	dateLayout    = "2006-01-02"
)

// Window describes an open span within a single day, expressed as
// minute-of-day bounds in the owning subject's local timezone. Buffers
// shrink the span at each edge; they never extend it.
type Window struct {
	StartMinute         int
	EndMinute           int
	BufferBeforeMinutes int
	BufferAfterMinutes  int
}

// Rule is a recurring weekly open window. Multiple rules may target the
// same weekday; each is expanded independently.
type Rule struct {
	Weekday time.Weekday
	Window
}

// Override replaces every recurring rule for one calendar date. An override
// whose Windows list is empty blocks the date entirely; a date with no
// override at all falls back to the recurring rules. The two cases are
// observably different and must not be conflated.
type Override struct {
	Date    string // calendar date in the subject's timezone, "2006-01-02"
	Windows []Window
}

// Slot is a bookable span of exactly the requested duration. Start and End
// are UTC instants. AssignmentUserIDs is populated by team-level scheduling;
// single-subject computation leaves it empty.
type Slot struct {
	Start             time.Time
	End               time.Time
	AssignmentUserIDs []string
}

// Range returns the slot's span as a half-open interval.
func (s Slot) Range() interval.TimeRange {
	return interval.TimeRange{Start: s.Start, End: s.End}
}

// ComputeSlotsInput carries everything needed to expand one subject's
// availability over a date range.
type ComputeSlotsInput struct {
	RangeStart      time.Time
	Days            int
	DurationMinutes int
	Timezone        string
	Rules           []Rule
	Overrides       []Override
	BusyWindows     []interval.BusyWindow
}

// InvalidParameterError reports malformed slot-computation input. It is
// always returned synchronously and is never retried.
type InvalidParameterError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("availability: invalid %s: %s", e.Field, e.Reason)
}

// IsInvalidParameter reports whether err is an InvalidParameterError.
func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

// ComputeSlots expands recurring rules and date overrides into concrete
// bookable slots for [RangeStart, RangeStart+Days) in the subject's
// timezone, then removes every candidate that collides with a busy window.
//
// Semantics:
//   - Day boundaries are evaluated in the subject's IANA timezone; emitted
//     instants are UTC. Timezone math happens exactly once, here.
//   - An override for a date fully replaces the recurring rules for that
//     date, even when it carries no windows.
//   - Each open window is shrunk by its buffers and sliced into consecutive
//     slots of exactly DurationMinutes; a trailing remainder shorter than
//     the duration is discarded.
//   - Output is chronological and overlap-free for the subject.
func ComputeSlots(in ComputeSlotsInput) ([]Slot, error) {
	if in.Days < 0 {
		return nil, &InvalidParameterError{Field: "days", Reason: "must not be negative"}
	}
	if in.DurationMinutes <= 0 {
		return nil, &InvalidParameterError{Field: "duration_minutes", Reason: "must be positive"}
	}
	loc, err := time.LoadLocation(in.Timezone)
	if err != nil {
		return nil, &InvalidParameterError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", in.Timezone)}
	}
	if err := validateWindows(in.Rules, in.Overrides); err != nil {
		return nil, err
	}
	if in.Days == 0 {
		return nil, nil
	}

	overridesByDate := make(map[string]Override, len(in.Overrides))
	for _, ov := range in.Overrides {
		overridesByDate[ov.Date] = ov
	}

	days, err := enumerateDays(in.RangeStart, in.Days, loc)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(in.DurationMinutes) * time.Minute
	slots := make([]Slot, 0)
	var lastEnd time.Time

	for _, dayStart := range days {
		year, month, day := dayStart.Date()
		dateKey := dayStart.Format(dateLayout)

		windows := windowsForDay(dayStart.Weekday(), dateKey, in.Rules, overridesByDate)

		opens := make([]interval.TimeRange, 0, len(windows))
		for _, w := range windows {
			openStartMinute := w.StartMinute + w.BufferBeforeMinutes
			openEndMinute := w.EndMinute - w.BufferAfterMinutes
			if openEndMinute <= openStartMinute {
				continue
			}
			// time.Date resolves the wall clock in loc, so minute-of-day
			// bounds stay correct across DST transitions.
			open := interval.New(
				time.Date(year, month, day, 0, openStartMinute, 0, 0, loc),
				time.Date(year, month, day, 0, openEndMinute, 0, 0, loc),
			)
			if open.IsValid() {
				opens = append(opens, open)
			}
		}
		interval.SortChronologically(opens)

		for _, open := range opens {
			for start := open.Start; !start.Add(duration).After(open.End); start = start.Add(duration) {
				candidate := interval.New(start, start.Add(duration))
				if candidate.OverlapsAny(in.BusyWindows) {
					continue
				}
				// Independent rules for one day may produce colliding
				// candidates; keep the earliest and drop the rest so the
				// subject's sequence stays overlap-free.
				if !lastEnd.IsZero() && candidate.Start.Before(lastEnd) {
					continue
				}
				slots = append(slots, Slot{Start: candidate.Start, End: candidate.End})
				lastEnd = candidate.End
			}
		}
	}

	return slots, nil
}

// enumerateDays yields the local midnight of each calendar day in the range,
// using a daily recurrence anchored in loc rather than fixed 24h arithmetic.
func enumerateDays(rangeStart time.Time, days int, loc *time.Location) ([]time.Time, error) {
	local := rangeStart.In(loc)
	first := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Count:   days,
		Dtstart: first,
	})
	if err != nil {
		return nil, fmt.Errorf("availability: build day recurrence: %w", err)
	}
	return rule.All(), nil
}

func windowsForDay(weekday time.Weekday, dateKey string, rules []Rule, overrides map[string]Override) []Window {
	if ov, exists := overrides[dateKey]; exists {
		// Present-but-empty means the date is fully blocked.
		return ov.Windows
	}
	windows := make([]Window, 0, len(rules))
	for _, r := range rules {
		if r.Weekday == weekday {
			windows = append(windows, r.Window)
		}
	}
	return windows
}

func validateWindows(rules []Rule, overrides []Override) error {
	for _, r := range rules {
		if err := validateWindow(r.Window, "rules"); err != nil {
			return err
		}
	}
	for _, ov := range overrides {
		if _, err := time.Parse(dateLayout, ov.Date); err != nil {
			return &InvalidParameterError{Field: "overrides", Reason: fmt.Sprintf("malformed date %q", ov.Date)}
		}
		for _, w := range ov.Windows {
			if err := validateWindow(w, "overrides"); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateWindow(w Window, field string) error {
	if w.StartMinute < 0 || w.StartMinute >= minutesPerDay {
		return &InvalidParameterError{Field: field, Reason: "start minute out of range"}
	}
	if w.EndMinute <= w.StartMinute || w.EndMinute > minutesPerDay {
		return &InvalidParameterError{Field: field, Reason: "end minute must fall after start within the day"}
	}
	if w.BufferBeforeMinutes < 0 || w.BufferAfterMinutes < 0 {
		return &InvalidParameterError{Field: field, Reason: "buffers must not be negative"}
	}
	return nil
}
