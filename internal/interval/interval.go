package interval

import (
	"sort"
	"time"
)

// TimeRange is a half-open interval [Start, End) over UTC instants.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// BusyWindow marks a span of time during which a subject cannot be booked.
// Busy windows originate from confirmed local bookings and from externally
// synced provider events; both are compared as UTC instants.
type BusyWindow = TimeRange

// New returns a range with both bounds normalized to UTC.
func New(start, end time.Time) TimeRange {
	return TimeRange{Start: start.UTC(), End: end.UTC()}
}

// IsValid reports whether the range has a positive extent.
func (r TimeRange) IsValid() bool {
	return r.End.After(r.Start)
}

// Duration returns the extent of the range.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Overlaps reports whether two half-open ranges share any instant.
// Ranges that merely touch at a bound do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Contains reports whether the instant falls within [Start, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Encloses reports whether other lies entirely within the receiver.
func (r TimeRange) Encloses(other TimeRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// OverlapsAny reports whether the range intersects any of the given windows.
func (r TimeRange) OverlapsAny(windows []BusyWindow) bool {
	for _, w := range windows {
		if r.Overlaps(w) {
			return true
		}
	}
	return false
}

// SortChronologically orders ranges by start, breaking ties by end.
func SortChronologically(ranges []TimeRange) {
	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].Start.Equal(ranges[j].Start) {
			return ranges[i].End.Before(ranges[j].End)
		}
		return ranges[i].Start.Before(ranges[j].Start)
	})
}
