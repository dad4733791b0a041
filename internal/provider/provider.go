// Package provider defines the calendar-provider capabilities the core
// consumes and the shared plumbing the concrete adapters are built from.
package provider

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/booking-scheduler/internal/interval"
	"github.com/example/booking-scheduler/internal/token"
	"github.com/example/booking-scheduler/internal/writeback"
)

// RawBusyWindow is a provider-reported busy span before validation. Both
// bounds are ISO-8601 strings exactly as the provider returned them.
type RawBusyWindow struct {
	Start string
	End   string
}

// BusyWindowSource fetches the subject's externally-synced busy spans for a
// range. Implementations perform one network round trip per call.
type BusyWindowSource interface {
	FetchBusyWindows(ctx context.Context, accessToken string, rangeStart, rangeEnd time.Time) ([]RawBusyWindow, error)
}

// Client bundles the full capability surface of one provider connection.
type Client interface {
	token.Refresher
	BusyWindowSource
	writeback.EventClient
}

// FilterBusyWindows parses and validates raw provider spans. Entries that
// fail to parse or whose end does not fall after their start are dropped;
// a provider quirk must never poison availability computation.
func FilterBusyWindows(raw []RawBusyWindow) []interval.BusyWindow {
	windows := make([]interval.BusyWindow, 0, len(raw))
	for _, entry := range raw {
		start, err := time.Parse(time.RFC3339, entry.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, entry.End)
		if err != nil {
			continue
		}
		window := interval.New(start, end)
		if !window.IsValid() {
			continue
		}
		windows = append(windows, window)
	}
	return windows
}

// Doer abstracts *http.Client so adapters can be tested without a network.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateLimitedDoer wraps a Doer with a token-bucket limiter so bursts of
// reconciliation or availability traffic stay inside provider quotas.
type RateLimitedDoer struct {
	inner   Doer
	limiter *rate.Limiter
}

// NewRateLimitedDoer allows roughly perSecond requests with the given burst.
func NewRateLimitedDoer(inner Doer, perSecond float64, burst int) *RateLimitedDoer {
	if inner == nil {
		inner = http.DefaultClient
	}
	return &RateLimitedDoer{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Do waits for limiter clearance, then forwards the request.
func (d *RateLimitedDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return d.inner.Do(req)
}
