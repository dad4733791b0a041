// Package google adapts the Google Calendar REST surface to the provider
// capabilities the core consumes.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/booking-scheduler/internal/provider"
	"github.com/example/booking-scheduler/internal/token"
	"github.com/example/booking-scheduler/internal/writeback"
)

const (
	defaultTokenEndpoint = "https://oauth2.googleapis.com/token"
	defaultAPIBase       = "https://www.googleapis.com/calendar/v3"
)

// Client implements token refresh, free/busy lookup, and event writeback
// against Google Calendar for one OAuth application.
type Client struct {
	doer          provider.Doer
	clientID      string
	clientSecret  string
	tokenEndpoint string
	apiBase       string
	accessToken   string
}

// Option tweaks client construction.
type Option func(*Client)

// WithEndpoints overrides the production endpoints, primarily for tests.
func WithEndpoints(tokenEndpoint, apiBase string) Option {
	return func(c *Client) {
		c.tokenEndpoint = tokenEndpoint
		c.apiBase = strings.TrimRight(apiBase, "/")
	}
}

// NewClient builds a Google adapter. The doer is typically a
// provider.RateLimitedDoer shared across connections.
func NewClient(doer provider.Doer, clientID, clientSecret string, opts ...Option) *Client {
	client := &Client{
		doer:          doer,
		clientID:      clientID,
		clientSecret:  clientSecret,
		tokenEndpoint: defaultTokenEndpoint,
		apiBase:       defaultAPIBase,
	}
	if client.doer == nil {
		client.doer = http.DefaultClient
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// WithAccessToken returns a shallow copy bound to a resolved access token
// for event calls. The refresh and free/busy paths are token-explicit.
func (c *Client) WithAccessToken(accessToken string) *Client {
	bound := *c
	bound.accessToken = accessToken
	return &bound
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.Response, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return token.Response{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.roundTrip(req, &payload); err != nil {
		return token.Response{}, fmt.Errorf("google: refresh token: %w", err)
	}

	return token.Response{
		AccessToken:      payload.AccessToken,
		ExpiresInSeconds: payload.ExpiresIn,
		RefreshToken:     payload.RefreshToken,
	}, nil
}

// FetchBusyWindows queries the primary calendar's free/busy state.
func (c *Client) FetchBusyWindows(ctx context.Context, accessToken string, rangeStart, rangeEnd time.Time) ([]provider.RawBusyWindow, error) {
	body := map[string]any{
		"timeMin": rangeStart.UTC().Format(time.RFC3339),
		"timeMax": rangeEnd.UTC().Format(time.RFC3339),
		"items":   []map[string]string{{"id": "primary"}},
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiBase+"/freeBusy", body, accessToken)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Calendars map[string]struct {
			Busy []struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := c.roundTrip(req, &payload); err != nil {
		return nil, fmt.Errorf("google: fetch busy windows: %w", err)
	}

	windows := make([]provider.RawBusyWindow, 0)
	for _, calendar := range payload.Calendars {
		for _, busy := range calendar.Busy {
			windows = append(windows, provider.RawBusyWindow{Start: busy.Start, End: busy.End})
		}
	}
	return windows, nil
}

// CreateEvent inserts the booking on the primary calendar.
func (c *Client) CreateEvent(ctx context.Context, booking writeback.BookingContext) (string, error) {
	body := map[string]any{
		"summary": booking.Title,
		"start":   map[string]string{"dateTime": booking.Start.UTC().Format(time.RFC3339)},
		"end":     map[string]string{"dateTime": booking.End.UTC().Format(time.RFC3339)},
	}
	if len(booking.Attendees) > 0 {
		attendees := make([]map[string]string, 0, len(booking.Attendees))
		for _, email := range booking.Attendees {
			attendees = append(attendees, map[string]string{"email": email})
		}
		body["attendees"] = attendees
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiBase+"/calendars/primary/events", body, c.accessToken)
	if err != nil {
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := c.roundTrip(req, &payload); err != nil {
		return "", fmt.Errorf("google: create event: %w", err)
	}
	return payload.ID, nil
}

// CancelEvent deletes the event from the primary calendar.
func (c *Client) CancelEvent(ctx context.Context, externalEventID string) error {
	endpoint := fmt.Sprintf("%s/calendars/primary/events/%s", c.apiBase, url.PathEscape(externalEventID))
	req, err := c.newJSONRequest(ctx, http.MethodDelete, endpoint, nil, c.accessToken)
	if err != nil {
		return err
	}
	if err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("google: cancel event: %w", err)
	}
	return nil
}

// UpdateEvent moves the event to the new span.
func (c *Client) UpdateEvent(ctx context.Context, externalEventID string, start, end time.Time) error {
	endpoint := fmt.Sprintf("%s/calendars/primary/events/%s", c.apiBase, url.PathEscape(externalEventID))
	body := map[string]any{
		"start": map[string]string{"dateTime": start.UTC().Format(time.RFC3339)},
		"end":   map[string]string{"dateTime": end.UTC().Format(time.RFC3339)},
	}

	req, err := c.newJSONRequest(ctx, http.MethodPatch, endpoint, body, c.accessToken)
	if err != nil {
		return err
	}
	if err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("google: update event: %w", err)
	}
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, endpoint string, body any, accessToken string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
