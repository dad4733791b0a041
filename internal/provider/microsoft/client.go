// Package microsoft adapts the Microsoft Graph calendar surface to the
// provider capabilities the core consumes. Same shape as the Google
// adapter, different endpoints and payloads.
package microsoft

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
	defaultTokenEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	defaultAPIBase       = "https://graph.microsoft.com/v1.0"

	refreshScope = "offline_access Calendars.ReadWrite"
)

// Client implements token refresh, busy lookup, and event writeback against
// Microsoft Graph for one OAuth application.
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

// NewClient builds a Microsoft Graph adapter.
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
// for event calls.
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
		"scope":         {refreshScope},
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
		return token.Response{}, fmt.Errorf("microsoft: refresh token: %w", err)
	}

	return token.Response{
		AccessToken:      payload.AccessToken,
		ExpiresInSeconds: payload.ExpiresIn,
		RefreshToken:     payload.RefreshToken,
	}, nil
}

// FetchBusyWindows reads the default calendar's schedule in UTC.
func (c *Client) FetchBusyWindows(ctx context.Context, accessToken string, rangeStart, rangeEnd time.Time) ([]provider.RawBusyWindow, error) {
	body := map[string]any{
		"schedules": []string{"me"},
		"startTime": graphDateTime(rangeStart),
		"endTime":   graphDateTime(rangeEnd),
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiBase+"/me/calendar/getSchedule", body, accessToken)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	var payload struct {
		Value []struct {
			ScheduleItems []struct {
				Start struct {
					DateTime string `json:"dateTime"`
				} `json:"start"`
				End struct {
					DateTime string `json:"dateTime"`
				} `json:"end"`
			} `json:"scheduleItems"`
		} `json:"value"`
	}
	if err := c.roundTrip(req, &payload); err != nil {
		return nil, fmt.Errorf("microsoft: fetch busy windows: %w", err)
	}

	windows := make([]provider.RawBusyWindow, 0)
	for _, schedule := range payload.Value {
		for _, item := range schedule.ScheduleItems {
			windows = append(windows, provider.RawBusyWindow{
				Start: graphToRFC3339(item.Start.DateTime),
				End:   graphToRFC3339(item.End.DateTime),
			})
		}
	}
	return windows, nil
}

// CreateEvent inserts the booking on the default calendar.
func (c *Client) CreateEvent(ctx context.Context, booking writeback.BookingContext) (string, error) {
	body := map[string]any{
		"subject": booking.Title,
		"start":   graphSpan(booking.Start),
		"end":     graphSpan(booking.End),
	}
	if len(booking.Attendees) > 0 {
		attendees := make([]map[string]any, 0, len(booking.Attendees))
		for _, email := range booking.Attendees {
			attendees = append(attendees, map[string]any{
				"emailAddress": map[string]string{"address": email},
				"type":         "required",
			})
		}
		body["attendees"] = attendees
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiBase+"/me/events", body, c.accessToken)
	if err != nil {
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := c.roundTrip(req, &payload); err != nil {
		return "", fmt.Errorf("microsoft: create event: %w", err)
	}
	return payload.ID, nil
}

// CancelEvent deletes the event.
func (c *Client) CancelEvent(ctx context.Context, externalEventID string) error {
	endpoint := fmt.Sprintf("%s/me/events/%s", c.apiBase, url.PathEscape(externalEventID))
	req, err := c.newJSONRequest(ctx, http.MethodDelete, endpoint, nil, c.accessToken)
	if err != nil {
		return err
	}
	if err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("microsoft: cancel event: %w", err)
	}
	return nil
}

// UpdateEvent moves the event to the new span.
func (c *Client) UpdateEvent(ctx context.Context, externalEventID string, start, end time.Time) error {
	endpoint := fmt.Sprintf("%s/me/events/%s", c.apiBase, url.PathEscape(externalEventID))
	body := map[string]any{
		"start": graphSpan(start),
		"end":   graphSpan(end),
	}

	req, err := c.newJSONRequest(ctx, http.MethodPatch, endpoint, body, c.accessToken)
	if err != nil {
		return err
	}
	if err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("microsoft: update event: %w", err)
	}
	return nil
}

// graphDateTime renders an instant the way Graph expects in request bodies.
func graphDateTime(t time.Time) map[string]string {
	return map[string]string{
		"dateTime": t.UTC().Format("2006-01-02T15:04:05"),
		"timeZone": "UTC",
	}
}

func graphSpan(t time.Time) map[string]string {
	return graphDateTime(t)
}

// graphToRFC3339 normalizes Graph's offset-less UTC timestamps so the shared
// busy-window filter can parse them.
func graphToRFC3339(value string) string {
	if value == "" {
		return value
	}
	if strings.HasSuffix(value, "Z") || strings.Contains(value, "+") {
		return value
	}
	// Graph returns fractional seconds like 2025-06-02T09:00:00.0000000.
	if idx := strings.Index(value, "."); idx != -1 {
		value = value[:idx]
	}
	return value + "Z"
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
