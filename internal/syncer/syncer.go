// Package syncer drives the calendar writeback queue and fetches external
// busy windows, bridging persistence, token resolution, and the provider
// adapters.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/booking-scheduler/internal/interval"
	"github.com/example/booking-scheduler/internal/logging"
	"github.com/example/booking-scheduler/internal/persistence"
	"github.com/example/booking-scheduler/internal/provider"
	"github.com/example/booking-scheduler/internal/secrets"
	"github.com/example/booking-scheduler/internal/token"
	"github.com/example/booking-scheduler/internal/writeback"
)

// Driver bundles the provider-specific capabilities for one calendar
// provider. Events binds an access token to a client because event calls
// authenticate per request.
type Driver struct {
	Refresher token.Refresher
	Busy      provider.BusyWindowSource
	Events    func(accessToken string) writeback.EventClient
}

// Params carries the syncer's dependencies.
type Params struct {
	Bookings         persistence.BookingRepository
	Connections      persistence.ConnectionRepository
	Writebacks       persistence.WritebackRepository
	Drivers          map[string]Driver
	Tokens           *token.CachedResolver
	EncryptionSecret string
	Now              func() time.Time
	ClaimTTL         time.Duration
	BatchSize        int
}

// Syncer owns the periodic reconciliation sweep and on-demand busy window
// fetches.
type Syncer struct {
	bookings    persistence.BookingRepository
	connections persistence.ConnectionRepository
	writebacks  persistence.WritebackRepository
	drivers     map[string]Driver
	tokens      *token.CachedResolver
	secret      string
	now         func() time.Time
	claimTTL    time.Duration
	batchSize   int
}

// New constructs a syncer, applying defaults for optional knobs.
func New(params Params) *Syncer {
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.ClaimTTL <= 0 {
		params.ClaimTTL = 5 * time.Minute
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 20
	}
	return &Syncer{
		bookings:    params.Bookings,
		connections: params.Connections,
		writebacks:  params.Writebacks,
		drivers:     params.Drivers,
		tokens:      params.Tokens,
		secret:      params.EncryptionSecret,
		now:         params.Now,
		claimTTL:    params.ClaimTTL,
		batchSize:   params.BatchSize,
	}
}

// Sweep claims one batch of due writeback records and runs each through the
// reconciler. Per-record failures are folded into the record's retry state
// and never abort the batch. It returns the number of records processed.
func (s *Syncer) Sweep(ctx context.Context) (int, error) {
	logger := logging.FromContextOrDefault(ctx)
	now := s.now()

	records, err := s.writebacks.ClaimDue(ctx, now, now.Add(s.claimTTL), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due writebacks: %w", err)
	}

	for _, record := range records {
		if err := s.processRecord(ctx, record); err != nil {
			// The claim expires on its own; the record becomes due again.
			logger.Error("writeback processing failed",
				"record_id", record.ID,
				"booking_id", record.BookingID,
				"operation", record.Operation,
				"error", err,
			)
		}
	}
	return len(records), nil
}

func (s *Syncer) processRecord(ctx context.Context, record persistence.WritebackRecord) error {
	logger := logging.FromContextOrDefault(ctx)
	now := s.now()

	booking, err := s.bookings.GetBooking(ctx, record.BookingID)
	if err != nil {
		return fmt.Errorf("load booking %s: %w", record.BookingID, err)
	}
	connection, err := s.connections.GetConnection(ctx, record.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %s: %w", record.ConnectionID, err)
	}
	driver, ok := s.drivers[connection.Provider]
	if !ok {
		return fmt.Errorf("no driver registered for provider %q", connection.Provider)
	}

	resolution, err := s.resolveConnection(ctx, connection, driver)
	if err != nil {
		// Token failures consume an attempt on the same schedule as
		// provider failures so a revoked connection eventually goes
		// terminal instead of looping forever.
		result := writeback.FoldFailure(reconcilerRecord(record), err, now)
		return s.persistResult(ctx, record, result)
	}

	result, err := writeback.ProcessWriteback(ctx, writeback.ProcessInput{
		Record:           reconcilerRecord(record),
		Booking:          bookingContext(booking),
		RescheduleTarget: rescheduleTarget(record),
		Client:           driver.Events(resolution.AccessToken),
		Now:              now,
	})
	if err != nil {
		return fmt.Errorf("process writeback %s: %w", record.ID, err)
	}

	if err := s.persistResult(ctx, record, result); err != nil {
		return err
	}

	if result.Status == writeback.StatusSucceeded {
		if err := s.applyEventAssociation(ctx, booking, result); err != nil {
			return err
		}
		logger.Info("writeback succeeded",
			"record_id", record.ID,
			"booking_id", record.BookingID,
			"operation", record.Operation,
			"attempts", result.AttemptCount,
		)
	}
	return nil
}

// resolveConnection resolves the connection's access token and, when a
// refresh happened, persists the rotated material re-encrypted at rest.
func (s *Syncer) resolveConnection(ctx context.Context, connection persistence.CalendarConnection, driver Driver) (token.Resolution, error) {
	resolution, err := s.tokens.Resolve(ctx, connection.ID, token.ResolveInput{
		Connection: token.ConnectionSecretState{
			AccessTokenEncrypted:  connection.AccessTokenEncrypted,
			RefreshTokenEncrypted: connection.RefreshTokenEncrypted,
			AccessTokenExpiresAt:  connection.AccessTokenExpiresAt,
		},
		EncryptionSecret: s.secret,
		Now:              s.now(),
	}, driver.Refresher)
	if err != nil {
		return token.Resolution{}, err
	}

	if resolution.Refreshed {
		accessEncrypted, err := secrets.Encrypt(resolution.AccessToken, s.secret)
		if err != nil {
			return token.Resolution{}, err
		}
		refreshEncrypted, err := secrets.Encrypt(resolution.RefreshToken, s.secret)
		if err != nil {
			return token.Resolution{}, err
		}
		if err := s.connections.UpdateConnectionTokens(ctx, connection.ID,
			accessEncrypted, refreshEncrypted,
			resolution.AccessTokenExpiresAt, s.now()); err != nil {
			return token.Resolution{}, fmt.Errorf("persist refreshed tokens: %w", err)
		}
	}
	return resolution, nil
}

// persistResult writes the reconciler outcome back onto the record, which
// also releases the sweep's claim.
func (s *Syncer) persistResult(ctx context.Context, record persistence.WritebackRecord, result writeback.Result) error {
	record.Status = string(result.Status)
	record.AttemptCount = result.AttemptCount
	record.NextAttemptAt = result.NextAttemptAt
	record.ExternalEventID = result.ExternalEventID
	record.LastError = result.LastError
	record.UpdatedAt = s.now()
	if err := s.writebacks.UpdateWritebackRecord(ctx, record); err != nil {
		return fmt.Errorf("persist writeback %s: %w", record.ID, err)
	}
	return nil
}

// applyEventAssociation stores the provider event id on the booking and, for
// a completed reschedule, re-points it at the replacement booking.
func (s *Syncer) applyEventAssociation(ctx context.Context, booking persistence.Booking, result writeback.Result) error {
	now := s.now()

	if result.TransferExternalEventToBookingID != "" {
		replacement, err := s.bookings.GetBooking(ctx, result.TransferExternalEventToBookingID)
		if err != nil {
			return fmt.Errorf("load replacement booking %s: %w", result.TransferExternalEventToBookingID, err)
		}
		replacement.ExternalEventID = result.ExternalEventID
		replacement.UpdatedAt = now
		if err := s.bookings.UpdateBooking(ctx, replacement); err != nil {
			return fmt.Errorf("update replacement booking %s: %w", replacement.ID, err)
		}

		if booking.ExternalEventID != "" {
			booking.ExternalEventID = ""
			booking.UpdatedAt = now
			if err := s.bookings.UpdateBooking(ctx, booking); err != nil {
				return fmt.Errorf("clear event id on booking %s: %w", booking.ID, err)
			}
		}
		return nil
	}

	if result.ExternalEventID != "" && booking.ExternalEventID != result.ExternalEventID {
		booking.ExternalEventID = result.ExternalEventID
		booking.UpdatedAt = now
		if err := s.bookings.UpdateBooking(ctx, booking); err != nil {
			return fmt.Errorf("update booking %s: %w", booking.ID, err)
		}
	}
	return nil
}

// BusyWindowsForUser fetches and validates the user's externally-synced busy
// spans. A user without a calendar connection has no external busy windows.
func (s *Syncer) BusyWindowsForUser(ctx context.Context, userID string, rangeStart, rangeEnd time.Time) ([]interval.BusyWindow, error) {
	connection, err := s.connections.GetConnectionForUser(ctx, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load connection for user %s: %w", userID, err)
	}

	driver, ok := s.drivers[connection.Provider]
	if !ok {
		return nil, fmt.Errorf("no driver registered for provider %q", connection.Provider)
	}

	resolution, err := s.resolveConnection(ctx, connection, driver)
	if err != nil {
		return nil, err
	}

	raw, err := driver.Busy.FetchBusyWindows(ctx, resolution.AccessToken, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("fetch busy windows: %w", err)
	}
	return provider.FilterBusyWindows(raw), nil
}

func reconcilerRecord(record persistence.WritebackRecord) writeback.Record {
	return writeback.Record{
		Operation:       writeback.Operation(record.Operation),
		AttemptCount:    record.AttemptCount,
		MaxAttempts:     record.MaxAttempts,
		ExternalEventID: record.ExternalEventID,
	}
}

func bookingContext(booking persistence.Booking) writeback.BookingContext {
	bc := writeback.BookingContext{
		BookingID: booking.ID,
		Title:     booking.Title,
		Start:     booking.Start,
		End:       booking.End,
	}
	if booking.InviteeEmail != "" {
		bc.Attendees = []string{booking.InviteeEmail}
	}
	return bc
}

func rescheduleTarget(record persistence.WritebackRecord) *writeback.RescheduleTarget {
	if record.RescheduleToBookingID == "" {
		return nil
	}
	return &writeback.RescheduleTarget{
		BookingID: record.RescheduleToBookingID,
		Start:     record.RescheduleStart,
		End:       record.RescheduleEnd,
	}
}
