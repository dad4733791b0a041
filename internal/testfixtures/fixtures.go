// Package testfixtures provides deterministic builders for the records the
// scheduler persists, so tests across packages share one vocabulary.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/booking-scheduler/internal/persistence"
)

var (
	bookingCounter    uint64
	connectionCounter uint64
	writebackCounter  uint64
)

var referenceTime = time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*persistence.Booking)

// NewBookingFixture returns a deterministic confirmed booking with optional
// overrides.
func NewBookingFixture(opts ...BookingOption) persistence.Booking {
	idx := atomic.AddUint64(&bookingCounter, 1)
	start := referenceTime.Add(time.Duration(idx) * 24 * time.Hour)
	booking := persistence.Booking{
		ID:           fmt.Sprintf("booking-%03d", idx),
		OrganizerID:  fmt.Sprintf("user-%03d", idx),
		Title:        fmt.Sprintf("Booking %03d", idx),
		InviteeEmail: fmt.Sprintf("invitee-%03d@example.com", idx),
		Start:        start,
		End:          start.Add(30 * time.Minute),
		Status:       persistence.BookingStatusConfirmed,
		CreatedAt:    referenceTime,
		UpdatedAt:    referenceTime,
	}
	for _, opt := range opts {
		opt(&booking)
	}
	return booking
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(b *persistence.Booking) {
		b.ID = id
	}
}

// WithBookingSpan overrides the booking start and end.
func WithBookingSpan(start, end time.Time) BookingOption {
	return func(b *persistence.Booking) {
		b.Start = start
		b.End = end
	}
}

// WithBookingStatus overrides the booking status.
func WithBookingStatus(status persistence.BookingStatus) BookingOption {
	return func(b *persistence.Booking) {
		b.Status = status
	}
}

// ConnectionOption configures the generated calendar connection fixture.
type ConnectionOption func(*persistence.CalendarConnection)

// NewConnectionFixture returns a deterministic calendar connection with
// optional overrides. Token fields hold opaque placeholders; tests that
// exercise decryption must supply real ciphertext.
func NewConnectionFixture(opts ...ConnectionOption) persistence.CalendarConnection {
	idx := atomic.AddUint64(&connectionCounter, 1)
	connection := persistence.CalendarConnection{
		ID:                    fmt.Sprintf("conn-%03d", idx),
		UserID:                fmt.Sprintf("user-%03d", idx),
		Provider:              "google",
		AccessTokenEncrypted:  fmt.Sprintf("enc-access-%03d", idx),
		RefreshTokenEncrypted: fmt.Sprintf("enc-refresh-%03d", idx),
		AccessTokenExpiresAt:  referenceTime.Add(time.Hour),
		CreatedAt:             referenceTime,
		UpdatedAt:             referenceTime,
	}
	for _, opt := range opts {
		opt(&connection)
	}
	return connection
}

// WithConnectionProvider overrides the provider name.
func WithConnectionProvider(provider string) ConnectionOption {
	return func(c *persistence.CalendarConnection) {
		c.Provider = provider
	}
}

// WithConnectionUser overrides the owning user ID.
func WithConnectionUser(userID string) ConnectionOption {
	return func(c *persistence.CalendarConnection) {
		c.UserID = userID
	}
}

// WritebackOption configures the generated writeback record fixture.
type WritebackOption func(*persistence.WritebackRecord)

// NewWritebackFixture returns a deterministic pending writeback record with
// optional overrides.
func NewWritebackFixture(opts ...WritebackOption) persistence.WritebackRecord {
	idx := atomic.AddUint64(&writebackCounter, 1)
	record := persistence.WritebackRecord{
		ID:            fmt.Sprintf("writeback-%03d", idx),
		BookingID:     fmt.Sprintf("booking-%03d", idx),
		ConnectionID:  fmt.Sprintf("conn-%03d", idx),
		Operation:     "create",
		Status:        "pending",
		MaxAttempts:   5,
		NextAttemptAt: referenceTime,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}
	for _, opt := range opts {
		opt(&record)
	}
	return record
}

// WithWritebackOperation overrides the record operation.
func WithWritebackOperation(operation string) WritebackOption {
	return func(r *persistence.WritebackRecord) {
		r.Operation = operation
	}
}

// WithWritebackBooking overrides the target booking ID.
func WithWritebackBooking(bookingID string) WritebackOption {
	return func(r *persistence.WritebackRecord) {
		r.BookingID = bookingID
	}
}
