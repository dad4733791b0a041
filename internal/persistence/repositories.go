package persistence

import (
	"context"
	"time"
)

// BookingRepository exposes read/write operations for bookings.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	UpdateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// ListBookingsInRange returns confirmed bookings for an organizer whose
	// span intersects [rangeStart, rangeEnd).
	ListBookingsInRange(ctx context.Context, organizerID string, rangeStart, rangeEnd time.Time) ([]Booking, error)
}

// ConnectionRepository exposes read/write operations for calendar
// connections.
type ConnectionRepository interface {
	CreateConnection(ctx context.Context, connection CalendarConnection) error
	GetConnection(ctx context.Context, id string) (CalendarConnection, error)
	GetConnectionForUser(ctx context.Context, userID string) (CalendarConnection, error)
	// UpdateConnectionTokens persists the outcome of a token refresh.
	UpdateConnectionTokens(ctx context.Context, id, accessTokenEncrypted, refreshTokenEncrypted string, expiresAt, updatedAt time.Time) error
}

// WritebackRepository stores reconciliation state. ClaimDue implements the
// at-most-one-concurrent-attempt guarantee the reconciler relies on: a
// claimed record is invisible to other sweeps until claimUntil passes.
type WritebackRepository interface {
	CreateWritebackRecord(ctx context.Context, record WritebackRecord) error
	GetWritebackRecord(ctx context.Context, id string) (WritebackRecord, error)
	UpdateWritebackRecord(ctx context.Context, record WritebackRecord) error
	ClaimDue(ctx context.Context, now time.Time, claimUntil time.Time, limit int) ([]WritebackRecord, error)
}

// CursorRepository persists round-robin rotation positions.
type CursorRepository interface {
	GetCursor(ctx context.Context, eventTypeID string) (RoundRobinCursor, error)
	SaveCursor(ctx context.Context, cursor RoundRobinCursor) error
}
