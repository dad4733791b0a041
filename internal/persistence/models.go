package persistence

import "time"

// BookingStatus tracks the local lifecycle of a booking.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCanceled  BookingStatus = "canceled"
)

// Booking represents a confirmed reservation against an organizer's
// calendar. Start and End are UTC instants.
type Booking struct {
	ID              string
	OrganizerID     string
	Title           string
	InviteeEmail    string
	Start           time.Time
	End             time.Time
	Status          BookingStatus
	ExternalEventID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CalendarConnection stores one user's provider link. Token material is
// encrypted at rest; plaintext never reaches this layer.
type CalendarConnection struct {
	ID                    string
	UserID                string
	Provider              string // "google" | "microsoft"
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	AccessTokenExpiresAt  time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// WritebackRecord is the persisted reconciliation state for one booking
// lifecycle event against one calendar connection.
type WritebackRecord struct {
	ID              string
	BookingID       string
	ConnectionID    string
	Operation       string // "create" | "cancel" | "reschedule"
	Status          string // "pending" | "succeeded" | "failed"
	AttemptCount    int
	MaxAttempts     int
	ExternalEventID string
	NextAttemptAt   time.Time
	LastError       string
	// Reschedule operations carry the replacement booking and its new span.
	RescheduleToBookingID string
	RescheduleStart       time.Time
	RescheduleEnd         time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RoundRobinCursor persists the rotation position for one team event type.
type RoundRobinCursor struct {
	EventTypeID string
	Cursor      int
	UpdatedAt   time.Time
}
