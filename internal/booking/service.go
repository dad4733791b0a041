package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/booking-scheduler/internal/persistence"
	"github.com/example/booking-scheduler/internal/writeback"
)

// BookingStore captures the persistence interactions the service needs.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking persistence.Booking) error
	UpdateBooking(ctx context.Context, booking persistence.Booking) error
	GetBooking(ctx context.Context, id string) (persistence.Booking, error)
	ListBookingsInRange(ctx context.Context, organizerID string, rangeStart, rangeEnd time.Time) ([]persistence.Booking, error)
}

// WritebackQueue enqueues reconciliation work for the sweep worker.
type WritebackQueue interface {
	CreateWritebackRecord(ctx context.Context, record persistence.WritebackRecord) error
}

// Service orchestrates the booking lifecycle: every state change persists
// the booking and enqueues the matching calendar writeback. Writeback
// failures never fail the booking operation itself; they degrade to the
// record's retry state.
type Service struct {
	bookings    BookingStore
	writebacks  WritebackQueue
	idGenerator func() string
	now         func() time.Time
	maxAttempts int
}

// NewService wires dependencies for booking operations. maxAttempts bounds
// how often each enqueued writeback is retried. A nil idGenerator falls back
// to random UUIDs.
func NewService(bookings BookingStore, writebacks WritebackQueue, idGenerator func() string, now func() time.Time, maxAttempts int) *Service {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		bookings:    bookings,
		writebacks:  writebacks,
		idGenerator: idGenerator,
		now:         now,
		maxAttempts: maxAttempts,
	}
}

// ScheduleParams captures caller provided booking fields.
type ScheduleParams struct {
	OrganizerID  string
	ConnectionID string
	Title        string
	InviteeEmail string
	Start        time.Time
	End          time.Time
}

// Schedule validates and persists a confirmed booking, then enqueues the
// provider create.
func (s *Service) Schedule(ctx context.Context, params ScheduleParams) (persistence.Booking, error) {
	vErr := &ValidationError{}

	if params.OrganizerID == "" {
		vErr.add("organizer_id", "organizer is required")
	}
	if strings.TrimSpace(params.Title) == "" {
		vErr.add("title", "title is required")
	}
	if params.InviteeEmail != "" {
		if _, err := mail.ParseAddress(params.InviteeEmail); err != nil {
			vErr.add("invitee_email", "must be a valid email address")
		}
	}
	validateSpan(params.Start, params.End, vErr)
	if vErr.HasErrors() {
		return persistence.Booking{}, vErr
	}

	conflicting, err := s.bookings.ListBookingsInRange(ctx, params.OrganizerID, params.Start.UTC(), params.End.UTC())
	if err != nil {
		return persistence.Booking{}, err
	}
	if len(conflicting) > 0 {
		vErr.add("time", fmt.Sprintf("conflicts with booking %s", conflicting[0].ID))
		return persistence.Booking{}, vErr
	}

	now := s.now()
	booking := persistence.Booking{
		ID:           s.idGenerator(),
		OrganizerID:  params.OrganizerID,
		Title:        strings.TrimSpace(params.Title),
		InviteeEmail: params.InviteeEmail,
		Start:        params.Start.UTC(),
		End:          params.End.UTC(),
		Status:       persistence.BookingStatusConfirmed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.bookings.CreateBooking(ctx, booking); err != nil {
		return persistence.Booking{}, mapRepoError(err)
	}

	if err := s.enqueue(ctx, persistence.WritebackRecord{
		BookingID:    booking.ID,
		ConnectionID: params.ConnectionID,
		Operation:    string(writeback.OperationCreate),
	}); err != nil {
		return persistence.Booking{}, err
	}

	return booking, nil
}

// Cancel marks the booking canceled and enqueues the provider cancel. The
// enqueued record carries the external event id known at cancellation time;
// a booking whose create never landed upstream cancels as a no-op there.
func (s *Service) Cancel(ctx context.Context, bookingID, connectionID string) (persistence.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return persistence.Booking{}, mapRepoError(err)
	}
	if booking.Status == persistence.BookingStatusCanceled {
		return persistence.Booking{}, ErrAlreadyCanceled
	}

	booking.Status = persistence.BookingStatusCanceled
	booking.UpdatedAt = s.now()
	if err := s.bookings.UpdateBooking(ctx, booking); err != nil {
		return persistence.Booking{}, mapRepoError(err)
	}

	if err := s.enqueue(ctx, persistence.WritebackRecord{
		BookingID:       booking.ID,
		ConnectionID:    connectionID,
		Operation:       string(writeback.OperationCancel),
		ExternalEventID: booking.ExternalEventID,
	}); err != nil {
		return persistence.Booking{}, err
	}

	return booking, nil
}

// RescheduleParams captures the replacement span for an existing booking.
type RescheduleParams struct {
	BookingID    string
	ConnectionID string
	NewStart     time.Time
	NewEnd       time.Time
}

// Reschedule cancels the original booking locally, creates its replacement
// under a fresh identifier, and enqueues a single reschedule writeback that
// will re-point the provider event at the new booking.
func (s *Service) Reschedule(ctx context.Context, params RescheduleParams) (persistence.Booking, error) {
	vErr := &ValidationError{}
	validateSpan(params.NewStart, params.NewEnd, vErr)
	if vErr.HasErrors() {
		return persistence.Booking{}, vErr
	}

	original, err := s.bookings.GetBooking(ctx, params.BookingID)
	if err != nil {
		return persistence.Booking{}, mapRepoError(err)
	}
	if original.Status == persistence.BookingStatusCanceled {
		return persistence.Booking{}, ErrAlreadyCanceled
	}

	now := s.now()
	replacement := original
	replacement.ID = s.idGenerator()
	replacement.Start = params.NewStart.UTC()
	replacement.End = params.NewEnd.UTC()
	replacement.ExternalEventID = ""
	replacement.CreatedAt = now
	replacement.UpdatedAt = now

	if err := s.bookings.CreateBooking(ctx, replacement); err != nil {
		return persistence.Booking{}, mapRepoError(err)
	}

	original.Status = persistence.BookingStatusCanceled
	original.UpdatedAt = now
	if err := s.bookings.UpdateBooking(ctx, original); err != nil {
		return persistence.Booking{}, mapRepoError(err)
	}

	if err := s.enqueue(ctx, persistence.WritebackRecord{
		BookingID:             original.ID,
		ConnectionID:          params.ConnectionID,
		Operation:             string(writeback.OperationReschedule),
		ExternalEventID:       original.ExternalEventID,
		RescheduleToBookingID: replacement.ID,
		RescheduleStart:       replacement.Start,
		RescheduleEnd:         replacement.End,
	}); err != nil {
		return persistence.Booking{}, err
	}

	return replacement, nil
}

func (s *Service) enqueue(ctx context.Context, record persistence.WritebackRecord) error {
	now := s.now()
	record.ID = s.idGenerator()
	record.Status = string(writeback.StatusPending)
	record.MaxAttempts = s.maxAttempts
	record.NextAttemptAt = now
	record.CreatedAt = now
	record.UpdatedAt = now
	return s.writebacks.CreateWritebackRecord(ctx, record)
}

func validateSpan(start, end time.Time, vErr *ValidationError) {
	if start.IsZero() {
		vErr.add("start", "start is required")
	}
	if end.IsZero() {
		vErr.add("end", "end is required")
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		vErr.add("time", "start must be before end")
	}
}

func mapRepoError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
