package writeback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Operation names the calendar mutation a record reconciles.
type Operation string

const (
	OperationCreate     Operation = "create"
	OperationCancel     Operation = "cancel"
	OperationReschedule Operation = "reschedule"
)

// Status is the record's lifecycle state. Succeeded and Failed are terminal;
// no transition ever leaves them.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	// maxErrorLength bounds the persisted error message so unbounded
	// provider payloads cannot bloat storage.
	maxErrorLength = 1000

	// maxBackoffExponent caps the backoff doubling; together with the
	// one-hour ceiling this yields 1,2,4,8,16,32,60,60,... minutes.
	maxBackoffExponent = 6
	maxBackoffMinutes  = 60
)

// Record is the persisted reconciliation state threaded through each
// attempt. The caller owns persistence and claim semantics; the reconciler
// is a pure function of the record it is handed.
type Record struct {
	Operation       Operation
	AttemptCount    int
	MaxAttempts     int
	ExternalEventID string
}

// BookingContext is what the provider needs to materialize an event.
type BookingContext struct {
	BookingID string
	Title     string
	Start     time.Time
	End       time.Time
	Attendees []string
}

// RescheduleTarget carries the replacement booking identity and span.
type RescheduleTarget struct {
	BookingID string
	Start     time.Time
	End       time.Time
}

// EventClient is the provider capability the reconciler drives. Each method
// is a single network round trip; any returned error is treated as
// transient and classified solely by attempt exhaustion.
type EventClient interface {
	CreateEvent(ctx context.Context, booking BookingContext) (externalEventID string, err error)
	CancelEvent(ctx context.Context, externalEventID string) error
	UpdateEvent(ctx context.Context, externalEventID string, start, end time.Time) error
}

// ErrMissingRescheduleTarget reports a reschedule record processed without
// its target. This is a caller bug, never a retryable condition.
var ErrMissingRescheduleTarget = errors.New("writeback: reschedule requires a target")

// ProcessInput bundles one reconciliation attempt's inputs.
type ProcessInput struct {
	Record           Record
	Booking          BookingContext
	RescheduleTarget *RescheduleTarget
	Client           EventClient
	Now              time.Time
}

// Result is the outcome the caller persists back onto the record.
type Result struct {
	Status          Status
	AttemptCount    int
	NextAttemptAt   time.Time
	ExternalEventID string
	LastError       string
	// TransferExternalEventToBookingID, when set, tells the caller to
	// re-point the external-event association at the replacement booking
	// created by a reschedule.
	TransferExternalEventToBookingID string
}

// ProcessWriteback runs one attempt of the reconciliation state machine.
//
// Programmer errors (unknown operation, missing reschedule target) are
// returned as errors and consume no attempt. Provider failures never
// surface as errors: they are folded into the result as a retry schedule
// or, once attempts are exhausted, a terminal failure.
func ProcessWriteback(ctx context.Context, in ProcessInput) (Result, error) {
	record := in.Record
	attempt := record.AttemptCount + 1

	result := Result{
		AttemptCount:    attempt,
		ExternalEventID: record.ExternalEventID,
	}

	var callErr error
	switch record.Operation {
	case OperationCreate:
		externalID, err := in.Client.CreateEvent(ctx, in.Booking)
		if err != nil {
			callErr = err
			break
		}
		result.ExternalEventID = externalID

	case OperationCancel:
		// Nothing was ever created upstream; cancellation is already
		// effective.
		if record.ExternalEventID == "" {
			break
		}
		callErr = in.Client.CancelEvent(ctx, record.ExternalEventID)

	case OperationReschedule:
		target := in.RescheduleTarget
		if target == nil {
			return Result{}, ErrMissingRescheduleTarget
		}
		if record.ExternalEventID != "" {
			callErr = in.Client.UpdateEvent(ctx, record.ExternalEventID, target.Start, target.End)
		} else {
			// The original create never landed; materialize the event at
			// the rescheduled span instead.
			booking := in.Booking
			booking.Start = target.Start
			booking.End = target.End
			externalID, err := in.Client.CreateEvent(ctx, booking)
			if err != nil {
				callErr = err
				break
			}
			result.ExternalEventID = externalID
		}
		if callErr == nil {
			result.TransferExternalEventToBookingID = target.BookingID
		}

	default:
		return Result{}, fmt.Errorf("writeback: unknown operation %q", record.Operation)
	}

	if callErr == nil {
		result.Status = StatusSucceeded
		result.NextAttemptAt = in.Now
		return result, nil
	}

	result.LastError = truncateError(callErr)
	result.TransferExternalEventToBookingID = ""
	if attempt >= record.MaxAttempts {
		result.Status = StatusFailed
		result.NextAttemptAt = in.Now
		return result, nil
	}

	result.Status = StatusPending
	result.NextAttemptAt = computeNextAttemptAt(attempt, in.Now)
	return result, nil
}

// FoldFailure records an attempt that failed before any provider call was
// made, applying the same retry schedule and exhaustion rule as a provider
// failure. The external event association is left untouched.
func FoldFailure(record Record, callErr error, now time.Time) Result {
	attempt := record.AttemptCount + 1
	result := Result{
		AttemptCount:    attempt,
		ExternalEventID: record.ExternalEventID,
		LastError:       truncateError(callErr),
	}
	if attempt >= record.MaxAttempts {
		result.Status = StatusFailed
		result.NextAttemptAt = now
		return result
	}
	result.Status = StatusPending
	result.NextAttemptAt = computeNextAttemptAt(attempt, now)
	return result
}

// computeNextAttemptAt schedules the retry after min(60, 2^(attempt-1))
// minutes, with the exponent clamped so the doubling stops at one hour.
func computeNextAttemptAt(attempt int, now time.Time) time.Time {
	exponent := attempt - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}
	backoffMinutes := 1 << exponent
	if backoffMinutes > maxBackoffMinutes {
		backoffMinutes = maxBackoffMinutes
	}
	return now.Add(time.Duration(backoffMinutes) * time.Minute)
}

func truncateError(err error) string {
	message := err.Error()
	if len(message) > maxErrorLength {
		return message[:maxErrorLength]
	}
	return message
}
