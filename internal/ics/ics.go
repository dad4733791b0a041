// Package ics renders iCalendar payloads for booking invites so invitees
// can add confirmed bookings to any calendar client.
package ics

import (
	"fmt"
	"strings"
	"time"

	goics "github.com/arran4/golang-ical"

	"github.com/example/booking-scheduler/internal/persistence"
)

// Invite describes a single event payload.
type Invite struct {
	Booking        persistence.Booking
	OrganizerEmail string
	Description    string
	Sequence       int
}

// BuildInvite renders a METHOD:REQUEST calendar holding the booking as a
// single VEVENT. All timestamps are emitted in UTC.
func BuildInvite(invite Invite, now time.Time) (string, error) {
	if err := validate(invite); err != nil {
		return "", err
	}
	cal := newCalendar(goics.MethodRequest)
	writeEvent(cal, invite, now, goics.ObjectStatusConfirmed)
	return cal.Serialize(), nil
}

// BuildCancellation renders a METHOD:CANCEL calendar for the same UID so
// clients that imported the invite drop the event.
func BuildCancellation(invite Invite, now time.Time) (string, error) {
	if err := validate(invite); err != nil {
		return "", err
	}
	cal := newCalendar(goics.MethodCancel)
	writeEvent(cal, invite, now, goics.ObjectStatusCancelled)
	return cal.Serialize(), nil
}

func newCalendar(method goics.Method) *goics.Calendar {
	cal := goics.NewCalendar()
	cal.SetMethod(method)
	cal.SetProductId("-//booking-scheduler//EN")
	return cal
}

func writeEvent(cal *goics.Calendar, invite Invite, now time.Time, status goics.ObjectStatus) {
	event := cal.AddEvent(eventUID(invite.Booking.ID))
	event.SetDtStampTime(now.UTC())
	event.SetStartAt(invite.Booking.Start.UTC())
	event.SetEndAt(invite.Booking.End.UTC())
	event.SetSummary(invite.Booking.Title)
	event.SetStatus(status)
	event.SetSequence(invite.Sequence)
	if invite.Description != "" {
		event.SetDescription(invite.Description)
	}
	if invite.OrganizerEmail != "" {
		event.SetOrganizer("mailto:"+invite.OrganizerEmail, goics.WithCN(invite.OrganizerEmail))
	}
	if invite.Booking.InviteeEmail != "" {
		event.AddAttendee(invite.Booking.InviteeEmail,
			goics.CalendarUserTypeIndividual,
			goics.ParticipationRoleReqParticipant,
			goics.ParticipationStatusNeedsAction,
		)
	}
}

func eventUID(bookingID string) string {
	return bookingID + "@booking-scheduler"
}

func validate(invite Invite) error {
	if strings.TrimSpace(invite.Booking.ID) == "" {
		return fmt.Errorf("ics: booking id is required")
	}
	if invite.Booking.Start.IsZero() || invite.Booking.End.IsZero() {
		return fmt.Errorf("ics: booking span is required")
	}
	if !invite.Booking.Start.Before(invite.Booking.End) {
		return fmt.Errorf("ics: booking start must be before end")
	}
	return nil
}
