package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DentistDirectory resolves dentists and owns their weekly templates.
// GetDentist returns ErrNotFound for unknown ids; inactivity is reported
// through Dentist.Active, never as an error.
type DentistDirectory interface {
	GetDentist(ctx context.Context, id uuid.UUID) (*Dentist, error)
	SetWorkingHours(ctx context.Context, id uuid.UUID, schedule WeekdaySchedule) error
}

type ServiceCatalog interface {
	GetService(ctx context.Context, id uuid.UUID) (*Treatment, error)
}

type ClientDirectory interface {
	ClientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// AppointmentStore persists appointments. ListByDentistAndRange returns the
// dentist's appointments whose interval intersects [from, to), skipping the
// given statuses, ordered by start time.
type AppointmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDentistAndRange(ctx context.Context, dentistID uuid.UUID, from, to time.Time, excludeStatuses ...AppointmentStatus) ([]*Appointment, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByStatusAndRange(ctx context.Context, status AppointmentStatus, from, to time.Time) ([]*Appointment, error)
	Insert(ctx context.Context, a *Appointment) error
	// UpdateStatus moves the appointment from one status to another and fails
	// with ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) error
	// UpdateSchedule moves a non-terminal appointment; a terminal one yields
	// ErrInvalidTransition.
	UpdateSchedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) error
	// LockDentist serializes bookings for one dentist until the surrounding
	// transaction ends.
	LockDentist(ctx context.Context, dentistID uuid.UUID) error
}

// Transactor runs fn so that every store call made with the ctx passed to fn
// shares one transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier receives appointment events after they are committed. It must not
// block; delivery failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// EventType names a committed scheduling change.
type EventType string

const (
	EventBooked      EventType = "appointment.booked"
	EventStatus      EventType = "appointment.status_changed"
	EventRescheduled EventType = "appointment.rescheduled"
	EventReminder    EventType = "appointment.reminder"
)

// Event is the payload handed to the Notifier.
type Event struct {
	Type          EventType         `json:"type"`
	AppointmentID uuid.UUID         `json:"appointment_id"`
	ClientID      uuid.UUID         `json:"client_id"`
	DentistID     uuid.UUID         `json:"dentist_id"`
	Status        AppointmentStatus `json:"status"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewEvent builds an event from the committed appointment state.
func NewEvent(t EventType, a *Appointment, at time.Time) Event {
	evt := Event{
		Type:          t,
		AppointmentID: a.ID,
		ClientID:      a.ClientID,
		DentistID:     a.DentistID,
		Status:        a.Status,
		Start:         a.Start.UTC(),
		End:           a.End().UTC(),
		OccurredAt:    at.UTC(),
	}
	if a.CancellationReason != nil {
		evt.Reason = *a.CancellationReason
	}
	return evt
}
