package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	dentists     DentistDirectory
	catalog      ServiceCatalog
	clients      ClientDirectory
	appointments AppointmentStore
	tx           Transactor
	notifier     Notifier

	calendar  *WorkingHoursCalendar
	conflicts *ConflictDetector
	slots     *SlotGenerator

	slotMinutes int
	now         func() time.Time
}

type Option func(*Service)

// WithClock injects the source of "now". Tests pin it; production passes time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithSlotMinutes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slotMinutes = n
		}
	}
}

func WithTransactor(tx Transactor) Option {
	return func(s *Service) { s.tx = tx }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(dentists DentistDirectory, catalog ServiceCatalog, clients ClientDirectory, appts AppointmentStore, loc *time.Location, opts ...Option) *Service {
	cal := NewWorkingHoursCalendar(dentists, loc)
	s := &Service{
		dentists:     dentists,
		catalog:      catalog,
		clients:      clients,
		appointments: appts,
		tx:           noTx{},
		notifier:     noopNotifier{},
		calendar:     cal,
		conflicts:    NewConflictDetector(appts),
		slots:        NewSlotGenerator(cal, appts),
		slotMinutes:  DefaultSlotMinutes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calendar exposes the working-hours calendar backing the service.
func (s *Service) Calendar() *WorkingHoursCalendar { return s.calendar }

// -- Booking --

// RequestBooking validates the request against the dentist's template and
// existing appointments and stores a new pendiente appointment.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.ClientID == uuid.Nil || req.DentistID == uuid.Nil || req.ServiceID == uuid.Nil {
		return nil, fmt.Errorf("%w: client_id, dentist_id and service_id are required", ErrValidation)
	}
	if req.Start.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrValidation)
	}

	dentist, err := s.activeDentist(ctx, req.DentistID)
	if err != nil {
		return nil, err
	}
	ok, err := s.clients.ClientExists(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("lookup client: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("client %s: %w", req.ClientID, ErrNotFound)
	}
	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", req.ServiceID, err)
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = svc.DurationMinutes
	}
	candidate, err := s.checkCandidate(dentist, req.Start, duration)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		ClientID:        req.ClientID,
		DentistID:       req.DentistID,
		ServiceID:       req.ServiceID,
		Start:           candidate.Start,
		DurationMinutes: duration,
		Status:          StatusPending,
	}
	if req.Notes != "" {
		notes := req.Notes
		a.Notes = &notes
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockDentist(ctx, a.DentistID); err != nil {
			return fmt.Errorf("lock dentist schedule: %w", err)
		}
		if err := s.ensureFree(ctx, a.DentistID, candidate, uuid.Nil); err != nil {
			return err
		}
		return s.appointments.Insert(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, NewEvent(EventBooked, a, s.now()))
	return a, nil
}

// Reschedule moves an appointment to newStart, optionally changing its
// duration. The appointment's own booking is excluded from the conflict scan.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDuration int) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrValidation)
	}
	if newDuration < 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, a.Status)
	}
	dentist, err := s.activeDentist(ctx, a.DentistID)
	if err != nil {
		return nil, err
	}

	duration := a.DurationMinutes
	if newDuration > 0 {
		duration = newDuration
	}
	candidate, err := s.checkCandidate(dentist, newStart, duration)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockDentist(ctx, a.DentistID); err != nil {
			return fmt.Errorf("lock dentist schedule: %w", err)
		}
		if err := s.ensureFree(ctx, a.DentistID, candidate, a.ID); err != nil {
			return err
		}
		return s.appointments.UpdateSchedule(ctx, a.ID, candidate.Start, duration)
	})
	if err != nil {
		return nil, err
	}

	a.Start = candidate.Start
	a.DurationMinutes = duration
	a.UpdatedAt = s.now()
	s.notifier.Notify(ctx, NewEvent(EventRescheduled, a, s.now()))
	return a, nil
}

// Transition drives the appointment through the lifecycle.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target AppointmentStatus, reason string) (*Appointment, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown appointment status %q", ErrValidation, target)
	}
	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		from := a.Status
		if err := Transition(a, target, reason); err != nil {
			return err
		}
		return s.appointments.UpdateStatus(ctx, a.ID, from, a.Status, a.CancellationReason)
	})
	if err != nil {
		return nil, err
	}

	a.UpdatedAt = s.now()
	s.notifier.Notify(ctx, NewEvent(EventStatus, a, s.now()))
	return a, nil
}

// -- Availability --

// QueryAvailability returns the working intervals and free slots of dentistID
// on date. When serviceID is set the slot width is the service's duration.
// Slots that start before the injected "now" are omitted.
func (s *Service) QueryAvailability(ctx context.Context, dentistID uuid.UUID, date Date, serviceID uuid.UUID) (*Availability, error) {
	width := s.slotMinutes
	if serviceID != uuid.Nil {
		svc, err := s.catalog.GetService(ctx, serviceID)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", serviceID, err)
		}
		width = svc.DurationMinutes
	}
	av, err := s.slots.AvailableSlots(ctx, dentistID, date, width)
	if err != nil {
		return nil, fmt.Errorf("dentist %s: %w", dentistID, err)
	}
	av.DropBefore(s.now())
	return av, nil
}

// -- Queries --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) ListClientAppointments(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByClient(ctx, clientID, limit, offset)
}

// ListDentistAppointments returns every appointment, cancelled included,
// intersecting [from, to).
func (s *Service) ListDentistAppointments(ctx context.Context, dentistID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", ErrValidation)
	}
	return s.appointments.ListByDentistAndRange(ctx, dentistID, from, to)
}

// -- Working hours --

func (s *Service) GetWorkingHours(ctx context.Context, dentistID uuid.UUID) (*Dentist, error) {
	d, err := s.dentists.GetDentist(ctx, dentistID)
	if err != nil {
		return nil, fmt.Errorf("dentist %s: %w", dentistID, err)
	}
	return d, nil
}

// SetWorkingHours replaces the dentist's weekly template. Overlapping
// intervals within a weekday are rejected.
func (s *Service) SetWorkingHours(ctx context.Context, dentistID uuid.UUID, schedule WeekdaySchedule) (*Dentist, error) {
	schedule.Normalize()
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	d, err := s.GetWorkingHours(ctx, dentistID)
	if err != nil {
		return nil, err
	}
	if err := s.dentists.SetWorkingHours(ctx, dentistID, schedule); err != nil {
		return nil, fmt.Errorf("save working hours: %w", err)
	}
	d.Schedule = schedule
	return d, nil
}

// -- helpers --

func (s *Service) activeDentist(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	d, err := s.dentists.GetDentist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dentist %s: %w", id, err)
	}
	if !d.Active {
		return nil, fmt.Errorf("dentist %s: %w", id, ErrDentistUnavailable)
	}
	return d, nil
}

// checkCandidate validates duration, rejects past starts and requires the
// interval to fit inside one working interval.
func (s *Service) checkCandidate(d *Dentist, start time.Time, duration int) (TimeInterval, error) {
	if duration <= 0 {
		return TimeInterval{}, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	candidate := IntervalFrom(start.UTC(), duration)
	if candidate.Start.Before(s.now()) {
		return TimeInterval{}, fmt.Errorf("%w: start %s is in the past", ErrValidation, candidate.Start.Format(time.RFC3339))
	}
	if !Covers(d.Schedule, candidate, s.calendar.Location()) {
		local := candidate.In(s.calendar.Location())
		return TimeInterval{}, fmt.Errorf("%w: %s on %s", ErrOutOfHours, local, WeekdayOf(local.Start, s.calendar.Location()))
	}
	return candidate, nil
}

func (s *Service) ensureFree(ctx context.Context, dentistID uuid.UUID, candidate TimeInterval, exclude uuid.UUID) error {
	hit, err := s.conflicts.FindConflict(ctx, dentistID, candidate, exclude)
	if err != nil {
		return err
	}
	if hit != nil {
		return fmt.Errorf("%w: overlaps appointment %s at %s", ErrScheduleConflict, hit.ID, hit.Interval())
	}
	return nil
}

// IsBusinessError reports whether err is one of the scheduling rule failures.
func IsBusinessError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrOutOfHours, ErrScheduleConflict, ErrInvalidTransition, ErrDentistUnavailable, ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type noTx struct{}

func (noTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}
