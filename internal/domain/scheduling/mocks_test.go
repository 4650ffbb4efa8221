package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockDentistRepo struct {
	dentists map[uuid.UUID]*Dentist
}

func newMockDentistRepo() *mockDentistRepo {
	return &mockDentistRepo{dentists: make(map[uuid.UUID]*Dentist)}
}

func (m *mockDentistRepo) GetDentist(_ context.Context, id uuid.UUID) (*Dentist, error) {
	d, ok := m.dentists[id]
	if !ok {
		return nil, fmt.Errorf("dentist %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *mockDentistRepo) SetWorkingHours(_ context.Context, id uuid.UUID, schedule WeekdaySchedule) error {
	d, ok := m.dentists[id]
	if !ok {
		return fmt.Errorf("dentist %s: %w", id, ErrNotFound)
	}
	d.Schedule = schedule
	return nil
}

type mockServiceCatalog struct {
	services map[uuid.UUID]*Treatment
}

func newMockServiceCatalog() *mockServiceCatalog {
	return &mockServiceCatalog{services: make(map[uuid.UUID]*Treatment)}
}

func (m *mockServiceCatalog) GetService(_ context.Context, id uuid.UUID) (*Treatment, error) {
	s, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	return s, nil
}

type mockClientDirectory struct {
	clients map[uuid.UUID]bool
}

func newMockClientDirectory() *mockClientDirectory {
	return &mockClientDirectory{clients: make(map[uuid.UUID]bool)}
}

func (m *mockClientDirectory) ClientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.clients[id], nil
}

type mockAppointmentRepo struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]*Appointment
	locks    int
	listErr  error
	inserted int
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) add(a *Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.appts[a.ID] = a
	return a
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) ListByDentistAndRange(_ context.Context, dentistID uuid.UUID, from, to time.Time, exclude ...AppointmentStatus) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	window := TimeInterval{Start: from, End: to}
	var result []*Appointment
	for _, a := range m.appts {
		if a.DentistID != dentistID || !a.Interval().Overlaps(window) || excluded(a.Status, exclude) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sortByStart(result)
	return result, nil
}

func (m *mockAppointmentRepo) ListByClient(_ context.Context, clientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Appointment
	for _, a := range m.appts {
		if a.ClientID == clientID {
			result = append(result, a)
		}
	}
	sortByStart(result)
	total := len(result)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

func (m *mockAppointmentRepo) ListByStatusAndRange(_ context.Context, status AppointmentStatus, from, to time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Appointment
	for _, a := range m.appts {
		if a.Status == status && !a.Start.Before(from) && a.Start.Before(to) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *mockAppointmentRepo) Insert(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	m.inserted++
	return nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if a.Status != from {
		return fmt.Errorf("%w: appointment %s is %s", ErrInvalidTransition, id, a.Status)
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	return nil
}

func (m *mockAppointmentRepo) UpdateSchedule(_ context.Context, id uuid.UUID, start time.Time, durationMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if a.Status.Terminal() {
		return fmt.Errorf("%w: appointment %s is %s", ErrInvalidTransition, id, a.Status)
	}
	a.Start = start
	a.DurationMinutes = durationMinutes
	return nil
}

func (m *mockAppointmentRepo) LockDentist(_ context.Context, _ uuid.UUID) error {
	m.mu.Lock()
	m.locks++
	m.mu.Unlock()
	return nil
}

func excluded(s AppointmentStatus, list []AppointmentStatus) bool {
	for _, e := range list {
		if s == e {
			return true
		}
	}
	return false
}

func sortByStart(items []*Appointment) {
	sort.Slice(items, func(i, j int) bool { return items[i].Start.Before(items[j].Start) })
}

// serialTx serializes WithinTx calls, standing in for the per-dentist lock.
type serialTx struct {
	mu    sync.Mutex
	calls int
}

func (t *serialTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return fn(ctx)
}

// passTx runs fn without any serialization so interleavings reach the store.
type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// hookedReads calls afterGet once every GetByID has returned its snapshot.
type hookedReads struct {
	AppointmentStore
	afterGet func()
}

func (h *hookedReads) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := h.AppointmentStore.GetByID(ctx, id)
	if h.afterGet != nil {
		h.afterGet()
	}
	return a, err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, evt Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

// -- Fixtures --

// Monday 2025-03-03 is the reference working day; "now" is the Sunday before.
var (
	monday   = Date{Year: 2025, Month: time.March, Day: 3}
	tuesday  = Date{Year: 2025, Month: time.March, Day: 4}
	fixedNow = time.Date(2025, time.March, 2, 12, 0, 0, 0, time.UTC)
)

func at(d Date, hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, time.UTC)
}

func hm(h, m int) TimeOfDay { return TimeOfDay(h*60 + m) }

func mondayMorning() WeekdaySchedule {
	var s WeekdaySchedule
	s[Monday] = []DayInterval{{Opens: hm(9, 0), Closes: hm(12, 0)}}
	return s
}

type fixture struct {
	dentists *mockDentistRepo
	catalog  *mockServiceCatalog
	clients  *mockClientDirectory
	appts    *mockAppointmentRepo
	tx       *serialTx
	notifier *recordingNotifier
	svc      *Service

	dentistID uuid.UUID
	clientID  uuid.UUID
	serviceID uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		dentists:  newMockDentistRepo(),
		catalog:   newMockServiceCatalog(),
		clients:   newMockClientDirectory(),
		appts:     newMockAppointmentRepo(),
		tx:        &serialTx{},
		notifier:  &recordingNotifier{},
		dentistID: uuid.New(),
		clientID:  uuid.New(),
		serviceID: uuid.New(),
	}
	f.dentists.dentists[f.dentistID] = &Dentist{ID: f.dentistID, Name: "Dra. Rivas", Active: true, Schedule: mondayMorning()}
	f.catalog.services[f.serviceID] = &Treatment{ID: f.serviceID, Name: "Limpieza", DurationMinutes: 30}
	f.clients.clients[f.clientID] = true
	f.svc = NewService(f.dentists, f.catalog, f.clients, f.appts, time.UTC,
		WithClock(func() time.Time { return fixedNow }),
		WithTransactor(f.tx),
		WithNotifier(f.notifier),
	)
	return f
}

// serviceWith builds a service over the fixture's directories with a
// different store and transactor.
func (f *fixture) serviceWith(store AppointmentStore, tx Transactor) *Service {
	return NewService(f.dentists, f.catalog, f.clients, store, time.UTC,
		WithClock(func() time.Time { return fixedNow }),
		WithTransactor(tx),
		WithNotifier(f.notifier),
	)
}

func (f *fixture) booking(start time.Time) BookingRequest {
	return BookingRequest{ClientID: f.clientID, DentistID: f.dentistID, ServiceID: f.serviceID, Start: start}
}

func (f *fixture) seed(start time.Time, minutes int, status AppointmentStatus) *Appointment {
	return f.appts.add(&Appointment{
		ClientID:        f.clientID,
		DentistID:       f.dentistID,
		ServiceID:       f.serviceID,
		Start:           start,
		DurationMinutes: minutes,
		Status:          status,
	})
}
