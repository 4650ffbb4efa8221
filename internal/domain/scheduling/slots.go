package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultSlotMinutes is the slot width used when none is configured.
const DefaultSlotMinutes = 30

// SlotGenerator enumerates bookable slots for a dentist and civil date.
type SlotGenerator struct {
	calendar     *WorkingHoursCalendar
	appointments AppointmentStore
}

func NewSlotGenerator(calendar *WorkingHoursCalendar, store AppointmentStore) *SlotGenerator {
	return &SlotGenerator{calendar: calendar, appointments: store}
}

// AvailableSlots resolves the dentist, loads the day's bookings and computes
// the availability. ErrNotFound is returned for unknown dentists.
func (g *SlotGenerator) AvailableSlots(ctx context.Context, dentistID uuid.UUID, date Date, slotMinutes int) (*Availability, error) {
	dentist, err := g.calendar.directory.GetDentist(ctx, dentistID)
	if err != nil {
		return nil, err
	}
	loc := g.calendar.Location()

	var booked []*Appointment
	if dentist.Active && len(dentist.Schedule[date.Weekday()]) > 0 {
		day := date.Bounds(loc)
		booked, err = g.appointments.ListByDentistAndRange(ctx, dentistID, day.Start, day.End, StatusCancelled)
		if err != nil {
			return nil, fmt.Errorf("list booked appointments: %w", err)
		}
	}
	return ComputeAvailability(dentist, date, slotMinutes, booked, loc), nil
}

// ComputeAvailability is a pure function of (dentist, date, width, booked,
// location): identical inputs always produce identical output.
func ComputeAvailability(dentist *Dentist, date Date, slotMinutes int, booked []*Appointment, loc *time.Location) *Availability {
	if slotMinutes <= 0 {
		slotMinutes = DefaultSlotMinutes
	}
	av := &Availability{
		DentistID:        dentist.ID,
		Date:             date.String(),
		SlotMinutes:      slotMinutes,
		WorkingIntervals: []TimeInterval{},
		Slots:            []Slot{},
	}
	if !dentist.Active {
		av.Reason = ReasonDentistInactive
		return av
	}
	day := dentist.Schedule[date.Weekday()]
	if len(day) == 0 {
		av.Reason = ReasonNotWorkingDay
		return av
	}

	width := time.Duration(slotMinutes) * time.Minute
	for _, iv := range day {
		open := iv.On(date.Year, date.Month, date.Day, loc)
		av.WorkingIntervals = append(av.WorkingIntervals, open)
		for start := open.Start; !start.Add(width).After(open.End); start = start.Add(width) {
			slot := TimeInterval{Start: start, End: start.Add(width)}
			if FirstConflict(booked, slot, uuid.Nil) != nil {
				continue
			}
			av.Slots = append(av.Slots, Slot(slot))
		}
	}
	sort.Slice(av.Slots, func(i, j int) bool { return av.Slots[i].Start.Before(av.Slots[j].Start) })
	return av
}

// DropBefore removes slots starting before t. Used to hide slots that have
// already begun; the caller supplies t.
func (av *Availability) DropBefore(t time.Time) {
	kept := av.Slots[:0]
	for _, s := range av.Slots {
		if !s.Start.Before(t) {
			kept = append(kept, s)
		}
	}
	av.Slots = kept
}
