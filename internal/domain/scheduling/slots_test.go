package scheduling

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func slotStarts(av *Availability) []string {
	out := make([]string, len(av.Slots))
	for i, s := range av.Slots {
		out[i] = s.Start.Format("15:04")
	}
	return out
}

func TestComputeAvailability_EmptyMorning(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	av := ComputeAvailability(d, monday, 30, nil, time.UTC)

	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	if got := slotStarts(av); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(av.WorkingIntervals) != 1 || av.Reason != ReasonNone {
		t.Errorf("unexpected availability metadata: %+v", av)
	}
	for _, s := range av.Slots {
		if s.Interval().Duration() != 30*time.Minute {
			t.Errorf("slot %s is not 30 minutes", s.Interval())
		}
	}
}

func TestComputeAvailability_BookedRemovesOverlappingSlots(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	booked := []*Appointment{{ID: uuid.New(), DentistID: d.ID, Start: at(monday, 10, 0), DurationMinutes: 45, Status: StatusConfirmed}}
	av := ComputeAvailability(d, monday, 30, booked, time.UTC)

	// [10:30, 11:00) intersects [10:00, 10:45).
	want := []string{"09:00", "09:30", "11:00", "11:30"}
	if got := slotStarts(av); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestComputeAvailability_AdjacentSlotsKept(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	booked := []*Appointment{{ID: uuid.New(), DentistID: d.ID, Start: at(monday, 10, 0), DurationMinutes: 30, Status: StatusPending}}
	av := ComputeAvailability(d, monday, 30, booked, time.UTC)

	want := []string{"09:00", "09:30", "10:30", "11:00", "11:30"}
	if got := slotStarts(av); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestComputeAvailability_CancelledDoesNotBlock(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	booked := []*Appointment{{ID: uuid.New(), DentistID: d.ID, Start: at(monday, 10, 0), DurationMinutes: 60, Status: StatusCancelled}}
	if got := len(ComputeAvailability(d, monday, 30, booked, time.UTC).Slots); got != 6 {
		t.Errorf("expected 6 slots, got %d", got)
	}
}

func TestComputeAvailability_PartialSlotDiscarded(t *testing.T) {
	var s WeekdaySchedule
	s[Monday] = []DayInterval{{Opens: hm(9, 0), Closes: hm(10, 15)}, {Opens: hm(14, 0), Closes: hm(15, 0)}}
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: s}
	av := ComputeAvailability(d, monday, 30, nil, time.UTC)

	want := []string{"09:00", "09:30", "14:00", "14:30"}
	if got := slotStarts(av); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(av.WorkingIntervals) != 2 {
		t.Errorf("expected 2 working intervals, got %d", len(av.WorkingIntervals))
	}
}

func TestComputeAvailability_EmptyReasons(t *testing.T) {
	inactive := &Dentist{ID: uuid.New(), Active: false, Schedule: mondayMorning()}
	av := ComputeAvailability(inactive, monday, 30, nil, time.UTC)
	if len(av.Slots) != 0 || av.Reason != ReasonDentistInactive {
		t.Errorf("expected no slots for inactive dentist, got %+v", av)
	}

	active := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	av = ComputeAvailability(active, tuesday, 30, nil, time.UTC)
	if len(av.Slots) != 0 || av.Reason != ReasonNotWorkingDay {
		t.Errorf("expected no slots on a day off, got %+v", av)
	}
	if av.Slots == nil || av.WorkingIntervals == nil {
		t.Error("expected empty, non-nil slices for JSON output")
	}
}

func TestComputeAvailability_Idempotent(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	booked := []*Appointment{{ID: uuid.New(), DentistID: d.ID, Start: at(monday, 9, 30), DurationMinutes: 60, Status: StatusConfirmed}}
	first := ComputeAvailability(d, monday, 30, booked, time.UTC)
	second := ComputeAvailability(d, monday, 30, booked, time.UTC)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical results, got %v and %v", first, second)
	}
}

func TestComputeAvailability_DefaultWidth(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	av := ComputeAvailability(d, monday, 0, nil, time.UTC)
	if av.SlotMinutes != DefaultSlotMinutes || len(av.Slots) != 6 {
		t.Errorf("expected default width of %d, got %+v", DefaultSlotMinutes, av)
	}
}

func TestAvailability_DropBefore(t *testing.T) {
	d := &Dentist{ID: uuid.New(), Active: true, Schedule: mondayMorning()}
	av := ComputeAvailability(d, monday, 30, nil, time.UTC)
	av.DropBefore(at(monday, 10, 10))

	want := []string{"10:30", "11:00", "11:30"}
	if got := slotStarts(av); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSlotGenerator_AvailableSlots(t *testing.T) {
	f := newFixture()
	f.seed(at(monday, 10, 0), 45, StatusConfirmed)
	gen := NewSlotGenerator(f.svc.Calendar(), f.appts)

	av, err := gen.AvailableSlots(context.Background(), f.dentistID, monday, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(av.Slots); got != 4 {
		t.Errorf("expected 4 slots, got %d: %v", got, slotStarts(av))
	}

	if _, err := gen.AvailableSlots(context.Background(), uuid.New(), monday, 30); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSlotGenerator_ClinicTimezone(t *testing.T) {
	loc := time.FixedZone("UTC-6", -6*60*60)
	dentists := newMockDentistRepo()
	id := uuid.New()
	dentists.dentists[id] = &Dentist{ID: id, Active: true, Schedule: mondayMorning()}
	gen := NewSlotGenerator(NewWorkingHoursCalendar(dentists, loc), newMockAppointmentRepo())

	av, err := gen.AvailableSlots(context.Background(), id, monday, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(av.Slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(av.Slots))
	}
	if want := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC); !av.Slots[0].Start.Equal(want) {
		t.Errorf("expected first slot at %s, got %s", want, av.Slots[0].Start.UTC())
	}
}
