package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestFirstConflict(t *testing.T) {
	dentist := uuid.New()
	existing := []*Appointment{
		{ID: uuid.New(), DentistID: dentist, Start: at(monday, 9, 0), DurationMinutes: 30, Status: StatusConfirmed},
		{ID: uuid.New(), DentistID: dentist, Start: at(monday, 10, 0), DurationMinutes: 45, Status: StatusCancelled},
		{ID: uuid.New(), DentistID: dentist, Start: at(monday, 11, 0), DurationMinutes: 30, Status: StatusPending},
	}

	tests := []struct {
		name      string
		candidate TimeInterval
		exclude   uuid.UUID
		want      *Appointment
	}{
		{"overlaps confirmed", IntervalFrom(at(monday, 9, 15), 30), uuid.Nil, existing[0]},
		{"back to back", IntervalFrom(at(monday, 9, 30), 30), uuid.Nil, nil},
		{"cancelled ignored", IntervalFrom(at(monday, 10, 0), 45), uuid.Nil, nil},
		{"overlaps pending", IntervalFrom(at(monday, 10, 45), 30), uuid.Nil, existing[2]},
		{"self excluded", IntervalFrom(at(monday, 11, 0), 30), existing[2].ID, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstConflict(existing, tt.candidate, tt.exclude); got != tt.want {
				t.Errorf("FirstConflict(%s) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestConflictDetector_HasConflict(t *testing.T) {
	f := newFixture()
	existing := f.seed(at(monday, 10, 0), 30, StatusConfirmed)
	det := NewConflictDetector(f.appts)
	ctx := context.Background()

	hit, err := det.HasConflict(ctx, f.dentistID, IntervalFrom(at(monday, 10, 15), 30), uuid.Nil)
	if err != nil || !hit {
		t.Errorf("expected conflict, got %v %v", hit, err)
	}
	hit, err = det.HasConflict(ctx, f.dentistID, IntervalFrom(at(monday, 10, 15), 30), existing.ID)
	if err != nil || hit {
		t.Errorf("expected excluded appointment to be ignored, got %v %v", hit, err)
	}
	hit, err = det.HasConflict(ctx, uuid.New(), IntervalFrom(at(monday, 10, 15), 30), uuid.Nil)
	if err != nil || hit {
		t.Errorf("expected other dentists to be independent, got %v %v", hit, err)
	}
}

func TestConflictDetector_StoreError(t *testing.T) {
	f := newFixture()
	f.appts.listErr = errors.New("connection reset")
	_, err := NewConflictDetector(f.appts).HasConflict(context.Background(), f.dentistID, IntervalFrom(at(monday, 10, 0), 30), uuid.Nil)
	if err == nil || IsBusinessError(err) {
		t.Errorf("expected infrastructure error, got %v", err)
	}
}
