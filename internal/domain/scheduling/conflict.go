package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ConflictDetector checks candidate intervals against a dentist's existing,
// non-cancelled appointments.
type ConflictDetector struct {
	appointments AppointmentStore
}

func NewConflictDetector(store AppointmentStore) *ConflictDetector {
	return &ConflictDetector{appointments: store}
}

// HasConflict reports whether candidate overlaps any non-cancelled appointment
// of dentistID. exclude, when not uuid.Nil, is skipped (rescheduling).
func (d *ConflictDetector) HasConflict(ctx context.Context, dentistID uuid.UUID, candidate TimeInterval, exclude uuid.UUID) (bool, error) {
	hit, err := d.FindConflict(ctx, dentistID, candidate, exclude)
	if err != nil {
		return false, err
	}
	return hit != nil, nil
}

// FindConflict returns the first appointment overlapping candidate, or nil.
func (d *ConflictDetector) FindConflict(ctx context.Context, dentistID uuid.UUID, candidate TimeInterval, exclude uuid.UUID) (*Appointment, error) {
	existing, err := d.appointments.ListByDentistAndRange(ctx, dentistID, candidate.Start, candidate.End, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("list appointments for conflict check: %w", err)
	}
	return FirstConflict(existing, candidate, exclude), nil
}

// FirstConflict is the pure overlap scan: linear over existing, half-open
// comparison, cancelled appointments and exclude ignored.
func FirstConflict(existing []*Appointment, candidate TimeInterval, exclude uuid.UUID) *Appointment {
	for _, a := range existing {
		if exclude != uuid.Nil && a.ID == exclude {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if a.Interval().Overlaps(candidate) {
			return a
		}
	}
	return nil
}
