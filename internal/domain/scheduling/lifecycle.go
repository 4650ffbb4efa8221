package scheduling

import (
	"encoding/json"
	"fmt"
)

// AppointmentStatus is the closed set of appointment states.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pendiente"
	StatusConfirmed AppointmentStatus = "confirmada"
	StatusCompleted AppointmentStatus = "completada"
	StatusCancelled AppointmentStatus = "cancelada"
	StatusNoShow    AppointmentStatus = "no_asistio"
)

// transitions is the single source of truth for the lifecycle. A status with
// no outgoing edges is terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
	StatusNoShow:    nil,
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []AppointmentStatus {
	return []AppointmentStatus{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow}
}

// ParseStatus converts a raw string into a known status.
func ParseStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown appointment status %q", ErrValidation, s)
	}
	return st, nil
}

func (s AppointmentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// TerminalStatuses lists the statuses no transition leaves.
func TerminalStatuses() []AppointmentStatus {
	var out []AppointmentStatus
	for _, s := range AllStatuses() {
		if s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// Active reports whether the appointment still occupies the dentist's time.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

// Next returns the statuses reachable from s in one step.
func (s AppointmentStatus) Next() []AppointmentStatus {
	next := transitions[s]
	out := make([]AppointmentStatus, len(next))
	copy(out, next)
	return out
}

func (s *AppointmentStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a to target, recording reason when cancelling. The
// appointment is left untouched when the move is not allowed.
func Transition(a *Appointment, target AppointmentStatus, reason string) error {
	if !CanTransition(a.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, target)
	}
	a.Status = target
	if target == StatusCancelled && reason != "" {
		r := reason
		a.CancellationReason = &r
	}
	return nil
}
