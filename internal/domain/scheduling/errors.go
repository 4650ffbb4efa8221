package scheduling

import "errors"

// Business-rule failures. All of them are detected before any mutation and
// are returned to the caller as-is; retrying an unchanged request yields the
// same error.
var (
	ErrNotFound           = errors.New("not found")
	ErrOutOfHours         = errors.New("outside the dentist's working hours")
	ErrScheduleConflict   = errors.New("schedule conflict")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDentistUnavailable = errors.New("dentist is not available")
	ErrValidation         = errors.New("validation failed")
)
