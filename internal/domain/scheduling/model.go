package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	ClientID           uuid.UUID         `db:"client_id" json:"client_id"`
	DentistID          uuid.UUID         `db:"dentist_id" json:"dentist_id"`
	ServiceID          uuid.UUID         `db:"service_id" json:"service_id"`
	Start              time.Time         `db:"start_time" json:"start"`
	DurationMinutes    int               `db:"duration_minutes" json:"duration_minutes"`
	Status             AppointmentStatus `db:"status" json:"status"`
	CancellationReason *string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Notes              *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// Interval returns [Start, Start+DurationMinutes).
func (a *Appointment) Interval() TimeInterval {
	return IntervalFrom(a.Start, a.DurationMinutes)
}

// End returns the exclusive end instant.
func (a *Appointment) End() time.Time {
	return a.Interval().End
}

// Dentist is the scheduling view of a dentist record.
type Dentist struct {
	ID       uuid.UUID       `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Active   bool            `db:"active" json:"active"`
	Schedule WeekdaySchedule `json:"weekly_schedule"`
}

// Treatment is a catalog entry; only its default duration matters here.
type Treatment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
}

// AvailabilityReason explains an empty slot list.
type AvailabilityReason string

const (
	ReasonNone            AvailabilityReason = ""
	ReasonDentistInactive AvailabilityReason = "dentist_inactive"
	ReasonNotWorkingDay   AvailabilityReason = "not_working_day"
)

// Availability is the answer to an availability query for one civil date.
type Availability struct {
	DentistID        uuid.UUID          `json:"dentist_id"`
	Date             string             `json:"date"`
	SlotMinutes      int                `json:"slot_minutes"`
	WorkingIntervals []TimeInterval     `json:"working_intervals"`
	Slots            []Slot             `json:"slots"`
	Reason           AvailabilityReason `json:"reason,omitempty"`
}

// BookingRequest carries the input of RequestBooking. DurationMinutes falls
// back to the service's default when zero. ClientID may be left empty in the
// HTTP body when the caller is the client.
type BookingRequest struct {
	ClientID        uuid.UUID `json:"client_id"`
	DentistID       uuid.UUID `json:"dentist_id" validate:"required"`
	ServiceID       uuid.UUID `json:"service_id" validate:"required"`
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"gte=0,lte=480"`
	Notes           string    `json:"notes,omitempty" validate:"max=1000"`
}

// Date is a civil date in the clinic's time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t, time.UTC), nil
}

// DateOf returns the civil date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// Weekday returns the date's weekday.
func (d Date) Weekday() Weekday {
	return Weekday(time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday())
}

// Bounds returns [midnight, next midnight) of the date in loc.
func (d Date) Bounds(loc *time.Location) TimeInterval {
	return TimeInterval{
		Start: time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc),
		End:   time.Date(d.Year, d.Month, d.Day+1, 0, 0, 0, 0, loc),
	}
}

func (d Date) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(dateLayout)
}
