package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekday mirrors time.Weekday (Sunday = 0) so the conversion is a cast.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func (d Weekday) Valid() bool { return d >= Sunday && d <= Saturday }

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// ParseWeekday accepts the lowercase english name ("monday") of a weekday.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekdayNames {
		if name == s {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrValidation, s)
}

// WeekdayOf returns the weekday of t as seen in loc.
func WeekdayOf(t time.Time, loc *time.Location) Weekday {
	return Weekday(t.In(loc).Weekday())
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// 1440 ("24:00") is only meaningful as a closing time.
type TimeOfDay int

const endOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrValidation, s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: time of day %q out of range", ErrValidation, s)
	}
	return TimeOfDay(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// TimeOfDayOf returns the wall-clock time of t in loc, truncated to the minute.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	lt := t.In(loc)
	return TimeOfDay(lt.Hour()*60 + lt.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On anchors t to the civil date (year, month, day) in loc.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, loc)
}

// DayInterval is a working interval [Opens, Closes) not bound to a date.
type DayInterval struct {
	Opens  TimeOfDay `json:"opens"`
	Closes TimeOfDay `json:"closes"`
}

func (d DayInterval) Valid() bool {
	return d.Opens >= 0 && d.Closes <= endOfDay && d.Closes > d.Opens
}

// ContainsTime reports whether t falls in [Opens, Closes).
func (d DayInterval) ContainsTime(t TimeOfDay) bool {
	return t >= d.Opens && t < d.Closes
}

// On converts the interval to absolute instants for the given civil date.
func (d DayInterval) On(year int, month time.Month, day int, loc *time.Location) TimeInterval {
	var end time.Time
	if d.Closes == endOfDay {
		end = time.Date(year, month, day+1, 0, 0, 0, 0, loc)
	} else {
		end = d.Closes.On(year, month, day, loc)
	}
	return TimeInterval{Start: d.Opens.On(year, month, day, loc), End: end}
}

func (d DayInterval) String() string {
	return d.Opens.String() + "-" + d.Closes.String()
}

// WeekdaySchedule is a dentist's recurring weekly template. An empty entry
// means the dentist does not work that weekday.
type WeekdaySchedule [7][]DayInterval

// Normalize sorts every weekday's intervals by opening time.
func (s *WeekdaySchedule) Normalize() {
	for d := range s {
		sort.Slice(s[d], func(i, j int) bool { return s[d][i].Opens < s[d][j].Opens })
	}
}

// Validate checks every interval and rejects overlapping intervals within a
// weekday. The schedule must be normalized.
func (s WeekdaySchedule) Validate() error {
	for d, ivs := range s {
		for i, iv := range ivs {
			if !iv.Valid() {
				return fmt.Errorf("%w: %s interval %s is empty or out of range", ErrValidation, Weekday(d), iv)
			}
			if i > 0 && ivs[i-1].Closes > iv.Opens {
				return fmt.Errorf("%w: %s intervals %s and %s overlap", ErrValidation, Weekday(d), ivs[i-1], iv)
			}
		}
	}
	return nil
}

// IsEmpty reports whether the dentist works no day at all.
func (s WeekdaySchedule) IsEmpty() bool {
	for _, ivs := range s {
		if len(ivs) > 0 {
			return false
		}
	}
	return true
}

// MarshalJSON renders the template as {"monday": [...], ...}, omitting days off.
func (s WeekdaySchedule) MarshalJSON() ([]byte, error) {
	out := make(map[string][]DayInterval, 7)
	for d, ivs := range s {
		if len(ivs) > 0 {
			out[Weekday(d).String()] = ivs
		}
	}
	return json.Marshal(out)
}

func (s *WeekdaySchedule) UnmarshalJSON(b []byte) error {
	var in map[string][]DayInterval
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	var out WeekdaySchedule
	for name, ivs := range in {
		d, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		out[d] = ivs
	}
	*s = out
	return nil
}

// WorkingHoursCalendar answers working-hours questions for dentists. Templates
// hold clinic-local wall-clock times; every instant is converted to the
// calendar's location before its weekday and time of day are read.
type WorkingHoursCalendar struct {
	directory DentistDirectory
	loc       *time.Location
}

func NewWorkingHoursCalendar(directory DentistDirectory, loc *time.Location) *WorkingHoursCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &WorkingHoursCalendar{directory: directory, loc: loc}
}

// Location returns the clinic time zone used for all comparisons.
func (c *WorkingHoursCalendar) Location() *time.Location { return c.loc }

// IntervalsFor returns the dentist's intervals for weekday; empty when the
// dentist does not work that day. Unknown dentists yield ErrNotFound.
func (c *WorkingHoursCalendar) IntervalsFor(ctx context.Context, dentistID uuid.UUID, day Weekday) ([]DayInterval, error) {
	d, err := c.directory.GetDentist(ctx, dentistID)
	if err != nil {
		return nil, err
	}
	if !day.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrValidation, day)
	}
	return d.Schedule[day], nil
}

// IsWithinWorkingHours reports whether instant falls inside one of the
// dentist's working intervals for the weekday of instant.
func (c *WorkingHoursCalendar) IsWithinWorkingHours(ctx context.Context, dentistID uuid.UUID, instant time.Time) (bool, error) {
	d, err := c.directory.GetDentist(ctx, dentistID)
	if err != nil {
		return false, err
	}
	return WithinHours(d.Schedule, instant, c.loc), nil
}

// WithinHours is the pure form of IsWithinWorkingHours.
func WithinHours(s WeekdaySchedule, instant time.Time, loc *time.Location) bool {
	tod := TimeOfDayOf(instant, loc)
	for _, iv := range s[WeekdayOf(instant, loc)] {
		if iv.ContainsTime(tod) {
			return true
		}
	}
	return false
}

// Covers reports whether candidate lies entirely inside one working interval
// of the weekday on which it starts.
func Covers(s WeekdaySchedule, candidate TimeInterval, loc *time.Location) bool {
	start := candidate.Start.In(loc)
	y, m, dd := start.Date()
	for _, iv := range s[Weekday(start.Weekday())] {
		if iv.On(y, m, dd, loc).Contains(candidate) {
			return true
		}
	}
	return false
}
