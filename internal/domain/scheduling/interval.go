package scheduling

import (
	"fmt"
	"time"
)

// TimeInterval is a half-open range of absolute instants: [Start, End).
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeInterval builds an interval and rejects empty or inverted ranges.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if !end.After(start) {
		return TimeInterval{}, fmt.Errorf("%w: interval end %s must be after start %s",
			ErrValidation, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeInterval{Start: start, End: end}, nil
}

// IntervalFrom returns [start, start+minutes).
func IntervalFrom(start time.Time, minutes int) TimeInterval {
	return TimeInterval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps reports whether [a,b) and [c,d) intersect: a < d && c < b.
// Intervals that only touch at a boundary do not overlap.
func (i TimeInterval) Overlaps(o TimeInterval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i TimeInterval) Contains(o TimeInterval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Duration returns End - Start.
func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// In returns the same interval with both instants expressed in loc.
func (i TimeInterval) In(loc *time.Location) TimeInterval {
	return TimeInterval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

func (i TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// Slot is a computed, never persisted, bookable interval.
type Slot TimeInterval

// Interval returns the slot as a TimeInterval.
func (s Slot) Interval() TimeInterval { return TimeInterval(s) }

