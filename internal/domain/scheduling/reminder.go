package scheduling

import (
	"context"
	"fmt"
	"time"
)

// Period maps the instant a run starts to the span of time it is responsible
// for. Spans of consecutive runs must be adjacent.
type Period func(now time.Time) (start, end time.Time)

// FixedPeriod covers [now, now+d).
func FixedPeriod(d time.Duration) Period {
	return func(now time.Time) (time.Time, time.Time) { return now, now.Add(d) }
}

// ReminderJob publishes a reminder for every confirmed appointment starting in
// the run's period shifted by Lead. With adjacent periods each appointment is
// reminded exactly once.
type ReminderJob struct {
	appointments AppointmentStore
	notifier     Notifier
	Lead         time.Duration
	period       Period
	now          func() time.Time
}

func NewReminderJob(store AppointmentStore, notifier Notifier, lead time.Duration, period Period, now func() time.Time) *ReminderJob {
	if now == nil {
		now = time.Now
	}
	return &ReminderJob{appointments: store, notifier: notifier, Lead: lead, period: period, now: now}
}

// Run returns the number of reminders published.
func (j *ReminderJob) Run(ctx context.Context) (int, error) {
	if j.period == nil {
		return 0, fmt.Errorf("%w: reminder period is not set", ErrValidation)
	}
	now := j.now()
	start, end := j.period(now)
	if !end.After(start) {
		return 0, fmt.Errorf("%w: reminder period must be positive", ErrValidation)
	}
	from := start.Add(j.Lead)
	to := end.Add(j.Lead)

	due, err := j.appointments.ListByStatusAndRange(ctx, StatusConfirmed, from, to)
	if err != nil {
		return 0, fmt.Errorf("list confirmed appointments: %w", err)
	}
	sent := 0
	for _, a := range due {
		// only the start instant decides whether a reminder is due
		if a.Start.Before(from) || !a.Start.Before(to) {
			continue
		}
		j.notifier.Notify(ctx, NewEvent(EventReminder, a, now))
		sent++
	}
	return sent, nil
}
