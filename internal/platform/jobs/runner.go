// Package jobs runs periodic background work on cron schedules. With a Locker
// configured only one replica runs a given job at a time.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Func is one run of a job.
type Func func(ctx context.Context) error

// Locker grants cluster-wide exclusivity for a job run. ok is false when
// another instance holds the lock.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Runner wraps a cron scheduler with logging, per-run timeouts and optional
// leader locking.
type Runner struct {
	logger  zerolog.Logger
	locker  Locker
	timeout time.Duration
	cron    *cron.Cron

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
}

type RunnerOption func(*Runner)

func WithLocker(l Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

// WithRunTimeout bounds a single run. Zero means no limit.
func WithRunTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

func NewRunner(logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:  logger.With().Str("component", "jobs").Logger(),
		timeout: 5 * time.Minute,
		cron:    cron.New(),
	}
	r.runCtx, r.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add schedules fn under name using a standard five-field cron spec or a
// descriptor such as "@every 15m".
func (r *Runner) Add(name, spec string, fn Func) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	if _, err := r.cron.AddFunc(spec, func() { r.RunNow(name, fn) }); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	r.logger.Info().Str("job", name).Str("schedule", spec).Msg("job scheduled")
	return nil
}

// RunNow executes fn once under the same locking and logging as a scheduled run.
func (r *Runner) RunNow(name string, fn Func) {
	r.mu.Lock()
	parent := r.runCtx
	r.mu.Unlock()
	if parent.Err() != nil {
		return
	}

	ctx := parent
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.timeout)
		defer cancel()
	}

	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, "job:"+name)
		if err != nil {
			r.logger.Warn().Err(err).Str("job", name).Msg("job lock attempt failed")
			return
		}
		if !ok {
			r.logger.Info().Str("job", name).Msg("job lock held by another instance, skipping")
			return
		}
		defer release()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		r.logger.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("job failed")
		return
	}
	r.logger.Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job finished")
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels in-flight runs and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	<-r.cron.Stop().Done()
}

// Entries returns the number of scheduled jobs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

// TickSpan returns a function giving, for a run fired at now, the span from
// its tick to the schedule's next tick. Consecutive runs sweep adjacent spans
// even when the gaps between ticks differ, as with weekday-only schedules.
// Standard specs fire on whole minutes; "@every" ticks are bucketed on
// multiples of the delay.
func TickSpan(spec string) (func(now time.Time) (time.Time, time.Time), error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return func(now time.Time) (time.Time, time.Time) {
			tick := now.Truncate(every.Delay)
			return tick, tick.Add(every.Delay)
		}, nil
	}
	return func(now time.Time) (time.Time, time.Time) {
		tick := now.Truncate(time.Minute)
		return tick, sched.Next(tick)
	}, nil
}
