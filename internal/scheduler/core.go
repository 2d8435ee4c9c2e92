// Package scheduler drives the recurring digest triggers. It wraps
// robfig/cron with an explicit lifecycle state machine, records every
// firing in the history log, and forwards outcomes to the notifier.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/caevv/gitpulse/internal/config"
	"github.com/caevv/gitpulse/internal/notify"
	"github.com/caevv/gitpulse/internal/state"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// State is the scheduler lifecycle state.
type State string

// Scheduler states. Disabled is terminal: a disabled scheduler registers
// no triggers and never reaches running.
const (
	StateStopped  State = "stopped"
	StateDisabled State = "disabled"
	StateRunning  State = "running"
	StatePaused   State = "paused"
)

// The four recurring job names.
const (
	JobDaily   = "daily-digest"
	JobWeekly  = "weekly-digest"
	JobMonthly = "monthly-digest"
	JobYearly  = "yearly-digest"
)

// JobFunc is the body of a scheduled job. target is the anchor date of
// the period the firing covers (the day before the firing, in the
// scheduler's timezone).
type JobFunc func(ctx context.Context, target time.Time) error

// Jobs binds a job function to each recurring trigger. Nil entries are
// not registered.
type Jobs struct {
	Daily   JobFunc
	Weekly  JobFunc
	Monthly JobFunc
	Yearly  JobFunc
}

// registeredJob tracks one trigger and its cron entry.
type registeredJob struct {
	name     string
	spec     string
	fn       JobFunc
	entryID  cron.EntryID
	schedule cron.Schedule
}

// Core is the scheduler: it registers the daily/weekly/monthly/yearly
// triggers, supports pause/resume without losing them, fires jobs
// out-of-band on demand, and emits every outcome to the history log and
// the notifier.
type Core struct {
	cfg      config.Scheduler
	enabled  bool
	loc      *time.Location
	logger   *slog.Logger
	history  state.HistoryLog
	notifier *notify.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	cron  *cron.Cron
	jobs  map[string]*registeredJob
	state State
}

// New creates a scheduler core. The context bounds every job execution;
// cancelling it is the shutdown signal for in-flight firings.
func New(ctx context.Context, cfg config.Scheduler, enabled bool, history state.HistoryLog, notifier *notify.Notifier, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone: %w", err)
	}

	coreCtx, cancel := context.WithCancel(ctx)
	return &Core{
		cfg:      cfg,
		enabled:  enabled,
		loc:      loc,
		logger:   logger,
		history:  history,
		notifier: notifier,
		ctx:      coreCtx,
		cancel:   cancel,
		jobs:     make(map[string]*registeredJob),
		state:    StateStopped,
	}, nil
}

// Start registers the recurring triggers and enters running. With the
// scheduler disabled by configuration it transitions to disabled and
// registers nothing.
func (c *Core) Start(jobs Jobs) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning || c.state == StatePaused {
		return fmt.Errorf("scheduler already started (state %s)", c.state)
	}
	if !c.enabled {
		c.state = StateDisabled
		c.logger.Info("scheduler disabled by configuration")
		return nil
	}

	cronLogger := &cronSlogAdapter{logger: c.logger}
	c.cron = cron.New(
		cron.WithLocation(c.loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)

	specs := []struct {
		name  string
		build func() (string, error)
		fn    JobFunc
	}{
		{JobDaily, func() (string, error) { return dailySpec(c.cfg.Daily.Time) }, jobs.Daily},
		{JobWeekly, func() (string, error) { return weeklySpec(c.cfg.Weekly.Day, c.cfg.Weekly.Time) }, jobs.Weekly},
		{JobMonthly, func() (string, error) { return monthlySpec(c.cfg.Monthly.Day, c.cfg.Monthly.Time) }, jobs.Monthly},
		{JobYearly, func() (string, error) { return yearlySpec(c.cfg.Yearly.Month, c.cfg.Yearly.Day, c.cfg.Yearly.Time) }, jobs.Yearly},
	}

	for _, s := range specs {
		if s.fn == nil {
			continue
		}
		spec, err := s.build()
		if err != nil {
			return fmt.Errorf("build %s trigger: %w", s.name, err)
		}
		if err := c.register(s.name, spec, s.fn); err != nil {
			return err
		}
	}

	c.cron.Start()
	c.state = StateRunning
	c.logger.Info("scheduler running",
		"jobs", len(c.jobs), "timezone", c.cfg.Timezone)
	return nil
}

// register must be called with c.mu held.
func (c *Core) register(name, spec string, fn JobFunc) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse %s spec %q: %w", name, spec, err)
	}

	j := &registeredJob{name: name, spec: spec, fn: fn, schedule: schedule}
	j.entryID = c.cron.Schedule(schedule, cron.FuncJob(func() { c.fire(j) }))
	c.jobs[name] = j

	c.logger.Info("trigger registered",
		"job", name, "spec", spec, "next_run", schedule.Next(time.Now().In(c.loc)))
	return nil
}

// Pause suspends dispatch without losing registered triggers or their
// schedules. In-flight firings finish.
func (c *Core) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return fmt.Errorf("cannot pause from state %s", c.state)
	}
	c.cron.Stop()
	c.state = StatePaused
	c.logger.Info("scheduler paused")
	return nil
}

// Resume re-enters running; next-run times are recomputed from now by the
// retained schedules.
func (c *Core) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return fmt.Errorf("cannot resume from state %s", c.state)
	}
	c.cron.Start()
	c.state = StateRunning
	c.logger.Info("scheduler resumed")
	return nil
}

// Shutdown stops dispatch and waits for in-flight firings to finish.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.state == StateRunning || c.state == StatePaused {
		c.cron.Stop()
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Info("scheduler stopped")
}

// JobStatus describes one registered trigger.
type JobStatus struct {
	ID      string    `json:"id"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
}

// Status reports the scheduler state and its registered triggers.
type Status struct {
	State State       `json:"state"`
	Jobs  []JobStatus `json:"jobs"`
}

// Status returns the current state and per-job next-run times.
func (c *Core) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	now := time.Now().In(c.loc)
	for _, j := range c.jobs {
		next := j.schedule.Next(now)
		if c.state == StateRunning {
			if entry := c.cron.Entry(j.entryID); entry.ID != 0 && !entry.Next.IsZero() {
				next = entry.Next
			}
		}
		st.Jobs = append(st.Jobs, JobStatus{ID: j.name, Spec: j.spec, NextRun: next})
	}
	sort.Slice(st.Jobs, func(i, k int) bool { return st.Jobs[i].ID < st.Jobs[k].ID })
	return st
}

// Trigger fires a named job immediately, out-of-band from its schedule.
// The schedule itself is unaffected. The firing is synchronous.
func (c *Core) Trigger(name string) error {
	c.mu.Lock()
	j, ok := c.jobs[name]
	st := c.state
	c.mu.Unlock()

	if st == StateDisabled || st == StateStopped {
		return fmt.Errorf("scheduler is %s", st)
	}
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}

	c.logger.Info("manual trigger", "job", name)
	c.fire(j)
	return nil
}

// fire runs one job and emits the outcome event. The Add happens under
// the state lock, before Shutdown can flip to stopped and start waiting,
// so the WaitGroup count never rises once Wait may observe zero.
func (c *Core) fire(j *registeredJob) {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateDisabled {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	now := time.Now().In(c.loc)
	// A firing covers the last complete day.
	target := now.AddDate(0, 0, -1)
	target = time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)

	event := &state.Event{
		RunID:       uuid.New().String(),
		Job:         j.name,
		TriggeredAt: now,
		Target:      target.Format(time.DateOnly),
	}

	c.logger.Info("job firing", "job", j.name, "run_id", event.RunID, "target", event.Target)

	err := j.fn(c.ctx, target)
	event.CompletedAt = time.Now().In(c.loc)

	if err != nil {
		event.Status = state.EventFailed
		event.Error = err.Error()
		c.logger.Error("job failed",
			"job", j.name, "run_id", event.RunID, "error", err.Error(),
			"duration", event.Duration().String())
	} else {
		event.Status = state.EventSuccess
		c.logger.Info("job completed",
			"job", j.name, "run_id", event.RunID, "duration", event.Duration().String())
	}

	if c.history != nil {
		if herr := c.history.Record(event); herr != nil {
			c.logger.Error("recording history entry", "job", j.name, "error", herr.Error())
		}
	}

	if c.notifier != nil && c.shouldNotify(event.Status) {
		c.notifier.Notify(c.ctx, event)
	}
}

func (c *Core) shouldNotify(status state.EventStatus) bool {
	if status == state.EventFailed {
		return c.cfg.Notify.OnFailure
	}
	return c.cfg.Notify.OnSuccess
}

// cronSlogAdapter adapts slog.Logger to cron.Logger.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]any, 0, len(keysAndValues)+2)
	attrs = append(attrs, slog.String("error", err.Error()))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}
