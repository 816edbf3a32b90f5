// Package scheduler runs the backend's recurring maintenance tasks: the
// monthly usage reset, the daily overage check, and the daily usage-warning
// emails.
//
// Tasks are registered with a trigger and polled on a fixed interval. A task
// never runs concurrently with itself; a slow run simply absorbs the ticks
// that fire while it is active. Stop drains in-flight tasks up to the
// configured timeout.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/metrics"
)

// Trigger decides whether a task is due. lastRun is the zero time until the
// task's first completion in this process.
type Trigger func(now, lastRun time.Time) bool

// MonthlyTrigger fires when the task has not run since the start of the
// current calendar month. A freshly booted process therefore fires
// immediately, which doubles as the startup resume check for the reset job.
func MonthlyTrigger() Trigger {
	return func(now, lastRun time.Time) bool {
		return lastRun.Before(domain.MonthStart(now))
	}
}

// DailyTrigger fires once per UTC day, at or after the given hour.
func DailyTrigger(hour int) Trigger {
	return func(now, lastRun time.Time) bool {
		now = now.UTC()
		due := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
		return !now.Before(due) && lastRun.Before(due)
	}
}

// Config holds scheduler tunables.
type Config struct {
	// PollInterval is how often triggers are evaluated.
	PollInterval time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight tasks.
	DrainTimeout time.Duration
}

type task struct {
	name    string
	trigger Trigger
	run     func(ctx context.Context) error
}

// Scheduler evaluates task triggers on a poll interval and runs due tasks in
// their own goroutines.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	tasks  []*task
	now    func() time.Time

	mu      sync.Mutex
	active  map[string]bool
	lastRun map[string]time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a new Scheduler. Register tasks before calling Start.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		active:  make(map[string]bool),
		lastRun: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Register adds a named task. Call before Start.
func (s *Scheduler) Register(name string, trigger Trigger, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &task{name: name, trigger: trigger, run: run})
	s.logger.Debug("registered scheduled task", "task", name)
}

// Start launches the polling loop. The provided context cancels in-flight
// task runs when Stop's drain times out.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started",
		"tasks", len(s.tasks),
		"poll_interval", s.cfg.PollInterval,
	)
}

// Stop halts trigger evaluation and waits up to DrainTimeout for in-flight
// tasks. Tasks still running after the drain keep their partial progress;
// the reset job's checkpoints make that safe.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("scheduler drain timeout exceeded, tasks left mid-run will resume from their last checkpoint")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Evaluate once immediately so boot-time work (reset resume, missed
	// sweep) doesn't wait out the first interval.
	s.dispatchDue(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	for _, t := range s.tasks {
		s.mu.Lock()
		if s.active[t.name] || !t.trigger(now, s.lastRun[t.name]) {
			s.mu.Unlock()
			continue
		}
		s.active[t.name] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runTask(ctx, t)
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	defer s.wg.Done()

	logger := s.logger.With("task", t.name)
	logger.Info("running scheduled task")

	start := s.now()
	err := t.run(ctx)
	elapsed := s.now().Sub(start)

	metrics.ScheduledTaskDuration.WithLabelValues(t.name).Observe(elapsed.Seconds())

	s.mu.Lock()
	s.active[t.name] = false
	if err == nil {
		// Only a successful run advances lastRun, so a failed task is
		// retried on the next poll rather than next period.
		s.lastRun[t.name] = start
	}
	s.mu.Unlock()

	if err != nil {
		metrics.ScheduledTaskRuns.WithLabelValues(t.name, "error").Inc()
		logger.Error("scheduled task failed", "error", err, "duration", elapsed)
		return
	}

	metrics.ScheduledTaskRuns.WithLabelValues(t.name, "ok").Inc()
	logger.Info("scheduled task completed", "duration", elapsed)
}
