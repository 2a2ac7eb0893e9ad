// Package cron runs the agent's periodic maintenance: relay heartbeats
// and archive pruning. Schedules are standard 5-field cron expressions,
// the same form the configuration validates.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one periodic maintenance task.
type Job interface {
	// Name identifies the job in logs and guards double registration.
	Name() string

	// Schedule returns a 5-field cron expression, e.g. "*/5 * * * *".
	Schedule() string

	// Run executes one tick. Long-running jobs should honor ctx.
	Run(ctx context.Context) error
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// entry pairs a job with its overlap guard. The guard is held for the
// duration of a tick; a tick arriving while it is held is dropped.
type entry struct {
	job     Job
	running sync.Mutex
}

// Scheduler drives the registered maintenance jobs. Register everything
// before Start.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry
	runner  *cron.Cron
	cancel  context.CancelFunc
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger.With("component", "cron"),
		byName: make(map[string]*entry),
	}
}

// Register adds a maintenance job. The schedule is validated here so a
// bad configured expression surfaces at wiring time, not at Start.
func (s *Scheduler) Register(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, dup := s.byName[name]; dup {
		return fmt.Errorf("cron: job %q registered twice", name)
	}
	if _, err := scheduleParser.Parse(j.Schedule()); err != nil {
		return fmt.Errorf("cron: job %q schedule %q: %w", name, j.Schedule(), err)
	}

	e := &entry{job: j}
	s.byName[name] = e
	s.entries = append(s.entries, e)
	return nil
}

// Start begins ticking every registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.runner = cron.New(cron.WithParser(scheduleParser))

	for _, e := range s.entries {
		if _, err := s.runner.AddFunc(e.job.Schedule(), func() { s.tick(ctx, e) }); err != nil {
			s.cancel()
			return fmt.Errorf("cron: scheduling %q: %w", e.job.Name(), err)
		}
	}

	s.runner.Start()
	s.logger.Info("maintenance scheduler started", "jobs", len(s.entries))
	return nil
}

// tick runs the job once unless its previous run is still in flight.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	if !e.running.TryLock() {
		s.logger.Warn("previous run still in flight, skipping tick", "job", e.job.Name())
		return
	}
	defer e.running.Unlock()

	if err := e.job.Run(ctx); err != nil {
		s.logger.Error("maintenance job failed", "job", e.job.Name(), "error", err)
	}
}

// Stop halts ticking and waits for in-flight runs to complete.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.runner != nil {
		<-s.runner.Stop().Done()
		s.runner = nil
		s.logger.Info("maintenance scheduler stopped")
	}
	return nil
}
