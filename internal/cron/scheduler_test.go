package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// tickJob is a minimal Job whose runs are counted.
type tickJob struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
	calls    atomic.Int32
}

func (j *tickJob) Name() string     { return j.name }
func (j *tickJob) Schedule() string { return j.schedule }
func (j *tickJob) Run(ctx context.Context) error {
	j.calls.Add(1)
	if j.run != nil {
		return j.run(ctx)
	}
	return nil
}

func TestScheduler_Register_DuplicateName(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())

	if err := s.Register(&tickJob{name: "prune", schedule: "0 3 * * *"}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.Register(&tickJob{name: "prune", schedule: "* * * * *"}); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
}

func TestScheduler_Register_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())

	cases := []string{"", "invalid", "60 * * * *", "* * * * * *"}
	for _, expr := range cases {
		err := s.Register(&tickJob{name: "bad-" + expr, schedule: expr})
		if err == nil {
			t.Errorf("schedule %q should be rejected", expr)
		}
	}

	// Job defaults are valid as registered by the agent wiring.
	if err := s.Register(&HeartbeatJob{Relay: nil, Logger: slog.Default()}); err != nil {
		t.Errorf("heartbeat default schedule: %v", err)
	}
	if err := s.Register(&ArchivePruneJob{Archive: nil, Logger: slog.Default()}); err != nil {
		t.Errorf("prune default schedule: %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.Register(&tickJob{name: "noop", schedule: "* * * * *"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestScheduler_TickSkipsOverlap(t *testing.T) {
	t.Parallel()

	var concurrent, peak atomic.Int32
	j := &tickJob{
		name:     "slow",
		schedule: "* * * * *",
		run: func(_ context.Context) error {
			c := concurrent.Add(1)
			for {
				old := peak.Load()
				if c <= old || peak.CompareAndSwap(old, c) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			concurrent.Add(-1)
			return nil
		},
	}

	s := NewScheduler(slog.Default())
	if err := s.Register(j); err != nil {
		t.Fatalf("register: %v", err)
	}
	e := s.byName["slow"]

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tick(context.Background(), e)
		}()
	}
	wg.Wait()

	if peak.Load() > 1 {
		t.Errorf("peak concurrency = %d, want <= 1", peak.Load())
	}
	if j.calls.Load() == 0 {
		t.Error("at least one tick should have run")
	}
}

func TestScheduler_TickSurvivesJobError(t *testing.T) {
	t.Parallel()

	j := &tickJob{
		name:     "failing",
		schedule: "* * * * *",
		run:      func(_ context.Context) error { return errors.New("prune failed") },
	}
	s := NewScheduler(slog.Default())
	if err := s.Register(j); err != nil {
		t.Fatalf("register: %v", err)
	}

	e := s.byName["failing"]
	s.tick(context.Background(), e)
	s.tick(context.Background(), e)

	if got := j.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
