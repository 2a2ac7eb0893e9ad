package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/minderhq/minder/internal/job"
	"github.com/minderhq/minder/internal/registry"
)

// recordingNotifier captures lifecycle callbacks.
type recordingNotifier struct {
	mu      sync.Mutex
	started []*job.Job
	ended   []job.Status
}

func (n *recordingNotifier) JobStarted(j *job.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, j)
}

func (n *recordingNotifier) JobEnded(_ *job.Job, status job.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, status)
}

func (n *recordingNotifier) startedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.started)
}

func (n *recordingNotifier) endedStatuses() []job.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]job.Status(nil), n.ended...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *registry.Registry, *recordingNotifier) {
	t.Helper()
	reg := registry.New(registry.Config{OutputRoot: t.TempDir()})
	notifier := &recordingNotifier{}
	s, err := New(Config{
		Registry:    reg,
		Notifier:    notifier,
		GracePeriod: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, reg, notifier
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func statusIs(reg *registry.Registry, j *job.Job, want job.Status) func() bool {
	return func() bool {
		status, ok := reg.JobStatus(j.ID)
		return ok && status == want
	}
}

func TestScheduler_RunsJobToFinished(t *testing.T) {
	t.Parallel()

	s, reg, notifier := newTestScheduler(t)
	startScheduler(t, s)

	j, err := reg.Submit(job.Spec{Name: "ok", Args: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, statusIs(reg, j, job.StatusFinished), "job never finished")

	if notifier.startedCount() != 1 {
		t.Errorf("started notifications = %d, want 1", notifier.startedCount())
	}
	ended := notifier.endedStatuses()
	if len(ended) != 1 || ended[0] != job.StatusFinished {
		t.Errorf("ended = %v, want [FINISHED]", ended)
	}
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		t.Error("timestamps should be recorded")
	}
}

func TestScheduler_NonZeroExitFails(t *testing.T) {
	t.Parallel()

	s, reg, notifier := newTestScheduler(t)
	startScheduler(t, s)

	j, err := reg.Submit(job.Spec{Args: []string{"/bin/sh", "-c", "exit 3"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, statusIs(reg, j, job.StatusFailed), "job never failed")
	if j.Error == "" {
		t.Error("failed job should carry the exit error")
	}
	ended := notifier.endedStatuses()
	if len(ended) != 1 || ended[0] != job.StatusFailed {
		t.Errorf("ended = %v, want [FAILED]", ended)
	}
}

func TestScheduler_SpawnFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	s, reg, notifier := newTestScheduler(t)
	startScheduler(t, s)

	bad, err := reg.Submit(job.Spec{Args: []string{"/nonexistent/minder-test-binary"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	good, err := reg.Submit(job.Spec{Args: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, statusIs(reg, bad, job.StatusFailed), "bad job never failed")
	waitFor(t, 5*time.Second, statusIs(reg, good, job.StatusFinished), "good job never ran")

	if bad.Error == "" {
		t.Error("spawn failure should be recorded on the job")
	}
	if !bad.StartedAt.IsZero() {
		t.Error("a job that never spawned must not have a start time")
	}
	// The failed spawn produced no STARTED notification.
	if notifier.startedCount() != 1 {
		t.Errorf("started notifications = %d, want 1", notifier.startedCount())
	}
}

func TestScheduler_SingleRunningInvariant(t *testing.T) {
	t.Parallel()

	s, reg, _ := newTestScheduler(t)
	startScheduler(t, s)

	first, err := reg.Submit(job.Spec{Args: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := reg.Submit(job.Spec{Args: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, statusIs(reg, first, job.StatusRunning), "first job never started")

	// While the first runs, the second must stay queued.
	time.Sleep(100 * time.Millisecond)
	if status, _ := reg.JobStatus(second.ID); status != job.StatusQueued {
		t.Errorf("second job status = %v, want QUEUED", status)
	}

	// Canceling the first lets the second run.
	if _, err := s.Cancel(first.ID.String(), true); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, 5*time.Second, statusIs(reg, first, job.StatusCanceled), "first job not canceled")
	waitFor(t, 5*time.Second, statusIs(reg, second, job.StatusFinished), "second job never ran")
}

func TestCancel_QueuedNeedsNoConfirmation(t *testing.T) {
	t.Parallel()

	// Scheduler not started: the job stays queued.
	s, reg, notifier := newTestScheduler(t)

	j, err := reg.Submit(job.Spec{Args: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sum, err := s.Cancel(j.ID.String(), false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sum.Status != job.StatusCanceled {
		t.Errorf("status = %v, want CANCELED", sum.Status)
	}
	if !sum.StartedAt.IsZero() {
		t.Error("queued cancel must never have started the process")
	}

	ended := notifier.endedStatuses()
	if len(ended) != 1 || ended[0] != job.StatusCanceled {
		t.Errorf("ended = %v, want [CANCELED]", ended)
	}
	// No STARTED preceded the CANCELED.
	if notifier.startedCount() != 0 {
		t.Error("queued cancel must not emit a start notification")
	}
}

func TestCancel_RunningRequiresConfirmation(t *testing.T) {
	t.Parallel()

	s, reg, _ := newTestScheduler(t)
	startScheduler(t, s)

	j, err := reg.Submit(job.Spec{Args: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, statusIs(reg, j, job.StatusRunning), "job never started")

	if _, err := s.Cancel(j.ID.String(), false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("err = %v, want ErrConfirmationRequired", err)
	}

	// The refusal left the job running.
	if status, _ := reg.JobStatus(j.ID); status != job.StatusRunning {
		t.Errorf("status = %v, want RUNNING", status)
	}

	sum, err := s.Cancel(j.ID.String(), true)
	if err != nil {
		t.Fatalf("confirmed cancel: %v", err)
	}
	if sum.Status != job.StatusCanceled {
		t.Errorf("status = %v, want CANCELED", sum.Status)
	}
}

// A confirmed cancel issued the instant a job reads as RUNNING must
// still find the process: the proc handle is published before the
// RUNNING transition.
func TestCancel_ImmediatelyAfterRunning(t *testing.T) {
	t.Parallel()

	s, reg, _ := newTestScheduler(t)
	startScheduler(t, s)

	for i := 0; i < 5; i++ {
		j, err := reg.Submit(job.Spec{Args: []string{"sleep", "30"}})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		waitFor(t, 5*time.Second, statusIs(reg, j, job.StatusRunning), "job never started")

		sum, err := s.Cancel(j.ID.String(), true)
		if err != nil {
			t.Fatalf("confirmed cancel: %v", err)
		}
		if sum.Status != job.StatusCanceled {
			t.Fatalf("status = %v, want CANCELED", sum.Status)
		}
		waitFor(t, 5*time.Second, statusIs(reg, j, job.StatusCanceled), "job never reached CANCELED")
	}
}

func TestCancel_TerminalIsInvalidState(t *testing.T) {
	t.Parallel()

	s, reg, _ := newTestScheduler(t)
	startScheduler(t, s)

	j, err := reg.Submit(job.Spec{Args: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, statusIs(reg, j, job.StatusFinished), "job never finished")

	if _, err := s.Cancel(j.ID.String(), true); !errors.Is(err, registry.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestCancel_UnknownIdentifier(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t)
	if _, err := s.Cancel("no-such-job", false); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestScheduler_Lifecycle(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t)

	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("stop before start = %v, want ErrNotStarted", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start = %v, want ErrAlreadyStarted", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
