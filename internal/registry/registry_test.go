package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/minderhq/minder/internal/job"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Config{
		OutputRoot: t.TempDir(),
		Now:        func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func submit(t *testing.T, r *Registry, name string) *job.Job {
	t.Helper()
	j, err := r.Submit(job.Spec{Name: name, Args: []string{"echo", "hi"}})
	if err != nil {
		t.Fatalf("submit %q: %v", name, err)
	}
	return j
}

func TestSubmit_AssignsIncreasingSeq(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	a := submit(t, r, "first")
	b := submit(t, r, "second")
	c := submit(t, r, "third")

	if a.Seq != 1 || b.Seq != 2 || c.Seq != 3 {
		t.Errorf("seqs = %d, %d, %d; want 1, 2, 3", a.Seq, b.Seq, c.Seq)
	}
	if a.ID == b.ID {
		t.Error("jobs must get distinct UUIDs")
	}
	if a.Status != job.StatusQueued {
		t.Errorf("status = %v, want QUEUED", a.Status)
	}
}

func TestSubmit_DefaultName(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	j := submit(t, r, "")
	if j.Name != "Job #1" {
		t.Errorf("name = %q, want %q", j.Name, "Job #1")
	}
}

func TestSubmit_IntervalResolution(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	j := submit(t, r, "default")
	if j.ReportInterval != job.DefaultReportInterval {
		t.Errorf("interval = %v, want default", j.ReportInterval)
	}

	zero := time.Duration(0)
	j, err := r.Submit(job.Spec{Args: []string{"echo"}, ReportInterval: &zero})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.ReportInterval != 0 {
		t.Errorf("interval = %v, want disabled", j.ReportInterval)
	}

	custom := 30 * time.Second
	j, err = r.Submit(job.Spec{Args: []string{"echo"}, ReportInterval: &custom})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.ReportInterval != custom {
		t.Errorf("interval = %v, want %v", j.ReportInterval, custom)
	}
}

func TestSubmit_ConfiguredDefaultInterval(t *testing.T) {
	t.Parallel()

	r := New(Config{OutputRoot: t.TempDir(), DefaultInterval: time.Minute})

	// No explicit interval: the configured default applies.
	j := submit(t, r, "")
	if j.ReportInterval != time.Minute {
		t.Errorf("interval = %v, want %v", j.ReportInterval, time.Minute)
	}

	// Explicit values still win over the configured default.
	custom := 5 * time.Second
	j, err := r.Submit(job.Spec{Args: []string{"echo"}, ReportInterval: &custom})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.ReportInterval != custom {
		t.Errorf("interval = %v, want %v", j.ReportInterval, custom)
	}
}

func TestSubmit_BadArgs(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if _, err := r.Submit(job.Spec{}); !errors.Is(err, job.ErrNoArgs) {
		t.Errorf("err = %v, want ErrNoArgs", err)
	}
}

func TestList_SubmissionOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	submit(t, r, "alpha")
	submit(t, r, "beta")
	submit(t, r, "gamma")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, name := range []string{"alpha", "beta", "gamma"} {
		if list[i].Name != name || list[i].Seq != i+1 {
			t.Errorf("list[%d] = %q seq %d", i, list[i].Name, list[i].Seq)
		}
	}
}

func TestFind_Precedence(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	first := submit(t, r, "xray")
	second := submit(t, r, "box")

	// Exact UUID.
	got, err := r.Find(first.ID.String())
	if err != nil || got != first {
		t.Errorf("find by uuid = %v, %v", got, err)
	}

	// Exact sequence number.
	got, err = r.Find("2")
	if err != nil || got != second {
		t.Errorf("find by seq = %v, %v", got, err)
	}

	// Substring matches the first job in submission order. "x" is in
	// both "xray" and "box"; submission order wins.
	got, err = r.Find("x")
	if err != nil || got != first {
		t.Errorf("find by substring = %v, %v; want first submission", got, err)
	}

	if _, err := r.Find("nothing-matches"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFind_NumericNameFallback(t *testing.T) {
	t.Parallel()

	// "7" resolves by sequence before name substring.
	r := newTestRegistry(t)
	named := submit(t, r, "experiment-7")
	for i := 0; i < 5; i++ {
		submit(t, r, "filler")
	}
	seventh := submit(t, r, "last")
	if seventh.Seq != 7 {
		t.Fatalf("seq = %d, want 7", seventh.Seq)
	}

	got, err := r.Find("7")
	if err != nil || got != seventh {
		t.Errorf("find(7) = %v, want the job with seq 7", got)
	}

	got, err = r.Find("experiment")
	if err != nil || got != named {
		t.Errorf("find(experiment) = %v, want the named job", got)
	}
}

func TestPopQueued_SkipsCanceled(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	a := submit(t, r, "a")
	b := submit(t, r, "b")

	if err := r.CancelQueued(a); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := r.PopQueued()
	if got != b {
		t.Errorf("pop = %v, want b", got)
	}
	if r.PopQueued() != nil {
		t.Error("queue should be empty")
	}
}

func TestCancelQueued_InvalidState(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	j := submit(t, r, "a")
	r.MarkRunning(j)

	if err := r.CancelQueued(j); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestTransitions_RecordTimestamps(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	j := submit(t, r, "a")

	if j.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	r.MarkRunning(j)
	if j.Status != job.StatusRunning || j.StartedAt.IsZero() {
		t.Errorf("after MarkRunning: status=%v started=%v", j.Status, j.StartedAt)
	}

	r.MarkEnded(j, job.StatusFailed, "exit status 1")
	if j.Status != job.StatusFailed || j.FinishedAt.IsZero() || j.Error != "exit status 1" {
		t.Errorf("after MarkEnded: %+v", j)
	}
}

func TestRequestCancel_OnlyMarksRunning(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	j := submit(t, r, "a")

	if status := r.RequestCancel(j); status != job.StatusQueued || j.CancelRequested {
		t.Errorf("queued job: status=%v marked=%v", status, j.CancelRequested)
	}

	r.MarkRunning(j)
	if status := r.RequestCancel(j); status != job.StatusRunning || !j.CancelRequested {
		t.Errorf("running job: status=%v marked=%v", status, j.CancelRequested)
	}
}

func TestRunningAndQueueLen(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	a := submit(t, r, "a")
	submit(t, r, "b")

	if _, ok := r.Running(); ok {
		t.Error("no job should be running")
	}
	if n := r.QueueLen(); n != 2 {
		t.Errorf("queue len = %d, want 2", n)
	}

	popped := r.PopQueued()
	r.MarkRunning(popped)

	running, ok := r.Running()
	if !ok || running != a {
		t.Errorf("running = %v, %v", running, ok)
	}
	if n := r.QueueLen(); n != 1 {
		t.Errorf("queue len = %d, want 1", n)
	}
}

func TestWake_SignaledOnSubmit(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	submit(t, r, "a")

	select {
	case <-r.Wake():
	default:
		t.Error("wake channel should be signaled after submit")
	}
}
