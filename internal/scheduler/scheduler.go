// Package scheduler drains the registry queue one job at a time,
// supervises each job's external process, and applies cancellation. At
// most one job is RUNNING at any instant.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/minderhq/minder/internal/job"
	"github.com/minderhq/minder/internal/registry"
)

// Sentinel errors for scheduler operations.
var (
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrNotStarted     = errors.New("scheduler: not started")

	// ErrConfirmationRequired is returned when canceling a RUNNING job
	// without the confirmation flag. The job keeps running.
	ErrConfirmationRequired = errors.New("scheduler: canceling a running job requires confirmation")
)

// Notifier receives lifecycle transitions. Satisfied by the notification
// engine.
type Notifier interface {
	JobStarted(j *job.Job)
	JobEnded(j *job.Job, status job.Status)
}

// Config holds scheduler construction parameters.
type Config struct {
	Registry *registry.Registry
	Notifier Notifier

	// GracePeriod bounds graceful termination on cancel before the
	// process is killed. Default 10s.
	GracePeriod time.Duration

	// Env entries are appended to each job's environment. The agent
	// address and job ID land here so in-job reporting needs no PID
	// matching.
	Env []string

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Scheduler runs the dispatch loop.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// procMu guards the handle of the currently running process.
	procMu   sync.Mutex
	proc     *exec.Cmd
	procJob  *job.Job
	procDone chan struct{}
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: nil Registry")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("scheduler: nil Notifier")
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "scheduler"),
	}, nil
}

// Start launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	return nil
}

// Stop terminates the dispatch loop. The currently running job, if any,
// is canceled with the usual grace period.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if j, running := s.cfg.Registry.Running(); running {
		s.cfg.Registry.RequestCancel(j)
		s.terminate(j)
	}

	cancel()
	<-done
	return nil
}

// loop pops the queue head whenever no job is running, runs it to
// completion, and immediately re-checks the queue.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		j := s.cfg.Registry.PopQueued()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.cfg.Registry.Wake():
				continue
			}
		}

		if ctx.Err() != nil {
			return
		}
		s.runJob(j)
	}
}

// runJob spawns the job's process, supervises it to exit, and records
// the terminal status. Spawn failures mark the job FAILED and the loop
// proceeds to the next queued job.
func (s *Scheduler) runJob(j *job.Job) {
	cmd, closeOutput, err := s.spawn(j)
	if err != nil {
		s.logger.Error("spawn failed", "job", j.Name, "seq", j.Seq, "error", err)
		s.cfg.Registry.MarkEnded(j, job.StatusFailed, err.Error())
		s.cfg.Notifier.JobEnded(j, job.StatusFailed)
		return
	}

	// The proc handle must be visible before the job reads as RUNNING:
	// a confirmed cancel that observes RUNNING relies on terminate
	// finding the process.
	s.setProc(j, cmd)
	s.cfg.Registry.MarkRunning(j)
	s.logger.Info("job started", "job", j.Name, "seq", j.Seq, "pid", cmd.Process.Pid)
	s.cfg.Notifier.JobStarted(j)

	waitErr := cmd.Wait()
	closeOutput()

	status, errMsg := exitStatus(j, waitErr)
	s.cfg.Registry.MarkEnded(j, status, errMsg)
	s.clearProc()
	s.logger.Info("job ended", "job", j.Name, "seq", j.Seq, "status", status.String())
	s.cfg.Notifier.JobEnded(j, status)
}

// exitStatus maps a process exit to a terminal job status. A requested
// cancel wins over the exit code.
func exitStatus(j *job.Job, waitErr error) (job.Status, string) {
	if canceled(j) {
		return job.StatusCanceled, ""
	}
	if waitErr == nil {
		return job.StatusFinished, ""
	}
	return job.StatusFailed, waitErr.Error()
}

func canceled(j *job.Job) bool {
	// CancelRequested is set under the registry lock before the process
	// is signaled, and read here only after Wait returned.
	return j.CancelRequested
}

// spawn creates the output directory, binds stdout/stderr capture, and
// starts the process. Runs outside the registry lock.
func (s *Scheduler) spawn(j *job.Job) (*exec.Cmd, func(), error) {
	if err := os.MkdirAll(j.OutputDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("scheduler: create output dir: %w", err)
	}

	stdout, err := os.Create(filepath.Join(j.OutputDir, job.StdoutFile))
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: open stdout capture: %w", err)
	}
	stderr, err := os.Create(filepath.Join(j.OutputDir, job.StderrFile))
	if err != nil {
		_ = stdout.Close()
		return nil, nil, fmt.Errorf("scheduler: open stderr capture: %w", err)
	}

	cmd := exec.Command(j.Args[0], j.Args[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, "MINDER_JOB_ID="+j.ID.String())

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, nil, fmt.Errorf("scheduler: start %s: %w", j.Args[0], err)
	}

	closeOutput := func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}
	return cmd, closeOutput, nil
}

// Cancel resolves the identifier and cancels the job. QUEUED jobs are
// canceled immediately and never spawn a process. RUNNING jobs require
// confirmed; the process gets SIGTERM, a bounded grace period, then
// SIGKILL. Terminal jobs return registry.ErrInvalidState.
func (s *Scheduler) Cancel(identifier string, confirmed bool) (job.Summary, error) {
	j, err := s.cfg.Registry.Find(identifier)
	if err != nil {
		return job.Summary{}, err
	}

	// Queued: immediate, no confirmation needed. CancelQueued
	// re-checks the status under the registry lock.
	if err := s.cfg.Registry.CancelQueued(j); err == nil {
		s.cfg.Notifier.JobEnded(j, job.StatusCanceled)
		s.logger.Info("queued job canceled", "job", j.Name, "seq", j.Seq)
		return s.cfg.Registry.Snapshot(j), nil
	}

	status, _ := s.cfg.Registry.JobStatus(j.ID)
	if status.Terminal() {
		return job.Summary{}, fmt.Errorf("%w: %s is already %s", registry.ErrInvalidState, j.Name, status)
	}

	if !confirmed {
		return job.Summary{}, fmt.Errorf("%w: job %s is RUNNING", ErrConfirmationRequired, j.Name)
	}

	if st := s.cfg.Registry.RequestCancel(j); st != job.StatusRunning {
		// Finished between the check and the request.
		return job.Summary{}, fmt.Errorf("%w: %s is already %s", registry.ErrInvalidState, j.Name, st)
	}

	s.terminate(j)
	s.logger.Info("running job canceled", "job", j.Name, "seq", j.Seq)
	return s.cfg.Registry.Snapshot(j), nil
}

// terminate signals the job's process to exit gracefully, waits the
// grace period, and kills it if still alive. Returns once the
// supervising goroutine has recorded the terminal status.
func (s *Scheduler) terminate(j *job.Job) {
	s.procMu.Lock()
	if s.procJob != j || s.proc == nil {
		// Process already exited.
		s.procMu.Unlock()
		return
	}
	proc := s.proc.Process
	done := s.procDone
	s.procMu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("SIGTERM failed, process likely gone", "job", j.Name, "error", err)
	}

	select {
	case <-done:
		return
	case <-time.After(s.cfg.GracePeriod):
	}

	s.logger.Warn("grace period expired, killing process", "job", j.Name, "seq", j.Seq)
	if err := proc.Kill(); err != nil {
		s.logger.Debug("kill failed, process likely gone", "job", j.Name, "error", err)
	}
	<-done
}

func (s *Scheduler) setProc(j *job.Job, cmd *exec.Cmd) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	s.proc = cmd
	s.procJob = j
	s.procDone = make(chan struct{})
}

func (s *Scheduler) clearProc() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.procDone != nil {
		close(s.procDone)
	}
	s.proc = nil
	s.procJob = nil
	s.procDone = nil
}
