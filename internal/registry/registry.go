// Package registry owns the authoritative set of job records and the
// submission-order queue. One coarse mutex guards every state read and
// update; anything slow (spawning, waiting on processes) happens in the
// scheduler outside the lock.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minderhq/minder/internal/job"
)

// Sentinel errors for registry operations.
var (
	ErrNotFound     = errors.New("registry: job not found")
	ErrInvalidState = errors.New("registry: operation not valid for job status")
)

// Config holds registry construction parameters.
type Config struct {
	// OutputRoot is the directory job output directories are created
	// under. Each job gets OutputRoot/<uuid>.
	OutputRoot string

	// PythonBin runs .py submissions. Defaults to "python3".
	PythonBin string

	// DefaultInterval applies when a submission carries no explicit
	// report interval. Defaults to job.DefaultReportInterval.
	DefaultInterval time.Duration

	// WorkDir resolves relative script paths. Defaults to the agent's
	// working directory.
	WorkDir string

	Logger *slog.Logger

	// Now is injectable for testing.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PythonBin == "" {
		c.PythonBin = "python3"
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = job.DefaultReportInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Registry is the single source of truth for jobs. Safe for concurrent
// use.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[uuid.UUID]*job.Job
	order   []*job.Job // submission order
	queue   []*job.Job // FIFO of QUEUED jobs
	nextSeq int

	// wake is signaled on every submission so the dispatch loop
	// re-checks the queue without polling.
	wake chan struct{}
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "registry"),
		jobs:    make(map[uuid.UUID]*job.Job),
		nextSeq: 1,
		wake:    make(chan struct{}, 1),
	}
}

// Submit validates the spec, assigns the next sequence number, sets the
// job QUEUED, and appends it to the queue. It returns immediately; the
// job may not start for a while.
func (r *Registry) Submit(spec job.Spec) (*job.Job, error) {
	workDir := spec.WorkDir
	if workDir == "" {
		workDir = r.cfg.WorkDir
	}
	args, err := job.NormalizeArgs(spec.Args, workDir, r.cfg.PythonBin)
	if err != nil {
		return nil, err
	}

	interval := r.cfg.DefaultInterval
	if spec.ReportInterval != nil {
		interval = *spec.ReportInterval
	}
	if interval < 0 {
		interval = 0
	}

	id := uuid.New()

	r.mu.Lock()
	seq := r.nextSeq
	r.nextSeq++

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("Job #%d", seq)
	}

	j := &job.Job{
		ID:             id,
		Seq:            seq,
		Name:           name,
		Args:           args,
		Status:         job.StatusQueued,
		CreatedAt:      r.cfg.Now().UTC(),
		ReportInterval: interval,
		OutputDir:      filepath.Join(r.cfg.OutputRoot, id.String()),
	}
	r.jobs[id] = j
	r.order = append(r.order, j)
	r.queue = append(r.queue, j)
	r.mu.Unlock()

	r.logger.Info("job submitted", "job", j.Name, "seq", j.Seq, "id", j.ID)
	r.signalWake()
	return j, nil
}

// List returns summaries of every submitted job, ordered by sequence
// number ascending.
func (r *Registry) List() []job.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]job.Summary, len(r.order))
	for i, j := range r.order {
		out[i] = j.Summary()
	}
	return out
}

// Find resolves an identifier to a job. Matching order: exact UUID, then
// exact sequence number, then the first job in submission order whose
// name contains the identifier as a substring.
func (r *Registry) Find(identifier string) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, err := uuid.Parse(identifier); err == nil {
		if j, ok := r.jobs[id]; ok {
			return j, nil
		}
	}

	if seq, err := strconv.Atoi(identifier); err == nil {
		for _, j := range r.order {
			if j.Seq == seq {
				return j, nil
			}
		}
	}

	for _, j := range r.order {
		if strings.Contains(j.Name, identifier) {
			return j, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNotFound, identifier)
}

// Get returns the job with the given UUID.
func (r *Registry) Get(id uuid.UUID) (*job.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// JobStatus returns the current status of the job with the given UUID.
func (r *Registry) JobStatus(id uuid.UUID) (job.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return 0, false
	}
	return j.Status, true
}

// Snapshot returns a consistent summary of a single job.
func (r *Registry) Snapshot(j *job.Job) job.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return j.Summary()
}

// Wake returns the channel the dispatch loop blocks on while the queue
// is empty.
func (r *Registry) Wake() <-chan struct{} { return r.wake }

func (r *Registry) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// PopQueued removes and returns the head of the queue, or nil when the
// queue is empty. The returned job is still QUEUED; the scheduler moves
// it to RUNNING once the process is up.
func (r *Registry) PopQueued() *job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) > 0 {
		j := r.queue[0]
		r.queue = r.queue[1:]
		if j.Status == job.StatusQueued {
			return j
		}
		// Canceled while queued; skip.
	}
	return nil
}

// MarkRunning transitions a job to RUNNING and records the start time.
func (r *Registry) MarkRunning(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.Status = job.StatusRunning
	j.StartedAt = r.cfg.Now().UTC()
}

// MarkEnded transitions a job to the given terminal status and records
// the finish time. errMsg carries the failure detail for FAILED jobs.
func (r *Registry) MarkEnded(j *job.Job, status job.Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.Status = status
	j.FinishedAt = r.cfg.Now().UTC()
	if errMsg != "" {
		j.Error = errMsg
	}
}

// CancelQueued transitions a QUEUED job to CANCELED and removes it from
// the queue. Returns ErrInvalidState if the job is not QUEUED.
func (r *Registry) CancelQueued(j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j.Status != job.StatusQueued {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, j.Name, j.Status)
	}
	j.Status = job.StatusCanceled
	j.FinishedAt = r.cfg.Now().UTC()
	for i, queued := range r.queue {
		if queued == j {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	return nil
}

// RequestCancel marks a RUNNING job so the supervisor maps its process
// exit to CANCELED. Returns the current status unchanged for callers to
// branch on.
func (r *Registry) RequestCancel(j *job.Job) job.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j.Status == job.StatusRunning {
		j.CancelRequested = true
	}
	return j.Status
}

// Running returns the currently RUNNING job, if any.
func (r *Registry) Running() (*job.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.order {
		if j.Status == job.StatusRunning {
			return j, true
		}
	}
	return nil, false
}

// QueueLen returns the number of jobs waiting in the queue.
func (r *Registry) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.queue {
		if j.Status == job.StatusQueued {
			n++
		}
	}
	return n
}
