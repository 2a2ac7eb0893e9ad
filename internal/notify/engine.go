package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minderhq/minder/internal/job"
	"github.com/minderhq/minder/internal/track"
)

// Sentinel errors for engine operations.
var (
	ErrAlreadyStarted = errors.New("notify: already started")
	ErrNotStarted     = errors.New("notify: not started")
	ErrUnknownJob     = errors.New("notify: job not registered")
)

// StatusSource answers whether a job is still running. Satisfied by the
// registry; an interface here keeps the engine free of a registry
// dependency.
type StatusSource interface {
	JobStatus(id uuid.UUID) (job.Status, bool)
}

// Deliverer pushes a notification to the remote relay. Satisfied by the
// relay channel. A Deliverer may block and fail; the engine's dispatch
// goroutine absorbs both.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// Archiver persists notifications and scalar reports. Best-effort:
// errors are logged and otherwise ignored.
type Archiver interface {
	ArchiveNotification(ctx context.Context, n Notification) error
	ArchiveScalar(ctx context.Context, jobID uuid.UUID, name string, value float64, at time.Time) error
}

// Config holds engine construction parameters.
type Config struct {
	Status   StatusSource
	Delivery Deliverer // nil disables delivery (local-only mode)
	Archive  Archiver  // nil disables archiving

	// QueueSize bounds the delivery buffer. Overflow is dropped with a
	// log line so a slow relay never blocks scalar reporting or the
	// dispatch loop. Default 256.
	QueueSize int

	// InitialBackoff, MaxBackoff, and MaxAttempts shape delivery retry.
	// Defaults: 1s, 2m, 5 attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int

	Logger *slog.Logger

	// Now is injectable for testing.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine owns the per-job scalar trackers, condition sets, notification
// histories, and the single interval timer of the running job.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[uuid.UUID]*track.Tracker
	refs     map[uuid.UUID]job.Ref
	history  map[uuid.UUID][]Notification
	timers   map[uuid.UUID]context.CancelFunc
	cancel   context.CancelFunc
	done     chan struct{}

	queue chan Notification
}

// NewEngine creates an engine. Jobs must be registered before scalars
// are reported for them.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Status == nil {
		return nil, errors.New("notify: nil StatusSource")
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "notify"),
		trackers: make(map[uuid.UUID]*track.Tracker),
		refs:     make(map[uuid.UUID]job.Ref),
		history:  make(map[uuid.UUID][]Notification),
		timers:   make(map[uuid.UUID]context.CancelFunc),
		queue:    make(chan Notification, cfg.QueueSize),
	}, nil
}

// SetDelivery wires the deliverer after construction, breaking the
// construction cycle between the engine and the relay channel. Must be
// called before Start.
func (e *Engine) SetDelivery(d Deliverer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Delivery = d
}

// Start launches the delivery dispatch goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.dispatch(ctx)
	return nil
}

// Stop terminates the dispatch goroutine. Buffered notifications that
// have not been delivered yet are dropped.
func (e *Engine) Stop(_ context.Context) error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Register creates the tracker and history entry for a newly submitted
// job. It is idempotent.
func (e *Engine) Register(j *job.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.trackers[j.ID]; ok {
		return
	}
	e.trackers[j.ID] = track.NewTracker()
	e.refs[j.ID] = j.Ref()
	e.history[j.ID] = nil
}

// ReportScalar records a scalar value for a job and synchronously
// re-evaluates every condition referencing the name. Conditions crossing
// a false-to-true edge emit one CONDITION notification each.
func (e *Engine) ReportScalar(id uuid.UUID, name string, value float64) error {
	e.mu.Lock()
	tracker, ok := e.trackers[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	fired := tracker.Report(name, value)

	if e.cfg.Archive != nil {
		if err := e.cfg.Archive.ArchiveScalar(context.Background(), id, name, value, e.cfg.Now().UTC()); err != nil {
			e.logger.Warn("scalar archive failed", "job", id, "scalar", name, "error", err)
		}
	}

	for _, c := range fired {
		payload := tracker.Snapshot()
		if c.IsOnlyRelevant() {
			payload = tracker.SnapshotNames(c.Names())
		}
		e.emit(Notification{
			Kind:    KindCondition,
			Time:    e.cfg.Now().UTC(),
			Job:     e.ref(id),
			Title:   c.Title(),
			Payload: payload,
		})
	}
	return nil
}

// AddCondition attaches a condition to a job's tracker. Conditions may
// reference scalars that have never been reported.
func (e *Engine) AddCondition(id uuid.UUID, c *track.Condition) error {
	e.mu.Lock()
	tracker, ok := e.trackers[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return tracker.AddCondition(c)
}

// Report returns the latest value of every scalar reported for the job.
func (e *Engine) Report(id uuid.UUID) (map[string]float64, error) {
	e.mu.Lock()
	tracker, ok := e.trackers[id]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return tracker.Snapshot(), nil
}

// ScalarHistory returns every value reported for one scalar, oldest
// first.
func (e *Engine) ScalarHistory(id uuid.UUID, name string) ([]float64, error) {
	e.mu.Lock()
	tracker, ok := e.trackers[id]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return tracker.History(name)
}

// History returns a copy of the job's notification history in emission
// order.
func (e *Engine) History(id uuid.UUID) ([]Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.trackers[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return append([]Notification(nil), e.history[id]...), nil
}

// JobStarted emits the STARTED notification and, when the job has a
// report interval, starts its interval timer. Called by the scheduler
// exactly once per QUEUED-to-RUNNING transition.
func (e *Engine) JobStarted(j *job.Job) {
	e.Register(j)
	e.emit(Notification{
		Kind: KindStarted,
		Time: e.cfg.Now().UTC(),
		Job:  j.Ref(),
	})
	if j.ReportInterval > 0 {
		e.startTimer(j)
	}
}

// JobEnded stops the job's interval timer and emits exactly one terminal
// notification. A tick racing the transition cannot append after the
// terminal event: both paths serialize on the engine mutex and the timer
// entry is removed first.
func (e *Engine) JobEnded(j *job.Job, status job.Status) {
	e.Register(j)
	kind, ok := terminalKind(status)
	if !ok {
		e.logger.Error("job ended with non-terminal status", "job", j.Name, "status", status)
		return
	}

	e.mu.Lock()
	if cancel, running := e.timers[j.ID]; running {
		cancel()
		delete(e.timers, j.ID)
	}
	n := Notification{
		Kind: kind,
		Time: e.cfg.Now().UTC(),
		Job:  j.Ref(),
	}
	e.history[j.ID] = append(e.history[j.ID], n)
	e.mu.Unlock()

	e.enqueue(n)
}

// startTimer launches the per-job interval goroutine. At most one timer
// exists at a time because at most one job is RUNNING.
func (e *Engine) startTimer(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.timers[j.ID] = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(j.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.tick(j)
			}
		}
	}()
}

// tick emits one INTERVAL notification if the job is still running.
func (e *Engine) tick(j *job.Job) {
	if status, ok := e.cfg.Status.JobStatus(j.ID); !ok || status != job.StatusRunning {
		return
	}

	e.mu.Lock()
	if _, running := e.timers[j.ID]; !running {
		// Timer was canceled between the tick and here.
		e.mu.Unlock()
		return
	}
	tracker := e.trackers[j.ID]
	n := Notification{
		Kind:    KindInterval,
		Time:    e.cfg.Now().UTC(),
		Job:     j.Ref(),
		Payload: tracker.Snapshot(),
	}
	e.history[j.ID] = append(e.history[j.ID], n)
	e.mu.Unlock()

	e.enqueue(n)
}

// ref returns the reference stored at registration time.
func (e *Engine) ref(id uuid.UUID) job.Ref {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.refs[id]; ok {
		return r
	}
	return job.Ref{ID: id}
}

// emit appends the notification to the job's history, then queues it for
// delivery. History precedes delivery so the per-job order observed
// locally is the order the relay sees.
func (e *Engine) emit(n Notification) {
	e.mu.Lock()
	e.history[n.Job.ID] = append(e.history[n.Job.ID], n)
	e.mu.Unlock()

	e.enqueue(n)
}

func (e *Engine) enqueue(n Notification) {
	if e.cfg.Archive != nil {
		if err := e.cfg.Archive.ArchiveNotification(context.Background(), n); err != nil {
			e.logger.Warn("notification archive failed", "job", n.Job.Name, "kind", n.Kind, "error", err)
		}
	}
	if e.cfg.Delivery == nil {
		return
	}
	select {
	case e.queue <- n:
	default:
		e.logger.Warn("delivery queue full, dropping notification",
			"job", n.Job.Name,
			"kind", n.Kind,
		)
	}
}

// dispatch drains the delivery queue, retrying each notification with
// exponential backoff. Failures are logged and never surface to the
// producing job.
func (e *Engine) dispatch(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-e.queue:
			e.deliver(ctx, n)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, n Notification) {
	backoff := e.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := e.cfg.Delivery.Deliver(ctx, n)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= e.cfg.MaxAttempts {
			e.logger.Error("notification dropped after repeated delivery failures",
				"job", n.Job.Name,
				"kind", n.Kind,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		e.logger.Warn("notification delivery failed, retrying",
			"job", n.Job.Name,
			"kind", n.Kind,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}
}
