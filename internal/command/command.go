// Package command is the single entry point for job operations. The
// local HTTP API and the remote relay both funnel through it, so job
// state has one source of truth regardless of command origin. Every
// invocation is stateless with respect to the caller.
package command

import (
	"errors"
	"log/slog"
	"os"

	"github.com/minderhq/minder/internal/job"
	"github.com/minderhq/minder/internal/notify"
	"github.com/minderhq/minder/internal/registry"
	"github.com/minderhq/minder/internal/scheduler"
	"github.com/minderhq/minder/internal/track"
)

// Config holds the collaborators every command operates on.
type Config struct {
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Engine    *notify.Engine

	// Stop requests agent shutdown. Invoked by the stop command.
	Stop func()

	Logger *slog.Logger
}

// API exposes the command surface: submit, list, logs, notifications,
// report, cancel, status, stop.
type API struct {
	cfg    Config
	logger *slog.Logger
}

// New creates the command API.
func New(cfg Config) (*API, error) {
	if cfg.Registry == nil {
		return nil, errors.New("command: nil Registry")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("command: nil Scheduler")
	}
	if cfg.Engine == nil {
		return nil, errors.New("command: nil Engine")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &API{cfg: cfg, logger: cfg.Logger.With("component", "command")}, nil
}

// Submit queues a new job and registers it with the notification
// engine. It returns immediately with the QUEUED summary.
func (a *API) Submit(spec job.Spec) (job.Summary, error) {
	j, err := a.cfg.Registry.Submit(spec)
	if err != nil {
		return job.Summary{}, err
	}
	a.cfg.Engine.Register(j)
	return a.cfg.Registry.Snapshot(j), nil
}

// List returns every submitted job, sequence ascending.
func (a *API) List() []job.Summary {
	return a.cfg.Registry.List()
}

// StatusReport is the agent-level view returned by Status.
type StatusReport struct {
	Running *job.Summary `json:"running,omitempty"`
	Queued  int          `json:"queued"`
	Total   int          `json:"total"`
}

// Status reports the currently running job and queue depth.
func (a *API) Status() StatusReport {
	report := StatusReport{
		Queued: a.cfg.Registry.QueueLen(),
		Total:  len(a.cfg.Registry.List()),
	}
	if j, ok := a.cfg.Registry.Running(); ok {
		snap := a.cfg.Registry.Snapshot(j)
		report.Running = &snap
	}
	return report
}

// Logs is the captured output of a job.
type Logs struct {
	Job    job.Summary `json:"job"`
	Stdout string      `json:"stdout"`
	Stderr string      `json:"stderr"`
}

// Logs returns whatever output the job has captured so far. A job that
// never started yields empty output, not an error.
func (a *API) Logs(identifier string) (Logs, error) {
	j, err := a.cfg.Registry.Find(identifier)
	if err != nil {
		return Logs{}, err
	}
	return Logs{
		Job:    a.cfg.Registry.Snapshot(j),
		Stdout: readIfExists(j.StdoutPath()),
		Stderr: readIfExists(j.StderrPath()),
	}, nil
}

func readIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Notifications returns the job's notification history in emission
// order.
func (a *API) Notifications(identifier string) ([]notify.Notification, error) {
	j, err := a.cfg.Registry.Find(identifier)
	if err != nil {
		return nil, err
	}
	return a.cfg.Engine.History(j.ID)
}

// Report returns the latest value of every scalar the job has reported.
func (a *API) Report(identifier string) (map[string]float64, error) {
	j, err := a.cfg.Registry.Find(identifier)
	if err != nil {
		return nil, err
	}
	return a.cfg.Engine.Report(j.ID)
}

// ReportScalar records a scalar value for the job and evaluates its
// conditions.
func (a *API) ReportScalar(identifier, name string, value float64) error {
	j, err := a.cfg.Registry.Find(identifier)
	if err != nil {
		return err
	}
	return a.cfg.Engine.ReportScalar(j.ID, name, value)
}

// AddCondition attaches an edge-triggered condition to the job.
func (a *API) AddCondition(identifier string, c *track.Condition) error {
	j, err := a.cfg.Registry.Find(identifier)
	if err != nil {
		return err
	}
	return a.cfg.Engine.AddCondition(j.ID, c)
}

// Cancel cancels the job. RUNNING jobs require confirmed.
func (a *API) Cancel(identifier string, confirmed bool) (job.Summary, error) {
	return a.cfg.Scheduler.Cancel(identifier, confirmed)
}

// Stop requests agent shutdown.
func (a *API) Stop() {
	a.logger.Info("stop requested")
	if a.cfg.Stop != nil {
		a.cfg.Stop()
	}
}
