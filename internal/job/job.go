// Package job defines the job record owned by the registry: identity,
// status, timestamps, and the executable reference the scheduler runs.
package job

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultReportInterval is used when a submission does not specify an
// interval. Explicitly disabled intervals are stored as zero.
const DefaultReportInterval = 3600 * time.Second

// Captured-output file names inside a job's output directory.
const (
	StdoutFile = "stdout"
	StderrFile = "stderr"
)

// Status is the lifecycle state of a job.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusFinished
	StatusFailed
	StatusCanceled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	case StatusFailed:
		return "FAILED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the status is final. A job never leaves a
// terminal status.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCanceled
}

// MarshalJSON encodes the status as its string name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a status from its string name.
func (s *Status) UnmarshalJSON(data []byte) error {
	name := string(data)
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	for _, candidate := range []Status{StatusQueued, StatusRunning, StatusFinished, StatusFailed, StatusCanceled} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("job: unknown status %q", name)
}

// Spec describes a submission before the registry assigns identity.
type Spec struct {
	// Name is optional; the registry generates "Job #<seq>" when empty.
	Name string `json:"name,omitempty"`

	// Args is the executable reference plus arguments.
	Args []string `json:"args"`

	// ReportInterval is the period between INTERVAL notifications.
	// nil means "use the default" (DefaultReportInterval); an explicit
	// zero disables interval notifications entirely.
	ReportInterval *time.Duration `json:"report_interval,omitempty"`

	// WorkDir is the directory relative script paths resolve against.
	// Empty means the agent's working directory.
	WorkDir string `json:"work_dir,omitempty"`
}

// Job is a single supervised execution. All mutable fields are guarded by
// the registry lock; packages other than registry and scheduler must treat
// a *Job as read-only and go through registry accessors.
type Job struct {
	ID   uuid.UUID
	Seq  int
	Name string
	Args []string

	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	// ReportInterval of zero means interval notifications are disabled.
	ReportInterval time.Duration

	// OutputDir holds the job's captured stdout/stderr files. Opaque to
	// everything except the scheduler and the logs command.
	OutputDir string

	// Error carries the spawn or run failure detail for FAILED jobs.
	Error string

	// CancelRequested marks a running job whose termination was asked
	// for, so the supervisor maps process exit to CANCELED rather than
	// FAILED. Set under the registry lock.
	CancelRequested bool
}

// Summary is the read-only projection returned by list and status
// operations and sent to the relay.
type Summary struct {
	ID         uuid.UUID `json:"id"`
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Args       []string  `json:"args"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// Summary builds the projection. Caller must hold the registry lock.
func (j *Job) Summary() Summary {
	return Summary{
		ID:         j.ID,
		Seq:        j.Seq,
		Name:       j.Name,
		Status:     j.Status,
		Args:       append([]string(nil), j.Args...),
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Error:      j.Error,
	}
}

// Ref identifies a job inside a notification without carrying the full
// record.
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Seq  int       `json:"seq"`
	Name string    `json:"name"`
}

// Ref builds the notification reference. Identity fields are immutable,
// so no lock is needed.
func (j *Job) Ref() Ref {
	return Ref{ID: j.ID, Seq: j.Seq, Name: j.Name}
}

// StdoutPath returns the captured stdout file location.
func (j *Job) StdoutPath() string { return filepath.Join(j.OutputDir, StdoutFile) }

// StderrPath returns the captured stderr file location.
func (j *Job) StderrPath() string { return filepath.Join(j.OutputDir, StderrFile) }
