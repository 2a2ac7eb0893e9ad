// Package notify produces notification events on lifecycle transitions,
// report-interval ticks, and condition edges, and hands them to the relay
// for delivery. Every emission is appended to the job's history before it
// is queued for delivery.
package notify

import (
	"time"

	"github.com/minderhq/minder/internal/job"
)

// Kind classifies a notification.
type Kind string

const (
	KindStarted   Kind = "STARTED"
	KindFinished  Kind = "FINISHED"
	KindFailed    Kind = "FAILED"
	KindCanceled  Kind = "CANCELED"
	KindInterval  Kind = "INTERVAL"
	KindCondition Kind = "CONDITION"
)

// Notification is a single event in a job's history. INTERVAL and
// CONDITION notifications carry a snapshot of scalar latest-values.
type Notification struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	Job  job.Ref   `json:"job"`

	// Title names the condition for CONDITION notifications.
	Title string `json:"title,omitempty"`

	Payload map[string]float64 `json:"payload,omitempty"`
}

// terminalKind maps a terminal job status to its notification kind.
func terminalKind(status job.Status) (Kind, bool) {
	switch status {
	case job.StatusFinished:
		return KindFinished, true
	case job.StatusFailed:
		return KindFailed, true
	case job.StatusCanceled:
		return KindCanceled, true
	default:
		return "", false
	}
}
