// Package relay maintains the remote command channel: it forwards
// outbound notifications to an external relay and turns inbound relay
// commands into the same operations the local command interface
// exposes. Relay outages degrade the agent to local-only operation and
// are never fatal.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/minderhq/minder/internal/notify"
)

// Sentinel errors for relay operations.
var (
	ErrAlreadyStarted = errors.New("relay: already started")
	ErrNotStarted     = errors.New("relay: not started")
	ErrUnauthorized   = errors.New("relay: unauthorized")
)

// CommandKind classifies an inbound relay command.
type CommandKind string

const (
	CommandSubmit CommandKind = "submit"
	CommandCancel CommandKind = "cancel"
	CommandList   CommandKind = "list"
	CommandStatus CommandKind = "status"
)

// Command is one instruction received from the relay.
type Command struct {
	// ID correlates the command with its response.
	ID   string      `json:"id"`
	Kind CommandKind `json:"kind"`

	// Submit fields. Reference names remote code resolved through the
	// Fetcher collaborator; when set, the resolved local path becomes
	// the executable and Args become its arguments.
	Name            string   `json:"name,omitempty"`
	Args            []string `json:"args,omitempty"`
	Reference       string   `json:"reference,omitempty"`
	Revision        string   `json:"revision,omitempty"`
	ReportInterval  *float64 `json:"report_interval,omitempty"` // seconds
	DisableInterval bool     `json:"disable_interval,omitempty"`

	// Cancel fields.
	Identifier string `json:"identifier,omitempty"`
	Confirmed  bool   `json:"confirmed,omitempty"`
}

// Transport is the send/poll primitive pair the external relay
// provides.
type Transport interface {
	// Deliver pushes one notification. Retryable; the notification
	// engine drives backoff.
	Deliver(ctx context.Context, n notify.Notification) error

	// Poll fetches zero or more pending inbound commands.
	Poll(ctx context.Context) ([]Command, error)

	// Respond returns a command's result to the relay. Best-effort.
	Respond(ctx context.Context, commandID string, result any) error

	// Ping tells the relay the agent is alive.
	Ping(ctx context.Context) error
}

// Authenticator validates that an inbound command is allowed to act on
// this agent. Credential storage lives behind this interface.
type Authenticator interface {
	Authenticate(ctx context.Context, cmd Command) error
}

// Fetcher resolves a remote code reference to a local executable path.
type Fetcher interface {
	Fetch(ctx context.Context, reference, revision string) (string, error)
}

// secondsToDuration converts a relay-side float seconds value.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
