// Package client is the HTTP client for a local minder agent. The CLI
// uses it for every command, and running jobs use it (via the
// package-level reporting helpers) to report scalars back to the agent
// that spawned them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors mapped from API error codes.
var (
	ErrNotFound             = errors.New("client: job not found")
	ErrInvalidState         = errors.New("client: job in invalid state")
	ErrConfirmationRequired = errors.New("client: cancellation requires confirmation")
	ErrUnauthorized         = errors.New("client: unauthorized")
)

// DefaultAddr is where a local agent listens unless configured
// otherwise.
const DefaultAddr = "127.0.0.1:7639"

// Job mirrors the agent's job summary wire format.
type Job struct {
	ID         string    `json:"id"`
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Args       []string  `json:"args"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// Status is the agent status report.
type Status struct {
	Running *Job `json:"running,omitempty"`
	Queued  int  `json:"queued"`
	Total   int  `json:"total"`
}

// Logs is a job's captured output.
type Logs struct {
	Job    Job    `json:"job"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Notification is one entry of a job's notification history.
type Notification struct {
	Kind    string             `json:"kind"`
	Time    time.Time          `json:"time"`
	Title   string             `json:"title,omitempty"`
	Payload map[string]float64 `json:"payload,omitempty"`
}

// SubmitRequest describes a job submission.
type SubmitRequest struct {
	Name string   `json:"name,omitempty"`
	Args []string `json:"args"`

	// ReportInterval is in seconds. Nil means the agent default;
	// DisableInterval turns interval notifications off entirely.
	ReportInterval  *float64 `json:"report_interval,omitempty"`
	DisableInterval bool     `json:"disable_interval,omitempty"`

	WorkDir string `json:"work_dir,omitempty"`
}

// ConditionRequest describes a comparison condition on a job's scalars.
type ConditionRequest struct {
	Scalars      []string `json:"scalars"`
	Op           string   `json:"op"`
	Threshold    float64  `json:"threshold"`
	Title        string   `json:"title,omitempty"`
	OnlyRelevant bool     `json:"only_relevant,omitempty"`
}

type scalarRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Client talks to one agent.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for the agent at addr (host:port or full URL).
func New(addr, token string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base:  strings.TrimRight(addr, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Health reports whether the agent answers on its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Submit queues a new job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	var j Job
	err := c.do(ctx, http.MethodPost, "/api/jobs", req, &j)
	return j, err
}

// List returns all jobs in submission order.
func (c *Client) List(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs)
	return jobs, err
}

// Get resolves an identifier (UUID, sequence number, or name
// substring) to a job.
func (c *Client) Get(ctx context.Context, identifier string) (Job, error) {
	var j Job
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+identifier, nil, &j)
	return j, err
}

// Status returns the agent status report.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Cancel requests cancellation. Canceling a running job needs
// confirmed=true; without it the agent answers ErrConfirmationRequired.
func (c *Client) Cancel(ctx context.Context, identifier string, confirmed bool) (Job, error) {
	path := "/api/jobs/" + identifier
	if confirmed {
		path += "?confirmed=true"
	}
	var j Job
	err := c.do(ctx, http.MethodDelete, path, nil, &j)
	return j, err
}

// Logs fetches a job's captured stdout and stderr.
func (c *Client) Logs(ctx context.Context, identifier string) (Logs, error) {
	var l Logs
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+identifier+"/logs", nil, &l)
	return l, err
}

// Notifications fetches a job's notification history.
func (c *Client) Notifications(ctx context.Context, identifier string) ([]Notification, error) {
	var ns []Notification
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+identifier+"/notifications", nil, &ns)
	return ns, err
}

// Report fetches a job's latest scalar values.
func (c *Client) Report(ctx context.Context, identifier string) (map[string]float64, error) {
	var snapshot map[string]float64
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+identifier+"/report", nil, &snapshot)
	return snapshot, err
}

// ReportScalar records one scalar value for a job.
func (c *Client) ReportScalar(ctx context.Context, identifier, name string, value float64) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+identifier+"/scalars", scalarRequest{Name: name, Value: value}, nil)
}

// AddCondition registers a comparison condition on a job.
func (c *Client) AddCondition(ctx context.Context, identifier string, req ConditionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+identifier+"/conditions", req, nil)
}

// Stop asks the agent to shut down.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("client: encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decoding response: %w", err)
		}
		return nil
	}

	return decodeError(resp)
}

// decodeError maps a non-2xx response to a sentinel error, keeping the
// server's message.
func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var apiErr apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &apiErr)

	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	switch apiErr.Code {
	case "not_found":
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case "invalid_state":
		return fmt.Errorf("%w: %s", ErrInvalidState, msg)
	case "confirmation_required":
		return fmt.Errorf("%w: %s", ErrConfirmationRequired, msg)
	default:
		return fmt.Errorf("client: unexpected status %d: %s", resp.StatusCode, msg)
	}
}
