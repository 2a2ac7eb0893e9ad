package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Environment variables the agent injects into every spawned job.
const (
	EnvAgentAddr = "MINDER_AGENT_ADDR"
	EnvJobID     = "MINDER_JOB_ID"
	EnvToken     = "MINDER_AGENT_TOKEN"
)

// ErrNotInJob is returned when the reporting environment variables are absent,
// i.e. the process was not spawned by a minder agent.
var ErrNotInJob = errors.New("client: not running inside a minder job")

// Reporter reports scalars and conditions for the job the current
// process is running as.
type Reporter struct {
	client *Client
	jobID  string
}

// Init builds a Reporter from the environment the agent injected at
// spawn time. Returns ErrNotInJob outside a job process.
func Init() (*Reporter, error) {
	jobID := os.Getenv(EnvJobID)
	if jobID == "" {
		return nil, ErrNotInJob
	}
	addr := os.Getenv(EnvAgentAddr)
	if addr == "" {
		addr = DefaultAddr
	}
	return &Reporter{
		client: New(addr, os.Getenv(EnvToken)),
		jobID:  jobID,
	}, nil
}

// ReportScalar records one scalar value for this job.
func (r *Reporter) ReportScalar(ctx context.Context, name string, value float64) error {
	return r.client.ReportScalar(ctx, r.jobID, name, value)
}

// AddCondition registers a comparison condition on this job's scalars.
func (r *Reporter) AddCondition(ctx context.Context, req ConditionRequest) error {
	return r.client.AddCondition(ctx, r.jobID, req)
}

// JobID returns the identity the agent assigned this process.
func (r *Reporter) JobID() string { return r.jobID }

// The package-level helpers share one lazily created Reporter so job
// scripts can call ReportScalar without any setup. Close releases it;
// a later call creates a fresh one.
var (
	defaultMu       sync.Mutex
	defaultReporter *Reporter
)

func defaultHandle() (*Reporter, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReporter == nil {
		r, err := Init()
		if err != nil {
			return nil, err
		}
		defaultReporter = r
	}
	return defaultReporter, nil
}

// ReportScalar reports a scalar through the process-wide Reporter,
// creating it on first use.
func ReportScalar(ctx context.Context, name string, value float64) error {
	r, err := defaultHandle()
	if err != nil {
		return err
	}
	if err := r.ReportScalar(ctx, name, value); err != nil {
		return fmt.Errorf("reporting %s: %w", name, err)
	}
	return nil
}

// AddCondition registers a condition through the process-wide Reporter.
func AddCondition(ctx context.Context, req ConditionRequest) error {
	r, err := defaultHandle()
	if err != nil {
		return err
	}
	return r.AddCondition(ctx, req)
}

// Close discards the process-wide Reporter.
func Close() {
	defaultMu.Lock()
	defaultReporter = nil
	defaultMu.Unlock()
}
