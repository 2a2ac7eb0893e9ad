package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pinger sends a liveness ping to the remote relay. Defined here to
// avoid a dependency on the relay package.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeartbeatJob periodically tells the relay the agent is alive, so a
// silent agent can be distinguished from a dead one.
type HeartbeatJob struct {
	Relay        Pinger
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*HeartbeatJob)(nil)

// Name implements Job.
func (j *HeartbeatJob) Name() string { return "relay_heartbeat" }

// Schedule implements Job.
func (j *HeartbeatJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run pings the relay once. A failed ping is logged, not returned up:
// relay outages must never disturb local operation.
func (j *HeartbeatJob) Run(ctx context.Context) error {
	if err := j.Relay.Ping(ctx); err != nil {
		j.Logger.Warn("cron: relay heartbeat failed", "error", err)
	}
	return nil
}

// ArchivePruner deletes archived rows older than a cutoff. Defined here
// to avoid a dependency on the archive package.
type ArchivePruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// ArchivePruneJob trims the notification/scalar archive to a retention
// window.
type ArchivePruneJob struct {
	Archive      ArchivePruner
	Retention    time.Duration // default 30 days
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"
}

// Compile-time interface check.
var _ Job = (*ArchivePruneJob)(nil)

// Name implements Job.
func (j *ArchivePruneJob) Name() string { return "archive_prune" }

// Schedule implements Job.
func (j *ArchivePruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run prunes rows older than the retention window.
func (j *ArchivePruneJob) Run(ctx context.Context) error {
	retention := j.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-retention)

	pruned, err := j.Archive.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cron: archive prune: %w", err)
	}
	if pruned > 0 {
		j.Logger.Info("cron: pruned archive rows", "count", pruned)
	}
	return nil
}
