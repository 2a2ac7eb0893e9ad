// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for minder.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is the persistent data directory. Job output directories and
	// the notification archive live under it. Empty means the XDG default.
	DataDir string `yaml:"data_dir,omitempty"`

	Server  ServerConfig  `yaml:"server,omitempty"`
	Jobs    JobsConfig    `yaml:"jobs,omitempty"`
	Relay   RelayConfig   `yaml:"relay,omitempty"`
	Archive ArchiveConfig `yaml:"archive,omitempty"`

	// LogLevel is the minimum log level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level,omitempty"`
}

// ServerConfig controls the local HTTP API.
type ServerConfig struct {
	// Bind is the listen address. Defaults to 127.0.0.1:7639.
	Bind string `yaml:"bind,omitempty"`

	// AuthToken, when set, requires a matching bearer token on every
	// request except /health and /metrics.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// JobsConfig controls job execution.
type JobsConfig struct {
	// PythonBin is the interpreter prepended to .py submissions.
	// Defaults to "python3".
	PythonBin string `yaml:"python_bin,omitempty"`

	// DefaultReportIntervalSeconds applies to jobs submitted without an
	// explicit interval. Defaults to 3600.
	DefaultReportIntervalSeconds int `yaml:"default_report_interval_seconds,omitempty"`

	// CancelGraceSeconds is how long a canceled running job gets between
	// SIGTERM and SIGKILL. Defaults to 10.
	CancelGraceSeconds int `yaml:"cancel_grace_seconds,omitempty"`
}

// RelayConfig controls the remote command channel. The relay is
// optional: when Enabled is false the agent runs local-only.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Token   string `yaml:"token,omitempty"`

	// PushURL is an optional websocket endpoint for server-pushed
	// commands. Polling continues regardless.
	PushURL string `yaml:"push_url,omitempty"`

	// PollIntervalSeconds is the command poll period. Defaults to 10.
	PollIntervalSeconds int `yaml:"poll_interval_seconds,omitempty"`

	// HeartbeatSchedule is the cron expression for liveness pings.
	// Defaults to "*/5 * * * *".
	HeartbeatSchedule string `yaml:"heartbeat_schedule,omitempty"`
}

// ArchiveConfig controls the SQLite notification/scalar archive.
type ArchiveConfig struct {
	// Path overrides the archive database location. Defaults to
	// <data_dir>/archive.db.
	Path string `yaml:"path,omitempty"`

	// RetentionDays is how long archived rows are kept. Defaults to 30.
	RetentionDays int `yaml:"retention_days,omitempty"`

	// PruneSchedule is the cron expression for the prune job.
	// Defaults to "0 3 * * *".
	PruneSchedule string `yaml:"prune_schedule,omitempty"`
}

// DefaultReportInterval returns the configured default report interval
// as a duration, falling back to one hour.
func (c *Config) DefaultReportInterval() time.Duration {
	if c.Jobs.DefaultReportIntervalSeconds > 0 {
		return time.Duration(c.Jobs.DefaultReportIntervalSeconds) * time.Second
	}
	return 3600 * time.Second
}

// CancelGrace returns the configured cancel grace period, falling back
// to ten seconds.
func (c *Config) CancelGrace() time.Duration {
	if c.Jobs.CancelGraceSeconds > 0 {
		return time.Duration(c.Jobs.CancelGraceSeconds) * time.Second
	}
	return 10 * time.Second
}

// PollInterval returns the relay poll period, falling back to ten
// seconds.
func (c *Config) PollInterval() time.Duration {
	if c.Relay.PollIntervalSeconds > 0 {
		return time.Duration(c.Relay.PollIntervalSeconds) * time.Second
	}
	return 10 * time.Second
}

// Retention returns the archive retention window, falling back to
// thirty days.
func (c *Config) Retention() time.Duration {
	if c.Archive.RetentionDays > 0 {
		return time.Duration(c.Archive.RetentionDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
