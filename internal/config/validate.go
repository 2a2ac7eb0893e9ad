package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/robfig/cron/v3"
)

// Validate checks the structural validity of a Config. All problems are
// reported at once via errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: invalid log_level %q (debug, info, warn, error)", cfg.LogLevel))
	}

	if cfg.Server.Bind != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: server.bind %q is not host:port: %w", cfg.Server.Bind, err))
		}
	}

	errs = append(errs, validateJobs(&cfg.Jobs)...)
	errs = append(errs, validateRelay(&cfg.Relay)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)

	return errors.Join(errs...)
}

func validateJobs(jobs *JobsConfig) []error {
	var errs []error
	if jobs.DefaultReportIntervalSeconds < 0 {
		errs = append(errs, errors.New("config: jobs.default_report_interval_seconds must not be negative"))
	}
	if jobs.CancelGraceSeconds < 0 {
		errs = append(errs, errors.New("config: jobs.cancel_grace_seconds must not be negative"))
	}
	return errs
}

func validateRelay(relay *RelayConfig) []error {
	var errs []error

	if relay.Enabled {
		if relay.BaseURL == "" {
			errs = append(errs, errors.New("config: relay.base_url is required when relay is enabled"))
		} else if err := checkURL(relay.BaseURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("config: relay.base_url: %w", err))
		}
	}
	if relay.PushURL != "" {
		if err := checkURL(relay.PushURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("config: relay.push_url: %w", err))
		}
	}
	if relay.PollIntervalSeconds < 0 {
		errs = append(errs, errors.New("config: relay.poll_interval_seconds must not be negative"))
	}
	if relay.HeartbeatSchedule != "" {
		if err := checkSchedule(relay.HeartbeatSchedule); err != nil {
			errs = append(errs, fmt.Errorf("config: relay.heartbeat_schedule: %w", err))
		}
	}

	return errs
}

func validateArchive(archive *ArchiveConfig) []error {
	var errs []error
	if archive.RetentionDays < 0 {
		errs = append(errs, errors.New("config: archive.retention_days must not be negative"))
	}
	if archive.PruneSchedule != "" {
		if err := checkSchedule(archive.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("config: archive.prune_schedule: %w", err))
		}
	}
	return errs
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not allowed (want %v)", u.Scheme, schemes)
}

// scheduleParser accepts standard five-field cron expressions, same as
// the maintenance scheduler.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func checkSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}
