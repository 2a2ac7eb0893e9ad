// Package app wires the minder components together and runs the agent
// until shutdown.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minderhq/minder/internal/config"
)

// RunParams configures the main agent loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel overrides the configured log level when non-empty.
	LogLevel string

	// ShutdownTimeout bounds graceful teardown. Default 30s.
	ShutdownTimeout time.Duration
}

// Run loads configuration, starts the agent, and blocks until a
// shutdown signal arrives or a stop command is received.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := config.ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	level := cfg.LogLevel
	if params.LogLevel != "" {
		level = params.LogLevel
	}
	logger := NewLogger(level)

	agent, err := NewAgent(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := agent.Start(ctx); err != nil {
		return err
	}
	logger.Info("minder running", "version", params.Version, "config", cfgPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-agent.Done():
		logger.Info("stop command received")
	}

	timeout := params.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	agent.Stop(stopCtx)
	return nil
}

// NewLogger builds the agent's text logger at the given level. Unknown
// levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
