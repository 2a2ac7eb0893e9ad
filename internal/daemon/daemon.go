// Package daemon integrates the agent with the host's service manager
// (systemd, launchd, Windows services) via kardianos/service.
package daemon

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kardianos/service"
)

// ErrUnknownAction is returned for service actions outside
// install/uninstall/start/stop/restart.
var ErrUnknownAction = errors.New("daemon: unknown service action")

// Config describes the installed service.
type Config struct {
	// Name is the service identifier. Defaults to "minder".
	Name string

	// Arguments are passed to the binary when the service manager
	// launches it, typically ["start", "--config", path].
	Arguments []string

	// Run blocks until the agent exits. Required when running under
	// the service manager, optional for control actions.
	Run func() error

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "minder"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// program adapts the agent run loop to service.Interface.
type program struct {
	run    func() error
	logger *slog.Logger
	errCh  chan error
}

func (p *program) Start(_ service.Service) error {
	// Start must not block: the run loop gets its own goroutine.
	go func() {
		p.errCh <- p.run()
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	// The service manager delivers SIGTERM separately; the run loop
	// handles it and returns through errCh.
	p.logger.Info("daemon: stop requested by service manager")
	return nil
}

// New builds the service handle.
func New(cfg Config) (service.Service, error) {
	cfg = cfg.withDefaults()

	run := cfg.Run
	if run == nil {
		run = func() error { return errors.New("daemon: no run function configured") }
	}

	prg := &program{
		run:    run,
		logger: cfg.Logger,
		errCh:  make(chan error, 1),
	}

	svc, err := service.New(prg, &service.Config{
		Name:        cfg.Name,
		DisplayName: "Minder job agent",
		Description: "Runs background jobs, tracks their scalars, and relays notifications.",
		Arguments:   cfg.Arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: creating service: %w", err)
	}
	return svc, nil
}

// Control applies a service action: install, uninstall, start, stop,
// or restart.
func Control(cfg Config, action string) error {
	svc, err := New(cfg)
	if err != nil {
		return err
	}

	switch action {
	case "install", "uninstall", "start", "stop", "restart":
		if err := service.Control(svc, action); err != nil {
			return fmt.Errorf("daemon: %s: %w", action, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
