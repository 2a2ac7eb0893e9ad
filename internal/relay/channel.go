package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minderhq/minder/internal/command"
	"github.com/minderhq/minder/internal/job"
	"github.com/minderhq/minder/internal/notify"
)

// Config holds channel construction parameters.
type Config struct {
	Transport Transport
	Commands  *command.API

	// Auth is optional; nil accepts every inbound command.
	Auth Authenticator

	// Fetch is optional; nil rejects commands carrying a remote code
	// reference.
	Fetch Fetcher

	// PushURL enables the websocket push stream when non-empty.
	PushURL string

	// PushToken authenticates the push stream dial.
	PushToken string

	// PollInterval is the pause between relay poll round-trips.
	// Default 10s.
	PollInterval time.Duration

	// MaxConsecutiveErrors failed polls in a row trigger a longer
	// ErrorPause before polling resumes. Defaults 5 and 30s.
	MaxConsecutiveErrors int
	ErrorPause           time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Channel runs the poll loop and the optional push stream, and exposes
// Deliver for the notification engine.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	push   *PushListener
}

// NewChannel creates a channel.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Transport == nil {
		return nil, errors.New("relay: nil Transport")
	}
	if cfg.Commands == nil {
		return nil, errors.New("relay: nil command API")
	}
	cfg = cfg.withDefaults()
	return &Channel{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "relay"),
	}, nil
}

// Deliver implements notify.Deliverer by delegating to the transport.
func (c *Channel) Deliver(ctx context.Context, n notify.Notification) error {
	return c.cfg.Transport.Deliver(ctx, n)
}

// Ping implements the maintenance scheduler's Pinger.
func (c *Channel) Ping(ctx context.Context) error {
	return c.cfg.Transport.Ping(ctx)
}

// Start launches the poll loop and, if configured, the push stream.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.pollLoop(ctx)

	if c.cfg.PushURL != "" {
		c.push = NewPushListener(PushConfig{
			URL:     c.cfg.PushURL,
			Token:   c.cfg.PushToken,
			Handler: c.handle,
			Logger:  c.cfg.Logger,
		})
		c.push.Start(ctx)
	}
	return nil
}

// Stop terminates the poll loop and push stream.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	cancel := c.cancel
	done := c.done
	push := c.push
	c.cancel = nil
	c.push = nil
	c.mu.Unlock()

	cancel()
	if push != nil {
		push.Stop()
	}
	<-done
	return nil
}

// pollLoop fetches inbound commands between fixed pauses, backing off
// after repeated transport failures. Local operation is unaffected by a
// dead relay.
func (c *Channel) pollLoop(ctx context.Context) {
	defer close(c.done)

	var consecutiveErrors int
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.PollInterval):
		}

		cmds, err := c.cfg.Transport.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			c.logger.Warn("relay poll failed", "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
				c.logger.Warn("relay polling paused after consecutive errors", "pause", c.cfg.ErrorPause)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.ErrorPause):
				}
				consecutiveErrors = 0
			}
			continue
		}
		consecutiveErrors = 0

		for _, cmd := range cmds {
			c.handle(ctx, cmd)
		}
	}
}

// handle authenticates one inbound command and applies it through the
// command interface. Results and failures are reported back to the
// relay best-effort.
func (c *Channel) handle(ctx context.Context, cmd Command) {
	if c.cfg.Auth != nil {
		if err := c.cfg.Auth.Authenticate(ctx, cmd); err != nil {
			c.logger.Warn("inbound command rejected",
				"command", string(cmd.Kind),
				"error", fmt.Errorf("%w: %v", ErrUnauthorized, err),
			)
			c.respond(ctx, cmd.ID, map[string]string{"error": ErrUnauthorized.Error()})
			return
		}
	}

	result, err := c.apply(ctx, cmd)
	if err != nil {
		c.logger.Warn("inbound command failed", "command", string(cmd.Kind), "error", err)
		c.respond(ctx, cmd.ID, map[string]string{"error": err.Error()})
		return
	}
	c.logger.Info("inbound command applied", "command", string(cmd.Kind))
	c.respond(ctx, cmd.ID, result)
}

// apply maps the command onto the shared command interface.
func (c *Channel) apply(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Kind {
	case CommandSubmit:
		spec, err := c.buildSpec(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return c.cfg.Commands.Submit(spec)

	case CommandCancel:
		return c.cfg.Commands.Cancel(cmd.Identifier, cmd.Confirmed)

	case CommandList:
		return c.cfg.Commands.List(), nil

	case CommandStatus:
		return c.cfg.Commands.Status(), nil

	default:
		return nil, fmt.Errorf("relay: unknown command kind %q", cmd.Kind)
	}
}

// buildSpec turns a submit command into a job spec, resolving remote
// code references through the fetch collaborator first.
func (c *Channel) buildSpec(ctx context.Context, cmd Command) (job.Spec, error) {
	args := cmd.Args
	if cmd.Reference != "" {
		if c.cfg.Fetch == nil {
			return job.Spec{}, errors.New("relay: no fetcher configured for remote code reference")
		}
		path, err := c.cfg.Fetch.Fetch(ctx, cmd.Reference, cmd.Revision)
		if err != nil {
			return job.Spec{}, fmt.Errorf("relay: fetching %s: %w", cmd.Reference, err)
		}
		args = append([]string{path}, args...)
	}

	spec := job.Spec{Name: cmd.Name, Args: args}
	if cmd.DisableInterval {
		zero := time.Duration(0)
		spec.ReportInterval = &zero
	} else if cmd.ReportInterval != nil {
		d := secondsToDuration(*cmd.ReportInterval)
		spec.ReportInterval = &d
	}
	return spec, nil
}

func (c *Channel) respond(ctx context.Context, commandID string, result any) {
	if commandID == "" {
		return
	}
	if err := c.cfg.Transport.Respond(ctx, commandID, result); err != nil {
		c.logger.Debug("command response delivery failed", "command_id", commandID, "error", err)
	}
}
