package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/minderhq/minder/internal/archive"
	"github.com/minderhq/minder/internal/command"
	"github.com/minderhq/minder/internal/config"
	"github.com/minderhq/minder/internal/cron"
	"github.com/minderhq/minder/internal/notify"
	"github.com/minderhq/minder/internal/registry"
	"github.com/minderhq/minder/internal/relay"
	"github.com/minderhq/minder/internal/scheduler"
	"github.com/minderhq/minder/internal/server"
	"github.com/minderhq/minder/pkg/client"
)

// Agent is the fully wired job agent: registry, scheduler, notification
// engine, local API, optional relay, archive, and maintenance cron.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	archive   *archive.Store
	registry  *registry.Registry
	engine    *notify.Engine
	scheduler *scheduler.Scheduler
	relay     *relay.Channel // nil when the relay is disabled
	server    *server.Server
	cron      *cron.Scheduler
	api       *command.API

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAgent builds every component from the configuration without
// starting anything.
func NewAgent(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	a := &Agent{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	dataDir := cfg.ResolveDataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: creating data dir %s: %w", dataDir, err)
	}

	store, err := archive.Open(cfg.ArchivePath())
	if err != nil {
		return nil, err
	}
	a.archive = store

	a.registry = registry.New(registry.Config{
		OutputRoot:      cfg.OutputRoot(),
		PythonBin:       cfg.Jobs.PythonBin,
		DefaultInterval: cfg.DefaultReportInterval(),
		Logger:          logger,
	})

	a.engine, err = notify.NewEngine(notify.Config{
		Status:  a.registry,
		Archive: store,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	jobEnv := []string{client.EnvAgentAddr + "=" + cfg.Server.Bind}
	if cfg.Server.AuthToken != "" {
		jobEnv = append(jobEnv, client.EnvToken+"="+cfg.Server.AuthToken)
	}

	a.scheduler, err = scheduler.New(scheduler.Config{
		Registry:    a.registry,
		Notifier:    a.engine,
		GracePeriod: cfg.CancelGrace(),
		Env:         jobEnv,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	a.api, err = command.New(command.Config{
		Registry:  a.registry,
		Scheduler: a.scheduler,
		Engine:    a.engine,
		Stop:      a.RequestStop,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Relay.Enabled {
		a.relay, err = relay.NewChannel(relay.Config{
			Transport:    relay.NewHTTPTransport(cfg.Relay.BaseURL, cfg.Relay.Token),
			Commands:     a.api,
			PushURL:      cfg.Relay.PushURL,
			PushToken:    cfg.Relay.Token,
			PollInterval: cfg.PollInterval(),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		// The engine cannot take the deliverer at construction: the
		// relay needs the command API, which needs the engine.
		a.engine.SetDelivery(a.relay)
	}

	metrics := server.NewMetrics(a.registry.QueueLen, func() int {
		if _, ok := a.registry.Running(); ok {
			return 1
		}
		return 0
	})

	a.server, err = server.New(server.Config{
		Bind:        cfg.Server.Bind,
		BearerToken: cfg.Server.AuthToken,
		API:         a.api,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	a.cron = cron.NewScheduler(logger)
	if a.relay != nil {
		if err := a.cron.Register(&cron.HeartbeatJob{
			Relay:        a.relay,
			Logger:       logger,
			ScheduleExpr: cfg.Relay.HeartbeatSchedule,
		}); err != nil {
			return nil, err
		}
	}
	if err := a.cron.Register(&cron.ArchivePruneJob{
		Archive:      store,
		Retention:    cfg.Retention(),
		Logger:       logger,
		ScheduleExpr: cfg.Archive.PruneSchedule,
	}); err != nil {
		return nil, err
	}

	return a, nil
}

// API exposes the command surface for in-process callers.
func (a *Agent) API() *command.API { return a.api }

// RequestStop asks the run loop to shut the agent down. Safe to call
// from any goroutine, any number of times.
func (a *Agent) RequestStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Done is closed once RequestStop has been called.
func (a *Agent) Done() <-chan struct{} { return a.stopCh }

// Start brings every component up in dependency order.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	if err := a.cron.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("agent started", "bind", a.cfg.Server.Bind, "relay", a.cfg.Relay.Enabled)
	return nil
}

// Stop tears components down in reverse order. Errors are logged, not
// returned: shutdown always proceeds to the end.
func (a *Agent) Stop(ctx context.Context) {
	if err := a.cron.Stop(ctx); err != nil {
		a.logger.Error("stopping cron", "error", err)
	}
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("stopping server", "error", err)
	}
	if a.relay != nil {
		if err := a.relay.Stop(ctx); err != nil {
			a.logger.Error("stopping relay", "error", err)
		}
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Error("stopping scheduler", "error", err)
	}
	if err := a.engine.Stop(ctx); err != nil {
		a.logger.Error("stopping notify engine", "error", err)
	}
	if err := a.archive.Close(); err != nil {
		a.logger.Error("closing archive", "error", err)
	}
	a.logger.Info("agent stopped")
}
