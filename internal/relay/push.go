package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	pushMinBackoff = time.Second
	pushMaxBackoff = time.Minute
)

// PushConfig holds push stream parameters.
type PushConfig struct {
	URL     string
	Token   string
	Handler func(ctx context.Context, cmd Command)
	Logger  *slog.Logger
}

// PushListener keeps a websocket connection to the relay open and feeds
// pushed commands into the same handler the poll loop uses. The
// connection is redialed with exponential backoff; the agent keeps
// operating locally while the stream is down.
type PushListener struct {
	cfg    PushConfig
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewPushListener creates a push listener.
func NewPushListener(cfg PushConfig) *PushListener {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PushListener{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "relay.push"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the dial-and-read loop in a goroutine.
func (p *PushListener) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop signals the loop to exit and waits for it. Safe to call more
// than once.
func (p *PushListener) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *PushListener) loop(ctx context.Context) {
	defer close(p.done)

	backoff := pushMinBackoff
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.readStream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("push stream disconnected", "error", err, "redial_in", backoff)
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pushMaxBackoff {
				backoff = pushMaxBackoff
			}
			continue
		}
		backoff = pushMinBackoff
	}
}

// readStream dials the relay and reads commands until the connection
// drops or the listener stops.
func (p *PushListener) readStream(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if p.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + p.cfg.Token}}
	}

	conn, _, err := websocket.Dial(ctx, p.cfg.URL, opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	p.logger.Info("push stream connected", "url", p.cfg.URL)

	// Close the connection when the listener stops so the blocked read
	// below returns.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		var cmd Command
		if err := wsjson.Read(readCtx, conn, &cmd); err != nil {
			return err
		}
		p.cfg.Handler(readCtx, cmd)
	}
}
