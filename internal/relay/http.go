package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minderhq/minder/internal/notify"
)

// HTTPTransport is the default Transport implementation: JSON over
// HTTP with bearer-token auth against a relay base URL.
//
//	POST {base}/notifications        deliver one notification
//	GET  {base}/commands             poll pending commands
//	POST {base}/commands/{id}/result respond to a command
//	POST {base}/ping                 agent liveness heartbeat
type HTTPTransport struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPTransport creates a transport against the given base URL.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Deliver implements Transport.
func (t *HTTPTransport) Deliver(ctx context.Context, n notify.Notification) error {
	return t.post(ctx, t.base+"/notifications", n)
}

// Poll implements Transport.
func (t *HTTPTransport) Poll(ctx context.Context) ([]Command, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/commands", nil)
	if err != nil {
		return nil, err
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: poll: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay: poll: unexpected status %d", resp.StatusCode)
	}

	var cmds []Command
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("relay: decoding commands: %w", err)
	}
	return cmds, nil
}

// Ping implements Transport.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	return t.post(ctx, t.base+"/ping", map[string]string{"status": "alive"})
}

// Respond implements Transport.
func (t *HTTPTransport) Respond(ctx context.Context, commandID string, result any) error {
	return t.post(ctx, t.base+"/commands/"+commandID+"/result", result)
}

func (t *HTTPTransport) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay: post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}
