// Package webhook POSTs transfer receipts to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/iox"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
)

// Request headers set on every POST.
const (
	EventHeader   = "X-Ferry-Event"
	SessionHeader = "X-Ferry-Session"
)

// Config configures the webhook adapter. Zero Timeout means DefaultTimeout.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Adapter publishes receipts as JSON. Network errors, 429 and 5xx are
// retried; any other 4xx is final.
type Adapter struct {
	config Config
	client *http.Client
	header http.Header
}

// New validates cfg and builds an adapter.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("webhook adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	header := make(http.Header, len(cfg.Headers)+1)
	header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		header: header,
	}, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// retryable reports whether the endpoint may accept the event later.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Publish posts event, retrying per Config.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	var session string
	if event.Receipt != nil {
		session = event.Receipt.SessionID
	}

	return adapter.Retry(ctx, "webhook", a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		err := a.post(ctx, event.EventType, session, body)
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return &adapter.Permanent{Err: err}
		}
		return err
	})
}

func (a *Adapter) post(ctx context.Context, eventType, session string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = a.header.Clone()
	req.Header.Set(EventHeader, eventType)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle keep-alive connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
