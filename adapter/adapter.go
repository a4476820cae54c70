// Package adapter defines the notification boundary for finished transfers.
//
// Adapters publish one event per transfer attempt to a downstream system.
// The server and CLI own adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/ferry/types"
)

// EventType is the event_type of every published event.
const EventType = "transfer_finished"

// DefaultBackoff is the delay before the first retry. Later retries double it.
const DefaultBackoff = 500 * time.Millisecond

// Event is the payload published when a transfer attempt ends.
type Event struct {
	ContractVersion string         `json:"contract_version"`
	EventType       string         `json:"event_type"`
	Timestamp       string         `json:"timestamp"`
	Receipt         *types.Receipt `json:"receipt"`
}

// NewEvent wraps a receipt for publishing.
func NewEvent(r *types.Receipt) *Event {
	ts := r.FinishedAt
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return &Event{
		ContractVersion: types.Version,
		EventType:       EventType,
		Timestamp:       ts,
		Receipt:         r,
	}
}

// Adapter publishes transfer events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// Permanent marks an error that retrying cannot fix.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Retry runs attempt up to 1+retries times with exponential backoff starting
// at base. A *Permanent error stops retrying immediately.
func Retry(ctx context.Context, name string, retries int, base time.Duration, attempt func(context.Context) error) error {
	if base <= 0 {
		base = DefaultBackoff
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.Err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
