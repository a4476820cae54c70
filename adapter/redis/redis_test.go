package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/types"
)

func receiptEvent(filename string) *adapter.Event {
	return adapter.NewEvent(&types.Receipt{
		SessionID:   "0b6f9a52-1c0e-4b8f-9d53-3f2f8d0d6a11",
		Role:        types.RoleResponder,
		Mode:        "upload",
		Filename:    filename,
		Offset:      40,
		Size:        100,
		Transferred: 60,
		Outcome:     types.OutcomeCompleted,
		FinishedAt:  "2026-10-17T12:00:00Z",
		DurationMs:  1500,
	})
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// subscribe must run before Publish: miniredis delivers pub/sub
// messages synchronously.
func subscribe(mr *miniredis.Miniredis, channel string) <-chan miniredis.PubsubMessage {
	sub := mr.NewSubscriber()
	sub.Subscribe(channel)
	got := make(chan miniredis.PubsubMessage, 1)
	go func() { got <- <-sub.Messages() }()
	return got
}

func TestPublish_Channel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{"default", "", DefaultChannel},
		{"custom", "ops:transfers", "ops:transfers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Channel: tt.channel})
			got := subscribe(mr, tt.want)

			if err := a.Publish(t.Context(), receiptEvent("backup.tar")); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			var msg miniredis.PubsubMessage
			select {
			case msg = <-got:
			case <-time.After(5 * time.Second):
				t.Fatal("no message on channel")
			}
			if msg.Channel != tt.want {
				t.Errorf("channel = %q, want %q", msg.Channel, tt.want)
			}
			var ev adapter.Event
			if err := json.Unmarshal([]byte(msg.Message), &ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.EventType != adapter.EventType {
				t.Errorf("EventType = %q, want %q", ev.EventType, adapter.EventType)
			}
			if ev.Receipt == nil || ev.Receipt.Filename != "backup.tar" || ev.Receipt.Transferred != 60 {
				t.Errorf("receipt = %+v", ev.Receipt)
			}
		})
	}
}

func TestPublish_ListKeepsNewest(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), ListKey: "ferry:recent", ListMax: 2})

	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		if err := a.Publish(t.Context(), receiptEvent(name)); err != nil {
			t.Fatalf("Publish %s: %v", name, err)
		}
	}

	items, err := mr.List("ferry:recent")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	var head adapter.Event
	if err := json.Unmarshal([]byte(items[0]), &head); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if head.Receipt.Filename != "c.bin" {
		t.Errorf("head = %s, want c.bin", head.Receipt.Filename)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		timeout time.Duration
	}{
		{
			name: "retries exhausted",
			cfg:  Config{Retries: 2, Timeout: 100 * time.Millisecond, Backoff: time.Millisecond},
		},
		{
			name:    "context deadline",
			cfg:     Config{Retries: 5, Timeout: 10 * time.Second},
			timeout: 100 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.URL = "redis://127.0.0.1:1"
			a := newAdapter(t, tt.cfg)

			ctx := t.Context()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			if err := a.Publish(ctx, receiptEvent("x")); err == nil {
				t.Fatal("Publish succeeded against a closed port")
			}
		})
	}
}

func TestNew(t *testing.T) {
	for name, cfg := range map[string]Config{
		"empty URL":        {},
		"invalid URL":      {URL: "not-a-redis-url"},
		"negative retries": {URL: "redis://localhost:6379", Retries: -1},
	} {
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: New succeeded", name)
		}
	}

	a := newAdapter(t, Config{URL: "redis://localhost:6379"})
	if a.config.Channel != DefaultChannel || a.config.Timeout != DefaultTimeout || a.config.ListMax != DefaultListMax {
		t.Errorf("defaults not applied: %+v", a.config)
	}
}

func TestPublish_AfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Publish(t.Context(), receiptEvent("x")); err == nil {
		t.Fatal("Publish succeeded after Close")
	}
}
