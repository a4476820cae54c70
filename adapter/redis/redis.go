// Package redis publishes transfer receipts to a Redis channel, and
// optionally to a capped list for consumers that were offline.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/ferry/adapter"
)

const (
	DefaultChannel = "ferry:transfer_finished"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
	DefaultListMax = 1000
)

// Config configures the Redis adapter. URL takes the
// redis://[:password@]host:port[/db] form.
type Config struct {
	URL     string
	Channel string
	// ListKey, when set, keeps the newest ListMax events in a list.
	ListKey string
	ListMax int64
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ListMax <= 0 {
		c.ListMax = DefaultListMax
	}
}

// Adapter publishes receipts over a single go-redis client.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New parses cfg.URL and builds an adapter. It does not dial.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	cfg.applyDefaults()
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish sends event to the channel. With a list key, the push, trim
// and publish run in one MULTI block.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "redis", a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.send(ctx, payload)
	})
}

func (a *Adapter) send(ctx context.Context, payload []byte) error {
	cfg := a.config
	if cfg.ListKey == "" {
		return a.client.Publish(ctx, cfg.Channel, payload).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(tx goredis.Pipeliner) error {
		tx.LPush(ctx, cfg.ListKey, payload)
		tx.LTrim(ctx, cfg.ListKey, 0, cfg.ListMax-1)
		tx.Publish(ctx, cfg.Channel, payload)
		return nil
	})
	return err
}

// Close closes the client's connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
