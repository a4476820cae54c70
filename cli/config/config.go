package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/ferry/archive"
	"github.com/pithecene-io/ferry/journal"
	"github.com/pithecene-io/ferry/server"
	"github.com/pithecene-io/ferry/transfer"
	"github.com/pithecene-io/ferry/wire"
)

// Config represents a ferry.yaml configuration file.
// All values are optional; Default fills what the file omits.
// CLI flags always override config values.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Log     LogConfig     `yaml:"log"`
	Journal JournalConfig `yaml:"journal"`
	Archive ArchiveConfig `yaml:"archive"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// ServerConfig holds `ferry serve` settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	Root           string        `yaml:"root"`
	MaxConns       int           `yaml:"max_conns"`
	ChunkSize      int           `yaml:"chunk_size"`
	IdleTimeout    Duration      `yaml:"idle_timeout"`
	KeepAlive      Duration      `yaml:"keep_alive"`
	MaxFilenameLen uint32        `yaml:"max_filename_len"`
	MaxFileBytes   uint64        `yaml:"max_file_bytes"`
	MinFreeBytes   uint64        `yaml:"min_free_bytes"`
	Ledger         bool          `yaml:"ledger"`
	Service        ServiceConfig `yaml:"service"`
}

// ServiceConfig names the OS service registered by `ferry service install`.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
}

// ClientConfig holds upload/download settings.
type ClientConfig struct {
	ChunkSize   int      `yaml:"chunk_size"`
	IdleTimeout Duration `yaml:"idle_timeout"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// JournalConfig configures the local receipt journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Sync    bool   `yaml:"sync"`
}

// ArchiveConfig configures the lode receipts dataset and file archive.
type ArchiveConfig struct {
	// Backend is "", "fs" or "s3". Empty disables archiving.
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	// Files copies completed uploads under files/<name>.
	Files bool `yaml:"files"`
}

// AdapterConfig holds notification adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	ListKey string            `yaml:"list_key,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           server.DefaultAddr,
			Root:           ".",
			MaxConns:       1,
			ChunkSize:      transfer.DefaultChunkSize,
			IdleTimeout:    Duration{time.Minute},
			MaxFilenameLen: wire.DefaultLimits().MaxFilenameLen,
			Service: ServiceConfig{
				Name:        "ferry",
				DisplayName: "Ferry file transfer server",
				Description: "Resumable point-to-point file transfer over TCP.",
			},
		},
		Client: ClientConfig{
			ChunkSize:   transfer.DefaultChunkSize,
			IdleTimeout: Duration{time.Minute},
			DialTimeout: Duration{10 * time.Second},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Journal: JournalConfig{
			Path: journal.DefaultPath,
		},
		Archive: ArchiveConfig{
			Dataset: archive.DefaultDataset,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("server.max_conns must be >= 0, got %d", c.Server.MaxConns))
	}
	if c.Server.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("server.chunk_size must be >= 0, got %d", c.Server.ChunkSize))
	}
	if c.Client.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("client.chunk_size must be >= 0, got %d", c.Client.ChunkSize))
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"client.idle_timeout", c.Client.IdleTimeout},
		{"client.dial_timeout", c.Client.DialTimeout},
		{"adapter.timeout", c.Adapter.Timeout},
	} {
		if d.value.Duration < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	switch c.Archive.Backend {
	case "", "fs":
	case "s3":
		if bucket, _ := archive.ParseS3Path(c.Archive.Path); bucket == "" {
			errs = append(errs, errors.New("archive.path must name a bucket for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend must be fs or s3, got %q", c.Archive.Backend))
	}
	if c.Archive.Backend == "fs" && c.Archive.Path == "" {
		errs = append(errs, errors.New("archive.path is required for the fs backend"))
	}

	switch strings.ToLower(c.Adapter.Type) {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for %s", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
