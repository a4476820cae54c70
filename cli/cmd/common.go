package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/adapter/redis"
	"github.com/pithecene-io/ferry/adapter/webhook"
	"github.com/pithecene-io/ferry/archive"
	"github.com/pithecene-io/ferry/cli/config"
	"github.com/pithecene-io/ferry/journal"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/report"
	"github.com/pithecene-io/ferry/transfer"
)

// Process exit codes for upload and download.
const (
	exitSuccess    = 0
	exitConnection = 1
	exitInvalid    = 2
	exitProtocol   = 3
	exitStorage    = 4
)

// exitCode maps a transfer failure to the process exit code.
// Busy, rejected and canceled transfers look like dropped connections to the client.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, transfer.ErrInvalidInvocation):
		return exitInvalid
	case errors.Is(err, transfer.ErrProtocol):
		return exitProtocol
	case errors.Is(err, transfer.ErrStorage):
		return exitStorage
	default:
		return exitConnection
	}
}

// loadConfig reads --config and --env-file and validates the result.
// Problems are invalid invocations.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitInvalid)
	}
	return cfg, nil
}

// newLogger builds the process logger. Diagnostics go to the app's error writer.
func newLogger(c *cli.Context, cfg config.LogConfig) (*log.Logger, error) {
	logger, err := log.New(log.Options{
		Level:      cfg.Level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Output:     c.App.ErrWriter,
	})
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid log config: %v", err), exitInvalid)
	}
	return logger, nil
}

// storageBackend labels metrics with the archive backend in use.
func storageBackend(cfg config.ArchiveConfig) string {
	if cfg.Backend == "" {
		return "none"
	}
	return cfg.Backend
}

// openArchive opens the configured archive. A nil archive means archiving is off.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (*archive.Archive, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "fs":
		return archive.NewFS(cfg.Dataset, cfg.Path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(cfg.Path)
		return archive.NewS3(ctx, cfg.Dataset, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// newAdapter builds the configured notification adapter. A nil adapter means none.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			ListKey: cfg.ListKey,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// sinks is everything a command needs to deliver receipts.
type sinks struct {
	archive  *archive.Archive
	reporter *report.Reporter
}

// newSinks opens the journal, archive and adapter named by cfg and
// fans them into one reporter. Setup failures are storage failures.
func newSinks(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Collector) (*sinks, error) {
	var opts []report.Option

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.Sync)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("cannot open journal: %v", err), exitStorage)
		}
		opts = append(opts, report.WithJournal(j))
	}

	a, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("cannot open archive: %v", err), exitStorage)
	}
	if a != nil {
		opts = append(opts, report.WithArchive(a))
	}

	ad, err := newAdapter(cfg.Adapter)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("cannot create adapter: %v", err), exitInvalid)
	}
	if ad != nil {
		opts = append(opts, report.WithAdapter(strings.ToLower(cfg.Adapter.Type), ad))
	}

	r := report.New(logger, m, opts...)
	if names := r.Sinks(); len(names) > 0 {
		logger.Debug("receipt sinks ready", map[string]any{"sinks": names})
	}
	return &sinks{archive: a, reporter: r}, nil
}

// Close releases adapter connections.
func (s *sinks) Close(logger *log.Logger) {
	if err := s.reporter.Close(); err != nil {
		logger.Warn("closing receipt sinks failed", map[string]any{"error": err.Error()})
	}
}
