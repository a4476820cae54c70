package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/config"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/server"
	"github.com/pithecene-io/ferry/transfer"
	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept uploads and downloads until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr, default :9000)",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Directory holding served files (overrides server.root)",
			},
			&cli.IntFlag{
				Name:  "max-conns",
				Usage: "Concurrent connections; 1 serves sequentially (overrides server.max_conns)",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Bytes per read/write (overrides server.chunk_size)",
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Drop connections idle this long (overrides server.idle_timeout)",
			},
			&cli.BoolFlag{
				Name:  "ledger",
				Usage: "Keep <file>.progress for uploads (overrides server.ledger)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("root") {
		cfg.Server.Root = c.String("root")
	}
	if c.IsSet("max-conns") {
		cfg.Server.MaxConns = c.Int("max-conns")
	}
	if c.IsSet("chunk-size") {
		cfg.Server.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("idle-timeout") {
		cfg.Server.IdleTimeout = config.Duration{Duration: c.Duration("idle-timeout")}
	}
	if c.IsSet("ledger") {
		cfg.Server.Ledger = c.Bool("ledger")
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid flags: %v", err), exitInvalid)
	}

	logger, err := newLogger(c, cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServer(ctx, cfg, logger)
}

// runServer serves until ctx ends. It backs both `serve` and `service run`.
func runServer(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if err := checkRoot(cfg.Server.Root); err != nil {
		return cli.Exit(err.Error(), exitInvalid)
	}

	m := metrics.NewCollector(string(types.RoleResponder), storageBackend(cfg.Archive))
	out, err := newSinks(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer out.Close(logger)

	srv := newServer(cfg, out, logger, m)
	if err := srv.ListenAndServe(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return cli.Exit(err.Error(), exitConnection)
	}
	return nil
}

// newServer wires a responder and its hooks into a server.
func newServer(cfg *config.Config, out *sinks, logger *log.Logger, m *metrics.Collector) *server.Server {
	opts := []transfer.Option{
		transfer.WithLogger(logger),
		transfer.WithMetrics(m),
		transfer.WithSpaceCheck(server.FreeSpace),
	}
	if cfg.Archive.Files && out.archive != nil {
		opts = append(opts, transfer.WithCompletion(server.ArchiveCompleted(out.archive, logger)))
	}

	limits := wire.DefaultLimits()
	if cfg.Server.MaxFilenameLen > 0 {
		limits.MaxFilenameLen = cfg.Server.MaxFilenameLen
	}
	responder := transfer.NewResponder(transfer.ResponderConfig{
		Root:         cfg.Server.Root,
		ChunkSize:    cfg.Server.ChunkSize,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		Limits:       limits,
		MaxFileBytes: cfg.Server.MaxFileBytes,
		MinFreeBytes: cfg.Server.MinFreeBytes,
		Ledger:       cfg.Server.Ledger,
	}, opts...)

	return server.New(server.Config{
		Addr:      cfg.Server.Addr,
		MaxConns:  cfg.Server.MaxConns,
		KeepAlive: cfg.Server.KeepAlive.Duration,
	}, responder, out.reporter, logger, m)
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("server root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server root %s is not a directory", root)
	}
	return nil
}
