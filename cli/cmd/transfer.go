package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/tui"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/transfer"
	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

// UploadCommand returns the upload command.
func UploadCommand() *cli.Command {
	return transferCommand(wire.ModeUpload, "Push FILE to the server, resuming a partial copy")
}

// DownloadCommand returns the download command.
func DownloadCommand() *cli.Command {
	return transferCommand(wire.ModeDownload, "Pull FILE from the server, appending to a partial local copy")
}

func transferCommand(mode wire.Mode, usage string) *cli.Command {
	return &cli.Command{
		Name:      string(mode),
		Usage:     usage,
		ArgsUsage: "HOST PORT FILE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Bytes per read/write (overrides client.chunk_size)",
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Fail when the connection is idle this long (overrides client.idle_timeout)",
			},
			&cli.DurationFlag{
				Name:  "dial-timeout",
				Usage: "Connection setup timeout (overrides client.dial_timeout)",
			},
			&cli.StringFlag{
				Name:  "remote-name",
				Usage: "Filename announced to the server (default: base name of FILE)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress the completion line",
			},
			TUIFlag,
			NoColorFlag,
		},
		Action: transferAction(mode),
	}
}

// target is the parsed HOST PORT FILE triple.
type target struct {
	addr string
	file string
}

func parseTarget(args cli.Args) (target, error) {
	if args.Len() != 3 {
		return target{}, fmt.Errorf("expected HOST PORT FILE, got %d arguments", args.Len())
	}
	host, port, file := args.Get(0), args.Get(1), args.Get(2)
	if host == "" {
		return target{}, fmt.Errorf("host must not be empty")
	}
	if n, err := strconv.ParseUint(port, 10, 16); err != nil || n == 0 {
		return target{}, fmt.Errorf("invalid port %q", port)
	}
	if file == "" {
		return target{}, fmt.Errorf("file must not be empty")
	}
	return target{addr: net.JoinHostPort(host, port), file: file}, nil
}

func transferAction(mode wire.Mode) cli.ActionFunc {
	return func(c *cli.Context) error {
		tgt, err := parseTarget(c.Args())
		if err != nil {
			return cli.Exit(fmt.Sprintf("%s: %v", mode, err), exitInvalid)
		}

		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		clientCfg := transfer.Config{
			ChunkSize:   cfg.Client.ChunkSize,
			IdleTimeout: cfg.Client.IdleTimeout.Duration,
			DialTimeout: cfg.Client.DialTimeout.Duration,
		}
		if c.IsSet("chunk-size") {
			clientCfg.ChunkSize = c.Int("chunk-size")
		}
		if c.IsSet("idle-timeout") {
			clientCfg.IdleTimeout = c.Duration("idle-timeout")
		}
		if c.IsSet("dial-timeout") {
			clientCfg.DialTimeout = c.Duration("dial-timeout")
		}
		if clientCfg.ChunkSize < 0 {
			return cli.Exit(fmt.Sprintf("%s: chunk size must be >= 0", mode), exitInvalid)
		}

		logger, err := newLogger(c, cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.NewCollector(string(types.RoleInitiator), storageBackend(cfg.Archive))
		out, err := newSinks(ctx, cfg, logger, m)
		if err != nil {
			return err
		}
		defer out.Close(logger)

		job := transfer.Job{Mode: mode, LocalPath: tgt.file, RemoteName: c.String("remote-name")}
		run := func(ctx context.Context, observe transfer.ProgressFunc) (*types.Receipt, error) {
			opts := []transfer.Option{transfer.WithLogger(logger), transfer.WithMetrics(m)}
			if observe != nil {
				opts = append(opts, transfer.WithProgress(observe))
			}
			return transfer.NewInitiator(clientCfg, opts...).Transfer(ctx, tgt.addr, job)
		}

		var receipt *types.Receipt
		if c.Bool("tui") {
			receipt, err = tui.Run(ctx, fmt.Sprintf("%s %s → %s", mode, job.Name(), tgt.addr), run)
		} else {
			receipt, err = run(ctx, nil)
		}
		out.reporter.Report(context.WithoutCancel(ctx), receipt)

		if err != nil {
			return cli.Exit(fmt.Sprintf("%s %s failed: %v", mode, job.Name(), err), exitCode(err))
		}
		if c.Bool("quiet") {
			return nil
		}
		if c.Bool("tui") {
			_, _ = fmt.Fprintln(c.App.Writer, tui.Summary(receipt))
			return nil
		}
		printCompletion(c.App.Writer, receipt, c.Bool("no-color"))
		return nil
	}
}

// printCompletion writes the one-line success summary.
func printCompletion(w io.Writer, r *types.Receipt, noColor bool) {
	ok := color.New(color.FgGreen, color.Bold)
	if noColor {
		ok.DisableColor()
	}
	verb := "sent"
	if r.Mode == string(wire.ModeDownload) {
		verb = "received"
	}
	_, _ = fmt.Fprintf(w, "%s %s %s: %d/%d bytes (resumed at %d, %s %d) in %dms\n",
		ok.Sprint(string(r.Outcome)), r.Mode, r.Filename,
		r.Offset+r.Transferred, r.Size, r.Offset, verb, r.Transferred, r.DurationMs)
}
