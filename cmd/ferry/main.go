// Package main provides the ferry CLI entrypoint.
//
// Usage:
//
//	ferry [--config ferry.yaml] <command> [options] [args]
//
// Exit codes for upload and download:
//   - 0: transfer completed
//   - 1: connection failure (refused, reset, timed out, canceled)
//   - 2: invalid invocation
//   - 3: protocol violation by the peer
//   - 4: local storage failure
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/cmd"
	"github.com/pithecene-io/ferry/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:           "ferry",
		Usage:          "Resumable point-to-point file transfer over TCP",
		Version:        fmt.Sprintf("%s (protocol: %s, commit: %s)", types.Version, types.ProtocolName, commit),
		Flags:          cmd.GlobalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.UploadCommand(),
			cmd.DownloadCommand(),
			cmd.ServeCommand(),
			cmd.LedgerCommand(),
			cmd.JournalCommand(),
			cmd.ArchiveCommand(),
			cmd.ServiceCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code := reportExit(os.Stderr, err)
	os.Exit(code)
}

// reportExit prints err to w and returns the exit code to use.
// cli.Exit("", N) prints nothing.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			_, _ = fmt.Fprintln(w, msg)
		}
		return code
	}

	// Usage errors from flag parsing land here.
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
