// Package cmd provides CLI commands for the ferry binary.
package cmd

import "github.com/urfave/cli/v2"

// Global flags, set before the command name.
var (
	// ConfigFlag points at a ferry.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to ferry.yaml",
		EnvVars: []string{"FERRY_CONFIG"},
	}

	// EnvFileFlag loads a .env file before the config is expanded.
	EnvFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "Load environment variables from `FILE` before reading the config",
	}
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag shows a live progress bar.
	// Only upload and download support it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show an interactive progress bar (upload, download only)",
	}
)

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, EnvFileFlag}
}

// ReadOnlyFlags returns the shared flags for inspection commands.
// Includes --tui so that those commands can reject it explicitly
// instead of failing with "flag provided but not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// rejectTUI fails commands that have no interactive view.
func rejectTUI(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for "+c.Command.FullName(), exitInvalid)
	}
	return nil
}
