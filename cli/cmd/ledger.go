package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/render"
	"github.com/pithecene-io/ferry/ledger"
)

// LedgerCommand returns the ledger command group.
func LedgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Inspect progress ledgers",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show the recorded progress for FILE and how it compares to FILE on disk",
				ArgsUsage: "FILE",
				Flags:     ReadOnlyFlags(),
				Action:    ledgerShowAction,
			},
		},
	}
}

func ledgerShowAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	if c.Args().Len() != 1 {
		return cli.Exit("ledger show: expected FILE", exitInvalid)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalid)
	}

	entry, err := ledger.For(c.Args().First()).Inspect()
	if err != nil {
		return cli.Exit(fmt.Sprintf("ledger show: %v", err), exitStorage)
	}
	return r.Render(entry)
}
