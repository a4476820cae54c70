package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/render"
	"github.com/pithecene-io/ferry/journal"
	"github.com/pithecene-io/ferry/types"
)

// receiptFlags are shared by journal list and archive list.
func receiptFlags() []cli.Flag {
	return append(ReadOnlyFlags(),
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Show only the last N receipts (0 shows all)",
		},
		&cli.BoolFlag{
			Name:  "failed",
			Usage: "Show only aborted attempts",
		},
	)
}

// JournalCommand returns the journal command group.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Read the local receipt journal",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List receipts in the journal",
				Flags: append(receiptFlags(), &cli.StringFlag{
					Name:  "path",
					Usage: "Journal file (overrides journal.path)",
				}),
				Action: journalListAction,
			},
		},
	}
}

func journalListAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalid)
	}

	path := c.String("path")
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		path = cfg.Journal.Path
	}

	j, err := journal.Open(path, false)
	if err != nil {
		return cli.Exit(fmt.Sprintf("journal list: %v", err), exitStorage)
	}
	receipts, err := j.ReadAll()
	switch {
	case errors.Is(err, journal.ErrPartialFrame):
		_, _ = fmt.Fprintf(c.App.ErrWriter, "warning: %s ends with a torn frame; showing %d complete receipts\n", path, len(receipts))
	case err != nil:
		return cli.Exit(fmt.Sprintf("journal list: %v", err), exitStorage)
	}
	return renderReceipts(r, filterReceipts(receipts, c.Int("limit"), c.Bool("failed")))
}

// ArchiveCommand returns the archive command group.
func ArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Read the receipts dataset in the configured archive",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List archived receipts",
				Flags:  receiptFlags(),
				Action: archiveListAction,
			},
		},
	}
}

func archiveListAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalid)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	a, err := openArchive(c.Context, cfg.Archive)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive list: %v", err), exitStorage)
	}
	if a == nil {
		return cli.Exit("archive list: no archive.backend configured", exitInvalid)
	}
	receipts, err := a.Receipts(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive list: %v", err), exitStorage)
	}
	return renderReceipts(r, filterReceipts(receipts, c.Int("limit"), c.Bool("failed")))
}

func filterReceipts(in []*types.Receipt, limit int, failedOnly bool) []*types.Receipt {
	out := make([]*types.Receipt, 0, len(in))
	for _, r := range in {
		if failedOnly && r.Completed() {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// receiptRow is the table view of a receipt.
type receiptRow struct {
	Session     string `json:"session"`
	Role        string `json:"role"`
	Mode        string `json:"mode"`
	Filename    string `json:"filename"`
	Offset      uint64 `json:"offset"`
	Transferred uint64 `json:"transferred"`
	Size        uint64 `json:"size"`
	Outcome     string `json:"outcome"`
	Finished    string `json:"finished"`
}

// renderReceipts prints full receipts for json/yaml and a compact table otherwise.
func renderReceipts(r *render.Renderer, receipts []*types.Receipt) error {
	if r.Format() != render.FormatTable {
		return r.Render(receipts)
	}
	rows := make([]receiptRow, len(receipts))
	for i, rec := range receipts {
		id := rec.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		outcome := string(rec.Outcome)
		if rec.ErrorKind != "" {
			outcome += " (" + rec.ErrorKind + ")"
		}
		rows[i] = receiptRow{
			Session:     id,
			Role:        string(rec.Role),
			Mode:        rec.Mode,
			Filename:    rec.Filename,
			Offset:      rec.Offset,
			Transferred: rec.Transferred,
			Size:        rec.Size,
			Outcome:     outcome,
			Finished:    rec.FinishedAt,
		}
	}
	return r.Render(rows)
}
