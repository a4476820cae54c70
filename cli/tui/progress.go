package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/ferry/transfer"
	"github.com/pithecene-io/ferry/types"
)

// progressMsg carries one committed chunk.
type progressMsg transfer.Progress

// doneMsg ends the view with the transfer's result.
type doneMsg struct {
	receipt *types.Receipt
	err     error
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}

// ProgressModel is a Bubble Tea model for a single transfer.
type ProgressModel struct {
	title    string
	bar      progress.Model
	cancel   context.CancelFunc
	last     transfer.Progress
	seen     bool
	receipt  *types.Receipt
	err      error
	done     bool
	quitting bool
}

// NewProgressModel creates a model. cancel runs when the user quits.
func NewProgressModel(title string, cancel context.CancelFunc) ProgressModel {
	return ProgressModel{
		title:  title,
		bar:    progress.New(progress.WithDefaultGradient()),
		cancel: cancel,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-8, 10)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			// The transfer goroutine reports back with a doneMsg.
			return m, nil
		}

	case progressMsg:
		m.last = transfer.Progress(msg)
		m.seen = true
		return m, nil

	case doneMsg:
		m.receipt = msg.receipt
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

// Percent returns the fraction of the file present on the receiving side.
func (m ProgressModel) Percent() float64 {
	if !m.seen {
		return 0
	}
	if m.last.Size == 0 {
		return 1
	}
	return float64(m.last.Position) / float64(m.last.Size)
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString("\n")
	if m.seen {
		fmt.Fprintf(&b, "%s%d / %d bytes (resumed at %d)\n",
			LabelStyle.Render("progress"), m.last.Position, m.last.Size, m.last.Offset)
	}
	switch {
	case m.done && m.err != nil:
		b.WriteString(OutcomeStyle(types.OutcomeAborted).Render("failed: " + m.err.Error()))
	case m.done:
		b.WriteString(OutcomeStyle(types.OutcomeCompleted).Render("completed"))
	case m.quitting:
		b.WriteString(HelpStyle.Render("canceling..."))
	default:
		b.WriteString(HelpStyle.Render(keys.Quit.Help().Key + ": " + keys.Quit.Help().Desc))
	}
	b.WriteString("\n")
	return b.String()
}

// Result returns what the transfer produced once the view ended.
func (m ProgressModel) Result() (*types.Receipt, error) {
	return m.receipt, m.err
}

// Work runs one transfer, reporting each chunk to the given observer.
type Work func(ctx context.Context, observe transfer.ProgressFunc) (*types.Receipt, error)

// Run shows a progress bar while work runs and returns its result.
// The result is returned even when the view itself fails.
func Run(ctx context.Context, title string, work Work) (*types.Receipt, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(title, cancel), tea.WithContext(ctx))
	results := make(chan doneMsg, 1)
	go func() {
		r, err := work(workCtx, func(pr transfer.Progress) { p.Send(progressMsg(pr)) })
		results <- doneMsg{receipt: r, err: err}
		p.Send(doneMsg{receipt: r, err: err})
	}()

	if _, err := p.Run(); err != nil {
		// Killed or broken terminal: stop the transfer and wait for it.
		cancel()
	}
	res := <-results
	return res.receipt, res.err
}

// Summary renders a finished receipt as a static box.
func Summary(r *types.Receipt) string {
	rows := [][2]string{
		{"mode", r.Mode},
		{"file", r.Filename},
		{"resumed at", fmt.Sprint(r.Offset)},
		{"transferred", fmt.Sprint(r.Transferred)},
		{"size", fmt.Sprint(r.Size)},
		{"duration", fmt.Sprintf("%dms", r.DurationMs)},
	}
	var b strings.Builder
	b.WriteString(OutcomeStyle(r.Outcome).Render(string(r.Outcome)))
	for _, row := range rows {
		b.WriteString("\n" + LabelStyle.Render(row[0]) + row[1])
	}
	return BoxStyle.Render(b.String())
}
