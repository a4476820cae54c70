// Package ledger maintains the progress sidecar kept next to a file under transfer.
//
// The sidecar <target>.progress holds the number of bytes a driver believes it
// has durably moved, as a decimal integer followed by a newline. Every record
// is a full rewrite to <target>.progress.tmp, fsync, then rename into place, so
// a reader observes either the previous value or the new one.
//
// The target file's own length remains the authoritative resume point.
// The ledger is a recovery hint and diagnostic artifact.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/ferry/iox"
)

// Sidecar naming.
const (
	Suffix     = ".progress"
	TempSuffix = ".tmp"
)

var (
	// ErrNoEntry is returned by Load when no sidecar exists.
	ErrNoEntry = errors.New("no progress entry")
	// ErrCorrupt is returned by Load when the sidecar does not hold a decimal count.
	ErrCorrupt = errors.New("corrupt progress entry")
)

// Ledger is the progress record for one target file.
// One driver owns a Ledger for the duration of a transfer attempt; it is not locked.
type Ledger struct {
	target string
	path   string
}

// For returns the ledger for target. Nothing is touched on disk.
func For(target string) *Ledger {
	return &Ledger{target: target, path: target + Suffix}
}

// Path is the sidecar location.
func (l *Ledger) Path() string { return l.path }

// Target is the file the ledger describes.
func (l *Ledger) Target() string { return l.target }

func (l *Ledger) tempPath() string { return l.path + TempSuffix }

// Record durably replaces the entry with n.
func (l *Ledger) Record(n uint64) error {
	tmp := l.tempPath()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger temp: %w", err)
	}
	if _, err := f.WriteString(strconv.FormatUint(n, 10) + "\n"); err != nil {
		iox.DiscardClose(f)
		return fmt.Errorf("write ledger temp: %w", err)
	}
	if err := iox.SyncClose(f); err != nil {
		return fmt.Errorf("sync ledger temp: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	// The rename is durable once the directory entry is.
	if err := iox.SyncDir(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("sync ledger dir: %w", err)
	}
	return nil
}

// Clear removes the entry and any leftover temp file. A missing entry is not an error.
func (l *Ledger) Clear() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear ledger: %w", err)
	}
	if err := os.Remove(l.tempPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear ledger temp: %w", err)
	}
	return nil
}

// Load returns the recorded byte count. The temp file is never consulted.
func (l *Ledger) Load() (uint64, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoEntry
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	text := strings.TrimSpace(string(data))
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCorrupt, text)
	}
	return n, nil
}

// Entry is a point-in-time view of a ledger and its target.
type Entry struct {
	Target       string `json:"target" yaml:"target"`
	Path         string `json:"path" yaml:"path"`
	Present      bool   `json:"present" yaml:"present"`
	Bytes        uint64 `json:"bytes" yaml:"bytes"`
	Corrupt      bool   `json:"corrupt,omitempty" yaml:"corrupt,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	TargetExists bool   `json:"target_exists" yaml:"target_exists"`
	TargetSize   uint64 `json:"target_size" yaml:"target_size"`
	StaleTemp    bool   `json:"stale_temp,omitempty" yaml:"stale_temp,omitempty"`
}

// Consistent reports whether the recorded count matches the target length.
func (e *Entry) Consistent() bool {
	return !e.Present || (e.TargetExists && e.Bytes == e.TargetSize)
}

// Inspect gathers the ledger and target state without modifying either.
func (l *Ledger) Inspect() (*Entry, error) {
	e := &Entry{Target: l.target, Path: l.path}

	n, err := l.Load()
	switch {
	case err == nil:
		e.Present = true
		e.Bytes = n
	case errors.Is(err, ErrCorrupt):
		e.Present = true
		e.Corrupt = true
	case !errors.Is(err, ErrNoEntry):
		return nil, err
	}
	if e.Present {
		if info, err := os.Stat(l.path); err == nil {
			e.UpdatedAt = info.ModTime().UTC().Format(time.RFC3339)
		}
	}

	info, err := os.Stat(l.target)
	switch {
	case err == nil:
		e.TargetExists = true
		e.TargetSize = uint64(info.Size())
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat target: %w", err)
	}

	if _, err := os.Stat(l.tempPath()); err == nil {
		e.StaleTemp = true
	}
	return e, nil
}
