// Package iox provides I/O helpers for resource cleanup and durable writes.
package iox

import (
	"errors"
	"io"
	"os"
	"runtime"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(ln))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// SyncClose flushes f to stable storage and closes it.
// The close error is reported only when the sync succeeded.
func SyncClose(f *os.File) error {
	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// SyncDir forces directory metadata (renames, creates) to stable storage.
// Directories cannot be opened for sync on Windows; there it is a no-op.
func SyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	// Some filesystems reject fsync on directories.
	if errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}
