package server

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/pithecene-io/ferry/archive"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/transfer"
	"github.com/pithecene-io/ferry/types"
)

// FreeSpace reports free bytes on the filesystem holding dir.
// It satisfies transfer.SpaceFunc.
func FreeSpace(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

var _ transfer.SpaceFunc = FreeSpace

// ArchiveCompleted copies every finished upload into the archive store
// as a new version of its filename.
// Failures are logged; the upload itself already succeeded.
func ArchiveCompleted(a *archive.Archive, logger *log.Logger) transfer.CompletionFunc {
	if logger == nil {
		logger = log.Nop()
	}
	return func(ctx context.Context, path string, r *types.Receipt) {
		key, err := a.PutFile(context.WithoutCancel(ctx), r.Filename, r.SessionID, path)
		if err != nil {
			logger.Warn("archive copy failed", map[string]any{
				"filename":   r.Filename,
				"session_id": r.SessionID,
				"backend":    a.Backend(),
				"kind":       archive.KindName(err),
				"error":      err.Error(),
			})
			return
		}
		logger.Debug("archived upload", map[string]any{
			"filename": r.Filename,
			"key":      key,
		})
	}
}
