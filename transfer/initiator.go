package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/ledger"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/stream"
	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

// Config tunes an Initiator.
type Config struct {
	// ChunkSize bounds each file read/write. Zero means DefaultChunkSize.
	ChunkSize int
	// IdleTimeout bounds every network operation. Zero disables it.
	IdleTimeout time.Duration
	// DialTimeout bounds connection setup in Transfer. Zero disables it.
	DialTimeout time.Duration
}

func (c Config) chunkSize() int {
	return chunkSize(c.ChunkSize)
}

// Job names one file transfer.
type Job struct {
	Mode wire.Mode
	// LocalPath is the file read (upload) or appended to (download).
	LocalPath string
	// RemoteName is the name announced to the responder.
	// Empty means the base name of LocalPath.
	RemoteName string
}

// Name is the filename sent on the wire.
func (j Job) Name() string {
	if j.RemoteName != "" {
		return j.RemoteName
	}
	return filepath.Base(j.LocalPath)
}

// Validate rejects jobs that cannot be attempted.
func (j Job) Validate() error {
	if _, err := wire.ParseMode(string(j.Mode)); err != nil {
		return newError(ErrInvalidInvocation, "validate", "", err)
	}
	if j.LocalPath == "" {
		return newError(ErrInvalidInvocation, "validate", "", errors.New("local path is required"))
	}
	name := j.Name()
	if err := wire.CheckName(name); err != nil {
		return newError(ErrInvalidInvocation, "validate", name, err)
	}
	if len(name) > wire.DefaultMaxFilenameLen {
		return newError(ErrInvalidInvocation, "validate", "",
			fmt.Errorf("filename length %d exceeds maximum %d", len(name), wire.DefaultMaxFilenameLen))
	}
	return nil
}

// Initiator drives the client side of a transfer.
type Initiator struct {
	base
	cfg Config
}

// NewInitiator creates an initiator.
func NewInitiator(cfg Config, opts ...Option) *Initiator {
	return &Initiator{base: newBase(opts), cfg: cfg}
}

// Transfer dials addr and runs job over the new connection.
// The receipt is nil when no connection was established.
func (i *Initiator) Transfer(ctx context.Context, addr string, job Job) (*types.Receipt, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	dialCtx := ctx
	if i.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, i.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := i.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, newError(ErrConnection, "dial", job.Name(), err)
	}
	return i.Run(ctx, conn, job)
}

// Run executes job over an established connection and closes it.
func (i *Initiator) Run(ctx context.Context, conn io.ReadWriteCloser, job Job) (*types.Receipt, error) {
	if err := job.Validate(); err != nil {
		iox.DiscardClose(conn)
		return nil, err
	}
	if job.Mode == wire.ModeUpload {
		return i.Upload(ctx, conn, job)
	}
	return i.Download(ctx, conn, job)
}

// Upload pushes job.LocalPath to the responder, resuming at the offset it agrees to.
// The local ledger is written after every chunk and is diagnostic only.
func (i *Initiator) Upload(ctx context.Context, conn io.ReadWriteCloser, job Job) (*types.Receipt, error) {
	job.Mode = wire.ModeUpload
	return i.drive(ctx, conn, job, i.upload)
}

// Download pulls the remote file into job.LocalPath, appending after the
// bytes already present locally.
func (i *Initiator) Download(ctx context.Context, conn io.ReadWriteCloser, job Job) (*types.Receipt, error) {
	job.Mode = wire.ModeDownload
	return i.drive(ctx, conn, job, i.download)
}

type driveFunc func(st *stream.Stream, sess *Session, logger *log.Logger, job Job) error

func (i *Initiator) drive(ctx context.Context, conn io.ReadWriteCloser, job Job, fn driveFunc) (*types.Receipt, error) {
	st := stream.New(conn, stream.Options{IdleTimeout: i.cfg.IdleTimeout})
	defer iox.DiscardClose(st)
	stop := st.Watch(ctx)
	defer stop()

	sess := newSession(types.RoleInitiator, peerAddr(conn))
	sess.Mode = job.Mode
	sess.Filename = job.Name()
	logger := i.begin(sess)
	logger.Debug("transfer started", map[string]any{"local_path": job.LocalPath})

	return i.conclude(sess, fn(st, sess, logger, job))
}

func (i *Initiator) upload(st *stream.Stream, sess *Session, logger *log.Logger, job Job) error {
	f, err := os.Open(job.LocalPath)
	if err != nil {
		return storageError("open", job.LocalPath, err)
	}
	defer iox.DiscardClose(f)
	info, err := f.Stat()
	if err != nil {
		return storageError("stat", job.LocalPath, err)
	}
	if !info.Mode().IsRegular() {
		return storageError("open", job.LocalPath, errors.New("not a regular file"))
	}
	size := uint64(info.Size())

	req := &wire.Request{Mode: wire.ModeUpload, Filename: sess.Filename, Value: size}
	if err := wire.NewEncoder(st).WriteRequest(req, sess.sentStep); err != nil {
		return classifyPeer("request", sess.Filename, err)
	}
	agreed, err := wire.NewDecoder(st, wire.Limits{}).ReadUploadReply(size)
	if err != nil {
		return classifyPeer("negotiate", sess.Filename, err)
	}
	if err := sess.agree(Agreement{Offset: agreed, Size: size}); err != nil {
		return err
	}
	logger.Info("offset negotiated", map[string]any{"offset": agreed, "size": size})

	led := ledger.For(job.LocalPath)
	if agreed < size {
		if err := sess.advance(StateStreaming); err != nil {
			return err
		}
		p := &pump{
			st:      st,
			file:    f,
			name:    job.LocalPath,
			buf:     make([]byte, i.cfg.chunkSize()),
			sess:    sess,
			metrics: i.metrics,
			after: func(pos uint64) {
				i.record(logger, led, pos)
				i.notify(sess, pos)
			},
		}
		if err := p.send(agreed, size); err != nil {
			return err
		}
	}
	if err := sess.finish(); err != nil {
		return err
	}
	i.clear(logger, led)
	return nil
}

func (i *Initiator) download(st *stream.Stream, sess *Session, logger *log.Logger, job Job) (err error) {
	path := job.LocalPath
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return storageError("open", path, err)
	}
	closed := false
	defer func() {
		if !closed {
			iox.DiscardClose(f)
		}
		// Do not leave behind an empty file this attempt created.
		if err != nil && created && sess.Transferred == 0 {
			_ = os.Remove(path)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return storageError("stat", path, err)
	}
	local := uint64(info.Size())

	led := ledger.For(path)
	if recorded, lerr := led.Load(); lerr == nil && recorded != local {
		logger.Warn("ledger disagrees with file length", map[string]any{"ledger": recorded, "local": local})
	}

	req := &wire.Request{Mode: wire.ModeDownload, Filename: sess.Filename, Value: local}
	if err := wire.NewEncoder(st).WriteRequest(req, sess.sentStep); err != nil {
		return classifyPeer("request", sess.Filename, err)
	}
	size, offset, err := wire.NewDecoder(st, wire.Limits{}).ReadDownloadReply()
	if err != nil {
		return classifyPeer("negotiate", sess.Filename, err)
	}
	if want := min(local, size); offset != want {
		return newError(ErrProtocol, "negotiate", sess.Filename,
			fmt.Errorf("server offset %d, expected %d", offset, want))
	}
	if err := sess.agree(Agreement{Offset: offset, Size: size}); err != nil {
		return err
	}
	logger.Info("offset negotiated", map[string]any{"offset": offset, "size": size, "local": local})

	if local > size {
		return storageError("negotiate", path,
			fmt.Errorf("local copy has %d bytes, remote file has %d", local, size))
	}

	if offset < size {
		if err := sess.advance(StateStreaming); err != nil {
			return err
		}
		p := &pump{
			st:       st,
			file:     f,
			name:     path,
			buf:      make([]byte, i.cfg.chunkSize()),
			sess:     sess,
			metrics:  i.metrics,
			syncEach: true,
			after: func(pos uint64) {
				i.record(logger, led, pos)
				i.notify(sess, pos)
			},
		}
		if err := p.receive(offset, size); err != nil {
			return err
		}
	}

	closed = true
	if err := iox.SyncClose(f); err != nil {
		return storageError("sync", path, err)
	}
	if err := sess.finish(); err != nil {
		return err
	}
	i.clear(logger, led)
	return nil
}
