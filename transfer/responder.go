package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/ledger"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/stream"
	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

// ResponderConfig tunes a Responder.
type ResponderConfig struct {
	// Root is the directory holding served files. Empty means the working directory.
	Root string
	// ChunkSize bounds each file read/write. Zero means DefaultChunkSize.
	ChunkSize int
	// IdleTimeout bounds every network operation. Zero disables it.
	IdleTimeout time.Duration
	// Limits bounds the request's mode and filename fields.
	Limits wire.Limits
	// MaxFileBytes rejects uploads declaring more. Zero means unlimited.
	MaxFileBytes uint64
	// MinFreeBytes is kept free on the root filesystem when a space check is set.
	MinFreeBytes uint64
	// Ledger keeps <file>.progress for uploads, fsyncing each chunk first.
	Ledger bool
}

// Responder serves one request per connection.
// A Responder is safe for concurrent use; each connection gets its own Session.
type Responder struct {
	base
	cfg   ResponderConfig
	locks *NameLocks
}

// NewResponder creates a responder.
func NewResponder(cfg ResponderConfig, opts ...Option) *Responder {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	return &Responder{base: newBase(opts), cfg: cfg, locks: NewNameLocks()}
}

// Locks exposes the filename lock set.
func (r *Responder) Locks() *NameLocks { return r.locks }

// Serve handles the request on conn and closes it on every path.
// Failures before the reply close the connection without sending anything.
func (r *Responder) Serve(ctx context.Context, conn io.ReadWriteCloser) (*types.Receipt, error) {
	st := stream.New(conn, stream.Options{IdleTimeout: r.cfg.IdleTimeout})
	defer iox.DiscardClose(st)
	stop := st.Watch(ctx)
	defer stop()

	sess := newSession(types.RoleResponder, peerAddr(conn))
	r.begin(sess)

	return r.conclude(sess, r.serve(ctx, st, sess))
}

func (r *Responder) serve(ctx context.Context, st *stream.Stream, sess *Session) error {
	req, err := wire.NewDecoder(st, r.cfg.Limits).ReadRequest(sess.receivedStep)
	if err != nil {
		return classifyPeer("request", "", err)
	}
	sess.Mode = req.Mode
	sess.Filename = req.Filename
	logger := r.logger.With(sess.Fields())

	path, err := r.resolve(req.Filename)
	if err != nil {
		return newError(ErrProtocol, "request", req.Filename, err)
	}
	if !r.locks.TryLock(req.Filename) {
		r.metrics.IncRejectedBusy()
		return newError(ErrBusy, "lock", req.Filename, errors.New("another transfer holds this file"))
	}
	defer r.locks.Unlock(req.Filename)

	if req.Mode == wire.ModeUpload {
		return r.receiveUpload(ctx, st, sess, logger, path, req.Value)
	}
	return r.sendDownload(st, sess, logger, path, req.Value)
}

func (r *Responder) receiveUpload(ctx context.Context, st *stream.Stream, sess *Session, logger *log.Logger, path string, declared uint64) error {
	name := sess.Filename
	if r.cfg.MaxFileBytes > 0 && declared > r.cfg.MaxFileBytes {
		return newError(ErrRejected, "admit", name,
			fmt.Errorf("declared size %d exceeds limit %d", declared, r.cfg.MaxFileBytes))
	}

	var existing uint64
	switch info, err := os.Stat(path); {
	case err == nil && !info.Mode().IsRegular():
		return storageError("stat", name, errors.New("not a regular file"))
	case err == nil:
		existing = uint64(info.Size())
	case !errors.Is(err, os.ErrNotExist):
		return storageError("stat", name, err)
	}

	agreement, err := Negotiate(wire.ModeUpload, existing, declared)
	if err != nil {
		return newError(ErrProtocol, "negotiate", name, err)
	}
	if err := r.admitSpace(agreement.Remaining()); err != nil {
		return newError(ErrRejected, "admit", name, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return storageError("open", name, err)
	}
	closed := false
	defer func() {
		if !closed {
			iox.DiscardClose(f)
		}
	}()
	// Bytes past the agreed offset are from a different version of the file.
	if existing > agreement.Offset {
		if err := f.Truncate(int64(agreement.Offset)); err != nil {
			return storageError("truncate", name, err)
		}
		logger.Warn("truncated existing copy", map[string]any{"from": existing, "to": agreement.Offset})
	}

	if err := wire.NewEncoder(st).WriteUploadReply(agreement.Offset); err != nil {
		return classifyPeer("reply", name, err)
	}
	if err := sess.agree(agreement); err != nil {
		return err
	}
	logger.Info("offset negotiated", map[string]any{"offset": agreement.Offset, "size": agreement.Size})

	var led *ledger.Ledger
	if r.cfg.Ledger {
		led = ledger.For(path)
	}
	if !agreement.Done() {
		if err := sess.advance(StateStreaming); err != nil {
			return err
		}
		p := &pump{
			st:       st,
			file:     f,
			name:     name,
			buf:      make([]byte, chunkSize(r.cfg.ChunkSize)),
			sess:     sess,
			metrics:  r.metrics,
			syncEach: r.cfg.Ledger,
			after: func(pos uint64) {
				r.record(logger, led, pos)
				r.notify(sess, pos)
			},
		}
		if err := p.receive(agreement.Offset, agreement.Size); err != nil {
			return err
		}
	}

	closed = true
	if err := iox.SyncClose(f); err != nil {
		return storageError("sync", name, err)
	}
	if err := sess.finish(); err != nil {
		return err
	}
	r.clear(logger, led)

	if r.onComplete != nil {
		r.onComplete(ctx, path, sess.Receipt(nil))
	}
	return nil
}

func (r *Responder) sendDownload(st *stream.Stream, sess *Session, logger *log.Logger, path string, local uint64) error {
	name := sess.Filename
	f, err := os.Open(path)
	if err != nil {
		return storageError("open", name, err)
	}
	defer iox.DiscardClose(f)
	info, err := f.Stat()
	if err != nil {
		return storageError("stat", name, err)
	}
	if !info.Mode().IsRegular() {
		return storageError("open", name, errors.New("not a regular file"))
	}

	agreement, err := Negotiate(wire.ModeDownload, uint64(info.Size()), local)
	if err != nil {
		return newError(ErrProtocol, "negotiate", name, err)
	}
	if err := wire.NewEncoder(st).WriteDownloadReply(agreement.Size, agreement.Offset); err != nil {
		return classifyPeer("reply", name, err)
	}
	if err := sess.agree(agreement); err != nil {
		return err
	}
	logger.Info("offset negotiated", map[string]any{"offset": agreement.Offset, "size": agreement.Size})

	if !agreement.Done() {
		if err := sess.advance(StateStreaming); err != nil {
			return err
		}
		p := &pump{
			st:      st,
			file:    f,
			name:    name,
			buf:     make([]byte, chunkSize(r.cfg.ChunkSize)),
			sess:    sess,
			metrics: r.metrics,
			after:   func(pos uint64) { r.notify(sess, pos) },
		}
		if err := p.send(agreement.Offset, agreement.Size); err != nil {
			return err
		}
	}
	return sess.finish()
}

// admitSpace checks the root filesystem can hold need more bytes plus the reserve.
func (r *Responder) admitSpace(need uint64) error {
	if r.space == nil {
		return nil
	}
	free, err := r.space(r.cfg.Root)
	if err != nil {
		return fmt.Errorf("free space: %w", err)
	}
	if free < need || free-need < r.cfg.MinFreeBytes {
		return fmt.Errorf("need %d bytes plus %d reserve, %d free", need, r.cfg.MinFreeBytes, free)
	}
	return nil
}

// resolve maps a wire filename to a path under Root.
// Only plain base names are served; ledger sidecars are never addressable.
func (r *Responder) resolve(name string) (string, error) {
	switch {
	case name == "." || name == "..":
		return "", fmt.Errorf("invalid filename %q", name)
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("filename %q contains a path separator", name)
	case strings.HasSuffix(name, ledger.Suffix) || strings.HasSuffix(name, ledger.Suffix+ledger.TempSuffix):
		return "", fmt.Errorf("filename %q is reserved", name)
	}
	return filepath.Join(r.cfg.Root, name), nil
}

func chunkSize(n int) int {
	if n <= 0 {
		return DefaultChunkSize
	}
	return n
}
