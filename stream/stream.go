// Package stream provides the guaranteed-delivery byte-stream primitive used
// by both transfer roles.
//
// A Stream either moves an entire buffer, across as many partial underlying
// operations as it takes, or reports a failure after which no assumption about
// delivered bytes may be made. Interruptions (EINTR) and would-block
// conditions (EAGAIN) are retried internally with a short, bounded backoff.
// End of stream is reported as ErrPeerClosed, never as a transient condition.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

// Defaults for Options.
const (
	DefaultRetryBackoff = time.Millisecond
	DefaultMaxRetries   = 64
	maxBackoffShift     = 5
)

// ErrPeerClosed is matched (errors.Is) by reads that hit end of stream
// before the requested length was satisfied.
var ErrPeerClosed = errors.New("peer closed the stream")

// ErrRetriesExhausted is returned when transient conditions persist past MaxRetries.
var ErrRetriesExhausted = errors.New("transient I/O retries exhausted")

// Options configures a Stream.
type Options struct {
	// IdleTimeout bounds every underlying read or write. Zero disables deadlines.
	// Only applies when the underlying transport supports deadlines.
	IdleTimeout time.Duration
	// RetryBackoff is the first sleep before retrying a transient condition.
	// Later retries double it, capped at 32x.
	RetryBackoff time.Duration
	// MaxRetries bounds consecutive transient retries without progress.
	MaxRetries int
}

func (o Options) normalize() Options {
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

// deadliner is implemented by net.Conn and os.File.
type deadliner interface {
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// ShortReadError reports a stream that ended before a full buffer arrived.
type ShortReadError struct {
	Got  int
	Want int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("%v after %d of %d bytes", ErrPeerClosed, e.Got, e.Want)
}

// Is matches ErrPeerClosed.
func (e *ShortReadError) Is(target error) bool {
	return target == ErrPeerClosed
}

// Stream wraps a transport with full-length read/write semantics.
// A Stream is owned by a single driver; it is not safe for concurrent use
// except for Close, which may be called from any goroutine.
type Stream struct {
	rw   io.ReadWriter
	dl   deadliner
	opts Options
	ctx  context.Context

	sleep func(time.Duration)

	closeOnce sync.Once
	closeErr  error
}

// New wraps rw. Deadlines are used when rw implements them.
func New(rw io.ReadWriter, opts Options) *Stream {
	s := &Stream{
		rw:    rw,
		opts:  opts.normalize(),
		sleep: time.Sleep,
	}
	if dl, ok := rw.(deadliner); ok {
		s.dl = dl
	}
	return s
}

// Watch binds the stream to ctx: once ctx is done, pending and future I/O
// fail with the context's error. The returned function detaches the watch.
func (s *Stream) Watch(ctx context.Context) (stop func() bool) {
	s.ctx = ctx
	if s.dl == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		// A deadline in the past unblocks any in-flight operation.
		_ = s.dl.SetDeadline(time.Unix(1, 0))
	})
}

// Read performs one underlying read, retrying transient conditions.
// It returns io.EOF at end of stream, per the io.Reader contract.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	retries := 0
	for {
		if err := s.arm(true); err != nil {
			return 0, err
		}
		n, err := s.rw.Read(p)
		if n > 0 {
			return n, nil
		}
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if err != nil && !isTransient(err) {
			return 0, s.fail("read", err)
		}
		// Transient condition or an empty read without error.
		if retries >= s.opts.MaxRetries {
			return 0, fmt.Errorf("read: %w", ErrRetriesExhausted)
		}
		retries++
		s.backoff(retries)
	}
}

// ReadFull fills p completely or fails.
// End of stream before len(p) bytes is a *ShortReadError matching ErrPeerClosed.
func (s *Stream) ReadFull(p []byte) error {
	n, err := io.ReadFull(s, p)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ShortReadError{Got: n, Want: len(p)}
	}
	return err
}

// Write delivers all of p or fails. It satisfies io.Writer with full-write semantics.
func (s *Stream) Write(p []byte) (int, error) {
	written := 0
	retries := 0
	for written < len(p) {
		if err := s.arm(false); err != nil {
			return written, err
		}
		n, err := s.rw.Write(p[written:])
		written += n
		if n > 0 {
			retries = 0
		}
		if err == nil && n > 0 {
			continue
		}
		if err != nil && !isTransient(err) {
			return written, s.fail("write", err)
		}
		if retries >= s.opts.MaxRetries {
			return written, fmt.Errorf("write: %w", ErrRetriesExhausted)
		}
		retries++
		s.backoff(retries)
	}
	return written, nil
}

// WriteFull delivers all of p or fails.
func (s *Stream) WriteFull(p []byte) error {
	_, err := s.Write(p)
	return err
}

// Close closes the underlying transport exactly once. Later calls return the first result.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if c, ok := s.rw.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}

// arm refreshes the idle deadline and observes cancellation.
// The context is checked after the deadline is set so a concurrent
// cancellation always wins over the refreshed deadline.
func (s *Stream) arm(read bool) error {
	if s.dl != nil && s.opts.IdleTimeout > 0 {
		deadline := time.Now().Add(s.opts.IdleTimeout)
		var err error
		if read {
			err = s.dl.SetReadDeadline(deadline)
		} else {
			err = s.dl.SetWriteDeadline(deadline)
		}
		if err != nil {
			return s.fail("set deadline", err)
		}
	}
	if s.ctx != nil {
		if err := s.ctx.Err(); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
	}
	return nil
}

func (s *Stream) fail(op string, err error) error {
	if s.ctx != nil && s.ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, s.ctx.Err())
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: idle for %s: %w", op, s.opts.IdleTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Stream) backoff(retries int) {
	shift := min(retries-1, maxBackoffShift)
	s.sleep(s.opts.RetryBackoff << shift)
}

// isTransient reports conditions that must be retried without caller involvement.
func isTransient(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}
