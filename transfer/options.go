package transfer

import (
	"context"
	"net"

	"github.com/pithecene-io/ferry/ledger"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

// Progress is reported after every committed chunk.
type Progress struct {
	SessionID string
	Mode      wire.Mode
	Filename  string
	Offset    uint64
	// Position is the absolute byte count now present on the receiving side.
	Position uint64
	Size     uint64
}

// ProgressFunc observes chunk progress. It runs on the driver goroutine.
type ProgressFunc func(Progress)

// SpaceFunc reports free bytes on the filesystem holding dir.
type SpaceFunc func(dir string) (uint64, error)

// CompletionFunc runs after a responder finishes an upload and closed the file.
type CompletionFunc func(ctx context.Context, path string, receipt *types.Receipt)

// DialFunc opens the initiator's connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures an Initiator or Responder.
// Options that only apply to one role are ignored by the other.
type Option func(*base)

// WithLogger sets the structured logger. Default: log.Nop().
func WithLogger(l *log.Logger) Option {
	return func(b *base) { b.logger = l }
}

// WithMetrics sets the counter sink. Default: none.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *base) { b.metrics = c }
}

// WithProgress sets the per-chunk observer.
func WithProgress(fn ProgressFunc) Option {
	return func(b *base) { b.progress = fn }
}

// WithDialer replaces net.Dialer (initiator only).
func WithDialer(fn DialFunc) Option {
	return func(b *base) { b.dial = fn }
}

// WithSpaceCheck enables the free-space admission check (responder only).
func WithSpaceCheck(fn SpaceFunc) Option {
	return func(b *base) { b.space = fn }
}

// WithCompletion registers a hook for finished uploads (responder only).
func WithCompletion(fn CompletionFunc) Option {
	return func(b *base) { b.onComplete = fn }
}

// base carries what both drivers share.
type base struct {
	logger     *log.Logger
	metrics    *metrics.Collector
	progress   ProgressFunc
	dial       DialFunc
	space      SpaceFunc
	onComplete CompletionFunc
}

func newBase(opts []Option) base {
	b := base{logger: log.Nop()}
	for _, opt := range opts {
		opt(&b)
	}
	if b.dial == nil {
		var d net.Dialer
		b.dial = d.DialContext
	}
	return b
}

func (b *base) begin(sess *Session) *log.Logger {
	b.metrics.IncSessionStarted()
	return b.logger.With(sess.Fields())
}

// conclude settles the session and emits its receipt.
func (b *base) conclude(sess *Session, err error) (*types.Receipt, error) {
	logger := b.logger.With(sess.Fields())
	fields := map[string]any{
		"offset":      sess.Offset,
		"size":        sess.Size,
		"transferred": sess.Transferred,
		"state":       sess.State().String(),
	}
	if err != nil {
		sess.abort()
		kind := KindName(err)
		b.metrics.IncSessionFailed(kind)
		fields["kind"] = kind
		fields["error"] = err.Error()
		logger.Error("transfer failed", fields)
		return sess.Receipt(err), err
	}
	b.metrics.IncSessionCompleted()
	logger.Info("transfer completed", fields)
	return sess.Receipt(nil), nil
}

// record commits a ledger entry. Failures are warnings; the transfer goes on.
func (b *base) record(logger *log.Logger, l *ledger.Ledger, pos uint64) {
	if l == nil {
		return
	}
	if err := l.Record(pos); err != nil {
		b.metrics.IncLedgerFailure()
		logger.Warn("ledger write failed", map[string]any{"path": l.Path(), "position": pos, "error": err.Error()})
		return
	}
	b.metrics.IncLedgerWrite()
}

func (b *base) clear(logger *log.Logger, l *ledger.Ledger) {
	if l == nil {
		return
	}
	if err := l.Clear(); err != nil {
		b.metrics.IncLedgerFailure()
		logger.Warn("ledger clear failed", map[string]any{"path": l.Path(), "error": err.Error()})
	}
}

func (b *base) notify(sess *Session, pos uint64) {
	if b.progress == nil {
		return
	}
	b.progress(Progress{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Filename:  sess.Filename,
		Offset:    sess.Offset,
		Position:  pos,
		Size:      sess.Size,
	})
}

// peerAddr names the remote end when the transport knows it.
func peerAddr(conn any) string {
	if c, ok := conn.(interface{ RemoteAddr() net.Addr }); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}
