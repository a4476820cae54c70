// Package report fans a finished transfer's receipt out to every configured sink.
//
// Sinks are the local journal, the archive dataset and a notification adapter.
// A failing sink never fails the transfer: the error is logged as a warning
// and counted, and the remaining sinks still run.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/archive"
	"github.com/pithecene-io/ferry/journal"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/types"
)

// DefaultSinkTimeout bounds each sink call.
const DefaultSinkTimeout = 10 * time.Second

// Sink receives receipts.
type Sink interface {
	Name() string
	Record(ctx context.Context, r *types.Receipt) error
}

// Reporter delivers receipts to its sinks in order.
type Reporter struct {
	sinks   []Sink
	closers []func() error
	logger  *log.Logger
	metrics *metrics.Collector
	timeout time.Duration
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithJournal adds the local receipt journal.
func WithJournal(j *journal.Journal) Option {
	return func(r *Reporter) {
		if j != nil {
			r.sinks = append(r.sinks, journalSink{j})
		}
	}
}

// WithArchive adds the lode receipts dataset.
func WithArchive(a *archive.Archive) Option {
	return func(r *Reporter) {
		if a != nil {
			r.sinks = append(r.sinks, archiveSink{a})
		}
	}
}

// WithAdapter adds a notification adapter. The Reporter closes it.
func WithAdapter(name string, a adapter.Adapter) Option {
	return func(r *Reporter) {
		if a != nil {
			r.sinks = append(r.sinks, adapterSink{name: name, a: a})
			r.closers = append(r.closers, a.Close)
		}
	}
}

// WithSink adds an arbitrary sink.
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sinks = append(r.sinks, s) }
}

// WithTimeout overrides DefaultSinkTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a reporter. A nil logger means log.Nop().
func New(logger *log.Logger, m *metrics.Collector, opts ...Option) *Reporter {
	if logger == nil {
		logger = log.Nop()
	}
	r := &Reporter{logger: logger, metrics: m, timeout: DefaultSinkTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sinks names the configured sinks in delivery order.
func (r *Reporter) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

// Report delivers rec to every sink and returns the number that failed.
func (r *Reporter) Report(ctx context.Context, rec *types.Receipt) int {
	if r == nil || rec == nil {
		return 0
	}
	failed := 0
	for _, s := range r.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Record(sinkCtx, rec)
		cancel()
		if err == nil {
			continue
		}
		failed++
		r.metrics.IncReportFailure()
		r.logger.Warn("receipt delivery failed", map[string]any{
			"sink":       s.Name(),
			"session_id": rec.SessionID,
			"error":      err.Error(),
		})
	}
	return failed
}

// Close releases adapter resources.
func (r *Reporter) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

type journalSink struct{ j *journal.Journal }

func (journalSink) Name() string { return "journal" }

func (s journalSink) Record(_ context.Context, r *types.Receipt) error {
	return s.j.Append(r)
}

type archiveSink struct{ a *archive.Archive }

func (s archiveSink) Name() string { return "archive:" + s.a.Backend() }

func (s archiveSink) Record(ctx context.Context, r *types.Receipt) error {
	return s.a.RecordReceipt(ctx, r)
}

type adapterSink struct {
	name string
	a    adapter.Adapter
}

func (s adapterSink) Name() string { return "adapter:" + s.name }

func (s adapterSink) Record(ctx context.Context, r *types.Receipt) error {
	return s.a.Publish(ctx, adapter.NewEvent(r))
}
