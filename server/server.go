// Package server runs the ferry accept loop.
//
// Each accepted connection is handed to a transfer.Responder, which owns it
// until the attempt ends. With MaxConns of 1 connections are served inline,
// one after another. Larger values serve concurrently behind a
// netutil.LimitListener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/report"
	"github.com/pithecene-io/ferry/transfer"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":9000"

// Accept retry bounds for transient listener failures.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config configures a Server.
type Config struct {
	// Addr is the TCP listen address (default ":9000").
	Addr string
	// MaxConns bounds concurrent connections. Values <= 1 serve sequentially.
	MaxConns int
	// KeepAlive sets the TCP keep-alive period on accepted connections.
	// Zero leaves the system default; negative disables keep-alive.
	KeepAlive time.Duration
}

// Server accepts connections and dispatches them to a Responder.
type Server struct {
	cfg       Config
	responder *transfer.Responder
	reporter  *report.Reporter
	logger    *log.Logger
	metrics   *metrics.Collector

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}
}

// New creates a server. reporter, logger and m may be nil.
func New(cfg Config, responder *transfer.Responder, reporter *report.Reporter, logger *log.Logger, m *metrics.Collector) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Server{
		cfg:       cfg,
		responder: responder,
		reporter:  reporter,
		logger:    logger,
		metrics:   m,
		ready:     make(chan struct{}),
	}
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is canceled, then waits for in-flight
// connections and returns nil. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 1 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer iox.DiscardClose(ln)

	s.logger.Info("server listening", map[string]any{
		"addr":      ln.Addr().String(),
		"max_conns": s.cfg.MaxConns,
	})

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		s.logger.Info("server stopped", s.metrics.Snapshot().Fields())
	}()

	backoff := time.Duration(0)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", map[string]any{"error": err.Error(), "retry_in": backoff.String()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		s.tune(conn)

		if s.cfg.MaxConns <= 1 {
			s.handle(ctx, conn)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Addr returns the listening address, or nil before Serve starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready is closed once the listener is accepting.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	receipt, _ := s.responder.Serve(ctx, conn)
	// Receipts are delivered even when shutdown canceled the transfer.
	s.reporter.Report(context.WithoutCancel(ctx), receipt)
}

func (s *Server) tune(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	switch {
	case s.cfg.KeepAlive > 0:
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(s.cfg.KeepAlive)
	case s.cfg.KeepAlive < 0:
		_ = tcp.SetKeepAlive(false)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
