package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

// step is one scripted underlying operation result.
type step struct {
	n   int
	err error
}

// scripted replays read and write results, then falls back to buf.
type scripted struct {
	reads  []step
	writes []step
	src    *bytes.Reader
	dst    bytes.Buffer
	closed int
}

func (s *scripted) Read(p []byte) (int, error) {
	if len(s.reads) > 0 {
		st := s.reads[0]
		s.reads = s.reads[1:]
		if st.n > 0 {
			return s.src.Read(p[:min(st.n, len(p))])
		}
		return 0, st.err
	}
	return s.src.Read(p)
}

func (s *scripted) Write(p []byte) (int, error) {
	if len(s.writes) > 0 {
		st := s.writes[0]
		s.writes = s.writes[1:]
		n := min(st.n, len(p))
		s.dst.Write(p[:n])
		return n, st.err
	}
	return s.dst.Write(p)
}

func (s *scripted) Close() error {
	s.closed++
	return nil
}

func newScripted(data string) *scripted {
	return &scripted{src: bytes.NewReader([]byte(data))}
}

func quiet(s *Stream) (*Stream, *[]time.Duration) {
	var sleeps []time.Duration
	s.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return s, &sleeps
}

func TestReadFull_RetriesTransient(t *testing.T) {
	rw := newScripted("hello world")
	rw.reads = []step{
		{err: syscall.EINTR},
		{n: 3},
		{err: syscall.EAGAIN},
		{err: syscall.EAGAIN},
		{n: 2},
	}
	s, sleeps := quiet(New(rw, Options{}))

	buf := make([]byte, 11)
	if err := s.ReadFull(buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != "hello world" {
		t.Errorf("buf = %q, want %q", buf, "hello world")
	}
	if len(*sleeps) != 3 {
		t.Errorf("sleeps = %v, want 3 entries", *sleeps)
	}
}

func TestReadFull_PeerClosed(t *testing.T) {
	s := New(newScripted("abc"), Options{})

	buf := make([]byte, 8)
	err := s.ReadFull(buf)
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
	var short *ShortReadError
	if !errors.As(err, &short) {
		t.Fatalf("expected *ShortReadError, got %T", err)
	}
	if short.Got != 3 || short.Want != 8 {
		t.Errorf("short = %d/%d, want 3/8", short.Got, short.Want)
	}
}

func TestReadFull_EmptyStream(t *testing.T) {
	s := New(newScripted(""), Options{})
	if err := s.ReadFull(make([]byte, 1)); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", err)
	}
}

func TestRead_RetriesExhausted(t *testing.T) {
	rw := newScripted("x")
	for range 5 {
		rw.reads = append(rw.reads, step{err: syscall.EAGAIN})
	}
	s, sleeps := quiet(New(rw, Options{MaxRetries: 3}))

	_, err := s.Read(make([]byte, 1))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if len(*sleeps) != 3 {
		t.Errorf("sleeps = %d, want 3", len(*sleeps))
	}
}

func TestRead_HardErrorNotRetried(t *testing.T) {
	rw := newScripted("x")
	rw.reads = []step{{err: syscall.ECONNRESET}}
	s, sleeps := quiet(New(rw, Options{}))

	_, err := s.Read(make([]byte, 1))
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("expected ECONNRESET in chain, got %v", err)
	}
	if len(*sleeps) != 0 {
		t.Errorf("hard error slept %d times", len(*sleeps))
	}
}

func TestWriteFull_PartialWrites(t *testing.T) {
	rw := newScripted("")
	rw.writes = []step{
		{n: 2},
		{n: 0, err: syscall.EINTR},
		{n: 1, err: syscall.EAGAIN},
		{n: 3},
	}
	s, _ := quiet(New(rw, Options{}))

	payload := []byte("0123456789")
	if err := s.WriteFull(payload); err != nil {
		t.Fatalf("WriteFull failed: %v", err)
	}
	if !bytes.Equal(rw.dst.Bytes(), payload) {
		t.Errorf("delivered = %q, want %q", rw.dst.Bytes(), payload)
	}
}

func TestWrite_ZeroProgressBounded(t *testing.T) {
	rw := newScripted("")
	for range 10 {
		rw.writes = append(rw.writes, step{n: 0})
	}
	s, _ := quiet(New(rw, Options{MaxRetries: 4}))

	n, err := s.Write([]byte("abc"))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestWrite_HardError(t *testing.T) {
	rw := newScripted("")
	rw.writes = []step{{n: 1, err: syscall.EPIPE}}
	s, _ := quiet(New(rw, Options{}))

	n, err := s.Write([]byte("abc"))
	if !errors.Is(err, syscall.EPIPE) {
		t.Fatalf("expected EPIPE in chain, got %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestBackoff_Bounded(t *testing.T) {
	s, sleeps := quiet(New(newScripted(""), Options{RetryBackoff: time.Millisecond}))
	for i := 1; i <= 10; i++ {
		s.backoff(i)
	}
	if (*sleeps)[0] != time.Millisecond {
		t.Errorf("first backoff = %v, want 1ms", (*sleeps)[0])
	}
	if last := (*sleeps)[len(*sleeps)-1]; last != 32*time.Millisecond {
		t.Errorf("last backoff = %v, want 32ms", last)
	}
}

func TestClose_Once(t *testing.T) {
	rw := newScripted("")
	s := New(rw, Options{})
	_ = s.Close()
	_ = s.Close()
	if rw.closed != 1 {
		t.Errorf("closed = %d, want 1", rw.closed)
	}
}

func TestIdleTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(client, Options{IdleTimeout: 20 * time.Millisecond})
	err := s.ReadFull(make([]byte, 4))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWatch_Cancellation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(t.Context())
	s := New(client, Options{})
	stop := s.Watch(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- s.ReadFull(make([]byte, 4)) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read not unblocked by cancellation")
	}

	// Later operations fail fast.
	if err := s.WriteFull([]byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("write after cancel = %v, want context.Canceled", err)
	}
}

func TestPipeRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("ferry"), 4096)
	go func() {
		_ = New(client, Options{}).WriteFull(payload)
	}()

	got := make([]byte, len(payload))
	if err := New(server, Options{IdleTimeout: time.Second}).ReadFull(got); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

var _ io.ReadWriteCloser = (*Stream)(nil)
