package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/ferry/wire"
)

// Sentinel errors for transfer failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrConnection indicates the peer closed early or a socket-level error occurred.
	ErrConnection = errors.New("connection failure")

	// ErrProtocol indicates a malformed or out-of-range field from the peer.
	ErrProtocol = errors.New("protocol violation")

	// ErrStorage indicates the local file could not be opened, read, written or flushed.
	ErrStorage = errors.New("local storage failure")

	// ErrInvalidInvocation indicates bad arguments; nothing was attempted.
	ErrInvalidInvocation = errors.New("invalid invocation")

	// ErrBusy indicates another connection holds the same filename.
	ErrBusy = errors.New("file busy")

	// ErrRejected indicates the responder refused an upload (size or free space).
	ErrRejected = errors.New("transfer rejected")
)

// TransferError wraps an underlying error with transfer classification.
// It preserves the original error in the chain for inspection via errors.As.
type TransferError struct {
	// Kind is the sentinel error for classification (e.g., ErrProtocol).
	Kind error
	// Op is the step that failed (e.g., "negotiate", "stream", "open").
	Op string
	// Filename is the transfer target, if known.
	Filename string
	// Err is the underlying error.
	Err error
}

func (e *TransferError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Filename, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *TransferError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newError(kind error, op, filename string, err error) *TransferError {
	return &TransferError{Kind: kind, Op: op, Filename: filename, Err: err}
}

func storageError(op, filename string, err error) error {
	return newError(ErrStorage, op, filename, err)
}

// classifyPeer wraps an error raised while talking to the peer.
// Malformed fields are protocol violations; everything else
// (short reads, resets, deadlines, cancellation) is a connection failure.
func classifyPeer(op, filename string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	if wire.IsProtocolViolation(err) {
		return newError(ErrProtocol, op, filename, err)
	}
	return newError(ErrConnection, op, filename, err)
}

// KindName returns the short label used in receipts, metrics and logs.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInvocation):
		return "invalid_invocation"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "unknown"
	}
}
