// Package wire implements the ferry control-message framing.
//
// Every variable-length field is a 4-byte big-endian length prefix followed
// by exactly that many raw bytes. Sizes and offsets are 8-byte big-endian
// unsigned integers. There are no terminators and no padding.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Field size constants.
const (
	// LengthPrefixSize is the size of a variable-field length prefix in bytes.
	LengthPrefixSize = 4
	// Uint64Size is the size of a size/offset field in bytes.
	Uint64Size = 8
)

// Default field limits. A peer announcing a longer field is violating the protocol.
const (
	DefaultMaxModeLen     = 16
	DefaultMaxFilenameLen = 511
)

// Limits bounds the variable-length fields accepted by a Decoder.
type Limits struct {
	MaxModeLen     uint32
	MaxFilenameLen uint32
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxModeLen:     DefaultMaxModeLen,
		MaxFilenameLen: DefaultMaxFilenameLen,
	}
}

// normalize fills zero limits with defaults.
func (l Limits) normalize() Limits {
	if l.MaxModeLen == 0 {
		l.MaxModeLen = DefaultMaxModeLen
	}
	if l.MaxFilenameLen == 0 {
		l.MaxFilenameLen = DefaultMaxFilenameLen
	}
	return l
}

// FrameErrorKind classifies decoding failures.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the peer closed or failed before a field was complete.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a length prefix above the configured limit.
	FrameErrorTooLarge
	// FrameErrorEmpty indicates a zero-length mode or filename.
	FrameErrorEmpty
	// FrameErrorMode indicates an unknown transfer mode.
	FrameErrorMode
	// FrameErrorName indicates a filename that cannot be mapped to a local file.
	FrameErrorName
	// FrameErrorRange indicates an offset outside [0, size].
	FrameErrorRange
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorEmpty:
		return "empty"
	case FrameErrorMode:
		return "mode"
	case FrameErrorName:
		return "name"
	case FrameErrorRange:
		return "range"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a field decoding or validation error.
type FrameError struct {
	Kind  FrameErrorKind
	Field string
	Msg   string
	Err   error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsViolation reports whether the peer sent malformed or out-of-range data.
// Partial frames are connection failures, not violations.
func (e *FrameError) IsViolation() bool {
	return e.Kind != FrameErrorPartial
}

// IsProtocolViolation returns true if err carries a FrameError that is a violation.
func IsProtocolViolation(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsViolation()
	}
	return false
}

// PutUint32 stores v in network byte order.
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32 decodes a network byte order uint32.
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// PutUint64 stores v in network byte order.
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// Uint64 decodes a network byte order uint64.
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// ValidateOffset checks 0 <= offset <= size.
func ValidateOffset(field string, offset, size uint64) error {
	if offset > size {
		return &FrameError{
			Kind:  FrameErrorRange,
			Field: field,
			Msg:   fmt.Sprintf("offset %d exceeds size %d", offset, size),
		}
	}
	return nil
}

// Encoder writes framed fields to a stream.
// The writer must deliver each buffer in full or fail (see package stream).
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteField writes a length-prefixed variable field in a single buffer.
func (e *Encoder) WriteField(field string, value []byte) error {
	if uint64(len(value)) > math.MaxUint32 {
		return fmt.Errorf("send %s: length %d does not fit the prefix", field, len(value))
	}
	buf := make([]byte, LengthPrefixSize+len(value))
	PutUint32(buf[:LengthPrefixSize], uint32(len(value)))
	copy(buf[LengthPrefixSize:], value)
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("send %s: %w", field, err)
	}
	return nil
}

// WriteUint64 writes a fixed-width size or offset field.
func (e *Encoder) WriteUint64(field string, v uint64) error {
	var buf [Uint64Size]byte
	PutUint64(buf[:], v)
	if _, err := e.w.Write(buf[:]); err != nil {
		return fmt.Errorf("send %s: %w", field, err)
	}
	return nil
}

// Decoder reads framed fields from a stream.
type Decoder struct {
	reader io.Reader
	limits Limits
}

// NewDecoder creates a new decoder. Zero limits fall back to DefaultLimits.
func NewDecoder(r io.Reader, limits Limits) *Decoder {
	return &Decoder{reader: r, limits: limits.normalize()}
}

// ReadField reads a length-prefixed field of at most max bytes.
//
// Errors:
//   - *FrameError with Kind=FrameErrorPartial: stream ended or failed mid-field
//   - *FrameError with Kind=FrameErrorEmpty: zero-length field
//   - *FrameError with Kind=FrameErrorTooLarge: length above max (nothing allocated)
func (d *Decoder) ReadField(field string, max uint32) ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Field: field, Msg: "failed to read length prefix", Err: err}
	}

	n := Uint32(lengthBuf[:])
	if n == 0 {
		return nil, &FrameError{Kind: FrameErrorEmpty, Field: field, Msg: "zero-length field"}
	}
	if n > max {
		return nil, &FrameError{
			Kind:  FrameErrorTooLarge,
			Field: field,
			Msg:   fmt.Sprintf("length %d exceeds maximum %d", n, max),
		}
	}

	value := make([]byte, n)
	if _, err := io.ReadFull(d.reader, value); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Field: field, Msg: "failed to read field bytes", Err: err}
	}
	return value, nil
}

// ReadUint64 reads a fixed-width size or offset field.
func (d *Decoder) ReadUint64(field string) (uint64, error) {
	var buf [Uint64Size]byte
	if _, err := io.ReadFull(d.reader, buf[:]); err != nil {
		return 0, &FrameError{Kind: FrameErrorPartial, Field: field, Msg: "failed to read value", Err: err}
	}
	return Uint64(buf[:]), nil
}
