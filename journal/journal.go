// Package journal keeps an append-only local record of transfer receipts.
//
// Each receipt is one frame: a 4-byte big-endian length prefix followed by
// the msgpack-encoded receipt. A torn trailing frame (crash mid-append) is
// reported by ReadAll as ErrPartialFrame after the complete receipts, and
// cut off by the next Append so later frames stay readable.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/types"
)

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4

// MaxFrameSize bounds a single encoded receipt.
const MaxFrameSize = 1 << 20

// DefaultPath is the journal location used when none is configured.
const DefaultPath = "ferry-journal.bin"

// ErrPartialFrame indicates a truncated trailing frame.
var ErrPartialFrame = errors.New("journal: partial frame")

// Journal appends receipts to a single file. Safe for concurrent use.
type Journal struct {
	path string
	mu   sync.Mutex
	// fsync after every append
	syncEach bool
	// end is the file size after our last append; -1 until known.
	end int64
}

// Open returns a journal at path, creating parent directories.
// The file itself is created lazily on first Append.
func Open(path string, syncEach bool) (*Journal, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	return &Journal{path: path, syncEach: syncEach, end: -1}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append encodes r and writes it as one frame.
func (j *Journal) Append(r *types.Receipt) error {
	frame, err := EncodeFrame(r)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		iox.DiscardClose(f)
		return fmt.Errorf("journal: stat: %w", err)
	}
	size := info.Size()
	if size != j.end {
		if size, err = truncateTorn(f); err != nil {
			iox.DiscardClose(f)
			return err
		}
	}
	if _, err := f.Write(frame); err != nil {
		iox.DiscardClose(f)
		j.end = -1
		return fmt.Errorf("journal: append: %w", err)
	}
	j.end = size + int64(len(frame))
	if j.syncEach {
		return iox.SyncClose(f)
	}
	return f.Close()
}

// truncateTorn cuts f after its last complete frame and returns the new
// size. Corruption other than a torn tail is returned as an error.
func truncateTorn(f *os.File) (int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("journal: seek: %w", err)
	}
	br := bufio.NewReader(f)
	var valid int64
	for {
		payload, err := readFrame(br)
		switch {
		case errors.Is(err, io.EOF):
			return valid, nil
		case errors.Is(err, ErrPartialFrame):
			if err := f.Truncate(valid); err != nil {
				return 0, fmt.Errorf("journal: truncate torn frame: %w", err)
			}
			return valid, nil
		case err != nil:
			return 0, err
		}
		valid += int64(LengthPrefixSize + len(payload))
	}
}

// ReadAll decodes every complete frame in the journal.
// A missing journal yields no receipts. A torn trailing frame returns the
// receipts before it together with ErrPartialFrame.
func (j *Journal) ReadAll() ([]*types.Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	defer iox.DiscardClose(f)

	return Decode(f)
}

// Decode reads frames from r until end of stream.
func Decode(r io.Reader) ([]*types.Receipt, error) {
	var out []*types.Receipt
	for {
		payload, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		var rec types.Receipt
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return out, fmt.Errorf("journal: decode frame %d: %w", len(out), err)
		}
		out = append(out, &rec)
	}
}

// EncodeFrame returns the length-prefixed msgpack encoding of r.
func EncodeFrame(r *types.Receipt) ([]byte, error) {
	if r == nil {
		return nil, errors.New("journal: nil receipt")
	}
	payload, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("journal: encode: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("journal: frame size %d exceeds maximum %d", len(payload), MaxFrameSize)
	}
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: length prefix: %v", ErrPartialFrame, err)
	}
	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("journal: frame size %d exceeds maximum %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrPartialFrame, err)
	}
	return payload, nil
}
