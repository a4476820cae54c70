package transfer

import (
	"io"
	"os"

	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/stream"
)

// DefaultChunkSize bounds one read/write cycle of file data.
const DefaultChunkSize = 8192

// pump moves file bytes between a local file and the stream in chunks.
// It updates the session's transferred count after every chunk.
type pump struct {
	st      *stream.Stream
	file    *os.File
	name    string
	buf     []byte
	sess    *Session
	metrics *metrics.Collector
	// syncEach forces received chunks to stable storage before after runs.
	syncEach bool
	// after observes the new absolute position once a chunk is committed.
	after func(pos uint64)
}

// send streams [from, size) of the file to the peer.
func (p *pump) send(from, size uint64) error {
	if _, err := p.file.Seek(int64(from), io.SeekStart); err != nil {
		return storageError("seek", p.name, err)
	}
	for pos := from; pos < size; {
		chunk := p.buf[:min(uint64(len(p.buf)), size-pos)]
		// A short read means the file shrank after it was measured.
		if _, err := io.ReadFull(p.file, chunk); err != nil {
			return storageError("read", p.name, err)
		}
		if err := p.st.WriteFull(chunk); err != nil {
			return classifyPeer("stream", p.name, err)
		}
		n := uint64(len(chunk))
		pos += n
		p.sess.Transferred += n
		p.metrics.AddBytesSent(int64(n))
		p.notify(pos)
	}
	return nil
}

// receive reads exactly size-from bytes from the peer and appends them at from.
func (p *pump) receive(from, size uint64) error {
	if _, err := p.file.Seek(int64(from), io.SeekStart); err != nil {
		return storageError("seek", p.name, err)
	}
	for pos := from; pos < size; {
		chunk := p.buf[:min(uint64(len(p.buf)), size-pos)]
		if err := p.st.ReadFull(chunk); err != nil {
			return classifyPeer("stream", p.name, err)
		}
		if _, err := p.file.Write(chunk); err != nil {
			return storageError("write", p.name, err)
		}
		if p.syncEach {
			if err := p.file.Sync(); err != nil {
				return storageError("sync", p.name, err)
			}
		}
		n := uint64(len(chunk))
		pos += n
		p.sess.Transferred += n
		p.metrics.AddBytesReceived(int64(n))
		p.notify(pos)
	}
	return nil
}

func (p *pump) notify(pos uint64) {
	if p.after != nil {
		p.after(pos)
	}
}
