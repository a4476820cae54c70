// Package transfer implements the resumable transfer state machine and its
// two drivers.
//
// An Initiator opens the connection, announces a mode and filename and
// streams the negotiated byte range. A Responder serves one request per
// connection and is authoritative for the resume offset: it compares the
// peer's declared value with its own copy of the file through Negotiate.
//
// Both drivers share the framing in package wire and the full-delivery
// primitive in package stream. A transfer either reaches
// offset + transferred == size or is reported as failed; there are no
// partial-success results.
package transfer

import (
	"fmt"

	"github.com/pithecene-io/ferry/wire"
)

// Agreement is the negotiated byte range [Offset, Size).
type Agreement struct {
	Offset uint64
	Size   uint64
}

// Remaining is the number of bytes still to move.
func (a Agreement) Remaining() uint64 {
	return a.Size - a.Offset
}

// Done reports whether nothing remains to be streamed.
func (a Agreement) Done() bool {
	return a.Offset == a.Size
}

// Negotiate computes the resume point on the responder side.
//
// For uploads, local is the responder's existing length and peer is the
// declared size: the agreement is [min(local, peer), peer).
// For downloads, local is the responder's file size and peer is the
// initiator's local length: the agreement is [min(peer, local), local).
//
// The result always satisfies Offset <= Size.
func Negotiate(mode wire.Mode, local, peer uint64) (Agreement, error) {
	switch mode {
	case wire.ModeUpload:
		return Agreement{Offset: min(local, peer), Size: peer}, nil
	case wire.ModeDownload:
		return Agreement{Offset: min(peer, local), Size: local}, nil
	default:
		return Agreement{}, fmt.Errorf("negotiate: unknown mode %q", mode)
	}
}
