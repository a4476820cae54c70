// Package types defines core domain types shared across ferry packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// Role identifies which side of a connection produced a receipt.
type Role string

const (
	// RoleInitiator is the peer that opened the connection (client).
	RoleInitiator Role = "initiator"
	// RoleResponder is the peer that accepted the connection (server).
	RoleResponder Role = "responder"
)

// Outcome is the terminal status of one transfer attempt.
type Outcome string

const (
	// OutcomeCompleted means offset + transferred reached the total size.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAborted means the attempt failed and may be retried.
	OutcomeAborted Outcome = "aborted"
)

// Receipt is the durable record of a single transfer attempt.
// It is written to the journal, the archive dataset and published to adapters.
type Receipt struct {
	SessionID   string  `msgpack:"session_id" json:"session_id" yaml:"session_id"`
	Role        Role    `msgpack:"role" json:"role" yaml:"role"`
	Mode        string  `msgpack:"mode" json:"mode" yaml:"mode"`
	Filename    string  `msgpack:"filename" json:"filename" yaml:"filename"`
	Peer        string  `msgpack:"peer" json:"peer" yaml:"peer"`
	Offset      uint64  `msgpack:"offset" json:"offset" yaml:"offset"`
	Size        uint64  `msgpack:"size" json:"size" yaml:"size"`
	Transferred uint64  `msgpack:"transferred" json:"transferred" yaml:"transferred"`
	Outcome     Outcome `msgpack:"outcome" json:"outcome" yaml:"outcome"`
	// ErrorKind is the failure class (connection, protocol, storage, busy) for aborted attempts.
	ErrorKind  string `msgpack:"error_kind,omitempty" json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error      string `msgpack:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  string `msgpack:"started_at" json:"started_at" yaml:"started_at"`
	FinishedAt string `msgpack:"finished_at" json:"finished_at" yaml:"finished_at"`
	DurationMs int64  `msgpack:"duration_ms" json:"duration_ms" yaml:"duration_ms"`
	Version    string `msgpack:"version" json:"version" yaml:"version"`
}

// Completed reports whether the receipt describes a finished transfer.
func (r *Receipt) Completed() bool {
	return r.Outcome == OutcomeCompleted
}

// Day returns the UTC day (YYYY-MM-DD) the attempt finished, used for partitioning.
// Falls back to the current day when FinishedAt is unparsable.
func (r *Receipt) Day() string {
	ts, err := time.Parse(time.RFC3339Nano, r.FinishedAt)
	if err != nil {
		ts = time.Now()
	}
	return ts.UTC().Format("2006-01-02")
}
