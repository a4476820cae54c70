package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

// State is a step of one connection's protocol exchange.
type State int

const (
	StateConnected State = iota
	StateModeSent
	StateModeReceived
	StateFilenameSent
	StateFilenameReceived
	StateOffsetNegotiated
	StateStreaming
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateModeSent:
		return "mode_sent"
	case StateModeReceived:
		return "mode_received"
	case StateFilenameSent:
		return "filename_sent"
	case StateFilenameReceived:
		return "filename_received"
	case StateOffsetNegotiated:
		return "offset_negotiated"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// transitions lists the legal successors of each non-terminal state.
// Aborted is reachable from every non-terminal state.
var transitions = map[State][]State{
	StateConnected:        {StateModeSent, StateModeReceived},
	StateModeSent:         {StateFilenameSent},
	StateModeReceived:     {StateFilenameReceived},
	StateFilenameSent:     {StateOffsetNegotiated},
	StateFilenameReceived: {StateOffsetNegotiated},
	StateOffsetNegotiated: {StateStreaming, StateCompleted},
	StateStreaming:        {StateCompleted},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the per-connection driver state. It is never shared
// between connections.
type Session struct {
	ID       string
	Role     types.Role
	Mode     wire.Mode
	Filename string
	Peer     string

	Offset      uint64
	Size        uint64
	Transferred uint64

	StartedAt  time.Time
	state      State
	negotiated bool
}

func newSession(role types.Role, peer string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Role:      role,
		Peer:      peer,
		StartedAt: time.Now(),
		state:     StateConnected,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

func (s *Session) advance(next State) error {
	if !CanTransition(s.state, next) {
		return fmt.Errorf("illegal transition %s -> %s", s.state, next)
	}
	s.state = next
	return nil
}

// abort moves a live session to Aborted. Terminal sessions are left alone.
func (s *Session) abort() {
	if !s.state.Terminal() {
		s.state = StateAborted
	}
}

func (s *Session) agree(a Agreement) error {
	s.Offset = a.Offset
	s.Size = a.Size
	s.negotiated = true
	return s.advance(StateOffsetNegotiated)
}

// Complete reports whether offset + transferred reached the total size.
func (s *Session) Complete() bool {
	return s.negotiated && s.Offset+s.Transferred == s.Size
}

// finish advances to Completed once the byte count adds up.
func (s *Session) finish() error {
	if !s.Complete() {
		return fmt.Errorf("incomplete: %d + %d != %d", s.Offset, s.Transferred, s.Size)
	}
	return s.advance(StateCompleted)
}

// sentStep maps encoder progress to initiator states.
func (s *Session) sentStep(field string) {
	switch field {
	case wire.FieldMode:
		_ = s.advance(StateModeSent)
	case wire.FieldFilename:
		_ = s.advance(StateFilenameSent)
	}
}

// receivedStep maps decoder progress to responder states.
func (s *Session) receivedStep(field string) {
	switch field {
	case wire.FieldMode:
		_ = s.advance(StateModeReceived)
	case wire.FieldFilename:
		_ = s.advance(StateFilenameReceived)
	}
}

// Fields returns log context for the session.
func (s *Session) Fields() map[string]any {
	return map[string]any{
		"session_id": s.ID,
		"role":       string(s.Role),
		"mode":       string(s.Mode),
		"filename":   s.Filename,
		"peer":       s.Peer,
	}
}

// Receipt summarizes the attempt. err is the terminal error, nil on success.
func (s *Session) Receipt(err error) *types.Receipt {
	finished := time.Now()
	r := &types.Receipt{
		SessionID:   s.ID,
		Role:        s.Role,
		Mode:        string(s.Mode),
		Filename:    s.Filename,
		Peer:        s.Peer,
		Offset:      s.Offset,
		Size:        s.Size,
		Transferred: s.Transferred,
		Outcome:     types.OutcomeCompleted,
		StartedAt:   s.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:  finished.UTC().Format(time.RFC3339Nano),
		DurationMs:  finished.Sub(s.StartedAt).Milliseconds(),
		Version:     types.Version,
	}
	if err != nil || s.state != StateCompleted {
		r.Outcome = types.OutcomeAborted
	}
	if err != nil {
		r.ErrorKind = KindName(err)
		r.Error = err.Error()
	}
	return r
}
