// Package metrics provides transfer counters for a ferry process.
//
// The Collector accumulates counters across every session a process drives.
// It is a leaf package with no internal dependencies; failure kinds are plain
// strings so the transfer package can label them without an import cycle.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64
	FailuresByKind    map[string]int64

	// Payload bytes moved this process (excludes control fields)
	BytesSent     int64
	BytesReceived int64

	// Progress ledger
	LedgerWrites   int64
	LedgerFailures int64

	// Responder admission
	RejectedBusy int64

	// Receipt fan-out (journal, archive, adapter)
	ReportFailures int64

	// Dimensions (informational, set at construction)
	Role           string
	StorageBackend string
}

// Fields flattens the snapshot for structured logging.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"role":               s.Role,
		"storage_backend":    s.StorageBackend,
		"sessions_started":   s.SessionsStarted,
		"sessions_completed": s.SessionsCompleted,
		"sessions_failed":    s.SessionsFailed,
		"failures_by_kind":   s.FailuresByKind,
		"bytes_sent":         s.BytesSent,
		"bytes_received":     s.BytesReceived,
		"ledger_writes":      s.LedgerWrites,
		"ledger_failures":    s.LedgerFailures,
		"rejected_busy":      s.RejectedBusy,
		"report_failures":    s.ReportFailures,
	}
}

// Collector accumulates transfer counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	failuresByKind    map[string]int64

	bytesSent     int64
	bytesReceived int64

	ledgerWrites   int64
	ledgerFailures int64

	rejectedBusy   int64
	reportFailures int64

	role           string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty when no archive is configured.
func NewCollector(role, storageBackend string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		role:           role,
		storageBackend: storageBackend,
	}
}

// --- Session lifecycle ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionCompleted records a session that reached the full size.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionFailed records an aborted session under its failure kind.
func (c *Collector) IncSessionFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// --- Payload ---

// AddBytesSent records payload bytes delivered to a peer.
func (c *Collector) AddBytesSent(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesSent += n
	c.mu.Unlock()
}

// AddBytesReceived records payload bytes written to local storage.
func (c *Collector) AddBytesReceived(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesReceived += n
	c.mu.Unlock()
}

// --- Ledger ---

// IncLedgerWrite records a committed ledger record.
func (c *Collector) IncLedgerWrite() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ledgerWrites++
	c.mu.Unlock()
}

// IncLedgerFailure records a ledger record or clear that failed (non-fatal).
func (c *Collector) IncLedgerFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ledgerFailures++
	c.mu.Unlock()
}

// --- Responder ---

// IncRejectedBusy records a connection dropped because its filename was in use.
func (c *Collector) IncRejectedBusy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rejectedBusy++
	c.mu.Unlock()
}

// IncReportFailure records a receipt sink that failed.
func (c *Collector) IncReportFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reportFailures++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		byKind[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		FailuresByKind:    byKind,

		BytesSent:     c.bytesSent,
		BytesReceived: c.bytesReceived,

		LedgerWrites:   c.ledgerWrites,
		LedgerFailures: c.ledgerFailures,

		RejectedBusy:   c.rejectedBusy,
		ReportFailures: c.reportFailures,

		Role:           c.role,
		StorageBackend: c.storageBackend,
	}
}
