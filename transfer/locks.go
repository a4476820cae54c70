package transfer

import "sync"

// NameLocks tracks filenames currently owned by a responder session.
// A second session for a held name is rejected rather than queued.
type NameLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewNameLocks creates an empty lock set.
func NewNameLocks() *NameLocks {
	return &NameLocks{held: make(map[string]struct{})}
}

// TryLock claims name. It returns false when another session holds it.
func (l *NameLocks) TryLock(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[name]; busy {
		return false
	}
	l.held[name] = struct{}{}
	return true
}

// Unlock releases name.
func (l *NameLocks) Unlock(name string) {
	l.mu.Lock()
	delete(l.held, name)
	l.mu.Unlock()
}

// Held reports whether name is currently claimed.
func (l *NameLocks) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[name]
	return busy
}
