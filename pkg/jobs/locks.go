package jobs

import "sync"

// LockKey builds the exclusivity key for a (panel, database) pair
func LockKey(panelName, database string) string {
	return panelName + "/" + database
}

// LockTable provides atomic acquire-or-fail exclusivity per
// (panel, database) pair. It is the only mutable state shared between
// workers.
type LockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockTable creates an empty lock table
func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]struct{})}
}

// Acquire takes the lock for key, returning false if it is already held
func (t *LockTable) Acquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.held[key]; busy {
		return false
	}
	t.held[key] = struct{}{}
	return true
}

// Release frees the lock for key
func (t *LockTable) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, key)
}

// Busy reports whether the lock for key is held
func (t *LockTable) Busy(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.held[key]
	return busy
}
