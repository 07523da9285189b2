// Package checkpoint tracks which WAL sequence numbers are still required
// for recovery (§4.7). The engine registers one checkpoint per immutable
// memtable at rotation and removes it once that memtable's flush publishes;
// WAL cleanup uses the manager's minimum as its safe-delete bound.
package checkpoint

import "sync"

// Manager is a named map name -> seq, safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	marks map[string]uint64
}

// NewManager returns an empty checkpoint manager.
func NewManager() *Manager {
	return &Manager{marks: make(map[string]uint64)}
}

// Register records checkpoint name at seq. Until it is removed, WAL cleanup
// is bounded by seq: a segment holding any sequence above seq survives.
func (m *Manager) Register(name string, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[name] = seq
}

// Remove drops a previously registered checkpoint. It is a no-op if name
// was never registered (removal is idempotent, matching the engine's
// flush-then-remove-checkpoint sequencing after a retried flush).
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks, name)
}

// Min returns the lowest registered checkpoint sequence and true, or
// (0, false) if no checkpoint is registered. WAL cleanup must not delete
// past this bound.
func (m *Manager) Min() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.marks) == 0 {
		return 0, false
	}
	min := uint64(0)
	first := true
	for _, seq := range m.marks {
		if first || seq < min {
			min = seq
			first = false
		}
	}
	return min, true
}

// Len reports the number of live checkpoints.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marks)
}
