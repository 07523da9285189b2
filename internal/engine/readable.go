package engine

import (
	"sync"
	"sync/atomic"

	uatomic "go.uber.org/atomic"

	"github.com/siltkv/siltkv/internal/sstable"
)

// tableEntry pairs a published SSTable with its compaction level.
type tableEntry struct {
	table *sstable.Table
	level int
}

// readableSet is the engine's copy-on-write view of all live SSTables,
// ordered newest-id-first so Get's linear scan matches §3's "newest id
// first" tie-break without an extra sort at lookup time.
//
// A generation also tracks its own pin count: loadPinned/release use it
// to guarantee that a reader scanning this generation's tables never
// races a publish that supersedes it, which would otherwise let a
// compaction close a table the reader hasn't gotten to yet (§5, §8
// invariant 6).
type readableSet struct {
	tables []*tableEntry

	pins       atomic.Int32
	retired    atomic.Bool
	closed     atomic.Bool
	retireOnce sync.Once
	onRetire   func()
}

func newReadableSet() *readableSet {
	return &readableSet{}
}

// withPublished returns a new set with newTable (at newLevel) inserted
// ahead of everything else and every table in removed excluded — the
// Publishing step of §4.6 (insert outputs, mark inputs unreachable) in
// one atomic swap.
func (rs *readableSet) withPublished(newTable *sstable.Table, newLevel int, removed map[uint64]bool) *readableSet {
	out := &readableSet{tables: make([]*tableEntry, 0, len(rs.tables)+1)}
	if newTable != nil {
		out.tables = append(out.tables, &tableEntry{table: newTable, level: newLevel})
	}
	for _, te := range rs.tables {
		if removed[te.table.ID] {
			continue
		}
		out.tables = append(out.tables, te)
	}
	return out
}

// withFlushed returns a new set with a freshly flushed table inserted at
// level 0, newest-first.
func (rs *readableSet) withFlushed(t *sstable.Table) *readableSet {
	out := &readableSet{tables: make([]*tableEntry, 0, len(rs.tables)+1)}
	out.tables = append(out.tables, &tableEntry{table: t, level: 0})
	out.tables = append(out.tables, rs.tables...)
	return out
}

// pin records one in-flight reader of this generation; unpin releases
// it. Callers obtain a pinned generation via readableHolder.loadPinned.
func (rs *readableSet) pin() { rs.pins.Add(1) }

func (rs *readableSet) unpin() {
	if rs.pins.Add(-1) == 0 && rs.retired.Load() {
		rs.fireRetire()
	}
}

// retire schedules cleanup to run exactly once, as soon as every pin
// taken against this generation (by a loadPinned call issued before this
// generation was superseded) has been released. If there are none
// outstanding already, cleanup runs immediately.
func (rs *readableSet) retire(cleanup func()) {
	rs.onRetire = cleanup
	rs.retired.Store(true)
	if rs.pins.Load() == 0 {
		rs.fireRetire()
	}
}

func (rs *readableSet) fireRetire() {
	rs.retireOnce.Do(func() {
		if rs.onRetire != nil {
			rs.onRetire()
		}
		rs.closed.Store(true)
	})
}

// isRetiredAndClosed reports whether this generation's retire cleanup has
// already run — i.e. this generation is no longer safe to read from.
func (rs *readableSet) isRetiredAndClosed() bool { return rs.closed.Load() }

// readableHolder wraps the atomic pointer swap described in §5 ("readers
// acquire a reference-counted handle ... the readable set is a
// copy-on-write structure").
type readableHolder struct {
	v uatomic.Pointer[readableSet]
}

func newReadableHolder() *readableHolder {
	h := &readableHolder{}
	h.v.Store(newReadableSet())
	return h
}

// load returns the current generation without pinning it; only safe for
// callers that don't perform table I/O against the result (building a
// new generation's table list, counting tables for Stats, closing every
// table at final shutdown).
func (h *readableHolder) load() *readableSet {
	return h.v.Load()
}

// loadPinned returns a generation pinned against retirement: every table
// it contains is guaranteed to stay open until release is called, even
// if a concurrent publish supersedes this generation and retires it in
// the meantime. If this generation is found to have already finished
// retiring by the time the pin lands, it's no longer safe to read and
// loadPinned retries against whatever is current.
func (h *readableHolder) loadPinned() *readableSet {
	for {
		rs := h.v.Load()
		rs.pin()
		if !rs.isRetiredAndClosed() {
			return rs
		}
		rs.unpin()
	}
}

// release returns a generation obtained via loadPinned.
func (h *readableHolder) release(rs *readableSet) {
	rs.unpin()
}

func (h *readableHolder) store(rs *readableSet) {
	h.v.Store(rs)
}

// compareAndSwap publishes next only if the holder still points at old,
// so a flush and a compaction racing to publish never silently drop one
// another's update; the loser retries against the fresh value. Use this
// when next carries forward every table old has (nothing is retired).
func (h *readableHolder) compareAndSwap(old, next *readableSet) bool {
	return h.v.CompareAndSwap(old, next)
}

// publish installs next in place of old (only if the holder still points
// at old) and retires old: once every pin taken against old via
// loadPinned has been released, every table in removed is marked for
// deletion. Returns false if old was stale, in which case the caller
// should reload and recompute next before retrying.
func (h *readableHolder) publish(old, next *readableSet, removed []*sstable.Table) bool {
	if !h.v.CompareAndSwap(old, next) {
		return false
	}
	old.retire(func() {
		for _, t := range removed {
			t.MarkForDeletion()
		}
	})
	return true
}
