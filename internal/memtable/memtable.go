// Package memtable implements the in-memory, size-bounded sorted write
// buffer of §4.3: an ordered map from key to (seq, op, value), with
// tombstones tracked distinctly from empty values.
package memtable

import (
	"github.com/siltkv/siltkv/internal/utils"
	"github.com/siltkv/siltkv/internal/wal"
)

// LookupStatus distinguishes a present value, a tombstone, and "key not in
// this memtable at all" (§4.3: Present(value) | Tombstone | Absent).
type LookupStatus uint8

const (
	Absent LookupStatus = iota
	Present
	TombstoneFound
)

// GetResult is the outcome of a memtable lookup.
type GetResult struct {
	Status LookupStatus
	Value  []byte
	Seq    uint64
}

// MemTable is the engine's in-memory write buffer. The zero value is not
// usable; construct with New.
type MemTable struct {
	sl        *skipList
	maxBytes  int64
	sizeBytes int64
}

// New constructs an empty memtable that reports should-flush once its
// accounted size reaches maxBytes.
func New(maxBytes int64) *MemTable {
	return &MemTable{sl: newSkipList(), maxBytes: maxBytes}
}

// Put inserts or replaces key's value at seq. It returns true once the
// memtable's aggregate size has crossed the configured threshold.
func (m *MemTable) Put(key, value []byte, seq uint64) (shouldFlush bool) {
	return m.apply(key, entry{seq: seq, op: wal.OpPut, value: utils.CopyBytes(value)}, len(value))
}

// Delete inserts a tombstone for key at seq.
func (m *MemTable) Delete(key []byte, seq uint64) (shouldFlush bool) {
	return m.apply(key, entry{seq: seq, op: wal.OpDelete}, 0)
}

func (m *MemTable) apply(key []byte, val entry, newValueLen int) bool {
	prev, existed := m.sl.put(key, val)

	delta := int64(len(key) + newValueLen)
	if existed {
		// The replaced entry's key bytes are taken off, since the new
		// entry's key bytes above count the key again. Tombstone
		// overwrites of a PUT also reduce accounted size by the old value
		// size; a prior tombstone contributed only its key bytes.
		delta -= int64(len(key))
		if prev.op == wal.OpPut {
			delta -= int64(len(prev.value))
		}
	}
	m.sizeBytes += delta

	return m.sizeBytes >= m.maxBytes
}

// Get looks up key. The highest-sequence write already present for key
// always wins because skipList.put always overwrites in place regardless
// of the incoming seq ordering — callers are expected to apply records to
// a single memtable in increasing seq order, which the engine's write path
// guarantees.
func (m *MemTable) Get(key []byte) GetResult {
	e, ok := m.sl.get(key)
	if !ok {
		return GetResult{Status: Absent}
	}
	if e.op == wal.OpDelete {
		return GetResult{Status: TombstoneFound, Seq: e.seq}
	}
	return GetResult{Status: Present, Value: utils.CopyBytes(e.value), Seq: e.seq}
}

// SizeBytes returns the current aggregate accounted size (key + value
// bytes; tombstones accounted at key size only).
func (m *MemTable) SizeBytes() int64 { return m.sizeBytes }

// Len returns the number of distinct keys held (live or tombstoned).
func (m *MemTable) Len() int { return m.sl.size }

// IsEmpty reports whether the memtable holds no keys.
func (m *MemTable) IsEmpty() bool { return m.sl.size == 0 }

// Snapshot hands back a read-only view suitable for flushing. Because the
// active memtable becomes immutable at rotation before any flush begins,
// snapshotting is simply handing over the same map: nothing else will
// write to it again.
func (m *MemTable) Snapshot() *MemTable { return m }

// Iterator is the finite, non-restartable, ascending-key view used by
// flush (§4.3 iter_sorted).
type Iterator struct {
	it *skipListIterator
}

// IterSorted returns an iterator over every entry in ascending key order.
func (m *MemTable) IterSorted() *Iterator {
	return &Iterator{it: m.sl.newIterator()}
}

func (it *Iterator) Valid() bool { return it.it.valid() }
func (it *Iterator) Next()       { it.it.next() }
func (it *Iterator) Key() []byte { return it.it.key() }

// Seq, Op, and Value expose the current entry's fields for the SSTable
// writer and compactor to consume directly.
func (it *Iterator) Seq() uint64   { return it.it.entry().seq }
func (it *Iterator) Op() wal.Op    { return it.it.entry().op }
func (it *Iterator) Value() []byte { return it.it.entry().value }
