package sstable

import (
	"container/heap"

	"github.com/siltkv/siltkv/internal/utils"
	"github.com/siltkv/siltkv/internal/wal"
)

// MergeIterator performs a k-way merge of several table iterators into one
// ascending stream, resolving duplicate keys by highest sequence number
// (§3 invariant 1). Used by compaction (§4.6) to merge input tables.
type MergeIterator struct {
	h *mergeHeap

	key   []byte
	seq   uint64
	value []byte
	op    wal.Op
	valid bool
}

// NewMergeIterator builds a merge iterator over fresh iterators (the
// caller constructs one per input table via Table.NewIterator and must not
// call Next first: NewMergeIterator calls Next once on each to load it).
func NewMergeIterator(iters []*Iterator) *MergeIterator {
	h := &mergeHeap{}
	for _, it := range iters {
		it.Next()
		if it.Valid() {
			heap.Push(h, it)
		}
	}
	mi := &MergeIterator{h: h}
	mi.advance()
	return mi
}

func (mi *MergeIterator) Valid() bool { return mi.valid }
func (mi *MergeIterator) Key() []byte { return mi.key }
func (mi *MergeIterator) Seq() uint64 { return mi.seq }
func (mi *MergeIterator) Value() []byte { return mi.value }

// IsDelete reports whether the winning record for the current key is a
// tombstone.
func (mi *MergeIterator) IsDelete() bool { return mi.valid && mi.op == wal.OpDelete }

// Op satisfies RecordSource so a MergeIterator can feed a Writer directly.
func (mi *MergeIterator) Op() wal.Op {
	if !mi.valid {
		return wal.OpPut
	}
	return mi.op
}

func (mi *MergeIterator) Next() { mi.advance() }

// advance pops every iterator sharing the smallest pending key, keeps the
// one with the highest sequence number, and re-pushes each popped iterator
// after stepping it forward.
func (mi *MergeIterator) advance() {
	if mi.h.Len() == 0 {
		mi.valid = false
		return
	}

	top := heap.Pop(mi.h).(*Iterator)
	minKey := top.Key()
	best := top
	bestSeq := top.Seq()

	var toRepush []*Iterator
	toRepush = append(toRepush, top)

	for mi.h.Len() > 0 && utils.CompareKeys((*mi.h)[0].Key(), minKey) == 0 {
		next := heap.Pop(mi.h).(*Iterator)
		if next.Seq() > bestSeq {
			best = next
			bestSeq = next.Seq()
		}
		toRepush = append(toRepush, next)
	}

	mi.key = append([]byte(nil), minKey...)
	mi.seq = best.Seq()
	mi.value = best.Value()
	mi.op = best.op
	mi.valid = true

	for _, it := range toRepush {
		it.Next()
		if it.Valid() {
			heap.Push(mi.h, it)
		}
	}
}

type mergeHeap []*Iterator

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return utils.CompareKeys(h[i].Key(), h[j].Key()) < 0
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*Iterator)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
