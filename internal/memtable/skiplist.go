package memtable

import (
	"math/rand"

	"github.com/siltkv/siltkv/internal/utils"
	"github.com/siltkv/siltkv/internal/wal"
)

// maxLevel bounds the skip list's tower height.
const maxLevel = 16

// entry is the value stored per key: the sequence number and op that last
// touched it, and the value bytes (absent for a tombstone).
type entry struct {
	seq   uint64
	op    wal.Op
	value []byte
}

type node struct {
	key   []byte
	val   entry
	next  []*node
}

// skipList is an ordered map keyed by byte-wise comparison, used as the
// memtable's backing structure (§4.3).
type skipList struct {
	head  *node
	level int
	size  int // number of live (non-deleted-by-overwrite) keys
}

func newSkipList() *skipList {
	return &skipList{
		head:  &node{next: make([]*node, maxLevel)},
		level: 1,
	}
}

func (sl *skipList) randomLevel() int {
	level := 1
	for rand.Float64() < 0.5 && level < maxLevel {
		level++
	}
	return level
}

// put inserts or overwrites key's entry. It returns the previous entry and
// whether one existed, so the caller can adjust size accounting.
func (sl *skipList) put(key []byte, val entry) (prev entry, existed bool) {
	update := make([]*node, maxLevel)
	curr := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && utils.CompareKeys(curr.next[i].key, key) < 0 {
			curr = curr.next[i]
		}
		update[i] = curr
	}

	curr = curr.next[0]
	if curr != nil && utils.CompareKeys(curr.key, key) == 0 {
		prev = curr.val
		curr.val = val
		return prev, true
	}

	lvl := sl.randomLevel()
	if lvl > sl.level {
		for i := sl.level; i < lvl; i++ {
			update[i] = sl.head
		}
		sl.level = lvl
	}

	n := &node{
		key:  utils.CopyBytes(key),
		val:  val,
		next: make([]*node, lvl),
	}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	sl.size++
	return entry{}, false
}

func (sl *skipList) get(key []byte) (entry, bool) {
	curr := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && utils.CompareKeys(curr.next[i].key, key) < 0 {
			curr = curr.next[i]
		}
	}
	curr = curr.next[0]
	if curr != nil && utils.CompareKeys(curr.key, key) == 0 {
		return curr.val, true
	}
	return entry{}, false
}

// skipListIterator yields entries in ascending key order. It is a one-shot,
// forward-only cursor over the live list; it does not copy the list, so it
// is only stable over a memtable that is no longer written to.
type skipListIterator struct {
	curr *node
}

func (sl *skipList) newIterator() *skipListIterator {
	return &skipListIterator{curr: sl.head.next[0]}
}

func (it *skipListIterator) valid() bool { return it.curr != nil }

func (it *skipListIterator) next() {
	it.curr = it.curr.next[0]
}

func (it *skipListIterator) key() []byte  { return it.curr.key }
func (it *skipListIterator) entry() entry { return it.curr.val }
