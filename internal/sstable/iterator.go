package sstable

import (
	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/wal"
)

// Iterator is a forward-only scan over an entire table's data block in
// ascending key order, used by compaction to merge tables (§4.4, §4.6).
type Iterator struct {
	t   *Table
	pos uint64
	end uint64

	key   []byte
	seq   uint64
	op    wal.Op
	value []byte
	err   error
	done  bool
}

// NewIterator returns an iterator positioned before the first record;
// call Next once to load it.
func (t *Table) NewIterator() *Iterator {
	return &Iterator{t: t, pos: 0, end: t.ft.dataEnd}
}

func (it *Iterator) Valid() bool { return !it.done && it.err == nil && it.key != nil }
func (it *Iterator) Err() error  { return it.err }
func (it *Iterator) Key() []byte   { return it.key }
func (it *Iterator) Seq() uint64   { return it.seq }
func (it *Iterator) Op() wal.Op    { return it.op }
func (it *Iterator) Value() []byte { return it.value }

// Next advances to the next record, or marks the iterator done/errored.
func (it *Iterator) Next() {
	if it.done || it.err != nil {
		return
	}
	if it.pos >= it.end {
		it.done = true
		return
	}

	hdr := make([]byte, recordHeaderSize)
	if _, err := it.t.file.ReadAt(hdr, int64(it.pos)); err != nil {
		it.err = storageerr.Wrap(storageerr.KindIo, "sstable: iterator read header", err)
		return
	}
	op, seq, keyLen, valLen := decodeRecordHeader(hdr)
	if keyLen > maxKeySize || valLen > maxValueSize {
		it.err = storageerr.Wrap(storageerr.KindCorrupt, "sstable: iterator oversized record", nil)
		return
	}

	body := make([]byte, int(keyLen)+int(valLen))
	if len(body) > 0 {
		if _, err := it.t.file.ReadAt(body, int64(it.pos)+recordHeaderSize); err != nil {
			it.err = storageerr.Wrap(storageerr.KindIo, "sstable: iterator read body", err)
			return
		}
	}

	it.key = body[:keyLen]
	it.value = body[keyLen:]
	it.seq = seq
	it.op = op
	it.pos += uint64(recordHeaderSize) + uint64(keyLen) + uint64(valLen)
}
