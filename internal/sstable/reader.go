package sstable

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/siltkv/siltkv/internal/bloomfilter"
	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/utils"
	"github.com/siltkv/siltkv/internal/wal"
)

// LookupStatus mirrors memtable.LookupStatus for a table-level Get.
type LookupStatus uint8

const (
	Absent LookupStatus = iota
	Present
	Tombstone
)

// Table is an open, immutable SSTable: footer, bloom filter, and sparse
// index are resident in memory; the data block stays on disk and is read
// on demand (§4.4 read path).
type Table struct {
	ID       uint64
	Path     string
	FirstKey []byte

	file  *os.File
	ft    footer
	bloom *bloomfilter.Filter
	index *sparseIndex

	refs      atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open reads an SSTable's footer, bloom filter, and index into memory.
func Open(path string, id uint64) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "sstable: open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "sstable: stat", err)
	}
	if info.Size() < footerSize {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: file shorter than footer", nil)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, info.Size()-footerSize); err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "sstable: read footer", err)
	}
	ft, ok := decodeFooter(footerBuf)
	if !ok {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: invalid footer", nil)
	}
	if ft.bloomEnd+footerSize != uint64(info.Size()) {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: footer offsets inconsistent with file size", nil)
	}

	indexBuf := make([]byte, ft.indexEnd-ft.dataEnd)
	if _, err := f.ReadAt(indexBuf, int64(ft.dataEnd)); err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "sstable: read index", err)
	}
	idx, err := decodeSparseIndex(indexBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	bloomBuf := make([]byte, ft.bloomEnd-ft.indexEnd)
	if _, err := f.ReadAt(bloomBuf, int64(ft.indexEnd)); err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "sstable: read bloom filter", err)
	}
	bloom, err := bloomfilter.Decode(bloomBuf)
	if err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: invalid bloom filter", err)
	}

	t := &Table{ID: id, Path: path, file: f, ft: ft, bloom: bloom, index: idx}
	if len(idx.entries) > 0 {
		t.FirstKey = idx.entries[0].key
	}
	return t, nil
}

// Acquire/Release implement the reference-counted handle described in
// §6: deletion of a compacted-away table's file waits until every
// in-flight reader has released it. Both refs and closed are accessed
// from reader goroutines and the compaction worker concurrently, so
// they're atomics; closeOnce ensures a racing Release/MarkForDeletion
// pair closes the file exactly once.
func (t *Table) Acquire() { t.refs.Add(1) }

func (t *Table) Release() {
	if t.refs.Add(-1) <= 0 && t.closed.Load() {
		t.closeFile()
	}
}

// MarkForDeletion closes the underlying file once all outstanding
// references have been released; if none are outstanding it closes
// immediately.
func (t *Table) MarkForDeletion() {
	t.closed.Store(true)
	if t.refs.Load() <= 0 {
		t.closeFile()
	}
}

func (t *Table) closeFile() {
	t.closeOnce.Do(func() {
		t.file.Close()
	})
}

// MightContain is a cheap pre-check backed by the resident bloom filter.
func (t *Table) MightContain(key []byte) bool {
	return t.bloom.MightContain(key)
}

// Get performs the bloom-check, bracket, linear-scan lookup of §4.4.
func (t *Table) Get(key []byte) (LookupStatus, []byte, error) {
	if !t.bloom.MightContain(key) {
		return Absent, nil, nil
	}

	lo, hi := t.index.bracket(key, t.ft.dataEnd)
	buf := make([]byte, hi-lo)
	if _, err := t.file.ReadAt(buf, int64(lo)); err != nil {
		return Absent, nil, storageerr.Wrap(storageerr.KindIo, "sstable: read data span", err)
	}

	pos := 0
	for pos < len(buf) {
		if pos+recordHeaderSize > len(buf) {
			return Absent, nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: truncated record header", nil)
		}
		op, _, keyLen, valLen := decodeRecordHeader(buf[pos : pos+recordHeaderSize])
		pos += recordHeaderSize

		if keyLen > maxKeySize || valLen > maxValueSize || pos+int(keyLen)+int(valLen) > len(buf) {
			return Absent, nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: truncated record body", nil)
		}
		recKey := buf[pos : pos+int(keyLen)]
		pos += int(keyLen)
		recVal := buf[pos : pos+int(valLen)]
		pos += int(valLen)

		cmp := utils.CompareKeys(recKey, key)
		if cmp == 0 {
			if op == wal.OpDelete {
				return Tombstone, nil, nil
			}
			return Present, utils.CopyBytes(recVal), nil
		}
		if cmp > 0 {
			return Absent, nil, nil
		}
	}
	return Absent, nil, nil
}

// Close releases the table's file handle unconditionally; callers that
// participate in reference counting should use MarkForDeletion instead
// once the table is no longer part of the readable set.
func (t *Table) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.file.Close()
	})
	if err != nil {
		return storageerr.Wrap(storageerr.KindIo, "sstable: close", err)
	}
	return nil
}

// DataEnd exposes the data block's end offset, which the engine's
// compactor uses as the table's size.
func (t *Table) DataEnd() uint64 { return t.ft.dataEnd }
