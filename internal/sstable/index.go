package sstable

import (
	"encoding/binary"

	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/utils"
)

// indexEntry maps a sampled key to the byte offset of its record within the
// data block.
type indexEntry struct {
	key    []byte
	offset uint64
}

// sparseIndex is the in-memory, binary-searchable view of an SSTable's
// index block: every indexInterval-th key, in ascending order.
type sparseIndex struct {
	entries []indexEntry
}

func (idx *sparseIndex) add(key []byte, offset uint64) {
	idx.entries = append(idx.entries, indexEntry{key: utils.CopyBytes(key), offset: offset})
}

// encode serializes the index as [count(4)]{[keyLen(4)][key][offset(8)]}*.
func (idx *sparseIndex) encode() []byte {
	size := 4
	for _, e := range idx.entries {
		size += 4 + len(e.key) + 8
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(idx.entries)))
	off := 4
	for _, e := range idx.entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(e.key)))
		off += 4
		copy(buf[off:], e.key)
		off += len(e.key)
		binary.LittleEndian.PutUint64(buf[off:off+8], e.offset)
		off += 8
	}
	return buf
}

func decodeSparseIndex(buf []byte) (*sparseIndex, error) {
	if len(buf) < 4 {
		return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: index too short", nil)
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	idx := &sparseIndex{entries: make([]indexEntry, 0, count)}
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: truncated index entry", nil)
		}
		keyLen := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		if keyLen > maxKeySize || off+int(keyLen)+8 > len(buf) {
			return nil, storageerr.Wrap(storageerr.KindCorrupt, "sstable: truncated index key", nil)
		}
		key := make([]byte, keyLen)
		copy(key, buf[off:off+int(keyLen)])
		off += int(keyLen)
		offset := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		idx.entries = append(idx.entries, indexEntry{key: key, offset: offset})
	}
	return idx, nil
}

// bracket returns [lo, hi) byte offsets into the data block that may contain
// key: lo is the offset of the last sampled entry whose key <= key (0 if
// none), hi is the offset of the first sampled entry whose key > key (the
// block's data end if none). The caller linear-scans that span.
func (idx *sparseIndex) bracket(key []byte, dataEnd uint64) (lo, hi uint64) {
	left, right := 0, len(idx.entries)-1
	loIdx := -1
	for left <= right {
		mid := (left + right) / 2
		if utils.CompareKeys(idx.entries[mid].key, key) <= 0 {
			loIdx = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	if loIdx == -1 {
		lo = 0
	} else {
		lo = idx.entries[loIdx].offset
	}

	hi = dataEnd
	if loIdx+1 < len(idx.entries) {
		hi = idx.entries[loIdx+1].offset
	}
	return lo, hi
}
