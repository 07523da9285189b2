// Package sstable implements the immutable, sorted on-disk file format of
// §4.4: a data block of records in ascending key order, a sparse index
// sampled every indexInterval-th record, a bloom filter block, and a fixed
// 64-byte footer naming each block's end offset plus a version/magic pair.
package sstable

import (
	"encoding/binary"

	"github.com/siltkv/siltkv/internal/wal"
)

const (
	// footerSize is fixed per §5: u64 data_end, u64 index_end, u64
	// bloom_end, u32 version, u32 magic.
	footerSize    = 64
	formatVersion = 1
	magic         = 0x534B5654 // "SKVT": SiltKV Table

	// indexInterval controls the sparse index's sampling rate: every
	// indexInterval-th record gets an index entry.
	indexInterval = 16

	maxKeySize   = 1 << 20  // 1MiB
	maxValueSize = 10 << 20 // 10MiB
)

// recordHeader is the on-disk encoding of one data-block record:
// [op(1)][seq(8)][klen(4)][vlen(4)][key][value]. vlen is 0 and no value
// bytes follow for a tombstone.
const recordHeaderSize = 1 + 8 + 4 + 4

func encodeRecordHeader(op wal.Op, seq uint64, keyLen, valueLen int) []byte {
	buf := make([]byte, recordHeaderSize)
	buf[0] = byte(op)
	binary.LittleEndian.PutUint64(buf[1:9], seq)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(valueLen))
	return buf
}

func decodeRecordHeader(buf []byte) (op wal.Op, seq uint64, keyLen, valueLen uint32) {
	op = wal.Op(buf[0])
	seq = binary.LittleEndian.Uint64(buf[1:9])
	keyLen = binary.LittleEndian.Uint32(buf[9:13])
	valueLen = binary.LittleEndian.Uint32(buf[13:17])
	return
}

type footer struct {
	dataEnd  uint64
	indexEnd uint64
	bloomEnd uint64
	version  uint32
	magic    uint32
}

func (f footer) encode() []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.dataEnd)
	binary.LittleEndian.PutUint64(buf[8:16], f.indexEnd)
	binary.LittleEndian.PutUint64(buf[16:24], f.bloomEnd)
	binary.LittleEndian.PutUint32(buf[24:28], f.version)
	binary.LittleEndian.PutUint32(buf[28:32], f.magic)
	// Remaining bytes are reserved padding, left zeroed.
	return buf
}

func decodeFooter(buf []byte) (footer, bool) {
	if len(buf) != footerSize {
		return footer{}, false
	}
	f := footer{
		dataEnd:  binary.LittleEndian.Uint64(buf[0:8]),
		indexEnd: binary.LittleEndian.Uint64(buf[8:16]),
		bloomEnd: binary.LittleEndian.Uint64(buf[16:24]),
		version:  binary.LittleEndian.Uint32(buf[24:28]),
		magic:    binary.LittleEndian.Uint32(buf[28:32]),
	}
	if f.magic != magic || f.version != formatVersion {
		return footer{}, false
	}
	return f, true
}
