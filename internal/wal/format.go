package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/siltkv/siltkv/internal/storageerr"
)

const (
	// headerMagic identifies a SiltKV WAL segment file (§4.2).
	headerMagic   uint32 = 0x57414C4F
	headerVersion uint16 = 1
	headerSize           = 4 + 2 + 2 + 8 // magic, version, flags, creation timestamp

	// recordFixedSize is op(1) + seq(8) + keyLen(4) + valueLen(4), before
	// the variable-length key/value and the trailing 4-byte CRC.
	recordFixedSize = 1 + 8 + 4 + 4
	crcSize         = 4

	tombstoneValueLen int32 = -1
)

// encodeHeader writes the 16-byte segment header.
func encodeHeader(createdUnixNano int64) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)
	binary.LittleEndian.PutUint16(buf[6:8], 0) // flags, reserved
	binary.LittleEndian.PutUint64(buf[8:16], uint64(createdUnixNano))
	return buf
}

// decodeHeader validates and parses a 16-byte segment header.
func decodeHeader(buf []byte) (createdUnixNano int64, err error) {
	if len(buf) < headerSize {
		return 0, storageerr.Wrap(storageerr.KindCorrupt, "wal: truncated header", nil)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	version := binary.LittleEndian.Uint16(buf[4:6])
	if magic != headerMagic {
		return 0, storageerr.Wrap(storageerr.KindCorrupt, "wal: bad magic", nil)
	}
	if version != headerVersion {
		return 0, storageerr.Wrap(storageerr.KindCorrupt, "wal: unsupported version", nil)
	}
	return int64(binary.LittleEndian.Uint64(buf[8:16])), nil
}

// encodeRecord serializes rec as:
// op(1) seq(8) keyLen(4,i32) valueLen(4,i32,-1 for DELETE) key value crc32(4)
// where the CRC covers every preceding byte of the record.
func encodeRecord(rec Record) []byte {
	valueLen := int32(len(rec.Value))
	if rec.Op == OpDelete {
		valueLen = tombstoneValueLen
	}

	total := recordFixedSize + len(rec.Key) + maxInt(0, int(valueLen)) + crcSize
	buf := make([]byte, total)

	buf[0] = byte(rec.Op)
	binary.LittleEndian.PutUint64(buf[1:9], rec.Seq)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(rec.Key)))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(valueLen))

	off := recordFixedSize
	copy(buf[off:], rec.Key)
	off += len(rec.Key)
	if valueLen > 0 {
		copy(buf[off:], rec.Value)
		off += int(valueLen)
	}

	sum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+crcSize], sum)

	return buf
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
