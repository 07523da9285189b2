package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/siltkv/siltkv/internal/storageerr"
)

// maxReasonableFieldLen bounds key/value lengths read from a record header
// so a corrupted length field can't trigger a multi-gigabyte allocation
// before the CRC check has a chance to reject the record.
const maxReasonableFieldLen = 256 << 20

// recoverResult summarizes replaying a single segment file.
type recoverResult struct {
	validSize   int64  // byte offset just past the last verified-good record
	maxSeq      uint64 // highest seq observed in this segment
	recordCount int
	truncated   bool // true if a corrupt/partial tail was encountered
}

// recoverSegment reads and applies every valid record in the segment file
// at path, in order, stopping at the first corrupt or truncated record
// (§4.2: "never synthesize data"). apply is called once per valid record.
func recoverSegment(path string, apply func(Record)) (recoverResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return recoverResult{}, storageerr.Wrap(storageerr.KindIo, "wal: open segment for recovery", err)
	}
	defer f.Close()

	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		// Header itself is missing or truncated: nothing in this segment is
		// recoverable.
		return recoverResult{validSize: 0, truncated: true}, nil
	}
	if _, err := decodeHeader(hdrBuf); err != nil {
		return recoverResult{validSize: 0, truncated: true}, nil
	}

	result := recoverResult{validSize: int64(headerSize)}
	fixed := make([]byte, recordFixedSize)

	for {
		offsetBeforeRecord := result.validSize

		n, err := io.ReadFull(f, fixed)
		if err != nil {
			if err == io.EOF && n == 0 {
				break // clean end of segment
			}
			// Partial header: truncated tail.
			result.truncated = true
			break
		}

		op := Op(fixed[0])
		seq := binary.LittleEndian.Uint64(fixed[1:9])
		keyLen := binary.LittleEndian.Uint32(fixed[9:13])
		valueLenRaw := int32(binary.LittleEndian.Uint32(fixed[13:17]))

		if (op != OpPut && op != OpDelete) ||
			uint64(keyLen) > maxReasonableFieldLen ||
			(valueLenRaw < -1) ||
			(valueLenRaw > 0 && uint64(valueLenRaw) > maxReasonableFieldLen) ||
			(op == OpDelete && valueLenRaw != tombstoneValueLen) {
			result.truncated = true
			break
		}

		valueLen := 0
		if valueLenRaw > 0 {
			valueLen = int(valueLenRaw)
		}

		rest := make([]byte, int(keyLen)+valueLen+crcSize)
		if _, err := io.ReadFull(f, rest); err != nil {
			result.truncated = true
			break
		}

		key := rest[:keyLen]
		var value []byte
		if valueLen > 0 {
			value = rest[keyLen : keyLen+uint32(valueLen)]
		}
		gotCRC := binary.LittleEndian.Uint32(rest[len(rest)-crcSize:])

		sum := crc32.NewIEEE()
		sum.Write(fixed)
		sum.Write(rest[:len(rest)-crcSize])
		if sum.Sum32() != gotCRC {
			result.truncated = true
			break
		}

		recordLen := int64(len(fixed) + len(rest))
		result.validSize = offsetBeforeRecord + recordLen
		if seq > result.maxSeq {
			result.maxSeq = seq
		}
		result.recordCount++

		apply(Record{Seq: seq, Op: op, Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	}

	return result, nil
}
