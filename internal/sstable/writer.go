package sstable

import (
	"bufio"
	"os"

	"github.com/oklog/ulid/v2"

	"github.com/siltkv/siltkv/internal/bloomfilter"
	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/utils"
	"github.com/siltkv/siltkv/internal/wal"
)

// Writer builds one SSTable from records delivered in ascending key order
// (§4.4 write path). Callers provide a tight estimate of the number of
// distinct keys so the bloom filter is sized correctly; compaction and
// flush both know this count up front from their merge inputs.
type Writer struct {
	id       uint64
	buildID  ulid.ULID
	tmpPath  string
	finalPath string
	f        *os.File
	w        *bufio.Writer

	dataOffset uint64
	recordNum  int
	index      sparseIndex
	bloom      *bloomfilter.Filter

	firstKey []byte
	lastKey  []byte
}

// NewWriter opens a fresh *.tmp file for SSTable id under dir.
func NewWriter(dir string, id uint64, expectedKeys int, targetFP float64) (*Writer, error) {
	tmp := Path(dir, id) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "sstable: create temp file", err)
	}
	return &Writer{
		id:        id,
		buildID:   ulid.Make(),
		tmpPath:   tmp,
		finalPath: Path(dir, id),
		f:         f,
		w:         bufio.NewWriter(f),
		bloom:     bloomfilter.New(expectedKeys, targetFP),
	}, nil
}

// BuildID returns the diagnostic ULID stamped on this writer, useful for
// correlating a flush or compaction's log lines with the table it produced.
func (w *Writer) BuildID() ulid.ULID { return w.buildID }

// Add appends one record. Keys must arrive in strictly ascending order;
// the writer does not re-sort.
func (w *Writer) Add(key []byte, seq uint64, op wal.Op, value []byte) error {
	if w.firstKey == nil {
		w.firstKey = utils.CopyBytes(key)
	}
	w.lastKey = utils.CopyBytes(key)

	if w.recordNum%indexInterval == 0 {
		w.index.add(key, w.dataOffset)
	}

	hdr := encodeRecordHeader(op, seq, len(key), len(value))
	if _, err := w.w.Write(hdr); err != nil {
		return storageerr.Wrap(storageerr.KindIo, "sstable: write record header", err)
	}
	if _, err := w.w.Write(key); err != nil {
		return storageerr.Wrap(storageerr.KindIo, "sstable: write record key", err)
	}
	if op == wal.OpPut {
		if _, err := w.w.Write(value); err != nil {
			return storageerr.Wrap(storageerr.KindIo, "sstable: write record value", err)
		}
	}

	w.bloom.Add(key)
	w.dataOffset += uint64(recordHeaderSize + len(key) + len(value))
	w.recordNum++
	return nil
}

// Empty reports whether Add was never called. NewWriter has already
// created the temp file, and Finish on an empty writer still publishes a
// table with no records; callers check Empty to skip Finish.
func (w *Writer) Empty() bool { return w.recordNum == 0 }

// Finish writes the index, bloom filter, and footer, fsyncs, closes, and
// atomically renames the temp file into its published path (§4.4: "write
// index, write bloom filter, write footer, fsync, rename into place").
func (w *Writer) Finish() (id uint64, firstKey, lastKey []byte, err error) {
	dataEnd := w.dataOffset

	indexBytes := w.index.encode()
	if _, err = w.w.Write(indexBytes); err != nil {
		w.abort()
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: write index", err)
	}
	indexEnd := dataEnd + uint64(len(indexBytes))

	bloomBytes := w.bloom.Bytes()
	if _, err = w.w.Write(bloomBytes); err != nil {
		w.abort()
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: write bloom filter", err)
	}
	bloomEnd := indexEnd + uint64(len(bloomBytes))

	ft := footer{dataEnd: dataEnd, indexEnd: indexEnd, bloomEnd: bloomEnd, version: formatVersion, magic: magic}
	if _, err = w.w.Write(ft.encode()); err != nil {
		w.abort()
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: write footer", err)
	}

	if err = w.w.Flush(); err != nil {
		w.abort()
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: flush", err)
	}
	if err = w.f.Sync(); err != nil {
		w.abort()
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: fsync", err)
	}
	if err = w.f.Close(); err != nil {
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: close temp file", err)
	}
	if err = os.Rename(w.tmpPath, w.finalPath); err != nil {
		return 0, nil, nil, storageerr.Wrap(storageerr.KindIo, "sstable: publish", err)
	}

	return w.id, w.firstKey, w.lastKey, nil
}

// abort discards a partially written temp file after a failure; the
// partial file is never observed because it never reaches its final name
// (§3 invariant 4).
func (w *Writer) abort() {
	w.f.Close()
	os.Remove(w.tmpPath)
}

// RecordSource is anything that yields records in ascending key order:
// memtable.Iterator and sstable.MergeIterator both satisfy it, so flush
// and compaction share one write path.
type RecordSource interface {
	Valid() bool
	Next()
	Key() []byte
	Seq() uint64
	Op() wal.Op
	Value() []byte
}

// WriteAll drains src into w, one record per Add call.
func WriteAll(w *Writer, src RecordSource) error {
	for src.Valid() {
		if err := w.Add(src.Key(), src.Seq(), src.Op(), src.Value()); err != nil {
			return err
		}
		src.Next()
	}
	return nil
}
