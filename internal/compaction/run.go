package compaction

import (
	"os"

	"github.com/siltkv/siltkv/internal/sstable"
	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/wal"
)

// mergedRecord is one surviving entry from an N-way merge, already
// resolved to its highest-sequence writer.
type mergedRecord struct {
	key   []byte
	seq   uint64
	op    wal.Op
	value []byte
}

// Merge runs the Merging step of §4.6 over a plan's input tables:
// k-way merge by key, keep the highest sequence number per key, and drop a
// tombstone only when isExhaustive reports that every SSTable that could
// hold an older version of that key is among the inputs (bottom level in
// leveled compaction, or the full live set in a size-tiered/full pass).
func Merge(dir string, id uint64, inputs []*sstable.Table, isExhaustive bool, targetFP float64) (*sstable.Table, error) {
	iters := make([]*sstable.Iterator, 0, len(inputs))
	for _, t := range inputs {
		iters = append(iters, t.NewIterator())
	}

	mi := sstable.NewMergeIterator(iters)
	var records []mergedRecord
	for mi.Valid() {
		if !(isExhaustive && mi.IsDelete()) {
			records = append(records, mergedRecord{
				key:   append([]byte(nil), mi.Key()...),
				seq:   mi.Seq(),
				op:    mi.Op(),
				value: append([]byte(nil), mi.Value()...),
			})
		}
		mi.Next()
	}

	if len(records) == 0 {
		return nil, nil
	}

	w, err := sstable.NewWriter(dir, id, len(records), targetFP)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Add(r.key, r.seq, r.op, r.value); err != nil {
			return nil, err
		}
	}
	if _, _, _, err := w.Finish(); err != nil {
		return nil, err
	}

	return sstable.Open(sstable.Path(dir, id), id)
}

// DeleteInputs unlinks every input table's backing file. It does not
// close the tables themselves: on POSIX, unlinking a file has no effect
// on descriptors already open against it, so this is safe to call as
// soon as the inputs are detached from the readable set, even while a
// reader that observed the pre-compaction generation is still mid-scan.
// Closing the table handles is the caller's job, deferred until those
// readers have drained (see readableHolder.publish).
func DeleteInputs(inputs []*sstable.Table) error {
	var firstErr error
	for _, t := range inputs {
		if err := removeFile(t.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return storageerr.Wrap(storageerr.KindIo, "compaction: remove input table", err)
	}
	return nil
}

// IsExhaustive reports whether inputs cover the full live table set, i.e.
// whether len(inputs) equals liveCount. It does not look at levels; the
// bottom-level case is decided by the caller from the plan's output level.
func IsExhaustive(inputs []Table, liveCount int) bool {
	return len(inputs) == liveCount
}
