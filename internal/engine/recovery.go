package engine

import (
	"github.com/siltkv/siltkv/internal/memtable"
	"github.com/siltkv/siltkv/internal/sstable"
	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/wal"
)

// recover implements §4.1's startup sequence: enumerate existing
// SSTables (newest id wins on conflict), replay the WAL into a fresh
// active memtable, and seed the next sequence counter. Called once from
// Open before any worker goroutine starts.
func (e *Engine) recover() error {
	ids, err := sstable.ListIDs(e.sstDir)
	if err != nil {
		return storageerr.Wrap(storageerr.KindIo, "engine: list sstables", err)
	}

	rs := newReadableSet()
	// ids is ascending; insert newest-first so Get's linear scan already
	// matches the documented tie-break without a second sort.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		tbl, openErr := sstable.Open(sstable.Path(e.sstDir, id), id)
		if openErr != nil {
			e.logger.Warn().Err(openErr).Uint64("sst_id", id).Msg("skipping unreadable SSTable during recovery")
			continue
		}
		rs.tables = append(rs.tables, &tableEntry{table: tbl, level: 0})
	}
	e.readable.store(rs)

	if len(ids) > 0 {
		e.nextTableID = ids[len(ids)-1]
	}

	e.active = memtable.New(e.cfg.MemtableMaxBytes)

	_, err = e.wal.Recover(func(rec wal.Record) {
		switch rec.Op {
		case wal.OpPut:
			e.active.Put(rec.Key, rec.Value, rec.Seq)
		case wal.OpDelete:
			e.active.Delete(rec.Key, rec.Seq)
		}
	})
	if err != nil {
		return err
	}

	return nil
}
