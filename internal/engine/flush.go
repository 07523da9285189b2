package engine

import (
	"time"

	"github.com/siltkv/siltkv/internal/sstable"
)

// flushLoop is the one background flush worker described in §4.1: it
// drains the immutable queue one memtable at a time, oldest first.
func (e *Engine) flushLoop() {
	for {
		entry, ok := e.waitForImmutable()
		if !ok {
			return
		}

		if err := e.flushOneWithRetry(entry); err != nil {
			e.logger.Error().Err(err).Msg("flush failed twice; entering degraded mode")
			e.degraded.Store(true)
			// entry is left in place at the head of the queue (it was
			// only peeked, never popped), so Stats().PendingFlushes still
			// reflects the backlog. This worker exits here, so nothing
			// drains the queue again until the engine is reopened.
			return
		}
	}
}

// waitForImmutable blocks until the immutable queue is non-empty or the
// engine is stopping, then returns (without removing) the oldest entry.
// The entry stays reachable by Get's immutable-memtable scan until
// flushOne removes it after successfully publishing its SSTable, so
// there's never a window where an acknowledged write is visible in
// neither the queue nor the readable set.
func (e *Engine) waitForImmutable() (*immuEntry, bool) {
	e.immuMu.Lock()
	defer e.immuMu.Unlock()

	for len(e.immutable) == 0 {
		select {
		case <-e.ctx.Done():
			return nil, false
		default:
		}
		e.immuCond.Wait()
	}

	return e.immutable[0], true
}

// removeFlushed pops entry from the head of the queue once its SSTable
// has been durably published, and is a no-op if entry is no longer at
// the head (shouldn't happen: the flush worker processes the queue
// strictly FIFO, single-threaded).
func (e *Engine) removeFlushed(entry *immuEntry) {
	e.immuMu.Lock()
	if len(e.immutable) > 0 && e.immutable[0] == entry {
		e.immutable = e.immutable[1:]
	}
	e.immuMu.Unlock()
}

// flushOneWithRetry writes entry's memtable to a new SSTable, retrying
// once after a short backoff on failure, per §7's documented flush
// failure semantics.
func (e *Engine) flushOneWithRetry(entry *immuEntry) error {
	err := e.flushOne(entry)
	if err == nil {
		return nil
	}
	e.logger.Warn().Err(err).Msg("flush failed, retrying once")
	time.Sleep(100 * time.Millisecond)
	return e.flushOne(entry)
}

func (e *Engine) flushOne(entry *immuEntry) error {
	id := e.nextTableIDValue()
	w, err := sstable.NewWriter(e.sstDir, id, entry.mt.Len(), e.cfg.BloomTargetFP)
	if err != nil {
		return err
	}

	src := entry.mt.IterSorted()
	if err := sstable.WriteAll(w, src); err != nil {
		return err
	}
	if w.Empty() {
		// Nothing survived (shouldn't happen: rotation only enqueues
		// non-empty memtables), but handle gracefully.
		e.wal.RemoveCheckpoint(entry.checkpointName)
		e.removeFlushed(entry)
		return nil
	}

	if _, _, _, err := w.Finish(); err != nil {
		return err
	}

	tbl, err := sstable.Open(sstable.Path(e.sstDir, id), id)
	if err != nil {
		return err
	}

	for {
		old := e.readable.load()
		updated := old.withFlushed(tbl)
		if e.readable.compareAndSwap(old, updated) {
			break
		}
	}
	// Only now, with the new SSTable durably visible to readers, is it
	// safe to drop entry's memtable from the queue Get also scans.
	e.removeFlushed(entry)

	// The checkpoint was registered at this memtable's highest sequence,
	// which is also the highest sequence among its entries; WAL records up
	// to it are now in the published SSTable.
	var flushedSeq uint64
	for it := entry.mt.IterSorted(); it.Valid(); it.Next() {
		if it.Seq() > flushedSeq {
			flushedSeq = it.Seq()
		}
	}
	e.wal.RemoveCheckpoint(entry.checkpointName)
	if _, err := e.wal.CleanupUpTo(flushedSeq); err != nil {
		e.logger.Warn().Err(err).Msg("WAL cleanup after flush failed")
	}

	e.logger.Info().Uint64("sst_id", id).Int("keys", entry.mt.Len()).Msg("flushed memtable to SSTable")
	return nil
}
