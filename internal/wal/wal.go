// Package wal implements the append-only, CRC-checked write-ahead log of
// §4.2: durable PUT/DELETE records, configurable sync policy, rotation into
// timestamped segments, checkpoint-aware cleanup, and crash recovery that
// discards a corrupt or partial tail without synthesizing data.
package wal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/siltkv/siltkv/internal/checkpoint"
	"github.com/siltkv/siltkv/internal/storageerr"
)

// Config controls sync policy and rotation thresholds (§6's engine
// configuration table, WAL-relevant subset).
type Config struct {
	SyncMode          SyncMode
	MaxSegmentBytes   int64
	GroupSize         int
	GroupIntervalMs   int
}

// DefaultConfig matches §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		SyncMode:        SyncGroup,
		MaxSegmentBytes: 64 << 20,
		GroupSize:       100,
		GroupIntervalMs: 1000,
	}
}

// WAL is the durable append-only log shared by the engine's active and
// immutable memtables. A single WAL instance owns the monotonic sequence
// counter (§3: "assigned by the engine at WAL-append time").
type WAL struct {
	dir    string
	cfg    Config
	logger zerolog.Logger

	checkpoints *checkpoint.Manager

	writeMu sync.Mutex
	active  *segment
	sealed  []*segment // closed segments still on disk, ascending order
	nextSeq uint64

	groupMu      sync.Mutex
	groupCond    *sync.Cond
	pendingCount int
	targetGen    uint64
	committedGen uint64
	groupErr     error

	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Open prepares dir (creating it if needed) and, in GROUP mode, starts the
// group-commit timer; it does not read existing segments. Call Recover
// before issuing new appends so the sequence counter starts above every
// previously durable record.
func Open(dir string, cfg Config, logger zerolog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "wal: mkdir", err)
	}

	w := &WAL{
		dir:         dir,
		cfg:         cfg,
		logger:      logger.With().Str("component", "wal").Logger(),
		checkpoints: checkpoint.NewManager(),
		stopCh:      make(chan struct{}),
	}
	w.groupCond = sync.NewCond(&w.groupMu)

	if cfg.SyncMode == SyncGroup {
		w.wg.Add(1)
		go w.groupTimerLoop(time.Duration(cfg.GroupIntervalMs) * time.Millisecond)
	}

	return w, nil
}

// Recover replays every segment in chronological order, applying each
// valid record to apply and stopping a segment's scan at its first
// corrupt/truncated record before continuing with the next segment. After
// Recover returns, the WAL is ready to accept new appends: the newest
// segment (truncated to its last verified record, if its tail was bad)
// becomes the active segment, or a fresh segment is created if none exist.
func (w *WAL) Recover(apply func(Record)) (maxSeq uint64, err error) {
	infos, err := listSegments(w.dir)
	if err != nil {
		return 0, storageerr.Wrap(storageerr.KindIo, "wal: list segments", err)
	}

	var sealedSegs []*segment
	var lastResult recoverResult
	var lastInfo segmentInfo

	for i, info := range infos {
		result, rerr := recoverSegment(info.path, apply)
		if rerr != nil {
			return maxSeq, rerr
		}
		if result.truncated {
			w.logger.Warn().Str("segment", filepath.Base(info.path)).
				Int("records_recovered", result.recordCount).
				Msg("corrupt or truncated WAL tail; discarding remainder of segment")
		}
		if result.maxSeq > maxSeq {
			maxSeq = result.maxSeq
		}

		isLast := i == len(infos)-1
		if isLast {
			lastResult = result
			lastInfo = info
			continue
		}
		sealedSegs = append(sealedSegs, &segment{
			path: info.path, startSeq: info.startSeq, createdAt: info.createdAt,
			size: result.validSize, maxSeq: result.maxSeq,
		})
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.sealed = sealedSegs
	w.nextSeq = maxSeq + 1

	if len(infos) == 0 {
		seg, cerr := createSegment(w.dir, w.nextSeq, nowUnixNano())
		if cerr != nil {
			return maxSeq, cerr
		}
		w.active = seg
		return maxSeq, nil
	}

	seg, operr := openSegmentForAppend(lastInfo, lastResult.validSize, lastResult.maxSeq)
	if operr != nil {
		return maxSeq, operr
	}
	w.active = seg
	return maxSeq, nil
}

// LogPut appends a PUT record and returns its assigned sequence number,
// once the configured sync policy's durability guarantee is satisfied.
func (w *WAL) LogPut(key, value []byte) (uint64, error) {
	seq, confirm, err := w.Append(Record{Op: OpPut, Key: key, Value: value})
	if err != nil {
		return 0, err
	}
	return seq, confirm()
}

// LogDelete appends a DELETE (tombstone) record and returns its assigned
// sequence number, once the configured sync policy's durability
// guarantee is satisfied.
func (w *WAL) LogDelete(key []byte) (uint64, error) {
	seq, confirm, err := w.Append(Record{Op: OpDelete, Key: key})
	if err != nil {
		return 0, err
	}
	return seq, confirm()
}

// Append writes rec to the active segment and assigns it a sequence
// number, but does not wait for the configured sync policy's durability
// confirmation. The returned confirm func performs that wait (an fsync
// for ALWAYS, a blocking wait on the current group-commit cycle for
// GROUP, or a no-op for ASYNC) and must be invoked exactly once.
//
// This split lets a caller that needs the append ordered with some
// other in-memory update under its own lock — the engine inserts into
// the active memtable using the returned seq — release that lock before
// waiting on confirm, so the writer lock is never held across a disk
// sync.
func (w *WAL) Append(rec Record) (seq uint64, confirm func() error, err error) {
	w.writeMu.Lock()
	if w.closed {
		w.writeMu.Unlock()
		return 0, nil, storageerr.ErrShuttingDown
	}

	seq = w.nextSeq
	w.nextSeq++
	rec.Seq = seq

	buf := encodeRecord(rec)
	if werr := w.active.write(buf); werr != nil {
		w.writeMu.Unlock()
		return 0, nil, werr
	}
	w.active.maxSeq = seq

	var rotateErr error
	if w.active.size >= w.cfg.MaxSegmentBytes {
		rotateErr = w.rotateLocked()
	}
	w.writeMu.Unlock()

	if rotateErr != nil {
		return seq, func() error { return rotateErr }, nil
	}

	switch w.cfg.SyncMode {
	case SyncAlways:
		return seq, w.Sync, nil
	case SyncGroup:
		return seq, w.waitForGroupSync, nil
	default: // SyncAsync: durability relies on the OS page cache.
		return seq, func() error { return nil }, nil
	}
}

// waitForGroupSync blocks the caller until the group containing its append
// has been fsynced, triggering an immediate sync if the group has reached
// GroupSize.
func (w *WAL) waitForGroupSync() error {
	w.groupMu.Lock()
	w.pendingCount++
	myGen := w.targetGen + 1
	w.targetGen = myGen
	reachedThreshold := w.pendingCount >= w.cfg.GroupSize
	w.groupMu.Unlock()

	if reachedThreshold {
		return w.doGroupSync()
	}

	w.groupMu.Lock()
	for w.committedGen < myGen && w.groupErr == nil {
		w.groupCond.Wait()
	}
	err := w.groupErr
	w.groupMu.Unlock()
	return err
}

func (w *WAL) doGroupSync() error {
	w.writeMu.Lock()
	err := w.syncLocked()
	w.writeMu.Unlock()

	w.groupMu.Lock()
	if err != nil {
		w.groupErr = err
	} else {
		w.committedGen = w.targetGen
	}
	w.pendingCount = 0
	w.groupCond.Broadcast()
	w.groupMu.Unlock()
	return err
}

func (w *WAL) groupTimerLoop(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.groupMu.Lock()
			hasPending := w.pendingCount > 0
			w.groupMu.Unlock()
			if hasPending {
				_ = w.doGroupSync()
			}
		case <-w.stopCh:
			return
		}
	}
}

// Sync fsyncs the active segment unconditionally.
func (w *WAL) Sync() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if w.active == nil {
		return nil
	}
	return w.active.sync()
}

// Rotate forces the active segment to close (after an fsync) and opens a
// fresh one, regardless of its current size.
func (w *WAL) Rotate() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.rotateLocked()
}

func (w *WAL) rotateLocked() error {
	if err := w.active.sync(); err != nil {
		return err
	}
	sealed := w.active
	if err := sealed.close(); err != nil {
		return err
	}
	w.sealed = append(w.sealed, sealed)

	seg, err := createSegment(w.dir, w.nextSeq, nowUnixNano())
	if err != nil {
		return err
	}
	w.active = seg
	w.logger.Debug().Str("segment", filepath.Base(seg.path)).Msg("rotated WAL segment")
	return nil
}

// Checkpoint registers a named checkpoint at the WAL's current highest
// assigned sequence and returns that sequence.
func (w *WAL) Checkpoint(name string) uint64 {
	w.writeMu.Lock()
	seq := w.nextSeq - 1
	w.writeMu.Unlock()
	w.checkpoints.Register(name, seq)
	return seq
}

// RemoveCheckpoint drops a previously registered checkpoint.
func (w *WAL) RemoveCheckpoint(name string) {
	w.checkpoints.Remove(name)
}

// CleanupUpTo deletes sealed segments whose highest contained sequence is
// <= min(seq, the lowest live checkpoint). The active segment is never
// deleted (§4.2).
func (w *WAL) CleanupUpTo(seq uint64) (deleted int, err error) {
	bound := seq
	if minCkpt, ok := w.checkpoints.Min(); ok && minCkpt < bound {
		bound = minCkpt
	}

	w.writeMu.Lock()
	var keep []*segment
	var toDelete []*segment
	for _, s := range w.sealed {
		if s.maxSeq <= bound {
			toDelete = append(toDelete, s)
		} else {
			keep = append(keep, s)
		}
	}
	w.sealed = keep
	w.writeMu.Unlock()

	for _, s := range toDelete {
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			if err == nil {
				err = storageerr.Wrap(storageerr.KindIo, "wal: remove segment", rmErr)
			}
			continue
		}
		deleted++
	}
	return deleted, err
}

// SegmentCount reports the number of segment files currently on disk
// (sealed + active), for stats().
func (w *WAL) SegmentCount() int {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return len(w.sealed) + 1
}

// HighestSequence reports the highest sequence number assigned so far.
func (w *WAL) HighestSequence() uint64 {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.nextSeq == 0 {
		return 0
	}
	return w.nextSeq - 1
}

// Close drains pending group-commit waiters, fsyncs, and closes every open
// segment. Idempotent.
func (w *WAL) Close() error {
	w.writeMu.Lock()
	if w.closed {
		w.writeMu.Unlock()
		w.wg.Wait()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.writeMu.Unlock()

	w.wg.Wait()

	w.groupMu.Lock()
	if w.groupErr == nil {
		w.groupErr = storageerr.ErrShuttingDown
	}
	w.groupCond.Broadcast()
	w.groupMu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	var firstErr error
	if w.active != nil {
		if err := w.active.sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.active.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}
