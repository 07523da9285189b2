// Package engine implements the public storage API of §4.1: put/get/
// delete/flush/close over a shared WAL, a rotating pair of memtables, a
// copy-on-write set of SSTables, and a background compactor. It owns the
// data directory and coordinates every other internal/ package.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/siltkv/siltkv/internal/compaction"
	"github.com/siltkv/siltkv/internal/memtable"
	"github.com/siltkv/siltkv/internal/sstable"
	"github.com/siltkv/siltkv/internal/storageerr"
	"github.com/siltkv/siltkv/internal/wal"
)

const lockFileName = "LOCK"

// immuEntry is one queued immutable memtable awaiting flush.
type immuEntry struct {
	mt             *memtable.MemTable
	checkpointName string
}

// Engine is the concrete storage core. The zero value is not usable;
// construct with Open.
type Engine struct {
	dataDir string
	walDir  string
	sstDir  string
	cfg     Options
	logger  zerolog.Logger
	flock   *flock.Flock

	wal *wal.WAL

	// mu is the writer mutex of §5: it covers WAL append, sequence
	// assignment (inside wal), active-memtable mutation, and rotation
	// decisions. Readers take RLock to query the active memtable without
	// racing a concurrent Put; the immutable queue is guarded by immuMu.
	mu     sync.RWMutex
	active *memtable.MemTable
	closed bool

	immuMu    sync.Mutex
	immuCond  *sync.Cond
	immutable []*immuEntry

	readable *readableHolder

	nextTableID   uint64 // atomic
	checkpointSeq uint64 // atomic, monotonic suffix for checkpoint names

	degraded       atomic.Bool
	compactorState atomic.Uint32

	metrics *metrics

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open readies the engine's data directory, recovers durable state, and
// starts the flush and compaction background workers (§4.1 startup).
func Open(opts Options) (*Engine, error) {
	if err := opts.validateOrError(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "engine: mkdir data dir", err)
	}

	fl := flock.New(filepath.Join(opts.DataDir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "engine: acquire data dir lock", err)
	}
	if !locked {
		return nil, storageerr.Wrap(storageerr.KindIo, "engine: data dir already in use by another process", nil)
	}

	walDir := filepath.Join(opts.DataDir, "wal")
	sstDir := filepath.Join(opts.DataDir, "sst")
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		fl.Unlock()
		return nil, storageerr.Wrap(storageerr.KindIo, "engine: mkdir sst dir", err)
	}

	logger := opts.Logger.With().Str("component", "engine").Logger()

	walCfg := wal.Config{
		SyncMode:        opts.WALSyncMode,
		MaxSegmentBytes: opts.WALMaxSegmentBytes,
		GroupSize:       opts.WALGroupSize,
		GroupIntervalMs: opts.WALGroupIntervalMs,
	}
	w, err := wal.Open(walDir, walCfg, logger)
	if err != nil {
		fl.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	e := &Engine{
		dataDir:  opts.DataDir,
		walDir:   walDir,
		sstDir:   sstDir,
		cfg:      opts,
		logger:   logger,
		flock:    fl,
		wal:      w,
		readable: newReadableHolder(),
		metrics:  newMetrics(prometheus.DefaultRegisterer),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}
	e.immuCond = sync.NewCond(&e.immuMu)

	if err := e.recover(); err != nil {
		cancel()
		w.Close()
		fl.Unlock()
		return nil, err
	}

	group.Go(func() error { e.flushLoop(); return nil })
	group.Go(func() error { e.compactLoop(); return nil })

	return e, nil
}

// Put appends a PUT to the WAL, then inserts it into the active
// memtable. The WAL append and the memtable insert happen under one lock
// so a crash between them is impossible to observe; the wait for that
// append's durability guarantee (fsync or group-commit) happens after
// releasing the lock, so a writer never holds it across a disk sync —
// one slow GROUP-mode fsync can't stall every other writer behind it.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return storageerr.ErrInvalidKey
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return storageerr.ErrShuttingDown
	}
	if e.degraded.Load() {
		e.mu.Unlock()
		return storageerr.ErrIo
	}

	seq, confirm, err := e.wal.Append(wal.Record{Op: wal.OpPut, Key: key, Value: value})
	if err != nil {
		e.mu.Unlock()
		return err
	}

	shouldFlush := e.active.Put(key, value, seq)
	var rotateErr error
	if shouldFlush {
		rotateErr = e.rotateLocked()
	}
	e.mu.Unlock()

	if err := confirm(); err != nil {
		return err
	}
	return rotateErr
}

// Delete records a tombstone for key; a subsequent Get returns "not
// found" until a later Put. See Put for why the durability wait happens
// outside the writer lock.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return storageerr.ErrInvalidKey
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return storageerr.ErrShuttingDown
	}
	if e.degraded.Load() {
		e.mu.Unlock()
		return storageerr.ErrIo
	}

	seq, confirm, err := e.wal.Append(wal.Record{Op: wal.OpDelete, Key: key})
	if err != nil {
		e.mu.Unlock()
		return err
	}

	shouldFlush := e.active.Delete(key, seq)
	var rotateErr error
	if shouldFlush {
		rotateErr = e.rotateLocked()
	}
	e.mu.Unlock()

	if err := confirm(); err != nil {
		return err
	}
	return rotateErr
}

// Get searches the active memtable, then immutable memtables (newest
// first), then SSTables (newest id first), stopping at the first hit. A
// DELETE hit at any layer reports "not found".
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, false, storageerr.ErrShuttingDown
	}
	res := e.active.Get(key)
	e.mu.RUnlock()
	if res.Status != memtable.Absent {
		return resultOf(res)
	}

	// e.immutable is guarded by immuMu alone (not mu), the same lock the
	// flush worker pops it under, so this scan can never race a pop nor
	// observe a memtable that flushOne has already removed from the
	// queue without yet publishing its replacement SSTable.
	e.immuMu.Lock()
	for i := len(e.immutable) - 1; i >= 0; i-- {
		if res := e.immutable[i].mt.Get(key); res.Status != memtable.Absent {
			e.immuMu.Unlock()
			return resultOf(res)
		}
	}
	e.immuMu.Unlock()

	rs := e.readable.loadPinned()
	defer e.readable.release(rs)
	for _, te := range rs.tables {
		te.table.Acquire()
		status, val, err := te.table.Get(key)
		te.table.Release()
		if err != nil {
			e.logger.Warn().Err(err).Uint64("sst_id", te.table.ID).Msg("skipping unreadable SSTable during lookup")
			continue
		}
		switch status {
		case sstable.Present:
			return val, true, nil
		case sstable.Tombstone:
			return nil, false, nil
		}
	}
	return nil, false, nil
}

func resultOf(res memtable.GetResult) ([]byte, bool, error) {
	if res.Status == memtable.TombstoneFound {
		return nil, false, nil
	}
	return res.Value, true, nil
}

// Flush rotates the active memtable to immutable and schedules a
// background flush; it returns once the flush has been enqueued, not
// once it has completed.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storageerr.ErrShuttingDown
	}
	if e.active.IsEmpty() {
		return nil
	}
	return e.rotateLocked()
}

// rotateLocked must be called with mu held for writing. It marks the
// active memtable immutable, registers a checkpoint at its highest
// sequence, and allocates a fresh active memtable (§4.1 rotation policy).
func (e *Engine) rotateLocked() error {
	e.immuMu.Lock()
	if len(e.immutable) >= e.cfg.MaxImmutableMemtables {
		e.immuMu.Unlock()
		return storageerr.ErrBackpressure
	}

	gen := atomic.AddUint64(&e.checkpointSeq, 1)
	name := fmt.Sprintf("imm-%d", gen)
	e.wal.Checkpoint(name)

	e.immutable = append(e.immutable, &immuEntry{mt: e.active, checkpointName: name})
	e.active = memtable.New(e.cfg.MemtableMaxBytes)
	e.immuCond.Signal()
	e.immuMu.Unlock()
	return nil
}

// Stats is the read-only snapshot described in §6.
type Stats struct {
	SSTableCount    int
	BytesOnDisk     int64
	PendingFlushes  int
	WALSegmentCount int
	HighestSequence uint64
}

// Stats returns a point-in-time snapshot of the engine's size and
// pending-work counters.
func (e *Engine) Stats() Stats {
	rs := e.readable.load()

	e.immuMu.Lock()
	pending := len(e.immutable)
	e.immuMu.Unlock()

	s := Stats{
		SSTableCount:    len(rs.tables),
		PendingFlushes:  pending,
		WALSegmentCount: e.wal.SegmentCount(),
		HighestSequence: e.wal.HighestSequence(),
	}
	e.metrics.update(s)
	return s
}

// Close triggers a cooperative shutdown: new writes are refused, pending
// flush/compaction finish, the WAL is synced and closed, and background
// workers exit. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.group.Wait()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	e.immuMu.Lock()
	e.immuCond.Broadcast()
	e.immuMu.Unlock()

	e.group.Wait()

	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	rs := e.readable.load()
	for _, te := range rs.tables {
		if err := te.table.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := e.flock.Unlock(); err != nil && firstErr == nil {
		firstErr = storageerr.Wrap(storageerr.KindIo, "engine: release data dir lock", err)
	}

	return firstErr
}

func (e *Engine) nextTableIDValue() uint64 {
	return atomic.AddUint64(&e.nextTableID, 1)
}

func (e *Engine) setCompactionState(s compaction.State) {
	e.compactorState.Store(uint32(s))
}

// CompactionState reports the compactor's current position in the
// Idle -> Scanning -> Selecting -> Merging -> Publishing -> Idle cycle.
func (e *Engine) CompactionState() compaction.State {
	return compaction.State(e.compactorState.Load())
}
