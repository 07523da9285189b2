package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestWAL(t *testing.T, dir string, cfg Config) *WAL {
	t.Helper()
	w, err := Open(dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = w.Recover(func(Record) {})
	require.NoError(t, err)
	return w
}

func TestLogPutAssignsIncreasingSeq(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir, DefaultConfig())
	defer w.Close()

	seq1, err := w.LogPut([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	seq2, err := w.LogPut([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	require.Greater(t, seq2, seq1)
}

func TestDeleteRecordHasNoValue(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir, DefaultConfig())

	_, err := w.LogPut([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = w.LogDelete([]byte("k1"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var recs []Record
	w2, err := Open(dir, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer w2.Close()
	_, err = w2.Recover(func(r Record) { recs = append(recs, r) })
	require.NoError(t, err)

	require.Len(t, recs, 2)
	require.Equal(t, OpDelete, recs[1].Op)
	require.Empty(t, recs[1].Value)
}

func TestRecoveryReplaysAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SyncMode = SyncAlways

	w := openTestWAL(t, dir, cfg)
	_, err := w.LogPut([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = w.LogPut([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	_, err = w.LogDelete([]byte("k1"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	applied := map[string]Record{}
	w2, err := Open(dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer w2.Close()
	maxSeq, err := w2.Recover(func(r Record) { applied[string(r.Key)] = r })
	require.NoError(t, err)
	require.Equal(t, uint64(3), maxSeq)
	require.Equal(t, OpDelete, applied["k1"].Op)
	require.Equal(t, []byte("v2"), applied["k2"].Value)
}

func TestCorruptTailIsDiscardedAndPrecedingRecordsSurvive(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SyncMode = SyncAlways

	w := openTestWAL(t, dir, cfg)
	_, err := w.LogPut([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = w.LogPut([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	// Corrupt the final bytes of the segment in place (S6).
	f, err := os.OpenFile(segs[0].path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, info.Size()-7)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var recovered []Record
	w2, err := Open(dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer w2.Close()
	_, err = w2.Recover(func(r Record) { recovered = append(recovered, r) })
	require.NoError(t, err)

	require.Len(t, recovered, 1)
	require.Equal(t, "k1", string(recovered[0].Key))
}

func TestRotationCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxSegmentBytes = 64 // force rotation almost immediately
	cfg.SyncMode = SyncAlways

	w := openTestWAL(t, dir, cfg)
	defer w.Close()

	for i := 0; i < 20; i++ {
		_, err := w.LogPut([]byte("key"), []byte("0123456789"))
		require.NoError(t, err)
	}

	require.GreaterOrEqual(t, w.SegmentCount(), 2)
}

func TestCleanupUpToNeverDeletesActiveSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxSegmentBytes = 64
	cfg.SyncMode = SyncAlways

	w := openTestWAL(t, dir, cfg)
	defer w.Close()

	for i := 0; i < 20; i++ {
		_, err := w.LogPut([]byte("key"), []byte("0123456789"))
		require.NoError(t, err)
	}

	before := w.SegmentCount()
	require.GreaterOrEqual(t, before, 2)

	deleted, err := w.CleanupUpTo(w.HighestSequence())
	require.NoError(t, err)
	require.GreaterOrEqual(t, deleted, 1)
	require.GreaterOrEqual(t, w.SegmentCount(), 1)

	remaining, err := listSegments(dir)
	require.NoError(t, err)
	require.NotEmpty(t, remaining)
}

func TestCleanupRespectsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxSegmentBytes = 64
	cfg.SyncMode = SyncAlways

	w := openTestWAL(t, dir, cfg)
	defer w.Close()

	var ckptSeq, lastSeq uint64
	for i := 0; i < 20; i++ {
		seq, err := w.LogPut([]byte("key"), []byte("0123456789"))
		require.NoError(t, err)
		lastSeq = seq
		if i == 9 {
			ckptSeq = w.Checkpoint("held-back")
		}
	}
	require.Less(t, ckptSeq, lastSeq)

	_, err := w.CleanupUpTo(lastSeq)
	require.NoError(t, err)

	// The segment holding the first record after the checkpoint survives.
	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	require.LessOrEqual(t, segs[0].startSeq, ckptSeq+1)
}

func TestGroupSyncReturnsAfterThreshold(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SyncMode = SyncGroup
	cfg.GroupSize = 4
	cfg.GroupIntervalMs = 60000

	w := openTestWAL(t, dir, cfg)
	defer w.Close()

	// Each LogPut blocks until its group syncs, so the four writes must be
	// in flight together for the fourth to reach GroupSize and trigger the
	// sync long before the 60s interval.
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := w.LogPut([]byte("k"), []byte("v"))
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
	}
}

func TestSegmentNameSortsChronologically(t *testing.T) {
	name1 := segmentName(100, 1)
	name2 := segmentName(200, 50)
	require.Less(t, name1, name2)
	require.True(t, filepath.IsAbs(filepath.Join("/x", name1)))
}
