package engine

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testOptions(dir string) Options {
	o := DefaultOptions(dir)
	o.MemtableMaxBytes = 4 << 10
	o.MaxImmutableMemtables = 2
	o.CompactionIntervalMs = 30
	o.CompactionTriggerCount = 2
	return o
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	val, ok, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(val))

	require.NoError(t, e.Delete([]byte("a")))
	_, ok, err = e.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEmptyKeyRejected(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer e.Close()

	require.Error(t, e.Put(nil, []byte("x")))
	require.Error(t, e.Delete(nil))
}

func TestRotationFlushesToSSTable(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer e.Close()

	value := make([]byte, 512)
	for i := 0; i < 64; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e.Put(key, value))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Stats().SSTableCount > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Greater(t, e.Stats().SSTableCount, 0)

	val, ok, err := e.Get([]byte("key-0000"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value, val)
}

func TestExplicitFlush(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("only-key"), []byte("v")))
	require.NoError(t, e.Flush())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Stats().PendingFlushes == 0 && e.Stats().SSTableCount > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 0, e.Stats().PendingFlushes)
	require.Greater(t, e.Stats().SSTableCount, 0)
}

func TestRecoveryReplaysWALAndLoadsExistingSSTables(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	e, err := Open(testOptions(dir))
	require.NoError(t, err)

	require.NoError(t, e.Put([]byte("flushed"), []byte("before-restart")))
	require.NoError(t, e.Flush())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.Stats().PendingFlushes > 0 {
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, e.Put([]byte("unflushed"), []byte("still-in-wal")))
	require.NoError(t, e.Close())

	opts := testOptions(dir)
	e2, err := Open(opts)
	require.NoError(t, err)
	defer e2.Close()

	val, ok, err := e2.Get([]byte("flushed"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "before-restart", string(val))

	val, ok, err = e2.Get([]byte("unflushed"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "still-in-wal", string(val))

	require.Greater(t, e2.Stats().SSTableCount, 0)
}

func TestCompactionMergesFlushedTables(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer e.Close()

	value := make([]byte, 512)
	for round := 0; round < 3; round++ {
		for i := 0; i < 16; i++ {
			key := []byte(fmt.Sprintf("r%d-key-%04d", round, i))
			require.NoError(t, e.Put(key, value))
		}
		require.NoError(t, e.Flush())
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && e.Stats().PendingFlushes > 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}

	time.Sleep(200 * time.Millisecond)

	val, ok, err := e.Get([]byte("r0-key-0000"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value, val)
}

func TestSecondOpenFailsWhileFirstHoldsLock(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer e.Close()

	_, err = Open(testOptions(dir))
	require.Error(t, err)
}
