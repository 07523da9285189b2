package kv

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "test-db")
	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test-db")
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestPutGet(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("key1"), []byte("value1")))
	val, err := db.Get([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value1", string(val))
}

func TestGetNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get([]byte("nonexistent"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("key1"), []byte("value1")))
	require.NoError(t, db.Delete([]byte("key1")))

	_, err := db.Get([]byte("key1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("key1"), []byte("value1")))
	require.NoError(t, db.Put([]byte("key1"), []byte("value2")))

	val, err := db.Get([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value2", string(val))
}

func TestMultipleKeys(t *testing.T) {
	db := openTestDB(t)

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}
	for k, v := range testData {
		require.NoError(t, db.Put([]byte(k), []byte(v)))
	}
	for k, want := range testData {
		val, err := db.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, want, string(val))
	}
}

func TestDeleteNonExistent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Delete([]byte("nonexistent")))
}

func TestClosedDB(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test-db")
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.ErrorIs(t, db.Put([]byte("key"), []byte("value")), ErrClosed)
	require.ErrorIs(t, db.Delete([]byte("key")), ErrClosed)
}

func TestStatsReflectsFlush(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("key1"), []byte("value1")))
	require.NoError(t, db.Flush())

	require.Eventually(t, func() bool {
		return db.Stats().SSTableCount > 0 && db.Stats().PendingFlushes == 0
	}, 2*time.Second, 10*time.Millisecond)
}
