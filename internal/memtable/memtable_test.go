package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutThenGet(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("k1"), []byte("v1"), 1)

	res := m.Get([]byte("k1"))
	require.Equal(t, Present, res.Status)
	require.Equal(t, []byte("v1"), res.Value)
}

func TestOverwriteKeepsLatest(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("k1"), []byte("v1"), 1)
	m.Put([]byte("k1"), []byte("v2"), 2)

	res := m.Get([]byte("k1"))
	require.Equal(t, Present, res.Status)
	require.Equal(t, []byte("v2"), res.Value)
}

func TestDeleteShadowsPut(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("k1"), []byte("v1"), 1)
	m.Delete([]byte("k1"), 2)

	res := m.Get([]byte("k1"))
	require.Equal(t, TombstoneFound, res.Status)
}

func TestPutAfterDeleteRestoresVisibility(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("k1"), []byte("v1"), 1)
	m.Delete([]byte("k1"), 2)
	m.Put([]byte("k1"), []byte("v3"), 3)

	res := m.Get([]byte("k1"))
	require.Equal(t, Present, res.Status)
	require.Equal(t, []byte("v3"), res.Value)
}

func TestEmptyValueIsPresentNotTombstone(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("k1"), []byte{}, 1)

	res := m.Get([]byte("k1"))
	require.Equal(t, Present, res.Status)
	require.Empty(t, res.Value)
	require.NotEqual(t, TombstoneFound, res.Status)
}

func TestAbsentKey(t *testing.T) {
	m := New(1 << 20)
	res := m.Get([]byte("nope"))
	require.Equal(t, Absent, res.Status)
}

func TestShouldFlushOnceThresholdCrossed(t *testing.T) {
	m := New(16)
	flushed := false
	flushed = flushed || m.Put([]byte("aaaaaaaa"), []byte("bbbbbbbb"), 1)
	require.True(t, flushed)
}

func TestSizeAccountingShrinksOnTombstoneOverwrite(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("k1"), []byte("0123456789"), 1)
	sizeAfterPut := m.SizeBytes()

	m.Delete([]byte("k1"), 2)
	require.Less(t, m.SizeBytes(), sizeAfterPut)
}

func TestIterSortedIsAscending(t *testing.T) {
	m := New(1 << 20)
	m.Put([]byte("c"), []byte("3"), 3)
	m.Put([]byte("a"), []byte("1"), 1)
	m.Put([]byte("b"), []byte("2"), 2)

	var keys []string
	for it := m.IterSorted(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestLenAndIsEmpty(t *testing.T) {
	m := New(1 << 20)
	require.True(t, m.IsEmpty())
	require.Equal(t, 0, m.Len())

	m.Put([]byte("k"), []byte("v"), 1)
	require.False(t, m.IsEmpty())
	require.Equal(t, 1, m.Len())

	m.Put([]byte("k"), []byte("v2"), 2)
	require.Equal(t, 1, m.Len(), "overwrite must not grow key count")
}
