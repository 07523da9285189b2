package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinAcrossCheckpoints(t *testing.T) {
	m := NewManager()
	_, ok := m.Min()
	require.False(t, ok)

	m.Register("mt-1", 100)
	m.Register("mt-2", 50)
	m.Register("mt-3", 200)

	min, ok := m.Min()
	require.True(t, ok)
	require.Equal(t, uint64(50), min)
}

func TestRemoveCheckpoint(t *testing.T) {
	m := NewManager()
	m.Register("mt-1", 10)
	m.Register("mt-2", 20)

	m.Remove("mt-1")
	min, ok := m.Min()
	require.True(t, ok)
	require.Equal(t, uint64(20), min)

	m.Remove("mt-2")
	_, ok = m.Min()
	require.False(t, ok)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m := NewManager()
	require.NotPanics(t, func() { m.Remove("nope") })
}
