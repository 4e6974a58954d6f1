package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedMapEvictsOldestOverCap(t *testing.T) {
	m := newBoundedMap(2)
	m.set("a", 1)
	m.set("b", 2)
	m.set("c", 3)

	_, ok := m.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	v, ok := m.get("b")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)

	v, ok = m.get("c")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
}

func TestBoundedMapSetOverwritesWithoutEviction(t *testing.T) {
	m := newBoundedMap(2)
	m.set("a", 1)
	m.set("a", 2)
	m.set("b", 3)

	v, ok := m.get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
	v, ok = m.get("b")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
}

func TestBoundedMapPruneDropsUnseenKeys(t *testing.T) {
	m := newBoundedMap(10)
	m.set("a", 1)
	m.set("b", 2)
	m.set("c", 3)

	m.prune(map[string]bool{"b": true})

	_, ok := m.get("a")
	assert.False(t, ok)
	_, ok = m.get("c")
	assert.False(t, ok)
	v, ok := m.get("b")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
}
