package radixtree_test

import (
	"math/rand"
	"testing"

	"github.com/exos-project/exoscore/pkg/radixtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFind(t *testing.T) {
	tree := radixtree.New[uintptr]()

	ok := tree.Insert(42, 0xDEAD0000)
	require.True(t, ok)

	value, found := tree.Find(42)
	assert.True(t, found)
	assert.Equal(t, uintptr(0xDEAD0000), value)

	_, found = tree.Find(43)
	assert.False(t, found)
}

func TestRemove(t *testing.T) {
	tree := radixtree.New[uintptr]()
	tree.Insert(7, 1)

	assert.True(t, tree.Remove(7))
	assert.False(t, tree.Remove(7))

	_, found := tree.Find(7)
	assert.False(t, found)
	assert.Equal(t, 0, tree.Count())
}

// TestHandleTableStress mirrors spec §8 scenario 4: insert handles
// 0..4095 with random values, confirm every Find succeeds, remove them
// all in reverse order, and confirm the tree is fully drained.
func TestHandleTableStress(t *testing.T) {
	tree := radixtree.New[uintptr]()
	const n = 4096

	values := make([]uintptr, n)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		values[i] = uintptr(rng.Uint32())
		require.True(t, tree.Insert(uint32(i), values[i]))
	}

	for i := 0; i < n; i++ {
		value, found := tree.Find(uint32(i))
		require.True(t, found)
		assert.Equal(t, values[i], value)
	}

	assert.Equal(t, n, tree.Count())

	for i := n - 1; i >= 0; i-- {
		require.True(t, tree.Remove(uint32(i)))
	}

	assert.Equal(t, 0, tree.Count())
	assert.Equal(t, 0, tree.RootPopulatedSlots())
}

func TestIterate(t *testing.T) {
	tree := radixtree.New[uintptr]()
	want := map[uint32]uintptr{1: 10, 2: 20, 300: 30}
	for k, v := range want {
		tree.Insert(k, v)
	}

	got := map[uint32]uintptr{}
	tree.Iterate(func(key uint32, value uintptr) bool {
		got[key] = value
		return true
	})

	assert.Equal(t, want, got)
}

func TestIterateStopsEarly(t *testing.T) {
	tree := radixtree.New[uintptr]()
	tree.Insert(1, 1)
	tree.Insert(2, 2)
	tree.Insert(3, 3)

	visited := 0
	tree.Iterate(func(key uint32, value uintptr) bool {
		visited++
		return false
	})

	assert.Equal(t, 1, visited)
}
