package kcache_test

import (
	"testing"
	"time"

	"github.com/exos-project/exoscore/pkg/kcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndFind(t *testing.T) {
	c := kcache.New[string](4)
	require.True(t, c.Add("hello", time.Minute))

	got, ok := c.Find(func(s string) bool { return s == "hello" })
	assert.True(t, ok)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, c.Count())
}

func TestExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	c := kcache.NewWithClock[string](4, clock)
	c.Add("x", time.Second)

	now = now.Add(2 * time.Second)
	_, ok := c.Find(func(s string) bool { return s == "x" })
	assert.False(t, ok)
	assert.Equal(t, 0, c.Count())
}

func TestEvictsLowestScoreWhenFull(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	c := kcache.NewWithClock[string](2, clock)

	c.Add("a", time.Hour)
	c.Add("b", time.Hour)

	// Repeatedly match "b" to raise its score relative to "a".
	for i := 0; i < 3; i++ {
		c.Find(func(s string) bool { return s == "b" })
	}

	// Cache full: adding "c" should evict the lower-scored "a".
	c.Add("c", time.Hour)

	_, foundA := c.Find(func(s string) bool { return s == "a" })
	_, foundB := c.Find(func(s string) bool { return s == "b" })
	_, foundC := c.Find(func(s string) bool { return s == "c" })

	assert.False(t, foundA)
	assert.True(t, foundB)
	assert.True(t, foundC)
}

func TestCleanupRemovesExpired(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	c := kcache.NewWithClock[int](4, clock)
	c.Add(1, time.Second)

	now = now.Add(2 * time.Second)
	c.Cleanup()
	assert.Equal(t, 0, c.Count())
}
