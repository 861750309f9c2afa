package klist_test

import (
	"testing"

	"github.com/exos-project/exoscore/pkg/klist"
	"github.com/stretchr/testify/assert"
)

func TestFIFOOrder(t *testing.T) {
	var l klist.List[int]
	l.AddTail(1)
	l.AddTail(2)
	l.AddTail(3)

	assert.Equal(t, 3, l.Len())

	v, ok := l.RemoveHead()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = l.RemoveHead()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 1, l.Len())
}

func TestAddHead(t *testing.T) {
	var l klist.List[string]
	l.AddTail("b")
	l.AddHead("a")

	v, _ := l.RemoveHead()
	assert.Equal(t, "a", v)
	v, _ = l.RemoveHead()
	assert.Equal(t, "b", v)
}

func TestRemoveArbitrary(t *testing.T) {
	var l klist.List[int]
	e1 := l.AddTail(1)
	e2 := l.AddTail(2)
	l.AddTail(3)

	l.Remove(e2)
	assert.Equal(t, 2, l.Len())

	var got []int
	l.Each(func(e *klist.Elem[int]) { got = append(got, e.Value) })
	assert.Equal(t, []int{1, 3}, got)

	l.Remove(e1)
	v, _ := l.RemoveHead()
	assert.Equal(t, 3, v)
}

func TestRemoveHeadOnEmpty(t *testing.T) {
	var l klist.List[int]
	_, ok := l.RemoveHead()
	assert.False(t, ok)
}

func TestEachCanRemoveCurrent(t *testing.T) {
	var l klist.List[int]
	l.AddTail(1)
	l.AddTail(2)
	l.AddTail(3)

	l.Each(func(e *klist.Elem[int]) {
		if e.Value == 2 {
			l.Remove(e)
		}
	})

	var got []int
	l.Each(func(e *klist.Elem[int]) { got = append(got, e.Value) })
	assert.Equal(t, []int{1, 3}, got)
}
