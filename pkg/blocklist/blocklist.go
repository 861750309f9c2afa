// Package blocklist implements a fixed-size slab allocator, the allocation
// strategy the kernel heap's block-header pool builds on. Objects
// are carved out of fixed-capacity "slabs" (slices of T); a free list
// threads together released slots so allocation and release are O(1).
//
// Unlike the C original, objects are addressed by an opaque Ref (a
// slab/slot pair) rather than a raw pointer: Go's allocator already owns
// the backing memory, so Ref exists only to name a slot, not to manage
// storage.
package blocklist

import (
	"fmt"
	"sync"
)

// Ref names one slot in a List.
type Ref uint32

const noNext = ^uint32(0)

type slot[T any] struct {
	value  T
	inUse  bool
	next   uint32 // free-list link, index into the slab's flat slot space; noNext terminates
}

// List is a slab allocator for fixed-size objects of type T.
type List[T any] struct {
	mu             sync.Mutex
	objectsPerSlab int
	slabs          [][]slot[T]
	freeHead       uint32 // global flat index, or noNext
	usedCount      int
	freeCount      int
	highWaterMark  int
}

// New creates a List that allocates objectsPerSlab objects per slab and
// pre-allocates initialSlabCount slabs up front.
func New[T any](objectsPerSlab, initialSlabCount int) (*List[T], error) {
	if objectsPerSlab <= 0 {
		return nil, fmt.Errorf("blocklist: objectsPerSlab must be > 0, got %d", objectsPerSlab)
	}
	l := &List[T]{
		objectsPerSlab: objectsPerSlab,
		freeHead:       noNext,
	}
	for i := 0; i < initialSlabCount; i++ {
		if err := l.growLocked(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *List[T]) growLocked() error {
	slabIndex := len(l.slabs)
	slab := make([]slot[T], l.objectsPerSlab)
	base := uint32(slabIndex * l.objectsPerSlab)

	// Thread every new slot onto the free list, most recently added first.
	for i := l.objectsPerSlab - 1; i >= 0; i-- {
		slab[i].next = l.freeHead
		l.freeHead = base + uint32(i)
	}

	l.slabs = append(l.slabs, slab)
	l.freeCount += l.objectsPerSlab
	return nil
}

func (l *List[T]) locate(ref uint32) (slabIndex, slotIndex int, ok bool) {
	if l.objectsPerSlab == 0 {
		return 0, 0, false
	}
	slabIndex = int(ref) / l.objectsPerSlab
	slotIndex = int(ref) % l.objectsPerSlab
	if slabIndex < 0 || slabIndex >= len(l.slabs) {
		return 0, 0, false
	}
	return slabIndex, slotIndex, true
}

// Allocate returns a new zero-valued object and its Ref, growing the
// allocator by one slab if it is out of free slots.
func (l *List[T]) Allocate() (Ref, *T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.freeHead == noNext {
		if err := l.growLocked(); err != nil {
			return 0, nil, false
		}
	}

	ref := l.freeHead
	slabIndex, slotIndex, ok := l.locate(ref)
	if !ok {
		return 0, nil, false
	}
	s := &l.slabs[slabIndex][slotIndex]
	l.freeHead = s.next
	s.inUse = true
	var zero T
	s.value = zero
	l.usedCount++
	l.freeCount--
	if l.usedCount > l.highWaterMark {
		l.highWaterMark = l.usedCount
	}
	return Ref(ref), &s.value, true
}

// Free returns ref to the allocator. It reports false if ref is out of
// range or already free.
func (l *List[T]) Free(ref Ref) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	slabIndex, slotIndex, ok := l.locate(uint32(ref))
	if !ok {
		return false
	}
	s := &l.slabs[slabIndex][slotIndex]
	if !s.inUse {
		return false
	}
	s.inUse = false
	s.next = l.freeHead
	l.freeHead = uint32(ref)
	l.usedCount--
	l.freeCount++
	return true
}

// Get returns a pointer to the object at ref if it is currently allocated.
func (l *List[T]) Get(ref Ref) (*T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slabIndex, slotIndex, ok := l.locate(uint32(ref))
	if !ok {
		return nil, false
	}
	s := &l.slabs[slabIndex][slotIndex]
	if !s.inUse {
		return nil, false
	}
	return &s.value, true
}

// Reserve grows the allocator, if needed, until at least desiredFree slots
// are free.
func (l *List[T]) Reserve(desiredFree int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.freeCount < desiredFree {
		if err := l.growLocked(); err != nil {
			return false
		}
	}
	return true
}

// Capacity returns the total number of objects (used + free) across all
// slabs.
func (l *List[T]) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slabs) * l.objectsPerSlab
}

// Usage returns the number of objects currently allocated.
func (l *List[T]) Usage() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedCount
}

// FreeCount returns the number of objects currently available.
func (l *List[T]) FreeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freeCount
}

// SlabCount returns the number of slabs currently held.
func (l *List[T]) SlabCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slabs)
}

// HighWaterMark returns the largest Usage ever observed.
func (l *List[T]) HighWaterMark() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highWaterMark
}
