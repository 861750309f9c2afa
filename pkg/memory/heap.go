package memory

import (
	"sort"
	"sync"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/blocklist"
	"github.com/go-logr/logr"
)

const heapAlignment = 8

// headerSlabObjects is the slab size for the blockHeader pool, matching
// BlockList.c's fixed-class sizing philosophy (spec §4 "Shared
// utilities... BlockList"): grow the metadata pool 64 headers at a time
// rather than one Go allocation per block.
const headerSlabObjects = 64

// blockHeader describes every live or free allocation in the heap region,
// keyed by the block's offset; it is not stored in the region itself and
// is never visible to callers, only used internally to recover size on
// free and to walk/coalesce the free list. Header objects themselves are
// carved from a pkg/blocklist slab, the same allocation strategy the
// original's kernel heap used for its own bookkeeping structures, instead
// of one Go heap allocation per block.
type blockHeader struct {
	size uint32
	free bool
}

// Heap is the general-purpose allocator backing HeapAlloc/HeapFree (spec
// §6's GetProcessHeap/HeapAlloc/HeapFree syscalls). It grows the committed
// portion of a single reserved AddressSpace region on demand rather than
// pre-committing the whole reservation, and serves allocations first-fit
// from a free list, coalescing adjacent free blocks on release.
type Heap struct {
	log   logr.Logger
	space *AddressSpace

	mu         sync.Mutex
	regionBase uint32
	reserved   uint32 // total reserved bytes
	committed  uint32 // bytes currently backed by real frames
	slab       *blocklist.List[blockHeader]
	headers    map[uint32]blocklist.Ref // offset from regionBase -> slab ref
	freeOffs   []uint32                 // sorted offsets of free blocks
}

// NewHeap reserves a region of reserveSize bytes in space (uncommitted) to
// back future HeapAlloc calls.
func NewHeap(log logr.Logger, space *AddressSpace, reserveSize uint32) (*Heap, error) {
	base, err := space.AllocRegion(0, reserveSize, FlagReserve|FlagReadWrite)
	if err != nil {
		return nil, err
	}
	slab, err := blocklist.New[blockHeader](headerSlabObjects, 1)
	if err != nil {
		return nil, err
	}
	h := &Heap{
		log:        log.WithName("heap"),
		space:      space,
		regionBase: base,
		reserved:   AlignUp(reserveSize),
		slab:       slab,
		headers:    make(map[uint32]blocklist.Ref),
	}
	return h, nil
}

// newHeaderLocked carves a new header object for off out of the slab.
func (h *Heap) newHeaderLocked(off uint32, size uint32, free bool) *blockHeader {
	ref, hdr, ok := h.slab.Allocate()
	if !ok {
		return nil
	}
	hdr.size = size
	hdr.free = free
	h.headers[off] = ref
	return hdr
}

// headerLocked resolves the header at off, or nil if none exists.
func (h *Heap) headerLocked(off uint32) *blockHeader {
	ref, ok := h.headers[off]
	if !ok {
		return nil
	}
	hdr, ok := h.slab.Get(ref)
	if !ok {
		return nil
	}
	return hdr
}

// deleteHeaderLocked returns off's header object to the slab.
func (h *Heap) deleteHeaderLocked(off uint32) {
	ref, ok := h.headers[off]
	if !ok {
		return
	}
	h.slab.Free(ref)
	delete(h.headers, off)
}

func align(n uint32) uint32 {
	return (n + heapAlignment - 1) &^ (heapAlignment - 1)
}

// growCommitted extends the committed prefix of the region to cover at
// least upTo bytes, committing whole pages at a time.
func (h *Heap) growCommitted(upTo uint32) error {
	if upTo <= h.committed {
		return nil
	}
	newCommitted := AlignUp(upTo)
	if newCommitted > h.reserved {
		return xerrors.ErrExhausted
	}
	for off := h.committed; off < newCommitted; off += PageSize {
		frame, err := h.space.frames.AllocPhysicalPage()
		if err != nil {
			return err
		}
		if err := h.space.MapLinearToPhysical(h.regionBase+off, frame, FlagReadWrite, false); err != nil {
			h.space.frames.FreePhysicalPage(frame)
			return err
		}
	}
	if h.committed == 0 {
		// first growth: the whole committed prefix starts life as one free block
		h.newHeaderLocked(0, newCommitted, true)
		h.freeOffs = []uint32{0}
	} else {
		lastOff := h.lastOffsetLocked()
		last := h.headerLocked(lastOff)
		if last.free {
			last.size += newCommitted - h.committed
		} else {
			off := h.committed
			h.newHeaderLocked(off, newCommitted-off, true)
			h.insertFreeLocked(off)
		}
	}
	h.committed = newCommitted
	return nil
}

func (h *Heap) lastOffsetLocked() uint32 {
	var last uint32
	for off := range h.headers {
		if off >= last {
			last = off
		}
	}
	return last
}

func (h *Heap) insertFreeLocked(off uint32) {
	i := sort.Search(len(h.freeOffs), func(i int) bool { return h.freeOffs[i] >= off })
	h.freeOffs = append(h.freeOffs, 0)
	copy(h.freeOffs[i+1:], h.freeOffs[i:])
	h.freeOffs[i] = off
}

func (h *Heap) removeFreeLocked(off uint32) {
	for i, o := range h.freeOffs {
		if o == off {
			h.freeOffs = append(h.freeOffs[:i], h.freeOffs[i+1:]...)
			return
		}
	}
}

// Alloc returns the linear address of a size-byte block, growing the
// committed region if no free block is large enough, or
// xerrors.ErrExhausted if the reservation itself is full.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	if size == 0 {
		return 0, xerrors.ErrInvalid
	}
	need := align(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	off, ok := h.findFitLocked(need)
	if !ok {
		if err := h.growCommitted(h.committed + need); err != nil {
			return 0, err
		}
		off, ok = h.findFitLocked(need)
		if !ok {
			return 0, xerrors.ErrExhausted
		}
	}

	block := h.headerLocked(off)
	if block.size > need+heapAlignment {
		remainderOff := off + need
		h.newHeaderLocked(remainderOff, block.size-need, true)
		h.insertFreeLocked(remainderOff)
		block.size = need
	}
	block.free = false
	h.removeFreeLocked(off)
	return h.regionBase + off, nil
}

func (h *Heap) findFitLocked(need uint32) (uint32, bool) {
	for _, off := range h.freeOffs {
		if h.headerLocked(off).size >= need {
			return off, true
		}
	}
	return 0, false
}

// Free releases a block returned by Alloc, coalescing with free
// neighbours. Freeing an address this heap did not allocate is a no-op
// logged as a warning, matching the allocator-wide "fails silently" style.
func (h *Heap) Free(addr uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if addr < h.regionBase {
		h.log.Info("heap free of out-of-range address", "addr", addr)
		return
	}
	off := addr - h.regionBase
	block := h.headerLocked(off)
	if block == nil || block.free {
		h.log.Info("heap double free or invalid address", "addr", addr)
		return
	}
	block.free = true
	h.insertFreeLocked(off)
	h.coalesceLocked(off)
}

func (h *Heap) coalesceLocked(off uint32) {
	block := h.headerLocked(off)
	nextOff := off + block.size
	if next := h.headerLocked(nextOff); next != nil && next.free {
		block.size += next.size
		h.deleteHeaderLocked(nextOff)
		h.removeFreeLocked(nextOff)
	}
	// merging with a preceding free block requires knowing its offset; since
	// offsets are scanned in order this is found by a linear predecessor
	// search, acceptable at heap sizes this kernel deals in.
	for candidateOff := range h.headers {
		candidate := h.headerLocked(candidateOff)
		if candidate != nil && candidateOff+candidate.size == off && candidate.free {
			candidate.size += block.size
			h.deleteHeaderLocked(off)
			h.removeFreeLocked(off)
			break
		}
	}
}

// Reserved reports the total reserved size of the heap's backing region.
func (h *Heap) Reserved() uint32 { return h.reserved }

// Committed reports how many bytes of the reservation are currently
// backed by real frames.
func (h *Heap) Committed() uint32 { return h.committed }
