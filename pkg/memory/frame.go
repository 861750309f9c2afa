package memory

import (
	"sync"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/go-logr/logr"
)

// FrameAllocator manages the set of free physical frames as a flat bitmap:
// one bit per PageSize-aligned frame, 1 meaning allocated. Allocation is a
// first-fit linear scan, matching spec §4.1 exactly — there is no
// fragmentation concept since every frame is the same size, and there is no
// swap path: exhaustion simply fails.
//
// Callers are expected to hold MUTEX_MEMORY (pkg/ksync) around any sequence
// that must be atomic with respect to the paging engine; FrameAllocator only
// protects its own bitmap.
type FrameAllocator struct {
	log logr.Logger

	mu        sync.Mutex
	bitmap    []uint64
	numFrames uint32
	totalBase uint32 // physical address of frame 0
	lastFree  int    // next index to begin the first-fit scan from
	data      map[uint32]*[PageSize]byte
}

// NewFrameAllocator creates an allocator covering [base, base+totalBytes)
// carved into PageSize frames.
func NewFrameAllocator(log logr.Logger, base uint32, totalBytes uint32) *FrameAllocator {
	numFrames := totalBytes / PageSize
	words := (numFrames + 63) / 64
	return &FrameAllocator{
		log:       log.WithName("frame-allocator"),
		bitmap:    make([]uint64, words),
		numFrames: numFrames,
		totalBase: base,
		data:      make(map[uint32]*[PageSize]byte),
	}
}

func (f *FrameAllocator) frameAddr(idx uint32) uint32 {
	return f.totalBase + idx*PageSize
}

func (f *FrameAllocator) indexOf(addr uint32) (uint32, bool) {
	if addr < f.totalBase {
		return 0, false
	}
	idx := (addr - f.totalBase) / PageSize
	if idx >= f.numFrames {
		return 0, false
	}
	return idx, true
}

func (f *FrameAllocator) bitSet(idx uint32) bool {
	return f.bitmap[idx/64]&(1<<(idx%64)) != 0
}

func (f *FrameAllocator) bitMark(idx uint32) {
	f.bitmap[idx/64] |= 1 << (idx % 64)
}

func (f *FrameAllocator) bitClear(idx uint32) {
	f.bitmap[idx/64] &^= 1 << (idx % 64)
}

// AllocPhysicalPage returns the address of a free frame, marking it
// allocated, or xerrors.ErrExhausted if none remain.
func (f *FrameAllocator) AllocPhysicalPage() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := uint32(0); i < f.numFrames; i++ {
		idx := (uint32(f.lastFree) + i) % f.numFrames
		if !f.bitSet(idx) {
			f.bitMark(idx)
			f.lastFree = int(idx) + 1
			addr := f.frameAddr(idx)
			f.data[addr] = &[PageSize]byte{}
			return addr, nil
		}
	}
	return 0, xerrors.ErrExhausted
}

// FreePhysicalPage clears the bit for addr. Freeing an already-free frame is
// not an error; it logs a warning and is otherwise a no-op, matching the
// original kernel's "fails silently" contract.
func (f *FrameAllocator) FreePhysicalPage(addr uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, ok := f.indexOf(addr)
	if !ok {
		f.log.Info("free of out-of-range physical address", "addr", addr)
		return
	}
	if !f.bitSet(idx) {
		f.log.Info("double free of physical frame", "addr", addr)
		return
	}
	f.bitClear(idx)
	delete(f.data, addr)
	if int(idx) < f.lastFree {
		f.lastFree = int(idx)
	}
}

// Data returns the backing byte storage for the frame at addr, or nil if
// addr is not currently allocated. The paging engine uses this to route
// ReadByte/WriteByte the way a CPU would route through CR3 into physical
// RAM.
func (f *FrameAllocator) Data(addr uint32) *[PageSize]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[addr]
}

// ReservePhysicalRange marks every frame overlapping [start, start+length)
// as permanently allocated, for BIOS/ACPI/memory-mapped regions that must
// never be handed out by AllocPhysicalPage.
func (f *FrameAllocator) ReservePhysicalRange(start, length uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first, ok := f.indexOf(AlignDown(start))
	if !ok {
		return
	}
	last, ok := f.indexOf(AlignDown(start + length - 1))
	if !ok {
		last = f.numFrames - 1
	}
	for idx := first; idx <= last; idx++ {
		f.bitMark(idx)
	}
}

// FreeFrameCount returns the number of frames not currently allocated.
func (f *FrameAllocator) FreeFrameCount() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	free := f.numFrames
	for idx := uint32(0); idx < f.numFrames; idx++ {
		if f.bitSet(idx) {
			free--
		}
	}
	return free
}

// TotalFrames returns the total number of frames managed by the allocator.
func (f *FrameAllocator) TotalFrames() uint32 {
	return f.numFrames
}
