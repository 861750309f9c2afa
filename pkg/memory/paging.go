package memory

import (
	"sync"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/go-logr/logr"
)

const (
	entriesPerTable = 1024
	pdeShift        = 22
	pteShift        = 12
	pteIndexMask    = 0x3FF

	// recursiveSlot is the PDE index the paging engine reserves to map the
	// active page directory back into its own linear address space (the
	// classic i386 "recursive page directory" trick): PDE[1023] points at
	// the directory's own physical frame, so the directory and every page
	// table it owns become addressable as ordinary data through linear
	// addresses at and above 0xFFC00000, without a separate bookkeeping
	// structure on the side. Go never needs to dereference this slot the
	// way real mode-0 code would, but the paging engine still maintains it
	// so the layout matches the hardware structure it models.
	recursiveSlot = 1023
)

type pageTable struct {
	entries [entriesPerTable]Entry
}

func pdeIndex(linear uint32) uint32 { return linear >> pdeShift }
func pteIndex(linear uint32) uint32 { return (linear >> pteShift) & pteIndexMask }
func kernelPDEBase() uint32         { return pdeIndex(VMAKernel) }

// KernelMappings holds the [VMA_KERNEL, 4GiB) page tables shared verbatim
// across every process's directory: a kernel mapping made once through any
// address space is immediately visible from all of them.
type KernelMappings struct {
	mu     sync.Mutex
	pdes   [entriesPerTable]Entry
	tables map[uint32]*pageTable
}

// NewKernelMappings creates the single shared high-half table set. One
// instance is constructed for the life of the kernel and handed to every
// AddressSpace.
func NewKernelMappings() *KernelMappings {
	return &KernelMappings{tables: make(map[uint32]*pageTable)}
}

// AddressSpace is one process's page directory plus the page tables it
// owns privately. Frame allocation is delegated to a shared *FrameAllocator;
// kernel-half PDEs are delegated to a shared *KernelMappings.
type AddressSpace struct {
	log    logr.Logger
	frames *FrameAllocator
	kernel *KernelMappings

	mu      sync.Mutex
	dirAddr uint32 // physical frame backing this directory; loaded into CR3
	dir     [entriesPerTable]Entry
	tables  map[uint32]*pageTable // private (user-half) page tables, by PDE index
	regions map[uint32]regionInfo // tracks AllocRegion bookkeeping, by base
	hint    uint32                // next candidate base for hint==0 allocations
}

type regionInfo struct {
	pages uint32
	flags Flags
	priv  Privilege
}

// NewAddressSpace allocates a fresh page directory frame, wires the
// recursive self-map at PDE[1023], and shares km's kernel-half mappings.
func NewAddressSpace(log logr.Logger, frames *FrameAllocator, km *KernelMappings) (*AddressSpace, error) {
	dirAddr, err := frames.AllocPhysicalPage()
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{
		log:     log.WithName("address-space"),
		frames:  frames,
		kernel:  km,
		dirAddr: dirAddr,
		tables:  make(map[uint32]*pageTable),
		regions: make(map[uint32]regionInfo),
		hint:    VMAUser,
	}
	as.dir[recursiveSlot] = NewEntry(dirAddr, FlagReadWrite|FlagFixed, PrivilegeKernel)
	return as, nil
}

// ensureTable returns the page table backing linear's PDE, creating and
// zeroing one (auto-allocating a frame) if it does not yet exist. Per spec
// §4.2, concurrent creation against the same PDE is serialized by holding
// the owning structure's lock for the whole operation.
func (as *AddressSpace) ensureTable(linear uint32) (*pageTable, error) {
	pde := pdeIndex(linear)
	if pde >= kernelPDEBase() {
		return as.ensureKernelTable(pde)
	}

	if pt, ok := as.tables[pde]; ok {
		return pt, nil
	}
	frame, err := as.frames.AllocPhysicalPage()
	if err != nil {
		return nil, err
	}
	pt := &pageTable{}
	as.tables[pde] = pt
	as.dir[pde] = NewEntry(frame, FlagReadWrite, PagePrivilege(linear))
	return pt, nil
}

func (as *AddressSpace) ensureKernelTable(pde uint32) (*pageTable, error) {
	as.kernel.mu.Lock()
	defer as.kernel.mu.Unlock()

	if pt, ok := as.kernel.tables[pde]; ok {
		return pt, nil
	}
	frame, err := as.frames.AllocPhysicalPage()
	if err != nil {
		return nil, err
	}
	pt := &pageTable{}
	as.kernel.tables[pde] = pt
	as.kernel.pdes[pde] = NewEntry(frame, FlagReadWrite, PrivilegeKernel)
	return pt, nil
}

func (as *AddressSpace) lookupTable(linear uint32) (*pageTable, bool) {
	pde := pdeIndex(linear)
	if pde >= kernelPDEBase() {
		as.kernel.mu.Lock()
		pt, ok := as.kernel.tables[pde]
		as.kernel.mu.Unlock()
		return pt, ok
	}
	pt, ok := as.tables[pde]
	return pt, ok
}

// MapLinearToPhysical installs a single page mapping. fixed=true sets the
// EXOS-specific not-swappable bit (pkg/memory never swaps in this
// simulation, but the bit is preserved for callers, e.g. drivers mapping
// MMIO, that rely on it being set).
func (as *AddressSpace) MapLinearToPhysical(linear, phys uint32, flags Flags, fixed bool) error {
	linear = AlignDown(linear)
	phys = AlignDown(phys)
	priv := PagePrivilege(linear)
	if priv == PrivilegeUser && flags&FlagReadWrite == 0 && flags&FlagReadOnly == 0 {
		flags |= FlagReadWrite
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	pt, err := as.ensureTable(linear)
	if err != nil {
		return err
	}
	if fixed {
		flags |= FlagFixed
	}
	pt.entries[pteIndex(linear)] = NewEntry(phys, flags, priv)
	return nil
}

// unmapLocked clears a single mapping and frees its backing frame; it is
// idempotent and logs (rather than errors) on an already-unmapped page.
func (as *AddressSpace) unmapLocked(linear uint32) {
	pt, ok := as.lookupTable(linear)
	if !ok {
		as.log.Info("unmap of address with no page table", "linear", linear)
		return
	}
	idx := pteIndex(linear)
	e := pt.entries[idx]
	if !e.Present() {
		as.log.Info("double unmap", "linear", linear)
		return
	}
	as.frames.FreePhysicalPage(e.Frame())
	pt.entries[idx] = Empty

	if as.tableEmptyLocked(pdeIndex(linear)) {
		as.freeTableLocked(pdeIndex(linear))
	}
}

func (as *AddressSpace) tableEmptyLocked(pde uint32) bool {
	pt, ok := as.lookupTable(pde << pdeShift)
	if !ok {
		return false
	}
	for _, e := range pt.entries {
		if e.Present() {
			return false
		}
	}
	return true
}

func (as *AddressSpace) freeTableLocked(pde uint32) {
	if pde >= kernelPDEBase() {
		as.kernel.mu.Lock()
		defer as.kernel.mu.Unlock()
		if e := as.kernel.pdes[pde]; e.Present() {
			as.frames.FreePhysicalPage(e.Frame())
		}
		delete(as.kernel.tables, pde)
		as.kernel.pdes[pde] = Empty
		return
	}
	if e := as.dir[pde]; e.Present() {
		as.frames.FreePhysicalPage(e.Frame())
	}
	delete(as.tables, pde)
	as.dir[pde] = Empty
}

// IsValidMemory walks the current page directory to confirm linear is
// present. This is the primitive behind SAFE_USE_VALID: callers must check
// it before dereferencing any user-supplied pointer.
func (as *AddressSpace) IsValidMemory(linear uint32) bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, ok := as.lookupTable(linear)
	if !ok {
		return false
	}
	return pt.entries[pteIndex(linear)].Present()
}

// translate returns the physical frame backing linear, if mapped.
func (as *AddressSpace) translate(linear uint32) (uint32, bool) {
	pt, ok := as.lookupTable(linear)
	if !ok {
		return 0, false
	}
	e := pt.entries[pteIndex(linear)]
	if !e.Present() {
		return 0, false
	}
	return e.Frame(), true
}

// ReadByte and WriteByte give callers (region tests, syscalls validating
// user buffers) ordinary byte-level access to mapped memory, routed through
// the shared FrameAllocator's backing storage the way a real CPU would
// route through CR3 and physical RAM.
func (as *AddressSpace) ReadByte(linear uint32) (byte, bool) {
	as.mu.Lock()
	frame, ok := as.translate(linear)
	as.mu.Unlock()
	if !ok {
		return 0, false
	}
	data := as.frames.Data(frame)
	if data == nil {
		return 0, false
	}
	return data[linear%PageSize], true
}

func (as *AddressSpace) WriteByte(linear uint32, b byte) bool {
	as.mu.Lock()
	frame, ok := as.translate(linear)
	as.mu.Unlock()
	if !ok {
		return false
	}
	data := as.frames.Data(frame)
	if data == nil {
		return false
	}
	data[linear%PageSize] = b
	return true
}

// AllocRegion reserves, and optionally commits, a contiguous linear range.
// hint of 0 lets the address space choose the next free base from its user
// watermark; flags are drawn from {RESERVE, COMMIT, READONLY, READWRITE}.
func (as *AddressSpace) AllocRegion(hint, size uint32, flags Flags) (uint32, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	pages := PageCount(size)
	if pages == 0 {
		return 0, xerrors.ErrInvalid
	}

	base := hint
	if base == 0 {
		base = as.hint
		as.hint = AlignUp(base + pages*PageSize)
	} else {
		base = AlignDown(base)
	}
	priv := PagePrivilege(base)

	if flags&FlagCommit != 0 {
		for i := uint32(0); i < pages; i++ {
			frame, err := as.frames.AllocPhysicalPage()
			if err != nil {
				as.rollbackRange(base, i)
				return 0, err
			}
			pt, err := as.ensureTable(base + i*PageSize)
			if err != nil {
				as.frames.FreePhysicalPage(frame)
				as.rollbackRange(base, i)
				return 0, err
			}
			pt.entries[pteIndex(base+i*PageSize)] = NewEntry(frame, flags, priv)
		}
	}

	as.regions[base] = regionInfo{pages: pages, flags: flags, priv: priv}
	return base, nil
}

func (as *AddressSpace) rollbackRange(base, pages uint32) {
	for i := uint32(0); i < pages; i++ {
		as.unmapLocked(base + i*PageSize)
	}
}

// FreeRegion unmaps and returns the frames of the whole region that
// AllocRegion recorded at base. size is not consulted; a partial free is
// not possible.
func (as *AddressSpace) FreeRegion(base, size uint32) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	base = AlignDown(base)
	info, ok := as.regions[base]
	if !ok {
		return xerrors.ErrNotFound
	}
	for i := uint32(0); i < info.pages; i++ {
		as.unmapLocked(base + i*PageSize)
	}
	delete(as.regions, base)
	_ = size
	return nil
}

// ResizeRegion grows a region by mapping additional frames contiguously
// after its current tail, or shrinks it by returning frames from the tail.
// Growing preserves every existing byte and zero-fills the new pages;
// shrinking preserves every byte that remains.
func (as *AddressSpace) ResizeRegion(base, oldSize, newSize uint32, flags Flags) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	base = AlignDown(base)
	info, ok := as.regions[base]
	if !ok {
		return xerrors.ErrNotFound
	}
	oldPages := PageCount(oldSize)
	newPages := PageCount(newSize)
	if oldPages != info.pages {
		return xerrors.ErrInvalid
	}

	if newPages > oldPages {
		priv := info.priv
		for i := oldPages; i < newPages; i++ {
			linear := base + i*PageSize
			frame, err := as.frames.AllocPhysicalPage()
			if err != nil {
				as.rollbackRange(base+oldPages*PageSize, i-oldPages)
				return err
			}
			pt, err := as.ensureTable(linear)
			if err != nil {
				as.frames.FreePhysicalPage(frame)
				as.rollbackRange(base+oldPages*PageSize, i-oldPages)
				return err
			}
			pt.entries[pteIndex(linear)] = NewEntry(frame, flags, priv)
		}
	} else if newPages < oldPages {
		for i := newPages; i < oldPages; i++ {
			as.unmapLocked(base + i*PageSize)
		}
	}

	info.pages = newPages
	info.flags = flags
	as.regions[base] = info
	return nil
}

// SwitchAddressSpace returns the page directory frame that would be loaded
// into CR3. In this simulation there is no hardware CR3 to write and no
// implicit "current" address space: the scheduler does not call this on a
// context switch, and IsValidMemory/ReadByte/WriteByte always act on the
// AddressSpace they are called on.
func (as *AddressSpace) SwitchAddressSpace() uint32 {
	return as.dirAddr
}

// DirectoryFrame exposes the physical frame backing this address space's
// page directory, primarily for diagnostics and tests.
func (as *AddressSpace) DirectoryFrame() uint32 {
	return as.dirAddr
}
