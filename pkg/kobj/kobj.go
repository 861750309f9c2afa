// Package kobj implements the kernel object model shared by every
// long-lived kernel entity: processes, tasks, mutexes, messages,
// semaphores, windows, desktops, files, disks, and drivers all embed the
// same Header, are reference-counted the same way, and are reachable from
// userland only through an opaque Handle translated via a single
// radix-tree-backed table.
package kobj

import (
	"sync"
	"sync/atomic"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/radixtree"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// TypeID discriminates the closed set of kernel object kinds. It never
// changes after construction, and a type-mismatched dereference through
// HandleToPointer or EnsureKernelPointer is always rejected rather than
// silently allowed.
type TypeID uint32

const (
	TypeNone TypeID = iota
	TypeProcess
	TypeTask
	TypeMutex
	TypeMessage
	TypeSemaphore
	TypeWindow
	TypeDesktop
	TypeFile
	TypeDisk
	TypeDriver
)

func (t TypeID) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeProcess:
		return "PROCESS"
	case TypeTask:
		return "TASK"
	case TypeMutex:
		return "MUTEX"
	case TypeMessage:
		return "MESSAGE"
	case TypeSemaphore:
		return "SEMAPHORE"
	case TypeWindow:
		return "WINDOW"
	case TypeDesktop:
		return "DESKTOP"
	case TypeFile:
		return "FILE"
	case TypeDisk:
		return "DISK"
	case TypeDriver:
		return "DRIVER"
	default:
		return "UNKNOWN"
	}
}

// ProcessID is the handle table's weak back-reference to an owning
// process. It intentionally carries no pointer back into pkg/sched to
// avoid an import cycle; pkg/sched resolves it through its own process
// table.
type ProcessID uint64

// Handle is the opaque integer userland holds. The kernel never lets
// userland dereference a raw pointer; every access is mediated by
// HandleToPointer's TypeID check.
type Handle uint32

// Header is the common prefix of every kernel object: TypeID, References,
// ID, OwnerProcess (spec data model). References is mutated only through
// AddRef/release, never assigned directly.
type Header struct {
	TypeID       TypeID
	ID           uint64
	OwnerProcess ProcessID

	references int32
}

// AddRef atomically increments the reference count and returns the new
// value.
func (h *Header) AddRef() int32 {
	return atomic.AddInt32(&h.references, 1)
}

// release atomically decrements the reference count and returns the new
// value. A well-formed object never observes a negative count; Release on
// the Table is the only legitimate caller.
func (h *Header) release() int32 {
	return atomic.AddInt32(&h.references, -1)
}

// RefCount reports the current reference count.
func (h *Header) RefCount() int32 {
	return atomic.LoadInt32(&h.references)
}

// Teardown runs exactly once, when an object's reference count reaches
// zero, with the object value that was stored at creation.
type Teardown func(obj any)

type entry struct {
	header   *Header
	obj      any
	teardown Teardown
}

// Table is the single radix-tree-backed handle table shared by the whole
// kernel (spec §4.3 / §3 "Radix Tree (handle table)"). One instance is
// constructed for the lifetime of the kernel.
type Table struct {
	log  logr.Logger
	tree *radixtree.Tree[*entry]

	mu       sync.Mutex
	nextFree uint32
}

// NewTable creates an empty handle table.
func NewTable(log logr.Logger) *Table {
	return &Table{
		log:      log.WithName("handle-table"),
		tree:     radixtree.New[*entry](),
		nextFree: 1, // handle 0 is reserved as the null handle
	}
}

func newObjectID() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

func (t *Table) allocHandle() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.nextFree
	t.nextFree++
	return Handle(h)
}

// CreateKernelObject allocates a fresh Header for typeID, owned by owner,
// wraps obj (the object's payload) and teardown (run on final Release),
// inserts the mapping into the handle table, and returns the new handle
// plus the object's header. References starts at 1.
func (t *Table) CreateKernelObject(typeID TypeID, owner ProcessID, obj any, teardown Teardown) (Handle, *Header) {
	header := &Header{
		TypeID:       typeID,
		ID:           newObjectID(),
		OwnerProcess: owner,
		references:   1,
	}
	e := &entry{header: header, obj: obj, teardown: teardown}
	handle := t.allocHandle()
	t.tree.Insert(uint32(handle), e)
	return handle, header
}

// AcquireKernelObject increments the reference count of the object behind
// handle and returns its payload, or (nil, false) if handle is stale.
func (t *Table) AcquireKernelObject(handle Handle) (any, bool) {
	e, ok := t.tree.Find(uint32(handle))
	if !ok {
		return nil, false
	}
	e.header.AddRef()
	return e.obj, true
}

// ReleaseKernelObject decrements the reference count of the object behind
// handle. At zero, per-type teardown runs, the handle is removed from the
// table, and the mapping is gone. Returns xerrors.ErrNotFound for a stale
// handle.
func (t *Table) ReleaseKernelObject(handle Handle) error {
	e, ok := t.tree.Find(uint32(handle))
	if !ok {
		return xerrors.ErrNotFound
	}
	if e.header.release() > 0 {
		return nil
	}
	t.tree.Remove(uint32(handle))
	if e.teardown != nil {
		e.teardown(e.obj)
	}
	return nil
}

// HandleToPointer resolves handle to its payload, returning it only if the
// stored object's TypeID matches expected. This is the primitive behind
// the SAFE_USE_* discipline: userland-supplied handles never yield a
// pointer unless type-checked first.
func (t *Table) HandleToPointer(handle Handle, expected TypeID) (any, bool) {
	e, ok := t.tree.Find(uint32(handle))
	if !ok || e.header.TypeID != expected {
		return nil, false
	}
	return e.obj, true
}

// HeaderOf returns the Header for handle without a type check, for code
// paths (diagnostics, the scheduler's task list) that need the raw
// reference count or owner but already know the type from context.
func (t *Table) HeaderOf(handle Handle) (*Header, bool) {
	e, ok := t.tree.Find(uint32(handle))
	if !ok {
		return nil, false
	}
	return e.header, true
}

// EnsureKernelPointer validates a Header a caller already holds a pointer
// to (not obtained through a fresh handle lookup): non-nil, and TypeID
// matches expected.
func EnsureKernelPointer(h *Header, expected TypeID) bool {
	return h != nil && h.TypeID == expected
}

// Count returns the number of live handles, primarily for tests and
// diagnostics (spec §8's handle-table stress test checks this reaches
// zero after a full teardown).
func (t *Table) Count() int {
	return t.tree.Count()
}
