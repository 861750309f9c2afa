package syscall

import (
	"context"
	"time"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/exos-project/exoscore/pkg/memory"
	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/go-logr/logr"
)

// ErrNotImplemented is returned for a syscall number the dispatcher
// recognizes but does not (or, for windowing, cannot) implement.
var ErrNotImplemented = xerrors.New("exos: syscall not implemented")

// Context carries the calling task/process across one dispatch, the way
// the original's int 0x30 trap handler threads the current task through
// every DriverCallHandler invocation.
type Context struct {
	Task    *sched.Task
	Process *sched.Process
}

// Handler implements one syscall number; parameter is the raw LINEAR
// argument exactly as passed to the trap.
type Handler func(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error)

// Dispatcher routes (function_number, parameter) to the matching core
// operation (spec §4.8), indexed by a function table the way the
// original's DrvCallTable indexes driver entry points by number rather
// than branching on a switch.
type Dispatcher struct {
	log       logr.Logger
	table     *kobj.Table
	scheduler *sched.Scheduler
	router    *msg.Router
	globals   *ksync.Globals
	frames    *memory.FrameAllocator
	mappings  *memory.KernelMappings
	handlers  [baseServiceCount]Handler
}

// NewDispatcher wires a dispatcher over the kernel's live subsystems and
// installs every implemented base-service handler. frames/mappings back
// CreateProcess's fresh address space the same way internal/kernel wires
// them into Scheduler.CreateProcess directly.
func NewDispatcher(log logr.Logger, table *kobj.Table, scheduler *sched.Scheduler, router *msg.Router, globals *ksync.Globals, frames *memory.FrameAllocator, mappings *memory.KernelMappings) *Dispatcher {
	d := &Dispatcher{
		log:       log.WithName("syscall-dispatcher"),
		table:     table,
		scheduler: scheduler,
		router:    router,
		globals:   globals,
		frames:    frames,
		mappings:  mappings,
	}
	d.handlers[GetVersion] = handleGetVersion
	d.handlers[GetSystemTime] = handleGetSystemTime
	d.handlers[DeleteObject] = handleDeleteObject
	d.handlers[CreateProcess] = handleCreateProcess
	d.handlers[KillProcess] = handleKillProcess
	d.handlers[CreateTask] = handleCreateTask
	d.handlers[KillTask] = handleKillTask
	d.handlers[SuspendTask] = handleSuspendTask
	d.handlers[ResumeTask] = handleResumeTask
	d.handlers[Sleep] = handleSleep
	d.handlers[PostMessage] = handlePostMessage
	d.handlers[PeekMessage] = handlePeekMessage
	d.handlers[GetMessage] = handleGetMessage
	d.handlers[CreateSemaphore] = handleCreateSemaphore
	d.handlers[LockSemaphore] = handleLockSemaphore
	d.handlers[UnlockSemaphore] = handleUnlockSemaphore
	d.handlers[VirtualAlloc] = handleVirtualAlloc
	d.handlers[VirtualFree] = handleVirtualFree
	d.handlers[GetProcessHeap] = handleGetProcessHeap
	d.handlers[HeapAlloc] = handleHeapAlloc
	d.handlers[HeapFree] = handleHeapFree
	return d
}

// Dispatch resolves number to its handler and invokes it. A number
// outside the base-service range, or inside it but unmapped
// (file/console/volume services this module does not implement), or in
// the windowing range reports ErrNotImplemented. This mirrors
// DriverCallHandler's own resolved behavior for an unrecognized
// function: the original returns 0 unconditionally for an
// out-of-table index (its ERROR_INVALID_INDEX return is commented out
// in source), so Dispatch likewise returns (0, ErrNotImplemented) rather
// than a distinguishable error code — callers that care must check the
// error, not rely on the numeric result differing from a legitimate 0.
func (d *Dispatcher) Dispatch(ctx *Context, number Number, parameter uint32) (uint32, error) {
	if number >= baseServiceCount {
		return 0, ErrNotImplemented
	}
	h := d.handlers[number]
	if h == nil {
		return 0, ErrNotImplemented
	}
	return h(d, ctx, parameter)
}

func handleGetVersion(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	const version = 0x00010000 // major.minor packed, matching the original's BCD-free versioning
	return version, nil
}

func handleGetSystemTime(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	return uint32(time.Now().Unix()), nil
}

func handleDeleteObject(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	if err := d.table.ReleaseKernelObject(kobj.Handle(parameter)); err != nil {
		return 0, err
	}
	return 1, nil
}

// handleCreateProcess reads a {NameLinear, Priority, HeapSize} parameter
// struct (after the common {Size,Version,Flags} header) and creates a
// fresh process the way Scheduler.CreateProcess backs the operation
// directly for internal/kernel's own callers. NameLinear points at a
// NUL-terminated name buffer in the calling process's own address space.
func handleCreateProcess(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	if _, err := ValidateInputPointer(ctx.Process.Space, parameter, paramHeaderSize+12); err != nil {
		return 0, err
	}
	nameLinear, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize)
	if err != nil {
		return 0, err
	}
	priority, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize+4)
	if err != nil {
		return 0, err
	}
	heapSize, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize+8)
	if err != nil {
		return 0, err
	}
	name, err := ReadName(ctx.Process.Space, nameLinear)
	if err != nil {
		return 0, err
	}

	proc, _, err := d.scheduler.CreateProcess(name, d.frames, d.mappings, heapSize, sched.Priority(priority))
	if err != nil {
		return 0, err
	}
	return uint32(proc.Handle), nil
}

// handleKillProcess releases the handle table's reference to the process
// named by the handle parameter; once it reaches zero, every task still
// attached to the process is killed (spec §3's process-lifecycle
// teardown), the same way handleDeleteObject releases any other handle.
func handleKillProcess(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	if _, ok := d.table.HandleToPointer(kobj.Handle(parameter), kobj.TypeProcess); !ok {
		return 0, xerrors.ErrNotFound
	}
	if err := d.table.ReleaseKernelObject(kobj.Handle(parameter)); err != nil {
		return 0, err
	}
	return 1, nil
}

// handleCreateTask reads a {NameLinear, Priority} parameter struct and
// creates a new task inside the calling process, the way
// Scheduler.CreateTask backs the operation for CreateProcess's own main
// task.
func handleCreateTask(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	if _, err := ValidateInputPointer(ctx.Process.Space, parameter, paramHeaderSize+8); err != nil {
		return 0, err
	}
	nameLinear, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize)
	if err != nil {
		return 0, err
	}
	priority, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize+4)
	if err != nil {
		return 0, err
	}
	name, err := ReadName(ctx.Process.Space, nameLinear)
	if err != nil {
		return 0, err
	}

	handle, task := d.scheduler.CreateTask(ctx.Process.ID(), name, sched.Priority(priority))
	ctx.Process.AddTask(task)
	return uint32(handle), nil
}

func handleKillTask(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	target, ok := d.scheduler.TaskByID(uint64(parameter))
	if !ok {
		return 0, xerrors.ErrNotFound
	}
	d.scheduler.KillTask(target)
	return 1, nil
}

func handleSuspendTask(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	target, ok := d.scheduler.TaskByID(uint64(parameter))
	if !ok {
		return 0, xerrors.ErrNotFound
	}
	d.scheduler.Sleep(target, 365*24*time.Hour) // suspended until explicitly resumed
	return 1, nil
}

func handleResumeTask(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	target, ok := d.scheduler.TaskByID(uint64(parameter))
	if !ok {
		return 0, xerrors.ErrNotFound
	}
	d.scheduler.MarkReady(target)
	return 1, nil
}

func handleSleep(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	d.scheduler.Sleep(ctx.Task, time.Duration(parameter)*time.Millisecond)
	return 0, nil
}

func handlePostMessage(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	hdr, err := ValidateInputPointer(ctx.Process.Space, parameter, paramHeaderSize+16)
	if err != nil {
		return 0, err
	}
	_ = hdr
	taskField, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize)
	if err != nil {
		return 0, err
	}
	code, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize+4)
	if err != nil {
		return 0, err
	}
	p1, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize+8)
	if err != nil {
		return 0, err
	}
	p2, err := ReadUint32(ctx.Process.Space, parameter+paramHeaderSize+12)
	if err != nil {
		return 0, err
	}

	var target msg.Target
	if taskField != 0 {
		h := kobj.Handle(taskField)
		target.Task = &h
	}
	if d.router.PostMessage(ctx.Task, target, msg.Code(code), p1, p2) {
		return 1, nil
	}
	return 0, nil
}

func handlePeekMessage(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	if _, ok := d.router.PeekMessage(ctx.Process.ID(), ctx.Task.WaiterID()); ok {
		return 1, nil
	}
	return 0, nil
}

func handleGetMessage(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	if _, err := ValidateInputPointer(ctx.Process.Space, parameter, paramHeaderSize+12); err != nil {
		return 0, err
	}
	m, ok := d.router.GetMessage(ctx.Task, ctx.Process.ID())
	if !ok {
		return 0, nil
	}
	if err := WriteUint32(ctx.Process.Space, parameter+paramHeaderSize, uint32(m.Code)); err != nil {
		return 0, err
	}
	if err := WriteUint32(ctx.Process.Space, parameter+paramHeaderSize+4, m.Param1); err != nil {
		return 0, err
	}
	if err := WriteUint32(ctx.Process.Space, parameter+paramHeaderSize+8, m.Param2); err != nil {
		return 0, err
	}
	return 1, nil
}

func handleCreateSemaphore(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	maxCount, err := ReadUint32(ctx.Process.Space, parameter)
	if err != nil {
		return 0, err
	}
	if maxCount == 0 {
		maxCount = 1
	}
	handle, _ := ksync.CreateSemaphore(d.table, "user-semaphore", ctx.Process.ID(), int64(maxCount))
	return uint32(handle), nil
}

func handleLockSemaphore(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	obj, ok := d.table.HandleToPointer(kobj.Handle(parameter), kobj.TypeSemaphore)
	if !ok {
		return 0, xerrors.ErrNotFound
	}
	sem := obj.(*ksync.Semaphore)
	if err := sem.Lock(context.Background()); err != nil {
		return 0, err
	}
	return 1, nil
}

func handleUnlockSemaphore(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	obj, ok := d.table.HandleToPointer(kobj.Handle(parameter), kobj.TypeSemaphore)
	if !ok {
		return 0, xerrors.ErrNotFound
	}
	obj.(*ksync.Semaphore).Unlock()
	return 1, nil
}

func handleVirtualAlloc(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	size, err := ReadUint32(ctx.Process.Space, parameter)
	if err != nil {
		return 0, err
	}
	addr, err := ctx.Process.Space.AllocRegion(0, size, memory.FlagCommit|memory.FlagReadWrite)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func handleVirtualFree(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	addr, err := ReadUint32(ctx.Process.Space, parameter)
	if err != nil {
		return 0, err
	}
	size, err := ReadUint32(ctx.Process.Space, parameter+4)
	if err != nil {
		return 0, err
	}
	if err := ctx.Process.Space.FreeRegion(addr, size); err != nil {
		return 0, err
	}
	return 1, nil
}

func handleGetProcessHeap(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	return 1, nil // the single process heap is implicit; handle 1 names it
}

func handleHeapAlloc(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	size, err := ReadUint32(ctx.Process.Space, parameter)
	if err != nil {
		return 0, err
	}
	addr, err := ctx.Process.Heap.Alloc(size)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func handleHeapFree(d *Dispatcher, ctx *Context, parameter uint32) (uint32, error) {
	addr, err := ReadUint32(ctx.Process.Space, parameter)
	if err != nil {
		return 0, err
	}
	ctx.Process.Heap.Free(addr)
	return 1, nil
}
