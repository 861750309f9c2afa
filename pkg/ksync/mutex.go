// Package ksync implements the kernel's recursive, owner-tracked mutex
// (spec §4.4) and the twelve process-wide global mutexes with their
// documented acquisition ordering.
package ksync

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/go-logr/logr"
)

const (
	retryInterval = 20 * time.Millisecond
	warnInterval  = 2 * time.Second
)

// Waiter is the minimal view of a schedulable task the mutex needs to
// honor spec §4.4's "set current task to SLEEPING with a 20ms retry"
// contract. pkg/sched's Task implements this; ksync never imports
// pkg/sched directly to avoid a cycle (pkg/sched itself depends on ksync
// for its own locking).
type Waiter interface {
	WaiterID() uint64
	WaiterProcess() kobj.ProcessID
	BeginWait()
	EndWait()
}

// Mutex is a recursive, owner-tracked lock. LockCount == 0 implies no
// owner; otherwise the owning task may re-enter freely. Every critical
// section is guarded the same way the original guards it with
// SaveFlags/DisableInterrupts/RestoreFlags: here, a plain sync.Mutex
// stands in for "interrupts disabled", since there is exactly one
// logical CPU and no real IRQs to race against.
type Mutex struct {
	Header kobj.Header // TypeID = kobj.TypeMutex

	log  logr.Logger
	name string

	// order is this mutex's rank in the global acquisition order, or 0 for
	// an ad hoc mutex not subject to the ordering check.
	order int

	mu        sync.Mutex
	haveOwner bool
	ownerID   uint64
	process   kobj.ProcessID
	lockCount uint32
}

// NewMutex creates an unlocked mutex owned (for bookkeeping purposes) by
// owner.
func NewMutex(log logr.Logger, name string, owner kobj.ProcessID) *Mutex {
	return &Mutex{
		Header: kobj.Header{TypeID: kobj.TypeMutex, OwnerProcess: owner},
		log:    log.WithName("mutex").WithValues("name", name),
		name:   name,
	}
}

// Name returns the mutex's diagnostic label.
func (m *Mutex) Name() string { return m.name }

// Order returns the mutex's rank in the global acquisition order (0 if it
// is not one of the twelve global mutexes).
func (m *Mutex) Order() int { return m.order }

// LockCount reports the current recursion depth (0 if unlocked).
func (m *Mutex) LockCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockCount
}

// Lock acquires m on behalf of task, retrying every 20ms (with a 2-second
// warning cadence) until it is free, recursing instead if task already
// owns it. timeout exists for interface parity with the original
// LockMutex(Mutex, TimeOut) signature but is honored only as "infinity",
// per spec §4.4 — ctx cancellation is the only way to abort a pending
// wait.
func (m *Mutex) Lock(ctx context.Context, task Waiter, timeout time.Duration) (uint32, error) {
	_ = timeout

	m.mu.Lock()
	if m.haveOwner && m.ownerID == task.WaiterID() {
		m.lockCount++
		n := m.lockCount
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	start := time.Now()
	lastWarn := start

	operation := func() (uint32, error) {
		m.mu.Lock()
		if !m.haveOwner {
			m.haveOwner = true
			m.ownerID = task.WaiterID()
			m.process = task.WaiterProcess()
			m.lockCount = 1
			n := m.lockCount
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		if time.Since(lastWarn) >= warnInterval {
			m.log.Info("task waiting for mutex", "waitedMs", time.Since(start).Milliseconds())
			lastWarn = time.Now()
		}

		task.BeginWait()
		defer task.EndWait()
		return 0, xerrors.NewRetryable("mutex contended")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(retryInterval)),
		backoff.WithMaxElapsedTime(0))
}

// Unlock releases m on behalf of task. Only the owning task may unlock;
// any other caller gets xerrors.ErrPermission. Decrements LockCount,
// clearing ownership entirely once it reaches zero.
func (m *Mutex) Unlock(task Waiter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveOwner || m.ownerID != task.WaiterID() {
		return xerrors.ErrPermission
	}
	if m.lockCount != 0 {
		m.lockCount--
	}
	if m.lockCount == 0 {
		m.haveOwner = false
		m.ownerID = 0
		m.process = 0
	}
	return nil
}

// CreateMutex allocates a new mutex through table, giving it a handle like
// every other kernel object.
func CreateMutex(table *kobj.Table, log logr.Logger, name string, owner kobj.ProcessID) (kobj.Handle, *Mutex) {
	m := NewMutex(log, name, owner)
	handle, header := table.CreateKernelObject(kobj.TypeMutex, owner, m, func(any) {})
	m.Header = *header
	return handle, m
}

// DeleteMutex releases the handle table's reference to a mutex.
func DeleteMutex(table *kobj.Table, handle kobj.Handle) error {
	return table.ReleaseKernelObject(handle)
}
