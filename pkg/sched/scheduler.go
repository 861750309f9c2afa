package sched

import (
	"sync"
	"time"

	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/klist"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/go-logr/logr"
)

// Scheduler implements the preemptive round-robin algorithm of spec
// §4.5: one ready queue per priority tier, CRITICAL always wins, and
// round-robin within the first non-empty lower tier otherwise.
type Scheduler struct {
	log     logr.Logger
	globals *ksync.Globals
	table   *kobj.Table

	mu      sync.Mutex
	tiers   [tierCount]klist.List[*Task]
	all     map[uint64]*Task
	current *Task
	idle    *Task
	frozen  bool
}

// NewScheduler creates a scheduler with a dedicated idle task (priority
// below every real task, never leaves the ready set).
func NewScheduler(log logr.Logger, globals *ksync.Globals, table *kobj.Table) *Scheduler {
	s := &Scheduler{
		log:     log.WithName("scheduler"),
		globals: globals,
		table:   table,
		all:     make(map[uint64]*Task),
	}
	_, idle := s.CreateTask(kobj.ProcessID(0), "idle", PriorityLowest)
	idle.forceState(StatusReady)
	s.current = idle
	s.idle = idle
	return s
}

// CreateTask allocates a new task, in READY state, through the handle
// table. The task itself is stored as the handle table's payload, so
// HandleToPointer(handle, TypeTask) resolves to the real *Task rather
// than a stand-in; its Teardown detaches the task from the scheduler
// when the handle's last reference is released.
func (s *Scheduler) CreateTask(process kobj.ProcessID, name string, priority Priority) (kobj.Handle, *Task) {
	task := NewTask(kobj.Header{TypeID: kobj.TypeTask, OwnerProcess: process}, process, name, priority)

	handle, header := s.table.CreateKernelObject(kobj.TypeTask, process, task, func(any) {
		s.detachTask(task)
	})
	task.Header = *header
	task.Handle = handle

	s.mu.Lock()
	s.all[task.Header.ID] = task
	s.enqueueLocked(task)
	s.mu.Unlock()

	return handle, task
}

// detachTask removes t from the scheduler's bookkeeping (task set and
// ready queue). It runs as t's kernel-object Teardown, never called
// directly by Tick's reaping pass.
func (s *Scheduler) detachTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.all, t.Header.ID)
	s.dequeueLocked(t)
}

func (s *Scheduler) enqueueLocked(t *Task) {
	tier := tierOf(t.Priority)
	elem := s.tiers[tier].AddTail(t)
	t.elem = &listElem{tier: tier, ptr: elem}
}

func (s *Scheduler) dequeueLocked(t *Task) {
	if t.elem == nil {
		return
	}
	elem, ok := t.elem.ptr.(*klist.Elem[*Task])
	if ok {
		s.tiers[t.elem.tier].Remove(elem)
	}
	t.elem = nil
}

// MarkReady transitions a SLEEPING/WAITMESSAGE/WAITOBJECT task back to
// READY and enqueues it on its priority tier. Wake operations never touch
// a RUNNING task's status (spec §4.5 ordering guarantee).
func (s *Scheduler) MarkReady(t *Task) {
	if t.Status() == StatusRunning {
		return
	}
	if !t.transition(eventWake) {
		return
	}
	s.mu.Lock()
	s.enqueueLocked(t)
	s.mu.Unlock()
}

// Sleep transitions the current task to SLEEPING until now+d.
func (s *Scheduler) Sleep(t *Task, d time.Duration) {
	t.mu.Lock()
	t.fsm.ProcessEvent(eventSleep)
	t.WakeUpTime = time.Now().Add(d)
	t.mu.Unlock()
}

// WaitMessage transitions the current task to WAITMESSAGE.
func (s *Scheduler) WaitMessage(t *Task) {
	t.transition(eventWaitMessage)
}

// WaitObject transitions the current task to WAITOBJECT.
func (s *Scheduler) WaitObject(t *Task) {
	t.transition(eventWaitObject)
}

// KillTask sets t's status to DEAD immediately; actual teardown happens
// on the next Tick's idle pass (spec §4.5 "Cancellation").
func (s *Scheduler) KillTask(t *Task) {
	s.mu.Lock()
	s.dequeueLocked(t)
	s.mu.Unlock()
	t.forceState(StatusDead)
}

// FreezeScheduler disables Tick-driven preemption while still allowing
// callers to invoke blocking primitives (mutexes, IRQs are unaffected —
// there is no separate IRQ-disable concept to model here since Tick is
// the only preemption point in this simulation).
func (s *Scheduler) FreezeScheduler() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// UnfreezeScheduler re-enables Tick-driven preemption.
func (s *Scheduler) UnfreezeScheduler() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = false
}

// CurrentTask returns the task presently RUNNING.
func (s *Scheduler) CurrentTask() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Tick runs one full scheduling pass at time now: promotes due sleepers,
// reaps dead tasks, and selects the next task to run. It returns the
// selected task (the idle task if nothing else is ready), or the current
// task unchanged if the scheduler is frozen.
func (s *Scheduler) Tick(now time.Time) *Task {
	s.reapDead()

	s.mu.Lock()
	if s.frozen {
		cur := s.current
		s.mu.Unlock()
		return cur
	}

	s.promoteDueSleepersLocked(now)

	outgoing := s.current
	if outgoing != nil && outgoing.Status() == StatusRunning {
		outgoing.transition(eventDispatch) // RUNNING -> READY
		s.enqueueLocked(outgoing)
	}

	next := s.pickNextLocked()
	if next == nil {
		next = s.idle
	}
	s.dequeueLocked(next)
	next.transition(eventDispatch) // READY -> RUNNING
	s.current = next

	s.mu.Unlock()
	return next
}

func (s *Scheduler) promoteDueSleepersLocked(now time.Time) {
	for _, t := range s.all {
		if t.Status() == StatusSleeping && !t.WakeUpTime.After(now) {
			if t.transition(eventWake) {
				s.enqueueLocked(t)
			}
		}
	}
}

// reapDead releases the handle table's reference for every DEAD task.
// Each release's Teardown (wired in CreateTask) is what actually detaches
// the task from s.all and the ready queue, matching the idle task's
// teardown responsibility in spec §4.5 — reapDead itself never mutates
// scheduler state directly, since it must run without s.mu held to avoid
// Teardown re-entering the lock.
func (s *Scheduler) reapDead() {
	s.mu.Lock()
	var dead []*Task
	for _, t := range s.all {
		if t.Status() == StatusDead {
			dead = append(dead, t)
		}
	}
	s.mu.Unlock()

	for _, t := range dead {
		_ = s.table.ReleaseKernelObject(t.Handle)
	}
}

// pickNextLocked implements the tier scan: CRITICAL first (FIFO within
// tier), then highest to lowest, round-robin within the first non-empty
// tier.
func (s *Scheduler) pickNextLocked() *Task {
	if s.tiers[tierCritical].Len() > 0 {
		return s.tiers[tierCritical].Front().Value
	}
	for tier := tierHighest; tier >= tierLowest; tier-- {
		if front := s.tiers[tier].Front(); front != nil {
			return front.Value
		}
	}
	return nil
}

// TaskByID looks up a task by its kernel object ID, for collaborators
// (the message router) that only hold an ID across the package boundary.
func (s *Scheduler) TaskByID(id uint64) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.all[id]
	return t, ok
}

// TaskCount reports how many tasks the scheduler currently tracks
// (excluding reaped DEAD tasks), for diagnostics and tests.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

// ReadyQueueDepths reports how many tasks are waiting in each priority
// tier's ready queue, keyed by the tier's representative Priority
// constant, for diagnostics and metrics collectors.
func (s *Scheduler) ReadyQueueDepths() map[Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[Priority]int{
		PriorityLowest:   s.tiers[tierLowest].Len(),
		PriorityLower:    s.tiers[tierLower].Len(),
		PriorityMedium:   s.tiers[tierMedium].Len(),
		PriorityHigher:   s.tiers[tierHigher].Len(),
		PriorityHighest:  s.tiers[tierHighest].Len(),
		PriorityCritical: s.tiers[tierCritical].Len(),
	}
}
