// Package sched implements the preemptive, priority-tiered round-robin
// scheduler (spec §4.5): processes, tasks, the task status state machine,
// and the per-tick dispatch algorithm.
package sched

import (
	"sync"
	"time"

	"github.com/exos-project/exoscore/pkg/corestring"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/exos-project/exoscore/pkg/statemachine"
)

// Priority is a task's scheduling tier. Five named tiers plus CRITICAL,
// which always preempts every other tier (spec §3/§4.5).
type Priority uint8

const (
	PriorityLowest   Priority = 0x00
	PriorityLower    Priority = 0x04
	PriorityMedium   Priority = 0x08
	PriorityHigher   Priority = 0x0C
	PriorityHighest  Priority = 0x10
	PriorityCritical Priority = 0xFF
)

// tierOf buckets an arbitrary priority value into one of the scheduler's
// six ready queues.
func tierOf(p Priority) int {
	switch {
	case p == PriorityCritical:
		return tierCritical
	case p >= PriorityHighest:
		return tierHighest
	case p >= PriorityHigher:
		return tierHigher
	case p >= PriorityMedium:
		return tierMedium
	case p >= PriorityLower:
		return tierLower
	default:
		return tierLowest
	}
}

const (
	tierLowest = iota
	tierLower
	tierMedium
	tierHigher
	tierHighest
	tierCritical
	tierCount
)

// Status is a task's position in the scheduling state machine.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusSleeping
	StatusWaitMessage
	StatusWaitObject
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusRunning:
		return "RUNNING"
	case StatusSleeping:
		return "SLEEPING"
	case StatusWaitMessage:
		return "WAITMESSAGE"
	case StatusWaitObject:
		return "WAITOBJECT"
	case StatusDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// event drives the task status state machine; it mirrors the arrows in
// spec §4.5's diagram.
type event int

const (
	eventDispatch event = iota
	eventSleep
	eventWaitMessage
	eventWaitObject
	eventWake
	eventKill
)

var taskTransitions = []statemachine.Transition[Status, event]{
	{From: StatusReady, Event: eventDispatch, To: StatusRunning},
	{From: StatusRunning, Event: eventSleep, To: StatusSleeping},
	{From: StatusRunning, Event: eventWaitMessage, To: StatusWaitMessage},
	{From: StatusRunning, Event: eventWaitObject, To: StatusWaitObject},
	{From: StatusRunning, Event: eventDispatch, To: StatusReady}, // preempted back to ready
	{From: StatusSleeping, Event: eventWake, To: StatusReady},
	{From: StatusWaitMessage, Event: eventWake, To: StatusReady},
	{From: StatusWaitObject, Event: eventWake, To: StatusReady},
}

// Task is the schedulable unit (spec §3 "Task"). Messaging, mutex, and
// kernel-stack bookkeeping live in the fields that other packages attach
// to it (Mailbox is set by pkg/msg; Lock is this task's own mutex).
type Task struct {
	Header  kobj.Header // TypeID = kobj.TypeTask
	Handle  kobj.Handle // this task's own entry in the handle table
	Process kobj.ProcessID
	Name    corestring.Name

	Priority   Priority
	WakeUpTime time.Time

	Lock *ksync.Mutex // the task's own mutex, per spec §3

	// Mailbox is set by pkg/msg to the task's per-task message queue; kept
	// as `any` here so pkg/sched never imports pkg/msg.
	Mailbox any

	mu    sync.Mutex
	fsm   *statemachine.Machine[Status, event]
	elem  *listElem // current ready-queue membership, or nil
}

// NewTask constructs a task in READY state at the given priority.
func NewTask(header kobj.Header, process kobj.ProcessID, name string, priority Priority) *Task {
	t := &Task{
		Header:   header,
		Process:  process,
		Name:     corestring.NewName(name),
		Priority: priority,
	}
	t.fsm = statemachine.New(taskTransitions, nil, StatusReady, t)
	return t
}

// Status returns the task's current scheduling state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.CurrentState()
}

// transition attempts the named event, returning whether it fired.
func (t *Task) transition(ev event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.ProcessEvent(ev)
}

// forceState jumps straight to newState (used by KillTask: DEAD is
// reachable from any state, not just via a table transition).
func (t *Task) forceState(newState Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fsm.ForceState(newState)
}

// WaiterID, WaiterProcess, BeginWait, and EndWait implement
// ksync.Waiter, letting a Task be passed directly to Mutex.Lock/Unlock.
// BeginWait/EndWait approximate the original's
// "Task->Status = TASK_STATUS_SLEEPING; ... IdleCPU()" spin: in this
// goroutine-per-task simulation, a task blocked on mutex contention is
// cooperatively re-dispatched (there is no separate scheduler tick
// driving it back to RUNNING the way a real timer IRQ would), so EndWait
// forces the task straight back to RUNNING rather than waiting for the
// scheduler's next promotion pass.
func (t *Task) WaiterID() uint64             { return t.Header.ID }
func (t *Task) WaiterProcess() kobj.ProcessID { return t.Process }

func (t *Task) BeginWait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fsm.ProcessEvent(eventSleep)
	t.WakeUpTime = time.Now().Add(20 * time.Millisecond)
}

func (t *Task) EndWait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fsm.CurrentState() == StatusSleeping {
		t.fsm.ProcessEvent(eventWake)
		t.fsm.ForceState(StatusRunning)
	}
}

// listElem is an opaque handle into the scheduler's internal ready-queue
// bookkeeping; it lives here only so Task can remember and clear its own
// queue membership without pkg/sched's ready-queue type leaking its
// generic instantiation into every call site.
type listElem struct {
	tier int
	ptr  any
}
