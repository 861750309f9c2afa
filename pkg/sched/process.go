package sched

import (
	"sync"

	"github.com/exos-project/exoscore/pkg/corestring"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/memory"
	"github.com/go-logr/logr"
)

// Process owns an address space, a heap region, a handle table entry for
// every object it created, a message queue (attached by pkg/msg), and the
// list of tasks running inside it (spec §3 "Process"). When its handle's
// reference count reaches zero, its Teardown kills every task still
// attached to it.
type Process struct {
	Header kobj.Header // TypeID = kobj.TypeProcess
	Handle kobj.Handle // this process's own entry in the handle table
	Name   corestring.Name

	Space *memory.AddressSpace
	Heap   *memory.Heap

	// Mailbox is set by pkg/msg to the process's message queue; kept as
	// `any` here for the same reason as Task.Mailbox.
	Mailbox any

	mu    sync.Mutex
	tasks map[uint64]*Task
}

// NewProcess wires a fresh address space and kernel-heap-sized region for
// the process and returns it with an empty task list. header.ID becomes
// the ProcessID other kernel objects reference as their OwnerProcess.
func NewProcess(log logr.Logger, header kobj.Header, name string, space *memory.AddressSpace, heapSize uint32) (*Process, error) {
	heap, err := memory.NewHeap(log, space, heapSize)
	if err != nil {
		return nil, err
	}
	return &Process{
		Header: header,
		Name:   corestring.NewName(name),
		Space:  space,
		Heap:   heap,
		tasks:  make(map[uint64]*Task),
	}, nil
}

// ID returns the ProcessID other objects use as a weak back-reference.
func (p *Process) ID() kobj.ProcessID { return kobj.ProcessID(p.Header.ID) }

// AddTask registers t as running inside p; the first task added becomes
// the process's main task implicitly (callers are expected to add it
// first).
func (p *Process) AddTask(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[t.Header.ID] = t
}

// RemoveTask detaches t from p. The scheduler's reaping of a DEAD task
// does not call it, so a reaped task stays in p's task list.
func (p *Process) RemoveTask(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tasks, t.Header.ID)
}

// TaskCount reports how many tasks are currently attached to p, that is,
// added with AddTask and not removed with RemoveTask.
func (p *Process) TaskCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Tasks returns a snapshot of the tasks currently attached to p, for
// callers (the process's own Teardown) that need to act on each without
// holding p's lock.
func (p *Process) Tasks() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks := make([]*Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}
