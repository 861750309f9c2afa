package sched

import (
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/memory"
)

// CreateProcess allocates a fresh address space, heap, and handle-table
// entry for a new process, then creates its first (main) task. This
// mirrors spec §3's "Created by CreateProcess (from a file image +
// command line)"; the file-image/command-line arguments belong to
// pkg/diskio and are threaded in by internal/kernel, not by this
// package.
//
// The process itself is stored as the handle table's payload, so
// HandleToPointer(handle, TypeProcess) resolves to the real *Process; its
// Teardown kills every task still attached to it when the handle's last
// reference is released (spec §3 "destroyed when its reference count
// reaches zero and its last task exits").
func (s *Scheduler) CreateProcess(name string, frames *memory.FrameAllocator, kernelMappings *memory.KernelMappings, heapSize uint32, mainPriority Priority) (*Process, *Task, error) {
	space, err := memory.NewAddressSpace(s.log, frames, kernelMappings)
	if err != nil {
		return nil, nil, err
	}

	proc, err := NewProcess(s.log, kobj.Header{TypeID: kobj.TypeProcess}, name, space, heapSize)
	if err != nil {
		return nil, nil, err
	}

	handle, header := s.table.CreateKernelObject(kobj.TypeProcess, kobj.ProcessID(0), proc, func(any) {
		s.detachProcess(proc)
	})
	proc.Header = *header
	proc.Handle = handle

	_, mainTask := s.CreateTask(proc.ID(), name, mainPriority)
	proc.AddTask(mainTask)

	return proc, mainTask, nil
}

// detachProcess runs as a process's kernel-object Teardown: every task
// still attached to it is killed so none outlives the process's handle.
func (s *Scheduler) detachProcess(p *Process) {
	for _, t := range p.Tasks() {
		s.KillTask(t)
	}
}
