package ksync

import (
	"context"
	"fmt"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/go-logr/logr"
)

// The twelve process-wide mutexes, in their documented acquisition order
// (spec §3 / §4.4). Any code path taking more than one of them must do so
// in this order; Globals.AcquireOrdered enforces it.
const (
	OrderKernel = iota + 1
	OrderLog
	OrderMemory
	OrderSchedule
	OrderDesktop
	OrderProcess
	OrderTask
	OrderFileSystem
	OrderFile
	OrderConsole
	OrderUserAccount
	OrderSession
)

// Globals holds the twelve global mutexes for the lifetime of the kernel.
// Exactly one instance is constructed at boot.
type Globals struct {
	Kernel     *Mutex
	Log        *Mutex
	Memory     *Mutex
	Schedule   *Mutex
	Desktop    *Mutex
	Process    *Mutex
	Task       *Mutex
	FileSystem *Mutex
	File       *Mutex
	Console    *Mutex
	UserAccount *Mutex
	Session    *Mutex
}

// NewGlobals constructs the twelve named mutexes, owned by the kernel
// process (owner 0).
func NewGlobals(log logr.Logger) *Globals {
	mk := func(order int, name string) *Mutex {
		m := NewMutex(log, name, kobj.ProcessID(0))
		m.order = order
		return m
	}
	return &Globals{
		Kernel:      mk(OrderKernel, "MUTEX_KERNEL"),
		Log:         mk(OrderLog, "MUTEX_LOG"),
		Memory:      mk(OrderMemory, "MUTEX_MEMORY"),
		Schedule:    mk(OrderSchedule, "MUTEX_SCHEDULE"),
		Desktop:     mk(OrderDesktop, "MUTEX_DESKTOP"),
		Process:     mk(OrderProcess, "MUTEX_PROCESS"),
		Task:        mk(OrderTask, "MUTEX_TASK"),
		FileSystem:  mk(OrderFileSystem, "MUTEX_FILESYSTEM"),
		File:        mk(OrderFile, "MUTEX_FILE"),
		Console:     mk(OrderConsole, "MUTEX_CONSOLE"),
		UserAccount: mk(OrderUserAccount, "MUTEX_USERACCOUNT"),
		Session:     mk(OrderSession, "MUTEX_SESSION"),
	}
}

// AcquireOrdered locks every mutex in mutexes, in the order given, but
// first verifies the caller listed them in strictly ascending global
// order — a multi-lock call site that requests them out of order is a
// deadlock waiting to happen, so this fails fast instead of acquiring
// anything. On any lock failure, everything already acquired is unlocked
// before returning the error.
func (g *Globals) AcquireOrdered(ctx context.Context, task Waiter, mutexes ...*Mutex) error {
	for i := 1; i < len(mutexes); i++ {
		if mutexes[i].order <= mutexes[i-1].order {
			return fmt.Errorf("%w: mutex %q acquired out of global order after %q",
				xerrors.ErrInvalid, mutexes[i].name, mutexes[i-1].name)
		}
	}

	acquired := make([]*Mutex, 0, len(mutexes))
	for _, m := range mutexes {
		if _, err := m.Lock(ctx, task, 0); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				_ = acquired[i].Unlock(task)
			}
			return err
		}
		acquired = append(acquired, m)
	}
	return nil
}
