package ksync

import (
	"context"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/kobj"
	"golang.org/x/sync/semaphore"
)

// Semaphore is the counting-lock kernel object behind the
// CreateSemaphore/LockSemaphore/UnlockSemaphore syscalls (spec §6). Unlike
// Mutex it is not recursive and not owner-tracked — any task holding a
// permit may release it — so it is backed directly by
// golang.org/x/sync/semaphore.Weighted rather than a hand-rolled retry
// loop.
type Semaphore struct {
	Header kobj.Header
	name   string
	max    int64
	weighted *semaphore.Weighted
}

// NewSemaphore creates a semaphore with maxCount permits, all initially
// available.
func NewSemaphore(header kobj.Header, name string, maxCount int64) *Semaphore {
	return &Semaphore{
		Header:   header,
		name:     name,
		max:      maxCount,
		weighted: semaphore.NewWeighted(maxCount),
	}
}

// Name returns the semaphore's debug name.
func (s *Semaphore) Name() string { return s.name }

// Max reports the semaphore's permit count.
func (s *Semaphore) Max() int64 { return s.max }

// Lock acquires one permit, blocking until ctx is done or a permit frees
// up.
func (s *Semaphore) Lock(ctx context.Context) error {
	if err := s.weighted.Acquire(ctx, 1); err != nil {
		return xerrors.NewRetryable("semaphore contended")
	}
	return nil
}

// Unlock releases one permit. Panics (via the underlying Weighted) if
// called without a matching Lock, matching the original's "unbalanced
// release is a programming error" semantics.
func (s *Semaphore) Unlock() {
	s.weighted.Release(1)
}

// CreateSemaphore allocates a new semaphore kernel object through table.
func CreateSemaphore(table *kobj.Table, name string, owner kobj.ProcessID, maxCount int64) (kobj.Handle, *Semaphore) {
	sem := NewSemaphore(kobj.Header{TypeID: kobj.TypeSemaphore, OwnerProcess: owner}, name, maxCount)
	handle, header := table.CreateKernelObject(kobj.TypeSemaphore, owner, sem, nil)
	sem.Header = *header
	return handle, sem
}
