package sched_test

import (
	"testing"
	"time"

	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *sched.Scheduler {
	t.Helper()
	table := kobj.NewTable(logr.Discard())
	globals := ksync.NewGlobals(logr.Discard())
	return sched.NewScheduler(logr.Discard(), globals, table)
}

func TestCriticalPreemptsLowerTiers(t *testing.T) {
	s := newTestScheduler(t)

	_, a := s.CreateTask(kobj.ProcessID(1), "A", sched.PriorityMedium)
	_, b := s.CreateTask(kobj.ProcessID(1), "B", sched.PriorityCritical)

	next := s.Tick(time.Now())
	assert.Equal(t, b.Header.ID, next.Header.ID)
	assert.NotEqual(t, a.Header.ID, next.Header.ID)
}

func TestRoundRobinWithinTier(t *testing.T) {
	s := newTestScheduler(t)

	_, a := s.CreateTask(kobj.ProcessID(1), "A", sched.PriorityMedium)
	_, b := s.CreateTask(kobj.ProcessID(1), "B", sched.PriorityMedium)

	first := s.Tick(time.Now())
	require.Equal(t, a.Header.ID, first.Header.ID)

	second := s.Tick(time.Now())
	assert.Equal(t, b.Header.ID, second.Header.ID)
}

func TestSleepPromotesOnDueWake(t *testing.T) {
	s := newTestScheduler(t)
	_, a := s.CreateTask(kobj.ProcessID(1), "A", sched.PriorityMedium)

	s.Tick(time.Now())
	s.Sleep(a, 10*time.Millisecond)
	assert.Equal(t, sched.StatusSleeping, a.Status())

	past := time.Now().Add(20 * time.Millisecond)
	next := s.Tick(past)
	assert.Equal(t, a.Header.ID, next.Header.ID)
	assert.Equal(t, sched.StatusRunning, a.Status())
}

func TestKillTaskIsReapedOnNextTick(t *testing.T) {
	s := newTestScheduler(t)
	_, a := s.CreateTask(kobj.ProcessID(1), "A", sched.PriorityMedium)

	before := s.TaskCount()
	s.KillTask(a)
	assert.Equal(t, sched.StatusDead, a.Status())

	s.Tick(time.Now())
	assert.Equal(t, before-1, s.TaskCount())
}

func TestFreezeSchedulerStopsPreemption(t *testing.T) {
	s := newTestScheduler(t)
	_, a := s.CreateTask(kobj.ProcessID(1), "A", sched.PriorityMedium)
	_ = a

	first := s.Tick(time.Now())
	s.FreezeScheduler()
	second := s.Tick(time.Now())
	assert.Equal(t, first.Header.ID, second.Header.ID)

	s.UnfreezeScheduler()
}

func TestWakeNeverTouchesRunningTask(t *testing.T) {
	s := newTestScheduler(t)
	_, a := s.CreateTask(kobj.ProcessID(1), "A", sched.PriorityMedium)
	s.Tick(time.Now())
	require.Equal(t, sched.StatusRunning, a.Status())

	s.MarkReady(a)
	assert.Equal(t, sched.StatusRunning, a.Status())
}
