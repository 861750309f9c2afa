package sched_test

import (
	"testing"
	"time"

	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/stretchr/testify/assert"
)

func TestNewTaskStartsReady(t *testing.T) {
	task := sched.NewTask(kobj.Header{TypeID: kobj.TypeTask, ID: 1}, kobj.ProcessID(1), "init", sched.PriorityMedium)
	assert.Equal(t, sched.StatusReady, task.Status())
}

func TestWaiterBeginEndWaitRoundTrip(t *testing.T) {
	s := newTestScheduler(t)
	_, task := s.CreateTask(kobj.ProcessID(1), "t", sched.PriorityMedium)
	s.Tick(time.Now()) // a mutex waiter is the RUNNING task

	task.BeginWait()
	assert.Equal(t, sched.StatusSleeping, task.Status())

	task.EndWait()
	assert.Equal(t, sched.StatusRunning, task.Status())
}

func TestWaiterIdentity(t *testing.T) {
	task := sched.NewTask(kobj.Header{TypeID: kobj.TypeTask, ID: 42}, kobj.ProcessID(7), "t", sched.PriorityMedium)
	assert.Equal(t, uint64(42), task.WaiterID())
	assert.Equal(t, kobj.ProcessID(7), task.WaiterProcess())
}
