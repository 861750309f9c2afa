package msg_test

import (
	"testing"
	"time"

	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*msg.Router, *sched.Scheduler) {
	t.Helper()
	log := logr.Discard()
	table := kobj.NewTable(log)
	globals := ksync.NewGlobals(log)
	scheduler := sched.NewScheduler(log, globals, table)
	return msg.NewRouter(log, scheduler), scheduler
}

func TestPostMessageToCurrentTask(t *testing.T) {
	router, scheduler := newTestRouter(t)
	_, task := scheduler.CreateTask(kobj.ProcessID(1), "t", sched.PriorityMedium)

	ok := router.PostMessage(task, msg.Target{}, msg.ETMCreate, 0, 0)
	require.True(t, ok)

	m, ok := router.TaskQueue(task.WaiterID()).Pop()
	require.True(t, ok)
	assert.Equal(t, msg.ETMCreate, m.Code)
}

func TestPostMessageToExplicitTaskWakesWaiter(t *testing.T) {
	router, scheduler := newTestRouter(t)
	_, sender := scheduler.CreateTask(kobj.ProcessID(1), "sender", sched.PriorityMedium)
	_, receiver := scheduler.CreateTask(kobj.ProcessID(1), "receiver", sched.PriorityMedium)

	done := make(chan msg.Message, 1)
	go func() {
		m, ok := router.GetMessage(receiver, receiver.Process)
		if ok {
			done <- m
		}
	}()

	// give GetMessage a chance to reach Wait()
	time.Sleep(20 * time.Millisecond)

	receiverHandle := kobj.Handle(receiver.WaiterID())
	ok := router.PostMessage(sender, msg.Target{Task: &receiverHandle}, msg.ETMPause, 0, 0)
	require.True(t, ok)

	select {
	case got := <-done:
		assert.Equal(t, msg.ETMPause, got.Code)
	case <-time.After(time.Second):
		t.Fatal("GetMessage did not receive the posted message")
	}
}

func TestGetMessageReturnsFalseOnQuit(t *testing.T) {
	router, scheduler := newTestRouter(t)
	_, task := scheduler.CreateTask(kobj.ProcessID(1), "t", sched.PriorityMedium)

	require.True(t, router.PostMessage(task, msg.Target{}, msg.ETMQuit, 0, 0))

	_, ok := router.GetMessage(task, task.Process)
	assert.False(t, ok)
}

func TestBroadcastProcessMessageSkipsKernelProcess(t *testing.T) {
	router, _ := newTestRouter(t)

	kernelQ := router.ProcessQueue(kobj.ProcessID(0))
	userQ := router.ProcessQueue(kobj.ProcessID(1))

	router.BroadcastProcessMessage(msg.ETMPause, 0, 0)

	assert.Equal(t, 0, kernelQ.Len())
	assert.Equal(t, 1, userQ.Len())
}

func TestEnqueueInputMessageFallsBackToFocusedProcess(t *testing.T) {
	router, _ := newTestRouter(t)
	router.SetFocus(kobj.Handle(0), kobj.ProcessID(5))

	ok := router.EnqueueInputMessage(msg.EWMKeyDown, 0x41, 'A', nil, kobj.ProcessID(0))
	require.True(t, ok)

	m, ok := router.ProcessQueue(kobj.ProcessID(5)).Pop()
	require.True(t, ok)
	assert.Equal(t, msg.EWMKeyDown, m.Code)
}

func TestEnqueueInputMessageDropsWithoutFocus(t *testing.T) {
	router, _ := newTestRouter(t)
	ok := router.EnqueueInputMessage(msg.EWMKeyDown, 0, 0, nil, kobj.ProcessID(0))
	assert.False(t, ok)
}

type fakeWindowHandler struct {
	owner  kobj.Handle
	result uint32
}

func (f *fakeWindowHandler) TaskForWindow(kobj.Handle) (kobj.Handle, bool) { return f.owner, true }
func (f *fakeWindowHandler) Invoke(kobj.Handle, msg.Code, uint32, uint32) uint32 {
	return f.result
}

func TestSendMessageInvokesWindowHandler(t *testing.T) {
	router, _ := newTestRouter(t)
	router.SetWindowHandler(&fakeWindowHandler{result: 42})

	result, ok := router.SendMessage(kobj.Handle(1), msg.EWMCommand, 0, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(42), result)
}

func TestSendMessageWithoutWindowHandlerFails(t *testing.T) {
	router, _ := newTestRouter(t)
	_, ok := router.SendMessage(kobj.Handle(1), msg.EWMCommand, 0, 0)
	assert.False(t, ok)
}
