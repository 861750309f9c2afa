package msg

import (
	"sync"
	"time"

	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/go-logr/logr"
)

// WindowHandler invokes a window's registered message handler with its
// window mutex held, as SendMessage/DispatchMessage require. Window and
// desktop objects themselves are outside the kernel core's five
// subsystems (spec §1 lists windowing only as a consumer of the
// messaging/scheduling interfaces via its syscall range); Router treats
// the window tree as a pluggable collaborator through this interface
// rather than implementing Window/Desktop itself.
type WindowHandler interface {
	// TaskForWindow resolves the task that owns window, for PostMessage's
	// window-targeted enqueue path.
	TaskForWindow(window kobj.Handle) (kobj.Handle, bool)
	// Invoke calls the window's handler synchronously, returning its
	// result (SendMessage/DispatchMessage).
	Invoke(window kobj.Handle, code Code, p1, p2 uint32) uint32
}

// Router owns every task's and process's Queue and implements spec
// §4.7's delivery rules.
type Router struct {
	log       logr.Logger
	scheduler *sched.Scheduler

	mu       sync.Mutex
	taskQs   map[uint64]*Queue
	procQs   map[kobj.ProcessID]*Queue
	windows  WindowHandler // optional; nil if no windowing layer is wired

	focusedTask    *kobj.Handle
	focusedProcess *kobj.ProcessID
}

// NewRouter creates a router bound to scheduler (used to flip a woken
// task's status out of WAITMESSAGE).
func NewRouter(log logr.Logger, scheduler *sched.Scheduler) *Router {
	return &Router{
		log:       log.WithName("message-router"),
		scheduler: scheduler,
		taskQs:    make(map[uint64]*Queue),
		procQs:    make(map[kobj.ProcessID]*Queue),
	}
}

// SetWindowHandler wires the (optional) window-tree collaborator.
func (r *Router) SetWindowHandler(w WindowHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = w
}

// TaskQueue returns (creating lazily) the queue for a task.
func (r *Router) TaskQueue(taskID uint64) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.taskQs[taskID]
	if !ok {
		q = NewQueue(r.log)
		r.taskQs[taskID] = q
	}
	return q
}

// ProcessQueue returns (creating lazily) the queue for a process.
func (r *Router) ProcessQueue(pid kobj.ProcessID) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.procQs[pid]
	if !ok {
		q = NewQueue(r.log)
		r.procQs[pid] = q
	}
	return q
}

// TotalDropped sums Dropped() across every task and process queue the
// router currently owns, for metrics collectors.
func (r *Router) TotalDropped() uint64 {
	r.mu.Lock()
	taskQs := make([]*Queue, 0, len(r.taskQs))
	for _, q := range r.taskQs {
		taskQs = append(taskQs, q)
	}
	procQs := make([]*Queue, 0, len(r.procQs))
	for _, q := range r.procQs {
		procQs = append(procQs, q)
	}
	r.mu.Unlock()

	var total uint64
	for _, q := range taskQs {
		total += q.Dropped()
	}
	for _, q := range procQs {
		total += q.Dropped()
	}
	return total
}

// SetFocus records the focused task/process pair for EnqueueInputMessage.
func (r *Router) SetFocus(task kobj.Handle, process kobj.ProcessID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focusedTask = &task
	r.focusedProcess = &process
}

// PostMessage implements the asynchronous delivery rules of spec §4.7.
// A zero Target enqueues to currentTask. A Target.Task handle enqueues
// directly, waking the target if it is in WAITMESSAGE. A Target.Window
// handle is resolved to its owning task through the wired WindowHandler.
func (r *Router) PostMessage(currentTask *sched.Task, target Target, code Code, p1, p2 uint32) bool {
	m := Message{Target: target, Time: time.Now(), Code: code, Param1: p1, Param2: p2}

	switch {
	case target.Task == nil && target.Window == nil:
		return r.postToTask(currentTask.WaiterID(), m)

	case target.Task != nil:
		return r.postToTask(uint64(*target.Task), m)

	default: // target.Window != nil
		r.mu.Lock()
		wh := r.windows
		r.mu.Unlock()
		if wh == nil {
			return false
		}
		taskHandle, ok := wh.TaskForWindow(*target.Window)
		if !ok {
			return false
		}
		return r.postToTask(uint64(taskHandle), m)
	}
}

func (r *Router) postToTask(taskID uint64, m Message) bool {
	q := r.TaskQueue(taskID)
	posted := q.Post(m)
	if posted && q.Waiting() {
		if task, ok := r.scheduler.TaskByID(taskID); ok {
			r.scheduler.MarkReady(task)
		}
	}
	return posted
}

// SendMessage performs a synchronous, direct call into window's handler
// under its mutex, returning the handler's result. Not available for
// task targets (spec §4.7).
func (r *Router) SendMessage(window kobj.Handle, code Code, p1, p2 uint32) (uint32, bool) {
	r.mu.Lock()
	wh := r.windows
	r.mu.Unlock()
	if wh == nil {
		return 0, false
	}
	return wh.Invoke(window, code, p1, p2), true
}

// PeekMessage checks the process queue first, then the task queue,
// without removing anything.
func (r *Router) PeekMessage(process kobj.ProcessID, taskID uint64) (Message, bool) {
	if m, ok := r.ProcessQueue(process).Peek(); ok {
		return m, true
	}
	return r.TaskQueue(taskID).Peek()
}

// GetMessage blocks the calling task in WAITMESSAGE until a message is
// available on its process or task queue, or until ETM_QUIT is
// delivered (in which case it returns false without yielding a
// message).
func (r *Router) GetMessage(task *sched.Task, process kobj.ProcessID) (Message, bool) {
	procQ := r.ProcessQueue(process)
	taskQ := r.TaskQueue(task.WaiterID())

	r.scheduler.WaitMessage(task)
	defer r.scheduler.MarkReady(task)

	for {
		if m, ok := procQ.Pop(); ok {
			if m.Code == ETMQuit {
				return Message{}, false
			}
			return m, true
		}
		if m, ok := taskQ.Pop(); ok {
			if m.Code == ETMQuit {
				return Message{}, false
			}
			return m, true
		}
		if !taskQ.Wait() {
			return Message{}, false
		}
	}
}

// DispatchMessage walks the window tree (via the wired WindowHandler) to
// find the message's target window and invokes its handler.
func (r *Router) DispatchMessage(m Message) (uint32, bool) {
	if m.Target.Window == nil {
		return 0, false
	}
	return r.SendMessage(*m.Target.Window, m.Code, m.Param1, m.Param2)
}

// BroadcastProcessMessage posts to every process queue currently known to
// the router (the kernel process, ID 0, is excluded per spec). Returns
// true if at least one post succeeded.
func (r *Router) BroadcastProcessMessage(code Code, p1, p2 uint32) bool {
	m := Message{Time: time.Now(), Code: code, Param1: p1, Param2: p2}

	r.mu.Lock()
	targets := make([]*Queue, 0, len(r.procQs))
	for pid, q := range r.procQs {
		if pid == kobj.ProcessID(0) {
			continue
		}
		targets = append(targets, q)
	}
	r.mu.Unlock()

	any := false
	for _, q := range targets {
		if q.Post(m) {
			any = true
		}
	}
	return any
}

// EnqueueInputMessage implements spec §4.7's focus-aware input routing:
// the focused window's task if it belongs to the focused process,
// otherwise the focused process's queue, otherwise the message is
// dropped.
func (r *Router) EnqueueInputMessage(code Code, p1, p2 uint32, focusedWindow *kobj.Handle, windowOwnerProcess kobj.ProcessID) bool {
	r.mu.Lock()
	focusedTask := r.focusedTask
	focusedProcess := r.focusedProcess
	r.mu.Unlock()

	if focusedWindow != nil && focusedProcess != nil && windowOwnerProcess == *focusedProcess {
		if focusedTask != nil {
			return r.postToTask(uint64(*focusedTask), Message{
				Target: Target{Window: focusedWindow}, Time: time.Now(), Code: code, Param1: p1, Param2: p2,
			})
		}
	}
	if focusedProcess != nil {
		return r.ProcessQueue(*focusedProcess).Post(Message{Time: time.Now(), Code: code, Param1: p1, Param2: p2})
	}
	return false
}
