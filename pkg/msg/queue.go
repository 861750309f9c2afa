package msg

import (
	"sync"

	"github.com/exos-project/exoscore/pkg/klist"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/go-logr/logr"
)

// Capacity is the hard cap on a queue's pending messages (spec §3
// "MessageQueue... Capacity bounded to 256").
const Capacity = 256

// Queue is a per-task or per-process message queue. Capacity overflow
// drops the newest message with a logged warning; an EWM_DRAW post to a
// window with one already pending removes the pending entry and appends
// the new message at the tail, so only one EWM_DRAW per window is queued.
//
// The original's MessageQueue embeds its own kernel Mutex (one of the
// twelve process-wide mutexes serializes access at a higher level, but
// the queue itself needs only a short-lived lock for the duration of one
// Post/Peek/Pop, never held across a blocking wait) — a plain sync.Mutex
// plays that role here; pkg/ksync.Mutex's owner-tracked recursion is not
// needed for a lock that is never re-entered by the same task.
type Queue struct {
	log logr.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   klist.List[Message]
	waiting bool
	quit    bool
	dropped uint64
}

// NewQueue creates an empty queue.
func NewQueue(log logr.Logger) *Queue {
	q := &Queue{log: log.WithName("message-queue")}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Post appends m, applying EWM_DRAW coalescing and the capacity/drop-
// newest policy. Returns false if the message was dropped.
func (q *Queue) Post(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if m.Code == EWMDraw && m.Target.Window != nil {
		var existing *klist.Elem[Message]
		q.items.Each(func(e *klist.Elem[Message]) {
			if e.Value.Code == EWMDraw && sameWindow(e.Value.Target.Window, m.Target.Window) {
				existing = e
			}
		})
		if existing != nil {
			q.items.Remove(existing)
			q.items.AddTail(m)
			q.cond.Broadcast()
			return true
		}
	}

	if m.Code == ETMQuit {
		q.quit = true
	}

	if q.items.Len() >= Capacity {
		q.dropped++
		q.log.Info("message queue full, dropping newest message", "code", m.Code)
		return false
	}
	q.items.AddTail(m)
	q.cond.Broadcast()
	return true
}

func sameWindow(a, b *kobj.Handle) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// Peek reports the next message without removing it, checking nothing
// about ordering beyond "front of this queue".
func (q *Queue) Peek() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		return Message{}, false
	}
	return e.Value, true
}

// Pop removes and returns the next message.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.RemoveHead()
}

// Len reports the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Wait blocks until the queue is non-empty or ETM_QUIT has been posted
// (spec: GetMessage "blocks... until one arrives or until ETM_QUIT is
// delivered, in which case returns false"). Waiting is set only for the
// duration of the block, matching spec §3's "Waiting is set only while
// the owning task is in WAITMESSAGE".
func (q *Queue) Wait() (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting = true
	defer func() { q.waiting = false }()
	for q.items.Len() == 0 && !q.quit {
		q.cond.Wait()
	}
	return q.items.Len() > 0
}

// Waiting reports whether a task is currently blocked in Wait.
func (q *Queue) Waiting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

// Dropped reports how many messages this queue has discarded for being
// posted at capacity, for metrics collectors.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
