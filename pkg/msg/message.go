// Package msg implements the per-task and per-process message queues and
// the router between them (spec §4.7): PostMessage/SendMessage/
// PeekMessage/GetMessage/DispatchMessage, EWM_DRAW coalescing, and
// focus-aware input routing.
package msg

import (
	"time"

	"github.com/exos-project/exoscore/pkg/kobj"
)

// Code partitions into task messages (ETM_*), window messages (EWM_*),
// and user-defined codes (EM_USER and above), per spec §3.
type Code uint32

const (
	ETMNone   Code = 0
	ETMQuit   Code = 1
	ETMCreate Code = 2
	ETMDelete Code = 3
	ETMPause  Code = 4
	ETMUser   Code = 0x20000000

	EWMNone       Code = 0x40000000
	EWMCreate     Code = 0x40000001
	EWMDelete     Code = 0x40000002
	EWMShow       Code = 0x40000003
	EWMHide       Code = 0x40000004
	EWMMove       Code = 0x40000005
	EWMMoving     Code = 0x40000006
	EWMSize       Code = 0x40000007
	EWMSizing     Code = 0x40000008
	EWMDraw       Code = 0x40000009
	EWMKeyDown    Code = 0x4000000A
	EWMKeyUp      Code = 0x4000000B
	EWMMouseMove  Code = 0x4000000C
	EWMMouseDown  Code = 0x4000000D
	EWMMouseUp    Code = 0x4000000E
	EWMCommand    Code = 0x4000000F
	EWMNotify     Code = 0x40000010
	EWMGotFocus   Code = 0x40000011
	EWMLostFocus  Code = 0x40000012

	EMUser Code = 0x60000000
)

// Target identifies who a window message is addressed to; a nil Target
// combined with a non-window code means "the current task".
type Target struct {
	Window *kobj.Handle // nil if not window-targeted
	Task   *kobj.Handle // nil if not task-targeted
}

// Message is the uniform envelope delivered through every queue (spec §3
// "Message").
type Message struct {
	Target  Target
	Time    time.Time
	Code    Code
	Param1  uint32
	Param2  uint32
}
