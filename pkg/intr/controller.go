// Package intr implements the device interrupt controller (spec §4.6):
// slot-based ISR registration over a fixed vector range, top-half
// dispatch with interrupts-disabled semantics, deferred bottom-half
// execution, and a cooldown-throttled spurious/unhandled counter.
package intr

import (
	"context"
	"sync"
	"time"

	"github.com/exos-project/exoscore/pkg/cooldown"
	"github.com/exos-project/exoscore/pkg/klist"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// VectorBase and VectorMax bound the fixed device-IRQ vector range
// [VectorBase, VectorBase+VectorMax), spec §4.6.
const (
	VectorBase = 48
	VectorMax  = 32 // DEVICE_INTERRUPT_VECTOR_MAX
)

// ISR is a device's top-half handler: returning true means "handled,
// schedule the bottom half".
type ISR func(device any, ctx any) bool

// BottomHalf runs later, with interrupts enabled, before the current
// task resumes.
type BottomHalf func(device any, ctx any)

// Registration describes a device's interrupt binding (spec §4.6).
type Registration struct {
	Device     any
	LegacyIRQ  uint8
	TargetCPU  int
	ISR        ISR
	BottomHalf BottomHalf
	Poll       func() bool // optional; used by pollable devices alongside IRQ delivery
	Context    any
	Name       string
}

type slot struct {
	reg     Registration
	enabled bool
}

// Controller owns the vector-slot table and the queue of bottom halves
// awaiting deferred execution.
type Controller struct {
	log logr.Logger

	mu    sync.Mutex
	slots [VectorMax]*slot

	pending          klist.List[bottomHalfEntry]
	spuriousCooldown *cooldown.Cooldown
	spuriousCount    uint64
	unhandledCount   uint64
}

type bottomHalfEntry struct {
	run func()
}

// NewController creates an empty controller; call InitializeDeviceInterrupts
// once the low-level trampolines (architecture-specific, outside this
// package's scope) are installed.
func NewController(log logr.Logger) *Controller {
	return &Controller{
		log:              log.WithName("device-interrupts"),
		spuriousCooldown: cooldown.New(2 * time.Second),
	}
}

// InitializeDeviceInterrupts installs trampolines at every vector slot.
// In this simulation there is no architecture-specific IDT to program;
// the call exists so boot sequencing matches spec §4.6's step, and
// leaves every slot disabled and unregistered.
func (c *Controller) InitializeDeviceInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i] = nil
	}
}

// DeviceInterruptRegister atomically allocates a free slot for reg and
// enables its vector. Returns (0, false) if every slot is occupied.
func (c *Controller) DeviceInterruptRegister(reg Registration) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i] == nil {
			c.slots[i] = &slot{reg: reg, enabled: true}
			return i, true
		}
	}
	c.log.Info("device interrupt slots exhausted", "name", reg.Name)
	return 0, false
}

// DeviceInterruptUnregister disables the vector and clears the slot.
// Safe to call from driver teardown even if slot was never registered.
func (c *Controller) DeviceInterruptUnregister(slotIdx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slotIdx < 0 || slotIdx >= VectorMax {
		return
	}
	c.slots[slotIdx] = nil
}

// DeviceInterruptHandler is the top half: invoked with interrupts
// disabled (the caller's critical section), it calls the slot's ISR and,
// if it returns true, queues the bottom half for deferred execution. An
// invalid slot or a null ISR at dispatch time counts as spurious.
func (c *Controller) DeviceInterruptHandler(slotIdx int) {
	c.mu.Lock()
	if slotIdx < 0 || slotIdx >= VectorMax || c.slots[slotIdx] == nil || !c.slots[slotIdx].enabled {
		c.recordSpuriousLocked(slotIdx)
		c.mu.Unlock()
		return
	}
	s := c.slots[slotIdx]
	if s.reg.ISR == nil {
		c.recordSpuriousLocked(slotIdx)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	scheduleBottom := s.reg.ISR(s.reg.Device, s.reg.Context)
	if !scheduleBottom {
		return
	}
	if s.reg.BottomHalf == nil {
		return
	}

	device, ctx, fn := s.reg.Device, s.reg.Context, s.reg.BottomHalf
	c.mu.Lock()
	c.pending.AddTail(bottomHalfEntry{run: func() { fn(device, ctx) }})
	c.mu.Unlock()
}

func (c *Controller) recordSpuriousLocked(slotIdx int) {
	c.spuriousCount++
	if c.spuriousCooldown.TryArm(time.Now()) {
		c.log.Info("spurious device interrupt", "slot", slotIdx, "totalSpurious", c.spuriousCount)
	}
}

// RunBottomHalves drains every bottom half queued since the last call,
// running them concurrently with interrupts enabled (represented here by
// running outside the top half's critical section). It is the simulated
// equivalent of "the bottom half is queued to run... before the current
// task resumes". The scheduler does not call it; queued bottom halves run
// only when a caller (Kernel.RunBottomHalves) invokes it.
func (c *Controller) RunBottomHalves(ctx context.Context) error {
	c.mu.Lock()
	entries := make([]bottomHalfEntry, 0, c.pending.Len())
	for {
		e, ok := c.pending.RemoveHead()
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	c.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for _, e := range entries {
		run := e.run
		g.Go(func() error {
			run()
			return nil
		})
	}
	return g.Wait()
}

// PendingBottomHalves reports how many bottom halves are queued.
func (c *Controller) PendingBottomHalves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// SpuriousCount reports the running total of spurious/unhandled IRQs.
func (c *Controller) SpuriousCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spuriousCount
}

// Registered reports whether slotIdx currently holds a live registration.
func (c *Controller) Registered(slotIdx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slotIdx >= 0 && slotIdx < VectorMax && c.slots[slotIdx] != nil
}
