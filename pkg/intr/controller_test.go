package intr_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/exos-project/exoscore/pkg/intr"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	c := intr.NewController(logr.Discard())
	c.InitializeDeviceInterrupts()

	slot, ok := c.DeviceInterruptRegister(intr.Registration{Name: "nic0"})
	require.True(t, ok)
	assert.True(t, c.Registered(slot))

	c.DeviceInterruptUnregister(slot)
	assert.False(t, c.Registered(slot))
}

func TestRegisterExhaustion(t *testing.T) {
	c := intr.NewController(logr.Discard())
	for i := 0; i < intr.VectorMax; i++ {
		_, ok := c.DeviceInterruptRegister(intr.Registration{Name: "dev"})
		require.True(t, ok)
	}
	_, ok := c.DeviceInterruptRegister(intr.Registration{Name: "overflow"})
	assert.False(t, ok)
}

func TestTopHalfSchedulesBottomHalf(t *testing.T) {
	c := intr.NewController(logr.Discard())
	var bottomRan atomic.Bool

	slot, ok := c.DeviceInterruptRegister(intr.Registration{
		Name: "disk0",
		ISR:  func(device, ctx any) bool { return true },
		BottomHalf: func(device, ctx any) {
			bottomRan.Store(true)
		},
	})
	require.True(t, ok)

	c.DeviceInterruptHandler(slot)
	assert.Equal(t, 1, c.PendingBottomHalves())
	assert.False(t, bottomRan.Load())

	require.NoError(t, c.RunBottomHalves(context.Background()))
	assert.True(t, bottomRan.Load())
	assert.Equal(t, 0, c.PendingBottomHalves())
}

func TestTopHalfWithoutScheduleDoesNotQueue(t *testing.T) {
	c := intr.NewController(logr.Discard())
	slot, ok := c.DeviceInterruptRegister(intr.Registration{
		Name: "kbd",
		ISR:  func(device, ctx any) bool { return false },
	})
	require.True(t, ok)

	c.DeviceInterruptHandler(slot)
	assert.Equal(t, 0, c.PendingBottomHalves())
}

func TestInvalidSlotCountsSpurious(t *testing.T) {
	c := intr.NewController(logr.Discard())
	c.DeviceInterruptHandler(5)
	assert.Equal(t, uint64(1), c.SpuriousCount())
}

func TestNullISRCountsSpurious(t *testing.T) {
	c := intr.NewController(logr.Discard())
	slot, ok := c.DeviceInterruptRegister(intr.Registration{Name: "blank"})
	require.True(t, ok)

	c.DeviceInterruptHandler(slot)
	assert.Equal(t, uint64(1), c.SpuriousCount())
}
