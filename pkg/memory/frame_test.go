package memory_test

import (
	"testing"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/memory"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	f := memory.NewFrameAllocator(logr.Discard(), 0, 16*memory.PageSize)

	before := f.FreeFrameCount()
	addr, err := f.AllocPhysicalPage()
	require.NoError(t, err)

	f.FreePhysicalPage(addr)
	assert.Equal(t, before, f.FreeFrameCount())
}

func TestAllocIsFirstFit(t *testing.T) {
	f := memory.NewFrameAllocator(logr.Discard(), 0, 4*memory.PageSize)

	a, err := f.AllocPhysicalPage()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), a)

	b, err := f.AllocPhysicalPage()
	require.NoError(t, err)
	assert.Equal(t, uint32(memory.PageSize), b)

	f.FreePhysicalPage(a)

	c, err := f.AllocPhysicalPage()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c)
}

func TestExhaustion(t *testing.T) {
	f := memory.NewFrameAllocator(logr.Discard(), 0, 2*memory.PageSize)

	_, err := f.AllocPhysicalPage()
	require.NoError(t, err)
	_, err = f.AllocPhysicalPage()
	require.NoError(t, err)

	_, err = f.AllocPhysicalPage()
	assert.ErrorIs(t, err, xerrors.ErrExhausted)
}

func TestDoubleFreeIsSilent(t *testing.T) {
	f := memory.NewFrameAllocator(logr.Discard(), 0, 4*memory.PageSize)

	addr, err := f.AllocPhysicalPage()
	require.NoError(t, err)

	f.FreePhysicalPage(addr)
	assert.NotPanics(t, func() { f.FreePhysicalPage(addr) })
}

func TestReservePhysicalRange(t *testing.T) {
	f := memory.NewFrameAllocator(logr.Discard(), 0, 8*memory.PageSize)

	f.ReservePhysicalRange(0, 3*memory.PageSize)
	assert.Equal(t, uint32(5), f.FreeFrameCount())

	addr, err := f.AllocPhysicalPage()
	require.NoError(t, err)
	assert.Equal(t, uint32(3*memory.PageSize), addr)
}
