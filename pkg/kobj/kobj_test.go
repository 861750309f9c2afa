package kobj_test

import (
	"testing"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMutex struct {
	name string
}

func TestCreateAcquireRelease(t *testing.T) {
	table := kobj.NewTable(logr.Discard())

	handle, header := table.CreateKernelObject(kobj.TypeMutex, kobj.ProcessID(1), &fakeMutex{name: "m"}, nil)
	require.NotZero(t, handle)
	assert.Equal(t, int32(1), header.RefCount())

	obj, ok := table.AcquireKernelObject(handle)
	require.True(t, ok)
	assert.Equal(t, "m", obj.(*fakeMutex).name)
	assert.Equal(t, int32(2), header.RefCount())
}

func TestReleaseRunsTeardownAtZero(t *testing.T) {
	table := kobj.NewTable(logr.Discard())
	var torn bool

	handle, _ := table.CreateKernelObject(kobj.TypeMutex, kobj.ProcessID(1), &fakeMutex{name: "m"}, func(obj any) {
		torn = true
		assert.Equal(t, "m", obj.(*fakeMutex).name)
	})

	require.NoError(t, table.ReleaseKernelObject(handle))
	assert.True(t, torn)
	assert.Equal(t, 0, table.Count())

	_, ok := table.AcquireKernelObject(handle)
	assert.False(t, ok)
}

func TestReleaseStaleHandle(t *testing.T) {
	table := kobj.NewTable(logr.Discard())
	err := table.ReleaseKernelObject(kobj.Handle(9999))
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestHandleToPointerTypeMismatch(t *testing.T) {
	table := kobj.NewTable(logr.Discard())
	handle, _ := table.CreateKernelObject(kobj.TypeMutex, kobj.ProcessID(1), &fakeMutex{}, nil)

	_, ok := table.HandleToPointer(handle, kobj.TypeWindow)
	assert.False(t, ok)

	_, ok = table.HandleToPointer(handle, kobj.TypeMutex)
	assert.True(t, ok)
}

func TestEnsureKernelPointer(t *testing.T) {
	h := &kobj.Header{TypeID: kobj.TypeTask}
	assert.True(t, kobj.EnsureKernelPointer(h, kobj.TypeTask))
	assert.False(t, kobj.EnsureKernelPointer(h, kobj.TypeProcess))
	assert.False(t, kobj.EnsureKernelPointer(nil, kobj.TypeTask))
}

func TestReferenceCountsAreDistinctObjects(t *testing.T) {
	table := kobj.NewTable(logr.Discard())
	h1, _ := table.CreateKernelObject(kobj.TypeTask, kobj.ProcessID(1), &fakeMutex{name: "a"}, nil)
	h2, _ := table.CreateKernelObject(kobj.TypeTask, kobj.ProcessID(1), &fakeMutex{name: "b"}, nil)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, table.Count())
}
