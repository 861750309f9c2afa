package kernel_test

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/exos-project/exoscore/internal/kernel"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/exos-project/exoscore/pkg/syscall"
)

func TestBootProducesWorkingKernel(t *testing.T) {
	k, err := kernel.Boot(logr.Discard(), kernel.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, k.Shutdown()) })

	require.NotZero(t, k.Frames.TotalFrames())
}

func TestCreateProcessAndSyscallGetVersion(t *testing.T) {
	k, err := kernel.Boot(logr.Discard(), kernel.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, k.Shutdown()) })

	proc, task, err := k.CreateProcess("init", 0, sched.PriorityMedium)
	require.NoError(t, err)

	result, err := k.Syscall(task, proc, syscall.GetVersion, 0)
	require.NoError(t, err)
	require.NotZero(t, result)
}

func TestTickAdvancesScheduler(t *testing.T) {
	k, err := kernel.Boot(logr.Discard(), kernel.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, k.Shutdown()) })

	_, _, err = k.CreateProcess("worker", 0, sched.PriorityMedium)
	require.NoError(t, err)

	task := k.Tick(time.Now())
	require.NotNil(t, task)
}

func TestVolumePersistsAcrossWriteAndRead(t *testing.T) {
	k, err := kernel.Boot(logr.Discard(), kernel.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, k.Shutdown()) })

	n, err := k.Volume.FileWriteAll("/boot/cfg.bin", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	got, err := k.Volume.FileReadAll("/boot/cfg.bin")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}
