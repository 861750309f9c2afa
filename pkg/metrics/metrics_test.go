package metrics_test

import (
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/exos-project/exoscore/pkg/intr"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/exos-project/exoscore/pkg/memory"
	"github.com/exos-project/exoscore/pkg/metrics"
	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"
)

func TestKernelCollectorGathersWithoutError(t *testing.T) {
	log := logr.Discard()
	frames := memory.NewFrameAllocator(log, 0, 16*memory.PageSize)
	table := kobj.NewTable(log)
	globals := ksync.NewGlobals(log)
	scheduler := sched.NewScheduler(log, globals, table)
	router := msg.NewRouter(log, scheduler)
	interrupts := intr.NewController(log)

	collector := metrics.NewKernelCollector(frames, table, scheduler, router, interrupts)
	reg := metrics.NewRegistry(collector)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestKernelCollectorReflectsReadyQueueDepth(t *testing.T) {
	log := logr.Discard()
	frames := memory.NewFrameAllocator(log, 0, 16*memory.PageSize)
	table := kobj.NewTable(log)
	globals := ksync.NewGlobals(log)
	scheduler := sched.NewScheduler(log, globals, table)
	router := msg.NewRouter(log, scheduler)
	interrupts := intr.NewController(log)
	scheduler.CreateTask(kobj.ProcessID(1), "worker", sched.PriorityMedium)

	collector := metrics.NewKernelCollector(frames, table, scheduler, router, interrupts)

	// The idle task sits in the lowest tier's queue; the worker in medium's.
	expected := `
# HELP exos_sched_ready_queue_depth Tasks waiting in a scheduler priority tier's ready queue.
# TYPE exos_sched_ready_queue_depth gauge
exos_sched_ready_queue_depth{priority="critical"} 0
exos_sched_ready_queue_depth{priority="higher"} 0
exos_sched_ready_queue_depth{priority="highest"} 0
exos_sched_ready_queue_depth{priority="lower"} 0
exos_sched_ready_queue_depth{priority="lowest"} 1
exos_sched_ready_queue_depth{priority="medium"} 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "exos_sched_ready_queue_depth"))
}
