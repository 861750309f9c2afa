// Package kernel wires the five core subsystems (pkg/memory, pkg/kobj,
// pkg/ksync, pkg/sched, pkg/msg, pkg/intr) plus pkg/syscall, pkg/diskio,
// and pkg/metrics into one bootable instance, the way the teacher's
// performance.Manager wires a CollectorRegistry and its collectors
// behind a single entrypoint.
package kernel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/exos-project/exoscore/pkg/diskio"
	"github.com/exos-project/exoscore/pkg/intr"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/ksync"
	"github.com/exos-project/exoscore/pkg/memory"
	"github.com/exos-project/exoscore/pkg/metrics"
	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/exos-project/exoscore/pkg/syscall"
)

// Config selects the size of the simulated machine this kernel instance
// boots onto. Grounded on performance.CollectionConfig/Manager's
// zero-value-means-default convention.
type Config struct {
	// PhysicalMemory is the total size, in bytes, of the simulated
	// physical address space the frame allocator carves into pages.
	PhysicalMemory uint32
	// KernelHeapSize is the size, in bytes, of the kernel's own heap
	// region (distinct from any process heap).
	KernelHeapSize uint32
	// VolumeDir is the on-disk directory backing pkg/diskio's badger
	// volume. Empty means an in-memory, non-persistent volume.
	VolumeDir string
}

const (
	defaultPhysicalMemory = 64 * 1024 * 1024 // 64 MiB simulated RAM
	defaultKernelHeapSize = 4 * 1024 * 1024  // 4 MiB kernel heap
)

// DefaultConfig returns the kernel's default boot configuration.
func DefaultConfig() Config {
	return Config{
		PhysicalMemory: defaultPhysicalMemory,
		KernelHeapSize: defaultKernelHeapSize,
	}
}

// ApplyDefaults fills in zero-valued fields with DefaultConfig's values,
// then applies EXOS_* environment overrides the way the teacher's
// NewManager overrides CollectionConfig's host paths from HOST_PROC/
// HOST_SYS/HOST_DEV.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.PhysicalMemory == 0 {
		c.PhysicalMemory = defaults.PhysicalMemory
	}
	if c.KernelHeapSize == 0 {
		c.KernelHeapSize = defaults.KernelHeapSize
	}
	if dir := os.Getenv("EXOS_VOLUME_DIR"); dir != "" {
		c.VolumeDir = dir
	}
}

// Kernel is one booted instance of the EXOS core: every subsystem,
// wired together and ready to run tasks, dispatch syscalls, and report
// health metrics.
type Kernel struct {
	log    logr.Logger
	config Config

	Frames     *memory.FrameAllocator
	Mappings   *memory.KernelMappings
	Table      *kobj.Table
	Globals    *ksync.Globals
	Scheduler  *sched.Scheduler
	Router     *msg.Router
	Interrupts *intr.Controller
	Dispatcher *syscall.Dispatcher
	Volume     *diskio.Store
	Collector  *metrics.KernelCollector
}

// Boot brings up a full Kernel instance in the order spec §2's layering
// implies: physical memory and paging first (L1/L2), then the handle
// table (L2), then synchronization primitives and the scheduler (L3),
// then messaging and interrupts (L4), then the syscall dispatcher (L5),
// then the ambient diskio/metrics surface.
func Boot(log logr.Logger, config Config) (*Kernel, error) {
	config.ApplyDefaults()
	log = log.WithName("kernel")

	frames := memory.NewFrameAllocator(log, 0, config.PhysicalMemory)
	mappings := memory.NewKernelMappings()
	table := kobj.NewTable(log)
	globals := ksync.NewGlobals(log)
	scheduler := sched.NewScheduler(log, globals, table)
	router := msg.NewRouter(log, scheduler)
	interrupts := intr.NewController(log)
	interrupts.InitializeDeviceInterrupts()
	dispatcher := syscall.NewDispatcher(log, table, scheduler, router, globals, frames, mappings)

	volume, err := diskio.Open(log, config.VolumeDir)
	if err != nil {
		return nil, fmt.Errorf("exos: boot volume: %w", err)
	}

	collector := metrics.NewKernelCollector(frames, table, scheduler, router, interrupts)

	k := &Kernel{
		log:        log,
		config:     config,
		Frames:     frames,
		Mappings:   mappings,
		Table:      table,
		Globals:    globals,
		Scheduler:  scheduler,
		Router:     router,
		Interrupts: interrupts,
		Dispatcher: dispatcher,
		Volume:     volume,
		Collector:  collector,
	}
	log.Info("kernel booted", "physical_memory", config.PhysicalMemory, "kernel_heap", config.KernelHeapSize)
	return k, nil
}

// Shutdown releases resources that outlive the in-process simulation
// (currently just the diskio volume).
func (k *Kernel) Shutdown() error {
	return k.Volume.Close()
}

// CreateProcess creates a process with its own address space and heap,
// through the scheduler, the way a real exec() would.
func (k *Kernel) CreateProcess(name string, heapSize uint32, priority sched.Priority) (*sched.Process, *sched.Task, error) {
	if heapSize == 0 {
		heapSize = k.config.KernelHeapSize
	}
	return k.Scheduler.CreateProcess(name, k.Frames, k.Mappings, heapSize, priority)
}

// Tick advances the scheduler by one time quantum, the kernel's
// stand-in for a timer-interrupt-driven reschedule.
func (k *Kernel) Tick(now time.Time) *sched.Task {
	return k.Scheduler.Tick(now)
}

// Syscall dispatches one (function_number, parameter) pair on behalf of
// task/process, through pkg/syscall's SAFE_USE_INPUT_POINTER-validated
// handler table.
func (k *Kernel) Syscall(task *sched.Task, process *sched.Process, number syscall.Number, parameter uint32) (uint32, error) {
	ctx := &syscall.Context{Task: task, Process: process}
	return k.Dispatcher.Dispatch(ctx, number, parameter)
}

// RunBottomHalves runs every queued bottom-half concurrently, the
// deferred work any top-half ISR scheduled since the last call.
func (k *Kernel) RunBottomHalves() error {
	return k.Interrupts.RunBottomHalves(context.Background())
}
