// Package metrics exposes kernel health as Prometheus metrics: frame
// allocator occupancy, handle table size, per-priority ready queue
// depth, message queue drop counts, and interrupt spurious counts. The
// kernel's core subsystems never import this package themselves —
// collection is read-only and wired from the outside, the same
// separation the teacher draws between its performance collectors and
// the subsystems they observe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/exos-project/exoscore/pkg/intr"
	"github.com/exos-project/exoscore/pkg/kobj"
	"github.com/exos-project/exoscore/pkg/memory"
	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"
)

const namespace = "exos"

var (
	frameFreeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "memory", "free_frames"),
		"Physical page frames currently free.", nil, nil)
	frameTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "memory", "total_frames"),
		"Total physical page frames managed by the allocator.", nil, nil)
	handleTableDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "kobj", "handle_table_size"),
		"Live kernel objects currently registered in the handle table.", nil, nil)
	readyQueueDepthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sched", "ready_queue_depth"),
		"Tasks waiting in a scheduler priority tier's ready queue.", []string{"priority"}, nil)
	taskCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sched", "task_count"),
		"Tasks currently tracked by the scheduler.", nil, nil)
	messageDroppedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "msg", "dropped_total"),
		"Messages dropped for being posted to a queue at capacity.", nil, nil)
	interruptSpuriousDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "intr", "spurious_total"),
		"Spurious interrupts observed (null ISR or unregistered vector).", nil, nil)
	interruptPendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "intr", "bottom_half_pending"),
		"Bottom-half work items currently queued for the next RunBottomHalves.", nil, nil)
)

func priorityLabel(p sched.Priority) string {
	switch p {
	case sched.PriorityLowest:
		return "lowest"
	case sched.PriorityLower:
		return "lower"
	case sched.PriorityMedium:
		return "medium"
	case sched.PriorityHigher:
		return "higher"
	case sched.PriorityHighest:
		return "highest"
	case sched.PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// KernelCollector implements prometheus.Collector by reading the live
// state of the kernel's core subsystems on every Collect call, rather
// than mirroring it into a parallel set of Set()-driven gauges that
// could drift from the thing they describe.
type KernelCollector struct {
	frames     *memory.FrameAllocator
	table      *kobj.Table
	scheduler  *sched.Scheduler
	router     *msg.Router
	interrupts *intr.Controller
}

// NewKernelCollector wires a collector over the kernel's live
// subsystems. Any argument may be nil; that subsystem's metrics are
// simply omitted from Collect.
func NewKernelCollector(frames *memory.FrameAllocator, table *kobj.Table, scheduler *sched.Scheduler, router *msg.Router, interrupts *intr.Controller) *KernelCollector {
	return &KernelCollector{
		frames:     frames,
		table:      table,
		scheduler:  scheduler,
		router:     router,
		interrupts: interrupts,
	}
}

// Describe implements prometheus.Collector.
func (c *KernelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- frameFreeDesc
	ch <- frameTotalDesc
	ch <- handleTableDesc
	ch <- readyQueueDepthDesc
	ch <- taskCountDesc
	ch <- messageDroppedDesc
	ch <- interruptSpuriousDesc
	ch <- interruptPendingDesc
}

// Collect implements prometheus.Collector.
func (c *KernelCollector) Collect(ch chan<- prometheus.Metric) {
	if c.frames != nil {
		ch <- prometheus.MustNewConstMetric(frameFreeDesc, prometheus.GaugeValue, float64(c.frames.FreeFrameCount()))
		ch <- prometheus.MustNewConstMetric(frameTotalDesc, prometheus.GaugeValue, float64(c.frames.TotalFrames()))
	}
	if c.table != nil {
		ch <- prometheus.MustNewConstMetric(handleTableDesc, prometheus.GaugeValue, float64(c.table.Count()))
	}
	if c.scheduler != nil {
		ch <- prometheus.MustNewConstMetric(taskCountDesc, prometheus.GaugeValue, float64(c.scheduler.TaskCount()))
		for priority, depth := range c.scheduler.ReadyQueueDepths() {
			ch <- prometheus.MustNewConstMetric(readyQueueDepthDesc, prometheus.GaugeValue, float64(depth), priorityLabel(priority))
		}
	}
	if c.router != nil {
		ch <- prometheus.MustNewConstMetric(messageDroppedDesc, prometheus.CounterValue, float64(c.router.TotalDropped()))
	}
	if c.interrupts != nil {
		ch <- prometheus.MustNewConstMetric(interruptSpuriousDesc, prometheus.CounterValue, float64(c.interrupts.SpuriousCount()))
		ch <- prometheus.MustNewConstMetric(interruptPendingDesc, prometheus.GaugeValue, float64(c.interrupts.PendingBottomHalves()))
	}
}

// NewRegistry builds a fresh Prometheus registry with collector
// registered, for an embedder to serve over promhttp.Handler.
// cmd/exoskernel does not call it.
func NewRegistry(collector *KernelCollector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	return reg
}
