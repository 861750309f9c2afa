// Command exoskernel is a boot simulator for the EXOS core: it boots a
// Kernel instance in-process, runs a small workload against it, and
// reports what happened. There is no real hardware underneath — every
// "physical" resource is the user-space stand-in internal/kernel wires
// together — so this is the project's equivalent of the teacher's
// cmd/main.go manager entrypoint, minus the Kubernetes controller.
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/exos-project/exoscore/internal/kernel"
)

var (
	physicalMemoryMB int
	kernelHeapMB     int
	volumeDir        string
	verbose          bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exoskernel",
		Short: "Boot-simulate the EXOS kernel core",
	}
	root.PersistentFlags().IntVar(&physicalMemoryMB, "physical-memory-mb", 64,
		"Simulated physical memory size, in MiB")
	root.PersistentFlags().IntVar(&kernelHeapMB, "kernel-heap-mb", 4,
		"Kernel heap region size, in MiB")
	root.PersistentFlags().StringVar(&volumeDir, "volume-dir", "",
		"Directory backing the diskio volume; empty runs in-memory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug-level logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSelftestCmd())
	return root
}

func newLogger() logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		// zap's development config only fails to build on a broken
		// process environment; fall back to a discarded logger rather
		// than aborting before flags are even parsed.
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

func bootConfig() kernel.Config {
	return kernel.Config{
		PhysicalMemory: uint32(physicalMemoryMB) * 1024 * 1024,
		KernelHeapSize: uint32(kernelHeapMB) * 1024 * 1024,
		VolumeDir:      volumeDir,
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
