package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"

	"github.com/exos-project/exoscore/internal/kernel"
)

var runTicks int

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the kernel, run a small workload, and report",
		RunE:  runRun,
	}
	cmd.Flags().IntVar(&runTicks, "ticks", 10, "Number of scheduler ticks to run")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	log := newLogger()
	k, err := kernel.Boot(log, bootConfig())
	if err != nil {
		return err
	}
	defer k.Shutdown()

	proc, task, err := k.CreateProcess("init", 0, sched.PriorityMedium)
	if err != nil {
		return err
	}

	k.Router.PostMessage(task, msg.Target{}, msg.EMUser, 1, 2)

	now := time.Now()
	for i := 0; i < runTicks; i++ {
		k.Tick(now)
		now = now.Add(10 * time.Millisecond)
	}

	if err := k.RunBottomHalves(); err != nil {
		return err
	}

	log.Info("run complete",
		"process", proc.Name,
		"ticks", runTicks,
		"tasks", k.Scheduler.TaskCount(),
		"dropped_messages", k.Router.TotalDropped(),
		"spurious_interrupts", k.Interrupts.SpuriousCount())
	return nil
}
