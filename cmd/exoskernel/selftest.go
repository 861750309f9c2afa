package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exos-project/exoscore/pkg/intr"
	"github.com/exos-project/exoscore/pkg/msg"
	"github.com/exos-project/exoscore/pkg/sched"
	"github.com/exos-project/exoscore/pkg/syscall"

	"github.com/exos-project/exoscore/internal/kernel"
)

func interruptRegistrationForSelftest(fired *bool) intr.Registration {
	return intr.Registration{
		Name: "selftest-device",
		ISR: func(device, ctx any) bool {
			return true // signal that a bottom half is warranted
		},
		BottomHalf: func(device, ctx any) {
			*fired = true
		},
	}
}

func newSelftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Boot the kernel and exercise each core subsystem once",
		RunE:  runSelftest,
	}
}

func runSelftest(cmd *cobra.Command, args []string) error {
	log := newLogger()
	k, err := kernel.Boot(log, bootConfig())
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	proc, task, err := k.CreateProcess("selftest", 0, sched.PriorityMedium)
	if err != nil {
		return fmt.Errorf("create process: %w", err)
	}
	cmd.Println("ok: process/task creation")

	if _, err := k.Syscall(task, proc, syscall.GetVersion, 0); err != nil {
		return fmt.Errorf("GetVersion syscall: %w", err)
	}
	cmd.Println("ok: syscall dispatch")

	if !k.Router.PostMessage(task, msg.Target{}, msg.EMUser, 7, 9) {
		return fmt.Errorf("message post unexpectedly dropped")
	}
	m, ok := k.Router.GetMessage(task, proc.ID())
	if !ok || m.Code != msg.EMUser || m.Param1 != 7 || m.Param2 != 9 {
		return fmt.Errorf("message round trip mismatch: %+v ok=%v", m, ok)
	}
	cmd.Println("ok: message post/get round trip")

	fired := false
	slot, ok := k.Interrupts.DeviceInterruptRegister(interruptRegistrationForSelftest(&fired))
	if !ok {
		return fmt.Errorf("interrupt registration failed")
	}
	k.Interrupts.DeviceInterruptHandler(slot)
	if err := k.RunBottomHalves(); err != nil {
		return fmt.Errorf("run bottom halves: %w", err)
	}
	if !fired {
		return fmt.Errorf("interrupt bottom half did not run")
	}
	k.Interrupts.DeviceInterruptUnregister(slot)
	cmd.Println("ok: interrupt top-half/bottom-half dispatch")

	if _, err := k.Volume.FileWriteAll("/selftest.bin", []byte("ok")); err != nil {
		return fmt.Errorf("diskio write: %w", err)
	}
	if got, err := k.Volume.FileReadAll("/selftest.bin"); err != nil || string(got) != "ok" {
		return fmt.Errorf("diskio read mismatch: %q err=%v", got, err)
	}
	cmd.Println("ok: diskio write/read round trip")

	cmd.Println("selftest passed")
	return nil
}
