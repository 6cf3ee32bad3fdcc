// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup supervises external process trees.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Terminate attempts to gracefully stop a process group.
// It sends SIGTERM, waits for the process to exit (via the provided wait
// channel), and if it doesn't exit within grace, sends SIGKILL.
// It consumes and returns the error from waitCh.
// It is safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// 1. Send SIGTERM to the process group. If the process already
	// finished, Kill is a no-op.
	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		// Process exited voluntarily or due to SIGTERM
		return err
	case <-time.After(grace):
		// 2. Timeout -> Force Kill (SIGKILL)
		_ = Kill(cmd, syscall.SIGKILL)

		// 3. Always drain waitCh. If the process was blocked, SIGKILL
		// should free it.
		return <-waitCh
	}
}
