// SPDX-License-Identifier: MIT

//go:build unix && !windows

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestKillNilSafe(t *testing.T) {
	if err := Kill(nil, syscall.SIGTERM); err != nil {
		t.Fatalf("nil cmd: %v", err)
	}
	if err := Kill(&exec.Cmd{}, syscall.SIGTERM); err != nil {
		t.Fatalf("unstarted cmd: %v", err)
	}
}

func TestTerminateStopsGroup(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("terminate took too long: %s", elapsed)
	}
}

func TestTerminateAlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	time.Sleep(100 * time.Millisecond)

	if err := Terminate(cmd, waitCh, time.Second); err != nil {
		t.Fatalf("terminate after exit: %v", err)
	}
}
