//go:build !windows

package sidecar

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// terminateGroup signals the negative PID first so grandchildren spawned by
// the backend go down with it, then the process itself.
func terminateGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func killGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

// reapGroup kills whatever is left in the group after the leader exited.
func reapGroup(pgid int) {
	if pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p.Pid > 0 {
		_ = unix.Kill(-p.Pid, sig)
	}
	return p.Signal(sig)
}

func exitSignal(ps *os.ProcessState) *int {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return nil
	}
	sig := int(ws.Signal())
	return &sig
}
