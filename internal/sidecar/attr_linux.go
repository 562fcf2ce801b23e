package sidecar

import (
	"os/exec"
	"syscall"
)

// Pdeathsig covers the parent dying without running shutdown. The kernel
// ties it to the thread that forked, not to the process. The Go runtime
// only retires a thread when a goroutine locked to it with LockOSThread
// returns without unlocking, so the backend can get SIGTERM early if such
// a goroutine later lands on the forking thread. The supervisor treats
// that like any other crash and restarts it.
func configureProcess(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
