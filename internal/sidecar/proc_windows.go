//go:build windows

package sidecar

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// The backend is a console program; without CREATE_NO_WINDOW a GUI-subsystem
// parent would pop up a console for it.
func configureProcess(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// Windows has no SIGTERM for console-less children, so terminate is a kill.
func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func killGroup(p *os.Process) error {
	return p.Kill()
}

// Without a job object there is no group to reap on Windows.
func reapGroup(int) {}

func exitSignal(*os.ProcessState) *int {
	return nil
}
