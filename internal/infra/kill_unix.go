//go:build darwin || freebsd || linux

package infra

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// killProcess sends SIGKILL. ESRCH means the process is already gone.
func killProcess(pid int) error {
	if err := unix.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
