//go:build !darwin && !freebsd && !linux

package infra

import "github.com/shirou/gopsutil/v3/process"

func killProcess(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil // already gone
	}
	return p.Kill()
}

func processAlive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
