//go:build unix

// Package fixtures provides helpers for integration tests.
package fixtures

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SleeperTree is a real process tree for cleanup tests: a shell root
// with two sleeping children. The tree runs in its own process group so
// it can be torn down even when a test fails before cleanup runs.
type SleeperTree struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// StartSleeperTree launches the tree and waits until both children are
// visible in the process table.
func StartSleeperTree() (*SleeperTree, error) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 300 & sleep 300 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	tree := &SleeperTree{cmd: cmd, done: make(chan struct{})}
	// Reap the root as soon as it dies so it never lingers as a zombie
	// that liveness probes would still see.
	go func() {
		_ = cmd.Wait()
		close(tree.done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		children, err := tree.ChildPIDs()
		if err == nil && len(children) >= 2 {
			return tree, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	tree.Stop()
	return nil, fmt.Errorf("sleeper children did not appear within 5s")
}

// RootPID returns the PID of the shell at the root of the tree.
func (t *SleeperTree) RootPID() int {
	return t.cmd.Process.Pid
}

// ChildPIDs lists the current direct children of the root.
func (t *SleeperTree) ChildPIDs() ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	var children []int
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		if int(ppid) == t.RootPID() {
			children = append(children, int(p.Pid))
		}
	}
	return children, nil
}

// Alive reports whether the root shell still exists.
func (t *SleeperTree) Alive() bool {
	return syscall.Kill(t.RootPID(), 0) == nil
}

// Stop kills the whole process group. Safe to call after the tree has
// already been cleaned up.
func (t *SleeperTree) Stop() {
	_ = syscall.Kill(-t.RootPID(), syscall.SIGKILL)
	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
	}
}
