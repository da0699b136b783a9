// Package infra implements infrastructure concerns (process table, policy
// persistence, history storage).
package infra

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/proclean/proclean/internal/domain"
)

// ProcessTable implements domain.Lister and domain.Killer using gopsutil.
type ProcessTable struct {
	logger *zap.Logger
}

// NewProcessTable creates a process table adapter.
func NewProcessTable(logger *zap.Logger) *ProcessTable {
	return &ProcessTable{logger: logger}
}

// Snapshot captures PID, PPID, owning user and argv for every readable
// process. Entries that disappear mid-read are skipped. An owner that
// cannot be attributed leaves User empty instead of failing the capture.
func (t *ProcessTable) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshot, err)
	}

	snap := &domain.Snapshot{
		Taken:   time.Now(),
		Entries: make([]domain.ProcessEntry, 0, len(procs)),
	}
	skipped := 0
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			skipped++ // process exited between listing and read
			continue
		}
		user, err := p.UsernameWithContext(ctx)
		if err != nil {
			user = ""
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			args = nil
		}
		snap.Entries = append(snap.Entries, domain.ProcessEntry{
			PID:  int(p.Pid),
			PPID: int(ppid),
			User: user,
			Args: args,
		})
	}
	if skipped > 0 {
		t.logger.Debug("snapshot skipped processes",
			zap.Int("skipped", skipped),
			zap.Int("total", len(procs)))
	}
	return snap, nil
}

// Kill sends SIGKILL to pid. A PID that no longer exists counts as
// already cleaned up.
func (t *ProcessTable) Kill(pid int) error {
	return killProcess(pid)
}

// Alive reports whether pid currently exists.
func (t *ProcessTable) Alive(pid int) bool {
	return processAlive(pid)
}

// OwnPID returns the current process PID.
func (t *ProcessTable) OwnPID() int {
	return os.Getpid()
}

// Ensure ProcessTable implements both process table roles.
var (
	_ domain.Lister = (*ProcessTable)(nil)
	_ domain.Killer = (*ProcessTable)(nil)
)
