// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// StrategyKind selects how matched processes are killed.
type StrategyKind string

const (
	// StrategyAll kills every matched process independently.
	StrategyAll StrategyKind = "all"
	// StrategyRecursive kills only the subtree below a root PID, leaf-to-root.
	StrategyRecursive StrategyKind = "recursive"
)

// ProcessEntry is one row of a process table snapshot. Immutable once
// captured. PID identifies an entry only within a single snapshot; the
// OS reuses PIDs over time.
type ProcessEntry struct {
	PID  int
	PPID int
	User string // empty when the platform cannot attribute an owner
	Args []string
}

// Snapshot is a best-effort point-in-time view of the process table.
// The table is not transactionally consistent: entries may be stale by
// the time a kill is issued, which callers must tolerate.
type Snapshot struct {
	Taken   time.Time
	Entries []ProcessEntry
}

// ByPID indexes the snapshot entries by PID.
func (s *Snapshot) ByPID() map[int]ProcessEntry {
	index := make(map[int]ProcessEntry, len(s.Entries))
	for _, e := range s.Entries {
		index[e.PID] = e
	}
	return index
}

// CleanRequest describes one cleanup invocation. Constructed by the
// caller, passed by value, never mutated by the core.
type CleanRequest struct {
	Node      string
	OwnerUser string
	RootPID   int // 0 means no subtree restriction
	Strategy  StrategyKind
	BuildID   string
}

// KillFailure records an entry that survived its kill attempt past the
// grace period.
type KillFailure struct {
	Entry  ProcessEntry
	Reason string
}

// CleanReport is the outcome of one Clean invocation. Killed is a
// subset of Attempted, which is a subset of the set matched from the
// snapshot at request time.
type CleanReport struct {
	Node      string
	BuildID   string
	Disabled  bool
	Attempted []ProcessEntry
	Killed    []ProcessEntry
	Failures  []KillFailure
	Started   time.Time
	Finished  time.Time
}

// DisabledMessage is surfaced verbatim when cleanup is switched off
// globally. The sentence shape is a compatibility contract consumed by
// log-scraping tools.
const DisabledMessage = "Process cleanup is globally turned off, contact your proclean administrator to turn it on."

// Render returns the human-readable report lines. The per-process line
// format is a compatibility contract and must not change shape.
func (r *CleanReport) Render() []string {
	if r.Disabled {
		return []string{DisabledMessage}
	}
	lines := make([]string, 0, len(r.Killed)+len(r.Failures))
	for _, e := range r.Killed {
		lines = append(lines, fmt.Sprintf("Killing Process PID = %d, PPID = %d, ARGS = %s",
			e.PID, e.PPID, strings.Join(e.Args, " ")))
	}
	for _, f := range r.Failures {
		lines = append(lines, fmt.Sprintf("Failed to kill PID = %d: %s", f.Entry.PID, f.Reason))
	}
	return lines
}

// ReportSummary is the persisted form of a CleanReport kept by the
// history store.
type ReportSummary struct {
	Node      string
	BuildID   string
	Disabled  bool
	Attempted int
	Killed    int
	Failed    int
	Started   time.Time
	Finished  time.Time
	Lines     []string
}

// Policy is the process-wide cleanup configuration: a global on/off
// switch and the account whose processes are eligible for cleanup.
// An empty username is legal and simply matches no processes.
type Policy struct {
	SwitchedOff bool   `json:"switched_off"`
	Username    string `json:"username"`
}
