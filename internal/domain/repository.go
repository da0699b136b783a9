package domain

import "context"

// Lister captures the process table of the node the cleaner runs on.
// Implementation: uses gopsutil for cross-platform support.
type Lister interface {
	// Snapshot returns a point-in-time view of the process table.
	// An unreadable table wraps ErrSnapshot. Entries whose owner cannot
	// be attributed carry an empty User rather than failing the capture.
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Killer issues kill signals and liveness probes.
type Killer interface {
	// Kill sends SIGKILL to pid. A process that is already gone is not
	// an error.
	Kill(pid int) error

	// Alive reports whether pid currently exists.
	Alive(pid int) bool

	// OwnPID returns the PID of the cleanup process itself, which is
	// never targeted.
	OwnPID() int
}

// PolicyStore holds the global cleanup policy. Get returns a consistent
// snapshot of both fields; mutation happens only through the
// administrative Set path. The store has its own lock domain, separate
// from cleanup execution.
type PolicyStore interface {
	Get() (Policy, error)
	Set(Policy) error
}

// Cleaner is the contract the build-lifecycle caller invokes before or
// after a build runs.
type Cleaner interface {
	// Clean runs one cleanup. A report is returned even when ctx is
	// cancelled mid-flight, reflecting only what completed; kills are
	// not undoable, so there is no rollback.
	Clean(ctx context.Context, req CleanRequest) (*CleanReport, error)
}

// ReportStore persists cleanup reports for auditing.
type ReportStore interface {
	Append(report *CleanReport) error
	Recent(limit int) ([]ReportSummary, error)
	Close() error
}
