package domain

import "errors"

var (
	// ErrSnapshot marks a process table that could not be read. Fatal to
	// the invocation; no partial report is produced.
	ErrSnapshot = errors.New("process table snapshot failed")

	// ErrNodeBusy is returned when the per-node execution lock could not
	// be acquired within its bound. Retryable by the caller.
	ErrNodeBusy = errors.New("another cleanup is in flight for this node")
)
