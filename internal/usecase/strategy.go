package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proclean/proclean/internal/domain"
)

// killParallelism bounds concurrent kill signals within one batch.
const killParallelism = 8

// verifyFunc blocks until every given PID is confirmed gone or the
// verification bound expires, returning the PIDs still alive.
type verifyFunc func(ctx context.Context, pids []int) []int

// KillStrategy orders and issues kill signals for one matched set.
// Signalling is fire-and-forget; final verification of death belongs to
// the executor. The verify callback is supplied by the executor and is
// only consulted where ordering depends on it.
type KillStrategy interface {
	Name() string

	// Kill signals matched entries, returning signal results keyed by
	// PID. A key is present for exactly the entries that were actually
	// signalled; a nil value means the signal was issued cleanly. An
	// entry absent from the result was never attempted, which happens
	// when the context is cancelled partway through.
	Kill(ctx context.Context, req domain.CleanRequest, snap *domain.Snapshot,
		matched []domain.ProcessEntry, verify verifyFunc) map[int]error
}

// AllKiller kills every matched process independent of relationship.
// There is no inter-process ordering, so kills run on a bounded pool.
type AllKiller struct {
	killer domain.Killer
	logger *zap.Logger
}

// NewAllKiller creates the kill-everything strategy.
func NewAllKiller(killer domain.Killer, logger *zap.Logger) *AllKiller {
	return &AllKiller{killer: killer, logger: logger}
}

// Name returns the strategy identifier.
func (a *AllKiller) Name() string { return string(domain.StrategyAll) }

// Kill signals all matched entries concurrently.
func (a *AllKiller) Kill(ctx context.Context, _ domain.CleanRequest, _ *domain.Snapshot,
	matched []domain.ProcessEntry, _ verifyFunc) map[int]error {
	return signalBatch(ctx, a.killer, a.logger, matched)
}

// RecursiveKiller kills matched processes in leaf-to-root order: the
// deepest level is signalled and confirmed dead (or timed out) before
// its parents are touched, so a parent terminating early cannot orphan
// children the cleaner already decided to target. Siblings at one depth
// have no ordering dependency and are signalled concurrently.
type RecursiveKiller struct {
	killer domain.Killer
	logger *zap.Logger
}

// NewRecursiveKiller creates the subtree kill strategy.
func NewRecursiveKiller(killer domain.Killer, logger *zap.Logger) *RecursiveKiller {
	return &RecursiveKiller{killer: killer, logger: logger}
}

// Name returns the strategy identifier.
func (r *RecursiveKiller) Name() string { return string(domain.StrategyRecursive) }

// Kill walks the depth levels from the leaves up to the root.
func (r *RecursiveKiller) Kill(ctx context.Context, req domain.CleanRequest, snap *domain.Snapshot,
	matched []domain.ProcessEntry, verify verifyFunc) map[int]error {
	levels := levelsByDepth(matched, req.RootPID, snap.ByPID())
	results := make(map[int]error)

	for i := len(levels) - 1; i >= 0; i-- {
		level := levels[i]
		if len(level) == 0 {
			continue
		}
		for pid, err := range signalBatch(ctx, r.killer, r.logger, level) {
			results[pid] = err
		}
		if ctx.Err() != nil {
			return results
		}

		// Hold back the parent level until this one is gone or timed out.
		if i > 0 && verify != nil {
			pids := make([]int, 0, len(level))
			for _, e := range level {
				pids = append(pids, e.PID)
			}
			if survivors := verify(ctx, pids); len(survivors) > 0 {
				r.logger.Warn("processes survived kill, continuing up the tree",
					zap.Ints("pids", survivors))
			}
		}
	}
	return results
}

// signalBatch sends SIGKILL to every entry on a bounded pool, recording
// a result for each entry actually signalled. A failed signal never
// stops the batch.
func signalBatch(ctx context.Context, killer domain.Killer, logger *zap.Logger,
	entries []domain.ProcessEntry) map[int]error {
	var mu sync.Mutex
	results := make(map[int]error)

	var g errgroup.Group
	g.SetLimit(killParallelism)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil // stop issuing kills once cancelled
			}
			err := killer.Kill(e.PID)
			if err != nil {
				logger.Warn("failed to signal process",
					zap.Int("pid", e.PID),
					zap.Error(err))
			}
			mu.Lock()
			results[e.PID] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// levelsByDepth buckets matched entries by their distance below the
// root PID. Index 0 holds the root itself. An entry whose chain cannot
// be measured (the snapshot raced with a process exit) is placed on the
// deepest level so it is signalled before anything it might depend on.
func levelsByDepth(matched []domain.ProcessEntry, rootPID int,
	index map[int]domain.ProcessEntry) [][]domain.ProcessEntry {
	depths := make(map[int]int, len(matched))
	maxDepth := 0
	var unmeasured []int

	for i, e := range matched {
		d, ok := depthBelow(e, rootPID, index)
		if !ok {
			unmeasured = append(unmeasured, i)
			continue
		}
		depths[i] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(unmeasured) > 0 {
		maxDepth++
		for _, i := range unmeasured {
			depths[i] = maxDepth
		}
	}

	levels := make([][]domain.ProcessEntry, maxDepth+1)
	for i, e := range matched {
		d := depths[i]
		levels[d] = append(levels[d], e)
	}
	return levels
}

// Ensure both strategies satisfy KillStrategy.
var (
	_ KillStrategy = (*AllKiller)(nil)
	_ KillStrategy = (*RecursiveKiller)(nil)
)
