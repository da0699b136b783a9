package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/proclean/proclean/internal/domain"
)

// Defaults for verification polling and node-lock acquisition.
const (
	DefaultVerifyInterval = 200 * time.Millisecond
	DefaultVerifyTimeout  = 5 * time.Second
	DefaultLockTimeout    = time.Minute
)

// ExecutorConfig tunes the kill verification loop and the per-node lock.
type ExecutorConfig struct {
	VerifyInterval time.Duration // poll interval while waiting for a PID to die
	VerifyTimeout  time.Duration // grace period before a PID counts as a failure
	LockTimeout    time.Duration // bound on waiting for the per-node lock
}

// DefaultExecutorConfig returns the default tuning.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		VerifyInterval: DefaultVerifyInterval,
		VerifyTimeout:  DefaultVerifyTimeout,
		LockTimeout:    DefaultLockTimeout,
	}
}

// Executor implements domain.Cleaner. One invocation runs the fixed
// sequence policy check, snapshot, match, kill, verify, report. At most
// one invocation is in flight per node; a second request for the same
// node waits. The policy store has its own lock domain, so
// administrative reconfiguration never waits on a running cleanup and
// never alters an in-flight request.
type Executor struct {
	config  ExecutorConfig
	lister  domain.Lister
	killer  domain.Killer
	policy  domain.PolicyStore
	reports domain.ReportStore // optional
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewExecutor creates a cleanup executor.
func NewExecutor(
	config ExecutorConfig,
	lister domain.Lister,
	killer domain.Killer,
	policy domain.PolicyStore,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		config: config,
		lister: lister,
		killer: killer,
		policy: policy,
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}
}

// NewExecutorWithHistory creates an executor that also persists every
// report to the given store.
func NewExecutorWithHistory(
	config ExecutorConfig,
	lister domain.Lister,
	killer domain.Killer,
	policy domain.PolicyStore,
	reports domain.ReportStore,
	logger *zap.Logger,
) *Executor {
	e := NewExecutor(config, lister, killer, policy, logger)
	e.reports = reports
	return e
}

// Clean runs one cleanup invocation.
func (x *Executor) Clean(ctx context.Context, req domain.CleanRequest) (*domain.CleanReport, error) {
	switch req.Strategy {
	case domain.StrategyAll:
	case domain.StrategyRecursive:
		if req.RootPID == 0 {
			return nil, fmt.Errorf("recursive strategy requires a root PID")
		}
	default:
		return nil, fmt.Errorf("unknown kill strategy %q", req.Strategy)
	}

	report := &domain.CleanReport{
		Node:    req.Node,
		BuildID: req.BuildID,
		Started: time.Now(),
	}

	// Policy gate comes before any OS interaction.
	policy, err := x.policy.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read cleanup policy: %w", err)
	}
	if policy.SwitchedOff {
		report.Disabled = true
		report.Finished = time.Now()
		x.logger.Info("cleanup disabled by policy", zap.String("node", req.Node))
		x.store(report)
		return report, nil
	}

	release, err := x.acquireNode(ctx, req.Node)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := x.lister.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	matched := Match(snap, req.OwnerUser, req.RootPID, x.killer.OwnPID())
	if len(matched) == 0 {
		report.Finished = time.Now()
		x.logger.Info("no processes matched",
			zap.String("node", req.Node),
			zap.String("user", req.OwnerUser))
		x.store(report)
		return report, nil
	}

	strategy := x.strategyFor(req.Strategy)
	x.logger.Info("killing matched processes",
		zap.String("node", req.Node),
		zap.String("strategy", strategy.Name()),
		zap.Int("matched", len(matched)))

	signalled := strategy.Kill(ctx, req, snap, matched, x.verify)

	// Only entries the strategy actually signalled enter the report; a
	// cancelled invocation leaves the rest untouched and unreported.
	attempted := make([]domain.ProcessEntry, 0, len(signalled))
	for _, e := range matched {
		if _, ok := signalled[e.PID]; ok {
			attempted = append(attempted, e)
		}
	}
	report.Attempted = attempted

	// Final classification: everything signalled must be observably gone
	// within the grace period or it counts as a failure.
	survivors := x.verify(ctx, pidsOf(attempted))
	surviving := make(map[int]bool, len(survivors))
	for _, pid := range survivors {
		surviving[pid] = true
	}

	for _, e := range attempted {
		if surviving[e.PID] {
			reason := "still alive after grace period"
			if err := signalled[e.PID]; err != nil {
				reason = err.Error()
			}
			report.Failures = append(report.Failures, domain.KillFailure{Entry: e, Reason: reason})
			continue
		}
		report.Killed = append(report.Killed, e)
	}
	report.Finished = time.Now()

	x.logger.Info("cleanup finished",
		zap.String("node", req.Node),
		zap.Int("attempted", len(report.Attempted)),
		zap.Int("killed", len(report.Killed)),
		zap.Int("failed", len(report.Failures)))
	x.store(report)

	// Cancellation mid-flight: the report reflects what completed; the
	// caller treats the invocation as not completed.
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (x *Executor) strategyFor(kind domain.StrategyKind) KillStrategy {
	if kind == domain.StrategyRecursive {
		return NewRecursiveKiller(x.killer, x.logger)
	}
	return NewAllKiller(x.killer, x.logger)
}

// verify polls until every pid is gone or the grace period expires,
// returning the pids still alive. It never blocks indefinitely.
func (x *Executor) verify(ctx context.Context, pids []int) []int {
	deadline := time.Now().Add(x.config.VerifyTimeout)
	remaining := pids
	for {
		var alive []int
		for _, pid := range remaining {
			if x.killer.Alive(pid) {
				alive = append(alive, pid)
			}
		}
		if len(alive) == 0 || time.Now().After(deadline) {
			return alive
		}
		select {
		case <-ctx.Done():
			return alive
		case <-time.After(x.config.VerifyInterval):
		}
		remaining = alive
	}
}

// acquireNode takes the exclusive per-node lock, waiting behind an
// in-flight invocation up to the configured bound.
func (x *Executor) acquireNode(ctx context.Context, node string) (func(), error) {
	x.mu.Lock()
	lock, ok := x.locks[node]
	if !ok {
		lock = make(chan struct{}, 1)
		x.locks[node] = lock
	}
	x.mu.Unlock()

	timer := time.NewTimer(x.config.LockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeBusy, node)
	}
}

func (x *Executor) store(report *domain.CleanReport) {
	if x.reports == nil {
		return
	}
	if err := x.reports.Append(report); err != nil {
		x.logger.Warn("failed to persist report", zap.Error(err))
	}
}

func pidsOf(entries []domain.ProcessEntry) []int {
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		pids = append(pids, e.PID)
	}
	return pids
}

// Ensure Executor implements domain.Cleaner.
var _ domain.Cleaner = (*Executor)(nil)
