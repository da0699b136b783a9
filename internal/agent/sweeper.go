// Package agent runs scheduled cleanups on a build node.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/proclean/proclean/internal/domain"
)

// Config holds sweeper settings.
type Config struct {
	Node      string
	OwnerUser string
	Interval  time.Duration // how often to sweep (default 10 min)
}

// DefaultInterval is the sweep cadence when unconfigured.
const DefaultInterval = 10 * time.Minute

// Sweeper periodically cleans every process owned by the configured
// user on this node. It sweeps once immediately on start and then on a
// fixed ticker until the context is cancelled.
type Sweeper struct {
	config  Config
	cleaner domain.Cleaner
	logger  *zap.Logger
}

// NewSweeper creates a sweeper daemon.
func NewSweeper(config Config, cleaner domain.Cleaner, logger *zap.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Sweeper{
		config:  config,
		cleaner: cleaner,
		logger:  logger,
	}
}

// Run starts the sweep loop. This blocks until context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started",
		zap.String("node", s.config.Node),
		zap.String("user", s.config.OwnerUser),
		zap.Duration("interval", s.config.Interval))

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	req := domain.CleanRequest{
		Node:      s.config.Node,
		OwnerUser: s.config.OwnerUser,
		Strategy:  domain.StrategyAll,
	}

	report, err := s.cleaner.Clean(ctx, req)
	if err != nil {
		s.logger.Warn("sweep failed", zap.Error(err))
		return
	}
	if report.Disabled {
		s.logger.Info(domain.DisabledMessage)
		return
	}
	if len(report.Attempted) > 0 {
		s.logger.Info("sweep completed",
			zap.Int("attempted", len(report.Attempted)),
			zap.Int("killed", len(report.Killed)),
			zap.Int("failed", len(report.Failures)))
	}
}
