package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDispatchInterval  = 2 * time.Second
	defaultDispatchScanLimit = 200
	defaultPollInterval      = 30 * time.Second
	defaultPollLimit         = 100
)

// DispatchLoop drains pending details on a fixed tick. The orchestrator
// bounds its own worker concurrency, so the loop stays single-goroutine.
type DispatchLoop struct {
	orch     *Orchestrator
	logger   *zap.Logger
	interval time.Duration
	limit    int
}

func NewDispatchLoop(orch *Orchestrator, interval time.Duration, limit int, logger *zap.Logger) *DispatchLoop {
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	if limit <= 0 {
		limit = defaultDispatchScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchLoop{
		orch:     orch,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}
}

func (l *DispatchLoop) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			dispatched, err := l.orch.DispatchPending(ctx, l.limit)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Error("dispatch pass failed", zap.Error(err))
				continue
			}
			if dispatched > 0 {
				l.logger.Debug("dispatch pass complete", zap.Int("dispatched", dispatched))
			}
		}
	}
}

// ConfirmationPoller periodically queries confirming channels for details
// stuck awaiting a delivery report. Most confirmations arrive through the
// callback queue; polling is the slower safety net behind it.
type ConfirmationPoller struct {
	orch     *Orchestrator
	logger   *zap.Logger
	interval time.Duration
	limit    int
}

func NewConfirmationPoller(orch *Orchestrator, interval time.Duration, limit int, logger *zap.Logger) *ConfirmationPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if limit <= 0 {
		limit = defaultPollLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConfirmationPoller{
		orch:     orch,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}
}

func (p *ConfirmationPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			polled, err := p.orch.PollConfirmations(ctx, p.limit)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("confirmation poll pass failed", zap.Error(err))
				continue
			}
			if polled > 0 {
				p.logger.Debug("confirmation poll pass complete", zap.Int("polled", polled))
			}
			if _, err := p.orch.ReconcileAggregates(ctx, p.limit); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("aggregate reconcile pass failed", zap.Error(err))
			}
		}
	}
}
