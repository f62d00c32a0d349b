package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kbridge/unity-send/internal/domain"
	"github.com/kbridge/unity-send/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 5 * time.Second
	defaultSweepLimit    = 100
)

// TimerTarget receives due timer wakes. Implemented by the Orchestrator.
type TimerTarget interface {
	FireTimer(ctx context.Context, detail domain.SendDetail) (bool, error)
}

// RetrySweeper periodically wakes retryable details whose next_wake_at has
// passed. Each due row is claimed through the optimistic update, so two
// concurrent sweepers never double-fire the same wake; a lost claim is
// skipped silently.
type RetrySweeper struct {
	store    repository.SendRepository
	target   TimerTarget
	logger   *zap.Logger
	interval time.Duration
	limit    int
	now      func() time.Time
}

func NewRetrySweeper(
	store repository.SendRepository,
	target TimerTarget,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("send repository is required")
	}
	if target == nil {
		return nil, fmt.Errorf("timer target is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		store:    store,
		target:   target,
		logger:   logger,
		interval: interval,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (s *RetrySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so already-due wakes do not wait for the first
	// ticker edge.
	if err := s.SweepDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SweepDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepDue fires one timer per due wake. The status filter in the query
// guards against rows a callback closed since they became due; the
// version-checked update inside FireTimer guards against racing sweepers.
func (s *RetrySweeper) SweepDue(ctx context.Context) error {
	due, err := s.store.ListDueRetries(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to list due retries: %w", err)
	}

	for i := range due {
		fired, err := s.target.FireTimer(ctx, due[i])
		if err != nil {
			s.logger.Error("failed to fire retry timer",
				zap.String("detailId", due[i].UnityDetailID),
				zap.Error(err),
			)
			continue
		}
		if !fired {
			s.logger.Debug("retry wake claimed by another worker",
				zap.String("detailId", due[i].UnityDetailID),
			)
		}
	}

	return nil
}
