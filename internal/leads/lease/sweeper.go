package lease

import (
	"context"
	"time"

	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// ExpiredFunc is invoked once per lead whose lease expired without being
// renewed or released. Implemented by the assignment engine's session
// recovery.
type ExpiredFunc func(ctx context.Context, leadID uuid.UUID)

// Sweeper periodically evicts expired leases from the index and pushes the
// affected leads into the recovery callback. Redis already lazily expires the
// lease keys themselves; the sweep bounds index growth and turns passive
// expiry into an active signal.
type Sweeper struct {
	store    *RedisStore
	interval time.Duration
	onExpire ExpiredFunc
	log      *logger.Logger
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *RedisStore, interval time.Duration, onExpire ExpiredFunc, log *logger.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		onExpire: onExpire,
		log:      log,
	}
}

// Run sweeps at the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.store.sweep(ctx)
	if err != nil {
		s.log.Error("lease sweep failed", "error", err)
	}
	for _, leadID := range expired {
		s.log.Info("lease expired", "lead_id", leadID)
		if s.onExpire != nil {
			s.onExpire(ctx, leadID)
		}
	}
}
