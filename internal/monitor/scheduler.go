package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires dispatch rounds on a fixed interval. A failed or panicked
// round is logged and the ticker keeps going; the scheduler itself only
// stops when its context is canceled.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *zap.Logger
}

// NewScheduler creates a Scheduler that dispatches every interval.
func NewScheduler(dispatcher *Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     zap.L().With(zap.String("component", "scheduler")),
	}
}

// Run dispatches immediately, then on every tick until ctx is canceled.
// Each round runs in its own goroutine so a slow store read never stalls
// the tick cadence; the pool's per-zone leases keep overlapping rounds
// from double-checking a zone.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	go s.dispatchOnce(ctx, time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			go s.dispatchOnce(ctx, now)
		}
	}
}

func (s *Scheduler) dispatchOnce(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch round panicked", zap.Any("panic", r))
		}
	}()

	if _, err := s.dispatcher.Dispatch(ctx, now); err != nil {
		s.logger.Error("dispatch round failed", zap.Error(err))
	}
}
