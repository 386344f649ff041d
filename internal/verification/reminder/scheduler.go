// Package reminder runs the periodic reminder sweep.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"hrportal/internal/verification/models"
)

// Sender is the reminder operation of the verification service.
type Sender interface {
	SendReminders(ctx context.Context, limit int, baseURL string) (*models.DispatchResult, error)
}

// Locker grants a cluster-wide lease. A nil Locker runs every sweep locally.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Scheduler sweeps reminders on a fixed interval. Each sweep is capped by the
// batch size, so a long backlog drains over several ticks.
type Scheduler struct {
	sender   Sender
	locker   Locker
	interval time.Duration
	batch    int
	baseURL  string
	logger   *slog.Logger
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

func WithBatch(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batch = n
		}
	}
}

func New(sender Sender, interval time.Duration, baseURL string, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		sender:   sender,
		interval: interval,
		batch:    50,
		baseURL:  baseURL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until ctx is cancelled. A zero interval disables the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("reminder scheduler disabled")
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "reminder sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs one sweep. It returns a nil result when another replica
// holds the lease.
func (s *Scheduler) SweepOnce(ctx context.Context) (*models.DispatchResult, error) {
	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.DebugContext(ctx, "reminder sweep skipped, lease held elsewhere")
			return nil, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release reminder lease", "error", err)
			}
		}()
	}

	res, err := s.sender.SendReminders(ctx, s.batch, s.baseURL)
	if err != nil {
		return nil, err
	}
	if res.Sent > 0 || res.Failed > 0 {
		s.logger.InfoContext(ctx, "reminder sweep finished", "sent", res.Sent, "failed", res.Failed)
	}
	return res, nil
}
