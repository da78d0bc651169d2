package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type LeaseExpirer interface {
	ExpireLeases(ctx context.Context, batch int) (int, error)
}

// LeaseSweeper periodically clears pending spins whose lease ran out so
// an abandoned client never strands a wallet.
type LeaseSweeper struct {
	expirer  LeaseExpirer
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewLeaseSweeper(expirer LeaseExpirer, interval time.Duration, batch int, logger *slog.Logger) *LeaseSweeper {
	if batch <= 0 {
		batch = 100
	}
	return &LeaseSweeper{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *LeaseSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop waits for an in-flight sweep to finish.
func (s *LeaseSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *LeaseSweeper) sweep(ctx context.Context) {
	for {
		n, err := s.expirer.ExpireLeases(ctx, s.batch)
		if err != nil {
			s.logger.Error("lease sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("expired pending leases", "count", n)
		}
		// A short batch means the backlog is drained.
		if n < s.batch {
			return
		}
	}
}
