package scheduler

import (
	"context"
	"log/slog"
	"time"

	"lucky-wheel/internal/database"
	"lucky-wheel/internal/metrics"
	"lucky-wheel/internal/quota"
)

type ScheduleStore interface {
	LoadQuotaSchedule(ctx context.Context) (*database.QuotaSchedule, error)
	ClearQuotaSchedule(ctx context.Context) error
}

type LimitSetter interface {
	SetLimit(ctx context.Context, limit int) (quota.Snapshot, error)
}

// QuotaRunner applies an operator's scheduled daily limit once its time
// has come.
type QuotaRunner struct {
	store    ScheduleStore
	ledger   LimitSetter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
}

func NewQuotaRunner(store ScheduleStore, ledger LimitSetter, interval time.Duration, logger *slog.Logger) *QuotaRunner {
	return &QuotaRunner{
		store:    store,
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

func (r *QuotaRunner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.check(ctx)
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *QuotaRunner) Stop() {
	close(r.stopCh)
}

func (r *QuotaRunner) check(ctx context.Context) {
	schedule, err := r.store.LoadQuotaSchedule(ctx)
	if err != nil || schedule == nil {
		return
	}
	if r.now().Before(schedule.ApplyAt) {
		return
	}
	snap, err := r.ledger.SetLimit(ctx, schedule.Target)
	if err != nil {
		r.logger.Error("failed to apply quota schedule", "target", schedule.Target, "error", err)
		return
	}
	metrics.QuotaUsed.Set(float64(snap.Used))
	if err := r.store.ClearQuotaSchedule(ctx); err != nil {
		r.logger.Warn("failed to clear quota schedule", "error", err)
	}
	r.logger.Info("quota schedule applied", "target", schedule.Target, "day", snap.Day, "used", snap.Used, "author", schedule.Author)
}
