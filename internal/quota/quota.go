package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lucky-wheel/internal/models"
)

const dayLayout = "2006-01-02"

var ErrInvalidLimit = errors.New("daily limit must not be negative")

// Snapshot is the quota state reported to clients. Remaining is -1 when
// the ledger is unlimited.
type Snapshot struct {
	Day       string `json:"day"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Unlimited bool   `json:"unlimited"`
}

type Ledger interface {
	Peek(ctx context.Context) (Snapshot, error)
	TryConsume(ctx context.Context) (bool, Snapshot, error)
}

// Counter is the keyed day counter. ConsumeDailyQuota must increment in a
// single conditional step.
type Counter interface {
	PeekDailyQuota(ctx context.Context, day string, limit int) (models.DailyQuotaRecord, error)
	ConsumeDailyQuota(ctx context.Context, day string, limit int, now time.Time) (bool, models.DailyQuotaRecord, error)
	SetDailyLimit(ctx context.Context, day string, limit int, now time.Time) error
}

// LimitStore persists the operator-configured limit that new days start with.
type LimitStore interface {
	LoadDailyLimit(ctx context.Context) (int, bool, error)
	SaveDailyLimit(ctx context.Context, limit int) error
}

type DailyLedger struct {
	counter      Counter
	limits       LimitStore
	defaultLimit int
	loc          *time.Location
	now          func() time.Time
}

func NewDailyLedger(counter Counter, limits LimitStore, defaultLimit int, loc *time.Location) *DailyLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyLedger{
		counter:      counter,
		limits:       limits,
		defaultLimit: defaultLimit,
		loc:          loc,
		now:          time.Now,
	}
}

// WithClock replaces the time source; used by tests and the quota CLI.
func (l *DailyLedger) WithClock(now func() time.Time) *DailyLedger {
	l.now = now
	return l
}

func (l *DailyLedger) Day() string {
	return l.now().In(l.loc).Format(dayLayout)
}

func (l *DailyLedger) configuredLimit(ctx context.Context) (int, error) {
	if l.limits == nil {
		return l.defaultLimit, nil
	}
	limit, ok, err := l.limits.LoadDailyLimit(ctx)
	if err != nil {
		return 0, fmt.Errorf("load daily limit: %w", err)
	}
	if !ok {
		return l.defaultLimit, nil
	}
	return limit, nil
}

func (l *DailyLedger) Peek(ctx context.Context) (Snapshot, error) {
	limit, err := l.configuredLimit(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	rec, err := l.counter.PeekDailyQuota(ctx, l.Day(), limit)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(rec), nil
}

func (l *DailyLedger) TryConsume(ctx context.Context) (bool, Snapshot, error) {
	limit, err := l.configuredLimit(ctx)
	if err != nil {
		return false, Snapshot{}, err
	}
	ok, rec, err := l.counter.ConsumeDailyQuota(ctx, l.Day(), limit, l.now())
	if err != nil {
		return false, Snapshot{}, err
	}
	return ok, snapshotOf(rec), nil
}

// SetLimit stores the new limit for future days and applies it to today.
// Lowering the limit below today's usage closes the quota for the rest of
// the day; usage is never rewritten.
func (l *DailyLedger) SetLimit(ctx context.Context, limit int) (Snapshot, error) {
	if limit < 0 {
		return Snapshot{}, ErrInvalidLimit
	}
	if l.limits != nil {
		if err := l.limits.SaveDailyLimit(ctx, limit); err != nil {
			return Snapshot{}, fmt.Errorf("save daily limit: %w", err)
		}
	}
	day := l.Day()
	if err := l.counter.SetDailyLimit(ctx, day, limit, l.now()); err != nil {
		return Snapshot{}, err
	}
	rec, err := l.counter.PeekDailyQuota(ctx, day, limit)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(rec), nil
}

func snapshotOf(rec models.DailyQuotaRecord) Snapshot {
	remaining := rec.Limit - rec.Used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{Day: rec.Day, Used: rec.Used, Remaining: remaining, Limit: rec.Limit}
}

type unlimited struct{}

// Unlimited is the ledger of variants that do not draw from the shared
// daily budget. It always grants.
var Unlimited Ledger = unlimited{}

func (unlimited) Peek(context.Context) (Snapshot, error) {
	return Snapshot{Remaining: -1, Unlimited: true}, nil
}

func (u unlimited) TryConsume(ctx context.Context) (bool, Snapshot, error) {
	snap, err := u.Peek(ctx)
	return true, snap, err
}
