package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lucky-wheel/internal/models"
)

// PeekDailyQuota reads the day's record without creating it; a day nobody
// has spun on yet reads as zero used against limit.
func (s *Store) PeekDailyQuota(ctx context.Context, day string, limit int) (models.DailyQuotaRecord, error) {
	rec := models.DailyQuotaRecord{Day: day, Limit: limit}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT used, daily_limit FROM daily_quota WHERE day = ?`), day).
		Scan(&rec.Used, &rec.Limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, nil
		}
		return models.DailyQuotaRecord{}, err
	}
	return rec, nil
}

// ConsumeDailyQuota increments the day's counter iff it is below its limit.
// The increment is one conditional UPDATE, so concurrent callers can never
// push used past daily_limit.
func (s *Store) ConsumeDailyQuota(ctx context.Context, day string, limit int, now time.Time) (bool, models.DailyQuotaRecord, error) {
	if _, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO daily_quota (day, used, daily_limit, created_at) VALUES (?, 0, ?, ?)
ON CONFLICT (day) DO NOTHING`), day, limit, toMillis(now)); err != nil {
		return false, models.DailyQuotaRecord{}, err
	}

	rec := models.DailyQuotaRecord{Day: day}
	err := s.db.QueryRowContext(ctx, s.q(`
UPDATE daily_quota SET used = used + 1
WHERE day = ? AND used < daily_limit
RETURNING used, daily_limit`), day).Scan(&rec.Used, &rec.Limit)
	if err == nil {
		return true, rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, models.DailyQuotaRecord{}, err
	}
	rec, err = s.PeekDailyQuota(ctx, day, limit)
	return false, rec, err
}

// SetDailyLimit creates or updates the day's record with a new limit. The
// used counter is left untouched.
func (s *Store) SetDailyLimit(ctx context.Context, day string, limit int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO daily_quota (day, used, daily_limit, created_at) VALUES (?, 0, ?, ?)
ON CONFLICT (day) DO UPDATE SET daily_limit = excluded.daily_limit`), day, limit, toMillis(now))
	return err
}
