package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lucky-wheel/internal/catalog"
)

const (
	keyCatalog       = "wheel_catalog"
	keyDailyLimit    = "daily_limit"
	keyQuotaSchedule = "quota_schedule"
)

func (s *Store) loadSetting(ctx context.Context, key string) (string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM config WHERE key = ?`), key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return raw, raw != "", nil
}

func (s *Store) saveSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO config (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	return err
}

// LoadCatalog returns the stored catalog override, or the compiled-in
// default when none is stored.
func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	raw, ok, err := s.loadSetting(ctx, keyCatalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return catalog.Default(), nil
	}
	var c catalog.Catalog
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("stored catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("stored catalog: %w", err)
	}
	return &c, nil
}

func (s *Store) SaveCatalog(ctx context.Context, c *catalog.Catalog) error {
	if err := c.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.saveSetting(ctx, keyCatalog, string(payload))
}

func (s *Store) LoadDailyLimit(ctx context.Context) (int, bool, error) {
	raw, ok, err := s.loadSetting(ctx, keyDailyLimit)
	if err != nil || !ok {
		return 0, false, err
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("stored daily limit %q: %w", raw, err)
	}
	return limit, true, nil
}

func (s *Store) SaveDailyLimit(ctx context.Context, limit int) error {
	return s.saveSetting(ctx, keyDailyLimit, strconv.Itoa(limit))
}

type QuotaSchedule struct {
	Target    int       `json:"target"`
	ApplyAt   time.Time `json:"applyAt"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Store) SaveQuotaSchedule(ctx context.Context, schedule QuotaSchedule) error {
	payload, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	return s.saveSetting(ctx, keyQuotaSchedule, string(payload))
}

func (s *Store) LoadQuotaSchedule(ctx context.Context) (*QuotaSchedule, error) {
	raw, ok, err := s.loadSetting(ctx, keyQuotaSchedule)
	if err != nil || !ok {
		return nil, err
	}
	var schedule QuotaSchedule
	if err := json.Unmarshal([]byte(raw), &schedule); err != nil {
		return nil, nil
	}
	return &schedule, nil
}

func (s *Store) ClearQuotaSchedule(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM config WHERE key = ?`), keyQuotaSchedule)
	return err
}
