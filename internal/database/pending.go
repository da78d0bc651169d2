package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lucky-wheel/internal/models"
)

const pendingColumns = `wallet, has_pending, segment_index, variant, spin_id, committed, reward_claimed, spin_count, updated_at, lease_expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (models.PendingSpinRecord, error) {
	var (
		rec                            models.PendingSpinRecord
		hasPending, committed, claimed int
		variant                        string
		updatedAt, lease               int64
	)
	if err := row.Scan(&rec.Wallet, &hasPending, &rec.SegmentIndex, &variant, &rec.SpinID, &committed, &claimed, &rec.SpinCount, &updatedAt, &lease); err != nil {
		return models.PendingSpinRecord{}, err
	}
	rec.HasPendingSpin = hasPending == 1
	rec.Committed = committed == 1
	rec.RewardClaimed = claimed == 1
	rec.Variant = models.VariantID(variant)
	rec.UpdatedAt = fromMillis(updatedAt)
	rec.LeaseExpiresAt = fromMillis(lease)
	return rec, nil
}

func emptyPending(wallet string) models.PendingSpinRecord {
	return models.PendingSpinRecord{Wallet: wallet, SegmentIndex: -1}
}

// SetPendingIfClear flips has_pending on iff it is off, or iff the
// outstanding lease expired at or before now and no committed reward is
// waiting for delivery. A zero leaseUntil stores no lease. The previous
// segment and spin id stay readable until RecordOutcome replaces them.
func (s *Store) SetPendingIfClear(ctx context.Context, wallet string, variant models.VariantID, now, leaseUntil time.Time) (bool, error) {
	if _, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO pending_spins (wallet, has_pending, segment_index, variant, spin_id, committed, reward_claimed, spin_count, updated_at, lease_expires_at)
VALUES (?, 0, -1, '', '', 0, 0, ?, 0)
ON CONFLICT (wallet) DO NOTHING`), wallet, toMillis(now)); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE pending_spins
SET has_pending = 1, variant = ?, committed = 0, reward_claimed = 0, updated_at = ?, lease_expires_at = ?
WHERE wallet = ? AND (has_pending = 0 OR (lease_expires_at > 0 AND lease_expires_at <= ? AND (committed = 0 OR reward_claimed = 1)))`),
		string(variant), toMillis(now), toMillis(leaseUntil), wallet, toMillis(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordOutcome stores the committed segment and returns the wallet's new
// lifetime spin count.
func (s *Store) RecordOutcome(ctx context.Context, wallet string, segmentIndex int, spinID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`
UPDATE pending_spins SET segment_index = ?, spin_id = ?, committed = 1, reward_claimed = 0, spin_count = spin_count + 1, updated_at = ?
WHERE wallet = ? AND has_pending = 1
RETURNING spin_count`), segmentIndex, spinID, toMillis(now), wallet).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoPendingSpin
		}
		return 0, err
	}
	return count, nil
}

// ClaimReward marks the committed reward of a pending spin as being
// delivered. Only one caller can win the claim.
func (s *Store) ClaimReward(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
UPDATE pending_spins SET reward_claimed = 1, updated_at = ?
WHERE wallet = ? AND has_pending = 1 AND committed = 1 AND reward_claimed = 0
RETURNING `+pendingColumns), toMillis(now), wallet)
	rec, err := scanPending(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PendingSpinRecord{}, false, nil
		}
		return models.PendingSpinRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ReleaseReward(ctx context.Context, wallet, spinID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
UPDATE pending_spins SET reward_claimed = 0, updated_at = ?
WHERE wallet = ? AND has_pending = 1 AND spin_id = ?`), toMillis(now), wallet, spinID)
	return err
}

// ClearPending turns has_pending off and returns the record as it was
// before the call. Clearing an unknown or already clear wallet is a no-op.
func (s *Store) ClearPending(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PendingSpinRecord{}, err
	}
	defer tx.Rollback()

	prev, err := scanPending(tx.QueryRowContext(ctx, s.q(`SELECT `+pendingColumns+` FROM pending_spins WHERE wallet = ?`+s.forUpdate()), wallet))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emptyPending(wallet), nil
		}
		return models.PendingSpinRecord{}, err
	}
	if prev.HasPendingSpin {
		if _, err := tx.ExecContext(ctx, s.q(`
UPDATE pending_spins SET has_pending = 0, lease_expires_at = 0, updated_at = ?
WHERE wallet = ?`), toMillis(now), wallet); err != nil {
			return models.PendingSpinRecord{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.PendingSpinRecord{}, err
	}
	return prev, nil
}

// ClearExpiredPending clears the flag only while the lease is still the
// expired one; a wallet that has since started a new spin is left alone.
func (s *Store) ClearExpiredPending(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, bool, error) {
	rec, err := scanPending(s.db.QueryRowContext(ctx, s.q(`
UPDATE pending_spins SET has_pending = 0, lease_expires_at = 0, updated_at = ?
WHERE wallet = ? AND has_pending = 1 AND lease_expires_at > 0 AND lease_expires_at <= ?
RETURNING `+pendingColumns), toMillis(now), wallet, toMillis(now)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PendingSpinRecord{}, false, nil
		}
		return models.PendingSpinRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) GetPending(ctx context.Context, wallet string) (models.PendingSpinRecord, error) {
	rec, err := scanPending(s.db.QueryRowContext(ctx, s.q(`SELECT `+pendingColumns+` FROM pending_spins WHERE wallet = ?`), wallet))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emptyPending(wallet), nil
		}
		return models.PendingSpinRecord{}, err
	}
	return rec, nil
}

func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT wallet FROM pending_spins
WHERE has_pending = 1 AND lease_expires_at > 0 AND lease_expires_at <= ?
ORDER BY lease_expires_at
LIMIT ?`), toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
