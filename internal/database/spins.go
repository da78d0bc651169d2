package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lucky-wheel/internal/models"
)

const spinColumns = `id, spin_id, wallet, variant, segment_index, label, reward, price, payment_tx, fulfillment, created_at, resolved_at`

func scanSpin(row rowScanner) (models.SpinRecord, error) {
	var (
		rec             models.SpinRecord
		variant, reward string
		price, status   string
		createdAt       int64
		resolvedAt      sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.SpinID, &rec.Wallet, &variant, &rec.SegmentIndex, &rec.Label,
		&reward, &price, &rec.PaymentTx, &status, &createdAt, &resolvedAt); err != nil {
		return models.SpinRecord{}, err
	}
	if err := json.Unmarshal([]byte(reward), &rec.Reward); err != nil {
		return models.SpinRecord{}, fmt.Errorf("spin %s reward: %w", rec.SpinID, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.SpinRecord{}, fmt.Errorf("spin %s price: %w", rec.SpinID, err)
	}
	rec.Variant = models.VariantID(variant)
	rec.Price = p
	rec.Fulfillment = models.FulfillmentStatus(status)
	rec.CreatedAt = fromMillis(createdAt)
	if resolvedAt.Valid {
		t := fromMillis(resolvedAt.Int64)
		rec.ResolvedAt = &t
	}
	return rec, nil
}

// InsertSpin writes the audit record of a committed spin. payment_tx is
// unique, so the insert also redeems the payment: a second spin paid with
// the same transaction fails with ErrPaymentRedeemed.
func (s *Store) InsertSpin(ctx context.Context, rec models.SpinRecord) error {
	reward, err := json.Marshal(rec.Reward)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO spins (spin_id, wallet, variant, segment_index, label, reward, price, payment_tx, fulfillment, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.SpinID, rec.Wallet, string(rec.Variant), rec.SegmentIndex, rec.Label, string(reward),
		rec.Price.String(), rec.PaymentTx, string(models.FulfillmentPending), toMillis(rec.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPaymentRedeemed
		}
		return err
	}
	return nil
}

// DeleteSpin discards an unresolved spin record so its payment can be
// used again.
func (s *Store) DeleteSpin(ctx context.Context, spinID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM spins WHERE spin_id = ? AND resolved_at IS NULL`), spinID)
	return err
}

func (s *Store) PaymentRedeemed(ctx context.Context, paymentTx string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM spins WHERE payment_tx = ?`), paymentTx).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetSpinFulfillment records a server-side delivery outcome.
func (s *Store) SetSpinFulfillment(ctx context.Context, spinID string, status models.FulfillmentStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE spins SET fulfillment = ? WHERE spin_id = ?`), string(status), spinID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSpinNotFound
	}
	return nil
}

// ResolveSpin stamps resolved_at once. A client report only overwrites the
// fulfillment status while it is still pending; an empty status leaves it.
func (s *Store) ResolveSpin(ctx context.Context, spinID string, status models.FulfillmentStatus, now time.Time) error {
	if status != "" {
		if _, err := s.db.ExecContext(ctx, s.q(`
UPDATE spins SET fulfillment = ? WHERE spin_id = ? AND fulfillment = ?`),
			string(status), spinID, string(models.FulfillmentPending)); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
UPDATE spins SET resolved_at = ? WHERE spin_id = ? AND resolved_at IS NULL`), toMillis(now), spinID)
	return err
}

func (s *Store) GetSpin(ctx context.Context, spinID string) (models.SpinRecord, error) {
	rec, err := scanSpin(s.db.QueryRowContext(ctx, s.q(`SELECT `+spinColumns+` FROM spins WHERE spin_id = ?`), spinID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SpinRecord{}, ErrSpinNotFound
		}
		return models.SpinRecord{}, err
	}
	return rec, nil
}

// ListSpinRecords pages spins newest first. An empty wallet lists all.
func (s *Store) ListSpinRecords(ctx context.Context, wallet string, limit, offset int) ([]models.SpinRecord, int, error) {
	where := ""
	args := []any{}
	if wallet != "" {
		where = ` WHERE wallet = ?`
		args = append(args, wallet)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM spins`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+spinColumns+` FROM spins`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.SpinRecord
	for rows.Next() {
		rec, err := scanSpin(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
