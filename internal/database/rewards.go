package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lucky-wheel/internal/models"
)

// execer is satisfied by *sql.DB and *sql.Tx so grants can share one
// transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AddTickets credits a ticket balance in one upsert and returns the new
// balances.
func (s *Store) AddTickets(ctx context.Context, wallet string, kind models.TicketKind, amount int, now time.Time) (models.TicketBalance, error) {
	return s.addTickets(ctx, s.db, wallet, kind, amount, now)
}

func (s *Store) addTickets(ctx context.Context, ex execer, wallet string, kind models.TicketKind, amount int, now time.Time) (models.TicketBalance, error) {
	var column string
	switch kind {
	case models.TicketRegular:
		column = "regular"
	case models.TicketLegendary:
		column = "legendary"
	default:
		return models.TicketBalance{}, fmt.Errorf("unknown ticket kind %q", kind)
	}

	bal := models.TicketBalance{Wallet: wallet}
	err := ex.QueryRowContext(ctx, s.q(`
INSERT INTO ticket_balances (wallet, `+column+`, updated_at) VALUES (?, ?, ?)
ON CONFLICT (wallet) DO UPDATE SET `+column+` = ticket_balances.`+column+` + excluded.`+column+`, updated_at = excluded.updated_at
RETURNING regular, legendary`), wallet, amount, toMillis(now)).Scan(&bal.Regular, &bal.Legendary)
	if err != nil {
		return models.TicketBalance{}, err
	}
	return bal, nil
}

func (s *Store) TicketBalance(ctx context.Context, wallet string) (models.TicketBalance, error) {
	bal := models.TicketBalance{Wallet: wallet}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT regular, legendary FROM ticket_balances WHERE wallet = ?`), wallet).
		Scan(&bal.Regular, &bal.Legendary)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.TicketBalance{}, err
	}
	return bal, nil
}

func (s *Store) InsertCard(ctx context.Context, wallet string, card models.CardGrant, now time.Time) error {
	return s.insertCard(ctx, s.db, wallet, card, now)
}

func (s *Store) insertCard(ctx context.Context, ex execer, wallet string, card models.CardGrant, now time.Time) error {
	_, err := ex.ExecContext(ctx, s.q(`
INSERT INTO card_collection (wallet, instance_id, template_id, name, rarity, created_at)
VALUES (?, ?, ?, ?, ?, ?)`), wallet, card.InstanceID, card.TemplateID, card.Name, string(card.Rarity), toMillis(now))
	return err
}

func (s *Store) ListCards(ctx context.Context, wallet string) ([]models.CardGrant, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT instance_id, template_id, name, rarity FROM card_collection WHERE wallet = ? ORDER BY id`), wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cards []models.CardGrant
	for rows.Next() {
		var c models.CardGrant
		var rarity string
		if err := rows.Scan(&c.InstanceID, &c.TemplateID, &c.Name, &rarity); err != nil {
			return nil, err
		}
		c.Rarity = models.CardRarity(rarity)
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// GrantPass starts the pass now, or extends it from its current expiry
// when it is still active, and credits bonusLegendary legendary tickets.
// Both writes commit together or not at all.
func (s *Store) GrantPass(ctx context.Context, wallet string, kind models.PassKind, duration time.Duration, bonusLegendary int, now time.Time) (models.PassState, models.TicketBalance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PassState{}, models.TicketBalance{}, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, s.q(`SELECT expires_at FROM passes WHERE wallet = ? AND kind = ?`+s.forUpdate()), wallet, string(kind)).
		Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.PassState{}, models.TicketBalance{}, err
	}

	start := now
	if exp := fromMillis(current); exp.After(now) {
		start = exp
	}
	expires := start.Add(duration)

	if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO passes (wallet, kind, expires_at) VALUES (?, ?, ?)
ON CONFLICT (wallet, kind) DO UPDATE SET expires_at = excluded.expires_at`), wallet, string(kind), toMillis(expires)); err != nil {
		return models.PassState{}, models.TicketBalance{}, err
	}

	bal := models.TicketBalance{Wallet: wallet}
	if bonusLegendary > 0 {
		if bal, err = s.addTickets(ctx, tx, wallet, models.TicketLegendary, bonusLegendary, now); err != nil {
			return models.PassState{}, models.TicketBalance{}, fmt.Errorf("bonus tickets: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.PassState{}, models.TicketBalance{}, err
	}
	return models.PassState{Wallet: wallet, Kind: kind, ExpiresAt: expires.UTC()}, bal, nil
}

func (s *Store) GetPass(ctx context.Context, wallet string, kind models.PassKind) (models.PassState, error) {
	state := models.PassState{Wallet: wallet, Kind: kind}
	var expires int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT expires_at FROM passes WHERE wallet = ? AND kind = ?`), wallet, string(kind)).Scan(&expires)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.PassState{}, err
	}
	state.ExpiresAt = fromMillis(expires)
	return state, nil
}

// RedeemDeal grants the bundle card, credits its tickets and records the
// redemption in one transaction.
func (s *Store) RedeemDeal(ctx context.Context, d models.DealRedemption, regular, legendary int) (models.TicketBalance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.TicketBalance{}, err
	}
	defer tx.Rollback()

	if err := s.insertCard(ctx, tx, d.Wallet, d.Card, d.CreatedAt); err != nil {
		return models.TicketBalance{}, fmt.Errorf("deal card: %w", err)
	}
	bal := models.TicketBalance{Wallet: d.Wallet}
	for _, credit := range []struct {
		kind   models.TicketKind
		amount int
	}{
		{models.TicketRegular, regular},
		{models.TicketLegendary, legendary},
	} {
		if credit.amount <= 0 {
			continue
		}
		if bal, err = s.addTickets(ctx, tx, d.Wallet, credit.kind, credit.amount, d.CreatedAt); err != nil {
			return models.TicketBalance{}, fmt.Errorf("deal tickets: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO deal_redemptions (wallet, kind, code, card_instance_id, created_at)
VALUES (?, ?, ?, ?, ?)`), d.Wallet, string(d.Kind), d.Code, d.Card.InstanceID, toMillis(d.CreatedAt)); err != nil {
		return models.TicketBalance{}, fmt.Errorf("record deal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.TicketBalance{}, err
	}
	return bal, nil
}
