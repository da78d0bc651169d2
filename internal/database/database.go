package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrPaymentRedeemed = errors.New("payment already redeemed")
	ErrNoPendingSpin   = errors.New("no pending spin")
	ErrSpinNotFound    = errors.New("spin not found")
)

type Store struct {
	db     *sql.DB
	dbType string // "postgres" or "sqlite"
}

func New(ctx context.Context, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	var dbType string

	if dsn == "" || strings.HasPrefix(dsn, "sqlite:") {
		dbType = "sqlite"
		sqlitePath := "wheel.db"
		if strings.HasPrefix(dsn, "sqlite:") {
			sqlitePath = strings.TrimPrefix(dsn, "sqlite:")
		}
		db, err = sql.Open("sqlite", sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		// SQLite serializes writers anyway; a single connection keeps the
		// conditional updates free of SQLITE_BUSY and keeps :memory: databases
		// on one handle.
		db.SetMaxOpenConns(1)
	} else {
		dbType = "postgres"
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	store := &Store{db: db, dbType: dbType}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	var schema string
	if s.dbType == "sqlite" {
		schema = sqliteSchema
	} else {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// q rewrites ? placeholders into $n for postgres.
func (s *Store) q(query string) string {
	if s.dbType == "sqlite" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// forUpdate returns the row lock clause; sqlite has none and does not need
// one with a single connection.
func (s *Store) forUpdate() string {
	if s.dbType == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_quota (
    day TEXT PRIMARY KEY,
    used INTEGER NOT NULL DEFAULT 0,
    daily_limit INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_spins (
    wallet TEXT PRIMARY KEY,
    has_pending INTEGER NOT NULL DEFAULT 0,
    segment_index INTEGER NOT NULL DEFAULT -1,
    variant TEXT NOT NULL DEFAULT '',
    spin_id TEXT NOT NULL DEFAULT '',
    committed INTEGER NOT NULL DEFAULT 0,
    reward_claimed INTEGER NOT NULL DEFAULT 0,
    spin_count INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    lease_expires_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS spins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    spin_id TEXT UNIQUE NOT NULL,
    wallet TEXT NOT NULL,
    variant TEXT NOT NULL,
    segment_index INTEGER NOT NULL,
    label TEXT NOT NULL,
    reward TEXT NOT NULL,
    price TEXT NOT NULL,
    payment_tx TEXT UNIQUE NOT NULL,
    fulfillment TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL,
    resolved_at INTEGER
);

CREATE TABLE IF NOT EXISTS ticket_balances (
    wallet TEXT PRIMARY KEY,
    regular INTEGER NOT NULL DEFAULT 0,
    legendary INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS card_collection (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet TEXT NOT NULL,
    instance_id TEXT UNIQUE NOT NULL,
    template_id TEXT NOT NULL,
    name TEXT NOT NULL,
    rarity TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS passes (
    wallet TEXT NOT NULL,
    kind TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (wallet, kind)
);

CREATE TABLE IF NOT EXISTS deal_redemptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet TEXT NOT NULL,
    kind TEXT NOT NULL,
    code TEXT UNIQUE NOT NULL,
    card_instance_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spins_wallet ON spins(wallet);
CREATE INDEX IF NOT EXISTS idx_pending_lease ON pending_spins(has_pending, lease_expires_at);
CREATE INDEX IF NOT EXISTS idx_cards_wallet ON card_collection(wallet);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_quota (
    day TEXT PRIMARY KEY,
    used INTEGER NOT NULL DEFAULT 0,
    daily_limit INTEGER NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_spins (
    wallet TEXT PRIMARY KEY,
    has_pending SMALLINT NOT NULL DEFAULT 0,
    segment_index INTEGER NOT NULL DEFAULT -1,
    variant TEXT NOT NULL DEFAULT '',
    spin_id TEXT NOT NULL DEFAULT '',
    committed SMALLINT NOT NULL DEFAULT 0,
    reward_claimed SMALLINT NOT NULL DEFAULT 0,
    spin_count INTEGER NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL,
    lease_expires_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS spins (
    id BIGSERIAL PRIMARY KEY,
    spin_id TEXT UNIQUE NOT NULL,
    wallet TEXT NOT NULL,
    variant TEXT NOT NULL,
    segment_index INTEGER NOT NULL,
    label TEXT NOT NULL,
    reward TEXT NOT NULL,
    price TEXT NOT NULL,
    payment_tx TEXT UNIQUE NOT NULL,
    fulfillment TEXT NOT NULL DEFAULT 'pending',
    created_at BIGINT NOT NULL,
    resolved_at BIGINT
);

CREATE TABLE IF NOT EXISTS ticket_balances (
    wallet TEXT PRIMARY KEY,
    regular BIGINT NOT NULL DEFAULT 0,
    legendary BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS card_collection (
    id BIGSERIAL PRIMARY KEY,
    wallet TEXT NOT NULL,
    instance_id TEXT UNIQUE NOT NULL,
    template_id TEXT NOT NULL,
    name TEXT NOT NULL,
    rarity TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS passes (
    wallet TEXT NOT NULL,
    kind TEXT NOT NULL,
    expires_at BIGINT NOT NULL,
    PRIMARY KEY (wallet, kind)
);

CREATE TABLE IF NOT EXISTS deal_redemptions (
    id BIGSERIAL PRIMARY KEY,
    wallet TEXT NOT NULL,
    kind TEXT NOT NULL,
    code TEXT UNIQUE NOT NULL,
    card_instance_id TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spins_wallet ON spins(wallet);
CREATE INDEX IF NOT EXISTS idx_pending_lease ON pending_spins(has_pending, lease_expires_at);
CREATE INDEX IF NOT EXISTS idx_cards_wallet ON card_collection(wallet);
`
