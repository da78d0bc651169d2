package pending

import (
	"context"
	"errors"
	"strings"
	"time"

	"lucky-wheel/internal/database"
	"lucky-wheel/internal/models"
)

var (
	ErrInvalidWallet = errors.New("wallet address is required")
	ErrNoPendingSpin = database.ErrNoPendingSpin
)

// Backend stores pending-spin records. SetPendingIfClear and ClaimReward
// must each be a single atomic check-and-set.
type Backend interface {
	SetPendingIfClear(ctx context.Context, wallet string, variant models.VariantID, now, leaseUntil time.Time) (bool, error)
	RecordOutcome(ctx context.Context, wallet string, segmentIndex int, spinID string, now time.Time) (int, error)
	ClaimReward(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, bool, error)
	ReleaseReward(ctx context.Context, wallet, spinID string, now time.Time) error
	ClearPending(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, error)
	ClearExpiredPending(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, bool, error)
	GetPending(ctx context.Context, wallet string) (models.PendingSpinRecord, error)
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Tracker enforces at most one outstanding spin per wallet.
type Tracker struct {
	backend  Backend
	leaseTTL time.Duration
	now      func() time.Time
}

// NewTracker returns a tracker whose pending flags lapse after leaseTTL.
// A zero leaseTTL keeps a flag until it is cleared.
func NewTracker(backend Backend, leaseTTL time.Duration) *Tracker {
	return &Tracker{backend: backend, leaseTTL: leaseTTL, now: time.Now}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// NormalizeWallet lower-cases and trims an address so that one wallet never
// maps to two records.
func NormalizeWallet(wallet string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(wallet))
	if w == "" {
		return "", ErrInvalidWallet
	}
	return w, nil
}

func (t *Tracker) TrySetPending(ctx context.Context, wallet string, variant models.VariantID) (bool, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return false, err
	}
	now := t.now()
	var leaseUntil time.Time
	if t.leaseTTL > 0 {
		leaseUntil = now.Add(t.leaseTTL)
	}
	return t.backend.SetPendingIfClear(ctx, w, variant, now, leaseUntil)
}

// RecordOutcome commits the selected segment and returns the wallet's
// lifetime spin count.
func (t *Tracker) RecordOutcome(ctx context.Context, wallet string, segmentIndex int, spinID string) (int, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return 0, err
	}
	return t.backend.RecordOutcome(ctx, w, segmentIndex, spinID, t.now())
}

// ClearPending is idempotent and returns the record as it stood before.
func (t *Tracker) ClearPending(ctx context.Context, wallet string) (models.PendingSpinRecord, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return models.PendingSpinRecord{}, err
	}
	return t.backend.ClearPending(ctx, w, t.now())
}

// ClearExpired clears the wallet only if its lease has run out. The
// returned record keeps the committed segment and spin id.
func (t *Tracker) ClearExpired(ctx context.Context, wallet string) (models.PendingSpinRecord, bool, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return models.PendingSpinRecord{}, false, err
	}
	return t.backend.ClearExpiredPending(ctx, w, t.now())
}

// Get reports the wallet's record as stored.
func (t *Tracker) Get(ctx context.Context, wallet string) (models.PendingSpinRecord, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return models.PendingSpinRecord{}, err
	}
	return t.backend.GetPending(ctx, w)
}

// LeaseExpired reports whether rec is pending under a lease that has run out.
func (t *Tracker) LeaseExpired(rec models.PendingSpinRecord) bool {
	return rec.HasPendingSpin && !rec.LeaseExpiresAt.IsZero() && !rec.LeaseExpiresAt.After(t.now())
}

func (t *Tracker) ClaimReward(ctx context.Context, wallet string) (models.PendingSpinRecord, bool, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return models.PendingSpinRecord{}, false, err
	}
	return t.backend.ClaimReward(ctx, w, t.now())
}

// ReleaseReward hands a failed claim back. It only applies while spinID is
// still the wallet's current outcome.
func (t *Tracker) ReleaseReward(ctx context.Context, wallet, spinID string) error {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return err
	}
	return t.backend.ReleaseReward(ctx, w, spinID, t.now())
}

func (t *Tracker) ExpiredLeases(ctx context.Context, limit int) ([]string, error) {
	return t.backend.ExpiredLeases(ctx, t.now(), limit)
}
