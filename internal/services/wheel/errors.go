package wheel

import (
	"errors"
	"fmt"

	"lucky-wheel/internal/quota"
)

var (
	ErrPaymentRequired   = errors.New("payment required")
	ErrAlreadyPending    = errors.New("wallet already has a pending spin")
	ErrQuotaExceeded     = errors.New("daily spin quota exceeded")
	ErrNoClaimableReward = errors.New("no claimable reward for wallet")
	ErrRewardMismatch    = errors.New("requested reward does not match the committed spin")
)

// QuotaExceededError carries the snapshot the caller was rejected against.
type QuotaExceededError struct {
	Snapshot quota.Snapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily spin quota exceeded: %d/%d used on %s", e.Snapshot.Used, e.Snapshot.Limit, e.Snapshot.Day)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// StoreError marks a failure of a shared store. Callers may retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsTransient reports whether err came from a store rather than the request.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
