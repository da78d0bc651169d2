package wheel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lucky-wheel/internal/catalog"
	"lucky-wheel/internal/database"
	"lucky-wheel/internal/events"
	"lucky-wheel/internal/metrics"
	"lucky-wheel/internal/models"
	"lucky-wheel/internal/pending"
	"lucky-wheel/internal/quota"
	"lucky-wheel/internal/selector"
	"lucky-wheel/internal/services/fulfillment"
	"lucky-wheel/internal/services/payment"
)

type CatalogSource interface {
	Get(ctx context.Context) (*catalog.Catalog, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, proof, wallet string, variant models.WheelVariant, pricePaid decimal.Decimal) (*payment.Confirmation, error)
}

type SpinStore interface {
	InsertSpin(ctx context.Context, rec models.SpinRecord) error
	DeleteSpin(ctx context.Context, spinID string) error
	GetSpin(ctx context.Context, spinID string) (models.SpinRecord, error)
	SetSpinFulfillment(ctx context.Context, spinID string, status models.FulfillmentStatus) error
	ResolveSpin(ctx context.Context, spinID string, status models.FulfillmentStatus, now time.Time) error
}

type Fulfiller interface {
	Apply(ctx context.Context, wallet string, reward models.RewardDescriptor) fulfillment.Result
}

type Deps struct {
	Catalogs   CatalogSource
	Ledger     quota.Ledger
	Tracker    *pending.Tracker
	Selector   *selector.Selector
	Payments   PaymentVerifier
	Spins      SpinStore
	Dispatcher Fulfiller
	Events     events.Publisher
	Logger     *slog.Logger
}

type Service struct {
	catalogs   CatalogSource
	ledger     quota.Ledger
	tracker    *pending.Tracker
	selector   *selector.Selector
	payments   PaymentVerifier
	spins      SpinStore
	dispatcher Fulfiller
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Selector == nil {
		d.Selector = selector.New(selector.CryptoFloat)
	}
	return &Service{
		catalogs:   d.Catalogs,
		ledger:     d.Ledger,
		tracker:    d.Tracker,
		selector:   d.Selector,
		payments:   d.Payments,
		spins:      d.Spins,
		dispatcher: d.Dispatcher,
		events:     d.Events,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source for records and events.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type SpinRequest struct {
	Wallet    string
	Variant   models.VariantID
	PricePaid decimal.Decimal
	Proof     string
}

type SpinResult struct {
	SpinID               string                  `json:"spinId"`
	SegmentIndex         int                     `json:"segmentIndex"`
	Label                string                  `json:"label"`
	Reward               models.RewardDescriptor `json:"reward"`
	GlobalSpinsUsed      int                     `json:"globalSpinsUsed"`
	GlobalSpinsRemaining int                     `json:"globalSpinsRemaining"`
	GlobalDailyLimit     int                     `json:"globalDailyLimit"`
	UserSpinsCount       int                     `json:"userSpinsCount"`
}

type LimitResult struct {
	CanSpin              bool `json:"canSpin"`
	GlobalSpinsUsed      int  `json:"globalSpinsUsed"`
	GlobalSpinsRemaining int  `json:"globalSpinsRemaining"`
	GlobalDailyLimit     int  `json:"globalDailyLimit"`
	UserSpinsCount       int  `json:"userSpinsCount"`
	HasPendingSpin       bool `json:"hasPendingSpin"`
}

// CompletionReport is the client's optional account of delivery. A nil
// Fulfilled leaves the stored fulfillment status alone.
type CompletionReport struct {
	Fulfilled *bool
	Detail    string
}

type CompleteResult struct {
	Success        bool `json:"success"`
	UserSpinsCount int  `json:"userSpinsCount"`
	HasPendingSpin bool `json:"hasPendingSpin"`
	SegmentIndex   int  `json:"segmentIndex"`
}

type FulfillResult struct {
	fulfillment.Result
	SpinID string                  `json:"spinId"`
	Reward models.RewardDescriptor `json:"reward"`
}

func (s *Service) ledgerFor(v models.WheelVariant) quota.Ledger {
	if v.Quota {
		return s.ledger
	}
	return quota.Unlimited
}

// Catalog returns the active catalog.
func (s *Service) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	cat, err := s.catalogs.Get(ctx)
	if err != nil {
		return nil, storeErr("load catalog", err)
	}
	return cat, nil
}

// Limit reports whether the wallet could spin the variant right now. It
// changes nothing.
func (s *Service) Limit(ctx context.Context, wallet string, variantID models.VariantID) (*LimitResult, error) {
	w, err := pending.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	if variantID == "" {
		variantID = models.VariantPremium
	}
	cat, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	variant, err := cat.Variant(variantID)
	if err != nil {
		return nil, err
	}
	snap, err := s.ledgerFor(variant).Peek(ctx)
	if err != nil {
		return nil, storeErr("peek quota", err)
	}
	rec, err := s.tracker.Get(ctx, w)
	if err != nil {
		return nil, storeErr("get pending", err)
	}
	free := !rec.HasPendingSpin || s.tracker.LeaseExpired(rec)
	return &LimitResult{
		CanSpin:              free && (snap.Unlimited || snap.Remaining > 0),
		GlobalSpinsUsed:      snap.Used,
		GlobalSpinsRemaining: snap.Remaining,
		GlobalDailyLimit:     snap.Limit,
		UserSpinsCount:       rec.SpinCount,
		HasPendingSpin:       rec.HasPendingSpin,
	}, nil
}

// Spin runs one paid spin from request to committed outcome. Checks run in
// a fixed order: payment, pending, quota. A rejection after the pending
// flag is set clears it again.
func (s *Service) Spin(ctx context.Context, req SpinRequest) (*SpinResult, error) {
	wallet, err := pending.NormalizeWallet(req.Wallet)
	if err != nil {
		return nil, err
	}
	cat, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	variant, err := cat.Variant(req.Variant)
	if err != nil {
		return nil, err
	}

	f := newFlow(uuid.NewString(), wallet, variant.ID, StateRequested, s.logger)
	f.to(StatePendingPaymentCheck)

	conf, err := s.payments.Verify(ctx, req.Proof, wallet, variant, req.PricePaid)
	if err != nil {
		if payment.IsProofError(err) {
			return nil, s.reject(f, "payment_required", fmt.Errorf("%w: %w", ErrPaymentRequired, err))
		}
		return nil, s.reject(f, "store_error", storeErr("check payment", err))
	}

	ok, err := s.acquire(ctx, wallet, variant.ID)
	if err != nil {
		return nil, s.reject(f, "store_error", storeErr("set pending", err))
	}
	if !ok {
		return nil, s.reject(f, "already_pending", ErrAlreadyPending)
	}

	f.to(StatePendingQuotaCheck)
	granted, snap, err := s.ledgerFor(variant).TryConsume(ctx)
	if err != nil {
		s.rollback(ctx, wallet)
		return nil, s.reject(f, "store_error", storeErr("consume quota", err))
	}
	if !granted {
		s.rollback(ctx, wallet)
		return nil, s.reject(f, "quota_exceeded", &QuotaExceededError{Snapshot: snap})
	}

	idx, err := s.selector.Select(cat, variant.ID)
	if err != nil {
		s.rollback(ctx, wallet)
		return nil, s.reject(f, "store_error", storeErr("select segment", err))
	}
	segment := variant.Segments[idx]

	rec := models.SpinRecord{
		SpinID:       f.spinID,
		Wallet:       wallet,
		Variant:      variant.ID,
		SegmentIndex: idx,
		Label:        segment.Label,
		Reward:       segment.Reward,
		Price:        conf.Amount,
		PaymentTx:    conf.TxID,
		Fulfillment:  models.FulfillmentPending,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.spins.InsertSpin(ctx, rec); err != nil {
		s.rollback(ctx, wallet)
		if errors.Is(err, database.ErrPaymentRedeemed) {
			return nil, s.reject(f, "payment_required", fmt.Errorf("%w: %w", ErrPaymentRequired, payment.ErrAlreadyRedeemed))
		}
		return nil, s.reject(f, "store_error", storeErr("insert spin", err))
	}

	// The outcome and spin count only move once the spin record exists.
	count, err := s.tracker.RecordOutcome(ctx, wallet, idx, f.spinID)
	if err != nil {
		if derr := s.spins.DeleteSpin(context.WithoutCancel(ctx), f.spinID); derr != nil {
			s.logger.Error("failed to discard uncommitted spin", "spinId", f.spinID, "wallet", wallet, "error", derr)
		}
		s.rollback(ctx, wallet)
		return nil, s.reject(f, "store_error", storeErr("record outcome", err))
	}

	f.to(StateCommitted)
	metrics.SpinsTotal.WithLabelValues(string(variant.ID), "committed").Inc()
	if !snap.Unlimited {
		metrics.QuotaUsed.Set(float64(snap.Used))
	}
	s.logger.Info("spin committed", "spinId", f.spinID, "wallet", wallet, "variant", variant.ID, "segment", idx, "label", segment.Label, "paymentTx", conf.TxID)
	s.publish(ctx, events.TypeSpinCommitted, wallet, f.spinID, rec)

	return &SpinResult{
		SpinID:               f.spinID,
		SegmentIndex:         idx,
		Label:                segment.Label,
		Reward:               segment.Reward,
		GlobalSpinsUsed:      snap.Used,
		GlobalSpinsRemaining: snap.Remaining,
		GlobalDailyLimit:     snap.Limit,
		UserSpinsCount:       count,
	}, nil
}

// acquire sets the pending flag. A wallet held by an expired lease whose
// reward was never delivered gets that reward first, then one retry.
func (s *Service) acquire(ctx context.Context, wallet string, variant models.VariantID) (bool, error) {
	ok, err := s.tracker.TrySetPending(ctx, wallet, variant)
	if err != nil || ok {
		return ok, err
	}
	rec, err := s.tracker.Get(ctx, wallet)
	if err != nil {
		return false, err
	}
	if !s.tracker.LeaseExpired(rec) {
		return false, nil
	}
	if _, err := s.expire(ctx, wallet); err != nil {
		return false, err
	}
	return s.tracker.TrySetPending(ctx, wallet, variant)
}

func (s *Service) reject(f *flow, result string, err error) error {
	f.to(StateRejected)
	metrics.SpinsTotal.WithLabelValues(string(f.variant), result).Inc()
	if result == "store_error" {
		s.logger.Error("spin failed", "spinId", f.spinID, "wallet", f.wallet, "variant", f.variant, "error", err)
	} else {
		s.logger.Info("spin rejected", "spinId", f.spinID, "wallet", f.wallet, "variant", f.variant, "reason", result, "error", err)
	}
	return err
}

func (s *Service) rollback(ctx context.Context, wallet string) {
	if _, err := s.tracker.ClearPending(context.WithoutCancel(ctx), wallet); err != nil {
		s.logger.Error("failed to roll back pending spin", "wallet", wallet, "error", err)
	}
}

// Complete clears the wallet's pending flag. It is safe to call any number
// of times and never fails for a valid wallet unless the store is down.
func (s *Service) Complete(ctx context.Context, wallet string, report *CompletionReport) (*CompleteResult, error) {
	w, err := pending.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	prev, err := s.tracker.ClearPending(ctx, w)
	if err != nil {
		return nil, storeErr("clear pending", err)
	}
	if prev.HasPendingSpin && prev.Committed {
		var status models.FulfillmentStatus
		if report != nil && report.Fulfilled != nil {
			status = models.FulfillmentFailed
			if *report.Fulfilled {
				status = models.FulfillmentSucceeded
			}
			s.logger.Info("client fulfillment report", "spinId", prev.SpinID, "wallet", w, "fulfilled", *report.Fulfilled, "detail", report.Detail)
		}
		s.resolve(ctx, prev, status)
	}
	return &CompleteResult{
		Success:        true,
		UserSpinsCount: prev.SpinCount,
		HasPendingSpin: false,
		SegmentIndex:   prev.SegmentIndex,
	}, nil
}

func (s *Service) resolve(ctx context.Context, prev models.PendingSpinRecord, status models.FulfillmentStatus) {
	ctx = context.WithoutCancel(ctx)
	from := StateCommitted
	if spin, err := s.spins.GetSpin(ctx, prev.SpinID); err == nil {
		from = stateOf(spin.Fulfillment)
	}
	f := newFlow(prev.SpinID, prev.Wallet, prev.Variant, from, s.logger)
	if from == StateCommitted && status != "" {
		f.to(stateOf(status))
	}
	f.to(StateResolved)

	if err := s.spins.ResolveSpin(ctx, prev.SpinID, status, s.now().UTC()); err != nil {
		s.logger.Error("failed to resolve spin", "spinId", prev.SpinID, "wallet", prev.Wallet, "error", err)
		return
	}
	s.publish(ctx, events.TypeSpinResolved, prev.Wallet, prev.SpinID, map[string]any{
		"segmentIndex": prev.SegmentIndex,
		"path":         f.path,
	})
}

// Fulfill delivers the wallet's committed reward at most once. kind and
// expect are optional checks against what the spin committed to.
func (s *Service) Fulfill(ctx context.Context, wallet string, kind models.RewardType, expect *models.RewardDescriptor) (*FulfillResult, error) {
	w, err := pending.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	claimed, ok, err := s.tracker.ClaimReward(ctx, w)
	if err != nil {
		return nil, storeErr("claim reward", err)
	}
	if !ok {
		return nil, ErrNoClaimableReward
	}
	spin, err := s.spins.GetSpin(ctx, claimed.SpinID)
	if err != nil {
		s.release(ctx, w, claimed.SpinID)
		return nil, storeErr("get spin", err)
	}
	if (kind != "" && spin.Reward.Type != kind) || (expect != nil && !expect.Equal(spin.Reward)) {
		s.release(ctx, w, claimed.SpinID)
		return nil, fmt.Errorf("%w: committed %s", ErrRewardMismatch, spin.Reward.Type)
	}

	res := s.deliver(ctx, w, spin)
	if !res.Success {
		s.release(ctx, w, claimed.SpinID)
	}
	return &FulfillResult{Result: res, SpinID: spin.SpinID, Reward: spin.Reward}, nil
}

func (s *Service) release(ctx context.Context, wallet, spinID string) {
	if err := s.tracker.ReleaseReward(context.WithoutCancel(ctx), wallet, spinID); err != nil {
		s.logger.Error("failed to release reward claim", "wallet", wallet, "spinId", spinID, "error", err)
	}
}

func (s *Service) deliver(ctx context.Context, wallet string, spin models.SpinRecord) fulfillment.Result {
	res := s.dispatcher.Apply(ctx, wallet, spin.Reward)
	status, typ := models.FulfillmentSucceeded, events.TypeFulfillmentSucceeded
	if !res.Success {
		status, typ = models.FulfillmentFailed, events.TypeFulfillmentFailed
	}
	if err := s.spins.SetSpinFulfillment(context.WithoutCancel(ctx), spin.SpinID, status); err != nil {
		s.logger.Error("failed to record fulfillment", "spinId", spin.SpinID, "status", status, "error", err)
	}
	s.publish(ctx, typ, wallet, spin.SpinID, res)
	return res
}

// ExpireLeases clears up to batch wallets whose lease ran out, delivering
// any reward they committed to but never claimed.
func (s *Service) ExpireLeases(ctx context.Context, batch int) (int, error) {
	wallets, err := s.tracker.ExpiredLeases(ctx, batch)
	if err != nil {
		return 0, storeErr("list expired leases", err)
	}
	expired := 0
	for _, w := range wallets {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		ok, err := s.expire(ctx, w)
		if err != nil {
			s.logger.Error("failed to expire pending spin", "wallet", w, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, wallet string) (bool, error) {
	rec, err := s.tracker.Get(ctx, wallet)
	if err != nil {
		return false, err
	}
	if !rec.HasPendingSpin || !s.tracker.LeaseExpired(rec) {
		return false, nil
	}
	claimed, ok, err := s.tracker.ClaimReward(ctx, wallet)
	if err != nil {
		return false, err
	}
	if ok {
		spin, err := s.spins.GetSpin(ctx, claimed.SpinID)
		if err != nil {
			s.release(ctx, wallet, claimed.SpinID)
			return false, err
		}
		if res := s.deliver(ctx, wallet, spin); !res.Success {
			s.logger.Warn("lease expired with failed delivery", "spinId", spin.SpinID, "wallet", wallet, "error", res.Err)
		}
	}
	prev, cleared, err := s.tracker.ClearExpired(ctx, wallet)
	if err != nil || !cleared {
		return false, err
	}
	var spinID string
	if prev.Committed {
		spinID = prev.SpinID
		s.resolve(ctx, prev, "")
	}
	metrics.LeasesExpired.Inc()
	s.logger.Info("pending lease expired", "wallet", wallet, "spinId", spinID, "delivered", ok)
	s.publish(ctx, events.TypeLeaseExpired, wallet, spinID, map[string]any{"delivered": ok})
	return true, nil
}

func (s *Service) publish(ctx context.Context, typ, wallet, spinID string, payload any) {
	s.events.Publish(ctx, events.Event{
		Type:      typ,
		Wallet:    wallet,
		SpinID:    spinID,
		Payload:   payload,
		Timestamp: s.now().UTC(),
	})
}
