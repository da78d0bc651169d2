package wheel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lucky-wheel/internal/catalog"
	"lucky-wheel/internal/database"
	"lucky-wheel/internal/events"
	"lucky-wheel/internal/models"
	"lucky-wheel/internal/pending"
	"lucky-wheel/internal/quota"
	"lucky-wheel/internal/selector"
	"lucky-wheel/internal/services/fulfillment"
	"lucky-wheel/internal/services/payment"
)

const (
	proofSecret = "gateway-test-secret"
	// Draws into the default premium wheel.
	drawTickets = 0.0 // 10 Regular Tickets
	drawEpic    = 0.5 // Epic Card
	drawPass    = 0.7 // Premium Pass (7 days), 2 bonus legendary tickets
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticCatalog struct{ c *catalog.Catalog }

func (s staticCatalog) Get(context.Context) (*catalog.Catalog, error) { return s.c, nil }

// rewardStore fails card and pass grants on demand.
type rewardStore struct {
	*database.Store
	failCards  atomic.Bool
	failPasses atomic.Bool
}

func (r *rewardStore) InsertCard(ctx context.Context, wallet string, card models.CardGrant, now time.Time) error {
	if r.failCards.Load() {
		return errors.New("card service unavailable")
	}
	return r.Store.InsertCard(ctx, wallet, card, now)
}

func (r *rewardStore) GrantPass(ctx context.Context, wallet string, kind models.PassKind, d time.Duration, bonus int, now time.Time) (models.PassState, models.TicketBalance, error) {
	if r.failPasses.Load() {
		return models.PassState{}, models.TicketBalance{}, errors.New("pass service unavailable")
	}
	return r.Store.GrantPass(ctx, wallet, kind, d, bonus, now)
}

// outcomeBackend fails RecordOutcome on demand.
type outcomeBackend struct {
	pending.Backend
	fail atomic.Bool
}

func (b *outcomeBackend) RecordOutcome(ctx context.Context, wallet string, segmentIndex int, spinID string, now time.Time) (int, error) {
	if b.fail.Load() {
		return 0, errors.New("pending store timeout")
	}
	return b.Backend.RecordOutcome(ctx, wallet, segmentIndex, spinID, now)
}

type failingLedger struct{}

func (failingLedger) Peek(context.Context) (quota.Snapshot, error) {
	return quota.Snapshot{}, errors.New("quota store down")
}

func (failingLedger) TryConsume(context.Context) (bool, quota.Snapshot, error) {
	return false, quota.Snapshot{}, errors.New("quota store down")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *database.Store
	rewards *rewardStore
	ledger  *quota.DailyLedger
	tracker *pending.Tracker
	issuer  *payment.Issuer
	clock   *clock
	events  *recordingPublisher
	draw    atomic.Value
	draws   atomic.Int32
}

type fixtureOption func(*Deps)

func withLedger(l quota.Ledger) fixtureOption {
	return func(d *Deps) { d.Ledger = l }
}

func newFixture(t *testing.T, limit int, leaseTTL time.Duration, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := database.New(ctx, "sqlite:file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:   store,
		rewards: &rewardStore{Store: store},
		clock:   &clock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)},
		issuer:  payment.NewIssuer(proofSecret, ""),
		events:  &recordingPublisher{},
	}
	f.draw.Store(drawTickets)
	f.ledger = quota.NewDailyLedger(store, store, limit, time.UTC).WithClock(f.clock.Now)
	f.tracker = pending.NewTracker(store, leaseTTL).WithClock(f.clock.Now)

	deps := Deps{
		Catalogs: staticCatalog{c: catalog.Default()},
		Ledger:   f.ledger,
		Tracker:  f.tracker,
		Selector: selector.New(func() (float64, error) {
			f.draws.Add(1)
			return f.draw.Load().(float64), nil
		}),
		Payments:   payment.NewVerifier(proofSecret, "", store),
		Spins:      store,
		Dispatcher: fulfillment.NewDispatcher(f.rewards, nil, logger),
		Events:     f.events,
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = NewService(deps).WithClock(f.clock.Now)
	return f
}

func (f *fixture) request(t *testing.T, wallet string, variant models.VariantID) SpinRequest {
	t.Helper()
	v, err := catalog.Default().Variant(variant)
	require.NoError(t, err)
	proof, err := f.issuer.Issue(payment.Confirmation{
		Wallet:  wallet,
		Variant: variant,
		Amount:  v.Price,
		TxID:    uuid.NewString(),
	}, time.Hour)
	require.NoError(t, err)
	return SpinRequest{Wallet: wallet, Variant: variant, PricePaid: v.Price, Proof: proof}
}

func (f *fixture) spin(t *testing.T, wallet string) (*SpinResult, error) {
	t.Helper()
	return f.svc.Spin(context.Background(), f.request(t, wallet, models.VariantPremium))
}

func TestSpinCommitsOutcome(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	res, err := f.spin(t, "0xAlice")
	require.NoError(t, err)

	assert.NotEmpty(t, res.SpinID)
	assert.Equal(t, 0, res.SegmentIndex)
	assert.Equal(t, "10 Regular Tickets", res.Label)
	assert.Equal(t, models.Tickets(models.TicketRegular, 10), res.Reward)
	assert.Equal(t, 1, res.GlobalSpinsUsed)
	assert.Equal(t, 4, res.GlobalSpinsRemaining)
	assert.Equal(t, 5, res.GlobalDailyLimit)
	assert.Equal(t, 1, res.UserSpinsCount)

	spin, err := f.store.GetSpin(ctx, res.SpinID)
	require.NoError(t, err)
	assert.Equal(t, "0xalice", spin.Wallet)
	assert.Equal(t, models.FulfillmentPending, spin.Fulfillment)
	assert.True(t, spin.Price.Equal(decimal.RequireFromString("1.50")))

	limit, err := f.svc.Limit(ctx, "0xalice", "")
	require.NoError(t, err)
	assert.True(t, limit.HasPendingSpin)
	assert.False(t, limit.CanSpin)

	assert.Contains(t, f.events.types(), events.TypeSpinCommitted)
}

func TestSpinRejectsBadPayment(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	cases := map[string]func(r *SpinRequest){
		"missing proof": func(r *SpinRequest) { r.Proof = "" },
		"garbage proof": func(r *SpinRequest) { r.Proof = "not-a-token" },
		"other wallet":  func(r *SpinRequest) { r.Wallet = "0xmallory" },
		"underpaid":     func(r *SpinRequest) { r.PricePaid = decimal.RequireFromString("0.10") },
		"wrong variant": func(r *SpinRequest) { r.Variant = models.VariantStandard },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := f.request(t, "0xalice", models.VariantPremium)
			mutate(&req)
			_, err := f.svc.Spin(ctx, req)
			assert.ErrorIs(t, err, ErrPaymentRequired)
			assert.False(t, IsTransient(err))
		})
	}

	snap, err := f.ledger.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Used)
	rec, err := f.tracker.Get(ctx, "0xalice")
	require.NoError(t, err)
	assert.False(t, rec.HasPendingSpin)
	assert.Equal(t, int32(0), f.draws.Load())
}

func TestSpinRejectsReplayedPayment(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	req := f.request(t, "0xalice", models.VariantPremium)
	_, err := f.svc.Spin(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, "0xalice", nil)
	require.NoError(t, err)

	_, err = f.svc.Spin(ctx, req)
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.ErrorIs(t, err, payment.ErrAlreadyRedeemed)
}

func TestAlreadyPendingLeavesQuotaAndSelectorUntouched(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	_, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	before, err := f.ledger.Peek(ctx)
	require.NoError(t, err)
	draws := f.draws.Load()

	_, err = f.spin(t, "0xALICE")
	assert.ErrorIs(t, err, ErrAlreadyPending)

	after, err := f.ledger.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Used, after.Used)
	assert.Equal(t, draws, f.draws.Load())
}

func TestQuotaExceededDoesNotLeakPending(t *testing.T) {
	f := newFixture(t, 0, 0)
	ctx := context.Background()

	_, err := f.spin(t, "0xalice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 0, qe.Snapshot.Limit)
	assert.Equal(t, 0, qe.Snapshot.Remaining)

	limit, err := f.svc.Limit(ctx, "0xalice", models.VariantPremium)
	require.NoError(t, err)
	assert.False(t, limit.HasPendingSpin)
	assert.False(t, limit.CanSpin)
	assert.Equal(t, 0, limit.UserSpinsCount)

	// The standard wheel is not capped and the slot is free again.
	res, err := f.svc.Spin(ctx, f.request(t, "0xalice", models.VariantStandard))
	require.NoError(t, err)
	assert.Equal(t, -1, res.GlobalSpinsRemaining)
}

func TestQuotaRejectionKeepsLastOutcome(t *testing.T) {
	f := newFixture(t, 1, 0)
	ctx := context.Background()
	f.draw.Store(drawEpic)

	_, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, "0xalice", nil)
	require.NoError(t, err)
	require.Equal(t, 2, done.SegmentIndex)

	_, err = f.spin(t, "0xalice")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	again, err := f.svc.Complete(ctx, "0xalice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, again.SegmentIndex)
	assert.Equal(t, 1, again.UserSpinsCount)
}

func TestGlobalBudgetAcrossWallets(t *testing.T) {
	// A and B spin, C is refused; A completing does not refund the budget.
	f := newFixture(t, 2, 0)
	ctx := context.Background()

	a, err := f.spin(t, "0xa")
	require.NoError(t, err)
	assert.Equal(t, 1, a.GlobalSpinsUsed)
	b, err := f.spin(t, "0xb")
	require.NoError(t, err)
	assert.Equal(t, 0, b.GlobalSpinsRemaining)

	_, err = f.spin(t, "0xc")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = f.svc.Complete(ctx, "0xa", nil)
	require.NoError(t, err)
	_, err = f.spin(t, "0xa")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Next day starts fresh.
	f.clock.Advance(24 * time.Hour)
	c, err := f.spin(t, "0xc")
	require.NoError(t, err)
	assert.Equal(t, 1, c.GlobalSpinsUsed)
}

func TestConcurrentSpinsNeverExceedLimit(t *testing.T) {
	const wallets, limit = 30, 7
	f := newFixture(t, limit, 0)

	var wg sync.WaitGroup
	var committed, exceeded atomic.Int32
	for i := 0; i < wallets; i++ {
		req := f.request(t, fmt.Sprintf("0xwallet%02d", i), models.VariantPremium)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Spin(context.Background(), req)
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, ErrQuotaExceeded):
				exceeded.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), committed.Load())
	assert.Equal(t, int32(wallets-limit), exceeded.Load())
	snap, err := f.ledger.Peek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, limit, snap.Used)
}

func TestConcurrentSpinsSameWallet(t *testing.T) {
	f := newFixture(t, 50, 0)

	var wg sync.WaitGroup
	var committed, pendingErrs atomic.Int32
	for i := 0; i < 10; i++ {
		req := f.request(t, "0xalice", models.VariantPremium)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Spin(context.Background(), req)
			if err == nil {
				committed.Add(1)
			} else if errors.Is(err, ErrAlreadyPending) {
				pendingErrs.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(9), pendingErrs.Load())
	snap, err := f.ledger.Peek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Used)
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	f.draw.Store(drawEpic)
	res, err := f.spin(t, "0xalice")
	require.NoError(t, err)

	first, err := f.svc.Complete(ctx, "0xalice", nil)
	require.NoError(t, err)
	second, err := f.svc.Complete(ctx, "0xAlice", nil)
	require.NoError(t, err)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.False(t, second.HasPendingSpin)
	assert.Equal(t, res.SegmentIndex, first.SegmentIndex)
	assert.Equal(t, first.SegmentIndex, second.SegmentIndex)
	assert.Equal(t, 1, second.UserSpinsCount)

	spin, err := f.store.GetSpin(ctx, res.SpinID)
	require.NoError(t, err)
	require.NotNil(t, spin.ResolvedAt)
}

func TestCompleteUnknownWallet(t *testing.T) {
	f := newFixture(t, 5, 0)

	res, err := f.svc.Complete(context.Background(), "0xnobody", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, -1, res.SegmentIndex)

	_, err = f.svc.Complete(context.Background(), " ", nil)
	assert.ErrorIs(t, err, pending.ErrInvalidWallet)
}

func TestTicketsFulfilledThenComplete(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	_, err := f.store.AddTickets(ctx, "0xalice", models.TicketRegular, 5, f.clock.Now())
	require.NoError(t, err)

	res, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	require.Equal(t, models.RewardTickets, res.Reward.Type)

	out, err := f.svc.Fulfill(ctx, "0xalice", models.RewardTickets, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, res.SpinID, out.SpinID)

	balance, err := f.store.TicketBalance(ctx, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance.Regular)

	_, err = f.svc.Fulfill(ctx, "0xalice", models.RewardTickets, nil)
	assert.ErrorIs(t, err, ErrNoClaimableReward)

	done, err := f.svc.Complete(ctx, "0xalice", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, done.SegmentIndex)

	spin, err := f.store.GetSpin(ctx, res.SpinID)
	require.NoError(t, err)
	assert.Equal(t, models.FulfillmentSucceeded, spin.Fulfillment)
	assert.Contains(t, f.events.types(), events.TypeFulfillmentSucceeded)
}

func TestFailedCardGrantStillCompletes(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	f.rewards.failCards.Store(true)
	f.draw.Store(drawEpic)

	res, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	require.Equal(t, models.RewardCard, res.Reward.Type)

	out, err := f.svc.Fulfill(ctx, "0xalice", models.RewardCard, nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Message)

	// The claim was released, so delivery may be retried before completing.
	rec, err := f.tracker.Get(ctx, "0xalice")
	require.NoError(t, err)
	assert.False(t, rec.RewardClaimed)

	fulfilled := false
	_, err = f.svc.Complete(ctx, "0xalice", &CompletionReport{Fulfilled: &fulfilled, Detail: "card grant failed"})
	require.NoError(t, err)

	spin, err := f.store.GetSpin(ctx, res.SpinID)
	require.NoError(t, err)
	assert.Equal(t, models.FulfillmentFailed, spin.Fulfillment)

	f.draw.Store(drawTickets)
	again, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, 2, again.UserSpinsCount)
	assert.Contains(t, f.events.types(), events.TypeFulfillmentFailed)
}

func TestPassRetryAfterFailedGrantDeliversOnce(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	f.draw.Store(drawPass)

	res, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	require.Equal(t, models.Pass(models.PassPremium, 7, 2), res.Reward)

	f.rewards.failPasses.Store(true)
	out, err := f.svc.Fulfill(ctx, "0xalice", models.RewardPass, nil)
	require.NoError(t, err)
	require.False(t, out.Success)

	pass, err := f.store.GetPass(ctx, "0xalice", models.PassPremium)
	require.NoError(t, err)
	assert.True(t, pass.ExpiresAt.IsZero(), "a failed grant leaves nothing behind")

	f.rewards.failPasses.Store(false)
	out, err = f.svc.Fulfill(ctx, "0xalice", models.RewardPass, nil)
	require.NoError(t, err)
	require.True(t, out.Success)

	_, err = f.svc.Fulfill(ctx, "0xalice", models.RewardPass, nil)
	assert.ErrorIs(t, err, ErrNoClaimableReward)

	pass, err = f.store.GetPass(ctx, "0xalice", models.PassPremium)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), pass.ExpiresAt, time.Minute)
	bal, err := f.store.TicketBalance(ctx, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal.Legendary)
}

func TestFulfillRejectsMismatchedReward(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	_, err := f.spin(t, "0xalice")
	require.NoError(t, err)

	_, err = f.svc.Fulfill(ctx, "0xalice", models.RewardCard, nil)
	assert.ErrorIs(t, err, ErrRewardMismatch)

	wrong := models.Tickets(models.TicketRegular, 999)
	_, err = f.svc.Fulfill(ctx, "0xalice", models.RewardTickets, &wrong)
	assert.ErrorIs(t, err, ErrRewardMismatch)

	right := models.Tickets(models.TicketRegular, 10)
	out, err := f.svc.Fulfill(ctx, "0xalice", models.RewardTickets, &right)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestFulfillWithoutSpin(t *testing.T) {
	f := newFixture(t, 5, 0)
	_, err := f.svc.Fulfill(context.Background(), "0xalice", "", nil)
	assert.ErrorIs(t, err, ErrNoClaimableReward)
}

func TestStoreFailureRollsBackPending(t *testing.T) {
	f := newFixture(t, 5, 0, withLedger(failingLedger{}))
	ctx := context.Background()

	_, err := f.spin(t, "0xalice")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "consume quota", se.Op)

	rec, err := f.tracker.Get(ctx, "0xalice")
	require.NoError(t, err)
	assert.False(t, rec.HasPendingSpin)
}

func TestRecordOutcomeFailureDiscardsSpin(t *testing.T) {
	backend := &outcomeBackend{}
	var tracker *pending.Tracker
	f := newFixture(t, 5, 0, func(d *Deps) {
		backend.Backend = d.Spins.(*database.Store)
		tracker = pending.NewTracker(backend, 0)
		d.Tracker = tracker
	})
	ctx := context.Background()
	backend.fail.Store(true)

	req := f.request(t, "0xalice", models.VariantPremium)
	_, err := f.svc.Spin(ctx, req)
	require.Error(t, err)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "record outcome", se.Op)

	rec, err := tracker.Get(ctx, "0xalice")
	require.NoError(t, err)
	assert.False(t, rec.HasPendingSpin)
	assert.Equal(t, 0, rec.SpinCount)

	records, total, err := f.store.ListSpinRecords(ctx, "0xalice", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)

	// The payment was never redeemed, so the same proof still buys a spin.
	backend.fail.Store(false)
	res, err := f.svc.Spin(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UserSpinsCount)
}

func TestUnknownVariant(t *testing.T) {
	f := newFixture(t, 5, 0)
	req := f.request(t, "0xalice", models.VariantPremium)
	req.Variant = "golden"
	_, err := f.svc.Spin(context.Background(), req)
	assert.ErrorIs(t, err, catalog.ErrUnknownVariant)
}

func TestExpireLeasesDeliversAbandonedReward(t *testing.T) {
	f := newFixture(t, 5, 10*time.Minute)
	ctx := context.Background()

	res, err := f.spin(t, "0xalice")
	require.NoError(t, err)

	n, err := f.svc.ExpireLeases(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(11 * time.Minute)
	n, err = f.svc.ExpireLeases(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	balance, err := f.store.TicketBalance(ctx, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Regular)

	spin, err := f.store.GetSpin(ctx, res.SpinID)
	require.NoError(t, err)
	assert.Equal(t, models.FulfillmentSucceeded, spin.Fulfillment)
	assert.NotNil(t, spin.ResolvedAt)

	limit, err := f.svc.Limit(ctx, "0xalice", "")
	require.NoError(t, err)
	assert.False(t, limit.HasPendingSpin)
	assert.Contains(t, f.events.types(), events.TypeLeaseExpired)

	// Completing late is still fine and reports the same segment.
	done, err := f.svc.Complete(ctx, "0xalice", nil)
	require.NoError(t, err)
	assert.Equal(t, res.SegmentIndex, done.SegmentIndex)
}

func TestSpinTakesOverExpiredLease(t *testing.T) {
	f := newFixture(t, 5, 10*time.Minute)
	ctx := context.Background()

	_, err := f.spin(t, "0xalice")
	require.NoError(t, err)

	_, err = f.spin(t, "0xalice")
	assert.ErrorIs(t, err, ErrAlreadyPending)

	f.clock.Advance(time.Hour)
	limit, err := f.svc.Limit(ctx, "0xalice", "")
	require.NoError(t, err)
	assert.True(t, limit.CanSpin)

	res, err := f.spin(t, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, 2, res.UserSpinsCount)

	// The abandoned reward was delivered before the slot was reused.
	balance, err := f.store.TicketBalance(ctx, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Regular)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateRequested, StatePendingPaymentCheck))
	assert.True(t, CanTransition(StatePendingQuotaCheck, StateRejected))
	assert.True(t, CanTransition(StateCommitted, StateResolved))
	assert.True(t, CanTransition(StateFulfillmentFailed, StateResolved))
	assert.False(t, CanTransition(StateRequested, StateCommitted))
	assert.False(t, CanTransition(StateResolved, StateCommitted))
	assert.False(t, CanTransition(StateRejected, StatePendingQuotaCheck))
}
