package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lucky-wheel/internal/metrics"
	"lucky-wheel/internal/models"
	"lucky-wheel/internal/util/redeemcode"
)

var ErrUnknownReward = errors.New("unknown reward type")

// Backend is where granted rewards land. database.Store and HTTPBackend
// implement it. Every method is all-or-nothing: a failed call leaves no
// partial grant behind, so a released claim can be retried.
type Backend interface {
	AddTickets(ctx context.Context, wallet string, kind models.TicketKind, amount int, now time.Time) (models.TicketBalance, error)
	InsertCard(ctx context.Context, wallet string, card models.CardGrant, now time.Time) error
	GrantPass(ctx context.Context, wallet string, kind models.PassKind, duration time.Duration, bonusLegendary int, now time.Time) (models.PassState, models.TicketBalance, error)
	RedeemDeal(ctx context.Context, d models.DealRedemption, regular, legendary int) (models.TicketBalance, error)
}

// Result is the outcome of one delivery. Err is kept for logs only.
type Result struct {
	Success bool   `json:"success"`
	Detail  any    `json:"grantedDetail,omitempty"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

type PassGrant struct {
	Pass    models.PassState      `json:"pass"`
	Tickets *models.TicketBalance `json:"tickets,omitempty"`
}

type dealBundle struct {
	card      models.CardRarity
	regular   int
	legendary int
}

var dealBundles = map[models.DealKind]dealBundle{
	models.DealDaily:   {card: models.RarityRare, regular: 5},
	models.DealSpecial: {card: models.RarityEpic, regular: 10, legendary: 1},
}

type Dispatcher struct {
	backend Backend
	cards   *CardIssuer
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(backend Backend, cards *CardIssuer, logger *slog.Logger) *Dispatcher {
	if cards == nil {
		cards = NewCardIssuer(nil)
	}
	return &Dispatcher{backend: backend, cards: cards, logger: logger, now: time.Now}
}

// Apply delivers one reward. It never panics on a bad descriptor and never
// returns an error: the caller reports the result and moves on.
func (d *Dispatcher) Apply(ctx context.Context, wallet string, reward models.RewardDescriptor) Result {
	var (
		detail any
		err    error
	)
	switch reward.Type {
	case models.RewardTickets:
		detail, err = d.applyTickets(ctx, wallet, reward.Tickets)
	case models.RewardCard:
		detail, err = d.applyCard(ctx, wallet, reward.Card)
	case models.RewardPass:
		detail, err = d.applyPass(ctx, wallet, reward.Pass)
	case models.RewardDeal:
		detail, err = d.applyDeal(ctx, wallet, reward.Deal)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownReward, reward.Type)
	}

	if err != nil {
		metrics.FulfillmentTotal.WithLabelValues(string(reward.Type), "failed").Inc()
		d.logger.Warn("reward fulfillment failed", "wallet", wallet, "type", reward.Type, "error", err)
		return Result{
			Success: false,
			Message: fmt.Sprintf("%s reward could not be delivered", reward.Type),
			Err:     err,
		}
	}
	metrics.FulfillmentTotal.WithLabelValues(string(reward.Type), "succeeded").Inc()
	d.logger.Info("reward fulfilled", "wallet", wallet, "type", reward.Type)
	return Result{Success: true, Detail: detail}
}

func (d *Dispatcher) applyTickets(ctx context.Context, wallet string, r *models.TicketsReward) (any, error) {
	if r == nil || r.Amount <= 0 {
		return nil, errors.New("tickets reward without a positive amount")
	}
	bal, err := d.backend.AddTickets(ctx, wallet, r.Kind, r.Amount, d.now())
	if err != nil {
		return nil, fmt.Errorf("credit %d %s tickets: %w", r.Amount, r.Kind, err)
	}
	return bal, nil
}

func (d *Dispatcher) applyCard(ctx context.Context, wallet string, r *models.CardReward) (any, error) {
	if r == nil {
		return nil, errors.New("card reward without rarity")
	}
	card, err := d.cards.Issue(r.Rarity)
	if err != nil {
		return nil, err
	}
	if err := d.backend.InsertCard(ctx, wallet, card, d.now()); err != nil {
		return nil, fmt.Errorf("insert %s card: %w", r.Rarity, err)
	}
	return card, nil
}

func (d *Dispatcher) applyPass(ctx context.Context, wallet string, r *models.PassReward) (any, error) {
	if r == nil || r.DurationDays <= 0 {
		return nil, errors.New("pass reward without a positive duration")
	}
	state, bal, err := d.backend.GrantPass(ctx, wallet, r.Kind, time.Duration(r.DurationDays)*24*time.Hour, r.BonusLegendaryTickets, d.now())
	if err != nil {
		return nil, fmt.Errorf("grant %s pass: %w", r.Kind, err)
	}
	grant := PassGrant{Pass: state}
	if r.BonusLegendaryTickets > 0 {
		grant.Tickets = &bal
	}
	return grant, nil
}

func (d *Dispatcher) applyDeal(ctx context.Context, wallet string, r *models.DealReward) (any, error) {
	if r == nil {
		return nil, errors.New("deal reward without kind")
	}
	bundle, ok := dealBundles[r.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown deal %q", r.Kind)
	}
	code, err := redeemcode.Generate(string(r.Kind))
	if err != nil {
		return nil, err
	}
	card, err := d.cards.Issue(bundle.card)
	if err != nil {
		return nil, err
	}

	redemption := models.DealRedemption{
		Wallet:    wallet,
		Kind:      r.Kind,
		Code:      code,
		Card:      card,
		CreatedAt: d.now(),
	}
	if redemption.Tickets, err = d.backend.RedeemDeal(ctx, redemption, bundle.regular, bundle.legendary); err != nil {
		return nil, fmt.Errorf("redeem %s deal: %w", r.Kind, err)
	}
	return redemption, nil
}
