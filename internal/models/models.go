package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type VariantID string

const (
	VariantStandard VariantID = "standard"
	VariantPremium  VariantID = "premium"
)

type RewardType string

const (
	RewardTickets RewardType = "tickets"
	RewardCard    RewardType = "card"
	RewardPass    RewardType = "pass"
	RewardDeal    RewardType = "deal"
)

type TicketKind string

const (
	TicketRegular   TicketKind = "regular"
	TicketLegendary TicketKind = "legendary"
)

type CardRarity string

const (
	RarityCommon    CardRarity = "common"
	RarityRare      CardRarity = "rare"
	RarityEpic      CardRarity = "epic"
	RarityLegendary CardRarity = "legendary"
)

type PassKind string

const (
	PassPremium PassKind = "premium"
	PassXP      PassKind = "xp"
)

type DealKind string

const (
	DealDaily   DealKind = "daily"
	DealSpecial DealKind = "special"
)

type TicketsReward struct {
	Kind   TicketKind `json:"kind" validate:"required,oneof=regular legendary"`
	Amount int        `json:"amount" validate:"gt=0"`
}

type CardReward struct {
	Rarity CardRarity `json:"rarity" validate:"required,oneof=common rare epic legendary"`
}

type PassReward struct {
	Kind                  PassKind `json:"kind" validate:"required,oneof=premium xp"`
	DurationDays          int      `json:"durationDays" validate:"gt=0"`
	BonusLegendaryTickets int      `json:"bonusLegendaryTickets" validate:"gte=0"`
}

type DealReward struct {
	Kind DealKind `json:"kind" validate:"required,oneof=daily special"`
}

// RewardDescriptor is a tagged union: Type selects which of the payload
// pointers is set.
type RewardDescriptor struct {
	Type    RewardType     `json:"type" validate:"required,oneof=tickets card pass deal"`
	Tickets *TicketsReward `json:"tickets,omitempty" validate:"required_if=Type tickets"`
	Card    *CardReward    `json:"card,omitempty" validate:"required_if=Type card"`
	Pass    *PassReward    `json:"pass,omitempty" validate:"required_if=Type pass"`
	Deal    *DealReward    `json:"deal,omitempty" validate:"required_if=Type deal"`
}

func Tickets(kind TicketKind, amount int) RewardDescriptor {
	return RewardDescriptor{Type: RewardTickets, Tickets: &TicketsReward{Kind: kind, Amount: amount}}
}

func Card(rarity CardRarity) RewardDescriptor {
	return RewardDescriptor{Type: RewardCard, Card: &CardReward{Rarity: rarity}}
}

func Pass(kind PassKind, days, bonusLegendary int) RewardDescriptor {
	return RewardDescriptor{Type: RewardPass, Pass: &PassReward{Kind: kind, DurationDays: days, BonusLegendaryTickets: bonusLegendary}}
}

func Deal(kind DealKind) RewardDescriptor {
	return RewardDescriptor{Type: RewardDeal, Deal: &DealReward{Kind: kind}}
}

// Equal compares the active payload only.
func (r RewardDescriptor) Equal(o RewardDescriptor) bool {
	if r.Type != o.Type {
		return false
	}
	switch r.Type {
	case RewardTickets:
		return r.Tickets != nil && o.Tickets != nil && *r.Tickets == *o.Tickets
	case RewardCard:
		return r.Card != nil && o.Card != nil && *r.Card == *o.Card
	case RewardPass:
		return r.Pass != nil && o.Pass != nil && *r.Pass == *o.Pass
	case RewardDeal:
		return r.Deal != nil && o.Deal != nil && *r.Deal == *o.Deal
	default:
		return false
	}
}

type WheelSegment struct {
	Label    string           `json:"label" validate:"required"`
	DropRate float64          `json:"dropRate" validate:"gte=0"`
	Reward   RewardDescriptor `json:"reward"`
}

type WheelVariant struct {
	ID       VariantID       `json:"id" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quota    bool            `json:"quota"`
	Segments []WheelSegment  `json:"segments" validate:"required,min=1,dive"`
}

type DailyQuotaRecord struct {
	Day   string `json:"day"`
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
}

type PendingSpinRecord struct {
	Wallet         string    `json:"wallet"`
	HasPendingSpin bool      `json:"hasPendingSpin"`
	SegmentIndex   int       `json:"segmentIndex"`
	Variant        VariantID `json:"variant"`
	SpinID         string    `json:"spinId"`
	Committed      bool      `json:"committed"`
	RewardClaimed  bool      `json:"rewardClaimed"`
	SpinCount      int       `json:"spinCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LeaseExpiresAt time.Time `json:"leaseExpiresAt"`
}

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentSucceeded FulfillmentStatus = "succeeded"
	FulfillmentFailed    FulfillmentStatus = "failed"
)

type SpinRecord struct {
	ID           int64             `json:"id"`
	SpinID       string            `json:"spinId"`
	Wallet       string            `json:"wallet"`
	Variant      VariantID         `json:"variant"`
	SegmentIndex int               `json:"segmentIndex"`
	Label        string            `json:"label"`
	Reward       RewardDescriptor  `json:"reward"`
	Price        decimal.Decimal   `json:"price"`
	PaymentTx    string            `json:"paymentTx"`
	Fulfillment  FulfillmentStatus `json:"fulfillment"`
	CreatedAt    time.Time         `json:"createdAt"`
	ResolvedAt   *time.Time        `json:"resolvedAt"`
}

type TicketBalance struct {
	Wallet    string `json:"wallet"`
	Regular   int64  `json:"regular"`
	Legendary int64  `json:"legendary"`
}

type CardGrant struct {
	InstanceID string     `json:"instanceId"`
	TemplateID string     `json:"templateId"`
	Name       string     `json:"name"`
	Rarity     CardRarity `json:"rarity"`
}

type PassState struct {
	Wallet    string    `json:"wallet"`
	Kind      PassKind  `json:"kind"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type DealRedemption struct {
	Wallet    string        `json:"wallet"`
	Kind      DealKind      `json:"kind"`
	Code      string        `json:"code"`
	Card      CardGrant     `json:"card"`
	Tickets   TicketBalance `json:"tickets"`
	CreatedAt time.Time     `json:"createdAt"`
}
