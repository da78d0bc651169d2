package catalog

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"lucky-wheel/internal/models"
)

// DropRateTolerance is the allowed deviation of a variant's drop-rate sum from 100.
const DropRateTolerance = 0.01

var ErrUnknownVariant = errors.New("unknown wheel variant")

var validate = validator.New()

type Catalog struct {
	Version  string                `json:"version" validate:"required"`
	Variants []models.WheelVariant `json:"variants" validate:"required,min=1,dive"`
}

func (c *Catalog) Variant(id models.VariantID) (models.WheelVariant, error) {
	for _, v := range c.Variants {
		if v.ID == id {
			return v, nil
		}
	}
	return models.WheelVariant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, id)
}

func (c *Catalog) Segments(id models.VariantID) ([]models.WheelSegment, error) {
	v, err := c.Variant(id)
	if err != nil {
		return nil, err
	}
	return v.Segments, nil
}

// Validate is run when a catalog is loaded or replaced; requests never see
// an invalid catalog.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("catalog %q: %w", c.Version, err)
	}
	seen := make(map[models.VariantID]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("variant %s: duplicate id", v.ID)
		}
		seen[v.ID] = struct{}{}
		if !v.Price.GreaterThan(decimal.Zero) {
			return fmt.Errorf("variant %s: price must be positive", v.ID)
		}
		var total float64
		for i, seg := range v.Segments {
			if seg.DropRate < 0 || math.IsNaN(seg.DropRate) || math.IsInf(seg.DropRate, 0) {
				return fmt.Errorf("variant %s segment %d: invalid drop rate %v", v.ID, i, seg.DropRate)
			}
			total += seg.DropRate
		}
		if math.Abs(total-100) > DropRateTolerance {
			return fmt.Errorf("variant %s: drop rates sum to %.4f, want 100", v.ID, total)
		}
	}
	return nil
}

// Default returns the compiled-in catalog.
func Default() *Catalog {
	return &Catalog{
		Version: "2026.10.1",
		Variants: []models.WheelVariant{
			{
				ID:    models.VariantStandard,
				Price: decimal.RequireFromString("0.50"),
				Segments: []models.WheelSegment{
					{Label: "3 Regular Tickets", DropRate: 30, Reward: models.Tickets(models.TicketRegular, 3)},
					{Label: "5 Regular Tickets", DropRate: 20, Reward: models.Tickets(models.TicketRegular, 5)},
					{Label: "1 Legendary Ticket", DropRate: 10, Reward: models.Tickets(models.TicketLegendary, 1)},
					{Label: "Rare Card", DropRate: 15, Reward: models.Card(models.RarityRare)},
					{Label: "Epic Card", DropRate: 8, Reward: models.Card(models.RarityEpic)},
					{Label: "XP Pass (1 day)", DropRate: 10, Reward: models.Pass(models.PassXP, 1, 0)},
					{Label: "Daily Deal", DropRate: 5, Reward: models.Deal(models.DealDaily)},
					{Label: "Legendary Card", DropRate: 2, Reward: models.Card(models.RarityLegendary)},
				},
			},
			{
				ID:    models.VariantPremium,
				Price: decimal.RequireFromString("1.50"),
				Quota: true,
				Segments: []models.WheelSegment{
					{Label: "10 Regular Tickets", DropRate: 25, Reward: models.Tickets(models.TicketRegular, 10)},
					{Label: "3 Legendary Tickets", DropRate: 15, Reward: models.Tickets(models.TicketLegendary, 3)},
					{Label: "Epic Card", DropRate: 20, Reward: models.Card(models.RarityEpic)},
					{Label: "Legendary Card", DropRate: 5, Reward: models.Card(models.RarityLegendary)},
					{Label: "Premium Pass (7 days)", DropRate: 10, Reward: models.Pass(models.PassPremium, 7, 2)},
					{Label: "XP Pass (7 days)", DropRate: 10, Reward: models.Pass(models.PassXP, 7, 0)},
					{Label: "Special Deal", DropRate: 10, Reward: models.Deal(models.DealSpecial)},
					{Label: "5 Legendary Tickets", DropRate: 5, Reward: models.Tickets(models.TicketLegendary, 5)},
				},
			},
		},
	}
}

// MustDefault panics when the compiled-in catalog is malformed, so a bad
// build never starts serving.
func MustDefault() *Catalog {
	c := Default()
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}
