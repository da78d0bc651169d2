package fulfillment

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"lucky-wheel/internal/models"
)

type CardTemplate struct {
	ID   string
	Name string
}

var defaultPool = map[models.CardRarity][]CardTemplate{
	models.RarityCommon: {
		{ID: "c-001", Name: "Street Runner"},
		{ID: "c-002", Name: "Copper Sentinel"},
		{ID: "c-003", Name: "Harbor Scout"},
		{ID: "c-004", Name: "Ash Courier"},
	},
	models.RarityRare: {
		{ID: "r-001", Name: "Night Broker"},
		{ID: "r-002", Name: "Glass Archer"},
		{ID: "r-003", Name: "Tide Caller"},
	},
	models.RarityEpic: {
		{ID: "e-001", Name: "Storm Herald"},
		{ID: "e-002", Name: "Iron Oracle"},
		{ID: "e-003", Name: "Velvet Reaper"},
	},
	models.RarityLegendary: {
		{ID: "l-001", Name: "Crown of the Deep"},
		{ID: "l-002", Name: "Sunforged Titan"},
	},
}

// CardIssuer picks a random template of the requested rarity and mints a
// new instance of it.
type CardIssuer struct {
	pool map[models.CardRarity][]CardTemplate
}

func NewCardIssuer(pool map[models.CardRarity][]CardTemplate) *CardIssuer {
	if pool == nil {
		pool = defaultPool
	}
	return &CardIssuer{pool: pool}
}

func (i *CardIssuer) Issue(rarity models.CardRarity) (models.CardGrant, error) {
	templates := i.pool[rarity]
	if len(templates) == 0 {
		return models.CardGrant{}, fmt.Errorf("no card templates of rarity %q", rarity)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(templates))))
	if err != nil {
		return models.CardGrant{}, err
	}
	tpl := templates[n.Int64()]
	return models.CardGrant{
		InstanceID: uuid.NewString(),
		TemplateID: tpl.ID,
		Name:       tpl.Name,
		Rarity:     rarity,
	}, nil
}
