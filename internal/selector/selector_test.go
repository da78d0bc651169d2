package selector

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lucky-wheel/internal/catalog"
	"lucky-wheel/internal/models"
)

func fixed(v float64) Source {
	return func() (float64, error) { return v, nil }
}

func wheel(version string, rates ...float64) *catalog.Catalog {
	segs := make([]models.WheelSegment, len(rates))
	for i, r := range rates {
		segs[i] = models.WheelSegment{Label: "s", DropRate: r, Reward: models.Tickets(models.TicketRegular, 1)}
	}
	return &catalog.Catalog{
		Version: version,
		Variants: []models.WheelVariant{
			{ID: models.VariantStandard, Price: decimal.NewFromInt(1), Segments: segs},
		},
	}
}

func TestSelectBoundaries(t *testing.T) {
	c := wheel("v1", 50, 30, 20)
	cases := []struct {
		draw float64
		want int
	}{
		{0, 0},
		{0.4999, 0},
		{0.5, 1},
		{0.7999, 1},
		{0.8, 2},
		{0.999999, 2},
	}
	for _, tc := range cases {
		got, err := New(fixed(tc.draw)).Select(c, models.VariantStandard)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "draw %v", tc.draw)
	}
}

func TestZeroWeightSegmentsNeverChosen(t *testing.T) {
	c := wheel("v1", 0, 60, 0, 40, 0)
	for i := 0; i <= 1000; i++ {
		draw := float64(i) / 1000
		if draw >= 1 {
			draw = 0.9999999999
		}
		got, err := New(fixed(draw)).Select(c, models.VariantStandard)
		require.NoError(t, err)
		assert.Contains(t, []int{1, 3}, got)
	}
}

func TestSelectUnknownVariant(t *testing.T) {
	_, err := New(nil).Select(catalog.Default(), "gold")
	assert.ErrorIs(t, err, catalog.ErrUnknownVariant)
}

func TestAllZeroWeights(t *testing.T) {
	_, err := New(fixed(0.3)).Select(wheel("v1", 0, 0), models.VariantStandard)
	assert.ErrorIs(t, err, ErrNoSelectableSegment)
}

func TestTablesCachedPerVersion(t *testing.T) {
	s := New(fixed(0.55))

	got, err := s.Select(wheel("v1", 50, 50), models.VariantStandard)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	// A new version rebuilds; the same version reuses the cached table.
	got, err = s.Select(wheel("v2", 60, 40), models.VariantStandard)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = s.Select(wheel("v1", 60, 40), models.VariantStandard)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Len(t, s.tables, 2)
}

func TestCryptoFloatRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v, err := CryptoFloat()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestDefaultCatalogDistribution(t *testing.T) {
	s := New(nil)
	c := catalog.Default()
	counts := make([]int, 8)
	const draws = 20000
	for i := 0; i < draws; i++ {
		idx, err := s.Select(c, models.VariantPremium)
		require.NoError(t, err)
		counts[idx]++
	}
	segs, err := c.Segments(models.VariantPremium)
	require.NoError(t, err)
	for i, seg := range segs {
		assert.InDelta(t, seg.DropRate/100, float64(counts[i])/draws, 0.02, "segment %d", i)
	}
}
