package selector

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"lucky-wheel/internal/catalog"
	"lucky-wheel/internal/models"
)

var ErrNoSelectableSegment = errors.New("variant has no segment with a positive drop rate")

// Source returns a uniform float in [0, 1).
type Source func() (float64, error)

// CryptoFloat draws 53 random bits from crypto/rand.
func CryptoFloat() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}

type table struct {
	cumulative []float64
	last       int
}

// Selector picks a segment index by drop rate. Cumulative tables are built
// once per catalog version and variant.
type Selector struct {
	mu     sync.RWMutex
	tables map[string]*table
	rand   Source
}

func New(src Source) *Selector {
	if src == nil {
		src = CryptoFloat
	}
	return &Selector{tables: make(map[string]*table), rand: src}
}

func (s *Selector) Select(c *catalog.Catalog, variant models.VariantID) (int, error) {
	t, err := s.table(c, variant)
	if err != nil {
		return 0, err
	}
	r, err := s.rand()
	if err != nil {
		return 0, fmt.Errorf("random source: %w", err)
	}
	for i, edge := range t.cumulative {
		if r < edge {
			return i, nil
		}
	}
	// r fell into the float gap just under 1.0.
	return t.last, nil
}

func (s *Selector) table(c *catalog.Catalog, variant models.VariantID) (*table, error) {
	key := c.Version + "/" + string(variant)

	s.mu.RLock()
	t, ok := s.tables[key]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	segments, err := c.Segments(variant)
	if err != nil {
		return nil, err
	}
	t, err = build(segments)
	if err != nil {
		return nil, fmt.Errorf("variant %s: %w", variant, err)
	}

	s.mu.Lock()
	s.tables[key] = t
	s.mu.Unlock()
	return t, nil
}

func build(segments []models.WheelSegment) (*table, error) {
	var total float64
	for _, seg := range segments {
		total += seg.DropRate
	}
	if total <= 0 {
		return nil, ErrNoSelectableSegment
	}

	t := &table{cumulative: make([]float64, len(segments)), last: -1}
	var acc float64
	for i, seg := range segments {
		acc += seg.DropRate / total
		t.cumulative[i] = acc
		if seg.DropRate > 0 {
			t.last = i
		}
	}
	// Zero-weight segments repeat the previous edge, so r < edge can never
	// select them.
	t.cumulative[t.last] = 1
	for i := t.last + 1; i < len(t.cumulative); i++ {
		t.cumulative[i] = 1
	}
	return t, nil
}
