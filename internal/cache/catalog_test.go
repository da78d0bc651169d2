package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lucky-wheel/internal/catalog"
)

func TestCatalogCacheReloadsAfterTTL(t *testing.T) {
	calls := 0
	c := NewCatalogCache(time.Minute, func(context.Context) (*catalog.Catalog, error) {
		calls++
		return catalog.Default(), nil
	})
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	c.Invalidate()
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCatalogCacheServesStaleOnLoaderError(t *testing.T) {
	fail := false
	c := NewCatalogCache(time.Nanosecond, func(context.Context) (*catalog.Catalog, error) {
		if fail {
			return nil, errors.New("store down")
		}
		return catalog.Default(), nil
	})

	first, err := c.Get(context.Background())
	require.NoError(t, err)

	fail = true
	time.Sleep(time.Millisecond)
	second, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCatalogCacheLoaderErrorWithoutValue(t *testing.T) {
	c := NewCatalogCache(time.Minute, func(context.Context) (*catalog.Catalog, error) {
		return nil, errors.New("store down")
	})
	_, err := c.Get(context.Background())
	assert.Error(t, err)
}
