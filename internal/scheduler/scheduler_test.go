package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lucky-wheel/internal/database"
	"lucky-wheel/internal/quota"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuotaRunnerAppliesDueSchedule(t *testing.T) {
	ctx := context.Background()
	store, err := database.New(ctx, "sqlite:file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	ledger := quota.NewDailyLedger(store, store, 10, time.UTC).WithClock(func() time.Time { return now })
	_, _, err = ledger.TryConsume(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SaveQuotaSchedule(ctx, database.QuotaSchedule{
		Target:  25,
		ApplyAt: now.Add(time.Hour),
		Author:  "ops",
	}))

	r := NewQuotaRunner(store, ledger, time.Second, discard())
	r.now = func() time.Time { return now }

	r.check(ctx)
	snap, err := ledger.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Limit, "not due yet")

	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	r.check(ctx)
	snap, err = ledger.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, snap.Limit)
	assert.Equal(t, 1, snap.Used)

	schedule, err := store.LoadQuotaSchedule(ctx)
	require.NoError(t, err)
	assert.Nil(t, schedule)
}

type fakeExpirer struct {
	mu      sync.Mutex
	batches []int
	results []int
	err     error
}

func (f *fakeExpirer) ExpireLeases(_ context.Context, batch int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

func TestLeaseSweeperDrainsBacklog(t *testing.T) {
	exp := &fakeExpirer{results: []int{10, 10, 3}}
	s := NewLeaseSweeper(exp, time.Hour, 10, discard())

	s.sweep(context.Background())
	assert.Equal(t, []int{10, 10, 10}, exp.batches)
}

func TestLeaseSweeperStopsOnError(t *testing.T) {
	exp := &fakeExpirer{err: errors.New("store down")}
	s := NewLeaseSweeper(exp, time.Hour, 0, discard())

	s.sweep(context.Background())
	assert.Equal(t, []int{100}, exp.batches)
}

func TestLeaseSweeperRunsOnTicker(t *testing.T) {
	exp := &fakeExpirer{}
	s := NewLeaseSweeper(exp, 10*time.Millisecond, 5, discard())
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		exp.mu.Lock()
		defer exp.mu.Unlock()
		return len(exp.batches) >= 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
