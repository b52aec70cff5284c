package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tiller/internal/config"
	"tiller/internal/store/memstore"
	"tiller/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBalance struct {
	mu    sync.Mutex
	total float64
	err   error
	calls int
}

func (s *scriptedBalance) GetBalance(_ context.Context, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.total, nil
}

func (s *scriptedBalance) set(total float64, err error) {
	s.mu.Lock()
	s.total = total
	s.err = err
	s.mu.Unlock()
}

func newTestReconciler(balances *scriptedBalance) (*Reconciler, *memstore.MemStore, *time.Time) {
	st := memstore.New()
	r := NewReconciler(balances, st, config.ReconcileConfig{
		CacheTTLSeconds:       20,
		StalenessBoundSeconds: 45,
	})
	now := time.Now()
	r.nowFn = func() time.Time { return now }
	return r, st, &now
}

func TestReconcilerDegradedWithoutCache(t *testing.T) {
	balances := &scriptedBalance{err: errors.New("timeout")}
	r, _, _ := newTestReconciler(balances)

	snap, err := r.ComputeAvailable(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Contains(t, snap.DegradedReason, "balance fetch failed")
	assert.Zero(t, snap.Available)
}

func TestReconcilerServesCacheWithinTTL(t *testing.T) {
	balances := &scriptedBalance{total: 1000}
	r, _, now := newTestReconciler(balances)
	ctx := context.Background()

	first, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1000.0, first.Total)

	*now = now.Add(10 * time.Second)
	second, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, balances.calls)
}

func TestReconcilerStaleCacheFallback(t *testing.T) {
	balances := &scriptedBalance{total: 1000}
	r, _, now := newTestReconciler(balances)
	ctx := context.Background()

	_, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)

	// Past the TTL the fetch is retried; on failure the cache still serves
	// while inside the staleness bound.
	balances.set(0, errors.New("exchange down"))
	*now = now.Add(30 * time.Second)
	snap, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)
	assert.False(t, snap.Degraded)
	assert.True(t, snap.FromCache)
	assert.Equal(t, 1000.0, snap.Total)

	// Beyond the staleness bound the stale value is refused.
	*now = now.Add(30 * time.Second)
	snap, err = r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
}

func TestReconcilerNegativeAvailableIsDegraded(t *testing.T) {
	balances := &scriptedBalance{total: 100}
	r, st, now := newTestReconciler(balances)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, types.Position{
		ID:           "p1",
		Symbol:       "BTCUSDT",
		Side:         types.SideLong,
		Quantity:     2,
		EntryPrice:   100,
		CurrentPrice: 100,
		Denomination: "USDT",
		Status:       types.PositionOpen,
		OpenedAt:     *now,
	}))

	snap, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Equal(t, 0.0, snap.Available)
	assert.Equal(t, 200.0, snap.Locked)
}

func TestReconcilerInvalidateForcesRefetch(t *testing.T) {
	balances := &scriptedBalance{total: 1000}
	r, _, _ := newTestReconciler(balances)
	ctx := context.Background()

	_, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)

	balances.set(400, nil)
	r.Invalidate("USDT")
	snap, err := r.ComputeAvailable(ctx, "USDT")
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
	assert.Equal(t, 400.0, snap.Total)
	assert.Equal(t, 2, balances.calls)
}
