package allocation

import (
	"context"
	"strings"
	"sync"
	"time"

	"tiller/internal/config"
	"tiller/internal/gateway/broker"
	"tiller/internal/logger"
	"tiller/internal/store"
	"tiller/internal/types"

	"golang.org/x/sync/singleflight"
)

// Reconciler derives available capital per denomination from the broker
// balance and tracked open positions. A short-lived cache smooths transient
// broker latency; a stale cache is bypassed, and a failed fetch with no
// usable cache yields a degraded snapshot that blocks admission.
type Reconciler struct {
	balances  broker.BalanceProvider
	positions store.PositionStore
	cfg       config.ReconcileConfig
	nowFn     func() time.Time

	sf    singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedBalance
}

type cachedBalance struct {
	total     float64
	fetchedAt time.Time
}

func NewReconciler(balances broker.BalanceProvider, positions store.PositionStore, cfg config.ReconcileConfig) *Reconciler {
	return &Reconciler{
		balances:  balances,
		positions: positions,
		cfg:       cfg,
		nowFn:     time.Now,
		cache:     make(map[string]cachedBalance),
	}
}

// ComputeAvailable returns the account snapshot for a denomination. The
// snapshot is always returned; reconciliation faults are reported through
// its Degraded fields rather than an error, so callers can still act on the
// position-side figures (exits and rotations stay possible).
func (r *Reconciler) ComputeAvailable(ctx context.Context, denomination string) (types.AccountSnapshot, error) {
	denomination = strings.ToUpper(strings.TrimSpace(denomination))
	now := r.nowFn()

	open, err := r.positions.ListOpen(ctx)
	if err != nil {
		return types.AccountSnapshot{
			Denomination:   denomination,
			TakenAt:        now,
			Degraded:       true,
			DegradedReason: "position store unavailable: " + err.Error(),
		}, nil
	}

	var locked, unrealized float64
	var count int
	for _, p := range open {
		if !strings.EqualFold(p.Denomination, denomination) {
			continue
		}
		locked += p.EntryValue()
		unrealized += p.UnrealizedPnL
		count++
	}

	total, fromCache, fetchErr := r.fetchBalance(ctx, denomination, now)
	if fetchErr != nil {
		return types.AccountSnapshot{
			Denomination:   denomination,
			Locked:         locked,
			OpenPositions:  count,
			TakenAt:        now,
			Degraded:       true,
			DegradedReason: "balance fetch failed: " + fetchErr.Error(),
		}, nil
	}

	snap := types.AccountSnapshot{
		Denomination:  denomination,
		Total:         total,
		Locked:        locked,
		Available:     total - locked,
		Equity:        total + unrealized,
		OpenPositions: count,
		TakenAt:       now,
		FromCache:     fromCache,
	}
	if snap.Available < 0 {
		// A negative figure is a reconciliation fault, not a valid state.
		logger.Warnf("Reconciler: negative available for %s (total=%v locked=%v)", denomination, total, locked)
		snap.Available = 0
		snap.Degraded = true
		snap.DegradedReason = "locked positions exceed broker balance"
	}
	return snap, nil
}

// fetchBalance serves from cache within the TTL, dedupes concurrent fetches,
// and falls back to a cached value no older than the staleness bound when
// the broker call fails.
func (r *Reconciler) fetchBalance(ctx context.Context, denomination string, now time.Time) (float64, bool, error) {
	r.mu.Lock()
	cached, ok := r.cache[denomination]
	r.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) <= r.cfg.CacheTTL() {
		return cached.total, true, nil
	}

	val, err, _ := r.sf.Do(denomination, func() (any, error) {
		total, err := r.balances.GetBalance(ctx, denomination)
		if err != nil {
			return 0.0, err
		}
		r.mu.Lock()
		r.cache[denomination] = cachedBalance{total: total, fetchedAt: r.nowFn()}
		r.mu.Unlock()
		return total, nil
	})
	if err == nil {
		return val.(float64), false, nil
	}

	if ok && now.Sub(cached.fetchedAt) <= r.cfg.StalenessBound() {
		logger.Warnf("Reconciler: balance fetch for %s failed, serving cache aged %s: %v",
			denomination, now.Sub(cached.fetchedAt).Truncate(time.Second), err)
		return cached.total, true, nil
	}
	return 0, false, err
}

// Invalidate drops the cached balance for a denomination. Called after a
// rotation so the next sizing pass sees the close reflected.
func (r *Reconciler) Invalidate(denomination string) {
	denomination = strings.ToUpper(strings.TrimSpace(denomination))
	r.mu.Lock()
	delete(r.cache, denomination)
	r.mu.Unlock()
}
