package allocation

import (
	"testing"
	"time"

	"tiller/internal/config"
	"tiller/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRotationConfig() config.RotationConfig {
	return config.RotationConfig{
		CriticalUtilization:  0.95,
		HighUtilization:      0.90,
		MediumUtilization:    0.80,
		IdealAvailable:       100,
		MinTradeSize:         20,
		TimePenaltyPerMinute: 0.05,
	}
}

func newTestRotation() (*RotationManager, time.Time) {
	m := NewRotationManager(testRotationConfig())
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }
	return m, now
}

// pos builds an open position with the given unrealized move. pnlPercent is
// expressed as entry→current move, e.g. 0.3 means +0.3%.
func pos(id string, heldMinutes, pnlPercent, entryValue float64) types.Position {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	entry := 100.0
	return types.Position{
		ID:           id,
		Symbol:       id + "USDT",
		Side:         types.SideLong,
		Quantity:     entryValue / entry,
		EntryPrice:   entry,
		CurrentPrice: entry * (1 + pnlPercent/100),
		Denomination: "USDT",
		Status:       types.PositionOpen,
		OpenedAt:     now.Add(-time.Duration(heldMinutes * float64(time.Minute))),
	}
}

func TestRotationCriticalFullClose(t *testing.T) {
	m, _ := newTestRotation()

	// 98.5% utilization, $15 available under the $20 minimum, one waiting
	// opportunity: free capital immediately.
	open := []types.Position{pos("BTC", 10, 1.5, 985)}
	d := m.Evaluate(open, 15, 1000, 1)

	require.True(t, d.ShouldRotate)
	assert.Equal(t, types.UrgencyCritical, d.Urgency)
	assert.Equal(t, 1.0, d.CloseFraction)
	assert.Equal(t, "BTC", d.Position.ID)
	assert.Contains(t, d.Reason, "critical")
}

func TestRotationHighPicksWorstFlatPosition(t *testing.T) {
	m, _ := newTestRotation()

	// 92% utilization, both held 45m, two opportunities waiting. The +5%
	// winner is not a rotation candidate; the +0.3% drifter is.
	open := []types.Position{
		pos("ETH", 45, 0.3, 460),
		pos("SOL", 45, 5.0, 460),
	}
	d := m.Evaluate(open, 80, 1000, 2)

	require.True(t, d.ShouldRotate)
	assert.Equal(t, types.UrgencyHigh, d.Urgency)
	assert.Equal(t, "ETH", d.Position.ID)
	assert.Equal(t, 0.75, d.CloseFraction)
}

func TestRotationHighFullClosesLosers(t *testing.T) {
	m, _ := newTestRotation()

	open := []types.Position{pos("ETH", 45, -1.0, 920)}
	d := m.Evaluate(open, 80, 1000, 2)

	require.True(t, d.ShouldRotate)
	assert.Equal(t, types.UrgencyHigh, d.Urgency)
	assert.Equal(t, 1.0, d.CloseFraction)
}

func TestRotationMediumPartialClose(t *testing.T) {
	m, _ := newTestRotation()

	// 85% utilization, stale position held 90m at +1%, three pending.
	open := []types.Position{pos("DOT", 90, 1.0, 850)}
	d := m.Evaluate(open, 150, 1000, 3)

	require.True(t, d.ShouldRotate)
	assert.Equal(t, types.UrgencyMedium, d.Urgency)
	assert.GreaterOrEqual(t, d.CloseFraction, 0.5)
	assert.LessOrEqual(t, d.CloseFraction, 0.75)
}

func TestRotationLowRequiresUtilization(t *testing.T) {
	m, _ := newTestRotation()

	// Available under ideal and four pending, but utilization is under 80%:
	// rotation must never fire at comfortable utilization.
	open := []types.Position{pos("ETH", 120, 0.1, 310)}
	d := m.Evaluate(open, 90, 400, 4)
	if d.Metrics.Utilization > 0.80 {
		t.Fatalf("test setup wrong: utilization %.2f", d.Metrics.Utilization)
	}
	assert.False(t, d.ShouldRotate)
}

func TestRotationLowPartialClose(t *testing.T) {
	m, _ := newTestRotation()

	// Held 30m keeps the high tier (needs >30m average) and the medium tier
	// (needs >60m) quiet; 91% utilization with $90 under the $100 ideal and
	// a deep queue trips the low tier.
	open := []types.Position{pos("ETH", 30, 0.1, 910)}
	d := m.Evaluate(open, 90, 1000, 4)

	require.True(t, d.ShouldRotate)
	assert.Equal(t, types.UrgencyLow, d.Urgency)
	assert.Equal(t, 0.5, d.CloseFraction)
}

func TestRotationNeverFiresBelowMediumUtilization(t *testing.T) {
	m, _ := newTestRotation()

	// Plenty of stale near-flat positions and a deep queue, yet 60%
	// utilization keeps every tier quiet.
	open := []types.Position{
		pos("A", 120, 0.1, 200),
		pos("B", 200, -0.4, 200),
		pos("C", 90, 0.05, 200),
	}
	d := m.Evaluate(open, 400, 1000, 10)
	assert.False(t, d.ShouldRotate)
	assert.Equal(t, types.UrgencyNone, d.Urgency)
}

func TestRotationTimePenaltyPrefersStagnantCapital(t *testing.T) {
	m, now := newTestRotation()

	// Equal P&L; the one held 4x longer scores worse.
	fresh := pos("FRESH", 20, 0.5, 100)
	stagnant := pos("STALE", 80, 0.5, 100)
	worst, ok := m.worstPosition([]types.Position{fresh, stagnant}, now, nil)
	require.True(t, ok)
	assert.Equal(t, "STALE", worst.ID)

	// A small loser held briefly still beats a flat position held for hours:
	// -0.5 - 10*0.05 = -1.0 vs 0.0 - 180*0.05 = -9.0.
	loser := pos("LOSER", 10, -0.5, 100)
	ancient := pos("ANCIENT", 180, 0.0, 100)
	worst, ok = m.worstPosition([]types.Position{loser, ancient}, now, nil)
	require.True(t, ok)
	assert.Equal(t, "ANCIENT", worst.ID)
}

func TestRotationNoOpenPositions(t *testing.T) {
	m, _ := newTestRotation()
	d := m.Evaluate(nil, 5, 1000, 3)
	assert.False(t, d.ShouldRotate)
}

func TestRotationPendingGates(t *testing.T) {
	m, _ := newTestRotation()
	open := []types.Position{pos("BTC", 10, 1.5, 985)}

	// Same critical pressure but nothing waiting: capital stays put.
	d := m.Evaluate(open, 15, 1000, 0)
	assert.False(t, d.ShouldRotate)
}
