package allocation

import (
	"fmt"
	"time"

	"tiller/internal/config"
	"tiller/internal/types"
)

// Tier gate constants. The utilization cutoffs are configurable; the hold
// and P&L gates are policy, fixed here.
const (
	highMinHoldMinutes   = 30.0
	mediumMinHoldMinutes = 60.0
	lowMinHoldMinutes    = 15.0

	flatPnLPercent      = 1.0 // "flat": barely moved
	stalePnLPercent     = 2.0 // stale: held long, under 2%
	nearFlatPnLPercent  = 0.5
	fullClosePnLPercent = 0.2 // high tier closes fully below this

	minPartialFraction = 0.5 // partial closes never go below 50%
)

// RotationManager decides whether an open position must be closed to free
// capital for better pending opportunities. Pure over its inputs; no network
// calls.
type RotationManager struct {
	cfg   config.RotationConfig
	nowFn func() time.Time
}

func NewRotationManager(cfg config.RotationConfig) *RotationManager {
	return &RotationManager{cfg: cfg, nowFn: time.Now}
}

// Evaluate checks the four urgency tiers in priority order (critical first)
// and returns the first whose gate holds and has a candidate.
func (m *RotationManager) Evaluate(open []types.Position, available, total float64, pending int) types.RotationDecision {
	now := m.nowFn()
	metrics := types.RotationMetrics{
		AvailableCapital: available,
		TotalCapital:     total,
		PendingCount:     pending,
		OpenPositions:    len(open),
		AvgHoldMinutes:   avgHoldMinutes(open, now),
	}
	if total > 0 {
		metrics.Utilization = (total - available) / total
	}

	if len(open) == 0 {
		return noRotation("no open positions", metrics)
	}

	if metrics.Utilization > m.cfg.CriticalUtilization &&
		available < m.cfg.MinTradeSize &&
		pending >= 1 {
		if worst, ok := m.worstPosition(open, now, nil); ok {
			return types.RotationDecision{
				ShouldRotate:  true,
				Urgency:       types.UrgencyCritical,
				Position:      &worst,
				CloseFraction: 1,
				Reason: fmt.Sprintf("critical: utilization %.1f%% with $%.2f available below minimum trade",
					metrics.Utilization*100, available),
				Metrics: metrics,
			}
		}
	}

	if metrics.Utilization > m.cfg.HighUtilization &&
		metrics.AvgHoldMinutes > highMinHoldMinutes &&
		pending >= 2 {
		flat := func(p types.Position) bool { return p.PnLPercent() < flatPnLPercent }
		if worst, ok := m.worstPosition(open, now, flat); ok {
			fraction := 0.75
			if worst.PnLPercent() < fullClosePnLPercent {
				fraction = 1
			}
			return types.RotationDecision{
				ShouldRotate:  true,
				Urgency:       types.UrgencyHigh,
				Position:      &worst,
				CloseFraction: fraction,
				Reason: fmt.Sprintf("high: utilization %.1f%%, avg hold %.0fm, %d opportunities waiting on flat positions",
					metrics.Utilization*100, metrics.AvgHoldMinutes, pending),
				Metrics: metrics,
			}
		}
	}

	if metrics.Utilization > m.cfg.MediumUtilization &&
		metrics.AvgHoldMinutes > mediumMinHoldMinutes &&
		pending >= 3 {
		stale := func(p types.Position) bool {
			return p.HoldMinutes(now) > mediumMinHoldMinutes && p.PnLPercent() < stalePnLPercent
		}
		if worst, ok := m.worstPosition(open, now, stale); ok {
			return types.RotationDecision{
				ShouldRotate:  true,
				Urgency:       types.UrgencyMedium,
				Position:      &worst,
				CloseFraction: m.partialFraction(worst, available, 0.75),
				Reason: fmt.Sprintf("medium: utilization %.1f%% with stale positions and %d pending opportunities",
					metrics.Utilization*100, pending),
				Metrics: metrics,
			}
		}
	}

	// The low tier still requires meaningful utilization; plentiful free
	// capital with a low ideal threshold must never trigger a close.
	if metrics.Utilization > m.cfg.MediumUtilization &&
		available < m.cfg.IdealAvailable &&
		pending >= 4 {
		nearFlat := func(p types.Position) bool {
			return p.HoldMinutes(now) > lowMinHoldMinutes && p.PnLPercent() < nearFlatPnLPercent
		}
		if worst, ok := m.worstPosition(open, now, nearFlat); ok {
			return types.RotationDecision{
				ShouldRotate:  true,
				Urgency:       types.UrgencyLow,
				Position:      &worst,
				CloseFraction: minPartialFraction,
				Reason: fmt.Sprintf("low: available $%.2f under ideal $%.2f with %d pending opportunities",
					available, m.cfg.IdealAvailable, pending),
				Metrics: metrics,
			}
		}
	}

	return noRotation("no rotation needed", metrics)
}

// worstPosition picks the candidate with the lowest score, where
// score = pnlPercent - holdMinutes * timePenalty. A long-held flat position
// scores strictly worse than a short-held equally flat one: stagnant capital
// costs more than a small realized loss.
func (m *RotationManager) worstPosition(open []types.Position, now time.Time, filter func(types.Position) bool) (types.Position, bool) {
	var worst types.Position
	worstScore := 0.0
	found := false
	for _, p := range open {
		if filter != nil && !filter(p) {
			continue
		}
		score := p.PnLPercent() - p.HoldMinutes(now)*m.cfg.TimePenaltyPerMinute
		if !found || score < worstScore {
			worst = p
			worstScore = score
			found = true
		}
	}
	return worst, found
}

// partialFraction sizes a partial close to free enough capital to reach the
// ideal available level, floored at 50% to avoid thrashing on tiny
// reductions and capped at the tier's maximum.
func (m *RotationManager) partialFraction(p types.Position, available, tierMax float64) float64 {
	notional := p.MarkValue()
	if notional <= 0 {
		return tierMax
	}
	needed := m.cfg.IdealAvailable - available
	if needed < m.cfg.MinTradeSize {
		needed = m.cfg.MinTradeSize
	}
	fraction := needed / notional
	if fraction < minPartialFraction {
		fraction = minPartialFraction
	}
	if fraction > tierMax {
		fraction = tierMax
	}
	return fraction
}

func avgHoldMinutes(open []types.Position, now time.Time) float64 {
	if len(open) == 0 {
		return 0
	}
	var sum float64
	for _, p := range open {
		sum += p.HoldMinutes(now)
	}
	return sum / float64(len(open))
}

func noRotation(reason string, metrics types.RotationMetrics) types.RotationDecision {
	return types.RotationDecision{
		ShouldRotate: false,
		Urgency:      types.UrgencyNone,
		Reason:       reason,
		Metrics:      metrics,
	}
}
