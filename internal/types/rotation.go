package types

type Urgency string

const (
	UrgencyNone     Urgency = "none"
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// RotationMetrics is the snapshot of capital pressure that produced a
// rotation decision.
type RotationMetrics struct {
	Utilization      float64 `json:"utilization"`
	AvailableCapital float64 `json:"available_capital"`
	TotalCapital     float64 `json:"total_capital"`
	AvgHoldMinutes   float64 `json:"avg_hold_minutes"`
	PendingCount     int     `json:"pending_count"`
	OpenPositions    int     `json:"open_positions"`
}

// RotationDecision says whether (and how) an existing position must be
// closed to relieve capital pressure. Ephemeral.
type RotationDecision struct {
	ShouldRotate  bool            `json:"should_rotate"`
	Reason        string          `json:"reason"`
	Position      *Position       `json:"position,omitempty"`
	Urgency       Urgency         `json:"urgency"`
	CloseFraction float64         `json:"close_fraction,omitempty"`
	Metrics       RotationMetrics `json:"metrics"`
}

// FullClose reports whether the decision closes the entire position.
func (d RotationDecision) FullClose() bool {
	return d.ShouldRotate && d.CloseFraction >= 1
}
