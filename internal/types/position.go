package types

import (
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is the authoritative record of a holding. It is created on
// admission, mutated only by price refresh and close, and immutable once
// closed (retained for audit).
type Position struct {
	ID           string         `json:"id"`
	Symbol       string         `json:"symbol"`
	Side         Side           `json:"side"`
	Quantity     float64        `json:"quantity"`
	EntryPrice   float64        `json:"entry_price"`
	CurrentPrice float64        `json:"current_price"`
	Denomination string         `json:"denomination"`
	Strategy     string         `json:"strategy"`
	Status       PositionStatus `json:"status"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     time.Time      `json:"closed_at,omitempty"`

	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// EntryValue is the capital locked by the position at entry, in its
// denomination.
func (p Position) EntryValue() float64 {
	return p.Quantity * p.EntryPrice
}

// MarkValue is the current notional of the position.
func (p Position) MarkValue() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

// PnLPercent returns unrealized P&L as a percentage of entry value,
// sign-adjusted for shorts.
func (p Position) PnLPercent() float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	move := (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == SideShort {
		return -move
	}
	return move
}

// HoldMinutes returns how long the position has been held, as of now.
func (p Position) HoldMinutes(now time.Time) float64 {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return now.Sub(p.OpenedAt).Minutes()
}

// AccountSnapshot is derived on demand from broker balance plus tracked
// positions. It is never persisted as authoritative.
type AccountSnapshot struct {
	Denomination   string    `json:"denomination"`
	Total          float64   `json:"total"`
	Locked         float64   `json:"locked"`
	Available      float64   `json:"available"`
	Equity         float64   `json:"equity"`
	OpenPositions  int       `json:"open_positions"`
	TakenAt        time.Time `json:"taken_at"`
	FromCache      bool      `json:"from_cache,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
}
