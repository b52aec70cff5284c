package broker

import (
	"errors"
	"time"
)

// ErrAuth marks broker authentication failures. These are fatal to trade
// admission: the loop keeps reporting state but stops admitting.
var ErrAuth = errors.New("broker authentication failed")

// CloseRequest asks the broker to unwind part or all of a position.
type CloseRequest struct {
	PositionID string
	Symbol     string
	Side       string
	Quantity   float64 // quantity to close, in base units
	Fraction   float64 // fraction of the position this represents, (0, 1]
}

// ExecutionResult is what came back from a close.
type ExecutionResult struct {
	PositionID  string    `json:"position_id"`
	Symbol      string    `json:"symbol"`
	ClosedQty   float64   `json:"closed_qty"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	FullyClosed bool      `json:"fully_closed"`
	ExecutedAt  time.Time `json:"executed_at"`
}
