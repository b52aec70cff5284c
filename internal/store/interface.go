package store

import (
	"context"
	"errors"
	"time"

	"tiller/internal/types"
)

// ErrNotFound is returned when a position id has no open record. Concurrent
// rotations hitting the same position surface it as a conflict upstream.
var ErrNotFound = errors.New("position not found")

// CloseFields carries the exit data written when a position closes.
type CloseFields struct {
	ExitPrice   float64
	RealizedPnL float64
	ClosedAt    time.Time
}

// PositionStore is the single authoritative writer surface for Position
// aggregates. Secondary projections are read-only derived views.
type PositionStore interface {
	Create(ctx context.Context, p types.Position) error
	Get(ctx context.Context, id string) (types.Position, error)
	ListOpen(ctx context.Context) ([]types.Position, error)
	// UpdateMark refreshes the current price and unrealized P&L of an open
	// position.
	UpdateMark(ctx context.Context, id string, price, unrealizedPnL float64) error
	// Reduce shrinks an open position after a partial close, accumulating
	// realized P&L.
	Reduce(ctx context.Context, id string, newQuantity, realizedPnL float64) error
	// MarkClosed transitions a position to closed. Closing an already closed
	// position returns ErrNotFound; the transition is idempotent in effect
	// but the caller learns it lost the race.
	MarkClosed(ctx context.Context, id string, exit CloseFields) error
	Close() error
}

// DecisionRecord is one line of the allocation audit trail.
type DecisionRecord struct {
	TraceID    string
	Symbol     string
	Outcome    string // admitted | rejected | rotated
	Reason     string
	SizeUSD    float64
	Fraction   float64
	Urgency    string
	PositionID string
	Factors    types.AdjustmentFactors
	CreatedAt  time.Time
}

// DecisionLog persists every admit/reject/rotate outcome for audit.
type DecisionLog interface {
	Append(ctx context.Context, rec DecisionRecord) error
	ListRecent(ctx context.Context, limit int) ([]DecisionRecord, error)
}
