// Package broker defines the abstraction over the external trading broker.
// The allocation core only ever sees these interfaces, so different backends
// (Binance futures, a simulator) can be swapped without touching the
// decision logic.
package broker

import "context"

// BalanceProvider reports the broker-side total balance for a denomination.
type BalanceProvider interface {
	GetBalance(ctx context.Context, denomination string) (float64, error)
}

// PriceProvider returns the current mark price for a symbol.
type PriceProvider interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// OrderProvider executes position closes. fraction is in (0, 1]; 1 closes
// the whole position.
type OrderProvider interface {
	ClosePosition(ctx context.Context, req CloseRequest) (ExecutionResult, error)
}

// Broker is the full broker surface the controller wires up.
type Broker interface {
	Name() string
	BalanceProvider
	PriceProvider
	OrderProvider
}
