// Package sim is an in-memory broker used for dry runs and tests. Balances
// and prices are seeded at construction and fills are instantaneous at the
// seeded price.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tiller/internal/gateway/broker"
	"tiller/internal/pkg/symbol"
)

type Broker struct {
	mu       sync.RWMutex
	balances map[string]float64
	prices   map[string]float64
}

func New(balances map[string]float64) *Broker {
	b := &Broker{
		balances: make(map[string]float64),
		prices:   make(map[string]float64),
	}
	for denom, amount := range balances {
		b.balances[strings.ToUpper(denom)] = amount
	}
	return b
}

func (b *Broker) Name() string { return "sim" }

func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	b.prices[strings.ToUpper(symbol)] = price
	b.mu.Unlock()
}

func (b *Broker) SetBalance(denomination string, amount float64) {
	b.mu.Lock()
	b.balances[strings.ToUpper(denomination)] = amount
	b.mu.Unlock()
}

func (b *Broker) GetBalance(_ context.Context, denomination string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	amount, ok := b.balances[strings.ToUpper(denomination)]
	if !ok {
		return 0, fmt.Errorf("sim broker has no balance for %s", denomination)
	}
	return amount, nil
}

func (b *Broker) GetPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("sim broker has no price for %s", symbol)
	}
	return price, nil
}

func (b *Broker) ClosePosition(_ context.Context, req broker.CloseRequest) (broker.ExecutionResult, error) {
	b.mu.RLock()
	price, ok := b.prices[symbol.Normalize(req.Symbol)]
	if !ok {
		price = b.prices[strings.ToUpper(req.Symbol)]
	}
	b.mu.RUnlock()
	if price <= 0 {
		return broker.ExecutionResult{}, fmt.Errorf("sim broker has no price for %s", req.Symbol)
	}
	return broker.ExecutionResult{
		PositionID:  req.PositionID,
		Symbol:      req.Symbol,
		ClosedQty:   req.Quantity,
		ExitPrice:   price,
		FullyClosed: req.Fraction >= 1,
		ExecutedAt:  time.Now(),
	}, nil
}

var _ broker.Broker = (*Broker)(nil)
