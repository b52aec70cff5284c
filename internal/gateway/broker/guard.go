package broker

import (
	"context"
	"time"

	"tiller/internal/pkg/circuit"
)

// Breaker names registered by the guard. The admin reset endpoint addresses
// breakers by these names.
const (
	BreakerBalance = "broker.balance"
	BreakerPrice   = "broker.price"
	BreakerOrder   = "broker.order"
)

// Guard wraps a Broker with per-call circuit breakers and explicit timeouts.
// A timeout counts as a failure for breaker accounting.
type Guard struct {
	inner   Broker
	balance *circuit.CircuitBreaker
	price   *circuit.CircuitBreaker
	order   *circuit.CircuitBreaker
	timeout time.Duration
}

type GuardThresholds struct {
	BalanceThreshold int
	BalanceRecovery  time.Duration
	PriceThreshold   int
	PriceRecovery    time.Duration
	OrderThreshold   int
	OrderRecovery    time.Duration
}

func NewGuard(inner Broker, reg *circuit.Registry, th GuardThresholds, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Guard{
		inner:   inner,
		balance: reg.Register(BreakerBalance, th.BalanceThreshold, th.BalanceRecovery),
		price:   reg.Register(BreakerPrice, th.PriceThreshold, th.PriceRecovery),
		order:   reg.Register(BreakerOrder, th.OrderThreshold, th.OrderRecovery),
		timeout: timeout,
	}
}

func (g *Guard) Name() string { return g.inner.Name() }

func (g *Guard) GetBalance(ctx context.Context, denomination string) (float64, error) {
	var out float64
	err := g.balance.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		val, err := g.inner.GetBalance(ctx, denomination)
		if err != nil {
			return err
		}
		out = val
		return nil
	}, nil)
	if err != nil {
		return 0, err
	}
	return out, nil
}

func (g *Guard) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var out float64
	err := g.price.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		val, err := g.inner.GetPrice(ctx, symbol)
		if err != nil {
			return err
		}
		out = val
		return nil
	}, nil)
	if err != nil {
		return 0, err
	}
	return out, nil
}

func (g *Guard) ClosePosition(ctx context.Context, req CloseRequest) (ExecutionResult, error) {
	var out ExecutionResult
	err := g.order.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		res, err := g.inner.ClosePosition(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, nil)
	if err != nil {
		return ExecutionResult{}, err
	}
	return out, nil
}

var _ Broker = (*Guard)(nil)
