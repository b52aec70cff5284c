package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"tiller/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBroker struct {
	balanceErr error
	priceErr   error
	orderErr   error
	calls      int
}

func (f *flakyBroker) Name() string { return "flaky" }

func (f *flakyBroker) GetBalance(_ context.Context, _ string) (float64, error) {
	f.calls++
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return 1000, nil
}

func (f *flakyBroker) GetPrice(_ context.Context, _ string) (float64, error) {
	f.calls++
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return 100, nil
}

func (f *flakyBroker) ClosePosition(_ context.Context, req CloseRequest) (ExecutionResult, error) {
	f.calls++
	if f.orderErr != nil {
		return ExecutionResult{}, f.orderErr
	}
	return ExecutionResult{PositionID: req.PositionID, ClosedQty: req.Quantity, ExitPrice: 100, ExecutedAt: time.Now()}, nil
}

func newTestGuard(inner Broker) (*Guard, *circuit.Registry) {
	reg := circuit.NewRegistry()
	g := NewGuard(inner, reg, GuardThresholds{
		BalanceThreshold: 2, BalanceRecovery: time.Minute,
		PriceThreshold: 2, PriceRecovery: time.Minute,
		OrderThreshold: 2, OrderRecovery: time.Minute,
	}, time.Second)
	return g, reg
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	g, _ := newTestGuard(&flakyBroker{})
	ctx := context.Background()

	total, err := g.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, total)

	price, err := g.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	res, err := g.ClosePosition(ctx, CloseRequest{PositionID: "p1", Quantity: 2, Fraction: 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.ClosedQty)
}

func TestGuardOpensBreakerPerDependency(t *testing.T) {
	inner := &flakyBroker{balanceErr: errors.New("rate limited")}
	g, reg := newTestGuard(inner)
	ctx := context.Background()

	// Two failures trip the balance breaker; the third call is rejected
	// without touching the broker.
	_, err := g.GetBalance(ctx, "USDT")
	require.Error(t, err)
	_, err = g.GetBalance(ctx, "USDT")
	require.Error(t, err)
	callsBefore := inner.calls

	_, err = g.GetBalance(ctx, "USDT")
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, callsBefore, inner.calls)

	// Price calls are isolated from the balance breaker.
	_, err = g.GetPrice(ctx, "BTCUSDT")
	assert.NoError(t, err)

	// Operator reset closes the breaker again.
	inner.balanceErr = nil
	require.NoError(t, reg.Reset(BreakerBalance))
	total, err := g.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, total)
}
