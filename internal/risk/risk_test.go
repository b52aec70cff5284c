package risk

import (
	"context"
	"testing"
	"time"

	"tiller/internal/store/memstore"
	"tiller/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPosition(id, symbol string, entryValue float64) types.Position {
	return types.Position{
		ID:           id,
		Symbol:       symbol,
		Side:         types.SideLong,
		Quantity:     entryValue / 100,
		EntryPrice:   100,
		CurrentPrice: 100,
		Denomination: "USDT",
		Status:       types.PositionOpen,
		OpenedAt:     time.Now(),
	}
}

func TestStaticProviderClampsToNeutral(t *testing.T) {
	factor, err := StaticProvider{Factor: 0.7}.RiskFactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.7, factor)

	factor, err = StaticProvider{Factor: 0}.RiskFactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, factor)
}

func TestConcentrationEmptyBookIsNeutral(t *testing.T) {
	p := NewConcentrationProvider(memstore.New())
	factor, err := p.RiskFactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, factor)
}

func TestConcentrationDampensSingleSymbolBooks(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, openPosition("p1", "BTCUSDT", 900)))
	require.NoError(t, st.Create(ctx, openPosition("p2", "ETHUSDT", 100)))

	p := NewConcentrationProvider(st)
	factor, err := p.RiskFactor(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1-0.9*0.5, factor, 1e-9)

	// A balanced book barely dampens.
	require.NoError(t, st.Create(ctx, openPosition("p3", "SOLUSDT", 800)))
	factor, err = p.RiskFactor(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, factor, 1e-9)
}
