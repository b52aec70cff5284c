package allocation

import (
	"context"
	"errors"
	"testing"

	"tiller/internal/config"
	"tiller/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRisk struct {
	factor float64
	err    error
}

func (s stubRisk) RiskFactor(_ context.Context) (float64, error) { return s.factor, s.err }

func testSizingConfig() config.SizingConfig {
	return config.SizingConfig{
		MaxRiskFraction:    0.05,
		DefaultPayoffRatio: 2.0,
		TargetAccountSize:  1000,
		MinTradeSize:       10,
	}
}

func testSnapshot(available float64) types.AccountSnapshot {
	return types.AccountSnapshot{
		Denomination: "USDT",
		Total:        available,
		Available:    available,
		Equity:       available,
	}
}

func TestSizerClipsKellyToMaxRisk(t *testing.T) {
	s := NewSizer(testSizingConfig(), nil, nil)
	opp := types.Opportunity{
		Symbol:         "BTCUSDT",
		Side:           types.SideLong,
		WinProbability: 0.9,
		ExpectedReturn: 10,
		ExpectedLoss:   1,
		CurrentPrice:   50000,
		Confidence:     1,
	}

	rec, err := s.Size(context.Background(), opp, testSnapshot(1000))
	require.NoError(t, err)
	assert.Greater(t, rec.KellyFraction, 0.05, "raw Kelly should exceed the ceiling here")
	assert.InDelta(t, 0.05, rec.FinalFraction, 1e-9)
	assert.InDelta(t, 50, rec.Size, 1e-9)
}

func TestSizerNegativeEdgeYieldsZero(t *testing.T) {
	s := NewSizer(testSizingConfig(), nil, nil)
	opp := types.Opportunity{
		Symbol:         "BTCUSDT",
		Side:           types.SideLong,
		WinProbability: 0.2,
		CurrentPrice:   50000,
		Confidence:     1,
	}

	rec, err := s.Size(context.Background(), opp, testSnapshot(1000))
	require.NoError(t, err)
	assert.Zero(t, rec.Size)
	assert.Zero(t, rec.FinalFraction)
}

func TestSizerFactorsDampen(t *testing.T) {
	cfg := testSizingConfig()
	cfg.TargetAccountSize = 10000
	s := NewSizer(cfg, stubRisk{factor: 0.5}, nil)
	opp := types.Opportunity{
		Symbol:         "ETHUSDT",
		Side:           types.SideLong,
		WinProbability: 0.6,
		CurrentPrice:   3000,
		Confidence:     0.8,
	}

	// Equity 1000 against a 10000 target gives account factor 0.1; with risk
	// 0.5 and confidence 0.8 the clipped fraction shrinks 25x.
	rec, err := s.Size(context.Background(), opp, testSnapshot(1000))
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rec.Factors.Account, 1e-9)
	assert.InDelta(t, 0.5, rec.Factors.Risk, 1e-9)
	assert.InDelta(t, 0.8, rec.Factors.Opportunity, 1e-9)
	assert.InDelta(t, 1.0, rec.Factors.Regime, 1e-9)
	assert.InDelta(t, 0.05*0.1*0.5*0.8, rec.FinalFraction, 1e-9)
}

func TestSizerRiskProviderFailureHalvesSize(t *testing.T) {
	s := NewSizer(testSizingConfig(), stubRisk{err: errors.New("orchestrator down")}, nil)
	opp := types.Opportunity{
		Symbol:         "BTCUSDT",
		Side:           types.SideLong,
		WinProbability: 0.6,
		CurrentPrice:   50000,
		Confidence:     1,
	}

	rec, err := s.Size(context.Background(), opp, testSnapshot(1000))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rec.Factors.Risk, 1e-9)
}

func TestSizerNeverExceedsAvailable(t *testing.T) {
	s := NewSizer(testSizingConfig(), nil, nil)
	opp := types.Opportunity{
		Symbol:         "BTCUSDT",
		Side:           types.SideLong,
		WinProbability: 0.7,
		CurrentPrice:   100,
		Confidence:     1,
	}

	for _, available := range []float64{0, 5, 100, 100000} {
		rec, err := s.Size(context.Background(), opp, testSnapshot(available))
		require.NoError(t, err)
		assert.LessOrEqual(t, rec.Size, available)
		assert.GreaterOrEqual(t, rec.FinalFraction, 0.0)
		assert.LessOrEqual(t, rec.FinalFraction, 0.05)
	}
}

func TestSizerIsDeterministic(t *testing.T) {
	s := NewSizer(testSizingConfig(), stubRisk{factor: 0.7}, nil)
	opp := types.Opportunity{
		Symbol:         "SOLUSDT",
		Side:           types.SideShort,
		WinProbability: 0.55,
		ExpectedReturn: 3,
		ExpectedLoss:   2,
		CurrentPrice:   150,
		Confidence:     0.65,
	}
	snap := testSnapshot(800)

	first, err := s.Size(context.Background(), opp, snap)
	require.NoError(t, err)
	second, err := s.Size(context.Background(), opp, snap)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSizerRejectsBadInput(t *testing.T) {
	s := NewSizer(testSizingConfig(), nil, nil)

	_, err := s.Size(context.Background(), types.Opportunity{Symbol: "X", WinProbability: 0.5}, testSnapshot(100))
	assert.Error(t, err, "missing price")

	_, err = s.Size(context.Background(), types.Opportunity{Symbol: "X", WinProbability: 1.5, CurrentPrice: 10}, testSnapshot(100))
	assert.Error(t, err, "probability out of range")
}
