package market

import (
	"context"
	"errors"
	"testing"

	"tiller/internal/config"

	"github.com/stretchr/testify/assert"
)

type stubCandles struct {
	candles []Candle
	err     error
	calls   int
}

func (s *stubCandles) Candles(_ context.Context, _, _ string, _ int) ([]Candle, error) {
	s.calls++
	return s.candles, s.err
}

func regimeConfig() config.RegimeConfig {
	return config.RegimeConfig{
		Enabled:  true,
		Interval: "1h",
		Fast:     3,
		Mid:      5,
		Slow:     8,
		Lookback: 50,
	}
}

func series(values ...float64) []Candle {
	out := make([]Candle, len(values))
	for i, v := range values {
		out[i] = Candle{Close: v}
	}
	return out
}

func rising(n int) []Candle {
	out := make([]Candle, n)
	for i := range out {
		out[i] = Candle{Close: 100 + float64(i)}
	}
	return out
}

func TestRegimeTrendingOnAlignedEMAs(t *testing.T) {
	src := &stubCandles{candles: rising(50)}
	d := NewRegimeDetector(src, regimeConfig())

	regime, factor := d.Classify(context.Background(), "BTCUSDT")
	assert.Equal(t, RegimeTrending, regime)
	assert.Equal(t, 1.0, factor)
}

func TestRegimeChoppyOnMixedEMAs(t *testing.T) {
	// A long rise followed by a short pullback: the fast EMA dips under the
	// mid while the mid still sits above the slow, so the stack is mixed.
	values := make([]float64, 0, 48)
	for v := 100.0; v <= 188; v += 2 {
		values = append(values, v)
	}
	values = append(values, 184, 180, 176)
	src := &stubCandles{candles: series(values...)}
	d := NewRegimeDetector(src, regimeConfig())

	regime, factor := d.Classify(context.Background(), "BTCUSDT")
	assert.Equal(t, RegimeChoppy, regime)
	assert.Equal(t, 0.6, factor)
}

func TestRegimeNeutralOnFetchFailure(t *testing.T) {
	src := &stubCandles{err: errors.New("exchange down")}
	d := NewRegimeDetector(src, regimeConfig())

	regime, factor := d.Classify(context.Background(), "BTCUSDT")
	assert.Equal(t, RegimeUnknown, regime)
	assert.Equal(t, 1.0, factor)
}

func TestRegimeNeutralWhenDisabled(t *testing.T) {
	src := &stubCandles{candles: rising(50)}
	cfg := regimeConfig()
	cfg.Enabled = false
	d := NewRegimeDetector(src, cfg)

	_, factor := d.Classify(context.Background(), "BTCUSDT")
	assert.Equal(t, 1.0, factor)
	assert.Zero(t, src.calls)
}

func TestRegimeCachesPerSymbol(t *testing.T) {
	src := &stubCandles{candles: rising(50)}
	d := NewRegimeDetector(src, regimeConfig())
	ctx := context.Background()

	d.Classify(ctx, "BTCUSDT")
	d.Classify(ctx, "BTCUSDT")
	assert.Equal(t, 1, src.calls)

	d.Classify(ctx, "ETHUSDT")
	assert.Equal(t, 2, src.calls)
}
