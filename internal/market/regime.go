package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"tiller/internal/config"
	"tiller/internal/logger"

	talib "github.com/markcheno/go-talib"
)

// Regime labels derived from EMA alignment.
const (
	RegimeTrending = "trending"
	RegimeChoppy   = "choppy"
	RegimeUnknown  = "unknown"
)

// Factors by regime. A clean EMA stack means the trend is paying; a mixed
// stack halves conviction. Unknown never penalizes: sizing must not stall on
// missing candles.
const (
	trendingFactor = 1.0
	choppyFactor   = 0.6
	unknownFactor  = 1.0
)

const regimeCacheTTL = 5 * time.Minute

// RegimeDetector classifies a symbol's regime from EMA fast/mid/slow
// alignment and exposes it as a sizing dampener in (0, 1].
type RegimeDetector struct {
	source CandleSource
	cfg    config.RegimeConfig
	nowFn  func() time.Time

	mu    sync.Mutex
	cache map[string]regimeEntry
}

type regimeEntry struct {
	regime    string
	factor    float64
	fetchedAt time.Time
}

func NewRegimeDetector(source CandleSource, cfg config.RegimeConfig) *RegimeDetector {
	return &RegimeDetector{
		source: source,
		cfg:    cfg,
		nowFn:  time.Now,
		cache:  make(map[string]regimeEntry),
	}
}

// RegimeFactor returns the sizing dampener for a symbol. Detection faults
// yield the neutral factor.
func (d *RegimeDetector) RegimeFactor(ctx context.Context, symbol string) float64 {
	_, factor := d.Classify(ctx, symbol)
	return factor
}

// Classify returns the regime label and its factor.
func (d *RegimeDetector) Classify(ctx context.Context, symbol string) (string, float64) {
	if d == nil || !d.cfg.Enabled || d.source == nil {
		return RegimeUnknown, unknownFactor
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	now := d.nowFn()

	d.mu.Lock()
	if entry, ok := d.cache[symbol]; ok && now.Sub(entry.fetchedAt) <= regimeCacheTTL {
		d.mu.Unlock()
		return entry.regime, entry.factor
	}
	d.mu.Unlock()

	regime, factor := d.detect(ctx, symbol)
	d.mu.Lock()
	d.cache[symbol] = regimeEntry{regime: regime, factor: factor, fetchedAt: now}
	d.mu.Unlock()
	return regime, factor
}

func (d *RegimeDetector) detect(ctx context.Context, symbol string) (string, float64) {
	lookback := d.cfg.Lookback
	if lookback < d.cfg.Slow*2 {
		lookback = d.cfg.Slow * 2
	}
	candles, err := d.source.Candles(ctx, symbol, d.cfg.Interval, lookback)
	if err != nil {
		logger.Debugf("Regime: candle fetch for %s failed, staying neutral: %v", symbol, err)
		return RegimeUnknown, unknownFactor
	}
	if len(candles) < d.cfg.Slow {
		return RegimeUnknown, unknownFactor
	}

	closes := Closes(candles)
	fast := lastValue(talib.Ema(closes, d.cfg.Fast))
	mid := lastValue(talib.Ema(closes, d.cfg.Mid))
	slow := lastValue(talib.Ema(closes, d.cfg.Slow))
	if fast <= 0 || mid <= 0 || slow <= 0 {
		return RegimeUnknown, unknownFactor
	}

	if (fast > mid && mid > slow) || (fast < mid && mid < slow) {
		return RegimeTrending, trendingFactor
	}
	return RegimeChoppy, choppyFactor
}

func lastValue(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != 0 {
			return series[i]
		}
	}
	return 0
}
