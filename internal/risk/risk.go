// Package risk supplies the portfolio risk factor consumed by sizing. The
// factor lives in (0, 1]; lower means the portfolio is already carrying more
// risk and new entries should shrink.
package risk

import (
	"context"

	"tiller/internal/store"
)

// StaticProvider returns a fixed factor. Used in dry runs and as a manual
// override.
type StaticProvider struct {
	Factor float64
}

func (s StaticProvider) RiskFactor(_ context.Context) (float64, error) {
	if s.Factor <= 0 || s.Factor > 1 {
		return 1, nil
	}
	return s.Factor, nil
}

// ConcentrationProvider derives the factor from symbol concentration among
// open positions. A book dominated by one symbol sizes new entries down even
// when capital is free.
type ConcentrationProvider struct {
	positions store.PositionStore
}

func NewConcentrationProvider(positions store.PositionStore) *ConcentrationProvider {
	return &ConcentrationProvider{positions: positions}
}

// RiskFactor returns 1 for an empty or balanced book and approaches 0.5 as a
// single symbol absorbs the whole book.
func (c *ConcentrationProvider) RiskFactor(ctx context.Context) (float64, error) {
	open, err := c.positions.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 1, nil
	}

	bySymbol := make(map[string]float64)
	var total float64
	for _, p := range open {
		v := p.EntryValue()
		bySymbol[p.Symbol] += v
		total += v
	}
	if total <= 0 {
		return 1, nil
	}

	var maxShare float64
	for _, v := range bySymbol {
		if share := v / total; share > maxShare {
			maxShare = share
		}
	}
	return 1 - maxShare*0.5, nil
}
