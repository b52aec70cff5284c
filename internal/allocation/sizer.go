package allocation

import (
	"context"
	"fmt"
	"math"

	"tiller/internal/config"
	"tiller/internal/logger"
	"tiller/internal/types"
)

// RiskProvider is the external risk orchestrator: a scalar in (0, 1] where
// lower means more portfolio risk (concentration, drawdown).
type RiskProvider interface {
	RiskFactor(ctx context.Context) (float64, error)
}

// RegimeProvider reports how favorable the detected market regime is for a
// symbol, in (0, 1].
type RegimeProvider interface {
	RegimeFactor(ctx context.Context, symbol string) float64
}

// Sizer computes a risk-adjusted Kelly recommendation for one opportunity.
// Raw Kelly is provably too aggressive under parameter uncertainty, so the
// fraction is clipped to the configured ceiling before the four dampeners
// apply.
type Sizer struct {
	cfg    config.SizingConfig
	risk   RiskProvider
	regime RegimeProvider
}

func NewSizer(cfg config.SizingConfig, risk RiskProvider, regime RegimeProvider) *Sizer {
	return &Sizer{cfg: cfg, risk: risk, regime: regime}
}

// Size returns the recommendation for opportunity given the account
// snapshot. Same opportunity against the same snapshot yields the same
// recommendation.
func (s *Sizer) Size(ctx context.Context, opp types.Opportunity, account types.AccountSnapshot) (types.SizingRecommendation, error) {
	if opp.CurrentPrice <= 0 {
		return types.SizingRecommendation{}, fmt.Errorf("opportunity %s has no current price", opp.Symbol)
	}
	if opp.WinProbability < 0 || opp.WinProbability > 1 {
		return types.SizingRecommendation{}, fmt.Errorf("opportunity %s win probability %v out of [0,1]", opp.Symbol, opp.WinProbability)
	}

	kelly := s.kellyFraction(opp)
	clipped := clamp(kelly, 0, s.cfg.MaxRiskFraction)

	factors := types.AdjustmentFactors{
		Account:     s.accountFactor(account.Equity),
		Risk:        s.riskFactor(ctx),
		Opportunity: s.opportunityFactor(opp.Confidence),
		Regime:      s.regimeFactor(ctx, opp.Symbol),
	}

	final := clipped * factors.Product()
	size := account.Available * final
	capped := false
	if size > account.Available {
		size = account.Available
		capped = true
	}

	rec := types.SizingRecommendation{
		Symbol:        opp.Symbol,
		Size:          size,
		Quantity:      size / opp.CurrentPrice,
		Denomination:  account.Denomination,
		RiskPercent:   final * 100,
		KellyFraction: kelly,
		FinalFraction: final,
		Factors:       factors,
		Capped:        capped,
	}
	logger.Debugf("Sizer: %s kelly=%.4f clipped=%.4f factors=%.3f final=%.4f size=%.2f",
		opp.Symbol, kelly, clipped, factors.Product(), final, size)
	return rec, nil
}

// kellyFraction computes f = (p*b - q) / b with b the payoff ratio.
func (s *Sizer) kellyFraction(opp types.Opportunity) float64 {
	b := s.cfg.DefaultPayoffRatio
	if opp.ExpectedLoss > 0 {
		b = opp.ExpectedReturn / opp.ExpectedLoss
	}
	if b <= 0 {
		return 0
	}
	p := opp.WinProbability
	q := 1 - p
	return (p*b - q) / b
}

// accountFactor shrinks sizing as equity falls below the target account
// size. Capital preservation dominates on small accounts.
func (s *Sizer) accountFactor(equity float64) float64 {
	if s.cfg.TargetAccountSize <= 0 || equity >= s.cfg.TargetAccountSize {
		return 1
	}
	if equity <= 0 {
		return 0.1
	}
	return clamp(equity/s.cfg.TargetAccountSize, 0.1, 1)
}

func (s *Sizer) riskFactor(ctx context.Context) float64 {
	if s.risk == nil {
		return 1
	}
	factor, err := s.risk.RiskFactor(ctx)
	if err != nil {
		// Unknown portfolio risk reads as elevated risk.
		logger.Warnf("Sizer: risk orchestrator unavailable, halving size: %v", err)
		return 0.5
	}
	return clamp(factor, 0.05, 1)
}

// opportunityFactor scales with the signal's own confidence so low-conviction
// entries get materially smaller size even when Kelly is generous.
func (s *Sizer) opportunityFactor(confidence float64) float64 {
	if confidence <= 0 {
		return 0.1
	}
	return clamp(confidence, 0.1, 1)
}

func (s *Sizer) regimeFactor(ctx context.Context, symbol string) float64 {
	if s.regime == nil {
		return 1
	}
	return clamp(s.regime.RegimeFactor(ctx, symbol), 0.1, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
