package types

// AdjustmentFactors are the four multiplicative dampeners applied to the
// clipped Kelly fraction, each in (0, 1].
type AdjustmentFactors struct {
	Account     float64 `json:"account"`
	Risk        float64 `json:"risk"`
	Opportunity float64 `json:"opportunity"`
	Regime      float64 `json:"regime"`
}

// Product multiplies the four factors together.
func (f AdjustmentFactors) Product() float64 {
	return f.Account * f.Risk * f.Opportunity * f.Regime
}

// SizingRecommendation is the ephemeral output of the position sizer for a
// single opportunity.
type SizingRecommendation struct {
	Symbol        string            `json:"symbol"`
	Size          float64           `json:"size"`
	Quantity      float64           `json:"quantity"`
	Denomination  string            `json:"denomination"`
	RiskPercent   float64           `json:"risk_percent"`
	KellyFraction float64           `json:"kelly_fraction"`
	FinalFraction float64           `json:"final_fraction"`
	Factors       AdjustmentFactors `json:"factors"`
	Capped        bool              `json:"capped,omitempty"`
}
