package types

// Opportunity is a scored trade candidate produced by an external signal
// source. The controller consumes it; it never computes scores itself.
type Opportunity struct {
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	ExpectedReturn float64 `json:"expected_return"`
	ExpectedLoss   float64 `json:"expected_loss,omitempty"`
	WinProbability float64 `json:"win_probability"`
	CurrentPrice   float64 `json:"current_price"`
	Confidence     float64 `json:"confidence"`
	Strategy       string  `json:"strategy"`
	Denomination   string  `json:"denomination,omitempty"`
}
