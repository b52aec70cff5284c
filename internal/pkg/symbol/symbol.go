// Package symbol normalizes trading pair notation. Opportunities arrive as
// "BTC/USDT", "btcusdt" or "BTCUSDT:USDT" depending on the signal source;
// brokers want one canonical exchange form.
package symbol

import "strings"

type Symbol struct {
	Base  string
	Quote string
}

// Exchange renders the concatenated exchange form, e.g. BTCUSDT.
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// quoteCurrencies known for suffix splitting of concatenated pairs.
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

// Parse splits a pair in any supported notation into base and quote.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize renders any notation as the exchange form. Unparseable input is
// uppercased and stripped of separators rather than dropped, so an exotic
// pair still round-trips to the broker.
func Normalize(s string) string {
	if sym := Parse(s); sym.Exchange() != "" {
		return sym.Exchange()
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
