package binance

import (
	"context"
	"strconv"

	"tiller/internal/market"
)

// Candles fetches recent klines for the regime detector, newest last.
func (b *Broker) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(normalizeSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapAPIError("get candles", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

var _ market.CandleSource = (*Broker)(nil)

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
