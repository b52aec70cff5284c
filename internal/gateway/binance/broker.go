// Package binance adapts the Binance USD-M futures REST API to the broker
// interfaces, via the go-binance SDK.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tiller/internal/gateway/broker"
	"tiller/internal/logger"
	"tiller/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

type Broker struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Broker, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Broker{cfg: final, client: client}, nil
}

func (b *Broker) Name() string { return "binance" }

func (b *Broker) GetBalance(ctx context.Context, denomination string) (float64, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, wrapAPIError("get balance", err)
	}
	asset := strings.ToUpper(strings.TrimSpace(denomination))
	for _, bal := range balances {
		if !strings.EqualFold(bal.Asset, asset) {
			continue
		}
		total, err := strconv.ParseFloat(bal.Balance, 64)
		if err != nil {
			return 0, fmt.Errorf("parse balance %q for %s: %w", bal.Balance, asset, err)
		}
		return total, nil
	}
	return 0, fmt.Errorf("no balance entry for asset %s", asset)
}

func (b *Broker) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(normalizeSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, wrapAPIError("get price", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	last, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return last, nil
}

func (b *Broker) ClosePosition(ctx context.Context, req broker.CloseRequest) (broker.ExecutionResult, error) {
	side := futures.SideTypeSell
	if strings.EqualFold(req.Side, "short") {
		side = futures.SideTypeBuy
	}
	order, err := b.client.NewCreateOrderService().
		Symbol(normalizeSymbol(req.Symbol)).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(req.Quantity)).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return broker.ExecutionResult{}, wrapAPIError("close position", err)
	}

	exitPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	executedQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if executedQty <= 0 {
		executedQty = req.Quantity
	}
	logger.Infof("Binance: closed %s %s qty=%v avg=%v orderID=%d",
		req.Symbol, req.Side, executedQty, exitPrice, order.OrderID)
	return broker.ExecutionResult{
		PositionID:  req.PositionID,
		Symbol:      req.Symbol,
		ClosedQty:   executedQty,
		ExitPrice:   exitPrice,
		FullyClosed: req.Fraction >= 1,
		ExecutedAt:  time.Now(),
	}, nil
}

var _ broker.Broker = (*Broker)(nil)

// wrapAPIError maps Binance API key errors onto broker.ErrAuth so the loop
// can distinguish fatal auth failures from transient ones.
func wrapAPIError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1022, -2014, -2015:
			return fmt.Errorf("%s: %s: %w", op, apiErr.Message, broker.ErrAuth)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func normalizeSymbol(pair string) string {
	return symbol.Normalize(pair)
}

func formatQuantity(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}
