// Package binance adapts the Binance USD-M futures API to the exchange
// capability set, over the adshao/go-binance SDK. REST calls map one to one;
// the user-data stream is bridged in stream.go.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"signal-bot/internal/exchange"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
)

// Client is the Binance futures adapter.
type Client struct {
	api *futures.Client
}

// New builds the adapter. Testnet routing is a package-level switch in the
// SDK and must be set before the client is created.
func New(key, secret string, testnet bool) *Client {
	futures.UseTestnet = testnet
	return &Client{api: futures.NewClient(key, secret)}
}

func (c *Client) TestConnectivity(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	return nil
}

func (c *Client) AllSymbols(ctx context.Context) (map[string]exchange.SymbolInfo, error) {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}
	out := make(map[string]exchange.SymbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		out[s.Symbol] = symbolInfoOf(s)
	}
	return out, nil
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.SymbolInfo{}, fmt.Errorf("binance exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol && s.Status == "TRADING" {
			return symbolInfoOf(s), nil
		}
	}
	return exchange.SymbolInfo{}, exchange.ErrSymbolNotFound
}

func symbolInfoOf(s futures.Symbol) exchange.SymbolInfo {
	out := exchange.SymbolInfo{Symbol: s.Symbol}
	if f := s.LotSizeFilter(); f != nil {
		out.StepSize = parseFloat(f.StepSize)
		out.MinQty = parseFloat(f.MinQuantity)
	}
	if f := s.PriceFilter(); f != nil {
		out.TickSize = parseFloat(f.TickSize)
	}
	if f := s.MinNotionalFilter(); f != nil {
		out.MinNotional = parseFloat(f.Notional)
	}
	return out
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance premium index: %w", err)
	}
	if len(prices) == 0 {
		return 0, exchange.ErrSymbolNotFound
	}
	return parseFloat(prices[0].MarkPrice), nil
}

func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == asset {
			return parseFloat(b.Balance), nil
		}
	}
	return 0, fmt.Errorf("no %s balance on the account", asset)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance change leverage: %w", err)
	}
	return nil
}

func (c *Client) SetMarginType(ctx context.Context, symbol string, margin exchange.MarginType) error {
	mt := futures.MarginTypeIsolated
	if margin == exchange.MarginCrossed {
		mt = futures.MarginTypeCrossed
	}
	err := c.api.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx)
	if err != nil {
		// -4046: no need to change margin type
		if strings.Contains(err.Error(), "-4046") {
			return nil
		}
		return fmt.Errorf("binance change margin type: %w", err)
	}
	return nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty float64) (exchange.OrderResult, error) {
	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(qty)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, classifyOrderError(err)
	}
	return exchange.OrderResult{
		OrderID:      strconv.FormatInt(res.OrderID, 10),
		AvgFillPrice: parseFloat(res.AvgPrice),
		FilledQty:    parseFloat(res.ExecutedQuantity),
	}, nil
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool) (exchange.OrderResult, error) {
	return c.placeTrigger(ctx, symbol, side, qty, stopPrice, reduceOnly, futures.OrderType(futures.AlgoOrderTypeStopMarket))
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool) (exchange.OrderResult, error) {
	return c.placeTrigger(ctx, symbol, side, qty, stopPrice, reduceOnly, futures.OrderType(futures.AlgoOrderTypeTakeProfitMarket))
}

func (c *Client) placeTrigger(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool, typ futures.OrderType) (exchange.OrderResult, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(typ).
		Quantity(formatFloat(qty)).
		StopPrice(formatFloat(stopPrice)).
		WorkingType(futures.WorkingTypeMarkPrice)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, classifyOrderError(err)
	}
	return exchange.OrderResult{OrderID: strconv.FormatInt(res.OrderID, 10)}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed order id %q: %w", orderID, err)
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("binance cancel order: %w", err)
	}
	return nil
}

func (c *Client) OpenPositions(ctx context.Context) (map[string]float64, error) {
	risks, err := c.api.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	out := make(map[string]float64)
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt != 0 {
			out[r.Symbol] = amt
		}
	}
	return out, nil
}

// classifyOrderError promotes SDK errors into the taxonomy the trader
// branches on: quantity-limit rejections and hard rejections.
func classifyOrderError(err error) error {
	msg := err.Error()
	if maxQty, ok := exchange.ParseMaxQuantity(msg); ok {
		return &exchange.QuantityLimitError{MaxQty: maxQty, Msg: msg}
	}
	// -2019 margin insufficient, -4003 quantity too small, -1111 precision:
	// all are parameter problems a retry will not fix.
	for _, code := range []string{"-1111", "-2019", "-4003", "-2014", "-2015"} {
		if strings.Contains(msg, code) {
			log.Debug().Str("code", code).Msg("classified as hard rejection")
			return &exchange.HardRejectError{Msg: msg}
		}
	}
	return err
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
