// Package bitunix adapts the Bitunix futures API to the exchange capability
// set. REST access goes through a resty client with connection pooling and
// built-in retry; the order-update stream lives in ws.go.
package bitunix

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"signal-bot/internal/exchange"

	"github.com/go-resty/resty/v2"
)

// Client provides REST API access to the Bitunix exchange.
type Client struct {
	key, secret, base string
	wsURL             string
	rest              *resty.Client
}

// New creates a REST client with optimized HTTP transport settings.
func New(key, secret, base, wsURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	r := resty.New()
	r.SetTransport(transport)
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(3)
	r.SetRetryWaitTime(1 * time.Second)
	r.SetRetryMaxWaitTime(5 * time.Second)

	return &Client{key: key, secret: secret, base: base, wsURL: wsURL, rest: r}
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e envelope) err() error {
	if e.Code != 0 {
		return fmt.Errorf("bitunix: %d %s", e.Code, e.Msg)
	}
	return nil
}

func (c *Client) signedHeaders() map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := ts
	return map[string]string{
		"api-key":   c.key,
		"nonce":     nonce,
		"timestamp": ts,
		"sign":      Sign(c.secret, nonce, c.key, ts),
	}
}

func (c *Client) TestConnectivity(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get(c.base + "/api/v1/common/server_time")
	if err != nil {
		return fmt.Errorf("bitunix ping: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("bitunix ping: status %d", resp.StatusCode())
	}
	return nil
}

type symbolRow struct {
	Symbol      string `json:"symbol"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minTradeVolume"`
	MinNotional string `json:"minTradeAmount"`
	MaxLeverage int    `json:"maxLeverage"`
}

func (c *Client) AllSymbols(ctx context.Context) (map[string]exchange.SymbolInfo, error) {
	var result struct {
		envelope
		Data []symbolRow `json:"data"`
	}
	resp, err := c.rest.R().SetContext(ctx).SetResult(&result).Get(c.base + "/api/v1/futures/market/trading_pairs")
	if err != nil {
		return nil, fmt.Errorf("bitunix trading pairs: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("bitunix trading pairs: status %d", resp.StatusCode())
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	out := make(map[string]exchange.SymbolInfo, len(result.Data))
	for _, row := range result.Data {
		out[row.Symbol] = exchange.SymbolInfo{
			Symbol:      row.Symbol,
			TickSize:    parseFloat(row.TickSize),
			StepSize:    parseFloat(row.StepSize),
			MinQty:      parseFloat(row.MinQty),
			MinNotional: parseFloat(row.MinNotional),
			MaxLeverage: row.MaxLeverage,
		}
	}
	return out, nil
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	all, err := c.AllSymbols(ctx)
	if err != nil {
		return exchange.SymbolInfo{}, err
	}
	info, ok := all[symbol]
	if !ok {
		return exchange.SymbolInfo{}, exchange.ErrSymbolNotFound
	}
	return info, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	var result struct {
		envelope
		Data struct {
			MarkPrice string `json:"markPrice"`
		} `json:"data"`
	}
	_, err := c.rest.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get(c.base + "/api/v1/futures/market/mark_price")
	if err != nil {
		return 0, fmt.Errorf("bitunix mark price: %w", err)
	}
	if err := result.err(); err != nil {
		return 0, err
	}
	return parseFloat(result.Data.MarkPrice), nil
}

func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	var result struct {
		envelope
		Data struct {
			Available string `json:"available"`
		} `json:"data"`
	}
	_, err := c.rest.R().SetContext(ctx).
		SetHeaders(c.signedHeaders()).
		SetQueryParam("marginCoin", asset).
		SetResult(&result).
		Get(c.base + "/api/v1/futures/account")
	if err != nil {
		return 0, fmt.Errorf("bitunix balance: %w", err)
	}
	if err := result.err(); err != nil {
		return 0, err
	}
	return parseFloat(result.Data.Available), nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.post(ctx, "/api/v1/futures/account/change_leverage", map[string]interface{}{
		"symbol":   symbol,
		"leverage": leverage,
	}, nil)
}

func (c *Client) SetMarginType(ctx context.Context, symbol string, margin exchange.MarginType) error {
	mode := "ISOLATION"
	if margin == exchange.MarginCrossed {
		mode = "CROSS"
	}
	return c.post(ctx, "/api/v1/futures/account/change_margin_mode", map[string]interface{}{
		"symbol":     symbol,
		"marginMode": mode,
	}, nil)
}

// orderReq is the Bitunix order payload.
type orderReq struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	TradeSide  string `json:"tradeSide"`
	Qty        string `json:"qty"`
	OrderType  string `json:"orderType"`
	StopPrice  string `json:"stopPrice,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

type orderData struct {
	OrderID  string `json:"orderId"`
	AvgPrice string `json:"avgPrice"`
	DealQty  string `json:"dealVolume"`
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty float64) (exchange.OrderResult, error) {
	return c.placeOrder(ctx, orderReq{
		Symbol:    symbol,
		Side:      string(side),
		TradeSide: "OPEN",
		Qty:       formatFloat(qty),
		OrderType: "MARKET",
	})
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool) (exchange.OrderResult, error) {
	return c.placeOrder(ctx, orderReq{
		Symbol:     symbol,
		Side:       string(side),
		TradeSide:  "CLOSE",
		Qty:        formatFloat(qty),
		OrderType:  "STOP_LOSS",
		StopPrice:  formatFloat(stopPrice),
		ReduceOnly: reduceOnly,
	})
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool) (exchange.OrderResult, error) {
	return c.placeOrder(ctx, orderReq{
		Symbol:     symbol,
		Side:       string(side),
		TradeSide:  "CLOSE",
		Qty:        formatFloat(qty),
		OrderType:  "TAKE_PROFIT",
		StopPrice:  formatFloat(stopPrice),
		ReduceOnly: reduceOnly,
	})
}

func (c *Client) placeOrder(ctx context.Context, o orderReq) (exchange.OrderResult, error) {
	var result struct {
		envelope
		Data orderData `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/futures/trade/place_order", o, &result); err != nil {
		if maxQty, ok := exchange.ParseMaxQuantity(err.Error()); ok {
			return exchange.OrderResult{}, &exchange.QuantityLimitError{MaxQty: maxQty, Msg: err.Error()}
		}
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{
		OrderID:      result.Data.OrderID,
		AvgFillPrice: parseFloat(result.Data.AvgPrice),
		FilledQty:    parseFloat(result.Data.DealQty),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return c.post(ctx, "/api/v1/futures/trade/cancel_order", map[string]interface{}{
		"symbol":  symbol,
		"orderId": orderID,
	}, nil)
}

func (c *Client) OpenPositions(ctx context.Context) (map[string]float64, error) {
	var result struct {
		envelope
		Data []struct {
			Symbol string `json:"symbol"`
			Qty    string `json:"qty"`
			Side   string `json:"side"`
		} `json:"data"`
	}
	_, err := c.rest.R().SetContext(ctx).
		SetHeaders(c.signedHeaders()).
		SetResult(&result).
		Get(c.base + "/api/v1/futures/position/get_pending_positions")
	if err != nil {
		return nil, fmt.Errorf("bitunix positions: %w", err)
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, p := range result.Data {
		qty := parseFloat(p.Qty)
		if p.Side == "SELL" {
			qty = -qty
		}
		if qty != 0 {
			out[p.Symbol] = qty
		}
	}
	return out, nil
}

// post issues a signed POST and decodes the code/msg envelope. A nil result
// decodes into a bare envelope.
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	var env envelope
	if result == nil {
		result = &env
	}
	resp, err := c.rest.R().SetContext(ctx).
		SetHeaders(c.signedHeaders()).
		SetBody(body).
		SetResult(result).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("bitunix %s: %w", path, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("bitunix %s: status %d, body: %s", path, resp.StatusCode(), resp.String())
	}
	if e, ok := result.(interface{ err() error }); ok {
		return e.err()
	}
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
