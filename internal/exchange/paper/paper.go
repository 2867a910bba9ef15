// Package paper provides an in-memory simulated venue. It fills market
// orders at the configured mark price, keeps stop and take-profit orders
// resting until a test or the dry-run driver triggers them, and delivers
// synthetic order updates to subscribers.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"signal-bot/internal/exchange"
)

// RestingOrder is a stop or take-profit order waiting for its trigger.
type RestingOrder struct {
	ID         string
	Symbol     string
	Side       exchange.Side
	Qty        float64
	StopPrice  float64
	ReduceOnly bool
	TakeProfit bool
}

// Client is the simulated venue. The zero value is not usable; use New.
type Client struct {
	mu        sync.Mutex
	balance   float64
	marks     map[string]float64
	infos     map[string]exchange.SymbolInfo
	positions map[string]float64 // Signed quantity per symbol
	resting   map[string]*RestingOrder
	subs      map[int]func(exchange.OrderUpdate)
	nextID    int
	nextSub   int

	// Fault injection for tests: errors returned by the next matching call.
	MarketOrderErr error
	StopLossErr    error
	TakeProfitErr  error
	SymbolsErr     error
	// EntryMaxQty, when set, rejects the next market order above it with a
	// QuantityLimitError conveying the cap.
	EntryMaxQty float64
}

// New builds a paper venue with the given quote balance.
func New(balance float64) *Client {
	return &Client{
		balance:   balance,
		marks:     make(map[string]float64),
		infos:     make(map[string]exchange.SymbolInfo),
		positions: make(map[string]float64),
		resting:   make(map[string]*RestingOrder),
		subs:      make(map[int]func(exchange.OrderUpdate)),
	}
}

// AddSymbol lists a symbol with its precision limits.
func (c *Client) AddSymbol(info exchange.SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos[info.Symbol] = info
}

// SetMark sets the mark price used for fills.
func (c *Client) SetMark(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = price
}

// SetBalance overrides the quote balance.
func (c *Client) SetBalance(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = v
}

func (c *Client) TestConnectivity(ctx context.Context) error { return nil }

func (c *Client) AllSymbols(ctx context.Context) (map[string]exchange.SymbolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SymbolsErr != nil {
		err := c.SymbolsErr
		c.SymbolsErr = nil
		return nil, err
	}
	out := make(map[string]exchange.SymbolInfo, len(c.infos))
	for k, v := range c.infos {
		out[k] = v
	}
	return out, nil
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.infos[symbol]
	if !ok {
		return exchange.SymbolInfo{}, exchange.ErrSymbolNotFound
	}
	return info, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mark, ok := c.marks[symbol]
	if !ok {
		return 0, fmt.Errorf("no mark price for %s", symbol)
	}
	return mark, nil
}

func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (c *Client) SetMarginType(ctx context.Context, symbol string, margin exchange.MarginType) error {
	return nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty float64) (exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MarketOrderErr != nil {
		err := c.MarketOrderErr
		c.MarketOrderErr = nil
		return exchange.OrderResult{}, err
	}
	if c.EntryMaxQty > 0 && qty > c.EntryMaxQty {
		maxQty := c.EntryMaxQty
		c.EntryMaxQty = 0
		return exchange.OrderResult{}, &exchange.QuantityLimitError{
			MaxQty: maxQty,
			Msg:    fmt.Sprintf("maximum quantity %g at current leverage", maxQty),
		}
	}
	mark, ok := c.marks[symbol]
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("no mark price for %s", symbol)
	}
	signed := qty
	if side == exchange.Sell {
		signed = -qty
	}
	c.positions[symbol] += signed
	if c.positions[symbol] == 0 {
		delete(c.positions, symbol)
	}
	id := c.allocateIDLocked()
	return exchange.OrderResult{OrderID: id, AvgFillPrice: mark, FilledQty: qty}, nil
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool) (exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StopLossErr != nil {
		err := c.StopLossErr
		c.StopLossErr = nil
		return exchange.OrderResult{}, err
	}
	id := c.allocateIDLocked()
	c.resting[id] = &RestingOrder{ID: id, Symbol: symbol, Side: side, Qty: qty, StopPrice: stopPrice, ReduceOnly: reduceOnly}
	return exchange.OrderResult{OrderID: id}, nil
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side exchange.Side, qty, stopPrice float64, reduceOnly bool) (exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TakeProfitErr != nil {
		err := c.TakeProfitErr
		c.TakeProfitErr = nil
		return exchange.OrderResult{}, err
	}
	id := c.allocateIDLocked()
	c.resting[id] = &RestingOrder{ID: id, Symbol: symbol, Side: side, Qty: qty, StopPrice: stopPrice, ReduceOnly: reduceOnly, TakeProfit: true}
	return exchange.OrderResult{OrderID: id}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resting[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(c.resting, orderID)
	return nil
}

func (c *Client) OpenPositions(ctx context.Context) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.positions))
	for k, v := range c.positions {
		out[k] = v
	}
	return out, nil
}

func (c *Client) SubscribeOrderUpdates(ctx context.Context, fn func(exchange.OrderUpdate)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}, nil
}

// Trigger fills a resting order at its stop price and notifies subscribers.
// Test and dry-run helper.
func (c *Client) Trigger(orderID string) error {
	return c.TriggerAt(orderID, 0)
}

// TriggerAt fills a resting order at the given price (the order's stop price
// when zero) and notifies subscribers synchronously.
func (c *Client) TriggerAt(orderID string, price float64) error {
	c.mu.Lock()
	o, ok := c.resting[orderID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(c.resting, orderID)
	if price == 0 {
		price = o.StopPrice
	}
	signed := o.Qty
	if o.Side == exchange.Sell {
		signed = -o.Qty
	}
	c.positions[o.Symbol] += signed
	if roughlyZero(c.positions[o.Symbol]) {
		delete(c.positions, o.Symbol)
	}
	subs := make([]func(exchange.OrderUpdate), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	u := exchange.OrderUpdate{
		Symbol:       o.Symbol,
		OrderID:      o.ID,
		Status:       exchange.OrderFilled,
		FilledQty:    o.Qty,
		AveragePrice: price,
	}
	for _, fn := range subs {
		fn(u)
	}
	return nil
}

// RestingOrders returns a copy of the resting order book, for assertions.
func (c *Client) RestingOrders() []RestingOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RestingOrder, 0, len(c.resting))
	for _, o := range c.resting {
		out = append(out, *o)
	}
	return out
}

// ErasePosition drops the venue-side position without an order, simulating
// an external close or liquidation for reconciliation tests.
func (c *Client) ErasePosition(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, symbol)
}

func (c *Client) allocateIDLocked() string {
	c.nextID++
	return "paper-" + strconv.Itoa(c.nextID)
}

func roughlyZero(v float64) bool {
	return v > -1e-9 && v < 1e-9
}
