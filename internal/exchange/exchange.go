// Package exchange defines the venue capability set the bot consumes and the
// value types crossing that boundary. Concrete venues live in subpackages as
// thin adapter structs; callers only ever see this interface.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Side is the order side on the venue.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// MarginType selects isolated or cross margin for a symbol.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// OrderStatus mirrors the venue's order lifecycle states.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderExpired         OrderStatus = "EXPIRED"
	OrderRejected        OrderStatus = "REJECTED"
)

// SymbolInfo carries per-symbol precision and limits.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tickSize"`
	StepSize    float64 `json:"stepSize"`
	MinQty      float64 `json:"minQty"`
	MinNotional float64 `json:"minNotional"`
	MaxLeverage int     `json:"maxLeverage"`
}

// OrderResult is the venue's answer to a placement request.
type OrderResult struct {
	OrderID      string
	AvgFillPrice float64 // Zero for resting stop/TP orders
	FilledQty    float64
}

// OrderUpdate is one event from the venue's user-data stream.
type OrderUpdate struct {
	Symbol       string
	OrderID      string
	Status       OrderStatus
	FilledQty    float64
	AveragePrice float64
}

// Filled reports whether the update is a terminal fill.
func (u OrderUpdate) Filled() bool { return u.Status == OrderFilled }

// Client is the capability set the core needs from a venue. All calls are
// safe for concurrent use; all blocking calls take a context.
type Client interface {
	TestConnectivity(ctx context.Context) error
	AllSymbols(ctx context.Context) (map[string]SymbolInfo, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Balance(ctx context.Context, asset string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, margin MarginType) error
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderResult, error)
	PlaceStopLoss(ctx context.Context, symbol string, side Side, qty, stopPrice float64, reduceOnly bool) (OrderResult, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side Side, qty, stopPrice float64, reduceOnly bool) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// OpenPositions returns symbol -> signed quantity for every open
	// position on the venue. Used by external-close reconciliation.
	OpenPositions(ctx context.Context) (map[string]float64, error)
	// SubscribeOrderUpdates starts the user-data stream and invokes the
	// callback for every order event. The returned function stops the
	// subscription.
	SubscribeOrderUpdates(ctx context.Context, fn func(OrderUpdate)) (func(), error)
}

// ErrSymbolNotFound is returned by lookups for symbols the venue does not list.
var ErrSymbolNotFound = errors.New("symbol not found")

// QuantityLimitError is a rejection that conveys the maximum quantity the
// venue allows for the symbol at the current leverage. The trader retries
// once at that quantity.
type QuantityLimitError struct {
	MaxQty float64
	Msg    string
}

func (e *QuantityLimitError) Error() string {
	return fmt.Sprintf("quantity exceeds venue limit (max %g): %s", e.MaxQty, e.Msg)
}

// HardRejectError is a non-retryable venue rejection (bad parameters,
// untradable symbol, auth failure).
type HardRejectError struct {
	Code int
	Msg  string
}

func (e *HardRejectError) Error() string {
	return fmt.Sprintf("venue rejected order: %d %s", e.Code, e.Msg)
}

var maxQtyRe = regexp.MustCompile(`(?i)max(?:imum)?\s+(?:allowed\s+)?(?:quantity|qty)[^0-9]*([0-9]+(?:\.[0-9]+)?)`)

// ParseMaxQuantity extracts a maximum-quantity figure from a venue error
// message, returning ok=false when the message carries none.
func ParseMaxQuantity(msg string) (float64, bool) {
	m := maxQtyRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
