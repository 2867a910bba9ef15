// Package trader executes one accepted, validated signal end to end: margin
// and leverage setup, entry market order with retry and quantity-limit
// fallback, protective stop placement, and scaled take-profit orders.
//
// The safety invariant is that an entered position either ends up protected
// by a stop order, or is flattened by a compensating market close before the
// trader returns. If that close fails too, the position stays open without a
// stop, is marked Failed, and an urgent alert is sent.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/metrics"
	"signal-bot/internal/position"
	"signal-bot/internal/sizing"
	"signal-bot/internal/storage"
	"signal-bot/internal/validate"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notifier delivers user-facing alerts. Optional.
type Notifier interface {
	Notify(text string)
}

// Trader opens positions for validated signals.
type Trader struct {
	client     exchange.Client
	store      *storage.PositionStore
	sizer      *sizing.Sizer
	entry      cfg.EntryPolicy
	marginType exchange.MarginType
	maxRetries int
	breakeven  bool
	metrics    *metrics.Wrapper
	notifier   Notifier
}

// Config wires a Trader.
type Config struct {
	Client     exchange.Client
	Store      *storage.PositionStore
	Sizer      *sizing.Sizer
	Entry      cfg.EntryPolicy
	MarginMode string
	MaxRetries int
	Breakeven  bool
	Metrics    *metrics.Wrapper
	Notifier   Notifier
}

// New builds a Trader.
func New(c Config) *Trader {
	mt := exchange.MarginIsolated
	if c.MarginMode == "CROSSED" {
		mt = exchange.MarginCrossed
	}
	retries := c.MaxRetries
	if retries < 1 {
		retries = 1
	}
	return &Trader{
		client:     c.Client,
		store:      c.Store,
		sizer:      c.Sizer,
		entry:      c.Entry,
		marginType: mt,
		maxRetries: retries,
		breakeven:  c.Breakeven,
		metrics:    c.Metrics,
		notifier:   c.Notifier,
	}
}

func (t *Trader) notify(text string) {
	if t.notifier != nil {
		t.notifier.Notify(text)
	}
}

// Execute runs one signal through the open sequence. The returned position
// reflects the final persisted state; a non-nil error means the position did
// not come out protected and live.
func (t *Trader) Execute(ctx context.Context, v *validate.Result, equity, exposure, sizeMultiplier float64, info exchange.SymbolInfo) (*position.Position, error) {
	sig := v.Signal
	now := time.Now()
	pos := &position.Position{
		ID:           uuid.New().String(),
		SignalID:     sig.ID,
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		Status:       position.StatusPending,
		PlannedEntry: sig.Entry,
		StopLoss:     v.AdjustedStop,
		Leverage:     v.AdjustedLeverage,
		CreatedAt:    now,
	}
	for i, price := range sig.Targets {
		pos.Targets = append(pos.Targets, position.Target{Index: i, Price: price, Fraction: 1.0 / float64(len(sig.Targets))})
	}
	if err := t.store.Save(pos); err != nil {
		return nil, fmt.Errorf("persist pending position: %w", err)
	}

	mark, err := t.client.MarkPrice(ctx, sig.Symbol)
	if err != nil {
		pos.Status = position.StatusFailed
		t.persist(pos)
		return pos, fmt.Errorf("mark price lookup: %w", err)
	}

	adjustTargets := false
	deviation := abs(mark-sig.Entry) / sig.Entry * 100
	if deviation > t.entry.MaxDeviationPercent {
		switch t.entry.Action {
		case cfg.DeviationSkip, cfg.DeviationPlaceLimit:
			// PlaceLimitAtEntry is declared but not wired; it cancels
			// rather than silently downgrading to a market entry.
			log.Info().
				Str("symbol", sig.Symbol).
				Float64("mark", mark).
				Float64("planned", sig.Entry).
				Float64("deviation_pct", deviation).
				Str("action", string(t.entry.Action)).
				Msg("price deviation beyond threshold, cancelling")
			pos.Status = position.StatusCancelled
			t.persist(pos)
			return pos, nil
		case cfg.DeviationAdjustTargets:
			adjustTargets = true
		case cfg.DeviationEnterAtMarket:
			log.Warn().
				Str("symbol", sig.Symbol).
				Float64("deviation_pct", deviation).
				Msg("entering at market despite price deviation")
		}
	}

	size := t.sizer.Size(sizing.Input{
		Symbol:          sig.Symbol,
		Entry:           sig.Entry,
		Stop:            v.AdjustedStop,
		Leverage:        v.AdjustedLeverage,
		Equity:          equity,
		CurrentExposure: exposure,
		SizeMultiplier:  sizeMultiplier,
		Info:            info,
	})
	for _, w := range size.Warnings {
		log.Warn().Str("symbol", sig.Symbol).Msg(w)
	}
	if size.Quantity <= 0 {
		pos.Status = position.StatusCancelled
		t.persist(pos)
		t.notify(fmt.Sprintf("Signal %s %s cancelled: sizing rejected the trade", sig.Symbol, sig.Direction))
		return pos, nil
	}

	// Leverage and margin setup is idempotent on the venue; a pre-existing
	// matching setting typically reports "not modified".
	if err := t.client.SetLeverage(ctx, sig.Symbol, v.AdjustedLeverage); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("set leverage failed, continuing")
	}
	if err := t.client.SetMarginType(ctx, sig.Symbol, t.marginType); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("set margin type failed, continuing")
	}

	pos.Status = position.StatusOpening
	t.persist(pos)

	entryRes, err := t.placeEntry(ctx, pos, size.Quantity, info)
	if err != nil {
		pos.Status = position.StatusFailed
		t.persist(pos)
		t.metrics.OrderFailed()
		t.notify(fmt.Sprintf("Entry failed for %s %s: %v", sig.Symbol, sig.Direction, err))
		return pos, fmt.Errorf("entry order: %w", err)
	}

	filledQty := entryRes.FilledQty
	if filledQty <= 0 {
		filledQty = size.Quantity
	}
	fillPrice := entryRes.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = mark
	}
	if slip := abs(fillPrice-mark) / mark * 100; slip > t.entry.MaxSlippagePercent {
		log.Warn().
			Str("symbol", sig.Symbol).
			Float64("slippage_pct", slip).
			Msg("entry slippage beyond configured threshold")
	}

	openedAt := time.Now()
	pos.EntryOrderID = entryRes.OrderID
	pos.EntryPrice = fillPrice
	pos.InitialQty = filledQty
	pos.RemainingQty = filledQty
	pos.OpenedAt = &openedAt
	pos.Status = position.StatusOpen

	targetPrices := append([]float64(nil), sig.Targets...)
	if adjustTargets {
		shift := fillPrice - sig.Entry
		for i := range targetPrices {
			targetPrices[i] += shift
		}
		log.Info().
			Str("symbol", sig.Symbol).
			Float64("shift", shift).
			Msg("targets shifted with the entry fill, stop unchanged")
	}
	pos.Targets = position.BuildTargets(targetPrices, nil, filledQty, info.StepSize, fillPrice, t.breakeven)
	t.persist(pos)

	if err := t.placeProtectiveStop(ctx, pos); err != nil {
		return pos, err
	}

	t.placeTakeProfits(ctx, pos)
	t.persist(pos)
	t.metrics.SignalExecuted()

	log.Info().
		Str("symbol", pos.Symbol).
		Str("direction", string(pos.Direction)).
		Float64("entry", pos.EntryPrice).
		Float64("qty", pos.InitialQty).
		Float64("stop", pos.StopLoss).
		Int("targets", len(pos.Targets)).
		Msg("position opened")
	t.notify(fmt.Sprintf("Opened %s %s qty %g @ %g, stop %g", pos.Direction, pos.Symbol, pos.InitialQty, pos.EntryPrice, pos.StopLoss))
	return pos, nil
}

// placeEntry places the entry market order with retry. A quantity-limit
// rejection triggers exactly one retry at the venue's parsed maximum.
func (t *Trader) placeEntry(ctx context.Context, pos *position.Position, qty float64, info exchange.SymbolInfo) (exchange.OrderResult, error) {
	res, err := t.placeWithRetry(ctx, "entry", func() (exchange.OrderResult, error) {
		return t.client.PlaceMarketOrder(ctx, pos.Symbol, pos.EntrySide(), qty)
	})
	var qle *exchange.QuantityLimitError
	if errors.As(err, &qle) {
		capped := position.RoundStep(min(qty, qle.MaxQty), info.StepSize)
		log.Warn().
			Str("symbol", pos.Symbol).
			Float64("requested", qty).
			Float64("capped", capped).
			Msg("entry rejected for quantity limit, retrying once at venue maximum")
		if capped <= 0 {
			return exchange.OrderResult{}, err
		}
		return t.client.PlaceMarketOrder(ctx, pos.Symbol, pos.EntrySide(), capped)
	}
	return res, err
}

// placeProtectiveStop installs the stop-market order. Exhausted retries
// trigger the compensating close: the position is flattened at market and
// recorded as closed with reason Error.
func (t *Trader) placeProtectiveStop(ctx context.Context, pos *position.Position) error {
	res, err := t.placeWithRetry(ctx, "stop-loss", func() (exchange.OrderResult, error) {
		return t.client.PlaceStopLoss(ctx, pos.Symbol, pos.CloseSide(), pos.RemainingQty, pos.StopLoss, true)
	})
	if err == nil {
		pos.StopOrderID = res.OrderID
		t.persist(pos)
		return nil
	}

	log.Error().Err(err).
		Str("symbol", pos.Symbol).
		Msg("stop placement failed after entry, issuing compensating close")
	t.metrics.OrderFailed()

	closeRes, closeErr := t.client.PlaceMarketOrder(ctx, pos.Symbol, pos.CloseSide(), pos.RemainingQty)
	if closeErr != nil {
		// The position is live and unprotected; this is the loudest alert
		// the system can raise short of crashing.
		log.Error().Err(closeErr).
			Str("symbol", pos.Symbol).
			Msg("compensating close failed, position is unprotected")
		t.notify(fmt.Sprintf("URGENT: %s %s is open without a stop and could not be flattened: %v", pos.Direction, pos.Symbol, closeErr))
		pos.Status = position.StatusFailed
		t.persist(pos)
		return fmt.Errorf("stop placement and compensating close both failed: %w", closeErr)
	}

	exit := closeRes.AvgFillPrice
	if exit <= 0 {
		exit = pos.EntryPrice
	}
	pos.RealizedPnL += pos.SlicePnL(exit, pos.RemainingQty)
	pos.MarkClosed(position.CloseError, time.Now())
	t.persist(pos)
	t.metrics.AddPnL(pos.RealizedPnL)
	t.notify(fmt.Sprintf("Stop placement failed for %s %s; position flattened at %g", pos.Direction, pos.Symbol, exit))
	return fmt.Errorf("stop placement failed, position flattened: %w", err)
}

// placeTakeProfits places one reduce-only TP per target. Individual failures
// are logged and skipped; the stop already protects the position.
func (t *Trader) placeTakeProfits(ctx context.Context, pos *position.Position) {
	pos.TakeProfitOrderIDs = make([]string, len(pos.Targets))
	for i, target := range pos.Targets {
		if target.Quantity <= 0 {
			continue
		}
		res, err := t.client.PlaceTakeProfit(ctx, pos.Symbol, pos.CloseSide(), target.Quantity, target.Price, true)
		if err != nil {
			log.Warn().Err(err).
				Str("symbol", pos.Symbol).
				Int("target", i).
				Float64("price", target.Price).
				Msg("take-profit placement failed, continuing")
			continue
		}
		pos.TakeProfitOrderIDs[i] = res.OrderID
		t.metrics.OrderPlaced()
	}
}

// ReplaceTargets rebuilds the take-profit ladder of a live position over its
// remaining quantity, used by the UpdateTargets duplicate policy. The stop
// is re-placed at the current stop price for the remaining quantity.
func (t *Trader) ReplaceTargets(ctx context.Context, pos *position.Position, prices []float64, info exchange.SymbolInfo) error {
	for i, id := range pos.TakeProfitOrderIDs {
		if id == "" {
			continue
		}
		if err := t.client.CancelOrder(ctx, pos.Symbol, id); err != nil {
			log.Warn().Err(err).Str("order_id", id).Int("target", i).Msg("cancel take-profit failed, continuing")
		}
	}
	if pos.StopOrderID != "" {
		if err := t.client.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			log.Warn().Err(err).Str("order_id", pos.StopOrderID).Msg("cancel stop failed, continuing")
		}
		pos.StopOrderID = ""
	}

	pos.Targets = position.BuildTargets(prices, nil, pos.RemainingQty, info.StepSize, pos.EntryPrice, t.breakeven)
	if err := t.placeProtectiveStop(ctx, pos); err != nil {
		return err
	}
	t.placeTakeProfits(ctx, pos)
	t.persist(pos)
	log.Info().
		Str("symbol", pos.Symbol).
		Int("targets", len(prices)).
		Msg("target ladder replaced over remaining quantity")
	return nil
}

// placeWithRetry runs a placement with bounded linear-backoff retries.
// Quantity-limit and hard rejections are surfaced immediately.
func (t *Trader) placeWithRetry(ctx context.Context, label string, place func() (exchange.OrderResult, error)) (exchange.OrderResult, error) {
	var lastErr error
	start := time.Now()
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		res, err := place()
		if err == nil {
			t.metrics.OrderPlaced()
			t.metrics.ObserveOrderLatency(time.Since(start).Seconds())
			return res, nil
		}
		lastErr = err

		var qle *exchange.QuantityLimitError
		var hard *exchange.HardRejectError
		if errors.As(err, &qle) || errors.As(err, &hard) {
			return exchange.OrderResult{}, err
		}

		if attempt < t.maxRetries-1 {
			t.metrics.OrderRetried()
			delay := time.Duration(attempt+1) * time.Second
			log.Warn().Err(err).
				Str("order", label).
				Int("retry", attempt+1).
				Dur("delay", delay).
				Msg("order placement failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return exchange.OrderResult{}, ctx.Err()
			}
		}
	}
	return exchange.OrderResult{}, fmt.Errorf("%s placement failed after %d attempts: %w", label, t.maxRetries, lastErr)
}

// persist saves the position, treating store failure as fatal for the
// process per the recovery contract.
func (t *Trader) persist(pos *position.Position) {
	if err := t.store.Save(pos); err != nil {
		log.Fatal().Err(err).Str("position", pos.ID).Msg("position persistence failed")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
