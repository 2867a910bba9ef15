// Package manager applies order-update events to live positions: take-profit
// fills with stop-loss migration, stop fills, full closes with realized-PnL
// accounting, and reconciliation of positions closed externally on the venue.
//
// Stop migration is deliberately cancel-then-replace. The brief unprotected
// window is tolerated because the alternative ordering risks two live stops
// triggering concurrently.
package manager

import (
	"context"
	"fmt"
	"time"

	"signal-bot/internal/exchange"
	"signal-bot/internal/metrics"
	"signal-bot/internal/position"
	"signal-bot/internal/signal"
	"signal-bot/internal/storage"

	"github.com/rs/zerolog/log"
)

// Notifier delivers user-facing alerts. Optional.
type Notifier interface {
	Notify(text string)
}

// Manager routes order updates into position state transitions.
type Manager struct {
	client    exchange.Client
	store     *storage.PositionStore
	stats     *storage.StatisticsStore
	onClosed  func(*position.Position) // Cooldown hook, set at construction
	canManage func() bool              // Operating-mode gate
	metrics   *metrics.Wrapper
	notifier  Notifier
}

// Config wires a Manager.
type Config struct {
	Client    exchange.Client
	Store     *storage.PositionStore
	Stats     *storage.StatisticsStore
	OnClosed  func(*position.Position)
	CanManage func() bool
	Metrics   *metrics.Wrapper
	Notifier  Notifier
}

// New builds a Manager.
func New(c Config) *Manager {
	m := &Manager{
		client:    c.Client,
		store:     c.Store,
		stats:     c.Stats,
		onClosed:  c.OnClosed,
		canManage: c.CanManage,
		metrics:   c.Metrics,
		notifier:  c.Notifier,
	}
	if m.onClosed == nil {
		m.onClosed = func(*position.Position) {}
	}
	if m.canManage == nil {
		m.canManage = func() bool { return true }
	}
	return m
}

func (m *Manager) notify(text string) {
	if m.notifier != nil {
		m.notifier.Notify(text)
	}
}

// HandleOrderUpdate routes one user-data event. Non-fill events and order
// ids the store does not know (entry orders, compensating closes, stale ids)
// are ignored.
func (m *Manager) HandleOrderUpdate(ctx context.Context, u exchange.OrderUpdate) {
	if !u.Filled() {
		return
	}
	pos, targetIdx, ok := m.store.FindByOrderID(u.Symbol, u.OrderID)
	if !ok {
		log.Debug().
			Str("symbol", u.Symbol).
			Str("order_id", u.OrderID).
			Msg("fill event not routable, ignoring")
		return
	}
	if !m.canManage() {
		log.Warn().
			Str("symbol", u.Symbol).
			Str("order_id", u.OrderID).
			Msg("operating mode blocks position management, event dropped")
		return
	}

	if targetIdx < 0 {
		m.handleStopFill(ctx, pos, u)
		return
	}
	m.handleTargetFill(ctx, pos, targetIdx, u)
}

// handleStopFill closes out the remainder of a position whose protective
// stop fired.
func (m *Manager) handleStopFill(ctx context.Context, pos *position.Position, u exchange.OrderUpdate) {
	if pos.Status != position.StatusOpen && pos.Status != position.StatusPartialClosed {
		return
	}

	m.cancelRemainingTakeProfits(ctx, pos)

	exit := u.AveragePrice
	if exit <= 0 {
		exit = pos.StopLoss
	}
	slice := pos.SlicePnL(exit, pos.RemainingQty)
	pos.RealizedPnL += slice
	m.metrics.AddPnL(slice)
	pos.MarkClosed(position.CloseStopLossHit, time.Now())
	m.persist(pos)
	m.metrics.StopHit()
	m.archive(pos)

	log.Info().
		Str("symbol", pos.Symbol).
		Float64("exit", exit).
		Float64("pnl", pos.RealizedPnL).
		Msg("stop-loss hit, position closed")
	m.notify(fmt.Sprintf("Stop hit on %s %s at %g, PnL %.2f", pos.Direction, pos.Symbol, exit, pos.RealizedPnL))
}

// handleTargetFill applies one take-profit fill, migrates the stop when the
// ladder says so, and closes the position when nothing remains.
func (m *Manager) handleTargetFill(ctx context.Context, pos *position.Position, k int, u exchange.OrderUpdate) {
	if k >= len(pos.Targets) {
		return
	}
	target := &pos.Targets[k]
	if target.Hit {
		// Duplicate delivery of the same fill event.
		return
	}

	fill := u.AveragePrice
	if fill <= 0 {
		fill = target.Price
	}
	now := time.Now()
	target.Hit = true
	target.HitAt = &now
	target.FillPrice = fill

	closedQty := target.Quantity
	pos.RemainingQty -= closedQty
	if pos.RemainingQty < 1e-9 {
		pos.RemainingQty = 0
	}
	slice := pos.SlicePnL(fill, closedQty)
	pos.RealizedPnL += slice
	m.metrics.AddPnL(slice)
	m.metrics.TargetHit()

	if target.MoveStopTo != nil && pos.RemainingQty > 0 {
		m.migrateStop(ctx, pos, *target.MoveStopTo)
	}

	if pos.RemainingQty == 0 {
		if pos.StopOrderID != "" {
			if err := m.client.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
				log.Warn().Err(err).Str("order_id", pos.StopOrderID).Msg("cancel stop after final target failed")
			}
		}
		pos.MarkClosed(position.CloseAllTargetsHit, now)
		m.persist(pos)
		m.archive(pos)
		log.Info().
			Str("symbol", pos.Symbol).
			Float64("pnl", pos.RealizedPnL).
			Msg("all targets hit, position closed")
		m.notify(fmt.Sprintf("All targets hit on %s %s, PnL %.2f", pos.Direction, pos.Symbol, pos.RealizedPnL))
		return
	}

	pos.Status = position.StatusPartialClosed
	m.persist(pos)
	log.Info().
		Str("symbol", pos.Symbol).
		Int("target", k).
		Float64("fill", fill).
		Float64("remaining", pos.RemainingQty).
		Msg("target hit")
}

// migrateStop replaces the protective stop at a new price for the remaining
// quantity. Cancel-then-replace; a placement failure leaves the recorded
// stop untouched.
func (m *Manager) migrateStop(ctx context.Context, pos *position.Position, newStop float64) {
	if pos.StopOrderID != "" {
		if err := m.client.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			log.Warn().Err(err).Str("order_id", pos.StopOrderID).Msg("cancel stop for migration failed, continuing")
		}
	}
	res, err := m.client.PlaceStopLoss(ctx, pos.Symbol, pos.CloseSide(), pos.RemainingQty, newStop, true)
	if err != nil {
		log.Warn().Err(err).
			Str("symbol", pos.Symbol).
			Float64("new_stop", newStop).
			Msg("stop migration placement failed, keeping previous stop record")
		return
	}
	pos.StopLoss = newStop
	pos.StopOrderID = res.OrderID
	log.Info().
		Str("symbol", pos.Symbol).
		Float64("stop", newStop).
		Msg("stop-loss migrated")
}

// CloseAtMarket flattens a live position with a market order and records the
// close under the given reason. Used by duplicate handling, commands and the
// emergency transition.
func (m *Manager) CloseAtMarket(ctx context.Context, pos *position.Position, reason position.CloseReason) error {
	m.cancelProtection(ctx, pos)

	exit := pos.EntryPrice
	if pos.RemainingQty > 0 {
		res, err := m.client.PlaceMarketOrder(ctx, pos.Symbol, pos.CloseSide(), pos.RemainingQty)
		if err != nil {
			return fmt.Errorf("market close of %s: %w", pos.Symbol, err)
		}
		if res.AvgFillPrice > 0 {
			exit = res.AvgFillPrice
		}
		slice := pos.SlicePnL(exit, pos.RemainingQty)
		pos.RealizedPnL += slice
		m.metrics.AddPnL(slice)
	}
	pos.MarkClosed(reason, time.Now())
	m.persist(pos)
	m.archive(pos)
	log.Info().
		Str("symbol", pos.Symbol).
		Str("reason", string(reason)).
		Float64("pnl", pos.RealizedPnL).
		Msg("position closed at market")
	return nil
}

// Reconcile compares venue positions against the local store and closes
// local records whose exchange position is gone. A disappearance with the
// mark beyond the recorded stop is treated as a liquidation.
func (m *Manager) Reconcile(ctx context.Context) error {
	venuePositions, err := m.client.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch venue positions: %w", err)
	}
	for _, pos := range m.store.ListOpen() {
		if pos.Status != position.StatusOpen && pos.Status != position.StatusPartialClosed {
			continue
		}
		if qty := venuePositions[pos.Symbol]; qty != 0 {
			continue
		}
		reason := position.CloseManual
		exit := pos.EntryPrice
		if mark, err := m.client.MarkPrice(ctx, pos.Symbol); err == nil && mark > 0 {
			exit = mark
			if breachedStop(pos, mark) {
				reason = position.CloseLiquidation
			}
		}
		m.cancelProtection(ctx, pos)
		slice := pos.SlicePnL(exit, pos.RemainingQty)
		pos.RealizedPnL += slice
		m.metrics.AddPnL(slice)
		pos.MarkClosed(reason, time.Now())
		m.persist(pos)
		m.archive(pos)
		log.Warn().
			Str("symbol", pos.Symbol).
			Str("reason", string(reason)).
			Msg("position closed externally on the venue, reconciled")
		m.notify(fmt.Sprintf("%s %s was closed on the exchange (%s)", pos.Direction, pos.Symbol, reason))
	}
	return nil
}

func breachedStop(pos *position.Position, mark float64) bool {
	if pos.Direction == signal.Long {
		return mark < pos.StopLoss
	}
	return mark > pos.StopLoss
}

func (m *Manager) cancelProtection(ctx context.Context, pos *position.Position) {
	if pos.StopOrderID != "" {
		if err := m.client.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			log.Warn().Err(err).Str("order_id", pos.StopOrderID).Msg("cancel stop failed, continuing")
		}
		pos.StopOrderID = ""
	}
	m.cancelRemainingTakeProfits(ctx, pos)
}

func (m *Manager) cancelRemainingTakeProfits(ctx context.Context, pos *position.Position) {
	for i, id := range pos.TakeProfitOrderIDs {
		if id == "" || (i < len(pos.Targets) && pos.Targets[i].Hit) {
			continue
		}
		if err := m.client.CancelOrder(ctx, pos.Symbol, id); err != nil {
			log.Warn().Err(err).Str("order_id", id).Int("target", i).Msg("cancel take-profit failed, continuing")
		}
		pos.TakeProfitOrderIDs[i] = ""
	}
}

// archive pushes a closed position into the statistics store and fires the
// cooldown hook.
func (m *Manager) archive(pos *position.Position) {
	if err := m.stats.Append(position.RecordOf(pos)); err != nil {
		log.Error().Err(err).Str("position", pos.ID).Msg("archiving trade record failed")
		m.metrics.Error()
	}
	m.onClosed(pos)
	m.metrics.SetPositionsOpen(len(m.store.ListOpen()))
}

// persist saves the position, treating store failure as fatal for the
// process per the recovery contract.
func (m *Manager) persist(pos *position.Position) {
	if err := m.store.Save(pos); err != nil {
		log.Fatal().Err(err).Str("position", pos.ID).Msg("position persistence failed")
	}
}
