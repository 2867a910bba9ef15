package manager

import (
	"context"
	"math"
	"testing"
	"time"

	"signal-bot/internal/exchange"
	"signal-bot/internal/exchange/paper"
	"signal-bot/internal/position"
	"signal-bot/internal/signal"
	"signal-bot/internal/storage"
)

type fixture struct {
	venue  *paper.Client
	store  *storage.PositionStore
	stats  *storage.StatisticsStore
	mgr    *Manager
	closed []*position.Position
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	venue := paper.New(10000)
	venue.SetMark("ABCUSDT", 100)
	store, err := storage.NewPositionStore(dir)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	stats, err := storage.NewStatisticsStore(dir, storage.DefaultWindows())
	if err != nil {
		t.Fatalf("stats init: %v", err)
	}
	f := &fixture{venue: venue, store: store, stats: stats}
	f.mgr = New(Config{
		Client:   venue,
		Store:    store,
		Stats:    stats,
		OnClosed: func(p *position.Position) { f.closed = append(f.closed, p) },
	})
	return f
}

// openLongPosition builds a live Long 20 @ 100 with four breakeven-migrating
// targets and real resting orders on the paper venue.
func (f *fixture) openLongPosition(t *testing.T) *position.Position {
	t.Helper()
	ctx := context.Background()

	// Venue-side exposure.
	if _, err := f.venue.PlaceMarketOrder(ctx, "ABCUSDT", exchange.Buy, 20); err != nil {
		t.Fatalf("venue entry: %v", err)
	}

	opened := time.Now()
	pos := &position.Position{
		ID:           "pos-1",
		SignalID:     "sig-1",
		Symbol:       "ABCUSDT",
		Direction:    signal.Long,
		Status:       position.StatusOpen,
		PlannedEntry: 100,
		EntryPrice:   100,
		StopLoss:     95,
		Leverage:     10,
		InitialQty:   20,
		RemainingQty: 20,
		CreatedAt:    opened,
		OpenedAt:     &opened,
	}
	pos.Targets = position.BuildTargets([]float64{101, 102, 103, 104}, nil, 20, 0.01, 100, true)

	stop, err := f.venue.PlaceStopLoss(ctx, "ABCUSDT", exchange.Sell, 20, 95, true)
	if err != nil {
		t.Fatalf("venue stop: %v", err)
	}
	pos.StopOrderID = stop.OrderID
	pos.TakeProfitOrderIDs = make([]string, len(pos.Targets))
	for i, tg := range pos.Targets {
		tp, err := f.venue.PlaceTakeProfit(ctx, "ABCUSDT", exchange.Sell, tg.Quantity, tg.Price, true)
		if err != nil {
			t.Fatalf("venue tp %d: %v", i, err)
		}
		pos.TakeProfitOrderIDs[i] = tp.OrderID
	}
	if err := f.store.Save(pos); err != nil {
		t.Fatalf("save: %v", err)
	}
	return pos
}

func fill(symbol, orderID string, price float64) exchange.OrderUpdate {
	return exchange.OrderUpdate{
		Symbol:       symbol,
		OrderID:      orderID,
		Status:       exchange.OrderFilled,
		AveragePrice: price,
	}
}

// subscribe routes paper fills straight into the manager, the way the
// runner's event consumer does in production.
func (f *fixture) subscribe(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := f.venue.SubscribeOrderUpdates(ctx, func(u exchange.OrderUpdate) {
		f.mgr.HandleOrderUpdate(ctx, u)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestAllTargetsHitWithStopMigration(t *testing.T) {
	f := newFixture(t)
	pos := f.openLongPosition(t)
	ctx := context.Background()
	f.subscribe(t, ctx)

	expectStops := []float64{100, 101, 102} // After targets 1..3
	for k := 0; k < 4; k++ {
		if err := f.venue.TriggerAt(pos.TakeProfitOrderIDs[k], pos.Targets[k].Price); err != nil {
			t.Fatalf("trigger target %d: %v", k, err)
		}
		cur := f.store.GetByID("pos-1")
		if k < 3 {
			if cur.Status != position.StatusPartialClosed {
				t.Fatalf("after target %d expected PartialClosed, got %s", k, cur.Status)
			}
			if math.Abs(cur.StopLoss-expectStops[k]) > 1e-9 {
				t.Errorf("after target %d expected stop %g, got %g", k, expectStops[k], cur.StopLoss)
			}
		}
	}

	final := f.store.GetByID("pos-1")
	if final.Status != position.StatusClosed || final.CloseReason != position.CloseAllTargetsHit {
		t.Fatalf("expected Closed/AllTargetsHit, got %s/%s", final.Status, final.CloseReason)
	}
	// 5×1 + 5×2 + 5×3 + 5×4 = 50
	if math.Abs(final.RealizedPnL-50.0) > 0.5 {
		t.Errorf("expected PnL ~50, got %g", final.RealizedPnL)
	}
	if final.RemainingQty != 0 {
		t.Errorf("expected zero remaining, got %g", final.RemainingQty)
	}
	if len(f.closed) != 1 {
		t.Errorf("close hook should fire once, fired %d", len(f.closed))
	}
	if recs := f.stats.Records(); len(recs) != 1 || recs[0].CloseReason != position.CloseAllTargetsHit {
		t.Errorf("statistics not archived: %+v", recs)
	}
	// Nothing left resting on the venue.
	if n := len(f.venue.RestingOrders()); n != 0 {
		t.Errorf("expected a clean venue book, found %d orders", n)
	}
}

func TestTargetFillIdempotent(t *testing.T) {
	f := newFixture(t)
	pos := f.openLongPosition(t)
	ctx := context.Background()
	f.subscribe(t, ctx)

	if err := f.venue.TriggerAt(pos.TakeProfitOrderIDs[0], 101); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	once := f.store.GetByID("pos-1")

	// The stream redelivers the same fill.
	f.mgr.HandleOrderUpdate(ctx, fill("ABCUSDT", pos.TakeProfitOrderIDs[0], 101))
	twice := f.store.GetByID("pos-1")

	if once.RemainingQty != twice.RemainingQty || once.RealizedPnL != twice.RealizedPnL {
		t.Errorf("duplicate delivery changed state: %g/%g vs %g/%g",
			once.RemainingQty, once.RealizedPnL, twice.RemainingQty, twice.RealizedPnL)
	}
	if !twice.Targets[0].Hit {
		t.Error("target must stay hit")
	}
}

func TestStopFillClosesAndCancelsTargets(t *testing.T) {
	f := newFixture(t)
	f.venue.SetMark("XYZUSDT", 50)
	ctx := context.Background()

	if _, err := f.venue.PlaceMarketOrder(ctx, "XYZUSDT", exchange.Sell, 4); err != nil {
		t.Fatalf("venue entry: %v", err)
	}
	opened := time.Now()
	pos := &position.Position{
		ID:           "pos-2",
		Symbol:       "XYZUSDT",
		Direction:    signal.Short,
		Status:       position.StatusOpen,
		EntryPrice:   50,
		StopLoss:     52,
		InitialQty:   4,
		RemainingQty: 4,
		CreatedAt:    opened,
		OpenedAt:     &opened,
	}
	pos.Targets = position.BuildTargets([]float64{49, 48, 47, 46}, nil, 4, 0.01, 50, false)
	stop, _ := f.venue.PlaceStopLoss(ctx, "XYZUSDT", exchange.Buy, 4, 52, true)
	pos.StopOrderID = stop.OrderID
	pos.TakeProfitOrderIDs = make([]string, 4)
	for i, tg := range pos.Targets {
		tp, _ := f.venue.PlaceTakeProfit(ctx, "XYZUSDT", exchange.Buy, tg.Quantity, tg.Price, true)
		pos.TakeProfitOrderIDs[i] = tp.OrderID
	}
	if err := f.store.Save(pos); err != nil {
		t.Fatalf("save: %v", err)
	}

	f.subscribe(t, ctx)
	if err := f.venue.TriggerAt(pos.StopOrderID, 52); err != nil {
		t.Fatalf("trigger stop: %v", err)
	}

	final := f.store.GetByID("pos-2")
	if final.Status != position.StatusClosed || final.CloseReason != position.CloseStopLossHit {
		t.Fatalf("expected Closed/StopLossHit, got %s/%s", final.Status, final.CloseReason)
	}
	if final.RealizedPnL >= 0 {
		t.Errorf("short stopped above entry must lose, got %g", final.RealizedPnL)
	}
	if math.Abs(final.RealizedPnL-(-8.0)) > 1e-9 {
		t.Errorf("expected PnL -8, got %g", final.RealizedPnL)
	}
	if n := len(f.venue.RestingOrders()); n != 0 {
		t.Errorf("remaining take-profits must be cancelled, found %d", n)
	}
	if len(f.closed) != 1 || f.closed[0].CloseReason != position.CloseStopLossHit {
		t.Error("close hook must see the stop-loss close")
	}
}

func TestUnroutableEventIgnored(t *testing.T) {
	f := newFixture(t)
	f.openLongPosition(t)

	f.mgr.HandleOrderUpdate(context.Background(), fill("ABCUSDT", "entry-order-id", 100))

	cur := f.store.GetByID("pos-1")
	if cur.Status != position.StatusOpen || cur.RemainingQty != 20 {
		t.Errorf("unroutable event must not touch the position: %+v", cur)
	}
}

func TestManageGateBlocksEvents(t *testing.T) {
	f := newFixture(t)
	pos := f.openLongPosition(t)
	manage := true
	f.mgr.canManage = func() bool { return manage }

	manage = false
	f.mgr.HandleOrderUpdate(context.Background(), fill("ABCUSDT", pos.TakeProfitOrderIDs[0], 101))
	if cur := f.store.GetByID("pos-1"); cur.Targets[0].Hit {
		t.Error("gated event must not apply")
	}
}

func TestCloseAtMarket(t *testing.T) {
	f := newFixture(t)
	pos := f.openLongPosition(t)
	f.venue.SetMark("ABCUSDT", 103)

	if err := f.mgr.CloseAtMarket(context.Background(), pos, position.CloseOppositeSignal); err != nil {
		t.Fatalf("close at market failed: %v", err)
	}
	final := f.store.GetByID("pos-1")
	if final.Status != position.StatusClosed || final.CloseReason != position.CloseOppositeSignal {
		t.Fatalf("expected Closed/OppositeSignal, got %s/%s", final.Status, final.CloseReason)
	}
	if math.Abs(final.RealizedPnL-60.0) > 1e-9 { // 20 × (103-100)
		t.Errorf("expected PnL 60, got %g", final.RealizedPnL)
	}
	if open, _ := f.venue.OpenPositions(context.Background()); len(open) != 0 {
		t.Errorf("venue should be flat, got %v", open)
	}
	if n := len(f.venue.RestingOrders()); n != 0 {
		t.Errorf("protection must be cancelled, found %d", n)
	}
}

func TestReconcile_ExternalCloseAndLiquidation(t *testing.T) {
	f := newFixture(t)
	pos := f.openLongPosition(t)
	ctx := context.Background()

	// The venue position disappears with the mark above the stop: a manual
	// close elsewhere.
	f.venue.ErasePosition("ABCUSDT")
	f.venue.SetMark("ABCUSDT", 99)
	if err := f.mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	final := f.store.GetByID(pos.ID)
	if final.Status != position.StatusClosed || final.CloseReason != position.CloseManual {
		t.Fatalf("expected Closed/ManualClose, got %s/%s", final.Status, final.CloseReason)
	}

	// Second position disappears with the mark through the stop: treated as
	// a liquidation.
	f2 := newFixture(t)
	pos2 := f2.openLongPosition(t)
	f2.venue.ErasePosition("ABCUSDT")
	f2.venue.SetMark("ABCUSDT", 90)
	if err := f2.mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	final2 := f2.store.GetByID(pos2.ID)
	if final2.CloseReason != position.CloseLiquidation {
		t.Errorf("expected Liquidation, got %s", final2.CloseReason)
	}
	if len(f2.closed) != 1 {
		t.Errorf("close hook must fire for reconciled closes, fired %d", len(f2.closed))
	}
}
