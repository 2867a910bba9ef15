package trader

import (
	"context"
	"errors"
	"math"
	"testing"

	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/exchange/paper"
	"signal-bot/internal/position"
	"signal-bot/internal/signal"
	"signal-bot/internal/sizing"
	"signal-bot/internal/storage"
	"signal-bot/internal/validate"
)

var abcInfo = exchange.SymbolInfo{
	Symbol:      "ABCUSDT",
	TickSize:    0.01,
	StepSize:    0.01,
	MinQty:      0.01,
	MinNotional: 5,
}

func testSetup(t *testing.T) (*Trader, *paper.Client, *storage.PositionStore) {
	t.Helper()
	venue := paper.New(10000)
	venue.AddSymbol(abcInfo)
	venue.SetMark("ABCUSDT", 100)

	store, err := storage.NewPositionStore(t.TempDir())
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	trd := New(Config{
		Client: venue,
		Store:  store,
		Sizer:  sizing.New(cfg.SizingPolicy{Mode: cfg.SizeRiskPercent, RiskPercent: 1.0}),
		Entry: cfg.EntryPolicy{
			MaxDeviationPercent: 0.5,
			Action:              cfg.DeviationSkip,
			MaxSlippagePercent:  0.5,
		},
		MarginMode: "ISOLATED",
		MaxRetries: 1,
		Breakeven:  true,
	})
	return trd, venue, store
}

func validated() *validate.Result {
	s := &signal.Signal{
		ID:        "sig-1",
		Symbol:    "ABCUSDT",
		Direction: signal.Long,
		Entry:     100,
		StopLoss:  95,
		Targets:   []float64{101, 102, 103, 104},
		Leverage:  10,
	}
	return &validate.Result{
		Signal:           s,
		AdjustedStop:     95,
		AdjustedLeverage: 10,
		LiquidationPrice: 90.2,
		RiskReward:       0.2,
		Valid:            true,
	}
}

func TestExecute_HappyPath(t *testing.T) {
	trd, venue, store := testSetup(t)

	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if pos.Status != position.StatusOpen {
		t.Fatalf("expected Open, got %s", pos.Status)
	}
	if math.Abs(pos.InitialQty-20.0) > 1e-9 {
		t.Errorf("expected quantity 20, got %g", pos.InitialQty)
	}
	if pos.StopOrderID == "" {
		t.Error("protective stop order id must be recorded")
	}
	if len(pos.TakeProfitOrderIDs) != 4 {
		t.Fatalf("expected 4 take-profit ids, got %d", len(pos.TakeProfitOrderIDs))
	}
	for i, id := range pos.TakeProfitOrderIDs {
		if id == "" {
			t.Errorf("take-profit %d id missing", i)
		}
	}

	// Quantity conservation across the ladder.
	var sum float64
	for _, tg := range pos.Targets {
		sum += tg.Quantity
	}
	if math.Abs(sum-pos.InitialQty) > abcInfo.StepSize {
		t.Errorf("ladder sums to %g, want %g", sum, pos.InitialQty)
	}

	// The venue carries one stop + four TPs.
	if n := len(venue.RestingOrders()); n != 5 {
		t.Errorf("expected 5 resting orders on the venue, got %d", n)
	}

	// Persisted state matches.
	saved := store.GetBySymbol("ABCUSDT")
	if saved == nil || saved.Status != position.StatusOpen || saved.StopOrderID != pos.StopOrderID {
		t.Errorf("persisted state mismatch: %+v", saved)
	}
}

func TestExecute_DeviationSkip(t *testing.T) {
	trd, venue, store := testSetup(t)
	venue.SetMark("ABCUSDT", 101.2) // 1.2% off the planned 100

	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if pos.Status != position.StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", pos.Status)
	}
	if n := len(venue.RestingOrders()); n != 0 {
		t.Errorf("no exchange order may be placed, found %d", n)
	}
	if open, _ := venue.OpenPositions(context.Background()); len(open) != 0 {
		t.Errorf("no venue position may exist, found %v", open)
	}
	if saved := store.GetByID(pos.ID); saved == nil || saved.Status != position.StatusCancelled {
		t.Error("cancellation must be persisted")
	}
}

func TestExecute_AdjustTargetsShiftsLadderOnly(t *testing.T) {
	trd, venue, _ := testSetup(t)
	trd.entry.Action = cfg.DeviationAdjustTargets
	venue.SetMark("ABCUSDT", 101) // 1% deviation, fill at 101

	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if pos.Status != position.StatusOpen {
		t.Fatalf("expected Open, got %s", pos.Status)
	}
	if pos.Targets[0].Price != 102 || pos.Targets[3].Price != 105 {
		t.Errorf("targets should shift with the fill: %v", pos.Targets)
	}
	if pos.StopLoss != 95 {
		t.Errorf("stop must stay fixed under EnterAndAdjustTargets, got %g", pos.StopLoss)
	}
}

func TestExecute_StopFailureTriggersCompensatingClose(t *testing.T) {
	trd, venue, store := testSetup(t)
	venue.StopLossErr = errors.New("venue rejected the stop")

	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err == nil {
		t.Fatal("expected an error surfacing the failed protection")
	}
	if pos.Status != position.StatusClosed || pos.CloseReason != position.CloseError {
		t.Fatalf("expected Closed/Error, got %s/%s", pos.Status, pos.CloseReason)
	}
	if open, _ := venue.OpenPositions(context.Background()); len(open) != 0 {
		t.Errorf("compensating close must flatten the venue, found %v", open)
	}
	if n := len(venue.RestingOrders()); n != 0 {
		t.Errorf("no take-profit may be placed after a failed stop, found %d", n)
	}
	if saved := store.GetByID(pos.ID); saved == nil || saved.Status != position.StatusClosed {
		t.Error("the error close must be persisted")
	}
}

func TestExecute_MaxQuantityFallback(t *testing.T) {
	trd, venue, _ := testSetup(t)
	venue.EntryMaxQty = 12 // Requested 20 is rejected once with the cap

	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if math.Abs(pos.InitialQty-12.0) > 1e-9 {
		t.Errorf("expected the capped quantity 12, got %g", pos.InitialQty)
	}

	// Targets are rebuilt against the filled quantity before protection.
	var sum float64
	for _, tg := range pos.Targets {
		sum += tg.Quantity
	}
	if math.Abs(sum-12.0) > abcInfo.StepSize {
		t.Errorf("ladder not rebuilt over the fill: sums to %g", sum)
	}
	if pos.StopOrderID == "" {
		t.Error("stop must still be placed after the fallback")
	}
}

func TestExecute_ZeroQuantityCancels(t *testing.T) {
	venue := paper.New(10)
	venue.AddSymbol(abcInfo)
	venue.SetMark("ABCUSDT", 100)
	store, err := storage.NewPositionStore(t.TempDir())
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	trd := New(Config{
		Client:     venue,
		Store:      store,
		Sizer:      sizing.New(cfg.SizingPolicy{Mode: cfg.SizeRiskPercent, RiskPercent: 1.0}),
		Entry:      cfg.EntryPolicy{MaxDeviationPercent: 0.5, Action: cfg.DeviationSkip, MaxSlippagePercent: 0.5},
		MarginMode: "ISOLATED",
		MaxRetries: 1,
	})

	// Equity 0.1 at 1% risk over a 5% stop gives a 0.02 notional, below the
	// venue's minimum notional of 5, so sizing returns a zero quantity.
	pos, err := trd.Execute(context.Background(), validated(), 0.1, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if pos.Status != position.StatusCancelled {
		t.Errorf("expected Cancelled on zero quantity, got %s", pos.Status)
	}
}

func TestExecute_TakeProfitFailureTolerated(t *testing.T) {
	trd, venue, _ := testSetup(t)
	venue.TakeProfitErr = errors.New("transient TP failure")

	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("a failed take-profit must not abort the position: %v", err)
	}
	if pos.Status != position.StatusOpen {
		t.Fatalf("expected Open, got %s", pos.Status)
	}
	if pos.TakeProfitOrderIDs[0] != "" {
		t.Error("the failed target should have no order id")
	}
	placed := 0
	for _, id := range pos.TakeProfitOrderIDs {
		if id != "" {
			placed++
		}
	}
	if placed != 3 {
		t.Errorf("expected the remaining 3 targets placed, got %d", placed)
	}
}

func TestReplaceTargets(t *testing.T) {
	trd, venue, store := testSetup(t)
	pos, err := trd.Execute(context.Background(), validated(), 10000, 0, 1.0, abcInfo)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if err := trd.ReplaceTargets(context.Background(), pos, []float64{105, 110}, abcInfo); err != nil {
		t.Fatalf("replace targets failed: %v", err)
	}
	if len(pos.Targets) != 2 || pos.Targets[1].Price != 110 {
		t.Errorf("new ladder not applied: %v", pos.Targets)
	}
	var sum float64
	for _, tg := range pos.Targets {
		sum += tg.Quantity
	}
	if math.Abs(sum-pos.RemainingQty) > abcInfo.StepSize {
		t.Errorf("new ladder sums to %g, want %g", sum, pos.RemainingQty)
	}
	// One stop + two TPs resting.
	if n := len(venue.RestingOrders()); n != 3 {
		t.Errorf("expected 3 resting orders after replacement, got %d", n)
	}
	if saved := store.GetByID(pos.ID); len(saved.Targets) != 2 {
		t.Error("replacement must be persisted")
	}
}
