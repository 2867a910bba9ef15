package validate

import (
	"math"
	"strings"
	"testing"

	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/signal"
)

func testPolicy() cfg.RiskPolicy {
	return cfg.RiskPolicy{
		MaxLeverage:          20,
		UseSignalLeverage:    true,
		StopLossMode:         cfg.StopFromSignal,
		SafeDistanceFraction: 0.5,
		MaintenanceBuffer:    0.02,
	}
}

func longSignal() *signal.Signal {
	return &signal.Signal{
		Symbol:    "BTCUSDT",
		Direction: signal.Long,
		Entry:     100,
		StopLoss:  95,
		Targets:   []float64{101, 102, 103, 104},
		Leverage:  10,
	}
}

var info = exchange.SymbolInfo{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.01}

func TestValidate_HappyPath(t *testing.T) {
	v := New(testPolicy())
	res, err := v.Validate(longSignal(), info, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Fatal("expected a valid result")
	}
	if res.AdjustedLeverage != 10 {
		t.Errorf("signal leverage inside the cap should survive, got %d", res.AdjustedLeverage)
	}
	// liqDistance = 100/10 * 0.98 = 9.8 -> liq = 90.2
	if math.Abs(res.LiquidationPrice-90.2) > 1e-9 {
		t.Errorf("expected liquidation 90.2, got %g", res.LiquidationPrice)
	}
	// Published stop 95 is inside liquidation -> kept.
	if res.AdjustedStop != 95 {
		t.Errorf("expected the published stop, got %g", res.AdjustedStop)
	}
	// R:R = 1 / 5
	if math.Abs(res.RiskReward-0.2) > 1e-9 {
		t.Errorf("expected R:R 0.2, got %g", res.RiskReward)
	}
	if !hasWarning(res.Warnings, "risk:reward") {
		t.Errorf("sub-1.0 R:R should warn: %v", res.Warnings)
	}
}

func TestValidate_LeverageCapped(t *testing.T) {
	v := New(testPolicy())
	s := longSignal()
	s.Leverage = 50
	res, err := v.Validate(s, info, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AdjustedLeverage != 20 {
		t.Errorf("expected cap to 20, got %d", res.AdjustedLeverage)
	}
	if !hasWarning(res.Warnings, "leverage reduced") {
		t.Errorf("cap should warn: %v", res.Warnings)
	}
}

func TestValidate_VenueLeverageTighterThanPolicy(t *testing.T) {
	v := New(testPolicy())
	tight := info
	tight.MaxLeverage = 8
	res, err := v.Validate(longSignal(), tight, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AdjustedLeverage != 8 {
		t.Errorf("venue cap should win, got %d", res.AdjustedLeverage)
	}
}

func TestValidate_StopBeyondLiquidationSubstituted(t *testing.T) {
	v := New(testPolicy())
	s := longSignal()
	s.StopLoss = 85 // Beyond the 90.2 estimate
	res, err := v.Validate(s, info, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// safeStop = 100 - 0.5*9.8 = 95.1
	if math.Abs(res.AdjustedStop-95.1) > 1e-9 {
		t.Errorf("expected substituted stop 95.1, got %g", res.AdjustedStop)
	}
	if !hasWarning(res.Warnings, "liquidation") {
		t.Errorf("substitution should warn: %v", res.Warnings)
	}
}

func TestValidate_CalculateModeAlwaysDerives(t *testing.T) {
	p := testPolicy()
	p.StopLossMode = cfg.StopCalculate
	v := New(p)
	res, err := v.Validate(longSignal(), info, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.AdjustedStop-95.1) > 1e-9 {
		t.Errorf("calculate mode should derive 95.1, got %g", res.AdjustedStop)
	}
}

func TestValidate_ShortMirrors(t *testing.T) {
	v := New(testPolicy())
	s := &signal.Signal{
		Symbol:    "BTCUSDT",
		Direction: signal.Short,
		Entry:     50,
		StopLoss:  52,
		Targets:   []float64{49, 48, 47, 46},
		Leverage:  5,
	}
	res, err := v.Validate(s, info, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// liqDistance = 50/5*0.98 = 9.8 -> liq 59.8; stop 52 inside -> kept.
	if math.Abs(res.LiquidationPrice-59.8) > 1e-9 {
		t.Errorf("expected liquidation 59.8, got %g", res.LiquidationPrice)
	}
	if res.AdjustedStop != 52 {
		t.Errorf("expected the published stop, got %g", res.AdjustedStop)
	}
}

func TestValidate_Rejections(t *testing.T) {
	v := New(testPolicy())

	if _, err := v.Validate(longSignal(), exchange.SymbolInfo{}, false); err == nil {
		t.Error("unknown symbol must reject")
	}

	wrongStop := longSignal()
	wrongStop.StopLoss = 105
	if _, err := v.Validate(wrongStop, info, true); err == nil {
		t.Error("long stop above entry must reject")
	}

	nonMono := longSignal()
	nonMono.Targets = []float64{101, 99}
	if _, err := v.Validate(nonMono, info, true); err == nil {
		t.Error("non-monotonic targets must reject")
	}
}

func hasWarning(warnings []string, needle string) bool {
	for _, w := range warnings {
		if strings.Contains(w, needle) {
			return true
		}
	}
	return false
}
