package policy

import (
	"testing"
	"time"

	"signal-bot/internal/cfg"
	"signal-bot/internal/position"
)

func testPolicy() cfg.CooldownPolicy {
	return cfg.CooldownPolicy{
		Short:             30 * time.Minute,
		Long:              2 * time.Hour,
		Liquidation:       6 * time.Hour,
		LongThreshold:     3,
		WinsToReset:       2,
		ReduceAfterLosses: true,
		Multipliers:       []float64{0.75, 0.5, 0.25},
	}
}

func closedWith(reason position.CloseReason) *position.Position {
	return &position.Position{Symbol: "BTCUSDT", CloseReason: reason}
}

func TestCooldown_LossStreakAndWindows(t *testing.T) {
	c := NewCooldownController(testPolicy())
	base := time.Now()
	c.now = func() time.Time { return base }

	c.OnPositionClosed(closedWith(position.CloseStopLossHit))
	st := c.State()
	if st.ConsecutiveLosses != 1 {
		t.Fatalf("expected 1 loss, got %d", st.ConsecutiveLosses)
	}
	if st.CooldownUntil == nil || !st.CooldownUntil.Equal(base.Add(30*time.Minute)) {
		t.Errorf("expected short cooldown, got %v", st.CooldownUntil)
	}
	if !c.InCooldown() {
		t.Error("should be in cooldown")
	}

	c.OnPositionClosed(closedWith(position.CloseStopLossHit))
	c.OnPositionClosed(closedWith(position.CloseStopLossHit))
	st = c.State()
	if st.ConsecutiveLosses != 3 {
		t.Fatalf("expected 3 losses, got %d", st.ConsecutiveLosses)
	}
	if !st.CooldownUntil.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("expected long cooldown at the threshold, got %v", st.CooldownUntil)
	}
	if st.SizeMultiplier != 0.25 {
		t.Errorf("expected multiplier 0.25 at 3 losses, got %g", st.SizeMultiplier)
	}

	// Window expiry.
	c.now = func() time.Time { return base.Add(3 * time.Hour) }
	if c.InCooldown() {
		t.Error("cooldown should have expired")
	}
}

func TestCooldown_LiquidationUsesLongerWindow(t *testing.T) {
	c := NewCooldownController(testPolicy())
	base := time.Now()
	c.now = func() time.Time { return base }

	c.OnPositionClosed(closedWith(position.CloseLiquidation))
	st := c.State()
	if st.ConsecutiveLosses != 1 {
		t.Errorf("liquidation should count as a loss, got %d", st.ConsecutiveLosses)
	}
	if !st.CooldownUntil.Equal(base.Add(6 * time.Hour)) {
		t.Errorf("expected liquidation cooldown, got %v", st.CooldownUntil)
	}
}

func TestCooldown_WinsResetOnlyAtThreshold(t *testing.T) {
	c := NewCooldownController(testPolicy())

	c.OnPositionClosed(closedWith(position.CloseStopLossHit))
	c.OnPositionClosed(closedWith(position.CloseStopLossHit))

	c.OnPositionClosed(closedWith(position.CloseAllTargetsHit))
	if st := c.State(); st.ConsecutiveLosses != 2 {
		t.Errorf("one win must not reset the streak, got %d losses", st.ConsecutiveLosses)
	}
	c.OnPositionClosed(closedWith(position.CloseAllTargetsHit))
	if st := c.State(); st.ConsecutiveLosses != 0 || st.ConsecutiveWins != 0 {
		t.Errorf("two wins should reset both counters, got %+v", st)
	}
}

func TestCooldown_NeutralCloseReasonsIgnored(t *testing.T) {
	c := NewCooldownController(testPolicy())
	for _, reason := range []position.CloseReason{position.CloseManual, position.CloseOppositeSignal, position.CloseError} {
		c.OnPositionClosed(closedWith(reason))
	}
	if st := c.State(); st.ConsecutiveLosses != 0 || st.CooldownUntil != nil {
		t.Errorf("neutral reasons must not affect cooldown: %+v", st)
	}
}

func TestCooldown_ForceReset(t *testing.T) {
	c := NewCooldownController(testPolicy())
	c.OnPositionClosed(closedWith(position.CloseStopLossHit))
	c.ForceReset()
	if c.InCooldown() {
		t.Error("force reset should clear the window")
	}
	if st := c.State(); st.ConsecutiveLosses != 0 || st.SizeMultiplier != 1.0 {
		t.Errorf("force reset should clear the streak: %+v", st)
	}
}

func TestCooldown_MultiplierDisabled(t *testing.T) {
	p := testPolicy()
	p.ReduceAfterLosses = false
	c := NewCooldownController(p)
	c.OnPositionClosed(closedWith(position.CloseStopLossHit))
	if m := c.SizeMultiplier(); m != 1.0 {
		t.Errorf("disabled ladder should always yield 1.0, got %g", m)
	}
}

func TestBotController_Gates(t *testing.T) {
	b := NewBotController(ModeAutomatic)
	if !b.CanAcceptNewSignals() || !b.CanManagePositions() {
		t.Error("automatic mode should allow everything")
	}

	b.SetMode(ModeMonitorOnly)
	if b.CanAcceptNewSignals() {
		t.Error("monitor-only must not accept signals")
	}
	if !b.CanManagePositions() {
		t.Error("monitor-only should still manage positions")
	}

	b.SetMode(ModePaused)
	if b.CanAcceptNewSignals() || b.CanManagePositions() {
		t.Error("paused must gate both")
	}

	b.SetMode(ModeEmergencyStop)
	if b.CanAcceptNewSignals() || b.CanManagePositions() {
		t.Error("emergency stop must gate both")
	}
}

func TestBotController_ModeChangeHook(t *testing.T) {
	b := NewBotController(ModeAutomatic)
	var fromSeen, toSeen Mode
	fired := 0
	b.OnModeChange(func(old, cur Mode) {
		fromSeen, toSeen = old, cur
		fired++
	})

	b.SetMode(ModePaused)
	if fired != 1 || fromSeen != ModeAutomatic || toSeen != ModePaused {
		t.Errorf("hook not fired correctly: fired=%d from=%s to=%s", fired, fromSeen, toSeen)
	}

	// Setting the same mode again must not re-fire.
	b.SetMode(ModePaused)
	if fired != 1 {
		t.Errorf("same-mode set should not fire the hook, fired=%d", fired)
	}
}

func TestParseMode(t *testing.T) {
	for name, want := range map[string]Mode{
		"":              ModeAutomatic,
		"Automatic":     ModeAutomatic,
		"MonitorOnly":   ModeMonitorOnly,
		"Paused":        ModePaused,
		"EmergencyStop": ModeEmergencyStop,
	} {
		got, err := ParseMode(name)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseMode("Turbo"); err == nil {
		t.Error("unknown mode should error")
	}
}
