package runner

import (
	"context"
	"fmt"
	"strings"

	"signal-bot/internal/policy"
	"signal-bot/internal/position"

	"github.com/rs/zerolog/log"
)

// The command surface (Telegram) drives the runner through these methods.

// StatusText summarizes mode, cooldown and position counts.
func (r *Runner) StatusText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s (since %s)\n", r.bot.Mode(), r.bot.LastChanged().Format("15:04:05"))
	st := r.cooldown.State()
	if st.CooldownUntil != nil {
		fmt.Fprintf(&b, "Cooldown until %s (%s)\n", st.CooldownUntil.Format("15:04:05"), st.Reason)
	}
	fmt.Fprintf(&b, "Loss streak: %d, size multiplier: %.2f\n", st.ConsecutiveLosses, st.SizeMultiplier)
	fmt.Fprintf(&b, "Open positions: %d/%d\n", len(r.store.ListOpen()), r.settings.MaxConcurrentPositions)
	for _, name := range []string{"24h", "7d", "30d"} {
		if sum, err := r.stats.SummaryFor(name); err == nil {
			fmt.Fprintf(&b, "%s: %d trades, win rate %.0f%%, PnL %.2f\n", name, sum.Count, sum.WinRate*100, sum.NetPnL)
		}
	}
	return b.String()
}

// PositionsText lists live positions.
func (r *Runner) PositionsText() string {
	open := r.store.ListOpen()
	if len(open) == 0 {
		return "No open positions."
	}
	var b strings.Builder
	for _, p := range open {
		hit := 0
		for _, t := range p.Targets {
			if t.Hit {
				hit++
			}
		}
		fmt.Fprintf(&b, "%s %s %s qty %g @ %g, stop %g, targets %d/%d, PnL %.2f\n",
			p.Status, p.Direction, p.Symbol, p.RemainingQty, p.EntryPrice, p.StopLoss, hit, len(p.Targets), p.RealizedPnL)
	}
	return b.String()
}

// Pause stops signal intake and automatic position management.
func (r *Runner) Pause() {
	r.bot.SetMode(policy.ModePaused)
}

// Resume returns to automatic operation.
func (r *Runner) Resume() {
	r.bot.SetMode(policy.ModeAutomatic)
}

// EmergencyStop transitions to the emergency mode; the mode hook flattens
// positions when the policy says so.
func (r *Runner) EmergencyStop() {
	r.bot.SetMode(policy.ModeEmergencyStop)
}

// ResetCooldown clears the loss streak and any active window.
func (r *Runner) ResetCooldown() {
	r.cooldown.ForceReset()
}

// CloseAll flattens every open or partially closed position at market;
// pending and opening positions are skipped.
func (r *Runner) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, p := range r.store.ListOpen() {
		if p.Status != position.StatusOpen && p.Status != position.StatusPartialClosed {
			continue
		}
		if err := r.manager.CloseAtMarket(ctx, p, position.CloseManual); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("close-all failed for position")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.metrics.SetPositionsOpen(len(r.store.ListOpen()))
	return firstErr
}

// CloseSymbol flattens the live position on one symbol.
func (r *Runner) CloseSymbol(ctx context.Context, symbol string) error {
	p := r.store.GetBySymbol(symbol)
	if p == nil {
		return fmt.Errorf("no open position on %s", symbol)
	}
	if err := r.manager.CloseAtMarket(ctx, p, position.CloseManual); err != nil {
		return err
	}
	r.metrics.SetPositionsOpen(len(r.store.ListOpen()))
	return nil
}
