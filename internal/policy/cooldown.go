// Package policy holds the process-wide trading gates: the operating mode
// and the consecutive-loss cooldown. Both are owned by the composition root
// and mutated only through their own API.
package policy

import (
	"sync"
	"time"

	"signal-bot/internal/cfg"
	"signal-bot/internal/position"

	"github.com/rs/zerolog/log"
)

// CooldownState is a read-only snapshot of the controller.
type CooldownState struct {
	ConsecutiveLosses int        `json:"consecutiveLosses"`
	ConsecutiveWins   int        `json:"consecutiveWins"`
	CooldownUntil     *time.Time `json:"cooldownUntil,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	SizeMultiplier    float64    `json:"sizeMultiplier"`
}

// CooldownController tracks loss streaks and the current cooldown window,
// and maps the streak to a position size multiplier.
type CooldownController struct {
	mu     sync.Mutex
	policy cfg.CooldownPolicy

	consecutiveLosses int
	consecutiveWins   int
	cooldownUntil     time.Time
	reason            string

	now func() time.Time
}

// NewCooldownController builds a controller for the given policy.
func NewCooldownController(policy cfg.CooldownPolicy) *CooldownController {
	return &CooldownController{policy: policy, now: time.Now}
}

// OnPositionClosed updates the streak counters and the cooldown window from
// one closed position. Close reasons other than stop, liquidation and
// all-targets do not affect the state.
func (c *CooldownController) OnPositionClosed(p *position.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p.CloseReason {
	case position.CloseStopLossHit:
		c.consecutiveLosses++
		c.consecutiveWins = 0
		dur := c.policy.Short
		if c.consecutiveLosses >= c.policy.LongThreshold {
			dur = c.policy.Long
		}
		c.cooldownUntil = c.now().Add(dur)
		c.reason = "stop-loss hit"
	case position.CloseLiquidation:
		c.consecutiveLosses++
		c.consecutiveWins = 0
		c.cooldownUntil = c.now().Add(c.policy.Liquidation)
		c.reason = "liquidation"
	case position.CloseAllTargetsHit:
		c.consecutiveWins++
		if c.consecutiveWins >= c.policy.WinsToReset {
			c.consecutiveLosses = 0
			c.consecutiveWins = 0
			c.reason = ""
		}
	default:
		return
	}

	log.Info().
		Str("symbol", p.Symbol).
		Str("close_reason", string(p.CloseReason)).
		Int("consecutive_losses", c.consecutiveLosses).
		Int("consecutive_wins", c.consecutiveWins).
		Time("cooldown_until", c.cooldownUntil).
		Msg("cooldown state updated")
}

// InCooldown reports whether a cooldown window is currently active.
func (c *CooldownController) InCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.cooldownUntil)
}

// SizeMultiplier maps the current loss streak to a multiplier in (0, 1].
func (c *CooldownController) SizeMultiplier() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Multiplier(c.consecutiveLosses)
}

// ForceReset clears all streaks and the active window.
func (c *CooldownController) ForceReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLosses = 0
	c.consecutiveWins = 0
	c.cooldownUntil = time.Time{}
	c.reason = ""
	log.Info().Msg("cooldown force-reset")
}

// State returns a snapshot for status reporting.
func (c *CooldownController) State() CooldownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CooldownState{
		ConsecutiveLosses: c.consecutiveLosses,
		ConsecutiveWins:   c.consecutiveWins,
		Reason:            c.reason,
		SizeMultiplier:    c.policy.Multiplier(c.consecutiveLosses),
	}
	if c.now().Before(c.cooldownUntil) {
		until := c.cooldownUntil
		st.CooldownUntil = &until
	}
	return st
}
