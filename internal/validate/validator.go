// Package validate reshapes a parsed signal against risk policy and live
// exchange state: leverage capping, liquidation-aware stop adjustment and
// risk/reward assessment. Validation is pure and never panics; the outcome
// is a result value with ordered warnings.
package validate

import (
	"fmt"
	"math"

	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/signal"
)

// Result carries the original signal plus the adjusted values the trader
// executes with.
type Result struct {
	Signal           *signal.Signal
	AdjustedStop     float64
	AdjustedLeverage int
	LiquidationPrice float64
	RiskReward       float64 // To target 1
	Valid            bool
	Warnings         []string
}

// Validator applies the configured risk policy.
type Validator struct {
	policy cfg.RiskPolicy
}

// New builds a validator for the given policy.
func New(policy cfg.RiskPolicy) *Validator {
	return &Validator{policy: policy}
}

// Validate checks a signal against the catalog entry for its symbol and
// produces adjusted stop, leverage and liquidation values. The error return
// is reserved for rejections; warnings ride on the result.
func (v *Validator) Validate(s *signal.Signal, info exchange.SymbolInfo, known bool) (*Result, error) {
	if !known {
		return nil, fmt.Errorf("symbol %s is not listed on the exchange", s.Symbol)
	}
	if s.Entry <= 0 || s.StopLoss <= 0 {
		return nil, fmt.Errorf("signal has non-positive entry or stop")
	}
	if !s.TargetsMonotonic() {
		return nil, fmt.Errorf("targets are not monotonic for a %s", s.Direction)
	}
	if s.Direction == signal.Long && s.StopLoss >= s.Entry {
		return nil, fmt.Errorf("stop %.8g is not below entry %.8g for a long", s.StopLoss, s.Entry)
	}
	if s.Direction == signal.Short && s.StopLoss <= s.Entry {
		return nil, fmt.Errorf("stop %.8g is not above entry %.8g for a short", s.StopLoss, s.Entry)
	}

	res := &Result{Signal: s}

	// Leverage: signal's value capped by policy, or policy outright.
	maxLev := v.policy.MaxLeverage
	if info.MaxLeverage > 0 && info.MaxLeverage < maxLev {
		maxLev = info.MaxLeverage
	}
	lev := maxLev
	if v.policy.UseSignalLeverage && s.Leverage > 0 {
		lev = s.Leverage
		if lev > maxLev {
			lev = maxLev
			res.Warnings = append(res.Warnings, fmt.Sprintf("leverage reduced from %dx to %dx", s.Leverage, lev))
		}
	}
	res.AdjustedLeverage = lev

	// Simplified liquidation estimate: the full margin distance less a
	// maintenance buffer.
	liqDistance := s.Entry / float64(lev) * (1 - v.policy.MaintenanceBuffer)
	if s.Direction == signal.Long {
		res.LiquidationPrice = s.Entry - liqDistance
	} else {
		res.LiquidationPrice = s.Entry + liqDistance
	}

	res.AdjustedStop = v.adjustStop(s, res)

	rr := math.Abs(s.Targets[0]-s.Entry) / math.Abs(s.Entry-res.AdjustedStop)
	res.RiskReward = rr
	if rr < 1.0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("risk:reward to first target is %.2f", rr))
	}

	res.Valid = true
	return res, nil
}

// adjustStop keeps the published stop when it sits safely inside the
// liquidation price, otherwise substitutes a stop at the configured safe
// fraction of the liquidation distance.
func (v *Validator) adjustStop(s *signal.Signal, res *Result) float64 {
	safeStop := s.Entry - v.policy.SafeDistanceFraction*math.Abs(s.Entry-res.LiquidationPrice)
	insideLiq := s.StopLoss > res.LiquidationPrice
	if s.Direction == signal.Short {
		safeStop = s.Entry + v.policy.SafeDistanceFraction*math.Abs(s.Entry-res.LiquidationPrice)
		insideLiq = s.StopLoss < res.LiquidationPrice
	}

	if v.policy.StopLossMode == cfg.StopFromSignal && insideLiq {
		return s.StopLoss
	}
	if v.policy.StopLossMode == cfg.StopFromSignal {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"published stop %.8g is beyond the estimated liquidation %.8g, using %.8g",
			s.StopLoss, res.LiquidationPrice, safeStop))
	} else if safeStop != s.StopLoss {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"stop recalculated to %.8g from the liquidation distance", safeStop))
	}
	return safeStop
}
