// Package sizing converts an accepted signal into an order quantity. The
// computation is pure: every input comes in as an argument and every
// adjustment is reported back as a warning.
package sizing

import (
	"fmt"
	"math"

	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/position"
)

// Input carries everything one sizing decision needs.
type Input struct {
	Symbol          string
	Entry           float64
	Stop            float64
	Leverage        int
	Equity          float64 // Quote-currency account equity
	CurrentExposure float64 // Open notional across all live positions
	SizeMultiplier  float64 // From the cooldown controller, (0, 1]
	Info            exchange.SymbolInfo
}

// Result is the sizing outcome. A zero Quantity means the signal was
// rejected; Warnings explain every adjustment taken on the way.
type Result struct {
	Quantity     float64
	Notional     float64
	Margin       float64
	RiskNotional float64
	Warnings     []string
}

// Sizer applies the configured sizing mode and portfolio limits.
type Sizer struct {
	policy cfg.SizingPolicy
}

// New builds a sizer for the given policy.
func New(policy cfg.SizingPolicy) *Sizer {
	return &Sizer{policy: policy}
}

// Size computes the order quantity for one signal. Portfolio limits are
// applied in a fixed order: minimum notional floor, absolute cap, per-position
// equity cap, then remaining exposure headroom.
func (s *Sizer) Size(in Input) Result {
	var res Result

	notional := s.baseNotional(in, &res)
	if notional <= 0 {
		res.Warnings = append(res.Warnings, "sizing produced a non-positive notional")
		return res
	}

	if in.SizeMultiplier > 0 && in.SizeMultiplier < 1 {
		notional *= in.SizeMultiplier
		res.Warnings = append(res.Warnings, fmt.Sprintf("size reduced to %.0f%% by cooldown policy", in.SizeMultiplier*100))
	}

	// (a) minimum notional floor
	if in.Info.MinNotional > 0 && notional < in.Info.MinNotional {
		res.Warnings = append(res.Warnings, fmt.Sprintf("notional %.2f below exchange minimum %.2f", notional, in.Info.MinNotional))
		return res
	}

	// (b) absolute cap
	if s.policy.MaxNotional > 0 && notional > s.policy.MaxNotional {
		notional = s.policy.MaxNotional
		res.Warnings = append(res.Warnings, fmt.Sprintf("notional capped at configured maximum %.2f", s.policy.MaxNotional))
	}

	// (c) per-position equity cap
	if s.policy.MaxPositionPercent > 0 {
		limit := in.Equity * s.policy.MaxPositionPercent / 100
		if notional > limit {
			notional = limit
			res.Warnings = append(res.Warnings, fmt.Sprintf("notional capped at %.1f%% of equity", s.policy.MaxPositionPercent))
		}
	}

	// (d) exposure headroom
	if s.policy.MaxTotalExposurePercent > 0 {
		headroom := in.Equity*s.policy.MaxTotalExposurePercent/100 - in.CurrentExposure
		if headroom <= 0 {
			res.Warnings = append(res.Warnings, "no exposure headroom left")
			return res
		}
		if notional > headroom {
			notional = headroom
			res.Warnings = append(res.Warnings, fmt.Sprintf("notional capped by exposure headroom %.2f", headroom))
		}
	}

	qty := position.RoundStep(notional/in.Entry, in.Info.StepSize)
	if qty <= 0 || (in.Info.MinQty > 0 && qty < in.Info.MinQty) {
		res.Warnings = append(res.Warnings, "quantity below exchange minimum after rounding")
		return res
	}

	res.Quantity = qty
	res.Notional = qty * in.Entry
	if in.Leverage > 0 {
		res.Margin = res.Notional / float64(in.Leverage)
	}
	res.RiskNotional = math.Abs(in.Entry-in.Stop) * qty
	return res
}

// baseNotional derives the pre-limit notional for the configured mode.
func (s *Sizer) baseNotional(in Input, res *Result) float64 {
	switch s.policy.Mode {
	case cfg.SizeRiskPercent:
		if in.Entry <= 0 || in.Stop <= 0 || in.Entry == in.Stop {
			return 0
		}
		riskNotional := in.Equity * s.policy.RiskPercent / 100
		slDistance := math.Abs(in.Entry-in.Stop) / in.Entry
		return riskNotional / slDistance
	case cfg.SizeFixedAmount:
		return s.policy.FixedAmountFor(in.Symbol)
	case cfg.SizeFixedMargin:
		return s.policy.FixedMargin * float64(in.Leverage)
	case cfg.SizeFixedQuantity:
		return s.policy.FixedQuantity * in.Entry
	}
	res.Warnings = append(res.Warnings, fmt.Sprintf("unknown sizing mode %q", s.policy.Mode))
	return 0
}
