package runner

import (
	"context"
	"fmt"
	"time"

	"signal-bot/internal/cfg"
	"signal-bot/internal/position"
	"signal-bot/internal/signal"

	"github.com/rs/zerolog/log"
)

// handleDuplicate applies the configured duplicate policy when a signal
// arrives for a symbol that already has a live position. Called with the
// runner lock held.
func (r *Runner) handleDuplicate(ctx context.Context, s *signal.Signal, existing *position.Position) error {
	if last, ok := r.lastSignal[s.Symbol]; ok && time.Since(last) < r.settings.Duplicate.MinInterval {
		r.reject(s.Symbol, fmt.Sprintf("duplicate inside the %v minimum interval", r.settings.Duplicate.MinInterval))
		return nil
	}
	r.lastSignal[s.Symbol] = time.Now()

	sameDirection := s.Direction == existing.Direction
	action := r.settings.Duplicate.OppositeDirection
	if sameDirection {
		action = r.settings.Duplicate.SameDirection
	}

	log.Info().
		Str("symbol", s.Symbol).
		Bool("same_direction", sameDirection).
		Str("action", string(action)).
		Str("existing_position", existing.ID).
		Msg("duplicate signal")

	switch action {
	case cfg.DuplicateIgnore:
		r.reject(s.Symbol, "duplicate ignored by policy")
		return nil

	case cfg.DuplicateOpenNew:
		if r.store.CountBySymbol(s.Symbol) >= r.settings.Duplicate.MaxPerSymbol {
			r.reject(s.Symbol, fmt.Sprintf("per-symbol position cap reached (%d)", r.settings.Duplicate.MaxPerSymbol))
			return nil
		}
		return r.execute(ctx, s)

	case cfg.DuplicateUpdateTargets:
		info, err := r.catalog.Info(ctx, s.Symbol)
		if err != nil {
			r.reject(s.Symbol, fmt.Sprintf("symbol info unavailable: %v", err))
			return nil
		}
		if err := r.trader.ReplaceTargets(ctx, existing, s.Targets, info); err != nil {
			return fmt.Errorf("update targets on %s: %w", s.Symbol, err)
		}
		r.notify(fmt.Sprintf("Targets on %s %s updated from a new signal", existing.Direction, s.Symbol))
		return nil

	case cfg.DuplicateCloseAndReopen:
		if err := r.manager.CloseAtMarket(ctx, existing, position.CloseManual); err != nil {
			return fmt.Errorf("close before reopen on %s: %w", s.Symbol, err)
		}
		return r.execute(ctx, s)

	case cfg.DuplicateCloseOnly:
		if err := r.manager.CloseAtMarket(ctx, existing, position.CloseOppositeSignal); err != nil {
			return fmt.Errorf("close on opposite signal for %s: %w", s.Symbol, err)
		}
		r.notify(fmt.Sprintf("Closed %s %s on an opposite signal", existing.Direction, s.Symbol))
		return nil

	case cfg.DuplicateReverse:
		if err := r.manager.CloseAtMarket(ctx, existing, position.CloseOppositeSignal); err != nil {
			return fmt.Errorf("close before reverse on %s: %w", s.Symbol, err)
		}
		return r.execute(ctx, s)
	}

	r.reject(s.Symbol, fmt.Sprintf("unknown duplicate action %q", action))
	return nil
}
