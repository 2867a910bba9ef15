// Package runner is the top-level signal pipeline. It serializes signal
// intake behind a process-wide lock, walks the gate chain (operating mode,
// cooldown, concurrency, per-symbol), validates and sizes accepted signals,
// and hands them to the trader. Order updates from the venue stream are
// consumed on a separate channel and routed to the position manager.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal-bot/internal/catalog"
	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/manager"
	"signal-bot/internal/metrics"
	"signal-bot/internal/policy"
	"signal-bot/internal/position"
	"signal-bot/internal/signal"
	"signal-bot/internal/storage"
	"signal-bot/internal/trader"
	"signal-bot/internal/validate"

	"github.com/rs/zerolog/log"
)

const eventBufferSize = 1024

// Notifier delivers user-facing alerts. Optional.
type Notifier interface {
	Notify(text string)
}

// Runner wires the full signal-to-position pipeline.
type Runner struct {
	mu sync.Mutex // Process-wide: one signal cycle at a time

	settings   cfg.Settings
	dispatcher *signal.Dispatcher
	catalog    *catalog.Catalog
	validator  *validate.Validator
	trader     *trader.Trader
	manager    *manager.Manager
	store      *storage.PositionStore
	stats      *storage.StatisticsStore
	cooldown   *policy.CooldownController
	bot        *policy.BotController
	client     exchange.Client
	journal    *storage.Journal
	metrics    *metrics.Wrapper
	notifier   Notifier

	events      chan exchange.OrderUpdate
	stopStream  func()
	wg          sync.WaitGroup
	lastSignal  map[string]time.Time // Per-symbol duplicate throttle
	lossTracker lossTracker
}

// Config wires a Runner.
type Config struct {
	Settings   cfg.Settings
	Dispatcher *signal.Dispatcher
	Catalog    *catalog.Catalog
	Validator  *validate.Validator
	Trader     *trader.Trader
	Manager    *manager.Manager
	Store      *storage.PositionStore
	Stats      *storage.StatisticsStore
	Cooldown   *policy.CooldownController
	Bot        *policy.BotController
	Client     exchange.Client
	Journal    *storage.Journal
	Metrics    *metrics.Wrapper
	Notifier   Notifier
}

// New builds a Runner.
func New(c Config) *Runner {
	r := &Runner{
		settings:   c.Settings,
		dispatcher: c.Dispatcher,
		catalog:    c.Catalog,
		validator:  c.Validator,
		trader:     c.Trader,
		manager:    c.Manager,
		store:      c.Store,
		stats:      c.Stats,
		cooldown:   c.Cooldown,
		bot:        c.Bot,
		client:     c.Client,
		journal:    c.Journal,
		metrics:    c.Metrics,
		notifier:   c.Notifier,
		events:     make(chan exchange.OrderUpdate, eventBufferSize),
		lastSignal: make(map[string]time.Time),
	}
	return r
}

func (r *Runner) notify(text string) {
	if r.notifier != nil {
		r.notifier.Notify(text)
	}
}

// Start subscribes to the venue's order stream, starts the event consumer
// and the reconciliation ticker, and arms the emergency-stop hook. It
// returns once the background tasks are running.
func (r *Runner) Start(ctx context.Context) error {
	if equity, err := r.client.Balance(ctx, r.settings.QuoteCurrency); err != nil {
		log.Warn().Err(err).Msg("initial equity fetch failed, emergency loss gates disabled until a balance is seen")
	} else {
		r.lossTracker.reset(equity)
	}

	stop, err := r.client.SubscribeOrderUpdates(ctx, func(u exchange.OrderUpdate) {
		select {
		case r.events <- u:
		default:
			log.Error().Str("symbol", u.Symbol).Msg("event buffer full, order update dropped")
			r.metrics.Error()
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe order updates: %w", err)
	}
	r.stopStream = stop

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-r.events:
				if r.journal != nil {
					if err := r.journal.LogEvent(u); err != nil {
						log.Warn().Err(err).Msg("journaling order event failed")
					}
				}
				r.manager.HandleOrderUpdate(ctx, u)
			}
		}
	}()

	if r.settings.ReconcileInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(r.settings.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !r.bot.CanManagePositions() {
						continue
					}
					if err := r.manager.Reconcile(ctx); err != nil {
						log.Warn().Err(err).Msg("reconciliation failed")
					}
				}
			}
		}()
	}

	r.bot.OnModeChange(func(old, cur policy.Mode) {
		if cur == policy.ModeEmergencyStop && r.settings.Emergency.CloseAllOnEmergency {
			if err := r.CloseAll(context.Background()); err != nil {
				log.Error().Err(err).Msg("emergency close-all failed")
			}
		}
	})

	log.Info().
		Str("mode", r.bot.Mode().String()).
		Str("suffixes", r.settings.SuffixList()).
		Msg("signal runner started")
	return nil
}

// Close waits for the background tasks after the context driving Start has
// been cancelled. In-flight signal processing finishes under its own lock.
func (r *Runner) Close() {
	if r.stopStream != nil {
		r.stopStream()
	}
	r.wg.Wait()
}

// OnMessage is the chat listener callback: journal the raw message, parse
// it, and run any resulting signal through the pipeline.
func (r *Runner) OnMessage(ctx context.Context, text, channel string) {
	r.metrics.SignalReceived()
	sig := r.dispatcher.Parse(text, channel)
	if r.journal != nil {
		entry := storage.SignalEntry{Channel: channel, Raw: text, Parsed: sig != nil}
		if sig != nil {
			entry.SignalID = sig.ID
		}
		if err := r.journal.LogSignal(entry); err != nil {
			log.Warn().Err(err).Msg("journaling signal failed")
		}
	}
	if sig == nil {
		return
	}
	r.metrics.SignalParsed()
	if err := r.Process(ctx, sig); err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("signal processing failed")
		r.metrics.Error()
	}
}

// Process runs one signal through the gate chain and, when accepted, the
// trader. The runner lock is held for the whole cycle; errors never escape
// the lock boundary unlogged.
func (r *Runner) Process(ctx context.Context, sig *signal.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := *sig
	s.Symbol = r.catalog.Normalize(sig.Symbol, r.settings.SignalSuffix, r.settings.ExecutionSuffix)

	if !r.catalog.Contains(ctx, s.Symbol) {
		r.reject(s.Symbol, "symbol not supported by the exchange")
		return nil
	}
	if !r.bot.CanAcceptNewSignals() {
		r.reject(s.Symbol, fmt.Sprintf("operating mode %s does not accept signals", r.bot.Mode()))
		return nil
	}
	if r.cooldown.InCooldown() {
		st := r.cooldown.State()
		r.reject(s.Symbol, fmt.Sprintf("in cooldown until %v (%s)", st.CooldownUntil, st.Reason))
		return nil
	}
	if open := len(r.store.ListOpen()); open >= r.settings.MaxConcurrentPositions {
		r.reject(s.Symbol, fmt.Sprintf("concurrent position cap reached (%d)", open))
		return nil
	}
	if existing := r.store.GetBySymbol(s.Symbol); existing != nil {
		return r.handleDuplicate(ctx, &s, existing)
	}

	r.lastSignal[s.Symbol] = time.Now()
	return r.execute(ctx, &s)
}

// execute runs validation, sizing context collection and the trader for a
// gate-cleared signal.
func (r *Runner) execute(ctx context.Context, s *signal.Signal) error {
	info, err := r.catalog.Info(ctx, s.Symbol)
	if err != nil {
		r.reject(s.Symbol, fmt.Sprintf("symbol info unavailable: %v", err))
		return nil
	}

	equity, err := r.client.Balance(ctx, r.settings.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("balance fetch: %w", err)
	}
	r.lossTracker.observeEquity(equity)

	v, err := r.validator.Validate(s, info, true)
	if err != nil {
		r.reject(s.Symbol, fmt.Sprintf("validation failed: %v", err))
		r.notify(fmt.Sprintf("Signal for %s rejected: %v", s.Symbol, err))
		return nil
	}
	for _, w := range v.Warnings {
		log.Warn().Str("symbol", s.Symbol).Msg(w)
	}

	pos, err := r.trader.Execute(ctx, v, equity, r.openExposure(), r.cooldown.SizeMultiplier(), info)
	if err != nil {
		return err
	}
	if pos != nil && pos.Status.Live() {
		r.metrics.SetPositionsOpen(len(r.store.ListOpen()))
	}
	return nil
}

// OnPositionClosed is the composite close hook handed to the manager: it
// feeds the cooldown controller and the emergency loss gates.
func (r *Runner) OnPositionClosed(p *position.Position) {
	r.cooldown.OnPositionClosed(p)
	r.checkEmergencyLoss(p)
}

func (r *Runner) checkEmergencyLoss(p *position.Position) {
	daily, session, base := r.lossTracker.add(p.RealizedPnL)
	if base <= 0 || r.bot.Mode() == policy.ModeEmergencyStop {
		return
	}
	em := r.settings.Emergency
	if em.MaxDailyLossPercent > 0 && daily < 0 && -daily/base*100 >= em.MaxDailyLossPercent {
		log.Error().
			Float64("daily_pnl", daily).
			Float64("limit_pct", em.MaxDailyLossPercent).
			Msg("daily loss limit reached, entering emergency stop")
		r.notify(fmt.Sprintf("Daily loss limit hit (%.2f), emergency stop engaged", daily))
		r.bot.SetMode(policy.ModeEmergencyStop)
		return
	}
	if em.MaxSessionLossPercent > 0 && session < 0 && -session/base*100 >= em.MaxSessionLossPercent {
		log.Error().
			Float64("session_pnl", session).
			Float64("limit_pct", em.MaxSessionLossPercent).
			Msg("session loss limit reached, entering emergency stop")
		r.notify(fmt.Sprintf("Session loss limit hit (%.2f), emergency stop engaged", session))
		r.bot.SetMode(policy.ModeEmergencyStop)
	}
}

func (r *Runner) reject(symbol, why string) {
	r.metrics.SignalRejected()
	log.Info().Str("symbol", symbol).Str("reason", why).Msg("signal rejected")
}

// openExposure sums the open notional across live positions.
func (r *Runner) openExposure() float64 {
	var total float64
	for _, p := range r.store.ListOpen() {
		price := p.EntryPrice
		if price <= 0 {
			price = p.PlannedEntry
		}
		total += p.RemainingQty * price
	}
	return total
}

// lossTracker keeps daily and session realized-PnL sums against the session
// starting equity.
type lossTracker struct {
	mu         sync.Mutex
	baseEquity float64
	sessionPnL float64
	dailyPnL   float64
	dayStart   time.Time
}

func (t *lossTracker) reset(equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseEquity = equity
	t.sessionPnL = 0
	t.dailyPnL = 0
	t.dayStart = time.Now()
}

func (t *lossTracker) observeEquity(equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.baseEquity <= 0 {
		t.baseEquity = equity
	}
}

func (t *lossTracker) add(pnl float64) (daily, session, base float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Day() != t.dayStart.Day() || now.Sub(t.dayStart) > 24*time.Hour {
		t.dailyPnL = 0
		t.dayStart = now
	}
	t.dailyPnL += pnl
	t.sessionPnL += pnl
	return t.dailyPnL, t.sessionPnL, t.baseEquity
}
