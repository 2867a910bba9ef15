package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-bot/internal/catalog"
	"signal-bot/internal/cfg"
	"signal-bot/internal/exchange"
	"signal-bot/internal/exchange/binance"
	"signal-bot/internal/exchange/bitunix"
	"signal-bot/internal/exchange/paper"
	"signal-bot/internal/manager"
	"signal-bot/internal/metrics"
	"signal-bot/internal/policy"
	"signal-bot/internal/position"
	"signal-bot/internal/runner"
	sig "signal-bot/internal/signal"
	"signal-bot/internal/sizing"
	"signal-bot/internal/storage"
	"signal-bot/internal/telegram"
	"signal-bot/internal/trader"
	"signal-bot/internal/validate"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "signalbot",
		Short: "Executes chat-channel trade signals on a futures exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "positions",
			Short: "List positions from the persisted store",
			RunE: func(cmd *cobra.Command, args []string) error {
				return listPositions()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	client := buildExchange(c)
	if err := client.TestConnectivity(ctx); err != nil {
		log.Fatal().Err(err).Msg("exchange connectivity check failed")
	}

	store, err := storage.NewPositionStore(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("position store init failed")
	}
	stats, err := storage.NewStatisticsStore(c.DataPath, storage.DefaultWindows())
	if err != nil {
		log.Fatal().Err(err).Msg("statistics store init failed")
	}
	journal, err := storage.NewJournal(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("journal init failed, continuing without it")
		journal = nil
	} else {
		defer journal.Close()
	}

	initialMode, err := policy.ParseMode(c.DefaultMode)
	if err != nil {
		log.Fatal().Err(err).Msg("bad default operating mode")
	}
	bot := policy.NewBotController(initialMode)
	cooldown := policy.NewCooldownController(c.Cooldown)
	cat := catalog.New(ctx, client)

	tg, err := telegram.New(c.Telegram)
	if err != nil {
		log.Warn().Err(err).Msg("telegram init failed, continuing without it")
	}

	trd := trader.New(trader.Config{
		Client:     client,
		Store:      store,
		Sizer:      sizing.New(c.Sizing),
		Entry:      c.Entry,
		MarginMode: c.Exchange.MarginMode,
		MaxRetries: c.MaxOrderRetries,
		Breakeven:  c.BreakevenMigration,
		Metrics:    mw,
		Notifier:   tg,
	})

	// The close hook reaches the runner through a late-bound closure so the
	// cooldown controller stays a leaf and no construction cycle forms.
	var rn *runner.Runner
	mgr := manager.New(manager.Config{
		Client: client,
		Store:  store,
		Stats:  stats,
		OnClosed: func(p *position.Position) {
			if rn != nil {
				rn.OnPositionClosed(p)
			}
		},
		CanManage: bot.CanManagePositions,
		Metrics:   mw,
		Notifier:  tg,
	})

	rn = runner.New(runner.Config{
		Settings:   c,
		Dispatcher: sig.NewDispatcher(sig.FromNames(c.Parsers, c.SignalSuffix)...),
		Catalog:    cat,
		Validator:  validate.New(c.Risk),
		Trader:     trd,
		Manager:    mgr,
		Store:      store,
		Stats:      stats,
		Cooldown:   cooldown,
		Bot:        bot,
		Client:     client,
		Journal:    journal,
		Metrics:    mw,
		Notifier:   tg,
	})

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: fmt.Sprintf(":%d", c.MetricsPort), Handler: mux}
		go func() {
			<-ctx.Done()
			server.Shutdown(context.Background())
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	if err := rn.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("runner start failed")
	}

	go tg.Run(ctx, rn)

	// In paper/dry-run mode, raw messages are read line by line from stdin
	// so channels can be simulated interactively. Production chat listeners
	// deliver into the same callback.
	if c.DryRun || c.Exchange.Venue == "paper" {
		go stdinListener(ctx, rn)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	done := make(chan struct{})
	go func() {
		rn.Close()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("shutdown complete, protective orders remain on the exchange")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
	return nil
}

func buildExchange(c cfg.Settings) exchange.Client {
	if c.DryRun || c.Exchange.Venue == "paper" {
		log.Info().Msg("running against the paper exchange")
		p := paper.New(10000)
		p.AddSymbol(exchange.SymbolInfo{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MinNotional: 5})
		p.AddSymbol(exchange.SymbolInfo{Symbol: "ETHUSDT", TickSize: 0.01, StepSize: 0.01, MinQty: 0.01, MinNotional: 5})
		p.SetMark("BTCUSDT", 60000)
		p.SetMark("ETHUSDT", 3000)
		return p
	}
	switch c.Exchange.Venue {
	case "bitunix":
		return bitunix.New(c.Exchange.Key, c.Exchange.Secret, c.Exchange.BaseURL, c.Exchange.WsURL, c.Exchange.RESTTimeout)
	default:
		return binance.New(c.Exchange.Key, c.Exchange.Secret, c.Exchange.Testnet)
	}
}

func stdinListener(ctx context.Context, run *runner.Runner) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		run.OnMessage(ctx, line, "stdin")
	}
}

func listPositions() error {
	c, err := cfg.Load()
	if err != nil {
		return err
	}
	store, err := storage.NewPositionStore(c.DataPath)
	if err != nil {
		return err
	}
	for _, p := range store.ListAll() {
		fmt.Printf("%s  %-14s %-5s %-14s qty %g/%g  pnl %.2f  %s\n",
			p.CreatedAt.Format("2006-01-02 15:04"), p.Symbol, p.Direction, p.Status,
			p.RemainingQty, p.InitialQty, p.RealizedPnL, p.CloseReason)
	}
	return nil
}
