package catalog

import (
	"context"
	"errors"
	"testing"

	"signal-bot/internal/exchange"
	"signal-bot/internal/exchange/paper"
)

func TestCatalog_LookupAndContains(t *testing.T) {
	venue := paper.New(10000)
	venue.AddSymbol(exchange.SymbolInfo{Symbol: "BTCUSDT", StepSize: 0.001})

	ctx := context.Background()
	c := New(ctx, venue)

	if !c.Contains(ctx, "BTCUSDT") {
		t.Error("listed symbol should be contained")
	}
	if c.Contains(ctx, "NOPEUSDT") {
		t.Error("unlisted symbol should not be contained")
	}

	info, err := c.Info(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if info.StepSize != 0.001 {
		t.Errorf("unexpected step size %g", info.StepSize)
	}
	if _, err := c.Info(ctx, "NOPEUSDT"); !errors.Is(err, exchange.ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestCatalog_PassThroughDegradation(t *testing.T) {
	venue := paper.New(10000)
	venue.AddSymbol(exchange.SymbolInfo{Symbol: "ETHUSDT", StepSize: 0.01})
	venue.SymbolsErr = errors.New("boom") // Startup load fails once

	ctx := context.Background()
	c := New(ctx, venue)

	// Existence is re-verified on demand; a hit is cached, a miss stays a miss.
	if !c.Contains(ctx, "ETHUSDT") {
		t.Error("pass-through should verify against the venue")
	}
	if c.Contains(ctx, "FAKEUSDT") {
		t.Error("pass-through must not accept non-existent symbols")
	}

	info, err := c.Info(ctx, "ETHUSDT")
	if err != nil || info.StepSize != 0.01 {
		t.Errorf("cached pass-through lookup failed: %+v, %v", info, err)
	}
}

func TestCatalog_RefreshRecovers(t *testing.T) {
	venue := paper.New(10000)
	venue.SymbolsErr = errors.New("down")
	ctx := context.Background()
	c := New(ctx, venue)

	venue.AddSymbol(exchange.SymbolInfo{Symbol: "BTCUSDT"})
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !c.Contains(ctx, "BTCUSDT") {
		t.Error("refreshed catalog should contain the symbol")
	}
}

func TestNormalize(t *testing.T) {
	c := &Catalog{}
	cases := []struct {
		in, sigSuffix, execSuffix, want string
	}{
		{"BTCUSDT", "USDT", "USDC", "BTCUSDC"},
		{"BTCUSDT", "USDT", "USDT", "BTCUSDT"},
		{"USDT", "USDT", "USDC", "USDT"},    // Empty base stays untouched
		{"BTCBUSD", "USDT", "USDC", "BTCBUSD"}, // No signal suffix to swap
	}
	for _, tc := range cases {
		if got := c.Normalize(tc.in, tc.sigSuffix, tc.execSuffix); got != tc.want {
			t.Errorf("Normalize(%q, %q, %q) = %q, want %q", tc.in, tc.sigSuffix, tc.execSuffix, got, tc.want)
		}
	}
}
