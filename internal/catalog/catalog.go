// Package catalog caches the exchange's symbol universe with per-symbol
// precision and limits. When the startup load fails the catalog degrades to
// pass-through: existence is re-verified against the exchange on first use
// and successes are cached, but unknown symbols are never accepted silently.
package catalog

import (
	"context"
	"strings"
	"sync"

	"signal-bot/internal/exchange"

	"github.com/rs/zerolog/log"
)

// Catalog is the symbol cache. Safe for concurrent use.
type Catalog struct {
	client exchange.Client

	mu          sync.RWMutex
	infos       map[string]exchange.SymbolInfo
	passThrough bool
}

// New loads the symbol universe from the venue. A failed load degrades to
// pass-through mode instead of failing startup.
func New(ctx context.Context, client exchange.Client) *Catalog {
	c := &Catalog{client: client, infos: make(map[string]exchange.SymbolInfo)}
	if err := c.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("symbol catalog load failed, degrading to pass-through lookups")
		c.passThrough = true
	}
	return c
}

// Refresh reloads the full symbol universe.
func (c *Catalog) Refresh(ctx context.Context) error {
	infos, err := c.client.AllSymbols(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.infos = infos
	c.passThrough = false
	c.mu.Unlock()
	log.Info().Int("symbols", len(infos)).Msg("symbol catalog refreshed")
	return nil
}

// Contains reports whether the exchange lists the symbol. In pass-through
// mode the venue is queried directly and hits are cached.
func (c *Catalog) Contains(ctx context.Context, symbol string) bool {
	_, err := c.Info(ctx, symbol)
	return err == nil
}

// Info returns the precision and limits for a symbol.
func (c *Catalog) Info(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	c.mu.RLock()
	info, ok := c.infos[symbol]
	passThrough := c.passThrough
	c.mu.RUnlock()
	if ok {
		return info, nil
	}
	if !passThrough {
		return exchange.SymbolInfo{}, exchange.ErrSymbolNotFound
	}

	info, err := c.client.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return exchange.SymbolInfo{}, err
	}
	c.mu.Lock()
	c.infos[symbol] = info
	c.mu.Unlock()
	return info, nil
}

// Normalize rewrites a signal-suffixed symbol into its execution-suffixed
// form. Symbols that do not carry the signal suffix, or whose base would be
// empty, are returned unchanged.
func (c *Catalog) Normalize(symbol, signalSuffix, executionSuffix string) string {
	if signalSuffix == executionSuffix {
		return symbol
	}
	base := strings.TrimSuffix(symbol, signalSuffix)
	if base == symbol || base == "" {
		return symbol
	}
	return base + executionSuffix
}
