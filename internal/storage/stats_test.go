package storage

import (
	"testing"
	"time"

	"signal-bot/internal/position"
)

func record(id string, pnl float64, closedAgo time.Duration) position.TradeRecord {
	return position.TradeRecord{
		PositionID:  id,
		Symbol:      "BTCUSDT",
		RealizedPnL: pnl,
		CloseReason: position.CloseAllTargetsHit,
		ClosedAt:    time.Now().Add(-closedAgo),
	}
}

func TestStatisticsStore_SummaryWindows(t *testing.T) {
	store, err := NewStatisticsStore(t.TempDir(), DefaultWindows())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	for _, rec := range []position.TradeRecord{
		record("a", 50, time.Hour),
		record("b", -20, 2*time.Hour),
		record("c", 10, 3*24*time.Hour), // Outside 24h, inside 7d
	} {
		if err := store.Append(rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	day, err := store.SummaryFor("24h")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if day.Count != 2 || day.Wins != 1 || day.Losses != 1 {
		t.Errorf("24h summary wrong: %+v", day)
	}
	if day.NetPnL != 30 {
		t.Errorf("expected net 30, got %g", day.NetPnL)
	}
	if day.LargestWin != 50 || day.LargestLoss != -20 {
		t.Errorf("extremes wrong: win %g loss %g", day.LargestWin, day.LargestLoss)
	}
	if day.WinRate != 0.5 {
		t.Errorf("expected win rate 0.5, got %g", day.WinRate)
	}

	week, err := store.SummaryFor("7d")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if week.Count != 3 {
		t.Errorf("7d summary should include the older trade: %+v", week)
	}

	if _, err := store.SummaryFor("1y"); err == nil {
		t.Error("unknown window should error")
	}
}

func TestStatisticsStore_EvictionBeyondLongestWindow(t *testing.T) {
	store, err := NewStatisticsStore(t.TempDir(), DefaultWindows())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Append(record("old", 5, 31*24*time.Hour)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(record("fresh", 5, time.Minute)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	recs := store.Records()
	if len(recs) != 1 || recs[0].PositionID != "fresh" {
		t.Errorf("expected only the fresh record to survive eviction, got %+v", recs)
	}
}

func TestStatisticsStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStatisticsStore(dir, DefaultWindows())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Append(record("a", 12, time.Hour)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reloaded, err := NewStatisticsStore(dir, DefaultWindows())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if recs := reloaded.Records(); len(recs) != 1 || recs[0].RealizedPnL != 12 {
		t.Errorf("records lost across reload: %+v", recs)
	}
}

func TestJournal_SignalsRoundTrip(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	defer j.Close()

	if err := j.LogSignal(SignalEntry{Channel: "alpha", Raw: "#BTC LONG ...", Parsed: true, SignalID: "s1"}); err != nil {
		t.Fatalf("log signal failed: %v", err)
	}
	if err := j.LogSignal(SignalEntry{Channel: "alpha", Raw: "gm", Parsed: false}); err != nil {
		t.Fatalf("log signal failed: %v", err)
	}
	if err := j.LogSignal(SignalEntry{Channel: "beta", Raw: "other", Parsed: false}); err != nil {
		t.Fatalf("log signal failed: %v", err)
	}

	entries, err := j.SignalsFor("alpha")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for alpha, got %d", len(entries))
	}
	if !entries[0].Parsed || entries[0].SignalID != "s1" {
		t.Errorf("first entry wrong: %+v", entries[0])
	}
}
