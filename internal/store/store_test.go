package store

import (
	"path/filepath"
	"testing"
	"time"

	"quantcore/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "quantcore.db"), filepath.Join(dir, "strategies"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadStrategy(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	strat := types.Strategy{
		ID:          "strat-1",
		VersionHash: "deadbeef",
		Name:        "ema_momentum",
		Description: "simple trend follower",
		Source:      "package main\n",
		ConfigSchema: map[string]any{
			"type": "object",
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.SaveStrategy(strat); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}

	loaded, err := s.LoadStrategy(strat.VersionHash)
	if err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadStrategy returned nil")
	}
	if loaded.Name != strat.Name || loaded.Source != strat.Source {
		t.Errorf("loaded = %+v, want name/source to match %+v", loaded, strat)
	}
}

func TestLoadStrategyMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	loaded, err := s.LoadStrategy("does-not-exist")
	if err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for unknown strategy hash, got %+v", loaded)
	}
}

func TestHasCompletedBacktest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	has, err := s.HasCompletedBacktest("strat-1")
	if err != nil {
		t.Fatalf("HasCompletedBacktest: %v", err)
	}
	if has {
		t.Fatal("expected no completed backtest before any job is saved")
	}

	job := types.BacktestJob{
		ID:           "job-1",
		StrategyHash: "strat-1",
		Status:       types.BacktestCompleted,
	}
	if err := s.SaveBacktestJob(job); err != nil {
		t.Fatalf("SaveBacktestJob: %v", err)
	}

	has, err = s.HasCompletedBacktest("strat-1")
	if err != nil {
		t.Fatalf("HasCompletedBacktest: %v", err)
	}
	if !has {
		t.Fatal("expected a completed backtest after saving one")
	}
}

func TestRiskProfileRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	profile := types.RiskProfile{
		ID:                      "default",
		Name:                    "default",
		MaxDrawdownPct:          0.1,
		SingleOrderSizeCap:      0.5,
		DailyLossLimit:          1000,
		MaxConcurrentStrategies: 3,
	}
	if err := s.SaveRiskProfile(profile); err != nil {
		t.Fatalf("SaveRiskProfile: %v", err)
	}

	loaded, err := s.GetRiskProfile("default")
	if err != nil {
		t.Fatalf("GetRiskProfile: %v", err)
	}
	if loaded == nil {
		t.Fatal("GetRiskProfile returned nil")
	}
	if loaded.MaxDrawdownPct != profile.MaxDrawdownPct {
		t.Errorf("MaxDrawdownPct = %v, want %v", loaded.MaxDrawdownPct, profile.MaxDrawdownPct)
	}
}

func TestSetKillSwitchActiveLatches(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	profile := types.RiskProfile{ID: "default", Name: "default", MaxConcurrentStrategies: 3}
	if err := s.SaveRiskProfile(profile); err != nil {
		t.Fatalf("SaveRiskProfile: %v", err)
	}

	if err := s.SetKillSwitchActive("default"); err != nil {
		t.Fatalf("SetKillSwitchActive: %v", err)
	}

	loaded, err := s.GetRiskProfile("default")
	if err != nil {
		t.Fatalf("GetRiskProfile: %v", err)
	}
	if !loaded.KillSwitchActive {
		t.Fatal("expected kill_switch_active to be latched true")
	}

	// Latching twice must stay true and not error (idempotent).
	if err := s.SetKillSwitchActive("default"); err != nil {
		t.Fatalf("SetKillSwitchActive (second call): %v", err)
	}
}

func TestCacheIndexListAndDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	entry := types.CacheIndexEntry{
		Instrument:  "BTCUSDT",
		Aggregation: types.Bar1h,
		StartDate:   time.Now().Add(-24 * time.Hour).UTC(),
		EndDate:     time.Now().UTC(),
		RecordCount: 24,
		FilePath:    filepath.Join(t.TempDir(), "BTCUSDT_1h.json"),
		ContentHash: "abc123",
		FetchedAt:   time.Now().UTC(),
	}
	if err := s.UpsertCacheIndex(entry); err != nil {
		t.Fatalf("UpsertCacheIndex: %v", err)
	}

	entries, err := s.ListCacheIndex()
	if err != nil {
		t.Fatalf("ListCacheIndex: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Instrument != entry.Instrument {
		t.Errorf("Instrument = %v, want %v", entries[0].Instrument, entry.Instrument)
	}

	if err := s.DeleteCacheIndex(entry.Instrument, entry.Aggregation); err != nil {
		t.Fatalf("DeleteCacheIndex: %v", err)
	}

	entries, err = s.ListCacheIndex()
	if err != nil {
		t.Fatalf("ListCacheIndex: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d after delete, want 0", len(entries))
	}
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	rec := types.AuditRecord{
		Timestamp:  time.Now().UTC(),
		Action:     "deploy",
		EntityType: "live_session",
		EntityID:   "sess-1",
		Details:    map[string]any{"operator": "test"},
		SessionID:  "sess-1",
	}
	if err := s.AppendAudit(rec); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}
