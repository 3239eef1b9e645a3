package lifecycle

import (
	"io"
	"log/slog"
	"testing"

	"quantcore/internal/eventbus"
	"quantcore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBacktests struct{ has map[string]bool }

func (f *fakeBacktests) HasCompletedBacktest(hash string) (bool, error) { return f.has[hash], nil }

type fakeProfiles struct{ profiles map[string]*types.RiskProfile }

func (f *fakeProfiles) GetRiskProfile(id string) (*types.RiskProfile, error) {
	return f.profiles[id], nil
}

func (f *fakeProfiles) SetKillSwitchActive(id string) error {
	if p, ok := f.profiles[id]; ok {
		p.KillSwitchActive = true
	}
	return nil
}

type fakeStopper struct{ stopped []string }

func (f *fakeStopper) Stop(sessionID string, flatten bool) (int, int, error) {
	f.stopped = append(f.stopped, sessionID)
	return 1, 1, nil
}

func newTestManager() (*Manager, *fakeBacktests, *fakeProfiles, *fakeStopper) {
	bt := &fakeBacktests{has: map[string]bool{"hash1": true}}
	rp := &fakeProfiles{profiles: map[string]*types.RiskProfile{
		"default": {ID: "default", MaxDrawdownPct: 0.1, SingleOrderSizeCap: 0.5, DailyLossLimit: 1000, MaxConcurrentStrategies: 5},
	}}
	sp := &fakeStopper{}
	bus := eventbus.New(testLogger())
	m := New(bus, bt, rp, sp, testLogger())
	return m, bt, rp, sp
}

func TestDeployRejectsUnbacktestedStrategy(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager()

	_, err := m.Deploy("s1", DeployRequest{StrategyHash: "unknown", TradingPair: "BTCUSDT", RiskProfileID: "default"})
	if err == nil {
		t.Fatal("expected error for strategy without a completed backtest")
	}
}

func TestDeploySucceedsAndTransitionsToRunning(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager()

	s, err := m.Deploy("s1", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LifecycleState != types.Running {
		t.Fatalf("expected Running, got %s", s.LifecycleState)
	}
}

func TestDeployRejectsDuplicateTradingPair(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager()

	if _, err := m.Deploy("s1", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Deploy("s2", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"}); err == nil {
		t.Fatal("expected error deploying a second session on the same trading pair")
	}
}

func TestTransitionCASIsIdempotentUnderRetry(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager()

	if _, err := m.Deploy("s1", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Pause("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Retrying the same Running->Paused transition after it already landed
	// is a no-op, not an error: the CAS guard simply finds a state mismatch.
	if err := m.Pause("s1"); err != nil {
		t.Fatalf("unexpected error on retried transition: %v", err)
	}
	if got := m.GetSession("s1").LifecycleState; got != types.Paused {
		t.Fatalf("expected session to remain Paused, got %s", got)
	}
}

func TestKillSwitchStopsAllActiveSessions(t *testing.T) {
	t.Parallel()
	m, _, _, stopper := newTestManager()

	if _, err := m.Deploy("s1", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Deploy("s2", DeployRequest{StrategyHash: "hash1", TradingPair: "ETHUSDT", RiskProfileID: "default"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := m.KillSwitch()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.KilledSessions != 2 {
		t.Fatalf("expected 2 killed sessions, got %d", result.KilledSessions)
	}
	if len(stopper.stopped) != 2 {
		t.Fatalf("expected stopper called twice, got %d", len(stopper.stopped))
	}
	for _, s := range m.ListSessions() {
		if s.LifecycleState != types.Stopped {
			t.Fatalf("expected session %s to be Stopped, got %s", s.ID, s.LifecycleState)
		}
	}

	// The kill switch latches kill_switch_active on every risk profile it
	// touched; a subsequent deploy against that profile must be rejected
	// until an operator resets it out-of-band (spec §4.6 guard #4).
	if _, err := m.Deploy("s3", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"}); err == nil {
		t.Fatal("expected deploy to be rejected after kill switch latched the risk profile")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager()

	if _, err := m.Deploy("s1", DeployRequest{StrategyHash: "hash1", TradingPair: "BTCUSDT", RiskProfileID: "default"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Stop("s1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Stop("s1", false); err != nil {
		t.Fatalf("expected idempotent second stop to succeed, got %v", err)
	}
}
