// Package lifecycle implements the live-session lifecycle state machine of
// spec §4.6: {Deploying, Running, Paused, Stopping, Stopped}, guarded
// deploys, and kill-switch fan-out. Grounded on
// original_source/engine/src/core/live_manager.py's LiveManager — in
// particular its compare-and-swap `_transition` (a conditional
// `UPDATE ... WHERE lifecycle_state = ?`) and its dual-topic broadcast to
// `live:<id>` and `dashboard` on every accepted transition.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quantcore/internal/eventbus"
	"quantcore/internal/risk"
	"quantcore/pkg/types"
)

// allowedTransitions enumerates the state machine's edges (spec §4.6 table).
var allowedTransitions = map[types.LifecycleState][]types.LifecycleState{
	types.Deploying: {types.Running, types.Stopped},
	types.Running:   {types.Paused, types.Stopping},
	types.Paused:    {types.Running, types.Stopping},
	types.Stopping:  {types.Stopped},
}

// DeployRequest describes a caller's request to deploy a session.
type DeployRequest struct {
	StrategyHash  string
	TradingPair   string
	Venue         string
	RiskProfileID string
	Parameters    map[string]any
	Operator      string
}

// BacktestLookup is satisfied by the persistence layer: it reports whether
// a strategy hash has at least one Completed backtest (the isomorphism
// guarantee, deploy guard #1).
type BacktestLookup interface {
	HasCompletedBacktest(strategyHash string) (bool, error)
}

// RiskProfileLookup is satisfied by the persistence layer.
type RiskProfileLookup interface {
	GetRiskProfile(id string) (*types.RiskProfile, error)
}

// RiskProfileSetter is satisfied by the persistence layer: it latches
// kill_switch_active on a risk profile. Composed into RiskProfileLookup
// callers only where the kill switch needs it.
type RiskProfileSetter interface {
	SetKillSwitchActive(id string) error
}

// KillSwitchResult is returned by KillSwitch.
type KillSwitchResult struct {
	KilledSessions     int       `json:"killed_sessions"`
	CancelledOrders    int       `json:"cancelled_orders"`
	FlattenedPositions int       `json:"flattened_positions"`
	ExecutedAt         time.Time `json:"executed_at"`
}

// SessionStopper is implemented by whatever owns a session's worker
// (cancel all open orders, optionally flatten positions).
type SessionStopper interface {
	Stop(sessionID string, flatten bool) (cancelledOrders, flattenedPositions int, err error)
}

// riskProfiles is the persistence-layer surface the Manager needs: lookup
// for deploy guards, setter for kill-switch latching.
type riskProfiles interface {
	RiskProfileLookup
	RiskProfileSetter
}

// Manager owns every LiveSession's lifecycle state. A single Manager
// instance is shared across sessions; its mutex serializes transitions —
// the CAS semantics described in spec §4.6 are implemented as an
// in-process compare-and-swap here (a single relational-store row update
// would be CAS'd the same way against the persistence layer).
type Manager struct {
	logger  *slog.Logger
	bus     *eventbus.Bus
	backtests BacktestLookup
	profiles  riskProfiles
	stopper   SessionStopper

	mu       sync.Mutex
	sessions map[string]*types.LiveSession
	breakers map[string]*risk.Breaker
}

// New constructs a lifecycle Manager.
func New(bus *eventbus.Bus, backtests BacktestLookup, profiles riskProfiles, stopper SessionStopper, logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger.With("component", "lifecycle"),
		bus:       bus,
		backtests: backtests,
		profiles:  profiles,
		stopper:   stopper,
		sessions:  make(map[string]*types.LiveSession),
		breakers:  make(map[string]*risk.Breaker),
	}
}

// Deploy validates all deploy guards and, if they pass, creates a session in
// Deploying state and transitions it to Running.
func (m *Manager) Deploy(id string, req DeployRequest) (*types.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDeployGuardsLocked(req); err != nil {
		return nil, err
	}

	profile, err := m.profiles.GetRiskProfile(req.RiskProfileID)
	if err != nil {
		return nil, fmt.Errorf("load risk profile: %w", err)
	}

	session := &types.LiveSession{
		ID:             id,
		StrategyHash:   req.StrategyHash,
		TradingPair:    req.TradingPair,
		Venue:          req.Venue,
		LifecycleState: types.Deploying,
		RiskProfileID:  req.RiskProfileID,
		Parameters:     req.Parameters,
		Operator:       req.Operator,
		StartedAt:      time.Now(),
	}
	m.sessions[id] = session
	m.breakers[id] = risk.NewBreaker(profile.MaxDrawdownPct, profile.SingleOrderSizeCap, profile.DailyLossLimit, m.logger)

	m.transitionLocked(session, types.Deploying, types.Running)
	return session, nil
}

// checkDeployGuardsLocked enforces the four guards of spec §4.6. Caller
// must hold m.mu.
func (m *Manager) checkDeployGuardsLocked(req DeployRequest) error {
	hasBacktest, err := m.backtests.HasCompletedBacktest(req.StrategyHash)
	if err != nil {
		return fmt.Errorf("check backtest history: %w", err)
	}
	if !hasBacktest {
		return fmt.Errorf("strategy %s has no completed backtest", req.StrategyHash)
	}

	profile, err := m.profiles.GetRiskProfile(req.RiskProfileID)
	if err != nil {
		return fmt.Errorf("load risk profile: %w", err)
	}
	if profile.KillSwitchActive {
		return fmt.Errorf("risk profile %s kill switch is active", req.RiskProfileID)
	}

	active := 0
	for _, s := range m.sessions {
		switch s.LifecycleState {
		case types.Deploying, types.Running, types.Paused:
			active++
			if s.TradingPair == req.TradingPair && (s.LifecycleState == types.Running || s.LifecycleState == types.Paused) {
				return fmt.Errorf("trading pair %s already has an active session", req.TradingPair)
			}
		}
	}
	if active >= profile.MaxConcurrentStrategies {
		return fmt.Errorf("max_concurrent_strategies (%d) reached", profile.MaxConcurrentStrategies)
	}
	return nil
}

// Pause transitions Running -> Paused.
func (m *Manager) Pause(id string) error {
	return m.transitionByID(id, types.Running, types.Paused)
}

// Resume transitions Paused -> Running.
func (m *Manager) Resume(id string) error {
	return m.transitionByID(id, types.Paused, types.Running)
}

// Stop transitions Running/Paused -> Stopping, drains orders via the
// SessionStopper, then finalizes Stopping -> Stopped. flatten requests the
// stopper also flatten open positions.
func (m *Manager) Stop(id string, flatten bool) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown session %s", id)
	}
	if session.LifecycleState == types.Stopping || session.LifecycleState == types.Stopped {
		m.mu.Unlock()
		return nil // idempotent short-circuit
	}
	from := session.LifecycleState
	m.transitionLocked(session, from, types.Stopping)
	m.mu.Unlock()

	_, _, err := m.stopper.Stop(id, flatten)
	if err != nil {
		m.logger.Warn("session stop encountered an error", "session", id, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(session, types.Stopping, types.Stopped)
	return nil
}

func (m *Manager) transitionByID(id string, from, to types.LifecycleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	if session.LifecycleState != from {
		return nil // CAS mismatch: no-op, idempotent under retries
	}
	m.transitionLocked(session, from, to)
	return nil
}

// transitionLocked performs the compare-and-swap transition and the
// dual-topic broadcast. Caller must hold m.mu.
func (m *Manager) transitionLocked(session *types.LiveSession, from, to types.LifecycleState) {
	if session.LifecycleState != from {
		return // mismatch: no-op
	}
	if !isAllowed(from, to) {
		m.logger.Error("rejected illegal lifecycle transition", "session", session.ID, "from", from, "to", to)
		return
	}

	session.LifecycleState = to
	now := time.Now()
	switch to {
	case types.Paused:
		session.PausedAt = &now
	case types.Stopped:
		session.StoppedAt = &now
	}
	session.AuditTrail = append(session.AuditTrail, fmt.Sprintf("%s: %s -> %s", now.Format(time.RFC3339), from, to))

	payload := map[string]any{"session_id": session.ID, "from": from, "to": to}
	m.bus.Publish("live:"+session.ID, "live.state_change", payload)
}

func isAllowed(from, to types.LifecycleState) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// KillSwitch snapshots all active sessions, stops each best-effort, and
// latches kill_switch_active on every distinct risk profile touched.
func (m *Manager) KillSwitch() (KillSwitchResult, error) {
	m.mu.Lock()
	var active []*types.LiveSession
	for _, s := range m.sessions {
		if s.LifecycleState == types.Running || s.LifecycleState == types.Paused {
			active = append(active, s)
		}
	}
	m.mu.Unlock()

	var totalCancelled, totalFlattened int
	touchedProfiles := make(map[string]bool)
	for _, s := range active {
		cancelled, flattened, err := m.stopper.Stop(s.ID, true)
		if err != nil {
			m.logger.Warn("kill switch: session stop failed, continuing", "session", s.ID, "error", err)
		}
		totalCancelled += cancelled
		totalFlattened += flattened
		touchedProfiles[s.RiskProfileID] = true

		m.mu.Lock()
		m.transitionLocked(s, s.LifecycleState, types.Stopping)
		m.transitionLocked(s, types.Stopping, types.Stopped)
		m.mu.Unlock()
	}

	for profileID := range touchedProfiles {
		if err := m.profiles.SetKillSwitchActive(profileID); err != nil {
			m.logger.Warn("kill switch: failed to latch risk profile", "profile", profileID, "error", err)
		}
	}

	return KillSwitchResult{
		KilledSessions:     len(active),
		CancelledOrders:    totalCancelled,
		FlattenedPositions: totalFlattened,
		ExecutedAt:         time.Now(),
	}, nil
}

// GetSession returns a snapshot of one session, or nil if unknown.
func (m *Manager) GetSession(id string) *types.LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// ListSessions returns a snapshot of every session.
func (m *Manager) ListSessions() []types.LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Breaker returns the risk breaker owned by a session, or nil if unknown.
func (m *Manager) Breaker(sessionID string) *risk.Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakers[sessionID]
}
