// Package session drives live (and paper) trading sessions: one Worker per
// deployed types.LiveSession, wiring the strategy kernel, matching engine,
// ledger, and risk breaker against a polled venue feed. Manager satisfies
// lifecycle.SessionStopper, the interface the lifecycle state machine uses
// to drain orders (and optionally flatten positions) on Pause/Stop/kill
// switch. Grounded on the teacher's Engine.manageMarkets/Stop goroutine
// shape (internal/engine/engine.go in the original tree): one named
// goroutine per session, tracked so Stop can wait for it to exit within a
// bounded timeout.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quantcore/internal/eventbus"
	"quantcore/internal/kernel"
	"quantcore/internal/ledger"
	"quantcore/internal/matching"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
	"quantcore/internal/venue"
	"quantcore/pkg/types"
)

// pollInterval is how often a worker polls its venue connector for a fresh
// price when no streaming feed is configured.
const pollInterval = 5 * time.Second

// stopTimeout bounds how long Stop waits for a worker's loop to exit
// before it proceeds anyway (spec §4.6's 5s-bounded timeout).
const stopTimeout = 5 * time.Second

// TripNotifier is called when a session's risk breaker latches mid-run.
// The lifecycle manager wires this to its own Stop so a tripped session is
// driven to Stopped without the worker depending on lifecycle directly.
type TripNotifier func(sessionID string)

// Worker runs one session's event loop: poll venue -> kernel.Step -> apply
// fills -> update breaker -> publish account snapshot.
type Worker struct {
	id         string
	instrument string
	conn       venue.Connector
	k          *kernel.Kernel
	engine     *matching.Engine
	ledger     *ledger.Ledger
	breaker    *risk.Breaker
	bus        *eventbus.Bus
	logger     *slog.Logger

	onTrip TripNotifier

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every running session worker and satisfies
// lifecycle.SessionStopper.
type Manager struct {
	bus    *eventbus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewManager constructs a session Manager.
func NewManager(bus *eventbus.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		bus:     bus,
		logger:  logger.With("component", "session"),
		workers: make(map[string]*Worker),
	}
}

// Start launches a worker for a freshly-deployed session. onTrip is called
// (from the worker's own goroutine) the instant the breaker latches.
func (m *Manager) Start(sess types.LiveSession, strat strategy.Strategy, conn venue.Connector, breaker *risk.Breaker, onTrip TripNotifier) error {
	m.mu.Lock()
	if _, exists := m.workers[sess.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session %s already running", sess.ID)
	}
	m.mu.Unlock()

	led := ledger.New(ledger.DefaultInitialBalance)
	eng := matching.New(matching.DefaultConfig(), m.logger)
	k := kernel.New(sess.ID, strat, eng, led, m.logger)
	k.SetRiskGate(breaker)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:         sess.ID,
		instrument: sess.TradingPair,
		conn:       conn,
		k:          k,
		engine:     eng,
		ledger:     led,
		breaker:    breaker,
		bus:        m.bus,
		logger:     m.logger.With("session", sess.ID),
		onTrip:     onTrip,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.workers[sess.ID] = w
	m.mu.Unlock()

	go w.run(ctx)
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	w.k.Step(kernel.Event{Timestamp: time.Now().UTC()}) // fires OnStart

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.k.Stop(time.Now().UTC())
			return
		case now := <-ticker.C:
			w.tick(ctx, now)
		}
	}
}

func (w *Worker) tick(ctx context.Context, now time.Time) {
	t, err := w.conn.GetTicker(ctx, w.instrument)
	if err != nil {
		w.logger.Warn("venue tick failed, skipping this cycle", "error", err)
		return
	}

	before := w.ledger.Balance().RealizedPnL

	w.k.Step(kernel.Event{
		Timestamp: now,
		Trade:     &types.Trade{Instrument: w.instrument, Price: t.LastPrice, Timestamp: now},
	})

	delta := w.ledger.Balance().RealizedPnL - before
	if delta != 0 {
		if ok, reason := w.breaker.RecordTradePnL(delta); !ok {
			w.logger.Error("session halted by risk breaker after fill", "reason", reason)
		}
	}

	equityOK, reason := w.breaker.UpdateEquity(w.ledger.TotalEquity())
	w.bus.Publish("live:"+w.id, "live.account_update", w.ledger.AccountSummary())

	if !equityOK && w.onTrip != nil {
		w.logger.Error("risk breaker tripped, notifying lifecycle manager", "reason", reason)
		go w.onTrip(w.id)
	}
}

// Stop drains a session's open orders (cancelling them), optionally
// flattens open positions at the last known price, and waits up to
// stopTimeout for the worker's loop to exit.
func (m *Manager) Stop(sessionID string, flatten bool) (cancelledOrders, flattenedPositions int, err error) {
	m.mu.Lock()
	w, ok := m.workers[sessionID]
	if ok {
		delete(m.workers, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return 0, 0, fmt.Errorf("unknown session %s", sessionID)
	}

	w.cancel()
	select {
	case <-w.done:
	case <-time.After(stopTimeout):
		w.logger.Warn("session worker did not exit within the stop timeout, proceeding anyway")
	}

	cancelled := w.engine.CancelAll("")
	cancelledOrders = len(cancelled)

	if flatten {
		for _, pos := range w.ledger.Positions() {
			if pos.Flat() {
				continue
			}
			side := types.Sell
			if pos.Side == types.Short {
				side = types.Buy
			}
			order := &types.Order{
				ID:         fmt.Sprintf("%s-flatten-%s", sessionID, pos.Instrument),
				SessionID:  sessionID,
				Instrument: pos.Instrument,
				Side:       side,
				Kind:       types.OrderMarket,
				Quantity:   pos.Quantity,
			}
			fills := w.engine.Submit(order, time.Now().UTC())
			for _, f := range fills {
				w.ledger.ApplyFill(f)
			}
			if len(fills) > 0 {
				flattenedPositions++
			}
		}
	}

	return cancelledOrders, flattenedPositions, nil
}

// Worker returns the running worker for a session, or nil. Exposed for the
// HTTP layer's account-summary endpoints.
func (m *Manager) Worker(sessionID string) *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[sessionID]
}

// AccountSummary returns the live ledger snapshot for a running session.
func (w *Worker) AccountSummary() types.AccountSummary { return w.ledger.AccountSummary() }

// RiskStatus returns the session's breaker snapshot.
func (w *Worker) RiskStatus() risk.Status { return w.breaker.GetStatus() }
