// Package kernel implements the strategy execution kernel (spec §4.2): it
// dispatches bar/trade/orderbook/funding-rate events to a Strategy
// sequentially in timestamp order, resolves the Signals each handler call
// produces into Orders, submits them to the matching engine, and applies
// the resulting Fills to the ledger before the next event is dispatched.
package kernel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quantcore/internal/ledger"
	"quantcore/internal/matching"
	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

// Event is one timestamp-ordered tick fed to the kernel. Exactly one of
// Bar/Trade/OrderBook/FundingRate is set.
type Event struct {
	Timestamp   time.Time
	Bar         *types.MarketBar
	Trade       *types.Trade
	OrderBook   *types.OrderBook
	FundingRate *types.FundingRate
}

// RiskGate is consulted before every order the kernel submits on behalf of
// a strategy signal. It is satisfied by risk.Breaker.CheckOrder. A nil
// RiskGate (the backtest worker's case — backtests replay history against
// ledger-only risk, not a live breaker) disables the check.
type RiskGate interface {
	CheckOrder(size float64) (bool, string)
}

// Kernel drives one Strategy against one matching Engine and Ledger. It
// owns no concurrency of its own — spec §5 requires handlers run on a
// single logical thread per session, so Step is a plain sequential call.
type Kernel struct {
	sessionID string
	strat     strategy.Strategy
	engine    *matching.Engine
	ledger    *ledger.Ledger
	risk      RiskGate
	logger    *slog.Logger

	started bool
}

// New constructs a Kernel for one session.
func New(sessionID string, strat strategy.Strategy, engine *matching.Engine, led *ledger.Ledger, logger *slog.Logger) *Kernel {
	return &Kernel{
		sessionID: sessionID,
		strat:     strat,
		engine:    engine,
		ledger:    led,
		logger:    logger.With("component", "kernel", "session", sessionID),
	}
}

// SetRiskGate attaches a pre-trade veto. Live sessions call this with the
// session's risk.Breaker immediately after construction.
func (k *Kernel) SetRiskGate(gate RiskGate) {
	k.risk = gate
}

// Step dispatches one Event to the strategy and processes the resulting
// Signals. Callers (the backtest worker, or a live session's feed loop)
// call Step once per incoming event, already sorted in timestamp order.
func (k *Kernel) Step(ev Event) []types.Fill {
	if !k.started {
		k.started = true
		k.handleSignals(k.strat.OnStart(), ev.Timestamp)
	}

	var signals []types.Signal
	var fills []types.Fill

	switch {
	case ev.Bar != nil:
		signals = k.strat.OnBar(*ev.Bar)
		fills = append(fills, k.engine.OnPriceUpdate(ev.Bar.Instrument, ev.Bar.Close, ev.Timestamp)...)
		k.ledger.MarkPrice(ev.Bar.Instrument, ev.Bar.Close)
	case ev.Trade != nil:
		signals = k.strat.OnTrade(*ev.Trade)
		fills = append(fills, k.engine.OnPriceUpdate(ev.Trade.Instrument, ev.Trade.Price, ev.Timestamp)...)
		k.ledger.MarkPrice(ev.Trade.Instrument, ev.Trade.Price)
	case ev.OrderBook != nil:
		signals = k.strat.OnOrderBook(*ev.OrderBook)
	case ev.FundingRate != nil:
		signals = k.strat.OnFundingRate(*ev.FundingRate)
	}

	for _, f := range fills {
		k.ledger.ApplyFill(f)
	}

	fills = append(fills, k.handleSignals(signals, ev.Timestamp)...)
	return fills
}

// Stop calls the strategy's OnStop handler and processes any final signals.
func (k *Kernel) Stop(at time.Time) []types.Fill {
	return k.handleSignals(k.strat.OnStop(), at)
}

// handleSignals turns each Signal into an Order, submits it to the
// matching engine, and immediately applies any resulting Fill to the
// ledger — so that the next handler call observes up-to-date order/ledger
// state, per spec §4.2's execution contract.
func (k *Kernel) handleSignals(signals []types.Signal, now time.Time) []types.Fill {
	var fills []types.Fill
	for _, sig := range signals {
		order, err := k.resolveSignal(sig)
		if err != nil {
			k.logger.Warn("dropping unresolvable signal", "symbol", sig.Symbol, "error", err)
			continue
		}
		if order == nil {
			continue
		}
		if k.risk != nil {
			if ok, reason := k.risk.CheckOrder(order.Quantity); !ok {
				k.logger.Warn("risk breaker vetoed order", "symbol", order.Instrument, "reason", reason)
				continue
			}
		}
		fs := k.engine.Submit(order, now)
		for _, f := range fs {
			k.ledger.ApplyFill(f)
		}
		fills = append(fills, fs...)
	}
	return fills
}

// resolveSignal converts a Signal into a concrete Order. A Flat signal
// closes the current position at market; Long/Short without a limit price
// is a market order, with one is a limit order. Size is resolved against
// current total equity when it is an equity fraction.
func (k *Kernel) resolveSignal(sig types.Signal) (*types.Order, error) {
	if sig.Direction == types.Flat {
		pos := k.ledger.Position(sig.Symbol)
		if pos == nil || pos.Flat() {
			return nil, nil
		}
		side := types.Sell
		if pos.Side == types.Short {
			side = types.Buy
		}
		return &types.Order{
			ID:         uuid.NewString(),
			SessionID:  k.sessionID,
			Instrument: sig.Symbol,
			Side:       side,
			Kind:       types.OrderMarket,
			Quantity:   pos.Quantity,
		}, nil
	}

	side := types.Buy
	if sig.Direction == types.Short {
		side = types.Sell
	}

	qty, err := k.resolveQuantity(sig)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("resolved non-positive quantity for %s", sig.Symbol)
	}

	kind := types.OrderMarket
	if sig.LimitPrice != nil {
		kind = types.OrderLimit
	}

	return &types.Order{
		ID:         uuid.NewString(),
		SessionID:  k.sessionID,
		Instrument: sig.Symbol,
		Side:       side,
		Kind:       kind,
		Quantity:   qty,
		LimitPrice: sig.LimitPrice,
	}, nil
}

func (k *Kernel) resolveQuantity(sig types.Signal) (float64, error) {
	if sig.SizeKind == types.SizeAbsolute {
		return sig.Size, nil
	}

	equity := k.ledger.TotalEquity()
	price := 0.0
	if sig.LimitPrice != nil {
		price = *sig.LimitPrice
	} else if pos := k.ledger.Position(sig.Symbol); pos != nil {
		price = pos.AvgEntryPrice
	}
	if price <= 0 {
		return 0, fmt.Errorf("cannot resolve equity-fraction size for %s without a reference price", sig.Symbol)
	}
	return (equity * sig.Size) / price, nil
}
