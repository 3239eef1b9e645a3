// Package ledger applies matching-engine Fills to per-instrument positions
// and the account balance, tracking realized/unrealized PnL, funding
// settlement, and account equity.
//
// The ledger is single-writer: one session worker owns a Ledger value and
// calls ApplyFill/MarkPrice/ApplyFunding from its own goroutine. External
// readers (the event bus, dashboard handlers) only ever see snapshots
// returned by Position/Positions/Balance/AccountSummary, never the live maps.
package ledger

import (
	"sync"
	"time"

	"quantcore/pkg/types"
)

// DefaultInitialBalance mirrors the paper-trading default starting balance.
const DefaultInitialBalance = 100_000.0

// maxClosedHistory bounds the closed-position ring buffer.
const maxClosedHistory = 1000

// Ledger owns Position and Balance records for one session (spec §3
// Ownership). It is safe for concurrent reads via the exported snapshot
// methods; ApplyFill/MarkPrice/ApplyFunding must be called from a single
// goroutine.
type Ledger struct {
	mu sync.RWMutex

	balance   types.Balance
	positions map[string]*types.Position
	closed    []types.Position // bounded ring of fully-closed positions
}

// New creates a Ledger with the given initial balance.
func New(initialBalance float64) *Ledger {
	return &Ledger{
		balance: types.Balance{
			Total:     initialBalance,
			Available: initialBalance,
		},
		positions: make(map[string]*types.Position),
	}
}

// ApplyFill updates balance and position state for one Fill, following the
// five-step procedure in spec §4.4.
func (l *Ledger) ApplyFill(f types.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 1. Deduct fee.
	l.balance.Available -= f.Fee
	l.balance.Total -= f.Fee
	l.balance.TotalFees += f.Fee

	pos, ok := l.positions[f.Instrument]
	fillSide := directionOf(f.Side)

	if !ok || pos.Flat() {
		// 3. Open a fresh position.
		l.positions[f.Instrument] = &types.Position{
			Instrument:    f.Instrument,
			Side:          fillSide,
			Quantity:      f.Quantity,
			AvgEntryPrice: f.Price,
			TotalFees:     f.Fee,
			OpenedAt:      f.Timestamp,
			UpdatedAt:     f.Timestamp,
		}
		return
	}

	if pos.Side == fillSide {
		// 4. Same direction: size-weighted average.
		newQty := pos.Quantity + f.Quantity
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + f.Price*f.Quantity) / newQty
		pos.Quantity = newQty
		pos.TotalFees += f.Fee
		pos.UpdatedAt = f.Timestamp
		return
	}

	// 5. Opposite direction: close min(fill_qty, pos.qty), realize PnL, flip
	// into the residual if any remains.
	closeQty := f.Quantity
	if pos.Quantity < closeQty {
		closeQty = pos.Quantity
	}

	realized := (f.Price - pos.AvgEntryPrice) * closeQty
	if pos.Side == types.Short {
		realized = -realized
	}
	pos.RealizedPnL += realized
	pos.TotalFees += f.Fee
	l.balance.RealizedPnL += realized
	l.balance.Total += realized
	l.balance.Available += realized
	pos.Quantity -= closeQty
	pos.UpdatedAt = f.Timestamp

	residual := f.Quantity - closeQty
	if pos.Quantity == 0 {
		closedCopy := *pos
		l.pushClosed(closedCopy)
		delete(l.positions, f.Instrument)

		if residual > 0 {
			l.positions[f.Instrument] = &types.Position{
				Instrument:    f.Instrument,
				Side:          fillSide,
				Quantity:      residual,
				AvgEntryPrice: f.Price,
				OpenedAt:      f.Timestamp,
				UpdatedAt:     f.Timestamp,
			}
		}
	}
}

func (l *Ledger) pushClosed(p types.Position) {
	l.closed = append(l.closed, p)
	if len(l.closed) > maxClosedHistory {
		l.closed = l.closed[len(l.closed)-maxClosedHistory:]
	}
}

func directionOf(s types.Side) types.Direction {
	if s == types.Buy {
		return types.Long
	}
	return types.Short
}

// MarkPrice recomputes unrealized PnL for the instrument's open position
// against the given mark price.
func (l *Ledger) MarkPrice(instrument string, mark float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[instrument]
	if !ok || pos.Flat() {
		return
	}
	pnl := (mark - pos.AvgEntryPrice) * pos.Quantity
	if pos.Side == types.Short {
		pnl = -pnl
	}
	pos.UnrealizedPnL = pnl
	pos.UpdatedAt = time.Now()
}

// ApplyFunding posts a funding settlement payment for the instrument's open
// position. Longs pay when rate is positive; shorts receive.
func (l *Ledger) ApplyFunding(instrument string, rate float64, markPrice float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[instrument]
	if !ok || pos.Flat() {
		return
	}
	notional := pos.Quantity * markPrice
	var payment float64
	if pos.Side == types.Long {
		payment = -rate * notional
	} else {
		payment = rate * notional
	}
	pos.RealizedPnL += payment
	pos.UpdatedAt = at
	l.balance.RealizedPnL += payment
	l.balance.Total += payment
	l.balance.Available += payment
}

// TotalEquity returns balance.total plus the sum of unrealized PnL across
// all open positions.
func (l *Ledger) TotalEquity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalEquityLocked()
}

func (l *Ledger) totalEquityLocked() float64 {
	eq := l.balance.Total
	for _, p := range l.positions {
		eq += p.UnrealizedPnL
	}
	return eq
}

// Position returns a snapshot of one instrument's position, or nil if flat.
func (l *Ledger) Position(instrument string) *types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[instrument]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns a snapshot of every open position.
func (l *Ledger) Positions() map[string]types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]types.Position, len(l.positions))
	for k, v := range l.positions {
		out[k] = *v
	}
	return out
}

// Balance returns a snapshot of the account balance.
func (l *Ledger) Balance() types.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// AccountSummary returns a read-only reporting snapshot. MarginUsed follows
// the 10x-leverage simplification of the original position manager.
func (l *Ledger) AccountSummary() types.AccountSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var totalValue float64
	for _, p := range l.positions {
		totalValue += p.Quantity * p.AvgEntryPrice
	}

	return types.AccountSummary{
		TotalPositionValue: totalValue,
		DailyPnL:           l.balance.RealizedPnL,
		MarginUsed:         totalValue * 0.1,
		Available:          l.balance.Available,
		Equity:             l.totalEquityLocked(),
	}
}

// ClosedPositions returns a snapshot of the bounded closed-position history.
func (l *Ledger) ClosedPositions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Position, len(l.closed))
	copy(out, l.closed)
	return out
}
