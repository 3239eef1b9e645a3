// Package matching implements the simulated matching engine (spec §4.3):
// market/limit/stop/stop-limit/TP-SL/trailing-stop order types, matched
// against an incoming price stream with fee and slippage rules. Grounded on
// original_source/python/tino_daemon/paper/orderbook_sim.py's fill logic,
// extended from its two order kinds (Market/Limit) to the full six the spec
// requires.
package matching

import (
	"log/slog"
	"sync"
	"time"

	"quantcore/pkg/types"
)

// Default fee rates and ring-buffer size, matching the Python original's
// DEFAULT_TAKER_FEE/DEFAULT_MAKER_FEE/trim_history(max_filled=10000).
const (
	DefaultTakerFee      = 0.0004
	DefaultMakerFee      = 0.0002
	DefaultMaxFilledOrders = 10000
)

// Config tunes fee and slippage behavior.
type Config struct {
	TakerFee       float64
	MakerFee       float64
	SlippageBps    float64
	MaxFilledOrders int
}

// DefaultConfig returns the Python original's default fee schedule with no
// slippage and the default ring-buffer bound.
func DefaultConfig() Config {
	return Config{
		TakerFee:        DefaultTakerFee,
		MakerFee:        DefaultMakerFee,
		SlippageBps:     0,
		MaxFilledOrders: DefaultMaxFilledOrders,
	}
}

// Engine is the single-session simulated matching engine. Every method
// takes the engine's mutex, so calls from several goroutines are
// serialized; one session worker owns it.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	open        map[string]*types.Order // orderID -> open order
	filled      []types.Order           // bounded ring of completed orders
	lastPrice   map[string]float64       // last observed price per instrument
}

// New constructs a matching Engine.
func New(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "matching"),
		open:      make(map[string]*types.Order),
		lastPrice: make(map[string]float64),
	}
}

// Submit accepts a new order. Zero-or-negative quantities are Rejected
// immediately (spec §4.3 edge case). Market orders fill immediately against
// the last known price if one exists, otherwise queue for the next tick.
// A limit order that already crosses the last known price fills at once, at
// its limit price, as a taker fill. Other limit orders and all
// Stop/StopLimit/TpSl/TrailingStop orders queue until a subsequent price
// tick satisfies their trigger.
func (e *Engine) Submit(o *types.Order, now time.Time) []types.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.Quantity <= 0 {
		o.Status = types.OrderRejected
		return nil
	}
	o.Status = types.OrderPending
	o.CreatedAt = now

	if o.Kind == types.OrderMarket {
		if price, ok := e.lastPrice[o.Instrument]; ok {
			return e.fillLocked(o, price, true, now)
		}
		e.open[o.ID] = o
		return nil
	}

	if o.Kind == types.OrderLimit && o.LimitPrice != nil {
		if price, ok := e.lastPrice[o.Instrument]; ok && shouldFillLimit(o.Side, price, *o.LimitPrice) {
			return e.fillLocked(o, *o.LimitPrice, true, now)
		}
	}

	e.open[o.ID] = o
	return nil
}

// CancelOrder removes an open order. Returns false if the order is unknown
// or already terminal.
func (e *Engine) CancelOrder(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.open[orderID]
	if !ok {
		return false
	}
	o.Status = types.OrderCancelled
	delete(e.open, orderID)
	return true
}

// CancelAll cancels every open order, optionally restricted to one
// instrument (empty string means all instruments). Returns the cancelled
// orders.
func (e *Engine) CancelAll(instrument string) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cancelled []types.Order
	for id, o := range e.open {
		if instrument != "" && o.Instrument != instrument {
			continue
		}
		o.Status = types.OrderCancelled
		cancelled = append(cancelled, *o)
		delete(e.open, id)
	}
	return cancelled
}

// OnPriceUpdate feeds one new price observation for an instrument and
// returns every Fill produced by it: market orders queued with no prior
// reference price, limit crossings, stop/stop-limit activations, TP/SL
// triggers, and trailing-stop callbacks. Orders are evaluated in CreatedAt
// order, the engine's proxy for submission order (insertion order of the
// open map is not guaranteed in Go, so open orders are sorted on each
// tick); orders submitted with the same timestamp have no defined relative
// order.
func (e *Engine) OnPriceUpdate(instrument string, price float64, now time.Time) []types.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrice[instrument] = price

	var fills []types.Fill
	for _, o := range e.openOrdersBySubmissionLocked(instrument) {
		if triggered, isTaker := e.evaluateLocked(o, price); triggered {
			fillPrice := price
			if o.Kind == types.OrderLimit && o.LimitPrice != nil {
				fillPrice = *o.LimitPrice
			}
			fs := e.fillLocked(o, fillPrice, isTaker, now)
			fills = append(fills, fs...)
		}
	}
	return fills
}

// openOrdersBySubmissionLocked returns open orders for an instrument sorted
// by CreatedAt, the engine's proxy for submission order. Caller must hold e.mu.
func (e *Engine) openOrdersBySubmissionLocked(instrument string) []*types.Order {
	var out []*types.Order
	for _, o := range e.open {
		if o.Instrument == instrument {
			out = append(out, o)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].CreatedAt.After(out[j].CreatedAt); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// evaluateLocked decides whether the order should fill at the given price,
// and whether that fill is a taker fill (crosses the book immediately) or a
// maker fill (resting limit order finally touched). Caller must hold e.mu.
func (e *Engine) evaluateLocked(o *types.Order, price float64) (triggered bool, isTaker bool) {
	switch o.Kind {
	case types.OrderMarket:
		// Queued because no reference price existed at submission time
		// (Submit); the first subsequent tick fills it as a taker order.
		return true, true

	case types.OrderLimit:
		if o.LimitPrice == nil {
			return false, false
		}
		if shouldFillLimit(o.Side, price, *o.LimitPrice) {
			return true, false
		}
		return false, false

	case types.OrderStop:
		if o.StopPrice == nil {
			return false, false
		}
		if stopTriggered(o.Side, price, *o.StopPrice) {
			return true, true
		}
		return false, false

	case types.OrderStopLimit:
		if o.StopPrice == nil || o.LimitPrice == nil {
			return false, false
		}
		if !o.TrailArmed && stopTriggered(o.Side, price, *o.StopPrice) {
			o.TrailArmed = true // reuse as "stop triggered, now behaves as limit"
		}
		if o.TrailArmed && shouldFillLimit(o.Side, price, *o.LimitPrice) {
			return true, false
		}
		return false, false

	case types.OrderTpSl:
		// Reduce-only stop orders: side dictates adverse direction exactly
		// like a plain Stop order.
		if o.StopPrice == nil {
			return false, false
		}
		if stopTriggered(o.Side, price, *o.StopPrice) {
			return true, true
		}
		return false, false

	case types.OrderTrailingStop:
		return e.evaluateTrailingLocked(o, price)

	default:
		return false, false
	}
}

// shouldFillLimit mirrors orderbook_sim._should_fill_limit.
func shouldFillLimit(side types.Side, marketPrice, limitPrice float64) bool {
	if side == types.Buy {
		return marketPrice <= limitPrice
	}
	return marketPrice >= limitPrice
}

// stopTriggered reports whether price has crossed the stop in the adverse
// direction: a buy-stop triggers when price rises to/through the stop; a
// sell-stop triggers when price falls to/through it.
func stopTriggered(side types.Side, price, stopPrice float64) bool {
	if side == types.Buy {
		return price >= stopPrice
	}
	return price <= stopPrice
}

// evaluateTrailingLocked maintains a running peak (sell-stops) or trough
// (buy-stops) since submission and triggers when price retreats by
// CallbackRate*100 percent from that extremum. Caller must hold e.mu.
func (e *Engine) evaluateTrailingLocked(o *types.Order, price float64) (bool, bool) {
	if o.CallbackRate == nil {
		return false, false
	}
	if o.ActivationPrice != nil && !o.TrailArmed {
		if (o.Side == types.Sell && price < *o.ActivationPrice) || (o.Side == types.Buy && price > *o.ActivationPrice) {
			return false, false
		}
		o.TrailArmed = true
	}
	if o.TrailExtremum == 0 {
		o.TrailExtremum = price
	}
	if o.Side == types.Sell {
		if price > o.TrailExtremum {
			o.TrailExtremum = price
		}
		callback := o.TrailExtremum * (*o.CallbackRate)
		if price <= o.TrailExtremum-callback {
			return true, true
		}
		return false, false
	}
	if price < o.TrailExtremum {
		o.TrailExtremum = price
	}
	callback := o.TrailExtremum * (*o.CallbackRate)
	if price >= o.TrailExtremum+callback {
		return true, true
	}
	return false, false
}

// fillLocked applies slippage (taker fills only; limit orders always fill
// at their limit price), computes the fee, appends a fill record, and
// transitions the order to Filled. Caller must hold e.mu.
func (e *Engine) fillLocked(o *types.Order, price float64, isTaker bool, now time.Time) []types.Fill {
	fillPrice := price
	if isTaker && e.cfg.SlippageBps > 0 && o.Kind != types.OrderLimit {
		mult := e.cfg.SlippageBps / 10000
		if o.Side == types.Buy {
			fillPrice = price * (1 + mult)
		} else {
			fillPrice = price * (1 - mult)
		}
	}

	rate := e.cfg.MakerFee
	if isTaker {
		rate = e.cfg.TakerFee
	}
	notional := fillPrice * o.Quantity
	fee := notional * rate

	o.Status = types.OrderFilled
	o.FillPrice = fillPrice
	o.FillQuantity = o.Quantity
	o.Fee = fee
	o.FilledAt = now

	delete(e.open, o.ID)
	e.pushFilledLocked(*o)

	return []types.Fill{{
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Price:      fillPrice,
		Quantity:   o.Quantity,
		Fee:        fee,
		IsTaker:    isTaker,
		Timestamp:  now,
	}}
}

func (e *Engine) pushFilledLocked(o types.Order) {
	e.filled = append(e.filled, o)
	max := e.cfg.MaxFilledOrders
	if max <= 0 {
		max = DefaultMaxFilledOrders
	}
	if len(e.filled) > max {
		e.filled = e.filled[len(e.filled)-max:]
	}
}

// FilledOrders returns a snapshot of the bounded filled-order history.
func (e *Engine) FilledOrders() []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Order, len(e.filled))
	copy(out, e.filled)
	return out
}

// OpenOrders returns a snapshot of currently resting orders.
func (e *Engine) OpenOrders() []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Order, 0, len(e.open))
	for _, o := range e.open {
		out = append(out, *o)
	}
	return out
}
