// Package examples holds small reference Strategy implementations that
// exercise the kernel's full handler surface. MarketMaking adapts the
// teacher's Avellaneda-Stoikov reservation-price/optimal-spread formula
// (internal/strategy/maker.go in the original tree: r = mid - q*gamma*sigma^2*T,
// delta = gamma*sigma^2*T + (2/gamma)*ln(1+gamma/k)) from Polymarket's fixed
// [0,1] binary-outcome price domain to a generic instrument price, emitting
// Signals instead of placing orders directly.
package examples

import (
	"fmt"
	"math"

	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

// MarketMakingConfig tunes the Avellaneda-Stoikov quoting model.
type MarketMakingConfig struct {
	Gamma            float64 // risk aversion; higher = tighter spread, less inventory risk
	Sigma            float64 // estimated price volatility (per-bar std dev proxy)
	K                float64 // order arrival rate; higher = more aggressive quotes
	T                float64 // time horizon in the same units as Sigma
	OrderSizeFrac    float64 // equity fraction per signal
}

// MarketMakingSchema is the CONFIG_SCHEMA for MarketMaking.
var MarketMakingSchema = map[string]any{
	"properties": map[string]any{
		"gamma":           map[string]any{"type": "number", "minimum": 0.01, "maximum": 5.0},
		"sigma":           map[string]any{"type": "number", "minimum": 0.0001, "maximum": 1.0},
		"k":               map[string]any{"type": "number", "minimum": 0.1, "maximum": 100.0},
		"t":               map[string]any{"type": "number", "minimum": 0.01, "maximum": 10.0},
		"order_size_frac": map[string]any{"type": "number", "minimum": 0.001, "maximum": 1.0},
	},
	"required": []any{"gamma", "sigma", "k", "t", "order_size_frac"},
}

// MarketMaking is a reservation-price market-making strategy. It tracks net
// inventory skew itself (q) since the kernel hands it raw bars, not ledger
// state, matching spec §4.2's "strategy internal state is private" rule.
type MarketMaking struct {
	strategy.BaseStrategy
	cfg MarketMakingConfig

	netQty float64 // signed inventory skew this strategy believes it holds
}

// NewMarketMaking constructs a MarketMaking strategy instance.
func NewMarketMaking(cfg MarketMakingConfig) *MarketMaking {
	return &MarketMaking{cfg: cfg}
}

func (m *MarketMaking) Meta() strategy.Meta {
	return strategy.Meta{
		Name:         "avellaneda_market_making",
		Description:  "Reservation-price market making with inventory-skew-adjusted quotes",
		MarketRegime: types.RegimeRanging,
		ConfigSchema: MarketMakingSchema,
	}
}

// OnBar recomputes the reservation price and optimal spread from the bar's
// close and emits a pair of limit Signals (bid/ask) around it. A zero mid
// price yields no signals (boundary behavior from spec §8).
func (m *MarketMaking) OnBar(bar types.MarketBar) []types.Signal {
	mid := bar.Close
	if mid <= 0 {
		return nil
	}

	q := m.inventorySkew()
	gamma, sigma, k, t := m.cfg.Gamma, m.cfg.Sigma, m.cfg.K, m.cfg.T

	reservation := mid - q*gamma*sigma*sigma*t
	spread := gamma*sigma*sigma*t + (2/gamma)*math.Log(1+gamma/k)

	bid := reservation - spread/2
	ask := reservation + spread/2
	if bid <= 0 {
		bid = mid * 0.001
	}

	return []types.Signal{
		{
			Direction:   types.Long,
			Symbol:      bar.Instrument,
			SizeKind:    types.SizeFraction,
			Size:        m.cfg.OrderSizeFrac,
			LimitPrice:  &bid,
			GeneratedAt: bar.CloseTime,
			Metadata:    map[string]any{"quote": "bid", "reservation_price": fmt.Sprintf("%.6f", reservation)},
		},
		{
			Direction:   types.Short,
			Symbol:      bar.Instrument,
			SizeKind:    types.SizeFraction,
			Size:        m.cfg.OrderSizeFrac,
			LimitPrice:  &ask,
			GeneratedAt: bar.CloseTime,
			Metadata:    map[string]any{"quote": "ask", "reservation_price": fmt.Sprintf("%.6f", reservation)},
		},
	}
}

// OnTrade updates the inventory-skew estimate from each trade it is handed:
// a Buy adds the trade's quantity and any other side subtracts it. A
// strategy cannot see the ledger directly (spec §4.2 forbids
// cross-session/shared state); the trades are not matched against this
// strategy's own orders or filtered by symbol.
func (m *MarketMaking) OnTrade(trade types.Trade) []types.Signal {
	if trade.Side == types.Buy {
		m.netQty += trade.Quantity
	} else {
		m.netQty -= trade.Quantity
	}
	return nil
}

func (m *MarketMaking) inventorySkew() float64 {
	// Bounded to [-1, 1]; saturates for large inventories the same way the
	// teacher's NetDelta saturates for a fully one-sided book.
	if m.netQty > 10 {
		return 1
	}
	if m.netQty < -10 {
		return -1
	}
	return m.netQty / 10
}
