// Momentum is a dual-EMA trend-following strategy, in the spirit of
// original_source/python/tino_daemon/strategies/momentum.py: it goes Long
// when the fast EMA crosses above the slow EMA and Flat (closing the
// position) on a cross back below.
package examples

import (
	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

// MomentumConfig tunes the EMA crossover.
type MomentumConfig struct {
	FastPeriod    int
	SlowPeriod    int
	OrderSizeFrac float64
}

// MomentumSchema is the CONFIG_SCHEMA for Momentum.
var MomentumSchema = map[string]any{
	"properties": map[string]any{
		"fast_period":     map[string]any{"type": "integer", "minimum": 2, "maximum": 50},
		"slow_period":     map[string]any{"type": "integer", "minimum": 5, "maximum": 200},
		"order_size_frac": map[string]any{"type": "number", "minimum": 0.001, "maximum": 1.0},
	},
	"required": []any{"fast_period", "slow_period", "order_size_frac"},
}

// Momentum is a dual-EMA trend-following strategy.
type Momentum struct {
	strategy.BaseStrategy
	cfg MomentumConfig

	fastEMA   float64
	slowEMA   float64
	seeded    bool
	wasAbove  bool
	haveCross bool
}

// NewMomentum constructs a Momentum strategy instance.
func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Meta() strategy.Meta {
	return strategy.Meta{
		Name:         "ema_momentum",
		Description:  "Dual-EMA crossover trend following",
		MarketRegime: types.RegimeTrending,
		ConfigSchema: MomentumSchema,
	}
}

func (m *Momentum) OnBar(bar types.MarketBar) []types.Signal {
	fastAlpha := 2.0 / (float64(m.cfg.FastPeriod) + 1)
	slowAlpha := 2.0 / (float64(m.cfg.SlowPeriod) + 1)

	if !m.seeded {
		m.fastEMA = bar.Close
		m.slowEMA = bar.Close
		m.seeded = true
		return nil
	}

	m.fastEMA = bar.Close*fastAlpha + m.fastEMA*(1-fastAlpha)
	m.slowEMA = bar.Close*slowAlpha + m.slowEMA*(1-slowAlpha)

	above := m.fastEMA > m.slowEMA
	if !m.haveCross {
		m.wasAbove = above
		m.haveCross = true
		return nil
	}

	var signals []types.Signal
	if above && !m.wasAbove {
		signals = append(signals, types.Signal{
			Direction:   types.Long,
			Symbol:      bar.Instrument,
			SizeKind:    types.SizeFraction,
			Size:        m.cfg.OrderSizeFrac,
			GeneratedAt: bar.CloseTime,
		})
	} else if !above && m.wasAbove {
		signals = append(signals, types.Signal{
			Direction:   types.Flat,
			Symbol:      bar.Instrument,
			SizeKind:    types.SizeFraction,
			Size:        0,
			GeneratedAt: bar.CloseTime,
		})
	}
	m.wasAbove = above
	return signals
}

func (m *Momentum) OnTrade(types.Trade) []types.Signal { return nil }
