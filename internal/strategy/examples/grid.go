// GridTrading places evenly-spaced limit buy/sell levels between a lower
// and upper price bound, in the spirit of
// original_source/python/tino_daemon/strategies/grid_trading.py. Per spec
// §8's boundary behavior, a constructor with upper_price <= lower_price is
// an error.
package examples

import (
	"fmt"

	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

// GridTradingConfig bounds and sizes the grid.
type GridTradingConfig struct {
	LowerPrice    float64
	UpperPrice    float64
	Levels        int
	OrderSizeFrac float64
}

// GridTradingSchema is the CONFIG_SCHEMA for GridTrading.
var GridTradingSchema = map[string]any{
	"properties": map[string]any{
		"lower_price":     map[string]any{"type": "number", "minimum": 0.0},
		"upper_price":     map[string]any{"type": "number", "minimum": 0.0},
		"levels":          map[string]any{"type": "integer", "minimum": 2, "maximum": 100},
		"order_size_frac": map[string]any{"type": "number", "minimum": 0.001, "maximum": 1.0},
	},
	"required": []any{"lower_price", "upper_price", "levels", "order_size_frac"},
}

// GridTrading quotes a static ladder of buy/sell levels.
type GridTrading struct {
	strategy.BaseStrategy
	cfg      GridTradingConfig
	levels   []float64
	quoted   bool
}

// NewGridTrading constructs a GridTrading strategy. Returns an error if the
// price bounds are degenerate (spec §8 boundary behavior).
func NewGridTrading(cfg GridTradingConfig) (*GridTrading, error) {
	if cfg.UpperPrice <= cfg.LowerPrice {
		return nil, fmt.Errorf("grid_trading: upper_price (%v) must be > lower_price (%v)", cfg.UpperPrice, cfg.LowerPrice)
	}
	if cfg.Levels < 2 {
		return nil, fmt.Errorf("grid_trading: levels must be >= 2")
	}

	step := (cfg.UpperPrice - cfg.LowerPrice) / float64(cfg.Levels-1)
	levels := make([]float64, cfg.Levels)
	for i := range levels {
		levels[i] = cfg.LowerPrice + step*float64(i)
	}

	return &GridTrading{cfg: cfg, levels: levels}, nil
}

func (g *GridTrading) Meta() strategy.Meta {
	return strategy.Meta{
		Name:         "grid_trading",
		Description:  "Static ladder of buy/sell levels between a price band",
		MarketRegime: types.RegimeRanging,
		ConfigSchema: GridTradingSchema,
	}
}

// OnBar places one signal per grid level on the first bar only. Later bars
// and OnTrade emit nothing, so filled levels are not re-quoted (kept
// minimal: this is a reference strategy, not a production grid bot).
func (g *GridTrading) OnBar(bar types.MarketBar) []types.Signal {
	if g.quoted {
		return nil
	}
	g.quoted = true

	signals := make([]types.Signal, 0, len(g.levels))
	for _, lvl := range g.levels {
		price := lvl
		dir := types.Long
		if price > bar.Close {
			dir = types.Short
		}
		signals = append(signals, types.Signal{
			Direction:   dir,
			Symbol:      bar.Instrument,
			SizeKind:    types.SizeFraction,
			Size:        g.cfg.OrderSizeFrac,
			LimitPrice:  &price,
			GeneratedAt: bar.CloseTime,
		})
	}
	return signals
}

func (g *GridTrading) OnTrade(types.Trade) []types.Signal { return nil }
