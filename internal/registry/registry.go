// Package registry resolves a content-addressed strategy hash to a
// runnable strategy.Strategy instance, satisfying backtest.StrategyLoader.
// It lives outside internal/strategy to avoid an import cycle: it depends
// on both internal/strategy (the interface/ValidateConfig) and
// internal/strategy/examples (the concrete implementations).
package registry

import (
	"encoding/json"
	"fmt"

	"quantcore/internal/strategy"
	"quantcore/internal/strategy/examples"
	"quantcore/pkg/types"
)

// StrategySource resolves a content-addressed strategy hash to its
// persisted record (name, config schema). Satisfied by store.Store.
type StrategySource interface {
	LoadStrategy(hash string) (*types.Strategy, error)
}

// Registry dispatches a strategy record's canonical Name to a concrete
// constructor, validating parameters against its CONFIG_SCHEMA first.
type Registry struct {
	source StrategySource
}

// New constructs a Registry backed by the persistence layer.
func New(source StrategySource) *Registry {
	return &Registry{source: source}
}

// Load resolves strategyHash, validates params against the persisted
// CONFIG_SCHEMA, and constructs the matching example strategy.
func (r *Registry) Load(strategyHash string, params map[string]any) (strategy.Strategy, error) {
	rec, err := r.source.LoadStrategy(strategyHash)
	if err != nil {
		return nil, fmt.Errorf("load strategy %s: %w", strategyHash, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("unknown strategy hash %s", strategyHash)
	}

	schema := rec.ConfigSchema
	if schema == nil {
		switch rec.Name {
		case "avellaneda_market_making":
			schema = examples.MarketMakingSchema
		case "ema_momentum":
			schema = examples.MomentumSchema
		case "grid_trading":
			schema = examples.GridTradingSchema
		}
	}
	if schema != nil {
		if err := strategy.ValidateConfig(schema, params); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", rec.Name, err)
		}
	}

	switch rec.Name {
	case "avellaneda_market_making":
		var cfg examples.MarketMakingConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return examples.NewMarketMaking(cfg), nil

	case "ema_momentum":
		var cfg examples.MomentumConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return examples.NewMomentum(cfg), nil

	case "grid_trading":
		var cfg examples.GridTradingConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return examples.NewGridTrading(cfg)

	default:
		return nil, fmt.Errorf("no registered implementation for strategy %q", rec.Name)
	}
}

// decodeParams round-trips params through JSON into cfg. Parameters arrive
// as a loosely-typed map[string]any (from the HTTP layer or a grid-search
// combination); this keeps each example strategy's config struct strongly
// typed without a bespoke decoder per strategy.
func decodeParams(params map[string]any, cfg any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode strategy parameters: %w", err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode strategy parameters: %w", err)
	}
	return nil
}
