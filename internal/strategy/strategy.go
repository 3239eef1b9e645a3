// Package strategy defines the strategy programming model of spec §4.2: a
// small interface of event handlers plus a metadata/config-schema struct,
// re-expressing the original's class-based strategy hierarchy as an
// interface + struct per spec §9's redesign note.
package strategy

import (
	"fmt"
	"math"

	"quantcore/pkg/types"
)

// Meta describes a registered strategy implementation.
type Meta struct {
	Name         string
	Description  string
	MarketRegime types.MarketRegime
	ConfigSchema map[string]any
}

// Strategy is a stateful object with lifecycle/event handlers. Only OnBar
// and OnTrade are mandatory for a useful strategy; OnStart/OnOrderBook/
// OnFundingRate/OnStop default to no-ops when embedding BaseStrategy.
//
// The kernel calls handlers sequentially in timestamp order on a single
// logical thread per session (spec §4.2); implementations must not assume
// concurrent access to their own state and must not perform network I/O.
type Strategy interface {
	Meta() Meta
	OnStart() []types.Signal
	OnBar(bar types.MarketBar) []types.Signal
	OnTrade(trade types.Trade) []types.Signal
	OnOrderBook(book types.OrderBook) []types.Signal
	OnFundingRate(fr types.FundingRate) []types.Signal
	OnStop() []types.Signal
}

// BaseStrategy supplies no-op defaults for the optional handlers so example
// strategies only need to implement the handlers they care about.
type BaseStrategy struct{}

func (BaseStrategy) OnStart() []types.Signal                          { return nil }
func (BaseStrategy) OnOrderBook(types.OrderBook) []types.Signal       { return nil }
func (BaseStrategy) OnFundingRate(types.FundingRate) []types.Signal   { return nil }
func (BaseStrategy) OnStop() []types.Signal                           { return nil }

// ValidateConfig checks a parameter map against a CONFIG_SCHEMA in the
// restricted JSON-Schema subset this runtime supports: per-property `type`
// ("number"|"integer"|"string"|"boolean"), `minimum`/`maximum` for numeric
// types, and a top-level `required` list. No library in the retrieved
// example pack offers JSON-Schema validation, so this one corner of the
// kernel is intentionally hand-rolled against the standard library only
// (see DESIGN.md).
func ValidateConfig(schema map[string]any, params map[string]any) error {
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if _, ok := params[name]; !ok {
			return fmt.Errorf("missing required parameter %q", name)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		val, present := params[name]
		if !present {
			continue
		}
		if err := validateProperty(name, prop, val); err != nil {
			return err
		}
	}
	return nil
}

func validateProperty(name string, prop map[string]any, val any) error {
	propType, _ := prop["type"].(string)
	switch propType {
	case "number", "integer":
		num, ok := toFloat(val)
		if !ok {
			return fmt.Errorf("parameter %q must be numeric", name)
		}
		if propType == "integer" && num != math.Trunc(num) {
			return fmt.Errorf("parameter %q must be an integer", name)
		}
		if minV, ok := toFloat(prop["minimum"]); ok && num < minV {
			return fmt.Errorf("parameter %q = %v is below minimum %v", name, num, minV)
		}
		if maxV, ok := toFloat(prop["maximum"]); ok && num > maxV {
			return fmt.Errorf("parameter %q = %v exceeds maximum %v", name, num, maxV)
		}
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", name)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", name)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
