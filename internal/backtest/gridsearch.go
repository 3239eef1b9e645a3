package backtest

import (
	"fmt"
	"math"
	"sort"
)

// defaultNumSteps mirrors GridSearchEngine.DEFAULT_NUM_STEPS.
const defaultNumSteps = 5

// RankingMetrics enumerates the supported rank_results metrics and their
// sort direction (true = higher is better), matching RANKING_METRICS.
var RankingMetrics = map[string]bool{
	"sharpe_ratio":  true,
	"total_return":  true,
	"max_drawdown":  false,
}

// GridResult is one parameter combination's backtest outcome.
type GridResult struct {
	Params      map[string]any
	SharpeRatio float64
	TotalReturn float64
	MaxDrawdown float64
	WinRate     float64
	NumTrades   int
}

// ExtractParamRanges scans a JSON-Schema-subset config schema's
// "properties" for numeric/integer entries carrying both minimum and
// maximum, producing a linspace of defaultNumSteps candidate values per
// axis (integer axes deduplicated after rounding).
func ExtractParamRanges(schema map[string]any) map[string][]any {
	ranges := make(map[string][]any)
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		min, minOK := toFloatOK(prop["minimum"])
		max, maxOK := toFloatOK(prop["maximum"])
		if !minOK || !maxOK {
			continue
		}
		kind, _ := prop["type"].(string)
		switch kind {
		case "number":
			values := linspace(min, max, defaultNumSteps)
			out := make([]any, len(values))
			for i, v := range values {
				out[i] = math.Round(v*1e6) / 1e6
			}
			ranges[name] = out
		case "integer":
			steps := defaultNumSteps
			if span := int(max-min) + 1; span < steps {
				steps = span
			}
			if steps < 1 {
				steps = 1
			}
			values := linspace(min, max, steps)
			seen := make(map[int]struct{})
			var out []any
			for _, v := range values {
				iv := int(math.Round(v))
				if _, dup := seen[iv]; dup {
					continue
				}
				seen[iv] = struct{}{}
				out = append(out, iv)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].(int) < out[j].(int) })
			ranges[name] = out
		}
	}
	return ranges
}

func linspace(min, max float64, steps int) []float64 {
	if steps <= 1 {
		return []float64{min}
	}
	out := make([]float64, steps)
	step := (max - min) / float64(steps-1)
	for i := range out {
		out[i] = min + step*float64(i)
	}
	return out
}

func toFloatOK(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// GenerateGrid produces the Cartesian product of the given parameter
// ranges, truncated (and logged by the caller) at maxCombinations.
func GenerateGrid(ranges map[string][]any, maxCombinations int) ([]map[string]any, int, error) {
	if len(ranges) == 0 {
		return nil, 0, nil
	}
	if maxCombinations < 1 {
		return nil, 0, fmt.Errorf("max_combinations must be >= 1")
	}

	names := make([]string, 0, len(ranges))
	for n := range ranges {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic iteration order

	total := 1
	for _, n := range names {
		total *= len(ranges[n])
	}

	var grid []map[string]any
	var combo func(idx int, current map[string]any)
	combo = func(idx int, current map[string]any) {
		if len(grid) >= maxCombinations {
			return
		}
		if idx == len(names) {
			cp := make(map[string]any, len(current))
			for k, v := range current {
				cp[k] = v
			}
			grid = append(grid, cp)
			return
		}
		name := names[idx]
		for _, v := range ranges[name] {
			if len(grid) >= maxCombinations {
				return
			}
			current[name] = v
			combo(idx+1, current)
		}
	}
	combo(0, make(map[string]any))

	return grid, total, nil
}

// RankResults sorts results by metric and returns the top N. metric must
// be a key of RankingMetrics.
func RankResults(results []GridResult, metric string, topN int) ([]GridResult, error) {
	higherBetter, ok := RankingMetrics[metric]
	if !ok {
		return nil, fmt.Errorf("unsupported ranking metric %q", metric)
	}

	sorted := make([]GridResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, vj := metricValue(sorted[i], metric), metricValue(sorted[j], metric)
		if higherBetter {
			return vi > vj
		}
		return vi < vj
	})

	if topN > 0 && topN < len(sorted) {
		sorted = sorted[:topN]
	}
	return sorted, nil
}

func metricValue(r GridResult, metric string) float64 {
	switch metric {
	case "sharpe_ratio":
		return r.SharpeRatio
	case "total_return":
		return r.TotalReturn
	case "max_drawdown":
		return r.MaxDrawdown
	default:
		return 0
	}
}
