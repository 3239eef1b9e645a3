package backtest

import "testing"

func schemaFixture() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"fast": map[string]any{"type": "integer", "minimum": 2.0, "maximum": 10.0},
			"slow": map[string]any{"type": "integer", "minimum": 20.0, "maximum": 60.0},
			"label": map[string]any{"type": "string"},
		},
	}
}

func TestExtractParamRangesSkipsUnboundedAndNonNumeric(t *testing.T) {
	t.Parallel()
	ranges := ExtractParamRanges(schemaFixture())
	if _, ok := ranges["label"]; ok {
		t.Fatal("expected non-numeric property to be skipped")
	}
	if len(ranges["fast"]) == 0 || len(ranges["slow"]) == 0 {
		t.Fatal("expected numeric bounded properties to produce ranges")
	}
}

func TestGenerateGridCartesianProductRespectsMaxCombinations(t *testing.T) {
	t.Parallel()
	ranges := map[string][]any{
		"fast": {2, 3, 4, 5, 6},
		"slow": {20, 30, 40, 50, 60, 70},
	}
	grid, total, err := GenerateGrid(ranges, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 30 {
		t.Fatalf("expected total combinations 30, got %d", total)
	}
	if len(grid) != 7 {
		t.Fatalf("expected truncation to 7 combinations, got %d", len(grid))
	}
}

func TestGenerateGridExactCount(t *testing.T) {
	t.Parallel()
	ranges := map[string][]any{
		"fast": {2, 3, 4},
		"slow": {20, 30},
	}
	grid, total, err := GenerateGrid(ranges, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 6 || len(grid) != 6 {
		t.Fatalf("expected exactly 6 combinations, got total=%d len=%d", total, len(grid))
	}
}

func TestGenerateGridEmptyRanges(t *testing.T) {
	t.Parallel()
	grid, _, err := GenerateGrid(nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grid != nil {
		t.Fatalf("expected nil grid for empty ranges, got %v", grid)
	}
}

func TestRankResultsSharpeDescending(t *testing.T) {
	t.Parallel()
	results := []GridResult{
		{Params: map[string]any{"id": 1}, SharpeRatio: 0.5},
		{Params: map[string]any{"id": 2}, SharpeRatio: 2.1},
		{Params: map[string]any{"id": 3}, SharpeRatio: 1.2},
	}
	ranked, err := RankResults(results, "sharpe_ratio", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranked[0].SharpeRatio != 2.1 || ranked[len(ranked)-1].SharpeRatio != 0.5 {
		t.Fatalf("expected descending sharpe order, got %+v", ranked)
	}
}

func TestRankResultsDrawdownAscending(t *testing.T) {
	t.Parallel()
	results := []GridResult{
		{MaxDrawdown: 0.3},
		{MaxDrawdown: 0.05},
		{MaxDrawdown: 0.15},
	}
	ranked, err := RankResults(results, "max_drawdown", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranked[0].MaxDrawdown != 0.05 || ranked[len(ranked)-1].MaxDrawdown != 0.3 {
		t.Fatalf("expected ascending drawdown order (lower is better), got %+v", ranked)
	}
}

func TestRankResultsUnsupportedMetric(t *testing.T) {
	t.Parallel()
	_, err := RankResults(nil, "not_a_metric", 5)
	if err == nil {
		t.Fatal("expected error for unsupported ranking metric")
	}
}
