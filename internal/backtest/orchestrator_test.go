package backtest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"quantcore/internal/eventbus"
	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBarSource struct{ bars []types.MarketBar }

func (f *fakeBarSource) FetchBars(instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error) {
	return f.bars, nil
}

type passthroughStrategy struct{ strategy.BaseStrategy }

func (passthroughStrategy) Meta() strategy.Meta { return strategy.Meta{Name: "noop"} }
func (passthroughStrategy) OnBar(types.MarketBar) []types.Signal { return nil }
func (passthroughStrategy) OnTrade(types.Trade) []types.Signal   { return nil }

type fakeLoader struct{}

func (fakeLoader) Load(hash string, params map[string]any) (strategy.Strategy, error) {
	return passthroughStrategy{}, nil
}

type fakeJobStore struct{ saved []types.BacktestJob }

func (f *fakeJobStore) SaveBacktestJob(job types.BacktestJob) error {
	f.saved = append(f.saved, job)
	return nil
}

func makeBars(n int, start time.Time) []types.MarketBar {
	bars := make([]types.MarketBar, n)
	for i := range bars {
		t := start.Add(time.Duration(i) * time.Hour)
		bars[i] = types.MarketBar{Instrument: "BTCUSDT", Aggregation: types.Bar1h, Close: 100 + float64(i), OpenTime: t, CloseTime: t.Add(time.Hour)}
	}
	return bars
}

func TestSubmitRunsToCompletion(t *testing.T) {
	t.Parallel()

	bars := makeBars(10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := eventbus.New(testLogger())
	store := &fakeJobStore{}
	o := New(&fakeBarSource{bars: bars}, fakeLoader{}, store, bus, testLogger())

	job, err := o.Submit("job1", SubmitRequest{StrategyHash: "h1", TradingPair: "BTCUSDT", Aggregation: types.Bar1h})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != types.BacktestPending {
		t.Fatalf("expected Pending immediately after submit, got %s", job.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := o.Get("job1"); got != nil && (got.Status == types.BacktestCompleted || got.Status == types.BacktestFailed) {
			if got.Status != types.BacktestCompleted {
				t.Fatalf("expected Completed, got %s (%s)", got.Status, got.Error)
			}
			if got.ProgressFrac != 1.0 {
				t.Fatalf("expected progress fraction 1.0, got %v", got.ProgressFrac)
			}
			if got.Metrics == nil {
				t.Fatal("expected metrics to be populated on completion")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("backtest job did not complete in time")
}

func TestCancelUnknownJobErrors(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(testLogger())
	o := New(&fakeBarSource{}, fakeLoader{}, &fakeJobStore{}, bus, testLogger())
	if err := o.Cancel("nope"); err == nil {
		t.Fatal("expected error cancelling an unknown job")
	}
}
