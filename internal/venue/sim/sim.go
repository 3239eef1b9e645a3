// Package sim implements venue.Connector entirely in memory: it serves bars
// from a preloaded dataset and never performs network I/O. It serves only
// bars installed with Seed; the command wires it as the market-data
// layer's primary connector when no real venue is configured.
// Trading/account methods are unsupported — backtests fill
// orders through the matching engine, not a venue.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quantcore/internal/venue"
	"quantcore/pkg/types"
)

type seriesKey struct {
	instrument string
	agg        types.BarAggregation
}

// Connector is a venue.Connector backed by an in-memory bar dataset.
type Connector struct {
	mu     sync.RWMutex
	series map[seriesKey][]types.MarketBar
}

// New constructs an empty sim Connector. Seed loads historical bars before
// use.
func New() *Connector {
	return &Connector{series: make(map[seriesKey][]types.MarketBar)}
}

// Seed installs (or replaces) the bar series for one (instrument, aggregation).
// Bars are sorted by OpenTime on load so GetKlines returns them in time order.
func (c *Connector) Seed(instrument string, agg types.BarAggregation, bars []types.MarketBar) {
	sorted := make([]types.MarketBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[seriesKey{instrument, agg}] = sorted
}

func (c *Connector) Name() string { return "sim" }

func (c *Connector) GetKlines(_ context.Context, instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all, ok := c.series[seriesKey{instrument, agg}]
	if !ok {
		return nil, fmt.Errorf("sim: no seeded data for %s/%s", instrument, agg)
	}
	out := make([]types.MarketBar, 0, len(all))
	for _, b := range all {
		if (b.OpenTime.Equal(start) || b.OpenTime.After(start)) && (b.OpenTime.Equal(end) || b.OpenTime.Before(end)) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Connector) GetTicker(_ context.Context, instrument string) (types.Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, bars := range c.series {
		if key.instrument != instrument || len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		return types.Ticker{Instrument: instrument, LastPrice: last.Close, Timestamp: last.CloseTime}, nil
	}
	return types.Ticker{}, fmt.Errorf("sim: no data for %s", instrument)
}

func (c *Connector) GetFundingRate(context.Context, string) (types.FundingRate, error) {
	return types.FundingRate{}, venue.ErrNotImplemented
}

func (c *Connector) GetFundingRateHistory(context.Context, string, time.Time, time.Time) ([]types.FundingRate, error) {
	return nil, venue.ErrNotImplemented
}

func (c *Connector) GetOrderbook(context.Context, string, int) (types.OrderBook, error) {
	return types.OrderBook{}, venue.ErrNotImplemented
}

func (c *Connector) GetMarkPrice(ctx context.Context, instrument string) (float64, error) {
	t, err := c.GetTicker(ctx, instrument)
	if err != nil {
		return 0, err
	}
	return t.LastPrice, nil
}

func (c *Connector) PlaceOrder(context.Context, *types.Order) (types.Fill, error) {
	return types.Fill{}, venue.ErrNotImplemented
}

func (c *Connector) CancelOrder(context.Context, string, string) error {
	return venue.ErrNotImplemented
}

func (c *Connector) GetBalances(context.Context) (types.Balance, error) {
	return types.Balance{}, venue.ErrNotImplemented
}

func (c *Connector) GetPositions(context.Context) ([]types.Position, error) {
	return nil, venue.ErrNotImplemented
}

func (c *Connector) SetLeverage(context.Context, string, int) error {
	return venue.ErrNotImplemented
}

func (c *Connector) SetMarginType(context.Context, string, string) error {
	return venue.ErrNotImplemented
}

var _ venue.Connector = (*Connector)(nil)
