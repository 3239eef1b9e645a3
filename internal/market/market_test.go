package market

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quantcore/internal/venue"
	"quantcore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConnector serves preloaded bars for GetKlines and counts calls; every
// other method is unused by these tests.
type fakeConnector struct {
	mu        sync.Mutex
	bars      []types.MarketBar
	calls     int
	failNext  bool
	failError error
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) GetKlines(ctx context.Context, instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext {
		return nil, f.failError
	}
	var out []types.MarketBar
	for _, b := range f.bars {
		if !b.OpenTime.Before(start) && !b.OpenTime.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeConnector) GetTicker(ctx context.Context, instrument string) (types.Ticker, error) {
	return types.Ticker{}, venue.ErrNotImplemented
}
func (f *fakeConnector) GetFundingRate(ctx context.Context, instrument string) (types.FundingRate, error) {
	return types.FundingRate{}, venue.ErrNotImplemented
}
func (f *fakeConnector) GetFundingRateHistory(ctx context.Context, instrument string, start, end time.Time) ([]types.FundingRate, error) {
	return nil, venue.ErrNotImplemented
}
func (f *fakeConnector) GetOrderbook(ctx context.Context, instrument string, depth int) (types.OrderBook, error) {
	return types.OrderBook{}, venue.ErrNotImplemented
}
func (f *fakeConnector) GetMarkPrice(ctx context.Context, instrument string) (float64, error) {
	return 0, venue.ErrNotImplemented
}
func (f *fakeConnector) PlaceOrder(ctx context.Context, order *types.Order) (types.Fill, error) {
	return types.Fill{}, venue.ErrNotImplemented
}
func (f *fakeConnector) CancelOrder(ctx context.Context, instrument, orderID string) error {
	return venue.ErrNotImplemented
}
func (f *fakeConnector) GetBalances(ctx context.Context) (types.Balance, error) {
	return types.Balance{}, venue.ErrNotImplemented
}
func (f *fakeConnector) GetPositions(ctx context.Context) ([]types.Position, error) {
	return nil, venue.ErrNotImplemented
}
func (f *fakeConnector) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	return venue.ErrNotImplemented
}
func (f *fakeConnector) SetMarginType(ctx context.Context, instrument string, marginType string) error {
	return venue.ErrNotImplemented
}

var _ venue.Connector = (*fakeConnector)(nil)

func makeBars(instrument string, n int, start time.Time) []types.MarketBar {
	bars := make([]types.MarketBar, n)
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * time.Hour)
		bars[i] = types.MarketBar{
			Instrument:  instrument,
			Aggregation: types.Bar1h,
			OpenTime:    open,
			Open:        100 + float64(i),
			High:        101 + float64(i),
			Low:         99 + float64(i),
			Close:       100 + float64(i),
			Volume:      10,
			CloseTime:   open.Add(time.Hour),
		}
	}
	return bars
}

func TestFetchBarsColdCacheFetchesAndPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{bars: makeBars("BTCUSDT", 5, start)}
	st := newMemStore()
	layer := New(conn, dir, st, testLogger())

	bars, err := layer.FetchBars("BTCUSDT", types.Bar1h, start, start.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("len(bars) = %d, want 5", len(bars))
	}
	if conn.calls != 1 {
		t.Fatalf("calls = %d, want 1", conn.calls)
	}

	entries, err := layer.ListCatalog()
	if err != nil {
		t.Fatalf("ListCatalog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
}

func TestFetchBarsServesFromCacheWithoutRefetch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{bars: makeBars("BTCUSDT", 5, start)}
	st := newMemStore()
	layer := New(conn, dir, st, testLogger())

	if _, err := layer.FetchBars("BTCUSDT", types.Bar1h, start, start.Add(4*time.Hour)); err != nil {
		t.Fatalf("first FetchBars: %v", err)
	}
	if _, err := layer.FetchBars("BTCUSDT", types.Bar1h, start, start.Add(2*time.Hour)); err != nil {
		t.Fatalf("second FetchBars: %v", err)
	}
	if conn.calls != 1 {
		t.Fatalf("calls = %d after second fetch fully covered by cache, want 1", conn.calls)
	}
}

func TestFetchBarsUnsupportedAggregation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	conn := &fakeConnector{}
	st := newMemStore()
	layer := New(conn, dir, st, testLogger())

	_, err := layer.FetchBars("BTCUSDT", types.BarAggregation("3m"), time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected ErrUnsupported, got nil")
	}
	if _, ok := err.(*ErrUnsupported); !ok {
		t.Fatalf("err = %v (%T), want *ErrUnsupported", err, err)
	}
}

func TestFetchBarsDataGapWithNothingCached(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	conn := &fakeConnector{failNext: true, failError: errFetchFailed}
	st := newMemStore()
	layer := New(conn, dir, st, testLogger())

	_, err := layer.FetchBars("BTCUSDT", types.Bar1h, time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("expected ErrDataGap, got nil")
	}
	if _, ok := err.(*ErrDataGap); !ok {
		t.Fatalf("err = %v (%T), want *ErrDataGap", err, err)
	}
}

func TestDeleteCatalogRemovesIndexAndFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{bars: makeBars("BTCUSDT", 3, start)}
	st := newMemStore()
	layer := New(conn, dir, st, testLogger())

	if _, err := layer.FetchBars("BTCUSDT", types.Bar1h, start, start.Add(2*time.Hour)); err != nil {
		t.Fatalf("FetchBars: %v", err)
	}

	if err := layer.DeleteCatalog("BTCUSDT", types.Bar1h); err != nil {
		t.Fatalf("DeleteCatalog: %v", err)
	}

	entries, err := layer.ListCatalog()
	if err != nil {
		t.Fatalf("ListCatalog: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d after delete, want 0", len(entries))
	}
}

func TestLiquidationPrice(t *testing.T) {
	t.Parallel()
	long := LiquidationPrice(types.Long, 100, 10, 0.004)
	if long <= 0 || long >= 100 {
		t.Fatalf("long liquidation price %v out of expected range", long)
	}
	short := LiquidationPrice(types.Short, 100, 10, 0.004)
	if short <= 100 {
		t.Fatalf("short liquidation price %v should be above entry", short)
	}
}

// errFetchFailed is a stand-in venue error for the data-gap test.
var errFetchFailed = &venueFetchError{"simulated venue outage"}

type venueFetchError struct{ msg string }

func (e *venueFetchError) Error() string { return e.msg }

// memStore is a minimal in-memory CacheStore for tests, avoiding a real
// sqlite-backed store.Store dependency in this package's tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]types.CacheIndexEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]types.CacheIndexEntry)}
}

func key(instrument string, agg types.BarAggregation) string {
	return instrument + "|" + string(agg)
}

func (m *memStore) GetCacheIndex(instrument string, agg types.BarAggregation) (*types.CacheIndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(instrument, agg)]
	if !ok {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

func (m *memStore) UpsertCacheIndex(entry types.CacheIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(entry.Instrument, entry.Aggregation)] = entry
	return nil
}

func (m *memStore) ListCacheIndex() ([]types.CacheIndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.CacheIndexEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) DeleteCacheIndex(instrument string, agg types.BarAggregation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(instrument, agg))
	return nil
}

var _ CacheStore = (*memStore)(nil)
