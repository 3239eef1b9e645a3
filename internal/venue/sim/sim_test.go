package sim

import (
	"context"
	"testing"
	"time"

	"quantcore/internal/venue"
	"quantcore/pkg/types"
)

func bar(open time.Time, close float64) types.MarketBar {
	return types.MarketBar{
		Instrument:  "BTCUSDT",
		Aggregation: types.Bar1h,
		OpenTime:    open,
		Open:        close,
		High:        close,
		Low:         close,
		Close:       close,
		CloseTime:   open.Add(time.Hour),
	}
}

func TestSeedAndGetKlinesRange(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// seed out of order to exercise the sort-on-load behavior
	bars := []types.MarketBar{
		bar(start.Add(2*time.Hour), 102),
		bar(start, 100),
		bar(start.Add(time.Hour), 101),
	}

	c := New()
	c.Seed("BTCUSDT", types.Bar1h, bars)

	got, err := c.GetKlines(context.Background(), "BTCUSDT", types.Bar1h, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if !got[0].OpenTime.Equal(start) || !got[1].OpenTime.Equal(start.Add(time.Hour)) {
		t.Errorf("got out of order or wrong bars: %+v", got)
	}
}

func TestGetKlinesUnseededReturnsError(t *testing.T) {
	t.Parallel()
	c := New()
	_, err := c.GetKlines(context.Background(), "ETHUSDT", types.Bar1h, time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected an error for unseeded series, got nil")
	}
}

func TestGetTickerDerivesFromLastBar(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New()
	c.Seed("BTCUSDT", types.Bar1h, []types.MarketBar{
		bar(start, 100),
		bar(start.Add(time.Hour), 105),
	})

	ticker, err := c.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if ticker.LastPrice != 105 {
		t.Errorf("LastPrice = %v, want 105 (last seeded bar's close)", ticker.LastPrice)
	}

	mark, err := c.GetMarkPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetMarkPrice: %v", err)
	}
	if mark != 105 {
		t.Errorf("GetMarkPrice = %v, want 105", mark)
	}
}

func TestUnsupportedMethodsReturnErrNotImplemented(t *testing.T) {
	t.Parallel()
	c := New()
	ctx := context.Background()

	if _, err := c.PlaceOrder(ctx, &types.Order{}); err != venue.ErrNotImplemented {
		t.Errorf("PlaceOrder err = %v, want ErrNotImplemented", err)
	}
	if err := c.CancelOrder(ctx, "BTCUSDT", "1"); err != venue.ErrNotImplemented {
		t.Errorf("CancelOrder err = %v, want ErrNotImplemented", err)
	}
	if _, err := c.GetBalances(ctx); err != venue.ErrNotImplemented {
		t.Errorf("GetBalances err = %v, want ErrNotImplemented", err)
	}
	if _, err := c.GetPositions(ctx); err != venue.ErrNotImplemented {
		t.Errorf("GetPositions err = %v, want ErrNotImplemented", err)
	}
}
