package examples

import (
	"testing"
	"time"

	"quantcore/pkg/types"
)

func TestMarketMakingZeroMidEmitsNoSignals(t *testing.T) {
	t.Parallel()

	mm := NewMarketMaking(MarketMakingConfig{Gamma: 1, Sigma: 0.01, K: 1.5, T: 1, OrderSizeFrac: 0.1})
	signals := mm.OnBar(types.MarketBar{Instrument: "BTCUSDT", Close: 0})
	if signals != nil {
		t.Fatalf("expected no signals for zero mid price, got %+v", signals)
	}
}

func TestMarketMakingEmitsBidAsk(t *testing.T) {
	t.Parallel()

	mm := NewMarketMaking(MarketMakingConfig{Gamma: 1, Sigma: 0.01, K: 1.5, T: 1, OrderSizeFrac: 0.1})
	signals := mm.OnBar(types.MarketBar{Instrument: "BTCUSDT", Close: 100, CloseTime: time.Now()})
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals (bid/ask), got %d", len(signals))
	}
	if signals[0].Direction != types.Long || signals[1].Direction != types.Short {
		t.Fatalf("expected [Long bid, Short ask], got %+v", signals)
	}
}

func TestMomentumCrossoverEmitsLongThenFlat(t *testing.T) {
	t.Parallel()

	m := NewMomentum(MomentumConfig{FastPeriod: 2, SlowPeriod: 5, OrderSizeFrac: 0.1})
	now := time.Now()
	prices := []float64{100, 100, 100, 100, 100, 110, 120, 130, 90, 80, 70}

	var gotLong, gotFlat bool
	for _, p := range prices {
		signals := m.OnBar(types.MarketBar{Instrument: "BTCUSDT", Close: p, CloseTime: now})
		for _, s := range signals {
			if s.Direction == types.Long {
				gotLong = true
			}
			if s.Direction == types.Flat {
				gotFlat = true
			}
		}
	}
	if !gotLong {
		t.Error("expected an upward crossover to emit a Long signal")
	}
	if !gotFlat {
		t.Error("expected a downward crossover to emit a Flat signal")
	}
}

func TestGridTradingRejectsDegenerateBounds(t *testing.T) {
	t.Parallel()

	_, err := NewGridTrading(GridTradingConfig{LowerPrice: 100, UpperPrice: 100, Levels: 5, OrderSizeFrac: 0.1})
	if err == nil {
		t.Fatal("expected error when upper_price <= lower_price")
	}
}

func TestGridTradingEmitsOneSignalPerLevel(t *testing.T) {
	t.Parallel()

	g, err := NewGridTrading(GridTradingConfig{LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSizeFrac: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	signals := g.OnBar(types.MarketBar{Instrument: "BTCUSDT", Close: 100, CloseTime: time.Now()})
	if len(signals) != 5 {
		t.Fatalf("expected 5 signals, got %d", len(signals))
	}

	// Subsequent bars should not re-quote.
	more := g.OnBar(types.MarketBar{Instrument: "BTCUSDT", Close: 101, CloseTime: time.Now()})
	if more != nil {
		t.Fatalf("expected no re-quote on subsequent bar, got %+v", more)
	}
}
