package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/pkg/types"
)

// TestPositionFlipScenario mirrors spec's concrete end-to-end scenario 2.
func TestPositionFlipScenario(t *testing.T) {
	t.Parallel()

	l := New(100_000)

	l.ApplyFill(types.Fill{
		Instrument: "BTCUSDT", Side: types.Buy,
		Price: 50_000, Quantity: 1, Fee: 20, Timestamp: time.Now(),
	})

	pos := l.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, types.Long, pos.Side)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, 50_000.0, pos.AvgEntryPrice)
	assert.Equal(t, 99_980.0, l.Balance().Total)

	l.ApplyFill(types.Fill{
		Instrument: "BTCUSDT", Side: types.Sell,
		Price: 55_000, Quantity: 2, Fee: 44, Timestamp: time.Now(),
	})

	pos = l.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, types.Short, pos.Side)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, 104_936.0, l.Balance().Total)
	assert.Equal(t, 5_000.0, l.Balance().RealizedPnL)
}

func TestApplyFillSameDirectionAverages(t *testing.T) {
	t.Parallel()

	l := New(DefaultInitialBalance)
	l.ApplyFill(types.Fill{Instrument: "ETHUSDT", Side: types.Buy, Price: 2000, Quantity: 1, Timestamp: time.Now()})
	l.ApplyFill(types.Fill{Instrument: "ETHUSDT", Side: types.Buy, Price: 3000, Quantity: 1, Timestamp: time.Now()})

	pos := l.Position("ETHUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Equal(t, 2500.0, pos.AvgEntryPrice)
}

func TestApplyFillFullCloseRemovesPosition(t *testing.T) {
	t.Parallel()

	l := New(DefaultInitialBalance)
	l.ApplyFill(types.Fill{Instrument: "SOLUSDT", Side: types.Buy, Price: 100, Quantity: 5, Timestamp: time.Now()})
	l.ApplyFill(types.Fill{Instrument: "SOLUSDT", Side: types.Sell, Price: 110, Quantity: 5, Timestamp: time.Now()})

	assert.Nil(t, l.Position("SOLUSDT"), "expected position to be removed once flat")
}

func TestApplyFundingLongPaysShortReceives(t *testing.T) {
	t.Parallel()

	l := New(DefaultInitialBalance)
	l.ApplyFill(types.Fill{Instrument: "BTCUSDT", Side: types.Buy, Price: 100, Quantity: 10, Timestamp: time.Now()})
	before := l.Balance().Total
	l.ApplyFunding("BTCUSDT", 0.01, 100, time.Now())
	after := l.Balance().Total
	assert.Less(t, after, before, "expected long to pay funding")

	l2 := New(DefaultInitialBalance)
	l2.ApplyFill(types.Fill{Instrument: "BTCUSDT", Side: types.Sell, Price: 100, Quantity: 10, Timestamp: time.Now()})
	before2 := l2.Balance().Total
	l2.ApplyFunding("BTCUSDT", 0.01, 100, time.Now())
	after2 := l2.Balance().Total
	assert.Greater(t, after2, before2, "expected short to receive funding")
}

func TestTotalEquityIncludesUnrealized(t *testing.T) {
	t.Parallel()

	l := New(10_000)
	l.ApplyFill(types.Fill{Instrument: "BTCUSDT", Side: types.Buy, Price: 100, Quantity: 10, Timestamp: time.Now()})
	l.MarkPrice("BTCUSDT", 110)

	want := l.Balance().Total + 100 // (110-100)*10
	assert.Equal(t, want, l.TotalEquity())
}

func TestNoPositionBeforeAnyFill(t *testing.T) {
	t.Parallel()

	l := New(DefaultInitialBalance)
	assert.Nil(t, l.Position("XRPUSDT"), "expected no position before any fills")
}
