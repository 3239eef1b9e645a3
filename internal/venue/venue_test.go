package venue

import (
	"context"
	"math"
	"testing"
	"time"

	"quantcore/pkg/types"
)

func TestLiquidationPriceLongBelowEntry(t *testing.T) {
	t.Parallel()
	got := LiquidationPrice(types.Long, 100, 10, 0.004)
	want := 100 * (1 - 1.0/10 + 0.004)
	if got != want {
		t.Errorf("LiquidationPrice(long) = %v, want %v", got, want)
	}
}

func TestLiquidationPriceShortAboveEntry(t *testing.T) {
	t.Parallel()
	got := LiquidationPrice(types.Short, 100, 10, 0.004)
	want := 100 * (1 + 1.0/10 - 0.004)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("LiquidationPrice(short) = %v, want %v", got, want)
	}
}

func TestLiquidationPriceDefaultsMMRAndLeverage(t *testing.T) {
	t.Parallel()
	withDefault := LiquidationPrice(types.Long, 100, 10, 0)
	explicit := LiquidationPrice(types.Long, 100, 10, DefaultMMR)
	if withDefault != explicit {
		t.Errorf("mmr<=0 should fall back to DefaultMMR: %v != %v", withDefault, explicit)
	}

	noLeverage := LiquidationPrice(types.Long, 100, 0, DefaultMMR)
	oneX := LiquidationPrice(types.Long, 100, 1, DefaultMMR)
	if noLeverage != oneX {
		t.Errorf("leverage<=0 should fall back to 1x: %v != %v", noLeverage, oneX)
	}
}

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(60) // 1/sec

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 60; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait() call %d: %v", i, err)
		}
	}
}

func TestTokenBucketBlocksWhenExhausted(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(60) // 1 token/sec, capacity 60

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("drain Wait() call %d: %v", i, err)
		}
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(shortCtx); err == nil {
		t.Fatal("expected context deadline exceeded once the bucket is drained, got nil")
	}
}
