// Package venue defines the uniform connector interface of spec §4.1: every
// supported exchange is a Connector, and the market-data and session layers
// depend only on this interface, never on a concrete exchange SDK. Grounded
// on the teacher's exchange.Client shape (one struct wrapping a REST client,
// rate limiter, and auth), generalized from one fixed Polymarket CLOB base
// URL to per-venue configuration.
package venue

import (
	"context"
	"errors"
	"time"

	"quantcore/pkg/types"
)

// ErrNotImplemented is returned by trading/account methods a connector does
// not support. Only the market-data methods are mandatory per spec §4.1.
var ErrNotImplemented = errors.New("venue: not implemented by this connector")

// DefaultMMR is the maintenance margin rate used by LiquidationPrice when a
// connector does not override it with a tiered bracket.
const DefaultMMR = 0.004

// Connector is the uniform surface every venue implementation satisfies.
// Market-data methods (GetTicker, GetKlines, GetFundingRate, GetOrderbook,
// GetMarkPrice, GetFundingRateHistory) are mandatory. Trading/account
// methods may return ErrNotImplemented.
type Connector interface {
	// Name is the connector's canonical venue name (e.g. "binance").
	Name() string

	GetTicker(ctx context.Context, instrument string) (types.Ticker, error)
	GetKlines(ctx context.Context, instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error)
	GetFundingRate(ctx context.Context, instrument string) (types.FundingRate, error)
	GetFundingRateHistory(ctx context.Context, instrument string, start, end time.Time) ([]types.FundingRate, error)
	GetOrderbook(ctx context.Context, instrument string, depth int) (types.OrderBook, error)
	GetMarkPrice(ctx context.Context, instrument string) (float64, error)

	PlaceOrder(ctx context.Context, order *types.Order) (types.Fill, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	GetBalances(ctx context.Context) (types.Balance, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	SetLeverage(ctx context.Context, instrument string, leverage int) error
	SetMarginType(ctx context.Context, instrument string, marginType string) error
}

// LiquidationPrice computes the shared liquidation-price estimate of spec
// §4.1: LONG = entry × (1 − 1/leverage + MMR); SHORT = entry × (1 +
// 1/leverage − MMR). mmr <= 0 falls back to DefaultMMR.
func LiquidationPrice(side types.Direction, entry float64, leverage int, mmr float64) float64 {
	if mmr <= 0 {
		mmr = DefaultMMR
	}
	if leverage <= 0 {
		leverage = 1
	}
	inv := 1 / float64(leverage)
	if side == types.Short {
		return entry * (1 + inv - mmr)
	}
	return entry * (1 - inv + mmr)
}
