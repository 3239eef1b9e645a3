// Package types defines the shared data structures used across the quant
// runtime — signals, orders, fills, positions, balances, bars, and the
// other value types every other package exchanges. It has no dependency
// on internal packages so it can be imported from any layer.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Directional enums
// ————————————————————————————————————————————————————————————————————————

// Direction is a strategy-level position intent.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Flat  Direction = "FLAT"
)

// Side is an order-level buy/sell flag.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderKind enumerates the order types the matching engine understands.
type OrderKind string

const (
	OrderMarket       OrderKind = "MARKET"
	OrderLimit        OrderKind = "LIMIT"
	OrderStop         OrderKind = "STOP"
	OrderStopLimit    OrderKind = "STOP_LIMIT"
	OrderTpSl         OrderKind = "TP_SL"
	OrderTrailingStop OrderKind = "TRAILING_STOP"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// SizeKind discriminates whether Signal.Size is a fraction of equity or an
// absolute instrument quantity.
type SizeKind string

const (
	SizeFraction SizeKind = "FRACTION"
	SizeAbsolute SizeKind = "ABSOLUTE"
)

// BarAggregation is one of the supported OHLCV bucket widths.
type BarAggregation string

const (
	Bar1m  BarAggregation = "1m"
	Bar5m  BarAggregation = "5m"
	Bar15m BarAggregation = "15m"
	Bar1h  BarAggregation = "1h"
	Bar4h  BarAggregation = "4h"
	Bar1d  BarAggregation = "1d"
)

// SupportedAggregations is the fixed set FetchBars accepts.
var SupportedAggregations = map[BarAggregation]bool{
	Bar1m: true, Bar5m: true, Bar15m: true, Bar1h: true, Bar4h: true, Bar1d: true,
}

// LifecycleState is a LiveSession's position in the state machine of §4.6.
type LifecycleState string

const (
	Deploying LifecycleState = "DEPLOYING"
	Running   LifecycleState = "RUNNING"
	Paused    LifecycleState = "PAUSED"
	Stopping  LifecycleState = "STOPPING"
	Stopped   LifecycleState = "STOPPED"
)

// BacktestStatus is the BacktestJob lifecycle.
type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "PENDING"
	BacktestRunning   BacktestStatus = "RUNNING"
	BacktestCompleted BacktestStatus = "COMPLETED"
	BacktestFailed    BacktestStatus = "FAILED"
	BacktestCancelled BacktestStatus = "CANCELLED"
)

// MarketRegime tags the conditions a strategy is designed for.
type MarketRegime string

const (
	RegimeTrending MarketRegime = "trending"
	RegimeRanging  MarketRegime = "ranging"
	RegimeNeutral  MarketRegime = "neutral"
)

// ————————————————————————————————————————————————————————————————————————
// Strategy identity
// ————————————————————————————————————————————————————————————————————————

// Strategy is the immutable, content-addressed record of a user-authored
// strategy's source text.
type Strategy struct {
	ID           string         `json:"id"`
	VersionHash  string         `json:"version_hash"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Source       string         `json:"source"`
	ConfigSchema map[string]any `json:"config_schema"`
	CreatedAt    time.Time      `json:"created_at"`
	ParentHash   string         `json:"parent_hash,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Strategy I/O
// ————————————————————————————————————————————————————————————————————————

// Signal is produced by a strategy handler and consumed by the matching
// engine. It is immutable once constructed.
type Signal struct {
	Direction   Direction
	Symbol      string
	SizeKind    SizeKind
	Size        float64 // fraction of equity [0,1] or absolute quantity
	LimitPrice  *float64
	Metadata    map[string]any
	GeneratedAt time.Time
}

// MarketBar is an OHLCV aggregate over one time bucket. Immutable value type.
type MarketBar struct {
	Instrument  string
	Aggregation BarAggregation
	OpenTime    time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	CloseTime   time.Time
}

// Trade is a single executed trade print observed on the venue (or
// synthesized from bar closes in backtest).
type Trade struct {
	Instrument string
	Price      float64
	Quantity   float64
	Side       Side
	Timestamp  time.Time
}

// PriceLevel is one rung of an order book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot. Immutable value type.
type OrderBook struct {
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
	Timestamp  time.Time
}

// Ticker is the latest best-bid/ask/trade summary for an instrument.
type Ticker struct {
	Instrument string
	LastPrice  float64
	BestBid    float64
	BestAsk    float64
	Volume24h  float64
	High24h    float64
	Low24h     float64
	Timestamp  time.Time
}

// FundingRate is the current and upcoming perp funding rate for an instrument.
type FundingRate struct {
	Instrument      string
	Rate            float64
	NextFundingTime time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Orders, fills, positions, balances
// ————————————————————————————————————————————————————————————————————————

// Order is a single order submitted to the matching engine.
type Order struct {
	ID             string
	SessionID      string
	Instrument     string
	Side           Side
	Kind           OrderKind
	Quantity       float64
	LimitPrice     *float64
	StopPrice      *float64
	CallbackRate   *float64 // trailing-stop callback, fraction (0.01 = 1%)
	ActivationPrice *float64
	ReduceOnly     bool
	Status         OrderStatus
	FillPrice      float64
	FillQuantity   float64
	Fee            float64
	CreatedAt      time.Time
	FilledAt       time.Time

	// internal trailing-stop bookkeeping, not part of the wire contract
	TrailExtremum float64
	TrailArmed    bool
}

// Remaining is the quantity not yet filled.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FillQuantity
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled || o.Status == OrderRejected
}

// Fill is emitted by the matching engine for each (partial) execution.
type Fill struct {
	OrderID    string
	Instrument string
	Side       Side
	Price      float64
	Quantity   float64
	Fee        float64
	IsTaker    bool
	Timestamp  time.Time
}

// Position is the ledger's per-instrument open exposure.
type Position struct {
	Instrument    string
	Side          Direction
	Quantity      float64
	AvgEntryPrice float64
	UnrealizedPnL float64
	RealizedPnL   float64
	TotalFees     float64
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// Flat reports whether the position has no exposure.
func (p *Position) Flat() bool { return p.Quantity == 0 }

// Balance is the ledger's account-wide cash ledger.
type Balance struct {
	Total       float64
	Available   float64
	Locked      float64
	RealizedPnL float64
	TotalFees   float64
}

// AccountSummary is a read-only snapshot of ledger state for reporting.
type AccountSummary struct {
	TotalPositionValue float64
	DailyPnL           float64
	MarginUsed         float64
	Available          float64
	Equity             float64
}

// ————————————————————————————————————————————————————————————————————————
// Jobs and sessions
// ————————————————————————————————————————————————————————————————————————

// BacktestMetrics summarizes a completed backtest.
type BacktestMetrics struct {
	TotalPnL            float64 `json:"total_pnl"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	WinRate             float64 `json:"win_rate"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	TotalTrades         int     `json:"total_trades"`
	AvgTradePnL         float64 `json:"avg_trade_pnl"`
	ProfitFactor        float64 `json:"profit_factor"`
	MaxConsecutiveWins  int     `json:"max_consecutive_wins"`
	MaxConsecutiveLoses int     `json:"max_consecutive_losses"`
}

// BacktestJob is an orchestrator-owned backtest run.
type BacktestJob struct {
	ID              string
	StrategyHash    string
	TradingPair     string
	Venue           string
	StartDate       time.Time
	EndDate         time.Time
	Aggregation     BarAggregation
	Parameters      map[string]any
	Status          BacktestStatus
	ProgressFrac    float64
	StartedAt       time.Time
	CompletedAt     time.Time
	Metrics         *BacktestMetrics
	TradeLog        []Fill
	EquityCurve     []EquityPoint
	Error           string
}

// EquityPoint is one sample of the equity curve over a backtest.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// LiveSession is the lifecycle-owned record of one deployed session.
type LiveSession struct {
	ID             string
	StrategyHash   string
	TradingPair    string
	Venue          string
	LifecycleState LifecycleState
	RiskProfileID  string
	Parameters     map[string]any
	Operator       string
	StartedAt      time.Time
	PausedAt       *time.Time
	StoppedAt      *time.Time
	AuditTrail     []string
}

// RiskProfile is the persisted, clamped risk configuration of a session.
type RiskProfile struct {
	ID                      string
	Name                    string
	MaxDrawdownPct          float64
	SingleOrderSizeCap      float64
	DailyLossLimit          float64
	MaxConcurrentStrategies int
	KillSwitchActive        bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ModificationLog         []string
}

// CacheIndexEntry describes one cached (instrument, aggregation) series.
type CacheIndexEntry struct {
	Instrument   string
	Aggregation  BarAggregation
	StartDate    time.Time
	EndDate      time.Time
	RecordCount  int
	FilePath     string
	ContentHash  string
	FetchedAt    time.Time
}

// AuditRecord is one append-only audit-log row.
type AuditRecord struct {
	ID         int64
	Timestamp  time.Time
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	SessionID  string
}
