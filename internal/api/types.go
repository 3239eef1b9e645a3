package api

import (
	"github.com/shopspring/decimal"

	"quantcore/pkg/types"
)

// moneyPrecision is the declared rounding precision for decimal-string
// money/PnL fields crossing the API boundary (spec §9 Design Notes).
const moneyPrecision = 4

// decimalString rounds v to moneyPrecision and renders it as a decimal
// string, the API-boundary representation spec §9 calls for (internal math
// stays float64 for speed; only the crossing point round-trips through
// shopspring/decimal).
func decimalString(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(moneyPrecision)
}

// AccountSummaryView is the decimal-string wire form of types.AccountSummary.
type AccountSummaryView struct {
	TotalPositionValue string `json:"total_position_value"`
	DailyPnL           string `json:"daily_pnl"`
	MarginUsed         string `json:"margin_used"`
	Available          string `json:"available"`
	Equity             string `json:"equity"`
}

// NewAccountSummaryView renders an AccountSummary at the API boundary.
func NewAccountSummaryView(a types.AccountSummary) AccountSummaryView {
	return AccountSummaryView{
		TotalPositionValue: decimalString(a.TotalPositionValue),
		DailyPnL:           decimalString(a.DailyPnL),
		MarginUsed:         decimalString(a.MarginUsed),
		Available:          decimalString(a.Available),
		Equity:             decimalString(a.Equity),
	}
}

// SaveStrategyRequest is the POST /strategies body.
type SaveStrategyRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Source       string         `json:"source"`
	ConfigSchema map[string]any `json:"config_schema"`
	ParentHash   string         `json:"parent_hash,omitempty"`
}

// SubmitBacktestRequest is the POST /backtest body.
type SubmitBacktestRequest struct {
	StrategyHash  string               `json:"strategy_hash"`
	TradingPair   string               `json:"trading_pair"`
	Venue         string               `json:"venue"`
	StartDate     string               `json:"start_date"`
	EndDate       string               `json:"end_date"`
	Aggregation   types.BarAggregation `json:"aggregation"`
	Parameters    map[string]any       `json:"parameters"`
	InitialEquity float64              `json:"initial_equity,omitempty"`
}

// SubmitBacktestResponse acknowledges a backtest submission.
type SubmitBacktestResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

// DeploySessionRequest is the POST /live/deploy body.
type DeploySessionRequest struct {
	StrategyHash  string         `json:"strategy_hash"`
	TradingPair   string         `json:"trading_pair"`
	Venue         string         `json:"venue"`
	RiskProfileID string         `json:"risk_profile_id"`
	Parameters    map[string]any `json:"parameters"`
	Operator      string         `json:"operator"`
}

// StopSessionRequest is the POST /live/{id}/stop body.
type StopSessionRequest struct {
	Flatten bool `json:"flatten"`
}

// errorResponse is the uniform JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}
