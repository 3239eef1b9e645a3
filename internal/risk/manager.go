// Package risk implements the non-bypassable risk circuit breaker (spec
// §4.5). Unlike the teacher's original cooldown-based kill switch, a tripped
// breaker is a one-way latch: it cannot be cleared programmatically from
// within the core, matching the original Python reference
// (engine/src/risk/circuit_breaker.py) rather than the teacher's
// CooldownAfterKill re-arm. See DESIGN.md for the rationale.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Hard ceilings — compile-time constants user limits are clamped to.
const (
	HardMaxDrawdownPct     = 0.15
	HardSingleOrderSizeCap = 1.0
	HardDailyLossLimit     = 5000.0
)

// Limits is the clamped, effective configuration of one breaker instance.
type Limits struct {
	MaxDrawdownPct     float64
	SingleOrderSizeCap float64
	DailyLossLimit     float64
}

// ClampLimits clamps user-supplied limits to the hard ceilings.
func ClampLimits(maxDrawdownPct, singleOrderSizeCap, dailyLossLimit float64) Limits {
	return Limits{
		MaxDrawdownPct:     min(maxDrawdownPct, HardMaxDrawdownPct),
		SingleOrderSizeCap: min(singleOrderSizeCap, HardSingleOrderSizeCap),
		DailyLossLimit:     min(dailyLossLimit, HardDailyLossLimit),
	}
}

// TripRecord is one entry in the breaker's append-only trip history.
type TripRecord struct {
	Reason    string
	Timestamp time.Time
	Equity    float64
	DailyPnL  float64
}

// Status is a read-only snapshot of breaker state for dashboards.
type Status struct {
	Limits       Limits
	IsTripped    bool
	TripReason   string
	PeakEquity   float64
	CurrentEquity float64
	Drawdown     float64
	DailyPnL     float64
	TripHistory  []TripRecord
}

// Breaker is the session-owned risk circuit breaker. Every method takes
// b.mu, so concurrent calls are serialized. Per spec §5, the breaker's
// state is owned by the session worker; external reads use GetStatus,
// which returns a snapshot.
type Breaker struct {
	limits Limits
	logger *slog.Logger

	mu          sync.RWMutex
	isTripped   bool
	tripReason  string
	peakEquity  float64
	currentEq   float64
	dailyPnL    float64
	lastResetAt string // UTC date string "2006-01-02" of the last daily reset
	tripHistory []TripRecord
}

// NewBreaker constructs a Breaker with user limits clamped to the hard
// ceilings.
func NewBreaker(maxDrawdownPct, singleOrderSizeCap, dailyLossLimit float64, logger *slog.Logger) *Breaker {
	return &Breaker{
		limits:      ClampLimits(maxDrawdownPct, singleOrderSizeCap, dailyLossLimit),
		logger:      logger.With("component", "risk"),
		lastResetAt: time.Now().UTC().Format("2006-01-02"),
	}
}

// CheckOrder is the pre-trade veto. It returns (false, reason) whenever the
// breaker is tripped, (false, reason) if size exceeds the single-order cap,
// or (true, "") otherwise.
func (b *Breaker) CheckOrder(size float64) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetDailyLocked()

	if b.isTripped {
		return false, fmt.Sprintf("circuit breaker tripped: %s", b.tripReason)
	}
	if size > b.limits.SingleOrderSizeCap {
		return false, fmt.Sprintf("order size %.4f exceeds single-order cap %.4f", size, b.limits.SingleOrderSizeCap)
	}
	return true, ""
}

// UpdateEquity recomputes the monotone peak equity and current drawdown; if
// drawdown meets or exceeds MaxDrawdownPct, the breaker trips.
func (b *Breaker) UpdateEquity(current float64) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetDailyLocked()

	b.currentEq = current
	if current > b.peakEquity {
		b.peakEquity = current
	}
	if b.peakEquity <= 0 {
		return !b.isTripped, b.tripReason
	}

	drawdown := (b.peakEquity - current) / b.peakEquity
	if drawdown >= b.limits.MaxDrawdownPct && !b.isTripped {
		b.tripLocked(fmt.Sprintf("max drawdown breached: %.2f%% >= %.2f%%", drawdown*100, b.limits.MaxDrawdownPct*100))
	}
	if b.isTripped {
		return false, b.tripReason
	}
	return true, ""
}

// RecordTradePnL accumulates the day's realized PnL; if the cumulative loss
// exceeds DailyLossLimit, the breaker trips.
func (b *Breaker) RecordTradePnL(pnl float64) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetDailyLocked()

	b.dailyPnL += pnl
	if b.dailyPnL < 0 && -b.dailyPnL > b.limits.DailyLossLimit && !b.isTripped {
		b.tripLocked(fmt.Sprintf("daily loss limit breached: %.2f > %.2f", -b.dailyPnL, b.limits.DailyLossLimit))
	}
	if b.isTripped {
		return false, b.tripReason
	}
	return true, ""
}

// IsTripped reports whether the breaker has latched.
func (b *Breaker) IsTripped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isTripped
}

// GetStatus returns a read-only snapshot.
func (b *Breaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	history := make([]TripRecord, len(b.tripHistory))
	copy(history, b.tripHistory)

	var drawdown float64
	if b.peakEquity > 0 {
		drawdown = (b.peakEquity - b.currentEq) / b.peakEquity
	}

	return Status{
		Limits:        b.limits,
		IsTripped:     b.isTripped,
		TripReason:    b.tripReason,
		PeakEquity:    b.peakEquity,
		CurrentEquity: b.currentEq,
		Drawdown:      drawdown,
		DailyPnL:      b.dailyPnL,
		TripHistory:   history,
	}
}

// maybeResetDailyLocked performs the lazy UTC-midnight daily reset. Caller
// must hold b.mu.
func (b *Breaker) maybeResetDailyLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if today != b.lastResetAt {
		b.dailyPnL = 0
		b.lastResetAt = today
	}
}

// tripLocked latches the breaker. One-way: nothing in this package ever
// clears isTripped once set. Caller must hold b.mu.
func (b *Breaker) tripLocked(reason string) {
	b.isTripped = true
	b.tripReason = reason
	b.tripHistory = append(b.tripHistory, TripRecord{
		Reason:    reason,
		Timestamp: time.Now(),
		Equity:    b.currentEq,
		DailyPnL:  b.dailyPnL,
	})
	b.logger.Error("circuit breaker tripped", "reason", reason, "equity", b.currentEq, "daily_pnl", b.dailyPnL)
}
