// Package backtest implements the backtest orchestrator of spec §4.7:
// job submission, cancellable worker execution, progress streaming over
// the event bus, and metrics computation. Grounded on
// original_source/engine/src/core/backtest_runner.py's run loop (set
// Running, stream bars through strategy + ledger, compute metrics,
// persist, emit backtest.completed) and on the teacher's own worker-pool
// idiom in internal/engine/engine.go.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"quantcore/internal/eventbus"
	"quantcore/internal/kernel"
	"quantcore/internal/ledger"
	"quantcore/internal/matching"
	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

// BarSource supplies the historical bars a backtest job replays. It is
// satisfied by the market-data layer's FetchBars.
type BarSource interface {
	FetchBars(instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error)
}

// StrategyLoader resolves a content-addressed strategy hash to a runnable
// Strategy instance (constructed with the job's parameters already bound
// and validated against the strategy's schema).
type StrategyLoader interface {
	Load(strategyHash string, params map[string]any) (strategy.Strategy, error)
}

// JobStore persists BacktestJob rows. Implemented by the persistence layer.
type JobStore interface {
	SaveBacktestJob(job types.BacktestJob) error
}

// SubmitRequest is the orchestrator's Submit input.
type SubmitRequest struct {
	StrategyHash string
	TradingPair  string
	Venue        string
	StartDate    time.Time
	EndDate      time.Time
	Aggregation  types.BarAggregation
	Parameters   map[string]any
	InitialEquity float64
}

// Orchestrator owns the in-flight backtest worker registry.
type Orchestrator struct {
	bars      BarSource
	strategies StrategyLoader
	store     JobStore
	bus       *eventbus.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*types.BacktestJob
	cancels map[string]context.CancelFunc
}

// New constructs an Orchestrator.
func New(bars BarSource, strategies StrategyLoader, store JobStore, bus *eventbus.Bus, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		bars:       bars,
		strategies: strategies,
		store:      store,
		bus:        bus,
		logger:     logger.With("component", "backtest"),
		jobs:       make(map[string]*types.BacktestJob),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Submit persists a Pending job and schedules its worker. It returns
// immediately; the worker streams progress on topic backtest:<id>.
func (o *Orchestrator) Submit(id string, req SubmitRequest) (*types.BacktestJob, error) {
	if req.InitialEquity <= 0 {
		req.InitialEquity = ledger.DefaultInitialBalance
	}

	job := &types.BacktestJob{
		ID:           id,
		StrategyHash: req.StrategyHash,
		TradingPair:  req.TradingPair,
		Venue:        req.Venue,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Aggregation:  req.Aggregation,
		Parameters:   req.Parameters,
		Status:       types.BacktestPending,
	}

	o.mu.Lock()
	o.jobs[id] = job
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels[id] = cancel
	o.mu.Unlock()

	if err := o.store.SaveBacktestJob(*job); err != nil {
		return nil, fmt.Errorf("persist backtest job: %w", err)
	}

	go o.runWorker(ctx, job, req)
	return job, nil
}

// Cancel signals the job's worker. The worker acknowledges by setting
// Cancelled and suppresses completed/failed events.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[id]
	if !ok {
		return fmt.Errorf("unknown or already-finished job %s", id)
	}
	cancel()
	return nil
}

// Get returns a snapshot of one job, or nil if unknown.
func (o *Orchestrator) Get(id string) *types.BacktestJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (o *Orchestrator) runWorker(ctx context.Context, job *types.BacktestJob, req SubmitRequest) {
	defer func() {
		o.mu.Lock()
		delete(o.cancels, job.ID)
		o.mu.Unlock()
	}()

	o.setStatus(job, types.BacktestRunning)
	o.bus.Publish(topic(job.ID), "backtest.progress", map[string]any{"job_id": job.ID, "progress_fraction": 0.0})

	bars, err := o.bars.FetchBars(req.TradingPair, req.Aggregation, req.StartDate, req.EndDate)
	if err != nil {
		o.fail(job, err)
		return
	}

	strat, err := o.strategies.Load(req.StrategyHash, req.Parameters)
	if err != nil {
		o.fail(job, err)
		return
	}

	led := ledger.New(req.InitialEquity)
	eng := matching.New(matching.DefaultConfig(), o.logger)
	k := kernel.New(job.ID, strat, eng, led, o.logger)

	var tradeLog []types.Fill
	var equityCurve []types.EquityPoint
	total := len(bars)

	for i, bar := range bars {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			job.Status = types.BacktestCancelled
			o.mu.Unlock()
			o.store.SaveBacktestJob(*job)
			return
		default:
		}

		fills := k.Step(kernel.Event{Timestamp: bar.CloseTime, Bar: &bar})
		tradeLog = append(tradeLog, fills...)
		equityCurve = append(equityCurve, types.EquityPoint{Timestamp: bar.CloseTime, Equity: led.TotalEquity()})

		if total > 0 && (i%50 == 0 || i == total-1) {
			frac := float64(i+1) / float64(total)
			o.mu.Lock()
			job.ProgressFrac = frac
			o.mu.Unlock()
			o.bus.Publish(topic(job.ID), "backtest.progress", map[string]any{"job_id": job.ID, "progress_fraction": frac})
		}
	}

	k.Stop(req.EndDate)

	metrics := computeMetrics(tradeLog, led.ClosedPositions(), equityCurve, req.InitialEquity)

	o.mu.Lock()
	job.Status = types.BacktestCompleted
	job.ProgressFrac = 1.0
	job.CompletedAt = time.Now()
	job.Metrics = &metrics
	job.TradeLog = tradeLog
	job.EquityCurve = equityCurve
	o.mu.Unlock()

	if err := o.store.SaveBacktestJob(*job); err != nil {
		o.logger.Error("failed to persist completed backtest job", "job", job.ID, "error", err)
	}
	o.bus.Publish(topic(job.ID), "backtest.completed", map[string]any{"job_id": job.ID, "metrics": metrics})
}

func (o *Orchestrator) setStatus(job *types.BacktestJob, status types.BacktestStatus) {
	o.mu.Lock()
	job.Status = status
	if status == types.BacktestRunning {
		job.StartedAt = time.Now()
	}
	o.mu.Unlock()
	o.store.SaveBacktestJob(*job)
}

func (o *Orchestrator) fail(job *types.BacktestJob, err error) {
	o.mu.Lock()
	job.Status = types.BacktestFailed
	job.Error = err.Error()
	job.CompletedAt = time.Now()
	o.mu.Unlock()
	o.store.SaveBacktestJob(*job)
	o.bus.Publish(topic(job.ID), "backtest.failed", map[string]any{"job_id": job.ID, "error": err.Error()})
}

func topic(jobID string) string { return "backtest:" + jobID }

// computeMetrics derives the spec §4.7 metrics set from a trade log and
// equity curve. Sharpe/Sortino use per-step returns on the equity curve
// with zero risk-free rate, unannualized (the source does not document a
// calibrated annualization factor, so none is applied).
func computeMetrics(fills []types.Fill, closed []types.Position, curve []types.EquityPoint, initialEquity float64) types.BacktestMetrics {
	m := types.BacktestMetrics{TotalTrades: len(fills)}
	if len(curve) == 0 {
		return m
	}

	finalEquity := curve[len(curve)-1].Equity
	m.TotalPnL = finalEquity - initialEquity

	returns := make([]float64, 0, len(curve))
	prev := initialEquity
	peak := initialEquity
	maxDD := 0.0
	for _, pt := range curve {
		if prev != 0 {
			returns = append(returns, (pt.Equity-prev)/prev)
		}
		prev = pt.Equity
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			if dd := (peak - pt.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	m.MaxDrawdown = maxDD
	m.SharpeRatio = sharpe(returns)
	m.SortinoRatio = sortino(returns)

	wins, losses := 0, 0
	var totalPnL float64
	var grossProfit, grossLoss float64
	maxConsecWins, maxConsecLosses, curWinStreak, curLossStreak := 0, 0, 0, 0
	for _, p := range closed {
		pnl := p.RealizedPnL
		totalPnL += pnl
		if pnl > 0 {
			wins++
			grossProfit += pnl
			curWinStreak++
			curLossStreak = 0
		} else if pnl < 0 {
			losses++
			grossLoss += -pnl
			curLossStreak++
			curWinStreak = 0
		}
		if curWinStreak > maxConsecWins {
			maxConsecWins = curWinStreak
		}
		if curLossStreak > maxConsecLosses {
			maxConsecLosses = curLossStreak
		}
	}
	if n := wins + losses; n > 0 {
		m.WinRate = float64(wins) / float64(n)
	}
	if len(closed) > 0 {
		m.AvgTradePnL = totalPnL / float64(len(closed))
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	m.MaxConsecutiveWins = maxConsecWins
	m.MaxConsecutiveLoses = maxConsecLosses
	return m
}

func sharpe(returns []float64) float64 {
	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	return mean / std
}

func sortino(returns []float64) float64 {
	mean, _ := meanStd(returns)
	var sumSq float64
	var n int
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
			n++
		}
	}
	if n == 0 || sumSq == 0 {
		return 0
	}
	downside := math.Sqrt(sumSq / float64(n))
	if downside == 0 {
		return 0
	}
	return mean / downside
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	std = math.Sqrt(sumSq / float64(len(xs)))
	return mean, std
}
