package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"quantcore/internal/backtest"
	"quantcore/internal/lifecycle"
	"quantcore/pkg/types"
)

// ———————————————————————————————————————————————————————————————————————
// strategies
// ———————————————————————————————————————————————————————————————————————

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	var req SaveStrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name and source are required"))
		return
	}

	sum := sha256.Sum256([]byte(req.Source))
	strat := types.Strategy{
		ID:           uuid.NewString(),
		VersionHash:  hex.EncodeToString(sum[:]),
		Name:         req.Name,
		Description:  req.Description,
		Source:       req.Source,
		ConfigSchema: req.ConfigSchema,
		ParentHash:   req.ParentHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.deps.Store.SaveStrategy(strat); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, strat)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	strat, err := s.deps.Store.LoadStrategy(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if strat == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("strategy %s not found", hash))
		return
	}
	writeJSON(w, http.StatusOK, strat)
}

// ———————————————————————————————————————————————————————————————————————
// backtests
// ———————————————————————————————————————————————————————————————————————

func (s *Server) handleSubmitBacktest(w http.ResponseWriter, r *http.Request) {
	var req SubmitBacktestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("start_date: %w", err))
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("end_date: %w", err))
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("end_date must be after start_date"))
		return
	}

	id := uuid.NewString()
	job, err := s.deps.Backtests.Submit(id, backtest.SubmitRequest{
		StrategyHash:  req.StrategyHash,
		TradingPair:   req.TradingPair,
		Venue:         req.Venue,
		StartDate:     start,
		EndDate:       end,
		Aggregation:   req.Aggregation,
		Parameters:    req.Parameters,
		InitialEquity: req.InitialEquity,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitBacktestResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		StreamURL: "/ws?topic=backtest:" + job.ID,
	})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job := s.deps.Backtests.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("backtest job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Backtests.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// ———————————————————————————————————————————————————————————————————————
// live sessions
// ———————————————————————————————————————————————————————————————————————

// handleDeploy validates the deploy guards via the lifecycle manager,
// resolves the strategy and venue connector, and starts the session
// worker. If starting the worker fails after the lifecycle manager has
// already admitted the session, the session is unwound via Stop so it
// never sits in Running with no backing worker.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeploySessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn, ok := s.deps.Venues[req.Venue]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown venue %q", req.Venue))
		return
	}

	id := uuid.NewString()
	sess, err := s.deps.Lifecycle.Deploy(id, lifecycle.DeployRequest{
		StrategyHash:  req.StrategyHash,
		TradingPair:   req.TradingPair,
		Venue:         req.Venue,
		RiskProfileID: req.RiskProfileID,
		Parameters:    req.Parameters,
		Operator:      req.Operator,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	strat, err := s.deps.Registry.Load(req.StrategyHash, req.Parameters)
	if err != nil {
		s.unwindFailedDeploy(id, err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	breaker := s.deps.Lifecycle.Breaker(id)
	onTrip := func(sessionID string) {
		if err := s.deps.Lifecycle.Stop(sessionID, true); err != nil {
			s.logger.Error("failed to stop session after risk breaker trip", "session", sessionID, "error", err)
		}
	}
	if err := s.deps.Sessions.Start(*sess, strat, conn, breaker, onTrip); err != nil {
		s.unwindFailedDeploy(id, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) unwindFailedDeploy(sessionID string, cause error) {
	s.logger.Error("deploy failed after admission, unwinding session", "session", sessionID, "error", cause)
	if err := s.deps.Lifecycle.Stop(sessionID, false); err != nil {
		s.logger.Error("failed to unwind session after deploy failure", "session", sessionID, "error", err)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Lifecycle.ListSessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.deps.Lifecycle.GetSession(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return
	}

	type sessionResponse struct {
		types.LiveSession
		Account *AccountSummaryView `json:"account,omitempty"`
	}
	resp := sessionResponse{LiveSession: *sess}
	if worker := s.deps.Sessions.Worker(id); worker != nil {
		view := NewAccountSummaryView(worker.AccountSummary())
		resp.Account = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Lifecycle.Pause(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Lifecycle.Resume(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req StopSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.deps.Lifecycle.Stop(id, req.Flatten); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Lifecycle.KillSwitch()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ———————————————————————————————————————————————————————————————————————
// market data catalog
// ———————————————————————————————————————————————————————————————————————

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Market.ListCatalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	agg := types.BarAggregation(r.URL.Query().Get("aggregation"))
	if instrument == "" || agg == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("instrument and aggregation query params are required"))
		return
	}
	if err := s.deps.Market.DeleteCatalog(instrument, agg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// ———————————————————————————————————————————————————————————————————————
// shutdown
// ———————————————————————————————————————————————————————————————————————

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !s.checkShutdownToken(r) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or missing shutdown token"))
		return
	}
	s.logger.Warn("shutdown requested over HTTP")
	writeJSON(w, http.StatusAccepted, nil)
	go func() {
		_ = s.http.Close()
	}()
}
