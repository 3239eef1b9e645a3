// Package api implements the HTTP/WebSocket surface of spec §6: strategy
// CRUD, backtest submission and progress, live-session deploy/pause/
// resume/stop, the kill switch, the market-data catalog, and a
// token-gated graceful-shutdown endpoint. WebSocket subscriptions mirror
// the eventbus topic namespace (backtest:<id>, live:<id>, dashboard).
//
// Grounded on the teacher's internal/api/server.go: a single
// http.Server wrapping a gorilla/mux-free net/http ServeMux (the
// teacher used the stdlib mux too), origin-checked upgrader, and a
// context-cancelled Shutdown with a bounded drain timeout.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quantcore/internal/backtest"
	"quantcore/internal/eventbus"
	"quantcore/internal/lifecycle"
	"quantcore/internal/market"
	"quantcore/internal/registry"
	"quantcore/internal/session"
	"quantcore/internal/store"
	"quantcore/internal/venue"
)

const shutdownDrainTimeout = 10 * time.Second

// Deps bundles every collaborator the HTTP/WS layer calls into. All fields
// are required.
type Deps struct {
	Store        *store.Store
	Bus          *eventbus.Bus
	Lifecycle    *lifecycle.Manager
	Backtests    *backtest.Orchestrator
	Sessions     *session.Manager
	Registry     *registry.Registry
	Market       *market.Layer
	Venues       map[string]venue.Connector
	ShutdownToken string
	AllowedOrigins []string
	Logger       *slog.Logger
}

// Server wraps the HTTP surface and its underlying http.Server.
type Server struct {
	deps   Deps
	logger *slog.Logger
	http   *http.Server
	hub    *hub
}

// New constructs a Server bound to addr (e.g. ":8080").
func New(addr string, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: deps.Logger.With("component", "api"),
		hub:    newHub(deps.Bus, deps.AllowedOrigins, deps.Logger),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /strategies", s.handleSaveStrategy)
	mux.HandleFunc("GET /strategies/{hash}", s.handleGetStrategy)

	mux.HandleFunc("POST /backtest", s.handleSubmitBacktest)
	mux.HandleFunc("GET /backtest/{id}", s.handleGetBacktest)
	mux.HandleFunc("POST /backtest/{id}/cancel", s.handleCancelBacktest)

	mux.HandleFunc("POST /live/deploy", s.handleDeploy)
	mux.HandleFunc("GET /live", s.handleListSessions)
	mux.HandleFunc("GET /live/{id}", s.handleGetSession)
	mux.HandleFunc("POST /live/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /live/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /live/{id}/stop", s.handleStop)

	mux.HandleFunc("POST /kill-switch", s.handleKillSwitch)

	mux.HandleFunc("GET /data/cache/status", s.handleCacheStatus)
	mux.HandleFunc("DELETE /data/cache", s.handleCacheDelete)

	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	mux.HandleFunc("GET /ws", s.hub.serveWS)
}

// Run starts listening until ctx is cancelled, then drains within
// shutdownDrainTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ———————————————————————————————————————————————————————————————————————
// shared response helpers
// ———————————————————————————————————————————————————————————————————————

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// checkShutdownToken performs a constant-time comparison against the
// configured token, per spec §6's shutdown endpoint requirement.
func (s *Server) checkShutdownToken(r *http.Request) bool {
	got := r.Header.Get("X-Shutdown-Token")
	return s.deps.ShutdownToken != "" &&
		subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.ShutdownToken)) == 1
}
