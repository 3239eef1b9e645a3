// Command quantcore wires the config, persistence, market-data, backtest,
// lifecycle, session, and HTTP/WS layers together and runs until an
// interrupt or the /shutdown endpoint closes the server.
//
// Grounded on the teacher's cmd/bot/main.go: flag-driven config path,
// structured startup logging, a background heartbeat goroutine, and a
// signal.NotifyContext-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"quantcore/internal/api"
	"quantcore/internal/backtest"
	"quantcore/internal/config"
	"quantcore/internal/eventbus"
	"quantcore/internal/lifecycle"
	"quantcore/internal/market"
	"quantcore/internal/registry"
	"quantcore/internal/session"
	"quantcore/internal/store"
	"quantcore/internal/venue"
	"quantcore/internal/venue/binance"
	"quantcore/internal/venue/sim"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting quantcore", "dry_run", cfg.DryRun, "dashboard_enabled", cfg.Dashboard.Enabled)

	db, err := store.Open(cfg.Store.DatabasePath, cfg.Store.StrategyDir)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bus := eventbus.New(logger)

	venues := make(map[string]venue.Connector, len(cfg.Venues))
	for name, vc := range cfg.Venues {
		venues[name] = newConnector(name, vc, logger)
	}
	// sim is always registered as a network-free venue. Nothing here seeds
	// it, so it serves no bars until its Seed method is called.
	venues["sim"] = sim.New()

	primary := pickPrimaryConnector(venues, cfg.Venues)
	marketLayer := market.New(primary, cfg.Store.DataDir, db, logger)

	reg := registry.New(db)
	orchestrator := backtest.New(marketLayer, reg, db, bus, logger)

	sessions := session.NewManager(bus, logger)
	lifecycleMgr := lifecycle.New(bus, db, db, sessions, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bus.RunHeartbeat(ctx)

	if !cfg.Dashboard.Enabled {
		logger.Info("dashboard disabled, running headless until interrupted")
		<-ctx.Done()
		return
	}

	server := api.New(fmt.Sprintf(":%d", cfg.Dashboard.Port), api.Deps{
		Store:          db,
		Bus:            bus,
		Lifecycle:      lifecycleMgr,
		Backtests:      orchestrator,
		Sessions:       sessions,
		Registry:       reg,
		Market:         marketLayer,
		Venues:         venues,
		ShutdownToken:  cfg.Dashboard.ShutdownToken,
		AllowedOrigins: cfg.Dashboard.AllowedOrigins,
		Logger:         logger,
	})

	if err := server.Run(ctx); err != nil {
		logger.Error("api server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("quantcore shut down cleanly")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newConnector(name string, vc config.VenueConfig, logger *slog.Logger) venue.Connector {
	switch strings.ToLower(name) {
	case "binance":
		return binance.New(vc.BaseURL, vc.APIKey, vc.APISecret, vc.RateLimitPerMin)
	default:
		logger.Warn("no concrete connector implementation for venue, falling back to the simulated connector", "venue", name)
		return sim.New()
	}
}

// pickPrimaryConnector chooses the connector the market-data layer uses to
// fill cache gaps: one of the configured venues (picked in map iteration
// order, so which one is not defined when several are configured), or sim
// if none is configured.
func pickPrimaryConnector(venues map[string]venue.Connector, configured map[string]config.VenueConfig) venue.Connector {
	for name := range configured {
		if c, ok := venues[name]; ok {
			return c
		}
	}
	return venues["sim"]
}
