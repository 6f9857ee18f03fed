package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/defistate/arbitrage-engine/arbitrage"
	"github.com/defistate/arbitrage-engine/cmd/arbengine/config"
	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/execution"
	"github.com/defistate/arbitrage-engine/optimizer"
	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/streams/file"
	"github.com/defistate/arbitrage-engine/streams/jsonrpc/client"
	"github.com/defistate/arbitrage-engine/streams/jsonrpc/stateops"
	"github.com/defistate/arbitrage-engine/validator"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bootLogger.Info("Loading configuration", "path", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.LogLevel()
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rootLogger); err != nil && !errors.Is(err, context.Canceled) {
		rootLogger.Error("Engine stopped", "error", err)
		os.Exit(1)
	}
	rootLogger.Info("Engine shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := state.NewStore()
	ops, err := stateops.NewStateOps(logger.With("component", "stateops"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	feed, err := newFeed(cfg, store, ops, registry, logger)
	if err != nil {
		return err
	}
	g.Go(func() error { return feed(ctx) })

	engine, err := newEngine(cfg, store, registry, logger)
	if err != nil {
		return err
	}
	g.Go(func() error { return engine.Run(ctx) })

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           newMux(registry, store, cfg.Engine.StalenessWindow, time.Now),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("Serving metrics", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newFeed picks the stream client when a URL is configured and polls the
// pool file otherwise.
func newFeed(cfg *config.Config, store *state.Store, ops *stateops.StateOps, reg prometheus.Registerer, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Feed.URL != "" {
		c, err := client.NewClient(client.Config{
			URL:      cfg.Feed.URL,
			Logger:   logger.With("component", "jsonrpc-client"),
			Store:    store,
			Decoder:  ops,
			Registry: reg,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stream client: %w", err)
		}
		return c.Run, nil
	}

	f, err := file.NewFeed(cfg.Feed.File, ops)
	if err != nil {
		return nil, err
	}
	r, err := state.NewRefresher(state.RefresherConfig{
		Feed:     f,
		Store:    store,
		Interval: cfg.Feed.RefreshInterval,
		Logger:   logger.With("component", "refresher"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize refresher: %w", err)
	}
	return r.Run, nil
}

func newEngine(cfg *config.Config, store *state.Store, reg prometheus.Registerer, logger *slog.Logger) (*arbitrage.Engine, error) {
	e := cfg.Engine
	capBps, err := cfg.CapBps()
	if err != nil {
		return nil, err
	}

	detector, err := cycle.NewDetector(e.MaxHops,
		cycle.WithWorkers(e.Workers),
		cycle.WithLogger(logger.With("component", "detector")),
	)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(optimizer.Params{CapBps: capBps, MaxIterations: e.MaxOptimizerIterations})
	if err != nil {
		return nil, err
	}
	val, err := validator.New(capBps, e.StalenessWindow)
	if err != nil {
		return nil, err
	}
	builder, err := execution.NewBuilder(e.SlippageToleranceBps)
	if err != nil {
		return nil, err
	}

	var settler execution.Settler
	if e.SimulateSettlement {
		settler = execution.NewSimulator(store, logger.With("component", "simulator"))
	}

	return arbitrage.NewEngine(arbitrage.Config{
		Store:     store,
		Detector:  detector,
		Optimizer: opt,
		Validator: val,
		Builder:   builder,
		Costs: &validator.StaticCostModel{
			LoanPremiumBps: cfg.CostModel.LoanPremiumBps,
			SettlementCost: cfg.CostModel.SettlementCost,
			MinProfit:      e.MinProfitThreshold,
			Tokens:         store,
		},
		Settler:      settler,
		Sink:         &arbitrage.LogSink{Logger: logger.With("component", "sink"), Tokens: store},
		BaseTokens:   e.BaseTokens,
		Tolerance:    e.OptimizerTolerance,
		Workers:      e.Workers,
		PassInterval: e.PassInterval,
		Registry:     reg,
		Logger:       logger.With("component", "engine"),
	})
}
