// Package arbitrage runs detection passes: one snapshot in, ranked and
// conflict-free execution plans out.
package arbitrage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/execution"
	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/graph"
	"github.com/defistate/arbitrage-engine/optimizer"
	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/validator"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SnapshotSource hands out the snapshot a pass reads.
type SnapshotSource interface {
	Current() *state.Snapshot
}

// Config wires the engine's collaborators. Settler is optional: without one,
// accepted plans only reach the Sink.
type Config struct {
	Store     SnapshotSource
	Detector  *cycle.Detector
	Optimizer *optimizer.Optimizer
	Validator *validator.Validator
	Builder   *execution.Builder
	Costs     validator.CostModelProvider
	Settler   execution.Settler
	Sink      Sink

	// BaseTokens restricts cycle starts; empty means every token.
	BaseTokens []uint64
	// Tolerance is the optimizer's bracket width in whole start-token units.
	Tolerance    decimal.Decimal
	Workers      int
	PassInterval time.Duration

	Registry prometheus.Registerer
	Logger   Logger
}

func (c *Config) validate() error {
	switch {
	case c.Store == nil:
		return errors.New("config: Store is required")
	case c.Detector == nil:
		return errors.New("config: Detector is required")
	case c.Optimizer == nil:
		return errors.New("config: Optimizer is required")
	case c.Validator == nil:
		return errors.New("config: Validator is required")
	case c.Builder == nil:
		return errors.New("config: Builder is required")
	case c.Costs == nil:
		return errors.New("config: Costs is required")
	case c.Sink == nil:
		return errors.New("config: Sink is required")
	case c.Registry == nil:
		return errors.New("config: Registry is required")
	case c.Logger == nil:
		return errors.New("config: Logger is required")
	case c.Workers < 1:
		return errors.New("config: Workers must be positive")
	case c.PassInterval <= 0:
		return errors.New("config: PassInterval must be positive")
	case c.Tolerance.IsNegative():
		return errors.New("config: Tolerance must not be negative")
	}
	return nil
}

type Engine struct {
	cfg     Config
	metrics *Metrics
	logger  Logger
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	cfg.BaseTokens = slices.Clone(cfg.BaseTokens)
	return &Engine{cfg: cfg, metrics: metrics, logger: cfg.Logger}, nil
}

// PassReport summarises one pass.
type PassReport struct {
	SnapshotVersion uint64
	Block           uint64
	SkippedPools    int
	Cycles          int
	Accepted        int
	Rejected        map[string]int
	Plans           []*execution.Plan
	Settled         int
	Aborted         int
	Duration        time.Duration
}

// candidate is one cycle's evaluation, produced by a worker.
type candidate struct {
	cycle cycle.Cycle
	plan  *validator.TradePlan
	// amount is the optimizer's size, kept for rejections
	amount *big.Int
	err    error
}

// RunPass evaluates every cycle in the current snapshot and hands off the
// surviving plans in descending net-profit order. Per-opportunity failures
// become rejections; only a missing snapshot, a cancelled context or a
// detection failure end the pass with an error.
func (e *Engine) RunPass(ctx context.Context) (PassReport, error) {
	start := time.Now()
	snap := e.cfg.Store.Current()
	report := PassReport{Rejected: map[string]int{}}
	if snap == nil || snap.Version == 0 {
		e.metrics.passes.WithLabelValues(ReasonNoSnapshot).Inc()
		return report, ErrNoSnapshot
	}
	report.SnapshotVersion, report.Block = snap.Version, snap.Block
	e.metrics.snapshotAge.Set(snap.Age(start).Seconds())

	g := graph.Build(snap.Pools())
	for _, s := range g.Skipped() {
		e.logger.Warn("pool skipped", "pool", s.PoolID, "error", s.Err)
	}
	report.SkippedPools = len(g.Skipped())

	cycles, err := e.cfg.Detector.Detect(ctx, g, e.cfg.BaseTokens)
	if err != nil {
		e.metrics.passes.WithLabelValues(Classify(err)).Inc()
		return report, fmt.Errorf("detect: %w", err)
	}
	report.Cycles = len(cycles)
	e.metrics.cycles.Add(float64(len(cycles)))

	candidates, err := e.evaluate(ctx, snap, cycles)
	if err != nil {
		e.metrics.passes.WithLabelValues(Classify(err)).Inc()
		return report, err
	}

	accepted := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.err != nil {
			e.reject(ctx, &report, c.cycle, c.amount, c.err)
			continue
		}
		accepted = append(accepted, c)
	}
	slices.SortStableFunc(accepted, func(a, b candidate) int {
		if d := b.plan.NetProfit.Cmp(a.plan.NetProfit); d != 0 {
			return d
		}
		return cmp.Compare(a.cycle.Key(), b.cycle.Key())
	})

	claimed := mapset.NewThreadUnsafeSet[uint64]()
	for _, c := range accepted {
		if conflicts(claimed, c.plan.PoolIDs()) {
			e.reject(ctx, &report, c.cycle, c.plan.AmountIn, fmt.Errorf("%w: %s", ErrPoolConflict, c.cycle.Key()))
			continue
		}
		plan, err := e.cfg.Builder.Build(c.plan)
		if err != nil {
			e.reject(ctx, &report, c.cycle, c.plan.AmountIn, err)
			continue
		}
		for _, id := range c.plan.PoolIDs() {
			claimed.Add(id)
		}
		report.Accepted++
		report.Plans = append(report.Plans, plan)
		e.metrics.plans.Inc()
		e.cfg.Sink.Accepted(ctx, plan)

		if e.cfg.Settler == nil {
			continue
		}
		receipt, err := e.cfg.Settler.Execute(ctx, plan)
		e.metrics.receipts.WithLabelValues(receipt.Status.String()).Inc()
		if err != nil {
			report.Aborted++
		} else {
			report.Settled++
		}
		e.cfg.Sink.Settled(ctx, plan, receipt, err)
	}

	report.Duration = time.Since(start)
	e.metrics.passDuration.Observe(report.Duration.Seconds())
	e.metrics.passes.WithLabelValues("ok").Inc()
	e.logger.Debug("pass complete",
		"version", report.SnapshotVersion,
		"block", report.Block,
		"cycles", report.Cycles,
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func conflicts(claimed mapset.Set[uint64], pools []uint64) bool {
	for _, id := range pools {
		if claimed.Contains(id) {
			return true
		}
	}
	return false
}

func (e *Engine) reject(ctx context.Context, report *PassReport, c cycle.Cycle, amount *big.Int, err error) {
	reason := Classify(err)
	report.Rejected[reason]++
	e.metrics.rejections.WithLabelValues(reason).Inc()
	e.cfg.Sink.Rejected(ctx, Rejected{Cycle: c, Amount: amount, Reason: reason, Err: err})
}

// evaluate sizes and validates every cycle on the worker pool. Each worker
// writes only its own slot.
func (e *Engine) evaluate(ctx context.Context, snap *state.Snapshot, cycles []cycle.Cycle) ([]candidate, error) {
	out := make([]candidate, len(cycles))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Workers)
	for i, c := range cycles {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = e.evaluateOne(ctx, snap, c)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) evaluateOne(ctx context.Context, snap *state.Snapshot, c cycle.Cycle) candidate {
	cand := candidate{cycle: c}
	costs, err := e.cfg.Costs.CostModel(ctx, c.StartToken)
	if err != nil {
		cand.err = err
		return cand
	}
	tolerance, err := e.tolerance(snap, c.StartToken)
	if err != nil {
		cand.err = err
		return cand
	}

	res, err := e.cfg.Optimizer.Optimize(optimizer.Request{
		Pools:          snap,
		Cycle:          c,
		LoanPremiumBps: costs.LoanPremiumBps,
		Tolerance:      tolerance,
	})
	if err != nil {
		cand.err = err
		return cand
	}
	cand.amount = res.Amount
	if res.Amount.Sign() == 0 {
		cand.err = fmt.Errorf("%w: no input size covers the loan premium", validator.ErrUnprofitable)
		return cand
	}

	plan, err := e.cfg.Validator.Validate(snap, c, res.Amount, costs)
	if err != nil {
		cand.err = err
		return cand
	}
	cand.plan = plan
	return cand
}

func (e *Engine) tolerance(snap *state.Snapshot, token uint64) (*big.Int, error) {
	t, ok := snap.Token(token)
	if !ok {
		return nil, fmt.Errorf("%w: %d", validator.ErrUnknownToken, token)
	}
	units, err := fixedpoint.ToUnits(e.cfg.Tolerance, t.Decimals)
	if err != nil {
		return nil, err
	}
	if units.Sign() == 0 {
		units.SetInt64(1)
	}
	return units, nil
}

// Run executes a pass every PassInterval until ctx is done, skipping
// intervals in which the snapshot version has not moved.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PassInterval)
	defer ticker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if v := e.cfg.Store.Current().Version; v == lastVersion {
			e.metrics.passes.WithLabelValues("unchanged").Inc()
			continue
		}
		report, err := e.RunPass(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("pass failed", "error", err, "reason", Classify(err))
			continue
		}
		lastVersion = report.SnapshotVersion
		if report.Accepted > 0 {
			e.logger.Info("pass produced plans", "version", report.SnapshotVersion, "plans", report.Accepted, "settled", report.Settled, "aborted", report.Aborted)
		}
	}
}
