package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/execution"
	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/optimizer"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/protocols/constantproduct"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/validator"
)

const (
	tokenA uint64 = 1
	tokenB uint64 = 2
	tokenC uint64 = 3
)

var testTokens = []tokenregistry.Token{
	{ID: tokenA, Symbol: "A", Decimals: 18},
	{ID: tokenB, Symbol: "B", Decimals: 18},
	{ID: tokenC, Symbol: "C", Decimals: 18},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// whole builds a constant-product pool from whole-unit reserves at 18 decimals.
func whole(id, t0, t1 uint64, r0, r1 string) amm.Pool {
	reserve0, err := fixedpoint.ParseUnits(r0, 18)
	if err != nil {
		panic(err)
	}
	reserve1, err := fixedpoint.ParseUnits(r1, 18)
	if err != nil {
		panic(err)
	}
	return amm.NewConstantProduct(&constantproduct.Pool{
		ID: id, Token0: t0, Token1: t1, Reserve0: reserve0, Reserve1: reserve1, FeeBps: 30,
	})
}

// twoVenues prices B at 2 A on one venue and about 1.77 A on the other.
func twoVenues() []amm.Pool {
	return []amm.Pool{
		whole(1, tokenA, tokenB, "1000000", "2000000"),
		whole(2, tokenA, tokenB, "1100000", "1950000"),
	}
}

type recordingSink struct {
	mu       sync.Mutex
	rejected []Rejected
	accepted []*execution.Plan
	settled  []error
	onAccept func()
}

func (s *recordingSink) Rejected(_ context.Context, r Rejected) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, r)
}

func (s *recordingSink) Accepted(_ context.Context, p *execution.Plan) {
	s.mu.Lock()
	s.accepted = append(s.accepted, p)
	s.mu.Unlock()
	if s.onAccept != nil {
		s.onAccept()
	}
}

func (s *recordingSink) Settled(_ context.Context, _ *execution.Plan, _ execution.Receipt, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, err)
}

type harness struct {
	store  *state.Store
	engine *Engine
	sink   *recordingSink
	reg    *prometheus.Registry
}

func newHarness(t *testing.T, pools []amm.Pool, settle bool) *harness {
	t.Helper()
	store := state.NewStore()
	if pools != nil {
		_, err := store.Replace(100, testTokens, pools)
		require.NoError(t, err)
	}

	detector, err := cycle.NewDetector(3, cycle.WithWorkers(2))
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.Params{CapBps: 9000, MaxIterations: 128})
	require.NoError(t, err)
	val, err := validator.New(9000, 12*time.Second)
	require.NoError(t, err)
	builder, err := execution.NewBuilder(50)
	require.NoError(t, err)

	h := &harness{store: store, sink: &recordingSink{}, reg: prometheus.NewRegistry()}
	cfg := Config{
		Store:     store,
		Detector:  detector,
		Optimizer: opt,
		Validator: val,
		Builder:   builder,
		Costs: &validator.StaticCostModel{
			LoanPremiumBps: 5,
			MinProfit:      decimal.RequireFromString("0.0001"),
			Tokens:         store,
		},
		Sink:         h.sink,
		Tolerance:    decimal.RequireFromString("0.000001"),
		Workers:      2,
		PassInterval: 5 * time.Millisecond,
		Registry:     h.reg,
		Logger:       discardLogger(),
	}
	if settle {
		cfg.Settler = execution.NewSimulator(store, discardLogger())
	}
	h.engine, err = NewEngine(cfg)
	require.NoError(t, err)
	return h
}

// counter reads a counter from the registry; labels are name=value pairs.
func (h *harness) counter(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			match := true
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				match = match && found
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRunPass_TwoVenueScenario(t *testing.T) {
	h := newHarness(t, twoVenues(), true)

	report, err := h.engine.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), report.SnapshotVersion)
	assert.Equal(t, 1, report.Cycles, "both rotations of the loop collapse to one")
	require.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.Settled)
	assert.Zero(t, report.Aborted)

	tp := report.Plans[0].Trade
	assert.Equal(t, tokenA, tp.StartToken)
	assert.Equal(t, []uint64{1, 2}, tp.PoolIDs())
	assert.Equal(t, "29119244708424220125611", tp.AmountIn.String())
	assert.Equal(t, "1710703557046206404564", tp.NetProfit.String())
	assert.Positive(t, tp.NetProfit.Sign())

	// the settled trade moved the live reserves
	assert.Equal(t, uint64(2), h.store.Current().Version)
	p1, _ := h.store.Current().Pool(1)
	assert.Equal(t, 1, p1.ConstantProduct.Reserve0.Cmp(twoVenues()[0].ConstantProduct.Reserve0))

	require.Len(t, h.sink.settled, 1)
	assert.NoError(t, h.sink.settled[0])
	assert.Equal(t, 1.0, h.counter(t, "arbitrage_plans_total"))
	assert.Equal(t, 1.0, h.counter(t, "arbitrage_receipts_total", "status", "repaid"))

	// the same loop is no longer worth trading after settlement
	second, err := h.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Accepted)
}

func TestRunPass_PoolConflict(t *testing.T) {
	pools := append(twoVenues(),
		whole(4, tokenC, tokenA, "100000", "100000"),
		whole(5, tokenB, tokenC, "200000", "105000"),
	)
	h := newHarness(t, pools, false)

	report, err := h.engine.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Cycles)
	require.Equal(t, 1, report.Accepted)
	assert.Equal(t, []uint64{1, 2}, report.Plans[0].Trade.PoolIDs(), "the more profitable loop wins")
	assert.Equal(t, 1, report.Rejected[ReasonPoolConflict])

	require.Len(t, h.sink.rejected, 1)
	assert.ErrorIs(t, h.sink.rejected[0].Err, ErrPoolConflict)
	assert.Equal(t, 3, h.sink.rejected[0].Cycle.Hops())
	assert.Equal(t, 1.0, h.counter(t, "arbitrage_rejections_total", "reason", ReasonPoolConflict))
}

func TestRunPass_NoOpportunity(t *testing.T) {
	h := newHarness(t, []amm.Pool{
		whole(1, tokenA, tokenB, "1000000", "2000000"),
		whole(2, tokenA, tokenB, "1000000", "2000000"),
	}, false)

	report, err := h.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Cycles)
	assert.Zero(t, report.Accepted)
	assert.Empty(t, h.sink.accepted)
}

// A cycle whose edge after fees is thinner than the loan premium is detected
// but sized to zero.
func TestRunPass_PremiumWipesOutEdge(t *testing.T) {
	h := newHarness(t, []amm.Pool{
		whole(1, tokenA, tokenB, "1000000", "2000000"),
		whole(2, tokenA, tokenB, "1000000", "2012100"),
	}, false)

	report, err := h.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cycles)
	assert.Zero(t, report.Accepted)
	assert.Equal(t, 1, report.Rejected[ReasonUnprofitable])
	assert.Empty(t, h.sink.accepted)

	require.Len(t, h.sink.rejected, 1)
	r := h.sink.rejected[0]
	assert.Equal(t, ReasonUnprofitable, r.Reason)
	assert.ErrorIs(t, r.Err, validator.ErrUnprofitable)
	require.NotNil(t, r.Amount)
	assert.Zero(t, r.Amount.Sign())
	assert.Equal(t, 1.0, h.counter(t, "arbitrage_rejections_total", "reason", ReasonUnprofitable))
}

func TestRunPass_NoSnapshot(t *testing.T) {
	h := newHarness(t, nil, false)
	_, err := h.engine.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, twoVenues(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sink.onAccept = cancel

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Len(t, h.sink.accepted, 1)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: gross 5", validator.ErrUnprofitable), ReasonUnprofitable},
		{&validator.Rejection{Err: fmt.Errorf("%w: hop 0", validator.ErrInsufficientLiquidity)}, ReasonInsufficientLiquidity},
		{protocols.ErrInsufficientLiquidity, ReasonInsufficientLiquidity},
		{validator.ErrStaleState, ReasonStaleState},
		{optimizer.ErrNoBracket, ReasonNoBracket},
		{optimizer.ErrMaxIterationsExceeded, ReasonMaxIterations},
		{ErrPoolConflict, ReasonPoolConflict},
		{fmt.Errorf("%w: commit: %w", execution.ErrExecutionAborted, state.ErrVersionConflict), ReasonExecutionAborted},
		{fixedpoint.ErrOverflow, ReasonOverflow},
		{ErrNoSnapshot, ReasonNoSnapshot},
		{context.Canceled, ReasonCanceled},
		{errors.New("boom"), ReasonError},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestLogSink(t *testing.T) {
	store := state.NewStore()
	_, err := store.Replace(1, testTokens, nil)
	require.NoError(t, err)
	sink := &LogSink{Logger: discardLogger(), Tokens: store}

	assert.Equal(t, "1.5 A", sink.format(tokenA, big.NewInt(1_500_000_000_000_000_000)))
	assert.Equal(t, "42", sink.format(99, big.NewInt(42)))

	// smoke: none of these may panic
	sink.Rejected(context.Background(), Rejected{Amount: big.NewInt(1), Reason: ReasonUnprofitable})
}
