package arbitrage

import (
	"context"
	"math/big"

	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/execution"
	"github.com/defistate/arbitrage-engine/fixedpoint"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

// Rejected is an opportunity that did not become a plan.
type Rejected struct {
	Cycle  cycle.Cycle
	Amount *big.Int
	Reason string
	Err    error
}

// Sink receives every outcome of a pass. Calls are made from the pass
// goroutine in a deterministic order.
type Sink interface {
	Rejected(ctx context.Context, r Rejected)
	Accepted(ctx context.Context, plan *execution.Plan)
	Settled(ctx context.Context, plan *execution.Plan, receipt execution.Receipt, err error)
}

// TokenSource resolves token metadata for display.
type TokenSource interface {
	Token(id uint64) (tokenregistry.Token, bool)
}

// LogSink writes outcomes to a Logger, formatting amounts in whole units
// when the start token is known.
type LogSink struct {
	Logger Logger
	Tokens TokenSource
}

func (s *LogSink) format(token uint64, x *big.Int) string {
	if x == nil {
		return ""
	}
	if s.Tokens != nil {
		if t, ok := s.Tokens.Token(token); ok {
			return fixedpoint.FormatUnits(x, t.Decimals) + " " + t.String()
		}
	}
	return x.String()
}

func (s *LogSink) Rejected(_ context.Context, r Rejected) {
	s.Logger.Debug("opportunity rejected",
		"cycle", r.Cycle.String(),
		"amount", s.format(r.Cycle.StartToken, r.Amount),
		"reason", r.Reason,
		"error", r.Err,
	)
}

func (s *LogSink) Accepted(_ context.Context, plan *execution.Plan) {
	tp := plan.Trade
	s.Logger.Info("plan accepted",
		"plan", plan.ID,
		"cycle", tp.Cycle.String(),
		"amount_in", s.format(tp.StartToken, tp.AmountIn),
		"net_profit", s.format(tp.StartToken, tp.NetProfit),
		"hops", len(tp.Hops),
		"deadline", plan.Deadline,
	)
}

func (s *LogSink) Settled(_ context.Context, plan *execution.Plan, receipt execution.Receipt, err error) {
	if err != nil {
		s.Logger.Warn("plan not settled",
			"plan", plan.ID,
			"status", receipt.Status.String(),
			"reason", Classify(err),
			"error", err,
		)
		return
	}
	s.Logger.Info("plan settled",
		"plan", plan.ID,
		"status", receipt.Status.String(),
		"profit", s.format(plan.Trade.StartToken, receipt.Profit),
	)
}
