package execution

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/state"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is the slice of *state.Store the simulator needs.
type Store interface {
	Current() *state.Snapshot
	ApplyAt(version uint64, u state.Update) (*state.Snapshot, error)
}

// Simulator settles plans against a live store by replaying every swap on
// private pool copies and publishing them in a single version-guarded update.
// It stands in for an on-chain settler in dry runs and tests.
type Simulator struct {
	mu     sync.Mutex
	store  Store
	logger Logger
	now    func() time.Time
}

type SimulatorOption interface {
	apply(*Simulator)
}

type simulatorOption func(*Simulator)

func (f simulatorOption) apply(s *Simulator) {
	f(s)
}

// WithSimulatorClock overrides the time source used for deadline checks.
func WithSimulatorClock(now func() time.Time) SimulatorOption {
	return simulatorOption(func(s *Simulator) { s.now = now })
}

func NewSimulator(store Store, logger Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// run tracks one plan through the state machine.
type run struct {
	receipt Receipt
}

func (r *run) to(s Status) {
	r.receipt.Status = s
	r.receipt.Transitions = append(r.receipt.Transitions, s)
}

func (r *run) abort(format string, args ...any) (Receipt, error) {
	r.receipt.AbortReason = fmt.Sprintf(format, args...)
	r.to(StatusAborted)
	return r.receipt, fmt.Errorf("%w: %s", ErrExecutionAborted, r.receipt.AbortReason)
}

// Execute implements Settler. Plans are settled one at a time.
func (s *Simulator) Execute(ctx context.Context, plan *Plan) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &run{receipt: Receipt{PlanID: plan.ID}}
	r.to(StatusPending)
	receipt, err := s.execute(ctx, plan, r)
	receipt.SettledAt = s.now()
	if err != nil {
		s.logger.Warn("plan aborted", "plan", plan.ID, "status_path", receipt.Transitions, "reason", receipt.AbortReason)
		return receipt, err
	}
	s.logger.Info("plan settled", "plan", plan.ID, "profit", receipt.Profit)
	return receipt, nil
}

func (s *Simulator) execute(ctx context.Context, plan *Plan, r *run) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return r.abort("context: %v", err)
	}
	if !plan.Deadline.IsZero() && s.now().After(plan.Deadline) {
		return r.abort("deadline %s passed", plan.Deadline.Format(time.RFC3339Nano))
	}

	snap := s.store.Current()
	var (
		balance   *big.Int
		borrowed  *big.Int
		holding   uint64
		touched   = make(map[uint64]amm.Pool)
		touchedAt []uint64
	)

	for i, step := range plan.Steps {
		switch step.Kind {
		case StepBorrow:
			if r.receipt.Status != StatusPending {
				return r.abort("step %d: borrow while %s", i, r.receipt.Status)
			}
			borrowed = new(big.Int).Set(step.Amount)
			balance = new(big.Int).Set(step.Amount)
			holding = step.Token
			r.to(StatusBorrowed)

		case StepSwap:
			if r.receipt.Status == StatusBorrowed {
				r.to(StatusHopsExecuting)
			}
			if r.receipt.Status != StatusHopsExecuting {
				return r.abort("step %d: swap while %s", i, r.receipt.Status)
			}
			if step.Token != holding {
				return r.abort("step %d: holding token %d, swap needs %d", i, holding, step.Token)
			}
			pool, ok := touched[step.PoolID]
			if !ok {
				if pool, ok = snap.Pool(step.PoolID); !ok {
					return r.abort("step %d: pool %d no longer exists", i, step.PoolID)
				}
			}
			out, next, err := amm.Simulate(pool, balance, step.Token)
			if err != nil {
				return r.abort("step %d: pool %d: %v", i, step.PoolID, err)
			}
			if out.Cmp(step.MinAmountOut) < 0 {
				return r.abort("step %d: pool %d returned %s, floor %s", i, step.PoolID, out, step.MinAmountOut)
			}
			if _, seen := touched[step.PoolID]; !seen {
				touchedAt = append(touchedAt, step.PoolID)
			}
			touched[step.PoolID] = next
			r.receipt.HopOutputs = append(r.receipt.HopOutputs, out)
			balance, holding = out, step.TokenOut

		case StepRepay:
			if r.receipt.Status != StatusHopsExecuting {
				return r.abort("step %d: repay while %s", i, r.receipt.Status)
			}
			if step.Token != holding || balance.Cmp(step.Amount) < 0 {
				return r.abort("step %d: holding %s of token %d, owe %s of token %d", i, balance, holding, step.Amount, step.Token)
			}
			r.receipt.FinalOutput = new(big.Int).Set(balance)
			r.receipt.Repaid = new(big.Int).Set(step.Amount)
			r.receipt.Cost = settlementCost(plan)
			r.receipt.Profit = new(big.Int).Sub(balance, step.Amount)
			r.receipt.Profit.Sub(r.receipt.Profit, r.receipt.Cost)

		default:
			return r.abort("step %d: unknown kind %s", i, step.Kind)
		}
	}
	if r.receipt.Repaid == nil || borrowed == nil {
		return r.abort("plan ended without repaying")
	}
	if err := ctx.Err(); err != nil {
		return r.abort("context: %v", err)
	}

	upserts := make([]amm.Pool, 0, len(touchedAt))
	for _, id := range touchedAt {
		upserts = append(upserts, touched[id])
	}
	if _, err := s.store.ApplyAt(snap.Version, state.Update{Upserts: upserts}); err != nil {
		return r.abort("commit: %v", err)
	}
	r.to(StatusRepaid)
	return r.receipt, nil
}

func settlementCost(plan *Plan) *big.Int {
	if plan.Trade == nil || plan.Trade.SettlementCost == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(plan.Trade.SettlementCost)
}
