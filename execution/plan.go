// Package execution turns validated trades into ordered settlement plans and
// defines the contract for whatever carries them out.
package execution

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/validator"
)

var (
	// ErrExecutionAborted is returned when a plan is abandoned as a whole.
	ErrExecutionAborted = errors.New("execution aborted")
	// ErrInvalidPlan is returned when a trade cannot be turned into a plan.
	ErrInvalidPlan = errors.New("invalid plan")
)

type StepKind int

const (
	StepBorrow StepKind = iota + 1
	StepSwap
	StepRepay
)

func (k StepKind) String() string {
	switch k {
	case StepBorrow:
		return "borrow"
	case StepSwap:
		return "swap"
	case StepRepay:
		return "repay"
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// Step is one action of a plan. Swap steps carry the pool, both tokens, the
// expected output and the floor below which the plan must abort. Borrow and
// Repay steps carry Token and Amount only.
type Step struct {
	Kind         StepKind
	Token        uint64
	Amount       *big.Int
	PoolID       uint64
	TokenOut     uint64
	ExpectedOut  *big.Int
	MinAmountOut *big.Int
}

// Plan is an ordered Borrow, Swap..., Repay sequence.
type Plan struct {
	ID       uuid.UUID
	Trade    *validator.TradePlan
	Steps    []Step
	Deadline time.Time
}

// Swaps returns the swap steps in order.
func (p *Plan) Swaps() []Step {
	swaps := make([]Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		if s.Kind == StepSwap {
			swaps = append(swaps, s)
		}
	}
	return swaps
}

type Builder struct {
	slippageBps uint64
}

func NewBuilder(slippageBps uint64) (*Builder, error) {
	if slippageBps >= fixedpoint.BasisPoints {
		return nil, fmt.Errorf("builder: slippage %d bps must be below %d", slippageBps, fixedpoint.BasisPoints)
	}
	return &Builder{slippageBps: slippageBps}, nil
}

// Build lays out the plan for tp. Every swap floor is the expected output
// less the slippage tolerance; the final floor is raised to the repayment so
// that a plan which cannot repay aborts rather than settles at a loss.
func (b *Builder) Build(tp *validator.TradePlan) (*Plan, error) {
	if tp == nil || len(tp.Hops) == 0 {
		return nil, fmt.Errorf("%w: trade has no hops", ErrInvalidPlan)
	}
	if tp.FinalOutput.Cmp(tp.Repayment) < 0 {
		return nil, fmt.Errorf("%w: expected output %s does not cover repayment %s", ErrInvalidPlan, tp.FinalOutput, tp.Repayment)
	}

	steps := make([]Step, 0, len(tp.Hops)+2)
	steps = append(steps, Step{Kind: StepBorrow, Token: tp.StartToken, Amount: new(big.Int).Set(tp.AmountIn)})
	last := len(tp.Hops) - 1
	for i, h := range tp.Hops {
		floor, err := fixedpoint.MulBps(h.AmountOut, fixedpoint.BasisPoints-b.slippageBps)
		if err != nil {
			return nil, err
		}
		if i == last && floor.Cmp(tp.Repayment) < 0 {
			floor.Set(tp.Repayment)
		}
		steps = append(steps, Step{
			Kind:         StepSwap,
			Token:        h.TokenIn,
			Amount:       new(big.Int).Set(h.AmountIn),
			PoolID:       h.PoolID,
			TokenOut:     h.TokenOut,
			ExpectedOut:  new(big.Int).Set(h.AmountOut),
			MinAmountOut: floor,
		})
	}
	steps = append(steps, Step{Kind: StepRepay, Token: tp.StartToken, Amount: new(big.Int).Set(tp.Repayment)})

	return &Plan{
		ID:       uuid.New(),
		Trade:    tp,
		Steps:    steps,
		Deadline: tp.ValidUntil,
	}, nil
}
