// Package optimizer sizes the input of a candidate cycle to maximise
//
//	profit(x) = finalOutput(x) - x - loanPremium(x)
//
// within the cycle's liquidity cap. Two-hop constant-product cycles are solved
// in closed form; everything else uses an integer golden-section search.
package optimizer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
)

var (
	// ErrNoBracket is returned when the search interval is empty or the
	// profit function is not unimodal over it.
	ErrNoBracket = errors.New("no bracket for profit maximum")
	// ErrMaxIterationsExceeded is returned when the search does not narrow
	// to the tolerance within the iteration budget.
	ErrMaxIterationsExceeded = errors.New("optimizer exceeded max iterations")
)

type Method string

const (
	MethodClosedForm    Method = "closed_form"
	MethodGoldenSection Method = "golden_section"
)

// Params holds the optimizer's fixed configuration.
type Params struct {
	// CapBps is the largest share of any hop's input-side reserve a trade may consume.
	CapBps uint64
	// MaxIterations bounds the numerical search.
	MaxIterations int
}

func (p *Params) validate() error {
	if p.CapBps == 0 || p.CapBps > fixedpoint.BasisPoints {
		return fmt.Errorf("params: CapBps %d not in (0, %d]", p.CapBps, fixedpoint.BasisPoints)
	}
	if p.MaxIterations < 1 {
		return errors.New("params: MaxIterations must be positive")
	}
	return nil
}

// Request is one cycle to size against one snapshot.
type Request struct {
	Pools          cycle.PoolSource
	Cycle          cycle.Cycle
	LoanPremiumBps uint64
	// Tolerance is the bracket width, in start-token base units, at which
	// the search stops. Values below 1 are treated as 1.
	Tolerance *big.Int
}

type Result struct {
	Amount      *big.Int
	Profit      *big.Int
	FinalOutput *big.Int
	Cap         *big.Int
	Method      Method
	Iterations  int
}

// Optimizer is stateless and safe for concurrent use.
type Optimizer struct {
	params Params
}

func New(params Params) (*Optimizer, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Optimizer{params: params}, nil
}

func (o *Optimizer) CapBps() uint64 { return o.params.CapBps }

// Optimize returns the profit-maximising input. A zero Amount means no size
// is profitable; that is a result, not an error.
func (o *Optimizer) Optimize(req Request) (Result, error) {
	if req.Cycle.Hops() == 0 {
		return Result{}, fmt.Errorf("%w: empty cycle", ErrNoBracket)
	}
	limit, err := o.LiquidityCap(req.Pools, req.Cycle)
	if err != nil {
		return Result{}, err
	}

	if pools, ok := closedFormPools(req.Pools, req.Cycle); ok {
		amount, err := ClosedForm(pools[0], pools[1], req.Cycle, req.LoanPremiumBps)
		if err != nil {
			return Result{}, err
		}
		if amount.Cmp(limit) > 0 {
			amount.Set(limit)
		}
		return o.result(req, amount, limit, MethodClosedForm, 0)
	}

	tolerance := big.NewInt(1)
	if req.Tolerance != nil && req.Tolerance.Cmp(tolerance) > 0 {
		tolerance = req.Tolerance
	}
	profit := func(x *big.Int) (*big.Int, error) {
		p, _, err := Profit(req.Pools, req.Cycle, x, req.LoanPremiumBps)
		return p, err
	}
	amount, iterations, err := GoldenSection(profit, big.NewInt(1), limit, tolerance, o.params.MaxIterations, req.Cycle.Hops()+2)
	if err != nil {
		return Result{}, err
	}
	return o.result(req, amount, limit, MethodGoldenSection, iterations)
}

func (o *Optimizer) result(req Request, amount, limit *big.Int, method Method, iterations int) (Result, error) {
	res := Result{Amount: amount, Cap: limit, Method: method, Iterations: iterations}
	if amount.Sign() == 0 {
		res.Profit = new(big.Int)
		res.FinalOutput = new(big.Int)
		return res, nil
	}
	profit, final, err := Profit(req.Pools, req.Cycle, amount, req.LoanPremiumBps)
	if err != nil {
		return Result{}, err
	}
	if profit.Sign() <= 0 {
		// rounding at a marginal optimum can leave nothing to take
		res.Amount = new(big.Int)
		res.Profit = new(big.Int)
		res.FinalOutput = new(big.Int)
		return res, nil
	}
	res.Profit, res.FinalOutput = profit, final
	return res, nil
}

// LoanPremium is the flash-loan fee on amount, rounded up.
func LoanPremium(amount *big.Int, premiumBps uint64) (*big.Int, error) {
	return fixedpoint.MulBpsRoundingUp(amount, premiumBps)
}

// Profit evaluates finalOutput(x) - x - premium(x). The result may be negative.
func Profit(pools cycle.PoolSource, c cycle.Cycle, amount *big.Int, premiumBps uint64) (profit, final *big.Int, err error) {
	final, err = c.FinalOutput(pools, amount)
	if err != nil {
		return nil, nil, err
	}
	premium, err := LoanPremium(amount, premiumBps)
	if err != nil {
		return nil, nil, err
	}
	profit = new(big.Int).Sub(final, amount)
	profit.Sub(profit, premium)
	return profit, final, nil
}

// HopCap is the largest input hop may take: capBps of its input-side reserve.
func HopCap(p amm.Pool, tokenIn uint64, capBps uint64) (*big.Int, error) {
	reserveIn, _, err := amm.Reserves(p, tokenIn)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulBps(reserveIn, capBps)
}

// LiquidityCap is the largest start-token amount for which no hop's input
// exceeds its HopCap. Each hop's cap is carried back to the start token with
// amm.QuoteInput; a hop whose cap the preceding hops can never reach imposes
// no bound.
func (o *Optimizer) LiquidityCap(pools cycle.PoolSource, c cycle.Cycle) (*big.Int, error) {
	resolved, err := resolve(pools, c)
	if err != nil {
		return nil, err
	}

	var limit *big.Int
	for i := range c.Edges {
		bound, err := HopCap(resolved[i], c.Edges[i].TokenIn, o.params.CapBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d (pool %d): %w", i, c.Edges[i].PoolID, err)
		}
		reachable := true
		for j := i - 1; j >= 0; j-- {
			bound, err = amm.QuoteInput(resolved[j], bound, c.Edges[j].TokenIn)
			if errors.Is(err, protocols.ErrInsufficientLiquidity) {
				reachable = false
				break
			}
			if err != nil {
				return nil, fmt.Errorf("hop %d (pool %d): %w", j, c.Edges[j].PoolID, err)
			}
		}
		if reachable && (limit == nil || bound.Cmp(limit) < 0) {
			limit = bound
		}
	}

	// QuoteInput rounds up, so the carried-back bound can overshoot slightly.
	ok, err := withinCaps(resolved, c, limit, o.params.CapBps)
	if err != nil {
		return nil, err
	}
	if ok {
		return limit, nil
	}
	lo, hi := new(big.Int), new(big.Int).Set(limit)
	one := big.NewInt(1)
	for new(big.Int).Sub(hi, lo).Cmp(one) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		ok, err := withinCaps(resolved, c, mid, o.params.CapBps)
		if err != nil {
			return nil, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// WithinCaps reports whether amount keeps every hop's input within capBps
// of its input-side reserve.
func WithinCaps(pools cycle.PoolSource, c cycle.Cycle, amount *big.Int, capBps uint64) (bool, error) {
	resolved, err := resolve(pools, c)
	if err != nil {
		return false, err
	}
	return withinCaps(resolved, c, amount, capBps)
}

func withinCaps(resolved []amm.Pool, c cycle.Cycle, amount *big.Int, capBps uint64) (bool, error) {
	in := amount
	for i, e := range c.Edges {
		bound, err := HopCap(resolved[i], e.TokenIn, capBps)
		if err != nil {
			return false, err
		}
		if in.Cmp(bound) > 0 {
			return false, nil
		}
		if in, err = amm.QuoteOutput(resolved[i], in, e.TokenIn); err != nil {
			return false, err
		}
	}
	return true, nil
}

func resolve(pools cycle.PoolSource, c cycle.Cycle) ([]amm.Pool, error) {
	resolved := make([]amm.Pool, len(c.Edges))
	for i, e := range c.Edges {
		p, ok := pools.Pool(e.PoolID)
		if !ok {
			return nil, fmt.Errorf("%w: pool %d is not in the snapshot", protocols.ErrInvalidPool, e.PoolID)
		}
		resolved[i] = p
	}
	return resolved, nil
}
