// Package validator turns a sized cycle into a TradePlan or a Rejection.
package validator

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/state"
)

var (
	ErrInvalidAmount         = errors.New("trade amount must be positive")
	ErrUnprofitable          = errors.New("opportunity below profit threshold")
	ErrInsufficientLiquidity = errors.New("hop exceeds liquidity cap")
	ErrStaleState            = errors.New("snapshot older than staleness window")
)

// Rejection records why an opportunity was turned down. It unwraps to one of
// the package's sentinel errors.
type Rejection struct {
	Cycle  cycle.Cycle
	Amount *big.Int
	Err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected %s (amount %s): %v", r.Cycle.Key(), r.Amount, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Hop is one leg of an accepted trade.
type Hop struct {
	PoolID      uint64
	TokenIn     uint64
	TokenOut    uint64
	AmountIn    *big.Int
	AmountOut   *big.Int
	PriceImpact float64
}

// TradePlan is a validated opportunity priced against one snapshot.
type TradePlan struct {
	Cycle          cycle.Cycle
	StartToken     uint64
	AmountIn       *big.Int
	Hops           []Hop
	FinalOutput    *big.Int
	LoanPremium    *big.Int
	Repayment      *big.Int
	SettlementCost *big.Int
	NetProfit      *big.Int

	SnapshotVersion uint64
	SnapshotTakenAt time.Time
	ValidUntil      time.Time
}

// PoolIDs lists the pools the plan trades through.
func (p *TradePlan) PoolIDs() []uint64 { return p.Cycle.PoolIDs() }

// Option configures the Validator.
type Option interface {
	apply(*Validator)
}

type funcOption func(*Validator)

func (f funcOption) apply(v *Validator) {
	f(v)
}

// WithClock overrides the time source used for the staleness check.
func WithClock(now func() time.Time) Option {
	return funcOption(func(v *Validator) { v.now = now })
}

type Validator struct {
	capBps          uint64
	stalenessWindow time.Duration
	now             func() time.Time
}

func New(capBps uint64, stalenessWindow time.Duration, opts ...Option) (*Validator, error) {
	if capBps == 0 || capBps > fixedpoint.BasisPoints {
		return nil, fmt.Errorf("validator: capBps %d not in (0, %d]", capBps, fixedpoint.BasisPoints)
	}
	if stalenessWindow <= 0 {
		return nil, errors.New("validator: staleness window must be positive")
	}
	v := &Validator{capBps: capBps, stalenessWindow: stalenessWindow, now: time.Now}
	for _, opt := range opts {
		opt.apply(v)
	}
	return v, nil
}

// Validate re-prices c at amount against snap and applies, in order, the
// amount, profit, liquidity and staleness checks. Failed checks return a
// *Rejection; quoting failures are returned as plain errors.
func (v *Validator) Validate(snap *state.Snapshot, c cycle.Cycle, amount *big.Int, costs CostModel) (*TradePlan, error) {
	reject := func(err error) (*TradePlan, error) {
		return nil, &Rejection{Cycle: c, Amount: amount, Err: err}
	}

	if amount == nil || amount.Sign() <= 0 {
		return reject(ErrInvalidAmount)
	}

	pools := make([]amm.Pool, len(c.Edges))
	for i, e := range c.Edges {
		p, ok := snap.Pool(e.PoolID)
		if !ok {
			return nil, fmt.Errorf("quote %s: hop %d: %w: pool %d is not in the snapshot", c.Key(), i, protocols.ErrInvalidPool, e.PoolID)
		}
		pools[i] = p
	}

	outputs, err := c.Quote(snap, amount)
	if errors.Is(err, protocols.ErrInsufficientLiquidity) {
		return reject(fmt.Errorf("%w: %v", ErrInsufficientLiquidity, err))
	}
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", c.Key(), err)
	}
	final := outputs[len(outputs)-1]

	premium, err := fixedpoint.MulBpsRoundingUp(amount, costs.LoanPremiumBps)
	if err != nil {
		return nil, err
	}
	settlement := orZero(costs.SettlementCost)
	required := new(big.Int).Add(amount, premium)
	required.Add(required, settlement)
	required.Add(required, orZero(costs.MinProfit))
	if final.Cmp(required) < 0 {
		gross := new(big.Int).Sub(final, amount)
		return reject(fmt.Errorf("%w: gross %s, required margin %s", ErrUnprofitable, gross, new(big.Int).Sub(required, amount)))
	}

	hops := make([]Hop, len(c.Edges))
	in := amount
	for i, e := range c.Edges {
		p := pools[i]
		reserveIn, _, err := amm.Reserves(p, e.TokenIn)
		if err != nil {
			return nil, err
		}
		limit, err := fixedpoint.MulBps(reserveIn, v.capBps)
		if err != nil {
			return nil, err
		}
		if in.Cmp(limit) > 0 {
			return reject(fmt.Errorf("%w: hop %d (pool %d) takes %s of reserve %s, cap %s", ErrInsufficientLiquidity, i, e.PoolID, in, reserveIn, limit))
		}
		impact, err := amm.PriceImpact(p, in, e.TokenIn)
		if err != nil {
			return nil, err
		}
		hops[i] = Hop{
			PoolID:      e.PoolID,
			TokenIn:     e.TokenIn,
			TokenOut:    e.TokenOut,
			AmountIn:    new(big.Int).Set(in),
			AmountOut:   outputs[i],
			PriceImpact: impact,
		}
		in = outputs[i]
	}

	if age := snap.Age(v.now()); age > v.stalenessWindow {
		return reject(fmt.Errorf("%w: age %s, window %s", ErrStaleState, age, v.stalenessWindow))
	}

	repayment := new(big.Int).Add(amount, premium)
	net := new(big.Int).Sub(final, repayment)
	net.Sub(net, settlement)
	return &TradePlan{
		Cycle:           c,
		StartToken:      c.StartToken,
		AmountIn:        new(big.Int).Set(amount),
		Hops:            hops,
		FinalOutput:     final,
		LoanPremium:     premium,
		Repayment:       repayment,
		SettlementCost:  settlement,
		NetProfit:       net,
		SnapshotVersion: snap.Version,
		SnapshotTakenAt: snap.TakenAt,
		ValidUntil:      snap.TakenAt.Add(v.stalenessWindow),
	}, nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
