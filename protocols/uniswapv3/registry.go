// Package uniswapv3 holds the Uniswap V3 pool view published by the state
// stream and its conversion into the engine's single-range pool model.
package uniswapv3

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/protocols/concentrated"
	"github.com/defistate/arbitrage-engine/protocols/uniswapv3/tickmath"
)

// Schema is the decode contract for a list of Pool views.
const Schema = "defistate/uniswap-v3/Pool@v1"

// feeUnitsPerBps converts the pool fee from hundredths of a basis point.
const feeUnitsPerBps = 100

// PoolViewMinimal is one pool's dynamic state.
type PoolViewMinimal struct {
	ID           uint64   `json:"id"`
	Token0       uint64   `json:"token0"`
	Token1       uint64   `json:"token1"`
	Fee          uint64   `json:"fee"` // hundredths of a bip, i.e 3000 for 0.3%
	TickSpacing  uint64   `json:"tickSpacing"`
	Tick         int64    `json:"tick"`
	Liquidity    *big.Int `json:"liquidity"`
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`
}

// TickInfo is an initialized tick. Presence in Pool.Ticks implies initialization.
type TickInfo struct {
	Index          int64    `json:"index"`
	LiquidityGross *big.Int `json:"liquidityGross"`
	LiquidityNet   *big.Int `json:"liquidityNet"`
}

type Pool struct {
	PoolViewMinimal `json:",inline"`
	Ticks           []TickInfo `json:"ticks"`
}

// Diff is the per-block change set for the Uniswap V3 view.
type Diff struct {
	Additions []Pool   `json:"additions,omitempty"`
	Updates   []Pool   `json:"updates,omitempty"`
	Deletions []uint64 `json:"deletions,omitempty"`
}

func (d Diff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// FeeBps rounds the fee up to whole basis points.
func (p *Pool) FeeBps() (uint16, error) {
	bps := (p.Fee + feeUnitsPerBps - 1) / feeUnitsPerBps
	if bps >= 10_000 {
		return 0, fmt.Errorf("%w: pool %d fee %d", protocols.ErrInvalidPool, p.ID, p.Fee)
	}
	return uint16(bps), nil
}

// ActiveRange returns the ticks of the nearest initialized boundaries around
// the current tick. A missing side is reported as !hasLower or !hasUpper.
func (p *Pool) ActiveRange() (lower, upper int64, hasLower, hasUpper bool) {
	indices := make([]int64, 0, len(p.Ticks))
	for _, t := range p.Ticks {
		indices = append(indices, t.Index)
	}
	slices.Sort(indices)

	// first initialized tick strictly above the current one
	i, found := slices.BinarySearch(indices, p.Tick)
	if found {
		i++
	}
	if i < len(indices) {
		upper, hasUpper = indices[i], true
	}
	// the current tick itself counts as the lower boundary
	if found {
		lower, hasLower = p.Tick, true
	} else if i > 0 {
		lower, hasLower = indices[i-1], true
	}
	return lower, upper, hasLower, hasUpper
}

// ToAMM converts the view to a concentrated pool bounded by its active range.
func (p *Pool) ToAMM() (amm.Pool, error) {
	if p.Liquidity == nil || p.SqrtPriceX96 == nil {
		return amm.Pool{}, fmt.Errorf("%w: pool %d without liquidity or price", protocols.ErrInvalidPool, p.ID)
	}
	fee, err := p.FeeBps()
	if err != nil {
		return amm.Pool{}, err
	}
	out := &concentrated.Pool{
		ID:           p.ID,
		Token0:       p.Token0,
		Token1:       p.Token1,
		FeeBps:       fee,
		Liquidity:    new(big.Int).Set(p.Liquidity),
		SqrtPriceX96: new(big.Int).Set(p.SqrtPriceX96),
	}

	lower, upper, hasLower, hasUpper := p.ActiveRange()
	if hasLower {
		if out.SqrtPriceLowerX96, err = tickmath.SqrtPriceAtTick(lower); err != nil {
			return amm.Pool{}, fmt.Errorf("pool %d lower tick: %w", p.ID, err)
		}
	}
	if hasUpper {
		if out.SqrtPriceUpperX96, err = tickmath.SqrtPriceAtTick(upper); err != nil {
			return amm.Pool{}, fmt.Errorf("pool %d upper tick: %w", p.ID, err)
		}
	}
	return amm.NewConcentratedLiquidity(out), nil
}
