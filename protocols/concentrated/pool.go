// Package concentrated models a concentrated-liquidity pool by its active
// range only. Quotes never cross a tick: a swap that would move the price
// past the range bound stops at the bound.
package concentrated

import (
	"fmt"
	"math/big"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
)

// Q96 is the UQ64.96 fixed-point number representing 1.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

type Pool struct {
	ID           uint64   `json:"id"`
	Token0       uint64   `json:"token0"`
	Token1       uint64   `json:"token1"`
	FeeBps       uint16   `json:"feeBps"`
	Liquidity    *big.Int `json:"liquidity"`
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`
	// Optional bounds of the active range. Nil means unbounded on that side.
	SqrtPriceLowerX96 *big.Int `json:"sqrtPriceLowerX96,omitempty"`
	SqrtPriceUpperX96 *big.Int `json:"sqrtPriceUpperX96,omitempty"`
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func (p *Pool) Clone() *Pool {
	c := *p
	c.Liquidity = cloneBig(p.Liquidity)
	c.SqrtPriceX96 = cloneBig(p.SqrtPriceX96)
	c.SqrtPriceLowerX96 = cloneBig(p.SqrtPriceLowerX96)
	c.SqrtPriceUpperX96 = cloneBig(p.SqrtPriceUpperX96)
	return &c
}

func (p *Pool) Validate() error {
	switch {
	case p.Token0 == p.Token1:
		return fmt.Errorf("%w: pool %d trades token %d against itself", protocols.ErrInvalidPool, p.ID, p.Token0)
	case p.Liquidity == nil || p.Liquidity.Sign() <= 0:
		return fmt.Errorf("%w: pool %d has no active liquidity", protocols.ErrInvalidPool, p.ID)
	case p.SqrtPriceX96 == nil || p.SqrtPriceX96.Sign() <= 0:
		return fmt.Errorf("%w: pool %d has no price", protocols.ErrInvalidPool, p.ID)
	case p.FeeBps >= fixedpoint.BasisPoints:
		return fmt.Errorf("%w: pool %d fee %d bps", protocols.ErrInvalidPool, p.ID, p.FeeBps)
	case p.SqrtPriceLowerX96 != nil && p.SqrtPriceLowerX96.Cmp(p.SqrtPriceX96) > 0:
		return fmt.Errorf("%w: pool %d price below its range", protocols.ErrInvalidPool, p.ID)
	case p.SqrtPriceUpperX96 != nil && p.SqrtPriceUpperX96.Cmp(p.SqrtPriceX96) < 0:
		return fmt.Errorf("%w: pool %d price above its range", protocols.ErrInvalidPool, p.ID)
	}
	return nil
}
