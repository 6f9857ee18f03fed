// Package constantproduct models x*y=k pools.
package constantproduct

import (
	"fmt"
	"math/big"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
)

type Pool struct {
	ID       uint64   `json:"id"`
	Token0   uint64   `json:"token0"`
	Token1   uint64   `json:"token1"`
	Reserve0 *big.Int `json:"reserve0"`
	Reserve1 *big.Int `json:"reserve1"`
	FeeBps   uint16   `json:"feeBps"` // i.e 30 for 0.3%
}

// Clone returns a copy that shares no memory with p.
func (p *Pool) Clone() *Pool {
	c := *p
	if p.Reserve0 != nil {
		c.Reserve0 = new(big.Int).Set(p.Reserve0)
	}
	if p.Reserve1 != nil {
		c.Reserve1 = new(big.Int).Set(p.Reserve1)
	}
	return &c
}

func (p *Pool) Validate() error {
	if p.Token0 == p.Token1 {
		return fmt.Errorf("%w: pool %d trades token %d against itself", protocols.ErrInvalidPool, p.ID, p.Token0)
	}
	if p.Reserve0 == nil || p.Reserve1 == nil || p.Reserve0.Sign() <= 0 || p.Reserve1.Sign() <= 0 {
		return fmt.Errorf("%w: pool %d has empty reserves", protocols.ErrInvalidPool, p.ID)
	}
	if p.FeeBps >= fixedpoint.BasisPoints {
		return fmt.Errorf("%w: pool %d fee %d bps", protocols.ErrInvalidPool, p.ID, p.FeeBps)
	}
	return nil
}
