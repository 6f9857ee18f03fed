// Package stableswap models two-coin StableSwap pools.
package stableswap

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
	// Amp is the amplification coefficient A.
	Amp    uint64 `json:"amp"`
	FeeBps uint16 `json:"feeBps"`
}

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
	switch {
	case p.Token0 == p.Token1:
		return fmt.Errorf("%w: pool %d trades token %d against itself", protocols.ErrInvalidPool, p.ID, p.Token0)
	case p.Reserve0 == nil || p.Reserve1 == nil || p.Reserve0.Sign() <= 0 || p.Reserve1.Sign() <= 0:
		return fmt.Errorf("%w: pool %d has empty reserves", protocols.ErrInvalidPool, p.ID)
	case p.Amp == 0:
		return fmt.Errorf("%w: pool %d has zero amplification", protocols.ErrInvalidPool, p.ID)
	case p.FeeBps >= fixedpoint.BasisPoints:
		return fmt.Errorf("%w: pool %d fee %d bps", protocols.ErrInvalidPool, p.ID, p.FeeBps)
	}
	return nil
}
