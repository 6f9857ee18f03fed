// Package uniswapv2 holds the Uniswap V2 pool view published by the state
// stream and its conversion into a constant-product pool.
package uniswapv2

import (
	"fmt"
	"math/big"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/protocols/constantproduct"
)

// Schema is the decode contract for a list of Pool views.
const Schema = "defistate/uniswap-v2/Pool@v1"

type Pool struct {
	ID       uint64   `json:"id"`
	Token0   uint64   `json:"token0"`
	Token1   uint64   `json:"token1"`
	Reserve0 *big.Int `json:"reserve0"`
	Reserve1 *big.Int `json:"reserve1"`
	// Type is the indexer's pool variant. It does not affect pricing.
	Type   uint8  `json:"type"`
	FeeBps uint16 `json:"feeBps"` // i.e 30 for 0.3%
}

// Diff is the per-block change set for the Uniswap V2 view.
type Diff struct {
	Additions []Pool   `json:"additions,omitempty"`
	Updates   []Pool   `json:"updates,omitempty"`
	Deletions []uint64 `json:"deletions,omitempty"`
}

func (d Diff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// ToAMM returns a constant-product pool holding copies of the reserves.
func (p Pool) ToAMM() (amm.Pool, error) {
	if p.Reserve0 == nil || p.Reserve1 == nil {
		return amm.Pool{}, fmt.Errorf("%w: pool %d without reserves", protocols.ErrInvalidPool, p.ID)
	}
	return amm.NewConstantProduct(&constantproduct.Pool{
		ID:       p.ID,
		Token0:   p.Token0,
		Token1:   p.Token1,
		Reserve0: new(big.Int).Set(p.Reserve0),
		Reserve1: new(big.Int).Set(p.Reserve1),
		FeeBps:   p.FeeBps,
	}), nil
}
