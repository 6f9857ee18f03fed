// Package amm is the single entry point the engine uses to quote any pool.
// A Pool is a tagged variant over the supported curve types and every
// operation dispatches on its Kind.
package amm

import (
	"fmt"

	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/protocols/concentrated"
	"github.com/defistate/arbitrage-engine/protocols/constantproduct"
	"github.com/defistate/arbitrage-engine/protocols/stableswap"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindConstantProduct
	KindConcentratedLiquidity
	KindStableSwap
)

var kindNames = map[Kind]string{
	KindConstantProduct:       "constant_product",
	KindConcentratedLiquidity: "concentrated_liquidity",
	KindStableSwap:            "stable_swap",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: unknown pool kind %d", protocols.ErrInvalidPool, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: unknown pool kind %q", protocols.ErrInvalidPool, text)
}

// Pool carries exactly one populated payload, selected by Kind.
type Pool struct {
	Kind                  Kind                  `json:"kind"`
	ConstantProduct       *constantproduct.Pool `json:"constantProduct,omitempty"`
	ConcentratedLiquidity *concentrated.Pool    `json:"concentratedLiquidity,omitempty"`
	StableSwap            *stableswap.Pool      `json:"stableSwap,omitempty"`
}

func NewConstantProduct(p *constantproduct.Pool) Pool {
	return Pool{Kind: KindConstantProduct, ConstantProduct: p}
}

func NewConcentratedLiquidity(p *concentrated.Pool) Pool {
	return Pool{Kind: KindConcentratedLiquidity, ConcentratedLiquidity: p}
}

func NewStableSwap(p *stableswap.Pool) Pool {
	return Pool{Kind: KindStableSwap, StableSwap: p}
}

func (p Pool) errUnknownKind() error {
	return fmt.Errorf("%w: unsupported pool kind %s", protocols.ErrInvalidPool, p.Kind)
}

// header returns the identity fields common to every payload.
func (p Pool) header() (id, token0, token1 uint64, feeBps uint16, ok bool) {
	switch p.Kind {
	case KindConstantProduct:
		if q := p.ConstantProduct; q != nil {
			return q.ID, q.Token0, q.Token1, q.FeeBps, true
		}
	case KindConcentratedLiquidity:
		if q := p.ConcentratedLiquidity; q != nil {
			return q.ID, q.Token0, q.Token1, q.FeeBps, true
		}
	case KindStableSwap:
		if q := p.StableSwap; q != nil {
			return q.ID, q.Token0, q.Token1, q.FeeBps, true
		}
	}
	return 0, 0, 0, 0, false
}

// IsZero reports whether p lacks the payload its Kind calls for.
func (p Pool) IsZero() bool {
	_, _, _, _, ok := p.header()
	return !ok
}

func (p Pool) ID() uint64 {
	id, _, _, _, _ := p.header()
	return id
}

func (p Pool) Tokens() (token0, token1 uint64) {
	_, token0, token1, _, _ = p.header()
	return token0, token1
}

func (p Pool) FeeBps() uint16 {
	_, _, _, fee, _ := p.header()
	return fee
}

// Other returns the counterpart of tokenIn.
func (p Pool) Other(tokenIn uint64) (uint64, error) {
	id, token0, token1, _, ok := p.header()
	if !ok {
		return 0, p.errUnknownKind()
	}
	switch tokenIn {
	case token0:
		return token1, nil
	case token1:
		return token0, nil
	}
	return 0, fmt.Errorf("%w: token %d is not in pool %d", protocols.ErrTokenMismatch, tokenIn, id)
}

// Clone returns a deep copy.
func (p Pool) Clone() Pool {
	c := Pool{Kind: p.Kind}
	switch p.Kind {
	case KindConstantProduct:
		if p.ConstantProduct != nil {
			c.ConstantProduct = p.ConstantProduct.Clone()
		}
	case KindConcentratedLiquidity:
		if p.ConcentratedLiquidity != nil {
			c.ConcentratedLiquidity = p.ConcentratedLiquidity.Clone()
		}
	case KindStableSwap:
		if p.StableSwap != nil {
			c.StableSwap = p.StableSwap.Clone()
		}
	}
	return c
}

// Validate reports ErrInvalidPool for pools that cannot be quoted in either direction.
func (p Pool) Validate() error {
	if _, _, _, _, ok := p.header(); !ok {
		return fmt.Errorf("%w: kind %s without a matching payload", protocols.ErrInvalidPool, p.Kind)
	}
	switch p.Kind {
	case KindConstantProduct:
		return p.ConstantProduct.Validate()
	case KindConcentratedLiquidity:
		return p.ConcentratedLiquidity.Validate()
	case KindStableSwap:
		return p.StableSwap.Validate()
	}
	return p.errUnknownKind()
}
