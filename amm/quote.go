package amm

import (
	"fmt"
	"math/big"

	"github.com/defistate/arbitrage-engine/protocols"
	clcalculator "github.com/defistate/arbitrage-engine/protocols/concentrated/calculator"
	cpcalculator "github.com/defistate/arbitrage-engine/protocols/constantproduct/calculator"
	sscalculator "github.com/defistate/arbitrage-engine/protocols/stableswap/calculator"
)

// QuoteOutput returns the amount of the counterpart token received for amountIn of tokenIn.
func QuoteOutput(p Pool, amountIn *big.Int, tokenIn uint64) (*big.Int, error) {
	tokenOut, err := p.Other(tokenIn)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case KindConstantProduct:
		return cpcalculator.GetAmountOut(amountIn, tokenIn, tokenOut, p.ConstantProduct)
	case KindConcentratedLiquidity:
		return clcalculator.GetAmountOut(amountIn, tokenIn, tokenOut, p.ConcentratedLiquidity)
	case KindStableSwap:
		return sscalculator.GetAmountOut(amountIn, tokenIn, tokenOut, p.StableSwap)
	}
	return nil, p.errUnknownKind()
}

// QuoteInput returns the amount of tokenIn required to receive amountOut of the counterpart.
func QuoteInput(p Pool, amountOut *big.Int, tokenIn uint64) (*big.Int, error) {
	tokenOut, err := p.Other(tokenIn)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case KindConstantProduct:
		return cpcalculator.GetAmountIn(amountOut, tokenIn, tokenOut, p.ConstantProduct)
	case KindConcentratedLiquidity:
		return clcalculator.GetAmountIn(amountOut, tokenIn, tokenOut, p.ConcentratedLiquidity)
	case KindStableSwap:
		return sscalculator.GetAmountIn(amountOut, tokenIn, tokenOut, p.StableSwap)
	}
	return nil, p.errUnknownKind()
}

// Simulate quotes a swap and returns the pool state after it. p is not modified.
func Simulate(p Pool, amountIn *big.Int, tokenIn uint64) (*big.Int, Pool, error) {
	tokenOut, err := p.Other(tokenIn)
	if err != nil {
		return nil, Pool{}, err
	}
	switch p.Kind {
	case KindConstantProduct:
		out, next, err := cpcalculator.SimulateSwap(amountIn, tokenIn, tokenOut, p.ConstantProduct)
		if err != nil {
			return nil, Pool{}, err
		}
		return out, NewConstantProduct(next), nil
	case KindConcentratedLiquidity:
		out, next, err := clcalculator.SimulateSwap(amountIn, tokenIn, tokenOut, p.ConcentratedLiquidity)
		if err != nil {
			return nil, Pool{}, err
		}
		return out, NewConcentratedLiquidity(next), nil
	case KindStableSwap:
		out, next, err := sscalculator.SimulateSwap(amountIn, tokenIn, tokenOut, p.StableSwap)
		if err != nil {
			return nil, Pool{}, err
		}
		return out, NewStableSwap(next), nil
	}
	return nil, Pool{}, p.errUnknownKind()
}

// Reserves returns the input-side and output-side depth for a swap from
// tokenIn. Concentrated pools report the virtual reserves of their active range.
func Reserves(p Pool, tokenIn uint64) (reserveIn, reserveOut *big.Int, err error) {
	tokenOut, err := p.Other(tokenIn)
	if err != nil {
		return nil, nil, err
	}
	switch p.Kind {
	case KindConstantProduct:
		if err := p.ConstantProduct.Validate(); err != nil {
			return nil, nil, err
		}
		return cpcalculator.GetReserves(tokenIn, tokenOut, p.ConstantProduct)
	case KindConcentratedLiquidity:
		return clcalculator.GetReserves(tokenIn, tokenOut, p.ConcentratedLiquidity)
	case KindStableSwap:
		if err := p.StableSwap.Validate(); err != nil {
			return nil, nil, err
		}
		return sscalculator.GetReserves(tokenIn, tokenOut, p.StableSwap)
	}
	return nil, nil, p.errUnknownKind()
}

// EffectiveRate is the marginal exchange rate from tokenIn after fee, in base
// units. It is a float and must only be used for ranking.
func EffectiveRate(p Pool, tokenIn uint64) (float64, error) {
	tokenOut, err := p.Other(tokenIn)
	if err != nil {
		return 0, err
	}
	switch p.Kind {
	case KindConstantProduct:
		return cpcalculator.SpotRate(tokenIn, tokenOut, p.ConstantProduct)
	case KindConcentratedLiquidity:
		return clcalculator.SpotRate(tokenIn, tokenOut, p.ConcentratedLiquidity)
	case KindStableSwap:
		return sscalculator.SpotRate(tokenIn, tokenOut, p.StableSwap)
	}
	return 0, p.errUnknownKind()
}

// PriceImpact is the relative drop of the marginal rate caused by swapping
// amountIn, in [0, 1]. Diagnostics only.
func PriceImpact(p Pool, amountIn *big.Int, tokenIn uint64) (float64, error) {
	before, err := EffectiveRate(p, tokenIn)
	if err != nil {
		return 0, err
	}
	_, next, err := Simulate(p, amountIn, tokenIn)
	if err != nil {
		return 0, err
	}
	after, err := EffectiveRate(next, tokenIn)
	if err != nil {
		return 0, fmt.Errorf("%w: pool %d drained by %s", protocols.ErrInsufficientLiquidity, p.ID(), amountIn)
	}
	impact := 1 - after/before
	if impact < 0 {
		impact = 0
	}
	return impact, nil
}
