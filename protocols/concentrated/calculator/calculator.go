package concentrated

import (
	"fmt"
	"math"
	"math/big"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
	concentrated "github.com/defistate/arbitrage-engine/protocols/concentrated"
)

var (
	bigBasisPoints = big.NewInt(fixedpoint.BasisPoints)
	one            = big.NewInt(1)
)

// zeroForOne reports the swap direction and rejects tokens outside the pool.
func zeroForOne(tokenIn, tokenOut uint64, pool *concentrated.Pool) (bool, error) {
	if tokenIn == pool.Token0 && tokenOut == pool.Token1 {
		return true, nil
	} else if tokenIn == pool.Token1 && tokenOut == pool.Token0 {
		return false, nil
	}
	return false, fmt.Errorf("%w: pool %d does not contain the pair %d -> %d", protocols.ErrTokenMismatch, pool.ID, tokenIn, tokenOut)
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return protocols.ErrNilAmount
	}
	if amount.Sign() < 0 {
		return protocols.ErrInvalidAmount
	}
	return nil
}

// GetAmountOut quotes a swap inside the active range.
func GetAmountOut(amountIn *big.Int, tokenIn, tokenOut uint64, pool *concentrated.Pool) (*big.Int, error) {
	out, _, err := swap(amountIn, tokenIn, tokenOut, pool)
	return out, err
}

// SimulateSwap returns the output and a copy of the pool at its new price.
func SimulateSwap(amountIn *big.Int, tokenIn, tokenOut uint64, pool *concentrated.Pool) (*big.Int, *concentrated.Pool, error) {
	out, sqrtNext, err := swap(amountIn, tokenIn, tokenOut, pool)
	if err != nil {
		return nil, nil, err
	}
	next := pool.Clone()
	next.SqrtPriceX96 = sqrtNext
	return out, next, nil
}

func swap(amountIn *big.Int, tokenIn, tokenOut uint64, pool *concentrated.Pool) (*big.Int, *big.Int, error) {
	if err := checkAmount(amountIn); err != nil {
		return nil, nil, err
	}
	z, err := zeroForOne(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Validate(); err != nil {
		return nil, nil, err
	}
	net, err := fixedpoint.MulDiv(amountIn, big.NewInt(int64(fixedpoint.BasisPoints-int(pool.FeeBps))), bigBasisPoints)
	if err != nil {
		return nil, nil, err
	}
	sqrtP, liquidity := pool.SqrtPriceX96, pool.Liquidity
	if net.Sign() == 0 {
		return new(big.Int), new(big.Int).Set(sqrtP), nil
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)

	if z {
		// sqrtNext = ceil(L*2^96*sqrtP / (L*2^96 + amount*sqrtP))
		product, err := fixedpoint.Mul(net, sqrtP)
		if err != nil {
			return nil, nil, err
		}
		denominator, err := fixedpoint.Add(numerator1, product)
		if err != nil {
			return nil, nil, err
		}
		sqrtNext, err := fixedpoint.MulDivRoundingUp(numerator1, sqrtP, denominator)
		if err != nil {
			return nil, nil, err
		}
		if lower := pool.SqrtPriceLowerX96; lower != nil && sqrtNext.Cmp(lower) < 0 {
			sqrtNext.Set(lower)
		}
		out, err := fixedpoint.MulDiv(liquidity, new(big.Int).Sub(sqrtP, sqrtNext), concentrated.Q96)
		if err != nil {
			return nil, nil, err
		}
		return out, sqrtNext, nil
	}

	// sqrtNext = sqrtP + amount*2^96/L
	step, err := fixedpoint.MulDiv(net, concentrated.Q96, liquidity)
	if err != nil {
		return nil, nil, err
	}
	sqrtNext, err := fixedpoint.Add(sqrtP, step)
	if err != nil {
		return nil, nil, err
	}
	if upper := pool.SqrtPriceUpperX96; upper != nil && sqrtNext.Cmp(upper) > 0 {
		sqrtNext.Set(upper)
	}
	term, err := fixedpoint.MulDiv(numerator1, new(big.Int).Sub(sqrtNext, sqrtP), sqrtNext)
	if err != nil {
		return nil, nil, err
	}
	return term.Div(term, sqrtP), sqrtNext, nil
}

// GetAmountIn returns the gross input needed for amountOut, rounding against
// the trader. Outputs that would move the price out of the range fail with
// ErrInsufficientLiquidity.
func GetAmountIn(amountOut *big.Int, tokenIn, tokenOut uint64, pool *concentrated.Pool) (*big.Int, error) {
	if err := checkAmount(amountOut); err != nil {
		return nil, err
	}
	z, err := zeroForOne(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	sqrtP, liquidity := pool.SqrtPriceX96, pool.Liquidity
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	insufficient := func() error {
		return fmt.Errorf("%w: pool %d cannot supply %s inside its range", protocols.ErrInsufficientLiquidity, pool.ID, amountOut)
	}

	var net *big.Int
	if z {
		delta, err := fixedpoint.MulDivRoundingUp(amountOut, concentrated.Q96, liquidity)
		if err != nil {
			return nil, err
		}
		if delta.Cmp(sqrtP) >= 0 {
			return nil, insufficient()
		}
		sqrtNext := new(big.Int).Sub(sqrtP, delta)
		if lower := pool.SqrtPriceLowerX96; lower != nil && sqrtNext.Cmp(lower) < 0 {
			return nil, insufficient()
		}
		term, err := fixedpoint.MulDivRoundingUp(numerator1, delta, sqrtNext)
		if err != nil {
			return nil, err
		}
		if net, err = fixedpoint.MulDivRoundingUp(term, one, sqrtP); err != nil {
			return nil, err
		}
	} else {
		product, err := fixedpoint.Mul(amountOut, sqrtP)
		if err != nil {
			return nil, err
		}
		if product.Cmp(numerator1) >= 0 {
			return nil, insufficient()
		}
		sqrtNext, err := fixedpoint.MulDivRoundingUp(numerator1, sqrtP, new(big.Int).Sub(numerator1, product))
		if err != nil {
			return nil, err
		}
		if upper := pool.SqrtPriceUpperX96; upper != nil && sqrtNext.Cmp(upper) > 0 {
			return nil, insufficient()
		}
		if net, err = fixedpoint.MulDivRoundingUp(liquidity, new(big.Int).Sub(sqrtNext, sqrtP), concentrated.Q96); err != nil {
			return nil, err
		}
	}
	return fixedpoint.MulDivRoundingUp(net, bigBasisPoints, big.NewInt(int64(fixedpoint.BasisPoints-int(pool.FeeBps))))
}

// GetReserves returns the virtual reserves of the active range: L/sqrtP for
// token0 and L*sqrtP for token1.
func GetReserves(tokenIn, tokenOut uint64, pool *concentrated.Pool) (reserveIn, reserveOut *big.Int, err error) {
	z, err := zeroForOne(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Validate(); err != nil {
		return nil, nil, err
	}
	x, err := fixedpoint.MulDiv(pool.Liquidity, concentrated.Q96, pool.SqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}
	y, err := fixedpoint.MulDiv(pool.Liquidity, pool.SqrtPriceX96, concentrated.Q96)
	if err != nil {
		return nil, nil, err
	}
	if z {
		return x, y, nil
	}
	return y, x, nil
}

// SpotRate is the marginal tokenOut per tokenIn after fee.
func SpotRate(tokenIn, tokenOut uint64, pool *concentrated.Pool) (float64, error) {
	z, err := zeroForOne(tokenIn, tokenOut, pool)
	if err != nil {
		return 0, err
	}
	if err := pool.Validate(); err != nil {
		return 0, err
	}
	price, _ := new(big.Float).Quo(new(big.Float).SetInt(pool.SqrtPriceX96), new(big.Float).SetInt(concentrated.Q96)).Float64()
	rate := price * price
	if !z {
		rate = 1 / rate
	}
	rate *= float64(fixedpoint.BasisPoints-int(pool.FeeBps)) / fixedpoint.BasisPoints
	if math.IsInf(rate, 0) || math.IsNaN(rate) || rate <= 0 {
		return 0, fmt.Errorf("%w: pool %d rate %v not representable", protocols.ErrInvalidPool, pool.ID, rate)
	}
	return rate, nil
}
