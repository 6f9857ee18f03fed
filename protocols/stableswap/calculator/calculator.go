package stableswap

import (
	"fmt"
	"math"
	"math/big"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
	stableswap "github.com/defistate/arbitrage-engine/protocols/stableswap"
)

const (
	nCoins = 2
	// Iterations bounds the Newton loops for D and y.
	Iterations = 255
	maxBits    = 256
)

var (
	bigNCoins      = big.NewInt(nCoins)
	bigBasisPoints = big.NewInt(fixedpoint.BasisPoints)
	one            = big.NewInt(1)
)

// GetReserves orients the pool's reserves for a tokenIn -> tokenOut swap.
func GetReserves(tokenIn, tokenOut uint64, pool *stableswap.Pool) (reserveIn, reserveOut *big.Int, err error) {
	if tokenIn == pool.Token0 && tokenOut == pool.Token1 {
		return pool.Reserve0, pool.Reserve1, nil
	} else if tokenIn == pool.Token1 && tokenOut == pool.Token0 {
		return pool.Reserve1, pool.Reserve0, nil
	}
	return nil, nil, fmt.Errorf("%w: pool %d does not contain the pair %d -> %d", protocols.ErrTokenMismatch, pool.ID, tokenIn, tokenOut)
}

func prepare(amount *big.Int, tokenIn, tokenOut uint64, pool *stableswap.Pool) (reserveIn, reserveOut, d *big.Int, err error) {
	if amount == nil {
		return nil, nil, nil, protocols.ErrNilAmount
	}
	if amount.Sign() < 0 {
		return nil, nil, nil, protocols.ErrInvalidAmount
	}
	if reserveIn, reserveOut, err = GetReserves(tokenIn, tokenOut, pool); err != nil {
		return nil, nil, nil, err
	}
	if err = pool.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if d, err = computeD(pool.Amp, reserveIn, reserveOut); err != nil {
		return nil, nil, nil, fmt.Errorf("pool %d: %w", pool.ID, err)
	}
	return reserveIn, reserveOut, d, nil
}

// GetAmountOut quotes a swap with the fee taken from the output.
func GetAmountOut(amountIn *big.Int, tokenIn, tokenOut uint64, pool *stableswap.Pool) (*big.Int, error) {
	reserveIn, reserveOut, d, err := prepare(amountIn, tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}
	if amountIn.Sign() == 0 {
		return new(big.Int), nil
	}
	y, err := computeY(pool.Amp, new(big.Int).Add(reserveIn, amountIn), d)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", pool.ID, err)
	}
	// one unit is kept back for rounding in y
	dy := new(big.Int).Sub(reserveOut, y)
	dy.Sub(dy, one)
	if dy.Sign() <= 0 {
		return new(big.Int), nil
	}
	return fixedpoint.MulDiv(dy, big.NewInt(int64(fixedpoint.BasisPoints-int(pool.FeeBps))), bigBasisPoints)
}

// GetAmountIn inverts GetAmountOut by solving the invariant for the input side.
func GetAmountIn(amountOut *big.Int, tokenIn, tokenOut uint64, pool *stableswap.Pool) (*big.Int, error) {
	reserveIn, reserveOut, d, err := prepare(amountOut, tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}
	if amountOut.Sign() == 0 {
		return new(big.Int), nil
	}
	dy, err := fixedpoint.MulDivRoundingUp(amountOut, bigBasisPoints, big.NewInt(int64(fixedpoint.BasisPoints-int(pool.FeeBps))))
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(reserveOut, dy)
	remaining.Sub(remaining, one)
	if remaining.Sign() <= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) exhausts reserveOut (%s)", protocols.ErrInsufficientLiquidity, amountOut, reserveOut)
	}
	x, err := computeY(pool.Amp, remaining, d)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", pool.ID, err)
	}
	amountIn := x.Sub(x, reserveIn)
	amountIn.Add(amountIn, one)
	if amountIn.Sign() <= 0 {
		amountIn.SetInt64(1)
	}
	return amountIn, nil
}

func SimulateSwap(amountIn *big.Int, tokenIn, tokenOut uint64, pool *stableswap.Pool) (*big.Int, *stableswap.Pool, error) {
	amountOut, err := GetAmountOut(amountIn, tokenIn, tokenOut, pool)
	if err != nil {
		return nil, nil, err
	}
	next := pool.Clone()
	if tokenIn == pool.Token0 {
		next.Reserve0.Add(next.Reserve0, amountIn)
		next.Reserve1.Sub(next.Reserve1, amountOut)
	} else {
		next.Reserve1.Add(next.Reserve1, amountIn)
		next.Reserve0.Sub(next.Reserve0, amountOut)
	}
	return amountOut, next, nil
}

// SpotRate is the marginal rate -dy/dx of the invariant at the current
// balances, scaled by the fee.
func SpotRate(tokenIn, tokenOut uint64, pool *stableswap.Pool) (float64, error) {
	reserveIn, reserveOut, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return 0, err
	}
	if err := pool.Validate(); err != nil {
		return 0, err
	}
	d, err := computeD(pool.Amp, reserveIn, reserveOut)
	if err != nil {
		return 0, fmt.Errorf("pool %d: %w", pool.ID, err)
	}

	// rate = (4*Ann*x^2*y^2 + D^3*y) / (4*Ann*x^2*y^2 + D^3*x)
	x := new(big.Float).SetInt(reserveIn)
	y := new(big.Float).SetInt(reserveOut)
	d3 := new(big.Float).SetInt(new(big.Int).Exp(d, big.NewInt(3), nil))
	ann := new(big.Float).SetUint64(pool.Amp * nCoins)
	common := new(big.Float).Mul(x, x)
	common.Mul(common, y).Mul(common, y).Mul(common, ann).Mul(common, big.NewFloat(4))
	numerator := new(big.Float).Add(common, new(big.Float).Mul(d3, y))
	denominator := new(big.Float).Add(common, new(big.Float).Mul(d3, x))
	ratio, _ := numerator.Quo(numerator, denominator).Float64()

	rate := ratio * float64(fixedpoint.BasisPoints-int(pool.FeeBps)) / fixedpoint.BasisPoints
	if math.IsInf(rate, 0) || math.IsNaN(rate) || rate <= 0 {
		return 0, fmt.Errorf("%w: pool %d rate %v not representable", protocols.ErrInvalidPool, pool.ID, rate)
	}
	return rate, nil
}

// computeD solves the invariant A*n^n*S + D = A*n^n*D + D^(n+1)/(n^n*P) for D.
func computeD(amp uint64, x0, x1 *big.Int) (*big.Int, error) {
	ann := new(big.Int).Mul(new(big.Int).SetUint64(amp), bigNCoins)
	s := new(big.Int).Add(x0, x1)
	d := new(big.Int).Set(s)
	annMinusOne := new(big.Int).Sub(ann, one)
	nPlusOne := big.NewInt(nCoins + 1)

	dPrev := new(big.Int)
	for i := 0; i < Iterations; i++ {
		dp := new(big.Int).Mul(d, d)
		dp.Div(dp, new(big.Int).Mul(x0, bigNCoins))
		dp.Mul(dp, d)
		dp.Div(dp, new(big.Int).Mul(x1, bigNCoins))

		dPrev.Set(d)
		numerator := new(big.Int).Mul(ann, s)
		numerator.Add(numerator, new(big.Int).Mul(dp, bigNCoins))
		numerator.Mul(numerator, d)
		denominator := new(big.Int).Mul(annMinusOne, d)
		denominator.Add(denominator, new(big.Int).Mul(nPlusOne, dp))
		d.Div(numerator, denominator)

		if d.BitLen() > maxBits {
			return nil, fmt.Errorf("%w: invariant D", fixedpoint.ErrOverflow)
		}
		if new(big.Int).Sub(d, dPrev).CmpAbs(one) <= 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: D after %d iterations", protocols.ErrNoConvergence, Iterations)
}

// computeY returns the balance of the other coin given balance x and invariant d.
func computeY(amp uint64, x, d *big.Int) (*big.Int, error) {
	ann := new(big.Int).Mul(new(big.Int).SetUint64(amp), bigNCoins)

	// c = D^3 / (n^2 * x * Ann), b = x + D/Ann
	c := new(big.Int).Mul(d, d)
	c.Div(c, new(big.Int).Mul(x, bigNCoins))
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(ann, bigNCoins))
	b := new(big.Int).Div(d, ann)
	b.Add(b, x)

	y := new(big.Int).Set(d)
	yPrev := new(big.Int)
	for i := 0; i < Iterations; i++ {
		yPrev.Set(y)
		numerator := new(big.Int).Mul(y, y)
		numerator.Add(numerator, c)
		denominator := new(big.Int).Mul(y, bigNCoins)
		denominator.Add(denominator, b)
		denominator.Sub(denominator, d)
		if denominator.Sign() <= 0 {
			return nil, fmt.Errorf("%w: y denominator vanished", protocols.ErrNoConvergence)
		}
		y.Div(numerator, denominator)

		if y.BitLen() > maxBits {
			return nil, fmt.Errorf("%w: balance y", fixedpoint.ErrOverflow)
		}
		if new(big.Int).Sub(y, yPrev).CmpAbs(one) <= 0 {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: y after %d iterations", protocols.ErrNoConvergence, Iterations)
}
