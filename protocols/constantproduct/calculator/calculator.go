package constantproduct

import (
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
	constantproduct "github.com/defistate/arbitrage-engine/protocols/constantproduct"
)

var (
	basisPointDivisor = uint256.NewInt(fixedpoint.BasisPoints)
	one               = uint256.NewInt(1)
)

// Calculator holds reusable 256-bit scratch values for a single quote.
// Instances are NOT safe for concurrent use and are handed out by calculatorPool.
type Calculator struct {
	amount          uint256.Int
	reserveIn       uint256.Int
	reserveOut      uint256.Int
	feeMultiplier   uint256.Int
	amountInWithFee uint256.Int
	denominator     uint256.Int
	numerator       uint256.Int
	result          uint256.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return new(Calculator)
	},
}

// GetAmountOut quotes amountOut = amountIn*(B-fee)*rOut / (rIn*B + amountIn*(B-fee)).
func GetAmountOut(amountIn *big.Int, tokenIn, tokenOut uint64, pool *constantproduct.Pool) (*big.Int, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountOut(amountIn, tokenIn, tokenOut, pool)
}

// GetAmountIn returns the smallest input whose quoted output covers amountOut.
func GetAmountIn(amountOut *big.Int, tokenIn, tokenOut uint64, pool *constantproduct.Pool) (*big.Int, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountIn(amountOut, tokenIn, tokenOut, pool)
}

// SimulateSwap returns the quoted output and the pool as it would be after the swap.
// The input pool is not modified.
func SimulateSwap(amountIn *big.Int, tokenIn, tokenOut uint64, pool *constantproduct.Pool) (*big.Int, *constantproduct.Pool, error) {
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

// GetReserves orients the pool's reserves for a tokenIn -> tokenOut swap.
func GetReserves(tokenIn, tokenOut uint64, pool *constantproduct.Pool) (reserveIn, reserveOut *big.Int, err error) {
	if tokenIn == pool.Token0 && tokenOut == pool.Token1 {
		return pool.Reserve0, pool.Reserve1, nil
	} else if tokenIn == pool.Token1 && tokenOut == pool.Token0 {
		return pool.Reserve1, pool.Reserve0, nil
	}
	return nil, nil, fmt.Errorf("%w: pool %d does not contain the pair %d -> %d", protocols.ErrTokenMismatch, pool.ID, tokenIn, tokenOut)
}

// SpotRate is the marginal tokenOut per tokenIn after fee, in base units.
// It is a float and only meant for ranking.
func SpotRate(tokenIn, tokenOut uint64, pool *constantproduct.Pool) (float64, error) {
	reserveIn, reserveOut, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return 0, err
	}
	if err := pool.Validate(); err != nil {
		return 0, err
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(reserveOut), new(big.Float).SetInt(reserveIn)).Float64()
	rate := ratio * float64(fixedpoint.BasisPoints-int(pool.FeeBps)) / fixedpoint.BasisPoints
	if math.IsInf(rate, 0) || rate <= 0 {
		return 0, fmt.Errorf("%w: pool %d rate %v not representable", protocols.ErrInvalidPool, pool.ID, rate)
	}
	return rate, nil
}

func (c *Calculator) load(amount *big.Int, tokenIn, tokenOut uint64, pool *constantproduct.Pool) error {
	if amount == nil {
		return protocols.ErrNilAmount
	}
	if amount.Sign() < 0 {
		return protocols.ErrInvalidAmount
	}
	reserveIn, reserveOut, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return err
	}
	if err := pool.Validate(); err != nil {
		return err
	}
	if c.amount.SetFromBig(amount) || c.reserveIn.SetFromBig(reserveIn) || c.reserveOut.SetFromBig(reserveOut) {
		return fmt.Errorf("%w: operand exceeds 256 bits in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	c.feeMultiplier.SetUint64(uint64(fixedpoint.BasisPoints - int(pool.FeeBps)))
	return nil
}

func (c *Calculator) getAmountOut(amountIn *big.Int, tokenIn, tokenOut uint64, pool *constantproduct.Pool) (*big.Int, error) {
	if err := c.load(amountIn, tokenIn, tokenOut, pool); err != nil {
		return nil, err
	}

	var overflow, carry bool
	if _, overflow = c.amountInWithFee.MulOverflow(&c.amount, &c.feeMultiplier); overflow {
		return nil, fmt.Errorf("%w: amountIn*fee in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	_, overflow = c.denominator.MulOverflow(&c.reserveIn, basisPointDivisor)
	_, carry = c.denominator.AddOverflow(&c.denominator, &c.amountInWithFee)
	if overflow || carry {
		return nil, fmt.Errorf("%w: denominator in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	// the quotient is below reserveOut, so it cannot overflow
	c.result.MulDivOverflow(&c.amountInWithFee, &c.reserveOut, &c.denominator)
	return c.result.ToBig(), nil
}

func (c *Calculator) getAmountIn(amountOut *big.Int, tokenIn, tokenOut uint64, pool *constantproduct.Pool) (*big.Int, error) {
	if err := c.load(amountOut, tokenIn, tokenOut, pool); err != nil {
		return nil, err
	}
	if !c.amount.Lt(&c.reserveOut) {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", protocols.ErrInsufficientLiquidity, amountOut, c.reserveOut.Dec())
	}

	// amountIn = reserveIn * amountOut * B / ((reserveOut - amountOut) * (B - fee)) + 1
	if _, overflow := c.numerator.MulOverflow(&c.reserveIn, &c.amount); overflow {
		return nil, fmt.Errorf("%w: reserveIn*amountOut in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	c.denominator.Sub(&c.reserveOut, &c.amount)
	if _, overflow := c.denominator.MulOverflow(&c.denominator, &c.feeMultiplier); overflow {
		return nil, fmt.Errorf("%w: denominator in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	if _, overflow := c.result.MulDivOverflow(&c.numerator, basisPointDivisor, &c.denominator); overflow {
		return nil, fmt.Errorf("%w: amountIn in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	if _, overflow := c.result.AddOverflow(&c.result, one); overflow {
		return nil, fmt.Errorf("%w: amountIn in pool %d", fixedpoint.ErrOverflow, pool.ID)
	}
	return c.result.ToBig(), nil
}
