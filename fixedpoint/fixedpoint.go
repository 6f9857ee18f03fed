// Package fixedpoint holds the integer arithmetic shared by the pool
// calculators, the optimizer and the validator. Amounts are raw token base
// units carried as *big.Int; every product and quotient is evaluated in
// checked 256-bit arithmetic so that an overflow surfaces as ErrOverflow
// instead of wrapping.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// BasisPoints is the divisor for fees, premiums, slippage and caps.
const BasisPoints = 10_000

var (
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrNilValue  = errors.New("nil value")
	ErrDivByZero = errors.New("division by zero")
)

var bigBasisPoints = big.NewInt(BasisPoints)

var precomputedScales = func() (s [78]*big.Int) {
	ten := big.NewInt(10)
	s[0] = big.NewInt(1)
	for i := 1; i < len(s); i++ {
		s[i] = new(big.Int).Mul(s[i-1], ten)
	}
	return s
}()

// WAD is 1e18, the scale of an 18-decimal token.
var WAD = Scale(18)

// Scale returns 10^decimals. The returned value must not be mutated.
func Scale(decimals uint8) *big.Int {
	if int(decimals) < len(precomputedScales) {
		return precomputedScales[decimals]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ToUint256 converts a non-negative big integer that fits in 256 bits.
func ToUint256(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return nil, ErrNilValue
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value %s", ErrOverflow, x)
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("%w: %d bits", ErrOverflow, x.BitLen())
	}
	return v, nil
}

func binary(x, y *big.Int, op func(z, a, b *uint256.Int) (*uint256.Int, bool)) (*big.Int, error) {
	a, err := ToUint256(x)
	if err != nil {
		return nil, err
	}
	b, err := ToUint256(y)
	if err != nil {
		return nil, err
	}
	z, overflow := op(new(uint256.Int), a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

func Mul(x, y *big.Int) (*big.Int, error) {
	return binary(x, y, (*uint256.Int).MulOverflow)
}

func Add(x, y *big.Int) (*big.Int, error) {
	return binary(x, y, (*uint256.Int).AddOverflow)
}

// Sub returns x-y and reports ErrOverflow when y > x.
func Sub(x, y *big.Int) (*big.Int, error) {
	return binary(x, y, (*uint256.Int).SubOverflow)
}

// MulDiv returns floor(x*y/d) with a 512-bit intermediate product.
func MulDiv(x, y, d *big.Int) (*big.Int, error) {
	a, b, c, err := operands(x, y, d)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

// MulDivRoundingUp returns ceil(x*y/d).
func MulDivRoundingUp(x, y, d *big.Int) (*big.Int, error) {
	a, b, c, err := operands(x, y, d)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrOverflow
	}
	if !new(uint256.Int).MulMod(a, b, c).IsZero() {
		var carry bool
		if z, carry = z.AddOverflow(z, uint256.NewInt(1)); carry {
			return nil, ErrOverflow
		}
	}
	return z.ToBig(), nil
}

func operands(x, y, d *big.Int) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	a, err := ToUint256(x)
	if err != nil {
		return nil, nil, nil, err
	}
	b, err := ToUint256(y)
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := ToUint256(d)
	if err != nil {
		return nil, nil, nil, err
	}
	if c.IsZero() {
		return nil, nil, nil, ErrDivByZero
	}
	return a, b, c, nil
}

// MulBps returns floor(x*bps/10000).
func MulBps(x *big.Int, bps uint64) (*big.Int, error) {
	return MulDiv(x, new(big.Int).SetUint64(bps), bigBasisPoints)
}

// MulBpsRoundingUp returns ceil(x*bps/10000). Loan premiums round up.
func MulBpsRoundingUp(x *big.Int, bps uint64) (*big.Int, error) {
	return MulDivRoundingUp(x, new(big.Int).SetUint64(bps), bigBasisPoints)
}

// BpsFromFraction converts a fraction in (0, 1] to basis points.
func BpsFromFraction(f float64) (uint64, error) {
	if math.IsNaN(f) || f <= 0 || f > 1 {
		return 0, fmt.Errorf("fraction %v out of range (0, 1]", f)
	}
	bps := uint64(math.Round(f * BasisPoints))
	if bps == 0 {
		bps = 1
	}
	return bps, nil
}

// Sqrt returns floor(sqrt(x)) for arbitrarily large non-negative x.
func Sqrt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(x)
}

// ToFloat is lossy and only meant for log-space weights and diagnostics.
func ToFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
