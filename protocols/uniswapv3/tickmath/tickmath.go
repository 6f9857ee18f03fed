// Package tickmath converts between Uniswap V3 ticks and UQ64.96 square-root
// prices, bit-exact with the on-chain TickMath library.
package tickmath

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	MinTick int64 = -887272
	MaxTick int64 = 887272
)

var (
	// MinSqrtPrice is SqrtPriceAtTick(MinTick).
	MinSqrtPrice = mustDecimal("4295128739")
	// MaxSqrtPrice is SqrtPriceAtTick(MaxTick).
	MaxSqrtPrice = mustDecimal("1461446703485210103287273052203988822378723970342")

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
)

var (
	one        = uint256.NewInt(1)
	maxUint256 = new(uint256.Int).SetAllOne()
	roundMask  = uint256.NewInt(0xffffffff)

	// unity is 1 in UQ128.128; oddTick is 1/sqrt(1.0001).
	unity   = mustHex("100000000000000000000000000000000")
	oddTick = mustHex("fffcb933bd6fad37aa2d162d1a594001")

	// ratios[i] is 1/sqrt(1.0001^(2^(i+1))) in UQ128.128.
	ratios = [19]*uint256.Int{
		mustHex("fff97272373d413259a46990580e213a"),
		mustHex("fff2e50f5f656932ef12357cf3c7fdcc"),
		mustHex("ffe5caca7e10e4e61c3624eaa0941cd0"),
		mustHex("ffcb9843d60f6159c9db58835c926644"),
		mustHex("ff973b41fa98c081472e6896dfb254c0"),
		mustHex("ff2ea16466c96a3843ec78b326b52861"),
		mustHex("fe5dee046a99a2a811c461f1969c3053"),
		mustHex("fcbe86c7900a88aedcffc83b479aa3a4"),
		mustHex("f987a7253ac413176f2b074cf7815e54"),
		mustHex("f3392b0822b70005940c7a398e4b70f3"),
		mustHex("e7159475a2c29b7443b29c7fa6e889d9"),
		mustHex("d097f3bdfd2022b8845ad8f792aa5825"),
		mustHex("a9f746462d870fdf8a65dc1f90e061e5"),
		mustHex("70d869a156d2a1b890bb3df62baf32f7"),
		mustHex("31be135f97d08fd981231505542fcfa6"),
		mustHex("9aa508b5b7a84e1c677de54f3e99bc9"),
		mustHex("5d6af8dedb81196699c329225ee604"),
		mustHex("2216e584f5fa1ea926041bedfe98"),
		mustHex("48a170391f7dc42444e8fa2"),
	}
)

// SqrtPriceAtTick returns sqrt(1.0001^tick) * 2^96, rounded up.
func SqrtPriceAtTick(tick int64) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}
	abs := tick
	if abs < 0 {
		abs = -abs
	}

	ratio := new(uint256.Int)
	if abs&1 != 0 {
		ratio.Set(oddTick)
	} else {
		ratio.Set(unity)
	}
	for i, r := range ratios {
		if abs&(1<<(i+1)) != 0 {
			ratio.Mul(ratio, r).Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// UQ128.128 to UQ64.96, rounding up
	rem := new(uint256.Int).And(ratio, roundMask)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.Add(ratio, one)
	}
	return ratio.ToBig(), nil
}

// TickAtSqrtPrice returns the greatest tick whose square-root price does not
// exceed sqrtPriceX96.
func TickAtSqrtPrice(sqrtPriceX96 *big.Int) (int64, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtPrice) < 0 || sqrtPriceX96.Cmp(MaxSqrtPrice) >= 0 {
		return 0, fmt.Errorf("%w: %v", ErrSqrtPriceOutOfBounds, sqrtPriceX96)
	}
	lo, hi := MinTick, MaxTick
	tick := MinTick
	for lo <= hi {
		mid := lo + (hi-lo)/2
		price, err := SqrtPriceAtTick(mid)
		if err != nil {
			return 0, err
		}
		if price.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return tick, nil
}

func mustHex(s string) *uint256.Int {
	return uint256.MustFromHex("0x" + s)
}

func mustDecimal(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("tickmath: bad constant " + s)
	}
	return n
}
