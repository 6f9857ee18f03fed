package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a decimal string in whole token units ("0.01") to
// base units for a token with the given decimals. Digits beyond the token's
// precision are truncated.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToUnits(d, decimals)
}

func ToUnits(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", d)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FormatUnits renders base units as a whole-unit decimal string.
func FormatUnits(x *big.Int, decimals uint8) string {
	if x == nil {
		return "<nil>"
	}
	return decimal.NewFromBigInt(x, -int32(decimals)).String()
}
