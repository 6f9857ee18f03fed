package constantproduct

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/protocols"
	constantproduct "github.com/defistate/arbitrage-engine/protocols/constantproduct"
)

func newBigIntFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("failed to set string for big.Int")
	}
	return n
}

// usdcWeth is 100 USDC (6 decimals) against 50 WETH (18 decimals).
func usdcWeth(feeBps uint16) *constantproduct.Pool {
	return &constantproduct.Pool{
		ID:       1,
		Token0:   0,
		Token1:   1,
		Reserve0: big.NewInt(100_000_000),
		Reserve1: newBigIntFromString("50000000000000000000"),
		FeeBps:   feeBps,
	}
}

func TestGetAmountOut(t *testing.T) {
	testCases := []struct {
		name           string
		amountIn       *big.Int
		tokenIn        uint64
		tokenOut       uint64
		pool           *constantproduct.Pool
		expectedAmount *big.Int
		expectedErr    error
	}{
		{
			name:           "token0 to token1",
			amountIn:       big.NewInt(1_000_000),
			tokenIn:        0,
			tokenOut:       1,
			pool:           usdcWeth(30),
			expectedAmount: newBigIntFromString("493579017198530649"),
		},
		{
			name:           "token1 to token0",
			amountIn:       newBigIntFromString("1000000000000000000"),
			tokenIn:        1,
			tokenOut:       0,
			pool:           usdcWeth(30),
			expectedAmount: big.NewInt(1955016),
		},
		{
			name:           "one percent fee",
			amountIn:       big.NewInt(1_000_000),
			tokenIn:        0,
			tokenOut:       1,
			pool:           usdcWeth(100),
			expectedAmount: newBigIntFromString("490147539360332706"),
		},
		{
			name:           "zero input",
			amountIn:       big.NewInt(0),
			tokenIn:        0,
			tokenOut:       1,
			pool:           usdcWeth(30),
			expectedAmount: big.NewInt(0),
		},
		{
			name:     "zero reserve is an invalid pool",
			amountIn: big.NewInt(1),
			tokenIn:  0,
			tokenOut: 1,
			pool: &constantproduct.Pool{
				ID: 2, Token0: 0, Token1: 1, Reserve0: big.NewInt(0), Reserve1: big.NewInt(10),
			},
			expectedErr: protocols.ErrInvalidPool,
		},
		{
			name:        "nil amount",
			tokenIn:     0,
			tokenOut:    1,
			pool:        usdcWeth(30),
			expectedErr: protocols.ErrNilAmount,
		},
		{
			name:        "negative amount",
			amountIn:    big.NewInt(-1),
			tokenIn:     0,
			tokenOut:    1,
			pool:        usdcWeth(30),
			expectedErr: protocols.ErrInvalidAmount,
		},
		{
			name:        "token not in pool",
			amountIn:    big.NewInt(1),
			tokenIn:     0,
			tokenOut:    7,
			pool:        usdcWeth(30),
			expectedErr: protocols.ErrTokenMismatch,
		},
		{
			name:     "wide operand overflows instead of wrapping",
			amountIn: new(big.Int).Lsh(big.NewInt(1), 250),
			tokenIn:  0,
			tokenOut: 1,
			pool: &constantproduct.Pool{
				ID: 3, Token0: 0, Token1: 1, Reserve0: big.NewInt(10), Reserve1: big.NewInt(10), FeeBps: 30,
			},
			expectedErr: fixedpoint.ErrOverflow,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := GetAmountOut(tc.amountIn, tc.tokenIn, tc.tokenOut, tc.pool)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, tc.expectedAmount.Cmp(got), "expected %s, got %s", tc.expectedAmount, got)
		})
	}
}

func TestGetAmountIn(t *testing.T) {
	testCases := []struct {
		name           string
		amountOut      *big.Int
		tokenIn        uint64
		tokenOut       uint64
		expectedAmount *big.Int
		expectedErr    error
	}{
		{
			name:           "inverse of token0 quote",
			amountOut:      newBigIntFromString("493579017198530649"),
			tokenIn:        0,
			tokenOut:       1,
			expectedAmount: big.NewInt(1_000_000),
		},
		{
			name:           "inverse of token1 quote",
			amountOut:      big.NewInt(1955016),
			tokenIn:        1,
			tokenOut:       0,
			expectedAmount: newBigIntFromString("999999498234537320"),
		},
		{
			name:        "output equal to reserve",
			amountOut:   big.NewInt(100_000_000),
			tokenIn:     1,
			tokenOut:    0,
			expectedErr: protocols.ErrInsufficientLiquidity,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := GetAmountIn(tc.amountOut, tc.tokenIn, tc.tokenOut, usdcWeth(30))
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, tc.expectedAmount.Cmp(got), "expected %s, got %s", tc.expectedAmount, got)
		})
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := &constantproduct.Pool{
		ID:       9,
		Token0:   0,
		Token1:   1,
		Reserve0: newBigIntFromString("1000000000000000000000000"),
		Reserve1: newBigIntFromString("2000000000000000000000000"),
		FeeBps:   30,
	}

	for i := 0; i < 200; i++ {
		x := new(big.Int).Rand(rng, pool.Reserve0)
		x.Add(x, big.NewInt(1))

		out, err := GetAmountOut(x, 0, 1, pool)
		require.NoError(t, err)
		if out.Sign() == 0 {
			continue
		}
		back, err := GetAmountIn(out, 0, 1, pool)
		require.NoError(t, err)

		// the inverse never asks for more than one unit beyond the original input
		limit := new(big.Int).Add(x, big.NewInt(1))
		assert.LessOrEqual(t, back.Cmp(limit), 0, "x=%s back=%s", x, back)

		// and the amount it asks for still yields the quoted output
		again, err := GetAmountOut(back, 0, 1, pool)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, again.Cmp(out), 0, "x=%s back=%s", x, back)
	}
}

func TestSimulateSwap_StateIsolation(t *testing.T) {
	pool := usdcWeth(30)
	amountIn := big.NewInt(1_000_000)

	out, next, err := SimulateSwap(amountIn, 0, 1, pool)
	require.NoError(t, err)

	assert.Equal(t, "493579017198530649", out.String())
	assert.Equal(t, "101000000", next.Reserve0.String())
	assert.Equal(t, new(big.Int).Sub(newBigIntFromString("50000000000000000000"), out).String(), next.Reserve1.String())

	// the source pool is untouched
	assert.Equal(t, "100000000", pool.Reserve0.String())
	assert.Equal(t, "50000000000000000000", pool.Reserve1.String())

	again, _, err := SimulateSwap(amountIn, 0, 1, pool)
	require.NoError(t, err)
	assert.Zero(t, out.Cmp(again))
}

func TestSpotRate(t *testing.T) {
	pool := &constantproduct.Pool{
		ID: 1, Token0: 0, Token1: 1, Reserve0: big.NewInt(1000), Reserve1: big.NewInt(2000), FeeBps: 0,
	}
	rate, err := SpotRate(0, 1, pool)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rate, 1e-12)

	pool.FeeBps = 30
	rate, err = SpotRate(1, 0, pool)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.997, rate, 1e-12)

	pool.Reserve1 = big.NewInt(0)
	_, err = SpotRate(0, 1, pool)
	assert.ErrorIs(t, err, protocols.ErrInvalidPool)
}
