package graph

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/protocols/constantproduct"
)

func cp(id, t0, t1 uint64, r0, r1 int64, fee uint16) amm.Pool {
	return amm.NewConstantProduct(&constantproduct.Pool{
		ID: id, Token0: t0, Token1: t1, Reserve0: big.NewInt(r0), Reserve1: big.NewInt(r1), FeeBps: fee,
	})
}

func TestBuild(t *testing.T) {
	pools := []amm.Pool{
		cp(1, 10, 20, 1_000, 2_000, 0),
		cp(2, 10, 20, 1_000, 1_000, 30), // parallel venue for the same pair
		cp(3, 20, 30, 0, 1_000, 30),     // empty side
		{Kind: amm.Kind(99)},
	}

	g := Build(pools)

	t.Run("two edges per quotable pool", func(t *testing.T) {
		assert.Equal(t, 4, g.NumEdges())
		assert.Equal(t, 2, g.NumTokens(), "token 30 only appears in a skipped pool")
	})

	t.Run("weights are negative log rates", func(t *testing.T) {
		v10, ok := g.Index(10)
		require.True(t, ok)
		var seen int
		for _, ei := range g.Out(v10) {
			e := g.Edge(ei)
			assert.Equal(t, uint64(10), e.TokenIn)
			assert.Equal(t, uint64(20), e.TokenOut)
			switch e.PoolID {
			case 1:
				assert.InDelta(t, -math.Log(2), e.Weight, 1e-12)
				assert.Equal(t, 0, e.PoolIndex)
			case 2:
				assert.InDelta(t, -math.Log(0.997), e.Weight, 1e-12)
				assert.Equal(t, 1, e.PoolIndex)
			}
			seen++
		}
		assert.Equal(t, 2, seen)
	})

	t.Run("skipped pools carry a classified error", func(t *testing.T) {
		skipped := g.Skipped()
		require.Len(t, skipped, 2)
		assert.Equal(t, uint64(3), skipped[0].PoolID)
		for _, s := range skipped {
			assert.ErrorIs(t, s.Err, protocols.ErrInvalidPool)
		}
	})

	t.Run("vertices map back to tokens", func(t *testing.T) {
		for v, token := range g.Tokens() {
			idx, ok := g.Index(token)
			require.True(t, ok)
			assert.Equal(t, v, idx)
			assert.Equal(t, token, g.Token(v))
		}
		_, ok := g.Index(30)
		assert.False(t, ok)
	})
}

func TestBuild_Empty(t *testing.T) {
	g := Build(nil)
	assert.Zero(t, g.NumTokens())
	assert.Zero(t, g.NumEdges())
	assert.Empty(t, g.Skipped())
}
