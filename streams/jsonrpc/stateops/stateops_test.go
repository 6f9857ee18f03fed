package stateops

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols/stableswap"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
	uniswapv2 "github.com/defistate/arbitrage-engine/protocols/uniswapv2"
	uniswapv3 "github.com/defistate/arbitrage-engine/protocols/uniswapv3"
	"github.com/defistate/arbitrage-engine/protocols/uniswapv3/tickmath"
)

func newOps(t *testing.T) *StateOps {
	ops, err := NewStateOps(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return ops
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func v2Pool(id uint64, r0, r1 int64) uniswapv2.Pool {
	return uniswapv2.Pool{ID: id, Token0: 1, Token1: 2, Reserve0: big.NewInt(r0), Reserve1: big.NewInt(r1), FeeBps: 30}
}

func v3Pool(t *testing.T, id uint64) uniswapv3.Pool {
	price, err := tickmath.SqrtPriceAtTick(0)
	require.NoError(t, err)
	return uniswapv3.Pool{
		PoolViewMinimal: uniswapv3.PoolViewMinimal{
			ID: id, Token0: 1, Token1: 2, Fee: 500, TickSpacing: 10,
			Liquidity: big.NewInt(1e12), SqrtPriceX96: price,
		},
		Ticks: []uniswapv3.TickInfo{{Index: -10}, {Index: 10}},
	}
}

func TestNewStateOps(t *testing.T) {
	_, err := NewStateOps(nil)
	assert.Error(t, err)

	assert.Equal(t, []ProtocolSchema{
		AMMSchema,
		tokenregistry.Schema,
		uniswapv2.Schema,
		uniswapv3.Schema,
	}, newOps(t).Schemas())
}

func TestDecodeState(t *testing.T) {
	ops := newOps(t)
	stable := amm.NewStableSwap(&stableswap.Pool{
		ID: 30, Token0: 1, Token1: 2, Reserve0: big.NewInt(500), Reserve1: big.NewInt(500), Amp: 100, FeeBps: 4,
	})

	t.Run("every schema", func(t *testing.T) {
		s := &State{
			Block: BlockSummary{Number: big.NewInt(120)},
			Protocols: map[ProtocolID]ProtocolState{
				"tokens": {Schema: tokenregistry.Schema, Data: mustMarshal(t, []tokenregistry.Token{
					{ID: 1, Symbol: "WETH", Decimals: 18},
					{ID: 2, Symbol: "USDC", Decimals: 6},
				})},
				"uniswap-v2": {Schema: uniswapv2.Schema, Data: mustMarshal(t, []uniswapv2.Pool{
					v2Pool(10, 1000, 2000),
					{ID: 11, Token0: 1, Token1: 2}, // no reserves
				})},
				"uniswap-v3": {Schema: uniswapv3.Schema, Data: mustMarshal(t, []uniswapv3.Pool{v3Pool(t, 20)})},
				"curve":      {Schema: AMMSchema, Data: mustMarshal(t, []amm.Pool{stable})},
				"stale":      {Schema: "never/decoded@v1", Error: "behind by 3 blocks"},
			},
		}

		batch, err := ops.DecodeState(s)
		require.NoError(t, err)
		assert.Equal(t, uint64(120), batch.Block)
		assert.Len(t, batch.Tokens, 2)

		ids := make([]uint64, 0, len(batch.Pools))
		for _, p := range batch.Pools {
			ids = append(ids, p.ID())
		}
		assert.ElementsMatch(t, []uint64{10, 20, 30}, ids, "pool 11 is dropped")

		for _, p := range batch.Pools {
			if p.ID() == 20 {
				require.Equal(t, amm.KindConcentratedLiquidity, p.Kind)
				assert.Equal(t, uint16(5), p.FeeBps())
				assert.NotNil(t, p.ConcentratedLiquidity.SqrtPriceLowerX96)
			}
		}
	})

	t.Run("unknown schema", func(t *testing.T) {
		_, err := ops.DecodeState(&State{Protocols: map[ProtocolID]ProtocolState{
			"mystery": {Schema: "mystery@v9", Data: json.RawMessage(`[]`)},
		}})
		assert.ErrorIs(t, err, ErrUnknownSchema)
	})

	t.Run("malformed data", func(t *testing.T) {
		_, err := ops.DecodeState(&State{Protocols: map[ProtocolID]ProtocolState{
			"uniswap-v2": {Schema: uniswapv2.Schema, Data: json.RawMessage(`{"id": "one"}`)},
		}})
		assert.Error(t, err)
	})

	t.Run("malformed amm record", func(t *testing.T) {
		batch, err := ops.DecodeState(&State{Protocols: map[ProtocolID]ProtocolState{
			"curve": {Schema: AMMSchema, Data: json.RawMessage(`[{"kind":"stable_swap"}]`)},
		}})
		require.NoError(t, err)
		assert.Empty(t, batch.Pools)
	})
}

func TestDecodeDiff(t *testing.T) {
	ops := newOps(t)

	d := &StateDiff{
		FromBlock: 120,
		ToBlock:   BlockSummary{Number: big.NewInt(121)},
		Protocols: map[ProtocolID]ProtocolDiff{
			"tokens": {Schema: tokenregistry.Schema, Data: mustMarshal(t, tokenregistry.Diff{
				Additions: []tokenregistry.Token{{ID: 3, Symbol: "DAI", Decimals: 18}},
				Deletions: []uint64{2},
			})},
			"uniswap-v2": {Schema: uniswapv2.Schema, Data: mustMarshal(t, uniswapv2.Diff{
				Updates:   []uniswapv2.Pool{v2Pool(10, 1100, 1900), {ID: 12}},
				Deletions: []uint64{11},
			})},
			"uniswap-v3": {Schema: uniswapv3.Schema, Data: mustMarshal(t, uniswapv3.Diff{
				Additions: []uniswapv3.Pool{v3Pool(t, 21)},
			})},
			"curve": {Schema: AMMSchema, Data: mustMarshal(t, AMMDiff{Deletions: []uint64{30}})},
		},
	}

	u, err := ops.DecodeDiff(d)
	require.NoError(t, err)
	assert.Equal(t, uint64(121), u.Block)
	require.Len(t, u.Tokens, 1)
	assert.Equal(t, "DAI", u.Tokens[0].Symbol)

	ids := make([]uint64, 0, len(u.Upserts))
	for _, p := range u.Upserts {
		ids = append(ids, p.ID())
	}
	assert.ElementsMatch(t, []uint64{10, 21}, ids)
	// the unconvertible update removes the pool instead of leaving it stale
	assert.ElementsMatch(t, []uint64{11, 12, 30}, u.Deletions)

	_, err = ops.DecodeDiff(&StateDiff{Protocols: map[ProtocolID]ProtocolDiff{
		"mystery": {Schema: "mystery@v9"},
	}})
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestBlockNumber(t *testing.T) {
	assert.Zero(t, BlockSummary{}.BlockNumber())
	assert.Equal(t, uint64(7), BlockSummary{Number: big.NewInt(7)}.BlockNumber())
	assert.Zero(t, BlockSummary{Number: big.NewInt(-1)}.BlockNumber())
}
