package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/protocols/constantproduct"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cpPool(id uint64, r0, r1 int64) amm.Pool {
	return amm.NewConstantProduct(&constantproduct.Pool{
		ID: id, Token0: 1, Token1: 2, Reserve0: big.NewInt(r0), Reserve1: big.NewInt(r1), FeeBps: 30,
	})
}

var testTokens = []tokenregistry.Token{
	{ID: 1, Symbol: "WETH", Decimals: 18},
	{ID: 2, Symbol: "USDC", Decimals: 6},
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStore(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("starts empty", func(t *testing.T) {
		s := NewStore()
		snap := s.Current()
		require.NotNil(t, snap)
		assert.Zero(t, snap.Version)
		assert.Empty(t, snap.Pools())
	})

	t.Run("replace deep copies and orders pools", func(t *testing.T) {
		s := NewStore(WithClock(fixedClock(now)))
		input := []amm.Pool{cpPool(9, 100, 200), cpPool(3, 10, 20)}

		snap, err := s.Replace(42, testTokens, input)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.Version)
		assert.Equal(t, uint64(42), snap.Block)
		assert.Equal(t, now, snap.TakenAt)
		require.Len(t, snap.Pools(), 2)
		assert.Equal(t, uint64(3), snap.Pools()[0].ID())

		// mutating the caller's pool does not leak into the snapshot
		input[0].ConstantProduct.Reserve0.SetInt64(1)
		p, ok := snap.Pool(9)
		require.True(t, ok)
		assert.Equal(t, int64(100), p.ConstantProduct.Reserve0.Int64())

		tok, ok := snap.Token(2)
		require.True(t, ok)
		assert.Equal(t, "USDC", tok.Symbol)
	})

	t.Run("apply replaces wholesale and leaves old snapshots intact", func(t *testing.T) {
		s := NewStore(WithClock(fixedClock(now)))
		first, err := s.Replace(1, testTokens, []amm.Pool{cpPool(1, 100, 100), cpPool(2, 50, 50)})
		require.NoError(t, err)

		second, err := s.Apply(Update{
			Block:     2,
			Tokens:    []tokenregistry.Token{{ID: 3, Symbol: "DAI", Decimals: 18}},
			Upserts:   []amm.Pool{cpPool(1, 150, 70)},
			Deletions: []uint64{2},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), second.Version)
		assert.Same(t, second, s.Current())

		p, ok := second.Pool(1)
		require.True(t, ok)
		assert.Equal(t, int64(150), p.ConstantProduct.Reserve0.Int64())
		_, ok = second.Pool(2)
		assert.False(t, ok)
		_, ok = second.Token(3)
		assert.True(t, ok)
		_, ok = second.Token(1)
		assert.True(t, ok, "existing tokens survive an update")

		old, ok := first.Pool(1)
		require.True(t, ok)
		assert.Equal(t, int64(100), old.ConstantProduct.Reserve0.Int64())
		_, ok = first.Pool(2)
		assert.True(t, ok)
	})

	t.Run("malformed pools are rejected without publishing", func(t *testing.T) {
		s := NewStore()
		_, err := s.Apply(Update{Upserts: []amm.Pool{{Kind: amm.KindStableSwap}}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedPool)
		assert.ErrorIs(t, err, protocols.ErrInvalidPool)
		assert.Zero(t, s.Current().Version)
	})

	t.Run("apply at a stale version publishes nothing", func(t *testing.T) {
		s := NewStore(WithClock(fixedClock(now)))
		first, err := s.Replace(1, testTokens, []amm.Pool{cpPool(1, 100, 100)})
		require.NoError(t, err)
		_, err = s.Apply(Update{Upserts: []amm.Pool{cpPool(1, 120, 90)}})
		require.NoError(t, err)

		_, err = s.ApplyAt(first.Version, Update{Upserts: []amm.Pool{cpPool(1, 1, 1)}})
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.Equal(t, uint64(2), s.Current().Version)

		snap, err := s.ApplyAt(2, Update{Upserts: []amm.Pool{cpPool(1, 130, 80)}})
		require.NoError(t, err)
		assert.Equal(t, uint64(3), snap.Version)
	})

	t.Run("age", func(t *testing.T) {
		s := NewStore(WithClock(fixedClock(now)))
		snap, err := s.Replace(1, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, snap.Age(now.Add(3*time.Second)))
	})
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for ctx.Err() == nil {
				snap := s.Current()
				// a reader sees whole snapshots with monotonically increasing versions
				assert.GreaterOrEqual(t, snap.Version, last)
				if p, ok := snap.Pool(1); ok {
					assert.Equal(t, p.ConstantProduct.Reserve0.Int64(), p.ConstantProduct.Reserve1.Int64())
				}
				last = snap.Version
			}
		}()
	}

	for i := int64(1); i <= 200; i++ {
		_, err := s.Apply(Update{Upserts: []amm.Pool{cpPool(1, i, i)}})
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
	assert.Equal(t, uint64(200), s.Current().Version)
}

type feedFunc func(ctx context.Context) (Batch, error)

func (f feedFunc) Refresh(ctx context.Context) (Batch, error) { return f(ctx) }

func TestRefresher(t *testing.T) {
	t.Run("config validation", func(t *testing.T) {
		_, err := NewRefresher(RefresherConfig{})
		assert.Error(t, err)
	})

	t.Run("refresh once publishes the batch", func(t *testing.T) {
		store := NewStore()
		r, err := NewRefresher(RefresherConfig{
			Feed: feedFunc(func(ctx context.Context) (Batch, error) {
				return Batch{Block: 7, Tokens: testTokens, Pools: []amm.Pool{cpPool(1, 10, 10)}}, nil
			}),
			Store:    store,
			Interval: time.Millisecond,
			Logger:   discardLogger(),
		})
		require.NoError(t, err)

		snap, err := r.RefreshOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(7), snap.Block)
		assert.Same(t, snap, store.Current())
	})

	t.Run("run keeps the previous snapshot on feed errors", func(t *testing.T) {
		store := NewStore()
		var calls atomic.Int32
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		r, err := NewRefresher(RefresherConfig{
			Feed: feedFunc(func(ctx context.Context) (Batch, error) {
				if calls.Add(1) > 1 {
					cancel()
					return Batch{}, errors.New("feed down")
				}
				return Batch{Block: 1, Pools: []amm.Pool{cpPool(1, 10, 10)}}, nil
			}),
			Store:    store,
			Interval: time.Millisecond,
			Logger:   discardLogger(),
		})
		require.NoError(t, err)

		err = r.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, uint64(1), store.Current().Version)
	})
}

func TestNextDelay(t *testing.T) {
	assert.Equal(t, initialRetryDelay, nextDelay(10*time.Millisecond, 10*time.Millisecond))
	assert.Equal(t, 2*initialRetryDelay, nextDelay(initialRetryDelay, 10*time.Millisecond))
	assert.Equal(t, maxRetryDelay, nextDelay(maxRetryDelay, 10*time.Millisecond))
	assert.Equal(t, time.Minute, nextDelay(time.Second, time.Minute))
}
