package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uniswapv2 "github.com/defistate/arbitrage-engine/protocols/uniswapv2"
	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/streams/jsonrpc/stateops"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Test Setup: Mock RPC Server ---

type mockPoolStreamer struct {
	events []json.RawMessage
	t      *testing.T
}

func (api *mockPoolStreamer) SubscribePoolStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	go func() {
		for _, event := range api.events {
			select {
			case <-rpcSub.Err():
				return
			default:
				if err := notifier.Notify(rpcSub.ID, event); err != nil {
					api.t.Logf("Error notifying subscriber: %v", err)
					return
				}
			}
		}
	}()
	return rpcSub, nil
}

func startMockStreamer(t *testing.T, events ...json.RawMessage) string {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(RpcNamespace, &mockPoolStreamer{events: events, t: t}))

	httpServer := httptest.NewServer(server.WebsocketHandler([]string{"*"}))
	t.Cleanup(func() {
		server.Stop()
		httpServer.Close()
	})
	return "ws://" + strings.TrimPrefix(httpServer.URL, "http://")
}

// --- Test Helpers & Data Generation ---

func mustMarshal(t *testing.T, v any) json.RawMessage {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func v2Pool(id uint64, r0, r1 int64) uniswapv2.Pool {
	return uniswapv2.Pool{ID: id, Token0: 1, Token1: 2, Reserve0: big.NewInt(r0), Reserve1: big.NewInt(r1), FeeBps: 30}
}

func fullEvent(t *testing.T, block int64, pools ...uniswapv2.Pool) json.RawMessage {
	payload := stateops.State{
		Block: stateops.BlockSummary{Number: big.NewInt(block), ReceivedAt: time.Now().UnixNano()},
		Protocols: map[stateops.ProtocolID]stateops.ProtocolState{
			"uniswap-v2": {
				Meta:   stateops.ProtocolMeta{Name: "Uniswap V2"},
				Schema: uniswapv2.Schema,
				Data:   mustMarshal(t, pools),
			},
		},
	}
	return mustMarshal(t, SubscriptionEvent{Type: EventFull, Payload: mustMarshal(t, payload), SentAt: time.Now().UnixNano()})
}

func diffEvent(t *testing.T, from, to int64, diff uniswapv2.Diff) json.RawMessage {
	payload := stateops.StateDiff{
		FromBlock: uint64(from),
		ToBlock:   stateops.BlockSummary{Number: big.NewInt(to)},
		Timestamp: uint64(time.Now().Unix()),
		Protocols: map[stateops.ProtocolID]stateops.ProtocolDiff{
			"uniswap-v2": {Schema: uniswapv2.Schema, Data: mustMarshal(t, diff)},
		},
	}
	return mustMarshal(t, SubscriptionEvent{Type: EventDiff, Payload: mustMarshal(t, payload)})
}

func newProcessor(t *testing.T) (*StreamProcessor, *state.Store) {
	ops, err := stateops.NewStateOps(discardLogger())
	require.NoError(t, err)
	store := state.NewStore()
	sp, err := NewStreamProcessor(discardLogger(), store, ops, prometheus.NewRegistry())
	require.NoError(t, err)
	return sp, store
}

// --- Tests ---

func TestStreamProcessor(t *testing.T) {
	t.Run("full then diff", func(t *testing.T) {
		sp, store := newProcessor(t)

		require.NoError(t, sp.ProcessMessage(fullEvent(t, 100, v2Pool(1, 1000, 2000), v2Pool(2, 50, 50))))
		snap := store.Current()
		assert.Equal(t, uint64(1), snap.Version)
		assert.Equal(t, uint64(100), snap.Block)
		assert.Len(t, snap.Pools(), 2)

		require.NoError(t, sp.ProcessMessage(diffEvent(t, 100, 101, uniswapv2.Diff{
			Updates:   []uniswapv2.Pool{v2Pool(1, 1100, 1900)},
			Deletions: []uint64{2},
		})))
		snap = store.Current()
		assert.Equal(t, uint64(2), snap.Version)
		assert.Equal(t, uint64(101), snap.Block)
		p, ok := snap.Pool(1)
		require.True(t, ok)
		assert.Equal(t, int64(1100), p.ConstantProduct.Reserve0.Int64())
		_, ok = snap.Pool(2)
		assert.False(t, ok)

		last, synced := sp.LastBlock()
		assert.True(t, synced)
		assert.Equal(t, uint64(101), last)
		assert.Equal(t, 1.0, testutil.ToFloat64(sp.metrics.events.WithLabelValues(EventDiff, "applied")))
	})

	t.Run("diff before full state", func(t *testing.T) {
		sp, store := newProcessor(t)
		err := sp.ProcessMessage(diffEvent(t, 100, 101, uniswapv2.Diff{}))
		assert.ErrorIs(t, err, ErrDiffBeforeState)
		assert.Zero(t, store.Current().Version)
	})

	t.Run("out of order diff is dropped", func(t *testing.T) {
		sp, store := newProcessor(t)
		require.NoError(t, sp.ProcessMessage(fullEvent(t, 100, v2Pool(1, 1000, 2000))))

		require.NoError(t, sp.ProcessMessage(diffEvent(t, 98, 99, uniswapv2.Diff{
			Updates: []uniswapv2.Pool{v2Pool(1, 1, 1)},
		})))
		assert.Equal(t, uint64(1), store.Current().Version)
		assert.Equal(t, 1.0, testutil.ToFloat64(sp.metrics.events.WithLabelValues(EventDiff, "dropped")))
	})

	t.Run("a later full state resynchronizes", func(t *testing.T) {
		sp, store := newProcessor(t)
		require.NoError(t, sp.ProcessMessage(fullEvent(t, 100, v2Pool(1, 1000, 2000))))
		require.NoError(t, sp.ProcessMessage(fullEvent(t, 250, v2Pool(3, 10, 10))))

		snap := store.Current()
		assert.Equal(t, uint64(250), snap.Block)
		_, ok := snap.Pool(1)
		assert.False(t, ok, "a full state replaces everything")
	})

	t.Run("bad events", func(t *testing.T) {
		sp, store := newProcessor(t)

		assert.Error(t, sp.ProcessMessage(json.RawMessage(`not json`)))
		assert.Error(t, sp.ProcessMessage(mustMarshal(t, SubscriptionEvent{Type: "partial"})))
		assert.Error(t, sp.ProcessMessage(mustMarshal(t, SubscriptionEvent{
			Type:    EventFull,
			Payload: json.RawMessage(`{"block":{"number":"not-a-number"}}`),
		})))

		unknown := stateops.State{Protocols: map[stateops.ProtocolID]stateops.ProtocolState{
			"mystery": {Schema: "mystery@v9"},
		}}
		err := sp.ProcessMessage(mustMarshal(t, SubscriptionEvent{Type: EventFull, Payload: mustMarshal(t, unknown)}))
		assert.ErrorIs(t, err, stateops.ErrUnknownSchema)

		assert.Zero(t, store.Current().Version)
		assert.Equal(t, 2.0, testutil.ToFloat64(sp.metrics.events.WithLabelValues(EventFull, "failed")))
	})
}

func TestNewClient_Validation(t *testing.T) {
	ops, err := stateops.NewStateOps(discardLogger())
	require.NoError(t, err)
	valid := Config{
		URL:      "ws://localhost:1",
		Logger:   discardLogger(),
		Store:    state.NewStore(),
		Decoder:  ops,
		Registry: prometheus.NewRegistry(),
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"missing logger", func(c *Config) { c.Logger = nil }},
		{"missing store", func(c *Config) { c.Store = nil }},
		{"missing decoder", func(c *Config) { c.Decoder = nil }},
		{"missing registry", func(c *Config) { c.Registry = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := NewClient(cfg)
			assert.Error(t, err)
		})
	}

	_, err = NewClient(valid)
	assert.NoError(t, err)
}

func TestClient_SuccessfulSubscription(t *testing.T) {
	url := startMockStreamer(t,
		fullEvent(t, 100, v2Pool(1, 1000, 2000)),
		diffEvent(t, 100, 101, uniswapv2.Diff{Updates: []uniswapv2.Pool{v2Pool(1, 1200, 1700)}}),
	)

	ops, err := stateops.NewStateOps(discardLogger())
	require.NoError(t, err)
	store := state.NewStore()
	c, err := NewClient(Config{
		URL:      url,
		Logger:   discardLogger(),
		Store:    store,
		Decoder:  ops,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.Current().Block == 101
	}, 5*time.Second, 10*time.Millisecond)

	p, ok := store.Current().Pool(1)
	require.True(t, ok)
	assert.Equal(t, int64(1200), p.ConstantProduct.Reserve0.Int64())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after cancel")
	}
}

func TestClient_StopsWhileReconnecting(t *testing.T) {
	ops, err := stateops.NewStateOps(discardLogger())
	require.NoError(t, err)
	c, err := NewClient(Config{
		URL:      "ws://127.0.0.1:1",
		Logger:   discardLogger(),
		Store:    state.NewStore(),
		Decoder:  ops,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
