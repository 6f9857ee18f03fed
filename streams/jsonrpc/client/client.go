// Package client subscribes to a pool-state stream over JSON-RPC and keeps a
// state.Store in step with it: full events replace the snapshot, diffs are
// applied on top of the block they were computed from.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/arbitrage-engine/amm"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/streams/jsonrpc/stateops"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace                 = "arb"
	PoolStreamSubscriptionMethod = "subscribePoolStream"
)

var ErrDiffBeforeState = errors.New("received diff before full state")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Decoder converts wire events into store writes.
type Decoder interface {
	DecodeState(s *stateops.State) (state.Batch, error)
	DecodeDiff(d *stateops.StateDiff) (state.Update, error)
}

// Store is the write side of state.Store.
type Store interface {
	Replace(block uint64, tokens []tokenregistry.Token, pools []amm.Pool) (*state.Snapshot, error)
	Apply(u state.Update) (*state.Snapshot, error)
}

// Config holds the configuration for the client.
type Config struct {
	URL      string
	Logger   Logger
	Store    Store
	Decoder  Decoder
	Registry prometheus.Registerer
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Decoder == nil {
		return errors.New("config: Decoder is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor parses events and writes them to the store. It is
// decoupled from the networking layer and not safe for concurrent use.
type StreamProcessor struct {
	store     Store
	decoder   Decoder
	logger    Logger
	metrics   *metrics
	synced    bool
	lastBlock uint64
}

// NewStreamProcessor registers the stream collectors with reg.
func NewStreamProcessor(logger Logger, store Store, decoder Decoder, reg prometheus.Registerer) (*StreamProcessor, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &StreamProcessor{
		logger:  logger,
		store:   store,
		decoder: decoder,
		metrics: m,
	}, nil
}

// LastBlock is the block of the most recently applied event.
func (sp *StreamProcessor) LastBlock() (uint64, bool) {
	return sp.lastBlock, sp.synced
}

// ProcessMessage accepts a raw JSON event, from the socket or a recording,
// and applies it to the store.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event SubscriptionEvent
	if err := json.Unmarshal(rawData, &event); err != nil {
		sp.metrics.events.WithLabelValues("unknown", "failed").Inc()
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	var err error
	switch event.Type {
	case EventFull:
		err = sp.handleFullState(event, processingStart)
	case EventDiff:
		err = sp.handleDiff(event, processingStart)
	default:
		sp.metrics.events.WithLabelValues("unknown", "failed").Inc()
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
	if err != nil {
		sp.metrics.events.WithLabelValues(event.Type, "failed").Inc()
	}
	return err
}

func (sp *StreamProcessor) handleFullState(event SubscriptionEvent, start time.Time) error {
	var s stateops.State
	if err := json.Unmarshal(event.Payload, &s); err != nil {
		return fmt.Errorf("failed to unmarshal full state payload: %w", err)
	}
	batch, err := sp.decoder.DecodeState(&s)
	if err != nil {
		return err
	}
	snap, err := sp.store.Replace(batch.Block, batch.Tokens, batch.Pools)
	if err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}

	sp.synced, sp.lastBlock = true, batch.Block
	sp.metrics.events.WithLabelValues(EventFull, "applied").Inc()
	sp.logMetrics(snap, s.Block, time.Since(start), event.SentAt, EventFull)
	return nil
}

func (sp *StreamProcessor) handleDiff(event SubscriptionEvent, start time.Time) error {
	var d stateops.StateDiff
	if err := json.Unmarshal(event.Payload, &d); err != nil {
		return fmt.Errorf("failed to unmarshal diff payload: %w", err)
	}
	if !sp.synced {
		return fmt.Errorf("%w; from_block: %d, to_block: %d", ErrDiffBeforeState, d.FromBlock, d.ToBlock.BlockNumber())
	}

	if d.FromBlock != sp.lastBlock {
		sp.logger.Warn(
			"Received out-of-order diff; state may be out of sync. Discarding.",
			"last_known_block", sp.lastBlock,
			"diff_from_block", d.FromBlock,
			"diff_to_block", d.ToBlock.BlockNumber(),
		)
		sp.metrics.events.WithLabelValues(EventDiff, "dropped").Inc()
		return nil // Non-fatal, just ignored
	}

	update, err := sp.decoder.DecodeDiff(&d)
	if err != nil {
		return err
	}
	snap, err := sp.store.Apply(update)
	if err != nil {
		return fmt.Errorf("failed to apply diff: %w", err)
	}

	sp.lastBlock = update.Block
	sp.metrics.events.WithLabelValues(EventDiff, "applied").Inc()
	sp.logMetrics(snap, d.ToBlock, time.Since(start), event.SentAt, EventDiff)
	return nil
}

func (sp *StreamProcessor) logMetrics(snap *state.Snapshot, block stateops.BlockSummary, processingDur time.Duration, sentAt int64, eventType string) {
	clientFinishTime := time.Now()
	clientStartTime := clientFinishTime.Add(-processingDur)
	serverFinishTime := time.Unix(0, sentAt)

	transportTime := clientStartTime.Sub(serverFinishTime)
	serverProcessingMs := serverFinishTime.Sub(time.Unix(0, block.ReceivedAt)).Milliseconds()

	var totalLatency time.Duration
	if block.Timestamp > 0 {
		totalLatency = clientFinishTime.Sub(time.Unix(int64(block.Timestamp), 0))
		sp.metrics.latency.Observe(totalLatency.Seconds())
	}

	sp.logger.Debug("State Processed",
		"block", block.BlockNumber(),
		"type", eventType,
		"version", snap.Version,
		"pools", len(snap.Pools()),
		"latency_total_ms", totalLatency.Milliseconds(),
		"latency_transport_ms", transportTime.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
		"latency_server_ms", serverProcessingMs,
	)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	url       string
	processor *StreamProcessor
	metrics   *metrics
	logger    Logger
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	processor, err := NewStreamProcessor(cfg.Logger, cfg.Store, cfg.Decoder, cfg.Registry)
	if err != nil {
		return nil, err
	}
	return &Client{
		url:       cfg.URL,
		processor: processor,
		metrics:   processor.metrics,
		logger:    cfg.Logger,
	}, nil
}

// Processor exposes the client's processor, mainly for replaying recordings.
func (c *Client) Processor() *StreamProcessor {
	return c.processor
}

// Run connects, subscribes and processes events until ctx is done,
// reconnecting with exponential backoff. It always returns ctx's error.
func (c *Client) Run(ctx context.Context) error {
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return ctx.Err()
		}

		c.logger.Info("Attempting to connect to RPC server", "url", c.url)
		rpcClient, err := rpc.DialContext(ctx, c.url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return ctx.Err()
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Info("Context canceled, shutting down.")
			return ctx.Err()
		}
		c.metrics.reconnects.Inc()
		c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
		if !sleep(ctx, reconnectDelay) {
			return ctx.Err()
		}
		reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, PoolStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			if err == nil {
				return errors.New("subscription closed by server")
			}
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
