package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/arbitrage-engine/amm"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

const (
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Batch is a complete pool-state picture as delivered by a feed.
type Batch struct {
	Block  uint64
	Tokens []tokenregistry.Token
	Pools  []amm.Pool
}

// Feed is the inbound pool-state collaborator.
type Feed interface {
	Refresh(ctx context.Context) (Batch, error)
}

// RefresherConfig holds the configuration for a Refresher.
type RefresherConfig struct {
	Feed     Feed
	Store    *Store
	Interval time.Duration
	Logger   Logger
}

func (c *RefresherConfig) validate() error {
	if c.Feed == nil {
		return errors.New("config: Feed is required")
	}
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Interval <= 0 {
		return errors.New("config: Interval must be positive")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Refresher polls a Feed and publishes each batch as a full replacement.
// It is the store's only writer when the engine runs on a polling feed.
type Refresher struct {
	feed     Feed
	store    *Store
	interval time.Duration
	logger   Logger
}

func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Refresher{
		feed:     cfg.Feed,
		store:    cfg.Store,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}, nil
}

// RefreshOnce pulls one batch and publishes it.
func (r *Refresher) RefreshOnce(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	batch, err := r.feed.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed refresh: %w", err)
	}
	snap, err := r.store.Replace(batch.Block, batch.Tokens, batch.Pools)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("snapshot published",
		"version", snap.Version,
		"block", snap.Block,
		"pools", len(snap.Pools()),
		"tokens", snap.Tokens().Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}

// Run refreshes on every interval until ctx is done. Failed refreshes back
// off exponentially and leave the previous snapshot in place.
func (r *Refresher) Run(ctx context.Context) error {
	delay := r.interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := r.RefreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay = nextDelay(delay, r.interval)
			r.logger.Warn("pool state refresh failed, will retry", "error", err, "delay", delay)
		} else {
			delay = r.interval
		}
		timer.Reset(delay)
	}
}

func nextDelay(current, interval time.Duration) time.Duration {
	if current < initialRetryDelay {
		current = initialRetryDelay
	} else {
		current *= 2
	}
	if current > maxRetryDelay {
		current = maxRetryDelay
	}
	if current < interval {
		current = interval
	}
	return current
}
