// Package state owns the pool state store. Every detection pass reads one
// immutable Snapshot; the single writer publishes replacements with an atomic
// pointer swap so readers never block and never observe partial updates.
package state

import (
	"slices"
	"time"

	"github.com/defistate/arbitrage-engine/amm"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
	"github.com/defistate/arbitrage-engine/protocols/tokenregistry/indexer"
)

// Snapshot is a versioned, read-only view of every known token and pool.
// Callers must not mutate anything reachable from it.
type Snapshot struct {
	Version uint64
	Block   uint64
	TakenAt time.Time

	tokens *indexer.Index
	pools  []amm.Pool
	byID   map[uint64]int
}

// newSnapshot takes ownership of pools, which must already be private copies.
func newSnapshot(version, block uint64, takenAt time.Time, tokens []tokenregistry.Token, pools map[uint64]amm.Pool) *Snapshot {
	ordered := make([]amm.Pool, 0, len(pools))
	for _, p := range pools {
		ordered = append(ordered, p)
	}
	slices.SortFunc(ordered, func(a, b amm.Pool) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	byID := make(map[uint64]int, len(ordered))
	for i, p := range ordered {
		byID[p.ID()] = i
	}
	return &Snapshot{
		Version: version,
		Block:   block,
		TakenAt: takenAt,
		tokens:  indexer.New(tokens),
		pools:   ordered,
		byID:    byID,
	}
}

// Pools returns the pools ordered by ID. The slice is shared.
func (s *Snapshot) Pools() []amm.Pool {
	return s.pools
}

func (s *Snapshot) Pool(id uint64) (amm.Pool, bool) {
	i, ok := s.byID[id]
	if !ok {
		return amm.Pool{}, false
	}
	return s.pools[i], true
}

func (s *Snapshot) Tokens() indexer.IndexedTokens {
	return s.tokens
}

func (s *Snapshot) Token(id uint64) (tokenregistry.Token, bool) {
	return s.tokens.GetByID(id)
}

// Age is how long ago the snapshot was taken relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}

// poolMap copies the pool set for a writer building the next snapshot.
// Pools are shared, not cloned; the writer replaces entries wholesale.
func (s *Snapshot) poolMap(extra int) map[uint64]amm.Pool {
	m := make(map[uint64]amm.Pool, len(s.pools)+extra)
	for _, p := range s.pools {
		m[p.ID()] = p
	}
	return m
}
