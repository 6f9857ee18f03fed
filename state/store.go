package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

// ErrMalformedPool is returned when an update carries a pool whose payload
// does not match its kind, so it cannot even be keyed.
var ErrMalformedPool = errors.New("malformed pool record")

// ErrVersionConflict is returned by ApplyAt when the store has moved past
// the version the update was computed against.
var ErrVersionConflict = errors.New("snapshot version conflict")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Update replaces pools wholesale. Tokens are merged by ID.
type Update struct {
	Block     uint64
	Tokens    []tokenregistry.Token
	Upserts   []amm.Pool
	Deletions []uint64
}

// Store publishes snapshots. Writes are serialized; reads are lock-free.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// Option configures the Store.
type Option interface {
	apply(*Store)
}

type funcOption func(*Store)

func (f funcOption) apply(s *Store) {
	f(s)
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return funcOption(func(s *Store) { s.now = now })
}

func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt.apply(s)
	}
	s.current.Store(newSnapshot(0, 0, time.Time{}, nil, nil))
	return s
}

// Current returns the latest snapshot. It never returns nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Replace publishes a snapshot holding exactly the given tokens and pools.
func (s *Store) Replace(block uint64, tokens []tokenregistry.Token, pools []amm.Pool) (*Snapshot, error) {
	next := make(map[uint64]amm.Pool, len(pools))
	if err := copyInto(next, pools); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	snap := newSnapshot(prev.Version+1, block, s.now(), tokens, next)
	s.current.Store(snap)
	return snap, nil
}

// Apply publishes a snapshot derived from the current one. Nothing is
// published when the update is rejected.
func (s *Store) Apply(u Update) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(s.current.Load(), u)
}

// ApplyAt is Apply guarded by the version the caller read: nothing is
// published unless version is still current.
func (s *Store) ApplyAt(version uint64, u Update) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	if prev.Version != version {
		return nil, fmt.Errorf("%w: read version %d, current %d", ErrVersionConflict, version, prev.Version)
	}
	return s.apply(prev, u)
}

func (s *Store) apply(prev *Snapshot, u Update) (*Snapshot, error) {
	next := prev.poolMap(len(u.Upserts))
	for _, id := range u.Deletions {
		delete(next, id)
	}
	if err := copyInto(next, u.Upserts); err != nil {
		return nil, err
	}

	tokens := prev.tokens.All()
	if len(u.Tokens) > 0 {
		tokens = append(tokens, u.Tokens...)
	}
	block := u.Block
	if block == 0 {
		block = prev.Block
	}
	snap := newSnapshot(prev.Version+1, block, s.now(), tokens, next)
	s.current.Store(snap)
	return snap, nil
}

func copyInto(dst map[uint64]amm.Pool, pools []amm.Pool) error {
	for i, p := range pools {
		if p.IsZero() {
			return fmt.Errorf("%w: entry %d of kind %s: %w", ErrMalformedPool, i, p.Kind, protocols.ErrInvalidPool)
		}
		dst[p.ID()] = p.Clone()
	}
	return nil
}

// Token looks id up in the current snapshot.
func (s *Store) Token(id uint64) (tokenregistry.Token, bool) {
	return s.Current().Token(id)
}
