// Package cycle finds negative-weight cycles in a market graph with a
// Bellman-Ford relaxation bounded by a maximum hop count.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/defistate/arbitrage-engine/bitset"
	"github.com/defistate/arbitrage-engine/graph"
)

const (
	MinHops = 2
	MaxHops = 6
)

var ErrInvalidMaxHops = errors.New("max hops out of range")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Option configures the Detector.
type Option interface {
	apply(*Detector)
}

type funcOption func(*Detector)

func (f funcOption) apply(d *Detector) {
	f(d)
}

// WithWorkers bounds the number of start tokens searched concurrently.
func WithWorkers(n int) Option {
	return funcOption(func(d *Detector) {
		if n > 0 {
			d.workers = n
		}
	})
}

func WithLogger(logger Logger) Option {
	return funcOption(func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	})
}

// Detector is stateless between calls and safe for concurrent use.
type Detector struct {
	maxHops int
	workers int
	logger  Logger
}

func NewDetector(maxHops int, opts ...Option) (*Detector, error) {
	if maxHops < MinHops || maxHops > MaxHops {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMaxHops, maxHops, MinHops, MaxHops)
	}
	d := &Detector{
		maxHops: maxHops,
		workers: runtime.GOMAXPROCS(0),
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt.apply(d)
	}
	return d, nil
}

func (d *Detector) MaxHops() int { return d.maxHops }

// label is the best known simple path from the start vertex to one vertex
// at a given hop count.
type label struct {
	dist    float64
	edges   []int
	visited bitset.BitSet
}

// FindFrom returns the most negative cycle through start using at most
// maxHops edges. Each layer relaxes every edge leaving the previous layer's
// frontier; a label only extends to vertices not already on its path, and a
// pool is never used twice in one cycle.
func (d *Detector) FindFrom(g *graph.Graph, start uint64) (Cycle, bool) {
	s, ok := g.Index(start)
	if !ok {
		return Cycle{}, false
	}
	n := g.NumTokens()

	origin := &label{visited: bitset.New(n)}
	origin.visited.Add(s)
	frontier := make([]*label, n)
	frontier[s] = origin
	active := []int{s}

	best := Cycle{Weight: math.Inf(1)}
	found := false

	for hop := 1; hop <= d.maxHops && len(active) > 0; hop++ {
		next := make([]*label, n)
		var reached []int
		for _, v := range active {
			lbl := frontier[v]
			for _, ei := range g.Out(v) {
				e := g.Edge(ei)
				if usesPool(g, lbl.edges, e.PoolID) {
					continue
				}
				dist := lbl.dist + e.Weight

				if e.To == s {
					if hop >= MinHops && dist < 0 && dist < best.Weight {
						best = d.cycleOf(g, start, lbl.edges, ei, dist)
						found = true
					}
					continue
				}
				if hop == d.maxHops || lbl.visited.Has(e.To) {
					continue
				}
				cur := next[e.To]
				if cur != nil && cur.dist <= dist {
					continue
				}
				if cur == nil {
					reached = append(reached, e.To)
				}
				visited := lbl.visited.Clone()
				visited.Add(e.To)
				next[e.To] = &label{
					dist:    dist,
					edges:   append(slices.Clip(lbl.edges), ei),
					visited: visited,
				}
			}
		}
		slices.Sort(reached)
		frontier, active = next, reached
	}
	return best, found
}

func usesPool(g *graph.Graph, path []int, poolID uint64) bool {
	for _, ei := range path {
		if g.Edge(ei).PoolID == poolID {
			return true
		}
	}
	return false
}

func (d *Detector) cycleOf(g *graph.Graph, start uint64, path []int, closing int, dist float64) Cycle {
	edges := make([]graph.Edge, 0, len(path)+1)
	for _, ei := range path {
		edges = append(edges, g.Edge(ei))
	}
	edges = append(edges, g.Edge(closing))
	return Cycle{StartToken: start, Edges: edges, Weight: dist}
}

// Detect searches from every base token (every token when bases is empty)
// on a bounded worker pool. Rotations of the same loop are reported once, and
// results are ordered from most to least negative weight.
func (d *Detector) Detect(ctx context.Context, g *graph.Graph, bases []uint64) ([]Cycle, error) {
	start := time.Now()
	if len(bases) == 0 {
		bases = g.Tokens()
	}

	// each worker writes only its own slot
	found := make([]*Cycle, len(bases))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(d.workers)
	for i, base := range bases {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, ok := d.FindFrom(g, base)
			if !ok {
				return nil
			}
			found[i] = &c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	cycles := make([]Cycle, 0, len(found))
	for _, c := range found {
		if c == nil || !seen.Add(c.Key()) {
			continue
		}
		cycles = append(cycles, *c)
	}
	slices.SortStableFunc(cycles, func(a, b Cycle) int {
		switch {
		case a.Weight < b.Weight:
			return -1
		case a.Weight > b.Weight:
			return 1
		}
		return 0
	})

	d.logger.Debug("cycle detection complete",
		"bases", len(bases),
		"cycles", len(cycles),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return cycles, nil
}
