// Package graph turns a pool set into a directed, log-weighted market graph.
// Tokens are vertices. Every quotable pool contributes one edge per swap
// direction, weighted -ln(rate after fee), so a cycle whose weights sum below
// zero multiplies value.
package graph

import (
	"fmt"
	"math"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/protocols"
)

// Edge is one swap direction through one pool.
type Edge struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	TokenIn  uint64  `json:"tokenIn"`
	TokenOut uint64  `json:"tokenOut"`
	PoolID   uint64  `json:"poolId"`
	Weight   float64 `json:"weight"`
	// PoolIndex is the pool's position in the slice the graph was built from.
	PoolIndex int `json:"poolIndex"`
}

// SkippedPool records a pool that contributed no edges and why.
type SkippedPool struct {
	PoolID uint64
	Err    error
}

// Graph is immutable once built and safe for concurrent readers.
type Graph struct {
	tokens       []uint64
	tokenToIndex map[uint64]int
	edges        []Edge
	adjacency    [][]int // vertex index -> edge indices
	skipped      []SkippedPool
}

// Build creates the graph for pools. It is O(len(pools)) and never fails:
// pools that cannot be priced are listed in Skipped instead. Parallel pools
// for the same pair stay separate edges.
func Build(pools []amm.Pool) *Graph {
	g := &Graph{
		tokenToIndex: make(map[uint64]int),
		edges:        make([]Edge, 0, 2*len(pools)),
	}

	for i, p := range pools {
		if err := p.Validate(); err != nil {
			g.skip(p.ID(), err)
			continue
		}
		token0, token1 := p.Tokens()
		w01, err := weight(p, token0)
		if err != nil {
			g.skip(p.ID(), err)
			continue
		}
		w10, err := weight(p, token1)
		if err != nil {
			g.skip(p.ID(), err)
			continue
		}
		v0, v1 := g.vertex(token0), g.vertex(token1)
		g.addEdge(Edge{From: v0, To: v1, TokenIn: token0, TokenOut: token1, PoolID: p.ID(), PoolIndex: i, Weight: w01})
		g.addEdge(Edge{From: v1, To: v0, TokenIn: token1, TokenOut: token0, PoolID: p.ID(), PoolIndex: i, Weight: w10})
	}
	return g
}

func weight(p amm.Pool, tokenIn uint64) (float64, error) {
	rate, err := amm.EffectiveRate(p, tokenIn)
	if err != nil {
		return 0, err
	}
	w := -math.Log(rate)
	if math.IsInf(w, 0) || math.IsNaN(w) {
		return 0, fmt.Errorf("%w: pool %d weight %v", protocols.ErrInvalidPool, p.ID(), w)
	}
	return w, nil
}

func (g *Graph) vertex(token uint64) int {
	if v, ok := g.tokenToIndex[token]; ok {
		return v
	}
	v := len(g.tokens)
	g.tokens = append(g.tokens, token)
	g.tokenToIndex[token] = v
	g.adjacency = append(g.adjacency, nil)
	return v
}

func (g *Graph) addEdge(e Edge) {
	g.adjacency[e.From] = append(g.adjacency[e.From], len(g.edges))
	g.edges = append(g.edges, e)
}

func (g *Graph) skip(poolID uint64, err error) {
	g.skipped = append(g.skipped, SkippedPool{PoolID: poolID, Err: err})
}

// NumTokens is the number of vertices.
func (g *Graph) NumTokens() int { return len(g.tokens) }

// NumEdges is the number of directed edges.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Token returns the token ID of vertex v.
func (g *Graph) Token(v int) uint64 { return g.tokens[v] }

// Tokens returns every token ID in vertex order. The slice is shared.
func (g *Graph) Tokens() []uint64 { return g.tokens }

// Index returns the vertex of token.
func (g *Graph) Index(token uint64) (int, bool) {
	v, ok := g.tokenToIndex[token]
	return v, ok
}

// Edge returns edge i by value.
func (g *Graph) Edge(i int) Edge { return g.edges[i] }

// Out returns the indices of the edges leaving vertex v. The slice is shared.
func (g *Graph) Out(v int) []int { return g.adjacency[v] }

// Skipped lists pools left out of the graph.
func (g *Graph) Skipped() []SkippedPool { return g.skipped }
