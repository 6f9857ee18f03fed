package cycle

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/graph"
	"github.com/defistate/arbitrage-engine/protocols"
)

// PoolSource resolves pools by ID. *state.Snapshot implements it.
type PoolSource interface {
	Pool(id uint64) (amm.Pool, bool)
}

// Cycle is a closed sequence of edges starting and ending at StartToken.
type Cycle struct {
	StartToken uint64       `json:"startToken"`
	Edges      []graph.Edge `json:"edges"`
	Weight     float64      `json:"weight"`
}

func (c Cycle) Hops() int { return len(c.Edges) }

// Profitable reports a negative total weight.
func (c Cycle) Profitable() bool { return c.Weight < 0 }

// Rate is the theoretical marginal multiplier of the loop, exp(-Weight).
func (c Cycle) Rate() float64 { return math.Exp(-c.Weight) }

func (c Cycle) PoolIDs() []uint64 {
	ids := make([]uint64, len(c.Edges))
	for i, e := range c.Edges {
		ids[i] = e.PoolID
	}
	return ids
}

// Tokens lists the tokens visited, starting and ending with StartToken.
func (c Cycle) Tokens() []uint64 {
	tokens := make([]uint64, 0, len(c.Edges)+1)
	tokens = append(tokens, c.StartToken)
	for _, e := range c.Edges {
		tokens = append(tokens, e.TokenOut)
	}
	return tokens
}

// Key identifies the loop independent of where it starts, so that rotations
// found from different base tokens collapse to one entry.
func (c Cycle) Key() string {
	n := len(c.Edges)
	if n == 0 {
		return ""
	}
	first := 0
	for i := 1; i < n; i++ {
		a, b := c.Edges[i], c.Edges[first]
		if a.PoolID < b.PoolID || (a.PoolID == b.PoolID && a.TokenIn < b.TokenIn) {
			first = i
		}
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		e := c.Edges[(first+i)%n]
		if i > 0 {
			sb.WriteByte('>')
		}
		sb.WriteString(strconv.FormatUint(e.PoolID, 10))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(e.TokenIn, 10))
	}
	return sb.String()
}

func (c Cycle) String() string {
	var sb strings.Builder
	for i, token := range c.Tokens() {
		if i > 0 {
			sb.WriteString(fmt.Sprintf(" -[%d]-> ", c.Edges[i-1].PoolID))
		}
		sb.WriteString(strconv.FormatUint(token, 10))
	}
	return sb.String()
}

// Quote chains amm.QuoteOutput across every hop and returns each hop's
// output. The last element is the amount returned to StartToken.
func (c Cycle) Quote(pools PoolSource, amountIn *big.Int) ([]*big.Int, error) {
	outputs := make([]*big.Int, len(c.Edges))
	amount := amountIn
	for i, e := range c.Edges {
		p, ok := pools.Pool(e.PoolID)
		if !ok {
			return nil, fmt.Errorf("%w: pool %d is not in the snapshot", protocols.ErrInvalidPool, e.PoolID)
		}
		out, err := amm.QuoteOutput(p, amount, e.TokenIn)
		if err != nil {
			return nil, fmt.Errorf("hop %d (pool %d): %w", i, e.PoolID, err)
		}
		outputs[i] = out
		amount = out
	}
	return outputs, nil
}

// FinalOutput is the amount of StartToken returned for amountIn.
func (c Cycle) FinalOutput(pools PoolSource, amountIn *big.Int) (*big.Int, error) {
	outputs, err := c.Quote(pools, amountIn)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return new(big.Int).Set(amountIn), nil
	}
	return outputs[len(outputs)-1], nil
}
