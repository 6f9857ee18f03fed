package optimizer

import (
	"math/big"

	"github.com/defistate/arbitrage-engine/amm"
	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/fixedpoint"
)

func closedFormPools(pools cycle.PoolSource, c cycle.Cycle) ([2]amm.Pool, bool) {
	var out [2]amm.Pool
	if c.Hops() != 2 {
		return out, false
	}
	for i, e := range c.Edges {
		p, ok := pools.Pool(e.PoolID)
		if !ok || p.Kind != amm.KindConstantProduct {
			return out, false
		}
		out[i] = p
	}
	return out, true
}

// ClosedForm returns the optimal input of a two-hop constant-product cycle
// paying premiumBps on the borrowed amount. With B the basis-point scale,
// g_i = B - fee_i and Q = B + premiumBps:
//
//	root = isqrt(g1*g2 * R1in*R1out*R2in*R2out * B*Q)
//	x    = (root - R1in*R2in*B*Q) * B / (Q*g1 * (B*R2in + g2*R1out))
//
// x is 0 when root does not exceed R1in*R2in*B*Q. The caller clamps to the
// liquidity cap. Intermediates are unbounded so the products cannot overflow.
func ClosedForm(first, second amm.Pool, c cycle.Cycle, premiumBps uint64) (*big.Int, error) {
	r1in, r1out, err := amm.Reserves(first, c.Edges[0].TokenIn)
	if err != nil {
		return nil, err
	}
	r2in, r2out, err := amm.Reserves(second, c.Edges[1].TokenIn)
	if err != nil {
		return nil, err
	}

	b := new(big.Int).SetUint64(fixedpoint.BasisPoints)
	q := new(big.Int).SetUint64(fixedpoint.BasisPoints + premiumBps)
	g1 := new(big.Int).SetUint64(fixedpoint.BasisPoints - uint64(first.FeeBps()))
	g2 := new(big.Int).SetUint64(fixedpoint.BasisPoints - uint64(second.FeeBps()))
	bq := new(big.Int).Mul(b, q)

	radicand := new(big.Int).Mul(g1, g2)
	radicand.Mul(radicand, r1in)
	radicand.Mul(radicand, r1out)
	radicand.Mul(radicand, r2in)
	radicand.Mul(radicand, r2out)
	radicand.Mul(radicand, bq)
	root := fixedpoint.Sqrt(radicand)

	sub := new(big.Int).Mul(r1in, r2in)
	sub.Mul(sub, bq)
	if root.Cmp(sub) <= 0 {
		return new(big.Int), nil
	}

	num := new(big.Int).Sub(root, sub)
	num.Mul(num, b)

	den := new(big.Int).Mul(b, r2in)
	den.Add(den, new(big.Int).Mul(g2, r1out))
	den.Mul(den, g1)
	den.Mul(den, q)

	return num.Quo(num, den), nil
}
