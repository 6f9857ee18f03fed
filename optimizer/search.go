package optimizer

import (
	"fmt"
	"math/big"
)

// ProfitFunc evaluates profit at a start-token amount.
type ProfitFunc func(x *big.Int) (*big.Int, error)

// golden ratio conjugate, 0.618034, as a fraction of one million
var (
	phiNum = big.NewInt(618034)
	phiDen = big.NewInt(1_000_000)
)

// GoldenSection maximises f over the integer interval [lo, hi], assuming f is
// unimodal there. It returns 0 when f does not increase away from lo and hi
// when f is still increasing at hi. slack is the rounding noise, in f's units,
// tolerated before an interior sample below both endpoints counts as evidence
// that f has more than one peak.
func GoldenSection(f ProfitFunc, lo, hi, tolerance *big.Int, maxIterations int, slack int) (*big.Int, int, error) {
	if hi.Cmp(lo) <= 0 {
		return nil, 0, fmt.Errorf("%w: empty interval [%s, %s]", ErrNoBracket, lo, hi)
	}

	step := new(big.Int).Set(tolerance)
	if width := new(big.Int).Sub(hi, lo); step.Cmp(width) > 0 {
		step = width
	}

	fLo, err := f(lo)
	if err != nil {
		return nil, 0, err
	}
	fLoStep, err := f(new(big.Int).Add(lo, step))
	if err != nil {
		return nil, 0, err
	}
	if fLoStep.Cmp(fLo) <= 0 {
		if fLo.Sign() > 0 {
			return new(big.Int).Set(lo), 0, nil
		}
		return new(big.Int), 0, nil
	}

	fHi, err := f(hi)
	if err != nil {
		return nil, 0, err
	}
	fHiStep, err := f(new(big.Int).Sub(hi, step))
	if err != nil {
		return nil, 0, err
	}
	if fHi.Cmp(fHiStep) >= 0 {
		return new(big.Int).Set(hi), 0, nil
	}

	floor := new(big.Int).Set(fLo)
	if fHi.Cmp(floor) < 0 {
		floor.Set(fHi)
	}
	floor.Sub(floor, big.NewInt(int64(slack)))

	a, b := new(big.Int).Set(lo), new(big.Int).Set(hi)
	c, d := probes(a, b)
	fc, err := f(c)
	if err != nil {
		return nil, 0, err
	}
	fd, err := f(d)
	if err != nil {
		return nil, 0, err
	}
	if fc.Cmp(floor) < 0 || fd.Cmp(floor) < 0 {
		return nil, 0, fmt.Errorf("%w: interior sample below both endpoints", ErrNoBracket)
	}

	iterations := 0
	width := new(big.Int)
	for width.Sub(b, a).Cmp(tolerance) > 0 && c.Cmp(d) < 0 {
		if iterations >= maxIterations {
			return nil, iterations, fmt.Errorf("%w: bracket [%s, %s] after %d iterations", ErrMaxIterationsExceeded, a, b, iterations)
		}
		iterations++

		if fc.Cmp(fd) < 0 {
			a = c
			c, fc = d, fd
			_, d = probes(a, b)
			if d.Cmp(c) <= 0 {
				break
			}
			if fd, err = f(d); err != nil {
				return nil, iterations, err
			}
		} else {
			b = d
			d, fd = c, fc
			c, _ = probes(a, b)
			if c.Cmp(d) >= 0 {
				break
			}
			if fc, err = f(c); err != nil {
				return nil, iterations, err
			}
		}
	}

	mid := new(big.Int).Add(a, b)
	mid.Rsh(mid, 1)
	fMid, err := f(mid)
	if err != nil {
		return nil, iterations, err
	}
	best, fBest := mid, fMid
	if fc.Cmp(fBest) > 0 {
		best, fBest = c, fc
	}
	if fd.Cmp(fBest) > 0 {
		best = d
	}
	return best, iterations, nil
}

// probes returns the two interior golden-section points of [a, b].
func probes(a, b *big.Int) (c, d *big.Int) {
	span := new(big.Int).Sub(b, a)
	span.Mul(span, phiNum)
	span.Quo(span, phiDen)
	c = new(big.Int).Sub(b, span)
	d = new(big.Int).Add(a, span)
	return c, d
}
