// Package bitset is a fixed-width set of small non-negative integers. The
// cycle detector keys it by graph vertex index to keep candidate paths simple.
package bitset

import (
	"fmt"
	"math/bits"
)

const wordSize = 64

// BitSet holds one bit per index. Its width is fixed at construction.
type BitSet []uint64

// New returns a bitset wide enough for indices in [0, n).
func New(n int) BitSet {
	if n < 0 {
		n = 0
	}
	return make(BitSet, (n+wordSize-1)/wordSize)
}

func (b BitSet) Has(i int) bool {
	return b[i/wordSize]&(1<<(uint(i)%wordSize)) != 0
}

func (b BitSet) Add(i int) {
	b[i/wordSize] |= 1 << (uint(i) % wordSize)
}

func (b BitSet) Remove(i int) {
	b[i/wordSize] &^= 1 << (uint(i) % wordSize)
}

// Len reports the number of members.
func (b BitSet) Len() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b BitSet) Reset() {
	clear(b)
}

// Clone returns an independent copy.
func (b BitSet) Clone() BitSet {
	c := make(BitSet, len(b))
	copy(c, b)
	return c
}

// CopyFrom overwrites b with o. Both sets must have the same width.
func (b BitSet) CopyFrom(o BitSet) {
	if len(b) != len(o) {
		panic(fmt.Sprintf("bitset width mismatch: %d vs %d words", len(b), len(o)))
	}
	copy(b, o)
}
