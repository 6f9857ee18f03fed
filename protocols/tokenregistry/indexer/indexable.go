package indexer

import (
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

// Index provides fast lookups over an immutable token set. Tokens are kept
// sorted by ID.
type Index struct {
	byID      map[uint64]tokenregistry.Token
	byAddress map[common.Address]tokenregistry.Token
	bySymbol  map[string]tokenregistry.Token
	all       []tokenregistry.Token
}

var _ IndexedTokens = (*Index)(nil)

// New indexes tokens. When two tokens share an ID the later one wins. The
// symbol index is case-insensitive and skips ambiguous symbols.
func New(tokens []tokenregistry.Token) *Index {
	byID := make(map[uint64]tokenregistry.Token, len(tokens))
	for _, t := range tokens {
		byID[t.ID] = t
	}

	all := make([]tokenregistry.Token, 0, len(byID))
	byAddress := make(map[common.Address]tokenregistry.Token, len(byID))
	bySymbol := make(map[string]tokenregistry.Token, len(byID))
	ambiguous := make(map[string]bool)
	for _, t := range byID {
		all = append(all, t)
		if t.Address != (common.Address{}) {
			byAddress[t.Address] = t
		}
		if t.Symbol == "" {
			continue
		}
		key := strings.ToUpper(t.Symbol)
		if _, dup := bySymbol[key]; dup {
			ambiguous[key] = true
		}
		bySymbol[key] = t
	}
	for key := range ambiguous {
		delete(bySymbol, key)
	}
	slices.SortFunc(all, func(a, b tokenregistry.Token) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	return &Index{byID: byID, byAddress: byAddress, bySymbol: bySymbol, all: all}
}

func (idx *Index) GetByID(id uint64) (tokenregistry.Token, bool) {
	t, ok := idx.byID[id]
	return t, ok
}

func (idx *Index) GetByAddress(address common.Address) (tokenregistry.Token, bool) {
	t, ok := idx.byAddress[address]
	return t, ok
}

func (idx *Index) GetBySymbol(symbol string) (tokenregistry.Token, bool) {
	t, ok := idx.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// All returns a defensive copy of the tokens, ordered by ID.
func (idx *Index) All() []tokenregistry.Token {
	return slices.Clone(idx.all)
}

func (idx *Index) Len() int {
	return len(idx.all)
}
