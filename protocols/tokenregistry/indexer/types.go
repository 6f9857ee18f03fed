package indexer

import (
	"github.com/ethereum/go-ethereum/common"

	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

// IndexedTokens is the read side of a token index.
type IndexedTokens interface {
	GetByID(id uint64) (tokenregistry.Token, bool)
	GetByAddress(address common.Address) (tokenregistry.Token, bool)
	GetBySymbol(symbol string) (tokenregistry.Token, bool)
	All() []tokenregistry.Token
	Len() int
}
