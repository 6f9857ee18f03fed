package tokenregistry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// MaxDecimals bounds token precision so that one whole unit fits comfortably
// in 256-bit arithmetic.
const MaxDecimals = 36

// Schema is the decode contract for a list of Tokens.
const Schema = "defistate/token-registry/Token@v1"

var ErrInvalidToken = errors.New("invalid token")

// Token is immutable once it enters a snapshot.
type Token struct {
	ID       uint64         `json:"id"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func (t Token) Validate() error {
	if t.Symbol == "" && t.Address == (common.Address{}) {
		return fmt.Errorf("%w: token %d has neither symbol nor address", ErrInvalidToken, t.ID)
	}
	if t.Decimals > MaxDecimals {
		return fmt.Errorf("%w: token %d has %d decimals", ErrInvalidToken, t.ID, t.Decimals)
	}
	return nil
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// Diff is the per-block change set for the token registry.
type Diff struct {
	Additions []Token  `json:"additions,omitempty"`
	Updates   []Token  `json:"updates,omitempty"`
	Deletions []uint64 `json:"deletions,omitempty"`
}
