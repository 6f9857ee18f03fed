package stateops

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type ProtocolID string

// ProtocolSchema defines the decode contract for a protocol's data.
type ProtocolSchema string

type ProtocolMeta struct {
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// BlockSummary carries the block fields the engine reports and measures
// latency against.
type BlockSummary struct {
	Number     *big.Int    `json:"number"`
	Hash       common.Hash `json:"hash"`
	Timestamp  uint64      `json:"timestamp"`
	ReceivedAt int64       `json:"receivedAt"` // unix nanoseconds when the server started on the block
}

// BlockNumber is the block height, zero when the summary carries none.
func (b BlockSummary) BlockNumber() uint64 {
	if b.Number == nil || !b.Number.IsUint64() {
		return 0
	}
	return b.Number.Uint64()
}

// ProtocolState is one protocol's complete view. Data stays raw until it is
// decoded against Schema.
type ProtocolState struct {
	Meta              ProtocolMeta    `json:"meta"`
	SyncedBlockNumber *uint64         `json:"syncedBlockNumber,omitempty"`
	Schema            ProtocolSchema  `json:"schema"`
	Data              json.RawMessage `json:"data,omitempty"`
	// Error is set when the protocol is out of sync for this block.
	Error string `json:"error,omitempty"`
}

// State is a full snapshot of every protocol at one block.
type State struct {
	ChainID   uint64                       `json:"chainId"`
	Timestamp uint64                       `json:"timestamp"`
	Block     BlockSummary                 `json:"block"`
	Protocols map[ProtocolID]ProtocolState `json:"protocols"`
}

// ProtocolDiff is one protocol's change set. Data is shaped by Schema's diff type.
type ProtocolDiff struct {
	Meta              ProtocolMeta    `json:"meta"`
	SyncedBlockNumber *uint64         `json:"syncedBlockNumber,omitempty"`
	Schema            ProtocolSchema  `json:"schema"`
	Data              json.RawMessage `json:"data,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// StateDiff moves a State from FromBlock to ToBlock.
type StateDiff struct {
	FromBlock uint64                      `json:"fromBlock"`
	ToBlock   BlockSummary                `json:"toBlock"`
	Timestamp uint64                      `json:"timestamp"`
	Protocols map[ProtocolID]ProtocolDiff `json:"protocols"`
}
