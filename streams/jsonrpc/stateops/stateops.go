// Package stateops decodes the state stream's per-protocol views into the
// engine's token and pool model. Each schema maps to one full-state decoder
// and one diff decoder.
package stateops

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/defistate/arbitrage-engine/amm"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
	uniswapv2 "github.com/defistate/arbitrage-engine/protocols/uniswapv2"
	uniswapv3 "github.com/defistate/arbitrage-engine/protocols/uniswapv3"
	"github.com/defistate/arbitrage-engine/state"
)

// AMMSchema carries pools already in the engine's model, stable-swap pools included.
const AMMSchema ProtocolSchema = "arbitrage/amm/Pool@v1"

var ErrUnknownSchema = errors.New("unknown schema")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AMMDiff is the change set for AMMSchema.
type AMMDiff struct {
	Upserts   []amm.Pool `json:"upserts,omitempty"`
	Deletions []uint64   `json:"deletions,omitempty"`
}

// decoded accumulates the tokens and pools of every protocol in one event.
type decoded struct {
	tokens    []tokenregistry.Token
	pools     []amm.Pool
	deletions []uint64
	// inDiff turns unconvertible pools into deletions so stale state cannot linger.
	inDiff   bool
	rejected []rejectedPool
}

type rejectedPool struct {
	id  uint64
	err error
}

func (d *decoded) add(id uint64, convert func() (amm.Pool, error)) {
	p, err := convert()
	if err != nil {
		d.rejected = append(d.rejected, rejectedPool{id: id, err: err})
		if d.inDiff {
			d.deletions = append(d.deletions, id)
		}
		return
	}
	d.pools = append(d.pools, p)
}

type decoderFunc func(data json.RawMessage, out *decoded) error

// StateOps turns State and StateDiff events into store writes.
type StateOps struct {
	logger Logger
	states map[ProtocolSchema]decoderFunc
	diffs  map[ProtocolSchema]decoderFunc
}

func NewStateOps(logger Logger) (*StateOps, error) {
	if logger == nil {
		return nil, errors.New("stateops: Logger is required")
	}
	return &StateOps{
		logger: logger,
		states: map[ProtocolSchema]decoderFunc{
			tokenregistry.Schema: decodeTokens,
			uniswapv2.Schema:     decodeUniswapV2,
			uniswapv3.Schema:     decodeUniswapV3,
			AMMSchema:            decodeAMM,
		},
		diffs: map[ProtocolSchema]decoderFunc{
			tokenregistry.Schema: decodeTokenDiff,
			uniswapv2.Schema:     decodeUniswapV2Diff,
			uniswapv3.Schema:     decodeUniswapV3Diff,
			AMMSchema:            decodeAMMDiff,
		},
	}, nil
}

// Schemas lists the schemas StateOps can decode.
func (ops *StateOps) Schemas() []ProtocolSchema {
	return slices.Sorted(maps.Keys(ops.states))
}

// DecodeState converts a full state into a replacement batch. Protocols that
// report an error are left out; pools that cannot be converted are dropped.
func (ops *StateOps) DecodeState(s *State) (state.Batch, error) {
	out := &decoded{}
	for _, id := range slices.Sorted(maps.Keys(s.Protocols)) {
		ps := s.Protocols[id]
		if ps.Error != "" {
			ops.logger.Warn("protocol out of sync, skipping", "protocol", id, "error", ps.Error)
			continue
		}
		decode, ok := ops.states[ps.Schema]
		if !ok {
			return state.Batch{}, fmt.Errorf("%w: %q for protocol %s", ErrUnknownSchema, ps.Schema, id)
		}
		if err := decode(ps.Data, out); err != nil {
			return state.Batch{}, fmt.Errorf("failed to decode state for protocol %s: %w", id, err)
		}
	}
	ops.logRejected(out, s.Block.BlockNumber())
	return state.Batch{
		Block:  s.Block.BlockNumber(),
		Tokens: out.tokens,
		Pools:  out.pools,
	}, nil
}

// DecodeDiff converts a diff into a store update.
func (ops *StateOps) DecodeDiff(d *StateDiff) (state.Update, error) {
	out := &decoded{inDiff: true}
	for _, id := range slices.Sorted(maps.Keys(d.Protocols)) {
		pd := d.Protocols[id]
		if pd.Error != "" {
			ops.logger.Warn("protocol out of sync, skipping diff", "protocol", id, "error", pd.Error)
			continue
		}
		decode, ok := ops.diffs[pd.Schema]
		if !ok {
			return state.Update{}, fmt.Errorf("%w: %q for protocol %s", ErrUnknownSchema, pd.Schema, id)
		}
		if err := decode(pd.Data, out); err != nil {
			return state.Update{}, fmt.Errorf("failed to decode diff data for protocol %s: %w", id, err)
		}
	}
	ops.logRejected(out, d.ToBlock.BlockNumber())
	return state.Update{
		Block:     d.ToBlock.BlockNumber(),
		Tokens:    out.tokens,
		Upserts:   out.pools,
		Deletions: out.deletions,
	}, nil
}

func (ops *StateOps) logRejected(out *decoded, block uint64) {
	for _, r := range out.rejected {
		ops.logger.Warn("dropping unconvertible pool", "block", block, "pool", r.id, "error", r.err)
	}
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func decodeTokens(data json.RawMessage, out *decoded) error {
	var tokens []tokenregistry.Token
	if err := unmarshal(data, &tokens); err != nil {
		return err
	}
	out.tokens = append(out.tokens, tokens...)
	return nil
}

// decodeTokenDiff merges additions and updates. Deletions are ignored: the
// store keeps tokens for as long as it runs.
func decodeTokenDiff(data json.RawMessage, out *decoded) error {
	var diff tokenregistry.Diff
	if err := unmarshal(data, &diff); err != nil {
		return err
	}
	out.tokens = append(out.tokens, diff.Additions...)
	out.tokens = append(out.tokens, diff.Updates...)
	return nil
}

func decodeUniswapV2(data json.RawMessage, out *decoded) error {
	var views []uniswapv2.Pool
	if err := unmarshal(data, &views); err != nil {
		return err
	}
	addUniswapV2(views, out)
	return nil
}

func decodeUniswapV2Diff(data json.RawMessage, out *decoded) error {
	var diff uniswapv2.Diff
	if err := unmarshal(data, &diff); err != nil {
		return err
	}
	out.deletions = append(out.deletions, diff.Deletions...)
	addUniswapV2(diff.Additions, out)
	addUniswapV2(diff.Updates, out)
	return nil
}

func addUniswapV2(views []uniswapv2.Pool, out *decoded) {
	for _, v := range views {
		out.add(v.ID, v.ToAMM)
	}
}

func decodeUniswapV3(data json.RawMessage, out *decoded) error {
	var views []uniswapv3.Pool
	if err := unmarshal(data, &views); err != nil {
		return err
	}
	addUniswapV3(views, out)
	return nil
}

func decodeUniswapV3Diff(data json.RawMessage, out *decoded) error {
	var diff uniswapv3.Diff
	if err := unmarshal(data, &diff); err != nil {
		return err
	}
	out.deletions = append(out.deletions, diff.Deletions...)
	addUniswapV3(diff.Additions, out)
	addUniswapV3(diff.Updates, out)
	return nil
}

func addUniswapV3(views []uniswapv3.Pool, out *decoded) {
	for i := range views {
		out.add(views[i].ID, views[i].ToAMM)
	}
}

func decodeAMM(data json.RawMessage, out *decoded) error {
	var pools []amm.Pool
	if err := unmarshal(data, &pools); err != nil {
		return err
	}
	addAMM(pools, out)
	return nil
}

func decodeAMMDiff(data json.RawMessage, out *decoded) error {
	var diff AMMDiff
	if err := unmarshal(data, &diff); err != nil {
		return err
	}
	out.deletions = append(out.deletions, diff.Deletions...)
	addAMM(diff.Upserts, out)
	return nil
}

func addAMM(pools []amm.Pool, out *decoded) {
	for _, p := range pools {
		out.add(p.ID(), func() (amm.Pool, error) {
			if p.IsZero() {
				return amm.Pool{}, fmt.Errorf("%w: kind %s without a matching payload", state.ErrMalformedPool, p.Kind)
			}
			return p, nil
		})
	}
}
