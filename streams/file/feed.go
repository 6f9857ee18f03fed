// Package file serves pool state from a JSON document on disk, in the same
// shape as the stream's full-state payload. The file is re-read on every
// refresh so it can be rewritten while the engine runs.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/streams/jsonrpc/stateops"
)

// Decoder converts a full state into a batch.
type Decoder interface {
	DecodeState(s *stateops.State) (state.Batch, error)
}

// Feed implements state.Feed.
type Feed struct {
	path    string
	decoder Decoder
}

func NewFeed(path string, decoder Decoder) (*Feed, error) {
	if path == "" {
		return nil, errors.New("file feed: path is required")
	}
	if decoder == nil {
		return nil, errors.New("file feed: decoder is required")
	}
	return &Feed{path: path, decoder: decoder}, nil
}

func (f *Feed) Refresh(ctx context.Context) (state.Batch, error) {
	if err := ctx.Err(); err != nil {
		return state.Batch{}, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return state.Batch{}, fmt.Errorf("read pool file: %w", err)
	}
	var s stateops.State
	if err := json.Unmarshal(data, &s); err != nil {
		return state.Batch{}, fmt.Errorf("parse pool file %s: %w", f.path, err)
	}
	return f.decoder.DecodeState(&s)
}
