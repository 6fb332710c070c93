package engine

import (
	"context"
	"fmt"

	"gocuria/blockchain"
	"gocuria/codec"
)

// serializeDelta encodes every value in delta through the engine's
// codec so it can be handed to the store's []byte-typed
// SetBlockStates.
func (e *Engine) serializeDelta(delta blockchain.StateDelta) (map[blockchain.StateKey][]byte, error) {
	if len(delta) == 0 {
		return nil, nil
	}
	out := make(map[blockchain.StateKey][]byte, len(delta))
	for k, v := range delta {
		b, err := e.enc.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("engine: encode state %q: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

// stateLookup builds the ActionContext.PreviousStates accessor bound to
// chain as of atBlockIndex (spec section 4.3.3's get_state algorithm),
// used during action evaluation so an action can read state written by
// earlier blocks.
func (e *Engine) stateLookup(ctx context.Context, chain blockchain.ChainId, atBlockIndex int64) blockchain.StateLookup {
	return func(key blockchain.StateKey) (codec.Value, bool, error) {
		v, ok, err := e.getStateAt(ctx, chain, key, atBlockIndex)
		return v, ok, err
	}
}

func (e *Engine) getStateAt(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, atBlockIndex int64) (codec.Value, bool, error) {
	ref, err := e.store.LookupStateReference(ctx, chain, key, atBlockIndex)
	if err != nil {
		return nil, false, err
	}
	if ref == nil {
		return nil, false, nil
	}
	states, err := e.store.GetBlockStates(ctx, ref.BlockHash)
	if err != nil {
		return nil, false, err
	}
	raw, ok := states[key]
	if !ok {
		return nil, false, nil
	}
	v, err := e.enc.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("engine: decode state %q: %w", key, err)
	}
	return v, true, nil
}

// GetState implements spec section 4.3.3: the value of key on chain as
// of atBlockIndex (the tip, if negative).
func (e *Engine) GetState(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, atBlockIndex int64) (codec.Value, bool, error) {
	if atBlockIndex < 0 {
		tip := e.Tip()
		if tip == nil {
			return nil, false, nil
		}
		atBlockIndex = tip.Index
	}
	return e.getStateAt(ctx, chain, key, atBlockIndex)
}

// GetStates batches GetState over keys.
func (e *Engine) GetStates(ctx context.Context, chain blockchain.ChainId, keys []blockchain.StateKey, atBlockIndex int64) (map[blockchain.StateKey]codec.Value, error) {
	out := map[blockchain.StateKey]codec.Value{}
	for _, key := range keys {
		v, ok, err := e.GetState(ctx, chain, key, atBlockIndex)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}
