package blockchain

import (
	"fmt"
	"sort"

	"gocuria/codec"
)

// ActionContext is built by the engine for every action evaluated (spec
// section 4.3.2): the signer and miner of the containing tx/block, the
// block's own index/hash, a lazy accessor back into already-written
// state, and a deterministic per-action random seed.
type ActionContext struct {
	Signer        Address
	Miner         Address
	BlockIndex    int64
	BlockHash     HashDigest
	RandomSeed    int32
	PreviousStates StateLookup
}

// StateLookup is the lazy accessor an ActionContext exposes so an action
// can read state written by earlier blocks (or earlier actions within the
// same block, via the in-progress accumulator) without the engine
// eagerly materializing the whole world.
type StateLookup func(key StateKey) (codec.Value, bool, error)

// Action is a deterministic state-transforming step within a
// transaction (spec section 9 design note): Execute produces the state
// delta it writes (or an error, which does not abort the block — see
// spec section 4.3.2/7), and PlainValue/LoadPlainValue give the
// tagged-variant serialize/deserialize glue the store needs to persist
// an opaque Action behind an interface.
type Action interface {
	Type() string
	Execute(ctx ActionContext) (StateDelta, error)
	PlainValue() codec.Value
	LoadPlainValue(v codec.Value) error
}

// ActionFactory constructs a zero-value Action ready for LoadPlainValue,
// keyed by Type() in the registry below.
type ActionFactory func() Action

// ActionRegistry is the tagged-variant registry: it lets the store
// serialize/deserialize an interface-typed Action without the core
// knowing concrete application action types ahead of time.
type ActionRegistry struct {
	factories map[string]ActionFactory
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{factories: make(map[string]ActionFactory)}
}

func (r *ActionRegistry) Register(tag string, f ActionFactory) {
	r.factories[tag] = f
}

// Encode wraps an Action's tag and plain value into a codec.Dict so it
// can be nested inside a transaction's canonical encoding.
func (r *ActionRegistry) Encode(a Action) codec.Value {
	return codec.Dict{
		"type":  a.Type(),
		"value": a.PlainValue(),
	}
}

func (r *ActionRegistry) Decode(v codec.Value) (Action, error) {
	d, ok := v.(codec.Dict)
	if !ok {
		return nil, fmt.Errorf("blockchain: action envelope is not a dict")
	}
	tag, ok := d["type"].(string)
	if !ok {
		return nil, fmt.Errorf("blockchain: action envelope missing type tag")
	}
	factory, ok := r.factories[tag]
	if !ok {
		return nil, fmt.Errorf("blockchain: no action registered for type %q", tag)
	}
	action := factory()
	if err := action.LoadPlainValue(d["value"]); err != nil {
		return nil, fmt.Errorf("blockchain: load action %q: %w", tag, err)
	}
	return action, nil
}

// EvaluateBlock runs every transaction's actions in the block's
// canonical order (spec section 4.3.2), folding per-action deltas into
// the block-wide delta and recording per-action errors without aborting
// the block. It returns the accumulated StateDelta and, per action, an
// ActionOutcome describing what happened — consumed by the renderer
// pipeline to emit render_action / render_action_error events.
type ActionOutcome struct {
	TxIndex     int
	ActionIndex int
	Action      Action
	Context     ActionContext
	Delta       StateDelta
	Err         error
}

// EvaluateBlock runs blockAction (if non-nil, the policy's block-level
// action — spec section 4.6's "block_action", e.g. a miner reward) once
// ahead of the block's own transactions, then every transaction's
// actions in canonical order, folding deltas and recording outcomes.
func EvaluateBlock(block *Block, blockHash HashDigest, priorStates StateLookup, blockAction Action) (StateDelta, []ActionOutcome) {
	accumulated := StateDelta{}
	var outcomes []ActionOutcome

	var miner Address
	if block.Miner != nil {
		miner = *block.Miner
	}

	lookup := func(key StateKey) (codec.Value, bool, error) {
		if v, ok := accumulated[key]; ok {
			return v, true, nil
		}
		return priorStates(key)
	}

	if blockAction != nil {
		ctx := ActionContext{
			Signer:         miner,
			Miner:          miner,
			BlockIndex:     block.Index,
			BlockHash:      blockHash,
			RandomSeed:     blockHashInt32(blockHash),
			PreviousStates: lookup,
		}
		delta, err := blockAction.Execute(ctx)
		outcomes = append(outcomes, ActionOutcome{
			TxIndex: -1, ActionIndex: 0, Action: blockAction, Context: ctx, Delta: delta, Err: err,
		})
		if err == nil {
			accumulated.Merge(delta)
		}
	}

	for txIdx, tx := range block.Transactions {
		sigInt := int32SignatureFold(tx.Signature)
		for actIdx, action := range tx.Actions {
			seed := blockHashInt32(blockHash) ^ sigInt ^ int32(actIdx)
			ctx := ActionContext{
				Signer:         tx.Signer,
				Miner:          miner,
				BlockIndex:     block.Index,
				BlockHash:      blockHash,
				RandomSeed:     seed,
				PreviousStates: lookup,
			}
			delta, err := action.Execute(ctx)
			outcomes = append(outcomes, ActionOutcome{
				TxIndex: txIdx, ActionIndex: actIdx, Action: action, Context: ctx, Delta: delta, Err: err,
			})
			if err == nil {
				accumulated.Merge(delta)
			}
		}
	}

	return accumulated, outcomes
}

func blockHashInt32(h HashDigest) int32 {
	var n int32
	for i := 0; i < 4; i++ {
		n = n<<8 | int32(h[i])
	}
	return n
}

func int32SignatureFold(sig []byte) int32 {
	var n int32
	for i, b := range sig {
		n ^= int32(b) << uint((i%4)*8)
	}
	return n
}

// TouchedAddresses returns the set of addresses a tx's actions actually
// wrote, derived from the tx's own evaluation outcomes — used by the
// engine to enforce "every address actually updated ... is in
// updated_addresses" (spec section 4.2).
func TouchedAddresses(outcomes []ActionOutcome, txIdx int) []StateKey {
	seen := map[StateKey]bool{}
	var out []StateKey
	for _, o := range outcomes {
		if o.TxIndex != txIdx || o.Err != nil {
			continue
		}
		for k := range o.Delta {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
