package engine

import (
	"context"
	"encoding/hex"
	"fmt"

	"gocuria/blockchain"
	"gocuria/chainerr"
	"gocuria/store"
)

// Append validates block against the current canonical tip, evaluates
// its actions, and — if everything succeeds — durably commits it and
// emits render events. It implements spec section 4.3's Append steps
// 1-5, including the cumulative-difficulty reorg check in 4.3.4: if
// block does not extend the current tip but starts (or extends) a
// competing branch whose total difficulty, once block is appended,
// exceeds the canonical chain's, Append performs a reorg instead of a
// rejection.
func (e *Engine) Append(ctx context.Context, block *blockchain.Block) error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if err := block.ValidateStandalone(e.now()); err != nil {
		return err
	}
	if err := e.validateTransactions(block); err != nil {
		return err
	}

	tip := e.Tip()
	chain := e.CanonicalChainId()

	if tip == nil {
		return fmt.Errorf("engine: no canonical chain; call InitGenesis first")
	}

	tipHash, ok := tip.Hash()
	if !ok {
		return fmt.Errorf("engine: canonical tip has no cached hash")
	}

	if block.PreviousHash != nil && *block.PreviousHash == tipHash {
		return e.appendOnTip(ctx, chain, tip, block)
	}

	return e.maybeReorg(ctx, chain, tip, block)
}

// appendOnTip handles the common case: block extends the current
// canonical tip directly.
func (e *Engine) appendOnTip(ctx context.Context, chain blockchain.ChainId, tip, block *blockchain.Block) error {
	if err := e.validateAgainstParent(ctx, chain, tip, block); err != nil {
		return err
	}

	hash, outcomes, err := e.commitBlock(ctx, chain, block)
	if err != nil {
		return err
	}

	e.canonMu.Lock()
	e.tip, e.tipHash = block, hash
	e.canonMu.Unlock()

	e.renderer.RenderBlock(tip, block)
	for _, o := range outcomes {
		if o.Err != nil {
			e.renderer.RenderActionError(o.Action, o.Context, o.Err)
		} else {
			e.renderer.RenderAction(o.Action, o.Context, o.Delta)
		}
	}
	e.renderer.RenderBlockEnd(tip, block)
	return nil
}

// validateAgainstParent implements spec section 4.3.1's chain
// validation rules for the single new block being appended on top of
// parent (whose own validity is already known, since it is already
// part of the stored chain).
func (e *Engine) validateAgainstParent(ctx context.Context, chain blockchain.ChainId, parent, block *blockchain.Block) error {
	if block.Index != parent.Index+1 {
		return chainerr.ErrInvalidBlockIndex
	}
	if block.PreviousHash == nil {
		return chainerr.ErrInvalidBlockPreviousHash
	}
	parentHash, ok := parent.Hash()
	if !ok || *block.PreviousHash != parentHash {
		return chainerr.ErrInvalidBlockPreviousHash
	}
	if !block.Timestamp.After(parent.Timestamp) {
		return chainerr.ErrInvalidBlockTimestamp
	}
	if block.Timestamp.After(e.now()) {
		return chainerr.ErrInvalidBlockTimestamp
	}

	expected, err := e.policy.GetNextDifficulty(chain)
	if err != nil {
		return err
	}
	if block.Difficulty < expected {
		return chainerr.ErrInvalidBlockDifficulty
	}
	if err := e.policy.ValidateNextBlock(chain, block); err != nil {
		return err
	}

	return e.validateNonces(ctx, chain, block)
}

// validateNonces checks that every tx's nonce equals the signer's
// stored nonce plus the count of that signer's prior txs within the
// same block (spec section 4.3.1's "consecutive and strictly
// increasing" rule).
func (e *Engine) validateNonces(ctx context.Context, chain blockchain.ChainId, block *blockchain.Block) error {
	seenInBlock := map[blockchain.Address]int64{}
	for _, tx := range block.Transactions {
		base, err := e.store.GetTxNonce(ctx, chain, tx.Signer)
		if err != nil {
			return err
		}
		expected := base + seenInBlock[tx.Signer]
		if tx.Nonce != expected {
			return chainerr.ErrInvalidTxNonce
		}
		seenInBlock[tx.Signer]++
	}
	return nil
}

// commitBlock evaluates block's actions and hands the resulting write
// set (block, index, block states, state references, transactions,
// nonce increments, unstaging) to the store as a single CommitBlock
// call, so the engine never leaves a chain half-committed on a
// mid-sequence store failure. It returns the block's hash and
// per-action outcomes; it does not touch the renderer or the
// in-memory tip cache — callers decide how to present the commit
// (plain append vs reorg).
func (e *Engine) commitBlock(ctx context.Context, chain blockchain.ChainId, block *blockchain.Block) (blockchain.HashDigest, []blockchain.ActionOutcome, error) {
	hash, ok := block.Hash()
	if !ok {
		return hash, nil, fmt.Errorf("engine: block has not been hashed")
	}

	lookup := e.stateLookup(ctx, chain, block.Index-1)
	delta, outcomes := blockchain.EvaluateBlock(block, hash, lookup, e.policy.BlockAction())

	if err := e.checkUpdatedAddresses(block, outcomes); err != nil {
		return hash, nil, err
	}

	serialized, err := e.serializeDelta(delta)
	if err != nil {
		return hash, nil, err
	}

	commit := store.BlockCommit{
		Chain:     chain,
		Block:     block,
		Hash:      hash,
		States:    serialized,
		StateKeys: delta.Keys(),
	}
	for _, tx := range block.Transactions {
		id, err := tx.Id(e.enc, e.reg)
		if err != nil {
			return hash, nil, err
		}
		commit.Txs = append(commit.Txs, store.TxCommit{Tx: tx, Id: id, Signer: tx.Signer})
	}

	if err := e.store.CommitBlock(ctx, commit); err != nil {
		return hash, nil, err
	}

	return hash, outcomes, nil
}

// checkUpdatedAddresses enforces spec section 4.2/4.3.2's rule that a
// tx touching an address outside its declared updated_addresses makes
// the whole block invalid.
func (e *Engine) checkUpdatedAddresses(block *blockchain.Block, outcomes []blockchain.ActionOutcome) error {
	for txIdx, tx := range block.Transactions {
		touched := blockchain.TouchedAddresses(outcomes, txIdx)
		for _, key := range touched {
			addr, ok := addressFromStateKey(key)
			if !ok {
				continue
			}
			if !tx.DeclaresAddress(addr) {
				return chainerr.ErrInvalidTxUpdatedAddresses
			}
		}
	}
	return nil
}

// validateTransactions checks spec section 4.2's "every contained
// transaction validates" rule — signature verification and
// signer-matches-public-key — for every transaction in block.
func (e *Engine) validateTransactions(block *blockchain.Block) error {
	for _, tx := range block.Transactions {
		if err := blockchain.ValidateTransaction(e.enc, e.reg, e.backend, tx); err != nil {
			return err
		}
	}
	return nil
}

func addressFromStateKey(key blockchain.StateKey) (blockchain.Address, bool) {
	var a blockchain.Address
	if len(key) != len(a)*2 {
		return a, false
	}
	b, err := hex.DecodeString(string(key))
	if err != nil || len(b) != len(a) {
		return a, false
	}
	copy(a[:], b)
	return a, true
}
