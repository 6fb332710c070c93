package engine

import (
	"context"
	"crypto/rand"
	"fmt"

	"gocuria/blockchain"
	"gocuria/chainerr"
)

// maybeReorg handles a block that does not extend the current
// canonical tip directly (spec section 4.3.4). If the branch block
// belongs to, once block is appended, does not exceed the canonical
// chain's cumulative difficulty, block is merely cached as a known
// side-branch block so a later sibling can extend it. Otherwise a full
// reorg is performed.
func (e *Engine) maybeReorg(ctx context.Context, chain blockchain.ChainId, tip, block *blockchain.Block) error {
	if block.PreviousHash == nil {
		return chainerr.ErrInvalidBlockPreviousHash
	}
	parent, err := e.store.GetBlock(ctx, *block.PreviousHash)
	if err != nil {
		return err
	}
	if parent == nil {
		return chainerr.ErrOrphanChain
	}
	if block.Index != parent.Index+1 {
		return chainerr.ErrInvalidBlockIndex
	}
	if !block.Timestamp.After(parent.Timestamp) || block.Timestamp.After(e.now()) {
		return chainerr.ErrInvalidBlockTimestamp
	}

	parentTotal, err := e.cumulativeDifficulty(ctx, parent)
	if err != nil {
		return err
	}
	newTotal := parentTotal + block.Difficulty

	canonicalTotal, err := e.TotalDifficulty(ctx, chain)
	if err != nil {
		return err
	}

	if newTotal <= canonicalTotal {
		return e.store.PutBlock(ctx, block)
	}

	return e.performReorg(ctx, chain, tip, block)
}

// cumulativeDifficulty sums difficulty from genesis to b by walking
// PreviousHash links through the store — used for blocks on a
// not-yet-canonical side branch, which have no chain index of their
// own to sum over.
func (e *Engine) cumulativeDifficulty(ctx context.Context, b *blockchain.Block) (int64, error) {
	total := int64(0)
	for b != nil {
		total += b.Difficulty
		if b.PreviousHash == nil {
			return total, nil
		}
		parent, err := e.store.GetBlock(ctx, *b.PreviousHash)
		if err != nil {
			return 0, err
		}
		if parent == nil {
			return 0, chainerr.ErrOrphanChain
		}
		b = parent
	}
	return total, nil
}

// findBranchpoint locates the common ancestor of a and b by walking
// the deeper pointer up to equal index, then both in lockstep, per
// spec section 4.3.4 step 1.
func (e *Engine) findBranchpoint(ctx context.Context, a, b *blockchain.Block) (*blockchain.Block, error) {
	var err error
	for a.Index > b.Index {
		a, err = e.parentBlock(ctx, a)
		if err != nil || a == nil {
			return nil, orOrphan(err)
		}
	}
	for b.Index > a.Index {
		b, err = e.parentBlock(ctx, b)
		if err != nil || b == nil {
			return nil, orOrphan(err)
		}
	}
	for !sameHash(a, b) {
		a, err = e.parentBlock(ctx, a)
		if err != nil {
			return nil, err
		}
		b, err = e.parentBlock(ctx, b)
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			return nil, chainerr.ErrOrphanChain
		}
	}
	return a, nil
}

func orOrphan(err error) error {
	if err != nil {
		return err
	}
	return chainerr.ErrOrphanChain
}

func (e *Engine) parentBlock(ctx context.Context, b *blockchain.Block) (*blockchain.Block, error) {
	if b.PreviousHash == nil {
		return nil, nil
	}
	return e.store.GetBlock(ctx, *b.PreviousHash)
}

func sameHash(a, b *blockchain.Block) bool {
	if a == nil || b == nil {
		return a == b
	}
	ha, ok1 := a.Hash()
	hb, ok2 := b.Hash()
	return ok1 && ok2 && ha == hb
}

// collectAncestryAscending returns the blocks strictly after `from` up
// to and including `to`, in ascending index order, by walking `to`'s
// PreviousHash chain back to `from`.
func (e *Engine) collectAncestryAscending(ctx context.Context, from, to *blockchain.Block) ([]*blockchain.Block, error) {
	var reversed []*blockchain.Block
	cur := to
	for cur != nil && !sameHash(cur, from) {
		reversed = append(reversed, cur)
		parent, err := e.parentBlock(ctx, cur)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	if cur == nil && from != nil {
		return nil, chainerr.ErrOrphanChain
	}
	out := make([]*blockchain.Block, len(reversed))
	for i, b := range reversed {
		out[len(reversed)-1-i] = b
	}
	return out, nil
}

// seedNonces replays every transaction in the shared index prefix
// (genesis..branchpoint) to give dest the same per-signer nonce a
// fresh chain id would otherwise start at 0. source's own live nonce
// table can't be copied directly: it already reflects transactions
// committed past the branchpoint on source's side of the fork, which
// dest must not inherit.
func (e *Engine) seedNonces(ctx context.Context, dest blockchain.ChainId, prefix []blockchain.HashDigest) error {
	counts := map[blockchain.Address]int64{}
	for _, hash := range prefix {
		block, err := e.store.GetBlock(ctx, hash)
		if err != nil {
			return err
		}
		if block == nil {
			return chainerr.ErrOrphanChain
		}
		for _, tx := range block.Transactions {
			counts[tx.Signer]++
		}
	}
	for signer, count := range counts {
		if err := e.store.IncreaseTxNonce(ctx, dest, signer, count); err != nil {
			return err
		}
	}
	return nil
}

// performReorg implements spec section 4.3.4 steps 2-6: allocate a
// fresh chain id, copy the shared index prefix, fork state references,
// replay the new branch, mark it canonical, and emit the reorg render
// sequence from section 4.5.1.
func (e *Engine) performReorg(ctx context.Context, source blockchain.ChainId, oldTip, newLeaf *blockchain.Block) error {
	branchpoint, err := e.findBranchpoint(ctx, oldTip, newLeaf)
	if err != nil {
		return err
	}

	var dest blockchain.ChainId
	if _, err := rand.Read(dest[:]); err != nil {
		return fmt.Errorf("engine: allocate chain id: %w", err)
	}

	prefix, err := e.store.IterateIndexes(ctx, source, 0, branchpoint.Index+1)
	if err != nil {
		return err
	}
	for _, h := range prefix {
		if _, err := e.store.AppendIndex(ctx, dest, h); err != nil {
			return err
		}
	}
	if err := e.store.ForkStateReferences(ctx, source, dest, branchpoint.Index); err != nil {
		return err
	}
	if err := e.seedNonces(ctx, dest, prefix); err != nil {
		return err
	}

	newBranch, err := e.collectAncestryAscending(ctx, branchpoint, newLeaf)
	if err != nil {
		return err
	}

	parent := branchpoint
	newOutcomes := make([][]blockchain.ActionOutcome, 0, len(newBranch))
	for _, b := range newBranch {
		if err := e.validateAgainstParent(ctx, dest, parent, b); err != nil {
			return err
		}
		_, outcomes, err := e.commitBlock(ctx, dest, b)
		if err != nil {
			return err
		}
		newOutcomes = append(newOutcomes, outcomes)
		parent = b
	}

	oldBranch, err := e.collectAncestryAscending(ctx, branchpoint, oldTip)
	if err != nil {
		return err
	}
	oldOutcomes := make([][]blockchain.ActionOutcome, 0, len(oldBranch))
	for _, b := range oldBranch {
		hash, ok := b.Hash()
		if !ok {
			return fmt.Errorf("engine: old-branch block has no cached hash")
		}
		lookup := e.stateLookup(ctx, source, b.Index-1)
		_, outcomes := blockchain.EvaluateBlock(b, hash, lookup, e.policy.BlockAction())
		oldOutcomes = append(oldOutcomes, outcomes)
	}

	if err := e.store.SetCanonicalChainId(ctx, dest); err != nil {
		return err
	}
	e.canonMu.Lock()
	e.canonical = dest
	e.tip = newLeaf
	e.tipHash, _ = newLeaf.Hash()
	e.canonMu.Unlock()

	e.renderer.RenderReorg(oldTip, newLeaf, branchpoint)
	e.renderer.RenderBlock(oldTip, newLeaf)
	for i := len(oldBranch) - 1; i >= 0; i-- {
		outcomes := oldOutcomes[i]
		for j := len(outcomes) - 1; j >= 0; j-- {
			o := outcomes[j]
			if o.Err != nil {
				e.renderer.UnrenderActionError(o.Action, o.Context, o.Err)
			} else {
				e.renderer.UnrenderAction(o.Action, o.Context, o.Delta)
			}
		}
	}
	for _, outcomes := range newOutcomes {
		for _, o := range outcomes {
			if o.Err != nil {
				e.renderer.RenderActionError(o.Action, o.Context, o.Err)
			} else {
				e.renderer.RenderAction(o.Action, o.Context, o.Delta)
			}
		}
	}
	e.renderer.RenderBlockEnd(oldTip, newLeaf)
	e.renderer.RenderReorgEnd(oldTip, newLeaf, branchpoint)

	return nil
}
