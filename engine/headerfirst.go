package engine

import (
	"context"
	"fmt"

	"gocuria/blockchain"
	"gocuria/chainerr"
)

// HeaderFirst runs the structural pre-checks of spec section 4.3.1 —
// index continuity, previous-hash linkage, increasing timestamp, and
// policy difficulty —
// over a candidate header sequence without evaluating any transaction,
// so a peer-protocol adapter can decide whether fetching the full
// block bodies is worth the I/O. It returns the number of leading
// headers that pass (which may be less than len(headers) if the chain
// diverges partway through, still useful to the caller as "fetch up to
// here").
func (e *Engine) HeaderFirst(ctx context.Context, headers []blockchain.BlockHeader) (int, error) {
	chain := e.CanonicalChainId()
	tip := e.Tip()
	if tip == nil {
		return 0, fmt.Errorf("engine: no canonical chain; call InitGenesis first")
	}
	tipHash, ok := tip.Hash()
	if !ok {
		return 0, fmt.Errorf("engine: canonical tip has no cached hash")
	}

	prevHash := tipHash
	prevIndex := tip.Index
	prevTimestamp := tip.Timestamp

	for i, h := range headers {
		if h.Index != prevIndex+1 {
			return i, chainerr.ErrInvalidBlockIndex
		}
		if h.PreviousHash == nil || *h.PreviousHash != prevHash {
			return i, chainerr.ErrInvalidBlockPreviousHash
		}
		if !h.Timestamp.After(prevTimestamp) {
			return i, chainerr.ErrInvalidBlockTimestamp
		}
		expected, err := e.policy.GetNextDifficulty(chain)
		if err != nil {
			return i, err
		}
		if h.Difficulty < expected {
			return i, chainerr.ErrInvalidBlockDifficulty
		}
		prevHash, prevIndex, prevTimestamp = h.Hash, h.Index, h.Timestamp
	}
	return len(headers), nil
}
