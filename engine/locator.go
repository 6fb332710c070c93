package engine

import (
	"context"

	"gocuria/blockchain"
)

// GetLocator builds the sparse descending-from-tip hash list from spec
// section 4.3.5: tip, tip-1, tip-3, tip-7, tip-15, ..., genesis — step
// size doubling each hop.
func (e *Engine) GetLocator(ctx context.Context) ([]blockchain.HashDigest, error) {
	chain := e.CanonicalChainId()
	count, err := e.store.CountIndex(ctx, chain)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	var out []blockchain.HashDigest
	step := int64(1)
	i := count - 1
	for {
		h, err := e.store.IndexBlockHash(ctx, chain, i)
		if err != nil {
			return nil, err
		}
		if h == nil {
			break
		}
		out = append(out, *h)
		if i == 0 {
			break
		}
		i -= step
		if i < 0 {
			i = 0
		}
		step *= 2
	}
	return out, nil
}

// FindNextHashes implements spec section 4.3.5: locate the first
// locator hash present in the canonical index, then yield subsequent
// block hashes up to min(count, tip, stop inclusive).
func (e *Engine) FindNextHashes(ctx context.Context, locator []blockchain.HashDigest, stop *blockchain.HashDigest, count int64) ([]blockchain.HashDigest, error) {
	chain := e.CanonicalChainId()
	if count <= 0 {
		count = 500
	}

	var startIndex int64 = -1
	for _, h := range locator {
		idx, err := e.store.GetBlockIndex(ctx, h)
		if err != nil {
			return nil, err
		}
		if idx == nil {
			continue
		}
		known, err := e.isCanonicalIndex(ctx, chain, h, *idx)
		if err != nil {
			return nil, err
		}
		if known {
			if startIndex == -1 || *idx > startIndex {
				startIndex = *idx
			}
		}
	}
	if startIndex == -1 {
		return nil, nil
	}

	var out []blockchain.HashDigest
	for i := startIndex + 1; int64(len(out)) < count; i++ {
		h, err := e.store.IndexBlockHash(ctx, chain, i)
		if err != nil {
			return nil, err
		}
		if h == nil {
			break
		}
		out = append(out, *h)
		if stop != nil && *h == *stop {
			break
		}
	}
	return out, nil
}

func (e *Engine) isCanonicalIndex(ctx context.Context, chain blockchain.ChainId, h blockchain.HashDigest, idx int64) (bool, error) {
	got, err := e.store.IndexBlockHash(ctx, chain, idx)
	if err != nil {
		return false, err
	}
	return got != nil && *got == h, nil
}

// GetBlocksByHashes implements the PeerProtocol-facing read path from
// spec section 4.6: fetch each hash's block, skipping any not found.
func (e *Engine) GetBlocksByHashes(ctx context.Context, hashes []blockchain.HashDigest) ([]*blockchain.Block, error) {
	out := make([]*blockchain.Block, 0, len(hashes))
	for _, h := range hashes {
		b, err := e.store.GetBlock(ctx, h)
		if err != nil {
			return nil, err
		}
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}
