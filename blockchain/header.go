package blockchain

import "time"

// BlockHeader is the structural subset of Block a peer can validate
// cheaply before deciding a full block (with its transaction list) is
// worth fetching — the supplemented header-first discovery path.
type BlockHeader struct {
	Index        int64
	Difficulty   int64
	PreviousHash *HashDigest
	Timestamp    time.Time
	Hash         HashDigest
}

// HeaderOf extracts b's BlockHeader. b must already be hashed.
func HeaderOf(b *Block) (BlockHeader, bool) {
	hash, ok := b.Hash()
	if !ok {
		return BlockHeader{}, false
	}
	return BlockHeader{
		Index:        b.Index,
		Difficulty:   b.Difficulty,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Hash:         hash,
	}, true
}
