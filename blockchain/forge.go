package blockchain

import (
	"fmt"
	"time"

	"gocuria/codec"
)

// BlockBuildParams collects everything needed to assemble an unmined
// block, mirroring the teacher's BlockCreationParams.
type BlockBuildParams struct {
	Index        int64
	Difficulty   int64
	PreviousHash *HashDigest
	Timestamp    time.Time
	Miner        *Address
	Transactions []*Transaction
}

// AssembleBlock orders the given transactions (spec section 3) and
// computes TxHash, returning a Block ready for MineBlock. It does not
// mine or hash the header.
func AssembleBlock(enc codec.Encoder, reg *ActionRegistry, params BlockBuildParams) (*Block, error) {
	ts := params.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var prevForOrdering HashDigest
	if params.PreviousHash != nil {
		prevForOrdering = *params.PreviousHash
	}

	ordered, err := OrderTransactions(enc, reg, prevForOrdering, params.Transactions)
	if err != nil {
		return nil, fmt.Errorf("blockchain: order transactions: %w", err)
	}

	b := &Block{
		Index:        params.Index,
		Difficulty:   params.Difficulty,
		PreviousHash: params.PreviousHash,
		Timestamp:    ts,
		Miner:        params.Miner,
		Transactions: ordered,
	}
	if err := b.computeTxHash(enc, reg); err != nil {
		return nil, err
	}
	return b, nil
}

// NewGenesisBlock builds and hashes the genesis block: index 0,
// difficulty 0, no previous hash, no proof-of-work search needed since
// any hash trivially satisfies a difficulty of zero leading bits.
func NewGenesisBlock(enc codec.Encoder, reg *ActionRegistry, ts time.Time, txs []*Transaction) (*Block, error) {
	b, err := AssembleBlock(enc, reg, BlockBuildParams{
		Index:        0,
		Difficulty:   0,
		PreviousHash: nil,
		Timestamp:    ts,
		Transactions: txs,
	})
	if err != nil {
		return nil, err
	}
	b.Nonce = make([]byte, NonceSize)
	hash, err := HashHeader(enc, b)
	if err != nil {
		return nil, err
	}
	b.setHash(hash)
	return b, nil
}
