// Package store describes the persistence contract the chain engine
// depends on (spec section 4.1): blocks, transactions, per-chain
// indices, per-key state references, and per-signer nonces. The store
// has no awareness of consensus or actions — it is a pure data
// substrate, implemented here by an in-memory backend (store/memory) and
// a LevelDB-backed backend (store/leveldb).
package store

import (
	"context"

	"gocuria/blockchain"
)

// StateReferenceEntry is one (block_hash, block_index) pair in a
// StateReference sequence.
type StateReferenceEntry struct {
	BlockHash  blockchain.HashDigest
	BlockIndex int64
}

// TxCommit is one transaction's share of a BlockCommit: the tx itself,
// its content-addressed id, and the signer whose nonce advances by one
// because of it.
type TxCommit struct {
	Tx     *blockchain.Transaction
	Id     blockchain.TxId
	Signer blockchain.Address
}

// BlockCommit bundles every store-side effect of accepting a validated
// block into a single request, so an implementation can make the
// whole write set atomic instead of the engine issuing it as a
// sequence of independently-failable calls.
type BlockCommit struct {
	Chain     blockchain.ChainId
	Block     *blockchain.Block
	Hash      blockchain.HashDigest
	States    map[blockchain.StateKey][]byte
	StateKeys []blockchain.StateKey
	Txs       []TxCommit
}

// Store is the full contract from spec section 4.1. Every method may
// fail with chainerr.ErrStoreFault on I/O; specific semantic failures
// are documented per method and surfaced as the chainerr sentinels.
// Implementations must make every method atomic under concurrent
// callers.
type Store interface {
	// Chain identity.
	ListChainIds(ctx context.Context) ([]blockchain.ChainId, error)
	GetCanonicalChainId(ctx context.Context) (*blockchain.ChainId, error)
	SetCanonicalChainId(ctx context.Context, id blockchain.ChainId) error
	DeleteChainId(ctx context.Context, id blockchain.ChainId) error

	// Chain index: ordered block hashes per chain.
	AppendIndex(ctx context.Context, chain blockchain.ChainId, hash blockchain.HashDigest) (int64, error)
	CountIndex(ctx context.Context, chain blockchain.ChainId) (int64, error)
	IndexBlockHash(ctx context.Context, chain blockchain.ChainId, i int64) (*blockchain.HashDigest, error)
	IterateIndexes(ctx context.Context, chain blockchain.ChainId, offset, limit int64) ([]blockchain.HashDigest, error)

	// Content-addressed blocks.
	PutBlock(ctx context.Context, block *blockchain.Block) error
	GetBlock(ctx context.Context, hash blockchain.HashDigest) (*blockchain.Block, error)
	DeleteBlock(ctx context.Context, hash blockchain.HashDigest) (bool, error)
	ContainsBlock(ctx context.Context, hash blockchain.HashDigest) (bool, error)
	GetBlockIndex(ctx context.Context, hash blockchain.HashDigest) (*int64, error)
	IterateBlockHashes(ctx context.Context) ([]blockchain.HashDigest, error)
	CountBlocks(ctx context.Context) (int64, error)

	// Content-addressed transactions.
	PutTx(ctx context.Context, tx *blockchain.Transaction, id blockchain.TxId) error
	GetTx(ctx context.Context, id blockchain.TxId) (*blockchain.Transaction, error)
	DeleteTx(ctx context.Context, id blockchain.TxId) (bool, error)
	ContainsTx(ctx context.Context, id blockchain.TxId) (bool, error)
	IterateTxIds(ctx context.Context) ([]blockchain.TxId, error)
	CountTxs(ctx context.Context) (int64, error)

	// Staging.
	StageTxIds(ctx context.Context, ids map[blockchain.TxId]bool) error
	UnstageTxIds(ctx context.Context, ids []blockchain.TxId) error
	IterateStagedTxIds(ctx context.Context) (map[blockchain.TxId]bool, error)

	// Per-block post-state of touched keys.
	SetBlockStates(ctx context.Context, hash blockchain.HashDigest, states map[blockchain.StateKey][]byte) error
	GetBlockStates(ctx context.Context, hash blockchain.HashDigest) (map[blockchain.StateKey][]byte, error)

	// State reference index.
	StoreStateReference(ctx context.Context, chain blockchain.ChainId, keys []blockchain.StateKey, blockHash blockchain.HashDigest, blockIndex int64) error
	LookupStateReference(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, atBlockIndex int64) (*StateReferenceEntry, error)
	IterateStateReferences(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, lowestIndex, highestIndex int64, limit int64) ([]StateReferenceEntry, error)
	ListStateKeys(ctx context.Context, chain blockchain.ChainId) ([]blockchain.StateKey, error)
	ListAllStateReferences(ctx context.Context, chain blockchain.ChainId, lowestIndex, highestIndex int64) (map[blockchain.StateKey][]blockchain.HashDigest, error)
	ForkStateReferences(ctx context.Context, source, dest blockchain.ChainId, branchpointIndex int64) error

	// Per-signer nonces.
	GetTxNonce(ctx context.Context, chain blockchain.ChainId, signer blockchain.Address) (int64, error)
	IncreaseTxNonce(ctx context.Context, chain blockchain.ChainId, signer blockchain.Address, delta int64) error
	ListTxNonces(ctx context.Context, chain blockchain.ChainId) (map[blockchain.Address]int64, error)

	// CommitBlock atomically persists a validated block's entire write
	// set (block, chain index slot, block states, state references,
	// transactions, nonce increments, unstaging). No partial write from
	// a failed CommitBlock is ever observable to a later reader.
	CommitBlock(ctx context.Context, commit BlockCommit) error

	// Bulk copy.
	Copy(ctx context.Context, to Store) error

	Close() error
}
