package blockchain

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"gocuria/chainerr"
	"gocuria/codec"
)

// MaxClockSkew is the 15-minute future-timestamp tolerance from spec
// section 4.2.
const MaxClockSkew = 15 * time.Minute

// Block is the immutable-once-mined record from spec section 3.
type Block struct {
	Index        int64
	Difficulty   int64
	PreviousHash *HashDigest // nil iff Index == 0 (genesis)
	Timestamp    time.Time
	Miner        *Address
	Nonce        []byte // PoW nonce, variable length
	TxHash       *HashDigest
	Transactions []*Transaction

	hash *HashDigest
}

// OrderTransactions implements the deterministic-but-unpredictable
// ordering from spec section 3: group by signer, fold each signer's
// txids via XOR into a signer-key, sort signers by
// signer_key XOR previous_hash_as_integer, and within a signer sort by
// ascending nonce. previous_hash is used (not the block's own hash,
// which does not exist yet pre-mining) so the order can be fixed before
// the nonce search begins.
func OrderTransactions(enc codec.Encoder, reg *ActionRegistry, previousHash HashDigest, txs []*Transaction) ([]*Transaction, error) {
	type signerGroup struct {
		signer Address
		key    *big.Int
		txs    []*Transaction
	}

	groups := map[Address]*signerGroup{}
	var order []Address
	for _, tx := range txs {
		g, ok := groups[tx.Signer]
		if !ok {
			g = &signerGroup{signer: tx.Signer, key: new(big.Int)}
			groups[tx.Signer] = g
			order = append(order, tx.Signer)
		}
		id, err := tx.Id(enc, reg)
		if err != nil {
			return nil, err
		}
		g.key.Xor(g.key, new(big.Int).SetBytes(id[:]))
		g.txs = append(g.txs, tx)
	}

	prevInt := new(big.Int).SetBytes(previousHash[:])
	sort.SliceStable(order, func(i, j int) bool {
		a := new(big.Int).Xor(groups[order[i]].key, prevInt)
		b := new(big.Int).Xor(groups[order[j]].key, prevInt)
		return a.Cmp(b) < 0
	})

	out := make([]*Transaction, 0, len(txs))
	for _, signer := range order {
		g := groups[signer]
		sort.SliceStable(g.txs, func(i, j int) bool { return g.txs[i].Nonce < g.txs[j].Nonce })
		out = append(out, g.txs...)
	}
	return out, nil
}

// headerValue builds the canonical codec.Value for the block header
// (every field except transactions, including tx_hash) for the given
// nonce — the wire shape from spec section 6.
func (b *Block) headerValue(nonce []byte) codec.Value {
	d := codec.Dict{
		"index":      b.Index,
		"difficulty": b.Difficulty,
		"timestamp":  FormatTimestamp(b.Timestamp),
		"nonce":      nonce,
	}
	if b.PreviousHash != nil {
		d["previous_hash"] = b.PreviousHash[:]
	}
	if b.Miner != nil {
		m := *b.Miner
		d["reward_beneficiary"] = m[:]
	}
	if b.TxHash != nil {
		d["transaction_fingerprint"] = b.TxHash[:]
	}
	return d
}

// encodeHeader exposes the split needed by the miner: encode the full
// header for an arbitrary nonce of fixed length.
func (b *Block) encodeHeader(enc codec.Encoder, nonce []byte) ([]byte, error) {
	return enc.Encode(b.headerValue(nonce))
}

// Hash returns the cached block hash, if already computed via
// NewGenesisBlock or MineBlock.
func (b *Block) Hash() (HashDigest, bool) {
	if b.hash == nil {
		return HashDigest{}, false
	}
	return *b.hash, true
}

func (b *Block) setHash(h HashDigest) { b.hash = &h }

// computeTxHash sets TxHash from the ordered transaction list's
// canonical encoding, or leaves it nil if there are no transactions.
func (b *Block) computeTxHash(enc codec.Encoder, reg *ActionRegistry) error {
	if len(b.Transactions) == 0 {
		b.TxHash = nil
		return nil
	}
	list := codec.List{}
	for _, tx := range b.Transactions {
		list = append(list, tx.encodeValue(reg, true))
	}
	encoded, err := enc.Encode(list)
	if err != nil {
		return fmt.Errorf("blockchain: encode tx list: %w", err)
	}
	h := hashBytes(encoded)
	b.TxHash = &h
	return nil
}

// ValidateStandalone checks the structural rules from spec section 4.2
// that do not require chain context: timestamp skew, index/genesis
// shape, and that the hash satisfies the declared difficulty. Chain-
// context rules (previous-hash linkage, monotonic timestamp, policy
// difficulty, per-signer nonce order) live in the engine.
func (b *Block) ValidateStandalone(now time.Time) error {
	if b.Timestamp.After(now.Add(MaxClockSkew)) {
		return chainerr.ErrInvalidBlockTimestamp
	}
	if b.Index < 0 {
		return chainerr.ErrInvalidBlockIndex
	}
	if b.Index == 0 {
		if b.Difficulty != 0 {
			return chainerr.ErrInvalidBlockDifficulty
		}
		if b.PreviousHash != nil {
			return chainerr.ErrInvalidBlockPreviousHash
		}
	} else {
		if b.Difficulty < 1 {
			return chainerr.ErrInvalidBlockDifficulty
		}
		if b.PreviousHash == nil {
			return chainerr.ErrInvalidBlockPreviousHash
		}
	}
	hash, ok := b.Hash()
	if !ok {
		return fmt.Errorf("blockchain: block has not been hashed")
	}
	if !HashMeetsDifficulty(hash, b.Difficulty) {
		return chainerr.ErrInvalidBlockNonce
	}
	return nil
}

func hashBytes(b []byte) HashDigest {
	return sha256Sum(b)
}
