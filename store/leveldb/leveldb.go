// Package leveldb is the persistent Store implementation named in spec
// section 9's design note ("a persistent backend; the concrete
// persistent backend is out of scope but its contract is section 4.1"),
// grounded on number571-union-bc's kernel/leveldb.go and
// kernel/chain.go, which back their own chain/state/accounts storage
// with exactly this package and the same fmt.Sprintf-prefixed string-key
// convention used here.
package leveldb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"

	"gocuria/blockchain"
	"gocuria/chainerr"
	"gocuria/codec"
	"gocuria/store"
)

const (
	prefixChainKnown  = "chain-known-%s"
	prefixCanonical   = "chain-canonical"
	prefixIndex       = "index-%s-%020d"
	prefixIndexCount  = "index-count-%s"
	prefixBlock       = "block-%s"
	prefixBlockIndex  = "block-index-%s"
	prefixTx          = "tx-%s"
	prefixStaged      = "staged-%s"
	prefixBlockStates = "states-%s"
	prefixStateRef    = "ref-%s-%s-%020d"
	prefixNonce       = "nonce-%s-%s"
)

// Store is a LevelDB-backed implementation of store.Store.
// SetCanonicalChainId, DeleteChainId, AppendIndex, PutBlock,
// StoreStateReference (also once per reference ForkStateReferences
// copies), IncreaseTxNonce and CommitBlock hold a single mutex, which
// guarantees the read-modify-write half (e.g.
// append_index's "one greater than previous length" check); LevelDB's
// own single-key and batched writes guarantee the on-disk half. PutTx,
// StageTxIds, UnstageTxIds, SetBlockStates, DeleteBlock and DeleteTx
// do not take the mutex and rely on LevelDB's write atomicity alone.
type Store struct {
	mu  sync.Mutex
	db  *leveldb.DB
	enc codec.Encoder
	reg *blockchain.ActionRegistry
}

var _ store.Store = (*Store)(nil)

func Open(path string, enc codec.Encoder, reg *blockchain.ActionRegistry) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb: open %s: %w", path, err)
	}
	return &Store{db: db, enc: enc, reg: reg}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func hid(h blockchain.HashDigest) string   { return hex.EncodeToString(h[:]) }
func cid(c blockchain.ChainId) string      { return hex.EncodeToString(c[:]) }
func aid(a blockchain.Address) string      { return hex.EncodeToString(a[:]) }

func parseHash(s string) (blockchain.HashDigest, error) {
	var h blockchain.HashDigest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("leveldb: malformed hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// --- wire shapes ----------------------------------------------------

type actionJSON struct {
	Encoded []byte `json:"encoded"`
}

type txJSON struct {
	Signer           string       `json:"signer"`
	Nonce            int64        `json:"nonce"`
	UpdatedAddresses []string     `json:"updated_addresses"`
	Timestamp        string       `json:"timestamp"`
	Actions          []actionJSON `json:"actions"`
	Signature        []byte       `json:"signature"`
	PublicKey        []byte       `json:"public_key"`
}

func (s *Store) encodeTx(tx *blockchain.Transaction) (txJSON, error) {
	out := txJSON{
		Signer:    aid(tx.Signer),
		Nonce:     tx.Nonce,
		Timestamp: blockchain.FormatTimestamp(tx.Timestamp),
		Signature: []byte(tx.Signature),
		PublicKey: []byte(tx.PublicKey),
	}
	for _, a := range tx.UpdatedAddresses {
		out.UpdatedAddresses = append(out.UpdatedAddresses, aid(a))
	}
	for _, action := range tx.Actions {
		b, err := s.enc.Encode(s.reg.Encode(action))
		if err != nil {
			return txJSON{}, fmt.Errorf("leveldb: encode action: %w", err)
		}
		out.Actions = append(out.Actions, actionJSON{Encoded: b})
	}
	return out, nil
}

func (s *Store) decodeTx(j txJSON) (*blockchain.Transaction, error) {
	signerBytes, err := hex.DecodeString(j.Signer)
	if err != nil {
		return nil, err
	}
	var signer blockchain.Address
	copy(signer[:], signerBytes)

	ts, err := blockchain.ParseTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}

	tx := &blockchain.Transaction{
		Signer:    signer,
		Nonce:     j.Nonce,
		Timestamp: ts,
		Signature: j.Signature,
		PublicKey: j.PublicKey,
	}
	for _, addrHex := range j.UpdatedAddresses {
		b, err := hex.DecodeString(addrHex)
		if err != nil {
			return nil, err
		}
		var a blockchain.Address
		copy(a[:], b)
		tx.UpdatedAddresses = append(tx.UpdatedAddresses, a)
	}
	for _, aj := range j.Actions {
		v, err := s.enc.Decode(aj.Encoded)
		if err != nil {
			return nil, fmt.Errorf("leveldb: decode action: %w", err)
		}
		action, err := s.reg.Decode(v)
		if err != nil {
			return nil, err
		}
		tx.Actions = append(tx.Actions, action)
	}
	return tx, nil
}

type blockJSON struct {
	Index        int64    `json:"index"`
	Difficulty   int64    `json:"difficulty"`
	PreviousHash string   `json:"previous_hash,omitempty"`
	Timestamp    string   `json:"timestamp"`
	Miner        string   `json:"miner,omitempty"`
	Nonce        []byte   `json:"nonce"`
	TxHash       string   `json:"tx_hash,omitempty"`
	TxIds        []string `json:"tx_ids"`
}

func (s *Store) encodeBlockIndex(ctx context.Context, block *blockchain.Block) (blockJSON, error) {
	out := blockJSON{
		Index:      block.Index,
		Difficulty: block.Difficulty,
		Timestamp:  blockchain.FormatTimestamp(block.Timestamp),
		Nonce:      block.Nonce,
	}
	if block.PreviousHash != nil {
		out.PreviousHash = hid(*block.PreviousHash)
	}
	if block.Miner != nil {
		out.Miner = aid(*block.Miner)
	}
	if block.TxHash != nil {
		out.TxHash = hid(*block.TxHash)
	}
	for _, tx := range block.Transactions {
		id, err := tx.Id(s.enc, s.reg)
		if err != nil {
			return blockJSON{}, err
		}
		out.TxIds = append(out.TxIds, hid(id))
		// ensure the tx itself is durable even if PutTx wasn't called
		// separately — grounded on union-bc's chain.pushBlock, which
		// persists a block's own transactions alongside it.
		if err := s.putTxLocked(tx, id); err != nil {
			return blockJSON{}, err
		}
	}
	return out, nil
}

// --- Store interface --------------------------------------------------

func (s *Store) ListChainIds(ctx context.Context) ([]blockchain.ChainId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []blockchain.ChainId
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte("chain-known-")), nil)
	defer iter.Release()
	for iter.Next() {
		hexPart := string(iter.Key())[len("chain-known-"):]
		b, err := hex.DecodeString(hexPart)
		if err != nil {
			continue
		}
		var c blockchain.ChainId
		copy(c[:], b)
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) markChainKnown(id blockchain.ChainId) error {
	return s.db.Put([]byte(fmt.Sprintf(prefixChainKnown, cid(id))), []byte{1}, nil)
}

func (s *Store) GetCanonicalChainId(ctx context.Context) (*blockchain.ChainId, error) {
	v, err := s.db.Get([]byte(prefixCanonical), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	var c blockchain.ChainId
	copy(c[:], v)
	return &c, nil
}

func (s *Store) SetCanonicalChainId(ctx context.Context, id blockchain.ChainId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markChainKnown(id); err != nil {
		return err
	}
	return s.db.Put([]byte(prefixCanonical), id[:], nil)
}

func (s *Store) DeleteChainId(ctx context.Context, id blockchain.ChainId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := s.countIndexLocked(id)
	for i := int64(0); i < n; i++ {
		s.db.Delete([]byte(fmt.Sprintf(prefixIndex, cid(id), i)), nil)
	}
	s.db.Delete([]byte(fmt.Sprintf(prefixIndexCount, cid(id))), nil)
	s.db.Delete([]byte(fmt.Sprintf(prefixChainKnown, cid(id))), nil)

	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(fmt.Sprintf("ref-%s-", cid(id)))), nil)
	for iter.Next() {
		s.db.Delete(append([]byte{}, iter.Key()...), nil)
	}
	iter.Release()

	iter2 := s.db.NewIterator(ldbutil.BytesPrefix([]byte(fmt.Sprintf("nonce-%s-", cid(id)))), nil)
	for iter2.Next() {
		s.db.Delete(append([]byte{}, iter2.Key()...), nil)
	}
	iter2.Release()
	return nil
}

func (s *Store) countIndexLocked(chain blockchain.ChainId) (int64, error) {
	v, err := s.db.Get([]byte(fmt.Sprintf(prefixIndexCount, cid(chain))), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	var n int64
	fmt.Sscanf(string(v), "%d", &n)
	return n, nil
}

func (s *Store) AppendIndex(ctx context.Context, chain blockchain.ChainId, hash blockchain.HashDigest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.countIndexLocked(chain)
	if err != nil {
		return 0, err
	}
	if err := s.markChainKnown(chain); err != nil {
		return 0, err
	}
	if err := s.db.Put([]byte(fmt.Sprintf(prefixIndex, cid(chain), n)), hash[:], nil); err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	if err := s.db.Put([]byte(fmt.Sprintf(prefixIndexCount, cid(chain))), []byte(fmt.Sprintf("%d", n+1)), nil); err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return n, nil
}

func (s *Store) CountIndex(ctx context.Context, chain blockchain.ChainId) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countIndexLocked(chain)
}

func (s *Store) IndexBlockHash(ctx context.Context, chain blockchain.ChainId, i int64) (*blockchain.HashDigest, error) {
	s.mu.Lock()
	n, err := s.countIndexLocked(chain)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i = n + i
	}
	if i < 0 || i >= n {
		return nil, nil
	}
	v, err := s.db.Get([]byte(fmt.Sprintf(prefixIndex, cid(chain), i)), nil)
	if err != nil {
		return nil, nil
	}
	h, err := parseHash(hex.EncodeToString(v))
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) IterateIndexes(ctx context.Context, chain blockchain.ChainId, offset, limit int64) ([]blockchain.HashDigest, error) {
	n, err := s.CountIndex(ctx, chain)
	if err != nil {
		return nil, err
	}
	var out []blockchain.HashDigest
	for i := offset; i < n; i++ {
		if limit >= 0 && int64(len(out)) >= limit {
			break
		}
		h, err := s.IndexBlockHash(ctx, chain, i)
		if err != nil || h == nil {
			break
		}
		out = append(out, *h)
	}
	return out, nil
}

func (s *Store) PutBlock(ctx context.Context, block *blockchain.Block) error {
	hash, ok := block.Hash()
	if !ok {
		return chainerr.ErrStoreFault
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.encodeBlockIndex(ctx, block)
	if err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	if err := s.db.Put([]byte(fmt.Sprintf(prefixBlock, hid(hash))), data, nil); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return s.db.Put([]byte(fmt.Sprintf(prefixBlockIndex, hid(hash))), []byte(fmt.Sprintf("%d", block.Index)), nil)
}

func (s *Store) GetBlock(ctx context.Context, hash blockchain.HashDigest) (*blockchain.Block, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf(prefixBlock, hid(hash))), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}

	ts, err := blockchain.ParseTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}
	b := &blockchain.Block{Index: j.Index, Difficulty: j.Difficulty, Timestamp: ts, Nonce: j.Nonce}
	if j.PreviousHash != "" {
		h, err := parseHash(j.PreviousHash)
		if err != nil {
			return nil, err
		}
		b.PreviousHash = &h
	}
	if j.Miner != "" {
		mb, err := hex.DecodeString(j.Miner)
		if err != nil {
			return nil, err
		}
		var a blockchain.Address
		copy(a[:], mb)
		b.Miner = &a
	}
	if j.TxHash != "" {
		h, err := parseHash(j.TxHash)
		if err != nil {
			return nil, err
		}
		b.TxHash = &h
	}
	for _, txHex := range j.TxIds {
		txHash, err := parseHash(txHex)
		if err != nil {
			return nil, err
		}
		tx, err := s.GetTx(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			b.Transactions = append(b.Transactions, tx)
		}
	}
	return b, nil
}

func (s *Store) DeleteBlock(ctx context.Context, hash blockchain.HashDigest) (bool, error) {
	existed, _ := s.ContainsBlock(ctx, hash)
	s.db.Delete([]byte(fmt.Sprintf(prefixBlock, hid(hash))), nil)
	s.db.Delete([]byte(fmt.Sprintf(prefixBlockIndex, hid(hash))), nil)
	s.db.Delete([]byte(fmt.Sprintf(prefixBlockStates, hid(hash))), nil)
	return existed, nil
}

func (s *Store) ContainsBlock(ctx context.Context, hash blockchain.HashDigest) (bool, error) {
	return s.db.Has([]byte(fmt.Sprintf(prefixBlock, hid(hash))), nil)
}

func (s *Store) GetBlockIndex(ctx context.Context, hash blockchain.HashDigest) (*int64, error) {
	v, err := s.db.Get([]byte(fmt.Sprintf(prefixBlockIndex, hid(hash))), nil)
	if err != nil {
		return nil, nil
	}
	var n int64
	fmt.Sscanf(string(v), "%d", &n)
	return &n, nil
}

func (s *Store) IterateBlockHashes(ctx context.Context) ([]blockchain.HashDigest, error) {
	var out []blockchain.HashDigest
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte("block-")), nil)
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())
		if len(key) > len("block-index-") && key[:len("block-index-")] == "block-index-" {
			continue
		}
		hexPart := key[len("block-"):]
		h, err := parseHash(hexPart)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) CountBlocks(ctx context.Context) (int64, error) {
	hashes, err := s.IterateBlockHashes(ctx)
	return int64(len(hashes)), err
}

func (s *Store) putTxLocked(tx *blockchain.Transaction, id blockchain.TxId) error {
	j, err := s.encodeTx(tx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return s.db.Put([]byte(fmt.Sprintf(prefixTx, hid(id))), data, nil)
}

func (s *Store) PutTx(ctx context.Context, tx *blockchain.Transaction, id blockchain.TxId) error {
	return s.putTxLocked(tx, id)
}

func (s *Store) GetTx(ctx context.Context, id blockchain.TxId) (*blockchain.Transaction, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf(prefixTx, hid(id))), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	var j txJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return s.decodeTx(j)
}

func (s *Store) DeleteTx(ctx context.Context, id blockchain.TxId) (bool, error) {
	existed, _ := s.ContainsTx(ctx, id)
	s.db.Delete([]byte(fmt.Sprintf(prefixTx, hid(id))), nil)
	return existed, nil
}

func (s *Store) ContainsTx(ctx context.Context, id blockchain.TxId) (bool, error) {
	return s.db.Has([]byte(fmt.Sprintf(prefixTx, hid(id))), nil)
}

func (s *Store) IterateTxIds(ctx context.Context) ([]blockchain.TxId, error) {
	var out []blockchain.TxId
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte("tx-")), nil)
	defer iter.Release()
	for iter.Next() {
		hexPart := string(iter.Key())[len("tx-"):]
		h, err := parseHash(hexPart)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) CountTxs(ctx context.Context) (int64, error) {
	ids, err := s.IterateTxIds(ctx)
	return int64(len(ids)), err
}

func (s *Store) StageTxIds(ctx context.Context, ids map[blockchain.TxId]bool) error {
	batch := new(leveldb.Batch)
	for id, broadcastable := range ids {
		val := []byte{0}
		if broadcastable {
			val = []byte{1}
		}
		batch.Put([]byte(fmt.Sprintf(prefixStaged, hid(id))), val)
	}
	return s.db.Write(batch, nil)
}

func (s *Store) UnstageTxIds(ctx context.Context, ids []blockchain.TxId) error {
	batch := new(leveldb.Batch)
	for _, id := range ids {
		batch.Delete([]byte(fmt.Sprintf(prefixStaged, hid(id))))
	}
	return s.db.Write(batch, nil)
}

func (s *Store) IterateStagedTxIds(ctx context.Context) (map[blockchain.TxId]bool, error) {
	out := map[blockchain.TxId]bool{}
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte("staged-")), nil)
	defer iter.Release()
	for iter.Next() {
		hexPart := string(iter.Key())[len("staged-"):]
		h, err := parseHash(hexPart)
		if err != nil {
			continue
		}
		out[h] = len(iter.Value()) > 0 && iter.Value()[0] == 1
	}
	return out, nil
}

func (s *Store) SetBlockStates(ctx context.Context, hash blockchain.HashDigest, states map[blockchain.StateKey][]byte) error {
	data, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return s.db.Put([]byte(fmt.Sprintf(prefixBlockStates, hid(hash))), data, nil)
}

func (s *Store) GetBlockStates(ctx context.Context, hash blockchain.HashDigest) (map[blockchain.StateKey][]byte, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf(prefixBlockStates, hid(hash))), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	var out map[blockchain.StateKey][]byte
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return out, nil
}

func (s *Store) StoreStateReference(ctx context.Context, chain blockchain.ChainId, keys []blockchain.StateKey, blockHash blockchain.HashDigest, blockIndex int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		refKey := []byte(fmt.Sprintf(prefixStateRef, cid(chain), key, refSortIndex(blockIndex)))
		exists, err := s.refExistsForBlock(chain, key, blockHash)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := s.db.Put(refKey, blockHash[:], nil); err != nil {
			return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
		}
	}
	return nil
}

// refSortIndex flips block_index into a descending-lexicographic key so
// LevelDB's native forward iteration yields refs from newest to oldest,
// matching the descending-by-index contract directly off disk.
func refSortIndex(blockIndex int64) int64 {
	const maxIndex = int64(1) << 62
	return maxIndex - blockIndex
}

func (s *Store) refExistsForBlock(chain blockchain.ChainId, key blockchain.StateKey, hash blockchain.HashDigest) (bool, error) {
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(fmt.Sprintf("ref-%s-%s-", cid(chain), key))), nil)
	defer iter.Release()
	for iter.Next() {
		var h blockchain.HashDigest
		copy(h[:], iter.Value())
		if h == hash {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) allRefs(chain blockchain.ChainId, key blockchain.StateKey) ([]store.StateReferenceEntry, error) {
	var out []store.StateReferenceEntry
	prefix := fmt.Sprintf("ref-%s-%s-", cid(chain), key)
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var suffix int64
		fmt.Sscanf(string(iter.Key())[len(prefix):], "%020d", &suffix)
		idx := (int64(1) << 62) - suffix
		var h blockchain.HashDigest
		copy(h[:], iter.Value())
		out = append(out, store.StateReferenceEntry{BlockHash: h, BlockIndex: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockIndex > out[j].BlockIndex })
	return out, nil
}

func (s *Store) LookupStateReference(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, atBlockIndex int64) (*store.StateReferenceEntry, error) {
	refs, err := s.allRefs(chain, key)
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		if r.BlockIndex <= atBlockIndex {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) IterateStateReferences(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, lowestIndex, highestIndex int64, limit int64) ([]store.StateReferenceEntry, error) {
	if lowestIndex > highestIndex {
		return nil, chainerr.ErrRangeError
	}
	refs, err := s.allRefs(chain, key)
	if err != nil {
		return nil, err
	}
	var out []store.StateReferenceEntry
	for _, r := range refs {
		if r.BlockIndex >= lowestIndex && r.BlockIndex <= highestIndex {
			out = append(out, r)
			if limit >= 0 && int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListStateKeys(ctx context.Context, chain blockchain.ChainId) ([]blockchain.StateKey, error) {
	seen := map[blockchain.StateKey]bool{}
	prefix := fmt.Sprintf("ref-%s-", cid(chain))
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		rest := string(iter.Key())[len(prefix):]
		// rest is "{key}-{020d}"; strip the fixed-width numeric suffix.
		if len(rest) <= 21 {
			continue
		}
		key := blockchain.StateKey(rest[:len(rest)-21])
		seen[key] = true
	}
	out := make([]blockchain.StateKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, nil
}

func (s *Store) ListAllStateReferences(ctx context.Context, chain blockchain.ChainId, lowestIndex, highestIndex int64) (map[blockchain.StateKey][]blockchain.HashDigest, error) {
	if lowestIndex > highestIndex {
		return nil, chainerr.ErrRangeError
	}
	keys, err := s.ListStateKeys(ctx, chain)
	if err != nil {
		return nil, err
	}
	out := map[blockchain.StateKey][]blockchain.HashDigest{}
	for _, key := range keys {
		refs, err := s.allRefs(chain, key)
		if err != nil {
			return nil, err
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].BlockIndex < refs[j].BlockIndex })
		var hashes []blockchain.HashDigest
		for _, r := range refs {
			if r.BlockIndex >= lowestIndex && r.BlockIndex <= highestIndex {
				hashes = append(hashes, r.BlockHash)
			}
		}
		if len(hashes) > 0 {
			out[key] = hashes
		}
	}
	return out, nil
}

func (s *Store) ForkStateReferences(ctx context.Context, source, dest blockchain.ChainId, branchpointIndex int64) error {
	known, err := s.db.Has([]byte(fmt.Sprintf(prefixChainKnown, cid(source))), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	if !known {
		return chainerr.ErrChainIdNotFound
	}

	keys, err := s.ListStateKeys(ctx, source)
	if err != nil {
		return err
	}
	for _, key := range keys {
		refs, err := s.allRefs(source, key)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if r.BlockIndex <= branchpointIndex {
				if err := s.StoreStateReference(ctx, dest, []blockchain.StateKey{key}, r.BlockHash, r.BlockIndex); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) GetTxNonce(ctx context.Context, chain blockchain.ChainId, signer blockchain.Address) (int64, error) {
	v, err := s.db.Get([]byte(fmt.Sprintf(prefixNonce, cid(chain), aid(signer))), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	var n int64
	fmt.Sscanf(string(v), "%d", &n)
	return n, nil
}

func (s *Store) IncreaseTxNonce(ctx context.Context, chain blockchain.ChainId, signer blockchain.Address, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.GetTxNonce(ctx, chain, signer)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(fmt.Sprintf(prefixNonce, cid(chain), aid(signer))), []byte(fmt.Sprintf("%d", n+delta)), nil)
}

func (s *Store) ListTxNonces(ctx context.Context, chain blockchain.ChainId) (map[blockchain.Address]int64, error) {
	out := map[blockchain.Address]int64{}
	prefix := fmt.Sprintf("nonce-%s-", cid(chain))
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		addrHex := string(iter.Key())[len(prefix):]
		b, err := hex.DecodeString(addrHex)
		if err != nil {
			continue
		}
		var a blockchain.Address
		copy(a[:], b)
		var n int64
		fmt.Sscanf(string(iter.Value()), "%d", &n)
		out[a] = n
	}
	return out, nil
}

// blockJSONFor builds a block's wire shape without the side effect of
// persisting its transactions — CommitBlock persists them itself as
// part of the same batch, and PutBlock's caller wants that coupled to
// the block write, not to this helper.
func (s *Store) blockJSONFor(block *blockchain.Block) (blockJSON, error) {
	out := blockJSON{
		Index:      block.Index,
		Difficulty: block.Difficulty,
		Timestamp:  blockchain.FormatTimestamp(block.Timestamp),
		Nonce:      block.Nonce,
	}
	if block.PreviousHash != nil {
		out.PreviousHash = hid(*block.PreviousHash)
	}
	if block.Miner != nil {
		out.Miner = aid(*block.Miner)
	}
	if block.TxHash != nil {
		out.TxHash = hid(*block.TxHash)
	}
	for _, tx := range block.Transactions {
		id, err := tx.Id(s.enc, s.reg)
		if err != nil {
			return blockJSON{}, err
		}
		out.TxIds = append(out.TxIds, hid(id))
	}
	return out, nil
}

// CommitBlock writes every effect of commit as a single LevelDB batch,
// grounded on the same leveldb.Batch use already made for
// StageTxIds/UnstageTxIds — db.Write(batch, nil) is atomic, so a crash
// or error mid-construction never leaves a partially-committed block
// on disk.
func (s *Store) CommitBlock(ctx context.Context, commit store.BlockCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)

	blockData, err := s.blockJSONFor(commit.Block)
	if err != nil {
		return err
	}
	data, err := json.Marshal(blockData)
	if err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	batch.Put([]byte(fmt.Sprintf(prefixBlock, hid(commit.Hash))), data)
	batch.Put([]byte(fmt.Sprintf(prefixBlockIndex, hid(commit.Hash))), []byte(fmt.Sprintf("%d", commit.Block.Index)))

	n, err := s.countIndexLocked(commit.Chain)
	if err != nil {
		return err
	}
	batch.Put([]byte(fmt.Sprintf(prefixChainKnown, cid(commit.Chain))), []byte{1})
	batch.Put([]byte(fmt.Sprintf(prefixIndex, cid(commit.Chain), n)), commit.Hash[:])
	batch.Put([]byte(fmt.Sprintf(prefixIndexCount, cid(commit.Chain))), []byte(fmt.Sprintf("%d", n+1)))

	if len(commit.States) > 0 {
		statesData, err := json.Marshal(commit.States)
		if err != nil {
			return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
		}
		batch.Put([]byte(fmt.Sprintf(prefixBlockStates, hid(commit.Hash))), statesData)

		for _, key := range commit.StateKeys {
			exists, err := s.refExistsForBlock(commit.Chain, key, commit.Hash)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			refKey := []byte(fmt.Sprintf(prefixStateRef, cid(commit.Chain), key, refSortIndex(commit.Block.Index)))
			batch.Put(refKey, commit.Hash[:])
		}
	}

	nonceDeltas := map[blockchain.Address]int64{}
	for _, tc := range commit.Txs {
		txData, err := s.encodeTx(tc.Tx)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(txData)
		if err != nil {
			return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
		}
		batch.Put([]byte(fmt.Sprintf(prefixTx, hid(tc.Id))), encoded)
		batch.Delete([]byte(fmt.Sprintf(prefixStaged, hid(tc.Id))))
		nonceDeltas[tc.Signer]++
	}
	for signer, delta := range nonceDeltas {
		current, err := s.GetTxNonce(ctx, commit.Chain, signer)
		if err != nil {
			return err
		}
		batch.Put([]byte(fmt.Sprintf(prefixNonce, cid(commit.Chain), aid(signer))), []byte(fmt.Sprintf("%d", current+delta)))
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStoreFault, err)
	}
	return nil
}

func (s *Store) Copy(ctx context.Context, to store.Store) error {
	existing, err := to.ListChainIds(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return chainerr.ErrNonEmptyDestination
	}

	chains, err := s.ListChainIds(ctx)
	if err != nil {
		return err
	}
	for _, chain := range chains {
		idx, err := s.IterateIndexes(ctx, chain, 0, -1)
		if err != nil {
			return err
		}
		for _, h := range idx {
			if _, err := to.AppendIndex(ctx, chain, h); err != nil {
				return err
			}
		}
		keys, err := s.ListStateKeys(ctx, chain)
		if err != nil {
			return err
		}
		for _, key := range keys {
			refs, err := s.allRefs(chain, key)
			if err != nil {
				return err
			}
			for _, r := range refs {
				if err := to.StoreStateReference(ctx, chain, []blockchain.StateKey{key}, r.BlockHash, r.BlockIndex); err != nil {
					return err
				}
			}
		}
		nonces, err := s.ListTxNonces(ctx, chain)
		if err != nil {
			return err
		}
		for signer, n := range nonces {
			if err := to.IncreaseTxNonce(ctx, chain, signer, n); err != nil {
				return err
			}
		}
	}
	canon, err := s.GetCanonicalChainId(ctx)
	if err != nil {
		return err
	}
	if canon != nil {
		if err := to.SetCanonicalChainId(ctx, *canon); err != nil {
			return err
		}
	}

	hashes, err := s.IterateBlockHashes(ctx)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		b, err := s.GetBlock(ctx, h)
		if err != nil || b == nil {
			continue
		}
		if err := to.PutBlock(ctx, b); err != nil {
			return err
		}
		states, err := s.GetBlockStates(ctx, h)
		if err != nil {
			return err
		}
		if states != nil {
			if err := to.SetBlockStates(ctx, h, states); err != nil {
				return err
			}
		}
	}
	return nil
}
