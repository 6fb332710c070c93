// Package memory is the in-memory Store implementation mandated by
// spec section 9's design note ("provide at least an in-memory
// implementation"), grounded on the teacher's blockchain/store/memory.go
// MemoryChainStore — generalized from a single fixed chain to the full
// multi-chain contract in spec section 4.1.
package memory

import (
	"context"
	"sort"
	"sync"

	"gocuria/blockchain"
	"gocuria/chainerr"
	"gocuria/store"
)

type Store struct {
	chainMu     sync.RWMutex
	indexes     map[blockchain.ChainId][]blockchain.HashDigest
	knownChains map[blockchain.ChainId]bool
	canonical   *blockchain.ChainId

	blockMu sync.RWMutex
	blocks  map[blockchain.HashDigest]*blockchain.Block
	states  map[blockchain.HashDigest]map[blockchain.StateKey][]byte

	txMu   sync.RWMutex
	txs    map[blockchain.TxId]*blockchain.Transaction
	staged map[blockchain.TxId]bool

	refMu     sync.RWMutex
	stateRefs map[blockchain.ChainId]map[blockchain.StateKey][]store.StateReferenceEntry

	nonceMu sync.RWMutex
	nonces  map[blockchain.ChainId]map[blockchain.Address]int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		indexes:     map[blockchain.ChainId][]blockchain.HashDigest{},
		knownChains: map[blockchain.ChainId]bool{},
		blocks:      map[blockchain.HashDigest]*blockchain.Block{},
		states:      map[blockchain.HashDigest]map[blockchain.StateKey][]byte{},
		txs:         map[blockchain.TxId]*blockchain.Transaction{},
		staged:      map[blockchain.TxId]bool{},
		stateRefs:   map[blockchain.ChainId]map[blockchain.StateKey][]store.StateReferenceEntry{},
		nonces:      map[blockchain.ChainId]map[blockchain.Address]int64{},
	}
}

func (s *Store) Close() error { return nil }

// --- chain identity -------------------------------------------------

func (s *Store) ListChainIds(ctx context.Context) ([]blockchain.ChainId, error) {
	s.chainMu.RLock()
	defer s.chainMu.RUnlock()
	out := make([]blockchain.ChainId, 0, len(s.knownChains))
	for id := range s.knownChains {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) GetCanonicalChainId(ctx context.Context) (*blockchain.ChainId, error) {
	s.chainMu.RLock()
	defer s.chainMu.RUnlock()
	if s.canonical == nil {
		return nil, nil
	}
	id := *s.canonical
	return &id, nil
}

func (s *Store) SetCanonicalChainId(ctx context.Context, id blockchain.ChainId) error {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	s.knownChains[id] = true
	s.canonical = &id
	return nil
}

func (s *Store) DeleteChainId(ctx context.Context, id blockchain.ChainId) error {
	s.chainMu.Lock()
	delete(s.indexes, id)
	delete(s.knownChains, id)
	s.chainMu.Unlock()

	s.refMu.Lock()
	delete(s.stateRefs, id)
	s.refMu.Unlock()

	s.nonceMu.Lock()
	delete(s.nonces, id)
	s.nonceMu.Unlock()
	return nil
}

// --- chain index ------------------------------------------------------

func (s *Store) AppendIndex(ctx context.Context, chain blockchain.ChainId, hash blockchain.HashDigest) (int64, error) {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	s.knownChains[chain] = true
	idx := s.indexes[chain]
	s.indexes[chain] = append(idx, hash)
	return int64(len(idx)), nil
}

func (s *Store) CountIndex(ctx context.Context, chain blockchain.ChainId) (int64, error) {
	s.chainMu.RLock()
	defer s.chainMu.RUnlock()
	return int64(len(s.indexes[chain])), nil
}

func (s *Store) IndexBlockHash(ctx context.Context, chain blockchain.ChainId, i int64) (*blockchain.HashDigest, error) {
	s.chainMu.RLock()
	defer s.chainMu.RUnlock()
	idx := s.indexes[chain]
	if i < 0 {
		i = int64(len(idx)) + i
	}
	if i < 0 || i >= int64(len(idx)) {
		return nil, nil
	}
	h := idx[i]
	return &h, nil
}

func (s *Store) IterateIndexes(ctx context.Context, chain blockchain.ChainId, offset, limit int64) ([]blockchain.HashDigest, error) {
	s.chainMu.RLock()
	defer s.chainMu.RUnlock()
	idx := s.indexes[chain]
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(idx)) {
		return nil, nil
	}
	end := int64(len(idx))
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]blockchain.HashDigest, end-offset)
	copy(out, idx[offset:end])
	return out, nil
}

// --- blocks -------------------------------------------------------------

func (s *Store) PutBlock(ctx context.Context, block *blockchain.Block) error {
	hash, ok := block.Hash()
	if !ok {
		return chainerr.ErrStoreFault
	}
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	s.blocks[hash] = block
	return nil
}

func (s *Store) GetBlock(ctx context.Context, hash blockchain.HashDigest) (*blockchain.Block, error) {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	return s.blocks[hash], nil
}

func (s *Store) DeleteBlock(ctx context.Context, hash blockchain.HashDigest) (bool, error) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	_, ok := s.blocks[hash]
	delete(s.blocks, hash)
	delete(s.states, hash)
	return ok, nil
}

func (s *Store) ContainsBlock(ctx context.Context, hash blockchain.HashDigest) (bool, error) {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	_, ok := s.blocks[hash]
	return ok, nil
}

func (s *Store) GetBlockIndex(ctx context.Context, hash blockchain.HashDigest) (*int64, error) {
	s.blockMu.RLock()
	b, ok := s.blocks[hash]
	s.blockMu.RUnlock()
	if !ok {
		return nil, nil
	}
	idx := b.Index
	return &idx, nil
}

func (s *Store) IterateBlockHashes(ctx context.Context) ([]blockchain.HashDigest, error) {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	out := make([]blockchain.HashDigest, 0, len(s.blocks))
	for h := range s.blocks {
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) CountBlocks(ctx context.Context) (int64, error) {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	return int64(len(s.blocks)), nil
}

// --- transactions ------------------------------------------------------

func (s *Store) PutTx(ctx context.Context, tx *blockchain.Transaction, id blockchain.TxId) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.txs[id] = tx
	return nil
}

func (s *Store) GetTx(ctx context.Context, id blockchain.TxId) (*blockchain.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	return s.txs[id], nil
}

func (s *Store) DeleteTx(ctx context.Context, id blockchain.TxId) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	_, ok := s.txs[id]
	delete(s.txs, id)
	return ok, nil
}

func (s *Store) ContainsTx(ctx context.Context, id blockchain.TxId) (bool, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	_, ok := s.txs[id]
	return ok, nil
}

func (s *Store) IterateTxIds(ctx context.Context) ([]blockchain.TxId, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	out := make([]blockchain.TxId, 0, len(s.txs))
	for id := range s.txs {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) CountTxs(ctx context.Context) (int64, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	return int64(len(s.txs)), nil
}

// --- staging -------------------------------------------------------------

func (s *Store) StageTxIds(ctx context.Context, ids map[blockchain.TxId]bool) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	for id, broadcastable := range ids {
		s.staged[id] = broadcastable
	}
	return nil
}

func (s *Store) UnstageTxIds(ctx context.Context, ids []blockchain.TxId) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	for _, id := range ids {
		delete(s.staged, id)
	}
	return nil
}

func (s *Store) IterateStagedTxIds(ctx context.Context) (map[blockchain.TxId]bool, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	out := make(map[blockchain.TxId]bool, len(s.staged))
	for id, b := range s.staged {
		out[id] = b
	}
	return out, nil
}

// --- block states ------------------------------------------------------

func (s *Store) SetBlockStates(ctx context.Context, hash blockchain.HashDigest, states map[blockchain.StateKey][]byte) error {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	cp := make(map[blockchain.StateKey][]byte, len(states))
	for k, v := range states {
		cp[k] = v
	}
	s.states[hash] = cp
	return nil
}

func (s *Store) GetBlockStates(ctx context.Context, hash blockchain.HashDigest) (map[blockchain.StateKey][]byte, error) {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	return s.states[hash], nil
}

// --- state references ---------------------------------------------------

func (s *Store) StoreStateReference(ctx context.Context, chain blockchain.ChainId, keys []blockchain.StateKey, blockHash blockchain.HashDigest, blockIndex int64) error {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	chainRefs, ok := s.stateRefs[chain]
	if !ok {
		chainRefs = map[blockchain.StateKey][]store.StateReferenceEntry{}
		s.stateRefs[chain] = chainRefs
	}
	for _, key := range keys {
		refs := chainRefs[key]
		dup := false
		for _, r := range refs {
			if r.BlockHash == blockHash {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		refs = append(refs, store.StateReferenceEntry{BlockHash: blockHash, BlockIndex: blockIndex})
		sort.Slice(refs, func(i, j int) bool { return refs[i].BlockIndex > refs[j].BlockIndex })
		chainRefs[key] = refs
	}
	return nil
}

func (s *Store) LookupStateReference(ctx context.Context, chain blockchain.ChainId, key blockchain.StateKey, atBlockIndex int64) (*store.StateReferenceEntry, error) {
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	for _, r := range s.stateRefs[chain][key] {
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
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	var out []store.StateReferenceEntry
	for _, r := range s.stateRefs[chain][key] {
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
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	out := make([]blockchain.StateKey, 0, len(s.stateRefs[chain]))
	for k := range s.stateRefs[chain] {
		out = append(out, k)
	}
	return out, nil
}

func (s *Store) ListAllStateReferences(ctx context.Context, chain blockchain.ChainId, lowestIndex, highestIndex int64) (map[blockchain.StateKey][]blockchain.HashDigest, error) {
	if lowestIndex > highestIndex {
		return nil, chainerr.ErrRangeError
	}
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	out := map[blockchain.StateKey][]blockchain.HashDigest{}
	for key, refs := range s.stateRefs[chain] {
		asc := make([]store.StateReferenceEntry, len(refs))
		copy(asc, refs)
		sort.Slice(asc, func(i, j int) bool { return asc[i].BlockIndex < asc[j].BlockIndex })
		var hashes []blockchain.HashDigest
		for _, r := range asc {
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
	s.chainMu.RLock()
	known := s.knownChains[source]
	s.chainMu.RUnlock()
	if !known {
		return chainerr.ErrChainIdNotFound
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()
	srcRefs := s.stateRefs[source]
	destRefs, ok := s.stateRefs[dest]
	if !ok {
		destRefs = map[blockchain.StateKey][]store.StateReferenceEntry{}
		s.stateRefs[dest] = destRefs
	}
	for key, refs := range srcRefs {
		for _, r := range refs {
			if r.BlockIndex <= branchpointIndex {
				destRefs[key] = append(destRefs[key], r)
			}
		}
		sort.Slice(destRefs[key], func(i, j int) bool { return destRefs[key][i].BlockIndex > destRefs[key][j].BlockIndex })
	}
	return nil
}

// --- nonces --------------------------------------------------------------

func (s *Store) GetTxNonce(ctx context.Context, chain blockchain.ChainId, signer blockchain.Address) (int64, error) {
	s.nonceMu.RLock()
	defer s.nonceMu.RUnlock()
	return s.nonces[chain][signer], nil
}

func (s *Store) IncreaseTxNonce(ctx context.Context, chain blockchain.ChainId, signer blockchain.Address, delta int64) error {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	chainNonces, ok := s.nonces[chain]
	if !ok {
		chainNonces = map[blockchain.Address]int64{}
		s.nonces[chain] = chainNonces
	}
	chainNonces[signer] += delta
	return nil
}

func (s *Store) ListTxNonces(ctx context.Context, chain blockchain.ChainId) (map[blockchain.Address]int64, error) {
	s.nonceMu.RLock()
	defer s.nonceMu.RUnlock()
	out := make(map[blockchain.Address]int64, len(s.nonces[chain]))
	for k, v := range s.nonces[chain] {
		out[k] = v
	}
	return out, nil
}

// --- block commit ------------------------------------------------------

// CommitBlock writes every effect of commit under one acquisition of
// every mutex it touches, so no caller can observe the block, its
// states, or some of its transactions without the rest.
func (s *Store) CommitBlock(ctx context.Context, commit store.BlockCommit) error {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	s.knownChains[commit.Chain] = true
	s.indexes[commit.Chain] = append(s.indexes[commit.Chain], commit.Hash)
	s.blocks[commit.Hash] = commit.Block

	if len(commit.States) > 0 {
		cp := make(map[blockchain.StateKey][]byte, len(commit.States))
		for k, v := range commit.States {
			cp[k] = v
		}
		s.states[commit.Hash] = cp

		chainRefs, ok := s.stateRefs[commit.Chain]
		if !ok {
			chainRefs = map[blockchain.StateKey][]store.StateReferenceEntry{}
			s.stateRefs[commit.Chain] = chainRefs
		}
		for _, key := range commit.StateKeys {
			refs := chainRefs[key]
			dup := false
			for _, r := range refs {
				if r.BlockHash == commit.Hash {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			refs = append(refs, store.StateReferenceEntry{BlockHash: commit.Hash, BlockIndex: commit.Block.Index})
			sort.Slice(refs, func(i, j int) bool { return refs[i].BlockIndex > refs[j].BlockIndex })
			chainRefs[key] = refs
		}
	}

	chainNonces, ok := s.nonces[commit.Chain]
	if !ok {
		chainNonces = map[blockchain.Address]int64{}
		s.nonces[commit.Chain] = chainNonces
	}
	for _, tc := range commit.Txs {
		s.txs[tc.Id] = tc.Tx
		delete(s.staged, tc.Id)
		chainNonces[tc.Signer]++
	}

	return nil
}

// --- copy ------------------------------------------------------------

func (s *Store) Copy(ctx context.Context, to store.Store) error {
	existing, err := to.ListChainIds(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return chainerr.ErrNonEmptyDestination
	}

	s.chainMu.RLock()
	indexesCopy := make(map[blockchain.ChainId][]blockchain.HashDigest, len(s.indexes))
	for id, idx := range s.indexes {
		indexesCopy[id] = append([]blockchain.HashDigest{}, idx...)
	}
	canonical := s.canonical
	s.chainMu.RUnlock()

	for chain, idx := range indexesCopy {
		for _, h := range idx {
			if _, err := to.AppendIndex(ctx, chain, h); err != nil {
				return err
			}
		}
	}
	if canonical != nil {
		if err := to.SetCanonicalChainId(ctx, *canonical); err != nil {
			return err
		}
	}

	s.blockMu.RLock()
	blocksCopy := make([]*blockchain.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		blocksCopy = append(blocksCopy, b)
	}
	statesCopy := make(map[blockchain.HashDigest]map[blockchain.StateKey][]byte, len(s.states))
	for h, st := range s.states {
		statesCopy[h] = st
	}
	s.blockMu.RUnlock()

	for _, b := range blocksCopy {
		if err := to.PutBlock(ctx, b); err != nil {
			return err
		}
	}
	for h, st := range statesCopy {
		if err := to.SetBlockStates(ctx, h, st); err != nil {
			return err
		}
	}

	s.txMu.RLock()
	txsCopy := make(map[blockchain.TxId]*blockchain.Transaction, len(s.txs))
	for id, tx := range s.txs {
		txsCopy[id] = tx
	}
	s.txMu.RUnlock()
	for id, tx := range txsCopy {
		if err := to.PutTx(ctx, tx, id); err != nil {
			return err
		}
	}

	s.refMu.RLock()
	refsCopy := make(map[blockchain.ChainId]map[blockchain.StateKey][]store.StateReferenceEntry, len(s.stateRefs))
	for chain, m := range s.stateRefs {
		cp := make(map[blockchain.StateKey][]store.StateReferenceEntry, len(m))
		for k, v := range m {
			cp[k] = append([]store.StateReferenceEntry{}, v...)
		}
		refsCopy[chain] = cp
	}
	s.refMu.RUnlock()
	for chain, m := range refsCopy {
		for key, refs := range m {
			for _, r := range refs {
				if err := to.StoreStateReference(ctx, chain, []blockchain.StateKey{key}, r.BlockHash, r.BlockIndex); err != nil {
					return err
				}
			}
		}
	}

	s.nonceMu.RLock()
	noncesCopy := make(map[blockchain.ChainId]map[blockchain.Address]int64, len(s.nonces))
	for chain, m := range s.nonces {
		cp := make(map[blockchain.Address]int64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		noncesCopy[chain] = cp
	}
	s.nonceMu.RUnlock()
	for chain, m := range noncesCopy {
		for signer, n := range m {
			if err := to.IncreaseTxNonce(ctx, chain, signer, n); err != nil {
				return err
			}
		}
	}

	return nil
}
