package blockchain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gocuria/codec/canonical"
	"gocuria/crypto"
)

func signedTx(t *testing.T, enc *canonical.Codec, reg *ActionRegistry, backend crypto.Backend, nonce int64) *Transaction {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	tx := NewUnsignedTransaction(nonce, nil, time.Unix(int64(nonce), 0).UTC(), nil)
	require.NoError(t, SignTransaction(enc, reg, backend, priv, tx))
	return tx
}

func TestOrderTransactionsGroupsBySignerAndSortsByNonce(t *testing.T) {
	enc := canonical.New()
	reg := NewActionRegistry()
	backend := crypto.Secp256k1Backend{}

	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	var higher, lower *Transaction
	for _, nonce := range []int64{3, 1} {
		tx := NewUnsignedTransaction(nonce, nil, time.Unix(nonce, 0).UTC(), nil)
		require.NoError(t, SignTransaction(enc, reg, backend, priv, tx))
		if nonce == 3 {
			higher = tx
		} else {
			lower = tx
		}
	}

	ordered, err := OrderTransactions(enc, reg, HashDigest{}, []*Transaction{higher, lower})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	require.Equal(t, int64(1), ordered[0].Nonce)
	require.Equal(t, int64(3), ordered[1].Nonce)
}

func TestOrderTransactionsDeterministicAcrossInputOrder(t *testing.T) {
	enc := canonical.New()
	reg := NewActionRegistry()
	backend := crypto.Secp256k1Backend{}

	a := signedTx(t, enc, reg, backend, 0)
	b := signedTx(t, enc, reg, backend, 0)
	c := signedTx(t, enc, reg, backend, 0)

	prev := HashDigest{0xAB}
	order1, err := OrderTransactions(enc, reg, prev, []*Transaction{a, b, c})
	require.NoError(t, err)
	order2, err := OrderTransactions(enc, reg, prev, []*Transaction{c, a, b})
	require.NoError(t, err)

	id1, id2 := make([]HashDigest, 3), make([]HashDigest, 3)
	for i, tx := range order1 {
		id1[i], _ = tx.Id(enc, reg)
	}
	for i, tx := range order2 {
		id2[i], _ = tx.Id(enc, reg)
	}
	require.Equal(t, id1, id2, "ordering must not depend on slice input order")
}

func TestMineBlockSatisfiesDifficulty(t *testing.T) {
	enc := canonical.New()
	reg := NewActionRegistry()

	genesis, err := NewGenesisBlock(enc, reg, time.Unix(0, 0).UTC(), nil)
	require.NoError(t, err)
	genesisHash, ok := genesis.Hash()
	require.True(t, ok)

	block, err := AssembleBlock(enc, reg, BlockBuildParams{
		Index:        1,
		Difficulty:   4,
		PreviousHash: &genesisHash,
		Timestamp:    time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, MineBlock(context.Background(), enc, block))
	hash, ok := block.Hash()
	require.True(t, ok)
	require.True(t, HashMeetsDifficulty(hash, 4))
	require.NoError(t, block.ValidateStandalone(time.Unix(100, 0).UTC()))
}

func TestValidateStandaloneRejectsFutureTimestamp(t *testing.T) {
	enc := canonical.New()
	reg := NewActionRegistry()

	genesis, err := NewGenesisBlock(enc, reg, time.Now().Add(time.Hour).UTC(), nil)
	require.NoError(t, err)
	err = genesis.ValidateStandalone(time.Now().UTC())
	require.Error(t, err)
}

func TestValidateStandaloneRejectsGenesisWithDifficulty(t *testing.T) {
	var b Block
	b.Index = 0
	b.Difficulty = 1
	err := b.ValidateStandalone(time.Now().UTC())
	require.Error(t, err)
}
