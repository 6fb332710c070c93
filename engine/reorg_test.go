package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gocuria/blockchain"
	"gocuria/crypto"
)

func TestChainSwitchesToHeavierCompetingBranch(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	genesis := eng.Tip()
	genesisHash, ok := genesis.Hash()
	require.True(t, ok)

	a1 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(1, 0).UTC())
	a1Hash, _ := a1.Hash()
	require.Equal(t, a1Hash, mustTipHash(t, eng))

	// Build a competing branch off genesis with higher difficulty, so
	// its single block already outweighs the canonical branch's total.
	b1, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   5,
		PreviousHash: &genesisHash,
		Timestamp:    time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, b1))
	require.NoError(t, eng.Append(ctx, b1))

	b1Hash, _ := b1.Hash()
	require.Equal(t, b1Hash, mustTipHash(t, eng), "heavier competing branch must become canonical")
	require.Equal(t, int64(1), eng.Tip().Index)
}

func TestChainRejectsLighterCompetingBranch(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	genesis := eng.Tip()
	genesisHash, ok := genesis.Hash()
	require.True(t, ok)

	a1 := mineAndAppend(t, ctx, eng, enc, reg, 3, nil, nil, time.Unix(1, 0).UTC())
	a1Hash, _ := a1.Hash()

	b1, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   1,
		PreviousHash: &genesisHash,
		Timestamp:    time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, b1))
	require.NoError(t, eng.Append(ctx, b1))

	require.Equal(t, a1Hash, mustTipHash(t, eng), "lighter competing branch must not become canonical")
}

func mustTipHash(t *testing.T, eng *Engine) blockchain.HashDigest {
	t.Helper()
	h, ok := eng.Tip().Hash()
	require.True(t, ok)
	return h
}

func TestAppendRejectsBlockBelowPolicyDifficulty(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 4)

	tip := eng.Tip()
	tipHash, ok := tip.Hash()
	require.True(t, ok)

	low, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   1,
		PreviousHash: &tipHash,
		Timestamp:    time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, low))

	err = eng.Append(ctx, low)
	require.Error(t, err)
	require.Equal(t, int64(0), eng.Tip().Index)
}

// TestReorgSeedsNewBranchNoncesFromSharedPrefix guards against a
// signer's nonce resetting to 0 on the losing-turned-winning branch
// when the shared prefix already contains one of their transactions:
// a tx reusing the prefix's nonce on the new branch must be rejected,
// and the first genuinely new nonce must be accepted.
func TestReorgSeedsNewBranchNoncesFromSharedPrefix(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, backend := newTestEngine(t, 1)

	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx0 := signedTxWithActions(t, enc, reg, backend, priv, 0, nil, time.Unix(1, 0).UTC(), nil)
	a1 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, []*blockchain.Transaction{tx0}, time.Unix(1, 0).UTC())
	a1Hash, _ := a1.Hash()

	mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(2, 0).UTC())

	// Competing branch off a1 with a transaction that reuses nonce 0 —
	// must be rejected once a1 is seeded into the new branch's chain id,
	// since the signer already spent nonce 0 there.
	reused := signedTxWithActions(t, enc, reg, backend, priv, 0, nil, time.Unix(3, 0).UTC(), nil)
	bad, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        2,
		Difficulty:   5,
		PreviousHash: &a1Hash,
		Timestamp:    time.Unix(3, 0).UTC(),
		Transactions: []*blockchain.Transaction{reused},
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, bad))
	require.Error(t, eng.Append(ctx, bad), "reused nonce on the new branch must be rejected")

	// The correctly-continued nonce must be accepted and must trigger
	// the reorg (heavier branch: difficulty 5 beats the canonical total
	// of 2).
	next := signedTxWithActions(t, enc, reg, backend, priv, 1, nil, time.Unix(3, 0).UTC(), nil)
	good, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        2,
		Difficulty:   5,
		PreviousHash: &a1Hash,
		Timestamp:    time.Unix(3, 0).UTC(),
		Transactions: []*blockchain.Transaction{next},
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, good))
	require.NoError(t, eng.Append(ctx, good))

	goodHash, _ := good.Hash()
	require.Equal(t, goodHash, mustTipHash(t, eng), "heavier branch must become canonical")

	n, err := eng.store.GetTxNonce(ctx, eng.CanonicalChainId(), tx0.Signer)
	require.NoError(t, err)
	require.Equal(t, int64(2), n, "signer has two committed txs on the new branch: the shared-prefix one plus the replay")
}

func TestAppendRejectsNonIncreasingTimestamp(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	tip := eng.Tip()
	tipHash, ok := tip.Hash()
	require.True(t, ok)

	b, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   1,
		PreviousHash: &tipHash,
		Timestamp:    tip.Timestamp, // not strictly after parent
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, b))

	err = eng.Append(ctx, b)
	require.Error(t, err)
}
