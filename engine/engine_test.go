package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gocuria/actions"
	"gocuria/blockchain"
	"gocuria/codec"
	"gocuria/codec/canonical"
	"gocuria/crypto"
	"gocuria/store/memory"
)

func newTestEngine(t *testing.T, difficulty int64) (*Engine, *canonical.Codec, *blockchain.ActionRegistry, crypto.Backend) {
	t.Helper()
	enc := canonical.New()
	reg := blockchain.NewActionRegistry()
	actions.Register(reg)
	backend := crypto.Secp256k1Backend{}

	eng, err := New(context.Background(), Config{
		Store:    memory.New(),
		Encoder:  enc,
		Registry: reg,
		Policy:   blockchain.FixedDifficultyPolicy{Difficulty: difficulty},
		Backend:  backend,
	})
	require.NoError(t, err)

	genesis, err := blockchain.NewGenesisBlock(enc, reg, time.Unix(0, 0).UTC(), nil)
	require.NoError(t, err)
	require.NoError(t, eng.InitGenesis(context.Background(), genesis))

	return eng, enc, reg, backend
}

func signedTxWithActions(t *testing.T, enc *canonical.Codec, reg *blockchain.ActionRegistry, backend crypto.Backend, priv crypto.PrivateKey, nonce int64, updated []blockchain.Address, ts time.Time, acts []blockchain.Action) *blockchain.Transaction {
	t.Helper()
	tx := blockchain.NewUnsignedTransaction(nonce, updated, ts, acts)
	require.NoError(t, blockchain.SignTransaction(enc, reg, backend, priv, tx))
	return tx
}

func mineAndAppend(t *testing.T, ctx context.Context, eng *Engine, enc *canonical.Codec, reg *blockchain.ActionRegistry, difficulty int64, miner *blockchain.Address, txs []*blockchain.Transaction, ts time.Time) *blockchain.Block {
	t.Helper()
	tip := eng.Tip()
	tipHash, ok := tip.Hash()
	require.True(t, ok)

	block, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        tip.Index + 1,
		Difficulty:   difficulty,
		PreviousHash: &tipHash,
		Timestamp:    ts,
		Miner:        miner,
		Transactions: txs,
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, block))
	require.NoError(t, eng.Append(ctx, block))
	return block
}

// TestGenesisPlusOneBlock is spec section 8 scenario 1.
func TestGenesisPlusOneBlock(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, backend := newTestEngine(t, 1)

	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	tx := signedTxWithActions(t, enc, reg, backend, priv, 0, nil, time.Unix(1, 0).UTC(), nil)

	block := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, []*blockchain.Transaction{tx}, time.Unix(1, 0).UTC())

	require.Equal(t, int64(1), eng.Tip().Index)
	blockHash, _ := block.Hash()
	tipHash, _ := eng.Tip().Hash()
	require.Equal(t, blockHash, tipHash)
}

// TestActionStateAccumulatesAcrossBlocks is spec section 8 scenario 2.
func TestActionStateAccumulatesAcrossBlocks(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, backend := newTestEngine(t, 1)

	signerPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	pub, err := backend.PubKeyFromPrivate(signerPriv)
	require.NoError(t, err)
	signerAddrRaw, err := backend.AddressFromPubKey(pub)
	require.NoError(t, err)
	signer := blockchain.Address(signerAddrRaw)

	var recipient blockchain.Address
	recipient[0] = 0xA1

	tx := signedTxWithActions(t, enc, reg, backend, signerPriv, 0, []blockchain.Address{signer, recipient}, time.Unix(1, 0).UTC(), []blockchain.Action{
		&actions.Attack{Recipient: recipient, Weapon: "sword", Target: "goblin"},
		&actions.Attack{Recipient: recipient, Weapon: "sword", Target: "orc"},
		&actions.Attack{Recipient: recipient, Weapon: "staff", Target: "goblin"},
	})
	mineAndAppend(t, ctx, eng, enc, reg, 1, nil, []*blockchain.Transaction{tx}, time.Unix(1, 0).UTC())

	state, ok, err := eng.GetState(ctx, eng.CanonicalChainId(), blockchain.AddressStateKey(recipient), -1)
	require.NoError(t, err)
	require.True(t, ok)
	dict, isDict := state.(codec.Dict)
	require.True(t, isDict)
	require.ElementsMatch(t, codec.List{"sword", "staff"}, dict["used_weapons"])
	require.ElementsMatch(t, codec.List{"orc", "goblin"}, dict["targets"])

	tx2 := signedTxWithActions(t, enc, reg, backend, signerPriv, 1, []blockchain.Address{signer, recipient}, time.Unix(2, 0).UTC(), []blockchain.Action{
		&actions.Attack{Recipient: recipient, Weapon: "bow", Target: "goblin"},
	})
	mineAndAppend(t, ctx, eng, enc, reg, 1, nil, []*blockchain.Transaction{tx2}, time.Unix(2, 0).UTC())

	state2, ok, err := eng.GetState(ctx, eng.CanonicalChainId(), blockchain.AddressStateKey(recipient), -1)
	require.NoError(t, err)
	require.True(t, ok)
	dict2, isDict := state2.(codec.Dict)
	require.True(t, isDict)
	require.ElementsMatch(t, codec.List{"sword", "staff", "bow"}, dict2["used_weapons"])
}

// TestFindNextHashesLocatorStopCount is spec section 8 scenario 3.
func TestFindNextHashesLocatorStopCount(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	block0 := eng.Tip()
	block0Hash, _ := block0.Hash()

	block1 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(1, 0).UTC())
	block2 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(2, 0).UTC())
	block3 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(3, 0).UTC())

	h1, _ := block1.Hash()
	h2, _ := block2.Hash()
	h3, _ := block3.Hash()

	hashes, err := eng.FindNextHashes(ctx, []blockchain.HashDigest{block0Hash}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, []blockchain.HashDigest{h1, h2, h3}, hashes)

	hashes, err = eng.FindNextHashes(ctx, []blockchain.HashDigest{block0Hash}, &h2, 0)
	require.NoError(t, err)
	require.Equal(t, []blockchain.HashDigest{h1, h2}, hashes)

	hashes, err = eng.FindNextHashes(ctx, []blockchain.HashDigest{block0Hash}, nil, 2)
	require.NoError(t, err)
	require.Equal(t, []blockchain.HashDigest{h1, h2}, hashes)
}

// TestStateReferenceForkAtEachBranchIndex is spec section 8 scenario 4.
func TestStateReferenceForkAtEachBranchIndex(t *testing.T) {
	for _, branch := range []int64{0, 1, 2} {
		branch := branch
		t.Run(fmt.Sprintf("branch=%d", branch), func(t *testing.T) {
			ctx := context.Background()
			eng, enc, reg, backend := newTestEngine(t, 1)

			priv, err := crypto.GeneratePrivateKey()
			require.NoError(t, err)
			pub, err := backend.PubKeyFromPrivate(priv)
			require.NoError(t, err)
			signerRaw, err := backend.AddressFromPubKey(pub)
			require.NoError(t, err)
			signer := blockchain.Address(signerRaw)

			var k1Addr, k2Addr blockchain.Address
			k1Addr[0], k2Addr[0] = 0x10, 0x20

			var blocks []*blockchain.Block
			for i := int64(1); i <= 3; i++ {
				tx := signedTxWithActions(t, enc, reg, backend, priv, i-1, []blockchain.Address{signer, k1Addr}, time.Unix(i, 0).UTC(), []blockchain.Action{
					&actions.Attack{Recipient: k1Addr, Weapon: "w", Target: "t"},
				})
				b := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, []*blockchain.Transaction{tx}, time.Unix(i, 0).UTC())
				blocks = append(blocks, b)
			}
			tx4 := signedTxWithActions(t, enc, reg, backend, priv, 3, []blockchain.Address{signer, k2Addr}, time.Unix(4, 0).UTC(), []blockchain.Action{
				&actions.Attack{Recipient: k2Addr, Weapon: "w", Target: "t"},
			})
			mineAndAppend(t, ctx, eng, enc, reg, 1, nil, []*blockchain.Transaction{tx4}, time.Unix(4, 0).UTC())

			source := eng.CanonicalChainId()
			dest := blockchain.ChainId{0xDE, 0xAD, byte(branch)}
			require.NoError(t, eng.store.ForkStateReferences(ctx, source, dest, branch))

			refs, err := eng.store.IterateStateReferences(ctx, dest, blockchain.AddressStateKey(k1Addr), 0, 10, -1)
			require.NoError(t, err)

			var expected int
			for i := int64(1); i <= 3; i++ {
				if i <= branch {
					expected++
				}
			}
			require.Len(t, refs, expected)
			_ = blocks
		})
	}
}
