package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gocuria/blockchain"
)

func headerFrom(t *testing.T, b *blockchain.Block) blockchain.BlockHeader {
	t.Helper()
	h, ok := blockchain.HeaderOf(b)
	require.True(t, ok)
	return h
}

func TestHeaderFirstAcceptsValidContinuation(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	b1 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(1, 0).UTC())

	b1Hash, _ := b1.Hash()

	b2, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        2,
		Difficulty:   1,
		PreviousHash: &b1Hash,
		Timestamp:    time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, b2))

	n, err := eng.HeaderFirst(ctx, []blockchain.BlockHeader{headerFrom(t, b2)})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHeaderFirstRejectsWrongPreviousHash(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	other, err := blockchain.NewGenesisBlock(enc, reg, time.Unix(9, 0).UTC(), nil)
	require.NoError(t, err)
	otherHash, _ := other.Hash()

	b1, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   1,
		PreviousHash: &otherHash,
		Timestamp:    time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, b1))

	n, err := eng.HeaderFirst(ctx, []blockchain.BlockHeader{headerFrom(t, b1)})
	require.Error(t, err)
	require.Equal(t, 0, n)
}

func TestHeaderFirstRejectsLowDifficulty(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 2)

	tip := eng.Tip()
	tipHash, _ := tip.Hash()

	b1, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   1,
		PreviousHash: &tipHash,
		Timestamp:    time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, b1))

	n, err := eng.HeaderFirst(ctx, []blockchain.BlockHeader{headerFrom(t, b1)})
	require.Error(t, err)
	require.Equal(t, 0, n)
}

func TestHeaderFirstStopsAtFirstDivergence(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	tip := eng.Tip()
	tipHash, _ := tip.Hash()

	good, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        1,
		Difficulty:   1,
		PreviousHash: &tipHash,
		Timestamp:    time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, good))

	bad, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        3, // skips index 2
		Difficulty:   1,
		PreviousHash: &tipHash,
		Timestamp:    time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, blockchain.MineBlock(ctx, enc, bad))

	n, err := eng.HeaderFirst(ctx, []blockchain.BlockHeader{headerFrom(t, good), headerFrom(t, bad)})
	require.Error(t, err)
	require.Equal(t, 1, n)
}
