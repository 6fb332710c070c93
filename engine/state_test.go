package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecentBlocksReturnsTipFirstCappedAtChainLength(t *testing.T) {
	ctx := context.Background()
	eng, enc, reg, _ := newTestEngine(t, 1)

	b1 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(1, 0).UTC())
	b2 := mineAndAppend(t, ctx, eng, enc, reg, 1, nil, nil, time.Unix(2, 0).UTC())

	recent, err := eng.RecentBlocks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	h0, _ := recent[0].Hash()
	h1, _ := recent[1].Hash()
	b2Hash, _ := b2.Hash()
	b1Hash, _ := b1.Hash()
	require.Equal(t, b2Hash, h0, "most recent block first")
	require.Equal(t, b1Hash, h1)

	all, err := eng.RecentBlocks(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 3, "request beyond chain length caps at chain length")
}

func TestGetStateReturnsFalseForUnknownKey(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t, 1)

	_, ok, err := eng.GetState(ctx, eng.CanonicalChainId(), "deadbeef", -1)
	require.NoError(t, err)
	require.False(t, ok)
}
