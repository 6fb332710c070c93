package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gocuria/blockchain"
	"gocuria/codec/canonical"
)

// recordingRenderer captures every call it receives, for asserting
// promotion order against the buffering contract.
type recordingRenderer struct {
	events []string
}

func (r *recordingRenderer) RenderBlock(oldTip, newTip *blockchain.Block) {
	r.events = append(r.events, "block:"+label(newTip))
}
func (r *recordingRenderer) RenderBlockEnd(oldTip, newTip *blockchain.Block) {
	r.events = append(r.events, "blockEnd:"+label(newTip))
}
func (r *recordingRenderer) RenderReorg(oldTip, newTip, branchpoint *blockchain.Block) {
	r.events = append(r.events, "reorg:"+label(newTip))
}
func (r *recordingRenderer) RenderReorgEnd(oldTip, newTip, branchpoint *blockchain.Block) {
	r.events = append(r.events, "reorgEnd:"+label(newTip))
}
func (r *recordingRenderer) RenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	r.events = append(r.events, "action:"+label(ctx.BlockHash))
}
func (r *recordingRenderer) RenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	r.events = append(r.events, "actionErr:"+label(ctx.BlockHash))
}
func (r *recordingRenderer) UnrenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	r.events = append(r.events, "unaction:"+label(ctx.BlockHash))
}
func (r *recordingRenderer) UnrenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	r.events = append(r.events, "unactionErr:"+label(ctx.BlockHash))
}

var labels = map[blockchain.HashDigest]string{}

func label(v interface{}) string {
	switch x := v.(type) {
	case *blockchain.Block:
		if x == nil {
			return "<nil>"
		}
		h, _ := x.Hash()
		return label(h)
	case blockchain.HashDigest:
		if n, ok := labels[x]; ok {
			return n
		}
		return "?"
	default:
		return "?"
	}
}

// chainOf mines n blocks on top of genesis, each carrying one action so
// RenderAction fires per block, and registers human-readable labels for
// assertions.
func chainOf(t *testing.T, n int) []*blockchain.Block {
	t.Helper()
	enc := canonical.New()
	reg := blockchain.NewActionRegistry()

	genesis, err := blockchain.NewGenesisBlock(enc, reg, time.Unix(0, 0).UTC(), nil)
	require.NoError(t, err)
	genesisHash, _ := genesis.Hash()
	labels[genesisHash] = "genesis"

	blocks := []*blockchain.Block{genesis}
	prevHash := genesisHash
	for i := 1; i <= n; i++ {
		b, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
			Index:        int64(i),
			Difficulty:   1,
			PreviousHash: &prevHash,
			Timestamp:    time.Unix(int64(i), 0).UTC(),
		})
		require.NoError(t, err)
		require.NoError(t, blockchain.MineBlock(context.Background(), enc, b))
		h, ok := b.Hash()
		require.True(t, ok)
		labels[h] = "B" + string(rune('0'+i))
		blocks = append(blocks, b)
		prevHash = h
	}
	return blocks
}

// feed drives the live-rendering sequence an engine emits for a plain
// append of block against oldTip: RenderBlock, one RenderAction, then
// RenderBlockEnd.
func feed(d *DelayedRenderer, oldTip, block *blockchain.Block) {
	h, _ := block.Hash()
	d.RenderBlock(oldTip, block)
	ctx := blockchain.ActionContext{BlockHash: h}
	d.RenderAction(nil, ctx, nil)
	d.RenderBlockEnd(oldTip, block)
}

// TestDelayedRendererFlushesOnlyOnceConfirmationThresholdReached is spec
// section 8 scenario 6: B1..B5 fed with confirmations=3; B1 promotes
// only once B4 arrives, B2 only once B5 arrives.
func TestDelayedRendererFlushesOnlyOnceConfirmationThresholdReached(t *testing.T) {
	blocks := chainOf(t, 5)
	genesis, b1, b2, b3, b4, b5 := blocks[0], blocks[1], blocks[2], blocks[3], blocks[4], blocks[5]

	inner := &recordingRenderer{}
	d := NewDelayedRenderer(inner, 3)

	feed(d, nil, genesis)
	inner.events = nil

	feed(d, genesis, b1)
	require.Empty(t, inner.events, "B1 alone must not promote anything")

	feed(d, b1, b2)
	require.Empty(t, inner.events, "B2 must not promote B1 yet")

	feed(d, b2, b3)
	require.Empty(t, inner.events, "B3 must not promote B1 yet")

	feed(d, b3, b4)
	require.NotEmpty(t, inner.events, "B4 must promote B1")
	b1Hash, _ := b1.Hash()
	require.Contains(t, inner.events, "action:"+label(b1Hash))
	require.NotContains(t, inner.events, "action:"+label(mustHash(t, b2)))

	inner.events = nil
	feed(d, b4, b5)
	require.NotEmpty(t, inner.events, "B5 must promote B2")
	require.Contains(t, inner.events, "action:"+label(mustHash(t, b2)))
}

func mustHash(t *testing.T, b *blockchain.Block) blockchain.HashDigest {
	t.Helper()
	h, ok := b.Hash()
	require.True(t, ok)
	return h
}

// TestDelayedRendererEmitsReorgWhenConfirmedBranchSupersedesAnother
// confirms that when a competing, heavier branch reaches confirmation
// depth after the first branch already promoted, the delayed renderer
// reports it through RenderReorg rather than a plain RenderBlock.
func TestDelayedRendererEmitsReorgWhenConfirmedBranchSupersedesAnother(t *testing.T) {
	enc := canonical.New()
	reg := blockchain.NewActionRegistry()

	genesis, err := blockchain.NewGenesisBlock(enc, reg, time.Unix(0, 0).UTC(), nil)
	require.NoError(t, err)
	genesisHash, _ := genesis.Hash()
	labels[genesisHash] = "genesis-reorg"

	mine := func(idx int64, prev blockchain.HashDigest, difficulty int64, tag string) *blockchain.Block {
		b, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
			Index:        idx,
			Difficulty:   difficulty,
			PreviousHash: &prev,
			Timestamp:    time.Unix(idx*10, 0).UTC(),
		})
		require.NoError(t, err)
		require.NoError(t, blockchain.MineBlock(context.Background(), enc, b))
		h, _ := b.Hash()
		labels[h] = tag
		return b
	}

	a1 := mine(1, genesisHash, 1, "A1")
	a1Hash, _ := a1.Hash()
	a2 := mine(2, a1Hash, 1, "A2")
	a2Hash, _ := a2.Hash()
	a3 := mine(3, a2Hash, 1, "A3")

	b1 := mine(1, genesisHash, 2, "RB1")
	b1Hash, _ := b1.Hash()
	b2 := mine(2, b1Hash, 2, "RB2")
	b2Hash, _ := b2.Hash()
	b3 := mine(3, b2Hash, 2, "RB3")
	b3Hash, _ := b3.Hash()
	b4 := mine(4, b3Hash, 2, "RB4")

	inner := &recordingRenderer{}
	d := NewDelayedRenderer(inner, 2)

	feed(d, nil, genesis)
	inner.events = nil

	feed(d, genesis, a1)
	feed(d, a1, a2)
	feed(d, a2, a3)
	require.Contains(t, inner.events, "block:"+label(a1Hash))

	inner.events = nil
	feed(d, genesis, b1)
	feed(d, b1, b2)
	feed(d, b2, b3)
	feed(d, b3, b4)

	require.Contains(t, inner.events, "reorg:"+label(mustHash(t, b1)))
}
