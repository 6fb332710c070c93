package render

import (
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"

	"gocuria/blockchain"
)

type countingRenderer struct {
	blocks, ends, actions, errors int
}

func (c *countingRenderer) RenderBlock(oldTip, newTip *blockchain.Block)    { c.blocks++ }
func (c *countingRenderer) RenderBlockEnd(oldTip, newTip *blockchain.Block) { c.ends++ }
func (c *countingRenderer) RenderReorg(oldTip, newTip, branchpoint *blockchain.Block)    {}
func (c *countingRenderer) RenderReorgEnd(oldTip, newTip, branchpoint *blockchain.Block) {}
func (c *countingRenderer) RenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	c.actions++
}
func (c *countingRenderer) RenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	c.errors++
}
func (c *countingRenderer) UnrenderAction(blockchain.Action, blockchain.ActionContext, blockchain.StateDelta) {
}
func (c *countingRenderer) UnrenderActionError(blockchain.Action, blockchain.ActionContext, error) {}

func TestMultiRendererFansOutToEveryRegisteredRenderer(t *testing.T) {
	a, b := &countingRenderer{}, &countingRenderer{}
	m := NewMultiRenderer(a, b)

	m.RenderBlock(nil, nil)
	m.RenderAction(nil, blockchain.ActionContext{}, nil)
	m.RenderActionError(nil, blockchain.ActionContext{}, nil)
	m.RenderBlockEnd(nil, nil)

	for _, r := range []*countingRenderer{a, b} {
		require.Equal(t, 1, r.blocks)
		require.Equal(t, 1, r.actions)
		require.Equal(t, 1, r.errors)
		require.Equal(t, 1, r.ends)
	}
}

func TestMultiRendererAddAppendsAfterConstruction(t *testing.T) {
	a := &countingRenderer{}
	m := NewMultiRenderer()
	m.Add(a)

	m.RenderBlock(nil, nil)
	require.Equal(t, 1, a.blocks)
}

func TestNopRendererIgnoresEverything(t *testing.T) {
	var r Renderer = NopRenderer{}
	require.NotPanics(t, func() {
		r.RenderBlock(nil, nil)
		r.RenderBlockEnd(nil, nil)
		r.RenderReorg(nil, nil, nil)
		r.RenderReorgEnd(nil, nil, nil)
		r.RenderAction(nil, blockchain.ActionContext{}, nil)
		r.RenderActionError(nil, blockchain.ActionContext{}, nil)
		r.UnrenderAction(nil, blockchain.ActionContext{}, nil)
		r.UnrenderActionError(nil, blockchain.ActionContext{}, nil)
	})
}

func TestLoggingRendererDoesNotPanicOnNilBlocks(t *testing.T) {
	r := NewLoggingRenderer(btclog.Disabled)
	require.NotPanics(t, func() {
		r.RenderBlock(nil, nil)
		r.RenderBlockEnd(nil, nil)
	})
}
