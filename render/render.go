// Package render is the host-callback pipeline from spec section 4.5:
// the chain engine emits block/reorg/action events through it, and a
// host installs one or more Renderer implementations to react (persist
// projections, update a UI, emit metrics). The package has no opinion
// about what a renderer does with an event.
package render

import "gocuria/blockchain"

// Renderer receives the engine's side-effect callbacks. Implementations
// must not block the engine indefinitely — the engine invokes these
// synchronously from the thread that completed the append (spec section
// 5).
type Renderer interface {
	RenderBlock(oldTip, newTip *blockchain.Block)
	RenderBlockEnd(oldTip, newTip *blockchain.Block)
	RenderReorg(oldTip, newTip, branchpoint *blockchain.Block)
	RenderReorgEnd(oldTip, newTip, branchpoint *blockchain.Block)
	RenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta)
	RenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error)
	UnrenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta)
	UnrenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error)
}

// MultiRenderer fans a single event stream out to every registered
// renderer in registration order — the supplemented component named in
// the expanded spec for hosts layering more than one renderer (e.g. a
// logging renderer alongside a projection renderer).
type MultiRenderer struct {
	renderers []Renderer
}

var _ Renderer = (*MultiRenderer)(nil)

func NewMultiRenderer(renderers ...Renderer) *MultiRenderer {
	return &MultiRenderer{renderers: renderers}
}

func (m *MultiRenderer) Add(r Renderer) { m.renderers = append(m.renderers, r) }

func (m *MultiRenderer) RenderBlock(oldTip, newTip *blockchain.Block) {
	for _, r := range m.renderers {
		r.RenderBlock(oldTip, newTip)
	}
}

func (m *MultiRenderer) RenderBlockEnd(oldTip, newTip *blockchain.Block) {
	for _, r := range m.renderers {
		r.RenderBlockEnd(oldTip, newTip)
	}
}

func (m *MultiRenderer) RenderReorg(oldTip, newTip, branchpoint *blockchain.Block) {
	for _, r := range m.renderers {
		r.RenderReorg(oldTip, newTip, branchpoint)
	}
}

func (m *MultiRenderer) RenderReorgEnd(oldTip, newTip, branchpoint *blockchain.Block) {
	for _, r := range m.renderers {
		r.RenderReorgEnd(oldTip, newTip, branchpoint)
	}
}

func (m *MultiRenderer) RenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	for _, r := range m.renderers {
		r.RenderAction(action, ctx, nextStates)
	}
}

func (m *MultiRenderer) RenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	for _, r := range m.renderers {
		r.RenderActionError(action, ctx, err)
	}
}

func (m *MultiRenderer) UnrenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	for _, r := range m.renderers {
		r.UnrenderAction(action, ctx, nextStates)
	}
}

func (m *MultiRenderer) UnrenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	for _, r := range m.renderers {
		r.UnrenderActionError(action, ctx, err)
	}
}

// NopRenderer implements Renderer with no-ops, useful as an engine's
// default when a host installs nothing.
type NopRenderer struct{}

var _ Renderer = NopRenderer{}

func (NopRenderer) RenderBlock(*blockchain.Block, *blockchain.Block)      {}
func (NopRenderer) RenderBlockEnd(*blockchain.Block, *blockchain.Block)   {}
func (NopRenderer) RenderReorg(*blockchain.Block, *blockchain.Block, *blockchain.Block)    {}
func (NopRenderer) RenderReorgEnd(*blockchain.Block, *blockchain.Block, *blockchain.Block) {}
func (NopRenderer) RenderAction(blockchain.Action, blockchain.ActionContext, blockchain.StateDelta)       {}
func (NopRenderer) RenderActionError(blockchain.Action, blockchain.ActionContext, error)                  {}
func (NopRenderer) UnrenderAction(blockchain.Action, blockchain.ActionContext, blockchain.StateDelta)     {}
func (NopRenderer) UnrenderActionError(blockchain.Action, blockchain.ActionContext, error)                {}
