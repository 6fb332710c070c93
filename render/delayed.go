package render

import (
	"sync"

	"gocuria/blockchain"
)

// bufferedEvent is one action-level callback captured while a block or
// reorg is live-rendering, held until the delayed renderer decides the
// owning block has enough confirmations to promote.
type bufferedEvent struct {
	action  blockchain.Action
	ctx     blockchain.ActionContext
	delta   blockchain.StateDelta
	err     error
	isError bool
}

// DelayedRenderer withholds action events until a block has accrued
// Confirmations child blocks on top of it (spec section 4.5.2): it sits
// between the engine (which renders every append immediately, "live")
// and a wrapped inner Renderer, which only ever sees events for blocks
// that have become sufficiently buried.
//
// Per section 4.5.3, action events are buffered keyed by the
// ActionContext's own BlockHash — the engine never signals "current
// block" through any other channel — so concurrent render cycles for
// different blocks cannot cross-contaminate each other's buffers; the
// local accumulation is merged into the shared buffer map only when its
// owning block/reorg bracket closes.
type DelayedRenderer struct {
	mu            sync.Mutex
	inner         Renderer
	confirmations int

	blocks          map[blockchain.HashDigest]*blockchain.Block
	totalDifficulty map[blockchain.HashDigest]int64
	confirmCount    map[blockchain.HashDigest]int

	recognizedTip *blockchain.Block

	buffers map[blockchain.HashDigest][]bufferedEvent
	local   map[blockchain.HashDigest][]bufferedEvent
}

var _ Renderer = (*DelayedRenderer)(nil)

// NewDelayedRenderer wraps inner; confirmations must be > 0.
func NewDelayedRenderer(inner Renderer, confirmations int) *DelayedRenderer {
	if confirmations <= 0 {
		panic("render: confirmations must be > 0")
	}
	return &DelayedRenderer{
		inner:           inner,
		confirmations:   confirmations,
		blocks:          map[blockchain.HashDigest]*blockchain.Block{},
		totalDifficulty: map[blockchain.HashDigest]int64{},
		confirmCount:    map[blockchain.HashDigest]int{},
		buffers:         map[blockchain.HashDigest][]bufferedEvent{},
		local:           map[blockchain.HashDigest][]bufferedEvent{},
	}
}

func (d *DelayedRenderer) cacheBlock(b *blockchain.Block) {
	if b == nil {
		return
	}
	hash, ok := b.Hash()
	if !ok {
		return
	}
	if _, seen := d.blocks[hash]; seen {
		return
	}
	d.blocks[hash] = b
	if b.PreviousHash == nil {
		d.totalDifficulty[hash] = b.Difficulty
		return
	}
	d.totalDifficulty[hash] = d.totalDifficulty[*b.PreviousHash] + b.Difficulty
}

func (d *DelayedRenderer) RenderBlock(oldTip, newTip *blockchain.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cacheBlock(oldTip)
	d.cacheBlock(newTip)
}

func (d *DelayedRenderer) RenderReorg(oldTip, newTip, branchpoint *blockchain.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cacheBlock(oldTip)
	d.cacheBlock(newTip)
	d.cacheBlock(branchpoint)
}

// RenderReorgEnd does no bookkeeping of its own: every reorg bracket
// closes its inner RenderBlockEnd for the same newTip first, and that
// call has already run blockEnd.
func (d *DelayedRenderer) RenderReorgEnd(oldTip, newTip, branchpoint *blockchain.Block) {
}

func (d *DelayedRenderer) RenderBlockEnd(oldTip, newTip *blockchain.Block) {
	d.blockEnd(newTip)
}

func (d *DelayedRenderer) RenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local[ctx.BlockHash] = append(d.local[ctx.BlockHash], bufferedEvent{action: action, ctx: ctx, delta: nextStates})
}

func (d *DelayedRenderer) RenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local[ctx.BlockHash] = append(d.local[ctx.BlockHash], bufferedEvent{action: action, ctx: ctx, err: err, isError: true})
}

// UnrenderAction/UnrenderActionError arrive from the engine's own live
// reorg sequence (spec section 4.5.1); the delayed renderer does not
// forward them. The buffered render events of the block being rolled
// back are kept, so that if the inner renderer has already been shown
// that block, flushTo can replay them in reverse as unrender events
// when a later promotion moves the recognized tip off its branch.
func (d *DelayedRenderer) UnrenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
}

func (d *DelayedRenderer) UnrenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
}

// blockEnd runs confirmation bookkeeping for the branch ending at
// newTip, then re-evaluates tip promotion.
func (d *DelayedRenderer) blockEnd(newTip *blockchain.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if newTip == nil {
		return
	}
	hash, ok := newTip.Hash()
	if !ok {
		return
	}
	if buf, seen := d.local[hash]; seen {
		d.buffers[hash] = buf
		delete(d.local, hash)
	}

	// Genesis is unambiguous from the moment it exists — there is no
	// fork to wait out — so it promotes immediately rather than waiting
	// on confirmations.
	if newTip.PreviousHash == nil {
		d.confirmCount[hash] = d.confirmations
		d.promote()
		return
	}

	// Walk backward from newTip's parent, incrementing every ancestor's
	// confirmation counter — a block's confirmation count is the number
	// of descendants mined on top of it, not counting itself. Stop once
	// an ancestor has already reached the confirmation threshold, since
	// older blocks' counts no longer matter once promoted.
	cur := d.parentOf(newTip)
	for cur != nil {
		h, ok := cur.Hash()
		if !ok {
			break
		}
		d.confirmCount[h]++
		if d.confirmCount[h] >= d.confirmations {
			break
		}
		if cur.PreviousHash == nil {
			break
		}
		parent, ok := d.blocks[*cur.PreviousHash]
		if !ok {
			break
		}
		cur = parent
	}

	d.promote()
}

// promote finds the most-confirmed block with strictly higher total
// difficulty than the current recognized tip and, if found, flushes the
// buffered path to it.
func (d *DelayedRenderer) promote() {
	var best *blockchain.Block
	var bestDiff int64
	for hash, count := range d.confirmCount {
		if count < d.confirmations {
			continue
		}
		b, ok := d.blocks[hash]
		if !ok {
			continue
		}
		diff := d.totalDifficulty[hash]
		if d.recognizedTip != nil {
			if rh, ok := d.recognizedTip.Hash(); ok && rh == hash {
				continue
			}
		}
		if diff <= d.currentRecognizedDifficulty() {
			continue
		}
		if best == nil || diff > bestDiff {
			best, bestDiff = b, diff
		}
	}
	if best == nil {
		return
	}
	d.flushTo(best)
}

func (d *DelayedRenderer) currentRecognizedDifficulty() int64 {
	if d.recognizedTip == nil {
		return -1
	}
	h, ok := d.recognizedTip.Hash()
	if !ok {
		return -1
	}
	return d.totalDifficulty[h]
}

// flushTo transitions the recognized tip to newTip, emitting buffered
// events to the inner renderer in the ordering contract from section
// 4.5.1.
func (d *DelayedRenderer) flushTo(newTip *blockchain.Block) {
	oldTip := d.recognizedTip
	branchpoint := d.findBranchpoint(oldTip, newTip)

	isReorg := oldTip != nil && (branchpoint == nil || !sameHash(branchpoint, oldTip))

	if isReorg {
		d.inner.RenderReorg(oldTip, newTip, branchpoint)
	}
	d.inner.RenderBlock(oldTip, newTip)

	if isReorg {
		for _, b := range d.pathDescending(oldTip, branchpoint) {
			h, _ := b.Hash()
			events := d.buffers[h]
			for i := len(events) - 1; i >= 0; i-- {
				e := events[i]
				if e.isError {
					d.inner.UnrenderActionError(e.action, e.ctx, e.err)
				} else {
					d.inner.UnrenderAction(e.action, e.ctx, e.delta)
				}
			}
		}
	}

	for _, b := range d.pathAscending(branchpoint, newTip) {
		h, _ := b.Hash()
		for _, e := range d.buffers[h] {
			if e.isError {
				d.inner.RenderActionError(e.action, e.ctx, e.err)
			} else {
				d.inner.RenderAction(e.action, e.ctx, e.delta)
			}
		}
	}

	d.inner.RenderBlockEnd(oldTip, newTip)
	if isReorg {
		d.inner.RenderReorgEnd(oldTip, newTip, branchpoint)
	}

	d.recognizedTip = newTip
}

func sameHash(a, b *blockchain.Block) bool {
	if a == nil || b == nil {
		return a == b
	}
	ha, ok1 := a.Hash()
	hb, ok2 := b.Hash()
	return ok1 && ok2 && ha == hb
}

// findBranchpoint walks both chains via the local block cache until
// hashes match, index-equalizing the deeper pointer first.
func (d *DelayedRenderer) findBranchpoint(a, b *blockchain.Block) *blockchain.Block {
	if a == nil {
		return nil
	}
	for a.Index > b.Index {
		a = d.parentOf(a)
		if a == nil {
			return nil
		}
	}
	for b.Index > a.Index {
		b = d.parentOf(b)
		if b == nil {
			return nil
		}
	}
	for !sameHash(a, b) {
		a = d.parentOf(a)
		b = d.parentOf(b)
		if a == nil || b == nil {
			return nil
		}
	}
	return a
}

func (d *DelayedRenderer) parentOf(b *blockchain.Block) *blockchain.Block {
	if b == nil || b.PreviousHash == nil {
		return nil
	}
	return d.blocks[*b.PreviousHash]
}

// pathDescending returns blocks from `from` down to (but excluding)
// `to`, in descending order — the branch being unrendered.
func (d *DelayedRenderer) pathDescending(from, to *blockchain.Block) []*blockchain.Block {
	var out []*blockchain.Block
	cur := from
	for cur != nil && !sameHash(cur, to) {
		out = append(out, cur)
		cur = d.parentOf(cur)
	}
	return out
}

// pathAscending returns blocks from just after `from` (exclusive) up to
// `to` (inclusive), in ascending order — the branch being rendered.
func (d *DelayedRenderer) pathAscending(from, to *blockchain.Block) []*blockchain.Block {
	var reversed []*blockchain.Block
	cur := to
	for cur != nil && !sameHash(cur, from) {
		reversed = append(reversed, cur)
		cur = d.parentOf(cur)
	}
	out := make([]*blockchain.Block, len(reversed))
	for i, b := range reversed {
		out[len(reversed)-1-i] = b
	}
	return out
}
