// Package engine owns the canonical chain view: block append and
// validation (spec section 4.3.1), action evaluation (4.3.2), state
// lookup (4.3.3), fork/reorg (4.3.4), and locator-based sync (4.3.5). It
// is the only package that understands consensus; the store beneath it
// is a pure data substrate and the renderer pipeline above it is a pure
// side-effect sink.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"gocuria/blockchain"
	"gocuria/chainerr"
	"gocuria/codec"
	"gocuria/crypto"
	"gocuria/render"
	"gocuria/store"
)

// Config is the struct-literal configuration every Engine is built
// from — no CLI/env framework, matching the teacher's Config-struct
// convention.
type Config struct {
	Store    store.Store
	Encoder  codec.Encoder
	Registry *blockchain.ActionRegistry
	Policy   blockchain.BlockPolicy
	Renderer render.Renderer
	Backend  crypto.Backend

	// Now, when non-nil, overrides time.Now for validation — a test
	// seam, not part of the spec contract.
	Now func() time.Time
}

// Engine implements spec section 4.3. One Engine owns one canonical
// chain view; cross-chain fork/reorg bookkeeping all happens inside a
// single Engine instance against multiple ChainIds in its store.
type Engine struct {
	store    store.Store
	enc      codec.Encoder
	reg      *blockchain.ActionRegistry
	policy   blockchain.BlockPolicy
	renderer render.Renderer
	backend  crypto.Backend
	now      func() time.Time

	// appendMu serializes Append per spec section 5 ("at most one
	// append may be in progress per chain"); a single engine owns one
	// canonical chain at a time so one mutex suffices.
	appendMu sync.Mutex

	// canonMu guards the in-memory canonical-tip cache so get_state
	// callers only need a read lock, never blocking on an in-flight
	// append's store writes.
	canonMu   sync.RWMutex
	canonical blockchain.ChainId
	tip       *blockchain.Block
	tipHash   blockchain.HashDigest
}

// New constructs an Engine from cfg. If the store already names a
// canonical chain, the engine adopts it and loads its tip; otherwise
// the engine starts with no canonical chain until InitGenesis
// establishes one.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	e := &Engine{
		store:    cfg.Store,
		enc:      cfg.Encoder,
		reg:      cfg.Registry,
		policy:   cfg.Policy,
		renderer: cfg.Renderer,
		backend:  cfg.Backend,
		now:      cfg.Now,
	}
	if e.renderer == nil {
		e.renderer = render.NopRenderer{}
	}
	if e.backend == nil {
		e.backend = crypto.DefaultBackend()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}

	existing, err := cfg.Store.GetCanonicalChainId(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := e.loadCanonical(ctx, *existing); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) loadCanonical(ctx context.Context, chain blockchain.ChainId) error {
	n, err := e.store.CountIndex(ctx, chain)
	if err != nil {
		return err
	}
	e.canonical = chain
	if n == 0 {
		e.tip = nil
		return nil
	}
	hash, err := e.store.IndexBlockHash(ctx, chain, n-1)
	if err != nil {
		return err
	}
	block, err := e.store.GetBlock(ctx, *hash)
	if err != nil {
		return err
	}
	e.tip = block
	e.tipHash = *hash
	return nil
}

// InitGenesis establishes a fresh canonical chain rooted at block,
// which must be a validated, already-hashed genesis block (Index 0).
// It is the only Append path that does not require an existing tip.
func (e *Engine) InitGenesis(ctx context.Context, block *blockchain.Block) error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if err := block.ValidateStandalone(e.now()); err != nil {
		return err
	}
	if err := e.validateTransactions(block); err != nil {
		return err
	}
	if block.Index != 0 {
		return chainerr.ErrInvalidBlockIndex
	}

	var chain blockchain.ChainId
	copy(chain[:], mustRandom(len(chain)))

	hash, outcomes, err := e.commitBlock(ctx, chain, block)
	if err != nil {
		return err
	}
	if err := e.store.SetCanonicalChainId(ctx, chain); err != nil {
		return err
	}
	e.canonMu.Lock()
	e.canonical = chain
	e.tip, e.tipHash = block, hash
	e.canonMu.Unlock()

	e.renderer.RenderBlock(nil, block)
	for _, o := range outcomes {
		if o.Err != nil {
			e.renderer.RenderActionError(o.Action, o.Context, o.Err)
		} else {
			e.renderer.RenderAction(o.Action, o.Context, o.Delta)
		}
	}
	e.renderer.RenderBlockEnd(nil, block)
	return nil
}

// Tip returns the current canonical tip block, or nil if the chain is
// empty.
func (e *Engine) Tip() *blockchain.Block {
	e.canonMu.RLock()
	defer e.canonMu.RUnlock()
	return e.tip
}

// CanonicalChainId returns the chain id the engine currently considers
// canonical.
func (e *Engine) CanonicalChainId() blockchain.ChainId {
	e.canonMu.RLock()
	defer e.canonMu.RUnlock()
	return e.canonical
}

// TotalDifficulty sums difficulty genesis to tip for chain — a
// supplemented convenience (not named verbatim in spec section 4.3, but
// implied by "greater cumulative total difficulty" in 4.3.4) used to
// compare competing tips during reorg.
func (e *Engine) TotalDifficulty(ctx context.Context, chain blockchain.ChainId) (int64, error) {
	hashes, err := e.store.IterateIndexes(ctx, chain, 0, -1)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, h := range hashes {
		b, err := e.store.GetBlock(ctx, h)
		if err != nil {
			return 0, err
		}
		if b == nil {
			continue
		}
		total += b.Difficulty
	}
	return total, nil
}

// RecentBlocks returns up to n of the canonical chain's most recent
// blocks, tip first — a supplemented convenience for hosts that want a
// quick "what just happened" view without walking the index themselves.
func (e *Engine) RecentBlocks(ctx context.Context, n int64) ([]*blockchain.Block, error) {
	chain := e.CanonicalChainId()
	count, err := e.store.CountIndex(ctx, chain)
	if err != nil {
		return nil, err
	}
	if n > count {
		n = count
	}
	out := make([]*blockchain.Block, 0, n)
	for i := int64(0); i < n; i++ {
		h, err := e.store.IndexBlockHash(ctx, chain, count-1-i)
		if err != nil {
			return nil, err
		}
		if h == nil {
			break
		}
		b, err := e.store.GetBlock(ctx, *h)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func mustRandom(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("engine: failed to generate chain id: %v", err))
	}
	return buf
}
