// Package peeradapter supplies Local, a reference PeerProtocol adapter
// that exercises the peer.Protocol contract end to end without touching
// a socket: it loops an engine's own calls back against a second
// in-memory engine instance, the way a test harness stands in for the
// network. It is not meant for production use.
package peeradapter

import (
	"context"
	"fmt"

	"gocuria/blockchain"
	"gocuria/peer"
)

// Local wires a local engine to a remote one and forwards the
// PeerProtocol entry points straight through to the local side, while
// offering Sync as a one-shot loopback "download" helper for tests that
// want to drive two engines into agreement.
type Local struct {
	local  peer.Engine
	remote peer.Engine
}

var _ peer.Protocol = (*Local)(nil)

func New(local, remote peer.Engine) *Local {
	return &Local{local: local, remote: remote}
}

func (l *Local) HandleReceivedBlock(ctx context.Context, block *blockchain.Block) error {
	return l.local.HandleReceivedBlock(ctx, block)
}

func (l *Local) HandleReceivedTx(ctx context.Context, tx *blockchain.Transaction) error {
	return l.local.HandleReceivedTx(ctx, tx)
}

func (l *Local) GetLocator(ctx context.Context) ([]blockchain.HashDigest, error) {
	return l.local.GetLocator(ctx)
}

func (l *Local) FindNextHashes(ctx context.Context, locator []blockchain.HashDigest, stop *blockchain.HashDigest, count int64) ([]blockchain.HashDigest, error) {
	return l.local.FindNextHashes(ctx, locator, stop, count)
}

func (l *Local) GetBlocksByHashes(ctx context.Context, hashes []blockchain.HashDigest) ([]*blockchain.Block, error) {
	return l.local.GetBlocksByHashes(ctx, hashes)
}

// Sync pulls whatever blocks the remote side is missing relative to
// local's tip and feeds them to remote.HandleReceivedBlock in order,
// exercising the full locator -> find_next_hashes -> get_blocks_by_hashes
// -> handle_received_block cycle spec section 4.6 describes.
func (l *Local) Sync(ctx context.Context) (int, error) {
	locator, err := l.remote.GetLocator(ctx)
	if err != nil {
		return 0, fmt.Errorf("peeradapter: remote locator: %w", err)
	}
	hashes, err := l.local.FindNextHashes(ctx, locator, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("peeradapter: find next hashes: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}
	blocks, err := l.local.GetBlocksByHashes(ctx, hashes)
	if err != nil {
		return 0, fmt.Errorf("peeradapter: fetch blocks: %w", err)
	}
	for _, b := range blocks {
		if err := l.remote.HandleReceivedBlock(ctx, b); err != nil {
			return 0, fmt.Errorf("peeradapter: apply block %v: %w", b.Index, err)
		}
	}
	return len(blocks), nil
}
