// Package peer declares the PeerProtocol boundary from spec section
// 4.6: the engine exposes handle_received_block/tx and the locator/sync
// read paths, but never dials a socket or drives peer discovery itself.
// A PeerProtocol implementation owns routing, liveness, and replacement
// caches, and calls into an Engine-like surface to apply what it
// learns.
package peer

import (
	"context"

	"gocuria/blockchain"
)

// Engine is the subset of engine.Engine a PeerProtocol depends on. It
// is declared here, not imported from package engine, so this package
// stays the dependency boundary spec section 4.6 describes — a protocol
// adapter needs only these methods, never the engine's internals.
type Engine interface {
	HandleReceivedBlock(ctx context.Context, block *blockchain.Block) error
	HandleReceivedTx(ctx context.Context, tx *blockchain.Transaction) error
	GetLocator(ctx context.Context) ([]blockchain.HashDigest, error)
	FindNextHashes(ctx context.Context, locator []blockchain.HashDigest, stop *blockchain.HashDigest, count int64) ([]blockchain.HashDigest, error)
	GetBlocksByHashes(ctx context.Context, hashes []blockchain.HashDigest) ([]*blockchain.Block, error)
}

// Protocol is the PeerProtocol contract itself: whatever drives network
// I/O must expose these entry points so a host can plug in gossip,
// request/response, or (as in peeradapter) a purely local loopback.
type Protocol interface {
	HandleReceivedBlock(ctx context.Context, block *blockchain.Block) error
	HandleReceivedTx(ctx context.Context, tx *blockchain.Transaction) error
	GetLocator(ctx context.Context) ([]blockchain.HashDigest, error)
	FindNextHashes(ctx context.Context, locator []blockchain.HashDigest, stop *blockchain.HashDigest, count int64) ([]blockchain.HashDigest, error)
	GetBlocksByHashes(ctx context.Context, hashes []blockchain.HashDigest) ([]*blockchain.Block, error)
}
