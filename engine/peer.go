package engine

import (
	"context"
	"fmt"

	"gocuria/blockchain"
)

// HandleReceivedBlock is the PeerProtocol-facing write entry point from
// spec section 4.6: a peer-protocol implementation hands the engine a
// block it received over the wire, and the engine runs it through the
// normal Append path (validation, evaluation, commit, render, and
// reorg if the block extends a heavier competing branch). The engine
// never dials out to fetch anything itself — any follow-up sync (e.g.
// fetching the block's parent on an orphan) is the peer protocol's job.
func (e *Engine) HandleReceivedBlock(ctx context.Context, block *blockchain.Block) error {
	return e.Append(ctx, block)
}

// HandleReceivedTx is the PeerProtocol-facing entry point for a
// transaction relayed by a peer ahead of being mined into a block: it
// validates the transaction standalone and stages it for inclusion,
// matching spec section 4.1's staged-tx set. A transaction already
// staged or already committed into a block is accepted idempotently.
func (e *Engine) HandleReceivedTx(ctx context.Context, tx *blockchain.Transaction) error {
	if err := blockchain.ValidateTransaction(e.enc, e.reg, e.backend, tx); err != nil {
		return err
	}
	id, err := tx.Id(e.enc, e.reg)
	if err != nil {
		return fmt.Errorf("engine: hash received tx: %w", err)
	}
	if already, err := e.store.ContainsTx(ctx, id); err != nil {
		return err
	} else if already {
		return nil
	}
	if err := e.store.PutTx(ctx, tx, id); err != nil {
		return err
	}
	return e.store.StageTxIds(ctx, map[blockchain.TxId]bool{id: true})
}
