// Package chainerr collects the sentinel error kinds surfaced by the
// store and chain engine. Callers use errors.Is against these sentinels;
// wrapped context is added with fmt.Errorf("...: %w", ...).
package chainerr

import "errors"

var (
	// Block-level integrity failures.
	ErrInvalidBlockTimestamp    = errors.New("invalid block timestamp")
	ErrInvalidBlockIndex        = errors.New("invalid block index")
	ErrInvalidBlockDifficulty   = errors.New("invalid block difficulty")
	ErrInvalidBlockPreviousHash = errors.New("invalid block previous hash")
	ErrInvalidBlockNonce        = errors.New("invalid block nonce")

	// Transaction-level failures.
	ErrInvalidTxSignature        = errors.New("invalid transaction signature")
	ErrInvalidTxPublicKey        = errors.New("invalid transaction public key")
	ErrInvalidTxUpdatedAddresses = errors.New("transaction updated an address outside its declared set")
	ErrInvalidTxNonce            = errors.New("invalid transaction nonce")

	// Store/engine failures.
	ErrChainIdNotFound    = errors.New("chain id not found")
	ErrOrphanChain        = errors.New("orphan chain: no common ancestor")
	ErrRangeError         = errors.New("range error: lowest index exceeds highest index")
	ErrNonEmptyDestination = errors.New("copy destination is not empty")
	ErrStoreFault         = errors.New("store fault")
)
