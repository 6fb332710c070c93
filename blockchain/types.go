// Package blockchain holds the immutable, content-addressed block and
// transaction model (spec section 3/4.2): addresses, hashes, the action
// contract, and the deterministic tx/block shapes the chain engine
// validates and evaluates.
package blockchain

import (
	"encoding/hex"
	"time"

	"gocuria/codec"
	"gocuria/crypto"
)

// Address is the 20-byte identity derived from a public key.
type Address [crypto.AddressSize]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// HashDigest is a 32-byte SHA-256 digest, used for block hashes and
// transaction payload hashes.
type HashDigest [32]byte

func (h HashDigest) String() string { return hex.EncodeToString(h[:]) }

func (h HashDigest) IsZero() bool { return h == HashDigest{} }

// TxId is the HashDigest of a transaction's canonical encoding.
type TxId = HashDigest

// ChainId is a 128-bit opaque identifier for a chain view.
type ChainId [16]byte

func (c ChainId) String() string { return hex.EncodeToString(c[:]) }

// StateKey is the lowercase hex of an Address, or any application-chosen
// string identifying a named state slot.
type StateKey string

// AddressStateKey builds the canonical StateKey for an Address.
func AddressStateKey(a Address) StateKey {
	return StateKey(hex.EncodeToString(a[:]))
}

// CanonicalTimestampLayout is the UTC timestamp format named in spec
// section 3: yyyy-MM-ddTHH:mm:ss.ffffffZ.
const CanonicalTimestampLayout = "2006-01-02T15:04:05.000000Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(CanonicalTimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(CanonicalTimestampLayout, s)
}

// StateDelta is the map a single action (or the folded result of a whole
// block) writes: StateKey -> serialized value.
type StateDelta map[StateKey]codec.Value

// Merge folds other into d, overwriting any keys d already holds — later
// actions within a block see earlier actions' writes through
// ActionContext.PreviousStates, but the accumulated per-block delta keeps
// only the latest write per key.
func (d StateDelta) Merge(other StateDelta) {
	for k, v := range other {
		d[k] = v
	}
}

func (d StateDelta) Keys() []StateKey {
	out := make([]StateKey, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	return out
}
