package blockchain

import (
	"fmt"
	"time"

	"gocuria/chainerr"
	"gocuria/codec"
	"gocuria/crypto"
)

// Transaction is the immutable-once-signed record from spec section 3.
type Transaction struct {
	Signer           Address
	Nonce            int64
	UpdatedAddresses []Address
	Timestamp        time.Time
	Actions          []Action
	Signature        crypto.Signature
	PublicKey        crypto.PublicKey

	id *HashDigest
}

// NewUnsignedTransaction builds a Transaction shell ready for SignTransaction.
func NewUnsignedTransaction(nonce int64, updated []Address, ts time.Time, actions []Action) *Transaction {
	return &Transaction{
		Nonce:            nonce,
		UpdatedAddresses: updated,
		Timestamp:        ts,
		Actions:          actions,
	}
}

// encodeValue builds the canonical codec.Value for this tx. When
// includeSignature is false the result is what gets signed (spec:
// "sign the canonical encoding of the tx with signature field absent");
// when true it is what gets hashed to produce the tx id.
func (tx *Transaction) encodeValue(reg *ActionRegistry, includeSignature bool) codec.Value {
	addrs := codec.List{}
	for _, a := range tx.UpdatedAddresses {
		cp := a
		addrs = append(addrs, cp[:])
	}
	actions := codec.List{}
	for _, a := range tx.Actions {
		actions = append(actions, reg.Encode(a))
	}
	d := codec.Dict{
		"signer":            tx.Signer[:],
		"nonce":             tx.Nonce,
		"updated_addresses": addrs,
		"timestamp":         FormatTimestamp(tx.Timestamp),
		"actions":           actions,
		"public_key":        []byte(tx.PublicKey),
	}
	if includeSignature {
		d["signature"] = []byte(tx.Signature)
	}
	return d
}

// SignTransaction derives the signer's public key and address from priv,
// signs the unsigned encoding, and caches the resulting tx id.
func SignTransaction(enc codec.Encoder, reg *ActionRegistry, backend crypto.Backend, priv crypto.PrivateKey, tx *Transaction) error {
	pub, err := backend.PubKeyFromPrivate(priv)
	if err != nil {
		return fmt.Errorf("blockchain: derive public key: %w", err)
	}
	addr, err := backend.AddressFromPubKey(pub)
	if err != nil {
		return fmt.Errorf("blockchain: derive address: %w", err)
	}
	tx.PublicKey = pub
	tx.Signer = Address(addr)

	unsigned, err := enc.Encode(tx.encodeValue(reg, false))
	if err != nil {
		return fmt.Errorf("blockchain: encode unsigned tx: %w", err)
	}
	sig, err := backend.Sign(priv, unsigned)
	if err != nil {
		return fmt.Errorf("blockchain: sign tx: %w", err)
	}
	tx.Signature = sig
	tx.id = nil
	if _, err := tx.Id(enc, reg); err != nil {
		return err
	}
	return nil
}

// Id returns the cached HashDigest of the tx's signed canonical encoding,
// computing it on first call.
func (tx *Transaction) Id(enc codec.Encoder, reg *ActionRegistry) (HashDigest, error) {
	if tx.id != nil {
		return *tx.id, nil
	}
	signed, err := enc.Encode(tx.encodeValue(reg, true))
	if err != nil {
		return HashDigest{}, fmt.Errorf("blockchain: encode signed tx: %w", err)
	}
	h := sha256Sum(signed)
	tx.id = &h
	return h, nil
}

// ValidateTransaction checks the structural invariants from spec section
// 4.2: the signature verifies under the declared public key, and
// signer == hash_to_address(public_key). The "every updated address is
// declared" rule is checked by the engine after action evaluation, since
// it depends on what the actions actually wrote.
func ValidateTransaction(enc codec.Encoder, reg *ActionRegistry, backend crypto.Backend, tx *Transaction) error {
	unsigned, err := enc.Encode(tx.encodeValue(reg, false))
	if err != nil {
		return fmt.Errorf("blockchain: encode unsigned tx: %w", err)
	}
	if !backend.Verify(tx.PublicKey, unsigned, tx.Signature) {
		return chainerr.ErrInvalidTxSignature
	}
	addr, err := backend.AddressFromPubKey(tx.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrInvalidTxPublicKey, err)
	}
	if Address(addr) != tx.Signer {
		return chainerr.ErrInvalidTxPublicKey
	}
	return nil
}

// DeclaresAddress reports whether addr is in the tx's declared
// updated_addresses set.
func (tx *Transaction) DeclaresAddress(addr Address) bool {
	for _, a := range tx.UpdatedAddresses {
		if a == addr {
			return true
		}
	}
	return false
}
