// Package crypto holds the CryptoBackend contract the chain engine
// consumes (spec section 4.6) and a default secp256k1 implementation.
// The core never implements its own ECDSA field arithmetic; it delegates
// to github.com/btcsuite/btcd/btcec/v2, the same secp256k1 stack
// lightningnetwork-lnd is built on.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

type PrivateKey []byte
type PublicKey []byte
type Signature []byte

// AddressSize matches spec section 3: a 20-byte identity derived from a
// public key.
const AddressSize = 20

// Backend is the CryptoBackend contract from spec section 4.6.
type Backend interface {
	Sign(priv PrivateKey, message []byte) (Signature, error)
	Verify(pub PublicKey, message []byte, sig Signature) bool
	PubKeyFromPrivate(priv PrivateKey) (PublicKey, error)
	AddressFromPubKey(pub PublicKey) ([AddressSize]byte, error)
}

// Secp256k1Backend is the default backend named in spec section 4.6.
type Secp256k1Backend struct{}

var _ Backend = Secp256k1Backend{}

func (Secp256k1Backend) Sign(priv PrivateKey, message []byte) (Signature, error) {
	key, _ := btcec.PrivKeyFromBytes(priv)
	if key == nil {
		return nil, errors.New("crypto: invalid private key")
	}
	digest := sha256.Sum256(message)
	sig := ecdsa.Sign(key, digest[:])
	return sig.Serialize(), nil
}

func (Secp256k1Backend) Verify(pub PublicKey, message []byte, sig Signature) bool {
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	parsedPub, err := btcec.ParsePubKey(pub)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return parsedSig.Verify(digest[:], parsedPub)
}

func (Secp256k1Backend) PubKeyFromPrivate(priv PrivateKey) (PublicKey, error) {
	key, _ := btcec.PrivKeyFromBytes(priv)
	if key == nil {
		return nil, errors.New("crypto: invalid private key")
	}
	return key.PubKey().SerializeCompressed(), nil
}

// AddressFromPubKey derives the 20-byte address by SHA-256 hashing the
// compressed public key and keeping the low 20 bytes, the Go-idiomatic
// analogue of Bitcoin's hash160 scheme adapted to the engine's
// SHA-256-only hashing contract (spec never names ripemd160).
func (Secp256k1Backend) AddressFromPubKey(pub PublicKey) ([AddressSize]byte, error) {
	var out [AddressSize]byte
	if len(pub) == 0 {
		return out, errors.New("crypto: empty public key")
	}
	digest := sha256.Sum256(pub)
	copy(out[:], digest[len(digest)-AddressSize:])
	return out, nil
}

// GeneratePrivateKey is a test/demo convenience, not part of the
// CryptoBackend contract.
func GeneratePrivateKey() (PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key.Serialize(), nil
}

// Mutable process-global default, per spec section 9: "model as a
// configuration struct injected into the engine at construction; a
// global default is acceptable but must be replaceable before first use
// and immutable thereafter."
var (
	mu             sync.Mutex
	defaultBackend Backend = Secp256k1Backend{}
	locked         bool
)

// SetDefaultBackend replaces the process-wide default backend. It fails
// once the default has already been read by DefaultBackend.
func SetDefaultBackend(b Backend) error {
	mu.Lock()
	defer mu.Unlock()
	if locked {
		return errors.New("crypto: default backend already locked in, cannot replace")
	}
	defaultBackend = b
	return nil
}

// DefaultBackend returns the process-wide backend and locks it against
// further replacement.
func DefaultBackend() Backend {
	mu.Lock()
	defer mu.Unlock()
	locked = true
	return defaultBackend
}
