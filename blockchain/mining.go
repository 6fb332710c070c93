package blockchain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"gocuria/codec"
)

// sha256Sum hashes b with the single-round SHA-256 spec section 6 names
// (not Bitcoin's double-SHA256), via the same chainhash helper the
// examples use for header hashing.
func sha256Sum(b []byte) HashDigest {
	return HashDigest(chainhash.HashH(b))
}

// NonceSize is the fixed width of the PoW nonce this miner searches
// over. Spec allows a variable-length nonce; a fixed-width counter keeps
// the stamp-prefix/suffix optimization below simple to reason about
// while still satisfying "chosen so the block hash has the required
// leading zero-difficulty".
const NonceSize = 8

// HashMeetsDifficulty reports whether hash, interpreted MSB-first, has
// at least `difficulty` leading zero bits (spec section 4.2).
func HashMeetsDifficulty(hash HashDigest, difficulty int64) bool {
	return leadingZeroBits(hash[:]) >= difficulty
}

func leadingZeroBits(b []byte) int64 {
	var n int64
	for _, byt := range b {
		if byt == 0 {
			n += 8
			continue
		}
		for i := 7; i >= 0; i-- {
			if byt&(1<<uint(i)) != 0 {
				return n
			}
			n++
		}
		return n
	}
	return n
}

// ErrMiningCancelled is returned when the supplied context is cancelled
// before a valid nonce is found.
var ErrMiningCancelled = errors.New("blockchain: mining cancelled")

// headerStamp is the precomputed prefix/suffix surrounding the nonce's
// position in the header's canonical encoding — spec section 4.2's
// "mining optimization": because only nonce varies, the encoder is
// invoked exactly twice to discover the splice points, and every
// subsequent trial is a byte-slice concatenation, not a re-serialization
// of the whole header.
type headerStamp struct {
	prefix []byte
	suffix []byte
}

func computeHeaderStamp(enc codec.Encoder, b *Block) (*headerStamp, error) {
	lowNonce := make([]byte, NonceSize)
	highNonce := bytes.Repeat([]byte{0xFF}, NonceSize)

	lowEnc, err := b.encodeHeader(enc, lowNonce)
	if err != nil {
		return nil, fmt.Errorf("blockchain: stamp low encode: %w", err)
	}
	highEnc, err := b.encodeHeader(enc, highNonce)
	if err != nil {
		return nil, fmt.Errorf("blockchain: stamp high encode: %w", err)
	}
	if len(lowEnc) != len(highEnc) {
		return nil, fmt.Errorf("blockchain: header encoding length varies with nonce, cannot stamp")
	}

	prefixLen := 0
	for prefixLen < len(lowEnc) && lowEnc[prefixLen] == highEnc[prefixLen] {
		prefixLen++
	}
	suffixLen := 0
	for suffixLen < len(lowEnc)-prefixLen && lowEnc[len(lowEnc)-1-suffixLen] == highEnc[len(highEnc)-1-suffixLen] {
		suffixLen++
	}

	return &headerStamp{
		prefix: lowEnc[:prefixLen],
		suffix: lowEnc[len(lowEnc)-suffixLen:],
	}, nil
}

func (s *headerStamp) encode(nonce []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(nonce)+len(s.suffix))
	out = append(out, s.prefix...)
	out = append(out, nonce...)
	out = append(out, s.suffix...)
	return out
}

// MineBlock searches the nonce space until the header hash satisfies
// b.Difficulty, checking ctx for cancellation between trials (spec
// section 5: "mine_block checks a cooperative cancellation token between
// nonce trials"). On success it sets b.Nonce and the cached hash; on
// cancellation no partial state is observable on b.
func MineBlock(ctx context.Context, enc codec.Encoder, b *Block) error {
	stamp, err := computeHeaderStamp(enc, b)
	if err != nil {
		return err
	}

	nonce := make([]byte, NonceSize)
	var counter uint64
	for {
		select {
		case <-ctx.Done():
			return ErrMiningCancelled
		default:
		}

		binary.BigEndian.PutUint64(nonce, counter)
		encoded := stamp.encode(nonce)
		hash := hashBytes(encoded)
		if HashMeetsDifficulty(hash, b.Difficulty) {
			b.Nonce = append([]byte{}, nonce...)
			b.setHash(hash)
			return nil
		}
		counter++
		if counter == 0 {
			return fmt.Errorf("blockchain: nonce space exhausted at difficulty %d", b.Difficulty)
		}
	}
}

// HashHeader recomputes and returns a block's header hash for its
// current Nonce/TxHash/etc without mining — used to re-verify a received
// block.
func HashHeader(enc codec.Encoder, b *Block) (HashDigest, error) {
	nonce := b.Nonce
	if len(nonce) == 0 {
		nonce = make([]byte, NonceSize)
	}
	encoded, err := b.encodeHeader(enc, nonce)
	if err != nil {
		return HashDigest{}, err
	}
	return hashBytes(encoded), nil
}
