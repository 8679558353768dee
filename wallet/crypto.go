// Package wallet implements Nano/BANANO HD wallet functionality: seed-based
// key derivation, the Blake2b-hashed EdDSA signature variant the Nano
// protocol uses in place of the reference SHA-512 EdDSA, address encoding,
// and proof-of-work verification/generation.
package wallet

import (
	"encoding/binary"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// SeedSize, KeySize and SignatureSize match the reference node's fixed-width
// fields: a 32-byte seed, 32-byte private/public keys, a 64-byte signature.
const (
	SeedSize      = 32
	KeySize       = 32
	SignatureSize = 64
	WorkSize      = 8
)

// blockPreamble is the 32-byte domain separator prefixed to every state
// block preimage before hashing; its only nonzero byte is the final one,
// set to 6 (the "state block" subtype value in the reference protocol).
var blockPreamble = func() [32]byte {
	var b [32]byte
	b[31] = 6
	return b
}()

// DerivePrivate derives the private key for a deterministic account at the
// given index: Blake2b-256 of seed || big-endian(index).
func DerivePrivate(seed []byte, index uint32) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, errors.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create blake2b-256 hasher")
	}
	h.Write(seed)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	h.Write(idx[:])
	return h.Sum(nil), nil
}

func sum512(parts ...[]byte) [64]byte {
	h, _ := blake2b.New512(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

func sum256(parts ...[]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// expandedKey holds the EdDSA scalar and "prefix" derived from a 32-byte
// private key, mirroring the two halves of the SHA-512 expansion that
// standard Ed25519 performs, but using Blake2b-512 as the expansion hash.
type expandedKey struct {
	scalar *edwards25519.Scalar
	prefix []byte // second half of the expansion digest, 32 bytes
}

func expandPrivate(priv []byte) (*expandedKey, error) {
	if len(priv) != KeySize {
		return nil, errors.Errorf("private key must be %d bytes, got %d", KeySize, len(priv))
	}
	digest := sum512(priv)
	h := make([]byte, 64)
	copy(h, digest[:])

	// Standard Ed25519 clamping of the low 32 bytes before they become the
	// scalar: clear the low 3 bits, clear the top bit, set the second-top bit.
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	scalar, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, errors.Wrap(err, "set clamped scalar")
	}
	return &expandedKey{scalar: scalar, prefix: h[32:64]}, nil
}

// PublicOf derives the public key for a private key using the Nano variant
// of Ed25519 (Blake2b-512 expansion instead of SHA-512).
func PublicOf(priv []byte) ([]byte, error) {
	exp, err := expandPrivate(priv)
	if err != nil {
		return nil, err
	}
	point := new(edwards25519.Point).ScalarBaseMult(exp.scalar)
	return point.Bytes(), nil
}

// Sign produces a Blake2b-variant Ed25519 signature of msg (typically a
// 32-byte block hash) under priv.
func Sign(priv []byte, msg []byte) ([]byte, error) {
	exp, err := expandPrivate(priv)
	if err != nil {
		return nil, err
	}
	pub := new(edwards25519.Point).ScalarBaseMult(exp.scalar).Bytes()

	rDigest := sum512(exp.prefix, msg)
	rScalar, err := edwards25519.NewScalar().SetUniformBytes(rDigest[:])
	if err != nil {
		return nil, errors.Wrap(err, "derive nonce scalar")
	}
	rPoint := new(edwards25519.Point).ScalarBaseMult(rScalar)
	rBytes := rPoint.Bytes()

	kDigest := sum512(rBytes, pub, msg)
	kScalar, err := edwards25519.NewScalar().SetUniformBytes(kDigest[:])
	if err != nil {
		return nil, errors.Wrap(err, "derive challenge scalar")
	}

	sScalar := edwards25519.NewScalar().MultiplyAdd(kScalar, exp.scalar, rScalar)

	sig := make([]byte, SignatureSize)
	copy(sig[:32], rBytes)
	copy(sig[32:], sScalar.Bytes())
	return sig, nil
}

// Verify checks a Blake2b-variant Ed25519 signature of msg against pub.
func Verify(pub, msg, sig []byte) (bool, error) {
	if len(pub) != KeySize || len(sig) != SignatureSize {
		return false, errors.New("invalid public key or signature length")
	}
	pubPoint, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return false, errors.Wrap(err, "decode public key point")
	}
	rBytes := sig[:32]
	sBytes := make([]byte, 32)
	copy(sBytes, sig[32:])
	sScalar, err := edwards25519.NewScalar().SetCanonicalBytes(sBytes)
	if err != nil {
		return false, errors.Wrap(err, "decode signature scalar")
	}

	kDigest := sum512(rBytes, pub, msg)
	kScalar, err := edwards25519.NewScalar().SetUniformBytes(kDigest[:])
	if err != nil {
		return false, errors.Wrap(err, "derive challenge scalar")
	}

	// Check [s]B == R + [k]A
	sB := new(edwards25519.Point).ScalarBaseMult(sScalar)
	kA := new(edwards25519.Point).ScalarMult(kScalar, pubPoint)
	rPoint, err := new(edwards25519.Point).SetBytes(rBytes)
	if err != nil {
		return false, errors.Wrap(err, "decode signature point")
	}
	rPlusKA := new(edwards25519.Point).Add(rPoint, kA)

	return sB.Equal(rPlusKA) == 1, nil
}

// BlockHash computes the Blake2b-256 preimage hash of a state block:
// preamble || account || previous || representative || balance(BE128) || link.
func BlockHash(account, previous, representative [32]byte, balance [16]byte, link [32]byte) [32]byte {
	return sum256(blockPreamble[:], account[:], previous[:], representative[:], balance[:], link[:])
}

// WorkThreshold is a proof-of-work difficulty threshold, used by
// WorkVerify/WorkGenerateLocal.
type WorkThreshold uint64

const (
	// NanoWorkThreshold is the default send/change difficulty for Nano.
	NanoWorkThreshold WorkThreshold = 0xFFFFFFC000000000
	// BananoWorkThreshold is the default difficulty for BANANO.
	BananoWorkThreshold WorkThreshold = 0xFFFFFE0000000000
)

// WorkVerify reports whether an 8-byte work value satisfies threshold for
// root (the account's frontier hash, or its public key for an open block).
// work is the same wire byte order WorkGenerateLocal returns, a decoded
// work_generate RPC response carries, and a block's own "work" field uses:
// the reversal into the little-endian hash preimage happens only inside
// this function, never on the wire value itself.
func WorkVerify(root [32]byte, work [WorkSize]byte, threshold WorkThreshold) bool {
	return workValue(root, work) >= uint64(threshold)
}

func workValue(root [32]byte, work [WorkSize]byte) uint64 {
	h, _ := blake2b.New(8, nil)
	var le [WorkSize]byte
	for i := range work {
		le[i] = work[WorkSize-1-i]
	}
	h.Write(le[:])
	h.Write(root[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// WorkGenerateLocal brute-forces a work value satisfying threshold for root,
// cooperatively yielding between batches so the caller can cancel by closing
// done.
// batchSize controls how many nonces are tried between cancellation checks.
func WorkGenerateLocal(done <-chan struct{}, root [32]byte, threshold WorkThreshold, batchSize uint64) ([WorkSize]byte, bool) {
	if batchSize == 0 {
		batchSize = 1 << 16
	}
	var nonce uint64
	for {
		for i := uint64(0); i < batchSize; i++ {
			var work [WorkSize]byte
			binary.LittleEndian.PutUint64(work[:], nonce)
			if WorkVerify(root, work, threshold) {
				return work, true
			}
			nonce++
			if nonce == 0 {
				// wrapped the full 64-bit space without success; give up
				return [WorkSize]byte{}, false
			}
		}
		select {
		case <-done:
			return [WorkSize]byte{}, false
		default:
		}
	}
}
