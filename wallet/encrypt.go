package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize       = 16
	nonceSize      = 12
	pbkdf2Rounds   = 100_000
	derivedKeySize = 32
)

// ErrDecryptionError is returned when ciphertext fails to authenticate under
// the supplied passphrase; it is never returned for plaintext that was
// simply never encrypted.
var ErrDecryptionError = errors.New("decryption failed")

// EncryptSecret derives a key from passphrase via PBKDF2-HMAC-SHA256 (100k
// iterations, random 16-byte salt) and seals plaintext with AES-256-GCM
// under a random 12-byte nonce. The result is base64(salt || nonce || ct),
// where ct already carries the GCM authentication tag.
func EncryptSecret(passphrase string, plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, derivedKeySize, sha256.New)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptSecret reverses EncryptSecret. A wrong passphrase or corrupted
// ciphertext returns ErrDecryptionError and never mutates the input.
func DecryptSecret(passphrase string, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionError, "malformed ciphertext encoding")
	}
	if len(raw) < saltSize+nonceSize {
		return nil, errors.Wrap(ErrDecryptionError, "ciphertext too short")
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ct := raw[saltSize+nonceSize:]

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, derivedKeySize, sha256.New)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionError, "authentication failed")
	}
	return plaintext, nil
}

// DerivedKey holds the PBKDF2 output for a passphrase, cached in memory
// between unlock and lock so the passphrase itself never needs to be
// retained.
type DerivedKey struct {
	salt []byte
	key  []byte
}

// DeriveKey runs PBKDF2 over passphrase with a fresh random salt.
func DeriveKey(passphrase string) (*DerivedKey, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "generate salt")
	}
	return &DerivedKey{salt: salt, key: pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, derivedKeySize, sha256.New)}, nil
}

// EncryptWithKey seals plaintext under an already-derived key, reusing its
// salt so every secret in a wallet shares one key derivation but not one
// nonce.
func (k *DerivedKey) EncryptWithKey(plaintext []byte) (string, error) {
	gcm, err := newGCM(k.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, saltSize+nonceSize+len(ct))
	out = append(out, k.salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptWithKey opens ciphertext produced by EncryptWithKey or
// EncryptSecret under this key's salt; callers derive the key from the
// ciphertext's own salt via DecryptSecret when the salt isn't already known.
func (k *DerivedKey) DecryptWithKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionError, "malformed ciphertext encoding")
	}
	if len(raw) < saltSize+nonceSize {
		return nil, errors.Wrap(ErrDecryptionError, "ciphertext too short")
	}
	nonce := raw[saltSize : saltSize+nonceSize]
	ct := raw[saltSize+nonceSize:]
	gcm, err := newGCM(k.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionError, "authentication failed")
	}
	return plaintext, nil
}

// SaltOf extracts the salt prefix from a string produced by EncryptSecret or
// DerivedKey.EncryptWithKey, letting a caller rebuild the same DerivedKey via
// DeriveKeyWithSalt for further re-encryption without re-deriving a new one.
func SaltOf(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionError, "malformed ciphertext encoding")
	}
	if len(raw) < saltSize {
		return nil, errors.Wrap(ErrDecryptionError, "ciphertext too short")
	}
	salt := make([]byte, saltSize)
	copy(salt, raw[:saltSize])
	return salt, nil
}

// DeriveKeyWithSalt runs PBKDF2 over passphrase with an explicit salt,
// reproducing a DerivedKey previously built by DeriveKey.
func DeriveKeyWithSalt(passphrase string, salt []byte) *DerivedKey {
	return &DerivedKey{salt: salt, key: pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, derivedKeySize, sha256.New)}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "create GCM mode")
	}
	return gcm, nil
}
