// Package crypto seals exported app-state at rest under a passphrase.
//
// A random data key encrypts the app-state; the data key itself is wrapped with a
// key-encryption key derived from the passphrase, so changing the passphrase only
// rewraps the data key.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/fbrt/internal/errs"
)

// Params
const (
	KeyLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// Sealed is the at-rest form of one account's app-state.
type Sealed struct {
	Salt       []byte
	WrappedKey []byte
	Blob       []byte
}

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a key-encryption key from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// Seal encrypts appState for account under passphrase.
func Seal(passphrase []byte, account string, appState []byte) (*Sealed, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	dek, err := Rand(KeyLen)
	if err != nil {
		return nil, err
	}
	wrapped, err := encrypt(DeriveKEK(passphrase, salt), dek, nil)
	if err != nil {
		return nil, err
	}
	key, err := accountKey(dek, account)
	if err != nil {
		return nil, err
	}
	blob, err := encrypt(key, appState, []byte(account))
	if err != nil {
		return nil, err
	}
	return &Sealed{Salt: salt, WrappedKey: wrapped, Blob: blob}, nil
}

// Open decrypts s. A wrong passphrase or a blob moved to another account yields errs.ErrBadPassphrase.
func Open(passphrase []byte, account string, s *Sealed) ([]byte, error) {
	dek, err := decrypt(DeriveKEK(passphrase, s.Salt), s.WrappedKey, nil)
	if err != nil {
		return nil, err
	}
	key, err := accountKey(dek, account)
	if err != nil {
		return nil, err
	}
	return decrypt(key, s.Blob, []byte(account))
}

// Rewrap re-encrypts the data key of s under a new passphrase. The blob is unchanged.
func Rewrap(oldPass, newPass []byte, s *Sealed) (*Sealed, error) {
	dek, err := decrypt(DeriveKEK(oldPass, s.Salt), s.WrappedKey, nil)
	if err != nil {
		return nil, err
	}
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	wrapped, err := encrypt(DeriveKEK(newPass, salt), dek, nil)
	if err != nil {
		return nil, err
	}
	return &Sealed{Salt: salt, WrappedKey: wrapped, Blob: s.Blob}, nil
}

// accountKey derives the blob key from the data key via HKDF-SHA256 with the account as info.
func accountKey(dek []byte, account string) ([]byte, error) {
	r := hkdf.New(sha256.New, dek, nil, []byte(account))
	key := make([]byte, KeyLen)
	_, err := r.Read(key)
	return key, err
}

// encrypt seals plaintext with XChaCha20-Poly1305 and prepends the random nonce.
func encrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

func decrypt(key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("crypto: ciphertext too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	out, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", errs.ErrBadPassphrase)
	}
	return out, nil
}
