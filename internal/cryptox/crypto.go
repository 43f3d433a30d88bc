// Package cryptox seals backup archives with a passphrase.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32
)

// magic prefixes every sealed archive and carries the format version.
var magic = []byte("CSB1")

var (
	ErrNotSealed = errors.New("not a sealed archive")
	// ErrDecrypt covers a wrong passphrase as well as a tampered archive;
	// the two cannot be told apart.
	ErrDecrypt = errors.New("decryption failed")
)

// DeriveKey stretches a passphrase into an AES-256 key with Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// Seal encrypts plaintext with a key derived from passphrase.
//
// The output is magic | salt | nonce | ciphertext, with a fresh random salt
// and nonce per call, so sealing the same input twice gives different
// archives. The magic is authenticated as additional data.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := newAEAD(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(magic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, magic), nil
}

// Open reverses Seal.
func Open(sealed, passphrase []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	rest := sealed[len(magic):]
	if len(rest) < saltSize {
		return nil, fmt.Errorf("%w: truncated", ErrNotSealed)
	}
	salt, rest := rest[:saltSize], rest[saltSize:]

	aead, err := newAEAD(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	if len(rest) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated", ErrNotSealed)
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, magic)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// IsSealed reports whether data starts like a sealed archive.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
