// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package seedvault encrypts master seeds at rest.  A seed is sealed under
// a passphrase-derived key (scrypt) with NaCl secretbox, and the scrypt
// parameters travel with the ciphertext so the blob is self-describing.
// Plaintext seeds only ever exist transiently; callers must zero them as
// soon as derivation is done.
package seedvault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
	"runtime/debug"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/hashvault/custody/internal/zero"
)

var prng = rand.Reader

// Error types and messages.
var (
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrMalformed         = errors.New("malformed data")
	ErrDecryptFailed     = errors.New("unable to decrypt")
)

// Various constants needed by the encryption scheme.
const (
	Overhead  = secretbox.Overhead
	KeySize   = 32
	NonceSize = 24
	DefaultN  = 16384 // 2^14
	DefaultR  = 8
	DefaultP  = 1
)

// CryptoKey represents a key which can be used for encryption and
// decryption of data.
type CryptoKey [KeySize]byte

// Encrypt encrypts the passed data.
func (ck *CryptoKey) Encrypt(in []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	_, err := io.ReadFull(prng, nonce[:])
	if err != nil {
		return nil, err
	}
	blob := secretbox.Seal(nil, in, &nonce, (*[KeySize]byte)(ck))
	return append(nonce[:], blob...), nil
}

// Decrypt decrypts the passed data.  The must be the output of the Encrypt
// function.
func (ck *CryptoKey) Decrypt(in []byte) ([]byte, error) {
	if len(in) < NonceSize {
		return nil, ErrMalformed
	}

	var nonce [NonceSize]byte
	copy(nonce[:], in[:NonceSize])
	blob := in[NonceSize:]

	opened, ok := secretbox.Open(nil, blob, &nonce, (*[KeySize]byte)(ck))
	if !ok {
		return nil, ErrDecryptFailed
	}

	return opened, nil
}

// Zero clears the key by manually zeroing all memory.  The key is no
// longer usable after this call.
func (ck *CryptoKey) Zero() {
	zero.Bytea32((*[KeySize]byte)(ck))
}

// Parameters are not secret and may be stored in plain text.
type Parameters struct {
	Salt   [KeySize]byte
	Digest [sha256.Size]byte
	N      int
	R      int
	P      int
}

// paramsSize is the marshalled size of Parameters:
// <salt><digest><N><R><P>.
const paramsSize = KeySize + sha256.Size + 24

// SecretKey houses an encryption key derived from a passphrase.  It should
// only be used in memory.
type SecretKey struct {
	Key        *CryptoKey
	Parameters Parameters
}

// deriveKey fills out the Key field.
func (sk *SecretKey) deriveKey(passphrase *[]byte) error {
	key, err := scrypt.Key(*passphrase, sk.Parameters.Salt[:],
		sk.Parameters.N,
		sk.Parameters.R,
		sk.Parameters.P,
		len(sk.Key))
	if err != nil {
		return err
	}
	copy(sk.Key[:], key)
	zero.Bytes(key)

	// scrypt allocates a huge chunk of memory; without a GC cycle in
	// between, two back-to-back derivations need twice the peak.
	debug.FreeOSMemory()

	return nil
}

// Marshal returns the Parameters field in a form suitable for storage
// alongside the ciphertext.
func (sk *SecretKey) Marshal() []byte {
	params := &sk.Parameters

	marshalled := make([]byte, paramsSize)
	b := marshalled
	copy(b[:KeySize], params.Salt[:])
	b = b[KeySize:]
	copy(b[:sha256.Size], params.Digest[:])
	b = b[sha256.Size:]
	binary.LittleEndian.PutUint64(b[:8], uint64(params.N))
	b = b[8:]
	binary.LittleEndian.PutUint64(b[:8], uint64(params.R))
	b = b[8:]
	binary.LittleEndian.PutUint64(b[:8], uint64(params.P))

	return marshalled
}

// Unmarshal unmarshals the parameters needed to derive the secret key from
// a passphrase into sk.
func (sk *SecretKey) Unmarshal(marshalled []byte) error {
	if sk.Key == nil {
		sk.Key = (*CryptoKey)(&[KeySize]byte{})
	}

	if len(marshalled) != paramsSize {
		return ErrMalformed
	}

	params := &sk.Parameters
	copy(params.Salt[:], marshalled[:KeySize])
	marshalled = marshalled[KeySize:]
	copy(params.Digest[:], marshalled[:sha256.Size])
	marshalled = marshalled[sha256.Size:]
	params.N = int(binary.LittleEndian.Uint64(marshalled[:8]))
	marshalled = marshalled[8:]
	params.R = int(binary.LittleEndian.Uint64(marshalled[:8]))
	marshalled = marshalled[8:]
	params.P = int(binary.LittleEndian.Uint64(marshalled[:8]))

	return nil
}

// Zero zeroes the underlying secret key while leaving the parameters
// intact, rendering the key unusable until rederived via DeriveKey.
func (sk *SecretKey) Zero() {
	sk.Key.Zero()
}

// DeriveKey derives the underlying secret key and ensures it matches the
// expected digest.  This should only be called after previously calling
// the Zero function or on an initially unmarshalled key.
func (sk *SecretKey) DeriveKey(passphrase *[]byte) error {
	if err := sk.deriveKey(passphrase); err != nil {
		return err
	}

	digest := sha256.Sum256(sk.Key[:])
	if subtle.ConstantTimeCompare(digest[:], sk.Parameters.Digest[:]) != 1 {
		return ErrInvalidPassphrase
	}

	return nil
}

// Encrypt encrypts in bytes and returns the ciphertext blob.
func (sk *SecretKey) Encrypt(in []byte) ([]byte, error) {
	return sk.Key.Encrypt(in)
}

// Decrypt takes in the output of Encrypt and returns the plaintext.
func (sk *SecretKey) Decrypt(in []byte) ([]byte, error) {
	return sk.Key.Decrypt(in)
}

// NewSecretKey returns a SecretKey struct based on the passed parameters.
func NewSecretKey(passphrase *[]byte, N, r, p int) (*SecretKey, error) {
	sk := SecretKey{
		Key: (*CryptoKey)(&[KeySize]byte{}),
	}
	sk.Parameters.N = N
	sk.Parameters.R = r
	sk.Parameters.P = p
	_, err := io.ReadFull(prng, sk.Parameters.Salt[:])
	if err != nil {
		return nil, err
	}

	err = sk.deriveKey(passphrase)
	if err != nil {
		return nil, err
	}

	sk.Parameters.Digest = sha256.Sum256(sk.Key[:])

	return &sk, nil
}

// SealSeed encrypts a master seed under the passphrase and returns a
// single self-describing blob: the marshalled scrypt parameters followed
// by the secretbox ciphertext.  The derived key is zeroed before return.
func SealSeed(seed, passphrase []byte) ([]byte, error) {
	sk, err := NewSecretKey(&passphrase, DefaultN, DefaultR, DefaultP)
	if err != nil {
		return nil, err
	}
	defer sk.Zero()

	ciphertext, err := sk.Encrypt(seed)
	if err != nil {
		return nil, err
	}
	return append(sk.Marshal(), ciphertext...), nil
}

// OpenSeed decrypts a blob produced by SealSeed.  The returned seed is the
// caller's to zero once key derivation is done.  A wrong passphrase yields
// ErrInvalidPassphrase without touching the ciphertext.
func OpenSeed(blob, passphrase []byte) ([]byte, error) {
	if len(blob) < paramsSize {
		return nil, ErrMalformed
	}

	var sk SecretKey
	if err := sk.Unmarshal(blob[:paramsSize]); err != nil {
		return nil, err
	}
	if err := sk.DeriveKey(&passphrase); err != nil {
		return nil, err
	}
	defer sk.Zero()

	return sk.Decrypt(blob[paramsSize:])
}
