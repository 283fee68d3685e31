// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package seedvault

import (
	"bytes"
	"testing"

	"github.com/hashvault/custody/internal/zero"
)

var (
	passphrase = []byte("sikrit")
	seed       = bytes.Repeat([]byte{0x5e}, 64)
)

// Low test parameters keep scrypt cheap in tests.
const (
	testN = 16
	testR = 8
	testP = 1
)

func TestSecretKeyCycle(t *testing.T) {
	sk, err := NewSecretKey(&passphrase, testN, testR, testP)
	if err != nil {
		t.Fatalf("failed to create secret key: %v", err)
	}

	blob, err := sk.Encrypt(seed)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	decrypted, err := sk.Decrypt(blob)
	if err != nil {
		t.Fatalf("failed to decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, seed) {
		t.Fatalf("decrypted data mismatch")
	}
	zero.Bytes(decrypted)

	// Rederive through the marshalled parameters, as an unlock after a
	// restart would.
	var sk2 SecretKey
	if err := sk2.Unmarshal(sk.Marshal()); err != nil {
		t.Fatalf("failed to unmarshal parameters: %v", err)
	}
	if err := sk2.DeriveKey(&passphrase); err != nil {
		t.Fatalf("failed to rederive key: %v", err)
	}
	decrypted, err = sk2.Decrypt(blob)
	if err != nil {
		t.Fatalf("failed to decrypt with rederived key: %v", err)
	}
	if !bytes.Equal(decrypted, seed) {
		t.Fatalf("rederived decryption mismatch")
	}
}

func TestDeriveKeyWrongPassphrase(t *testing.T) {
	sk, err := NewSecretKey(&passphrase, testN, testR, testP)
	if err != nil {
		t.Fatalf("failed to create secret key: %v", err)
	}

	var sk2 SecretKey
	if err := sk2.Unmarshal(sk.Marshal()); err != nil {
		t.Fatalf("failed to unmarshal parameters: %v", err)
	}
	wrong := []byte("hunter2")
	if err := sk2.DeriveKey(&wrong); err != ErrInvalidPassphrase {
		t.Fatalf("derive with wrong passphrase: got %v, want %v",
			err, ErrInvalidPassphrase)
	}
}

func TestDecryptCorrupt(t *testing.T) {
	sk, err := NewSecretKey(&passphrase, testN, testR, testP)
	if err != nil {
		t.Fatalf("failed to create secret key: %v", err)
	}
	blob, err := sk.Encrypt(seed)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	blob[len(blob)-1] ^= 0x01
	if _, err := sk.Decrypt(blob); err != ErrDecryptFailed {
		t.Fatalf("corrupt decrypt: got %v, want %v", err,
			ErrDecryptFailed)
	}

	if _, err := sk.Decrypt(blob[:NonceSize-1]); err != ErrMalformed {
		t.Fatalf("short decrypt: got %v, want %v", err, ErrMalformed)
	}
}

func TestZero(t *testing.T) {
	sk, err := NewSecretKey(&passphrase, testN, testR, testP)
	if err != nil {
		t.Fatalf("failed to create secret key: %v", err)
	}
	sk.Zero()

	var zeroKey CryptoKey
	if !bytes.Equal(sk.Key[:], zeroKey[:]) {
		t.Fatalf("zeroed key retains data")
	}
}

func TestSealOpenSeed(t *testing.T) {
	blob, err := SealSeed(seed, passphrase)
	if err != nil {
		t.Fatalf("failed to seal seed: %v", err)
	}

	opened, err := OpenSeed(blob, passphrase)
	if err != nil {
		t.Fatalf("failed to open seed: %v", err)
	}
	if !bytes.Equal(opened, seed) {
		t.Fatalf("opened seed mismatch")
	}
	zero.Bytes(opened)

	if _, err := OpenSeed(blob, []byte("hunter2")); err != ErrInvalidPassphrase {
		t.Fatalf("open with wrong passphrase: got %v, want %v",
			err, ErrInvalidPassphrase)
	}

	if _, err := OpenSeed(blob[:paramsSize-1], passphrase); err != ErrMalformed {
		t.Fatalf("open truncated blob: got %v, want %v", err,
			ErrMalformed)
	}
}
