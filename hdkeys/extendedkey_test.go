// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkeys

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/hashvault/custody/chainparams"
)

// testSeed returns a 64-byte seed filled with the given byte.
func testSeed(b byte) []byte {
	seed := make([]byte, RecommendedSeedLen)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

// TestNewMasterKey ensures master key generation accepts only 64-byte seeds
// and produces a well-formed depth-0 key.
func TestNewMasterKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seedLen int
		err     error
	}{
		{name: "empty seed", seedLen: 0, err: ErrInvalidSeedLength},
		{name: "bip32 minimum", seedLen: 16, err: ErrInvalidSeedLength},
		{name: "one short", seedLen: 63, err: ErrInvalidSeedLength},
		{name: "bip39 seed", seedLen: 64, err: nil},
		{name: "one long", seedLen: 65, err: ErrInvalidSeedLength},
	}

	for _, test := range tests {
		seed := bytes.Repeat([]byte{0x01}, test.seedLen)
		key, err := NewMasterKey(seed)
		if err != test.err {
			t.Errorf("%s: mismatched error -- got: %v, want: %v",
				test.name, err, test.err)
			continue
		}
		if test.err != nil {
			continue
		}

		if key.Depth() != 0 {
			t.Errorf("%s: depth %d, want 0", test.name, key.Depth())
		}
		if key.ChildIndex() != 0 {
			t.Errorf("%s: child index %d, want 0", test.name,
				key.ChildIndex())
		}
		if !key.IsPrivate() {
			t.Errorf("%s: master key is not private", test.name)
		}
		if len(key.key) != 32 {
			t.Errorf("%s: key length %d, want 32", test.name,
				len(key.key))
		}
		if len(key.ChainCode()) != 32 {
			t.Errorf("%s: chain code length %d, want 32", test.name,
				len(key.ChainCode()))
		}
	}
}

// TestMasterKeyDeterminism ensures identical seeds produce bit-identical
// master keys and differing seeds do not.
func TestMasterKeyDeterminism(t *testing.T) {
	t.Parallel()

	k1, err := NewMasterKey(testSeed(0x01))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	k2, err := NewMasterKey(testSeed(0x01))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	if !bytes.Equal(k1.key, k2.key) || !bytes.Equal(k1.ChainCode(), k2.ChainCode()) {
		t.Fatal("identical seeds produced differing master keys")
	}

	k3, err := NewMasterKey(testSeed(0x02))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	if bytes.Equal(k1.key, k3.key) {
		t.Fatal("differing seeds produced identical master keys")
	}
}

// TestDeriveBIP44Key exercises the full five-level derivation: identical
// arguments must reproduce the identical key, and varying only the address
// index must change the key while keeping depth 5.
func TestDeriveBIP44Key(t *testing.T) {
	t.Parallel()

	master, err := NewMasterKey(testSeed(0x01))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	params := &chainparams.BitcoinMainNetParams

	key0, err := DeriveBIP44Key(master, params, 0, ExternalBranch, 0)
	if err != nil {
		t.Fatalf("DeriveBIP44Key: %v", err)
	}
	key0Again, err := DeriveBIP44Key(master, params, 0, ExternalBranch, 0)
	if err != nil {
		t.Fatalf("DeriveBIP44Key: %v", err)
	}
	key1, err := DeriveBIP44Key(master, params, 0, ExternalBranch, 1)
	if err != nil {
		t.Fatalf("DeriveBIP44Key: %v", err)
	}

	if !bytes.Equal(key0.key, key0Again.key) {
		t.Fatal("repeated derivation produced differing keys")
	}
	if bytes.Equal(key0.key, key1.key) {
		t.Fatal("differing address indexes produced identical keys")
	}
	if key0.Depth() != 5 || key1.Depth() != 5 {
		t.Fatalf("derived key depths %d/%d, want 5/5", key0.Depth(),
			key1.Depth())
	}
}

// TestChainRootDerivation ensures the neutered chain root sits at depth 3,
// holds no private material, and derives the same address public keys as
// the private derivation path does.
func TestChainRootDerivation(t *testing.T) {
	t.Parallel()

	master, err := NewMasterKey(testSeed(0x03))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	params := &chainparams.EthereumMainNetParams

	root, err := DeriveChainRoot(master, params, 0)
	if err != nil {
		t.Fatalf("DeriveChainRoot: %v", err)
	}
	if root.Depth() != 3 {
		t.Fatalf("chain root depth %d, want 3", root.Depth())
	}
	if root.IsPrivate() {
		t.Fatal("chain root retains private key material")
	}
	if _, err := root.Child(HardenedKeyStart); err != ErrDeriveHardFromPublic {
		t.Fatalf("hardened child of neutered root: got %v, want %v",
			err, ErrDeriveHardFromPublic)
	}

	for index := uint32(0); index < 5; index++ {
		privPath, err := DeriveBIP44Key(master, params, 0,
			ExternalBranch, index)
		if err != nil {
			t.Fatalf("DeriveBIP44Key(%d): %v", index, err)
		}
		pubPath, err := DeriveAddressKey(root, ExternalBranch, index)
		if err != nil {
			t.Fatalf("DeriveAddressKey(%d): %v", index, err)
		}
		if !bytes.Equal(privPath.PubKeyBytes(), pubPath.PubKeyBytes()) {
			t.Fatalf("index %d: private and neutered derivation "+
				"disagree on the public key", index)
		}
	}
}

// TestDerivePublicKey checks the compressed/uncompressed serialization
// prefixes and the round trip through ECPrivKey.
func TestDerivePublicKey(t *testing.T) {
	t.Parallel()

	master, err := NewMasterKey(testSeed(0x04))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}

	compressed, err := DerivePublicKey(master.key, true)
	if err != nil {
		t.Fatalf("DerivePublicKey(compressed): %v", err)
	}
	if len(compressed) != 33 {
		t.Fatalf("compressed length %d, want 33", len(compressed))
	}
	if compressed[0] != 0x02 && compressed[0] != 0x03 {
		t.Fatalf("compressed prefix 0x%02x, want 0x02 or 0x03",
			compressed[0])
	}
	if !bytes.Equal(compressed, master.PubKeyBytes()) {
		t.Fatal("DerivePublicKey disagrees with PubKeyBytes")
	}

	uncompressed, err := DerivePublicKey(master.key, false)
	if err != nil {
		t.Fatalf("DerivePublicKey(uncompressed): %v", err)
	}
	if len(uncompressed) != 65 || uncompressed[0] != 0x04 {
		t.Fatalf("uncompressed form %d bytes prefix 0x%02x, want 65 "+
			"bytes prefix 0x04", len(uncompressed), uncompressed[0])
	}
}

// TestZero ensures zeroing renders the key unusable and clears material.
func TestZero(t *testing.T) {
	t.Parallel()

	master, err := NewMasterKey(testSeed(0x05))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	master.Zero()
	if master.IsPrivate() {
		t.Fatal("zeroed key still reports private")
	}
	if master.key != nil || master.chainCode != nil {
		t.Fatal("zeroed key retains material")
	}
}

// TestSeedFromMnemonic checks the BIP39 reference vector with the TREZOR
// passphrase.
func TestSeedFromMnemonic(t *testing.T) {
	t.Parallel()

	mnemonic := "abandon abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon about"
	seed := SeedFromMnemonic(mnemonic, "TREZOR")
	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e5" +
		"3495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f00" +
		"1698e7463b04"
	if hex.EncodeToString(seed) != want {
		t.Fatalf("seed mismatch -- got %x", seed)
	}

	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey on bip39 seed: %v", err)
	}
	if master.Depth() != 0 {
		t.Fatalf("master depth %d, want 0", master.Depth())
	}
}
