// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkeys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil"

	"github.com/hashvault/custody/internal/zero"
)

const (
	// RecommendedSeedLen is the only seed length accepted by
	// NewMasterKey.  The BIP39 mnemonic-to-seed conversion always
	// produces 64 bytes, and every address in custody must be
	// reproducible from that exact seed, so shorter BIP32 seeds are
	// rejected outright.
	RecommendedSeedLen = 64

	// HardenedKeyStart is the index at which a hardened key starts.  Each
	// extended key has 2^31 normal child keys and 2^31 hardened child
	// keys.  Thus the range for normal child keys is [0, 2^31 - 1] and
	// the range for hardened child keys is [2^31, 2^32 - 1].
	HardenedKeyStart = uint32(0x80000000) // 2^31

	// maxDepth is the maximum number of derivation levels below a master
	// key.
	maxDepth = 255

	// keyLen is the length in bytes of a serialized private key.
	keyLen = 32
)

var (
	// ErrInvalidSeedLength describes an error in which the provided seed
	// is not exactly RecommendedSeedLen bytes.
	ErrInvalidSeedLength = errors.New("seed length must be exactly 64 bytes")

	// ErrUnusableSeed describes an error in which the provided seed is
	// not usable due to the derived key falling outside of the valid
	// range for secp256k1 private keys.  This error indicates the caller
	// must choose another seed.
	ErrUnusableSeed = errors.New("unusable seed")

	// ErrInvalidChild describes an error in which the child extended key
	// at a given index is invalid due to the derived key falling outside
	// of the valid range for secp256k1 private keys.  Callers should
	// simply ignore the index for this child and increment to the next
	// index.
	ErrInvalidChild = errors.New("the extended key at this index is invalid")

	// ErrDeriveHardFromPublic describes an error in which the caller
	// attempted to derive a hardened extended key from a public-only key.
	ErrDeriveHardFromPublic = errors.New("cannot derive a hardened key " +
		"from a public key")

	// ErrDeriveBeyondMaxDepth describes an error in which the caller
	// has attempted to derive more than 255 keys below the master key.
	ErrDeriveBeyondMaxDepth = errors.New("cannot derive a key with more " +
		"than 255 indices in its path")

	// ErrNotPrivExtKey describes an error in which the caller attempted
	// to use private key material from a public-only extended key.
	ErrNotPrivExtKey = errors.New("unable to create private keys from a " +
		"public extended key")

	// masterKey is the HMAC key used to generate a master key per BIP32.
	masterKey = []byte("Bitcoin seed")
)

// ExtendedKey houses all the information needed to support a BIP32
// hierarchical deterministic extended key.  Extended keys are immutable and
// derivation is fully deterministic: the same (parent, index) pair always
// yields the identical child.  See the Child and Neuter functions for
// derivation and conversion to the corresponding extended public key.
type ExtendedKey struct {
	key       []byte // 32 bytes private, or 33 bytes serialized pub
	pubKey    []byte // cached serialized compressed pubkey
	chainCode []byte
	depth     uint8
	parentFP  []byte
	childNum  uint32
	isPrivate bool
}

// newExtendedKey returns a populated extended key.  The caller retains no
// ownership of the passed slices.
func newExtendedKey(key, chainCode, parentFP []byte, depth uint8,
	childNum uint32, isPrivate bool) *ExtendedKey {

	return &ExtendedKey{
		key:       key,
		chainCode: chainCode,
		depth:     depth,
		parentFP:  parentFP,
		childNum:  childNum,
		isPrivate: isPrivate,
	}
}

// NewMasterKey generates a new master extended key from a BIP39 seed.  Only
// 64-byte seeds are accepted; anything else fails with
// ErrInvalidSeedLength.
func NewMasterKey(seed []byte) (*ExtendedKey, error) {
	if len(seed) != RecommendedSeedLen {
		return nil, ErrInvalidSeedLength
	}

	// First take the HMAC-SHA512 of the master key and the seed data:
	//   I = HMAC-SHA512(Key = "Bitcoin seed", Data = S)
	hmac512 := hmac.New(sha512.New, masterKey)
	hmac512.Write(seed)
	lr := hmac512.Sum(nil)

	// Split "I" into two 32-byte sequences Il and Ir where:
	//   Il = master secret key
	//   Ir = master chain code
	secretKey := lr[:len(lr)/2]
	chainCode := lr[len(lr)/2:]

	// Ensure the key is usable.
	secretKeyNum := new(big.Int).SetBytes(secretKey)
	defer zero.BigInt(secretKeyNum)
	if secretKeyNum.Cmp(btcec.S256().N) >= 0 || secretKeyNum.Sign() == 0 {
		return nil, ErrUnusableSeed
	}

	parentFP := []byte{0x00, 0x00, 0x00, 0x00}
	return newExtendedKey(secretKey, chainCode, parentFP, 0, 0, true), nil
}

// Child returns a derived child extended key at the given index.  Indices at
// or above HardenedKeyStart derive a hardened child, which requires private
// key material and consequently fails with ErrDeriveHardFromPublic on a
// neutered key.
//
// There is an extremely small chance (< 1 in 2^127) the derived child is
// invalid per BIP32, in which case ErrInvalidChild is returned and the
// caller should move on to the next index.
func (k *ExtendedKey) Child(i uint32) (*ExtendedKey, error) {
	if k.depth == maxDepth {
		return nil, ErrDeriveBeyondMaxDepth
	}

	isChildHardened := i >= HardenedKeyStart
	if !k.isPrivate && isChildHardened {
		return nil, ErrDeriveHardFromPublic
	}

	// The data used to derive the child key depends on whether or not the
	// child is hardened:
	//   hardened:     0x00 || ser256(parentKey) || ser32(i)
	//   non-hardened: serP(parentPubKey) || ser32(i)
	data := make([]byte, 37)
	if isChildHardened {
		copy(data[1:], k.key)
	} else {
		copy(data, k.pubKeyBytes())
	}
	binary.BigEndian.PutUint32(data[33:], i)

	hmac512 := hmac.New(sha512.New, k.chainCode)
	hmac512.Write(data)
	ilr := hmac512.Sum(nil)

	il := ilr[:len(ilr)/2]
	childChainCode := ilr[len(ilr)/2:]

	// Both derived public or private keys rely on treating the left
	// 32-byte sequence calculated above (Il) as a 256-bit integer that
	// must be within the valid range for a secp256k1 private key.
	ilNum := new(big.Int).SetBytes(il)
	defer zero.BigInt(ilNum)
	if ilNum.Cmp(btcec.S256().N) >= 0 || ilNum.Sign() == 0 {
		return nil, ErrInvalidChild
	}

	var isPrivate bool
	var childKey []byte
	if k.isPrivate {
		// childKey = parse256(Il) + parentKey  (mod n)
		keyNum := new(big.Int).SetBytes(k.key)
		ilNum.Add(ilNum, keyNum)
		ilNum.Mod(ilNum, btcec.S256().N)
		zero.BigInt(keyNum)

		// Pad to 32 bytes; big.Int strips leading zeroes.
		ilBytes := ilNum.Bytes()
		childKey = make([]byte, 32)
		copy(childKey[32-len(ilBytes):], ilBytes)
		isPrivate = true
	} else {
		// childKey = serP(point(parse256(Il)) + parentKey)
		ilx, ily := btcec.S256().ScalarBaseMult(il)
		if ilx.Sign() == 0 || ily.Sign() == 0 {
			return nil, ErrInvalidChild
		}

		pubKey, err := btcec.ParsePubKey(k.key, btcec.S256())
		if err != nil {
			return nil, err
		}

		childX, childY := btcec.S256().Add(ilx, ily, pubKey.X, pubKey.Y)
		pk := btcec.PublicKey{Curve: btcec.S256(), X: childX, Y: childY}
		childKey = pk.SerializeCompressed()
	}

	parentFP := btcutil.Hash160(k.pubKeyBytes())[:4]
	return newExtendedKey(childKey, childChainCode, parentFP,
		k.depth+1, i, isPrivate), nil
}

// pubKeyBytes returns bytes for the serialized compressed public key
// associated with this extended key, computing and caching it from the
// private key if necessary.
func (k *ExtendedKey) pubKeyBytes() []byte {
	if !k.isPrivate {
		return k.key
	}

	if len(k.pubKey) == 0 {
		pkx, pky := btcec.S256().ScalarBaseMult(k.key)
		pubKey := btcec.PublicKey{Curve: btcec.S256(), X: pkx, Y: pky}
		k.pubKey = pubKey.SerializeCompressed()
	}
	return k.pubKey
}

// PubKeyBytes returns the serialized compressed (33-byte) public key for the
// extended key.  The leading byte is 0x02 or 0x03 depending on the parity of
// the public key's Y coordinate.
func (k *ExtendedKey) PubKeyBytes() []byte {
	pub := make([]byte, 33)
	copy(pub, k.pubKeyBytes())
	return pub
}

// UncompressedPubKeyBytes returns the serialized uncompressed (65-byte)
// public key for the extended key.  EVM addresses hash this form with the
// 0x04 prefix stripped.
func (k *ExtendedKey) UncompressedPubKeyBytes() ([]byte, error) {
	pubKey, err := btcec.ParsePubKey(k.pubKeyBytes(), btcec.S256())
	if err != nil {
		return nil, err
	}
	return pubKey.SerializeUncompressed(), nil
}

// ECPrivKey converts the extended key to a btcec private key.  As expected,
// this is only possible if the extended key is private.
func (k *ExtendedKey) ECPrivKey() (*btcec.PrivateKey, error) {
	if !k.isPrivate {
		return nil, ErrNotPrivExtKey
	}
	privKey, _ := btcec.PrivKeyFromBytes(btcec.S256(), k.key)
	return privKey, nil
}

// Neuter returns a new extended public key from this extended key, stripping
// all private key material.  The returned key can continue deriving
// non-hardened children, which is what makes a ChainRoot useful to a scanner
// that must never hold private keys.
func (k *ExtendedKey) Neuter() *ExtendedKey {
	if !k.isPrivate {
		return k
	}

	chainCode := make([]byte, len(k.chainCode))
	copy(chainCode, k.chainCode)
	parentFP := make([]byte, len(k.parentFP))
	copy(parentFP, k.parentFP)

	return newExtendedKey(k.PubKeyBytes(), chainCode, parentFP, k.depth,
		k.childNum, false)
}

// IsPrivate returns whether or not the extended key contains a private key.
func (k *ExtendedKey) IsPrivate() bool {
	return k.isPrivate
}

// Depth returns the current derivation level with respect to the root, which
// is depth zero.
func (k *ExtendedKey) Depth() uint8 {
	return k.depth
}

// ChildIndex returns the child index used to derive this extended key from
// its parent.  Hardened children retain the HardenedKeyStart offset.
func (k *ExtendedKey) ChildIndex() uint32 {
	return k.childNum
}

// ParentFingerprint returns the first 4 bytes of the HASH160 of the parent's
// compressed public key.
func (k *ExtendedKey) ParentFingerprint() uint32 {
	return binary.BigEndian.Uint32(k.parentFP)
}

// ChainCode returns a copy of the 32-byte chain code.
func (k *ExtendedKey) ChainCode() []byte {
	cc := make([]byte, len(k.chainCode))
	copy(cc, k.chainCode)
	return cc
}

// Zero manually clears all fields and bytes in the extended key.  This can
// be used to explicitly clear key material from memory for enhanced security
// against memory scraping.  The key is no longer usable afterwards.
func (k *ExtendedKey) Zero() {
	zero.Bytes(k.key)
	zero.Bytes(k.pubKey)
	zero.Bytes(k.chainCode)
	zero.Bytes(k.parentFP)
	k.key = nil
	k.pubKey = nil
	k.chainCode = nil
	k.parentFP = nil
	k.depth = 0
	k.childNum = 0
	k.isPrivate = false
}

// DerivePublicKey returns the serialized secp256k1 public key for the given
// 32-byte private key, compressed (33 bytes, prefix 0x02/0x03 by Y parity)
// or uncompressed (65 bytes, prefix 0x04).
func DerivePublicKey(privateKey []byte, compressed bool) ([]byte, error) {
	if len(privateKey) != keyLen {
		return nil, ErrNotPrivExtKey
	}
	_, pubKey := btcec.PrivKeyFromBytes(btcec.S256(), privateKey)
	if compressed {
		return pubKey.SerializeCompressed(), nil
	}
	return pubKey.SerializeUncompressed(), nil
}
