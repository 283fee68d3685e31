// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrcodec

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/sha3"

	"github.com/hashvault/custody/chainparams"
)

// tronAddressLen is the fixed length of a base58check Tron address.
const tronAddressLen = 34

// encodeTron derives the T-address: Base58Check over the 0x41 prefix and
// the last 20 bytes of Keccak256 of the uncompressed public key, the same
// account hash the EVM uses.
func encodeTron(pubKey []byte, params *chainparams.Params) (string, error) {
	parsed, err := btcec.ParsePubKey(pubKey, btcec.S256())
	if err != nil {
		return "", ErrInvalidPubKey
	}
	uncompressed := parsed.SerializeUncompressed()

	keccak := sha3.NewLegacyKeccak256()
	keccak.Write(uncompressed[1:])
	digest := keccak.Sum(nil)

	return base58.CheckEncode(digest[len(digest)-20:],
		params.PubKeyHashAddrID), nil
}

// validateTron checks the fixed 34-character length, the T prefix, the
// base58check checksum, and the 0x41 version byte.
func validateTron(address string, params *chainparams.Params) bool {
	if len(address) != tronAddressLen || address[0] != 'T' {
		return false
	}
	decoded, version, err := base58.CheckDecode(address)
	if err != nil {
		return false
	}
	return version == params.PubKeyHashAddrID && len(decoded) == 20
}
