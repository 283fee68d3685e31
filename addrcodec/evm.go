// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrcodec

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/sha3"
)

// evmAddressRE matches the structural form of an EVM address.  Validation is
// purely structural: the platform compares EVM addresses case-insensitively,
// so EIP-55 casing is a display concern, not a validity one.
var evmAddressRE = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// encodeEVM derives the 0x-prefixed lowercase hex address: the last 20 bytes
// of Keccak256 over the uncompressed public key with its 0x04 prefix
// stripped.
func encodeEVM(pubKey []byte) (string, error) {
	parsed, err := btcec.ParsePubKey(pubKey, btcec.S256())
	if err != nil {
		return "", ErrInvalidPubKey
	}
	uncompressed := parsed.SerializeUncompressed()

	keccak := sha3.NewLegacyKeccak256()
	keccak.Write(uncompressed[1:])
	digest := keccak.Sum(nil)

	return "0x" + hex.EncodeToString(digest[len(digest)-20:]), nil
}

// validateEVM reports whether the address is 0x plus 40 hex characters.
func validateEVM(address string) bool {
	return evmAddressRE.MatchString(address)
}

// ChecksumEVM renders an EVM address with EIP-55 mixed-case checksum
// casing.  The input must already validate; the empty string is returned
// otherwise.  This is a display helper only -- matching still happens on
// the lowercase form.
func ChecksumEVM(address string) string {
	if !validateEVM(address) {
		return ""
	}
	lower := strings.ToLower(address[2:])

	keccak := sha3.NewLegacyKeccak256()
	keccak.Write([]byte(lower))
	digest := keccak.Sum(nil)

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		// Uppercase a letter when the corresponding checksum nibble
		// is >= 8.
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// NormalizeEVM lowercases an EVM address for matching and storage.
func NormalizeEVM(address string) string {
	return strings.ToLower(address)
}
