// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrcodec

import (
	"bytes"
	"crypto/sha256"
	"math/big"
)

// xrpAlphabet is the base58 dictionary used by the XRP ledger.  It differs
// from the Bitcoin dictionary, which is why the btcutil encoder cannot be
// reused here.
const xrpAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

// xrpAccountVersion is the type prefix of a classic account address; in the
// XRP alphabet it renders as a leading 'r'.
const xrpAccountVersion = 0x00

var xrpDecodeTable = func() [256]int8 {
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(xrpAlphabet); i++ {
		table[xrpAlphabet[i]] = int8(i)
	}
	return table
}()

// xrpChecksum is the 4-byte double-SHA256 tail appended before base58
// encoding.
func xrpChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// base58EncodeXRP encodes raw bytes with the XRP alphabet, preserving
// leading zero bytes as leading 'r' characters.
func base58EncodeXRP(input []byte) string {
	num := new(big.Int).SetBytes(input)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var encoded []byte
	for num.Sign() > 0 {
		num.DivMod(num, radix, mod)
		encoded = append(encoded, xrpAlphabet[mod.Int64()])
	}
	for _, b := range input {
		if b != 0 {
			break
		}
		encoded = append(encoded, xrpAlphabet[0])
	}

	// Reverse into big-endian digit order.
	for i, j := 0, len(encoded)-1; i < j; i, j = i+1, j-1 {
		encoded[i], encoded[j] = encoded[j], encoded[i]
	}
	return string(encoded)
}

// base58DecodeXRP decodes a base58 string in the XRP alphabet, returning nil
// for any character outside the dictionary.
func base58DecodeXRP(address string) []byte {
	num := big.NewInt(0)
	radix := big.NewInt(58)
	for i := 0; i < len(address); i++ {
		digit := xrpDecodeTable[address[i]]
		if digit < 0 {
			return nil
		}
		num.Mul(num, radix)
		num.Add(num, big.NewInt(int64(digit)))
	}

	decoded := num.Bytes()
	var leadingZeros int
	for i := 0; i < len(address) && address[i] == xrpAlphabet[0]; i++ {
		leadingZeros++
	}
	return append(make([]byte, leadingZeros), decoded...)
}

// encodeXRP derives the classic r-address: base58 over
// version || HASH160(pubkey) || 4-byte double-SHA256 checksum.
func encodeXRP(pubKey []byte) (string, error) {
	pkHash, err := hash160ForPubKey(pubKey)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, 25)
	payload = append(payload, xrpAccountVersion)
	payload = append(payload, pkHash...)
	payload = append(payload, xrpChecksum(payload)...)
	return base58EncodeXRP(payload), nil
}

// validateXRP checks the r prefix, dictionary membership, payload length,
// version byte, and checksum.
func validateXRP(address string) bool {
	if len(address) == 0 || address[0] != 'r' {
		return false
	}
	decoded := base58DecodeXRP(address)
	if len(decoded) != 25 {
		return false
	}
	if decoded[0] != xrpAccountVersion {
		return false
	}
	payload, checksum := decoded[:21], decoded[21:]
	return bytes.Equal(xrpChecksum(payload), checksum)
}
