// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrcodec

import (
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"

	"github.com/hashvault/custody/chainparams"
)

// hash160ForPubKey normalizes the public key to its compressed form before
// hashing, so compressed and uncompressed serializations of the same key
// encode to the same address.
func hash160ForPubKey(pubKey []byte) ([]byte, error) {
	parsed, err := btcec.ParsePubKey(pubKey, btcec.S256())
	if err != nil {
		return nil, ErrInvalidPubKey
	}
	return btcutil.Hash160(parsed.SerializeCompressed()), nil
}

// encodeP2PKH returns Base58Check(version || HASH160(pubkey)).
func encodeP2PKH(pubKey []byte, params *chainparams.Params) (string, error) {
	pkHash, err := hash160ForPubKey(pubKey)
	if err != nil {
		return "", err
	}
	return base58.CheckEncode(pkHash, params.PubKeyHashAddrID), nil
}

// encodeP2SH returns Base58Check(version || HASH160(redeemScript)).
func encodeP2SH(redeemScript []byte, params *chainparams.Params) (string, error) {
	if len(redeemScript) == 0 {
		return "", ErrInvalidPubKey
	}
	scriptHash := btcutil.Hash160(redeemScript)
	return base58.CheckEncode(scriptHash, params.ScriptHashAddrID), nil
}

// encodeP2WPKH returns the bech32 encoding of witness version 0 over
// HASH160(pubkey) with the network HRP.
func encodeP2WPKH(pubKey []byte, params *chainparams.Params) (string, error) {
	pkHash, err := hash160ForPubKey(pubKey)
	if err != nil {
		return "", err
	}
	converted, err := bech32.ConvertBits(pkHash, 8, 5, true)
	if err != nil {
		return "", err
	}
	// Witness version 0 prepended as its own 5-bit group.
	return bech32.Encode(params.Bech32HRP, append([]byte{0x00}, converted...))
}

// validateBitcoin accepts base58check P2PKH/P2SH addresses with the
// network's version bytes and bech32 P2WPKH/P2WSH addresses, lowercase or
// all-uppercase, with the network's HRP.  Bad checksums, wrong lengths,
// foreign version bytes, and mixed-case bech32 strings all fail.
func validateBitcoin(address string, params *chainparams.Params) bool {
	// Bech32 first: the HRP separator cannot appear in base58.  The
	// prefix match is case-insensitive since BIP173 permits all-uppercase
	// strings; bech32.Decode rejects mixed case itself.
	lowered := strings.ToLower(address)
	if len(address) > 3 && (lowered[:3] == params.Bech32HRP+"1" ||
		lowered[:3] == "bc1" || lowered[:3] == "tb1") {
		hrp, data, err := bech32.Decode(address)
		if err != nil || hrp != params.Bech32HRP || len(data) == 0 {
			return false
		}
		witnessVer := data[0]
		program, err := bech32.ConvertBits(data[1:], 5, 8, false)
		if err != nil {
			return false
		}
		if witnessVer != 0 {
			return false
		}
		return len(program) == 20 || len(program) == 32
	}

	decoded, version, err := base58.CheckDecode(address)
	if err != nil {
		return false
	}
	if len(decoded) != 20 {
		return false
	}
	return version == params.PubKeyHashAddrID ||
		version == params.ScriptHashAddrID
}
