// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrcodec implements deposit address encoding and validation for
// every chain family under custody.  Encoding is deterministic from the
// public key material; validation is strict, never panics, and returns false
// for any malformed input rather than an error.
package addrcodec

import (
	"errors"

	"github.com/hashvault/custody/chainparams"
)

// AddressType identifies the concrete encoding of a deposit address within
// a chain family.
type AddressType string

// Supported address types.
const (
	// P2PKH is a legacy pay-to-pubkey-hash Bitcoin address.
	P2PKH AddressType = "p2pkh"

	// P2SH is a pay-to-script-hash Bitcoin address.  Encode expects the
	// redeem script, not a public key, as its data argument.
	P2SH AddressType = "p2sh"

	// P2WPKH is a native segwit version 0 pay-to-witness-pubkey-hash
	// Bitcoin address.
	P2WPKH AddressType = "p2wpkh"

	// EVMAccount is a 20-byte hex-encoded Ethereum-family account
	// address.
	EVMAccount AddressType = "evm"

	// XRPClassic is a classic XRP ledger address (r-prefixed base58).
	XRPClassic AddressType = "xrp"

	// TronBase58 is a T-prefixed Tron base58check address.
	TronBase58 AddressType = "tron"

	// CardanoShelley is a Shelley-era addr1 Cardano address.  Encoding
	// is pluggable; see RegisterCardanoCodec.
	CardanoShelley AddressType = "cardano"
)

// ErrUnsupportedAddressType describes an error in which the requested
// (address type, chain) combination has no registered encoder.
var ErrUnsupportedAddressType = errors.New("unsupported address type for chain")

// ErrInvalidPubKey describes an error in which the provided key material
// cannot be parsed as a secp256k1 public key of the expected form.
var ErrInvalidPubKey = errors.New("invalid public key")

// Encode derives the deposit address of the given type from raw key
// material.  For pay-to-script types the data argument is the redeem script;
// for everything else it is a serialized secp256k1 public key (compressed or
// uncompressed).  Unknown (type, chain) combinations fail with
// ErrUnsupportedAddressType.
func Encode(data []byte, addrType AddressType,
	params *chainparams.Params) (string, error) {

	switch addrType {
	case P2PKH:
		if params.Chain != chainparams.ChainBitcoin {
			return "", ErrUnsupportedAddressType
		}
		return encodeP2PKH(data, params)
	case P2SH:
		if params.Chain != chainparams.ChainBitcoin {
			return "", ErrUnsupportedAddressType
		}
		return encodeP2SH(data, params)
	case P2WPKH:
		if params.Chain != chainparams.ChainBitcoin {
			return "", ErrUnsupportedAddressType
		}
		return encodeP2WPKH(data, params)
	case EVMAccount:
		if params.Chain != chainparams.ChainEthereum {
			return "", ErrUnsupportedAddressType
		}
		return encodeEVM(data)
	case XRPClassic:
		if params.Chain != chainparams.ChainXRP {
			return "", ErrUnsupportedAddressType
		}
		return encodeXRP(data)
	case TronBase58:
		if params.Chain != chainparams.ChainTron {
			return "", ErrUnsupportedAddressType
		}
		return encodeTron(data, params)
	case CardanoShelley:
		if params.Chain != chainparams.ChainCardano {
			return "", ErrUnsupportedAddressType
		}
		return encodeCardano(data, params)
	}
	return "", ErrUnsupportedAddressType
}

// Validate reports whether the address is well formed for the chain the
// params describe.  It never panics and returns false for empty or
// malformed input.
func Validate(address string, params *chainparams.Params) bool {
	if address == "" {
		return false
	}

	switch params.Chain {
	case chainparams.ChainBitcoin:
		return validateBitcoin(address, params)
	case chainparams.ChainEthereum:
		return validateEVM(address)
	case chainparams.ChainXRP:
		return validateXRP(address)
	case chainparams.ChainTron:
		return validateTron(address, params)
	case chainparams.ChainCardano:
		return validateCardano(address, params)
	}
	return false
}
