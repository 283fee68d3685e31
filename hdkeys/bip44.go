// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkeys

import (
	"errors"
	"fmt"

	"github.com/hashvault/custody/chainparams"
)

// Branch constants for the change level of a BIP44 path.
const (
	ExternalBranch uint32 = 0
	InternalBranch uint32 = 1
)

// ErrInvalidChainRoot describes an error in which a key presented as a chain
// root does not sit at the account level (depth 3) of the derivation tree.
var ErrInvalidChainRoot = errors.New("chain root must be at depth 3")

// DeriveAccountKey derives the hardened account-level extended key for the
// given chain parameters:
//
//	m/purpose'/coinType'/account'
//
// The purpose and coin type come from the chain parameters, so the same call
// covers both BIP44 chains and Cardano's CIP-1852 layout.
func DeriveAccountKey(master *ExtendedKey, params *chainparams.Params,
	account uint32) (*ExtendedKey, error) {

	purpose, err := master.Child(params.Purpose + HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	defer purpose.Zero()

	coinType, err := purpose.Child(params.CoinType + HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	defer coinType.Zero()

	return coinType.Child(account + HardenedKeyStart)
}

// DeriveChainRoot derives the public-only account root serving a
// (chain, network, asset-group): the neutered extended key at
// m/purpose'/coinType'/account'.  One root may serve multiple assets sharing
// an address space, such as an EVM root serving ETH and its tokens.
func DeriveChainRoot(master *ExtendedKey, params *chainparams.Params,
	account uint32) (*ExtendedKey, error) {

	acctKey, err := DeriveAccountKey(master, params, account)
	if err != nil {
		return nil, err
	}
	defer acctKey.Zero()

	root := acctKey.Neuter()
	if root.Depth() != 3 {
		return nil, ErrInvalidChainRoot
	}
	return root, nil
}

// DeriveBIP44Key composes the five derivations along
// m/purpose'/coinType'/account'/change/addressIndex and returns the
// resulting extended key at depth 5.  Derivation is pure: identical
// arguments always yield the bit-identical key.
//
// ErrInvalidChild is propagated when the address index hits one of the rare
// invalid BIP32 children; the caller should skip to the next index.
func DeriveBIP44Key(master *ExtendedKey, params *chainparams.Params,
	account, change, addressIndex uint32) (*ExtendedKey, error) {

	acctKey, err := DeriveAccountKey(master, params, account)
	if err != nil {
		return nil, err
	}
	defer acctKey.Zero()

	return DeriveAddressKey(acctKey, change, addressIndex)
}

// DeriveAddressKey derives change/addressIndex below an account-level key
// using non-hardened derivation, which works equally on a private account
// key and on a neutered chain root.
func DeriveAddressKey(acctKey *ExtendedKey, change,
	addressIndex uint32) (*ExtendedKey, error) {

	changeKey, err := acctKey.Child(change)
	if err != nil {
		return nil, err
	}
	defer changeKey.Zero()

	return changeKey.Child(addressIndex)
}

// DerivationPath renders the canonical path string for the given chain
// parameters and address coordinates, e.g. m/44'/0'/0'/0/5.
func DerivationPath(params *chainparams.Params, account, change,
	addressIndex uint32) string {

	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", params.Purpose,
		params.CoinType, account, change, addressIndex)
}
