// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainparams

import "fmt"

// Chain identifies a supported blockchain family.
type Chain string

// Supported chains.
const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
	ChainTron     Chain = "tron"
	ChainXRP      Chain = "xrp"
	ChainCardano  Chain = "cardano"
)

// Network identifies which network of a chain parameters apply to.
type Network string

// Supported networks.
const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Purpose constants for hierarchical derivation paths.  Almost every chain
// uses the BIP44 purpose; Cardano uses CIP-1852.
const (
	PurposeBIP44   uint32 = 44
	PurposeCIP1852 uint32 = 1852
)

// Params defines the custody-relevant parameters of a (chain, network) pair:
// the derivation coin type, address version bytes, and the confirmation
// threshold a deposit must reach before it is credited.
type Params struct {
	Chain   Chain
	Network Network

	// Name is the canonical human readable identifier, e.g.
	// "bitcoin-mainnet".
	Name string

	// Purpose and CoinType are the first two hardened levels of the
	// derivation path.
	Purpose  uint32
	CoinType uint32

	// Address encoding magics.  Only the fields relevant to the chain
	// family are populated.
	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	Bech32HRP        string

	// UTXOBased is true for chains whose deposits arrive as transaction
	// outputs rather than account balance movements.
	UTXOBased bool

	// Decimals is the number of decimal places of the chain's base unit.
	Decimals int

	// MinConfirmations is the number of confirmations required before a
	// detected deposit may be credited.
	MinConfirmations int64

	// LookbackBlocks bounds how far behind the tip a scanner starts when
	// no detection cursor has ever been persisted.
	LookbackBlocks int64
}

// Key returns the registry key for the params.
func (p *Params) Key() string {
	return string(p.Chain) + "-" + string(p.Network)
}

// BitcoinMainNetParams defines custody parameters for the main Bitcoin
// network.
var BitcoinMainNetParams = Params{
	Chain:            ChainBitcoin,
	Network:          NetworkMainnet,
	Name:             "bitcoin-mainnet",
	Purpose:          PurposeBIP44,
	CoinType:         0,
	PubKeyHashAddrID: 0x00,
	ScriptHashAddrID: 0x05,
	Bech32HRP:        "bc",
	UTXOBased:        true,
	Decimals:         8,
	MinConfirmations: 6,
	LookbackBlocks:   10,
}

// BitcoinTestNet3Params defines custody parameters for the test Bitcoin
// network (version 3).
var BitcoinTestNet3Params = Params{
	Chain:            ChainBitcoin,
	Network:          NetworkTestnet,
	Name:             "bitcoin-testnet3",
	Purpose:          PurposeBIP44,
	CoinType:         1,
	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
	Bech32HRP:        "tb",
	UTXOBased:        true,
	Decimals:         8,
	MinConfirmations: 3,
	LookbackBlocks:   10,
}

// EthereumMainNetParams defines custody parameters for the Ethereum main
// network.  The same root serves ETH and every token sharing its address
// space.
var EthereumMainNetParams = Params{
	Chain:            ChainEthereum,
	Network:          NetworkMainnet,
	Name:             "ethereum-mainnet",
	Purpose:          PurposeBIP44,
	CoinType:         60,
	Decimals:         18,
	MinConfirmations: 12,
	LookbackBlocks:   64,
}

// EthereumSepoliaParams defines custody parameters for the Sepolia test
// network.
var EthereumSepoliaParams = Params{
	Chain:            ChainEthereum,
	Network:          NetworkTestnet,
	Name:             "ethereum-sepolia",
	Purpose:          PurposeBIP44,
	CoinType:         1,
	Decimals:         18,
	MinConfirmations: 6,
	LookbackBlocks:   64,
}

// TronMainNetParams defines custody parameters for the Tron main network.
var TronMainNetParams = Params{
	Chain:            ChainTron,
	Network:          NetworkMainnet,
	Name:             "tron-mainnet",
	Purpose:          PurposeBIP44,
	CoinType:         195,
	PubKeyHashAddrID: 0x41,
	Decimals:         6,
	MinConfirmations: 19,
	LookbackBlocks:   100,
}

// XRPMainNetParams defines custody parameters for the XRP ledger main
// network.
var XRPMainNetParams = Params{
	Chain:            ChainXRP,
	Network:          NetworkMainnet,
	Name:             "xrp-mainnet",
	Purpose:          PurposeBIP44,
	CoinType:         144,
	Decimals:         6,
	MinConfirmations: 1,
	LookbackBlocks:   256,
}

// CardanoMainNetParams defines custody parameters for the Cardano main
// network.  Cardano derives along CIP-1852 rather than BIP44.
var CardanoMainNetParams = Params{
	Chain:            ChainCardano,
	Network:          NetworkMainnet,
	Name:             "cardano-mainnet",
	Purpose:          PurposeCIP1852,
	CoinType:         1815,
	Bech32HRP:        "addr",
	UTXOBased:        true,
	Decimals:         6,
	MinConfirmations: 15,
	LookbackBlocks:   128,
}

var registered = map[string]*Params{
	BitcoinMainNetParams.Key():  &BitcoinMainNetParams,
	BitcoinTestNet3Params.Key(): &BitcoinTestNet3Params,
	EthereumMainNetParams.Key(): &EthereumMainNetParams,
	EthereumSepoliaParams.Key(): &EthereumSepoliaParams,
	TronMainNetParams.Key():     &TronMainNetParams,
	XRPMainNetParams.Key():      &XRPMainNetParams,
	CardanoMainNetParams.Key():  &CardanoMainNetParams,
}

// Register makes a non-standard Params available to Lookup.  It is intended
// for simulation and regression networks; registering over an existing key
// replaces the previous entry.
func Register(p *Params) {
	registered[p.Key()] = p
}

// Lookup returns the registered parameters for the given (chain, network)
// pair.
func Lookup(chain Chain, network Network) (*Params, error) {
	p, ok := registered[string(chain)+"-"+string(network)]
	if !ok {
		return nil, fmt.Errorf("no parameters registered for %s %s",
			chain, network)
	}
	return p, nil
}
