// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrcodec

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/hashvault/custody/chainparams"
)

// generatorPubKey is the compressed serialization of the secp256k1 generator
// point, i.e. the public key of private key 1.  Its derived addresses are
// well-known reference values.
var generatorPubKey, _ = hex.DecodeString(
	"0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")

// satoshiExamplePubKey is the compressed public key of the widely published
// P2PKH example address 1PMycacnJaSqwwJqjawXBErnLsZ7RkXUAs.
var satoshiExamplePubKey, _ = hex.DecodeString(
	"0250863ad64a87ae8a2fe83c1af1a8403cb53f53e486d8511dad8a04887e5b2352")

// TestEncodeKnownVectors checks encoding against published reference
// addresses.
func TestEncodeKnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		addrType AddressType
		params   *chainparams.Params
		want     string
	}{
		{
			name:     "p2pkh compressed example",
			data:     satoshiExamplePubKey,
			addrType: P2PKH,
			params:   &chainparams.BitcoinMainNetParams,
			want:     "1PMycacnJaSqwwJqjawXBErnLsZ7RkXUAs",
		},
		{
			name:     "p2wpkh bip173 example",
			data:     generatorPubKey,
			addrType: P2WPKH,
			params:   &chainparams.BitcoinMainNetParams,
			want:     "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		},
		{
			name:     "evm private key one",
			data:     generatorPubKey,
			addrType: EVMAccount,
			params:   &chainparams.EthereumMainNetParams,
			want:     "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
		},
	}

	for _, test := range tests {
		got, err := Encode(test.data, test.addrType, test.params)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if got != test.want {
			t.Errorf("%s: got %s, want %s", test.name, got, test.want)
		}
	}
}

// TestRoundTrip ensures every supported (type, chain) pair encodes to an
// address that validates, and that corrupting one character invalidates it.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	const (
		base58Chars = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
		bech32Chars = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
		// EVM validation is structural, so mutating into a non-hex
		// character is required for the corruption to be detectable.
		nonHexChars = "z"
		xrpChars    = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"
	)

	tests := []struct {
		name     string
		addrType AddressType
		params   *chainparams.Params
		// charset supplies replacement characters for the last
		// position; any member other than the character already there
		// must invalidate the address.
		charset string
	}{
		{"p2pkh mainnet", P2PKH, &chainparams.BitcoinMainNetParams, base58Chars},
		{"p2pkh testnet", P2PKH, &chainparams.BitcoinTestNet3Params, base58Chars},
		{"p2wpkh mainnet", P2WPKH, &chainparams.BitcoinMainNetParams, bech32Chars},
		{"p2wpkh testnet", P2WPKH, &chainparams.BitcoinTestNet3Params, bech32Chars},
		{"evm mainnet", EVMAccount, &chainparams.EthereumMainNetParams, nonHexChars},
		{"xrp mainnet", XRPClassic, &chainparams.XRPMainNetParams, xrpChars},
		{"tron mainnet", TronBase58, &chainparams.TronMainNetParams, base58Chars},
	}

	for _, test := range tests {
		addr, err := Encode(generatorPubKey, test.addrType, test.params)
		if err != nil {
			t.Errorf("%s: encode: %v", test.name, err)
			continue
		}
		if !Validate(addr, test.params) {
			t.Errorf("%s: freshly encoded address %q does not "+
				"validate", test.name, addr)
			continue
		}

		last := addr[len(addr)-1]
		corrupt := test.charset[0]
		if corrupt == last {
			corrupt = test.charset[1]
		}
		mutated := addr[:len(addr)-1] + string(corrupt)
		if Validate(mutated, test.params) {
			t.Errorf("%s: corrupted address %q still validates",
				test.name, mutated)
		}
	}
}

// TestEncodeDeterminism ensures repeated encoding of the same key yields the
// identical address.
func TestEncodeDeterminism(t *testing.T) {
	t.Parallel()

	for _, addrType := range []AddressType{P2PKH, P2WPKH} {
		params := &chainparams.BitcoinMainNetParams
		a1, err1 := Encode(generatorPubKey, addrType, params)
		a2, err2 := Encode(generatorPubKey, addrType, params)
		if err1 != nil || err2 != nil {
			t.Fatalf("%s: encode errors: %v, %v", addrType, err1, err2)
		}
		if a1 != a2 {
			t.Fatalf("%s: repeated encoding differs: %s vs %s",
				addrType, a1, a2)
		}
	}
}

// TestP2SH checks redeem script hashing against the base58check form.
func TestP2SH(t *testing.T) {
	t.Parallel()

	// OP_1 as a trivial redeem script.
	addr, err := Encode([]byte{0x51}, P2SH, &chainparams.BitcoinMainNetParams)
	if err != nil {
		t.Fatalf("encode p2sh: %v", err)
	}
	if addr[0] != '3' {
		t.Fatalf("mainnet p2sh address %q does not start with 3", addr)
	}
	if !Validate(addr, &chainparams.BitcoinMainNetParams) {
		t.Fatalf("p2sh address %q does not validate", addr)
	}
}

// TestValidateBech32Cases ensures the known segwit v0 example validates in
// both BIP173 case forms and that corruption or case mixing fails.
func TestValidateBech32Cases(t *testing.T) {
	t.Parallel()

	const valid = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	params := &chainparams.BitcoinMainNetParams

	if !Validate(valid, params) {
		t.Fatal("known-good segwit address does not validate")
	}

	if !Validate(strings.ToUpper(valid), params) {
		t.Fatal("all-uppercase segwit address does not validate")
	}

	flipped := valid[:len(valid)-1] + "5"
	if Validate(flipped, params) {
		t.Fatal("segwit address with flipped last character validates")
	}

	mixed := strings.ToUpper(valid[:6]) + valid[6:]
	if Validate(mixed, params) {
		t.Fatal("mixed-case segwit address validates")
	}

	// Valid string, wrong network HRP.
	if Validate(valid, &chainparams.BitcoinTestNet3Params) {
		t.Fatal("mainnet segwit address validates on testnet")
	}
}

// TestValidateGarbage ensures Validate never accepts junk and never panics.
func TestValidateGarbage(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		" ",
		"0x",
		"0x7e5f4552091a69125d5dfcb7b8c2659029395bd",   // 39 hex chars
		"0x7e5f4552091a69125d5dfcb7b8c2659029395bdzz", // non-hex
		"1PMycacnJaSqwwJqjawXBErnLsZ7RkXUAt",          // bad base58 checksum
		"bc1",
		"rrrrrrrrrrrrrrrrrrrrrrrrrrrrrrrrr",
		"TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTT",
		"addr1",
		"\x00\x01\x02",
	}

	allParams := []*chainparams.Params{
		&chainparams.BitcoinMainNetParams,
		&chainparams.EthereumMainNetParams,
		&chainparams.XRPMainNetParams,
		&chainparams.TronMainNetParams,
		&chainparams.CardanoMainNetParams,
	}

	for _, input := range inputs {
		for _, params := range allParams {
			if Validate(input, params) {
				t.Errorf("junk input %q validates for %s",
					input, params.Name)
			}
		}
	}
}

// TestUnsupportedCombinations ensures cross-chain (type, params) pairs fail
// with ErrUnsupportedAddressType.
func TestUnsupportedCombinations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addrType AddressType
		params   *chainparams.Params
	}{
		{P2PKH, &chainparams.EthereumMainNetParams},
		{EVMAccount, &chainparams.BitcoinMainNetParams},
		{XRPClassic, &chainparams.TronMainNetParams},
		{TronBase58, &chainparams.XRPMainNetParams},
		{AddressType("bogus"), &chainparams.BitcoinMainNetParams},
	}

	for _, test := range tests {
		_, err := Encode(generatorPubKey, test.addrType, test.params)
		if err != ErrUnsupportedAddressType {
			t.Errorf("%s on %s: got %v, want %v", test.addrType,
				test.params.Name, err, ErrUnsupportedAddressType)
		}
	}

	// Cardano encoding with no registered codec behaves the same way.
	_, err := Encode(generatorPubKey, CardanoShelley,
		&chainparams.CardanoMainNetParams)
	if err != ErrUnsupportedAddressType {
		t.Errorf("cardano without codec: got %v, want %v", err,
			ErrUnsupportedAddressType)
	}
}

// TestCardanoStructuralValidation exercises the fallback validator.
func TestCardanoStructuralValidation(t *testing.T) {
	t.Parallel()

	params := &chainparams.CardanoMainNetParams
	valid := "addr1" + "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	if !Validate(valid, params) {
		t.Fatalf("structurally valid shelley address %q rejected", valid)
	}
	if Validate("addr1"+"qpzry9x8gf2tvdw0s3jn54khce6mua7b", params) {
		t.Fatal("address with out-of-charset character validates")
	}
	if Validate("stake1"+"qpzry9x8gf2tvdw0s3jn54khce6mua7l", params) {
		t.Fatal("foreign HRP validates")
	}
}

// TestChecksumEVM checks EIP-55 casing against the reference vector.
func TestChecksumEVM(t *testing.T) {
	t.Parallel()

	got := ChecksumEVM("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	want := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if got != want {
		t.Fatalf("checksum casing: got %s, want %s", got, want)
	}

	// Checksummed and lowercase forms both validate.
	if !validateEVM(got) || !validateEVM(strings.ToLower(got)) {
		t.Fatal("checksummed form does not validate structurally")
	}
}
