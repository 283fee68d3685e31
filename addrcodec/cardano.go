// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrcodec

import (
	"strings"
	"sync"

	"github.com/hashvault/custody/chainparams"
)

// CardanoCodec is the pluggable encoder for Shelley-era addresses.  Cardano
// derivation uses ed25519 keys and CBOR-structured payloads that sit outside
// the secp256k1 pipeline the rest of the codec shares, so the concrete
// implementation is injected by the integration that carries those
// dependencies.
type CardanoCodec interface {
	// Encode derives an addr1 address from key material.
	Encode(data []byte, params *chainparams.Params) (string, error)

	// Validate reports whether the address is well formed.
	Validate(address string, params *chainparams.Params) bool
}

var (
	cardanoMu    sync.RWMutex
	cardanoCodec CardanoCodec
)

// RegisterCardanoCodec installs the Shelley codec implementation.  Passing
// nil uninstalls it, returning Cardano encoding to ErrUnsupportedAddressType
// and validation to the structural fallback.
func RegisterCardanoCodec(c CardanoCodec) {
	cardanoMu.Lock()
	cardanoCodec = c
	cardanoMu.Unlock()
}

// bech32Charset is the data character set shared by bech32-family encodings;
// used only for the structural fallback below.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func encodeCardano(data []byte, params *chainparams.Params) (string, error) {
	cardanoMu.RLock()
	codec := cardanoCodec
	cardanoMu.RUnlock()
	if codec == nil {
		return "", ErrUnsupportedAddressType
	}
	return codec.Encode(data, params)
}

// validateCardano delegates to the registered codec when present and
// otherwise falls back to a structural check: the network HRP, the bech32
// separator, and the bech32 character set.  The fallback accepts without
// verifying the checksum -- Shelley base addresses exceed the 90-character
// bound of classic bech32 decoders.
func validateCardano(address string, params *chainparams.Params) bool {
	cardanoMu.RLock()
	codec := cardanoCodec
	cardanoMu.RUnlock()
	if codec != nil {
		return codec.Validate(address, params)
	}

	prefix := params.Bech32HRP + "1"
	if !strings.HasPrefix(address, prefix) {
		return false
	}
	data := address[len(prefix):]
	if len(data) < 6 {
		return false
	}
	if strings.ToLower(address) != address {
		return false
	}
	for i := 0; i < len(data); i++ {
		if !strings.ContainsRune(bech32Charset, rune(data[i])) {
			return false
		}
	}
	return true
}
