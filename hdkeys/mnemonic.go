// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkeys

import (
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// seedIterations is the PBKDF2 round count fixed by BIP39.
const seedIterations = 2048

// SeedFromMnemonic converts a BIP39 mnemonic sentence and optional
// passphrase into the 64-byte seed consumed by NewMasterKey.  Both inputs
// are NFKD-normalized per BIP39, and the salt is "mnemonic" prepended to the
// passphrase.
//
// Mnemonic checksum validation is intentionally not performed here: the
// custody boundary stores seeds, not mnemonics, and this conversion must
// accept whatever sentence originally produced a stored seed.
func SeedFromMnemonic(mnemonic, passphrase string) []byte {
	password := norm.NFKD.Bytes([]byte(mnemonic))
	salt := norm.NFKD.Bytes([]byte("mnemonic" + passphrase))
	return pbkdf2.Key(password, salt, seedIterations, RecommendedSeedLen,
		sha512.New)
}
