// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// custodyseed performs the seed ceremony for a new custody deployment: it
// collects or generates a 512-bit master seed, seals it under an operator
// passphrase, and writes the sealed blob to disk.  As a sanity check it
// prints the first external deposit address of every supported chain so
// the operator can cross-verify the derivation against an independent
// implementation before any address is handed to users.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/hashvault/custody/addrcodec"
	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/hdkeys"
	"github.com/hashvault/custody/internal/prompt"
	"github.com/hashvault/custody/internal/zero"
	"github.com/hashvault/custody/seedvault"
)

var datadir = btcutil.AppDataDir("custodyscan", false)

// Flags.
var opts = struct {
	Out string `long:"out" description:"Path to write the sealed seed to"`
}{
	Out: filepath.Join(datadir, "seed.vault"),
}

func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}
}

// previewChains are the chains whose first deposit address is printed for
// cross-verification.
var previewChains = []struct {
	params   *chainparams.Params
	addrType addrcodec.AddressType
}{
	{&chainparams.BitcoinMainNetParams, addrcodec.P2WPKH},
	{&chainparams.EthereumMainNetParams, addrcodec.EVMAccount},
	{&chainparams.TronMainNetParams, addrcodec.TronBase58},
	{&chainparams.XRPMainNetParams, addrcodec.XRPClassic},
}

func main() {
	os.Exit(mainInt())
}

func mainInt() int {
	if _, err := os.Stat(opts.Out); err == nil {
		fmt.Printf("Sealed seed %s already exists; refusing to "+
			"overwrite\n", opts.Out)
		return 1
	}

	reader := bufio.NewReader(os.Stdin)
	seed, fromMnemonic, err := prompt.Seed(reader)
	if err != nil {
		fmt.Println(err)
		return 1
	}
	if fromMnemonic {
		mnemonic, mnemonicPass, err := prompt.Mnemonic(reader)
		if err != nil {
			fmt.Println(err)
			return 1
		}
		seed = hdkeys.SeedFromMnemonic(mnemonic, mnemonicPass)
	}
	defer zero.Bytes(seed)

	passphrase, err := prompt.Passphrase(true)
	if err != nil {
		fmt.Println(err)
		return 1
	}
	defer zero.Bytes(passphrase)

	blob, err := seedvault.SealSeed(seed, passphrase)
	if err != nil {
		fmt.Println("Failed to seal seed:", err)
		return 1
	}

	if err := os.MkdirAll(filepath.Dir(opts.Out), 0700); err != nil {
		fmt.Println(err)
		return 1
	}
	if err := os.WriteFile(opts.Out, blob, 0600); err != nil {
		fmt.Println("Failed to write sealed seed:", err)
		return 1
	}
	fmt.Println("Sealed seed written to", opts.Out)

	if err := printPreviewAddresses(seed); err != nil {
		fmt.Println("Failed to derive preview addresses:", err)
		return 1
	}
	return 0
}

// printPreviewAddresses derives and prints the first external deposit
// address per chain so the ceremony can be cross-checked.
func printPreviewAddresses(seed []byte) error {
	master, err := hdkeys.NewMasterKey(seed)
	if err != nil {
		return err
	}
	defer master.Zero()

	fmt.Println("First deposit address per chain (account 0, index 0):")
	for _, pc := range previewChains {
		key, err := hdkeys.DeriveBIP44Key(master, pc.params, 0,
			hdkeys.ExternalBranch, 0)
		if err != nil {
			return err
		}
		address, err := addrcodec.Encode(key.PubKeyBytes(),
			pc.addrType, pc.params)
		key.Zero()
		if err != nil {
			return err
		}
		if pc.params.Chain == chainparams.ChainEthereum {
			address = addrcodec.ChecksumEVM(address)
		}
		path := hdkeys.DerivationPath(pc.params, 0, hdkeys.ExternalBranch, 0)
		fmt.Printf("  %-18s %-24s %s\n", pc.params.Name, path, address)
	}
	return nil
}
