// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt contains the interactive prompts used by the seed
// ceremony tooling.
package prompt

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// seedLen is the required master seed length in bytes.
const seedLen = 64

// promptList prompts the user with the given prefix, list of valid
// responses, and default list entry to use.  The function will repeat the
// prompt to the user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given
// prefix.  The function will repeat the prompt to the user until they enter
// a valid response.
func promptListBool(reader *bufio.Reader, prefix string,
	defaultEntry string) (bool, error) {

	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// promptPass prompts the user for a passphrase with the given prefix.  The
// function will ask the user to confirm the passphrase and will repeat the
// prompts until they enter a matching response.
func promptPass(prefix string, confirm bool) ([]byte, error) {
	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Print(prompt)
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		confirmed, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		confirmed = bytes.TrimSpace(confirmed)
		if !bytes.Equal(pass, confirmed) {
			fmt.Println("The entered passphrases do not match")
			continue
		}

		return pass, nil
	}
}

// Passphrase prompts the user for the passphrase the sealed seed will be
// encrypted under, with confirmation when creating a new seed.
func Passphrase(confirm bool) ([]byte, error) {
	return promptPass("Enter the passphrase for the custody seed", confirm)
}

// Mnemonic prompts the user for a BIP39 mnemonic sentence and an optional
// mnemonic passphrase.  The words are returned exactly as entered aside
// from whitespace trimming; normalization is the key derivation's job.
func Mnemonic(reader *bufio.Reader) (mnemonic string, passphrase string, err error) {
	fmt.Print("Enter your mnemonic sentence: ")
	mnemonic, err = reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	mnemonic = strings.TrimSpace(mnemonic)

	usePass, err := promptListBool(reader, "Does the mnemonic have a "+
		"passphrase (25th word)?", "no")
	if err != nil {
		return "", "", err
	}
	if usePass {
		pass, err := promptPass("Enter the mnemonic passphrase", false)
		if err != nil {
			return "", "", err
		}
		passphrase = string(pass)
	}
	return mnemonic, passphrase, nil
}

// Seed prompts the user whether they want to use an existing seed.  When
// the user answers no, a seed is generated and displayed to the user along
// with a prompt to confirm they stored it.  When the user answers yes,
// they are prompted for the raw hex seed.  All prompts are repeated until
// the user enters a valid response.  The second return reports whether the
// user instead wants to restore from a mnemonic.
func Seed(reader *bufio.Reader) (seed []byte, fromMnemonic bool, err error) {
	useUserSeed, err := promptListBool(reader, "Do you have an "+
		"existing custody seed you want to use?", "no")
	if err != nil {
		return nil, false, err
	}
	if !useUserSeed {
		seed := make([]byte, seedLen)
		if _, err := rand.Read(seed); err != nil {
			return nil, false, err
		}

		fmt.Println("Your custody seed is:")
		fmt.Printf("%x\n", seed)
		fmt.Println("IMPORTANT: Keep the seed in a safe place as you\n" +
			"will NOT be able to restore any deposit key without it.")
		fmt.Println("Please keep in mind that anyone who has access\n" +
			"to the seed can derive every deposit private key, so\n" +
			"it is imperative that you keep it in a secure location.")

		for {
			fmt.Print(`Once you have stored the seed in a safe ` +
				`and secure location, enter "OK" to continue: `)
			confirmSeed, err := reader.ReadString('\n')
			if err != nil {
				return nil, false, err
			}
			confirmSeed = strings.TrimSpace(confirmSeed)
			confirmSeed = strings.Trim(confirmSeed, `"`)
			if confirmSeed == "OK" {
				break
			}
		}

		return seed, false, nil
	}

	useMnemonic, err := promptListBool(reader, "Restore from a BIP39 "+
		"mnemonic instead of a raw hex seed?", "no")
	if err != nil {
		return nil, false, err
	}
	if useMnemonic {
		return nil, true, nil
	}

	for {
		fmt.Print("Enter existing custody seed: ")
		seedStr, err := reader.ReadString('\n')
		if err != nil {
			return nil, false, err
		}
		seedStr = strings.TrimSpace(strings.ToLower(seedStr))

		seed, err := hex.DecodeString(seedStr)
		if err != nil || len(seed) != seedLen {
			fmt.Printf("Invalid seed specified.  Must be a "+
				"hexadecimal value of exactly %d bits\n",
				seedLen*8)
			continue
		}

		return seed, false, nil
	}
}
