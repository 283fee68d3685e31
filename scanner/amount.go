// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scanner

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcutil"

	"github.com/hashvault/custody/chainrpc"
)

// weiPerEther is 10^18.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WeiToDecimal converts a 0x-prefixed hex wei quantity to a fixed
// 18-decimal string, e.g. "1.000000000000000000".  The conversion uses
// integer arithmetic only; a float64 has 53 bits of mantissa and silently
// corrupts wei quantities.
func WeiToDecimal(hexWei string) (string, error) {
	wei, err := chainrpc.ParseHexBig(hexWei)
	if err != nil {
		return "", err
	}
	if wei.Sign() < 0 {
		return "", fmt.Errorf("negative wei quantity %q", hexWei)
	}

	whole, frac := new(big.Int).QuoRem(wei, weiPerEther, new(big.Int))
	return fmt.Sprintf("%s.%018s", whole.String(), frac.String()), nil
}

// SatoshisToDecimal renders a satoshi amount as a fixed 8-decimal BTC
// string.
func SatoshisToDecimal(sats btcutil.Amount) string {
	whole := int64(sats) / int64(btcutil.SatoshiPerBitcoin)
	frac := int64(sats) % int64(btcutil.SatoshiPerBitcoin)
	return fmt.Sprintf("%d.%08d", whole, frac)
}

// amountFromDecimal parses a fixed 8-decimal BTC string back into a
// satoshi amount without going through floating point.
func amountFromDecimal(s string) (btcutil.Amount, error) {
	var whole, frac int64
	n, err := fmt.Sscanf(s, "%d.%08d", &whole, &frac)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	if whole < 0 || frac < 0 || frac >= int64(btcutil.SatoshiPerBitcoin) {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	return btcutil.Amount(whole*int64(btcutil.SatoshiPerBitcoin) + frac), nil
}
