// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scanner

import (
	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/depositdb"
)

// ConfirmationSource answers how many confirmations a transaction has
// accrued, in chain-specific terms.  The failed flag reports a transaction
// the chain itself rejected (an EVM revert); UTXO chains never set it.
type ConfirmationSource interface {
	TxConfirmations(txHash string, currentHeight int64) (observed int64,
		failed bool, err error)
}

// Tracker advances pending deposits toward the confirmed state.  It is
// shared by every scanner variant; only the ConfirmationSource differs.
//
// Confirmations are assumed monotonic: the tracker never re-validates the
// block hash a deposit was seen in, so a chain reorganization deep enough to
// drop the transaction is not detected here.
type Tracker struct {
	chain   chainparams.Chain
	network chainparams.Network
	ledger  depositdb.DepositLedger
	source  ConfirmationSource
}

// NewTracker returns a confirmation tracker for one (chain, network).
func NewTracker(chain chainparams.Chain, network chainparams.Network,
	ledger depositdb.DepositLedger, source ConfirmationSource) *Tracker {

	return &Tracker{
		chain:   chain,
		network: network,
		ledger:  ledger,
		source:  source,
	}
}

// UpdateConfirmations re-queries every pending or confirming deposit and
// advances its observed count and status.  A failure on one deposit is
// logged and must not block checking the rest; only the initial ledger read
// is fatal.  The stored observed count never regresses -- the ledger
// enforces that even if a stale node reports fewer confirmations.
func (t *Tracker) UpdateConfirmations(currentHeight int64) error {
	pending, err := t.ledger.PendingDeposits(t.chain, t.network)
	if err != nil {
		return err
	}

	for _, deposit := range pending {
		observed, failed, err := t.source.TxConfirmations(deposit.TxHash,
			currentHeight)
		if err != nil {
			log.Warnf("Skipping confirmation check for %s: %v",
				deposit.TxHash, err)
			continue
		}

		status := deposit.Status
		switch {
		case failed:
			status = depositdb.StatusFailed
		case observed >= deposit.ConfirmationsRequired:
			status = depositdb.StatusConfirmed
		case observed > 0:
			status = depositdb.StatusConfirming
		}

		err = t.ledger.UpdateDepositConfirmations(deposit.TxHash,
			deposit.Vout, observed, status)
		if err != nil {
			log.Warnf("Failed to update confirmations for %s: %v",
				deposit.TxHash, err)
			continue
		}
		if status == depositdb.StatusConfirmed &&
			deposit.Status != depositdb.StatusConfirmed {
			log.Infof("Deposit %s confirmed with %d confirmations",
				deposit.TxHash, observed)
		}
	}
	return nil
}
