// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package depositdb implements the persistence contracts of the custody
// engine: the deposit-address registry, the deposit ledger, and the
// detection cursor store.  The Store type backs all three on a kvdb
// database; the pgstore subpackage provides the same contracts on
// PostgreSQL.
package depositdb

import (
	"time"

	"github.com/hashvault/custody/chainparams"
)

// DepositStatus is the lifecycle state of a deposit.  The only transitions
// are pending -> confirming -> confirmed, with failed reachable from the two
// non-terminal states.  Confirmed is terminal for this engine; crediting the
// user balance is an external collaborator's job.
type DepositStatus string

// Deposit lifecycle states.
const (
	StatusPending    DepositStatus = "pending"
	StatusConfirming DepositStatus = "confirming"
	StatusConfirmed  DepositStatus = "confirmed"
	StatusFailed     DepositStatus = "failed"
)

// canTransition reports whether a deposit may move from one status to
// another.  Every status may "transition" to itself so confirmation-count
// updates need no special casing.
func canTransition(from, to DepositStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusConfirming || to == StatusConfirmed ||
			to == StatusFailed
	case StatusConfirming:
		return to == StatusConfirmed || to == StatusFailed
	}
	return false
}

// DepositAddress is an allocated deposit address.  Addresses are bijective
// with (chain, network, addressIndex), created once on allocation, and
// deactivated rather than deleted so the audit trail stays intact.
type DepositAddress struct {
	Address        string              `json:"address"`
	Chain          chainparams.Chain   `json:"chain"`
	Network        chainparams.Network `json:"network"`
	Asset          string              `json:"asset"`
	DerivationPath string              `json:"derivationPath"`
	AddressIndex   uint32              `json:"addressIndex"`
	UserID         string              `json:"userId"`
	Active         bool                `json:"active"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// Deposit is one detected on-chain deposit.  The idempotency key is
// (TxHash, Vout); Vout is always zero on account-model chains.
// ConfirmationsObserved is monotonically non-decreasing and deposits are
// never deleted.
type Deposit struct {
	UserID                string              `json:"userId"`
	AddressID             string              `json:"depositAddressId"`
	Address               string              `json:"address"`
	Chain                 chainparams.Chain   `json:"chain"`
	Network               chainparams.Network `json:"network"`
	Asset                 string              `json:"asset"`
	Amount                string              `json:"amount"`
	TxHash                string              `json:"transactionHash"`
	Vout                  uint32              `json:"vout"`
	BlockNumber           int64               `json:"blockNumber"`
	ConfirmationsObserved int64               `json:"confirmationsObserved"`
	ConfirmationsRequired int64               `json:"confirmationsRequired"`
	Status                DepositStatus       `json:"status"`
	CreatedAt             time.Time           `json:"createdAt"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

// DetectionCursor records the last fully processed block of a
// (chain, network) scanner.  It is a singleton per pair and only ever
// advances.
type DetectionCursor struct {
	Chain              chainparams.Chain   `json:"chain"`
	Network            chainparams.Network `json:"network"`
	LastProcessedBlock int64               `json:"lastProcessedBlock"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// TrackedAddress is the registry projection consumed by scanners: just
// enough to match chain activity back to a user.
type TrackedAddress struct {
	Address   string
	UserID    string
	AddressID string
}

// AddressRegistry is the read side of the deposit-address store that
// scanners depend on.
type AddressRegistry interface {
	// ActiveDepositAddresses returns every active address for the
	// (chain, network, asset) triple.  EVM addresses are returned
	// lowercase-normalized.  An empty asset matches all assets.
	ActiveDepositAddresses(chain chainparams.Chain,
		network chainparams.Network, asset string) ([]TrackedAddress, error)
}

// DepositLedger is the write side of the deposit store that scanners and
// the confirmation tracker depend on.
type DepositLedger interface {
	// RecordDeposit inserts the deposit if no row already exists for its
	// (TxHash, Vout) key.  The bool result reports whether a row was
	// created; a duplicate is not an error.
	RecordDeposit(deposit *Deposit) (bool, error)

	// PendingDeposits returns deposits in the pending or confirming
	// state for the (chain, network) pair.
	PendingDeposits(chain chainparams.Chain,
		network chainparams.Network) ([]*Deposit, error)

	// UpdateDepositConfirmations advances the observed confirmation
	// count and status of the deposit keyed by (txHash, vout).  The
	// observed count never regresses and illegal status transitions are
	// rejected.
	UpdateDepositConfirmations(txHash string, vout uint32,
		observed int64, status DepositStatus) error
}

// CursorStore persists detection cursors keyed by (chain, network).
type CursorStore interface {
	// Cursor returns the last processed block and whether a cursor has
	// ever been saved for the pair.
	Cursor(chain chainparams.Chain,
		network chainparams.Network) (int64, bool, error)

	// SetCursor upserts the cursor.  It must be called after every
	// successful scan, including scans that found no deposits, or the
	// same empty range is rescanned forever.
	SetCursor(chain chainparams.Chain, network chainparams.Network,
		block int64) error
}
