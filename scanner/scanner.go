// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scanner implements polling-based deposit detection over the chain
// RPC boundary.  A scanner is a request/response job: an external scheduler
// invokes ScanLatest periodically, and the caller guarantees at most one
// active scan per (chain, network).  Scans are idempotent and resumable;
// the deposit ledger's (txHash, vout) key makes overlapping rescans
// harmless, and the detection cursor never advances before the deposits it
// covers are persisted.
package scanner

import "github.com/hashvault/custody/depositdb"

// DepositDetectionResult is one matched deposit from a block scan.  The
// amount is a decimal string produced with integer arithmetic only.
type DepositDetectionResult struct {
	Address       string
	UserID        string
	AddressID     string
	Asset         string
	Amount        string
	TxHash        string
	Vout          uint32
	BlockNumber   int64
	Confirmations int64
}

// Scanner is the contract shared by every chain variant.
type Scanner interface {
	// ScanBlockRange scans [from, to] in order and returns every matched
	// deposit.  Per-block failures are logged and skipped; a registry
	// load failure is fatal for the call.
	ScanBlockRange(from, to int64) ([]DepositDetectionResult, error)

	// ScanLatest resumes from the persisted cursor (or a safe lookback
	// window when no cursor exists), records every detected deposit, and
	// advances the cursor.  Deposits are persisted before the cursor
	// moves so a crash can lose progress but never a deposit.
	ScanLatest() ([]DepositDetectionResult, error)

	// RecordDeposit persists one detection result, idempotently on its
	// (txHash, vout) key.
	RecordDeposit(result *DepositDetectionResult) error

	// UpdateConfirmations re-queries every pending deposit and advances
	// its confirmation count and status.  Failures are isolated per
	// deposit.
	UpdateConfirmations(currentHeight int64) error
}

// trackedSet indexes registry rows by address for O(1) matching during a
// block walk.
type trackedSet map[string]depositdb.TrackedAddress
