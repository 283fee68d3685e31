// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scanner

import (
	"fmt"
	"strings"

	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/chainrpc"
	"github.com/hashvault/custody/depositdb"
)

// EVMChain is the read-only node surface the ETH scanner depends on.
// *chainrpc.EVMClient satisfies it.
type EVMChain interface {
	BlockNumber() (int64, error)
	BlockByNumber(height int64) (*chainrpc.EVMBlock, error)
	TransactionReceipt(hash string) (*chainrpc.EVMReceipt, error)
}

// ETHScannerConfig carries the collaborators of an ETH scanner.  Every
// field is required except MaxBlocksPerScan, which defaults to
// defaultMaxBlocksPerScan.
type ETHScannerConfig struct {
	Params   *chainparams.Params
	Asset    string
	Chain    EVMChain
	Registry depositdb.AddressRegistry
	Ledger   depositdb.DepositLedger
	Cursors  depositdb.CursorStore

	// MaxBlocksPerScan bounds the wall-clock cost of one ScanLatest
	// call.  There is no cancellation primitive; the range size is the
	// only budget.
	MaxBlocksPerScan int64
}

// defaultMaxBlocksPerScan bounds one ScanLatest invocation.
const defaultMaxBlocksPerScan = 200

// ETHScanner detects native-asset deposits on an EVM chain by walking full
// blocks.  Matching is case-insensitive: both the tracked set and every
// transaction's to-address are lowercased first, since EVM address case
// carries no meaning.
type ETHScanner struct {
	cfg     ETHScannerConfig
	tracker *Tracker
}

// Enforce the shared contract.
var _ Scanner = (*ETHScanner)(nil)

// NewETHScanner returns a scanner over the given collaborators.
func NewETHScanner(cfg ETHScannerConfig) (*ETHScanner, error) {
	if cfg.Params == nil || cfg.Chain == nil || cfg.Registry == nil ||
		cfg.Ledger == nil || cfg.Cursors == nil {
		return nil, fmt.Errorf("eth scanner requires params, chain, " +
			"registry, ledger, and cursors")
	}
	if cfg.MaxBlocksPerScan <= 0 {
		cfg.MaxBlocksPerScan = defaultMaxBlocksPerScan
	}
	s := &ETHScanner{cfg: cfg}
	s.tracker = NewTracker(cfg.Params.Chain, cfg.Params.Network,
		cfg.Ledger, ethConfirmationSource{chain: cfg.Chain})
	return s, nil
}

// loadTrackedSet loads the active registry rows, lowercased.  A registry
// failure is fatal for the scan: proceeding with a stale or empty set risks
// silently missing deposits.
func (s *ETHScanner) loadTrackedSet() (trackedSet, error) {
	rows, err := s.cfg.Registry.ActiveDepositAddresses(s.cfg.Params.Chain,
		s.cfg.Params.Network, s.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit address "+
			"registry: %v", err)
	}
	set := make(trackedSet, len(rows))
	for _, row := range rows {
		set[strings.ToLower(row.Address)] = row
	}
	return set, nil
}

// ScanBlockRange walks [from, to] in ascending order and returns every
// deposit to a tracked address.  A failure fetching or decoding one block
// is logged and scanning continues with the rest of the range.
func (s *ETHScanner) ScanBlockRange(from, to int64) ([]DepositDetectionResult, error) {
	tracked, err := s.loadTrackedSet()
	if err != nil {
		return nil, err
	}
	if len(tracked) == 0 {
		log.Debugf("No tracked %s addresses, skipping %d..%d",
			s.cfg.Params.Name, from, to)
		return nil, nil
	}

	tip, err := s.cfg.Chain.BlockNumber()
	if err != nil {
		return nil, err
	}

	var results []DepositDetectionResult
	for height := from; height <= to; height++ {
		block, err := s.cfg.Chain.BlockByNumber(height)
		if err != nil {
			log.Errorf("Failed to fetch %s block %d, skipping: %v",
				s.cfg.Params.Name, height, err)
			continue
		}
		matched, err := s.matchBlock(block, height, tip, tracked)
		if err != nil {
			log.Errorf("Failed to process %s block %d, skipping: %v",
				s.cfg.Params.Name, height, err)
			continue
		}
		results = append(results, matched...)
	}
	return results, nil
}

// matchBlock extracts deposits to tracked addresses from one block.
func (s *ETHScanner) matchBlock(block *chainrpc.EVMBlock, height, tip int64,
	tracked trackedSet) ([]DepositDetectionResult, error) {

	var results []DepositDetectionResult
	for _, tx := range block.Transactions {
		// Contract creations have no destination; zero-value calls
		// carry no deposit.
		if tx.To == nil {
			continue
		}
		value, err := chainrpc.ParseHexBig(tx.Value)
		if err != nil {
			log.Warnf("Malformed value in tx %s: %v", tx.Hash, err)
			continue
		}
		if value.Sign() == 0 {
			continue
		}

		row, ok := tracked[strings.ToLower(*tx.To)]
		if !ok {
			continue
		}

		amount, err := WeiToDecimal(tx.Value)
		if err != nil {
			return nil, err
		}
		results = append(results, DepositDetectionResult{
			Address:       strings.ToLower(*tx.To),
			UserID:        row.UserID,
			AddressID:     row.AddressID,
			Asset:         s.cfg.Asset,
			Amount:        amount,
			TxHash:        strings.ToLower(tx.Hash),
			Vout:          0,
			BlockNumber:   height,
			Confirmations: tip - height + 1,
		})
	}
	return results, nil
}

// ScanLatest scans from the persisted cursor to the chain tip, records
// every detection, and advances the cursor.  A fresh deployment with no
// cursor starts a lookback window behind the tip, never at genesis.
func (s *ETHScanner) ScanLatest() ([]DepositDetectionResult, error) {
	tip, err := s.cfg.Chain.BlockNumber()
	if err != nil {
		return nil, err
	}

	params := s.cfg.Params
	cursor, found, err := s.cfg.Cursors.Cursor(params.Chain, params.Network)
	if err != nil {
		return nil, err
	}

	from := tip - params.LookbackBlocks + 1
	if found {
		from = cursor + 1
	}
	if from < 1 {
		from = 1
	}
	if from > tip {
		return nil, nil
	}
	to := tip
	if to-from+1 > s.cfg.MaxBlocksPerScan {
		to = from + s.cfg.MaxBlocksPerScan - 1
	}

	results, err := s.ScanBlockRange(from, to)
	if err != nil {
		return nil, err
	}

	// Every deposit must be persisted before the cursor advances, so a
	// crash between the two can only cause a rescan, never a loss.
	for i := range results {
		if err := s.RecordDeposit(&results[i]); err != nil {
			return nil, err
		}
	}
	if err := s.cfg.Cursors.SetCursor(params.Chain, params.Network, to); err != nil {
		return nil, err
	}

	log.Debugf("Scanned %s blocks %d..%d: %d deposits", params.Name,
		from, to, len(results))
	return results, nil
}

// RecordDeposit persists one detection.  A deposit already present under
// the same (txHash, vout) key is skipped silently; that is the expected
// outcome of an overlapping rescan, not an error.
func (s *ETHScanner) RecordDeposit(result *DepositDetectionResult) error {
	params := s.cfg.Params
	created, err := s.cfg.Ledger.RecordDeposit(&depositdb.Deposit{
		UserID:                result.UserID,
		AddressID:             result.AddressID,
		Address:               result.Address,
		Chain:                 params.Chain,
		Network:               params.Network,
		Asset:                 result.Asset,
		Amount:                result.Amount,
		TxHash:                result.TxHash,
		Vout:                  result.Vout,
		BlockNumber:           result.BlockNumber,
		ConfirmationsObserved: result.Confirmations,
		ConfirmationsRequired: params.MinConfirmations,
		Status:                depositdb.StatusPending,
	})
	if err != nil {
		return err
	}
	if created {
		log.Infof("Recorded %s deposit %s for %s", params.Name,
			result.TxHash, result.Address)
	}
	return nil
}

// UpdateConfirmations advances every pending deposit via the shared
// tracker.
func (s *ETHScanner) UpdateConfirmations(currentHeight int64) error {
	return s.tracker.UpdateConfirmations(currentHeight)
}

// Health reports the monitoring surface for this scanner's chain, pairing
// node connectivity with the persisted cursor.
func (s *ETHScanner) Health() *chainrpc.Health {
	params := s.cfg.Params
	health := &chainrpc.Health{Network: string(params.Network)}
	tip, err := s.cfg.Chain.BlockNumber()
	if err == nil {
		health.Connected = true
		health.LatestBlock = tip
	}
	if cursor, found, err := s.cfg.Cursors.Cursor(params.Chain,
		params.Network); err == nil && found {
		health.LastProcessedBlock = &cursor
	}
	return health
}

// ethConfirmationSource reads confirmation counts from transaction
// receipts.
type ethConfirmationSource struct {
	chain EVMChain
}

// TxConfirmations returns currentHeight - receiptBlock + 1 and reports
// reverted transactions as failed.
func (e ethConfirmationSource) TxConfirmations(txHash string,
	currentHeight int64) (int64, bool, error) {

	receipt, err := e.chain.TransactionReceipt(txHash)
	if err != nil {
		return 0, false, err
	}
	if receipt.BlockNumber == "" {
		// Still in the mempool.
		return 0, false, nil
	}
	blockNum, err := chainrpc.ParseHexInt64(receipt.BlockNumber)
	if err != nil {
		return 0, false, err
	}
	observed := currentHeight - blockNum + 1
	if observed < 0 {
		observed = 0
	}
	failed := receipt.Status == "0x0"
	return observed, failed, nil
}
