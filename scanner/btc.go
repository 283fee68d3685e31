// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scanner

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcutil"

	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/chainrpc"
	"github.com/hashvault/custody/depositdb"
	"github.com/hashvault/custody/utxomgr"
)

// UTXOChain is the read-only node surface the BTC scanner depends on.
// *chainrpc.BTCClient satisfies it.
type UTXOChain interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (string, error)
	GetBlock(hash string) (*btcjson.GetBlockVerboseResult, error)
	GetRawTransaction(txid string) (*btcjson.TxRawResult, error)
}

// BTCScannerConfig carries the collaborators of a BTC scanner.  UTXOs is
// optional; when set, every matured deposit's output is also entered into
// the store.
type BTCScannerConfig struct {
	Params   *chainparams.Params
	Asset    string
	Chain    UTXOChain
	Registry depositdb.AddressRegistry
	Ledger   depositdb.DepositLedger
	Cursors  depositdb.CursorStore
	UTXOs    *utxomgr.Store

	MaxBlocksPerScan int64

	// MinDeposit drops outputs below the exchange's dust threshold.
	// Zero disables the filter.
	MinDeposit btcutil.Amount
}

// BTCScanner detects deposits on a UTXO chain by walking blocks and
// inspecting every transaction output.  A deposit is emitted only once it
// has reached the chain's confirmation threshold; the detection cursor
// trails the tip by that margin so younger blocks are revisited on the
// next pass.
type BTCScanner struct {
	cfg     BTCScannerConfig
	tracker *Tracker
}

var _ Scanner = (*BTCScanner)(nil)

// NewBTCScanner returns a scanner over the given collaborators.
func NewBTCScanner(cfg BTCScannerConfig) (*BTCScanner, error) {
	if cfg.Params == nil || cfg.Chain == nil || cfg.Registry == nil ||
		cfg.Ledger == nil || cfg.Cursors == nil {
		return nil, fmt.Errorf("btc scanner requires params, chain, " +
			"registry, ledger, and cursors")
	}
	if cfg.MaxBlocksPerScan <= 0 {
		cfg.MaxBlocksPerScan = defaultMaxBlocksPerScan
	}
	s := &BTCScanner{cfg: cfg}
	s.tracker = NewTracker(cfg.Params.Chain, cfg.Params.Network,
		cfg.Ledger, btcConfirmationSource{chain: cfg.Chain})
	return s, nil
}

func (s *BTCScanner) loadTrackedSet() (trackedSet, error) {
	rows, err := s.cfg.Registry.ActiveDepositAddresses(s.cfg.Params.Chain,
		s.cfg.Params.Network, s.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit address "+
			"registry: %v", err)
	}
	set := make(trackedSet, len(rows))
	for _, row := range rows {
		// Base58 and bech32 addresses are matched verbatim; bech32 is
		// always emitted lowercase by the node.
		set[row.Address] = row
	}
	return set, nil
}

// ScanBlockRange walks [from, to] in ascending order and returns every
// sufficiently confirmed deposit to a tracked address.  Outputs younger
// than the confirmation threshold are withheld so a later pass can report
// them at full maturity.  A failure on one block or transaction is logged
// and scanning continues.
func (s *BTCScanner) ScanBlockRange(from, to int64) ([]DepositDetectionResult, error) {
	tracked, err := s.loadTrackedSet()
	if err != nil {
		return nil, err
	}
	if len(tracked) == 0 {
		log.Debugf("No tracked %s addresses, skipping %d..%d",
			s.cfg.Params.Name, from, to)
		return nil, nil
	}

	tip, err := s.cfg.Chain.GetBlockCount()
	if err != nil {
		return nil, err
	}

	var results []DepositDetectionResult
	for height := from; height <= to; height++ {
		confirmations := tip - height + 1
		if confirmations < s.cfg.Params.MinConfirmations {
			continue
		}

		hash, err := s.cfg.Chain.GetBlockHash(height)
		if err != nil {
			log.Errorf("Failed to fetch %s block hash %d, "+
				"skipping: %v", s.cfg.Params.Name, height, err)
			continue
		}
		block, err := s.cfg.Chain.GetBlock(hash)
		if err != nil {
			log.Errorf("Failed to fetch %s block %d, skipping: %v",
				s.cfg.Params.Name, height, err)
			continue
		}

		for _, txid := range block.Tx {
			tx, err := s.cfg.Chain.GetRawTransaction(txid)
			if err != nil {
				log.Errorf("Failed to fetch %s tx %s, "+
					"skipping: %v", s.cfg.Params.Name,
					txid, err)
				continue
			}
			matched, err := s.matchTransaction(tx, height,
				confirmations, tracked)
			if err != nil {
				log.Errorf("Failed to process %s tx %s, "+
					"skipping: %v", s.cfg.Params.Name,
					txid, err)
				continue
			}
			results = append(results, matched...)
		}
	}
	return results, nil
}

// matchTransaction extracts deposits from one transaction's outputs.  Each
// (txid, vout) pair is naturally unique, so two outputs paying the same
// address in one transaction yield two distinct deposits.
func (s *BTCScanner) matchTransaction(tx *btcjson.TxRawResult, height,
	confirmations int64, tracked trackedSet) ([]DepositDetectionResult, error) {

	var results []DepositDetectionResult
	for _, out := range tx.Vout {
		for _, addr := range out.ScriptPubKey.Addresses {
			row, ok := tracked[addr]
			if !ok {
				continue
			}
			amount, err := btcutil.NewAmount(out.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid output value "+
					"%v in tx %s: %v", out.Value,
					tx.Txid, err)
			}
			if amount < s.cfg.MinDeposit {
				log.Debugf("Ignoring dust output %s:%d (%v)",
					tx.Txid, out.N, amount)
				continue
			}
			results = append(results, DepositDetectionResult{
				Address:       addr,
				UserID:        row.UserID,
				AddressID:     row.AddressID,
				Asset:         s.cfg.Asset,
				Amount:        SatoshisToDecimal(amount),
				TxHash:        strings.ToLower(tx.Txid),
				Vout:          out.N,
				BlockNumber:   height,
				Confirmations: confirmations,
			})
		}
	}
	return results, nil
}

// ScanLatest scans from the persisted cursor, records every matured
// deposit, and advances the cursor.  The cursor never moves past
// tip - (MinConfirmations - 1): blocks younger than the confirmation
// threshold stay ahead of it and are walked again next cycle, relying on
// the ledger's (txHash, vout) key to absorb the overlap.
func (s *BTCScanner) ScanLatest() ([]DepositDetectionResult, error) {
	tip, err := s.cfg.Chain.GetBlockCount()
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
	for i := range results {
		if err := s.RecordDeposit(&results[i]); err != nil {
			return nil, err
		}
	}

	maturedTip := tip - (params.MinConfirmations - 1)
	next := to
	if next > maturedTip {
		next = maturedTip
	}
	if next > 0 {
		err := s.cfg.Cursors.SetCursor(params.Chain, params.Network, next)
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Scanned %s blocks %d..%d: %d deposits", params.Name,
		from, to, len(results))
	return results, nil
}

// RecordDeposit persists one detection and, when a UTXO store is attached,
// the matching unspent output.  Deposits matured past the threshold are
// recorded as confirmed directly.
func (s *BTCScanner) RecordDeposit(result *DepositDetectionResult) error {
	params := s.cfg.Params
	status := depositdb.StatusPending
	if result.Confirmations >= params.MinConfirmations {
		status = depositdb.StatusConfirmed
	}
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
		Status:                status,
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	log.Infof("Recorded %s deposit %s:%d for %s", params.Name,
		result.TxHash, result.Vout, result.Address)
	if s.cfg.UTXOs != nil {
		amount, err := amountFromDecimal(result.Amount)
		if err != nil {
			return err
		}
		s.cfg.UTXOs.AddUTXO(utxomgr.UTXO{
			TxID:    result.TxHash,
			Vout:    result.Vout,
			Amount:  amount,
			Address: result.Address,
		})
	}
	return nil
}

// UpdateConfirmations advances every pending deposit via the shared
// tracker.
func (s *BTCScanner) UpdateConfirmations(currentHeight int64) error {
	return s.tracker.UpdateConfirmations(currentHeight)
}

// Health reports the monitoring surface for this scanner's chain.
func (s *BTCScanner) Health() *chainrpc.Health {
	params := s.cfg.Params
	health := &chainrpc.Health{Network: string(params.Network)}
	tip, err := s.cfg.Chain.GetBlockCount()
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

// btcConfirmationSource reads confirmation counts from the node's own
// transaction view rather than recomputing from heights, so reorged
// transactions report zero again.
type btcConfirmationSource struct {
	chain UTXOChain
}

func (b btcConfirmationSource) TxConfirmations(txHash string,
	currentHeight int64) (int64, bool, error) {

	tx, err := b.chain.GetRawTransaction(txHash)
	if err != nil {
		return 0, false, err
	}
	return int64(tx.Confirmations), false, nil
}
