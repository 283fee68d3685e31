// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package depositdb

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/kvdb"
)

// Bucket names.
var (
	addressBucketName   = []byte("deposit-addresses")
	addrIndexBucketName = []byte("address-index")
	depositBucketName   = []byte("deposits")
	cursorBucketName    = []byte("detection-cursors")
)

// Store persists deposit addresses, deposits, and detection cursors in a
// kvdb database.  It implements AddressRegistry, DepositLedger, and
// CursorStore.  A Store is an explicit handle passed to each scanner
// instance; nothing here is process-global.
type Store struct {
	db kvdb.DB
}

// Compile-time contract checks.
var (
	_ AddressRegistry = (*Store)(nil)
	_ DepositLedger   = (*Store)(nil)
	_ CursorStore     = (*Store)(nil)
)

// Open returns a Store over the given database, creating the top level
// buckets if they do not exist.
func Open(db kvdb.DB) (*Store, error) {
	err := kvdb.Update(db, func(tx kvdb.ReadWriteTx) error {
		for _, name := range [][]byte{
			addressBucketName, addrIndexBucketName,
			depositBucketName, cursorBucketName,
		} {
			if _, err := tx.CreateTopLevelBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to create store "+
			"buckets", err)
	}
	return &Store{db: db}, nil
}

// normalizeAddress lowercases EVM addresses; every other chain's addresses
// are case-significant and pass through unchanged.
func normalizeAddress(chain chainparams.Chain, address string) string {
	if chain == chainparams.ChainEthereum {
		return strings.ToLower(address)
	}
	return address
}

// addressKey is the unique key of a deposit address: the (chain, network,
// addressIndex) triple the address is bijective with.  It doubles as the
// address ID surfaced to the rest of the system.
func addressKey(chain chainparams.Chain, network chainparams.Network,
	index uint32) string {

	return fmt.Sprintf("%s/%s/%010d", chain, network, index)
}

// depositKey is the idempotency key of a deposit: the transaction hash plus
// the output index for multi-output chains.
func depositKey(txHash string, vout uint32) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), vout)
}

// PutDepositAddress stores a newly allocated deposit address.  The
// (chain, network, addressIndex) triple and the address string itself must
// both be unused; ErrAlreadyExists is returned otherwise.
func (s *Store) PutDepositAddress(addr *DepositAddress) error {
	if addr.Address == "" {
		return storeError(ErrInput, "deposit address requires an "+
			"address string", nil)
	}

	key := []byte(addressKey(addr.Chain, addr.Network, addr.AddressIndex))
	normalized := []byte(normalizeAddress(addr.Chain, addr.Address))

	record := *addr
	record.Address = string(normalized)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	serialized, err := json.Marshal(&record)
	if err != nil {
		return storeError(ErrInput, "failed to serialize deposit "+
			"address", err)
	}

	err = kvdb.Update(s.db, func(tx kvdb.ReadWriteTx) error {
		addrs := tx.ReadWriteBucket(addressBucketName)
		index := tx.ReadWriteBucket(addrIndexBucketName)

		if addrs.Get(key) != nil {
			return storeError(ErrAlreadyExists, "address index "+
				string(key)+" is already allocated", nil)
		}
		if index.Get(normalized) != nil {
			return storeError(ErrAlreadyExists, "address "+
				string(normalized)+" is already allocated", nil)
		}
		if err := addrs.Put(key, serialized); err != nil {
			return err
		}
		return index.Put(normalized, key)
	})
	if err != nil {
		if IsError(err, ErrAlreadyExists) {
			return err
		}
		return storeError(ErrDatabase, "failed to store deposit "+
			"address", err)
	}
	return nil
}

// DeactivateDepositAddress marks the address inactive.  The record is kept
// forever; deactivated addresses simply stop being returned by
// ActiveDepositAddresses.
func (s *Store) DeactivateDepositAddress(chain chainparams.Chain,
	network chainparams.Network, addressIndex uint32) error {

	key := []byte(addressKey(chain, network, addressIndex))
	err := kvdb.Update(s.db, func(tx kvdb.ReadWriteTx) error {
		addrs := tx.ReadWriteBucket(addressBucketName)
		serialized := addrs.Get(key)
		if serialized == nil {
			return storeError(ErrNoExist, "no deposit address at "+
				string(key), nil)
		}
		var record DepositAddress
		if err := json.Unmarshal(serialized, &record); err != nil {
			return err
		}
		record.Active = false
		updated, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return addrs.Put(key, updated)
	})
	if err != nil {
		if IsError(err, ErrNoExist) {
			return err
		}
		return storeError(ErrDatabase, "failed to deactivate deposit "+
			"address", err)
	}
	return nil
}

// ActiveDepositAddresses returns every active address for the
// (chain, network, asset) triple, lowercase-normalized for EVM.  An empty
// asset matches all assets, which is how an EVM scanner tracking a shared
// address space loads its full set.
func (s *Store) ActiveDepositAddresses(chain chainparams.Chain,
	network chainparams.Network, asset string) ([]TrackedAddress, error) {

	prefix := fmt.Sprintf("%s/%s/", chain, network)
	var tracked []TrackedAddress
	err := kvdb.View(s.db, func(tx kvdb.ReadTx) error {
		addrs := tx.ReadBucket(addressBucketName)
		return addrs.ForEach(func(k, v []byte) error {
			if v == nil || !strings.HasPrefix(string(k), prefix) {
				return nil
			}
			var record DepositAddress
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if !record.Active {
				return nil
			}
			if asset != "" && record.Asset != asset {
				return nil
			}
			tracked = append(tracked, TrackedAddress{
				Address:   record.Address,
				UserID:    record.UserID,
				AddressID: string(k),
			})
			return nil
		})
	})
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to load active "+
			"deposit addresses", err)
	}
	return tracked, nil
}

// RecordDeposit inserts the deposit unless a record already exists for its
// (TxHash, Vout) key.  Re-recording an already known deposit is the normal
// outcome of an overlapping rescan, so it reports (false, nil) rather than
// an error.
func (s *Store) RecordDeposit(deposit *Deposit) (bool, error) {
	if deposit.TxHash == "" {
		return false, storeError(ErrInput, "deposit requires a "+
			"transaction hash", nil)
	}
	key := []byte(depositKey(deposit.TxHash, deposit.Vout))

	record := *deposit
	record.Address = normalizeAddress(record.Chain, record.Address)
	record.TxHash = strings.ToLower(record.TxHash)
	if record.Status == "" {
		record.Status = StatusPending
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	var created bool
	err := kvdb.Update(s.db, func(tx kvdb.ReadWriteTx) error {
		deposits := tx.ReadWriteBucket(depositBucketName)
		if deposits.Get(key) != nil {
			// Idempotent skip.
			return nil
		}
		serialized, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		created = true
		return deposits.Put(key, serialized)
	})
	if err != nil {
		return false, storeError(ErrDatabase, "failed to record "+
			"deposit", err)
	}
	return created, nil
}

// GetDeposit returns the deposit keyed by (txHash, vout), or ErrNoExist.
func (s *Store) GetDeposit(txHash string, vout uint32) (*Deposit, error) {
	key := []byte(depositKey(txHash, vout))
	var record Deposit
	err := kvdb.View(s.db, func(tx kvdb.ReadTx) error {
		serialized := tx.ReadBucket(depositBucketName).Get(key)
		if serialized == nil {
			return storeError(ErrNoExist, "no deposit for "+
				string(key), nil)
		}
		return json.Unmarshal(serialized, &record)
	})
	if err != nil {
		if IsError(err, ErrNoExist) {
			return nil, err
		}
		return nil, storeError(ErrDatabase, "failed to load deposit", err)
	}
	return &record, nil
}

// PendingDeposits returns deposits in the pending or confirming state for
// the (chain, network) pair.
func (s *Store) PendingDeposits(chain chainparams.Chain,
	network chainparams.Network) ([]*Deposit, error) {

	var pending []*Deposit
	err := kvdb.View(s.db, func(tx kvdb.ReadTx) error {
		deposits := tx.ReadBucket(depositBucketName)
		return deposits.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}
			var record Deposit
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.Chain != chain || record.Network != network {
				return nil
			}
			if record.Status != StatusPending &&
				record.Status != StatusConfirming {
				return nil
			}
			pending = append(pending, &record)
			return nil
		})
	})
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to load pending "+
			"deposits", err)
	}
	return pending, nil
}

// UpdateDepositConfirmations advances the observed confirmation count and
// status of the deposit keyed by (txHash, vout).  The observed count is
// monotonically non-decreasing: a stale read that reports fewer
// confirmations than already observed leaves the stored count untouched.
// Status changes outside the lifecycle fail with ErrInvalidTransition.
func (s *Store) UpdateDepositConfirmations(txHash string, vout uint32,
	observed int64, status DepositStatus) error {

	key := []byte(depositKey(txHash, vout))
	err := kvdb.Update(s.db, func(tx kvdb.ReadWriteTx) error {
		deposits := tx.ReadWriteBucket(depositBucketName)
		serialized := deposits.Get(key)
		if serialized == nil {
			return storeError(ErrNoExist, "no deposit for "+
				string(key), nil)
		}
		var record Deposit
		if err := json.Unmarshal(serialized, &record); err != nil {
			return err
		}
		if !canTransition(record.Status, status) {
			return storeError(ErrInvalidTransition, fmt.Sprintf(
				"deposit %s may not move from %s to %s", key,
				record.Status, status), nil)
		}
		if observed > record.ConfirmationsObserved {
			record.ConfirmationsObserved = observed
		}
		record.Status = status
		record.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return deposits.Put(key, updated)
	})
	if err != nil {
		if IsError(err, ErrNoExist) || IsError(err, ErrInvalidTransition) {
			return err
		}
		return storeError(ErrDatabase, "failed to update deposit "+
			"confirmations", err)
	}
	return nil
}

// Cursor returns the last processed block for the (chain, network) pair and
// whether a cursor has ever been saved.
func (s *Store) Cursor(chain chainparams.Chain,
	network chainparams.Network) (int64, bool, error) {

	key := []byte(string(chain) + "/" + string(network))
	var (
		block int64
		found bool
	)
	err := kvdb.View(s.db, func(tx kvdb.ReadTx) error {
		serialized := tx.ReadBucket(cursorBucketName).Get(key)
		if serialized == nil {
			return nil
		}
		var cursor DetectionCursor
		if err := json.Unmarshal(serialized, &cursor); err != nil {
			return err
		}
		block = cursor.LastProcessedBlock
		found = true
		return nil
	})
	if err != nil {
		return 0, false, storeError(ErrDatabase, "failed to load "+
			"detection cursor", err)
	}
	return block, found, nil
}

// SetCursor upserts the cursor for the (chain, network) pair.  The cursor
// only ever advances; an attempt to move it backwards is a no-op so a stale
// caller cannot cause blocks to be reprocessed.
func (s *Store) SetCursor(chain chainparams.Chain,
	network chainparams.Network, block int64) error {

	key := []byte(string(chain) + "/" + string(network))
	err := kvdb.Update(s.db, func(tx kvdb.ReadWriteTx) error {
		cursors := tx.ReadWriteBucket(cursorBucketName)
		if serialized := cursors.Get(key); serialized != nil {
			var existing DetectionCursor
			if err := json.Unmarshal(serialized, &existing); err != nil {
				return err
			}
			if existing.LastProcessedBlock >= block {
				return nil
			}
		}
		cursor := DetectionCursor{
			Chain:              chain,
			Network:            network,
			LastProcessedBlock: block,
			UpdatedAt:          time.Now().UTC(),
		}
		serialized, err := json.Marshal(&cursor)
		if err != nil {
			return err
		}
		return cursors.Put(key, serialized)
	})
	if err != nil {
		return storeError(ErrDatabase, "failed to save detection "+
			"cursor", err)
	}
	return nil
}

// ResetCursors drops every detection cursor, forcing each scanner to start
// over from its lookback window on the next scan.  Deposits themselves are
// untouched; the ledger's idempotency keys absorb the rescan.
func ResetCursors(db kvdb.DB) error {
	err := kvdb.Update(db, func(tx kvdb.ReadWriteTx) error {
		if err := tx.DeleteTopLevelBucket(cursorBucketName); err != nil {
			return err
		}
		_, err := tx.CreateTopLevelBucket(cursorBucketName)
		return err
	})
	if err != nil {
		return storeError(ErrDatabase, "failed to reset detection "+
			"cursors", err)
	}
	return nil
}
