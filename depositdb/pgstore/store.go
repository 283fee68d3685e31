// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pgstore implements the depositdb contracts on PostgreSQL via
// pgx.  It is the multi-instance deployment counterpart to the embedded
// bbolt store; both enforce the same keys, the database does the
// idempotency work here through unique constraints and ON CONFLICT.
package pgstore

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/depositdb"
)

// Schema is the DDL for the store's tables.  It is idempotent and run by
// Open on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS deposit_addresses (
	id              TEXT PRIMARY KEY,
	address         TEXT NOT NULL,
	chain           TEXT NOT NULL,
	network         TEXT NOT NULL,
	asset           TEXT NOT NULL,
	derivation_path TEXT NOT NULL,
	address_index   BIGINT NOT NULL,
	user_id         TEXT NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (chain, network, address),
	UNIQUE (chain, network, address_index)
);

CREATE TABLE IF NOT EXISTS deposits (
	id                       TEXT PRIMARY KEY,
	user_id                  TEXT NOT NULL,
	deposit_address_id       TEXT NOT NULL,
	address                  TEXT NOT NULL,
	chain                    TEXT NOT NULL,
	network                  TEXT NOT NULL,
	asset                    TEXT NOT NULL,
	amount                   TEXT NOT NULL,
	tx_hash                  TEXT NOT NULL,
	vout                     BIGINT NOT NULL,
	block_number             BIGINT NOT NULL,
	confirmations_observed   BIGINT NOT NULL,
	confirmations_required   BIGINT NOT NULL,
	status                   TEXT NOT NULL,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tx_hash, vout)
);

CREATE INDEX IF NOT EXISTS deposits_pending_idx
	ON deposits (chain, network) WHERE status IN ('pending', 'confirming');

CREATE TABLE IF NOT EXISTS detection_cursors (
	chain                TEXT NOT NULL,
	network              TEXT NOT NULL,
	last_processed_block BIGINT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain, network)
);
`

// queryTimeout bounds every statement the store issues.
const queryTimeout = 10 * time.Second

// Store implements the depositdb contracts over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time contract checks.
var _ depositdb.AddressRegistry = (*Store)(nil)
var _ depositdb.DepositLedger = (*Store)(nil)
var _ depositdb.CursorStore = (*Store)(nil)

// Open connects to the database, applies the schema, and returns the
// store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storeError("failed to create connection pool", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, storeError("failed to apply schema", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), queryTimeout)
}

func storeError(desc string, err error) error {
	return depositdb.Error{
		ErrorCode:   depositdb.ErrDatabase,
		Description: desc,
		Err:         err,
	}
}

func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

func normalizeAddress(chain chainparams.Chain, address string) string {
	if chain == chainparams.ChainEthereum {
		return strings.ToLower(address)
	}
	return address
}

// PutDepositAddress stores a newly allocated deposit address.  Both the
// address string and the (chain, network, addressIndex) triple must be
// unused; a unique violation surfaces as ErrAlreadyExists.
func (s *Store) PutDepositAddress(addr *depositdb.DepositAddress) error {
	if addr.Address == "" {
		return depositdb.Error{
			ErrorCode:   depositdb.ErrInput,
			Description: "deposit address requires an address string",
		}
	}

	ctx, cancel := s.ctx()
	defer cancel()

	createdAt := addr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deposit_addresses
			(id, address, chain, network, asset, derivation_path,
			 address_index, user_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`,
		newID(), normalizeAddress(addr.Chain, addr.Address),
		string(addr.Chain), string(addr.Network), addr.Asset,
		addr.DerivationPath, int64(addr.AddressIndex), addr.UserID,
		addr.Active, createdAt)
	if err != nil {
		return storeError("failed to insert deposit address", err)
	}
	if tag.RowsAffected() == 0 {
		return depositdb.Error{
			ErrorCode:   depositdb.ErrAlreadyExists,
			Description: "deposit address or index already allocated",
		}
	}
	return nil
}

// DeactivateDepositAddress marks the address at the given index inactive
// so scanners stop matching on it.  The row itself is retained.
func (s *Store) DeactivateDepositAddress(chain chainparams.Chain,
	network chainparams.Network, addressIndex uint32) error {

	ctx, cancel := s.ctx()
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE deposit_addresses SET active = FALSE
		WHERE chain = $1 AND network = $2 AND address_index = $3`,
		string(chain), string(network), int64(addressIndex))
	if err != nil {
		return storeError("failed to deactivate deposit address", err)
	}
	if tag.RowsAffected() == 0 {
		return depositdb.Error{
			ErrorCode:   depositdb.ErrNoExist,
			Description: "no such deposit address",
		}
	}
	return nil
}

// ActiveDepositAddresses returns every active address for the triple.  An
// empty asset matches all assets.
func (s *Store) ActiveDepositAddresses(chain chainparams.Chain,
	network chainparams.Network, asset string) ([]depositdb.TrackedAddress, error) {

	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT address, user_id, id FROM deposit_addresses
		WHERE chain = $1 AND network = $2 AND active
		  AND ($3 = '' OR asset = $3)
		ORDER BY address_index`,
		string(chain), string(network), asset)
	if err != nil {
		return nil, storeError("failed to query deposit addresses", err)
	}
	defer rows.Close()

	var tracked []depositdb.TrackedAddress
	for rows.Next() {
		var row depositdb.TrackedAddress
		if err := rows.Scan(&row.Address, &row.UserID,
			&row.AddressID); err != nil {
			return nil, storeError("failed to scan deposit "+
				"address row", err)
		}
		tracked = append(tracked, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to iterate deposit "+
			"addresses", err)
	}
	return tracked, nil
}

// RecordDeposit inserts the deposit unless its (txHash, vout) key already
// exists.  The unique constraint plus ON CONFLICT DO NOTHING makes this
// safe under concurrent scanners.
func (s *Store) RecordDeposit(deposit *depositdb.Deposit) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	status := deposit.Status
	if status == "" {
		status = depositdb.StatusPending
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deposits
			(id, user_id, deposit_address_id, address, chain,
			 network, asset, amount, tx_hash, vout, block_number,
			 confirmations_observed, confirmations_required,
			 status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $15)
		ON CONFLICT (tx_hash, vout) DO NOTHING`,
		newID(), deposit.UserID, deposit.AddressID, deposit.Address,
		string(deposit.Chain), string(deposit.Network), deposit.Asset,
		deposit.Amount, strings.ToLower(deposit.TxHash),
		int64(deposit.Vout), deposit.BlockNumber,
		deposit.ConfirmationsObserved, deposit.ConfirmationsRequired,
		string(status), now)
	if err != nil {
		return false, storeError("failed to insert deposit", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetDeposit returns the deposit keyed by (txHash, vout).
func (s *Store) GetDeposit(txHash string, vout uint32) (*depositdb.Deposit, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT user_id, deposit_address_id, address, chain, network,
		       asset, amount, tx_hash, vout, block_number,
		       confirmations_observed, confirmations_required, status,
		       created_at, updated_at
		FROM deposits WHERE tx_hash = $1 AND vout = $2`,
		strings.ToLower(txHash), int64(vout))
	deposit, err := scanDeposit(row)
	if err == pgx.ErrNoRows {
		return nil, depositdb.Error{
			ErrorCode:   depositdb.ErrNoExist,
			Description: "no such deposit",
		}
	}
	if err != nil {
		return nil, storeError("failed to query deposit", err)
	}
	return deposit, nil
}

// PendingDeposits returns deposits in the pending or confirming state.
func (s *Store) PendingDeposits(chain chainparams.Chain,
	network chainparams.Network) ([]*depositdb.Deposit, error) {

	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, deposit_address_id, address, chain, network,
		       asset, amount, tx_hash, vout, block_number,
		       confirmations_observed, confirmations_required, status,
		       created_at, updated_at
		FROM deposits
		WHERE chain = $1 AND network = $2
		  AND status IN ('pending', 'confirming')
		ORDER BY block_number`,
		string(chain), string(network))
	if err != nil {
		return nil, storeError("failed to query pending deposits", err)
	}
	defer rows.Close()

	var deposits []*depositdb.Deposit
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, storeError("failed to scan deposit row", err)
		}
		deposits = append(deposits, deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to iterate deposits", err)
	}
	return deposits, nil
}

// UpdateDepositConfirmations advances the observed count and status of the
// deposit keyed by (txHash, vout).  The observed count never regresses and
// terminal states never leave; both rules live in the WHERE clause so a
// stale update degrades to a no-op rather than a lost write.
func (s *Store) UpdateDepositConfirmations(txHash string, vout uint32,
	observed int64, status depositdb.DepositStatus) error {

	ctx, cancel := s.ctx()
	defer cancel()

	normalized := strings.ToLower(txHash)
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits SET
			confirmations_observed = GREATEST(confirmations_observed, $3),
			status = $4,
			updated_at = now()
		WHERE tx_hash = $1 AND vout = $2
		  AND (status = $4
		       OR (status = 'pending' AND $4 IN ('confirming', 'confirmed', 'failed'))
		       OR (status = 'confirming' AND $4 IN ('confirmed', 'failed')))`,
		normalized, int64(vout), observed, string(status))
	if err != nil {
		return storeError("failed to update deposit", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing row from an illegal transition.
	var existing string
	err = s.pool.QueryRow(ctx, `
		SELECT status FROM deposits WHERE tx_hash = $1 AND vout = $2`,
		normalized, int64(vout)).Scan(&existing)
	if err == pgx.ErrNoRows {
		return depositdb.Error{
			ErrorCode:   depositdb.ErrNoExist,
			Description: "no such deposit",
		}
	}
	if err != nil {
		return storeError("failed to query deposit status", err)
	}
	return depositdb.Error{
		ErrorCode: depositdb.ErrInvalidTransition,
		Description: "illegal status transition from " + existing +
			" to " + string(status),
	}
}

// Cursor returns the last processed block for the pair and whether a
// cursor has ever been saved.
func (s *Store) Cursor(chain chainparams.Chain,
	network chainparams.Network) (int64, bool, error) {

	ctx, cancel := s.ctx()
	defer cancel()

	var block int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_processed_block FROM detection_cursors
		WHERE chain = $1 AND network = $2`,
		string(chain), string(network)).Scan(&block)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeError("failed to query cursor", err)
	}
	return block, true, nil
}

// SetCursor advances the cursor.  A regression is silently dropped; the
// GREATEST in the upsert keeps the cursor monotonic even when two scanner
// instances race.
func (s *Store) SetCursor(chain chainparams.Chain,
	network chainparams.Network, block int64) error {

	ctx, cancel := s.ctx()
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO detection_cursors
			(chain, network, last_processed_block, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain, network) DO UPDATE SET
			last_processed_block =
				GREATEST(detection_cursors.last_processed_block,
					EXCLUDED.last_processed_block),
			updated_at = now()`,
		string(chain), string(network), block)
	if err != nil {
		return storeError("failed to set cursor", err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*depositdb.Deposit, error) {
	var (
		deposit depositdb.Deposit
		chain   string
		network string
		status  string
		vout    int64
	)
	err := row.Scan(&deposit.UserID, &deposit.AddressID, &deposit.Address,
		&chain, &network, &deposit.Asset, &deposit.Amount,
		&deposit.TxHash, &vout, &deposit.BlockNumber,
		&deposit.ConfirmationsObserved, &deposit.ConfirmationsRequired,
		&status, &deposit.CreatedAt, &deposit.UpdatedAt)
	if err != nil {
		return nil, err
	}
	deposit.Chain = chainparams.Chain(chain)
	deposit.Network = chainparams.Network(network)
	deposit.Status = depositdb.DepositStatus(status)
	deposit.Vout = uint32(vout)
	return &deposit, nil
}
