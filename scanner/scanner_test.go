// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scanner

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcutil"

	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/chainrpc"
	"github.com/hashvault/custody/depositdb"
	"github.com/hashvault/custody/kvdb"
	_ "github.com/hashvault/custody/kvdb/bdb"
	"github.com/hashvault/custody/utxomgr"
)

// testStore opens a fresh bbolt-backed store in a temp directory.
func testStore(t *testing.T) *depositdb.Store {
	t.Helper()
	db, err := kvdb.Create("bdb", filepath.Join(t.TempDir(), "custody.db"))
	if err != nil {
		t.Fatalf("unable to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := depositdb.Open(db)
	if err != nil {
		t.Fatalf("unable to open store: %v", err)
	}
	return store
}

func trackAddress(t *testing.T, store *depositdb.Store,
	params *chainparams.Params, asset, address, userID string) {

	t.Helper()
	err := store.PutDepositAddress(&depositdb.DepositAddress{
		Address:      address,
		Chain:        params.Chain,
		Network:      params.Network,
		Asset:        asset,
		AddressIndex: 0,
		UserID:       userID,
		Active:       true,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("unable to track address: %v", err)
	}
}

// fakeEVMChain is a scripted node for the ETH scanner.
type fakeEVMChain struct {
	tip      int64
	blocks   map[int64]*chainrpc.EVMBlock
	receipts map[string]*chainrpc.EVMReceipt
}

func (f *fakeEVMChain) BlockNumber() (int64, error) {
	return f.tip, nil
}

func (f *fakeEVMChain) BlockByNumber(height int64) (*chainrpc.EVMBlock, error) {
	block, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return block, nil
}

func (f *fakeEVMChain) TransactionReceipt(hash string) (*chainrpc.EVMReceipt, error) {
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("no receipt for %s", hash)
	}
	return receipt, nil
}

func evmTx(hash, to, value string) chainrpc.EVMTransaction {
	return chainrpc.EVMTransaction{Hash: hash, To: &to, Value: value}
}

func TestETHScanLatest(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	params := &chainparams.EthereumMainNetParams
	deposit := "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	trackAddress(t, store, params, "ETH", deposit, "user-1")

	// The tracked address receives exactly 1 ETH at block 100; the
	// payout in block 101 goes elsewhere, and the zero-value call and
	// contract creation in block 100 must both be ignored.  The mixed
	// case on the destination exercises case-insensitive matching.
	other := "0x000000000000000000000000000000000000dead"
	create := chainrpc.EVMTransaction{Hash: "0xcc01", To: nil, Value: "0x1"}
	chain := &fakeEVMChain{
		tip: 105,
		blocks: map[int64]*chainrpc.EVMBlock{
			100: {Transactions: []chainrpc.EVMTransaction{
				evmTx("0xAA01", "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
					"0xde0b6b3a7640000"),
				evmTx("0xaa02", deposit, "0x0"),
				create,
			}},
			101: {Transactions: []chainrpc.EVMTransaction{
				evmTx("0xbb01", other, "0x5"),
			}},
			102: {}, 103: {}, 104: {}, 105: {},
		},
	}

	scanner, err := NewETHScanner(ETHScannerConfig{
		Params:   params,
		Asset:    "ETH",
		Chain:    chain,
		Registry: store,
		Ledger:   store,
		Cursors:  store,
	})
	if err != nil {
		t.Fatalf("unable to create scanner: %v", err)
	}

	// Seed the cursor so the scan covers exactly blocks 100..105.
	if err := store.SetCursor(params.Chain, params.Network, 99); err != nil {
		t.Fatalf("unable to seed cursor: %v", err)
	}

	results, err := scanner.ScanLatest()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d deposits, want 1", len(results))
	}
	got := results[0]
	if got.Amount != "1.000000000000000000" {
		t.Errorf("amount mismatch: got %s", got.Amount)
	}
	if got.TxHash != "0xaa01" {
		t.Errorf("tx hash not lowercased: got %s", got.TxHash)
	}
	if got.Address != deposit || got.UserID != "user-1" {
		t.Errorf("attribution mismatch: got %s/%s", got.Address,
			got.UserID)
	}
	if got.Confirmations != 6 {
		t.Errorf("confirmations mismatch: got %d, want 6",
			got.Confirmations)
	}

	cursor, found, err := store.Cursor(params.Chain, params.Network)
	if err != nil || !found {
		t.Fatalf("cursor missing after scan: %v", err)
	}
	if cursor != 105 {
		t.Errorf("cursor mismatch: got %d, want 105", cursor)
	}

	stored, err := store.GetDeposit("0xaa01", 0)
	if err != nil {
		t.Fatalf("deposit not persisted: %v", err)
	}
	if stored.Status != depositdb.StatusPending {
		t.Errorf("status mismatch: got %v", stored.Status)
	}

	// A rescan of the same range must not duplicate the deposit.
	rerun, err := scanner.ScanBlockRange(100, 105)
	if err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	for i := range rerun {
		if err := scanner.RecordDeposit(&rerun[i]); err != nil {
			t.Fatalf("re-record failed: %v", err)
		}
	}
	pending, err := store.PendingDeposits(params.Chain, params.Network)
	if err != nil {
		t.Fatalf("unable to list deposits: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("duplicate deposit after rescan: got %d rows",
			len(pending))
	}
}

func TestETHConfirmationTracking(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	params := &chainparams.EthereumMainNetParams
	deposit := "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	trackAddress(t, store, params, "ETH", deposit, "user-1")

	chain := &fakeEVMChain{
		tip: 100,
		blocks: map[int64]*chainrpc.EVMBlock{
			100: {Transactions: []chainrpc.EVMTransaction{
				evmTx("0xaa01", deposit, "0x2"),
				evmTx("0xaa02", deposit, "0x3"),
			}},
		},
		receipts: map[string]*chainrpc.EVMReceipt{
			"0xaa01": {BlockNumber: "0x64", Status: "0x1"},
			"0xaa02": {BlockNumber: "0x64", Status: "0x0"},
		},
	}

	scanner, err := NewETHScanner(ETHScannerConfig{
		Params:   params,
		Asset:    "ETH",
		Chain:    chain,
		Registry: store,
		Ledger:   store,
		Cursors:  store,
	})
	if err != nil {
		t.Fatalf("unable to create scanner: %v", err)
	}
	results, err := scanner.ScanBlockRange(100, 100)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	for i := range results {
		if err := scanner.RecordDeposit(&results[i]); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	// Five blocks later the healthy deposit is still confirming.
	if err := scanner.UpdateConfirmations(104); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	dep, err := store.GetDeposit("0xaa01", 0)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != depositdb.StatusConfirming {
		t.Errorf("status at 5 confs: got %v, want confirming",
			dep.Status)
	}
	if dep.ConfirmationsObserved != 5 {
		t.Errorf("observed mismatch: got %d, want 5",
			dep.ConfirmationsObserved)
	}

	// The reverted deposit is failed regardless of depth.
	failed, err := store.GetDeposit("0xaa02", 0)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != depositdb.StatusFailed {
		t.Errorf("reverted deposit status: got %v, want failed",
			failed.Status)
	}

	// At the required depth the deposit confirms.
	if err := scanner.UpdateConfirmations(111); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	dep, err = store.GetDeposit("0xaa01", 0)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != depositdb.StatusConfirmed {
		t.Errorf("status at 12 confs: got %v, want confirmed",
			dep.Status)
	}
	if dep.ConfirmationsObserved != 12 {
		t.Errorf("observed mismatch: got %d, want 12",
			dep.ConfirmationsObserved)
	}
}

// fakeUTXOChain is a scripted node for the BTC scanner.
type fakeUTXOChain struct {
	tip    int64
	hashes map[int64]string
	blocks map[string]*btcjson.GetBlockVerboseResult
	txs    map[string]*btcjson.TxRawResult
}

func (f *fakeUTXOChain) GetBlockCount() (int64, error) {
	return f.tip, nil
}

func (f *fakeUTXOChain) GetBlockHash(height int64) (string, error) {
	hash, ok := f.hashes[height]
	if !ok {
		return "", fmt.Errorf("no block at height %d", height)
	}
	return hash, nil
}

func (f *fakeUTXOChain) GetBlock(hash string) (*btcjson.GetBlockVerboseResult, error) {
	block, ok := f.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", hash)
	}
	return block, nil
}

func (f *fakeUTXOChain) GetRawTransaction(txid string) (*btcjson.TxRawResult, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, fmt.Errorf("unknown tx %s", txid)
	}
	return tx, nil
}

func btcPaymentTx(txid string, outputs map[uint32]struct {
	addr  string
	value float64
}) *btcjson.TxRawResult {

	tx := &btcjson.TxRawResult{Txid: txid}
	for n, out := range outputs {
		tx.Vout = append(tx.Vout, btcjson.Vout{
			N:     n,
			Value: out.value,
			ScriptPubKey: btcjson.ScriptPubKeyResult{
				Addresses: []string{out.addr},
			},
		})
	}
	return tx
}

func TestBTCScanWithholdsImmature(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	params := &chainparams.BitcoinMainNetParams
	deposit := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	trackAddress(t, store, params, "BTC", deposit, "user-7")

	payment := btcPaymentTx("F00D00000000000000000000000000000000000000000000000000000000BEEF",
		map[uint32]struct {
			addr  string
			value float64
		}{
			0: {addr: deposit, value: 0.5},
			1: {addr: "1PMycacnJaSqwwJqjawXBErnLsZ7RkXUAs", value: 0.1},
		})

	chain := &fakeUTXOChain{
		tip:    102,
		hashes: map[int64]string{100: "h100", 101: "h101", 102: "h102"},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h100": {Tx: []string{payment.Txid}},
			"h101": {},
			"h102": {},
		},
		txs: map[string]*btcjson.TxRawResult{payment.Txid: payment},
	}

	utxos := utxomgr.NewStore()
	scanner, err := NewBTCScanner(BTCScannerConfig{
		Params:   params,
		Asset:    "BTC",
		Chain:    chain,
		Registry: store,
		Ledger:   store,
		Cursors:  store,
		UTXOs:    utxos,
	})
	if err != nil {
		t.Fatalf("unable to create scanner: %v", err)
	}

	if err := store.SetCursor(params.Chain, params.Network, 99); err != nil {
		t.Fatalf("unable to seed cursor: %v", err)
	}

	// At tip 102 the deposit block has 3 confirmations, below the
	// threshold of 6: nothing is emitted and the cursor must not move
	// past the unreported block.
	results, err := scanner.ScanLatest()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("immature deposit emitted: got %d results",
			len(results))
	}
	cursor, _, err := store.Cursor(params.Chain, params.Network)
	if err != nil {
		t.Fatal(err)
	}
	if cursor >= 100 {
		t.Fatalf("cursor advanced past unreported block: %d", cursor)
	}

	// Five blocks later the deposit has matured.  Exactly one deposit
	// comes out, lowercased, with a UTXO entered alongside.
	chain.tip = 105
	for h := 103; h <= 105; h++ {
		hash := fmt.Sprintf("h%d", h)
		chain.hashes[int64(h)] = hash
		chain.blocks[hash] = &btcjson.GetBlockVerboseResult{}
	}
	results, err = scanner.ScanLatest()
	if err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d deposits, want 1", len(results))
	}
	got := results[0]
	if got.Amount != "0.50000000" {
		t.Errorf("amount mismatch: got %s", got.Amount)
	}
	if got.Vout != 0 {
		t.Errorf("vout mismatch: got %d", got.Vout)
	}
	wantHash := "f00d00000000000000000000000000000000000000000000000000000000beef"
	if got.TxHash != wantHash {
		t.Errorf("tx hash not lowercased: got %s", got.TxHash)
	}

	stored, err := store.GetDeposit(wantHash, 0)
	if err != nil {
		t.Fatalf("deposit not persisted: %v", err)
	}
	if stored.Status != depositdb.StatusConfirmed {
		t.Errorf("matured deposit status: got %v, want confirmed",
			stored.Status)
	}

	if balance := utxos.Balance(deposit); balance != 50000000 {
		t.Errorf("utxo balance mismatch: got %d, want 50000000",
			balance)
	}
	outputs := utxos.UnspentOutputs(deposit)
	if len(outputs) != 1 {
		t.Fatalf("unspent outputs: got %d, want 1", len(outputs))
	}
	if outputs[0].TxID != wantHash || outputs[0].Vout != 0 {
		t.Errorf("mirrored utxo outpoint: got %s:%d, want %s:0",
			outputs[0].TxID, outputs[0].Vout, wantHash)
	}

	cursor, _, err = store.Cursor(params.Chain, params.Network)
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 100 {
		t.Errorf("cursor mismatch: got %d, want 100", cursor)
	}
}

func TestBTCScanEmptyRegistry(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	params := &chainparams.BitcoinMainNetParams
	chain := &fakeUTXOChain{tip: 50}

	scanner, err := NewBTCScanner(BTCScannerConfig{
		Params:   params,
		Asset:    "BTC",
		Chain:    chain,
		Registry: store,
		Ledger:   store,
		Cursors:  store,
	})
	if err != nil {
		t.Fatalf("unable to create scanner: %v", err)
	}

	// No tracked addresses: the scan short-circuits without touching a
	// single block, which the empty block maps would otherwise catch.
	results, err := scanner.ScanBlockRange(1, 50)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d deposits from empty registry", len(results))
	}
}

func TestWeiToDecimal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hexWei  string
		want    string
		wantErr bool
	}{
		{hexWei: "0xde0b6b3a7640000", want: "1.000000000000000000"},
		{hexWei: "0x0", want: "0.000000000000000000"},
		{hexWei: "0x1", want: "0.000000000000000001"},
		{hexWei: "0x1bc16d674ec80001", want: "2.000000000000000001"},
		{hexWei: "0x6f05b59d3b20000", want: "0.500000000000000000"},
		{hexWei: "0x", wantErr: true},
		{hexWei: "0xzz", wantErr: true},
	}
	for _, test := range tests {
		got, err := WeiToDecimal(test.hexWei)
		if test.wantErr {
			if err == nil {
				t.Errorf("WeiToDecimal(%q): expected error",
					test.hexWei)
			}
			continue
		}
		if err != nil {
			t.Errorf("WeiToDecimal(%q): %v", test.hexWei, err)
			continue
		}
		if got != test.want {
			t.Errorf("WeiToDecimal(%q) = %q, want %q",
				test.hexWei, got, test.want)
		}
	}
}

func TestSatoshisToDecimal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sats int64
		want string
	}{
		{sats: 100000000, want: "1.00000000"},
		{sats: 1, want: "0.00000001"},
		{sats: 150000000, want: "1.50000000"},
		{sats: 0, want: "0.00000000"},
	}
	for _, test := range tests {
		got := SatoshisToDecimal(btcutil.Amount(test.sats))
		if got != test.want {
			t.Errorf("SatoshisToDecimal(%d) = %q, want %q",
				test.sats, got, test.want)
		}
		back, err := amountFromDecimal(got)
		if err != nil {
			t.Errorf("amountFromDecimal(%q): %v", got, err)
			continue
		}
		if int64(back) != test.sats {
			t.Errorf("amountFromDecimal(%q) = %d, want %d",
				got, back, test.sats)
		}
	}
}
