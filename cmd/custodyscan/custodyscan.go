// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashvault/custody/chainparams"
	"github.com/hashvault/custody/chainrpc"
	"github.com/hashvault/custody/depositdb"
	"github.com/hashvault/custody/depositdb/pgstore"
	"github.com/hashvault/custody/kvdb"
	_ "github.com/hashvault/custody/kvdb/bdb"
	"github.com/hashvault/custody/scanner"
	"github.com/hashvault/custody/utxomgr"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := scanMain(); err != nil {
		os.Exit(1)
	}
}

// stores bundles the three persistence contracts the scanners need,
// regardless of which backend provides them.
type stores struct {
	registry depositdb.AddressRegistry
	ledger   depositdb.DepositLedger
	cursors  depositdb.CursorStore
}

// chainScanner is one configured chain with its tip source for
// confirmation updates.
type chainScanner struct {
	name string
	scan scanner.Scanner
	tip  func() (int64, error)
}

// scanMain is the real main function for custodyscan.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit is
// called.
func scanMain() error {
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s", version())

	st, cleanup, err := openStores()
	if err != nil {
		log.Errorf("Unable to open deposit store: %v", err)
		return err
	}
	defer cleanup()

	registry := chainrpc.NewRegistry(clientFactory)
	defer registry.Close()

	scanners, err := buildScanners(st, registry)
	if err != nil {
		log.Errorf("Unable to configure scanners: %v", err)
		return err
	}

	shutdown := make(chan struct{})
	addInterruptHandler(func() {
		close(shutdown)
	})

	log.Infof("Custody scanner started with %d chain(s), polling every %v",
		len(scanners), cfg.PollInterval)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		runScanCycle(scanners)

		select {
		case <-shutdown:
			log.Info("Custody scanner shutdown complete")
			return nil
		case <-ticker.C:
		}
	}
}

// openStores opens the configured persistence backend: PostgreSQL when a
// DSN is set, the embedded database under appdata otherwise.
func openStores() (*stores, func(), error) {
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.Open(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using PostgreSQL deposit store")
		st := &stores{registry: pg, ledger: pg, cursors: pg}
		return st, pg.Close, nil
	}

	dbDir := cleanAndExpandPath(cfg.AppDataDir.Value)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return nil, nil, err
	}
	dbPath := filepath.Join(dbDir, custodyDbName)
	db, err := kvdb.Open("bdb", dbPath)
	if err == kvdb.ErrDbDoesNotExist {
		db, err = kvdb.Create("bdb", dbPath)
	}
	if err != nil {
		return nil, nil, err
	}
	store, err := depositdb.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Infof("Using embedded deposit store %s", dbPath)
	st := &stores{registry: store, ledger: store, cursors: store}
	return st, func() { db.Close() }, nil
}

// clientFactory constructs a chain client from the configured endpoints.
func clientFactory(params *chainparams.Params) (chainrpc.Conn, error) {
	switch params.Chain {
	case chainparams.ChainBitcoin:
		if cfg.BTCConnect == "" {
			break
		}
		return chainrpc.NewBTCClient("http://"+cfg.BTCConnect,
			params.Network, chainrpc.DefaultPolicy,
			chainrpc.WithBasicAuth(cfg.BTCUsername,
				cfg.BTCPassword)), nil

	case chainparams.ChainEthereum:
		if cfg.ETHConnect == "" {
			break
		}
		return chainrpc.NewEVMClient(cfg.ETHConnect, params.Network,
			chainrpc.DefaultPolicy), nil
	}
	return nil, fmt.Errorf("no endpoint configured for chain %s",
		params.Chain)
}

// buildScanners constructs one scanner per configured chain endpoint.
func buildScanners(st *stores, registry *chainrpc.Registry) ([]chainScanner, error) {
	btcParams := &chainparams.BitcoinMainNetParams
	ethParams := &chainparams.EthereumMainNetParams
	if cfg.TestNet {
		btcParams = &chainparams.BitcoinTestNet3Params
		ethParams = &chainparams.EthereumSepoliaParams
	}

	var scanners []chainScanner
	if cfg.BTCConnect != "" {
		conn, err := registry.Conn(btcParams.Chain, btcParams.Network)
		if err != nil {
			return nil, err
		}
		client := conn.(*chainrpc.BTCClient)
		btcScanner, err := scanner.NewBTCScanner(scanner.BTCScannerConfig{
			Params:           btcParams,
			Asset:            "BTC",
			Chain:            client,
			Registry:         st.registry,
			Ledger:           st.ledger,
			Cursors:          st.cursors,
			UTXOs:            utxomgr.NewStore(),
			MaxBlocksPerScan: cfg.MaxBlocksPerScan,
			MinDeposit:       cfg.MinDeposit.Amount,
		})
		if err != nil {
			return nil, err
		}
		scanners = append(scanners, chainScanner{
			name: btcParams.Name,
			scan: btcScanner,
			tip:  client.GetBlockCount,
		})
	}
	if cfg.ETHConnect != "" {
		conn, err := registry.Conn(ethParams.Chain, ethParams.Network)
		if err != nil {
			return nil, err
		}
		client := conn.(*chainrpc.EVMClient)
		ethScanner, err := scanner.NewETHScanner(scanner.ETHScannerConfig{
			Params:           ethParams,
			Asset:            "ETH",
			Chain:            client,
			Registry:         st.registry,
			Ledger:           st.ledger,
			Cursors:          st.cursors,
			MaxBlocksPerScan: cfg.MaxBlocksPerScan,
		})
		if err != nil {
			return nil, err
		}
		scanners = append(scanners, chainScanner{
			name: ethParams.Name,
			scan: ethScanner,
			tip:  client.BlockNumber,
		})
	}
	return scanners, nil
}

// runScanCycle performs one detection plus confirmation pass over every
// configured chain.  A failure on one chain never blocks the others.
func runScanCycle(scanners []chainScanner) {
	for _, cs := range scanners {
		results, err := cs.scan.ScanLatest()
		if err != nil {
			log.Errorf("Scan failed for %s: %v", cs.name, err)
			continue
		}
		if len(results) > 0 {
			log.Infof("Detected %d new deposit(s) on %s",
				len(results), cs.name)
		}

		tip, err := cs.tip()
		if err != nil {
			log.Errorf("Unable to fetch %s tip for confirmation "+
				"update: %v", cs.name, err)
			continue
		}
		if err := cs.scan.UpdateConfirmations(tip); err != nil {
			log.Errorf("Confirmation update failed for %s: %v",
				cs.name, err)
		}
	}
}
