// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"github.com/btcsuite/btcd/btcjson"

	"github.com/hashvault/custody/chainparams"
)

// BTCClient wraps the generic JSON-RPC client with the bitcoind methods the
// UTXO-chain scanner uses.  Responses decode into the btcjson result types
// so downstream code speaks the same dialect as the rest of the btcsuite
// stack.
type BTCClient struct {
	rpc     *Client
	retry   Policy
	network chainparams.Network
}

// NewBTCClient returns a bitcoind-style client for the endpoint.
// bitcoind requires basic auth, supplied via WithBasicAuth.
func NewBTCClient(url string, network chainparams.Network,
	retry Policy, opts ...Option) *BTCClient {

	return &BTCClient{
		rpc:     NewClient(url, opts...),
		retry:   retry,
		network: network,
	}
}

// GetBlockCount returns the chain tip height.
func (c *BTCClient) GetBlockCount() (int64, error) {
	var height int64
	err := c.retry.Do(func() error {
		return c.rpc.Call("getblockcount", nil, &height)
	})
	return height, err
}

// GetBlockHash returns the hash of the block at the given height.
func (c *BTCClient) GetBlockHash(height int64) (string, error) {
	var hash string
	err := c.retry.Do(func() error {
		return c.rpc.Call("getblockhash", []interface{}{height}, &hash)
	})
	return hash, err
}

// GetBlock returns the verbose block for the given hash, with transaction
// ids but not full transactions.
func (c *BTCClient) GetBlock(hash string) (*btcjson.GetBlockVerboseResult, error) {
	var block btcjson.GetBlockVerboseResult
	err := c.retry.Do(func() error {
		return c.rpc.Call("getblock", []interface{}{hash, 1}, &block)
	})
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetRawTransaction returns the decoded transaction for the given txid,
// including its confirmation count relative to the node's tip.
func (c *BTCClient) GetRawTransaction(txid string) (*btcjson.TxRawResult, error) {
	var tx btcjson.TxRawResult
	err := c.retry.Do(func() error {
		return c.rpc.Call("getrawtransaction", []interface{}{txid, 1}, &tx)
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Health reports connectivity and the latest block for monitoring.
func (c *BTCClient) Health() *Health {
	height, err := c.GetBlockCount()
	if err != nil {
		return &Health{Connected: false, Network: string(c.network)}
	}
	return &Health{
		Connected:   true,
		LatestBlock: height,
		Network:     string(c.network),
	}
}

// Close releases client resources.
func (c *BTCClient) Close() {
	c.rpc.httpClient.CloseIdleConnections()
}
