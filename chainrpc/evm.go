// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/hashvault/custody/chainparams"
)

// EVMTransaction is the subset of an Ethereum-family transaction the
// deposit scanner consumes.  Quantities stay hex-encoded exactly as the
// node returned them; ParseHexBig converts without ever touching floating
// point.
type EVMTransaction struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Value       string  `json:"value"`
	BlockNumber string  `json:"blockNumber"`
}

// EVMBlock is a block with full transaction objects.
type EVMBlock struct {
	Number       string           `json:"number"`
	Hash         string           `json:"hash"`
	Timestamp    string           `json:"timestamp"`
	Transactions []EVMTransaction `json:"transactions"`
}

// EVMReceipt is the subset of a transaction receipt used for confirmation
// tracking.
type EVMReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

// EVMClient wraps the generic JSON-RPC client with the eth_* methods the
// scanners use.  Transient failures are retried per the policy.
type EVMClient struct {
	rpc     *Client
	retry   Policy
	network chainparams.Network
}

// NewEVMClient returns an EVM client for the endpoint.
func NewEVMClient(url string, network chainparams.Network,
	retry Policy, opts ...Option) *EVMClient {

	return &EVMClient{
		rpc:     NewClient(url, opts...),
		retry:   retry,
		network: network,
	}
}

// BlockNumber returns the chain tip height via eth_blockNumber.
func (c *EVMClient) BlockNumber() (int64, error) {
	var hexHeight string
	err := c.retry.Do(func() error {
		return c.rpc.Call("eth_blockNumber", nil, &hexHeight)
	})
	if err != nil {
		return 0, err
	}
	return ParseHexInt64(hexHeight)
}

// BlockByNumber returns the block at the given height with full
// transaction objects, via eth_getBlockByNumber.
func (c *EVMClient) BlockByNumber(height int64) (*EVMBlock, error) {
	var block EVMBlock
	err := c.retry.Do(func() error {
		return c.rpc.Call("eth_getBlockByNumber",
			[]interface{}{FormatHexInt64(height), true}, &block)
	})
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// TransactionByHash returns the transaction via eth_getTransactionByHash.
func (c *EVMClient) TransactionByHash(hash string) (*EVMTransaction, error) {
	var tx EVMTransaction
	err := c.retry.Do(func() error {
		return c.rpc.Call("eth_getTransactionByHash",
			[]interface{}{hash}, &tx)
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransactionReceipt returns the receipt via eth_getTransactionReceipt.
func (c *EVMClient) TransactionReceipt(hash string) (*EVMReceipt, error) {
	var receipt EVMReceipt
	err := c.retry.Do(func() error {
		return c.rpc.Call("eth_getTransactionReceipt",
			[]interface{}{hash}, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Health reports connectivity and the latest block for monitoring.
func (c *EVMClient) Health() *Health {
	height, err := c.BlockNumber()
	if err != nil {
		return &Health{Connected: false, Network: string(c.network)}
	}
	return &Health{
		Connected:   true,
		LatestBlock: height,
		Network:     string(c.network),
	}
}

// Close releases client resources.  The HTTP transport holds no
// connections worth draining beyond its idle pool.
func (c *EVMClient) Close() {
	c.rpc.httpClient.CloseIdleConnections()
}

// ParseHexInt64 parses a 0x-prefixed hex quantity into an int64.
func ParseHexInt64(s string) (int64, error) {
	n, err := ParseHexBig(s)
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("hex quantity %q overflows int64", s)
	}
	return n.Int64(), nil
}

// ParseHexBig parses a 0x-prefixed hex quantity into a big integer using
// integer arithmetic only.
func ParseHexBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty hex quantity %q", s)
	}
	n, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex quantity %q", s)
	}
	return n, nil
}

// FormatHexInt64 renders a height as the 0x-prefixed form the eth_ methods
// expect.
func FormatHexInt64(n int64) string {
	return fmt.Sprintf("0x%x", n)
}
