// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainrpc provides the read-only JSON-RPC boundary between the
// custody engine and chain nodes.  It carries no custody state of its own:
// everything here is request/response plumbing, failure classification, and
// client caching.
package chainrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client is a minimal JSON-RPC 2.0 client over HTTP.  It is safe for
// concurrent use.  There is deliberately no cancellation primitive: a call
// either finishes or fails, and callers bound wall-clock cost by bounding
// how much work they request per call.
type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
	nextID     uint64
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sets HTTP basic auth credentials, as bitcoind-style nodes
// require.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTimeout overrides the default per-call HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient returns a JSON-RPC client for the given endpoint URL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call performs one JSON-RPC request and unmarshals the result field into
// result (which may be nil to discard it).  A response error field surfaces
// as an *RPCError; transport failures surface as *NetworkError.
func (c *Client) Call(method string, params []interface{},
	result interface{}) error {

	if params == nil {
		params = []interface{}{}
	}
	reqBody, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %v", method, err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.url,
		bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %v", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer httpResp.Body.Close()

	// bitcoind answers RPC-level errors with non-2xx statuses while
	// still carrying a JSON-RPC envelope, so decode before judging the
	// status code.
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		return &NetworkError{Err: err}
	}

	var resp rpcResponse
	if unmarshalErr := json.Unmarshal(respBody, &resp); unmarshalErr != nil {
		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			return &HTTPError{
				StatusCode: httpResp.StatusCode,
				Status:     httpResp.Status,
			}
		}
		return fmt.Errorf("failed to unmarshal %s response: %v",
			method, unmarshalErr)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &HTTPError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
		}
	}

	if result == nil {
		return nil
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return fmt.Errorf("%s returned no result", method)
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %v", method, err)
	}
	return nil
}
