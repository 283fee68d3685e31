// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashvault/custody/chainparams"
)

// rpcHandler builds an httptest handler that answers every JSON-RPC call
// with the given result or error.
func rpcHandler(result interface{}, rpcErr *RPCError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// TestCallResultAndError covers result decoding and the error envelope.
func TestCallResultAndError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(rpcHandler("0x10", nil))
	defer srv.Close()

	client := NewClient(srv.URL)
	var result string
	if err := client.Call("eth_blockNumber", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "0x10" {
		t.Fatalf("result %q, want 0x10", result)
	}

	errSrv := httptest.NewServer(rpcHandler(nil, &RPCError{
		Code:    -32000,
		Message: "header not found",
	}))
	defer errSrv.Close()

	errClient := NewClient(errSrv.URL)
	err := errClient.Call("eth_getBlockByNumber", nil, &result)
	if err == nil {
		t.Fatal("Call with error envelope succeeded")
	}
	if err.Error() != "RPC Error: header not found" {
		t.Fatalf("error %q lacks the RPC Error prefix", err.Error())
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
		t.Fatalf("error %v did not surface as *RPCError", err)
	}
}

// TestCallNetworkFailure ensures transport faults classify as network
// errors.
func TestCallNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(rpcHandler("0x1", nil))
	srv.Close() // refuse all connections

	client := NewClient(srv.URL)
	err := client.Call("getblockcount", nil, nil)
	if err == nil {
		t.Fatal("Call against closed server succeeded")
	}
	if kind := Classify(err); kind != KindNetwork {
		t.Fatalf("classified %v, want %v", kind, KindNetwork)
	}
}

// TestClassify covers the failure taxonomy.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"network wrap", &NetworkError{Err: errors.New("refused")}, KindNetwork},
		{"http 429", &HTTPError{StatusCode: 429, Status: "429"}, KindRateLimit},
		{"http 401", &HTTPError{StatusCode: 401, Status: "401"}, KindAuth},
		{"http 403", &HTTPError{StatusCode: 403, Status: "403"}, KindAuth},
		{"http 500", &HTTPError{StatusCode: 500, Status: "500"}, KindNetwork},
		{"http 404", &HTTPError{StatusCode: 404, Status: "404"}, KindPermanent},
		{"rpc rate limit", &RPCError{Code: -32005}, KindRateLimit},
		{"rpc bad params", &RPCError{Code: -32602}, KindValidation},
		{"rpc unknown method", &RPCError{Code: -32601}, KindValidation},
		{"rpc execution", &RPCError{Code: 3}, KindPermanent},
		{"plain error", errors.New("boom"), KindPermanent},
	}

	for _, test := range tests {
		if got := Classify(test.err); got != test.want {
			t.Errorf("%s: classified %v, want %v", test.name, got,
				test.want)
		}
	}
}

// TestRetryPolicy ensures only transient kinds are retried and the attempt
// budget is honored.
func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond,
		MaxDelay: 2 * time.Millisecond}

	var transientCalls int32
	err := policy.Do(func() error {
		if atomic.AddInt32(&transientCalls, 1) < 3 {
			return &NetworkError{Err: errors.New("reset")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transient failure not retried to success: %v", err)
	}
	if transientCalls != 3 {
		t.Fatalf("%d attempts, want 3", transientCalls)
	}

	var permanentCalls int32
	err = policy.Do(func() error {
		atomic.AddInt32(&permanentCalls, 1)
		return &RPCError{Code: -32602, Message: "invalid params"}
	})
	if err == nil {
		t.Fatal("permanent failure retried to success")
	}
	if permanentCalls != 1 {
		t.Fatalf("permanent failure attempted %d times, want 1",
			permanentCalls)
	}

	var exhaustedCalls int32
	err = policy.Do(func() error {
		atomic.AddInt32(&exhaustedCalls, 1)
		return &NetworkError{Err: errors.New("reset")}
	})
	if err == nil {
		t.Fatal("exhausted retries reported success")
	}
	if exhaustedCalls != 3 {
		t.Fatalf("%d attempts before exhaustion, want 3", exhaustedCalls)
	}
}

// TestBackoffBounds ensures the delay grows exponentially, caps at
// MaxDelay, and jitter stays within 10%.
func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    400 * time.Millisecond,
	}
	for attempt := 0; attempt < 8; attempt++ {
		base := policy.BaseDelay * (1 << uint(attempt))
		if base > policy.MaxDelay {
			base = policy.MaxDelay
		}
		for i := 0; i < 50; i++ {
			d := policy.delay(attempt)
			if d < base || d > base+base/10 {
				t.Fatalf("attempt %d: delay %v outside "+
					"[%v, %v]", attempt, d, base,
					base+base/10)
			}
		}
	}
}

// TestEVMClientMethods exercises the eth_ wrappers against a scripted
// server.
func TestEVMClientMethods(t *testing.T) {
	t.Parallel()

	to := "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result interface{}
		switch req.Method {
		case "eth_blockNumber":
			result = "0x1234"
		case "eth_getBlockByNumber":
			result = EVMBlock{
				Number: req.Params[0].(string),
				Hash:   "0xabc",
				Transactions: []EVMTransaction{{
					Hash:        "0xt1",
					To:          &to,
					Value:       "0xde0b6b3a7640000",
					BlockNumber: req.Params[0].(string),
				}},
			}
		case "eth_getTransactionReceipt":
			result = EVMReceipt{
				TransactionHash: req.Params[0].(string),
				BlockNumber:     "0x1000",
				Status:          "0x1",
			}
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		})
	}))
	defer srv.Close()

	client := NewEVMClient(srv.URL, chainparams.NetworkMainnet, DefaultPolicy)
	defer client.Close()

	height, err := client.BlockNumber()
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if height != 0x1234 {
		t.Fatalf("height %d, want %d", height, 0x1234)
	}

	block, err := client.BlockByNumber(0x1000)
	if err != nil {
		t.Fatalf("BlockByNumber: %v", err)
	}
	if block.Number != "0x1000" || len(block.Transactions) != 1 {
		t.Fatalf("unexpected block %+v", block)
	}

	receipt, err := client.TransactionReceipt("0xt1")
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if receipt.BlockNumber != "0x1000" {
		t.Fatalf("receipt block %s, want 0x1000", receipt.BlockNumber)
	}

	health := client.Health()
	if !health.Connected || health.LatestBlock != 0x1234 {
		t.Fatalf("unexpected health %+v", health)
	}
}

// TestParseHex covers the integer-only hex parsing helpers.
func TestParseHex(t *testing.T) {
	t.Parallel()

	n, err := ParseHexBig("0xde0b6b3a7640000")
	if err != nil {
		t.Fatalf("ParseHexBig: %v", err)
	}
	if n.String() != "1000000000000000000" {
		t.Fatalf("parsed %s, want 1000000000000000000", n)
	}

	if _, err := ParseHexBig("0x"); err == nil {
		t.Fatal("empty quantity parsed")
	}
	if _, err := ParseHexBig("0xzz"); err == nil {
		t.Fatal("malformed quantity parsed")
	}

	height, err := ParseHexInt64("0x10")
	if err != nil || height != 16 {
		t.Fatalf("ParseHexInt64: got %d, %v", height, err)
	}
	if FormatHexInt64(16) != "0x10" {
		t.Fatalf("FormatHexInt64(16) = %s", FormatHexInt64(16))
	}
}

// TestRegistry ensures clients are constructed once per pair and drained on
// close.
func TestRegistry(t *testing.T) {
	t.Parallel()

	var constructed int32
	registry := NewRegistry(func(params *chainparams.Params) (Conn, error) {
		atomic.AddInt32(&constructed, 1)
		return NewEVMClient("http://127.0.0.1:0",
			params.Network, DefaultPolicy), nil
	})

	for i := 0; i < 3; i++ {
		_, err := registry.Conn(chainparams.ChainEthereum,
			chainparams.NetworkMainnet)
		if err != nil {
			t.Fatalf("Conn: %v", err)
		}
	}
	if constructed != 1 {
		t.Fatalf("factory ran %d times, want 1", constructed)
	}

	_, err := registry.Conn(chainparams.ChainEthereum,
		chainparams.NetworkTestnet)
	if err != nil {
		t.Fatalf("Conn(testnet): %v", err)
	}
	if constructed != 2 {
		t.Fatalf("factory ran %d times for two pairs, want 2", constructed)
	}

	_, err = registry.Conn(chainparams.Chain("nochain"),
		chainparams.NetworkMainnet)
	if err == nil {
		t.Fatal("unknown chain produced a client")
	}

	registry.Close()
	if _, err := registry.Conn(chainparams.ChainEthereum,
		chainparams.NetworkMainnet); err == nil {
		t.Fatal("closed registry produced a client")
	}
}

// TestBTCClientMethods exercises the bitcoind wrappers against a scripted
// server.
func TestBTCClientMethods(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpcuser" || pass != "rpcpass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result interface{}
		switch req.Method {
		case "getblockcount":
			result = 800000
		case "getblockhash":
			result = fmt.Sprintf("hash-%v", req.Params[0])
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		})
	}))
	defer srv.Close()

	client := NewBTCClient(srv.URL, chainparams.NetworkMainnet,
		DefaultPolicy, WithBasicAuth("rpcuser", "rpcpass"))
	defer client.Close()

	height, err := client.GetBlockCount()
	if err != nil {
		t.Fatalf("GetBlockCount: %v", err)
	}
	if height != 800000 {
		t.Fatalf("height %d, want 800000", height)
	}

	hash, err := client.GetBlockHash(123)
	if err != nil {
		t.Fatalf("GetBlockHash: %v", err)
	}
	if hash != "hash-123" {
		t.Fatalf("hash %q, want hash-123", hash)
	}

	// Wrong credentials classify as auth, not retried forever.
	bad := NewBTCClient(srv.URL, chainparams.NetworkMainnet,
		Policy{MaxAttempts: 2, BaseDelay: time.Millisecond,
			MaxDelay: time.Millisecond},
		WithBasicAuth("rpcuser", "wrong"))
	defer bad.Close()
	_, err = bad.GetBlockCount()
	if err == nil {
		t.Fatal("bad credentials succeeded")
	}
	if kind := Classify(err); kind != KindAuth {
		t.Fatalf("bad credentials classified %v, want %v", kind, KindAuth)
	}
}
