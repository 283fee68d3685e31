// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"errors"
	"fmt"
	"net"
)

// Kind classifies a call failure for retry purposes.  Only KindNetwork and
// KindRateLimit are transient; everything else propagates immediately.
type Kind int

// Failure classes.
const (
	// KindNetwork covers connection resets, timeouts, DNS failures, and
	// other transport-level faults.
	KindNetwork Kind = iota

	// KindRateLimit covers explicit throttling by the node or provider.
	KindRateLimit

	// KindAuth covers rejected credentials.
	KindAuth

	// KindValidation covers malformed requests the node rejected, such
	// as an unknown method or invalid params.
	KindValidation

	// KindPermanent covers everything else; retrying cannot help.
	KindPermanent
)

// kindStrings maps Kind values to their names for logging.
var kindStrings = map[Kind]string{
	KindNetwork:    "network",
	KindRateLimit:  "rate-limit",
	KindAuth:       "auth",
	KindValidation: "validation",
	KindPermanent:  "permanent",
}

// String returns the kind as a human-readable name.
func (k Kind) String() string {
	if s := kindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown Kind (%d)", int(k))
}

// Retryable reports whether a failure of this kind is worth retrying.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimit
}

// JSON-RPC 2.0 error codes with custody-relevant classifications.
const (
	rpcCodeInvalidRequest = -32600
	rpcCodeMethodNotFound = -32601
	rpcCodeInvalidParams  = -32602
	rpcCodeRateLimited    = -32005 // common provider convention
)

// RPCError is an error field returned inside a JSON-RPC response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error satisfies the error interface.  The exact "RPC Error:" prefix is
// load bearing: operational tooling greps for it.
func (e *RPCError) Error() string {
	return "RPC Error: " + e.Message
}

// HTTPError is a non-2xx HTTP response from the node or provider.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error satisfies the error interface.
func (e *HTTPError) Error() string {
	return "unexpected HTTP status: " + e.Status
}

// NetworkError wraps a transport-level failure so classification survives
// error wrapping.
type NetworkError struct {
	Err error
}

// Error satisfies the error interface.
func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Classify maps an error from a chain RPC call to its failure kind.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var stdNetErr net.Error
	if errors.As(err, &stdNetErr) {
		return KindNetwork
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return KindRateLimit
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return KindAuth
		case httpErr.StatusCode >= 500:
			return KindNetwork
		default:
			return KindPermanent
		}
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case rpcCodeRateLimited:
			return KindRateLimit
		case rpcCodeInvalidRequest, rpcCodeMethodNotFound,
			rpcCodeInvalidParams:
			return KindValidation
		default:
			return KindPermanent
		}
	}

	return KindPermanent
}
