// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"fmt"
	"sync"

	"github.com/hashvault/custody/chainparams"
)

// Health is the monitoring surface exposed per connected chain.
// LastProcessedBlock is populated by callers that also hold the detection
// cursor; the RPC layer itself only knows the tip.
type Health struct {
	Connected          bool   `json:"connected"`
	LatestBlock        int64  `json:"latestBlock,omitempty"`
	Network            string `json:"network"`
	LastProcessedBlock *int64 `json:"lastProcessedBlock,omitempty"`
}

// Conn is the least common denominator of the chain clients held by a
// Registry.  Callers type-assert to *EVMClient or *BTCClient for the
// chain-specific surface.
type Conn interface {
	Health() *Health
	Close()
}

// Factory constructs a client for a (chain, network) pair on first use.
type Factory func(params *chainparams.Params) (Conn, error)

// Registry lazily constructs and caches one client per (chain, network).
// Construction happens at most once per pair; Close drains every cached
// client.  The registry is an explicit handle with the same lifetime as the
// job that owns it, not a process-wide singleton.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	conns   map[string]Conn
	closed  bool
}

// NewRegistry returns a registry backed by the given factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		conns:   make(map[string]Conn),
	}
}

// Conn returns the cached client for the pair, constructing it on first
// use.
func (r *Registry) Conn(chain chainparams.Chain,
	network chainparams.Network) (Conn, error) {

	params, err := chainparams.Lookup(chain, network)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("client registry is closed")
	}
	key := params.Key()
	if conn, ok := r.conns[key]; ok {
		return conn, nil
	}

	conn, err := r.factory(params)
	if err != nil {
		return nil, err
	}
	r.conns[key] = conn
	log.Debugf("Constructed chain client for %s", key)
	return conn, nil
}

// Close drains every cached client and marks the registry closed.  Further
// Conn calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for key, conn := range r.conns {
		conn.Close()
		delete(r.conns, key)
	}
}
