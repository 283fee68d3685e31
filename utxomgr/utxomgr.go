// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxomgr tracks the spendable output set of each deposit address.
// The set mirrors external persistence: scanners add outputs as deposits
// confirm and sweep planning consumes them.  A Store is an explicit handle
// scoped to the job that created it, never a process-wide singleton, so two
// scanners or two tests can never observe each other's state.
package utxomgr

import (
	"sync"

	"github.com/btcsuite/btcutil"
)

// UTXO describes one unspent transaction output credited to a deposit
// address.  An output is uniquely identified by (TxID, Vout).
type UTXO struct {
	TxID    string
	Vout    uint32
	Amount  btcutil.Amount
	Address string
}

// outPoint is the map key uniquely identifying a UTXO.
type outPoint struct {
	txid string
	vout uint32
}

// Store holds the per-address UTXO sets.  All methods are safe for
// concurrent use; consumption is atomic with respect to concurrent scanner
// additions for the same address.
type Store struct {
	mu    sync.Mutex
	utxos map[string]map[outPoint]UTXO
}

// NewStore returns an empty UTXO store.
func NewStore() *Store {
	return &Store{
		utxos: make(map[string]map[outPoint]UTXO),
	}
}

// AddUTXO adds an output to the spendable set of its address.  Adding the
// same (txid, vout) twice is a no-op, which makes overlapping block rescans
// harmless.
func (s *Store) AddUTXO(u UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.utxos[u.Address]
	if !ok {
		set = make(map[outPoint]UTXO)
		s.utxos[u.Address] = set
	}
	op := outPoint{txid: u.TxID, vout: u.Vout}
	if _, exists := set[op]; exists {
		return
	}
	set[op] = u
}

// Balance returns the sum of all unconsumed outputs credited to the
// address.
func (s *Store) Balance(address string) btcutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total btcutil.Amount
	for _, u := range s.utxos[address] {
		total += u.Amount
	}
	return total
}

// UnspentOutputs returns a snapshot of the address's unconsumed outputs.
func (s *Store) UnspentOutputs(address string) []UTXO {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.utxos[address]
	outputs := make([]UTXO, 0, len(set))
	for _, u := range set {
		outputs = append(outputs, u)
	}
	return outputs
}

// SelectForAmount returns a subset of the address's unconsumed outputs
// whose amounts sum to at least the target.  Outputs are accumulated
// largest-first, which keeps input counts (and therefore fees) low; any
// selection satisfying the sum is correct.  ErrInsufficientBalance is
// returned when the whole unconsumed set is short of the target.
func (s *Store) SelectForAmount(address string,
	target btcutil.Amount) ([]UTXO, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.utxos[address]
	candidates := make([]UTXO, 0, len(set))
	var total btcutil.Amount
	for _, u := range set {
		candidates = append(candidates, u)
		total += u.Amount
	}
	if total < target {
		return nil, managerError(ErrInsufficientBalance,
			"address "+address+" holds less than the target", nil)
	}

	// Largest first.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Amount > candidates[j-1].Amount; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	var selected []UTXO
	var sum btcutil.Amount
	for _, u := range candidates {
		selected = append(selected, u)
		sum += u.Amount
		if sum >= target {
			return selected, nil
		}
	}

	// Unreachable given the total check above.
	return nil, managerError(ErrInsufficientBalance,
		"selection failed to reach the target", nil)
}

// Consume removes the given outputs from the spendable set.  Outputs that
// were never added, or were already consumed, are ignored.  The removal is
// atomic: no concurrent reader observes a partially consumed selection.
func (s *Store) Consume(address string, utxos []UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.utxos[address]
	if set == nil {
		return
	}
	for _, u := range utxos {
		delete(set, outPoint{txid: u.TxID, vout: u.Vout})
	}
	if len(set) == 0 {
		delete(s.utxos, address)
	}
}
