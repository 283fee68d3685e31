// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxomgr

import "github.com/btcsuite/btcutil"

// Fixed size model for fee estimation.  The constants follow the classic
// legacy-input accounting: a transaction base overhead plus a per-input and
// per-output cost.
const (
	planBaseSize      = 10
	planPerInputSize  = 68
	planPerOutputSize = 34
)

// PlanOutput is one requested payment in a transaction plan.
type PlanOutput struct {
	Address string
	Amount  btcutil.Amount
}

// TxPlan is a fee-estimated spending plan over concrete inputs.  Plans are
// never signed or broadcast by this engine; they exist so an external signer
// can be handed exact inputs, outputs, and fee.
type TxPlan struct {
	Inputs        []UTXO
	Outputs       []PlanOutput
	Fee           btcutil.Amount
	EstimatedSize int
}

// PlanTransaction builds a spending plan from already-selected inputs and
// requested outputs.  The estimated size comes from the fixed cost model and
// the fee is estimatedSize * feeRate, where feeRate is in base units per
// byte.  The inputs are not consumed; callers consume them once the plan is
// accepted.
func PlanTransaction(inputs []UTXO, outputs []PlanOutput,
	feeRate btcutil.Amount) (*TxPlan, error) {

	if len(inputs) == 0 {
		return nil, managerError(ErrInput, "plan requires at least "+
			"one input", nil)
	}
	if len(outputs) == 0 {
		return nil, managerError(ErrInput, "plan requires at least "+
			"one output", nil)
	}

	size := planBaseSize + planPerInputSize*len(inputs) +
		planPerOutputSize*len(outputs)

	return &TxPlan{
		Inputs:        inputs,
		Outputs:       outputs,
		Fee:           btcutil.Amount(size) * feeRate,
		EstimatedSize: size,
	}, nil
}
