// Package feerace prices cancel transactions so they out-prioritize the
// purchase they are racing under same-block tie-break rules.
package feerace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Epsilon is the minimal increment over the threat's effective priority fee.
// 1 gwei is the smallest step block builders reliably distinguish.
var Epsilon = new(big.Int).SetUint64(params.GWei)

// EffectivePriority returns the priority fee a threat transaction will
// actually pay at the given base fee: min(prioFee, maxFee-baseFee), floored
// at zero. This is the value that determines its position in the block.
func EffectivePriority(baseFee, maxFee, prioFee *big.Int) *big.Int {
	headroom := new(big.Int).Sub(maxFee, baseFee)
	if headroom.Sign() < 0 {
		headroom.SetInt64(0)
	}
	if prioFee.Cmp(headroom) < 0 {
		return new(big.Int).Set(prioFee)
	}
	return headroom
}

// ComputeBid returns the (maxFee, priorityFee) to bid against a threat with
// the given fee parameters. The priority fee strictly exceeds anything the
// threat can pay; the max fee carries a 4/3 buffer so the bid stays valid if
// the next block's base fee rises before resync.
//
// Pure function of its inputs; no clock, no chain reads.
func ComputeBid(baseFee, threatMaxFee, threatPrioFee *big.Int) (maxFee, prioFee *big.Int) {
	headroom := new(big.Int).Sub(threatMaxFee, baseFee)
	prioFee = new(big.Int).Set(threatPrioFee)
	if headroom.Cmp(prioFee) > 0 {
		prioFee.Set(headroom)
	}
	prioFee.Add(prioFee, Epsilon)

	maxFee = new(big.Int).Add(baseFee, prioFee)
	maxFee.Mul(maxFee, big.NewInt(4))
	maxFee.Div(maxFee, big.NewInt(3))
	return maxFee, prioFee
}

// NormalizeThreatFees maps a threat transaction's fee fields onto the
// (maxFee, prioFee) pair the race math expects. Legacy transactions carry a
// single gas price which acts as both cap and tip.
func NormalizeThreatFees(gasPrice, maxFee, prioFee *big.Int) (*big.Int, *big.Int) {
	if maxFee == nil {
		maxFee = gasPrice
	}
	if prioFee == nil {
		prioFee = maxFee
	}
	return maxFee, prioFee
}
