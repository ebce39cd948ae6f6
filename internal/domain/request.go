package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PendingRequest is the in-memory cancellation intent for one token.
// The stored threat fees are always those of the most urgent purchase seen
// since the request was created or last removed.
type PendingRequest struct {
	Token          Token
	User           common.Address
	ListingNonce   uint64
	BidMaxFee      *big.Int // threat max fee per gas (wei)
	BidPriorityFee *big.Int // threat priority fee per gas (wei)
	LastSeenAt     time.Time
}

// CancelBundle is one drained, fee-priced batch of cancellations for a
// single signer. Tx is unsigned; fees and gas limit are recorded alongside
// so the budget guard does not have to re-derive them.
type CancelBundle struct {
	User        common.Address
	Tokens      []Token
	Nonces      []uint64
	Tx          *types.Transaction
	Nonce       uint64
	GasLimit    uint64
	MaxFee      *big.Int
	PriorityFee *big.Int
}
