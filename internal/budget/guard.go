// Package budget enforces the spending limits of a cancel bundle before it
// is allowed anywhere near a signer.
package budget

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftops/listing-sentinel/internal/chain"
	"github.com/nftops/listing-sentinel/internal/domain"
	"github.com/nftops/listing-sentinel/internal/policy"
)

var (
	ErrInsuranceTooLow = errors.New("bundle cost exceeds insurance cap")
	ErrBalanceTooLow   = errors.New("bundle cost exceeds signer balance")
)

// BalanceSource reports a signer's currently known on-chain balance.
type BalanceSource interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

type Guard struct {
	policies *policy.Store
	balances BalanceSource
}

func NewGuard(policies *policy.Store, balances BalanceSource) *Guard {
	return &Guard{policies: policies, balances: balances}
}

// Check accepts or rejects a bundle. Rejection is non-destructive: the
// caller keeps the bundle's requests pending for the next drain cycle,
// since a base-fee drop or balance top-up can make them dispatchable.
func (g *Guard) Check(ctx context.Context, b domain.CancelBundle) error {
	cost := Cost(b)

	insurance, err := g.policies.InsuranceCapOf(b.Tokens)
	if err != nil {
		return err
	}
	if cost.Cmp(insurance) > 0 {
		return fmt.Errorf("%w: cost %s ETH, cap %s ETH",
			ErrInsuranceTooLow, chain.FmtETH(cost), chain.FmtETH(insurance))
	}

	balance, err := g.balances.Balance(ctx, b.User)
	if err != nil {
		return fmt.Errorf("balance(%s): %w", b.User.Hex(), err)
	}
	if cost.Cmp(balance) > 0 {
		return fmt.Errorf("%w: cost %s ETH, balance %s ETH",
			ErrBalanceTooLow, chain.FmtETH(cost), chain.FmtETH(balance))
	}
	return nil
}

// Cost is the bundle's worst-case spend: fee rate times gas limit.
func Cost(b domain.CancelBundle) *big.Int {
	return new(big.Int).Mul(b.MaxFee, new(big.Int).SetUint64(b.GasLimit))
}
