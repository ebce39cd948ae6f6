// Package aggregate accumulates at most one pending cancellation intent per
// token and drains them into per-signer, nonce-correct cancel bundles.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftops/listing-sentinel/internal/chain"
	"github.com/nftops/listing-sentinel/internal/classify"
	"github.com/nftops/listing-sentinel/internal/domain"
	"github.com/nftops/listing-sentinel/internal/feerace"
	"github.com/nftops/listing-sentinel/internal/policy"
)

var ErrPolicyNotActive = errors.New("no active policy for token")

// Gas budget of a batched cancel: fixed transaction overhead plus calldata
// growth per order nonce.
const (
	baseGasLimit     = 70_000
	perTokenGasLimit = 25_000
)

// NonceSource resolves the next account nonce for a signer.
type NonceSource interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
}

type Aggregator struct {
	policies    *policy.Store
	chainID     *big.Int
	marketplace common.Address

	mu       sync.Mutex
	requests map[string]domain.PendingRequest
}

func New(policies *policy.Store, chainID *big.Int, marketplace common.Address) *Aggregator {
	return &Aggregator{
		policies:    policies,
		chainID:     chainID,
		marketplace: marketplace,
		requests:    make(map[string]domain.PendingRequest),
	}
}

// Offer records a cancellation intent for the purchase's token, keeping the
// most urgent threat seen. The same sale can surface more than once (fee
// bump, second router path); only a strictly higher effective priority
// replaces the stored bid.
func (a *Aggregator) Offer(p domain.Purchase, baseFee, threatMaxFee, threatPrioFee *big.Int) error {
	pol, err := a.policies.Get(p.Token)
	if err != nil || !pol.Active {
		return fmt.Errorf("%w: %s", ErrPolicyNotActive, p.Token.UniqueID())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := p.Token.UniqueID()
	if existing, ok := a.requests[key]; ok {
		newPrio := feerace.EffectivePriority(baseFee, threatMaxFee, threatPrioFee)
		oldPrio := feerace.EffectivePriority(baseFee, existing.BidMaxFee, existing.BidPriorityFee)
		if newPrio.Cmp(oldPrio) <= 0 {
			return nil
		}
	}
	a.requests[key] = domain.PendingRequest{
		Token:          p.Token,
		User:           pol.User,
		ListingNonce:   p.ListingNonce,
		BidMaxFee:      new(big.Int).Set(threatMaxFee),
		BidPriorityFee: new(big.Int).Set(threatPrioFee),
		LastSeenAt:     time.Now(),
	}
	return nil
}

// Remove drops any pending request for token. Called after a dispatch
// outcome is known, so a resolved sale cannot be re-raced.
func (a *Aggregator) Remove(token domain.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.requests, token.UniqueID())
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// Drain snapshots all pending requests and builds one cancel bundle per
// signer. The group's tightest race sets the fee for the whole batch: every
// token of a user shares one transaction, one nonce, one fee. Draining does
// not clear requests; that happens via Remove once a dispatch resolves.
//
// A nonce lookup failure skips that user's bundle for this cycle and is
// reported in the joined error; other users' bundles still come back.
func (a *Aggregator) Drain(ctx context.Context, baseFee *big.Int, nonces NonceSource) ([]domain.CancelBundle, error) {
	a.mu.Lock()
	byUser := make(map[common.Address][]domain.PendingRequest)
	for _, req := range a.requests {
		byUser[req.User] = append(byUser[req.User], req)
	}
	a.mu.Unlock()

	users := make([]common.Address, 0, len(byUser))
	for user := range byUser {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Cmp(users[j]) < 0 })

	var (
		bundles []domain.CancelBundle
		errs    []error
	)
	for _, user := range users {
		group := byUser[user]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Token.UniqueID() < group[j].Token.UniqueID()
		})

		maxFee, prioFee := batchBid(baseFee, group)
		tokens := make([]domain.Token, len(group))
		orderNonces := make([]uint64, len(group))
		for i, req := range group {
			tokens[i] = req.Token
			orderNonces[i] = req.ListingNonce
		}

		data, err := classify.EncodeCancel(orderNonces)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode cancel for %s: %w", user.Hex(), err))
			continue
		}
		accountNonce, err := nonces.PendingNonce(ctx, user)
		if err != nil {
			errs = append(errs, fmt.Errorf("nonce for %s: %w", user.Hex(), err))
			continue
		}

		gasLimit := uint64(baseGasLimit + perTokenGasLimit*len(group))
		tx := chain.NewDynamicTx(a.chainID, accountNonce, a.marketplace, gasLimit, prioFee, maxFee, data)
		bundles = append(bundles, domain.CancelBundle{
			User:        user,
			Tokens:      tokens,
			Nonces:      orderNonces,
			Tx:          tx,
			Nonce:       accountNonce,
			GasLimit:    gasLimit,
			MaxFee:      maxFee,
			PriorityFee: prioFee,
		})
	}
	return bundles, errors.Join(errs...)
}

// batchBid prices the group at the maximum of its members' individual bids.
func batchBid(baseFee *big.Int, group []domain.PendingRequest) (maxFee, prioFee *big.Int) {
	for _, req := range group {
		m, p := feerace.ComputeBid(baseFee, req.BidMaxFee, req.BidPriorityFee)
		if prioFee == nil || p.Cmp(prioFee) > 0 {
			maxFee, prioFee = m, p
		}
	}
	return maxFee, prioFee
}
