// Package engine runs the frontrunning decision loop: classify pending
// transactions into purchase threats, accumulate cancel intents, and on each
// new block drain, guard and dispatch per-signer cancel bundles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nftops/listing-sentinel/internal/aggregate"
	"github.com/nftops/listing-sentinel/internal/budget"
	"github.com/nftops/listing-sentinel/internal/chain"
	"github.com/nftops/listing-sentinel/internal/classify"
	"github.com/nftops/listing-sentinel/internal/domain"
	"github.com/nftops/listing-sentinel/internal/feerace"
	"github.com/nftops/listing-sentinel/internal/notify"
	"github.com/nftops/listing-sentinel/internal/observability"
	"github.com/nftops/listing-sentinel/internal/policy"
	"github.com/nftops/listing-sentinel/internal/signer"
)

// Backend is the node surface the engine needs: fee/account reads plus the
// dispatch operations.
type Backend interface {
	BaseFee(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Simulate(ctx context.Context, from common.Address, tx *types.Transaction) error
	Send(ctx context.Context, tx *types.Transaction) error
}

type Options struct {
	ChainID      *big.Int
	Classifier   *classify.Classifier
	Policies     *policy.Store
	Aggregator   *aggregate.Aggregator
	Signers      *signer.Manager
	Backend      Backend
	Sink         notify.Sink
	Metrics      *observability.Metrics
	PoliciesPath string
	Debug        bool // simulate instead of send
}

type Engine struct {
	opts    Options
	baseFee *big.Int // owned by the Run goroutine

	saveMu     sync.Mutex
	dispatches sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.Sink == nil {
		opts.Sink = notify.NewDiscord("")
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics("")
	}
	return &Engine{opts: opts}
}

// Run owns all writes to the aggregator and policy store. It consumes the
// two event streams until ctx is done, then waits for in-flight dispatches.
// Every event is handled in isolation; a failure in one never stops the loop.
func (e *Engine) Run(ctx context.Context, txs <-chan chain.PendingTx, heads <-chan chain.Head) {
	if bf, err := e.opts.Backend.BaseFee(ctx); err == nil {
		e.baseFee = bf
	} else {
		log.Printf("engine: initial base fee: %v", err)
		e.baseFee = big.NewInt(0)
	}

	for {
		select {
		case <-ctx.Done():
			e.dispatches.Wait()
			return
		case tx, ok := <-txs:
			if !ok {
				txs = nil
				continue
			}
			e.handlePendingTx(tx)
		case h, ok := <-heads:
			if !ok {
				heads = nil
				continue
			}
			e.handleHead(ctx, h)
		}
	}
}

func (e *Engine) handlePendingTx(tx chain.PendingTx) {
	m := e.opts.Metrics
	m.PendingTxsSeen.Inc()

	purchases := e.opts.Classifier.Classify(tx.To, tx.Data)
	if len(purchases) == 0 {
		return
	}
	maxFee, prioFee := feerace.NormalizeThreatFees(tx.GasPrice, tx.MaxFee, tx.PriorityFee)

	for _, p := range purchases {
		m.PurchasesClassified.Inc()
		err := e.opts.Aggregator.Offer(p, e.baseFee, maxFee, prioFee)
		switch {
		case errors.Is(err, aggregate.ErrPolicyNotActive):
			// Uninsured token: normal, just counted.
			m.OffersIgnored.Inc()
		case err != nil:
			log.Printf("engine: offer %s: %v", p.Token.UniqueID(), err)
		default:
			m.OffersAccepted.Inc()
			log.Printf("engine: cancel request %s racing tx %s (threat prio %s gwei)",
				p.Token.UniqueID(), tx.Hash.Hex(), chain.FmtGwei(feerace.EffectivePriority(e.baseFee, maxFee, prioFee)))
		}
	}
	m.PendingRequests.Set(float64(e.opts.Aggregator.Len()))
}

func (e *Engine) handleHead(ctx context.Context, h chain.Head) {
	if h.BaseFee != nil {
		e.baseFee = h.BaseFee
	} else if bf, err := e.opts.Backend.BaseFee(ctx); err == nil {
		e.baseFee = bf
	}
	e.opts.Metrics.BaseFeeGwei.Set(gweiFloat(e.baseFee))

	if e.opts.Aggregator.Len() == 0 {
		return
	}
	bundles, err := e.opts.Aggregator.Drain(ctx, e.baseFee, e.opts.Backend)
	if err != nil {
		log.Printf("engine: drain at block %d: %v", h.Number, err)
	}

	guard := budget.NewGuard(e.opts.Policies, e.opts.Backend)
	for _, b := range bundles {
		e.opts.Metrics.BundlesDrained.Inc()
		if err := guard.Check(ctx, b); err != nil {
			// Non-destructive: requests stay pending for the next cycle.
			e.rejectBundle(ctx, b, err)
			continue
		}
		e.dispatches.Add(1)
		go func(b domain.CancelBundle) {
			defer e.dispatches.Done()
			e.dispatch(ctx, b)
		}(b)
	}
}

func (e *Engine) rejectBundle(ctx context.Context, b domain.CancelBundle, cause error) {
	reason := "error"
	switch {
	case errors.Is(cause, budget.ErrInsuranceTooLow):
		reason = "insurance"
	case errors.Is(cause, budget.ErrBalanceTooLow):
		reason = "balance"
	}
	e.opts.Metrics.BudgetRejections.WithLabelValues(reason).Inc()
	log.Printf("engine: bundle for %s rejected: %v", b.User.Hex(), cause)

	if err := e.opts.Sink.Notify(ctx,
		fmt.Sprintf("%s cancel batch held back (%d tokens)", strings.ToLower(b.User.Hex()), len(b.Tokens)),
		"",
		fmt.Sprintf("%v\nProjected cost: %s ETH", cause, chain.FmtETH(budget.Cost(b))),
		notify.ColorFailure,
	); err != nil {
		log.Printf("engine: notify: %v", err)
	}
}

// dispatch signs and simulates/sends one bundle. Any dispatch attempt,
// successful or not, retires the bundle's tokens: a lost race means the sale
// most likely landed and re-racing is moot.
func (e *Engine) dispatch(ctx context.Context, b domain.CancelBundle) {
	outcome := "success"
	signed, err := e.signAndSubmit(ctx, b)
	if err != nil {
		outcome = "failure"
	}

	for _, token := range b.Tokens {
		e.opts.Policies.Deactivate(token)
		e.opts.Aggregator.Remove(token)
	}
	e.opts.Metrics.DispatchOutcomes.WithLabelValues(outcome).Inc()
	e.opts.Metrics.PendingRequests.Set(float64(e.opts.Aggregator.Len()))

	user := strings.ToLower(b.User.Hex())
	cost := chain.FmtETH(budget.Cost(b))
	var title string
	color := notify.ColorSuccess
	if err != nil {
		title = fmt.Sprintf("%s failed to cancel %d listing(s)", user, len(b.Tokens))
		color = notify.ColorFailure
		log.Printf("engine: dispatch for %s failed: %v", user, err)
	} else {
		title = fmt.Sprintf("%s cancelled %d listing(s) ahead of sale", user, len(b.Tokens))
		log.Printf("engine: dispatched cancel bundle for %s (%d tokens, prio %s gwei)",
			user, len(b.Tokens), chain.FmtGwei(b.PriorityFee))
	}
	desc := fmt.Sprintf("Projected fees: %s ETH\nTokens: %s", cost, tokenList(b.Tokens))
	if nerr := e.opts.Sink.Notify(ctx, title, etherscanTx(signed), desc, color); nerr != nil {
		log.Printf("engine: notify: %v", nerr)
	}
}

func (e *Engine) signAndSubmit(ctx context.Context, b domain.CancelBundle) (*types.Transaction, error) {
	key, err := e.opts.Signers.Key(b.User)
	if err != nil {
		return nil, err
	}
	signed, err := chain.SignTx(b.Tx, e.opts.ChainID, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if e.opts.Debug {
		if err := e.opts.Backend.Simulate(ctx, b.User, signed); err != nil {
			return signed, fmt.Errorf("simulate: %w", err)
		}
		return signed, nil
	}
	if err := e.opts.Backend.Send(ctx, signed); err != nil {
		return signed, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

// AddPolicy registers a policy from the admin console. The user must be a
// controlled signer, otherwise a matched threat could never be answered.
func (e *Engine) AddPolicy(user common.Address, token domain.Token, insuranceCap *big.Int) error {
	if !e.opts.Signers.Has(user) {
		return fmt.Errorf("%w: %s", signer.ErrNoSigner, user.Hex())
	}
	p, err := domain.NewCancelPolicy(user, token, insuranceCap)
	if err != nil {
		return err
	}
	if err := e.opts.Policies.Add(p); err != nil {
		return err
	}
	return e.savePolicies()
}

func (e *Engine) RemovePolicy(token domain.Token) error {
	e.opts.Policies.Remove(token)
	e.opts.Aggregator.Remove(token)
	return e.savePolicies()
}

func (e *Engine) ListPolicies(userFilter *common.Address) []domain.CancelPolicy {
	return e.opts.Policies.List(userFilter)
}

func (e *Engine) savePolicies() error {
	if e.opts.PoliciesPath == "" {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.opts.Policies.Save(e.opts.PoliciesPath)
}

func tokenList(tokens []domain.Token) string {
	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.UniqueID()
	}
	return strings.Join(ids, ", ")
}

func etherscanTx(tx *types.Transaction) string {
	if tx == nil {
		return ""
	}
	return "https://etherscan.io/tx/" + tx.Hash().Hex()
}

func gweiFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(wei, big.NewInt(1_000_000_000)).Float64()
	return f
}
