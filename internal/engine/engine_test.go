package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nftops/listing-sentinel/internal/aggregate"
	"github.com/nftops/listing-sentinel/internal/chain"
	"github.com/nftops/listing-sentinel/internal/classify"
	"github.com/nftops/listing-sentinel/internal/domain"
	"github.com/nftops/listing-sentinel/internal/observability"
	"github.com/nftops/listing-sentinel/internal/policy"
	"github.com/nftops/listing-sentinel/internal/signer"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testCollection = common.HexToAddress("0x34d85c9CDeB23FA97cb08333b511ac86E1C4E258")

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).SetUint64(params.GWei))
}

func ether(milli int64) *big.Int {
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	return wei.Mul(wei, big.NewInt(milli))
}

type fakeBackend struct {
	mu        sync.Mutex
	baseFee   *big.Int
	nonce     uint64
	balance   *big.Int
	sendErr   error
	sent      []*types.Transaction
	simulated []*types.Transaction
}

func (f *fakeBackend) BaseFee(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.baseFee), nil
}

func (f *fakeBackend) PendingNonce(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) Balance(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBackend) Simulate(_ context.Context, _ common.Address, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = append(f.simulated, tx)
	return nil
}

func (f *fakeBackend) Send(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordedNote struct {
	title string
	url   string
	color int
}

type recordingSink struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recordingSink) Notify(_ context.Context, title, detailURL, _ string, color int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, recordedNote{title: title, url: detailURL, color: color})
	return nil
}

func (r *recordingSink) all() []recordedNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedNote(nil), r.notes...)
}

type fixture struct {
	engine  *Engine
	backend *fakeBackend
	sink    *recordingSink
	store   *policy.Store
	agg     *aggregate.Aggregator
	user    common.Address
}

func newFixture(t *testing.T, insuranceCap *big.Int, debug bool) *fixture {
	t.Helper()
	prv, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	user := crypto.PubkeyToAddress(prv.PublicKey)

	signers := signer.NewManager()
	require.NoError(t, signers.Add("ops", testKeyHex))

	store := policy.NewStore()
	pol, err := domain.NewCancelPolicy(user, domain.MustToken(testCollection, big.NewInt(81312)), insuranceCap)
	require.NoError(t, err)
	require.NoError(t, store.Add(pol))

	chainID := big.NewInt(1)
	agg := aggregate.New(store, chainID, classify.MarketplaceAddr)
	backend := &fakeBackend{baseFee: gwei(30), balance: ether(1000)}
	sink := &recordingSink{}

	eng := New(Options{
		ChainID:    chainID,
		Classifier: classify.NewMainnet(),
		Policies:   store,
		Aggregator: agg,
		Signers:    signers,
		Backend:    backend,
		Sink:       sink,
		Metrics:    observability.NewMetricsWith(prometheus.NewRegistry(), ""),
		Debug:      debug,
	})
	eng.baseFee = gwei(30)
	return &fixture{engine: eng, backend: backend, sink: sink, store: store, agg: agg, user: user}
}

func setWord(buf []byte, word int, value *big.Int) {
	value.FillBytes(buf[word*32 : (word+1)*32])
}

// fillCalldata assembles a matchAskWithTakerBidUsingETHAndWETH call with the
// taker and maker tuple heads at fixed offsets 64 and 192.
func fillCalldata(collection common.Address, tokenID *big.Int, listingNonce uint64) []byte {
	args := make([]byte, 16*32)
	setWord(args, 0, big.NewInt(64))
	setWord(args, 1, big.NewInt(192))
	// takerBid.tokenId: word 3 of the taker tuple.
	setWord(args, 2+3, tokenID)
	// makerAsk.collection and makerAsk.nonce: words 2 and 8 of the maker tuple.
	setWord(args, 6+2, new(big.Int).SetBytes(collection.Bytes()))
	setWord(args, 6+8, new(big.Int).SetUint64(listingNonce))
	return append(common.Hex2Bytes("b4e4b296"), args...)
}

func threatTx(tokenID int64, nonce uint64) chain.PendingTx {
	return chain.PendingTx{
		Hash:        common.HexToHash("0xdead"),
		To:          classify.MarketplaceAddr,
		Data:        fillCalldata(testCollection, big.NewInt(tokenID), nonce),
		MaxFee:      gwei(50),
		PriorityFee: gwei(2),
		Type:        types.DynamicFeeTxType,
	}
}

func TestHandlePendingTxRecordsInsuredPurchase(t *testing.T) {
	f := newFixture(t, ether(100), false)

	f.engine.handlePendingTx(threatTx(81312, 23))
	require.Equal(t, 1, f.agg.Len())

	// Uninsured token on the same router: counted, not recorded.
	f.engine.handlePendingTx(threatTx(404, 1))
	require.Equal(t, 1, f.agg.Len())

	// Unwatched target: nothing recognized.
	other := threatTx(81312, 23)
	other.To = common.HexToAddress("0x1")
	f.engine.handlePendingTx(other)
	require.Equal(t, 1, f.agg.Len())
}

func TestHandlePendingTxLegacyThreat(t *testing.T) {
	f := newFixture(t, ether(100), false)
	tx := threatTx(81312, 23)
	tx.MaxFee, tx.PriorityFee = nil, nil
	tx.GasPrice = gwei(40)
	tx.Type = types.LegacyTxType

	f.engine.handlePendingTx(tx)
	require.Equal(t, 1, f.agg.Len())
}

func TestHeadDispatchesAndRetiresPolicy(t *testing.T) {
	f := newFixture(t, ether(100), false)
	ctx := context.Background()

	f.engine.handlePendingTx(threatTx(81312, 23))
	f.engine.handleHead(ctx, chain.Head{Number: 100, BaseFee: gwei(30)})
	f.engine.dispatches.Wait()

	require.Equal(t, 1, f.backend.sentCount())
	sent := f.backend.sent[0]
	require.Equal(t, classify.MarketplaceAddr, *sent.To())
	require.Zero(t, sent.GasTipCap().Cmp(gwei(21)))
	require.Zero(t, sent.GasFeeCap().Cmp(gwei(68)))

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), sent)
	require.NoError(t, err)
	require.Equal(t, f.user, from)

	// Dispatch retires the token: policy off, request gone.
	tok := domain.MustToken(testCollection, big.NewInt(81312))
	require.False(t, f.store.IsActive(tok))
	require.Zero(t, f.agg.Len())

	notes := f.sink.all()
	require.Len(t, notes, 1)
	require.Equal(t, 0x0BDA51, notes[0].color)
	require.Contains(t, notes[0].url, sent.Hash().Hex())

	// A second identical sighting no longer matches the spent policy.
	f.engine.handlePendingTx(threatTx(81312, 23))
	require.Zero(t, f.agg.Len())
}

func TestHeadDispatchFailureStillRetires(t *testing.T) {
	f := newFixture(t, ether(100), false)
	f.backend.sendErr = errors.New("nonce too low")
	ctx := context.Background()

	f.engine.handlePendingTx(threatTx(81312, 23))
	f.engine.handleHead(ctx, chain.Head{Number: 100, BaseFee: gwei(30)})
	f.engine.dispatches.Wait()

	tok := domain.MustToken(testCollection, big.NewInt(81312))
	require.False(t, f.store.IsActive(tok))
	require.Zero(t, f.agg.Len())

	notes := f.sink.all()
	require.Len(t, notes, 1)
	require.Equal(t, 0xC70039, notes[0].color)
}

func TestHeadBudgetRejectionIsNonDestructive(t *testing.T) {
	// Cap of 0.001 ETH cannot cover a 95k-gas bundle at 68 gwei.
	f := newFixture(t, ether(1), false)
	ctx := context.Background()

	f.engine.handlePendingTx(threatTx(81312, 23))
	f.engine.handleHead(ctx, chain.Head{Number: 100, BaseFee: gwei(30)})
	f.engine.dispatches.Wait()

	require.Zero(t, f.backend.sentCount())
	tok := domain.MustToken(testCollection, big.NewInt(81312))
	require.True(t, f.store.IsActive(tok))
	require.Equal(t, 1, f.agg.Len())

	notes := f.sink.all()
	require.Len(t, notes, 1)
	require.Equal(t, 0xC70039, notes[0].color)

	// The request is re-tried on the next head.
	f.engine.handleHead(ctx, chain.Head{Number: 101, BaseFee: gwei(30)})
	f.engine.dispatches.Wait()
	require.Len(t, f.sink.all(), 2)
}

func TestDebugModeSimulatesInsteadOfSending(t *testing.T) {
	f := newFixture(t, ether(100), true)
	ctx := context.Background()

	f.engine.handlePendingTx(threatTx(81312, 23))
	f.engine.handleHead(ctx, chain.Head{Number: 100, BaseFee: gwei(30)})
	f.engine.dispatches.Wait()

	require.Zero(t, f.backend.sentCount())
	require.Len(t, f.backend.simulated, 1)
}

func TestHeadWithoutBaseFeeFallsBackToBackend(t *testing.T) {
	f := newFixture(t, ether(100), false)
	f.backend.baseFee = gwei(44)
	f.engine.handleHead(context.Background(), chain.Head{Number: 100})
	require.Zero(t, f.engine.baseFee.Cmp(gwei(44)))
}

func TestRunConsumesStreamsUntilCancelled(t *testing.T) {
	f := newFixture(t, ether(100), false)
	ctx, cancel := context.WithCancel(context.Background())
	txs := make(chan chain.PendingTx)
	heads := make(chan chain.Head)

	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx, txs, heads)
		close(done)
	}()

	txs <- threatTx(81312, 23)
	heads <- chain.Head{Number: 100, BaseFee: gwei(30)}

	require.Eventually(t, func() bool { return f.backend.sentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}

func TestAddPolicyRequiresControlledSigner(t *testing.T) {
	f := newFixture(t, ether(100), false)
	tok := domain.MustToken(testCollection, big.NewInt(1))

	err := f.engine.AddPolicy(common.HexToAddress("0x9"), tok, ether(10))
	require.ErrorIs(t, err, signer.ErrNoSigner)

	require.NoError(t, f.engine.AddPolicy(f.user, tok, ether(10)))
	require.True(t, f.store.IsActive(tok))
	require.Len(t, f.engine.ListPolicies(nil), 2)
}

func TestRemovePolicyClearsPendingRequest(t *testing.T) {
	f := newFixture(t, ether(100), false)
	f.engine.handlePendingTx(threatTx(81312, 23))
	require.Equal(t, 1, f.agg.Len())

	tok := domain.MustToken(testCollection, big.NewInt(81312))
	require.NoError(t, f.engine.RemovePolicy(tok))
	require.Zero(t, f.agg.Len())
	require.Empty(t, f.engine.ListPolicies(nil))
}
