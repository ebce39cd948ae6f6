// Package classify turns raw pending-transaction calldata into normalized
// purchase sightings. Unrecognized or malformed calldata is normal mempool
// noise: classification never errors, it just matches nothing.
package classify

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nftops/listing-sentinel/internal/domain"
)

const (
	wordSize = 32

	// Inner order records of an aggregator trade: the maker-order static
	// head, 13 words long. Collection, token id and listing nonce sit at
	// the same indices as in the direct-fill maker tuple.
	wordsPerTrade    = 13
	tradeOffContract = 2
	tradeOffTokenID  = 4
	tradeOffNonce    = 8

	// Direct-fill maker tuple field indices.
	makerOffContract = 2
	makerOffNonce    = 8
	// Direct-fill taker tuple field index.
	takerOffTokenID = 3

	// Market id the aggregator uses for trades routed to the marketplace
	// exchange. Other market ids are foreign venues we cannot cancel on.
	marketplaceMarketID = 16
)

// Classifier recognizes purchase calls on the watched routers.
// Pure and stateless after construction; safe for concurrent use.
type Classifier struct {
	marketplace common.Address
	aggregator  common.Address
}

func New(marketplace, aggregator common.Address) *Classifier {
	return &Classifier{marketplace: marketplace, aggregator: aggregator}
}

// NewMainnet watches the canonical mainnet router addresses.
func NewMainnet() *Classifier {
	return New(MarketplaceAddr, AggregatorAddr)
}

// Classify returns every purchase the calldata would execute, or nil when
// nothing is recognized.
func (c *Classifier) Classify(target common.Address, data []byte) []domain.Purchase {
	if len(data) < 4 {
		return nil
	}
	var sel [4]byte
	copy(sel[:], data[:4])

	switch {
	case target == c.marketplace && (sel == selMatchAskETHWETH || sel == selMatchAsk):
		return decodeDirectFill(data[4:])
	case target == c.marketplace && sel == selMatchBid:
		// Bid accepted by the token owner: a voluntary sale, not a race.
		return nil
	case target == c.aggregator && sel == selBatchBuyETH:
		return decodeAggregatorBatch(data[4:])
	default:
		return nil
	}
}

// decodeDirectFill extracts (collection, tokenId, nonce) from the taker/maker
// tuples of a single-order fill at their fixed word offsets.
func decodeDirectFill(args []byte) []domain.Purchase {
	takerBase, ok := headOffset(args, 0)
	if !ok {
		return nil
	}
	makerBase, ok := headOffset(args, 1)
	if !ok {
		return nil
	}

	tokenID, ok := wordAt(args, takerBase, takerOffTokenID)
	if !ok {
		return nil
	}
	contractWord, ok := wordAt(args, makerBase, makerOffContract)
	if !ok {
		return nil
	}
	nonceWord, ok := wordAt(args, makerBase, makerOffNonce)
	if !ok {
		return nil
	}
	nonce, ok := wordToUint64(nonceWord)
	if !ok {
		return nil
	}

	token, err := domain.NewToken(common.BytesToAddress(contractWord), new(big.Int).SetBytes(tokenID))
	if err != nil {
		return nil
	}
	return []domain.Purchase{{Token: token, ListingNonce: nonce}}
}

// decodeAggregatorBatch unpacks batchBuyWithETH and keeps only the embedded
// trades that target the marketplace with the known inner encoding.
func decodeAggregatorBatch(args []byte) []domain.Purchase {
	vals, err := aggregatorABI.Methods["batchBuyWithETH"].Inputs.Unpack(args)
	if err != nil || len(vals) != 1 {
		return nil
	}
	type tradeDetail struct {
		MarketId  *big.Int
		Value     *big.Int
		TradeData []byte
	}
	trades, ok := func() (td []tradeDetail, ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		return *abi.ConvertType(vals[0], new([]tradeDetail)).(*[]tradeDetail), true
	}()
	if !ok {
		return nil
	}

	var purchases []domain.Purchase
	for _, trade := range trades {
		if trade.MarketId == nil || !trade.MarketId.IsUint64() || trade.MarketId.Uint64() != marketplaceMarketID {
			continue
		}
		purchases = append(purchases, decodeEmbeddedOrders(trade.TradeData)...)
	}
	return purchases
}

// decodeEmbeddedOrders slices an inner trade payload into consecutive
// 13-word maker-order heads after verifying the inner selector.
func decodeEmbeddedOrders(tradeData []byte) []domain.Purchase {
	if len(tradeData) < 4 {
		return nil
	}
	var sel [4]byte
	copy(sel[:], tradeData[:4])
	if sel != selMatchAskETHWETH {
		return nil
	}
	words := tradeData[4:]
	stride := wordsPerTrade * wordSize
	if len(words) == 0 || len(words)%stride != 0 {
		return nil
	}

	var purchases []domain.Purchase
	for base := 0; base < len(words); base += stride {
		order := words[base : base+stride]
		contractWord := order[tradeOffContract*wordSize : (tradeOffContract+1)*wordSize]
		tokenIDWord := order[tradeOffTokenID*wordSize : (tradeOffTokenID+1)*wordSize]
		nonceWord := order[tradeOffNonce*wordSize : (tradeOffNonce+1)*wordSize]

		nonce, ok := wordToUint64(nonceWord)
		if !ok {
			continue
		}
		token, err := domain.NewToken(common.BytesToAddress(contractWord), new(big.Int).SetBytes(tokenIDWord))
		if err != nil {
			continue
		}
		purchases = append(purchases, domain.Purchase{Token: token, ListingNonce: nonce})
	}
	return purchases
}

// headOffset reads head word i as a byte offset into args and validates it.
func headOffset(args []byte, i int) (int, bool) {
	w, ok := wordAt(args, 0, i)
	if !ok {
		return 0, false
	}
	off := new(big.Int).SetBytes(w)
	if !off.IsInt64() {
		return 0, false
	}
	n := int(off.Int64())
	if n < 0 || n >= len(args) {
		return 0, false
	}
	return n, true
}

// wordAt returns the i-th 32-byte word starting at base, bounds-checked.
func wordAt(args []byte, base, i int) ([]byte, bool) {
	start := base + i*wordSize
	end := start + wordSize
	if start < 0 || end > len(args) {
		return nil, false
	}
	return args[start:end], true
}

func wordToUint64(w []byte) (uint64, bool) {
	v := new(big.Int).SetBytes(w)
	if !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}
