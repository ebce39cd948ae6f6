package classify

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Mainnet routers the engine watches.
var (
	MarketplaceAddr = common.HexToAddress("0x59728544B08AB483533076417FbBB2fD0B17CE3a")
	AggregatorAddr  = common.HexToAddress("0x83C8F28c26bF6aaca652Df1DbBE0e1b56F8baBa2")
)

// orderParams is the shared maker/taker tuple layout of the marketplace
// match functions. Field order matters: selectors are derived from it.
const marketplaceJSON = `[
 {"name":"matchAskWithTakerBidUsingETHAndWETH","type":"function","stateMutability":"payable","inputs":[
  {"name":"takerBid","type":"tuple","components":[
   {"name":"isOrderAsk","type":"bool"},
   {"name":"taker","type":"address"},
   {"name":"price","type":"uint256"},
   {"name":"tokenId","type":"uint256"},
   {"name":"minPercentageToAsk","type":"uint256"},
   {"name":"params","type":"bytes"}]},
  {"name":"makerAsk","type":"tuple","components":[
   {"name":"isOrderAsk","type":"bool"},
   {"name":"signer","type":"address"},
   {"name":"collection","type":"address"},
   {"name":"price","type":"uint256"},
   {"name":"tokenId","type":"uint256"},
   {"name":"amount","type":"uint256"},
   {"name":"strategy","type":"address"},
   {"name":"currency","type":"address"},
   {"name":"nonce","type":"uint256"},
   {"name":"startTime","type":"uint256"},
   {"name":"endTime","type":"uint256"},
   {"name":"minPercentageToAsk","type":"uint256"},
   {"name":"params","type":"bytes"},
   {"name":"v","type":"uint8"},
   {"name":"r","type":"bytes32"},
   {"name":"s","type":"bytes32"}]}],
  "outputs":[]},
 {"name":"matchAskWithTakerBid","type":"function","stateMutability":"payable","inputs":[
  {"name":"takerBid","type":"tuple","components":[
   {"name":"isOrderAsk","type":"bool"},
   {"name":"taker","type":"address"},
   {"name":"price","type":"uint256"},
   {"name":"tokenId","type":"uint256"},
   {"name":"minPercentageToAsk","type":"uint256"},
   {"name":"params","type":"bytes"}]},
  {"name":"makerAsk","type":"tuple","components":[
   {"name":"isOrderAsk","type":"bool"},
   {"name":"signer","type":"address"},
   {"name":"collection","type":"address"},
   {"name":"price","type":"uint256"},
   {"name":"tokenId","type":"uint256"},
   {"name":"amount","type":"uint256"},
   {"name":"strategy","type":"address"},
   {"name":"currency","type":"address"},
   {"name":"nonce","type":"uint256"},
   {"name":"startTime","type":"uint256"},
   {"name":"endTime","type":"uint256"},
   {"name":"minPercentageToAsk","type":"uint256"},
   {"name":"params","type":"bytes"},
   {"name":"v","type":"uint8"},
   {"name":"r","type":"bytes32"},
   {"name":"s","type":"bytes32"}]}],
  "outputs":[]},
 {"name":"matchBidWithTakerAsk","type":"function","stateMutability":"payable","inputs":[
  {"name":"takerAsk","type":"tuple","components":[
   {"name":"isOrderAsk","type":"bool"},
   {"name":"taker","type":"address"},
   {"name":"price","type":"uint256"},
   {"name":"tokenId","type":"uint256"},
   {"name":"minPercentageToAsk","type":"uint256"},
   {"name":"params","type":"bytes"}]},
  {"name":"makerBid","type":"tuple","components":[
   {"name":"isOrderAsk","type":"bool"},
   {"name":"signer","type":"address"},
   {"name":"collection","type":"address"},
   {"name":"price","type":"uint256"},
   {"name":"tokenId","type":"uint256"},
   {"name":"amount","type":"uint256"},
   {"name":"strategy","type":"address"},
   {"name":"currency","type":"address"},
   {"name":"nonce","type":"uint256"},
   {"name":"startTime","type":"uint256"},
   {"name":"endTime","type":"uint256"},
   {"name":"minPercentageToAsk","type":"uint256"},
   {"name":"params","type":"bytes"},
   {"name":"v","type":"uint8"},
   {"name":"r","type":"bytes32"},
   {"name":"s","type":"bytes32"}]}],
  "outputs":[]},
 {"name":"cancelMultipleMakerOrders","type":"function","stateMutability":"payable","inputs":[
  {"name":"orderNonces","type":"uint256[]"}],"outputs":[]}
]`

const aggregatorJSON = `[
 {"name":"batchBuyWithETH","type":"function","stateMutability":"payable","inputs":[
  {"name":"tradeDetails","type":"tuple[]","components":[
   {"name":"marketId","type":"uint256"},
   {"name":"value","type":"uint256"},
   {"name":"tradeData","type":"bytes"}]}],
  "outputs":[]}
]`

var (
	marketplaceABI abi.ABI
	aggregatorABI  abi.ABI

	selMatchAskETHWETH [4]byte
	selMatchAsk        [4]byte
	selMatchBid        [4]byte
	selBatchBuyETH     [4]byte
)

func init() {
	var err error
	marketplaceABI, err = abi.JSON(strings.NewReader(marketplaceJSON))
	if err != nil {
		panic("classify: marketplace abi: " + err.Error())
	}
	aggregatorABI, err = abi.JSON(strings.NewReader(aggregatorJSON))
	if err != nil {
		panic("classify: aggregator abi: " + err.Error())
	}
	copy(selMatchAskETHWETH[:], marketplaceABI.Methods["matchAskWithTakerBidUsingETHAndWETH"].ID)
	copy(selMatchAsk[:], marketplaceABI.Methods["matchAskWithTakerBid"].ID)
	copy(selMatchBid[:], marketplaceABI.Methods["matchBidWithTakerAsk"].ID)
	copy(selBatchBuyETH[:], aggregatorABI.Methods["batchBuyWithETH"].ID)
}

// EncodeCancel packs a batched cancelMultipleMakerOrders call for the
// marketplace exchange contract.
func EncodeCancel(orderNonces []uint64) ([]byte, error) {
	nonces := make([]*big.Int, len(orderNonces))
	for i, n := range orderNonces {
		nonces[i] = new(big.Int).SetUint64(n)
	}
	return marketplaceABI.Pack("cancelMultipleMakerOrders", nonces)
}
