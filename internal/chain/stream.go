package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// PendingTx is a normalized mempool sighting from the websocket feed.
type PendingTx struct {
	Hash        common.Hash
	From        common.Address
	To          common.Address
	Data        []byte
	GasPrice    *big.Int // legacy txs only
	MaxFee      *big.Int
	PriorityFee *big.Int
	Type        uint8
}

// Head is a new-block notification.
type Head struct {
	Number  uint64
	BaseFee *big.Int
}

const reconnectDelay = 5 * time.Second

type rpcReq struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

// Stream subscribes to filtered pending transactions for the watched router
// addresses plus new heads, over a single websocket connection. It
// reconnects with a fixed delay until the context is cancelled.
type Stream struct {
	url   string
	watch []common.Address
}

func NewStream(wsURL string, watch []common.Address) *Stream {
	return &Stream{url: wsURL, watch: watch}
}

// Run feeds txs and heads until ctx is done. The channels are never closed
// by Run; ownership stays with the caller.
func (s *Stream) Run(ctx context.Context, txs chan<- PendingTx, heads chan<- Head) {
	for {
		if err := s.connectAndPump(ctx, txs, heads); err != nil && ctx.Err() == nil {
			log.Printf("stream: %v, reconnecting in %s", err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) connectAndPump(ctx context.Context, txs chan<- PendingTx, heads chan<- Head) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}
	defer conn.Close()

	// Close the socket when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// One filtered pending-tx subscription per watched address, then heads.
	// Request ids map 1:1 onto subscription kinds once the node answers.
	kindByReqID := make(map[int]string)
	id := 0
	for _, addr := range s.watch {
		id++
		kindByReqID[id] = "tx"
		req := rpcReq{
			Jsonrpc: "2.0", ID: id, Method: "eth_subscribe",
			Params: []any{"alchemy_filteredNewFullPendingTransactions", map[string]string{"address": strings.ToLower(addr.Hex())}},
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe txs: %w", err)
		}
	}
	id++
	kindByReqID[id] = "head"
	if err := conn.WriteJSON(rpcReq{Jsonrpc: "2.0", ID: id, Method: "eth_subscribe", Params: []any{"newHeads"}}); err != nil {
		return fmt.Errorf("subscribe heads: %w", err)
	}

	kindBySubID := make(map[string]string)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var frame struct {
			ID     int             `json:"id"`
			Result json.RawMessage `json:"result"`
			Method string          `json:"method"`
			Params struct {
				Subscription string          `json:"subscription"`
				Result       json.RawMessage `json:"result"`
			} `json:"params"`
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			return fmt.Errorf("rpc error %d: %s", frame.Error.Code, frame.Error.Message)
		}

		// Subscription confirmation: bind sub id to its kind.
		if frame.ID != 0 && len(frame.Result) > 0 {
			var subID string
			if err := json.Unmarshal(frame.Result, &subID); err == nil {
				if kind, ok := kindByReqID[frame.ID]; ok {
					kindBySubID[subID] = kind
				}
			}
			continue
		}
		if frame.Method != "eth_subscription" {
			continue
		}

		switch kindBySubID[frame.Params.Subscription] {
		case "tx":
			if tx, ok := parsePendingTx(frame.Params.Result); ok {
				select {
				case txs <- tx:
				case <-ctx.Done():
					return nil
				}
			}
		case "head":
			if h, ok := parseHead(frame.Params.Result); ok {
				select {
				case heads <- h:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func parsePendingTx(raw json.RawMessage) (PendingTx, bool) {
	var wire struct {
		Hash                 common.Hash     `json:"hash"`
		From                 common.Address  `json:"from"`
		To                   *common.Address `json:"to"`
		Input                hexutil.Bytes   `json:"input"`
		GasPrice             *hexutil.Big    `json:"gasPrice"`
		MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
		MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
		Type                 *hexutil.Uint64 `json:"type"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil || wire.To == nil {
		return PendingTx{}, false
	}
	tx := PendingTx{
		Hash: wire.Hash,
		From: wire.From,
		To:   *wire.To,
		Data: wire.Input,
	}
	if wire.GasPrice != nil {
		tx.GasPrice = wire.GasPrice.ToInt()
	}
	if wire.MaxFeePerGas != nil {
		tx.MaxFee = wire.MaxFeePerGas.ToInt()
	}
	if wire.MaxPriorityFeePerGas != nil {
		tx.PriorityFee = wire.MaxPriorityFeePerGas.ToInt()
	}
	if wire.Type != nil {
		tx.Type = uint8(*wire.Type)
	}
	// A tx with no fee information at all cannot be raced.
	if tx.GasPrice == nil && tx.MaxFee == nil {
		return PendingTx{}, false
	}
	return tx, true
}

func parseHead(raw json.RawMessage) (Head, bool) {
	var wire struct {
		Number        *hexutil.Big `json:"number"`
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil || wire.Number == nil {
		return Head{}, false
	}
	h := Head{Number: wire.Number.ToInt().Uint64()}
	if wire.BaseFeePerGas != nil {
		h.BaseFee = wire.BaseFeePerGas.ToInt()
	}
	return h, true
}
