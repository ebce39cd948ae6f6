// Package chain is the boundary to the Ethereum node: account reads, base
// fee resync, transaction simulation/broadcast, and the mempool/head
// websocket streams.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

type Client struct {
	ec *ethclient.Client
}

func Dial(rpcURL string) (*Client, error) {
	ec, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{ec: ec}, nil
}

func NewClient(ec *ethclient.Client) *Client { return &Client{ec: ec} }

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ec.ChainID(ctx)
}

// BaseFee returns the latest head's base fee.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	h, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if h.BaseFee == nil {
		return nil, errors.New("no baseFee (pre-1559?)")
	}
	return new(big.Int).Set(h.BaseFee), nil
}

// AccountState returns balance and pending nonce in one shot.
func (c *Client) AccountState(ctx context.Context, addr common.Address) (*big.Int, uint64, error) {
	bal, err := c.ec.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("balance(%s): %w", addr.Hex(), err)
	}
	nonce, err := c.ec.PendingNonceAt(ctx, addr)
	if err != nil {
		return nil, 0, fmt.Errorf("nonce(%s): %w", addr.Hex(), err)
	}
	return bal, nonce, nil
}

func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, addr)
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, addr, nil)
}

// Simulate executes the transaction against the latest block without
// broadcasting. A revert comes back as an error.
func (c *Client) Simulate(ctx context.Context, from common.Address, tx *types.Transaction) error {
	msg := ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
	_, err := c.ec.CallContract(ctx, msg, nil)
	return err
}

// Send broadcasts a signed transaction.
func (c *Client) Send(ctx context.Context, tx *types.Transaction) error {
	return c.ec.SendTransaction(ctx, tx)
}
