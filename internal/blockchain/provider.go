// Package blockchain implements the provider adapter (component B): the
// chain-facing primitives every other component reads and writes
// through, grounded on the upstream web3 backend's
// pkg/blockchain/ethereum.go client wrapper, extended with fee history,
// receipt waiting, and log subscription/polling plus latency recording
// and failure classification.
package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
)

// NonceSelector chooses between the pending and latest mined nonce.
type NonceSelector int

const (
	NoncePending NonceSelector = iota
	NonceLatest
)

// Receipt is the subset of a transaction receipt chainkeeper consumes.
type Receipt struct {
	Status      uint64
	GasUsed     uint64
	BlockNumber uint64
	TxHash      string
}

// Provider is the chain-facing interface the rest of chainkeeper
// depends on; Client is its go-ethereum-backed implementation.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Nonce(ctx context.Context, addr common.Address, sel NonceSelector) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SuggestPriorityFee(ctx context.Context) (*big.Int, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blocks uint64, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	CallAtBlock(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRaw(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error)
	GetLogs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, filter ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error)
}

// Client wraps an ethclient.Client with latency recording and error
// classification, matching the receiver style of the upstream
// EthereumClient.
type Client struct {
	network string
	eth     *ethclient.Client
	log     *logger.Logger
	metrics *metrics.Registry
}

// Dial connects to an RPC endpoint and returns a Client for network.
func Dial(ctx context.Context, network, rpcURL string, log *logger.Logger, m *metrics.Registry) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network, err)
	}
	return &Client{network: network, eth: eth, log: log.Named("provider." + network), metrics: m}, nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	c.metrics.ObserveRPCLatency(c.network, op, time.Since(start).Seconds())
	if err != nil {
		c.metrics.IncRPCError(c.network, op, string(Classify(err)))
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := c.eth.BlockNumber(ctx)
	c.observe("block_number", start, err)
	return n, err
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := c.eth.ChainID(ctx)
	c.observe("chain_id", start, err)
	return id, err
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	start := time.Now()
	b, err := c.eth.BalanceAt(ctx, addr, nil)
	c.observe("balance", start, err)
	return b, err
}

func (c *Client) Nonce(ctx context.Context, addr common.Address, sel NonceSelector) (uint64, error) {
	start := time.Now()
	var n uint64
	var err error
	if sel == NoncePending {
		n, err = c.eth.PendingNonceAt(ctx, addr)
	} else {
		n, err = c.eth.NonceAt(ctx, addr, nil)
	}
	c.observe("nonce", start, err)
	return n, err
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	p, err := c.eth.SuggestGasPrice(ctx)
	c.observe("gas_price", start, err)
	return p, err
}

func (c *Client) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	p, err := c.eth.SuggestGasTipCap(ctx)
	c.observe("priority_fee", start, err)
	return p, err
}

func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	head, err := c.eth.HeaderByNumber(ctx, nil)
	c.observe("base_fee", start, err)
	if err != nil {
		return nil, err
	}
	if head.BaseFee == nil {
		return nil, fmt.Errorf("network %s does not report a base fee", c.network)
	}
	return head.BaseFee, nil
}

func (c *Client) FeeHistory(ctx context.Context, blocks uint64, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	start := time.Now()
	fh, err := c.eth.FeeHistory(ctx, blocks, nil, rewardPercentiles)
	c.observe("fee_history", start, err)
	return fh, err
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	start := time.Now()
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	c.observe("call", start, err)
	return out, err
}

// CallAtBlock replays a call at a specific historical block, unlike
// Call which always reads at the latest block. Used to recover the
// revert reason of an already-mined, reverted transaction by replaying
// its call at the block it was included in.
func (c *Client) CallAtBlock(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	out, err := c.eth.CallContract(ctx, msg, blockNumber)
	c.observe("call_at_block", start, err)
	return out, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	start := time.Now()
	gas, err := c.eth.EstimateGas(ctx, msg)
	c.observe("estimate_gas", start, err)
	return gas, err
}

func (c *Client) SendRaw(ctx context.Context, tx *types.Transaction) error {
	start := time.Now()
	err := c.eth.SendTransaction(ctx, tx)
	c.observe("send_raw", start, err)
	return err
}

func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.observe("wait_receipt", start, ctx.Err())
			return nil, ctx.Err()
		case <-ticker.C:
			r, err := c.eth.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // not mined yet, or transient RPC error; keep polling until deadline
			}
			c.observe("wait_receipt", start, nil)
			return &Receipt{
				Status:      r.Status,
				GasUsed:     r.GasUsed,
				BlockNumber: r.BlockNumber.Uint64(),
				TxHash:      r.TxHash.Hex(),
			}, nil
		}
	}
}

func (c *Client) GetLogs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	logs, err := c.eth.FilterLogs(ctx, filter)
	c.observe("get_logs", start, err)
	return logs, err
}

func (c *Client) SubscribeLogs(ctx context.Context, filter ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error) {
	ch := make(chan types.Log, 256)
	sub, err := c.eth.SubscribeFilterLogs(ctx, filter, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe logs: %w", err)
	}
	return ch, sub, nil
}
