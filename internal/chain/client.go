package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC. Every call is bounded by the configured
// timeout in addition to the caller's context.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	timeout   time.Duration
}

// NewClient dials rpcURL. A zero timeout leaves calls bounded only by ctx.
func NewClient(ctx context.Context, rpcURL string, timeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		timeout:   timeout,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.BlockNumber(ctx)
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.FilterLogs(ctx, query)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// TransactionReceipt returns the receipt of a mined transaction, or
// ethereum.NotFound while it is pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.SuggestGasPrice(ctx)
}

// EstimateGas estimates the gas needed to execute msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ethClient.EstimateGas(ctx, msg)
}
