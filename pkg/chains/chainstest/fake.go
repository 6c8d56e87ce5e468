// Package chainstest provides in-memory chain clients for tests.
package chainstest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/chains"
)

// Client is a scriptable chains.Client that also implements chains.WalletLocker
type Client struct {
	NetworkName string
	Tip         uint64
	Blocks      map[uint64]*chains.Block
	BaseFee     *big.Int

	// TipErr fails LatestBlockHeight; BlockErr fails every block fetch; BlockErrAt fails specific heights
	TipErr     error
	BlockErr   error
	BlockErrAt map[uint64]error

	SingleErr error
	UnlockErr error

	// RejectSingle fails SubmitSingle for the addresses it returns an error for
	RejectSingle func(address string) error

	// ConfirmAfter is the number of GetConfirmationCount calls that report the
	// transaction as unconfirmed before it reports one confirmation; negative never confirms
	ConfirmAfter int

	mu           sync.Mutex
	blockCalls   map[uint64]int
	singles      []chains.Output
	confirmPolls map[string]int
	calls        []string
	txCounter    int
}

// NewClient creates a fake client for network
func NewClient(network string) *Client {
	return &Client{
		NetworkName: network,
		Blocks:      make(map[uint64]*chains.Block),
		BaseFee:     big.NewInt(1),
	}
}

// AddBlock stores a block whose transactions carry the given values in every fee field
func (c *Client) AddBlock(height uint64, fees ...int64) *chains.Block {
	block := &chains.Block{Height: height, BaseFee: c.BaseFee}
	for i, fee := range fees {
		v := big.NewInt(fee)
		block.Transactions = append(block.Transactions, chains.Transaction{
			ID:          fmt.Sprintf("tx-%d-%d", height, i),
			GasPrice:    v,
			PriorityFee: v,
			Fee:         v,
		})
	}
	c.Blocks[height] = block
	if height > c.Tip {
		c.Tip = height
	}
	return block
}

func (c *Client) Network() string {
	return c.NetworkName
}

func (c *Client) LatestBlockHeight(context.Context) (uint64, error) {
	if c.TipErr != nil {
		return 0, c.TipErr
	}
	return c.Tip, nil
}

func (c *Client) BlockByHeight(_ context.Context, height uint64) (*chains.Block, error) {
	c.mu.Lock()
	if c.blockCalls == nil {
		c.blockCalls = make(map[uint64]int)
	}
	c.blockCalls[height]++
	c.mu.Unlock()

	if c.BlockErr != nil {
		return nil, c.BlockErr
	}
	if err := c.BlockErrAt[height]; err != nil {
		return nil, err
	}
	block, ok := c.Blocks[height]
	if !ok {
		return &chains.Block{Height: height}, nil
	}
	return block, nil
}

// BlockCalls returns how many times a height was fetched
func (c *Client) BlockCalls(height uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockCalls[height]
}

func (c *Client) GetCurrentBaseFeeOrGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.BaseFee), nil
}

func (c *Client) SubmitSingle(_ context.Context, address string, amount decimal.Decimal) (string, error) {
	c.record("submit")
	if c.SingleErr != nil {
		return "", c.SingleErr
	}
	if c.RejectSingle != nil {
		if err := c.RejectSingle(address); err != nil {
			return "", err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singles = append(c.singles, chains.Output{Address: address, Amount: amount})
	c.txCounter++
	return fmt.Sprintf("single-%d", c.txCounter), nil
}

// Singles returns the single payments submitted so far
func (c *Client) Singles() []chains.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chains.Output(nil), c.singles...)
}

func (c *Client) GetConfirmationCount(_ context.Context, txid string) (*int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmPolls == nil {
		c.confirmPolls = make(map[string]int)
	}
	c.confirmPolls[txid]++
	var confirmations int64
	if c.ConfirmAfter >= 0 && c.confirmPolls[txid] > c.ConfirmAfter {
		confirmations = 1
	}
	return &confirmations, nil
}

func (c *Client) UnlockWallet(context.Context, string, time.Duration) error {
	c.record("unlock")
	return c.UnlockErr
}

func (c *Client) LockWallet(context.Context) error {
	c.record("lock")
	return nil
}

// Calls returns the wallet and submission calls in order
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Client) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// BatchClient adds chains.BatchSubmitter to Client
type BatchClient struct {
	*Client

	// Reject decides whether a batch fails; nil accepts everything
	Reject func(outputs []chains.Output) error

	// OutputLimit is reported by MaxBatchOutputs
	OutputLimit int

	batchMu sync.Mutex
	batches [][]chains.Output
}

// NewBatchClient creates a fake client with batch support
func NewBatchClient(network string) *BatchClient {
	return &BatchClient{Client: NewClient(network)}
}

func (c *BatchClient) SubmitBatch(_ context.Context, outputs []chains.Output, _ *chains.SubmitOptions) (*chains.BatchReceipt, error) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	c.batches = append(c.batches, append([]chains.Output(nil), outputs...))
	if c.Reject != nil {
		if err := c.Reject(outputs); err != nil {
			return nil, err
		}
	}

	receipt := &chains.BatchReceipt{TxID: fmt.Sprintf("batch-%d", len(c.batches))}
	for i, out := range outputs {
		receipt.Outputs = append(receipt.Outputs, chains.ReceiptOutput{Address: out.Address, Index: uint32(i)})
	}
	return receipt, nil
}

func (c *BatchClient) MaxBatchOutputs() int {
	return c.OutputLimit
}

// Batches returns every batch submitted, including rejected ones
func (c *BatchClient) Batches() [][]chains.Output {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	return append([][]chains.Output(nil), c.batches...)
}

var (
	_ chains.Client         = (*Client)(nil)
	_ chains.WalletLocker   = (*Client)(nil)
	_ chains.BatchSubmitter = (*BatchClient)(nil)
)
