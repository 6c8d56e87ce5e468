package svm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/fees"
)

// Node error codes for slots that will never hold a block
const (
	codeSlotSkipped            = -32007
	codeLongTermStorageSkipped = -32009
)

// Options configures an SVM client. Without a PrivateKey the client is read-only.
type Options struct {
	PrivateKey solana.PrivateKey
	Fees       *fees.Options
	Logger     *slog.Logger
}

// Client implements chains.Client and chains.BatchSubmitter for SVM networks.
// Slots stand in for block heights; a batch is one transaction carrying one system
// transfer per output, so it lands or fails as a whole.
type Client struct {
	network   string
	endpoints []string
	rpcs      []*rpc.Client
	key       solana.PrivateKey
	estimator *fees.Estimator
	logger    *slog.Logger
}

var (
	_ chains.Client         = (*Client)(nil)
	_ chains.BatchSubmitter = (*Client)(nil)
)

// NewClient creates an SVM client for network using the given endpoints
func NewClient(network string, endpoints []string, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		network:   network,
		endpoints: endpoints,
		key:       opts.PrivateKey,
		logger:    logger.With("network", network),
	}
	for _, endpoint := range endpoints {
		c.rpcs = append(c.rpcs, rpc.New(endpoint))
	}
	c.estimator = fees.NewEstimator(c, opts.Fees.WithLogger(logger))
	return c
}

// Network implements chains.Client
func (c *Client) Network() string {
	return c.network
}

// Estimator returns the client's fee estimator
func (c *Client) Estimator() *fees.Estimator {
	return c.estimator
}

// Sender returns the fee payer and funding address, if a key is configured
func (c *Client) Sender() (string, bool) {
	if c.key == nil {
		return "", false
	}
	return c.key.PublicKey().String(), true
}

// do runs fn against each endpoint until one succeeds.
// Uses random start position for load balancing across RPC endpoints.
func (c *Client) do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, client *rpc.Client) error) error {
	if len(c.rpcs) == 0 {
		return fmt.Errorf("no RPC endpoints available for network %s", c.network)
	}

	startIdx := rand.Intn(len(c.rpcs))
	var lastErr error
	for i := 0; i < len(c.rpcs); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		idx := (startIdx + i) % len(c.rpcs)
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx, c.rpcs[idx])
		cancel()
		if err == nil {
			return nil
		}
		// answers that another node would repeat
		if isSkippedSlot(err) || errors.Is(err, rpc.ErrNotFound) {
			return err
		}
		lastErr = &chains.RPCError{Endpoint: c.endpoints[idx], Err: err}
	}
	return fmt.Errorf("all RPC endpoints failed for network %s: %w", c.network, lastErr)
}

func isSkippedSlot(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == codeSlotSkipped || rpcErr.Code == codeLongTermStorageSkipped
}

// LatestBlockHeight implements chains.Client with the latest finalized slot
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		slot, err = client.GetSlot(ctx, rpc.CommitmentFinalized)
		return err
	})
	return slot, err
}

// BlockByHeight implements chains.Client. Skipped slots are returned as empty blocks.
// Each transaction's priority fee is its fee minus the per-signature base fee.
func (c *Client) BlockByHeight(ctx context.Context, slot uint64) (*chains.Block, error) {
	var result *rpc.GetBlockResult
	rewards := false
	err := c.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		result, err = client.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
			Encoding:                       solana.EncodingBase64,
			TransactionDetails:             rpc.TransactionDetailsFull,
			Rewards:                        &rewards,
			Commitment:                     rpc.CommitmentFinalized,
			MaxSupportedTransactionVersion: &rpc.MaxSupportedTransactionVersion0,
		})
		return err
	})
	if isSkippedSlot(err) {
		return &chains.Block{Height: slot}, nil
	}
	if err != nil {
		return nil, err
	}
	return toBlock(slot, result), nil
}

func toBlock(slot uint64, result *rpc.GetBlockResult) *chains.Block {
	block := &chains.Block{Height: slot}
	for _, twm := range result.Transactions {
		if twm.Meta == nil || twm.Transaction == nil {
			continue
		}
		tx, err := twm.GetTransaction()
		if err != nil || len(tx.Signatures) == 0 {
			continue
		}

		fee := new(big.Int).SetUint64(twm.Meta.Fee)
		base := new(big.Int).SetUint64(uint64(len(tx.Signatures)) * constants.SolanaLamportsPerSignature)
		priority := new(big.Int).Sub(fee, base)
		if priority.Sign() < 0 {
			priority.SetInt64(0)
		}
		block.Transactions = append(block.Transactions, chains.Transaction{
			ID:          tx.Signatures[0].String(),
			PriorityFee: priority,
			Fee:         fee,
		})
	}
	return block
}

// GetCurrentBaseFeeOrGasPrice implements chains.Client with the fee per signature
func (c *Client) GetCurrentBaseFeeOrGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(constants.SolanaLamportsPerSignature), nil
}

// SubmitSingle implements chains.Client as a batch of one
func (c *Client) SubmitSingle(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	receipt, err := c.SubmitBatch(ctx, []chains.Output{{Address: address, Amount: amount}}, nil)
	if err != nil {
		return "", err
	}
	return receipt.TxID, nil
}

// MaxBatchOutputs implements chains.BatchSubmitter
func (c *Client) MaxBatchOutputs() int {
	return constants.DefaultSolanaMaxOutputs
}

// SubmitBatch implements chains.BatchSubmitter. Output i is the transfer at
// instruction index i.
func (c *Client) SubmitBatch(ctx context.Context, outputs []chains.Output, _ *chains.SubmitOptions) (*chains.BatchReceipt, error) {
	if c.key == nil {
		return nil, errors.New("no signing key configured")
	}
	if len(outputs) == 0 {
		return nil, errors.New("empty batch")
	}
	payer := c.key.PublicKey()

	instructions := make([]solana.Instruction, 0, len(outputs))
	receipt := &chains.BatchReceipt{}
	for i, out := range outputs {
		to, err := solana.PublicKeyFromBase58(out.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid address %s: %w", out.Address, err)
		}
		lamports, err := toLamports(out.Amount)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, system.NewTransferInstruction(lamports, payer, to).Build())
		receipt.Outputs = append(receipt.Outputs, chains.ReceiptOutput{Address: out.Address, Index: uint32(i)})
	}

	tx, err := c.signedTransaction(ctx, instructions, payer)
	if err != nil {
		return nil, err
	}

	// a broadcast the node may have accepted is not abandoned on cancellation
	var sig solana.Signature
	err = c.do(context.WithoutCancel(ctx), constants.SubmitTimeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		sig, err = client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt.TxID = sig.String()
	c.logger.Info("transaction sent", "txid", receipt.TxID, "outputs", len(outputs))
	return receipt, nil
}

func (c *Client) signedTransaction(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey) (*solana.Transaction, error) {
	var blockhash solana.Hash
	err := c.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *rpc.Client) error {
		latest, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		blockhash = latest.Value.Blockhash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &c.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// toLamports converts an amount in SOL to lamports, rejecting sub-lamport fractions
func toLamports(amount decimal.Decimal) (uint64, error) {
	lamports := amount.Shift(constants.NetworkDecimals[constants.NetworkSolana])
	if !lamports.Equal(lamports.Truncate(0)) || lamports.IsNegative() {
		return 0, fmt.Errorf("invalid SOL amount %s", amount)
	}
	if !lamports.BigInt().IsUint64() {
		return 0, fmt.Errorf("SOL amount %s out of range", amount)
	}
	return lamports.BigInt().Uint64(), nil
}

// GetConfirmationCount implements chains.Client. Finalized signatures report a fixed
// depth since the node stops counting once a slot is rooted.
func (c *Client) GetConfirmationCount(ctx context.Context, txid string) (*int64, error) {
	sig, err := solana.SignatureFromBase58(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %s: %w", txid, err)
	}

	var status *rpc.SignatureStatusesResult
	err = c.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *rpc.Client) error {
		out, err := client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if len(out.Value) > 0 {
			status = out.Value[0]
		}
		return nil
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, nil
	}
	if status.Err != nil {
		return nil, fmt.Errorf("transaction %s failed: %v", txid, status.Err)
	}

	var n int64
	switch {
	case status.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		n = constants.SolanaFinalizedDepth
	case status.Confirmations != nil:
		n = int64(*status.Confirmations)
	}
	return &n, nil
}
