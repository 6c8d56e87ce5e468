package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
)

// errNotFound is returned by lookups the node answered with null
var errNotFound = errors.New("not found")

// depositTxType is the OP-stack system deposit; it pays no fees
const depositTxType = 0x7e

// endpointPool runs calls against a list of JSON-RPC endpoints with failover
type endpointPool struct {
	network   string
	endpoints []string
	logger    *slog.Logger
}

// do runs fn against each endpoint until one succeeds.
// Uses random start position for load balancing across RPC endpoints, and waits a
// little longer before each retry.
func (p *endpointPool) do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, client *ethclient.Client) error) error {
	if len(p.endpoints) == 0 {
		return fmt.Errorf("no RPC endpoints available for network %s", p.network)
	}

	startIdx := rand.Intn(len(p.endpoints))
	var lastErr error
	for i := 0; i < len(p.endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// Wrap around using modulo for round-robin
		endpoint := p.endpoints[(startIdx+i)%len(p.endpoints)]

		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = &chains.RPCError{Endpoint: endpoint, Err: err}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx, client)
		cancel()
		client.Close()

		if err == nil {
			return nil
		}
		// the node answered; asking another one will not change the answer
		if errors.Is(err, errNotFound) {
			return err
		}
		lastErr = &chains.RPCError{Endpoint: endpoint, Err: err}
		p.logger.Debug("RPC call failed, trying next endpoint", "endpoint", endpoint, "error", err)
	}

	return fmt.Errorf("all RPC endpoints failed for network %s: %w", p.network, lastErr)
}

// isHealthy reports whether endpoint answers eth_blockNumber
func isHealthy(ctx context.Context, endpoint string) bool {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return false
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	_, err = client.BlockNumber(ctx)
	return err == nil
}

// rpcBlock is the subset of eth_getBlockByNumber (full transactions) needed for fee sampling.
// Decoded by hand because ethclient rejects transaction types it does not know (e.g., OP deposits).
type rpcBlock struct {
	Number        hexutil.Uint64   `json:"number"`
	BaseFeePerGas *hexutil.Big     `json:"baseFeePerGas"`
	Transactions  []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash                 common.Hash    `json:"hash"`
	Type                 hexutil.Uint64 `json:"type"`
	Gas                  hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big   `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
}

func blockByNumber(ctx context.Context, client *ethclient.Client, height uint64) (*rpcBlock, error) {
	var raw json.RawMessage
	if err := client.Client().CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(height), true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("block %d: %w", height, errNotFound)
	}

	var block rpcBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", height, err)
	}
	return &block, nil
}

// toBlock converts a raw block to the fee view. The priority fee is the tip actually
// paid: min(maxPriorityFeePerGas, maxFeePerGas - baseFee) for dynamic fee transactions,
// gasPrice - baseFee for legacy ones. Fee is the most the transaction could pay
// (gas limit times price) since receipts are not fetched.
func toBlock(raw *rpcBlock) *chains.Block {
	block := &chains.Block{Height: uint64(raw.Number)}
	var baseFee *big.Int
	if raw.BaseFeePerGas != nil {
		baseFee = raw.BaseFeePerGas.ToInt()
		block.BaseFee = baseFee
	}

	for _, rtx := range raw.Transactions {
		if rtx.Type == depositTxType {
			continue
		}
		tx := chains.Transaction{ID: rtx.Hash.Hex()}
		if rtx.GasPrice != nil {
			tx.GasPrice = rtx.GasPrice.ToInt()
		}

		switch {
		case baseFee == nil:
		case rtx.MaxPriorityFeePerGas != nil && rtx.MaxFeePerGas != nil:
			tip := rtx.MaxPriorityFeePerGas.ToInt()
			headroom := new(big.Int).Sub(rtx.MaxFeePerGas.ToInt(), baseFee)
			if headroom.Cmp(tip) < 0 {
				tip = headroom
			}
			tx.PriorityFee = nonNegative(tip)
		case tx.GasPrice != nil:
			tx.PriorityFee = nonNegative(new(big.Int).Sub(tx.GasPrice, baseFee))
		}

		if tx.GasPrice != nil {
			tx.Fee = new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(uint64(rtx.Gas)))
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block
}

func nonNegative(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

// patchedTransactionReceipt gets a transaction receipt, tolerating fields some L2 nodes
// add to logs that the receipt decoder rejects
func patchedTransactionReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	var raw json.RawMessage
	err := client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errNotFound
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	if err := json.Unmarshal(cleaned, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}

	if logs, ok := receiptMap["logs"].([]interface{}); ok {
		for _, log := range logs {
			if logMap, ok := log.(map[string]interface{}); ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}
