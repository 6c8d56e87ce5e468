package chains

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Design inspired by renproject/multichain: one capability interface per chain,
// chain-specific implementations selected by network name at construction time.
// https://github.com/renproject/multichain

// Client is the node capability the fee estimator and payment dispatcher need
type Client interface {
	// Network returns the network name (e.g., "base", "solana", "bitcoin")
	Network() string

	// LatestBlockHeight returns the height (slot on SVM) of the chain tip
	LatestBlockHeight(ctx context.Context) (uint64, error)

	// BlockByHeight returns a block including its transaction fee data
	BlockByHeight(ctx context.Context, height uint64) (*Block, error)

	// GetCurrentBaseFeeOrGasPrice returns the node's own naive fee estimate:
	// the latest base fee on base-fee chains, the gas price or fee rate otherwise
	GetCurrentBaseFeeOrGasPrice(ctx context.Context) (*big.Int, error)

	// SubmitSingle sends one payment and returns its transaction id
	SubmitSingle(ctx context.Context, address string, amount decimal.Decimal) (string, error)

	// GetConfirmationCount returns nil when the transaction is unknown to the node
	GetConfirmationCount(ctx context.Context, txid string) (*int64, error)
}

// BatchSubmitter is an optional interface for chains that can move value to many
// destinations in one atomic transaction
// Implemented by: utxo.Client, svm.Client
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, outputs []Output, opts *SubmitOptions) (*BatchReceipt, error)

	// MaxBatchOutputs returns the most outputs one transaction can carry; 0 means no chain limit
	MaxBatchOutputs() int
}

// WalletLocker is an optional interface for nodes that hold an encrypted wallet.
// Chains without it need no unlock step.
// Implemented by: utxo.Client, evm.Client (node-managed accounts)
type WalletLocker interface {
	UnlockWallet(ctx context.Context, passphrase string, duration time.Duration) error
	LockWallet(ctx context.Context) error
}

// AddressComparer is an optional interface for chain-specific address equality
// For EVM: case-insensitive (due to EIP-55 checksumming)
// For SVM and UTXO: exact match
type AddressComparer interface {
	AddressesEqual(addr1, addr2 string) bool
}

// Block is the fee-relevant view of a block
type Block struct {
	Height       uint64
	BaseFee      *big.Int // nil on chains without a base fee
	Transactions []Transaction
}

// Transaction carries the fee fields a chain exposes; absent fields are nil
type Transaction struct {
	ID          string
	GasPrice    *big.Int // full price per gas unit (legacy) or fee rate per vbyte (UTXO)
	PriorityFee *big.Int // tip above the base fee
	Fee         *big.Int // total fee paid
}

// Output is one destination of a batch transaction
type Output struct {
	Address string
	Amount  decimal.Decimal
}

// SubmitOptions tunes a batch submission
type SubmitOptions struct {
	Comment string
	// SubtractFeeFrom lists addresses whose outputs pay the fee (UTXO only)
	SubtractFeeFrom []string
}

// BatchReceipt describes a submitted batch transaction
type BatchReceipt struct {
	TxID    string
	Outputs []ReceiptOutput
}

// ReceiptOutput locates one output inside a submitted transaction
type ReceiptOutput struct {
	Address string
	Index   uint32
}

// AddressesEqual compares two addresses with the client's rules when it has any
func AddressesEqual(c Client, addr1, addr2 string) bool {
	if cmp, ok := c.(AddressComparer); ok {
		return cmp.AddressesEqual(addr1, addr2)
	}
	return addr1 == addr2
}
