package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/fees"
)

// Options configures how an EVM client sends value. Set PrivateKey to sign locally,
// or From to let the node sign with one of its own (personal_*) accounts.
type Options struct {
	PrivateKey *ecdsa.PrivateKey
	From       string

	// ChainID and LegacyGasPrice serve networks missing from the constants tables
	ChainID        int64
	LegacyGasPrice bool

	// PriorityFeePercentile in (0, 100] estimates tips from recent blocks; otherwise 2.5 gwei
	PriorityFeePercentile int

	// Fees tunes the client's fee estimator; nil uses the package defaults
	Fees   *fees.Options
	Logger *slog.Logger
}

// Client implements chains.Client for EVM networks.
// Specific EVM chains differ only in chain ID and whether they price with a base fee.
type Client struct {
	network   string
	chainID   *big.Int
	legacy    bool
	pool      *endpointPool
	key       *ecdsa.PrivateKey
	from      common.Address
	hasFrom   bool
	tipPct    int
	estimator *fees.Estimator
	logger    *slog.Logger

	// serializes nonce selection and broadcast for the local key
	sendMu sync.Mutex
}

var (
	_ chains.Client          = (*Client)(nil)
	_ chains.WalletLocker    = (*Client)(nil)
	_ chains.AddressComparer = (*Client)(nil)
)

// NewClient creates an EVM client. Network must be registered in constants.NetworkToChainID
// unless opts carries a chain ID.
func NewClient(network string, endpoints []string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	chainID, ok := constants.NetworkToChainID[network]
	if opts.ChainID > 0 {
		chainID, ok = opts.ChainID, true
	}
	if !ok {
		return nil, &chains.UnsupportedNetworkError{Network: network}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		network: network,
		chainID: big.NewInt(chainID),
		legacy:  constants.LegacyGasPriceNetworks[network] || opts.LegacyGasPrice,
		pool:    &endpointPool{network: network, endpoints: endpoints, logger: logger},
		key:     opts.PrivateKey,
		tipPct:  opts.PriorityFeePercentile,
		logger:  logger.With("network", network),
	}
	switch {
	case opts.PrivateKey != nil:
		c.from = crypto.PubkeyToAddress(opts.PrivateKey.PublicKey)
		c.hasFrom = true
	case opts.From != "":
		if !common.IsHexAddress(opts.From) {
			return nil, fmt.Errorf("invalid sender address: %s", opts.From)
		}
		c.from = common.HexToAddress(opts.From)
		c.hasFrom = true
	}
	c.estimator = fees.NewEstimator(c, opts.Fees.WithLogger(logger))
	return c, nil
}

// Network implements chains.Client
func (c *Client) Network() string {
	return c.network
}

// Estimator returns the fee estimator this client prices its own transactions with
func (c *Client) Estimator() *fees.Estimator {
	return c.estimator
}

// Sender returns the address payments are sent from, if configured
func (c *Client) Sender() (string, bool) {
	return c.from.Hex(), c.hasFrom
}

// LatestBlockHeight implements chains.Client
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		height, err = client.BlockNumber(ctx)
		return err
	})
	return height, err
}

// BlockByHeight implements chains.Client
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*chains.Block, error) {
	var raw *rpcBlock
	err := c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		raw, err = blockByNumber(ctx, client, height)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toBlock(raw), nil
}

// GetCurrentBaseFeeOrGasPrice implements chains.Client. Legacy networks, and nodes whose
// latest header carries no base fee, report the node's suggested gas price.
func (c *Client) GetCurrentBaseFeeOrGasPrice(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		if !c.legacy {
			header, err := client.HeaderByNumber(ctx, nil)
			if err != nil {
				return err
			}
			if header.BaseFee != nil {
				fee = header.BaseFee
				return nil
			}
		}
		var err error
		fee, err = client.SuggestGasPrice(ctx)
		return err
	})
	return fee, err
}

// SubmitSingle implements chains.Client
func (c *Client) SubmitSingle(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid EVM address: %s", address)
	}
	value, err := toWei(amount)
	if err != nil {
		return "", err
	}
	to := common.HexToAddress(address)

	switch {
	case c.key != nil:
		return c.signAndSend(ctx, to, value)
	case c.hasFrom:
		return c.sendFromNodeAccount(ctx, to, value)
	default:
		return "", errors.New("no sender configured: set a private key or a node account")
	}
}

// toWei converts an amount in ether units to wei, rejecting sub-wei fractions
func toWei(amount decimal.Decimal) (*big.Int, error) {
	wei := amount.Shift(constants.EVMDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, constants.EVMDecimals)
	}
	return wei.BigInt(), nil
}

// signAndSend builds, signs and broadcasts a transfer from the local key. The signed
// transaction is rebroadcast unchanged on failover.
func (c *Client) signAndSend(ctx context.Context, to common.Address, value *big.Int) (string, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	tx, err := c.buildTransaction(ctx, to, value)
	if err != nil {
		return "", err
	}
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	// a broadcast the node may have accepted is not abandoned on cancellation
	err = c.pool.do(context.WithoutCancel(ctx), constants.SubmitTimeout, func(ctx context.Context, client *ethclient.Client) error {
		err := client.SendTransaction(ctx, signed)
		if err != nil && strings.Contains(err.Error(), "already known") {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signed.Hash().Hex()
	c.logger.Info("transaction sent", "txid", txHash, "to", to.Hex(), "value", value.String(), "nonce", signed.Nonce())
	return txHash, nil
}

func (c *Client) buildTransaction(ctx context.Context, to common.Address, value *big.Int) (*ethtypes.Transaction, error) {
	var (
		nonce uint64
		gas   uint64
	)
	err := c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		if nonce, err = client.PendingNonceAt(ctx, c.from); err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Value: value})
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	gas = max(gas, constants.GasLimitTransfer)

	if c.legacy {
		gasPrice, err := c.estimator.EstimateGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gas,
			GasPrice: gasPrice,
		}), nil
	}

	req := fees.PriorityFeeRequest{Percentile: c.tipPct}
	tip, err := c.estimator.EstimateMaxPriorityFee(ctx, req)
	if err != nil {
		return nil, err
	}
	feeCap, err := c.estimator.EstimateMaxFee(ctx, fees.PriorityFeeRequest{PriorityFee: tip})
	if err != nil {
		return nil, err
	}
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
	}), nil
}

// sendFromNodeAccount asks the node to sign with its own account (eth_sendTransaction).
// The node picks nonce and fees.
func (c *Client) sendFromNodeAccount(ctx context.Context, to common.Address, value *big.Int) (string, error) {
	args := map[string]interface{}{
		"from":  c.from,
		"to":    to,
		"value": (*hexutil.Big)(value),
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("transaction not sent: %w", err)
	}
	var txHash common.Hash
	err := c.pool.do(context.WithoutCancel(ctx), constants.SubmitTimeout, func(ctx context.Context, client *ethclient.Client) error {
		return client.Client().CallContext(ctx, &txHash, "eth_sendTransaction", args)
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("transaction sent from node account", "txid", txHash.Hex(), "to", to.Hex(), "value", value.String())
	return txHash.Hex(), nil
}

// GetConfirmationCount implements chains.Client. A mined transaction has one
// confirmation; nil means the node does not know the transaction or it is still pending.
func (c *Client) GetConfirmationCount(ctx context.Context, txid string) (*int64, error) {
	var confirmations *int64
	err := c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		receipt, err := patchedTransactionReceipt(ctx, client, common.HexToHash(txid))
		if err != nil {
			return err
		}
		tip, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		n := int64(0)
		if receipt.BlockNumber != nil && tip >= receipt.BlockNumber.Uint64() {
			n = int64(tip-receipt.BlockNumber.Uint64()) + 1
		}
		confirmations = &n
		return nil
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return confirmations, err
}

// UnlockWallet implements chains.WalletLocker for node-managed accounts; locally signed
// clients have nothing to unlock.
func (c *Client) UnlockWallet(ctx context.Context, passphrase string, duration time.Duration) error {
	if c.key != nil || !c.hasFrom {
		return nil
	}
	var ok bool
	err := c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		return client.Client().CallContext(ctx, &ok, "personal_unlockAccount", c.from, passphrase, uint64(duration.Seconds()))
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("node refused to unlock %s", c.from.Hex())
	}
	return nil
}

// LockWallet implements chains.WalletLocker
func (c *Client) LockWallet(ctx context.Context) error {
	if c.key != nil || !c.hasFrom {
		return nil
	}
	var ok bool
	return c.pool.do(ctx, constants.RPCCallTimeout, func(ctx context.Context, client *ethclient.Client) error {
		return client.Client().CallContext(ctx, &ok, "personal_lockAccount", c.from)
	})
}

// AddressesEqual implements chains.AddressComparer.
// EVM addresses compare case-insensitively due to EIP-55 checksumming.
func (c *Client) AddressesEqual(addr1, addr2 string) bool {
	return strings.EqualFold(addr1, addr2)
}
