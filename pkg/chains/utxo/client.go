package utxo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/fees"
)

// satoshiDecimals is the decimal places of a coin on every supported variant
const satoshiDecimals = 8

// Options configures a UTXO client for one wallet node
type Options struct {
	Host   string // host:port of the node's RPC server
	User   string
	Pass   string
	UseTLS bool

	// Variant selects chain params and RPC dialect; defaults from the network name
	Variant string

	AddressCacheSize int
	Fees             *fees.Options
	Logger           *slog.Logger
}

// Client implements chains.Client, chains.BatchSubmitter, chains.WalletLocker and
// chains.AddressComparer for bitcoind-style wallet nodes.
// Fee figures are in satoshis; fee rates in satoshis per virtual byte.
type Client struct {
	network string
	host    string
	variant Variant

	// rpc is kept so Close can shut it down; node is used for every call and may be a stub
	rpc  *rpcclient.Client
	node btcNode

	addresses *lru.Cache[string, btcutil.Address]
	estimator *fees.Estimator
	logger    *slog.Logger
}

var (
	_ chains.Client          = (*Client)(nil)
	_ chains.BatchSubmitter  = (*Client)(nil)
	_ chains.WalletLocker    = (*Client)(nil)
	_ chains.AddressComparer = (*Client)(nil)
)

// NewClient creates a client for the wallet node at opts.Host
func NewClient(network string, opts *Options) (*Client, error) {
	if opts == nil || opts.Host == "" {
		return nil, fmt.Errorf("no RPC host configured for network %s", network)
	}
	variant, err := variantFor(network, opts.Variant)
	if err != nil {
		return nil, err
	}

	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		HTTPPostMode: true,
		DisableTLS:   !opts.UseTLS,
		Host:         opts.Host,
		User:         opts.User,
		Pass:         opts.Pass,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating %s RPC client: %w", network, err)
	}

	c, err := newClient(network, variant, rpc, opts)
	if err != nil {
		rpc.Shutdown()
		return nil, err
	}
	c.rpc = rpc
	return c, nil
}

func newClient(network string, variant Variant, node btcNode, opts *Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.AddressCacheSize
	if size <= 0 {
		size = constants.DefaultAddressCacheSize
	}
	addresses, err := lru.New[string, btcutil.Address](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}

	c := &Client{
		network:   network,
		host:      opts.Host,
		variant:   variant,
		node:      node,
		addresses: addresses,
		logger:    logger.With("network", network),
	}
	c.estimator = fees.NewEstimator(c, opts.Fees.WithLogger(logger))
	return c, nil
}

// Close shuts down the RPC connection
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Shutdown()
	}
}

// Network implements chains.Client
func (c *Client) Network() string {
	return c.network
}

// Variant returns the node dialect the client speaks
func (c *Client) Variant() Variant {
	return c.variant
}

// Estimator returns the client's fee estimator
func (c *Client) Estimator() *fees.Estimator {
	return c.estimator
}

// LatestBlockHeight implements chains.Client
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	count, err := call(ctx, c.host, c.node.GetBlockCount)
	if err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// verboseBlock is getblock at verbosity 2. Fees are kept as exact decimals.
type verboseBlock struct {
	Height int64 `json:"height"`
	Tx     []struct {
		Txid  string           `json:"txid"`
		Size  int64            `json:"size"`
		Vsize int64            `json:"vsize"`
		Fee   *decimal.Decimal `json:"fee"`
	} `json:"tx"`
}

// BlockByHeight implements chains.Client. Each transaction's GasPrice is its fee rate.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*chains.Block, error) {
	hash, err := call(ctx, c.host, func() (*chainhash.Hash, error) {
		return c.node.GetBlockHash(int64(height))
	})
	if err != nil {
		return nil, err
	}

	params := []json.RawMessage{mustJSON(hash.String()), json.RawMessage("2")}
	raw, err := call(ctx, c.host, func() (json.RawMessage, error) {
		return c.node.RawRequest("getblock", params)
	})
	if err != nil {
		return nil, err
	}

	var vb verboseBlock
	if err := json.Unmarshal(raw, &vb); err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", height, err)
	}
	return toBlock(height, &vb)
}

func toBlock(height uint64, vb *verboseBlock) (*chains.Block, error) {
	block := &chains.Block{Height: height}
	for _, tx := range vb.Tx {
		// the coinbase has no fee
		if tx.Fee == nil {
			continue
		}
		size := tx.Vsize
		if size <= 0 {
			size = tx.Size
		}
		if size <= 0 {
			continue
		}

		fee, err := bigmath.ToBigInt(tx.Fee.Shift(satoshiDecimals))
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.Txid, err)
		}
		rate, err := bigmath.DivideCeil(fee, size)
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, chains.Transaction{
			ID:       tx.Txid,
			GasPrice: rate,
			Fee:      fee,
		})
	}
	return block, nil
}

// GetCurrentBaseFeeOrGasPrice implements chains.Client with the node's fee rate
// estimate in sat/vbyte; the minimum relay rate when the node has none.
func (c *Client) GetCurrentBaseFeeOrGasPrice(ctx context.Context) (*big.Int, error) {
	perKB, err := c.feePerKB(ctx)
	if err != nil {
		return nil, err
	}
	if perKB.Sign() <= 0 {
		return big.NewInt(constants.UTXOMinRelayFeeRate), nil
	}
	rate, err := bigmath.DivideCeil(perKB.Shift(satoshiDecimals), 1000)
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// feePerKB returns the estimated fee in coins per kilobyte, or zero
func (c *Client) feePerKB(ctx context.Context) (decimal.Decimal, error) {
	if c.variant.SmartFee {
		res, err := call(ctx, c.host, func() (*btcjson.EstimateSmartFeeResult, error) {
			return c.node.EstimateSmartFee(constants.UTXOFeeConfTarget, &btcjson.EstimateModeConservative)
		})
		if err != nil {
			return decimal.Zero, err
		}
		if len(res.Errors) > 0 || res.FeeRate == nil {
			c.logger.Debug("node has no fee estimate", "errors", res.Errors)
			return decimal.Zero, nil
		}
		return decimal.NewFromFloat(*res.FeeRate), nil
	}

	var params []json.RawMessage
	if c.variant.FeeTargetArg {
		params = append(params, mustJSON(constants.UTXOFeeConfTarget))
	}
	raw, err := call(ctx, c.host, func() (json.RawMessage, error) {
		return c.node.RawRequest("estimatefee", params)
	})
	if err != nil {
		return decimal.Zero, err
	}
	var perKB decimal.Decimal
	if err := json.Unmarshal(raw, &perKB); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode fee estimate: %w", err)
	}
	return perKB, nil
}

// SubmitSingle implements chains.Client with sendtoaddress
func (c *Client) SubmitSingle(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	if err := c.validateAddress(address); err != nil {
		return "", err
	}
	amt, err := amountJSON(amount)
	if err != nil {
		return "", err
	}

	txid, err := c.send(ctx, "sendtoaddress", []json.RawMessage{mustJSON(address), amt})
	if err != nil {
		return "", err
	}
	c.logger.Info("transaction sent", "txid", txid, "to", address, "amount", amount.String())
	return txid, nil
}

// MaxBatchOutputs implements chains.BatchSubmitter; wallet nodes impose no output limit
func (c *Client) MaxBatchOutputs() int {
	return 0
}

// SubmitBatch implements chains.BatchSubmitter with sendmany. Output positions are
// read back from the wallet, since the node shuffles outputs and adds change.
func (c *Client) SubmitBatch(ctx context.Context, outputs []chains.Output, opts *chains.SubmitOptions) (*chains.BatchReceipt, error) {
	if len(outputs) == 0 {
		return nil, errors.New("empty batch")
	}
	if opts == nil {
		opts = &chains.SubmitOptions{}
	}

	amounts, err := c.amountsObject(outputs)
	if err != nil {
		return nil, err
	}
	params := []json.RawMessage{mustJSON(""), amounts}
	if opts.Comment != "" || len(opts.SubtractFeeFrom) > 0 {
		params = append(params, mustJSON(1), mustJSON(opts.Comment))
	}
	if len(opts.SubtractFeeFrom) > 0 {
		params = append(params, mustJSON(opts.SubtractFeeFrom))
	}

	txid, err := c.send(ctx, "sendmany", params)
	if err != nil {
		return nil, err
	}
	c.logger.Info("transaction sent", "txid", txid, "outputs", len(outputs))

	receipt := &chains.BatchReceipt{TxID: txid}
	located, err := c.locateOutputs(ctx, txid, outputs)
	if err != nil {
		c.logger.Warn("failed to read output positions", "txid", txid, "error", err)
		return receipt, nil
	}
	receipt.Outputs = located
	return receipt, nil
}

// amountsObject renders the sendmany address -> amount object with amounts written
// as exact JSON numbers, in output order
func (c *Client) amountsObject(outputs []chains.Output) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(outputs))
	for i, out := range outputs {
		if err := c.validateAddress(out.Address); err != nil {
			return nil, err
		}
		if seen[out.Address] {
			return nil, fmt.Errorf("duplicate output address %s", out.Address)
		}
		seen[out.Address] = true

		amt, err := amountJSON(out.Amount)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(mustJSON(out.Address))
		buf.WriteByte(':')
		buf.Write(amt)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// send broadcasts through the wallet. Once the request is out, the node's answer is
// awaited even if ctx is cancelled, since the wallet may already have broadcast.
func (c *Client) send(ctx context.Context, method string, params []json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s not sent: %w", method, err)
	}
	raw, err := call(context.WithoutCancel(ctx), c.host, func() (json.RawMessage, error) {
		return c.node.RawRequest(method, params)
	})
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", method, err)
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return txid, nil
}

// locateOutputs matches each output to a "send" detail of the wallet transaction
func (c *Client) locateOutputs(ctx context.Context, txid string, outputs []chains.Output) ([]chains.ReceiptOutput, error) {
	tx, err := c.transaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	used := make(map[int]bool, len(tx.Details))
	var located []chains.ReceiptOutput
	for _, out := range outputs {
		for j, d := range tx.Details {
			if used[j] || d.Category != "send" || !c.AddressesEqual(d.Address, out.Address) {
				continue
			}
			used[j] = true
			located = append(located, chains.ReceiptOutput{Address: out.Address, Index: d.Vout})
			break
		}
	}
	return located, nil
}

func (c *Client) transaction(ctx context.Context, txid string) (*btcjson.GetTransactionResult, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s: %w", txid, err)
	}
	return call(ctx, c.host, func() (*btcjson.GetTransactionResult, error) {
		return c.node.GetTransaction(hash)
	})
}

// GetConfirmationCount implements chains.Client for wallet transactions
func (c *Client) GetConfirmationCount(ctx context.Context, txid string) (*int64, error) {
	tx, err := c.transaction(ctx, txid)
	if hasCode(err, btcjson.ErrRPCInvalidAddressOrKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n := tx.Confirmations
	return &n, nil
}

// UnlockWallet implements chains.WalletLocker. Unencrypted wallets need no unlock.
func (c *Client) UnlockWallet(ctx context.Context, passphrase string, duration time.Duration) error {
	err := exec(ctx, c.host, func() error {
		return c.node.WalletPassphrase(passphrase, int64(duration.Seconds()))
	})
	if hasCode(err, btcjson.ErrRPCWalletWrongEncState) {
		return nil
	}
	return err
}

// LockWallet implements chains.WalletLocker
func (c *Client) LockWallet(ctx context.Context) error {
	err := exec(ctx, c.host, c.node.WalletLock)
	if hasCode(err, btcjson.ErrRPCWalletWrongEncState) {
		return nil
	}
	return err
}

// AddressesEqual implements chains.AddressComparer. Addresses compare by their
// canonical encoding, so bech32 case differences do not matter.
func (c *Client) AddressesEqual(addr1, addr2 string) bool {
	if addr1 == addr2 {
		return true
	}
	if !c.variant.Decodable {
		return false
	}
	a, err1 := c.decodeAddress(addr1)
	b, err2 := c.decodeAddress(addr2)
	if err1 != nil || err2 != nil {
		return false
	}
	return a.EncodeAddress() == b.EncodeAddress()
}

func (c *Client) validateAddress(address string) error {
	if address == "" {
		return errors.New("empty address")
	}
	if !c.variant.Decodable {
		return nil
	}
	_, err := c.decodeAddress(address)
	return err
}

// decodeAddress parses address for the client's network, caching the result
func (c *Client) decodeAddress(address string) (btcutil.Address, error) {
	if addr, ok := c.addresses.Get(address); ok {
		return addr, nil
	}
	addr, err := btcutil.DecodeAddress(address, c.variant.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid %s address %s: %w", c.network, address, err)
	}
	if !addr.IsForNet(c.variant.Params) {
		return nil, fmt.Errorf("address %s is not for network %s", address, c.network)
	}
	c.addresses.Add(address, addr)
	return addr, nil
}

// amountJSON writes amount as a JSON number with at most 8 decimal places
func amountJSON(amount decimal.Decimal) (json.RawMessage, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	if !amount.Equal(amount.Truncate(satoshiDecimals)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, satoshiDecimals)
	}
	return json.RawMessage(amount.String()), nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
