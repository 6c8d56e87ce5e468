package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/dispatch"
	"github.com/sigweihq/chainpay/pkg/fees"
	"github.com/sigweihq/chainpay/pkg/types"
)

// Config holds the defaults the processor applies to every network
type Config struct {
	// Fees configures estimators for clients that do not carry their own
	Fees *fees.Options

	// FeePercentile is the percentile EstimateFee samples; zero means 25
	FeePercentile int

	// PriorityFeePercentile estimates tips from recent blocks when set; otherwise
	// MinPriorityFee (2.5 gwei when nil) is offered
	PriorityFeePercentile int
	MinPriorityFee        *big.Int

	// Batch and send defaults, used when a call leaves them zero
	MaxValue            decimal.Decimal
	MaxOutputs          int
	UnlockDuration      time.Duration
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
}

// estimatorProvider is implemented by clients that price their own transactions
type estimatorProvider interface {
	Estimator() *fees.Estimator
}

type estimatorEntry struct {
	once      sync.Once
	estimator *fees.Estimator
}

// FeeQuote is the suggested pricing for a transfer on one network. Base-fee networks
// fill MaxFee and MaxPriorityFee; the others fill GasPrice.
type FeeQuote struct {
	Network        string   `json:"network"`
	BaseFee        bool     `json:"baseFee"`
	MaxFee         *big.Int `json:"maxFee,omitempty"`
	MaxPriorityFee *big.Int `json:"maxPriorityFee,omitempty"`
	GasPrice       *big.Int `json:"gasPrice,omitempty"`
}

// PaymentProcessor routes fee estimates and payments to the chain client registered
// for a network
type PaymentProcessor struct {
	registry           *chains.Registry
	config             *Config
	networkToEstimator sync.Map

	logger *slog.Logger
}

// NewPaymentProcessor creates a processor over registry; a nil registry uses the global one
func NewPaymentProcessor(registry *chains.Registry, config *Config, logger *slog.Logger) *PaymentProcessor {
	if registry == nil {
		registry = chains.InitGlobalRegistry()
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentProcessor{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Networks lists the networks the processor can serve
func (p *PaymentProcessor) Networks() []string {
	return p.registry.GetSupportedNetworks()
}

// getEstimator returns the network's estimator, creating it once on first use so
// every network keeps a single fee cache
func (p *PaymentProcessor) getEstimator(network string) (*fees.Estimator, error) {
	client, err := p.registry.Get(network)
	if err != nil {
		return nil, err
	}
	if provider, ok := client.(estimatorProvider); ok {
		return provider.Estimator(), nil
	}

	value, _ := p.networkToEstimator.LoadOrStore(network, &estimatorEntry{})
	entry := value.(*estimatorEntry)
	entry.once.Do(func() {
		entry.estimator = fees.NewEstimator(client, p.config.Fees.WithLogger(p.logger))
	})
	return entry.estimator, nil
}

func (p *PaymentProcessor) priorityFeeRequest() fees.PriorityFeeRequest {
	return fees.PriorityFeeRequest{
		Percentile:     p.config.PriorityFeePercentile,
		MinPriorityFee: p.config.MinPriorityFee,
	}
}

// EstimateFee returns the fee estimate for network over recent blocks. defaultEstimate
// is any exact number and is both the fallback and the floor.
func (p *PaymentProcessor) EstimateFee(ctx context.Context, network string, defaultEstimate any) (*big.Int, error) {
	estimator, err := p.getEstimator(network)
	if err != nil {
		return nil, err
	}
	return estimator.Estimate(ctx, fees.EstimateRequest{
		Percentile:      p.config.FeePercentile,
		DefaultEstimate: defaultEstimate,
	})
}

// EstimateMaxPriorityFee returns the tip to offer on a base-fee network
func (p *PaymentProcessor) EstimateMaxPriorityFee(ctx context.Context, network string) (*big.Int, error) {
	estimator, err := p.getEstimator(network)
	if err != nil {
		return nil, err
	}
	return estimator.EstimateMaxPriorityFee(ctx, p.priorityFeeRequest())
}

// EstimateMaxFee returns the max fee per gas on a base-fee network
func (p *PaymentProcessor) EstimateMaxFee(ctx context.Context, network string) (*big.Int, error) {
	estimator, err := p.getEstimator(network)
	if err != nil {
		return nil, err
	}
	return estimator.EstimateMaxFee(ctx, p.priorityFeeRequest())
}

// EstimateGasPrice returns the legacy gas price (or fee rate) for network
func (p *PaymentProcessor) EstimateGasPrice(ctx context.Context, network string) (*big.Int, error) {
	estimator, err := p.getEstimator(network)
	if err != nil {
		return nil, err
	}
	return estimator.EstimateGasPrice(ctx)
}

// SuggestFees quotes fees for network, choosing base-fee pricing when the latest
// block reports a base fee and a legacy gas price otherwise
func (p *PaymentProcessor) SuggestFees(ctx context.Context, network string) (*FeeQuote, error) {
	estimator, err := p.getEstimator(network)
	if err != nil {
		return nil, err
	}

	quote := &FeeQuote{Network: network}
	blocks, err := estimator.RecentBlocks(ctx, 1)
	if err != nil {
		p.logger.Warn("could not read latest block, quoting gas price", "network", network, "error", err)
	} else if len(blocks) > 0 && blocks[0].BaseFee != nil {
		quote.BaseFee = true
	}

	if quote.BaseFee {
		if quote.MaxPriorityFee, err = estimator.EstimateMaxPriorityFee(ctx, p.priorityFeeRequest()); err != nil {
			return nil, err
		}
		if quote.MaxFee, err = estimator.EstimateMaxFee(ctx, p.priorityFeeRequest()); err != nil {
			return nil, err
		}
		return quote, nil
	}

	if quote.GasPrice, err = estimator.EstimateGasPrice(ctx); err != nil {
		return nil, err
	}
	return quote, nil
}

// SendMany dispatches payments on network in value- and size-bounded batches.
// Zero bounds in opts take the processor defaults.
func (p *PaymentProcessor) SendMany(ctx context.Context, network string, payments []types.Payment, opts *dispatch.BatchOptions) ([]types.PaymentResult, error) {
	client, err := p.registry.Get(network)
	if err != nil {
		return nil, err
	}

	batchOpts := dispatch.BatchOptions{}
	if opts != nil {
		batchOpts = *opts
	}
	if batchOpts.MaxValue.IsZero() {
		batchOpts.MaxValue = p.config.MaxValue
	}
	if batchOpts.MaxOutputs == 0 {
		batchOpts.MaxOutputs = p.config.MaxOutputs
	}
	if batchOpts.Unlock.Duration == 0 {
		batchOpts.Unlock.Duration = p.config.UnlockDuration
	}

	p.logger.Info("Dispatching payments",
		"network", network,
		"payments", len(payments),
		"maxValue", batchOpts.MaxValue.String(),
		"maxOutputs", batchOpts.MaxOutputs)

	results, err := dispatch.New(client, p.logger).SendMany(ctx, payments, &batchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch payments on %s: %w", network, err)
	}
	return results, nil
}

// SendOne submits a single payment on network and returns the transaction id
func (p *PaymentProcessor) SendOne(ctx context.Context, network string, payment types.Payment, opts *dispatch.SingleOptions) (string, error) {
	client, err := p.registry.Get(network)
	if err != nil {
		return "", err
	}

	singleOpts := dispatch.SingleOptions{}
	if opts != nil {
		singleOpts = *opts
	}
	if singleOpts.Unlock.Duration == 0 {
		singleOpts.Unlock.Duration = p.config.UnlockDuration
	}
	if singleOpts.ConfirmationTimeout == 0 {
		singleOpts.ConfirmationTimeout = p.config.ConfirmationTimeout
	}
	if singleOpts.PollInterval == 0 {
		singleOpts.PollInterval = p.config.PollInterval
	}

	txid, err := dispatch.New(client, p.logger).SendOne(ctx, payment, &singleOpts)
	if err != nil {
		return "", fmt.Errorf("failed to send payment on %s: %w", network, err)
	}
	return txid, nil
}
