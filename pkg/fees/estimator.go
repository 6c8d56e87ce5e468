// Package fees estimates transaction fees from recent block history.
//
// Estimates combine a short window (the newer half of the sampled blocks) with the
// full window: the result is the larger of the two averages plus their distance, and
// never less than the caller's default.
package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/types"
)

// Options configures an Estimator. The zero value uses the package defaults.
type Options struct {
	BlockCount          int // blocks sampled per estimate; also the block cache capacity
	PercentileCacheSize int
	MaxConcurrentFetch  int // 0 fetches all missing blocks at once
	Logger              *slog.Logger
	Sink                types.EventSink // receives a failure event when block history is unavailable
}

// WithLogger returns a copy of o that logs to logger unless o already names one.
// A nil receiver yields the defaults.
func (o *Options) WithLogger(logger *slog.Logger) *Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = logger
	}
	return &out
}

// Estimator derives fee estimates for one chain client. Safe for concurrent use.
type Estimator struct {
	client      chains.Client
	blockCount  int
	fetchLimit  int
	blocks      *Cache[*chains.Block]
	percentiles *Cache[map[string]*big.Int]
	logger      *slog.Logger
	sink        types.EventSink
}

// NewEstimator creates an estimator backed by client
func NewEstimator(client chains.Client, opts *Options) *Estimator {
	if opts == nil {
		opts = &Options{}
	}
	blockCount := opts.BlockCount
	if blockCount <= 0 {
		blockCount = constants.DefaultFeeBlockCount
	}
	percentileSize := opts.PercentileCacheSize
	if percentileSize <= 0 {
		percentileSize = constants.DefaultPercentileCacheSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = types.Discard
	}

	return &Estimator{
		client:      client,
		blockCount:  blockCount,
		fetchLimit:  opts.MaxConcurrentFetch,
		blocks:      NewCache[*chains.Block](blockCount),
		percentiles: NewCache[map[string]*big.Int](percentileSize),
		logger:      logger.With("network", client.Network()),
		sink:        sink,
	}
}

// Client returns the chain client the estimator samples
func (e *Estimator) Client() chains.Client {
	return e.client
}

// EstimateRequest describes one estimate
type EstimateRequest struct {
	// Percentile of each block's fees to sample, in (0, 100]. Zero means 25.
	Percentile int

	// DefaultEstimate is any exact number bigmath accepts (e.g., *big.Int, int64, "1000").
	// It is returned when no history is available and is the floor of every estimate.
	DefaultEstimate any

	// Extractor selects the fee field; the zero value uses GasPriceExtractor
	Extractor FeeExtractor
}

// Estimate returns a fee estimate over the most recent blocks. Errors are returned only
// for invalid requests; failure to read block history yields the default estimate.
func (e *Estimator) Estimate(ctx context.Context, req EstimateRequest) (*big.Int, error) {
	defaultEstimate, err := bigmath.ToBigInt(req.DefaultEstimate)
	if err != nil {
		return nil, fmt.Errorf("invalid default estimate: %w", err)
	}
	percentile := req.Percentile
	if percentile == 0 {
		percentile = constants.DefaultFeePercentile
	}
	if percentile < 0 || percentile > 100 {
		return nil, fmt.Errorf("%w: percentile %d outside (0, 100]", bigmath.ErrInvalidArgument, percentile)
	}
	extractor := req.Extractor
	if extractor.Extract == nil {
		extractor = GasPriceExtractor
	}

	blocks, err := e.RecentBlocks(ctx, e.blockCount)
	if err != nil {
		e.reportFetchFailure(err)
		return defaultEstimate, nil
	}

	var samples []*big.Int
	for _, block := range blocks {
		if sample, ok := e.blockPercentile(block, extractor, percentile); ok {
			samples = append(samples, sample)
		}
	}
	if len(samples) == 0 {
		e.logger.Debug("no fee samples in recent blocks, using default",
			"extractor", extractor.Name,
			"default", defaultEstimate.String())
		return defaultEstimate, nil
	}

	estimate, err := combine(samples, defaultEstimate)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("fee estimate",
		"extractor", extractor.Name,
		"percentile", percentile,
		"samples", len(samples),
		"estimate", estimate.String())
	return estimate, nil
}

// combine merges per-block samples (newest first) with the default floor
func combine(samples []*big.Int, defaultEstimate *big.Int) (*big.Int, error) {
	short, err := bigmath.Average(samples[:(len(samples)+1)/2])
	if err != nil {
		return nil, err
	}
	long, err := bigmath.Average(samples)
	if err != nil {
		return nil, err
	}

	divergence, err := bigmath.Abs(new(big.Int).Sub(short, long))
	if err != nil {
		return nil, err
	}
	higher, err := bigmath.Max(short, long)
	if err != nil {
		return nil, err
	}
	padded := new(big.Int).Add(higher.(*big.Int), divergence.(*big.Int))

	result, err := bigmath.Max(padded, defaultEstimate)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(result.(*big.Int)), nil
}

// RecentBlocks returns up to count blocks ending at the chain tip, newest first.
// Cached blocks are not fetched again. Any failed fetch fails the whole call with a
// *BlockFetchError. count must be positive.
func (e *Estimator) RecentBlocks(ctx context.Context, count int) ([]*chains.Block, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: block count %d", bigmath.ErrInvalidArgument, count)
	}
	tip, err := e.client.LatestBlockHeight(ctx)
	if err != nil {
		return nil, &BlockFetchError{Err: err}
	}

	n := uint64(count)
	if n > tip+1 {
		n = tip + 1
	}
	blocks := make([]*chains.Block, n)

	g, gctx := errgroup.WithContext(ctx)
	if e.fetchLimit > 0 {
		g.SetLimit(e.fetchLimit)
	}
	for i := uint64(0); i < n; i++ {
		height := tip - i
		if block, ok := e.blocks.Get(height); ok {
			blocks[i] = block
			continue
		}
		g.Go(func() error {
			block, err := e.client.BlockByHeight(gctx, height)
			if err == nil && block == nil {
				err = errors.New("node returned no block")
			}
			if err != nil {
				return &BlockFetchError{Height: &height, Err: err}
			}
			blocks[i] = block
			e.blocks.Add(height, block)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// blockPercentile returns the cached or freshly computed percentile of a block's fees.
// Blocks without usable fee data yield no sample.
func (e *Estimator) blockPercentile(block *chains.Block, extractor FeeExtractor, percentile int) (*big.Int, bool) {
	key := fmt.Sprintf("%s/%d", extractor.Name, percentile)
	if cached, ok := e.percentiles.Get(block.Height); ok {
		if v, ok := cached[key]; ok {
			return v, true
		}
	}

	var values []*big.Int
	for _, tx := range block.Transactions {
		if v := extractor.Extract(tx); v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, false
	}
	if err := bigmath.SortDescending(values); err != nil {
		return nil, false
	}

	n := len(values)
	index := n*percentile/100 - percentile/100
	if index < 0 || index >= n {
		return nil, false
	}
	sample := values[index]

	e.percentiles.Update(block.Height, func(old map[string]*big.Int, found bool) map[string]*big.Int {
		next := make(map[string]*big.Int, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[key] = sample
		return next
	})
	return sample, true
}

func (e *Estimator) reportFetchFailure(err error) {
	e.logger.Warn("block history unavailable, using default fee estimate", "error", err)
	e.sink.Emit(types.Event{Kind: types.EventFailure, Error: err})
}
