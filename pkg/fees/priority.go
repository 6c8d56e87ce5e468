package fees

import (
	"context"
	"fmt"
	"math/big"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/constants"
)

// PriorityFeeRequest selects how the priority fee (tip) is chosen
type PriorityFeeRequest struct {
	// PriorityFee is used as-is when positive
	PriorityFee *big.Int

	// Percentile in (0, 100] estimates the tip from recent blocks when PriorityFee is unset
	Percentile int

	// MinPriorityFee floors the estimated tip and is the tip when neither of the above
	// applies. Nil means 2.5 gwei.
	MinPriorityFee *big.Int
}

func (r PriorityFeeRequest) floor() *big.Int {
	if r.MinPriorityFee != nil && r.MinPriorityFee.Sign() > 0 {
		return r.MinPriorityFee
	}
	return big.NewInt(constants.DefaultPriorityFeeWei)
}

// EstimateMaxPriorityFee returns the tip to offer
func (e *Estimator) EstimateMaxPriorityFee(ctx context.Context, req PriorityFeeRequest) (*big.Int, error) {
	if req.PriorityFee != nil && req.PriorityFee.Sign() > 0 {
		return new(big.Int).Set(req.PriorityFee), nil
	}
	floor := req.floor()
	if req.Percentile > 0 && req.Percentile <= 100 {
		return e.Estimate(ctx, EstimateRequest{
			Percentile:      req.Percentile,
			DefaultEstimate: floor,
			Extractor:       PriorityFeeExtractor,
		})
	}
	return new(big.Int).Set(floor), nil
}

// EstimateMaxFee returns the max fee per gas for a base-fee transaction: twice the
// latest base fee plus the priority fee
func (e *Estimator) EstimateMaxFee(ctx context.Context, req PriorityFeeRequest) (*big.Int, error) {
	baseFee, err := e.client.GetCurrentBaseFeeOrGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get base fee: %w", err)
	}
	priorityFee, err := e.EstimateMaxPriorityFee(ctx, req)
	if err != nil {
		return nil, err
	}
	doubled, err := bigmath.MultiplyFloor(baseFee, 2)
	if err != nil {
		return nil, err
	}
	return doubled.Add(doubled, priorityFee), nil
}

// EstimateGasPrice returns a legacy gas price (or UTXO fee rate): the 25th percentile
// estimate over recent blocks, floored at the node's own suggestion
func (e *Estimator) EstimateGasPrice(ctx context.Context) (*big.Int, error) {
	nodePrice, err := e.client.GetCurrentBaseFeeOrGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return e.Estimate(ctx, EstimateRequest{
		Percentile:      constants.DefaultFeePercentile,
		DefaultEstimate: nodePrice,
		Extractor:       GasPriceExtractor,
	})
}
