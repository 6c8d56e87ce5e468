package fees

import (
	"math/big"

	"github.com/sigweihq/chainpay/pkg/chains"
)

// FeeExtractor selects the per-transaction fee value a percentile is taken over.
// Name keys the per-block percentile cache, so two extractors must not share a name.
type FeeExtractor struct {
	Name    string
	Extract func(tx chains.Transaction) *big.Int
}

var (
	// GasPriceExtractor uses the full gas price (legacy chains) or fee rate (UTXO chains)
	GasPriceExtractor = FeeExtractor{
		Name:    "gas-price",
		Extract: func(tx chains.Transaction) *big.Int { return tx.GasPrice },
	}

	// PriorityFeeExtractor uses the tip paid above the base fee
	PriorityFeeExtractor = FeeExtractor{
		Name:    "priority-fee",
		Extract: func(tx chains.Transaction) *big.Int { return tx.PriorityFee },
	}

	// TotalFeeExtractor uses the total fee paid by the transaction
	TotalFeeExtractor = FeeExtractor{
		Name:    "total-fee",
		Extract: func(tx chains.Transaction) *big.Int { return tx.Fee },
	}
)
