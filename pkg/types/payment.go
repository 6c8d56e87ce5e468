package types

import (
	"github.com/shopspring/decimal"
)

// Payment is a single transfer request. Amount is in the chain's display unit
// (BTC, ETH, SOL), never a float.
type Payment struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
	ID      string          `json:"id,omitempty"`
}

// Outcome is the terminal state of a dispatched payment
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// PaymentResult is produced exactly once per dispatched payment
type PaymentResult struct {
	Payment Payment `json:"payment"`
	Outcome Outcome `json:"outcome"`
	TxID    string  `json:"txid,omitempty"`
	Vout    *uint32 `json:"vout,omitempty"` // output index inside the batch transaction, when known
	Error   error   `json:"-"`
}

// Succeeded reports whether the payment was accepted by the chain
func (r *PaymentResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
