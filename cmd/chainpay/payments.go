package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/types"
)

// readPayments parses address,amount[,id] rows. A leading header row is skipped.
func readPayments(r io.Reader) ([]types.Payment, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var payments []types.Payment
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read payments: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "address") {
			continue
		}
		if len(record) < 2 || len(record) > 3 {
			return nil, fmt.Errorf("line %d: expected address,amount[,id], got %d fields", line, len(record))
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q", line, record[1])
		}
		p := types.Payment{Address: strings.TrimSpace(record[0]), Amount: amount}
		if len(record) == 3 {
			p.ID = strings.TrimSpace(record[2])
		}
		payments = append(payments, p)
	}
	if len(payments) == 0 {
		return nil, errors.New("no payments found")
	}
	return payments, nil
}

// paymentOutput is the JSON form of a types.PaymentResult
type paymentOutput struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
	ID      string          `json:"id,omitempty"`
	Outcome types.Outcome   `json:"outcome"`
	TxID    string          `json:"txid,omitempty"`
	Vout    *uint32         `json:"vout,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func toOutputs(results []types.PaymentResult) []paymentOutput {
	out := make([]paymentOutput, len(results))
	for i, r := range results {
		out[i] = paymentOutput{
			Address: r.Payment.Address,
			Amount:  r.Payment.Amount,
			ID:      r.Payment.ID,
			Outcome: r.Outcome,
			TxID:    r.TxID,
			Vout:    r.Vout,
		}
		if r.Error != nil {
			out[i].Error = r.Error.Error()
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
