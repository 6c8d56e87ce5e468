package dispatch

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/types"
)

// BatchOptions bounds and observes a SendMany call
type BatchOptions struct {
	// MaxValue caps the summed amount of one batch; zero is unbounded
	MaxValue decimal.Decimal

	// MaxOutputs caps the payments in one batch; zero means 100, and the chain's own
	// limit applies when it is lower
	MaxOutputs int

	Unlock Unlock
	Submit *chains.SubmitOptions
	Sink   types.EventSink
}

// SendMany groups payments into batches in queue order and submits each batch as one
// transaction. Every payment gets exactly one result, in input order. A rejected batch
// fails only its own payments; later batches are still submitted.
//
// Clients without chains.BatchSubmitter send every payment as its own transaction.
//
// Errors are returned only when nothing was submitted: invalid payments or options,
// or a failed wallet unlock.
func (d *Dispatcher) SendMany(ctx context.Context, payments []types.Payment, opts *BatchOptions) ([]types.PaymentResult, error) {
	if opts == nil {
		opts = &BatchOptions{}
	}
	submitter, ok := d.client.(chains.BatchSubmitter)
	if !ok {
		submitter = singleSubmitter{client: d.client}
	}
	if opts.MaxValue.IsNegative() || opts.MaxOutputs < 0 {
		return nil, fmt.Errorf("%w: negative batch bounds", bigmath.ErrInvalidArgument)
	}
	for _, p := range payments {
		if err := validatePayment(p); err != nil {
			return nil, err
		}
	}

	maxOutputs := opts.MaxOutputs
	if maxOutputs == 0 {
		maxOutputs = constants.DefaultMaxOutputs
	}
	if limit := submitter.MaxBatchOutputs(); limit > 0 && limit < maxOutputs {
		maxOutputs = limit
	}
	sink := sinkOrDiscard(opts.Sink)

	results := make([]types.PaymentResult, 0, len(payments))
	err := d.withUnlockedWallet(ctx, opts.Unlock, func() error {
		queue := payments
		batchNum := 0
		for len(queue) > 0 {
			if exceeds(queue[0].Amount, opts.MaxValue) {
				results = append(results, d.rejectOversized(queue[0], opts.MaxValue, sink))
				queue = queue[1:]
				continue
			}

			var batch []types.Payment
			batch, queue = d.fillBatch(queue, opts.MaxValue, maxOutputs, sink)
			batchNum++
			results = append(results, d.submitBatch(ctx, submitter, batchNum, batch, opts.Submit, sink)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sink.Emit(types.Event{Kind: types.EventDone})
	return results, nil
}

// fillBatch takes payments from the front of queue until the next one would push the
// batch over maxValue, the batch holds maxOutputs payments, or the next address is
// already in the batch. The first payment always fits.
func (d *Dispatcher) fillBatch(queue []types.Payment, maxValue decimal.Decimal, maxOutputs int, sink types.EventSink) ([]types.Payment, []types.Payment) {
	limit := min(maxOutputs, len(queue))
	total := decimal.Zero
	n := 0
	for n < limit {
		p := queue[n]
		next := total.Add(p.Amount)
		if n > 0 && (exceeds(next, maxValue) || d.containsAddress(queue[:n], p.Address)) {
			break
		}
		sink.Emit(event(types.EventAttempt, p))
		total = next
		n++
	}
	return queue[:n], queue[n:]
}

func (d *Dispatcher) containsAddress(batch []types.Payment, address string) bool {
	for _, p := range batch {
		if chains.AddressesEqual(d.client, p.Address, address) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) rejectOversized(p types.Payment, maxValue decimal.Decimal, sink types.EventSink) types.PaymentResult {
	sink.Emit(event(types.EventAttempt, p))
	err := fmt.Errorf("%w: amount %s exceeds the batch value limit %s", bigmath.ErrInvalidArgument, p.Amount, maxValue)
	d.logger.Warn("payment cannot fit in any batch", "address", p.Address, "amount", p.Amount.String(), "error", err)

	e := event(types.EventFailure, p)
	e.Error = err
	sink.Emit(e)
	return types.PaymentResult{Payment: p, Outcome: types.OutcomeFailure, Error: err}
}

func (d *Dispatcher) submitBatch(ctx context.Context, submitter chains.BatchSubmitter, num int, batch []types.Payment, submitOpts *chains.SubmitOptions, sink types.EventSink) []types.PaymentResult {
	outputs := make([]chains.Output, len(batch))
	for i, p := range batch {
		outputs[i] = chains.Output{Address: p.Address, Amount: p.Amount}
	}

	results := make([]types.PaymentResult, len(batch))
	receipt, err := submitter.SubmitBatch(ctx, outputs, submitOpts)
	if err != nil {
		batchErr := &BatchSubmissionError{Batch: num, Size: len(batch), Err: err}
		d.logger.Warn("batch submission failed", "batch", num, "outputs", len(batch), "error", err)
		for i, p := range batch {
			results[i] = types.PaymentResult{Payment: p, Outcome: types.OutcomeFailure, Error: batchErr}
			e := event(types.EventFailure, p)
			e.Error = batchErr
			sink.Emit(e)
		}
		return results
	}

	d.logger.Info("batch submitted", "batch", num, "outputs", len(batch), "txid", receipt.TxID)
	used := make(map[int]bool, len(receipt.Outputs))
	for i, p := range batch {
		vout := d.locateOutput(receipt, p.Address, used)
		results[i] = types.PaymentResult{Payment: p, Outcome: types.OutcomeSuccess, TxID: receipt.TxID, Vout: vout}
		e := event(types.EventSuccess, p)
		e.TxID = receipt.TxID
		e.Vout = vout
		sink.Emit(e)
	}
	return results
}

// locateOutput finds the first unclaimed receipt output paying address. Receipts
// without a match (or without outputs at all) leave the locator unset.
func (d *Dispatcher) locateOutput(receipt *chains.BatchReceipt, address string, used map[int]bool) *uint32 {
	for i, out := range receipt.Outputs {
		if used[i] || !chains.AddressesEqual(d.client, out.Address, address) {
			continue
		}
		used[i] = true
		index := out.Index
		return &index
	}
	return nil
}

// singleSubmitter sends batches of one through SubmitSingle for clients that can only
// move value to one destination per transaction
type singleSubmitter struct {
	client chains.Client
}

func (s singleSubmitter) SubmitBatch(ctx context.Context, outputs []chains.Output, _ *chains.SubmitOptions) (*chains.BatchReceipt, error) {
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%s: %d outputs: %w", s.client.Network(), len(outputs), chains.ErrBatchUnsupported)
	}
	txid, err := s.client.SubmitSingle(ctx, outputs[0].Address, outputs[0].Amount)
	if err != nil {
		return nil, err
	}
	return &chains.BatchReceipt{TxID: txid}, nil
}

func (s singleSubmitter) MaxBatchOutputs() int {
	return 1
}
