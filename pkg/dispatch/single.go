package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/types"
)

// SingleOptions tunes a SendOne call
type SingleOptions struct {
	Unlock Unlock

	// WaitForConfirmation polls until the transaction has one confirmation or the
	// timeout passes. A timeout is reported as an event; the send still succeeded.
	WaitForConfirmation bool
	ConfirmationTimeout time.Duration // zero means 120s
	PollInterval        time.Duration // zero means 1s

	Sink types.EventSink
}

// SendOne submits one payment in its own transaction and returns the transaction id
func (d *Dispatcher) SendOne(ctx context.Context, payment types.Payment, opts *SingleOptions) (string, error) {
	if opts == nil {
		opts = &SingleOptions{}
	}
	if err := validatePayment(payment); err != nil {
		return "", err
	}
	sink := sinkOrDiscard(opts.Sink)

	sink.Emit(event(types.EventAttempt, payment))

	var txid string
	err := d.withUnlockedWallet(ctx, opts.Unlock, func() error {
		var err error
		txid, err = d.client.SubmitSingle(ctx, payment.Address, payment.Amount)
		return err
	})
	if err != nil {
		err = fmt.Errorf("failed to send %s to %s: %w", payment.Amount, payment.Address, err)
		d.logger.Warn("payment failed", "address", payment.Address, "error", err)
		e := event(types.EventFailure, payment)
		e.Error = err
		sink.Emit(e)
		return "", err
	}

	d.logger.Info("payment submitted", "address", payment.Address, "amount", payment.Amount.String(), "txid", txid)
	e := event(types.EventSuccess, payment)
	e.TxID = txid
	sink.Emit(e)

	if opts.WaitForConfirmation && !d.awaitConfirmation(ctx, txid, opts.ConfirmationTimeout, opts.PollInterval) {
		d.logger.Warn("transaction not confirmed before timeout", "txid", txid)
		e := event(types.EventTimeout, payment)
		e.TxID = txid
		sink.Emit(e)
	}
	return txid, nil
}

// awaitConfirmation polls until txid has at least one confirmation. The deadline is
// fixed when polling starts; lookup errors are retried until then.
func (d *Dispatcher) awaitConfirmation(ctx context.Context, txid string, timeout, interval time.Duration) bool {
	if timeout <= 0 {
		timeout = constants.DefaultConfirmationTimeout
	}
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	ctx, cancel := context.WithDeadline(ctx, time.Now().Add(timeout))
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		count, err := d.client.GetConfirmationCount(ctx, txid)
		switch {
		case err != nil:
			d.logger.Debug("confirmation lookup failed", "txid", txid, "error", err)
		case count != nil && *count >= 1:
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
