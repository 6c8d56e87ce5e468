// Package dispatch sends payments through a chain client, either one per transaction
// or grouped into batches bounded by aggregate value and output count.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/types"
)

// BatchSubmissionError is recorded on every payment of a batch the chain rejected.
// All payments of one batch share the same instance.
type BatchSubmissionError struct {
	Batch int // 1-based position of the batch within the dispatch call
	Size  int
	Err   error
}

func (e *BatchSubmissionError) Error() string {
	return fmt.Sprintf("batch %d (%d outputs) rejected: %v", e.Batch, e.Size, e.Err)
}

func (e *BatchSubmissionError) Unwrap() error {
	return e.Err
}

// Dispatcher submits payments for one chain client
type Dispatcher struct {
	client chains.Client
	logger *slog.Logger
}

// New creates a dispatcher for client
func New(client chains.Client, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client: client,
		logger: logger.With("network", client.Network()),
	}
}

// Unlock configures the wallet unlock bracket. It only applies to clients that
// implement chains.WalletLocker and when a passphrase is set.
type Unlock struct {
	Passphrase string
	Duration   time.Duration // zero means 60s
}

func validatePayment(p types.Payment) error {
	if p.Address == "" {
		return fmt.Errorf("%w: payment %q has no address", bigmath.ErrInvalidArgument, p.ID)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: payment to %s has non-positive amount %s", bigmath.ErrInvalidArgument, p.Address, p.Amount)
	}
	return nil
}

// withUnlockedWallet runs fn inside the unlock bracket. The wallet is locked again on
// every exit path once the unlock succeeded.
func (d *Dispatcher) withUnlockedWallet(ctx context.Context, unlock Unlock, fn func() error) error {
	locker, ok := d.client.(chains.WalletLocker)
	if !ok || unlock.Passphrase == "" {
		return fn()
	}

	duration := unlock.Duration
	if duration <= 0 {
		duration = constants.DefaultUnlockDuration
	}
	if err := locker.UnlockWallet(ctx, unlock.Passphrase, duration); err != nil {
		return fmt.Errorf("failed to unlock wallet: %w", err)
	}
	defer func() {
		if err := locker.LockWallet(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("failed to lock wallet", "error", err)
		}
	}()

	return fn()
}

func event(kind types.EventKind, p types.Payment) types.Event {
	return types.Event{Kind: kind, Address: p.Address, Amount: p.Amount, ID: p.ID}
}

func sinkOrDiscard(sink types.EventSink) types.EventSink {
	if sink == nil {
		return types.Discard
	}
	return sink
}

// exceeds reports whether v is over a bound; a zero bound is unbounded
func exceeds(v, bound decimal.Decimal) bool {
	return bound.IsPositive() && v.GreaterThan(bound)
}
