package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/chains/chainstest"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/types"
)

func pay(address string, amount int64) types.Payment {
	return types.Payment{Address: address, Amount: decimal.NewFromInt(amount), ID: "id-" + address}
}

func TestSendManySplitsOnValue(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkBitcoin)
	recorder := &types.Recorder{}
	d := New(client, nil)

	results, err := d.SendMany(context.Background(), []types.Payment{pay("A", 5), pay("B", 5)}, &BatchOptions{
		MaxValue:   decimal.NewFromInt(8),
		MaxOutputs: 5,
		Sink:       recorder,
	})
	require.NoError(t, err)

	require.Len(t, client.Batches(), 2)
	assert.Len(t, client.Batches()[0], 1)
	assert.Len(t, client.Batches()[1], 1)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Succeeded())
		require.NotNil(t, r.Vout)
		assert.Equal(t, uint32(0), *r.Vout)
	}
	assert.Equal(t, "batch-1", results[0].TxID)
	assert.Equal(t, "batch-2", results[1].TxID)

	kinds := recorder.Kinds("")
	assert.Equal(t, []types.EventKind{
		types.EventAttempt, types.EventSuccess,
		types.EventAttempt, types.EventSuccess,
		types.EventDone,
	}, kinds)
}

func TestSendManyRejectedBatchSharesError(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkBitcoin)
	client.Reject = func(outputs []chains.Output) error {
		for _, o := range outputs {
			if o.Address == "BAD" {
				return errors.New("invalid address: BAD")
			}
		}
		return nil
	}
	recorder := &types.Recorder{}
	d := New(client, nil)

	results, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1), pay("BAD", 1)}, &BatchOptions{
		MaxValue:   decimal.NewFromInt(100),
		MaxOutputs: 5,
		Sink:       recorder,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Succeeded())
	assert.False(t, results[1].Succeeded())
	assert.Same(t, results[0].Error, results[1].Error)

	var batchErr *BatchSubmissionError
	require.ErrorAs(t, results[0].Error, &batchErr)
	assert.Equal(t, 1, batchErr.Batch)
	assert.Equal(t, 2, batchErr.Size)
	assert.Contains(t, batchErr.Error(), "invalid address")

	events := recorder.Events()
	require.Len(t, events, 5)
	assert.Same(t, events[2].Error, events[3].Error)
	assert.Equal(t, types.EventDone, events[4].Kind)
}

func TestSendManyFailureIsolation(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkLitecoin)
	client.Reject = func(outputs []chains.Output) error {
		if outputs[0].Address == "C" {
			return errors.New("insufficient funds")
		}
		return nil
	}
	recorder := &types.Recorder{}
	d := New(client, nil)

	payments := []types.Payment{pay("A", 1), pay("B", 1), pay("C", 1), pay("D", 1), pay("E", 1), pay("F", 1)}
	results, err := d.SendMany(context.Background(), payments, &BatchOptions{MaxOutputs: 2, Sink: recorder})
	require.NoError(t, err)
	require.Len(t, client.Batches(), 3)
	require.Len(t, results, 6)

	for i, r := range results {
		assert.Equal(t, payments[i], r.Payment)
		if r.Payment.Address == "C" || r.Payment.Address == "D" {
			assert.Equal(t, types.OutcomeFailure, r.Outcome, r.Payment.Address)
			assert.Empty(t, r.TxID)
			continue
		}
		assert.Equal(t, types.OutcomeSuccess, r.Outcome, r.Payment.Address)
	}
	assert.Equal(t, "batch-1", results[0].TxID)
	assert.Equal(t, "batch-3", results[4].TxID)

	for _, address := range []string{"A", "C", "F"} {
		kinds := recorder.Kinds(address)
		require.Len(t, kinds, 3, address)
		assert.Equal(t, types.EventAttempt, kinds[0])
		assert.Contains(t, []types.EventKind{types.EventSuccess, types.EventFailure}, kinds[1])
		assert.Equal(t, types.EventDone, kinds[2])
	}
}

func TestSendManyBatchInvariants(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkBitcoin)
	d := New(client, nil)

	var payments []types.Payment
	for i := 1; i <= 40; i++ {
		payments = append(payments, types.Payment{
			Address: "addr" + strings.Repeat("x", i),
			Amount:  decimal.NewFromInt(int64(i%7 + 1)).Div(decimal.NewFromInt(10)),
		})
	}
	maxValue := decimal.RequireFromString("1.5")

	results, err := d.SendMany(context.Background(), payments, &BatchOptions{MaxValue: maxValue, MaxOutputs: 4})
	require.NoError(t, err)
	assert.Len(t, results, len(payments))

	count := 0
	for _, batch := range client.Batches() {
		assert.LessOrEqual(t, len(batch), 4)
		total := decimal.Zero
		for _, out := range batch {
			total = total.Add(out.Amount)
			assert.Equal(t, payments[count].Address, out.Address)
			count++
		}
		assert.True(t, total.LessThanOrEqual(maxValue), total.String())
	}
	assert.Equal(t, len(payments), count)
}

func TestSendManyDuplicateAddressStartsNewBatch(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkBitcoin)
	d := New(client, nil)

	results, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1), pay("B", 1), pay("A", 2)}, nil)
	require.NoError(t, err)
	require.Len(t, client.Batches(), 2)
	assert.Len(t, client.Batches()[0], 2)
	assert.Len(t, client.Batches()[1], 1)

	require.NotNil(t, results[2].Vout)
	assert.Equal(t, "batch-2", results[2].TxID)
}

func TestSendManyOversizedPayment(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkBitcoin)
	recorder := &types.Recorder{}
	d := New(client, nil)

	results, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1), pay("BIG", 50), pay("C", 1)}, &BatchOptions{
		MaxValue: decimal.NewFromInt(10),
		Sink:     recorder,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Succeeded())
	assert.False(t, results[1].Succeeded())
	assert.ErrorIs(t, results[1].Error, bigmath.ErrInvalidArgument)
	assert.True(t, results[2].Succeeded())
	assert.Equal(t, []types.EventKind{types.EventAttempt, types.EventFailure, types.EventDone}, recorder.Kinds("BIG"))

	// A and C land in separate batches on either side of it
	require.Len(t, client.Batches(), 2)
}

func TestSendManyChainOutputLimit(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkSolana)
	client.OutputLimit = 2
	d := New(client, nil)

	_, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1), pay("B", 1), pay("C", 1)}, &BatchOptions{MaxOutputs: 10})
	require.NoError(t, err)
	require.Len(t, client.Batches(), 2)
	assert.Len(t, client.Batches()[0], 2)
}

func TestSendManyReceiptWithoutOutputs(t *testing.T) {
	client := &receiptlessClient{BatchClient: chainstest.NewBatchClient(constants.NetworkSolana)}
	d := New(client, nil)

	results, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Succeeded())
	assert.Nil(t, results[0].Vout)
	assert.Equal(t, "sig", results[0].TxID)
}

type receiptlessClient struct {
	*chainstest.BatchClient
}

func (c *receiptlessClient) SubmitBatch(context.Context, []chains.Output, *chains.SubmitOptions) (*chains.BatchReceipt, error) {
	return &chains.BatchReceipt{TxID: "sig"}, nil
}

func TestSendManyWithoutBatchSupport(t *testing.T) {
	client := chainstest.NewClient(constants.NetworkBase)
	client.RejectSingle = func(address string) error {
		if address == "BAD" {
			return errors.New("insufficient funds")
		}
		return nil
	}
	recorder := &types.Recorder{}
	d := New(client, nil)

	results, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1), pay("BAD", 2), pay("C", 3)}, &BatchOptions{
		MaxValue:   decimal.NewFromInt(100),
		MaxOutputs: 5,
		Sink:       recorder,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Succeeded())
	assert.Equal(t, "single-1", results[0].TxID)
	assert.Nil(t, results[0].Vout)

	assert.False(t, results[1].Succeeded())
	var batchErr *BatchSubmissionError
	require.ErrorAs(t, results[1].Error, &batchErr)
	assert.Equal(t, 2, batchErr.Batch)
	assert.Equal(t, 1, batchErr.Size)

	assert.True(t, results[2].Succeeded())
	assert.Equal(t, "single-2", results[2].TxID)

	singles := client.Singles()
	require.Len(t, singles, 2)
	assert.Equal(t, "A", singles[0].Address)
	assert.Equal(t, "C", singles[1].Address)
	assert.Equal(t, []types.EventKind{
		types.EventAttempt, types.EventSuccess,
		types.EventAttempt, types.EventFailure,
		types.EventAttempt, types.EventSuccess,
		types.EventDone,
	}, recorder.Kinds(""))
}

func TestSingleSubmitterRejectsMultipleOutputs(t *testing.T) {
	submitter := singleSubmitter{client: chainstest.NewClient(constants.NetworkBase)}
	assert.Equal(t, 1, submitter.MaxBatchOutputs())

	_, err := submitter.SubmitBatch(context.Background(), []chains.Output{
		{Address: "A", Amount: decimal.NewFromInt(1)},
		{Address: "B", Amount: decimal.NewFromInt(1)},
	}, nil)
	assert.ErrorIs(t, err, chains.ErrBatchUnsupported)
}

func TestSendManyInvalidInput(t *testing.T) {
	batchClient := chainstest.NewBatchClient(constants.NetworkBitcoin)

	tests := []struct {
		name     string
		client   chains.Client
		payments []types.Payment
		opts     *BatchOptions
		target   error
	}{
		{
			name:     "zero amount",
			client:   batchClient,
			payments: []types.Payment{pay("A", 1), pay("B", 0)},
			target:   bigmath.ErrInvalidArgument,
		},
		{
			name:     "missing address",
			client:   batchClient,
			payments: []types.Payment{{Amount: decimal.NewFromInt(1)}},
			target:   bigmath.ErrInvalidArgument,
		},
		{
			name:     "negative max value",
			client:   batchClient,
			payments: []types.Payment{pay("A", 1)},
			opts:     &BatchOptions{MaxValue: decimal.NewFromInt(-1)},
			target:   bigmath.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &types.Recorder{}
			opts := tt.opts
			if opts == nil {
				opts = &BatchOptions{}
			}
			opts.Sink = recorder

			_, err := New(tt.client, nil).SendMany(context.Background(), tt.payments, opts)
			assert.ErrorIs(t, err, tt.target)
			assert.Empty(t, recorder.Events())
		})
	}
	assert.Empty(t, batchClient.Batches())
}

func TestSendManyUnlockBracket(t *testing.T) {
	client := chainstest.NewBatchClient(constants.NetworkBitcoin)
	d := New(client, nil)

	_, err := d.SendMany(context.Background(), []types.Payment{pay("A", 1)}, &BatchOptions{Unlock: Unlock{Passphrase: "secret"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"unlock", "lock"}, client.Calls())

	client.UnlockErr = errors.New("wrong passphrase")
	_, err = d.SendMany(context.Background(), []types.Payment{pay("A", 1)}, &BatchOptions{Unlock: Unlock{Passphrase: "bad"}})
	assert.ErrorContains(t, err, "wrong passphrase")
	assert.Len(t, client.Batches(), 1)
}

func TestSendOne(t *testing.T) {
	client := chainstest.NewClient(constants.NetworkBase)
	recorder := &types.Recorder{}
	d := New(client, nil)

	txid, err := d.SendOne(context.Background(), pay("0xabc", 3), &SingleOptions{Sink: recorder})
	require.NoError(t, err)
	assert.Equal(t, "single-1", txid)
	assert.Equal(t, []types.EventKind{types.EventAttempt, types.EventSuccess}, recorder.Kinds(""))
	assert.Equal(t, []string{"submit"}, client.Calls())
	require.Len(t, client.Singles(), 1)
	assert.Equal(t, "3", client.Singles()[0].Amount.String())
}

func TestSendOneLocksWalletOnFailure(t *testing.T) {
	client := chainstest.NewClient(constants.NetworkDogecoin)
	client.SingleErr = errors.New("insufficient funds")
	recorder := &types.Recorder{}
	d := New(client, nil)

	_, err := d.SendOne(context.Background(), pay("D1", 3), &SingleOptions{
		Unlock: Unlock{Passphrase: "secret"},
		Sink:   recorder,
	})
	assert.ErrorContains(t, err, "insufficient funds")
	assert.Equal(t, []string{"unlock", "submit", "lock"}, client.Calls())

	events := recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventFailure, events[1].Kind)
	assert.ErrorIs(t, events[1].Error, client.SingleErr)
}

func TestSendOneUnlockFailure(t *testing.T) {
	client := chainstest.NewClient(constants.NetworkBitcoin)
	client.UnlockErr = errors.New("wallet already unlocked")
	d := New(client, nil)

	_, err := d.SendOne(context.Background(), pay("B1", 1), &SingleOptions{Unlock: Unlock{Passphrase: "secret"}})
	assert.ErrorContains(t, err, "failed to unlock wallet")
	assert.Equal(t, []string{"unlock"}, client.Calls())
}

func TestSendOneWaitsForConfirmation(t *testing.T) {
	client := chainstest.NewClient(constants.NetworkEthereum)
	client.ConfirmAfter = 2
	recorder := &types.Recorder{}
	d := New(client, nil)

	_, err := d.SendOne(context.Background(), pay("0xabc", 1), &SingleOptions{
		WaitForConfirmation: true,
		ConfirmationTimeout: 5 * time.Second,
		PollInterval:        time.Millisecond,
		Sink:                recorder,
	})
	require.NoError(t, err)
	assert.Equal(t, []types.EventKind{types.EventAttempt, types.EventSuccess}, recorder.Kinds(""))
}

func TestSendOneConfirmationTimeout(t *testing.T) {
	client := chainstest.NewClient(constants.NetworkEthereum)
	client.ConfirmAfter = -1
	recorder := &types.Recorder{}
	d := New(client, nil)

	txid, err := d.SendOne(context.Background(), pay("0xabc", 1), &SingleOptions{
		WaitForConfirmation: true,
		ConfirmationTimeout: 20 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		Sink:                recorder,
	})
	require.NoError(t, err)
	assert.Equal(t, "single-1", txid)

	events := recorder.Events()
	require.Len(t, events, 3)
	assert.Equal(t, types.EventTimeout, events[2].Kind)
	assert.Equal(t, txid, events[2].TxID)
	assert.NoError(t, events[2].Error)
}
