package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/chainpay/pkg/chains"
)

// stubNode answers JSON-RPC calls with canned result or error JSON per method
type stubNode struct {
	mu      sync.Mutex
	results map[string]string
	errors  map[string]string
	calls   map[string]int
}

func newStubNode(t *testing.T) (*stubNode, string) {
	node := &stubNode{
		results: make(map[string]string),
		errors:  make(map[string]string),
		calls:   make(map[string]int),
	}
	server := httptest.NewServer(http.HandlerFunc(node.serve))
	t.Cleanup(server.Close)
	return node, server.URL
}

func (n *stubNode) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	result, hasResult := n.results[req.Method]
	rpcErr, hasErr := n.errors[req.Method]
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case hasErr:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":%s}`, req.ID, rpcErr)
	case hasResult:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
	default:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
	}
}

func (n *stubNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func newKey(t *testing.T) solana.PrivateKey {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// transferWithMeta builds a signed transfer paid by the first key; every key signs
func transferWithMeta(t *testing.T, fee uint64, keys ...solana.PrivateKey) (rpc.TransactionWithMeta, solana.Signature) {
	payer := keys[0].PublicKey()
	var instructions []solana.Instruction
	for _, k := range keys {
		instructions = append(instructions, system.NewTransferInstruction(1, k.PublicKey(), newKey(t).PublicKey()).Build())
	}
	tx, err := solana.NewTransaction(instructions, solana.Hash{1}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return rpc.TransactionWithMeta{
		Transaction: rpc.DataBytesOrJSONFromBytes(raw),
		Meta:        &rpc.TransactionMeta{Fee: fee},
	}, tx.Signatures[0]
}

func TestToBlock(t *testing.T) {
	single, singleSig := transferWithMeta(t, 15000, newKey(t))
	double, doubleSig := transferWithMeta(t, 12000, newKey(t), newKey(t))
	baseOnly, _ := transferWithMeta(t, 5000, newKey(t))

	block := toBlock(42, &rpc.GetBlockResult{
		Transactions: []rpc.TransactionWithMeta{
			single,
			double,
			baseOnly,
			{Transaction: single.Transaction}, // no meta
		},
	})

	assert.Equal(t, uint64(42), block.Height)
	assert.Nil(t, block.BaseFee)
	require.Len(t, block.Transactions, 3)

	assert.Equal(t, singleSig.String(), block.Transactions[0].ID)
	assert.Equal(t, big.NewInt(10000), block.Transactions[0].PriorityFee)
	assert.Equal(t, big.NewInt(15000), block.Transactions[0].Fee)

	assert.Equal(t, doubleSig.String(), block.Transactions[1].ID)
	assert.Equal(t, big.NewInt(2000), block.Transactions[1].PriorityFee, "base fee is charged per signature")

	assert.Equal(t, 0, block.Transactions[2].PriorityFee.Sign())
}

func TestToLamports(t *testing.T) {
	tests := []struct {
		amount  string
		want    uint64
		wantErr bool
	}{
		{"1", 1_000_000_000, false},
		{"0.000000001", 1, false},
		{"2.5", 2_500_000_000, false},
		{"0.0000000001", 0, true},
		{"-1", 0, true},
		{"100000000000", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := toLamports(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlockByHeightSkippedSlot(t *testing.T) {
	node, url := newStubNode(t)
	node.errors["getBlock"] = `{"code":-32007,"message":"Slot 7 was skipped, or missing due to ledger jump to recent snapshot"}`

	client := NewClient("solana-devnet", []string{url}, nil)
	block, err := client.BlockByHeight(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), block.Height)
	assert.Empty(t, block.Transactions)
	assert.Equal(t, 1, node.callCount("getBlock"), "skipped slots are not retried elsewhere")
}

func TestBlockByHeightFailover(t *testing.T) {
	down, downURL := newStubNode(t)
	down.errors["getBlock"] = `{"code":-32603,"message":"internal error"}`
	up, upURL := newStubNode(t)
	up.results["getBlock"] = `{"blockhash":"11111111111111111111111111111111","previousBlockhash":"11111111111111111111111111111111","parentSlot":8,"transactions":[]}`

	client := NewClient("solana-devnet", []string{downURL, upURL}, nil)
	block, err := client.BlockByHeight(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), block.Height)
	assert.Equal(t, 1, up.callCount("getBlock"))
}

func TestLatestBlockHeight(t *testing.T) {
	node, url := newStubNode(t)
	node.results["getSlot"] = `351234567`

	client := NewClient("solana", []string{url}, nil)
	slot, err := client.LatestBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(351234567), slot)
}

func TestLatestBlockHeightAllEndpointsFail(t *testing.T) {
	node, url := newStubNode(t)
	node.errors["getSlot"] = `{"code":-32603,"message":"internal error"}`

	client := NewClient("solana", []string{url}, nil)
	_, err := client.LatestBlockHeight(context.Background())
	require.Error(t, err)

	var rpcErr *chains.RPCError
	assert.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, url, rpcErr.Endpoint)
}

func TestGetConfirmationCount(t *testing.T) {
	sig, err := newKey(t).Sign([]byte("payment"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		result  string
		want    *int64
		wantErr bool
	}{
		{
			name:   "finalized",
			result: `{"context":{"slot":10},"value":[{"slot":5,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}`,
			want:   ptr(32),
		},
		{
			name:   "confirmed",
			result: `{"context":{"slot":10},"value":[{"slot":5,"confirmations":3,"err":null,"confirmationStatus":"confirmed"}]}`,
			want:   ptr(3),
		},
		{
			name:   "unknown",
			result: `{"context":{"slot":10},"value":[null]}`,
		},
		{
			name:    "failed",
			result:  `{"context":{"slot":10},"value":[{"slot":5,"confirmations":1,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"confirmed"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, url := newStubNode(t)
			node.results["getSignatureStatuses"] = tt.result

			client := NewClient("solana", []string{url}, nil)
			got, err := client.GetConfirmationCount(context.Background(), sig.String())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetConfirmationCountInvalidSignature(t *testing.T) {
	client := NewClient("solana", []string{"http://127.0.0.1:1"}, nil)
	_, err := client.GetConfirmationCount(context.Background(), "not-a-signature")
	assert.Error(t, err)
}

func TestSubmitBatch(t *testing.T) {
	key := newKey(t)
	sig, err := key.Sign([]byte("batch"))
	require.NoError(t, err)

	node, url := newStubNode(t)
	node.results["getLatestBlockhash"] = `{"context":{"slot":10},"value":{"blockhash":"11111111111111111111111111111111","lastValidBlockHeight":200}}`
	node.results["sendTransaction"] = fmt.Sprintf("%q", sig.String())

	a, b := newKey(t).PublicKey().String(), newKey(t).PublicKey().String()
	client := NewClient("solana-devnet", []string{url}, &Options{PrivateKey: key})
	receipt, err := client.SubmitBatch(context.Background(), []chains.Output{
		{Address: a, Amount: decimal.RequireFromString("0.5")},
		{Address: b, Amount: decimal.RequireFromString("0.25")},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, sig.String(), receipt.TxID)
	assert.Equal(t, []chains.ReceiptOutput{{Address: a, Index: 0}, {Address: b, Index: 1}}, receipt.Outputs)
	assert.Equal(t, 1, node.callCount("sendTransaction"))
}

func TestSubmitBatchRejectsBadInput(t *testing.T) {
	node, url := newStubNode(t)
	valid := newKey(t).PublicKey().String()

	readOnly := NewClient("solana-devnet", []string{url}, nil)
	_, err := readOnly.SubmitBatch(context.Background(), []chains.Output{{Address: valid, Amount: decimal.NewFromInt(1)}}, nil)
	assert.Error(t, err)

	client := NewClient("solana-devnet", []string{url}, &Options{PrivateKey: newKey(t)})
	tests := []struct {
		name    string
		outputs []chains.Output
	}{
		{"empty", nil},
		{"bad address", []chains.Output{{Address: "0xabc", Amount: decimal.NewFromInt(1)}}},
		{"sub-lamport amount", []chains.Output{{Address: valid, Amount: decimal.RequireFromString("0.0000000001")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.SubmitBatch(context.Background(), tt.outputs, nil)
			assert.Error(t, err)
		})
	}
	assert.Zero(t, node.callCount("sendTransaction"))
}

func TestClientCapabilities(t *testing.T) {
	client := NewClient("solana", nil, nil)

	fee, err := client.GetCurrentBaseFeeOrGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5000), fee)
	assert.Equal(t, 20, client.MaxBatchOutputs())

	_, ok := client.Sender()
	assert.False(t, ok)

	_, err = client.LatestBlockHeight(context.Background())
	assert.Error(t, err, "no endpoints")
}

func ptr(v int64) *int64 {
	return &v
}
