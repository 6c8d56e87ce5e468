package utxo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/sigweihq/chainpay/pkg/chains"
)

// btcNode is the subset of the node RPC the client uses. In practice, it is
// satisfied by rpcclient.Client. For testing, it can be satisfied by a stub.
type btcNode interface {
	GetBlockCount() (int64, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error)
	GetTransaction(txHash *chainhash.Hash) (*btcjson.GetTransactionResult, error)
	WalletPassphrase(passphrase string, timeoutSecs int64) error
	WalletLock() error
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
}

// call runs a blocking node request, giving up when ctx is done.
// rpcclient has no context support, so an abandoned request finishes in the background.
func call[T any](ctx context.Context, host string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.v, &chains.RPCError{Endpoint: host, Err: r.err}
		}
		return r.v, nil
	}
}

// exec is call for requests without a result
func exec(ctx context.Context, host string, fn func() error) error {
	_, err := call(ctx, host, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// hasCode reports whether err carries a node error with the given code
func hasCode(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
