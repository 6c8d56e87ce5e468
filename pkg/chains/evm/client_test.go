package evm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/chainpay/pkg/chains"
)

func TestNewClient(t *testing.T) {
	t.Run("unsupported network", func(t *testing.T) {
		_, err := NewClient("dogechain", nil, nil)
		var unsupported *chains.UnsupportedNetworkError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "dogechain", unsupported.Network)
	})

	t.Run("custom chain ID", func(t *testing.T) {
		client, err := NewClient("dogechain", nil, &Options{ChainID: 2000})
		require.NoError(t, err)
		assert.Equal(t, int64(2000), client.chainID.Int64())
		assert.False(t, client.legacy)
	})

	t.Run("invalid node account", func(t *testing.T) {
		_, err := NewClient("base", nil, &Options{From: "0x123"})
		assert.Error(t, err)
	})

	t.Run("read only", func(t *testing.T) {
		client, err := NewClient("base", nil, nil)
		require.NoError(t, err)
		_, ok := client.Sender()
		assert.False(t, ok)
		assert.NotNil(t, client.Estimator())
	})

	t.Run("local key", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)

		client, err := NewClient("base", nil, &Options{PrivateKey: key})
		require.NoError(t, err)
		sender, ok := client.Sender()
		assert.True(t, ok)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), sender)
	})
}

func TestToWei(t *testing.T) {
	tests := []struct {
		amount  string
		want    string
		wantErr bool
	}{
		{"1", "1000000000000000000", false},
		{"0.000000000000000001", "1", false},
		{"1.5", "1500000000000000000", false},
		{"0.0000000000000000001", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := toWei(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestAddressesEqual(t *testing.T) {
	client, err := NewClient("base", nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		addr1    string
		addr2    string
		expected bool
	}{
		{"same case", "0xabc123", "0xabc123", true},
		{"checksum vs lower", "0xAbC123", "0xabc123", true},
		{"different", "0xabc123", "0xabc124", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, client.AddressesEqual(tt.addr1, tt.addr2))
			assert.Equal(t, tt.expected, chains.AddressesEqual(client, tt.addr1, tt.addr2))
		})
	}
}

func TestSubmitSingleRejectsBadInput(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client, err := NewClient("base", nil, &Options{PrivateKey: key})
	require.NoError(t, err)

	_, err = client.SubmitSingle(context.Background(), "not-an-address", decimal.NewFromInt(1))
	assert.ErrorContains(t, err, "invalid EVM address")

	_, err = client.SubmitSingle(context.Background(), "0x000000000000000000000000000000000000dEaD", decimal.RequireFromString("1e-19"))
	assert.ErrorContains(t, err, "decimal places")

	readOnly, err := NewClient("base", nil, nil)
	require.NoError(t, err)
	_, err = readOnly.SubmitSingle(context.Background(), "0x000000000000000000000000000000000000dEaD", decimal.NewFromInt(1))
	assert.ErrorContains(t, err, "no sender configured")
}

func TestSubmitSingleFromNodeAccount(t *testing.T) {
	node, url := newStubNode(t)
	txHash := "0x00000000000000000000000000000000000000000000000000000000000000bb"
	node.results["eth_sendTransaction"] = `"` + txHash + `"`

	from := "0x00000000000000000000000000000000000000F1"
	client, err := NewClient("base", []string{url}, &Options{From: from})
	require.NoError(t, err)

	got, err := client.SubmitSingle(context.Background(), "0x000000000000000000000000000000000000dEaD", decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, txHash, got)

	var params []map[string]string
	require.NoError(t, json.Unmarshal(node.params["eth_sendTransaction"], &params))
	require.Len(t, params, 1)
	assert.Equal(t, "0x6f05b59d3b20000", params[0]["value"])
}

func TestWalletLockingNodeAccount(t *testing.T) {
	node, url := newStubNode(t)
	node.results["personal_unlockAccount"] = `true`
	node.results["personal_lockAccount"] = `true`

	client, err := NewClient("base", []string{url}, &Options{From: "0x00000000000000000000000000000000000000F1"})
	require.NoError(t, err)

	require.NoError(t, client.UnlockWallet(context.Background(), "secret", time.Minute))
	require.NoError(t, client.LockWallet(context.Background()))
	assert.Equal(t, 1, node.callCount("personal_unlockAccount"))
	assert.Equal(t, 1, node.callCount("personal_lockAccount"))

	var params []interface{}
	require.NoError(t, json.Unmarshal(node.params["personal_unlockAccount"], &params))
	assert.Equal(t, "secret", params[1])
	assert.Equal(t, float64(60), params[2])
}

func TestWalletUnlockRefused(t *testing.T) {
	node, url := newStubNode(t)
	node.results["personal_unlockAccount"] = `false`

	client, err := NewClient("base", []string{url}, &Options{From: "0x00000000000000000000000000000000000000F1"})
	require.NoError(t, err)

	assert.ErrorContains(t, client.UnlockWallet(context.Background(), "wrong", time.Minute), "refused")
}

func TestWalletLockingLocalKeyIsNoop(t *testing.T) {
	node, url := newStubNode(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	client, err := NewClient("base", []string{url}, &Options{PrivateKey: key})
	require.NoError(t, err)

	assert.NoError(t, client.UnlockWallet(context.Background(), "secret", time.Minute))
	assert.NoError(t, client.LockWallet(context.Background()))
	assert.Zero(t, node.callCount("personal_unlockAccount"))
}
