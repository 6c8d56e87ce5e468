package evm

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/chainpay/pkg/chains"
)

const chainlistFixture = `[
	{"chainId": 8453, "rpc": [
		{"url": "https://mainnet.base.org"},
		{"url": "https://base.llamarpc.com"},
		{"url": "wss://base.publicnode.com"},
		{"url": "https://base-mainnet.infura.io/v3/${INFURA_API_KEY}"},
		{"url": "https://base.drpc.org"}
	]},
	{"chainId": 1, "rpc": [{"url": "https://eth.llamarpc.com"}]}
]`

func newTestProvider(t *testing.T, body string, status int, unhealthy ...string) *ChainListEndpointProvider {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	provider := NewChainListEndpointProvider(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	provider.sourceURL = server.URL
	provider.healthy = func(_ context.Context, endpoint string) bool {
		for _, u := range unhealthy {
			if u == endpoint {
				return false
			}
		}
		return true
	}
	return provider
}

func TestGetEndpointsBeforeRefresh(t *testing.T) {
	provider := NewChainListEndpointProvider(nil)

	assert.Equal(t, []string{"https://mainnet.base.org"}, provider.GetEndpoints("base"))
	assert.Empty(t, provider.GetEndpoints("ethereum"), "no official endpoints known")
	assert.Nil(t, provider.GetEndpoints("solana"), "not an EVM network")
}

func TestRefreshEndpoints(t *testing.T) {
	provider := newTestProvider(t, chainlistFixture, http.StatusOK)

	err := provider.RefreshEndpoints(context.Background(), []string{"base"})
	require.NoError(t, err)

	// official endpoint first, HTTPS only, no templates, no duplicates
	assert.Equal(t, []string{
		"https://mainnet.base.org",
		"https://base.llamarpc.com",
		"https://base.drpc.org",
	}, provider.GetEndpoints("base"))

	// ethereum was not requested
	assert.Empty(t, provider.GetEndpoints("ethereum"))
}

func TestRefreshEndpointsPrioritizesHealthy(t *testing.T) {
	provider := newTestProvider(t, chainlistFixture, http.StatusOK, "https://mainnet.base.org")

	err := provider.RefreshEndpoints(context.Background(), []string{"base"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://base.llamarpc.com",
		"https://base.drpc.org",
		"https://mainnet.base.org",
	}, provider.GetEndpoints("base"), "unhealthy endpoints stay as backup")
}

func TestRefreshEndpointsDiscoveryFailure(t *testing.T) {
	provider := newTestProvider(t, "", http.StatusServiceUnavailable)

	err := provider.RefreshEndpoints(context.Background(), []string{"base"})
	assert.ErrorContains(t, err, "status 503")
	assert.Equal(t, []string{"https://mainnet.base.org"}, provider.GetEndpoints("base"))
}

func TestRefreshEndpointsMalformedBody(t *testing.T) {
	provider := newTestProvider(t, "{not json", http.StatusOK)

	err := provider.RefreshEndpoints(context.Background(), []string{"base"})
	assert.Error(t, err)
	assert.Equal(t, []string{"https://mainnet.base.org"}, provider.GetEndpoints("base"))
}

func TestInitEVMChainsWithEndpoints(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	chains.ResetGlobalRegistry()

	err := InitEVMChainsWithEndpoints(logger, map[string][]string{
		"base":         {"https://mainnet.base.org"},
		"base-sepolia": {},
		"not-a-chain":  {"https://example.com"},
	}, nil)
	require.NoError(t, err)

	registry := chains.GetGlobalRegistry()
	require.NotNil(t, registry)

	client, err := registry.Get("base")
	require.NoError(t, err)
	assert.Equal(t, "base", client.Network())

	assert.False(t, registry.IsSupported("base-sepolia"), "empty endpoint lists are skipped")
	assert.False(t, registry.IsSupported("not-a-chain"))
	assert.False(t, registry.SupportsBatches("base"))
}

func TestInitEVMChains(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	chains.ResetGlobalRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // stop the background refresh straight away

	err := InitEVMChains(ctx, logger, nil, "base", "base-sepolia")
	require.NoError(t, err)

	registry := chains.GetGlobalRegistry()
	assert.Equal(t, []string{"base", "base-sepolia"}, registry.GetSupportedNetworks())
}
