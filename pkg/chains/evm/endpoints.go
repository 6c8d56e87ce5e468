package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/utils"
)

// chainlistURL lists public RPC endpoints for every EVM chain
const chainlistURL = "https://chainlist.org/rpcs.json"

// chainListEntry represents a chain entry from chainlist.org/rpcs.json
type chainListEntry struct {
	ChainID int64 `json:"chainId"`
	RPC     []struct {
		URL string `json:"url"`
	} `json:"rpc"`
}

// ChainListEndpointProvider discovers public RPC endpoints from chainlist.org and
// orders them healthy-first
type ChainListEndpointProvider struct {
	endpoints  map[int64][]string // chainID -> []rpc_urls
	logger     *slog.Logger
	httpClient *http.Client
	sourceURL  string
	healthy    func(ctx context.Context, endpoint string) bool
	mu         sync.RWMutex
}

// NewChainListEndpointProvider creates a provider that fetches from chainlist.org
func NewChainListEndpointProvider(logger *slog.Logger) *ChainListEndpointProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainListEndpointProvider{
		endpoints:  make(map[int64][]string),
		logger:     logger,
		httpClient: utils.NewHTTPClient(constants.DiscoveryTimeout),
		sourceURL:  chainlistURL,
		healthy:    isHealthy,
	}
}

// GetEndpoints returns the known endpoints for network, falling back to the official
// ones until a refresh has completed
func (p *ChainListEndpointProvider) GetEndpoints(network string) []string {
	chainID, ok := constants.NetworkToChainID[network]
	if !ok {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if endpoints := p.endpoints[chainID]; len(endpoints) > 0 {
		return append([]string(nil), endpoints...)
	}
	return constants.OfficialRPCEndpoints[network]
}

// RefreshEndpoints rebuilds the endpoint lists of the given networks: official endpoints
// first, then chainlist.org entries, each list reordered so healthy endpoints lead.
// On a discovery failure the official endpoints are kept and the error is returned.
func (p *ChainListEndpointProvider) RefreshEndpoints(ctx context.Context, networks []string) error {
	wanted := make(map[int64]string, len(networks))
	for _, network := range networks {
		if chainID, ok := constants.NetworkToChainID[network]; ok {
			wanted[chainID] = network
		}
	}

	fresh := make(map[int64][]string, len(wanted))
	for chainID, network := range wanted {
		fresh[chainID] = append([]string(nil), constants.OfficialRPCEndpoints[network]...)
	}

	entries, fetchErr := p.fetchAllChains(ctx)
	if fetchErr != nil {
		p.logger.Warn("failed to fetch from chainlist.org, using official endpoints only", "error", fetchErr)
	}
	for _, entry := range entries {
		if _, ok := wanted[entry.ChainID]; !ok {
			continue
		}
		for _, rpc := range entry.RPC {
			// Only include HTTPS URLs and exclude templated URLs
			if strings.HasPrefix(rpc.URL, "https://") && !strings.Contains(rpc.URL, "${") {
				fresh[entry.ChainID] = appendUnique(fresh[entry.ChainID], rpc.URL)
			}
		}
	}

	p.prioritizeHealthy(ctx, fresh)

	p.mu.Lock()
	for chainID, endpoints := range fresh {
		p.endpoints[chainID] = endpoints
	}
	p.mu.Unlock()

	return fetchErr
}

// fetchAllChains fetches chain data from chainlist.org
func (p *ChainListEndpointProvider) fetchAllChains(ctx context.Context) ([]chainListEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chainlist data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainlist.org returned status %d", resp.StatusCode)
	}

	var entries []chainListEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, constants.MaxResponseBodySize)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode chainlist data: %w", err)
	}
	return entries, nil
}

// prioritizeHealthy checks every endpoint concurrently and moves healthy ones to the front.
// Unhealthy endpoints stay as a backup.
func (p *ChainListEndpointProvider) prioritizeHealthy(ctx context.Context, lists map[int64][]string) {
	type result struct {
		chainID  int64
		healthy  []string
		degraded []string
	}
	results := make(chan result, len(lists))

	var g errgroup.Group
	g.SetLimit(8)
	for chainID, endpoints := range lists {
		g.Go(func() error {
			r := result{chainID: chainID}
			for _, endpoint := range endpoints {
				if p.healthy(ctx, endpoint) {
					r.healthy = append(r.healthy, endpoint)
				} else {
					r.degraded = append(r.degraded, endpoint)
				}
			}
			results <- r
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		lists[r.chainID] = append(r.healthy, r.degraded...)
		p.logger.Debug("health check complete",
			"chainID", r.chainID,
			"healthy", len(r.healthy),
			"unhealthy", len(r.degraded))
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
