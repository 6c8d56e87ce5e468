package evm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
)

// InitEVMChains registers clients for the given networks with endpoints discovered from
// chainlist.org. Official endpoints are used until discovery finishes; endpoints are
// refreshed every 6 hours until ctx is done. opts holds per-network send options and
// may be nil.
func InitEVMChains(ctx context.Context, logger *slog.Logger, opts map[string]*Options, networksToMonitor ...string) error {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()
	if len(networksToMonitor) == 0 {
		return nil
	}

	provider := NewChainListEndpointProvider(logger)
	registerNetworks(logger, registry, provider, opts, networksToMonitor)

	// Discovery and health checks run in the background so startup never blocks on them
	go func() {
		refresh(ctx, logger, registry, provider, opts, networksToMonitor)

		ticker := time.NewTicker(constants.EndpointRefreshPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh(ctx, logger, registry, provider, opts, networksToMonitor)
			}
		}
	}()

	return nil
}

// InitEVMChainsWithEndpoints registers clients with caller-provided endpoints.
// This is useful when SDK users want full control over RPC endpoints.
func InitEVMChainsWithEndpoints(logger *slog.Logger, endpoints map[string][]string, opts map[string]*Options) error {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()

	for network, networkEndpoints := range endpoints {
		if len(networkEndpoints) == 0 {
			logger.Warn("no endpoints provided for network", "network", network)
			continue
		}
		register(logger, registry, network, networkEndpoints, optionsFor(opts, network, logger))
	}
	return nil
}

func refresh(ctx context.Context, logger *slog.Logger, registry *chains.Registry, provider *ChainListEndpointProvider, opts map[string]*Options, networks []string) {
	refreshCtx, cancel := context.WithTimeout(ctx, constants.DiscoveryTimeout+time.Minute)
	defer cancel()

	if err := provider.RefreshEndpoints(refreshCtx, networks); err != nil {
		logger.Warn("endpoint refresh failed, keeping official endpoints", "error", err)
	}
	// Re-register (replaces the existing entries with fresh endpoints)
	registerNetworks(logger, registry, provider, opts, networks)
}

func registerNetworks(logger *slog.Logger, registry *chains.Registry, provider *ChainListEndpointProvider, opts map[string]*Options, networks []string) {
	for _, network := range networks {
		endpoints := provider.GetEndpoints(network)
		if len(endpoints) == 0 {
			logger.Warn("no endpoints available for network", "network", network)
			continue
		}
		register(logger, registry, network, endpoints, optionsFor(opts, network, logger))
	}
}

func register(logger *slog.Logger, registry *chains.Registry, network string, endpoints []string, opts *Options) {
	client, err := NewClient(network, endpoints, opts)
	if err != nil {
		logger.Warn("failed to create EVM client", "network", network, "error", err)
		return
	}
	if err := registry.Register(client); err != nil {
		logger.Warn("failed to register EVM client", "network", network, "error", err)
	}
}

func optionsFor(opts map[string]*Options, network string, logger *slog.Logger) *Options {
	o := Options{Logger: logger}
	if custom := opts[network]; custom != nil {
		o = *custom
		if o.Logger == nil {
			o.Logger = logger
		}
	}
	return &o
}
