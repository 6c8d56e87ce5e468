package svm

import (
	"fmt"
	"log/slog"

	"github.com/sigweihq/chainpay/pkg/chains"
	"github.com/sigweihq/chainpay/pkg/constants"
)

// InitSVMChains registers SVM clients using official RPC endpoints.
// Without networks it defaults to both Solana mainnet and devnet. opts holds
// per-network signing options and may be nil.
func InitSVMChains(logger *slog.Logger, opts map[string]*Options, networksToMonitor ...string) error {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()

	if len(networksToMonitor) == 0 {
		networksToMonitor = []string{
			constants.NetworkSolana,
			constants.NetworkSolanaDevnet,
		}
	}

	for _, network := range networksToMonitor {
		endpoints, ok := constants.OfficialRPCEndpoints[network]
		if !ok {
			logger.Warn("no official endpoints available for SVM network", "network", network)
			continue
		}

		client := NewClient(network, endpoints, optionsFor(opts, network, logger))
		if err := registry.Register(client); err != nil {
			return fmt.Errorf("failed to register SVM client for %s: %w", network, err)
		}
	}

	return nil
}

// InitSVMChainsWithEndpoints registers SVM clients with user-provided endpoints.
// If a specific network has no endpoints, falls back to official endpoints if available
func InitSVMChainsWithEndpoints(logger *slog.Logger, endpoints map[string][]string, opts map[string]*Options) error {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()

	for network, eps := range endpoints {
		if len(eps) == 0 {
			if officialEps, ok := constants.OfficialRPCEndpoints[network]; ok {
				eps = officialEps
				logger.Info("using official endpoints for SVM network", "network", network)
			} else {
				logger.Warn("no endpoints provided for SVM network", "network", network)
				continue
			}
		}

		client := NewClient(network, eps, optionsFor(opts, network, logger))
		if err := registry.Register(client); err != nil {
			return fmt.Errorf("failed to register SVM client for %s: %w", network, err)
		}
	}

	return nil
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
