package utxo

import (
	"fmt"
	"log/slog"

	"github.com/sigweihq/chainpay/pkg/chains"
)

// InitUTXOChains registers a client per wallet node in nodes, keyed by network name.
// UTXO nodes hold the wallet, so there are no public endpoints to fall back to.
func InitUTXOChains(logger *slog.Logger, nodes map[string]*Options) error {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()

	for network, opts := range nodes {
		if opts == nil {
			logger.Warn("no node configured for UTXO network", "network", network)
			continue
		}
		o := *opts
		if o.Logger == nil {
			o.Logger = logger
		}

		client, err := NewClient(network, &o)
		if err != nil {
			return fmt.Errorf("failed to create UTXO client for %s: %w", network, err)
		}
		if err := registry.Register(client); err != nil {
			client.Close()
			return fmt.Errorf("failed to register UTXO client for %s: %w", network, err)
		}
	}

	return nil
}
