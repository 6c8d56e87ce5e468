package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigweihq/chainpay/pkg/chains/evm"
	"github.com/sigweihq/chainpay/pkg/chains/svm"
	"github.com/sigweihq/chainpay/pkg/chains/utxo"
	"github.com/sigweihq/chainpay/pkg/config"
	"github.com/sigweihq/chainpay/pkg/utils"
)

// networkOptions groups the configured networks by the initializer that registers them
type networkOptions struct {
	evmDiscovered []string // endpoints come from chainlist.org
	evmEndpoints  map[string][]string
	evm           map[string]*evm.Options
	svmEndpoints  map[string][]string
	svm           map[string]*svm.Options
	utxo          map[string]*utxo.Options
}

func buildNetworkOptions(cfg *config.Config, logger *slog.Logger) (*networkOptions, error) {
	opts := &networkOptions{
		evmEndpoints: make(map[string][]string),
		evm:          make(map[string]*evm.Options),
		svmEndpoints: make(map[string][]string),
		svm:          make(map[string]*svm.Options),
		utxo:         make(map[string]*utxo.Options),
	}
	feeOpts := cfg.FeeOptions(logger)

	for _, n := range cfg.Networks {
		switch n.Kind {
		case config.KindEVM:
			o := &evm.Options{
				From:                  n.From,
				ChainID:               n.ChainID,
				LegacyGasPrice:        n.LegacyGasPrice,
				PriorityFeePercentile: cfg.Fees.PriorityFeePercentile,
				Fees:                  feeOpts,
				Logger:                logger,
			}
			if n.PrivateKey != "" {
				key, err := utils.ParseEVMPrivateKey(n.PrivateKey)
				if err != nil {
					return nil, fmt.Errorf("network %s: %w", n.Name, err)
				}
				o.PrivateKey = key
			}
			opts.evm[n.Name] = o
			if len(n.Endpoints) == 0 {
				opts.evmDiscovered = append(opts.evmDiscovered, n.Name)
			} else {
				opts.evmEndpoints[n.Name] = n.Endpoints
			}

		case config.KindSVM:
			o := &svm.Options{Fees: feeOpts, Logger: logger}
			if n.PrivateKey != "" {
				key, err := utils.ParseSolanaPrivateKey(n.PrivateKey)
				if err != nil {
					return nil, fmt.Errorf("network %s: %w", n.Name, err)
				}
				o.PrivateKey = key
			}
			opts.svm[n.Name] = o
			opts.svmEndpoints[n.Name] = n.Endpoints

		case config.KindUTXO:
			opts.utxo[n.Name] = &utxo.Options{
				Host:    n.Host,
				User:    n.RPCUser,
				Pass:    n.RPCPass,
				UseTLS:  n.UseTLS,
				Variant: n.Variant,
				Fees:    feeOpts,
				Logger:  logger,
			}
		}
	}
	return opts, nil
}

// initChains registers every configured network in the global registry. EVM endpoint
// discovery keeps refreshing in the background until ctx is done.
func initChains(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts, err := buildNetworkOptions(cfg, logger)
	if err != nil {
		return err
	}

	if err := evm.InitEVMChainsWithEndpoints(logger, opts.evmEndpoints, opts.evm); err != nil {
		return err
	}
	if len(opts.evmDiscovered) > 0 {
		if err := evm.InitEVMChains(ctx, logger, opts.evm, opts.evmDiscovered...); err != nil {
			return err
		}
	}
	if err := svm.InitSVMChainsWithEndpoints(logger, opts.svmEndpoints, opts.svm); err != nil {
		return err
	}
	return utxo.InitUTXOChains(logger, opts.utxo)
}
