// Package config loads the YAML file that describes which networks to serve and the
// fee and dispatch defaults applied to them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sigweihq/chainpay/pkg/bigmath"
	"github.com/sigweihq/chainpay/pkg/constants"
	"github.com/sigweihq/chainpay/pkg/fees"
	"github.com/sigweihq/chainpay/pkg/processor"
	"github.com/sigweihq/chainpay/pkg/utils"
)

// Network kinds
const (
	KindEVM  = "evm"
	KindSVM  = "svm"
	KindUTXO = "utxo"
)

type Config struct {
	LogLevel string    `yaml:"logLevel"`
	Networks []Network `yaml:"networks"`
	Fees     Fees      `yaml:"fees"`
	Dispatch Dispatch  `yaml:"dispatch"`

	level          slog.Level
	minPriorityFee *big.Int
	maxValue       decimal.Decimal
}

// Network is one chain to register. EVM and SVM networks use Endpoints (an EVM network
// without endpoints discovers them from chainlist.org); UTXO networks talk to the
// wallet node at Host.
type Network struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Endpoints []string `yaml:"endpoints"`

	// EVM networks missing from the built-in tables
	ChainID        int64 `yaml:"chainId"`
	LegacyGasPrice bool  `yaml:"legacyGasPrice"`

	// Signing: a local key (EVM hex, Solana hex or base58) or an EVM node account
	PrivateKey string `yaml:"privateKey"`
	From       string `yaml:"from"`

	// UTXO wallet node
	Host    string `yaml:"host"`
	RPCUser string `yaml:"rpcUser"`
	RPCPass string `yaml:"rpcPass"`
	UseTLS  bool   `yaml:"useTLS"`
	Variant string `yaml:"variant"`

	// WalletPassphrase unlocks the node wallet around each send
	WalletPassphrase string `yaml:"walletPassphrase"`
}

type Fees struct {
	BlockCount            int    `yaml:"blockCount"`
	PercentileCacheSize   int    `yaml:"percentileCacheSize"`
	MaxConcurrentFetch    int    `yaml:"maxConcurrentFetch"`
	Percentile            int    `yaml:"percentile"`
	PriorityFeePercentile int    `yaml:"priorityFeePercentile"`
	MinPriorityFee        string `yaml:"minPriorityFee"` // wei
}

type Dispatch struct {
	MaxValue            string        `yaml:"maxValue"` // display units; empty is unbounded
	MaxOutputs          int           `yaml:"maxOutputs"`
	ConfirmationTimeout time.Duration `yaml:"confirmationTimeout"`
	PollInterval        time.Duration `yaml:"pollInterval"`
	UnlockDuration      time.Duration `yaml:"unlockDuration"`
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands, defaults and validates the configuration at path
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document. ${VAR} placeholders are replaced from the environment
// before decoding; unset variables expand to the empty string.
func Parse(raw []byte) (*Config, error) {
	expanded := envPlaceholder.ReplaceAllStringFunc(string(raw), func(m string) string {
		return os.Getenv(envPlaceholder.FindStringSubmatch(m)[1])
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		n.Name = strings.TrimSpace(n.Name)
		if n.Kind == "" {
			n.Kind = inferKind(n.Name)
		}
	}
	if c.Fees.BlockCount == 0 {
		c.Fees.BlockCount = constants.DefaultFeeBlockCount
	}
	if c.Fees.PercentileCacheSize == 0 {
		c.Fees.PercentileCacheSize = constants.DefaultPercentileCacheSize
	}
	if c.Fees.Percentile == 0 {
		c.Fees.Percentile = constants.DefaultFeePercentile
	}
	if c.Dispatch.MaxOutputs == 0 {
		c.Dispatch.MaxOutputs = constants.DefaultMaxOutputs
	}
	if c.Dispatch.ConfirmationTimeout == 0 {
		c.Dispatch.ConfirmationTimeout = constants.DefaultConfirmationTimeout
	}
	if c.Dispatch.PollInterval == 0 {
		c.Dispatch.PollInterval = constants.DefaultPollInterval
	}
	if c.Dispatch.UnlockDuration == 0 {
		c.Dispatch.UnlockDuration = constants.DefaultUnlockDuration
	}
}

// inferKind guesses a network's kind from the built-in network tables
func inferKind(name string) string {
	switch {
	case constants.NetworkToChainID[name] != 0:
		return KindEVM
	case strings.HasPrefix(name, constants.NetworkSolana):
		return KindSVM
	case constants.NetworkDecimals[name] != 0:
		return KindUTXO
	}
	return ""
}

func (c *Config) validate() error {
	if err := c.level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}

	seen := make(map[string]struct{}, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return errors.New("network name is required")
		}
		if _, ok := seen[n.Name]; ok {
			return fmt.Errorf("duplicate network: %s", n.Name)
		}
		seen[n.Name] = struct{}{}
		if err := n.validate(); err != nil {
			return fmt.Errorf("network %s: %w", n.Name, err)
		}
	}

	if err := c.Fees.validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if c.Fees.MinPriorityFee != "" {
		fee, err := bigmath.ToBigInt(c.Fees.MinPriorityFee)
		if err != nil || fee.Sign() <= 0 {
			return fmt.Errorf("fees: minPriorityFee must be a positive integer wei amount, got %q", c.Fees.MinPriorityFee)
		}
		c.minPriorityFee = fee
	}

	if c.Dispatch.MaxValue != "" {
		maxValue, err := decimal.NewFromString(c.Dispatch.MaxValue)
		if err != nil || maxValue.IsNegative() {
			return fmt.Errorf("dispatch: maxValue must be a non-negative decimal, got %q", c.Dispatch.MaxValue)
		}
		c.maxValue = maxValue
	}
	if c.Dispatch.MaxOutputs < 0 {
		return errors.New("dispatch: maxOutputs must not be negative")
	}
	if c.Dispatch.ConfirmationTimeout < 0 || c.Dispatch.PollInterval < 0 || c.Dispatch.UnlockDuration < 0 {
		return errors.New("dispatch: durations must not be negative")
	}
	return nil
}

func (n Network) validate() error {
	switch n.Kind {
	case KindEVM:
		if constants.NetworkToChainID[n.Name] == 0 {
			if n.ChainID <= 0 {
				return errors.New("chainId is required for networks without a built-in chain ID")
			}
			if len(n.Endpoints) == 0 {
				return errors.New("endpoints are required for networks without a built-in chain ID")
			}
		}
		if n.PrivateKey != "" && n.From != "" {
			return errors.New("privateKey and from are mutually exclusive")
		}
	case KindSVM:
		if n.From != "" {
			return errors.New("from is only supported on evm networks")
		}
	case KindUTXO:
		if n.Host == "" {
			return errors.New("host is required")
		}
		if n.PrivateKey != "" {
			return errors.New("utxo networks sign with the node wallet; privateKey is not supported")
		}
	case "":
		return errors.New("kind is required (evm, svm or utxo)")
	default:
		return fmt.Errorf("unknown kind %q", n.Kind)
	}

	for _, endpoint := range n.Endpoints {
		if err := utils.ValidateEndpointURL(endpoint); err != nil {
			return err
		}
	}
	return nil
}

func (f Fees) validate() error {
	if f.BlockCount < 0 || f.PercentileCacheSize < 0 || f.MaxConcurrentFetch < 0 {
		return errors.New("counts must not be negative")
	}
	if f.Percentile < 0 || f.Percentile > 100 {
		return fmt.Errorf("percentile %d outside (0, 100]", f.Percentile)
	}
	if f.PriorityFeePercentile < 0 || f.PriorityFeePercentile > 100 {
		return fmt.Errorf("priorityFeePercentile %d outside (0, 100]", f.PriorityFeePercentile)
	}
	return nil
}

// Level is the parsed logLevel
func (c *Config) Level() slog.Level {
	return c.level
}

// FeeOptions returns the estimator options for every network
func (c *Config) FeeOptions(logger *slog.Logger) *fees.Options {
	return &fees.Options{
		BlockCount:          c.Fees.BlockCount,
		PercentileCacheSize: c.Fees.PercentileCacheSize,
		MaxConcurrentFetch:  c.Fees.MaxConcurrentFetch,
		Logger:              logger,
	}
}

// ProcessorConfig returns the processor defaults described by the file
func (c *Config) ProcessorConfig(logger *slog.Logger) *processor.Config {
	return &processor.Config{
		Fees:                  c.FeeOptions(logger),
		FeePercentile:         c.Fees.Percentile,
		PriorityFeePercentile: c.Fees.PriorityFeePercentile,
		MinPriorityFee:        c.minPriorityFee,
		MaxValue:              c.maxValue,
		MaxOutputs:            c.Dispatch.MaxOutputs,
		UnlockDuration:        c.Dispatch.UnlockDuration,
		ConfirmationTimeout:   c.Dispatch.ConfirmationTimeout,
		PollInterval:          c.Dispatch.PollInterval,
	}
}

// Network returns the named network's entry
func (c *Config) Network(name string) (Network, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return Network{}, false
}
