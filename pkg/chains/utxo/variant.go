package utxo

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/sigweihq/chainpay/pkg/constants"
)

// Variant describes how a bitcoind-derived node differs from Bitcoin Core
type Variant struct {
	Name   string
	Params *chaincfg.Params

	// SmartFee is false for nodes that only offer estimatefee
	SmartFee bool

	// FeeTargetArg is set when estimatefee takes a confirmation target
	FeeTargetArg bool

	// Decodable is false when addresses use an encoding btcutil cannot parse (cashaddr);
	// such addresses are passed to the node unchecked
	Decodable bool
}

// Variant tags accepted by ParseVariant
const (
	VariantBTC        = "btc"
	VariantBTCTestnet = "btc-testnet"
	VariantBTCRegtest = "btc-regtest"
	VariantBCH        = "bch"
	VariantLTC        = "ltc"
	VariantDOGE       = "doge"
)

var (
	bitcoinCashParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "bitcoin-cash"
		p.Net = wire.BitcoinNet(0xe8f3e1e3)
		p.Bech32HRPSegwit = ""
		return p
	}()

	litecoinParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "litecoin"
		p.Net = wire.BitcoinNet(0xdbb6c0fb)
		p.PubKeyHashAddrID = 0x30
		p.ScriptHashAddrID = 0x32
		p.PrivateKeyID = 0xb0
		p.Bech32HRPSegwit = "ltc"
		return p
	}()

	dogecoinParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "dogecoin"
		p.Net = wire.BitcoinNet(0xc0c0c0c0)
		p.PubKeyHashAddrID = 0x1e
		p.ScriptHashAddrID = 0x16
		p.PrivateKeyID = 0x9e
		p.Bech32HRPSegwit = ""
		return p
	}()

	// litecoin's bech32 prefix must be registered before btcutil will decode it
	registerOnce sync.Once
)

var variants = map[string]Variant{
	VariantBTC:        {Name: VariantBTC, Params: &chaincfg.MainNetParams, SmartFee: true, Decodable: true},
	VariantBTCTestnet: {Name: VariantBTCTestnet, Params: &chaincfg.TestNet3Params, SmartFee: true, Decodable: true},
	VariantBTCRegtest: {Name: VariantBTCRegtest, Params: &chaincfg.RegressionNetParams, SmartFee: true, Decodable: true},
	VariantBCH:        {Name: VariantBCH, Params: &bitcoinCashParams},
	VariantLTC:        {Name: VariantLTC, Params: &litecoinParams, SmartFee: true, Decodable: true},
	VariantDOGE:       {Name: VariantDOGE, Params: &dogecoinParams, FeeTargetArg: true, Decodable: true},
}

// networkVariants is the variant used for a known network when none is configured
var networkVariants = map[string]string{
	constants.NetworkBitcoin:     VariantBTC,
	constants.NetworkBitcoinTest: VariantBTCTestnet,
	constants.NetworkBitcoinReg:  VariantBTCRegtest,
	constants.NetworkBitcoinCash: VariantBCH,
	constants.NetworkLitecoin:    VariantLTC,
	constants.NetworkDogecoin:    VariantDOGE,
}

// ParseVariant returns the variant for tag
func ParseVariant(tag string) (Variant, error) {
	registerOnce.Do(func() {
		registerParams(slog.Default(), &litecoinParams)
	})
	v, ok := variants[tag]
	if !ok {
		return Variant{}, fmt.Errorf("unknown UTXO variant %q", tag)
	}
	return v, nil
}

// registerParams makes btcutil aware of networks btcd does not ship, which bech32
// decoding needs. A failed registration leaves those addresses undecodable.
func registerParams(logger *slog.Logger, params ...*chaincfg.Params) {
	for _, p := range params {
		if err := chaincfg.Register(p); err != nil {
			logger.Warn("failed to register chain params", "params", p.Name, "bech32HRP", p.Bech32HRPSegwit, "error", err)
		}
	}
}

// variantFor resolves the configured tag, or the network's default
func variantFor(network, tag string) (Variant, error) {
	if tag == "" {
		var ok bool
		if tag, ok = networkVariants[network]; !ok {
			return Variant{}, fmt.Errorf("no variant configured for UTXO network %s", network)
		}
	}
	return ParseVariant(tag)
}
