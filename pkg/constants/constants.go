package constants

import "time"

const (
	DelayBetweenRPCCalls  = 200              // delay in milliseconds between RPC calls
	RPCCallTimeout        = 10 * time.Second // timeout for a single read call
	SubmitTimeout         = 30 * time.Second // timeout for a transaction broadcast
	HealthCheckTimeout    = 3 * time.Second  // timeout for endpoint health checks
	TLSHandshakeTimeout   = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout = 20 * time.Second // timeout for response header
	ExpectContinueTimeout = 1 * time.Second  // timeout for expect continue
	DiscoveryTimeout      = 15 * time.Second // timeout for chainlist.org endpoint discovery
	MaxResponseBodySize   = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
	EndpointRefreshPeriod = 6 * time.Hour
)

// Fee estimation defaults
const (
	DefaultFeeBlockCount       = 10 // recent blocks sampled per estimate
	DefaultFeePercentile       = 25
	DefaultPercentileCacheSize = 9
	DefaultPriorityFeeWei      = 2_500_000_000 // 2.5 gwei
	GasLimitTransfer           = 21000
	SolanaLamportsPerSignature = 5000
	SolanaFinalizedDepth       = 32 // confirmations reported for finalized signatures
	UTXOFeeConfTarget          = 2  // blocks targeted by estimatesmartfee
	UTXOMinRelayFeeRate        = 1  // sat/vbyte used when the node has no estimate
)

// Dispatch defaults
const (
	DefaultMaxOutputs          = 100
	DefaultSolanaMaxOutputs    = 20 // system transfers that fit one legacy transaction
	DefaultConfirmationTimeout = 120 * time.Second
	DefaultPollInterval        = 1 * time.Second
	DefaultUnlockDuration      = 60 * time.Second
	DefaultAddressCacheSize    = 1024
)

// Network Types
const (
	NetworkEthereum      = "ethereum"
	NetworkSepolia       = "sepolia"
	NetworkBase          = "base"
	NetworkBaseSepolia   = "base-sepolia"
	NetworkAvalanche     = "avalanche"
	NetworkAvalancheFuji = "avalanche-fuji"
	NetworkPolygon       = "polygon"
	NetworkPolygonAmoy   = "polygon-amoy"
	NetworkBSC           = "bsc"
	NetworkSolana        = "solana"
	NetworkSolanaDevnet  = "solana-devnet"
	NetworkBitcoin       = "bitcoin"
	NetworkBitcoinTest   = "bitcoin-testnet"
	NetworkBitcoinReg    = "bitcoin-regtest"
	NetworkBitcoinCash   = "bitcoin-cash"
	NetworkLitecoin      = "litecoin"
	NetworkDogecoin      = "dogecoin"
)

// mapping from network name to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkEthereum:      1,
	NetworkSepolia:       11155111,
	NetworkBase:          8453,
	NetworkBaseSepolia:   84532,
	NetworkAvalanche:     43114,
	NetworkAvalancheFuji: 43113,
	NetworkPolygon:       137,
	NetworkPolygonAmoy:   80002,
	NetworkBSC:           56,
}

// Networks whose nodes do not report a base fee and are priced with a legacy gas price
var LegacyGasPriceNetworks = map[string]bool{
	NetworkBSC: true,
}

// Decimal places of each chain's native unit
var NetworkDecimals = map[string]int32{
	NetworkSolana:       9,
	NetworkSolanaDevnet: 9,
	NetworkBitcoin:      8,
	NetworkBitcoinTest:  8,
	NetworkBitcoinReg:   8,
	NetworkBitcoinCash:  8,
	NetworkLitecoin:     8,
	NetworkDogecoin:     8,
}

// EVMDecimals is the decimal places of ether-like native units
const EVMDecimals = 18

var OfficialRPCEndpoints = map[string][]string{
	NetworkBase:         {"https://mainnet.base.org"},
	NetworkBaseSepolia:  {"https://sepolia.base.org"},
	NetworkSolana:       {"https://api.mainnet-beta.solana.com"},
	NetworkSolanaDevnet: {"https://api.devnet.solana.com"},
}
