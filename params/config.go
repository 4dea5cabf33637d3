package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type API struct {
	ListenAddr string // host:port for the REST/WebSocket server
}

type Node struct {
	DataDir string // Pebble directory; empty runs the engine in memory only
	LogFile string // structured log file; empty logs to stdout only
	// DevMode enables the faucet endpoint so test accounts can mint
	// wallet balances without an external token bridge.
	DevMode bool
}

type Exchange struct {
	Owner        common.Address // administrator allowed to register trading pairs
	FeeRecipient common.Address // account accruing trading fees
}

type Config struct {
	API      API
	Node     Node
	Exchange Exchange
}

func Default() Config {
	return Config{
		API: API{
			ListenAddr: ":8080",
		},
		Node: Node{
			DataDir: "data/monadex",
			LogFile: "logs/monadex.log",
			DevMode: true,
		},
		Exchange: Exchange{
			Owner:        common.HexToAddress("0x0000000000000000000000000000000000000001"),
			FeeRecipient: common.HexToAddress("0x0000000000000000000000000000000000000002"),
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if dir := os.Getenv("NODE_DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if logFile := os.Getenv("NODE_LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}
	if dev := os.Getenv("NODE_DEV_MODE"); dev != "" {
		if b, err := strconv.ParseBool(dev); err == nil {
			cfg.Node.DevMode = b
		}
	}
	if owner := os.Getenv("EXCHANGE_OWNER"); common.IsHexAddress(owner) {
		cfg.Exchange.Owner = common.HexToAddress(owner)
	}
	if recipient := os.Getenv("EXCHANGE_FEE_RECIPIENT"); common.IsHexAddress(recipient) {
		cfg.Exchange.FeeRecipient = common.HexToAddress(recipient)
	}

	return cfg
}
