// Package bridge parses bridge command flags and launches the bridge runtime.
package bridge

import (
	"context"
	"flag"
	"net"
	"strconv"
	"strings"
	"time"

	entrypoint "github.com/sebaaaap/hackathonavalanche/internal/platform/cmd"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/discovery"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/logging"
	bridgeapp "github.com/sebaaaap/hackathonavalanche/internal/services/bridge/app"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
)

// Key variables, one per game account.
const (
	BankKeyVariable    = "PRIVATE_KEY_ADMIN_L1"
	PlayerAKeyVariable = "PRIVATE_KEY_MODELO_A"
	PlayerBKeyVariable = "PRIVATE_KEY_MODELO_B"
)

// Config holds bridge command configuration.
type Config struct {
	Port       int    `env:"CATAN_BRIDGE_PORT" envDefault:"8000"`
	Addr       string `env:"CATAN_BRIDGE_ADDR"`
	HealthPort int    `env:"CATAN_BRIDGE_HEALTH_PORT" envDefault:"0"`

	RPCURL      string  `env:"RPC_URL"`
	RPCRetryMax int     `env:"CATAN_RPC_RETRY_MAX" envDefault:"3"`
	Contract    string  `env:"CATAN_ADDRESS"`
	ChainID     int64   `env:"CATAN_CHAIN_ID" envDefault:"43113"`
	GasMargin   float64 `env:"CATAN_GAS_MARGIN" envDefault:"1.2"`

	BankKey    string `env:"PRIVATE_KEY_ADMIN_L1"`
	PlayerAKey string `env:"PRIVATE_KEY_MODELO_A"`
	PlayerBKey string `env:"PRIVATE_KEY_MODELO_B"`

	ConfirmTimeout time.Duration `env:"CATAN_CONFIRM_TIMEOUT" envDefault:"60s"`
	ConfirmPoll    time.Duration `env:"CATAN_CONFIRM_POLL" envDefault:"2s"`
	MintPolicy     string        `env:"CATAN_MINT_POLICY" envDefault:"mint"`

	EventStore   string `env:"CATAN_EVENT_STORE" envDefault:"json"`
	EventLogPath string `env:"CATAN_EVENT_LOG" envDefault:"data/turns.json"`
	EventDBPath  string `env:"CATAN_EVENT_DB_PATH" envDefault:"data/bridge.db"`
	EventLimit   int    `env:"CATAN_EVENT_LIMIT" envDefault:"100"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_TYPE" envDefault:"text"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The bridge HTTP port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The bridge HTTP listen address (overrides -port)")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The gRPC health server port (0 disables it)")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "The ledger JSON-RPC endpoint")
	fs.IntVar(&cfg.RPCRetryMax, "rpc-retry-max", cfg.RPCRetryMax, "Transport retries per JSON-RPC request")
	fs.StringVar(&cfg.Contract, "contract", cfg.Contract, "The ERC-1155 resource contract address")
	fs.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "The ledger chain id (0 asks the node)")
	fs.Float64Var(&cfg.GasMargin, "gas-margin", cfg.GasMargin, "Multiplier applied to gas estimates")
	fs.DurationVar(&cfg.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "How long to wait for a transaction receipt")
	fs.DurationVar(&cfg.ConfirmPoll, "confirm-poll", cfg.ConfirmPoll, "Receipt polling interval")
	fs.StringVar(&cfg.MintPolicy, "mint-policy", cfg.MintPolicy, "Bank payouts: mint or transfer")
	fs.StringVar(&cfg.EventStore, "event-store", cfg.EventStore, "Turn log backend: json, sqlite or memory")
	fs.StringVar(&cfg.EventLogPath, "event-log", cfg.EventLogPath, "The JSON turn log path")
	fs.StringVar(&cfg.EventDBPath, "event-db-path", cfg.EventDBPath, "The SQLite turn log path")
	fs.IntVar(&cfg.EventLimit, "event-limit", cfg.EventLimit, "Turn log entries kept")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ListenAddr is the HTTP listen address.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		return addr
	}
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// RuntimeConfig maps the command configuration onto the runtime.
func (c Config) RuntimeConfig() bridgeapp.RuntimeConfig {
	return bridgeapp.RuntimeConfig{
		HTTPAddr:    c.ListenAddr(),
		HealthPort:  c.HealthPort,
		RPCURL:      discovery.OrDefaultRPCURL(c.RPCURL, c.ChainID),
		RPCRetryMax: c.RPCRetryMax,
		Contract:    strings.TrimSpace(c.Contract),
		ChainID:     c.ChainID,
		Keys: []ledger.KeySource{
			{Account: domain.AccountBank, Variable: BankKeyVariable, Hex: c.BankKey},
			{Account: domain.AccountPlayerA, Variable: PlayerAKeyVariable, Hex: c.PlayerAKey},
			{Account: domain.AccountPlayerB, Variable: PlayerBKeyVariable, Hex: c.PlayerBKey},
		},
		GasMargin:      c.GasMargin,
		ConfirmTimeout: c.ConfirmTimeout,
		ConfirmPoll:    c.ConfirmPoll,
		MintPolicy:     c.MintPolicy,
		EventStore:     c.EventStore,
		EventLogPath:   c.EventLogPath,
		EventDBPath:    c.EventDBPath,
		EventLimit:     c.EventLimit,
	}
}

// Run starts the bridge runtime.
func Run(ctx context.Context, cfg Config) error {
	logger := logging.Configure(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx = logger.WithContext(ctx)
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBridge, func(ctx context.Context) error {
		return bridgeapp.Run(ctx, cfg.RuntimeConfig())
	})
}
