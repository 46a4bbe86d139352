package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/sebaaaap/hackathonavalanche/internal/platform/discovery"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/timeouts"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/feed"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
)

// Event store backends.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

const (
	defaultHTTPAddr     = ":8000"
	defaultEventLogPath = "data/turns.json"
	defaultEventDBPath  = "data/bridge.db"
	defaultRPCRetryMax  = 3
)

// RuntimeConfig controls bridge startup.
type RuntimeConfig struct {
	HTTPAddr string
	// HealthPort serves grpc.health.v1 when positive.
	HealthPort int

	RPCURL string
	// RPCRetryMax bounds transport retries; negative disables them.
	RPCRetryMax int
	Contract    string
	ChainID     int64
	Keys        []ledger.KeySource

	GasMargin      float64
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	MintPolicy     string

	EventStore   string
	EventLogPath string
	EventDBPath  string
	EventLimit   int
}

func (c RuntimeConfig) normalized() (RuntimeConfig, error) {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	c.RPCURL = discovery.OrDefaultRPCURL(c.RPCURL, c.ChainID)
	if c.RPCRetryMax == 0 {
		c.RPCRetryMax = defaultRPCRetryMax
	}
	if c.GasMargin == 0 {
		c.GasMargin = ledger.DefaultGasMargin
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = timeouts.Confirmation
	}
	if c.ConfirmPoll <= 0 {
		c.ConfirmPoll = timeouts.ConfirmationPoll
	}
	c.EventStore = strings.ToLower(strings.TrimSpace(c.EventStore))
	switch c.EventStore {
	case "":
		c.EventStore = StoreJSON
	case StoreJSON, StoreSQLite, StoreMemory:
	default:
		return RuntimeConfig{}, fmt.Errorf("unknown event store %q", c.EventStore)
	}
	if strings.TrimSpace(c.EventLogPath) == "" {
		c.EventLogPath = defaultEventLogPath
	}
	if strings.TrimSpace(c.EventDBPath) == "" {
		c.EventDBPath = defaultEventDBPath
	}
	if c.EventLimit <= 0 {
		c.EventLimit = feed.DefaultRetention
	}
	return c, nil
}
