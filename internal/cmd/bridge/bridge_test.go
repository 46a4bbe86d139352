package bridge

import (
	"flag"
	"testing"
	"time"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CATAN_ENV_FILE", "")
	for _, name := range []string{
		"CATAN_BRIDGE_PORT", "CATAN_BRIDGE_ADDR", "RPC_URL", "CATAN_ADDRESS", "CATAN_CHAIN_ID",
		"CATAN_EVENT_STORE", "CATAN_MINT_POLICY", BankKeyVariable, PlayerAKeyVariable, PlayerBKeyVariable,
	} {
		t.Setenv(name, "")
	}
}

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	isolateEnv(t)
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	t.Setenv("CATAN_BRIDGE_PORT", "9000")
	t.Setenv("CATAN_ADDRESS", "0x00000000000000000000000000000000000c0de1")
	t.Setenv(BankKeyVariable, "0xabc")

	cfg, err := ParseConfig(fs, []string{"-event-store", "sqlite", "-confirm-timeout", "30s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Port)
	}
	if cfg.EventStore != "sqlite" {
		t.Fatalf("event store = %q, want %q", cfg.EventStore, "sqlite")
	}
	if cfg.ConfirmTimeout != 30*time.Second {
		t.Fatalf("confirm timeout = %v, want 30s", cfg.ConfirmTimeout)
	}
	if cfg.ChainID != 43113 {
		t.Fatalf("chain id = %d, want 43113", cfg.ChainID)
	}
	if cfg.GasMargin != 1.2 {
		t.Fatalf("gas margin = %v, want 1.2", cfg.GasMargin)
	}
	if cfg.BankKey != "0xabc" {
		t.Fatalf("bank key = %q, want %q", cfg.BankKey, "0xabc")
	}
}

func TestRuntimeConfigMapping(t *testing.T) {
	isolateEnv(t)
	cfg, err := ParseConfig(flag.NewFlagSet("bridge", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	runtime := cfg.RuntimeConfig()
	if runtime.HTTPAddr != ":8000" {
		t.Fatalf("http addr = %q, want %q", runtime.HTTPAddr, ":8000")
	}
	if runtime.RPCURL != "https://api.avax-test.network/ext/bc/C/rpc" {
		t.Fatalf("rpc url = %q", runtime.RPCURL)
	}
	if len(runtime.Keys) != 3 {
		t.Fatalf("keys = %d, want 3", len(runtime.Keys))
	}
	want := map[domain.AccountName]string{
		domain.AccountBank:    BankKeyVariable,
		domain.AccountPlayerA: PlayerAKeyVariable,
		domain.AccountPlayerB: PlayerBKeyVariable,
	}
	for _, key := range runtime.Keys {
		if want[key.Account] != key.Variable {
			t.Fatalf("key %s variable = %q, want %q", key.Account, key.Variable, want[key.Account])
		}
	}

	cfg.Addr = "127.0.0.1:9100"
	if got := cfg.ListenAddr(); got != "127.0.0.1:9100" {
		t.Fatalf("listen addr = %q", got)
	}
}
