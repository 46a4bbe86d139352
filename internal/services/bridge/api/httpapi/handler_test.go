package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/balance"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/feed"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/game"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger/ledgertest"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage/memory"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/transfer"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000c0de1")

type server struct {
	handler  http.Handler
	chain    *ledgertest.Chain
	registry *domain.Registry
	health   error
}

func newServer(t *testing.T) *server {
	t.Helper()
	sources := make([]ledger.KeySource, 0, 3)
	for _, name := range domain.AccountNames() {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		sources = append(sources, ledger.KeySource{Account: name, Hex: hex.EncodeToString(crypto.FromECDSA(key))})
	}
	ring, err := ledger.LoadKeyring(sources...)
	require.NoError(t, err)
	registry, err := domain.NewRegistry(domain.AccountBank, ring.Accounts()...)
	require.NoError(t, err)

	chain := ledgertest.New(43113, testContract, registry.Owner().Address)
	client, err := ledger.NewClient(context.Background(), chain, ring, nil, ledger.Config{
		Contract:     testContract,
		Owner:        registry.Owner().Address,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	orch, err := transfer.New(client, registry, transfer.Config{ConfirmTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	view, err := balance.NewView(client)
	require.NoError(t, err)
	events, err := feed.New(context.Background(), memory.New(), 100)
	require.NoError(t, err)
	svc, err := game.NewService(game.Deps{
		Registry:  registry,
		Transfers: orch,
		Balances:  view,
		Events:    events,
		Nonces:    client.Nonces(),
		Seeds:     func() (int64, error) { return 42, nil },
		Retry:     balance.RetryPolicy{MaxTries: 1},
	})
	require.NoError(t, err)

	s := &server{chain: chain, registry: registry}
	logger := zerolog.Nop()
	s.handler, err = NewHandler(Config{
		Service:  svc,
		Contract: testContract,
		ChainID:  client.ChainID(),
		Policy:   string(orch.Policy()),
		Health:   func(context.Context) error { return s.health },
		Logger:   &logger,
	})
	require.NoError(t, err)
	return s
}

func (s *server) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (s *server) address(t *testing.T, name domain.AccountName) common.Address {
	t.Helper()
	account, err := s.registry.Lookup(name)
	require.NoError(t, err)
	return account.Address
}

func TestNewHandlerRequiresService(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.Error(t, err)
}

func TestTradeMintFromBank(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/trade",
		`{"origin":"BANCO","destination":"MODELO_A","resources":[{"id":1,"cantidad":5},{"id":"arcilla","cantidad":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "mint", body["operation"])
	hash, _ := body["hash_tx"].(string)
	require.NotEmpty(t, hash)
	assert.Equal(t, "https://testnet.snowtrace.io/tx/"+hash, body["explorer"])
	assert.Equal(t, float64(1), body["sequence"])

	rec, body = s.do(t, http.MethodGet, "/balance/modelo_a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PLAYER_A", body["account"])
	assert.Equal(t, map[string]any{
		"WOOD": float64(5), "CLAY": float64(3), "SHEEP": float64(0), "WHEAT": float64(0), "ORE": float64(0),
	}, body["recursos"])
}

func TestTradeInsufficientBalance(t *testing.T) {
	s := newServer(t)
	s.chain.Credit(s.address(t, domain.AccountPlayerA), uint64(domain.ResourceOre), 1)

	rec, body := s.do(t, http.MethodPost, "/trade",
		`{"origin":"PLAYER_A","destination":"PLAYER_B","resources":[{"id":5,"cantidad":2}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "FAILURE", body["status"])
	assert.Equal(t, "INSUFFICIENT_BALANCE", body["code"])
	assert.Equal(t, uint64(1), s.chain.Balance(s.address(t, domain.AccountPlayerA), uint64(domain.ResourceOre)))
}

func TestTradeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown resource": `{"origin":"BANK","destination":"PLAYER_A","resources":[{"id":9,"cantidad":1}]}`,
		"zero amount":      `{"origin":"BANK","destination":"PLAYER_A","resources":[{"id":1,"cantidad":0}]}`,
		"negative amount":  `{"origin":"BANK","destination":"PLAYER_A","resources":[{"id":1,"cantidad":-2}]}`,
		"missing amount":   `{"origin":"BANK","destination":"PLAYER_A","resources":[{"id":1}]}`,
		"no resources":     `{"origin":"BANK","destination":"PLAYER_A","resources":[]}`,
		"same account":     `{"origin":"PLAYER_A","destination":"modelo_a","resources":[{"id":1,"cantidad":1}]}`,
		"unknown account":  `{"origin":"BANK","destination":"PLAYER_Z","resources":[{"id":1,"cantidad":1}]}`,
		"malformed":        `{"origin":`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			s := newServer(t)
			rec, body := s.do(t, http.MethodPost, "/trade", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_REQUEST", body["code"])
			assert.Empty(t, s.chain.Sent())
		})
	}
}

func TestTradeTimeoutReportsHash(t *testing.T) {
	s := newServer(t)
	s.chain.WithholdReceipts(true)

	rec, body := s.do(t, http.MethodPost, "/trade",
		`{"origin":"BANK","destination":"PLAYER_B","resources":[{"id":4,"cantidad":1}]}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "TIMEOUT", body["code"])
	assert.NotEmpty(t, body["hash_tx"])
	assert.Len(t, s.chain.Sent(), 1)
}

func TestRobberAttack(t *testing.T) {
	s := newServer(t)
	s.chain.Credit(s.address(t, domain.AccountPlayerB), uint64(domain.ResourceWheat), 3)

	rec, body := s.do(t, http.MethodPost, "/robber/attack", `{"atacante":"MODELO_A","victima":"MODELO_B","recurso_id":4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SUCCESS", body["status"])
	assert.NotEmpty(t, body["hash_tx"])
	assert.Equal(t, uint64(2), s.chain.Balance(s.address(t, domain.AccountPlayerB), uint64(domain.ResourceWheat)))
	assert.Equal(t, uint64(1), s.chain.Balance(s.address(t, domain.AccountPlayerA), uint64(domain.ResourceWheat)))

	rec, body = s.do(t, http.MethodPost, "/robber/attack", `{"atacante":"MODELO_A","victima":"BANCO","recurso_id":4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", body["code"])
}

func TestProductionAndBuild(t *testing.T) {
	s := newServer(t)

	rec, _ := s.do(t, http.MethodPost, "/production",
		`{"player":"PLAYER_A","resources":[{"id":"wood","cantidad":1},{"id":"clay","cantidad":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := s.do(t, http.MethodPost, "/build",
		`{"player":"PLAYER_A","structure":"road","cost":[{"id":1,"cantidad":1},{"id":2,"cantidad":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "transfer", body["operation"])

	rec, body = s.do(t, http.MethodGet, "/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	accounts := body["accounts"].(map[string]any)
	require.Len(t, accounts, 3)
	bank := accounts["BANK"].(map[string]any)["recursos"].(map[string]any)
	assert.Equal(t, float64(1), bank["WOOD"])
	assert.Equal(t, float64(1), bank["CLAY"])
}

func TestDiceRoll(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/dice/roll", `{"player":"modelo_b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	total := body["total"].(float64)
	assert.Equal(t, body["first"].(float64)+body["second"].(float64), total)
	assert.Equal(t, total == 7, body["robber"])

	rec, body = s.do(t, http.MethodGet, "/events?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "DICE", events[0].(map[string]any)["kind"])
}

func TestEvents(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["events"])

	rec, body = s.do(t, http.MethodPost, "/events", `{"kind":"build","player":"PLAYER_A","payload":{"structure":"city"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), body["sequence"])
	s.do(t, http.MethodPost, "/events", `{"kind":"TRADE"}`)

	rec, body = s.do(t, http.MethodGet, "/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "TRADE", events[0].(map[string]any)["kind"])

	rec, _ = s.do(t, http.MethodGet, "/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/events", `{"kind":"PARTY"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", body["code"])
}

func TestBalanceErrors(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodGet, "/balance/dealer", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	s.chain.FailReads(errors.New("connection refused"))
	rec, body = s.do(t, http.MethodGet, "/balance/BANK", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "LEDGER_UNAVAILABLE", body["code"])
}

func TestResetNonce(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/accounts/BANK/nonce/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["previous_nonce"])

	rec, _ = s.do(t, http.MethodPost, "/production", `{"player":"PLAYER_B","resources":[{"id":3,"cantidad":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/accounts/banco/nonce/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BANK", body["account"])
	assert.Equal(t, float64(0), body["previous_nonce"])

	rec, _ = s.do(t, http.MethodPost, "/accounts/nobody/nonce/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndInfo(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	s.health = errors.New("dial tcp: refused")
	rec, body = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	rec, body = s.do(t, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "43113", body["chain_id"])
	assert.Equal(t, "mint", body["mint_policy"])
	assert.Equal(t, strings.ToLower(testContract.Hex()), strings.ToLower(body["contract"].(string)))
	assert.Len(t, body["accounts"], 3)
	resources := body["resources"].([]any)
	require.Len(t, resources, 5)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "WOOD"}, resources[0])
}

func TestUnknownMethod(t *testing.T) {
	s := newServer(t)
	rec, _ := s.do(t, http.MethodGet, "/trade", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExplorerOmittedOffFuji(t *testing.T) {
	resp := newTransferResponse(big.NewInt(1337), game.Outcome{Result: domain.TransferResult{TxHash: "0xabc"}})
	assert.Empty(t, resp.Explorer)
}
