// Package httpapi serves the bridge's JSON HTTP surface: trades, robber
// attacks, production, building, dice, balances and the turn log.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/balance"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/game"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 20
)

// Service is the turn service the handlers drive.
type Service interface {
	Registry() *domain.Registry
	Trade(ctx context.Context, cmd game.TradeCommand) (game.Outcome, error)
	Robber(ctx context.Context, cmd game.RobberCommand) (game.Outcome, error)
	Produce(ctx context.Context, cmd game.ProduceCommand) (game.Outcome, error)
	Build(ctx context.Context, cmd game.BuildCommand) (game.Outcome, error)
	RollDice(ctx context.Context, player domain.AccountName) (game.DiceOutcome, error)
	RecordEvent(ctx context.Context, event domain.GameEvent) (uint64, error)
	Events(ctx context.Context, n int) ([]domain.GameEvent, error)
	Balance(ctx context.Context, name domain.AccountName) (domain.Balances, error)
	AllBalances(ctx context.Context) (balance.Snapshot, error)
	ResetNonce(ctx context.Context, name domain.AccountName) (uint64, bool, error)
}

// Config wires the HTTP handler.
type Config struct {
	Service  Service
	Contract common.Address
	ChainID  *big.Int
	Policy   string
	// Health probes the ledger for GET /health. Nil reports healthy.
	Health func(context.Context) error
	// Logger is the base request logger; defaults to the global logger.
	Logger *zerolog.Logger
}

type handler struct {
	service  Service
	registry *domain.Registry
	contract common.Address
	chainID  *big.Int
	policy   string
	health   func(context.Context) error
}

// NewHandler builds the routed, instrumented HTTP handler.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}
	registry := cfg.Service.Registry()
	if registry == nil {
		return nil, errors.New("service has no account registry")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	h := &handler{
		service:  cfg.Service,
		registry: registry,
		contract: cfg.Contract,
		chainID:  cfg.ChainID,
		policy:   cfg.Policy,
		health:   cfg.Health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /trade", h.trade)
	mux.HandleFunc("POST /robber/attack", h.robber)
	mux.HandleFunc("POST /production", h.production)
	mux.HandleFunc("POST /build", h.build)
	mux.HandleFunc("POST /dice/roll", h.rollDice)
	mux.HandleFunc("GET /balance/{account}", h.balance)
	mux.HandleFunc("GET /balances", h.balances)
	mux.HandleFunc("GET /events", h.events)
	mux.HandleFunc("POST /events", h.recordEvent)
	mux.HandleFunc("POST /accounts/{account}/nonce/reset", h.resetNonce)
	mux.HandleFunc("GET /health", h.healthCheck)
	mux.HandleFunc("GET /info", h.info)

	routed := Chain(mux, RequestLogger(logger), RecoverPanic())
	return otelhttp.NewHandler(routed, "bridge.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	), nil
}

func (h *handler) trade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	items, err := req.Resources.items()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	outcome, err := h.service.Trade(r.Context(), game.TradeCommand{
		Origin:      domain.AccountName(req.Origin),
		Destination: domain.AccountName(req.Destination),
		Items:       items,
	})
	h.writeOutcome(r.Context(), w, outcome, err)
}

func (h *handler) robber(w http.ResponseWriter, r *http.Request) {
	var req robberRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	kind, err := req.RecursoID.kind()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	outcome, err := h.service.Robber(r.Context(), game.RobberCommand{
		Attacker: domain.AccountName(req.Atacante),
		Victim:   domain.AccountName(req.Victima),
		Kind:     kind,
	})
	h.writeOutcome(r.Context(), w, outcome, err)
}

func (h *handler) production(w http.ResponseWriter, r *http.Request) {
	var req productionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	items, err := req.Resources.items()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	outcome, err := h.service.Produce(r.Context(), game.ProduceCommand{
		Player: domain.AccountName(req.Player),
		Items:  items,
	})
	h.writeOutcome(r.Context(), w, outcome, err)
}

func (h *handler) build(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	cost, err := req.Cost.items()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	outcome, err := h.service.Build(r.Context(), game.BuildCommand{
		Player:    domain.AccountName(req.Player),
		Structure: req.Structure,
		Cost:      cost,
	})
	h.writeOutcome(r.Context(), w, outcome, err)
}

func (h *handler) rollDice(w http.ResponseWriter, r *http.Request) {
	var req diceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	outcome, err := h.service.RollDice(r.Context(), domain.AccountName(req.Player))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, diceResponse{
		First:    outcome.Roll.First,
		Second:   outcome.Roll.Second,
		Total:    outcome.Roll.Total,
		Robber:   outcome.Roll.Robber(),
		Sequence: outcome.Sequence,
	})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	account, err := h.account(r.PathValue("account"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	balances, err := h.service.Balance(r.Context(), account.Name)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, balanceResponse{
		Account:  account.Name,
		Address:  account.Address,
		Recursos: balances,
	})
}

func (h *handler) balances(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.AllBalances(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp := balancesResponse{Accounts: make(map[domain.AccountName]balanceResponse, len(snapshot))}
	for _, account := range h.registry.All() {
		resp.Accounts[account.Name] = balanceResponse{
			Account:  account.Name,
			Address:  account.Address,
			Recursos: snapshot[account.Name],
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, apperrors.New(apperrors.CodeInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := h.service.Events(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if events == nil {
		events = []domain.GameEvent{}
	}
	writeJSON(r.Context(), w, http.StatusOK, eventsResponse{Events: events})
}

func (h *handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	seq, err := h.service.RecordEvent(r.Context(), domain.GameEvent{
		Kind:    domain.EventKind(req.Kind),
		Player:  domain.AccountName(req.Player),
		Payload: req.Payload,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, sequenceResponse{Sequence: seq})
}

func (h *handler) resetNonce(w http.ResponseWriter, r *http.Request) {
	account, err := h.account(r.PathValue("account"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	previous, had, err := h.service.ResetNonce(r.Context(), account.Name)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp := nonceResetResponse{Account: account.Name}
	if had {
		resp.PreviousNonce = &previous
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("ledger health check failed")
			writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"ledger": err.Error(),
			})
			return
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	resp := infoResponse{
		Contract: h.contract,
		Policy:   h.policy,
	}
	if h.chainID != nil {
		resp.ChainID = h.chainID.String()
	}
	for _, account := range h.registry.All() {
		resp.Accounts = append(resp.Accounts, infoAccount{
			Name:    account.Name,
			Address: account.Address,
			Owner:   h.registry.IsOwner(account),
		})
	}
	for _, kind := range domain.AllResourceKinds() {
		resp.Resources = append(resp.Resources, infoResource{ID: kind.ID(), Name: kind.String()})
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *handler) account(label string) (domain.Account, error) {
	name, ok := domain.NormalizeAccountName(label)
	if !ok {
		return domain.Account{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("unknown account %q", label))
	}
	return h.registry.Lookup(name)
}

// writeOutcome answers a resource movement. Requests rejected before the
// ledger was involved use the plain error body.
func (h *handler) writeOutcome(ctx context.Context, w http.ResponseWriter, outcome game.Outcome, err error) {
	if err != nil && (outcome.Result.Status == "" || apperrors.IsCode(err, apperrors.CodeInvalidRequest)) {
		writeError(ctx, w, err)
		return
	}
	resp := newTransferResponse(h.chainID, outcome)
	status := http.StatusOK
	if err != nil {
		status = apperrors.CodeOf(err).HTTPStatus()
		if resp.Code == "" {
			resp.Code = apperrors.CodeOf(err)
		}
	}
	writeJSON(ctx, w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "invalid JSON body", err)
	}
	return nil
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := err.Error()
	if code == apperrors.CodeUnknown {
		zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	writeJSON(ctx, w, code.HTTPStatus(), errorResponse{
		Status:  domain.TransferFailure,
		Code:    code,
		Message: message,
		TxHash:  apperrors.TxHashOf(err),
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("encode response")
	}
}
