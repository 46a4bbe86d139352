// Package game exposes the turn actions the game loop drives: trades,
// robber steals, production, building and dice. Each action that moves
// resources goes through the transfer orchestrator, and every attempt that
// reached the ledger is written to the event feed, failures included.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/sebaaaap/hackathonavalanche/internal/core/dice"
	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/random"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/balance"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
)

// Transfers executes resource movements.
type Transfers interface {
	Execute(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error)
}

// Balances reads ledger balances.
type Balances interface {
	SnapshotWithRetry(ctx context.Context, policy balance.RetryPolicy, accounts ...domain.Account) (balance.Snapshot, error)
}

// Events is the turn log.
type Events interface {
	Record(ctx context.Context, event domain.GameEvent) (uint64, error)
	Recent(ctx context.Context, n int) ([]domain.GameEvent, error)
}

// NonceAdmin exposes operator recovery of signer nonces.
type NonceAdmin interface {
	Reset(account common.Address)
	Last(account common.Address) (uint64, bool)
}

// Deps wires a Service.
type Deps struct {
	Registry  *domain.Registry
	Transfers Transfers
	Balances  Balances
	Events    Events
	Nonces    NonceAdmin
	// Seeds feeds the dice roller; defaults to crypto/rand.
	Seeds random.Source
	Retry balance.RetryPolicy
}

// Service implements the turn actions.
type Service struct {
	registry  *domain.Registry
	transfers Transfers
	balances  Balances
	events    Events
	nonces    NonceAdmin
	seeds     random.Source
	retry     balance.RetryPolicy
}

// NewService validates deps and builds a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("account registry is required")
	case deps.Transfers == nil:
		return nil, errors.New("transfers are required")
	case deps.Balances == nil:
		return nil, errors.New("balances are required")
	case deps.Events == nil:
		return nil, errors.New("event feed is required")
	}
	seeds := deps.Seeds
	if seeds == nil {
		seeds = random.NewSeed
	}
	retry := deps.Retry
	if retry.MaxTries == 0 {
		retry = balance.DefaultRetryPolicy()
	}
	return &Service{
		registry:  deps.Registry,
		transfers: deps.Transfers,
		balances:  deps.Balances,
		events:    deps.Events,
		nonces:    deps.Nonces,
		seeds:     seeds,
		retry:     retry,
	}, nil
}

// Registry returns the configured accounts.
func (s *Service) Registry() *domain.Registry {
	return s.registry
}

// Outcome is a transfer together with the event that recorded it.
type Outcome struct {
	Result   domain.TransferResult
	Sequence uint64
}

// TradeCommand moves resources between any two accounts.
type TradeCommand struct {
	Origin      domain.AccountName
	Destination domain.AccountName
	Items       []domain.ResourceQuantity
}

type tradePayload struct {
	Origin      domain.AccountName        `json:"origin"`
	Destination domain.AccountName        `json:"destination"`
	Items       []domain.ResourceQuantity `json:"items"`
}

// Trade executes cmd and records a TRADE event.
func (s *Service) Trade(ctx context.Context, cmd TradeCommand) (Outcome, error) {
	origin, destination, err := s.resolvePair(cmd.Origin, cmd.Destination)
	if err != nil {
		return Outcome{}, err
	}
	req := domain.TransferRequest{Origin: origin, Destination: destination, Items: cmd.Items}
	payload := tradePayload{Origin: origin.Name, Destination: destination.Name, Items: cmd.Items}
	return s.move(ctx, domain.EventTrade, origin.Name, req, payload)
}

// RobberCommand steals one unit of Kind from Victim for Attacker.
type RobberCommand struct {
	Attacker domain.AccountName
	Victim   domain.AccountName
	Kind     domain.ResourceKind
}

type robberPayload struct {
	Attacker domain.AccountName  `json:"attacker"`
	Victim   domain.AccountName  `json:"victim"`
	Kind     domain.ResourceKind `json:"kind"`
	Amount   uint64              `json:"amount"`
}

// RobberStealAmount is the number of units a robber attack takes.
const RobberStealAmount = 1

// Robber moves one unit from the victim to the attacker, signed by the
// victim's key, and records a ROBBER event.
func (s *Service) Robber(ctx context.Context, cmd RobberCommand) (Outcome, error) {
	attacker, victim, err := s.resolvePair(cmd.Attacker, cmd.Victim)
	if err != nil {
		return Outcome{}, err
	}
	if s.registry.IsOwner(attacker) || s.registry.IsOwner(victim) {
		return Outcome{}, apperrors.New(apperrors.CodeInvalidRequest, "the robber only moves resources between players")
	}
	if !cmd.Kind.Valid() {
		return Outcome{}, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown resource id %d", uint8(cmd.Kind)))
	}
	req := domain.TransferRequest{
		Origin:      victim,
		Destination: attacker,
		Items:       []domain.ResourceQuantity{{Kind: cmd.Kind, Amount: RobberStealAmount}},
	}
	payload := robberPayload{Attacker: attacker.Name, Victim: victim.Name, Kind: cmd.Kind, Amount: RobberStealAmount}
	return s.move(ctx, domain.EventRobber, attacker.Name, req, payload)
}

// ProduceCommand pays out dice production from the bank to a player.
type ProduceCommand struct {
	Player domain.AccountName
	Items  []domain.ResourceQuantity
}

type productionPayload struct {
	Player domain.AccountName        `json:"player"`
	Items  []domain.ResourceQuantity `json:"items"`
}

// Produce moves items from the owner account to the player and records a
// PRODUCTION event.
func (s *Service) Produce(ctx context.Context, cmd ProduceCommand) (Outcome, error) {
	player, err := s.resolvePlayer(cmd.Player)
	if err != nil {
		return Outcome{}, err
	}
	bank := s.registry.Owner()
	req := domain.TransferRequest{Origin: bank, Destination: player, Items: cmd.Items}
	return s.move(ctx, domain.EventProduction, player.Name, req, productionPayload{Player: player.Name, Items: cmd.Items})
}

// BuildCommand pays a structure's cost from a player back to the bank.
type BuildCommand struct {
	Player    domain.AccountName
	Structure string
	Cost      []domain.ResourceQuantity
}

type buildPayload struct {
	Player    domain.AccountName        `json:"player"`
	Structure string                    `json:"structure"`
	Cost      []domain.ResourceQuantity `json:"cost"`
}

// Build moves the cost from the player to the owner account and records a
// BUILD event. Costs are supplied by the caller.
func (s *Service) Build(ctx context.Context, cmd BuildCommand) (Outcome, error) {
	player, err := s.resolvePlayer(cmd.Player)
	if err != nil {
		return Outcome{}, err
	}
	structure := strings.ToLower(strings.TrimSpace(cmd.Structure))
	if structure == "" {
		return Outcome{}, apperrors.New(apperrors.CodeInvalidRequest, "structure is required")
	}
	req := domain.TransferRequest{Origin: player, Destination: s.registry.Owner(), Items: cmd.Cost}
	payload := buildPayload{Player: player.Name, Structure: structure, Cost: cmd.Cost}
	return s.move(ctx, domain.EventBuild, player.Name, req, payload)
}

// DiceOutcome is a production roll and its event.
type DiceOutcome struct {
	Roll     dice.TurnRoll
	Sequence uint64
}

// RollDice rolls 2d6 for player and records a DICE event.
func (s *Service) RollDice(ctx context.Context, player domain.AccountName) (DiceOutcome, error) {
	account, err := s.resolvePlayer(player)
	if err != nil {
		return DiceOutcome{}, err
	}
	seed, err := s.seeds()
	if err != nil {
		return DiceOutcome{}, fmt.Errorf("seed dice: %w", err)
	}
	roll := dice.RollTurn(seed)
	payload, err := json.Marshal(struct {
		dice.TurnRoll
		Robber bool `json:"robber"`
	}{roll, roll.Robber()})
	if err != nil {
		return DiceOutcome{}, fmt.Errorf("encode roll: %w", err)
	}
	seq, err := s.events.Record(ctx, domain.GameEvent{Kind: domain.EventDice, Player: account.Name, Payload: payload})
	if err != nil {
		return DiceOutcome{}, err
	}
	return DiceOutcome{Roll: roll, Sequence: seq}, nil
}

// RecordEvent appends an event reported by the game loop.
func (s *Service) RecordEvent(ctx context.Context, event domain.GameEvent) (uint64, error) {
	if event.Player != domain.AccountUnspecified {
		name, ok := domain.NormalizeAccountName(string(event.Player))
		if !ok {
			return 0, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown account %q", event.Player))
		}
		event.Player = name
	}
	kind, ok := domain.NormalizeEventKind(string(event.Kind))
	if !ok {
		return 0, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown event kind %q", event.Kind))
	}
	event.Kind = kind
	return s.events.Record(ctx, event)
}

// Events returns the last n events.
func (s *Service) Events(ctx context.Context, n int) ([]domain.GameEvent, error) {
	return s.events.Recent(ctx, n)
}

// Balance reads one account's resources.
func (s *Service) Balance(ctx context.Context, name domain.AccountName) (domain.Balances, error) {
	account, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.balances.SnapshotWithRetry(ctx, s.retry, account)
	if err != nil {
		return nil, err
	}
	return snapshot[account.Name], nil
}

// AllBalances reads every configured account in one batched query.
func (s *Service) AllBalances(ctx context.Context) (balance.Snapshot, error) {
	return s.balances.SnapshotWithRetry(ctx, s.retry, s.registry.All()...)
}

// ResetNonce drops the local nonce state of an account so the next
// submission trusts the ledger. It returns the value that was discarded.
func (s *Service) ResetNonce(ctx context.Context, name domain.AccountName) (previous uint64, hadPrevious bool, err error) {
	if s.nonces == nil {
		return 0, false, apperrors.New(apperrors.CodeNotFound, "nonce administration is not available")
	}
	account, err := s.registry.Lookup(name)
	if err != nil {
		return 0, false, err
	}
	previous, hadPrevious = s.nonces.Last(account.Address)
	s.nonces.Reset(account.Address)
	zerolog.Ctx(ctx).Warn().
		Str("account", string(account.Name)).
		Uint64("discarded_nonce", previous).
		Bool("had_nonce", hadPrevious).
		Msg("nonce state reset by operator")
	return previous, hadPrevious, nil
}

func (s *Service) move(ctx context.Context, kind domain.EventKind, player domain.AccountName, req domain.TransferRequest, payload any) (Outcome, error) {
	result, err := s.transfers.Execute(ctx, req)
	if apperrors.CodeOf(err) == apperrors.CodeInvalidRequest {
		return Outcome{Result: result}, err
	}

	outcome := Outcome{Result: result}
	data, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return outcome, errors.Join(err, fmt.Errorf("encode %s payload: %w", kind, encodeErr))
	}
	seq, recordErr := s.events.Record(ctx, domain.GameEvent{
		Kind:     kind,
		Player:   player,
		Payload:  data,
		Transfer: &result,
	})
	if recordErr != nil {
		// The ledger is the source of truth; a lost audit entry must not
		// turn a confirmed transfer into a failure.
		zerolog.Ctx(ctx).Error().Err(recordErr).Str("kind", string(kind)).Str("tx_hash", result.TxHash).Msg("record event failed")
	} else {
		outcome.Sequence = seq
	}
	return outcome, err
}

func (s *Service) resolvePair(first, second domain.AccountName) (domain.Account, domain.Account, error) {
	a, err := s.resolve(first)
	if err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	b, err := s.resolve(second)
	if err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	return a, b, nil
}

func (s *Service) resolve(name domain.AccountName) (domain.Account, error) {
	if name == domain.AccountUnspecified {
		return domain.Account{}, apperrors.New(apperrors.CodeInvalidRequest, "account is required")
	}
	return s.registry.Resolve(string(name))
}

func (s *Service) resolvePlayer(name domain.AccountName) (domain.Account, error) {
	account, err := s.resolve(name)
	if err != nil {
		return domain.Account{}, err
	}
	if s.registry.IsOwner(account) {
		return domain.Account{}, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("%s is not a player", account.Name))
	}
	return account, nil
}
