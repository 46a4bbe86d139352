// Package transfer turns logical resource movements into ledger calls.
//
// Every request becomes exactly one batch call. Whether that call mints or
// transfers is a configured policy: with PolicyMint the owner account acts as
// the minting authority instead of holding a balance. Submissions are
// serialised per signing account from nonce allocation through confirmation;
// different signers proceed in parallel.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/timeouts"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
)

const instrumentationName = "github.com/sebaaaap/hackathonavalanche/internal/services/bridge/transfer"

// Ledger is the write path of the ledger client.
type Ledger interface {
	Mint(ctx context.Context, signer, destination domain.Account, items []domain.ResourceQuantity) (ledger.Handle, error)
	Transfer(ctx context.Context, origin, destination domain.Account, items []domain.ResourceQuantity) (ledger.Handle, error)
	AwaitConfirmation(ctx context.Context, handle ledger.Handle, timeout time.Duration) (ledger.Receipt, error)
}

// Policy decides how movements out of the owner account are realised.
type Policy string

const (
	// PolicyMint creates new supply for movements out of the owner account.
	PolicyMint Policy = "mint"
	// PolicyTransfer treats the owner like any account holding a balance.
	PolicyTransfer Policy = "transfer"
)

// ParsePolicy parses a policy label; empty selects PolicyMint.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyMint:
		return PolicyMint, nil
	case PolicyTransfer:
		return PolicyTransfer, nil
	default:
		return "", fmt.Errorf("unknown mint policy %q", value)
	}
}

// Config configures an Orchestrator.
type Config struct {
	Policy         Policy
	ConfirmTimeout time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Orchestrator is the single entry point for moving resources.
type Orchestrator struct {
	ledger   Ledger
	registry *domain.Registry
	policy   Policy
	timeout  time.Duration

	tracer   trace.Tracer
	outcomes metric.Int64Counter

	mu    sync.Mutex
	lanes map[common.Address]chan struct{}
}

// New builds an orchestrator.
func New(l Ledger, registry *domain.Registry, cfg Config) (*Orchestrator, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if registry == nil {
		return nil, errors.New("account registry is required")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyMint
	}
	if policy != PolicyMint && policy != PolicyTransfer {
		return nil, fmt.Errorf("unknown mint policy %q", policy)
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = timeouts.Confirmation
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	outcomes, err := mp.Meter(instrumentationName).Int64Counter(
		"bridge.transfers",
		metric.WithDescription("Resource transfers by operation and outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("create transfer counter: %w", err)
	}
	return &Orchestrator{
		ledger:   l,
		registry: registry,
		policy:   policy,
		timeout:  timeout,
		tracer:   tp.Tracer(instrumentationName),
		outcomes: outcomes,
		lanes:    make(map[common.Address]chan struct{}),
	}, nil
}

// Policy returns the configured mint policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// OperationFor reports which ledger call a request from origin would use.
func (o *Orchestrator) OperationFor(origin domain.Account) domain.Operation {
	if o.policy == PolicyMint && o.registry.IsOwner(origin) {
		return domain.OperationMint
	}
	return domain.OperationTransfer
}

// Execute validates req, submits it as one batch and waits for confirmation.
//
// The returned error is nil exactly when the result succeeded. A confirmation
// timeout is reported as a failure carrying the transaction hash; the
// transaction is never resubmitted, since the original may still be mined.
func (o *Orchestrator) Execute(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	result := domain.TransferResult{
		Status:      domain.TransferFailure,
		Origin:      req.Origin.Name,
		Destination: req.Destination.Name,
	}
	if err := req.Validate(); err != nil {
		o.finish(ctx, &result, err)
		return result, err
	}
	result.Items = outcomes(req.Items, "", false)

	operation := o.OperationFor(req.Origin)
	result.Operation = operation

	ctx, span := o.tracer.Start(ctx, "transfer.Execute", trace.WithAttributes(
		attribute.String("bridge.origin", string(req.Origin.Name)),
		attribute.String("bridge.destination", string(req.Destination.Name)),
		attribute.String("bridge.operation", string(operation)),
		attribute.Int("bridge.items", len(req.Items)),
	))
	defer span.End()

	logger := zerolog.Ctx(ctx).With().
		Str("origin", string(req.Origin.Name)).
		Str("destination", string(req.Destination.Name)).
		Str("operation", string(operation)).
		Logger()
	ctx = logger.WithContext(ctx)

	release, err := o.acquire(ctx, req.Origin.Address)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeTimeout, "waiting for signer", err)
		o.finish(ctx, &result, err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	defer release()

	var handle ledger.Handle
	switch operation {
	case domain.OperationMint:
		handle, err = o.ledger.Mint(ctx, req.Origin, req.Destination, req.Items)
	default:
		handle, err = o.ledger.Transfer(ctx, req.Origin, req.Destination, req.Items)
	}
	if err != nil && handle.Hash == (common.Hash{}) {
		o.finish(ctx, &result, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	hash := handle.Hash.Hex()
	result.TxHash = hash
	result.Items = outcomes(req.Items, hash, false)
	span.SetAttributes(attribute.String("bridge.tx_hash", hash), attribute.Int64("bridge.nonce", int64(handle.Nonce)))
	if err != nil {
		// The send went unanswered; the receipt decides the outcome.
		span.RecordError(err)
		logger.Warn().Err(err).Str("tx_hash", hash).Uint64("nonce", handle.Nonce).Msg("transfer send unanswered, awaiting receipt")
	} else {
		logger.Info().Str("tx_hash", hash).Uint64("nonce", handle.Nonce).Msg("transfer submitted")
	}

	if _, err := o.ledger.AwaitConfirmation(ctx, handle, o.timeout); err != nil {
		err = apperrors.WithTxHash(err, hash)
		o.finish(ctx, &result, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	result.Status = domain.TransferSuccess
	result.Items = outcomes(req.Items, hash, true)
	o.finish(ctx, &result, nil)
	return result, nil
}

// acquire takes the submission lane for signer. It gives up when ctx ends.
func (o *Orchestrator) acquire(ctx context.Context, signer common.Address) (func(), error) {
	o.mu.Lock()
	lane, ok := o.lanes[signer]
	if !ok {
		lane = make(chan struct{}, 1)
		o.lanes[signer] = lane
	}
	o.mu.Unlock()

	select {
	case lane <- struct{}{}:
		return func() { <-lane }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) finish(ctx context.Context, result *domain.TransferResult, err error) {
	logger := zerolog.Ctx(ctx)
	if err != nil {
		result.Status = domain.TransferFailure
		result.Reason = apperrors.CodeOf(err)
		result.Message = err.Error()
		if hash := apperrors.TxHashOf(err); hash != "" && result.TxHash == "" {
			result.TxHash = hash
		}
		logger.Warn().Err(err).Str("reason", string(result.Reason)).Str("tx_hash", result.TxHash).Msg("transfer failed")
	} else {
		logger.Info().Str("tx_hash", result.TxHash).Msg("transfer confirmed")
	}
	o.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", string(result.Operation)),
		attribute.String("status", string(result.Status)),
		attribute.String("reason", string(result.Reason)),
	))
}

func outcomes(items []domain.ResourceQuantity, hash string, confirmed bool) []domain.ItemOutcome {
	out := make([]domain.ItemOutcome, len(items))
	for i, item := range items {
		out[i] = domain.ItemOutcome{Kind: item.Kind, Amount: item.Amount, TxHash: hash, Confirmed: confirmed}
	}
	return out
}
