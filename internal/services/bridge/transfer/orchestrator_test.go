package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger/ledgertest"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000c0de1")

type harness struct {
	chain    *ledgertest.Chain
	client   *ledger.Client
	registry *domain.Registry
	orch     *Orchestrator
	bank     domain.Account
	playerA  domain.Account
	playerB  domain.Account
}

func newHarness(t *testing.T, cfg Config) harness {
	t.Helper()
	sources := make([]ledger.KeySource, 0, 3)
	for _, name := range domain.AccountNames() {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		sources = append(sources, ledger.KeySource{Account: name, Hex: hex.EncodeToString(crypto.FromECDSA(key))})
	}
	ring, err := ledger.LoadKeyring(sources...)
	require.NoError(t, err)
	accounts := ring.Accounts()
	registry, err := domain.NewRegistry(domain.AccountBank, accounts...)
	require.NoError(t, err)

	chain := ledgertest.New(43113, testContract, accounts[0].Address)
	client, err := ledger.NewClient(context.Background(), chain, ring, nil, ledger.Config{
		Contract:     testContract,
		Owner:        accounts[0].Address,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	orch, err := New(client, registry, cfg)
	require.NoError(t, err)
	return harness{
		chain: chain, client: client, registry: registry, orch: orch,
		bank: accounts[0], playerA: accounts[1], playerB: accounts[2],
	}
}

func (h harness) balance(account domain.Account, kind domain.ResourceKind) uint64 {
	return h.chain.Balance(account.Address, uint64(kind))
}

func qty(kind domain.ResourceKind, amount uint64) domain.ResourceQuantity {
	return domain.ResourceQuantity{Kind: kind, Amount: amount}
}

func TestParsePolicy(t *testing.T) {
	for input, want := range map[string]Policy{"": PolicyMint, "MINT": PolicyMint, " transfer ": PolicyTransfer} {
		got, err := ParsePolicy(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("burn")
	assert.Error(t, err)
}

func TestOwnerMintCreditsOnlyDestination(t *testing.T) {
	h := newHarness(t, Config{})

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 5), qty(domain.ResourceClay, 3)},
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, domain.OperationMint, result.Operation)
	require.NotEmpty(t, result.TxHash)
	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		assert.True(t, item.Confirmed)
		assert.Equal(t, result.TxHash, item.TxHash)
	}

	assert.Equal(t, uint64(5), h.balance(h.playerA, domain.ResourceWood))
	assert.Equal(t, uint64(3), h.balance(h.playerA, domain.ResourceClay))
	for _, kind := range []domain.ResourceKind{domain.ResourceSheep, domain.ResourceWheat, domain.ResourceOre} {
		assert.Zero(t, h.balance(h.playerA, kind))
	}
	for _, kind := range domain.AllResourceKinds() {
		assert.Zero(t, h.balance(h.bank, kind))
		assert.Zero(t, h.balance(h.playerB, kind))
	}
	assert.Len(t, h.chain.Sent(), 1, "batch must be a single call")
}

func TestPlayerTransferMovesExactAmounts(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.Credit(h.playerA.Address, uint64(domain.ResourceWood), 5)

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.playerA,
		Destination: h.playerB,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationTransfer, result.Operation)
	assert.Equal(t, uint64(3), h.balance(h.playerA, domain.ResourceWood))
	assert.Equal(t, uint64(2), h.balance(h.playerB, domain.ResourceWood))
}

func TestInsufficientBalanceFailsWholeBatch(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.Credit(h.playerA.Address, uint64(domain.ResourceWood), 5)
	h.chain.Credit(h.playerA.Address, uint64(domain.ResourceClay), 1)

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.playerA,
		Destination: h.playerB,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 2), qty(domain.ResourceClay, 4)},
	})
	require.Error(t, err)
	assert.Equal(t, domain.TransferFailure, result.Status)
	assert.Equal(t, apperrors.CodeInsufficientBalance, result.Reason)
	assert.NotEmpty(t, result.Message)

	assert.Equal(t, uint64(5), h.balance(h.playerA, domain.ResourceWood))
	assert.Equal(t, uint64(1), h.balance(h.playerA, domain.ResourceClay))
	assert.Zero(t, h.balance(h.playerB, domain.ResourceWood))
}

func TestSingleItemInsufficientBalance(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.Credit(h.playerA.Address, uint64(domain.ResourceWood), 1)

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.playerA,
		Destination: h.playerB,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 5)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInsufficientBalance, apperrors.CodeOf(err))
	assert.Equal(t, apperrors.CodeInsufficientBalance, result.Reason)
	assert.Equal(t, uint64(1), h.balance(h.playerA, domain.ResourceWood))
}

func TestInvalidRequestNeverReachesLedger(t *testing.T) {
	h := newHarness(t, Config{})

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.playerA,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 1)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidRequest, result.Reason)
	assert.Empty(t, h.chain.Sent())
	_, allocated := h.client.Nonces().Last(h.playerA.Address)
	assert.False(t, allocated)
}

func TestPlayerToBankIsTransfer(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.Credit(h.playerA.Address, uint64(domain.ResourceOre), 3)

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.playerA,
		Destination: h.bank,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceOre, 3)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationTransfer, result.Operation)
	assert.Equal(t, uint64(3), h.balance(h.bank, domain.ResourceOre))
}

func TestTransferPolicySpendsBankBalance(t *testing.T) {
	h := newHarness(t, Config{Policy: PolicyTransfer})
	assert.Equal(t, domain.OperationTransfer, h.orch.OperationFor(h.bank))

	_, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceSheep, 2)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInsufficientBalance, apperrors.CodeOf(err))

	h.chain.Credit(h.bank.Address, uint64(domain.ResourceSheep), 10)
	_, err = h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceSheep, 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), h.balance(h.bank, domain.ResourceSheep))
}

func TestConfirmationTimeoutIsNotResubmitted(t *testing.T) {
	h := newHarness(t, Config{ConfirmTimeout: 30 * time.Millisecond})
	h.chain.WithholdReceipts(true)

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWheat, 1)},
	})
	require.Error(t, err)
	assert.Equal(t, domain.TransferFailure, result.Status)
	assert.Equal(t, apperrors.CodeTimeout, result.Reason)
	require.NotEmpty(t, result.TxHash)
	assert.Equal(t, result.TxHash, apperrors.TxHashOf(err))
	require.Len(t, result.Items, 1)
	assert.False(t, result.Items[0].Confirmed)
	assert.Equal(t, result.TxHash, result.Items[0].TxHash)

	require.Len(t, h.chain.Sent(), 1)
	// The ledger still applied it; callers reconcile by reading balances.
	assert.Equal(t, uint64(1), h.balance(h.playerA, domain.ResourceWheat))
}

func TestLostSendResponseResolvedByReceipt(t *testing.T) {
	h := newHarness(t, Config{ConfirmTimeout: time.Second})
	h.chain.LoseSendResponses(context.DeadlineExceeded)

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 5)},
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	require.NotEmpty(t, result.TxHash)
	assert.Equal(t, h.chain.Sent()[0].Hash().Hex(), result.TxHash)
	assert.Equal(t, uint64(5), h.balance(h.playerA, domain.ResourceWood))
	last, ok := h.client.Nonces().Last(h.bank.Address)
	require.True(t, ok)
	assert.Equal(t, uint64(0), last)
}

func TestUnansweredSendReportsTimeoutWithHash(t *testing.T) {
	h := newHarness(t, Config{ConfirmTimeout: 30 * time.Millisecond})
	h.chain.FailSends(errors.New("read tcp: i/o timeout"))

	result, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerA,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceOre, 1)},
	})
	require.Error(t, err)
	assert.Equal(t, domain.TransferFailure, result.Status)
	assert.Equal(t, apperrors.CodeTimeout, result.Reason)
	assert.False(t, result.Reason.Retryable())
	require.NotEmpty(t, result.TxHash)
	assert.Equal(t, result.TxHash, apperrors.TxHashOf(err))
	require.Len(t, result.Items, 1)
	assert.Equal(t, result.TxHash, result.Items[0].TxHash)
	last, ok := h.client.Nonces().Last(h.bank.Address)
	require.True(t, ok)
	assert.Equal(t, uint64(0), last)
	assert.Empty(t, h.chain.Sent())
}

func TestConcurrentRequestsFromOneAccountDoNotCollide(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.Credit(h.playerA.Address, uint64(domain.ResourceWood), 4)
	// The node never reports in-flight transactions.
	h.chain.LagPendingNonce(h.playerA.Address, 100)

	const requests = 4
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Execute(context.Background(), domain.TransferRequest{
				Origin:      h.playerA,
				Destination: h.playerB,
				Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 1)},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := map[uint64]bool{}
	for _, tx := range h.chain.Sent() {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, requests)
	assert.Zero(t, h.balance(h.playerA, domain.ResourceWood))
	assert.Equal(t, uint64(requests), h.balance(h.playerB, domain.ResourceWood))
}

func TestExecuteRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h := newHarness(t, Config{TracerProvider: provider})

	_, err := h.orch.Execute(context.Background(), domain.TransferRequest{
		Origin:      h.bank,
		Destination: h.playerB,
		Items:       []domain.ResourceQuantity{qty(domain.ResourceOre, 1)},
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "transfer.Execute", spans[0].Name())
}

// gateLedger blocks every confirmation until released and tracks how many
// submissions per signer are in flight.
type gateLedger struct {
	mu       sync.Mutex
	inFlight map[common.Address]int
	maxSeen  map[common.Address]int
	arrived  chan common.Address
	release  chan struct{}
}

func newGateLedger() *gateLedger {
	return &gateLedger{
		inFlight: map[common.Address]int{},
		maxSeen:  map[common.Address]int{},
		arrived:  make(chan common.Address, 16),
		release:  make(chan struct{}),
	}
}

func (g *gateLedger) enter(signer common.Address) ledger.Handle {
	g.mu.Lock()
	g.inFlight[signer]++
	if g.inFlight[signer] > g.maxSeen[signer] {
		g.maxSeen[signer] = g.inFlight[signer]
	}
	g.mu.Unlock()
	g.arrived <- signer
	return ledger.Handle{From: signer}
}

func (g *gateLedger) Mint(_ context.Context, signer, _ domain.Account, _ []domain.ResourceQuantity) (ledger.Handle, error) {
	return g.enter(signer.Address), nil
}

func (g *gateLedger) Transfer(_ context.Context, origin, _ domain.Account, _ []domain.ResourceQuantity) (ledger.Handle, error) {
	return g.enter(origin.Address), nil
}

func (g *gateLedger) AwaitConfirmation(_ context.Context, handle ledger.Handle, _ time.Duration) (ledger.Receipt, error) {
	<-g.release
	g.mu.Lock()
	g.inFlight[handle.From]--
	g.mu.Unlock()
	return ledger.Receipt{}, nil
}

func TestDifferentSignersRunInParallelSameSignerSerialises(t *testing.T) {
	h := newHarness(t, Config{})
	gate := newGateLedger()
	orch, err := New(gate, h.registry, Config{})
	require.NoError(t, err)

	run := func(origin, destination domain.Account) {
		_, _ = orch.Execute(context.Background(), domain.TransferRequest{
			Origin:      origin,
			Destination: destination,
			Items:       []domain.ResourceQuantity{qty(domain.ResourceWood, 1)},
		})
	}
	var wg sync.WaitGroup
	for _, pair := range [][2]domain.Account{
		{h.playerA, h.playerB}, {h.playerA, h.bank}, {h.playerB, h.playerA},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(pair[0], pair[1])
		}()
	}

	// Both signers reach the ledger while the first confirmation is pending.
	got := map[common.Address]bool{}
	for len(got) < 2 {
		select {
		case signer := <-gate.arrived:
			got[signer] = true
		case <-time.After(2 * time.Second):
			t.Fatal("signers did not proceed in parallel")
		}
	}
	close(gate.release)
	wg.Wait()

	assert.Equal(t, 1, gate.maxSeen[h.playerA.Address])
	assert.Equal(t, 1, gate.maxSeen[h.playerB.Address])
}

func TestExecuteGivesUpWaitingForSigner(t *testing.T) {
	h := newHarness(t, Config{})
	gate := newGateLedger()
	orch, err := New(gate, h.registry, Config{})
	require.NoError(t, err)

	go func() {
		_, _ = orch.Execute(context.Background(), domain.TransferRequest{
			Origin: h.playerA, Destination: h.playerB,
			Items: []domain.ResourceQuantity{qty(domain.ResourceWood, 1)},
		})
	}()
	<-gate.arrived

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := orch.Execute(ctx, domain.TransferRequest{
		Origin: h.playerA, Destination: h.playerB,
		Items: []domain.ResourceQuantity{qty(domain.ResourceWood, 1)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTimeout, result.Reason)
	assert.Empty(t, result.TxHash)
	close(gate.release)
}
