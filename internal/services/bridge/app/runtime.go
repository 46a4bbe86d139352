// Package app composes the bridge runtime: the ledger connection, the
// transfer pipeline, the turn log, and the HTTP and health servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	platformgrpc "github.com/sebaaaap/hackathonavalanche/internal/platform/grpc"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/logging"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/timeouts"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/api/httpapi"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/balance"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/feed"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/game"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage/jsonfile"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage/memory"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage/sqlite"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/transfer"
)

// HealthService is the grpc.health.v1 service name reported by the bridge.
const HealthService = "catan.bridge"

// Bridge is a composed runtime ready to serve.
type Bridge struct {
	Client  *ledger.Client
	Service *game.Service
	Handler http.Handler
	store   storage.EventStore
}

// Close releases the event store.
func (b *Bridge) Close() error {
	if b == nil || b.store == nil {
		return nil
	}
	return b.store.Close()
}

// Run dials the ledger, composes the bridge and serves until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)

	client, err := Dial(ctx, cfg.RPCURL, cfg.RPCRetryMax)
	if err != nil {
		return err
	}
	defer client.Close()

	bridge, err := Compose(ctx, client, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := bridge.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("close event store")
		}
	}()

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}
	var healthListener net.Listener
	if cfg.HealthPort > 0 {
		healthListener, err = net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.HealthPort)))
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
		}
	}
	return Serve(ctx, bridge.Handler, httpListener, healthListener)
}

// Dial connects to the ledger's JSON-RPC endpoint over a retrying HTTP
// transport.
func Dial(ctx context.Context, url string, retryMax int) (*ethclient.Client, error) {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = max(retryMax, 0)
	httpClient.Logger = logging.LeveledLogger{Logger: zerolog.Ctx(ctx).With().Str("component", "rpc").Logger()}
	httpClient.HTTPClient.Timeout = timeouts.RPCRequest

	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient.StandardClient()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "dial ledger rpc", err)
	}
	return ethclient.NewClient(rpcClient), nil
}

// Compose wires every component against backend.
func Compose(ctx context.Context, backend ledger.Backend, cfg RuntimeConfig) (*Bridge, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	logger := zerolog.Ctx(ctx)

	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("contract address %q is not a hex address", cfg.Contract)
	}
	contract := common.HexToAddress(cfg.Contract)

	keyring, err := ledger.LoadKeyring(cfg.Keys...)
	if err != nil {
		return nil, err
	}
	registry, err := domain.NewRegistry(domain.AccountBank, keyring.Accounts()...)
	if err != nil {
		return nil, err
	}

	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
		if err := checkChainID(ctx, backend, chainID); err != nil {
			return nil, err
		}
	}
	client, err := ledger.NewClient(ctx, backend, keyring, nil, ledger.Config{
		Contract:     contract,
		Owner:        registry.Owner().Address,
		ChainID:      chainID,
		GasMargin:    cfg.GasMargin,
		PollInterval: cfg.ConfirmPoll,
	})
	if err != nil {
		return nil, err
	}
	checkOwner(ctx, client, registry.Owner())

	policy, err := transfer.ParsePolicy(cfg.MintPolicy)
	if err != nil {
		return nil, err
	}
	orchestrator, err := transfer.New(client, registry, transfer.Config{
		Policy:         policy,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	if err != nil {
		return nil, err
	}
	view, err := balance.NewView(client)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	events, err := feed.New(ctx, store, cfg.EventLimit)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("store", cfg.EventStore).
		Int("retention", events.Retention()).
		Msg("event feed ready")
	service, err := game.NewService(game.Deps{
		Registry:  registry,
		Transfers: orchestrator,
		Balances:  view,
		Events:    events,
		Nonces:    client.Nonces(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	handler, err := httpapi.NewHandler(httpapi.Config{
		Service:  service,
		Contract: client.Contract(),
		ChainID:  client.ChainID(),
		Policy:   string(orchestrator.Policy()),
		Health: func(ctx context.Context) error {
			_, err := backend.ChainID(ctx)
			return err
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info().
		Str("contract", contract.Hex()).
		Str("chain_id", client.ChainID().String()).
		Str("mint_policy", string(orchestrator.Policy())).
		Str("event_store", cfg.EventStore).
		Msg("bridge composed")
	return &Bridge{Client: client, Service: service, Handler: handler, store: store}, nil
}

// OpenStore opens the configured event store backend.
func OpenStore(ctx context.Context, cfg RuntimeConfig) (storage.EventStore, error) {
	switch cfg.EventStore {
	case StoreMemory:
		return memory.New(), nil
	case StoreSQLite:
		if err := ensureDir(cfg.EventDBPath); err != nil {
			return nil, err
		}
		store, err := sqlite.Open(ctx, cfg.EventDBPath)
		if err != nil {
			return nil, fmt.Errorf("open event sqlite store: %w", err)
		}
		return store, nil
	default:
		store, err := jsonfile.Open(cfg.EventLogPath)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		return store, nil
	}
}

// Serve runs the HTTP server and, when healthListener is set, the gRPC
// health server until ctx ends or either fails.
func Serve(ctx context.Context, handler http.Handler, httpListener, healthListener net.Listener) error {
	logger := zerolog.Ctx(ctx)
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
		// In-flight transfers finish during shutdown instead of being cut off.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", httpListener.Addr().String()).Msg("bridge HTTP server listening")
		if err := server.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	if healthListener != nil {
		health := platformgrpc.NewHealthServer(HealthService)
		group.Go(func() error {
			logger.Info().Str("addr", healthListener.Addr().String()).Msg("bridge health server listening")
			return health.Serve(groupCtx, healthListener)
		})
	}
	return group.Wait()
}

func checkChainID(ctx context.Context, backend ledger.Backend, want *big.Int) error {
	got, err := backend.ChainID(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("ledger unreachable at startup; chain id not verified")
		return nil
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("ledger reports chain id %s, configured %s", got, want)
	}
	return nil
}

func checkOwner(ctx context.Context, client *ledger.Client, bank domain.Account) {
	logger := zerolog.Ctx(ctx)
	owner, err := client.ContractOwner(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read contract owner")
		return
	}
	if owner != bank.Address {
		logger.Warn().
			Str("contract_owner", owner.Hex()).
			Str("bank", bank.Address.Hex()).
			Msg("bank account is not the contract owner; mints will be rejected")
	}
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}
