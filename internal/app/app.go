// Package app assembles the daemon: storage, state, the writers of each domain,
// background workers and the port server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/walletd/internal/auth"
	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/external"
	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/pipeline"
	"github.com/klingon-exchange/walletd/internal/price"
	"github.com/klingon-exchange/walletd/internal/rpc"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/internal/subscription"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfg *config.Config

	Storage     *storage.Storage
	State       *state.Store
	Keyring     *keyring.Keyring
	Auth        *auth.Service
	Preferences *rpc.Preferences
	History     *pipeline.History
	Coordinator *external.Coordinator
	Chains      *chain.Registry
	Pipeline    *pipeline.Service
	Router      *rpc.Router
	Server      *rpc.Server
	Metrics     *rpc.Metrics

	price  *price.Service
	poller *chain.BalancePoller
	dial   chain.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	log    *logging.Logger
}

// Options overrides parts of the assembly. Zero values use the production choice.
type Options struct {
	// Dial connects a network adapter. Defaults to chain.DialEVM.
	Dial chain.Dialer
	// PriceFetcher defaults to CoinGecko at cfg.Price.Endpoint.
	PriceFetcher price.Fetcher
}

// New builds the application and loads persisted state. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg, log: logging.GetDefault().Component("app")}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.dial = opts.Dial
	if a.dial == nil {
		a.dial = chain.DialEVM
	}

	dataDir := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataDir})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = store
	a.log.Info("Storage initialized", "path", dataDir)

	a.State = state.New()
	a.Chains = chain.NewRegistry(cfg.Networks, a.State)

	a.Keyring = keyring.New(store, a.State, keyring.KDFParams{
		Time:    cfg.Keyring.ArgonTime,
		Memory:  cfg.Keyring.ArgonMemory,
		Threads: cfg.Keyring.ArgonThreads,
	})
	a.Auth = auth.New(store, a.State, a.Keyring.Addresses)
	a.Preferences = rpc.NewPreferences(store, a.State, a.Keyring)
	a.History = pipeline.NewHistory(store, a.State)
	a.Coordinator = external.NewCoordinator(a.State.Confirmations)

	fetcher := opts.PriceFetcher
	if fetcher == nil {
		fetcher = price.NewCoinGecko(cfg.Price.Endpoint)
	}
	a.price = price.New(fetcher, store, a.State, price.Config{
		Currency:        cfg.Price.Currency,
		RefreshInterval: cfg.Price.RefreshInterval,
		StartDelay:      cfg.Price.StartDelay,
	})

	pollerCfg := chain.DefaultPollerConfig()
	if cfg.Balance.PollInterval > 0 {
		pollerCfg.Interval = cfg.Balance.PollInterval
	}
	a.poller = chain.NewBalancePoller(a.Chains, a.State, func() []string {
		return a.Keyring.Addresses().ToSlice()
	}, a.dial, pollerCfg)

	a.Pipeline = pipeline.New(pipeline.Deps{
		Chains: a.Chains,
		Assets: a.State,
		Signers: func(address, password string) (chain.Signer, error) {
			signer, err := a.Keyring.SignerFor(address, password)
			if err != nil {
				return nil, err
			}
			return signer, nil
		},
		IsLocal:     a.Keyring.IsLocal,
		History:     a.History,
		Coordinator: a.Coordinator,
	})

	a.Metrics = rpc.NewMetrics()
	subs := subscription.NewRegistry()
	subs.OnChange = a.Metrics.SetSubscriptions
	a.Coordinator.OnChange = a.Metrics.SetPendingExternal
	a.Pipeline.OnOutcome = func(kind chain.Kind, mode pipeline.Mode, stage pipeline.Stage) {
		a.Metrics.ObservePipeline(string(kind), string(mode), string(stage))
	}

	a.Router = rpc.NewRouter(subs, a.Metrics)
	rpc.Register(a.Router, rpc.Services{
		State:       a.State,
		Keyring:     a.Keyring,
		Auth:        a.Auth,
		Preferences: a.Preferences,
		Pipeline:    a.Pipeline,
		History:     a.History,
		Coordinator: a.Coordinator,
	})
	a.Server = rpc.NewServer(a.Router, a.Metrics, rpc.ServerConfig{
		AllowedOrigins: cfg.API.AllowedOrigins,
		MaxMessageSize: cfg.API.MaxMessageSize,
	})

	if err := a.load(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// load restores persisted domains in dependency order: accounts first, then
// everything keyed by account.
func (a *App) load() error {
	if err := a.Keyring.Load(); err != nil {
		return fmt.Errorf("failed to load keyring: %w", err)
	}
	if err := a.Auth.Load(); err != nil {
		return fmt.Errorf("failed to load authorized sites: %w", err)
	}
	if err := a.Preferences.Load(); err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	if err := a.History.Load(a.Keyring.Addresses().ToSlice()); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if err := a.price.Load(); err != nil {
		a.log.Warn("Failed to load cached prices", "error", err)
	}
	return nil
}

// Start connects networks, starts the workers and serves the port on
// cfg.API.ListenAddr.
func (a *App) Start() error {
	connectCtx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
	a.Chains.Connect(connectCtx, a.dial)
	cancel()
	a.log.Info("Networks connected", "connected", a.Chains.Connected(), "known", a.Chains.Keys())

	a.poller.Start()
	if a.cfg.Price.Enabled {
		a.price.Start()
	}

	if err := a.Server.Start(a.cfg.API.ListenAddr); err != nil {
		a.Stop()
		return err
	}
	return nil
}

// Stop shuts everything down. In-flight submissions keep their own deadline
// and are not waited for.
func (a *App) Stop() {
	a.cancel()
	if err := a.Server.Stop(); err != nil {
		a.log.Warn("Server shutdown failed", "error", err)
	}
	a.poller.Stop()
	a.price.Stop()
	a.Chains.Close()
	if err := a.Storage.Close(); err != nil {
		a.log.Warn("Failed to close storage", "error", err)
	}
	a.log.Info("Stopped")
}
