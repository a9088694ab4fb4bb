package chain

import (
	"context"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// PollerConfig configures the balance poller.
type PollerConfig struct {
	Interval    time.Duration // How often balances are refreshed
	CallTimeout time.Duration // Per adapter call
}

// DefaultPollerConfig returns the default configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    30 * time.Second,
		CallTimeout: 15 * time.Second,
	}
}

// BalancePoller refreshes the free native balance of every wallet account on
// every connected network. It is the writer of the balance domain.
type BalancePoller struct {
	registry  *Registry
	state     *state.Store
	addresses func() []string
	dial      Dialer
	config    PollerConfig
	log       *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBalancePoller creates a poller. addresses lists the accounts to watch;
// dial, when set, is used to reconnect networks that are down.
func NewBalancePoller(r *Registry, st *state.Store, addresses func() []string, dial Dialer, cfg PollerConfig) *BalancePoller {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultPollerConfig().CallTimeout
	}

	return &BalancePoller{
		registry:  r,
		state:     st,
		addresses: addresses,
		dial:      dial,
		config:    cfg,
		log:       logging.GetDefault().Component("balance"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the poller goroutine. A zero interval disables polling.
func (p *BalancePoller) Start() {
	if p.config.Interval <= 0 {
		p.log.Info("Balance poller disabled")
		return
	}
	go p.run()
	p.log.Info("Balance poller started", "interval", p.config.Interval)
}

// Stop stops the poller.
func (p *BalancePoller) Stop() {
	p.cancel()
	p.log.Info("Balance poller stopped")
}

func (p *BalancePoller) run() {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.PollOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reconnect(p.ctx)
			p.PollOnce(p.ctx)
		}
	}
}

// reconnect retries networks that have an endpoint but no adapter.
func (p *BalancePoller) reconnect(ctx context.Context) {
	if p.dial == nil {
		return
	}
	connected := make(map[string]bool)
	for _, key := range p.registry.Connected() {
		connected[key] = true
	}
	for _, key := range p.registry.Keys() {
		n, _ := p.registry.Network(key)
		if connected[key] || n.ChainType != config.ChainTypeEVM || n.RPCURL == "" {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		if err := p.registry.connect(callCtx, n, p.dial); err != nil {
			p.log.Debug("Reconnect failed", "network", key, "error", err)
		}
		cancel()
	}
}

// PollOnce refreshes every (account, network) pair and publishes the result
// as one balance update.
func (p *BalancePoller) PollOnce(ctx context.Context) {
	addresses := p.addresses()
	if len(addresses) == 0 {
		return
	}

	details := make(map[string]map[string]state.BalanceItem, len(addresses))
	for _, key := range p.registry.Connected() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		adapter, err := p.registry.Adapter(key)
		if err != nil {
			continue
		}
		asset, ok := p.state.NativeAsset(key)
		if !ok {
			continue
		}
		n, _ := p.registry.Network(key)

		failures := 0
		for _, addr := range addresses {
			if !addressMatches(n.ChainType, addr) {
				continue
			}

			item := state.BalanceItem{
				Symbol:    asset.Symbol,
				Decimals:  asset.Decimals,
				Timestamp: time.Now().UnixMilli(),
			}

			callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
			free, err := adapter.FreeBalance(callCtx, addr, asset)
			cancel()
			if err != nil {
				failures++
				item.State = state.BalanceStateError
				item.Error = err.Error()
				p.log.Warn("Balance fetch failed", "network", key, "address", addr, "error", err)
			} else {
				item.State = state.BalanceStateReady
				item.Free = free.String()
			}

			if details[addr] == nil {
				details[addr] = make(map[string]state.BalanceItem)
			}
			details[addr][key] = item
		}

		status := state.ConnectionConnected
		if failures > 0 {
			status = state.ConnectionDisconnected
		}
		p.registry.SetConnection(key, status, n.RPCURL)
	}

	p.state.Balance.Update(func(cur state.BalanceJSON) state.BalanceJSON {
		next := state.BalanceJSON{Details: make(map[string]map[string]state.BalanceItem, len(details))}
		for addr, nets := range cur.Details {
			if !slices.Contains(addresses, addr) {
				continue
			}
			next.Details[addr] = copyItems(nets)
		}
		for addr, nets := range details {
			if next.Details[addr] == nil {
				next.Details[addr] = make(map[string]state.BalanceItem, len(nets))
			}
			for key, item := range nets {
				next.Details[addr][key] = item
			}
		}
		return next
	})
}

func addressMatches(chainType config.ChainType, address string) bool {
	isEVM := common.IsHexAddress(address)
	if chainType == config.ChainTypeEVM {
		return isEVM
	}
	return !isEVM
}

func copyItems(in map[string]state.BalanceItem) map[string]state.BalanceItem {
	out := make(map[string]state.BalanceItem, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
