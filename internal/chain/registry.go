package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Dialer opens an adapter for a configured network.
type Dialer func(ctx context.Context, n config.NetworkConfig) (Adapter, error)

// Registry owns the configured networks and their adapters. It is the
// writer of the chain-info, chain-state and asset-registry domains.
type Registry struct {
	mu       sync.RWMutex
	networks map[string]config.NetworkConfig
	order    []string
	adapters map[string]Adapter
	state    *state.Store
	log      *logging.Logger
}

// NewRegistry builds the registry and publishes static chain and asset info.
func NewRegistry(networks []config.NetworkConfig, st *state.Store) *Registry {
	r := &Registry{
		networks: make(map[string]config.NetworkConfig, len(networks)),
		adapters: make(map[string]Adapter),
		state:    st,
		log:      logging.GetDefault().Component("chain"),
	}

	infos := make(state.ChainInfoMap, len(networks))
	states := make(state.ChainStateMap, len(networks))
	assets := make(state.AssetRegistry)

	for _, n := range networks {
		r.networks[n.Key] = n
		r.order = append(r.order, n.Key)

		infos[n.Key] = state.ChainInfo{
			Slug:               n.Key,
			Name:               n.Name,
			ChainType:          string(n.ChainType),
			NativeSymbol:       n.NativeSymbol,
			Decimals:           n.Decimals,
			ExistentialDeposit: edString(n),
			GenesisHash:        n.GenesisHash,
			ChainID:            n.ChainID,
			SS58Prefix:         n.SS58Prefix,
		}

		status := state.ConnectionDisconnected
		if n.ChainType != config.ChainTypeEVM || n.RPCURL == "" {
			status = state.ConnectionUnsupported
		}
		states[n.Key] = state.ChainState{Slug: n.Key, Active: true, ConnectionStatus: status}

		native := state.AssetInfo{
			Slug:        AssetSlug(n.Key, state.AssetTypeNative, n.NativeSymbol),
			OriginChain: n.Key,
			Symbol:      n.NativeSymbol,
			Decimals:    n.Decimals,
			AssetType:   state.AssetTypeNative,
			PriceID:     n.PriceID,
			MinAmount:   edString(n),
		}
		assets[native.Slug] = native

		for _, t := range n.Tokens {
			assetType := state.AssetTypeLocal
			if n.ChainType == config.ChainTypeEVM {
				assetType = state.AssetTypeERC20
			}
			a := state.AssetInfo{
				Slug:        AssetSlug(n.Key, assetType, t.Symbol),
				OriginChain: n.Key,
				Symbol:      t.Symbol,
				Decimals:    t.Decimals,
				AssetType:   assetType,
				Contract:    t.Contract,
				PriceID:     t.PriceID,
			}
			assets[a.Slug] = a
		}
	}

	st.ChainInfoMap.Set(infos)
	st.ChainStateMap.Set(states)
	st.AssetRegistry.Set(assets)
	return r
}

// AssetSlug builds the registry key of an asset, e.g. "moonbeam-ERC20-USDC".
func AssetSlug(networkKey, assetType, symbol string) string {
	return networkKey + "-" + assetType + "-" + strings.ToUpper(symbol)
}

// Connect dials every network that has an RPC endpoint. Failures leave the
// network DISCONNECTED; the poller retries them.
func (r *Registry) Connect(ctx context.Context, dial Dialer) {
	for _, key := range r.Keys() {
		n, _ := r.Network(key)
		if n.ChainType != config.ChainTypeEVM || n.RPCURL == "" {
			continue
		}
		if err := r.connect(ctx, n, dial); err != nil {
			r.log.Warn("Failed to connect network", "network", key, "error", err)
		}
	}
}

func (r *Registry) connect(ctx context.Context, n config.NetworkConfig, dial Dialer) error {
	adapter, err := dial(ctx, n)
	if err != nil {
		r.SetConnection(n.Key, state.ConnectionDisconnected, "")
		return err
	}
	r.Register(adapter)
	r.log.Info("Network connected", "network", n.Key, "rpc", n.RPCURL)
	return nil
}

// Register installs an adapter for its network and marks it connected.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	if old, ok := r.adapters[a.NetworkKey()]; ok && old != a {
		old.Close()
	}
	r.adapters[a.NetworkKey()] = a
	provider := r.networks[a.NetworkKey()].RPCURL
	r.mu.Unlock()

	r.SetConnection(a.NetworkKey(), state.ConnectionConnected, provider)
}

// SetConnection updates the live status of a network.
func (r *Registry) SetConnection(key, status, provider string) {
	r.state.ChainStateMap.Update(func(cur state.ChainStateMap) state.ChainStateMap {
		prev, ok := cur[key]
		if ok && prev.ConnectionStatus == status && prev.CurrentProvider == provider {
			return cur
		}
		next := make(state.ChainStateMap, len(cur))
		for k, v := range cur {
			next[k] = v
		}
		next[key] = state.ChainState{Slug: key, Active: true, ConnectionStatus: status, CurrentProvider: provider}
		return next
	})
}

// Adapter returns the adapter of a network.
func (r *Registry) Adapter(key string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.networks[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, key)
	}
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", ErrUnsupported, key)
	}
	return a, nil
}

// Network returns the configuration of a network.
func (r *Registry) Network(key string) (config.NetworkConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[key]
	return n, ok
}

// ExistentialDeposit returns the network's existential deposit, zero if unset.
func (r *Registry) ExistentialDeposit(key string) *big.Int {
	n, ok := r.Network(key)
	if !ok {
		return new(big.Int)
	}
	ed, err := n.ExistentialDepositAmount()
	if err != nil {
		return new(big.Int)
	}
	return ed
}

// Keys returns network keys in configuration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Connected returns the keys of networks with an adapter, sorted.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every adapter.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, a := range r.adapters {
		a.Close()
		delete(r.adapters, key)
	}
}

func edString(n config.NetworkConfig) string {
	if n.ExistentialDeposit == "" {
		return "0"
	}
	return n.ExistentialDeposit
}
