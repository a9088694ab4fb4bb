package rpc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
)

// Preferences is the writer of the UI settings and current account domains.
type Preferences struct {
	mu      sync.Mutex
	storage *storage.Storage
	state   *state.Store
	keyring *keyring.Keyring
}

// NewPreferences creates the preferences writer.
func NewPreferences(store *storage.Storage, st *state.Store, kr *keyring.Keyring) *Preferences {
	return &Preferences{storage: store, state: st, keyring: kr}
}

// Load restores persisted settings and the current account.
func (p *Preferences) Load() error {
	settings := state.DefaultSettings()
	if err := p.storage.GetJSON(storage.KeyUISettings, &settings); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	p.state.Settings.Set(settings)

	var current state.CurrentAccountInfo
	if err := p.storage.GetJSON(storage.KeyCurrentAccount, &current); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("failed to load current account: %w", err)
	}
	p.state.CurrentAccount.Set(current)
	return nil
}

// ToggleBalancesVisibility flips whether balances are shown.
func (p *Preferences) ToggleBalancesVisibility() (state.UISettings, error) {
	return p.updateSettings(func(s *state.UISettings) { s.IsShowBalance = !s.IsShowBalance })
}

// SaveAccountAllLogo stores the logo of the all-accounts entry.
func (p *Preferences) SaveAccountAllLogo(logo string) (state.UISettings, error) {
	return p.updateSettings(func(s *state.UISettings) { s.AccountAllLogo = logo })
}

// SaveTheme stores the UI theme.
func (p *Preferences) SaveTheme(theme string) (state.UISettings, error) {
	if theme == "" {
		return state.UISettings{}, errors.New("theme is required")
	}
	return p.updateSettings(func(s *state.UISettings) { s.Theme = theme })
}

func (p *Preferences) updateSettings(fn func(s *state.UISettings)) (state.UISettings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.state.Settings.Get()
	fn(&next)
	if err := p.storage.SetJSON(storage.KeyUISettings, next); err != nil {
		return state.UISettings{}, err
	}
	p.state.Settings.Set(next)
	return next, nil
}

// SaveCurrentAccount selects address. The first selection starts with no
// genesis hash; later ones take the account's own genesis hash, or the
// remembered all-accounts one when address is ALL.
func (p *Preferences) SaveCurrentAccount(address string) (state.CurrentAccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.state.CurrentAccount.Get()
	next := state.CurrentAccountInfo{Address: address}
	if cur.Address != "" {
		next.AllGenesisHash = cur.AllGenesisHash
		if address == state.AllAccountKey {
			next.CurrentGenesisHash = cur.AllGenesisHash
		} else if p.keyring != nil {
			if meta, err := p.keyring.GetMeta(address); err == nil && meta.GenesisHash != "" {
				hash := meta.GenesisHash
				next.CurrentGenesisHash = &hash
			}
		}
	}

	if err := p.storage.SetJSON(storage.KeyCurrentAccount, next); err != nil {
		return state.CurrentAccountInfo{}, err
	}
	p.state.CurrentAccount.Set(next)
	return next, nil
}
