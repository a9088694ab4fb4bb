package rpc

import (
	"context"
	"errors"
	"strings"

	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/state"
)

// SeedCreateRequest asks for a fresh mnemonic.
type SeedCreateRequest struct {
	Length int    `json:"length"`
	Type   string `json:"type"`
}

// SeedResponse carries a mnemonic and the address it derives.
type SeedResponse struct {
	Address string `json:"address"`
	Seed    string `json:"seed"`
}

// SeedValidateRequest checks a mnemonic.
type SeedValidateRequest struct {
	Suri string `json:"suri"`
	Type string `json:"type"`
}

// CreateSuriRequest creates an account from a mnemonic.
type CreateSuriRequest struct {
	keyring.CreateFromSuriRequest
	IsAllowed bool `json:"isAllowed"`
}

// CreateWithSecretRequest imports a raw secret key.
type CreateWithSecretRequest struct {
	keyring.CreateWithSecretRequest
	IsAllowed bool `json:"isAllowed"`
}

// CreateExternalRequest registers an account without a secret.
type CreateExternalRequest struct {
	keyring.CreateExternalRequest
	IsAllowed bool `json:"isAllowed"`
}

// AddressRequest names an account.
type AddressRequest struct {
	Address string `json:"address"`
}

// ValidatePasswordRequest checks an account password.
type ValidatePasswordRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

// EditAccountRequest renames an account.
type EditAccountRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// UnlockRequest unlocks every local account sharing password.
type UnlockRequest struct {
	Password string `json:"password"`
}

// SaveCurrentAccountRequest selects the active account.
type SaveCurrentAccountRequest struct {
	Address string `json:"address"`
}

func (h *handlers) registerAccounts(r *Router) {
	r.Handle("seed.create", Typed(h.seedCreate))
	r.Handle("seed.validate", Typed(h.seedValidate))

	r.Handle("accounts.create.suri", Typed(func(_ context.Context, _ *Call, req CreateSuriRequest) (state.AccountJSON, error) {
		return h.created(h.Keyring.CreateFromSuri(req.CreateFromSuriRequest))(req.IsAllowed)
	}))
	r.Handle("accounts.create.withSecret", Typed(func(_ context.Context, _ *Call, req CreateWithSecretRequest) (state.AccountJSON, error) {
		return h.created(h.Keyring.CreateWithSecret(req.CreateWithSecretRequest))(req.IsAllowed)
	}))
	r.Handle("accounts.create.external", Typed(func(_ context.Context, _ *Call, req CreateExternalRequest) (state.AccountJSON, error) {
		return h.created(h.Keyring.CreateExternal(req.CreateExternalRequest))(req.IsAllowed)
	}))

	r.Handle("accounts.get.meta", Typed(func(_ context.Context, _ *Call, req AddressRequest) (state.AccountJSON, error) {
		return h.Keyring.GetMeta(req.Address)
	}))
	r.Handle("accounts.forget", Typed(h.forgetAccount))
	r.Handle("accounts.validatePassword", Typed(func(_ context.Context, _ *Call, req ValidatePasswordRequest) (bool, error) {
		err := h.Keyring.ValidatePassword(req.Address, req.Password)
		if errors.Is(err, keyring.ErrInvalidPassword) {
			return false, nil
		}
		return err == nil, err
	}))
	r.Handle("accounts.edit", Typed(func(_ context.Context, _ *Call, req EditAccountRequest) (state.AccountJSON, error) {
		return h.Keyring.Rename(req.Address, req.Name)
	}))

	r.Handle("keyring.lock", Typed(func(context.Context, *Call, struct{}) (state.KeyringState, error) {
		h.Keyring.Lock()
		return h.State.KeyringState.Get(), nil
	}))
	r.Handle("keyring.unlock", Typed(func(_ context.Context, _ *Call, req UnlockRequest) (state.KeyringState, error) {
		if _, err := h.Keyring.Unlock(req.Password); err != nil {
			return state.KeyringState{}, err
		}
		return h.State.KeyringState.Get(), nil
	}))

	r.Handle("currentAccount.saveAddress", Typed(func(_ context.Context, _ *Call, req SaveCurrentAccountRequest) (state.CurrentAccountInfo, error) {
		if req.Address == "" {
			return state.CurrentAccountInfo{}, errors.New("address is required")
		}
		return h.Preferences.SaveCurrentAccount(req.Address)
	}))
}

func (h *handlers) seedCreate(_ context.Context, _ *Call, req SeedCreateRequest) (SeedResponse, error) {
	seed, err := keyring.GenerateMnemonic(req.Length)
	if err != nil {
		return SeedResponse{}, err
	}
	address, err := keyring.AddressFromMnemonic(seed, keyring.KeyType(req.Type))
	if err != nil {
		return SeedResponse{}, err
	}
	return SeedResponse{Address: address, Seed: seed}, nil
}

func (h *handlers) seedValidate(_ context.Context, _ *Call, req SeedValidateRequest) (SeedResponse, error) {
	suri := strings.TrimSpace(req.Suri)
	if !keyring.ValidateMnemonic(suri) {
		return SeedResponse{}, errors.New("invalid mnemonic seed")
	}
	address, err := keyring.AddressFromMnemonic(suri, keyring.KeyType(req.Type))
	if err != nil {
		return SeedResponse{}, err
	}
	return SeedResponse{Address: address, Seed: suri}, nil
}

// created finishes an account creation: the new address joins every site's
// authorization map and becomes the current account.
func (h *handlers) created(account state.AccountJSON, err error) func(isAllowed bool) (state.AccountJSON, error) {
	return func(isAllowed bool) (state.AccountJSON, error) {
		if err != nil {
			return state.AccountJSON{}, err
		}
		if err := h.Auth.AddAddress(account.Address, isAllowed); err != nil {
			h.log.Warn("Failed to add account to authorized sites", "address", account.Address, "error", err)
		}
		if _, err := h.Preferences.SaveCurrentAccount(account.Address); err != nil {
			h.log.Warn("Failed to select new account", "address", account.Address, "error", err)
		}
		return account, nil
	}
}

func (h *handlers) forgetAccount(_ context.Context, _ *Call, req AddressRequest) (bool, error) {
	account, err := h.Keyring.GetMeta(req.Address)
	if err != nil {
		return false, err
	}
	if err := h.Keyring.Forget(account.Address); err != nil {
		return false, err
	}
	if err := h.Auth.RemoveAddress(account.Address); err != nil {
		h.log.Warn("Failed to remove account from authorized sites", "address", account.Address, "error", err)
	}
	if h.History != nil {
		if err := h.History.Forget(account.Address); err != nil {
			h.log.Warn("Failed to drop account history", "address", account.Address, "error", err)
		}
	}
	if _, err := h.Preferences.SaveCurrentAccount(state.AllAccountKey); err != nil {
		return false, err
	}
	return true, nil
}
