package rpc

import (
	"context"
	"errors"

	"github.com/klingon-exchange/walletd/internal/auth"
	"github.com/klingon-exchange/walletd/internal/external"
	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/pipeline"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Services are the components the message handlers drive.
type Services struct {
	State       *state.Store
	Keyring     *keyring.Keyring
	Auth        *auth.Service
	Preferences *Preferences
	Pipeline    *pipeline.Service
	History     *pipeline.History
	Coordinator *external.Coordinator
}

type handlers struct {
	Services
	log *logging.Logger
}

// Register installs every message handler on r.
func Register(r *Router, svc Services) {
	h := &handlers{Services: svc, log: logging.GetDefault().Component("rpc")}

	h.registerState(r)
	h.registerSettings(r)
	h.registerAuth(r)
	h.registerAccounts(r)
	h.registerHistory(r)
	h.registerTransactions(r)
	h.registerExternal(r)

	r.Handle("subscription.cancel", Typed(h.cancelSubscription))
}

func (h *handlers) registerState(r *Router) {
	st := h.State

	r.Handle("price.getPrice", get(st.Price))
	r.Handle("price.getSubscription", subscribe(st.Price))
	r.Handle("balance.getBalance", get(st.Balance))
	r.Handle("balance.getSubscription", subscribe(st.Balance))
	r.Handle("crowdloan.getCrowdloan", get(st.Crowdloan))
	r.Handle("crowdloan.getSubscription", subscribe(st.Crowdloan))
	r.Handle("staking.getStaking", get(st.Staking))
	r.Handle("staking.getSubscription", subscribe(st.Staking))
	r.Handle("stakingReward.getStakingReward", get(st.StakingReward))
	r.Handle("stakingReward.getSubscription", subscribe(st.StakingReward))
	r.Handle("nft.getNft", get(st.Nft))
	r.Handle("nft.getSubscription", subscribe(st.Nft))
	r.Handle("nftCollection.getNftCollection", get(st.NftCollection))
	r.Handle("nftCollection.getSubscription", subscribe(st.NftCollection))

	r.Handle("chainService.subscribeChainInfoMap", subscribe(st.ChainInfoMap))
	r.Handle("chainService.subscribeChainStateMap", subscribe(st.ChainStateMap))
	r.Handle("chainService.subscribeAssetRegistry", subscribe(st.AssetRegistry))

	r.Handle("keyring.subscribe", subscribe(st.KeyringState))
	r.Handle("settings.subscribe", subscribe(st.Settings))
	r.Handle("confirmations.subscribe", subscribe(st.Confirmations))
	r.Handle("transaction.history.getSubscription", subscribe(st.History))
	r.Handle("authorize.subscribe", subscribe(st.AuthUrls))
	r.Handle("currentAccount.subscribe", subscribe(st.CurrentAccount))
}

// get answers with the subject's current snapshot.
func get[T any](subj *state.Subject[T]) Handler {
	return func(context.Context, *Call) (any, error) {
		return subj.Get(), nil
	}
}

// subscribe answers with the current snapshot and streams every later one
// on the same id until cancelled.
func subscribe[T any](subj *state.Subject[T]) Handler {
	return func(_ context.Context, c *Call) (any, error) {
		if c.Port == nil {
			return nil, ErrPortRequired
		}
		snapshot, unsub := subj.Subscribe(func(v T) { c.Emit(v, false) })
		if err := c.Track(unsub); err != nil {
			unsub()
			return nil, err
		}
		return snapshot, nil
	}
}

func (h *handlers) cancelSubscription(_ context.Context, c *Call, id string) (bool, error) {
	if id == "" {
		return false, errors.New("subscription id is required")
	}
	if c.Port == nil {
		return false, ErrPortRequired
	}
	return c.router.Subscriptions().Cancel(c.Port.ID, id), nil
}
