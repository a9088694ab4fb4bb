package rpc

import (
	"context"
	"errors"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/external"
	"github.com/klingon-exchange/walletd/internal/pipeline"
	"github.com/klingon-exchange/walletd/internal/state"
)

// HistoryAddRequest records an entry reported by the UI.
type HistoryAddRequest struct {
	Address    string            `json:"address"`
	NetworkKey string            `json:"networkKey"`
	Item       state.HistoryItem `json:"item"`
}

// HistoryGetRequest lists the entries of an address.
type HistoryGetRequest struct {
	Address    string `json:"address"`
	NetworkKey string `json:"networkKey,omitempty"`
}

// ResolveExternalRequest completes an external signature request.
type ResolveExternalRequest struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// RejectExternalRequest fails an external signature request. Without
// ThrowError the pipeline treats it as a user cancel.
type RejectExternalRequest struct {
	ID         string `json:"id"`
	Message    string `json:"message,omitempty"`
	ThrowError bool   `json:"throwError,omitempty"`
}

func (h *handlers) registerHistory(r *Router) {
	r.Handle("transaction.history.add", Typed(func(_ context.Context, _ *Call, req HistoryAddRequest) (bool, error) {
		if req.Address == "" || req.NetworkKey == "" {
			return false, errors.New("address and networkKey are required")
		}
		item := req.Item
		item.NetworkKey = req.NetworkKey
		return h.History.Add(req.Address, item)
	}))
	r.Handle("transaction.history.get", Typed(func(_ context.Context, _ *Call, req HistoryGetRequest) ([]state.HistoryItem, error) {
		return h.History.List(req.Address, req.NetworkKey)
	}))
}

func (h *handlers) registerTransactions(r *Router) {
	p := h.Pipeline

	r.Handle("accounts.checkTransfer", Typed(func(ctx context.Context, _ *Call, req pipeline.TransferRequest) (pipeline.CheckTransferResponse, error) {
		return p.CheckTransfer(ctx, req)
	}))
	r.Handle("accounts.checkCrossChainTransfer", Typed(func(ctx context.Context, _ *Call, req pipeline.CrossChainTransferRequest) (pipeline.CheckCrossChainTransferResponse, error) {
		return p.CheckCrossChainTransfer(ctx, req)
	}))

	modes := map[string]pipeline.Mode{
		"":        pipeline.ModePassword,
		".qr":     pipeline.ModeQR,
		".ledger": pipeline.ModeLedger,
	}
	transferNames := map[pipeline.Mode][2]string{
		pipeline.ModePassword: {"accounts.transfer", "accounts.crossChainTransfer"},
		pipeline.ModeQR:       {"transfer.qr.create", "cross.transfer.qr.create"},
		pipeline.ModeLedger:   {"transfer.ledger.create", "cross.transfer.ledger.create"},
	}

	for mode, names := range transferNames {
		r.Handle(names[0], Typed(func(ctx context.Context, c *Call, req pipeline.TransferRequest) (bool, error) {
			return stream(ctx, c, func(ctx context.Context) <-chan pipeline.Update {
				return p.Transfer(ctx, mode, req)
			})
		}))
		r.Handle(names[1], Typed(func(ctx context.Context, c *Call, req pipeline.CrossChainTransferRequest) (bool, error) {
			return stream(ctx, c, func(ctx context.Context) <-chan pipeline.Update {
				return p.CrossChainTransfer(ctx, mode, req)
			})
		}))
	}

	staking := map[string]chain.Kind{
		"staking.bond":           chain.KindBond,
		"staking.unbond":         chain.KindUnbond,
		"staking.withdraw":       chain.KindWithdraw,
		"staking.claimReward":    chain.KindClaimReward,
		"staking.createCompound": chain.KindCompound,
		"staking.cancelCompound": chain.KindCancelCompound,
	}
	for suffix, mode := range modes {
		for name, kind := range staking {
			r.Handle(name+suffix, Typed(func(ctx context.Context, c *Call, req pipeline.StakingRequest) (bool, error) {
				return stream(ctx, c, func(ctx context.Context) <-chan pipeline.Update {
					return p.Stake(ctx, kind, mode, req)
				})
			}))
		}
		r.Handle("nft.transfer"+suffix, Typed(func(ctx context.Context, c *Call, req pipeline.NFTTransferRequest) (bool, error) {
			return stream(ctx, c, func(ctx context.Context) <-chan pipeline.Update {
				return p.NFTTransfer(ctx, mode, req)
			})
		}))
	}
}

// stream starts a pipeline tied to the call's subscription and forwards its
// updates. Cancelling the subscription cancels the pipeline's context; the
// subscription ends by itself after the final frame.
func stream(ctx context.Context, c *Call, start func(ctx context.Context) <-chan pipeline.Update) (bool, error) {
	if c.Port == nil {
		return false, ErrPortRequired
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := c.Track(cancel); err != nil {
		cancel()
		return false, err
	}

	updates := start(runCtx)
	go func() {
		for u := range updates {
			c.Emit(u.Response, u.Final)
		}
		c.Done()
	}()
	return true, nil
}

func (h *handlers) registerExternal(r *Router) {
	r.Handle("account.external.resolve", Typed(func(_ context.Context, _ *Call, req ResolveExternalRequest) (bool, error) {
		if req.ID == "" {
			return false, external.ErrRequestNotFound
		}
		return h.Coordinator.Resolve(req.ID, external.Resolution{Signature: req.Signature}), nil
	}))
	r.Handle("account.external.reject", Typed(func(_ context.Context, _ *Call, req RejectExternalRequest) (bool, error) {
		if req.ID == "" {
			return false, external.ErrRequestNotFound
		}
		return h.Coordinator.Reject(req.ID, req.Message, req.ThrowError), nil
	}))
}
