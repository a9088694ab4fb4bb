package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/helpers"
)

// transferPlan is a validated transfer.
type transferPlan struct {
	adapter chain.Adapter
	payload *chain.Payload
	native  state.AssetInfo
}

func (s *Service) planTransfer(req TransferRequest) (*transferPlan, []TxError) {
	if req.NetworkKey == "" || req.From == "" || req.To == "" {
		return nil, []TxError{invalidParams()}
	}

	var errs []TxError
	value, valueErr := transferValue(req.Value, req.TransferAll)
	if valueErr != nil {
		errs = append(errs, *valueErr)
	}
	asset, tokenErr := s.resolveToken(req.NetworkKey, req.Token)
	if tokenErr != nil {
		errs = append(errs, *tokenErr)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	adapter, errs := s.adapterFor(req.NetworkKey, chain.KindTransfer)
	if len(errs) > 0 {
		return nil, errs
	}
	native := s.nativeOf(req.NetworkKey, asset)

	return &transferPlan{
		adapter: adapter,
		native:  native,
		payload: &chain.Payload{
			Kind:        chain.KindTransfer,
			NetworkKey:  req.NetworkKey,
			From:        req.From,
			To:          req.To,
			Asset:       asset,
			Value:       value,
			TransferAll: req.TransferAll,
		},
	}, nil
}

// CheckTransfer reports whether a transfer can be made, with the free
// balances and fee it was decided on. Validation problems are reported in
// Errors; the error return is reserved for adapter failures.
func (s *Service) CheckTransfer(ctx context.Context, req TransferRequest) (CheckTransferResponse, error) {
	plan, errs := s.planTransfer(req)
	if len(errs) > 0 {
		return CheckTransferResponse{
			Errors:          errs,
			Warnings:        []TxWarning{},
			FromAccountFree: "0",
			ToAccountFree:   "0",
			EstimateFee:     "0",
		}, nil
	}
	return s.checkTransfer(ctx, plan)
}

func (s *Service) checkTransfer(ctx context.Context, plan *transferPlan) (CheckTransferResponse, error) {
	p := plan.payload
	fee, err := plan.adapter.EstimateFee(ctx, p)
	if err != nil {
		return CheckTransferResponse{}, fmt.Errorf("failed to estimate fee: %w", err)
	}
	fromFree, err := plan.adapter.FreeBalance(ctx, p.From, p.Asset)
	if err != nil {
		return CheckTransferResponse{}, fmt.Errorf("failed to get sender balance: %w", err)
	}
	toFree, err := plan.adapter.FreeBalance(ctx, p.To, p.Asset)
	if err != nil {
		return CheckTransferResponse{}, fmt.Errorf("failed to get recipient balance: %w", err)
	}

	isMain := p.Asset.IsNative()
	native := fromFree
	if !isMain {
		native, err = plan.adapter.FreeBalance(ctx, p.From, plan.native)
		if err != nil {
			return CheckTransferResponse{}, fmt.Errorf("failed to get native balance: %w", err)
		}
	}

	errs, warnings := balanceCheck{
		free:        fromFree,
		native:      native,
		value:       p.Value,
		fee:         fee,
		ed:          s.deps.Chains.ExistentialDeposit(p.NetworkKey),
		isMain:      isMain,
		transferAll: p.TransferAll,
	}.evaluate()

	resp := CheckTransferResponse{
		Errors:          errs,
		Warnings:        warnings,
		FromAccountFree: fromFree.String(),
		ToAccountFree:   toFree.String(),
		EstimateFee:     fee.String(),
		FeeSymbol:       plan.native.Symbol,
	}
	if resp.Errors == nil {
		resp.Errors = []TxError{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []TxWarning{}
	}
	return resp, nil
}

// Transfer validates, checks and submits a transfer. A transfer whose check
// reports errors is never submitted.
func (s *Service) Transfer(ctx context.Context, mode Mode, req TransferRequest) <-chan Update {
	return s.start(ctx, chain.KindTransfer, mode, func(r *run) {
		plan, errs := s.planTransfer(req)
		if len(errs) > 0 {
			r.reject(errs)
			return
		}
		s.execute(r, &job{
			adapter:  plan.adapter,
			payload:  plan.payload,
			password: req.Password,
			check: func(ctx context.Context) ([]TxError, []TxWarning, error) {
				resp, err := s.checkTransfer(ctx, plan)
				return resp.Errors, resp.Warnings, err
			},
			history:      true,
			changeSymbol: plan.payload.Asset.Symbol,
			feeSymbol:    plan.native.Symbol,
		})
	})
}

type crossChainPlan struct {
	adapter chain.Adapter
	payload *chain.Payload
	native  state.AssetInfo
}

func (s *Service) planCrossChain(req CrossChainTransferRequest) (*crossChainPlan, []TxError) {
	if req.OriginNetworkKey == "" || req.DestinationNetworkKey == "" || req.From == "" || req.To == "" ||
		req.OriginNetworkKey == req.DestinationNetworkKey {
		return nil, []TxError{invalidParams()}
	}

	var errs []TxError
	value, valueErr := transferValue(req.Value, false)
	if valueErr != nil {
		errs = append(errs, *valueErr)
	}
	asset, tokenErr := s.resolveToken(req.OriginNetworkKey, req.Token)
	if tokenErr != nil {
		errs = append(errs, *tokenErr)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if _, err := s.deps.Chains.Adapter(req.DestinationNetworkKey); errors.Is(err, chain.ErrUnknownNetwork) {
		return nil, []TxError{{Code: CodeInvalidParam, Message: "Unknown network " + req.DestinationNetworkKey}}
	}
	adapter, errs := s.adapterFor(req.OriginNetworkKey, chain.KindCrossChainTransfer)
	if len(errs) > 0 {
		return nil, errs
	}

	return &crossChainPlan{
		adapter: adapter,
		native:  s.nativeOf(req.OriginNetworkKey, asset),
		payload: &chain.Payload{
			Kind:               chain.KindCrossChainTransfer,
			NetworkKey:         req.OriginNetworkKey,
			DestinationNetwork: req.DestinationNetworkKey,
			From:               req.From,
			To:                 req.To,
			Asset:              asset,
			Value:              value,
		},
	}, nil
}

// CheckCrossChainTransfer reports whether the sender can pay value and fee
// out of the transferred balance.
func (s *Service) CheckCrossChainTransfer(ctx context.Context, req CrossChainTransferRequest) (CheckCrossChainTransferResponse, error) {
	plan, errs := s.planCrossChain(req)
	if len(errs) > 0 {
		return CheckCrossChainTransferResponse{Errors: errs, EstimatedFee: "0"}, nil
	}
	return s.checkCrossChain(ctx, plan)
}

func (s *Service) checkCrossChain(ctx context.Context, plan *crossChainPlan) (CheckCrossChainTransferResponse, error) {
	p := plan.payload
	fee, err := plan.adapter.EstimateFee(ctx, p)
	if err != nil {
		return CheckCrossChainTransferResponse{}, fmt.Errorf("failed to estimate fee: %w", err)
	}
	free, err := plan.adapter.FreeBalance(ctx, p.From, p.Asset)
	if err != nil {
		return CheckCrossChainTransferResponse{}, fmt.Errorf("failed to get sender balance: %w", err)
	}

	errs := evaluateCrossChain(free, p.Value, fee)
	if errs == nil {
		errs = []TxError{}
	}
	return CheckCrossChainTransferResponse{
		Errors:       errs,
		EstimatedFee: fee.String(),
		FeeSymbol:    plan.native.Symbol,
	}, nil
}

// CrossChainTransfer validates, checks and submits a cross-chain transfer.
func (s *Service) CrossChainTransfer(ctx context.Context, mode Mode, req CrossChainTransferRequest) <-chan Update {
	return s.start(ctx, chain.KindCrossChainTransfer, mode, func(r *run) {
		plan, errs := s.planCrossChain(req)
		if len(errs) > 0 {
			r.reject(errs)
			return
		}
		s.execute(r, &job{
			adapter:  plan.adapter,
			payload:  plan.payload,
			password: req.Password,
			check: func(ctx context.Context) ([]TxError, []TxWarning, error) {
				resp, err := s.checkCrossChain(ctx, plan)
				return resp.Errors, nil, err
			},
			history:      true,
			changeSymbol: plan.payload.Asset.Symbol,
			feeSymbol:    plan.native.Symbol,
			receivedOn:   req.DestinationNetworkKey,
		})
	})
}

// transferValue parses a transfer amount. transferAll allows it to be empty.
func transferValue(raw string, transferAll bool) (*big.Int, *TxError) {
	if raw == "" {
		if transferAll {
			return nil, nil
		}
		return nil, &TxError{Code: CodeInvalidValue, Message: "Require transfer value"}
	}
	v, err := helpers.ParsePositiveAmount(raw)
	if err != nil {
		return nil, &TxError{Code: CodeInvalidValue, Message: err.Error()}
	}
	return v, nil
}

func (s *Service) resolveToken(networkKey, token string) (state.AssetInfo, *TxError) {
	asset, ok := s.deps.Assets.FindAsset(networkKey, token)
	if !ok {
		return state.AssetInfo{}, &TxError{Code: CodeInvalidToken, Message: "Not found token from registry"}
	}
	if asset.AssetType == state.AssetTypeERC20 && asset.Contract == "" {
		return state.AssetInfo{}, &TxError{Code: CodeInvalidToken, Message: "Not found ERC20 address for this token"}
	}
	return asset, nil
}

func (s *Service) nativeOf(networkKey string, asset state.AssetInfo) state.AssetInfo {
	if asset.IsNative() {
		return asset
	}
	native, _ := s.deps.Assets.NativeAsset(networkKey)
	return native
}

func invalidParams() TxError {
	return TxError{Code: CodeInvalidParam, Message: "Invalid params"}
}
