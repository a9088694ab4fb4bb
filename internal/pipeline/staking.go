package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/helpers"
)

// Staking payload parameters.
const (
	ParamValidator = "validator"
	ParamTaskID    = "taskId"
	ParamUnlockAll = "unlockAll"
)

var stakingKinds = map[chain.Kind]bool{
	chain.KindBond:           true,
	chain.KindUnbond:         true,
	chain.KindWithdraw:       true,
	chain.KindClaimReward:    true,
	chain.KindCompound:       true,
	chain.KindCancelCompound: true,
}

type stakingPlan struct {
	adapter chain.Adapter
	payload *chain.Payload
	native  state.AssetInfo
}

// validateStaking checks the fields each staking kind needs.
func validateStaking(kind chain.Kind, req StakingRequest) (*big.Int, []TxError) {
	if req.NetworkKey == "" || req.NominatorAddress == "" {
		return nil, []TxError{invalidParams()}
	}

	var needAmount, needValidator bool
	switch kind {
	case chain.KindBond:
		needAmount, needValidator = true, true
	case chain.KindUnbond:
		needAmount = !req.UnlockAll
	case chain.KindCompound:
		needValidator = true
	case chain.KindCancelCompound:
		if req.TaskID == "" {
			return nil, []TxError{invalidParams()}
		}
	case chain.KindWithdraw, chain.KindClaimReward:
	default:
		return nil, []TxError{{Code: CodeUnsupported, Message: fmt.Sprintf("%s is not a staking action", kind)}}
	}

	if needValidator && req.ValidatorAddress == "" {
		return nil, []TxError{invalidParams()}
	}
	if !needAmount {
		return nil, nil
	}
	if req.Amount == "" {
		return nil, []TxError{invalidParams()}
	}
	amount, err := helpers.ParsePositiveAmount(req.Amount)
	if err != nil {
		return nil, []TxError{{Code: CodeInvalidValue, Message: err.Error()}}
	}
	return amount, nil
}

func (s *Service) planStaking(kind chain.Kind, req StakingRequest) (*stakingPlan, []TxError) {
	amount, errs := validateStaking(kind, req)
	if len(errs) > 0 {
		return nil, errs
	}
	native, ok := s.deps.Assets.NativeAsset(req.NetworkKey)
	if !ok {
		return nil, []TxError{{Code: CodeInvalidToken, Message: "Not found token from registry"}}
	}
	adapter, errs := s.adapterFor(req.NetworkKey, kind)
	if len(errs) > 0 {
		return nil, errs
	}

	params := map[string]string{}
	if req.ValidatorAddress != "" {
		params[ParamValidator] = req.ValidatorAddress
	}
	if req.TaskID != "" {
		params[ParamTaskID] = req.TaskID
	}
	if req.UnlockAll {
		params[ParamUnlockAll] = strconv.FormatBool(true)
	}

	return &stakingPlan{
		adapter: adapter,
		native:  native,
		payload: &chain.Payload{
			Kind:       kind,
			NetworkKey: req.NetworkKey,
			From:       req.NominatorAddress,
			To:         req.ValidatorAddress,
			Asset:      native,
			Value:      amount,
			Params:     params,
		},
	}, nil
}

func (s *Service) checkStaking(ctx context.Context, plan *stakingPlan) ([]TxError, []TxWarning, error) {
	p := plan.payload
	fee, err := plan.adapter.EstimateFee(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to estimate fee: %w", err)
	}
	free, err := plan.adapter.FreeBalance(ctx, p.From, plan.native)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sender balance: %w", err)
	}

	if p.Kind != chain.KindBond {
		// Nothing leaves the free balance but the fee.
		if free.Cmp(fee) < 0 {
			return []TxError{feeError()}, nil, nil
		}
		return nil, nil, nil
	}

	errs, warnings := balanceCheck{
		free:   free,
		native: free,
		value:  p.Value,
		fee:    fee,
		ed:     s.deps.Chains.ExistentialDeposit(p.NetworkKey),
		isMain: true,
	}.evaluate()
	return errs, warnings, nil
}

// Stake runs a staking action: bond, unbond, withdraw, claim-reward, or
// creating and cancelling a compounding task.
func (s *Service) Stake(ctx context.Context, kind chain.Kind, mode Mode, req StakingRequest) <-chan Update {
	return s.start(ctx, kind, mode, func(r *run) {
		if !stakingKinds[kind] {
			r.reject([]TxError{{Code: CodeUnsupported, Message: fmt.Sprintf("%s is not a staking action", kind)}})
			return
		}
		plan, errs := s.planStaking(kind, req)
		if len(errs) > 0 {
			r.reject(errs)
			return
		}
		s.execute(r, &job{
			adapter:  plan.adapter,
			payload:  plan.payload,
			password: req.Password,
			check: func(ctx context.Context) ([]TxError, []TxWarning, error) {
				return s.checkStaking(ctx, plan)
			},
		})
	})
}
